package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/rotarr/internal/content"
	"github.com/jmylchreest/rotarr/internal/models"
)

// videoRepository implements VideoRepository using GORM.
type videoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new video repository.
func NewVideoRepository(db *gorm.DB) VideoRepository {
	return &videoRepository{db: db}
}

func (r *videoRepository) Register(ctx context.Context, video *models.Video) (bool, error) {
	video.Filename = content.StripOrderPrefix(video.Filename)
	video.Sanitize()
	if err := video.Validate(); err != nil {
		return false, fmt.Errorf("validating video: %w", err)
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("playlist_id = ? AND filename = ?", video.PlaylistID, video.Filename).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking video existence: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return false, fmt.Errorf("registering video: %w", err)
	}
	return true, nil
}

func (r *videoRepository) GetByID(ctx context.Context, id models.ULID) (*models.Video, error) {
	var video models.Video
	err := r.db.WithContext(ctx).First(&video, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting video by id: %w", err)
	}
	return &video, nil
}

func (r *videoRepository) GetByFilename(ctx context.Context, filename string) (*models.Video, error) {
	var video models.Video
	err := r.db.WithContext(ctx).
		Where("filename = ?", content.StripOrderPrefix(filename)).
		First(&video).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting video by filename: %w", err)
	}
	return &video, nil
}

func (r *videoRepository) ListByPlaylist(ctx context.Context, playlistID models.ULID) ([]*models.Video, error) {
	var videos []*models.Video
	err := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("filename ASC").
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("listing videos by playlist: %w", err)
	}
	return videos, nil
}

func (r *videoRepository) ListByPlaylistNames(ctx context.Context, names []string) ([]*models.Video, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var videos []*models.Video
	err := r.db.WithContext(ctx).
		Where("playlist_name IN ?", names).
		Order("playlist_name ASC, filename ASC").
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("listing videos by playlist names: %w", err)
	}
	return videos, nil
}

func (r *videoRepository) FilenamesByPlaylistNames(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var filenames []string
	err := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("playlist_name IN ?", names).
		Order("filename ASC").
		Pluck("filename", &filenames).Error
	if err != nil {
		return nil, fmt.Errorf("listing filenames by playlist names: %w", err)
	}
	return filenames, nil
}

func (r *videoRepository) TotalDurationByPlaylists(ctx context.Context, names []string) (float64, error) {
	if len(names) == 0 {
		return 0, nil
	}

	var total float64
	err := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("playlist_name IN ?", names).
		Select("COALESCE(SUM(duration_seconds), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("summing durations: %w", err)
	}
	return total, nil
}

func (r *videoRepository) DeleteByPlaylist(ctx context.Context, playlistID models.ULID) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Delete(&models.Video{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting videos: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure videoRepository implements VideoRepository.
var _ VideoRepository = (*videoRepository)(nil)
