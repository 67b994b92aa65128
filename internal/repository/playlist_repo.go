package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/rotarr/internal/models"
)

// playlistRepository implements PlaylistRepository using GORM.
type playlistRepository struct {
	db *gorm.DB
}

// NewPlaylistRepository creates a new playlist repository.
func NewPlaylistRepository(db *gorm.DB) PlaylistRepository {
	return &playlistRepository{db: db}
}

func (r *playlistRepository) Add(ctx context.Context, playlist *models.Playlist) (*models.Playlist, bool, error) {
	existing, err := r.GetByName(ctx, playlist.Name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	playlist.Sanitize()
	if err := playlist.Validate(); err != nil {
		return nil, false, fmt.Errorf("validating playlist: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(playlist).Error; err != nil {
		return nil, false, fmt.Errorf("creating playlist: %w", err)
	}
	return playlist, true, nil
}

func (r *playlistRepository) GetByID(ctx context.Context, id models.ULID) (*models.Playlist, error) {
	var playlist models.Playlist
	err := r.db.WithContext(ctx).First(&playlist, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting playlist by id: %w", err)
	}
	return &playlist, nil
}

func (r *playlistRepository) GetByName(ctx context.Context, name string) (*models.Playlist, error) {
	var playlist models.Playlist
	err := r.db.WithContext(ctx).
		Where("LOWER(name) = LOWER(?)", strings.TrimSpace(name)).
		First(&playlist).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting playlist by name: %w", err)
	}
	return &playlist, nil
}

func (r *playlistRepository) GetByNames(ctx context.Context, names []string) ([]*models.Playlist, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var playlists []*models.Playlist
	if err := r.db.WithContext(ctx).Where("name IN ?", names).Find(&playlists).Error; err != nil {
		return nil, fmt.Errorf("getting playlists by names: %w", err)
	}

	// Preserve caller order; it encodes rotation play order.
	byName := make(map[string]*models.Playlist, len(playlists))
	for _, p := range playlists {
		byName[strings.ToLower(p.Name)] = p
	}
	ordered := make([]*models.Playlist, 0, len(names))
	for _, name := range names {
		if p, ok := byName[strings.ToLower(name)]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

func (r *playlistRepository) GetEnabled(ctx context.Context) ([]*models.Playlist, error) {
	var playlists []*models.Playlist
	// SQLite sorts NULLs first on ASC, so never-played playlists lead.
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("last_played ASC, priority DESC, name ASC").
		Find(&playlists).Error
	if err != nil {
		return nil, fmt.Errorf("getting enabled playlists: %w", err)
	}
	return playlists, nil
}

func (r *playlistRepository) List(ctx context.Context) ([]*models.Playlist, error) {
	var playlists []*models.Playlist
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&playlists).Error; err != nil {
		return nil, fmt.Errorf("listing playlists: %w", err)
	}
	return playlists, nil
}

func (r *playlistRepository) Update(ctx context.Context, playlist *models.Playlist) error {
	playlist.Sanitize()
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validating playlist: %w", err)
	}
	if err := r.db.WithContext(ctx).Save(playlist).Error; err != nil {
		return fmt.Errorf("updating playlist: %w", err)
	}
	return nil
}

func (r *playlistRepository) Rename(ctx context.Context, oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return models.ErrNameRequired
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playlist models.Playlist
		err := tx.Where("LOWER(name) = LOWER(?)", strings.TrimSpace(oldName)).First(&playlist).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("renaming playlist: %q not found", oldName)
		}
		if err != nil {
			return fmt.Errorf("renaming playlist: %w", err)
		}

		if err := tx.Model(&playlist).Update("name", newName).Error; err != nil {
			return fmt.Errorf("renaming playlist: %w", err)
		}
		if err := tx.Model(&models.Video{}).
			Where("playlist_id = ?", playlist.ID).
			Update("playlist_name", newName).Error; err != nil {
			return fmt.Errorf("renaming playlist videos: %w", err)
		}
		return nil
	})
}

func (r *playlistRepository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	result := r.db.WithContext(ctx).Model(&models.Playlist{}).
		Where("LOWER(name) = LOWER(?)", strings.TrimSpace(name)).
		Update("enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("toggling playlist: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("toggling playlist: %q not found", name)
	}
	return nil
}

func (r *playlistRepository) Delete(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playlist models.Playlist
		err := tx.Where("LOWER(name) = LOWER(?)", strings.TrimSpace(name)).First(&playlist).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("deleting playlist: %w", err)
		}

		if err := tx.Where("playlist_id = ?", playlist.ID).Delete(&models.Video{}).Error; err != nil {
			return fmt.Errorf("deleting playlist videos: %w", err)
		}
		if err := tx.Delete(&playlist).Error; err != nil {
			return fmt.Errorf("deleting playlist: %w", err)
		}
		return nil
	})
}

func (r *playlistRepository) MarkPlayed(ctx context.Context, names []string, at time.Time) error {
	if len(names) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Model(&models.Playlist{}).
		Where("name IN ?", names).
		Updates(map[string]any{
			"last_played": at,
			"play_count":  gorm.Expr("play_count + 1"),
			"updated_at":  time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("marking playlists played: %w", err)
	}
	return nil
}

func (r *playlistRepository) SyncFromCatalog(ctx context.Context, desired []*models.Playlist) (SyncResult, error) {
	var result SyncResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, want := range desired {
			want.Sanitize()
			if err := want.Validate(); err != nil {
				return fmt.Errorf("validating playlist %q: %w", want.Name, err)
			}

			var existing models.Playlist
			err := tx.Where("LOWER(name) = LOWER(?)", want.Name).First(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if err := tx.Create(want).Error; err != nil {
					return fmt.Errorf("creating playlist %q: %w", want.Name, err)
				}
				result.Created++
				continue
			}
			if err != nil {
				return fmt.Errorf("looking up playlist %q: %w", want.Name, err)
			}

			updates := map[string]any{}
			if existing.URL != want.URL {
				updates["url"] = want.URL
			}
			if models.BoolVal(existing.Enabled) != models.BoolVal(want.Enabled) {
				updates["enabled"] = models.BoolVal(want.Enabled)
			}
			if existing.Priority != want.Priority {
				updates["priority"] = want.Priority
			}
			if existing.IsShort != want.IsShort {
				updates["is_short"] = want.IsShort
			}
			if existing.Category != want.Category {
				updates["category"] = want.Category
			}
			if existing.TwitchCategory != want.TwitchCategory {
				updates["twitch_category"] = want.TwitchCategory
			}
			if existing.KickCategory != want.KickCategory {
				updates["kick_category"] = want.KickCategory
			}
			if len(updates) == 0 {
				continue
			}

			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return fmt.Errorf("updating playlist %q: %w", want.Name, err)
			}
			result.Updated++
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

// Ensure playlistRepository implements PlaylistRepository.
var _ PlaylistRepository = (*playlistRepository)(nil)
