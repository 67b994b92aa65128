package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/rotarr/internal/models"
)

// playbackLogRepository implements PlaybackLogRepository using GORM.
type playbackLogRepository struct {
	db *gorm.DB
}

// NewPlaybackLogRepository creates a new playback log repository.
func NewPlaybackLogRepository(db *gorm.DB) PlaybackLogRepository {
	return &playbackLogRepository{db: db}
}

func (r *playbackLogRepository) Log(ctx context.Context, entry *models.PlaybackLogEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("validating playback entry: %w", err)
	}
	if entry.PlayedAt.IsZero() {
		entry.PlayedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("logging playback: %w", err)
	}
	return nil
}

func (r *playbackLogRepository) Recent(ctx context.Context, limit int) ([]*models.PlaybackLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []*models.PlaybackLogEntry
	err := r.db.WithContext(ctx).
		Order("played_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing playback log: %w", err)
	}
	return entries, nil
}

func (r *playbackLogRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PlaybackLogEntry{}).
		Where("played_at >= ?", since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting playback entries: %w", err)
	}
	return count, nil
}

func (r *playbackLogRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("played_at < ?", cutoff).
		Delete(&models.PlaybackLogEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning playback log: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure playbackLogRepository implements PlaybackLogRepository.
var _ PlaybackLogRepository = (*playbackLogRepository)(nil)
