package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/rotarr/internal/models"
)

// sessionRepository implements SessionRepository using GORM.
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, session *models.RotationSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validating session: %w", err)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&models.RotationSession{}).
			Where("is_current = ? AND ended_at IS NULL", true).
			Update("ended_at", now).Error; err != nil {
			return fmt.Errorf("ending previous session: %w", err)
		}
		if err := tx.Model(&models.RotationSession{}).
			Where("is_current = ?", true).
			Update("is_current", false).Error; err != nil {
			return fmt.Errorf("clearing current flags: %w", err)
		}

		session.IsCurrent = true
		if session.StartedAt.IsZero() {
			session.StartedAt = now
		}
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		return nil
	})
}

func (r *sessionRepository) Current(ctx context.Context) (*models.RotationSession, error) {
	var session models.RotationSession
	err := r.db.WithContext(ctx).
		Where("is_current = ?", true).
		Order("started_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting current session: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id models.ULID) (*models.RotationSession, error) {
	var session models.RotationSession
	err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session by id: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) End(ctx context.Context, id models.ULID, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.RotationSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"ended_at":   at,
			"is_current": false,
		}).Error
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return nil
}

func (r *sessionRepository) SavePlaybackPosition(ctx context.Context, id models.ULID, cursorMS int64, currentVideo string) error {
	err := r.db.WithContext(ctx).Model(&models.RotationSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"playback_cursor_ms":     cursorMS,
			"playback_current_video": currentVideo,
		}).Error
	if err != nil {
		return fmt.Errorf("saving playback position: %w", err)
	}
	return nil
}

func (r *sessionRepository) SaveTempPlayback(ctx context.Context, id models.ULID, playlists []string, position int, folder string, cursorMS int64) error {
	err := r.db.WithContext(ctx).Model(&models.RotationSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"temp_playback_active":    true,
			"temp_playback_playlist":  models.StringList(playlists),
			"temp_playback_position":  position,
			"temp_playback_folder":    folder,
			"temp_playback_cursor_ms": cursorMS,
		}).Error
	if err != nil {
		return fmt.Errorf("saving temp playback state: %w", err)
	}
	return nil
}

func (r *sessionRepository) UpdateTempPlaybackProgress(ctx context.Context, id models.ULID, position int, cursorMS int64) error {
	err := r.db.WithContext(ctx).Model(&models.RotationSession{}).
		Where("id = ? AND temp_playback_active = ?", id, true).
		Updates(map[string]any{
			"temp_playback_position":  position,
			"temp_playback_cursor_ms": cursorMS,
		}).Error
	if err != nil {
		return fmt.Errorf("updating temp playback progress: %w", err)
	}
	return nil
}

func (r *sessionRepository) ClearTempPlayback(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Model(&models.RotationSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"temp_playback_active":    false,
			"temp_playback_playlist":  models.StringList(nil),
			"temp_playback_position":  0,
			"temp_playback_folder":    "",
			"temp_playback_cursor_ms": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("clearing temp playback state: %w", err)
	}
	return nil
}

func (r *sessionRepository) SetNextPlaylists(ctx context.Context, id models.ULID, names []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.RotationSession
		if err := tx.First(&session, "id = ?", id).Error; err != nil {
			return fmt.Errorf("loading session: %w", err)
		}
		session.SetNextPlaylists(names)
		err := tx.Model(&session).Updates(map[string]any{
			"next_playlists":        session.NextPlaylists,
			"next_playlists_status": session.NextPlaylistsStatus,
		}).Error
		if err != nil {
			return fmt.Errorf("setting next playlists: %w", err)
		}
		return nil
	})
}

func (r *sessionRepository) UpdateNextPlaylistStatus(ctx context.Context, id models.ULID, name string, status models.NextStatus) error {
	if status != models.NextStatusPending && status != models.NextStatusCompleted {
		return models.ErrInvalidNextStatus
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.RotationSession
		if err := tx.First(&session, "id = ?", id).Error; err != nil {
			return fmt.Errorf("loading session: %w", err)
		}
		if !session.NextPlaylists.Contains(name) {
			return nil
		}
		session.SetNextStatus(name, status)
		err := tx.Model(&session).
			Update("next_playlists_status", session.NextPlaylistsStatus).Error
		if err != nil {
			return fmt.Errorf("updating next playlist status: %w", err)
		}
		return nil
	})
}

func (r *sessionRepository) ClearNextPlaylists(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Model(&models.RotationSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"next_playlists":        models.StringList(nil),
			"next_playlists_status": models.StatusMap(nil),
		}).Error
	if err != nil {
		return fmt.Errorf("clearing next playlists: %w", err)
	}
	return nil
}

func (r *sessionRepository) UpdateStreamTitle(ctx context.Context, id models.ULID, title string) error {
	err := r.db.WithContext(ctx).Model(&models.RotationSession{}).
		Where("id = ?", id).
		Update("stream_title", title).Error
	if err != nil {
		return fmt.Errorf("updating stream title: %w", err)
	}
	return nil
}

func (r *sessionRepository) SetOverrideState(ctx context.Context, id models.ULID, active, backupSaved bool) error {
	err := r.db.WithContext(ctx).Model(&models.RotationSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"override_active":       active,
			"override_backup_saved": backupSaved,
		}).Error
	if err != nil {
		return fmt.Errorf("setting override state: %w", err)
	}
	return nil
}

func (r *sessionRepository) Recent(ctx context.Context, limit int) ([]*models.RotationSession, error) {
	if limit <= 0 {
		limit = 20
	}

	var sessions []*models.RotationSession
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("listing recent sessions: %w", err)
	}
	return sessions, nil
}

// Ensure sessionRepository implements SessionRepository.
var _ SessionRepository = (*sessionRepository)(nil)
