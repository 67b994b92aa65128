// Package repository provides data access interfaces and implementations
// for rotarr. All repositories are backed by GORM and are safe for use from
// multiple goroutines, but by convention every write goes through the
// orchestrator goroutine; the dashboard only reads.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/rotarr/internal/models"
)

// SyncResult summarises a catalog-to-store playlist sync.
type SyncResult struct {
	Created int
	Updated int
}

// PlaylistRepository defines operations for managing playlists.
type PlaylistRepository interface {
	// Add inserts a playlist unless one with the same name (case-insensitive)
	// already exists. It returns the stored playlist and whether it was created.
	Add(ctx context.Context, playlist *models.Playlist) (*models.Playlist, bool, error)

	// GetByID retrieves a playlist by ID. Returns nil if not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Playlist, error)

	// GetByName retrieves a playlist by name (case-insensitive).
	// Returns nil if not found.
	GetByName(ctx context.Context, name string) (*models.Playlist, error)

	// GetByNames retrieves playlists for the given names, preserving the
	// order of the input slice. Unknown names are skipped.
	GetByNames(ctx context.Context, names []string) ([]*models.Playlist, error)

	// GetEnabled returns enabled playlists ordered least-recently-played
	// first (never played sorts before everything), ties broken by
	// descending priority.
	GetEnabled(ctx context.Context) ([]*models.Playlist, error)

	// List returns all playlists ordered by name.
	List(ctx context.Context) ([]*models.Playlist, error)

	// Update persists changes to an existing playlist.
	Update(ctx context.Context, playlist *models.Playlist) error

	// Rename changes a playlist's name and updates the denormalised
	// playlist name on its videos in the same transaction.
	Rename(ctx context.Context, oldName, newName string) error

	// SetEnabled toggles a playlist's participation in rotations.
	SetEnabled(ctx context.Context, name string, enabled bool) error

	// Delete removes a playlist and its registered videos.
	Delete(ctx context.Context, name string) error

	// MarkPlayed stamps last_played and increments play_count for every
	// named playlist in a single transaction.
	MarkPlayed(ctx context.Context, names []string, at time.Time) error

	// SyncFromCatalog upserts the desired playlists by name: new names are
	// inserted, changed fields updated. Play history is preserved and
	// playlists absent from the catalog are left alone.
	SyncFromCatalog(ctx context.Context, desired []*models.Playlist) (SyncResult, error)
}

// VideoRepository defines operations for managing registered videos.
// Filenames are stored unprefixed; lookups strip any on-disk ordering
// prefix first.
type VideoRepository interface {
	// Register inserts a video unless the (playlist, filename) pair already
	// exists. It reports whether a row was created.
	Register(ctx context.Context, video *models.Video) (bool, error)

	// GetByID retrieves a video by ID. Returns nil if not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Video, error)

	// GetByFilename retrieves a video by its on-disk filename, stripping any
	// ordering prefix before lookup. Returns nil if not found.
	GetByFilename(ctx context.Context, filename string) (*models.Video, error)

	// ListByPlaylist returns a playlist's videos ordered by filename.
	ListByPlaylist(ctx context.Context, playlistID models.ULID) ([]*models.Video, error)

	// ListByPlaylistNames returns the videos of the named playlists.
	ListByPlaylistNames(ctx context.Context, names []string) ([]*models.Video, error)

	// FilenamesByPlaylistNames returns the stored (unprefixed) filenames of
	// the named playlists.
	FilenamesByPlaylistNames(ctx context.Context, names []string) ([]string, error)

	// TotalDurationByPlaylists sums probed durations across the named
	// playlists, in seconds.
	TotalDurationByPlaylists(ctx context.Context, names []string) (float64, error)

	// DeleteByPlaylist removes every video of a playlist and reports how
	// many rows went away.
	DeleteByPlaylist(ctx context.Context, playlistID models.ULID) (int64, error)
}

// SessionRepository defines operations for rotation session lifecycle and
// crash-recovery state.
type SessionRepository interface {
	// Create clears any previous current session (stamping its end time)
	// and inserts the new current session, all in one transaction.
	Create(ctx context.Context, session *models.RotationSession) error

	// Current returns the active session, or nil when none is active.
	Current(ctx context.Context) (*models.RotationSession, error)

	// GetByID retrieves a session by ID. Returns nil if not found.
	GetByID(ctx context.Context, id models.ULID) (*models.RotationSession, error)

	// End stamps the session's end time and clears its current flag.
	End(ctx context.Context, id models.ULID, at time.Time) error

	// SavePlaybackPosition persists the playback cursor for crash recovery.
	SavePlaybackPosition(ctx context.Context, id models.ULID, cursorMS int64, currentVideo string) error

	// SaveTempPlayback persists the temp-playback state on the session.
	SaveTempPlayback(ctx context.Context, id models.ULID, playlists []string, position int, folder string, cursorMS int64) error

	// UpdateTempPlaybackProgress advances the persisted temp-playback
	// position and cursor.
	UpdateTempPlaybackProgress(ctx context.Context, id models.ULID, position int, cursorMS int64) error

	// ClearTempPlayback resets the session's temp-playback state.
	ClearTempPlayback(ctx context.Context, id models.ULID) error

	// SetNextPlaylists records the names being prepared for the next
	// rotation, each with a pending status.
	SetNextPlaylists(ctx context.Context, id models.ULID, names []string) error

	// UpdateNextPlaylistStatus updates one playlist's preparation status.
	// A name outside the next set is a no-op.
	UpdateNextPlaylistStatus(ctx context.Context, id models.ULID, name string, status models.NextStatus) error

	// ClearNextPlaylists empties the next-rotation preparation state.
	ClearNextPlaylists(ctx context.Context, id models.ULID) error

	// UpdateStreamTitle replaces the session's published stream title.
	UpdateStreamTitle(ctx context.Context, id models.ULID, title string) error

	// SetOverrideState records whether the session is a manual override and
	// whether the displaced live content was backed up for later restore.
	SetOverrideState(ctx context.Context, id models.ULID, active, backupSaved bool) error

	// Recent returns the most recently started sessions, newest first.
	Recent(ctx context.Context, limit int) ([]*models.RotationSession, error)
}

// PlaybackLogRepository defines operations for the playback history log.
type PlaybackLogRepository interface {
	// Log appends a playback entry.
	Log(ctx context.Context, entry *models.PlaybackLogEntry) error

	// Recent returns the most recent entries, newest first.
	Recent(ctx context.Context, limit int) ([]*models.PlaybackLogEntry, error)

	// CountSince counts entries played at or after the given time.
	CountSince(ctx context.Context, since time.Time) (int64, error)

	// PruneOlderThan removes entries played before the cutoff and reports
	// how many rows went away.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
