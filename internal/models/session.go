package models

import (
	"gorm.io/gorm"
)

// NextStatus tracks the download state of one playlist in the next rotation.
type NextStatus string

const (
	// NextStatusPending indicates the playlist download has not finished.
	NextStatusPending NextStatus = "PENDING"
	// NextStatusCompleted indicates every video of the playlist is staged.
	NextStatusCompleted NextStatus = "COMPLETED"
)

// StatusMap stores per-playlist next-rotation statuses as JSON text.
type StatusMap map[string]NextStatus

// RotationSession represents one rotation: the set of playlists playing
// together, plus the recovery and preparation state needed to survive a
// restart mid-rotation. At most one session row has is_current set.
type RotationSession struct {
	BaseModel

	// StartedAt is when the rotation went live.
	StartedAt Time `gorm:"not null" json:"started_at"`

	// EndedAt is set when the rotation is replaced; nil while current.
	EndedAt *Time `json:"ended_at,omitempty"`

	// PlaylistsSelected is the ordered list of playlist ids in this rotation.
	PlaylistsSelected StringList `gorm:"type:text;serializer:json" json:"playlists_selected"`

	// StreamTitle is the title published to broadcast platforms.
	StreamTitle string `gorm:"size:255" json:"stream_title"`

	// TotalDurationSeconds is the summed duration of the selected videos.
	TotalDurationSeconds float64 `gorm:"default:0" json:"total_duration_seconds"`

	// IsCurrent marks the active session. Enforced to a single row by
	// the repository's create path.
	IsCurrent bool `gorm:"index;default:false" json:"is_current"`

	// CurrentPlaylists is the audit list of playlist names on screen.
	CurrentPlaylists StringList `gorm:"type:text;serializer:json" json:"current_playlists"`

	// NextPlaylists is the list of playlist names being prepared.
	NextPlaylists StringList `gorm:"type:text;serializer:json" json:"next_playlists"`

	// NextPlaylistsStatus maps each next playlist to PENDING or COMPLETED.
	NextPlaylistsStatus StatusMap `gorm:"type:text;serializer:json" json:"next_playlists_status"`

	// Temp playback state: set while the rotation plays directly out of the
	// pending folder because its own content ran dry.
	TempPlaybackActive   bool       `gorm:"default:false" json:"temp_playback_active"`
	TempPlaybackPlaylist StringList `gorm:"type:text;serializer:json" json:"temp_playback_playlist"`
	TempPlaybackPosition int        `gorm:"default:0" json:"temp_playback_position"`
	TempPlaybackFolder   string     `gorm:"size:1024" json:"temp_playback_folder"`
	TempPlaybackCursorMS int64      `gorm:"default:0" json:"temp_playback_cursor_ms"`

	// Playback recovery cursor, saved every poll.
	PlaybackCursorMS     int64  `gorm:"default:0" json:"playback_cursor_ms"`
	PlaybackCurrentVideo string `gorm:"size:512" json:"playback_current_video"`

	// Override state: set while a manual-override rotation is on screen.
	// OverrideBackupSaved records whether the pre-override live content was
	// stashed and should be restored once the override content is consumed.
	OverrideActive      bool `gorm:"default:false" json:"override_active"`
	OverrideBackupSaved bool `gorm:"default:false" json:"override_backup_saved"`
}

// TableName returns the table name for RotationSession.
func (RotationSession) TableName() string {
	return "rotation_sessions"
}

// Validate checks the session fields.
func (s *RotationSession) Validate() error {
	if len(s.PlaylistsSelected) == 0 {
		return ErrSessionPlaylistsRequired
	}
	if s.TempPlaybackActive && (s.TempPlaybackFolder == "" || len(s.TempPlaybackPlaylist) == 0) {
		return ErrTempPlaybackIncomplete
	}
	return nil
}

// BeforeCreate validates and stamps the start time before insertion.
func (s *RotationSession) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = Now()
	}
	return s.Validate()
}

// MarkEnded closes the session.
func (s *RotationSession) MarkEnded(at Time) {
	s.IsCurrent = false
	s.EndedAt = &at
}

// HasEnded reports whether the session is closed.
func (s *RotationSession) HasEnded() bool {
	return s.EndedAt != nil
}

// HasNextPlaylists reports whether a next rotation is being prepared.
func (s *RotationSession) HasNextPlaylists() bool {
	return len(s.NextPlaylists) > 0
}

// PendingNext returns the next playlists still downloading, in order.
func (s *RotationSession) PendingNext() []string {
	var pending []string
	for _, name := range s.NextPlaylists {
		if s.NextPlaylistsStatus[name] != NextStatusCompleted {
			pending = append(pending, name)
		}
	}
	return pending
}

// AllNextCompleted reports whether a next rotation exists and every playlist
// in it has finished downloading.
func (s *RotationSession) AllNextCompleted() bool {
	if len(s.NextPlaylists) == 0 {
		return false
	}
	for _, name := range s.NextPlaylists {
		if s.NextPlaylistsStatus[name] != NextStatusCompleted {
			return false
		}
	}
	return true
}

// SetNextStatus updates the status of one next playlist.
func (s *RotationSession) SetNextStatus(name string, status NextStatus) {
	if s.NextPlaylistsStatus == nil {
		s.NextPlaylistsStatus = make(StatusMap)
	}
	s.NextPlaylistsStatus[name] = status
}

// SetNextPlaylists replaces the prepared-rotation list, resetting every
// entry to PENDING.
func (s *RotationSession) SetNextPlaylists(names []string) {
	s.NextPlaylists = append(StringList(nil), names...)
	s.NextPlaylistsStatus = make(StatusMap, len(names))
	for _, name := range names {
		s.NextPlaylistsStatus[name] = NextStatusPending
	}
}

// ClearNextPlaylists drops the prepared-rotation state.
func (s *RotationSession) ClearNextPlaylists() {
	s.NextPlaylists = nil
	s.NextPlaylistsStatus = nil
}

// ActivateTempPlayback records that playback now runs out of folder while
// downloads continue into it.
func (s *RotationSession) ActivateTempPlayback(playlists []string, position int, folder string, cursorMS int64) {
	s.TempPlaybackActive = true
	s.TempPlaybackPlaylist = append(StringList(nil), playlists...)
	s.TempPlaybackPosition = position
	s.TempPlaybackFolder = folder
	s.TempPlaybackCursorMS = cursorMS
}

// ClearTempPlayback resets the temp playback state.
func (s *RotationSession) ClearTempPlayback() {
	s.TempPlaybackActive = false
	s.TempPlaybackPlaylist = nil
	s.TempPlaybackPosition = 0
	s.TempPlaybackFolder = ""
	s.TempPlaybackCursorMS = 0
}
