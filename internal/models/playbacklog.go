package models

import (
	"gorm.io/gorm"
)

// PlaybackLogEntry is an append-only record of one detected video transition.
// Video and session references are optional: a transition is still logged
// when the file was never registered (fallback content, manual drops).
type PlaybackLogEntry struct {
	BaseModel

	// VideoID references the registered video, when known.
	VideoID *ULID `gorm:"index;type:varchar(26)" json:"video_id,omitempty"`

	// SessionID references the rotation session, when one was active.
	SessionID *ULID `gorm:"index;type:varchar(26)" json:"session_id,omitempty"`

	// VideoFilename is the unprefixed filename that played.
	VideoFilename string `gorm:"not null;size:512" json:"video_filename"`

	// PlaylistName is the owning playlist, when known.
	PlaylistName string `gorm:"size:255" json:"playlist_name,omitempty"`

	// PlayedAt is when the transition was detected.
	PlayedAt Time `gorm:"not null;index" json:"played_at"`
}

// TableName returns the table name for PlaybackLogEntry.
func (PlaybackLogEntry) TableName() string {
	return "playback_log"
}

// Validate checks the entry fields.
func (e *PlaybackLogEntry) Validate() error {
	if e.VideoFilename == "" {
		return ErrFilenameRequired
	}
	return nil
}

// BeforeCreate validates and stamps the playback time before insertion.
func (e *PlaybackLogEntry) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if e.PlayedAt.IsZero() {
		e.PlayedAt = Now()
	}
	return e.Validate()
}
