package models

import (
	"strings"

	"gorm.io/gorm"
)

// Video represents a downloaded video file registered with the store.
// The database always holds the unprefixed filename; any on-disk `NN_`
// ordering prefix is stripped before lookup or registration.
type Video struct {
	BaseModel

	// PlaylistID is the owning playlist.
	PlaylistID ULID `gorm:"not null;index;uniqueIndex:idx_videos_playlist_filename;type:varchar(26)" json:"playlist_id"`

	// PlaylistName is denormalised for per-video category lookups without
	// a join.
	PlaylistName string `gorm:"not null;index;size:255" json:"playlist_name"`

	// Filename is the unprefixed on-disk name, unique per playlist.
	Filename string `gorm:"not null;uniqueIndex:idx_videos_playlist_filename;size:512" json:"filename"`

	// Title is the upstream video title.
	Title string `gorm:"size:512" json:"title,omitempty"`

	// DurationSeconds is the probed duration; zero when probing failed.
	DurationSeconds float64 `gorm:"default:0" json:"duration_seconds"`

	// FileSizeMB is the file size in megabytes at registration time.
	FileSizeMB float64 `gorm:"default:0" json:"file_size_mb"`

	// DownloadedAt is when the download worker finished the file.
	DownloadedAt Time `gorm:"not null" json:"downloaded_at"`
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// Sanitize trims whitespace from user-provided fields.
func (v *Video) Sanitize() {
	v.Filename = strings.TrimSpace(v.Filename)
	v.Title = strings.TrimSpace(v.Title)
	v.PlaylistName = strings.TrimSpace(v.PlaylistName)
}

// Validate checks the video fields.
func (v *Video) Validate() error {
	if v.Filename == "" {
		return ErrFilenameRequired
	}
	if v.PlaylistID.IsZero() {
		return ErrPlaylistIDRequired
	}
	return nil
}

// BeforeCreate sanitizes and validates before insertion.
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if err := v.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	v.Sanitize()
	if v.DownloadedAt.IsZero() {
		v.DownloadedAt = Now()
	}
	return v.Validate()
}
