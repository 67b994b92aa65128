package models

import (
	"net/url"
	"strings"

	"gorm.io/gorm"
)

// Platform identifies a broadcast platform for category overrides.
type Platform string

const (
	// PlatformTwitch is the Twitch broadcast platform.
	PlatformTwitch Platform = "twitch"
	// PlatformKick is the Kick broadcast platform.
	PlatformKick Platform = "kick"
)

// Playlist represents a remote video playlist in the rotation pool.
// Playlists are created and kept in sync from the owner-edited playlists
// document; last_played and play_count are mutated when a rotation that
// contains the playlist completes.
type Playlist struct {
	BaseModel

	// Name is the playlist identifier. Uniqueness is case-insensitive;
	// repositories look names up with a case-folding comparison.
	Name string `gorm:"uniqueIndex;not null;size:255" json:"name"`

	// URL is the remote playlist location passed to the downloader.
	URL string `gorm:"not null;size:2048" json:"url"`

	// Enabled indicates whether this playlist participates in rotations.
	// Using pointer to distinguish between "not set" (nil->default true) and "explicitly false".
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// Priority breaks recency ties during selection. Higher is preferred.
	Priority int `gorm:"default:0" json:"priority"`

	// IsShort marks playlists of short-form content, which the selector
	// balances against long-form ones.
	IsShort bool `gorm:"default:false" json:"is_short"`

	// Category is the default category applied on platforms without an
	// explicit override.
	Category string `gorm:"size:255" json:"category,omitempty"`

	// TwitchCategory overrides Category on Twitch.
	TwitchCategory string `gorm:"size:255" json:"twitch_category,omitempty"`

	// KickCategory overrides Category on Kick.
	KickCategory string `gorm:"size:255" json:"kick_category,omitempty"`

	// LastPlayed is when a rotation containing this playlist last completed.
	LastPlayed *Time `json:"last_played,omitempty"`

	// PlayCount is the number of completed rotations containing this playlist.
	PlayCount int `gorm:"default:0" json:"play_count"`
}

// TableName returns the table name for Playlist.
func (Playlist) TableName() string {
	return "playlists"
}

// IsEnabled returns the enabled state, defaulting to true when unset.
func (p *Playlist) IsEnabled() bool {
	return BoolVal(p.Enabled)
}

// CategoryFor returns the category to publish on the given platform,
// falling back to the generic category when no override is set.
func (p *Playlist) CategoryFor(platform Platform) string {
	switch platform {
	case PlatformTwitch:
		if p.TwitchCategory != "" {
			return p.TwitchCategory
		}
	case PlatformKick:
		if p.KickCategory != "" {
			return p.KickCategory
		}
	}
	return p.Category
}

// MarkPlayed records a completed rotation containing this playlist.
func (p *Playlist) MarkPlayed(at Time) {
	p.LastPlayed = &at
	p.PlayCount++
}

// Sanitize trims whitespace from user-provided fields.
func (p *Playlist) Sanitize() {
	p.Name = strings.TrimSpace(p.Name)
	p.URL = strings.TrimSpace(p.URL)
	p.Category = strings.TrimSpace(p.Category)
	p.TwitchCategory = strings.TrimSpace(p.TwitchCategory)
	p.KickCategory = strings.TrimSpace(p.KickCategory)
}

// Validate checks the playlist fields.
func (p *Playlist) Validate() error {
	if p.Name == "" {
		return ErrNameRequired
	}
	if p.URL == "" {
		return ErrURLRequired
	}
	if _, err := url.ParseRequestURI(p.URL); err != nil {
		return ErrInvalidURL
	}
	return nil
}

// BeforeCreate sanitizes and validates before insertion.
func (p *Playlist) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	p.Sanitize()
	return p.Validate()
}

// BeforeUpdate sanitizes and validates before updates.
func (p *Playlist) BeforeUpdate(tx *gorm.DB) error {
	p.Sanitize()
	return p.Validate()
}
