// Package catalog manages the owner-editable configuration documents: the
// playlists/settings document and the manual-override document. The files
// are the source of truth; the daemon re-reads them when their modification
// time changes and syncs playlists into the store.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/rotarr/internal/models"
)

// Entry is one playlist in the catalog document.
type Entry struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Enabled        *bool  `json:"enabled,omitempty"`
	Priority       int    `json:"priority,omitempty"`
	IsShort        bool   `json:"is_short,omitempty"`
	Category       string `json:"category,omitempty"`
	TwitchCategory string `json:"twitch_category,omitempty"`
	KickCategory   string `json:"kick_category,omitempty"`
}

// ToModel converts the entry into its store representation.
func (e Entry) ToModel() *models.Playlist {
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return &models.Playlist{
		Name:           e.Name,
		URL:            e.URL,
		Enabled:        models.BoolPtr(enabled),
		Priority:       e.Priority,
		IsShort:        e.IsShort,
		Category:       e.Category,
		TwitchCategory: e.TwitchCategory,
		KickCategory:   e.KickCategory,
	}
}

// IsEnabled reports whether the entry participates in rotations.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Settings holds the owner-tunable rotation parameters. Unknown keys in the
// document are ignored so newer files keep working on older daemons.
type Settings struct {
	RotationHours            float64 `json:"rotation_hours"`
	VideoFolder              string  `json:"video_folder"`
	NextRotationFolder       string  `json:"next_rotation_folder"`
	MinPlaylistsPerRotation  int     `json:"min_playlists_per_rotation"`
	MaxPlaylistsPerRotation  int     `json:"max_playlists_per_rotation"`
	DownloadRetryAttempts    int     `json:"download_retry_attempts"`
	StreamTitleTemplate      string  `json:"stream_title_template"`
	IgnoreStreamer           bool    `json:"ignore_streamer"`
	NotifyVideoTransitions   bool    `json:"notify_video_transitions"`
	LiveCheckIntervalSeconds int     `json:"live_check_interval_seconds"`
	YtDlpUseCookies          bool    `json:"yt_dlp_use_cookies"`
	YtDlpBrowserForCookies   string  `json:"yt_dlp_browser_for_cookies"`
	YtDlpVerbose             bool    `json:"yt_dlp_verbose"`
}

// DefaultSettings returns the settings written into a fresh document.
func DefaultSettings() Settings {
	return Settings{
		RotationHours:            6,
		VideoFolder:              "live",
		NextRotationFolder:       "pending",
		MinPlaylistsPerRotation:  2,
		MaxPlaylistsPerRotation:  4,
		DownloadRetryAttempts:    3,
		StreamTitleTemplate:      "24/7 Stream | {GAMES}",
		LiveCheckIntervalSeconds: 60,
		YtDlpBrowserForCookies:   "firefox",
	}
}

// Validate checks the required settings keys.
func (s Settings) Validate() error {
	if s.RotationHours <= 0 {
		return fmt.Errorf("rotation_hours must be positive")
	}
	if strings.TrimSpace(s.VideoFolder) == "" {
		return fmt.Errorf("video_folder is required")
	}
	if strings.TrimSpace(s.NextRotationFolder) == "" {
		return fmt.Errorf("next_rotation_folder is required")
	}
	if s.VideoFolder == s.NextRotationFolder {
		return fmt.Errorf("video_folder and next_rotation_folder must differ")
	}
	if s.MinPlaylistsPerRotation < 1 {
		return fmt.Errorf("min_playlists_per_rotation must be at least 1")
	}
	if s.MaxPlaylistsPerRotation < s.MinPlaylistsPerRotation {
		return fmt.Errorf("max_playlists_per_rotation must be >= min_playlists_per_rotation")
	}
	return nil
}

// RotationDuration returns the configured rotation length.
func (s Settings) RotationDuration() time.Duration {
	return time.Duration(s.RotationHours * float64(time.Hour))
}

// LiveCheckInterval returns the streamer live-check cadence, with a sane
// floor so a zero in the document does not spin the pollers.
func (s Settings) LiveCheckInterval() time.Duration {
	if s.LiveCheckIntervalSeconds < 10 {
		return 60 * time.Second
	}
	return time.Duration(s.LiveCheckIntervalSeconds) * time.Second
}

// Document is the on-disk playlists/settings file layout.
type Document struct {
	Settings  Settings `json:"settings"`
	Playlists []Entry  `json:"playlists"`
}

// Validate checks the settings and every playlist entry. Entries need a name
// and a URL; everything else has a usable zero value.
func (d Document) Validate() error {
	if err := d.Settings.Validate(); err != nil {
		return err
	}
	for i, e := range d.Playlists {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("playlist entry %d: %w", i, models.ErrNameRequired)
		}
		if strings.TrimSpace(e.URL) == "" {
			return fmt.Errorf("playlist %q: %w", e.Name, models.ErrURLRequired)
		}
	}
	return nil
}

// Provider loads and persists the catalog document, re-reading it when the
// file changes on disk.
type Provider struct {
	log  *slog.Logger
	path string

	mu      sync.RWMutex
	doc     Document
	lastMod time.Time
}

// NewProvider creates a catalog provider for the given document path.
func NewProvider(path string, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{log: log, path: path}
}

// Path returns the document location.
func (p *Provider) Path() string {
	return p.path
}

// Load reads the document, creating one with defaults when missing.
// Invalid settings fail the load; the caller decides whether that is fatal.
func (p *Provider) Load() error {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		p.mu.Lock()
		p.doc = Document{Settings: DefaultSettings()}
		p.mu.Unlock()
		if err := p.save(); err != nil {
			return err
		}
		p.log.Info("created default playlists document", slog.String("path", p.path))
		return p.rememberModTime()
	}
	if err != nil {
		return fmt.Errorf("reading playlists document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing playlists document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("validating playlists document: %w", err)
	}

	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return p.rememberModTime()
}

// Reload re-reads the document when its modification time changed since the
// last load. It reports whether a reload happened. A document that fails to
// parse or validate leaves the previous state in place.
func (p *Provider) Reload() (bool, error) {
	info, err := os.Stat(p.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking playlists document: %w", err)
	}

	p.mu.RLock()
	unchanged := info.ModTime().Equal(p.lastMod)
	p.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	if err := p.Load(); err != nil {
		// Remember the bad mtime so a broken edit logs once, not every tick.
		p.mu.Lock()
		p.lastMod = info.ModTime()
		p.mu.Unlock()
		return false, err
	}
	return true, nil
}

func (p *Provider) rememberModTime() error {
	info, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("checking playlists document: %w", err)
	}
	p.mu.Lock()
	p.lastMod = info.ModTime()
	p.mu.Unlock()
	return nil
}

// Settings returns a copy of the current settings.
func (p *Provider) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.Settings
}

// Entries returns a copy of the playlist entries.
func (p *Provider) Entries() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Entry, len(p.doc.Playlists))
	copy(out, p.doc.Playlists)
	return out
}

// EnabledNames returns the names of enabled playlists in document order.
func (p *Provider) EnabledNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var names []string
	for _, e := range p.doc.Playlists {
		if e.IsEnabled() {
			names = append(names, e.Name)
		}
	}
	return names
}

// PlaylistModels converts every entry to its store representation for the
// catalog-to-store sync.
func (p *Provider) PlaylistModels() []*models.Playlist {
	entries := p.Entries()
	out := make([]*models.Playlist, len(entries))
	for i, e := range entries {
		out[i] = e.ToModel()
	}
	return out
}

// AddEntry appends a playlist to the document and persists it. Names are
// unique case-insensitively.
func (p *Provider) AddEntry(entry Entry) error {
	entry.Name = strings.TrimSpace(entry.Name)
	if entry.Name == "" {
		return models.ErrNameRequired
	}
	if strings.TrimSpace(entry.URL) == "" {
		return models.ErrURLRequired
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.findLocked(entry.Name) >= 0 {
		return fmt.Errorf("playlist %q already exists", entry.Name)
	}
	p.doc.Playlists = append(p.doc.Playlists, entry)
	return p.saveLocked()
}

// UpdateEntry mutates the named playlist in place and persists the document.
func (p *Provider) UpdateEntry(name string, mutate func(*Entry) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.findLocked(name)
	if idx < 0 {
		return fmt.Errorf("playlist %q not found", name)
	}
	if err := mutate(&p.doc.Playlists[idx]); err != nil {
		return err
	}
	return p.saveLocked()
}

// RemoveEntry deletes the named playlist from the document.
func (p *Provider) RemoveEntry(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.findLocked(name)
	if idx < 0 {
		return fmt.Errorf("playlist %q not found", name)
	}
	p.doc.Playlists = append(p.doc.Playlists[:idx], p.doc.Playlists[idx+1:]...)
	return p.saveLocked()
}

// RenameEntry changes a playlist's name, keeping uniqueness.
func (p *Provider) RenameEntry(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return models.ErrNameRequired
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.findLocked(oldName)
	if idx < 0 {
		return fmt.Errorf("playlist %q not found", oldName)
	}
	if other := p.findLocked(newName); other >= 0 && other != idx {
		return fmt.Errorf("playlist %q already exists", newName)
	}
	p.doc.Playlists[idx].Name = newName
	return p.saveLocked()
}

// SetEntryEnabled toggles a playlist's participation.
func (p *Provider) SetEntryEnabled(name string, enabled bool) error {
	return p.UpdateEntry(name, func(e *Entry) error {
		e.Enabled = models.BoolPtr(enabled)
		return nil
	})
}

// findLocked returns the index of the named entry, or -1. Callers hold p.mu.
func (p *Provider) findLocked(name string) int {
	for i, e := range p.doc.Playlists {
		if strings.EqualFold(e.Name, strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

// save persists the document atomically.
func (p *Provider) save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked()
}

func (p *Provider) saveLocked() error {
	data, err := json.MarshalIndent(p.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding playlists document: %w", err)
	}
	if err := renameio.WriteFile(p.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing playlists document: %w", err)
	}
	if info, err := os.Stat(p.path); err == nil {
		p.lastMod = info.ModTime()
	}
	return nil
}
