// Package prepared manages user-curated rotation folders. Each folder under
// the base directory holds a metadata.json descriptor plus the videos to
// play; the dashboard builds them ahead of time and the orchestrator copies
// them on screen on demand or when their schedule arrives.
package prepared

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/rotarr/internal/content"
	"github.com/jmylchreest/rotarr/internal/storage"
)

// MetadataFile is the descriptor filename inside every prepared folder.
const MetadataFile = "metadata.json"

// Status is the lifecycle state recorded in a folder's descriptor.
type Status string

const (
	// StatusCreated is an empty folder awaiting downloads.
	StatusCreated Status = "created"
	// StatusDownloading means the worker is filling the folder.
	StatusDownloading Status = "downloading"
	// StatusReady means the folder can be executed.
	StatusReady Status = "ready"
	// StatusScheduled means execution is queued for scheduled_at.
	StatusScheduled Status = "scheduled"
	// StatusExecuting means the folder is being copied on screen.
	StatusExecuting Status = "executing"
	// StatusCompleted means the folder already played.
	StatusCompleted Status = "completed"
)

// valid reports whether the status is one the store writes.
func (s Status) valid() bool {
	switch s {
	case StatusCreated, StatusDownloading, StatusReady, StatusScheduled,
		StatusExecuting, StatusCompleted:
		return true
	}
	return false
}

// Metadata is the metadata.json document.
type Metadata struct {
	Title       string     `json:"title"`
	Playlists   []string   `json:"playlists"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	VideoCount  int        `json:"video_count"`
	IsFallback  bool       `json:"is_fallback"`
}

// Rotation pairs a folder slug with its descriptor.
type Rotation struct {
	Slug string `json:"slug"`
	Metadata
}

// ErrNotFound is returned when no folder exists for a slug.
var ErrNotFound = errors.New("prepared rotation not found")

// ValidateSlug rejects slugs that could escape the prepared base or hide
// from directory listings. The sandbox re-checks the canonical path, so
// this is the first gate, not the only one.
func ValidateSlug(slug string) error {
	switch {
	case slug == "":
		return errors.New("slug is empty")
	case strings.ContainsAny(slug, `/\`):
		return fmt.Errorf("slug %q contains a path separator", slug)
	case strings.ContainsRune(slug, 0):
		return fmt.Errorf("slug %q contains a NUL byte", slug)
	case strings.HasPrefix(slug, "."):
		return fmt.Errorf("slug %q starts with a dot", slug)
	}
	return nil
}

// Store reads and writes prepared rotation folders. Disk is the source of
// truth; the in-memory index only serves listings and is refreshed by the
// watcher when folders change underneath us.
type Store struct {
	log     *slog.Logger
	sandbox *storage.Sandbox

	mu    sync.RWMutex
	index map[string]*Rotation
}

// NewStore opens the store over baseDir, creating it when missing, and
// loads the initial index.
func NewStore(baseDir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	sandbox, err := storage.NewSandbox(baseDir)
	if err != nil {
		return nil, fmt.Errorf("opening prepared base: %w", err)
	}

	s := &Store{log: log, sandbox: sandbox, index: make(map[string]*Rotation)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// BaseDir returns the absolute prepared base directory.
func (s *Store) BaseDir() string { return s.sandbox.BaseDir() }

// Folder returns the absolute directory for a slug.
func (s *Store) Folder(slug string) (string, error) {
	if err := ValidateSlug(slug); err != nil {
		return "", err
	}
	return s.sandbox.Resolve(slug)
}

// Create makes a new empty prepared folder with a created descriptor.
func (s *Store) Create(slug, title string, playlists []string, isFallback bool) (*Rotation, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	exists, err := s.sandbox.Exists(slug)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("prepared rotation %q already exists", slug)
	}
	if err := s.sandbox.MkdirAll(slug); err != nil {
		return nil, err
	}

	rot := &Rotation{
		Slug: slug,
		Metadata: Metadata{
			Title:      title,
			Playlists:  append([]string(nil), playlists...),
			Status:     StatusCreated,
			CreatedAt:  time.Now().UTC(),
			IsFallback: isFallback,
		},
	}
	if err := s.writeMetadata(rot); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.index[slug] = rot
	s.mu.Unlock()

	s.log.Info("prepared rotation created",
		slog.String("slug", slug),
		slog.Any("playlists", playlists),
	)
	return rot, nil
}

// Get reads a rotation's descriptor from disk.
func (s *Store) Get(slug string) (*Rotation, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	return s.readRotation(slug)
}

// List returns every rotation in the index, newest first.
func (s *Store) List() []*Rotation {
	s.mu.RLock()
	out := make([]*Rotation, 0, len(s.index))
	for _, rot := range s.index {
		out = append(out, rot)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Slug < out[j].Slug
	})
	return out
}

// Reload rescans the base directory into the index. Folders without a
// readable descriptor are skipped with a warning.
func (s *Store) Reload() error {
	entries, err := s.sandbox.List("")
	if err != nil {
		return err
	}

	index := make(map[string]*Rotation, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		slug := entry.Name()
		if err := ValidateSlug(slug); err != nil {
			continue
		}
		rot, err := s.readRotation(slug)
		if err != nil {
			s.log.Warn("skipping unreadable prepared folder",
				slog.String("slug", slug),
				slog.String("error", err.Error()),
			)
			continue
		}
		index[slug] = rot
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	return nil
}

// UpdateStatus writes a new lifecycle status.
func (s *Store) UpdateStatus(slug string, status Status) (*Rotation, error) {
	if !status.valid() {
		return nil, fmt.Errorf("invalid prepared status %q", status)
	}
	return s.mutate(slug, func(m *Metadata) error {
		m.Status = status
		if status != StatusScheduled {
			m.ScheduledAt = nil
		}
		return nil
	})
}

// Schedule queues the rotation for execution at the given time. Only ready
// or already scheduled rotations can be scheduled.
func (s *Store) Schedule(slug string, at time.Time) (*Rotation, error) {
	return s.mutate(slug, func(m *Metadata) error {
		if m.Status != StatusReady && m.Status != StatusScheduled {
			return fmt.Errorf("cannot schedule rotation in status %q", m.Status)
		}
		utc := at.UTC()
		m.Status = StatusScheduled
		m.ScheduledAt = &utc
		return nil
	})
}

// CancelSchedule returns a scheduled rotation to ready.
func (s *Store) CancelSchedule(slug string) (*Rotation, error) {
	return s.mutate(slug, func(m *Metadata) error {
		if m.Status != StatusScheduled {
			return fmt.Errorf("rotation is not scheduled, status is %q", m.Status)
		}
		m.Status = StatusReady
		m.ScheduledAt = nil
		return nil
	})
}

// RefreshVideoCount recounts the folder's videos and persists the number.
func (s *Store) RefreshVideoCount(slug string) (*Rotation, error) {
	dir, err := s.Folder(slug)
	if err != nil {
		return nil, err
	}
	n, err := content.CountVideos(dir)
	if err != nil {
		return nil, fmt.Errorf("counting videos in %s: %w", slug, err)
	}
	return s.mutate(slug, func(m *Metadata) error {
		m.VideoCount = n
		return nil
	})
}

// Delete removes the folder and its contents. Executing rotations are
// protected; flip the status first.
func (s *Store) Delete(slug string) error {
	rot, err := s.Get(slug)
	if err != nil {
		return err
	}
	if rot.Status == StatusExecuting {
		return errors.New("cannot delete an executing rotation")
	}
	if err := s.sandbox.RemoveAll(slug); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.index, slug)
	s.mu.Unlock()

	s.log.Info("prepared rotation deleted", slog.String("slug", slug))
	return nil
}

// DeleteCompleted removes completed rotations whose descriptor was last
// written before the cutoff. It returns how many were removed.
func (s *Store) DeleteCompleted(before time.Time) (int, error) {
	removed := 0
	for _, rot := range s.List() {
		if rot.Status != StatusCompleted {
			continue
		}
		path, err := s.sandbox.Resolve(filepath.Join(rot.Slug, MetadataFile))
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(before) {
			continue
		}
		if err := s.Delete(rot.Slug); err != nil {
			s.log.Warn("deleting completed rotation failed",
				slog.String("slug", rot.Slug),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}
	return removed, nil
}

// DueScheduled returns scheduled rotations whose time has arrived, oldest
// schedule first.
func (s *Store) DueScheduled(now time.Time) []*Rotation {
	var due []*Rotation
	for _, rot := range s.List() {
		if rot.Status != StatusScheduled || rot.ScheduledAt == nil {
			continue
		}
		if rot.ScheduledAt.After(now) {
			continue
		}
		due = append(due, rot)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
	})
	return due
}

// FallbackFolder returns the directory of a ready rotation flagged as a
// fallback source, if any exists.
func (s *Store) FallbackFolder() string {
	for _, rot := range s.List() {
		if !rot.IsFallback {
			continue
		}
		if rot.Status != StatusReady && rot.Status != StatusCompleted {
			continue
		}
		dir, err := s.Folder(rot.Slug)
		if err != nil {
			continue
		}
		return dir
	}
	return ""
}

// ResetStaleExecuting returns any executing rotation to ready. A crash
// during execution leaves the status behind; nothing is actually running
// at startup.
func (s *Store) ResetStaleExecuting() (int, error) {
	reset := 0
	for _, rot := range s.List() {
		if rot.Status != StatusExecuting {
			continue
		}
		if _, err := s.UpdateStatus(rot.Slug, StatusReady); err != nil {
			return reset, err
		}
		s.log.Warn("reset stale executing rotation", slog.String("slug", rot.Slug))
		reset++
	}
	return reset, nil
}

// mutate applies fn to the descriptor under the store lock and persists
// the result.
func (s *Store) mutate(slug string, fn func(*Metadata) error) (*Rotation, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rot, err := s.readRotationLocked(slug)
	if err != nil {
		return nil, err
	}
	if err := fn(&rot.Metadata); err != nil {
		return nil, err
	}
	if err := s.writeMetadata(rot); err != nil {
		return nil, err
	}
	s.index[slug] = rot
	return rot, nil
}

func (s *Store) readRotation(slug string) (*Rotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRotationLocked(slug)
}

func (s *Store) readRotationLocked(slug string) (*Rotation, error) {
	data, err := s.sandbox.ReadFile(filepath.Join(slug, MetadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
		}
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding %s descriptor: %w", slug, err)
	}
	return &Rotation{Slug: slug, Metadata: meta}, nil
}

func (s *Store) writeMetadata(rot *Rotation) error {
	path, err := s.sandbox.Resolve(filepath.Join(rot.Slug, MetadataFile))
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rot.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s descriptor: %w", rot.Slug, err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s descriptor: %w", rot.Slug, err)
	}
	return nil
}
