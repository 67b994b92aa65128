package rotation

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/rotarr/internal/content"
)

// Choreography delays around a content switch. The stage delay gives the OS
// time to release file handles after the media source is cleared; without it
// the wipe races the player and loses.
const (
	defaultStageDelay       = 3 * time.Second
	defaultRotationDelay    = 1500 * time.Millisecond
	defaultMediaSettleDelay = 500 * time.Millisecond
)

// Switcher performs the scene and folder choreography of a content switch.
// It is the only component that wipes the live folder.
type Switcher struct {
	log     *slog.Logger
	comp    Compositor
	scenes  Scenes
	folders Folders

	// Delays are fields so tests can shrink them.
	StageDelay       time.Duration
	RotationDelay    time.Duration
	MediaSettleDelay time.Duration
}

// NewSwitcher creates a Switcher with the standard choreography delays.
func NewSwitcher(comp Compositor, scenes Scenes, folders Folders, log *slog.Logger) *Switcher {
	if log == nil {
		log = slog.Default()
	}
	return &Switcher{
		log:              log,
		comp:             comp,
		scenes:           scenes,
		folders:          folders,
		StageDelay:       defaultStageDelay,
		RotationDelay:    defaultRotationDelay,
		MediaSettleDelay: defaultMediaSettleDelay,
	}
}

// Stage parks the compositor on the rotation screen and releases the media
// source's file locks. Compositor errors are logged, not returned: the swap
// must proceed even when the compositor is flaky, otherwise the rotation
// stalls forever.
func (s *Switcher) Stage(ctx context.Context) {
	if err := s.comp.SetScene(ctx, s.scenes.Rotation); err != nil {
		s.log.Warn("switching to rotation screen failed", slog.String("error", err.Error()))
	}
	sleepCtx(ctx, s.RotationDelay)

	if err := s.comp.ClearMediaInput(ctx); err != nil {
		s.log.Warn("clearing media input failed", slog.String("error", err.Error()))
	}
	sleepCtx(ctx, s.StageDelay)
}

// SwapFolders wipes live and moves the staged pending content in. The
// download archive never travels with the content and is removed from
// pending so the next rotation downloads fresh.
func (s *Switcher) SwapFolders() error {
	if err := content.Wipe(s.folders.Live); err != nil {
		return err
	}
	if err := content.MoveContents(s.folders.Pending, s.folders.Live, content.ArchiveFile); err != nil {
		return err
	}
	return content.RemoveArchive(s.folders.Pending)
}

// AddContent moves the staged pending content into live without wiping,
// keeping whatever is already playing there.
func (s *Switcher) AddContent() error {
	if err := content.MoveContents(s.folders.Pending, s.folders.Live, content.ArchiveFile); err != nil {
		return err
	}
	return content.RemoveArchive(s.folders.Pending)
}

// BackupLive stashes the live folder before an override switch and reports
// whether a restorable backup now exists. Failures leave live untouched.
func (s *Switcher) BackupLive() bool {
	count, err := content.CountVideos(s.folders.Live)
	if err != nil || count == 0 {
		return false
	}

	if err := content.EnsureDir(s.folders.Backup); err != nil {
		s.log.Warn("creating override backup folder failed", slog.String("error", err.Error()))
		return false
	}
	if err := content.Wipe(s.folders.Backup); err != nil {
		s.log.Warn("clearing override backup folder failed", slog.String("error", err.Error()))
		return false
	}
	if err := content.MoveContents(s.folders.Live, s.folders.Backup); err != nil {
		s.log.Warn("backing up live content failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// RestoreLive wipes live and brings the pre-override backup back.
func (s *Switcher) RestoreLive() error {
	if err := content.Wipe(s.folders.Live); err != nil {
		return err
	}
	return content.MoveContents(s.folders.Backup, s.folders.Live)
}

// StashPending moves everything in pending, archive included, into the
// pending backup so an override download starts from a clean folder without
// losing the next rotation's progress. Reports whether anything was stashed.
func (s *Switcher) StashPending() bool {
	count, err := countEntries(s.folders.Pending)
	if err != nil || count == 0 {
		return false
	}

	if err := content.EnsureDir(s.folders.PendingBackup); err != nil {
		s.log.Warn("creating pending backup folder failed", slog.String("error", err.Error()))
		return false
	}
	if err := content.Wipe(s.folders.PendingBackup); err != nil {
		s.log.Warn("clearing pending backup folder failed", slog.String("error", err.Error()))
		return false
	}
	if err := content.MoveContents(s.folders.Pending, s.folders.PendingBackup); err != nil {
		s.log.Warn("stashing pending content failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// RestorePending wipes pending and brings the stashed next-rotation content
// back, archive included, so interrupted downloads resume where they were.
func (s *Switcher) RestorePending() error {
	if err := content.Wipe(s.folders.Pending); err != nil {
		return err
	}
	return content.MoveContents(s.folders.PendingBackup, s.folders.Pending)
}

// countEntries counts the regular files in dir, partial downloads and the
// archive included. A missing directory counts as empty.
func countEntries(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n, nil
}

// Resume points the media source at the given paths and leaves the
// compositor on the stream scene, or the pause scene when the upstream
// streamer is live.
func (s *Switcher) Resume(ctx context.Context, paths []string, streamerLive bool) error {
	if len(paths) > 0 {
		if err := s.comp.ConfigureMediaInput(ctx, paths, true, false); err != nil {
			return err
		}
		sleepCtx(ctx, s.MediaSettleDelay)
	}

	scene := s.scenes.Stream
	if streamerLive {
		scene = s.scenes.Pause
	}
	return s.comp.SetScene(ctx, scene)
}
