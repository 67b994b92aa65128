package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jmylchreest/rotarr/internal/content"
	"github.com/jmylchreest/rotarr/internal/metrics"
	"github.com/jmylchreest/rotarr/internal/models"
	"github.com/jmylchreest/rotarr/internal/repository"
)

const (
	// defaultTempPollInterval is how often activation re-checks the pending
	// folder for the first downloaded file.
	defaultTempPollInterval = 2 * time.Second

	// defaultTempPollTimeout bounds the wait for that first file. Past it
	// the caller falls through to the fallback ladder.
	defaultTempPollTimeout = 120 * time.Second
)

// TempPlayback bridges the gap when the live folder runs dry before the next
// rotation has finished downloading: playback moves onto the pending folder
// itself, in place, while the download worker keeps appending files to it.
// Nothing is deleted from pending during the bridge; the eventual exit swaps
// whatever completed into live and rebuilds the session around it.
type TempPlayback struct {
	log      *slog.Logger
	comp     Compositor
	monitor  playbackMonitor
	sessions repository.SessionRepository
	switcher *Switcher
	scenes   Scenes
	folders  Folders

	// PollInterval and PollTimeout govern the activation wait for the first
	// pending file. Tests shrink them.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// ExitResult reports what a temp playback exit handed over to the live
// folder.
type ExitResult struct {
	// Surviving are the next-rotation playlist names that produced at least
	// one completed file before the exit, in their recorded order.
	Surviving []string

	// Seek, when non-nil, resumes the interrupted video once the player
	// confirms it is the one on screen.
	Seek *SeekRequest
}

// NewTempPlayback creates the temp playback handler.
func NewTempPlayback(comp Compositor, mon playbackMonitor, sessions repository.SessionRepository, switcher *Switcher, scenes Scenes, folders Folders, log *slog.Logger) *TempPlayback {
	if log == nil {
		log = slog.Default()
	}
	return &TempPlayback{
		log:          log,
		comp:         comp,
		monitor:      mon,
		sessions:     sessions,
		switcher:     switcher,
		scenes:       scenes,
		folders:      folders,
		PollInterval: defaultTempPollInterval,
		PollTimeout:  defaultTempPollTimeout,
	}
}

// Activate points playback at the pending folder while its downloads are
// still running. The rotation screen covers the wait for the first file;
// if none shows up within PollTimeout the activation fails and the screen
// is left on the rotation scene for the caller to deal with.
func (t *TempPlayback) Activate(ctx context.Context, session *models.RotationSession, streamerLive bool) error {
	if err := t.comp.SetScene(ctx, t.scenes.Rotation); err != nil {
		t.log.Warn("failed to show rotation screen", "error", err)
	}

	paths, err := t.waitForFirstFile(ctx)
	if err != nil {
		return err
	}

	if err := t.monitor.Initialize(t.folders.Pending); err != nil {
		return fmt.Errorf("initializing monitor on pending folder: %w", err)
	}
	t.monitor.SetTempPlayback(true)

	if err := t.switcher.Resume(ctx, paths, streamerLive); err != nil {
		t.monitor.SetTempPlayback(false)
		return fmt.Errorf("starting temp playback: %w", err)
	}

	if err := t.sessions.SaveTempPlayback(ctx, session.ID, session.NextPlaylists, 0, t.folders.Pending, 0); err != nil {
		t.log.Error("failed to persist temp playback state", "error", err)
	}
	metrics.TempPlaybackActive.Set(1)

	t.log.Info("temp playback active",
		"folder", t.folders.Pending,
		"files", len(paths),
		"playlists", session.NextPlaylists)
	return nil
}

// Refresh reloads the media source from the pending folder listing. The
// monitor raises the refresh flag when playback reaches the last known file
// while downloads may still be appending; reloading picks up the new ones.
func (t *TempPlayback) Refresh(ctx context.Context) error {
	paths, err := content.ListVideoPaths(t.folders.Pending)
	if err != nil {
		return fmt.Errorf("listing pending folder: %w", err)
	}
	if len(paths) == 0 {
		return nil
	}
	if err := t.comp.ConfigureMediaInput(ctx, paths, true, false); err != nil {
		return fmt.Errorf("reloading media source: %w", err)
	}
	t.monitor.NoteMediaReconfigured()
	t.monitor.ClearRefresh()
	t.log.Debug("temp playback refreshed", "files", len(paths))
	return nil
}

// Exit ends the bridge once every queued download has finished: the pending
// content is promoted to live and playback resumes from the interrupted
// video. The caller rebuilds the session around the surviving playlists.
func (t *TempPlayback) Exit(ctx context.Context, session *models.RotationSession, streamerLive bool) (*ExitResult, error) {
	captured := t.monitor.CurrentVideo()
	var cursorMS int64
	if st, err := t.comp.MediaStatus(ctx); err == nil {
		cursorMS = st.CursorMS
	} else {
		t.log.Warn("could not capture playback cursor for temp exit", "error", err)
	}

	t.switcher.Stage(ctx)
	t.monitor.SetTempPlayback(false)
	t.monitor.ClearRefresh()

	if err := t.switcher.SwapFolders(); err != nil {
		return nil, fmt.Errorf("promoting pending content: %w", err)
	}

	surviving := matchSurviving(session.NextPlaylists, t.folders.Live)
	if err := content.ApplyOrderPrefixes(t.folders.Live, surviving); err != nil {
		t.log.Warn("failed to apply order prefixes after temp exit", "error", err)
	}

	if err := t.monitor.Initialize(t.folders.Live); err != nil {
		return nil, fmt.Errorf("initializing monitor on live folder: %w", err)
	}

	paths, err := content.ListVideoPaths(t.folders.Live)
	if err != nil {
		return nil, fmt.Errorf("listing live folder: %w", err)
	}
	reordered, found := reorderForResume(paths, captured)
	if found {
		t.monitor.SetCurrentVideo(filepath.Base(reordered[0]))
	}

	if err := t.switcher.Resume(ctx, reordered, streamerLive); err != nil {
		return nil, fmt.Errorf("resuming after temp exit: %w", err)
	}

	if err := t.sessions.ClearTempPlayback(ctx, session.ID); err != nil {
		t.log.Error("failed to clear temp playback state", "error", err)
	}
	metrics.TempPlaybackActive.Set(0)

	res := &ExitResult{Surviving: surviving}
	if found && cursorMS > 0 {
		res.Seek = &SeekRequest{
			Video:    content.StripOrderPrefix(captured),
			CursorMS: cursorMS,
		}
	}
	t.log.Info("temp playback exited",
		"surviving", surviving,
		"resume_video", captured,
		"resume_cursor_ms", cursorMS)
	return res, nil
}

// Restore re-enters an interrupted bridge after a restart. The session row
// carries the folder and the last saved position; the player queue is
// rebuilt with the saved video first so the deferred seek lands on it.
func (t *TempPlayback) Restore(ctx context.Context, session *models.RotationSession, streamerLive bool) (*SeekRequest, error) {
	folder := session.TempPlaybackFolder
	if folder == "" {
		folder = t.folders.Pending
	}

	paths, err := content.ListVideoPaths(folder)
	if err != nil {
		return nil, fmt.Errorf("listing temp playback folder: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("temp playback folder %q is empty", folder)
	}

	if err := t.monitor.Initialize(folder); err != nil {
		return nil, fmt.Errorf("initializing monitor on temp folder: %w", err)
	}
	t.monitor.SetTempPlayback(true)

	saved := session.PlaybackCurrentVideo
	reordered, found := reorderForResume(paths, saved)
	if found {
		t.monitor.SetCurrentVideo(filepath.Base(reordered[0]))
	}

	if err := t.switcher.Resume(ctx, reordered, streamerLive); err != nil {
		return nil, fmt.Errorf("resuming temp playback: %w", err)
	}
	metrics.TempPlaybackActive.Set(1)

	t.log.Info("temp playback restored",
		"folder", folder,
		"files", len(paths),
		"saved_video", saved)

	if found && session.PlaybackCursorMS > 0 {
		return &SeekRequest{Video: content.StripOrderPrefix(saved), CursorMS: session.PlaybackCursorMS}, nil
	}
	return nil, nil
}

// waitForFirstFile polls the pending folder until it holds at least one
// playable file.
func (t *TempPlayback) waitForFirstFile(ctx context.Context) ([]string, error) {
	deadline := time.Now().Add(t.PollTimeout)
	for {
		paths, err := content.ListVideoPaths(t.folders.Pending)
		if err == nil && len(paths) > 0 {
			return paths, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no file appeared in %s within %s", t.folders.Pending, t.PollTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.PollInterval):
		}
	}
}

// matchSurviving returns the subset of names that own at least one file in
// dir, preserving the order of names.
func matchSurviving(names []string, dir string) []string {
	files, err := content.ListVideos(dir)
	if err != nil {
		return nil
	}
	matched := make([]bool, len(names))
	for _, f := range files {
		if i := content.MatchPlaylist(f, names); i >= 0 {
			matched[i] = true
		}
	}
	out := make([]string, 0, len(names))
	for i, name := range names {
		if matched[i] {
			out = append(out, name)
		}
	}
	return out
}
