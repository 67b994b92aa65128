// Package rotation drives the content lifecycle of the stream: selecting
// playlists, staging their downloads, swapping folders on screen, bridging
// gaps with temp playback and covering outages with the fallback ladder.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/rotarr/internal/catalog"
	"github.com/jmylchreest/rotarr/internal/content"
	"github.com/jmylchreest/rotarr/internal/downloader"
	"github.com/jmylchreest/rotarr/internal/metrics"
	"github.com/jmylchreest/rotarr/internal/models"
	"github.com/jmylchreest/rotarr/internal/monitor"
	"github.com/jmylchreest/rotarr/internal/notify"
	"github.com/jmylchreest/rotarr/internal/obs"
	"github.com/jmylchreest/rotarr/internal/platform"
	"github.com/jmylchreest/rotarr/internal/repository"
)

var (
	// ErrTempPlaybackActive refuses operations that would wipe the folder
	// currently on screen.
	ErrTempPlaybackActive = errors.New("temp playback is active")

	// ErrNoPlaylists means selection produced nothing to rotate.
	ErrNoPlaylists = errors.New("no playlists available for rotation")

	// ErrDownloadsBusy refuses to stack a rotation on top of a running
	// download batch.
	ErrDownloadsBusy = errors.New("download worker is busy")
)

// Compositor is the slice of the compositor client the rotation flow
// drives. *obs.Client satisfies it.
type Compositor interface {
	Connected() bool
	SetScene(ctx context.Context, name string) error
	ConfigureMediaInput(ctx context.Context, paths []string, loop, shuffle bool) error
	ClearMediaInput(ctx context.Context) error
	MediaStatus(ctx context.Context) (obs.MediaStatus, error)
	SetMediaCursor(ctx context.Context, cursorMS int64) error
	SetSourceVisible(ctx context.Context, scene, source string, visible bool) error
	SkipMedia(ctx context.Context) error
}

// playbackMonitor is the slice of the playback monitor the rotation flow
// mutates. *monitor.Monitor satisfies it.
type playbackMonitor interface {
	Initialize(folder string) error
	CurrentVideo() string
	SetCurrentVideo(name string)
	TempPlayback() bool
	SetTempPlayback(on bool)
	SetDeleteOnTransition(on bool)
	NoteMediaReconfigured()
	ClearRefresh()
}

// Scenes names the compositor scenes the rotation flow switches between.
type Scenes struct {
	// Stream holds the media source.
	Stream string
	// Pause covers the stream while the watched streamer is live.
	Pause string
	// Rotation covers content switches.
	Rotation string
	// Alert is the source made visible while fallback is active. Empty
	// disables the overlay.
	Alert string
}

// Folders is the content folder layout.
type Folders struct {
	// Live is the folder on screen.
	Live string
	// Pending stages the next rotation's downloads.
	Pending string
	// Fallback holds evergreen emergency content.
	Fallback string
	// Backup preserves live content displaced by an override.
	Backup string
	// PendingBackup preserves staged downloads displaced by an override.
	PendingBackup string
}

// SeekRequest is a deferred cursor restore, applied only once the player
// confirms it is playing the named file.
type SeekRequest struct {
	// Video is the unprefixed filename the cursor belongs to.
	Video string
	// CursorMS is the position to seek to.
	CursorMS int64
}

// ManagerDeps wires the rotation manager's collaborators.
type ManagerDeps struct {
	Log        *slog.Logger
	Catalog    *catalog.Provider
	Playlists  repository.PlaylistRepository
	Videos     repository.VideoRepository
	Sessions   repository.SessionRepository
	Worker     *downloader.Worker
	Compositor Compositor
	Monitor    *monitor.Monitor
	Platforms  *platform.Manager
	Notifier   *notify.Notifier
	Scenes     Scenes
	Folders    Folders

	// StreamerLive reports upstream liveness at switch time, so a rotation
	// that lands during a live window resumes on the pause scene.
	StreamerLive func() bool
}

// Manager owns the rotation lifecycle end to end: playlist selection,
// staging downloads, the on-screen folder swap, temp playback bridging and
// manual overrides. Methods are not safe for concurrent use; the
// orchestrator serializes every caller, dashboard commands included.
type Manager struct {
	log       *slog.Logger
	catalog   *catalog.Provider
	playlists repository.PlaylistRepository
	videos    repository.VideoRepository
	sessions  repository.SessionRepository
	worker    *downloader.Worker
	comp      Compositor
	monitor   playbackMonitor
	platforms *platform.Manager
	notifier  *notify.Notifier
	switcher  *Switcher
	temp      *TempPlayback
	scenes    Scenes
	folders   Folders

	streamerLive func() bool

	// nextPrepared holds pre-staged playlist names consumed by the next
	// StartSession call instead of a download.
	nextPrepared []string

	// DownloadPoll is how often a synchronous download wait re-checks the
	// worker. Tests shrink it.
	DownloadPoll time.Duration
}

// NewManager creates the rotation manager and its folder switcher and temp
// playback handler.
func NewManager(deps ManagerDeps) *Manager {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewNotifier("", log)
	}
	switcher := NewSwitcher(deps.Compositor, deps.Scenes, deps.Folders, log)
	m := &Manager{
		log:          log,
		catalog:      deps.Catalog,
		playlists:    deps.Playlists,
		videos:       deps.Videos,
		sessions:     deps.Sessions,
		worker:       deps.Worker,
		comp:         deps.Compositor,
		monitor:      deps.Monitor,
		platforms:    deps.Platforms,
		notifier:     deps.Notifier,
		switcher:     switcher,
		scenes:       deps.Scenes,
		folders:      deps.Folders,
		streamerLive: deps.StreamerLive,
		DownloadPoll: time.Second,
	}
	m.temp = NewTempPlayback(deps.Compositor, deps.Monitor, deps.Sessions, switcher, deps.Scenes, deps.Folders, log)
	return m
}

// Switcher exposes the folder switcher for callers that stage content
// outside a full rotation.
func (m *Manager) Switcher() *Switcher { return m.switcher }

// TempPlaybackHandler exposes the bridge handler, mainly so tests and the
// orchestrator can tune its polling.
func (m *Manager) TempPlaybackHandler() *TempPlayback { return m.temp }

// ProcessQueues drains the download worker's hand-off queues into the
// store: playlists whose download just started get their PENDING status,
// finished files are registered, and completed playlists are marked
// COMPLETED only after their registrations landed.
func (m *Manager) ProcessQueues(ctx context.Context) {
	for _, name := range m.worker.ToInitialize.Take() {
		m.setNextStatus(ctx, name, models.NextStatusPending)
	}

	for _, reg := range m.worker.Registrations.Drain(0) {
		m.registerVideo(ctx, reg)
	}
	metrics.RegistrationQueueDepth.Set(float64(m.worker.Registrations.Len()))

	for _, name := range m.worker.ToComplete.Take() {
		m.setNextStatus(ctx, name, models.NextStatusCompleted)
	}
}

// StartSession selects the playlists for a new rotation, makes sure their
// content is staged in the pending folder and records the session row. A
// non-empty requested list forces the selection. The on-screen switch is a
// separate step so callers control the timing.
func (m *Manager) StartSession(ctx context.Context, requested []string) (*models.RotationSession, error) {
	settings := m.catalog.Settings()
	current, err := m.sessions.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading current session: %w", err)
	}

	var names []string
	prestaged := false

	switch {
	case len(requested) > 0:
		// A forced selection supersedes whatever was staged before.
		if err := m.discardStaged(ctx, current); err != nil {
			return nil, err
		}
		enabled, err := m.playlists.GetEnabled(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading enabled playlists: %w", err)
		}
		names = playlistNames(SelectManual(enabled, requested, nil))
	case len(m.nextPrepared) > 0:
		names = m.nextPrepared
		m.nextPrepared = nil
		prestaged = true
	default:
		enabled, err := m.playlists.GetEnabled(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading enabled playlists: %w", err)
		}
		names = playlistNames(Select(enabled, ExcludeCompleted(current),
			settings.MinPlaylistsPerRotation, settings.MaxPlaylistsPerRotation))
	}
	if len(names) == 0 {
		return nil, ErrNoPlaylists
	}

	if !prestaged {
		if err := m.downloadAndWait(ctx, names, settings); err != nil {
			return nil, err
		}
	}
	m.ProcessQueues(ctx)

	if n, err := content.CountVideos(m.folders.Pending); err != nil || n == 0 {
		return nil, fmt.Errorf("nothing staged for rotation %v", names)
	}

	return m.createSession(ctx, names, settings.StreamTitleTemplate)
}

// ExecuteContentSwitch swaps the staged pending content on screen for the
// given session. Refused while temp playback is active because the pending
// folder is the one playing.
func (m *Manager) ExecuteContentSwitch(ctx context.Context, session *models.RotationSession) error {
	if m.monitor.TempPlayback() {
		return ErrTempPlaybackActive
	}
	if _, err := m.stageAndGoLive(ctx, session, false); err != nil {
		return err
	}
	m.notifier.Success("Rotation started", session.StreamTitle,
		notify.Field{Name: "Playlists", Value: strings.Join(session.CurrentPlaylists, ", ")})
	return nil
}

// HandleNormalRotation runs a full rotation: consume the staged next
// content when it completed, otherwise select and download fresh, then
// switch.
func (m *Manager) HandleNormalRotation(ctx context.Context) error {
	current, err := m.sessions.Current(ctx)
	if err != nil {
		return fmt.Errorf("loading current session: %w", err)
	}
	if current != nil && current.AllNextCompleted() && len(m.nextPrepared) == 0 {
		if m.stagedComplete(ctx, current.NextPlaylists) {
			m.nextPrepared = append([]string(nil), current.NextPlaylists...)
		} else {
			// A crash mid-batch or deleted files can leave a partial set
			// behind a COMPLETED status. Playing it would silently shorten
			// the rotation; discard and download fresh instead.
			m.log.Warn("staged next content is missing files, downloading fresh",
				"playlists", current.NextPlaylists)
			if err := m.discardStaged(ctx, current); err != nil {
				return err
			}
		}
	}
	session, err := m.StartSession(ctx, nil)
	if err != nil {
		return err
	}
	return m.ExecuteContentSwitch(ctx, session)
}

// PrepareNextRotation kicks a background download of the next rotation's
// content and records the selection on the current session. Reports whether
// a batch was enqueued.
func (m *Manager) PrepareNextRotation(ctx context.Context) bool {
	session, err := m.sessions.Current(ctx)
	if err != nil || session == nil {
		return false
	}
	if session.HasNextPlaylists() || len(m.nextPrepared) > 0 || m.worker.Busy() {
		return false
	}

	settings := m.catalog.Settings()
	enabled, err := m.playlists.GetEnabled(ctx)
	if err != nil {
		m.log.Error("failed to load playlists for next rotation", "error", err)
		return false
	}
	names := playlistNames(Select(enabled, ExcludeCompleted(session),
		settings.MinPlaylistsPerRotation, settings.MaxPlaylistsPerRotation))
	if len(names) == 0 {
		return false
	}

	batch, err := m.buildBatch(ctx, names, settings)
	if err != nil {
		m.log.Error("failed to build next rotation batch", "error", err)
		return false
	}
	if !m.worker.TryEnqueue(batch) {
		return false
	}
	if err := m.sessions.SetNextPlaylists(ctx, session.ID, names); err != nil {
		m.log.Error("failed to record next playlists", "error", err)
	}
	m.log.Info("preparing next rotation", "playlists", names)
	return true
}

// RetryFailedDownloads re-enqueues the unfinished next-rotation downloads,
// or starts a fresh preparation when none are recorded. The fallback
// controller calls this on its retry cadence. Reports whether work was
// enqueued.
func (m *Manager) RetryFailedDownloads(ctx context.Context) bool {
	if m.worker.Busy() {
		return false
	}
	session, err := m.sessions.Current(ctx)
	if err != nil || session == nil {
		return false
	}
	pending := session.PendingNext()
	if len(pending) == 0 {
		return m.PrepareNextRotation(ctx)
	}
	batch, err := m.buildBatch(ctx, pending, m.catalog.Settings())
	if err != nil {
		return false
	}
	if !m.worker.TryEnqueue(batch) {
		return false
	}
	m.log.Info("retrying unfinished downloads", "playlists", pending)
	return true
}

// StartOverride replaces the on-screen rotation with an owner-selected one.
// The displaced live content and any staged next-rotation downloads are
// stashed aside and restored when the override's content is consumed.
func (m *Manager) StartOverride(ctx context.Context, requested []string) error {
	if m.monitor.TempPlayback() {
		return ErrTempPlaybackActive
	}
	if m.worker.Busy() {
		return ErrDownloadsBusy
	}
	if len(requested) == 0 {
		return ErrNoPlaylists
	}

	current, err := m.sessions.Current(ctx)
	if err != nil {
		return fmt.Errorf("loading current session: %w", err)
	}
	if current != nil && current.OverrideActive {
		return errors.New("an override rotation is already active")
	}

	enabled, err := m.playlists.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading enabled playlists: %w", err)
	}
	names := playlistNames(SelectManual(enabled, requested, nil))
	if len(names) == 0 {
		return fmt.Errorf("no enabled playlists match %v", requested)
	}

	stashed := m.switcher.StashPending()
	m.nextPrepared = nil

	settings := m.catalog.Settings()
	if err := m.downloadAndWait(ctx, names, settings); err != nil {
		m.undoStash(stashed)
		return err
	}
	m.ProcessQueues(ctx)
	if n, err := content.CountVideos(m.folders.Pending); err != nil || n == 0 {
		m.undoStash(stashed)
		return errors.New("override download produced no videos")
	}

	session, err := m.createSession(ctx, names, settings.StreamTitleTemplate)
	if err != nil {
		m.undoStash(stashed)
		return err
	}

	backupSaved, err := m.stageAndGoLive(ctx, session, true)
	if err != nil {
		return err
	}
	if err := m.sessions.SetOverrideState(ctx, session.ID, true, backupSaved); err != nil {
		m.log.Error("failed to record override state", "error", err)
	}
	session.OverrideActive = true
	session.OverrideBackupSaved = backupSaved

	m.notifier.Success("Override rotation live", session.StreamTitle,
		notify.Field{Name: "Playlists", Value: strings.Join(names, ", ")})
	return nil
}

// RestoreAfterOverride puts the rotation the override displaced back on
// screen once the override's content is consumed. Falls back to a fresh
// rotation when nothing restorable remains. A non-nil seek resumes the
// displaced rotation where it was interrupted.
func (m *Manager) RestoreAfterOverride(ctx context.Context, override *models.RotationSession) (*SeekRequest, error) {
	prev := m.previousNormalSession(ctx, override)

	m.switcher.Stage(ctx)

	restored := false
	if override.OverrideBackupSaved {
		if err := m.switcher.RestoreLive(); err != nil {
			m.log.Error("failed to restore backed-up live content", "error", err)
		} else if n, _ := content.CountVideos(m.folders.Live); n > 0 {
			restored = true
		}
	}
	if err := m.switcher.RestorePending(); err != nil {
		m.log.Warn("failed to restore stashed pending content", "error", err)
	}

	if !restored || prev == nil {
		m.log.Warn("no restorable rotation behind the override; rotating fresh")
		return nil, m.HandleNormalRotation(ctx)
	}

	session := &models.RotationSession{
		PlaylistsSelected:    prev.PlaylistsSelected,
		CurrentPlaylists:     prev.CurrentPlaylists,
		StreamTitle:          prev.StreamTitle,
		TotalDurationSeconds: prev.TotalDurationSeconds,
	}
	session.SetNextPlaylists(prev.NextPlaylists)
	for name, status := range prev.NextPlaylistsStatus {
		session.SetNextStatus(name, status)
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("recreating restored session: %w", err)
	}

	if err := m.monitor.Initialize(m.folders.Live); err != nil {
		return nil, fmt.Errorf("initializing monitor on restored content: %w", err)
	}
	paths, err := content.ListVideoPaths(m.folders.Live)
	if err != nil {
		return nil, fmt.Errorf("listing restored live folder: %w", err)
	}
	reordered, found := reorderForResume(paths, prev.PlaybackCurrentVideo)
	if found {
		m.monitor.SetCurrentVideo(filepath.Base(reordered[0]))
	}
	if err := m.switcher.Resume(ctx, reordered, m.isStreamerLive()); err != nil {
		m.log.Warn("failed to resume restored content", "error", err)
	}
	m.publishStreamInfo(ctx, session.StreamTitle, session.CurrentPlaylists)
	m.notifier.Success("Override finished", "Restored the previous rotation.")

	if found && prev.PlaybackCursorMS > 0 {
		return &SeekRequest{
			Video:    content.StripOrderPrefix(prev.PlaybackCurrentVideo),
			CursorMS: prev.PlaybackCursorMS,
		}, nil
	}
	return nil, nil
}

// ExecutePrepared rotates to content staged ahead of time in dir. The files
// are copied into pending, excluding the given names, so the source folder
// stays reusable; deletion on transition is disabled for the same reason.
func (m *Manager) ExecutePrepared(ctx context.Context, dir string, names []string, exclude ...string) error {
	if m.monitor.TempPlayback() {
		return ErrTempPlaybackActive
	}
	current, err := m.sessions.Current(ctx)
	if err != nil {
		return fmt.Errorf("loading current session: %w", err)
	}
	if err := m.discardStaged(ctx, current); err != nil {
		return err
	}
	if err := content.CopyContents(dir, m.folders.Pending, exclude...); err != nil {
		return fmt.Errorf("staging prepared content: %w", err)
	}
	m.nextPrepared = append([]string(nil), names...)

	session, err := m.StartSession(ctx, nil)
	if err != nil {
		return err
	}
	if err := m.ExecuteContentSwitch(ctx, session); err != nil {
		return err
	}
	m.monitor.SetDeleteOnTransition(false)
	return nil
}

// ResumeExistingSession reattaches playback to the session a restart left
// behind. It reports whether a session was resumed; a nil seek means no
// deferred cursor restore is owed.
func (m *Manager) ResumeExistingSession(ctx context.Context) (*SeekRequest, bool, error) {
	session, err := m.sessions.Current(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("loading current session: %w", err)
	}
	if session == nil {
		return nil, false, nil
	}

	if session.TempPlaybackActive {
		seek, err := m.temp.Restore(ctx, session, m.isStreamerLive())
		if err != nil {
			m.log.Warn("temp playback restore failed, rotating fresh", "error", err)
			if err := m.sessions.ClearTempPlayback(ctx, session.ID); err != nil {
				m.log.Error("failed to clear temp playback state", "error", err)
			}
			return nil, false, nil
		}
		m.resumePendingDownloads(ctx, session)
		return seek, true, nil
	}

	m.resumePendingDownloads(ctx, session)

	if err := m.monitor.Initialize(m.folders.Live); err != nil {
		return nil, false, fmt.Errorf("initializing monitor: %w", err)
	}
	paths, err := content.ListVideoPaths(m.folders.Live)
	if err != nil {
		return nil, true, fmt.Errorf("listing live folder: %w", err)
	}
	if len(paths) == 0 {
		// Exhausted mid-restart; the first tick rotates.
		return nil, true, nil
	}
	if err := m.switcher.Resume(ctx, paths, m.isStreamerLive()); err != nil {
		m.log.Warn("failed to resume playback", "error", err)
	}

	saved := session.PlaybackCurrentVideo
	if saved != "" && session.PlaybackCursorMS > 0 &&
		content.StripOrderPrefix(filepath.Base(paths[0])) == content.StripOrderPrefix(saved) {
		return &SeekRequest{
			Video:    content.StripOrderPrefix(saved),
			CursorMS: session.PlaybackCursorMS,
		}, true, nil
	}
	return nil, true, nil
}

// ActivateTempPlayback starts the pending-folder bridge for the current
// session.
func (m *Manager) ActivateTempPlayback(ctx context.Context) error {
	session, err := m.sessions.Current(ctx)
	if err != nil || session == nil {
		return errors.New("no current session for temp playback")
	}
	if err := m.temp.Activate(ctx, session, m.isStreamerLive()); err != nil {
		return err
	}

	// The bridge is already showing the next rotation's content, so the
	// published stream info follows it now rather than at the exit.
	title := TruncateTitle(BuildTitle(m.catalog.Settings().StreamTitleTemplate, session.NextPlaylists), maxTitleLength)
	m.publishStreamInfo(ctx, title, session.NextPlaylists)
	if err := m.sessions.UpdateStreamTitle(ctx, session.ID, title); err != nil {
		m.log.Error("failed to update stream title", "error", err)
	}
	return nil
}

// RefreshTempPlayback reloads the bridged source after new files landed.
func (m *Manager) RefreshTempPlayback(ctx context.Context) error {
	return m.temp.Refresh(ctx)
}

// ExitTempPlayback ends the bridge and rebuilds the session around the
// playlists that completed during it.
func (m *Manager) ExitTempPlayback(ctx context.Context) (*SeekRequest, error) {
	session, err := m.sessions.Current(ctx)
	if err != nil || session == nil {
		return nil, errors.New("no current session for temp playback exit")
	}
	res, err := m.temp.Exit(ctx, session, m.isStreamerLive())
	if err != nil {
		return nil, err
	}
	if len(res.Surviving) == 0 {
		// Nothing completed during the bridge; the next tick rotates fresh.
		if err := m.sessions.ClearNextPlaylists(ctx, session.ID); err != nil {
			m.log.Error("failed to clear next playlists", "error", err)
		}
		return nil, nil
	}

	settings := m.catalog.Settings()
	newSession, err := m.createSession(ctx, res.Surviving, settings.StreamTitleTemplate)
	if err != nil {
		return nil, err
	}
	m.publishStreamInfo(ctx, newSession.StreamTitle, newSession.CurrentPlaylists)
	if err := m.playlists.MarkPlayed(ctx, res.Surviving, time.Now()); err != nil {
		m.log.Error("failed to mark playlists played", "error", err)
	}
	metrics.RotationsTotal.Inc()

	// The bridge consumed the downloads meant for the next rotation; start
	// preparing a fresh one right away.
	m.PrepareNextRotation(ctx)
	return res.Seek, nil
}

// SkipVideo advances the player to the next file in its queue.
func (m *Manager) SkipVideo(ctx context.Context) error {
	return m.comp.SkipMedia(ctx)
}

// PublishStreamInfo pushes the given title to every configured platform,
// resolving the category from the named playlists.
func (m *Manager) PublishStreamInfo(ctx context.Context, title string, names []string) {
	m.publishStreamInfo(ctx, title, names)
}

// stageAndGoLive runs the swap choreography that brings the session's
// staged content on screen, optionally preserving the displaced live
// content in the backup folder first.
func (m *Manager) stageAndGoLive(ctx context.Context, session *models.RotationSession, backupLive bool) (bool, error) {
	m.switcher.Stage(ctx)

	backupSaved := false
	if backupLive {
		backupSaved = m.switcher.BackupLive()
	}
	if err := m.switcher.SwapFolders(); err != nil {
		return backupSaved, fmt.Errorf("swapping content folders: %w", err)
	}
	// Late registrations are flushed before prefixing so every staged file
	// has its database row when playback starts.
	m.ProcessQueues(ctx)

	names := session.CurrentPlaylists
	if err := content.ApplyOrderPrefixes(m.folders.Live, names); err != nil {
		m.log.Warn("failed to apply order prefixes", "error", err)
	}
	if err := m.monitor.Initialize(m.folders.Live); err != nil {
		return backupSaved, fmt.Errorf("initializing playback monitor: %w", err)
	}
	// A preceding prepared rotation may have turned deletion off.
	m.monitor.SetDeleteOnTransition(true)
	paths, err := content.ListVideoPaths(m.folders.Live)
	if err != nil {
		return backupSaved, fmt.Errorf("listing live folder: %w", err)
	}
	if err := m.switcher.Resume(ctx, paths, m.isStreamerLive()); err != nil {
		m.log.Warn("failed to resume playback", "error", err)
	}

	m.publishStreamInfo(ctx, session.StreamTitle, names)
	if err := m.playlists.MarkPlayed(ctx, names, time.Now()); err != nil {
		m.log.Error("failed to mark playlists played", "error", err)
	}
	metrics.RotationsTotal.Inc()
	m.log.Info("rotation on screen", "playlists", names, "title", session.StreamTitle)
	return backupSaved, nil
}

// downloadAndWait stages the named playlists into pending and blocks until
// the worker drains the batch. Rotation starts are deliberately synchronous;
// only next-rotation preparation runs in the background.
func (m *Manager) downloadAndWait(ctx context.Context, names []string, settings catalog.Settings) error {
	batch, err := m.buildBatch(ctx, names, settings)
	if err != nil {
		return err
	}
	if !m.worker.TryEnqueue(batch) {
		return ErrDownloadsBusy
	}

	poll := m.DownloadPoll
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Keep next statuses fresh while waiting.
			m.ProcessQueues(ctx)
			if !m.worker.Busy() {
				return nil
			}
		}
	}
}

func (m *Manager) buildBatch(ctx context.Context, names []string, settings catalog.Settings) (downloader.Batch, error) {
	jobs := make([]downloader.PlaylistJob, 0, len(names))
	for _, name := range names {
		p, err := m.playlists.GetByName(ctx, name)
		if err != nil {
			m.log.Warn("skipping unknown playlist", "playlist", name)
			continue
		}
		jobs = append(jobs, downloader.PlaylistJob{Name: p.Name, URL: p.URL})
	}
	if len(jobs) == 0 {
		return downloader.Batch{}, fmt.Errorf("no downloadable playlists among %v", names)
	}
	return downloader.Batch{
		Playlists:  jobs,
		TargetDir:  m.folders.Pending,
		Retries:    settings.DownloadRetryAttempts,
		UseCookies: settings.YtDlpUseCookies,
		Browser:    settings.YtDlpBrowserForCookies,
		Verbose:    settings.YtDlpVerbose,
	}, nil
}

func (m *Manager) createSession(ctx context.Context, names []string, template string) (*models.RotationSession, error) {
	picked, err := m.playlists.GetByNames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("loading selected playlists: %w", err)
	}
	ids := make(models.StringList, 0, len(picked))
	for _, p := range picked {
		ids = append(ids, p.ID.String())
	}
	duration, err := m.videos.TotalDurationByPlaylists(ctx, names)
	if err != nil {
		m.log.Warn("could not total rotation duration", "error", err)
	}
	title := TruncateTitle(BuildTitle(template, names), maxTitleLength)

	session := &models.RotationSession{
		PlaylistsSelected:    ids,
		CurrentPlaylists:     names,
		StreamTitle:          title,
		TotalDurationSeconds: duration,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return session, nil
}

// stagedComplete reports whether the pending folder really holds every file
// the store registered for the named playlists. The COMPLETED status alone is
// not trusted: files can vanish between the download and the rotation.
func (m *Manager) stagedComplete(ctx context.Context, names []string) bool {
	expected, err := m.videos.FilenamesByPlaylistNames(ctx, names)
	if err != nil || len(expected) == 0 {
		return false
	}
	files, err := content.ListVideos(m.folders.Pending)
	if err != nil {
		return false
	}
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[content.StripOrderPrefix(f)] = true
	}
	for _, name := range expected {
		if !present[name] {
			return false
		}
	}
	return true
}

// discardStaged wipes staged next-rotation content when a forced selection
// supersedes it.
func (m *Manager) discardStaged(ctx context.Context, current *models.RotationSession) error {
	if m.worker.Busy() {
		return ErrDownloadsBusy
	}
	m.nextPrepared = nil
	if err := content.Wipe(m.folders.Pending); err != nil {
		return fmt.Errorf("clearing pending folder: %w", err)
	}
	if current != nil && current.HasNextPlaylists() {
		if err := m.sessions.ClearNextPlaylists(ctx, current.ID); err != nil {
			m.log.Error("failed to clear next playlists", "error", err)
		}
	}
	return nil
}

func (m *Manager) undoStash(stashed bool) {
	if !stashed {
		return
	}
	if err := m.switcher.RestorePending(); err != nil {
		m.log.Error("failed to restore stashed pending content", "error", err)
	}
}

// resumePendingDownloads re-enqueues next playlists whose downloads never
// finished. The download archive makes this idempotent; finished files are
// skipped by the tool.
func (m *Manager) resumePendingDownloads(ctx context.Context, session *models.RotationSession) {
	pending := session.PendingNext()
	if len(pending) == 0 || m.worker.Busy() {
		return
	}
	batch, err := m.buildBatch(ctx, pending, m.catalog.Settings())
	if err != nil {
		return
	}
	if m.worker.TryEnqueue(batch) {
		m.log.Info("resuming interrupted downloads", "playlists", pending)
	}
}

func (m *Manager) setNextStatus(ctx context.Context, name string, status models.NextStatus) {
	session, err := m.sessions.Current(ctx)
	if err != nil || session == nil {
		return
	}
	if !containsFold(session.NextPlaylists, name) {
		return
	}
	if err := m.sessions.UpdateNextPlaylistStatus(ctx, session.ID, name, status); err != nil {
		m.log.Error("failed to update next playlist status",
			"playlist", name, "status", status, "error", err)
	}
}

func (m *Manager) registerVideo(ctx context.Context, reg downloader.VideoRegistration) {
	playlist, err := m.playlists.GetByName(ctx, reg.PlaylistName)
	if err != nil {
		m.log.Warn("downloaded file belongs to no known playlist",
			"playlist", reg.PlaylistName, "file", reg.Filename)
		return
	}
	video := &models.Video{
		PlaylistID:      playlist.ID,
		PlaylistName:    playlist.Name,
		Filename:        reg.Filename,
		Title:           reg.Title,
		DurationSeconds: reg.DurationSeconds,
		FileSizeMB:      reg.FileSizeMB,
	}
	created, err := m.videos.Register(ctx, video)
	if err != nil {
		m.log.Error("failed to register video", "file", reg.Filename, "error", err)
		return
	}
	if created {
		metrics.VideosRegisteredTotal.Inc()
	}
}

// publishStreamInfo pushes the title to every configured platform, with the
// category resolved per platform from the playlist that owns the first
// playing video.
func (m *Manager) publishStreamInfo(ctx context.Context, title string, names []string) {
	if m.platforms == nil {
		return
	}
	source := m.categorySource(ctx, names)
	resolver := func(adapter string) string {
		if source == nil {
			return ""
		}
		return source.CategoryFor(models.Platform(adapter))
	}
	m.platforms.UpdateStreamInfoFor(ctx, title, resolver)
}

// categorySource picks the playlist whose category labels the stream: the
// owner of the first playing video when it can be matched, else the first
// selected playlist.
func (m *Manager) categorySource(ctx context.Context, names []string) *models.Playlist {
	if len(names) == 0 {
		return nil
	}
	name := names[0]
	if first := m.monitor.CurrentVideo(); first != "" {
		if i := content.MatchPlaylist(first, names); i >= 0 {
			name = names[i]
		}
	}
	p, err := m.playlists.GetByName(ctx, name)
	if err != nil {
		return nil
	}
	return p
}

func (m *Manager) previousNormalSession(ctx context.Context, override *models.RotationSession) *models.RotationSession {
	recent, err := m.sessions.Recent(ctx, 10)
	if err != nil {
		return nil
	}
	for _, s := range recent {
		if s.ID == override.ID || s.OverrideActive {
			continue
		}
		return s
	}
	return nil
}

func (m *Manager) isStreamerLive() bool {
	if m.streamerLive == nil {
		return false
	}
	return m.streamerLive()
}

// reorderForResume moves the saved video to the front of paths so a
// deferred seek lands on the file the player starts with. Reports whether
// the video was found.
func reorderForResume(paths []string, savedVideo string) ([]string, bool) {
	if savedVideo == "" {
		return paths, false
	}
	want := content.StripOrderPrefix(filepath.Base(savedVideo))
	for i, p := range paths {
		if content.StripOrderPrefix(filepath.Base(p)) != want {
			continue
		}
		if i == 0 {
			return paths, true
		}
		out := make([]string, 0, len(paths))
		out = append(out, p)
		out = append(out, paths[:i]...)
		out = append(out, paths[i+1:]...)
		return out, true
	}
	return paths, false
}

func playlistNames(playlists []*models.Playlist) []string {
	names := make([]string, 0, len(playlists))
	for _, p := range playlists {
		names = append(names, p.Name)
	}
	return names
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
