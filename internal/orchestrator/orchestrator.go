// Package orchestrator runs the control loop that keeps the channel on air.
// A single goroutine owns every mutation: once per tick it drains player
// events, reacts to consumed content, executes dashboard commands, and keeps
// the self-healing machinery moving (reconnect backoff, freeze recovery,
// download fallback, streamer pause). Components shared with other
// goroutines are limited to the thread-safe queues and stores they expose.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jmylchreest/rotarr/internal/catalog"
	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/dashboard"
	"github.com/jmylchreest/rotarr/internal/downloader"
	"github.com/jmylchreest/rotarr/internal/metrics"
	"github.com/jmylchreest/rotarr/internal/models"
	"github.com/jmylchreest/rotarr/internal/monitor"
	"github.com/jmylchreest/rotarr/internal/notify"
	"github.com/jmylchreest/rotarr/internal/obs"
	"github.com/jmylchreest/rotarr/internal/platform"
	"github.com/jmylchreest/rotarr/internal/prepared"
	"github.com/jmylchreest/rotarr/internal/repository"
	"github.com/jmylchreest/rotarr/internal/rotation"
)

// shutdownGrace bounds the cleanup done after the run context ends.
const shutdownGrace = 5 * time.Second

// Compositor is the slice of the compositor client the loop drives
// directly. *obs.Client satisfies it.
type Compositor interface {
	Connected() bool
	Connect(ctx context.Context) error
	Close() error
	CachedScene() string
	SetScene(ctx context.Context, name string) error
	MediaStatus(ctx context.Context) (obs.MediaStatus, error)
	SetMediaCursor(ctx context.Context, cursorMS int64) error
}

// Rotator is the slice of the rotation manager the loop drives.
// *rotation.Manager satisfies it.
type Rotator interface {
	ProcessQueues(ctx context.Context)
	HandleNormalRotation(ctx context.Context) error
	PrepareNextRotation(ctx context.Context) bool
	RefreshTempPlayback(ctx context.Context) error
	ActivateTempPlayback(ctx context.Context) error
	ExitTempPlayback(ctx context.Context) (*rotation.SeekRequest, error)
	StartOverride(ctx context.Context, requested []string) error
	RestoreAfterOverride(ctx context.Context, override *models.RotationSession) (*rotation.SeekRequest, error)
	ExecutePrepared(ctx context.Context, dir string, names []string, exclude ...string) error
	ResumeExistingSession(ctx context.Context) (*rotation.SeekRequest, bool, error)
	SkipVideo(ctx context.Context) error
}

// FreezeChecker polls render health. *obs.FreezeMonitor satisfies it; a nil
// checker disables freeze recovery.
type FreezeChecker interface {
	Tick(ctx context.Context, now time.Time) obs.FreezeState
}

// DownloadWorker is the slice of the download worker the loop polls.
// *downloader.Worker satisfies it.
type DownloadWorker interface {
	Busy() bool
	ActivePlaylists() []string
	ConsecutiveFailures() int
	TryEnqueue(batch downloader.Batch) bool
	Shutdown()
}

// FallbackController keeps the screen alive while downloads fail.
// *rotation.Fallback satisfies it.
type FallbackController interface {
	Active() bool
	Tier() rotation.Tier
	Activate(ctx context.Context)
	Deactivate(ctx context.Context)
	MaybeRetry(ctx context.Context, now time.Time)
}

// Dashboard is the slice of the dashboard server the loop feeds and drains.
// Leave the field nil when the dashboard is disabled; a typed nil would pass
// the nil check and panic on first use.
type Dashboard interface {
	PushSnapshot(snap *dashboard.Snapshot)
	Commands() <-chan dashboard.Command
}

// Deps wires the orchestrator to everything it drives.
type Deps struct {
	Log        *slog.Logger
	Config     config.Config
	Catalog    *catalog.Provider
	Override   *catalog.OverrideStore
	Playlists  repository.PlaylistRepository
	Videos     repository.VideoRepository
	Sessions   repository.SessionRepository
	History    repository.PlaybackLogRepository
	Manager    Rotator
	Monitor    *monitor.Monitor
	Worker     DownloadWorker
	Fallback   FallbackController
	Compositor Compositor
	Freeze     FreezeChecker           // optional
	Streamer   *platform.StreamerWatch // optional
	Prepared   *prepared.Store
	Dashboard  Dashboard // optional
	Notifier   *notify.Notifier
	Scenes     rotation.Scenes
	Folders    rotation.Folders
}

// preparedDownload tracks one in-flight prepared-folder batch. The worker is
// shared with rotation downloads, so completion is inferred from watching
// its active playlist names rather than from an exclusive busy flag.
type preparedDownload struct {
	slug      string
	names     []string
	started   bool
	idleTicks int
}

// Orchestrator is the control loop. Every field is owned by the goroutine
// running Run; nothing here is safe for concurrent use and nothing needs to
// be.
type Orchestrator struct {
	log       *slog.Logger
	cfg       config.Config
	catalog   *catalog.Provider
	override  *catalog.OverrideStore
	playlists repository.PlaylistRepository
	videos    repository.VideoRepository
	sessions  repository.SessionRepository
	history   repository.PlaybackLogRepository
	manager   Rotator
	monitor   *monitor.Monitor
	worker    DownloadWorker
	fallback  FallbackController
	comp      Compositor
	freeze    FreezeChecker
	streamer  *platform.StreamerWatch
	prepared  *prepared.Store
	dash      Dashboard
	notifier  *notify.Notifier
	scenes    rotation.Scenes
	folders   rotation.Folders

	startTime time.Time

	// pendingSeekVideo and pendingSeekMS hold a deferred cursor restore
	// until the player confirms the target file is the one on screen.
	pendingSeekVideo string
	pendingSeekMS    int64

	// manualPause distinguishes an owner pause from a streamer-live pause:
	// the streamer going offline must not resume a stream the owner stopped.
	manualPause    bool
	livePaused     bool
	pausedVideo    string
	pausedCursorMS int64

	wasConnected  bool
	lastFreeze    obs.FreezeState
	lastCursorMS  int64
	lastSnapshot  time.Time
	lastBootstrap time.Time

	prepDownload *preparedDownload
}

// New assembles the orchestrator. Log and Notifier default when nil; the
// fields marked optional in Deps may stay nil and disable their feature.
func New(deps Deps) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewNotifier("", log)
	}
	return &Orchestrator{
		log:          log,
		cfg:          deps.Config,
		catalog:      deps.Catalog,
		override:     deps.Override,
		playlists:    deps.Playlists,
		videos:       deps.Videos,
		sessions:     deps.Sessions,
		history:      deps.History,
		manager:      deps.Manager,
		monitor:      deps.Monitor,
		worker:       deps.Worker,
		fallback:     deps.Fallback,
		comp:         deps.Compositor,
		freeze:       deps.Freeze,
		streamer:     deps.Streamer,
		prepared:     deps.Prepared,
		dash:         deps.Dashboard,
		notifier:     notifier,
		scenes:       deps.Scenes,
		folders:      deps.Folders,
		startTime:    time.Now(),
		wasConnected: true,
		lastFreeze:   obs.FreezeOK,
	}
}

// Run executes crash recovery and then ticks until ctx ends. The error
// return is reserved for bootstrap failures; once the loop is running it
// only stops on shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.bootstrap(ctx); err != nil {
		return err
	}

	interval := o.cfg.Rotation.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.log.Info("orchestrator running", slog.Duration("tick_interval", interval))
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-ticker.C:
			o.safeTick(ctx)
		}
	}
}

// safeTick wraps one tick in panic recovery. A crash in one tick must not
// take the stream down; the next tick starts over from persisted state.
func (o *Orchestrator) safeTick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			o.log.Error("tick panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			o.notifier.Error("Control loop panic", fmt.Sprintf("Recovered: %v", r))
		}
	}()
	metrics.TicksTotal.Inc()
	o.tick(ctx, start)
}

// shutdown ends the current session and tears the stack down in order:
// session first so a restart rotates fresh, then the download worker, then
// the compositor connection. The database handle is closed by the caller
// that opened it.
func (o *Orchestrator) shutdown() {
	o.log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if session, err := o.sessions.Current(ctx); err == nil && session != nil {
		if err := o.sessions.End(ctx, session.ID, time.Now()); err != nil {
			o.log.Error("ending session failed", slog.String("error", err.Error()))
		}
	}

	o.worker.Shutdown()

	if err := o.comp.Close(); err != nil {
		o.log.Warn("closing compositor connection failed", slog.String("error", err.Error()))
	}
	o.log.Info("orchestrator stopped")
}

// setSeek arms a deferred cursor restore. A nil request leaves any armed
// seek in place.
func (o *Orchestrator) setSeek(req *rotation.SeekRequest) {
	if req == nil {
		return
	}
	o.pendingSeekVideo = req.Video
	o.pendingSeekMS = req.CursorMS
}

func (o *Orchestrator) clearSeek() {
	o.pendingSeekVideo = ""
	o.pendingSeekMS = 0
}

// sleepCtx waits for d unless the context ends first, reporting whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
