package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/rotarr/internal/content"
	"github.com/jmylchreest/rotarr/internal/metrics"
	"github.com/jmylchreest/rotarr/internal/notify"
)

// Tier identifies the active fallback mode.
type Tier int

const (
	// TierNone means normal playback.
	TierNone Tier = iota
	// TierFallbackFolder loops the emergency fallback folder.
	TierFallbackFolder
	// TierLoopRemaining loops whatever is left in the live folder.
	TierLoopRemaining
	// TierPauseScreen shows the pause scene because nothing is playable.
	TierPauseScreen
)

// String returns the tier label used in logs and metrics.
func (t Tier) String() string {
	switch t {
	case TierFallbackFolder:
		return "fallback_folder"
	case TierLoopRemaining:
		return "loop_remaining"
	case TierPauseScreen:
		return "pause_screen"
	default:
		return "none"
	}
}

// RetryFunc kicks a fresh download of the failed content. It reports
// whether a retry was actually started.
type RetryFunc func(ctx context.Context) bool

// Fallback keeps something on screen when downloads fail repeatedly. The
// tier is chosen once at activation from what the installation can serve;
// while active a fresh download is attempted on a fixed cadence and the
// first success restores normal playback.
type Fallback struct {
	log      *slog.Logger
	comp     Compositor
	monitor  playbackMonitor
	notifier *notify.Notifier
	scenes   Scenes
	folders  Folders

	retryInterval time.Duration
	retry         RetryFunc

	// ExtraSource, when set, names an additional directory that can serve
	// the fallback-folder tier if the configured one is empty. Prepared
	// rotations flagged as fallback content plug in here.
	ExtraSource func() string

	tier      Tier
	lastRetry time.Time
}

// NewFallback creates the fallback controller. retry is invoked on the
// retry cadence while a tier is active.
func NewFallback(comp Compositor, mon playbackMonitor, notifier *notify.Notifier, scenes Scenes, folders Folders, retryInterval time.Duration, retry RetryFunc, log *slog.Logger) *Fallback {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewNotifier("", log)
	}
	if retryInterval <= 0 {
		retryInterval = 5 * time.Minute
	}
	return &Fallback{
		log:           log,
		comp:          comp,
		monitor:       mon,
		notifier:      notifier,
		scenes:        scenes,
		folders:       folders,
		retryInterval: retryInterval,
		retry:         retry,
	}
}

// Active reports whether a fallback tier is on screen.
func (f *Fallback) Active() bool {
	return f.tier != TierNone
}

// Tier returns the active tier.
func (f *Fallback) Tier() Tier {
	return f.tier
}

// Activate picks and enters a tier. Calling it while already active is a
// no-op, so repeated failure reports do not restart the choreography.
func (f *Fallback) Activate(ctx context.Context) {
	if f.Active() {
		return
	}

	tier, dir := f.chooseTier()
	switch tier {
	case TierFallbackFolder:
		paths, err := content.ListVideoPaths(dir)
		if err != nil || len(paths) == 0 {
			tier = TierPauseScreen
			break
		}
		if err := f.comp.ConfigureMediaInput(ctx, paths, true, false); err != nil {
			f.log.Warn("pointing media input at fallback folder failed", slog.String("error", err.Error()))
		}
		// The monitor's cursor must walk the folder that is actually
		// playing; re-initialising also absorbs the reconfigure's spurious
		// "started".
		if err := f.monitor.Initialize(dir); err != nil {
			f.log.Warn("re-pointing monitor at fallback folder failed", slog.String("error", err.Error()))
		}
		f.monitor.SetDeleteOnTransition(false)

	case TierLoopRemaining:
		// The input keeps playing live; disabling deletion makes it loop.
		f.monitor.SetDeleteOnTransition(false)
	}

	if tier == TierPauseScreen {
		if err := f.comp.SetScene(ctx, f.scenes.Pause); err != nil {
			f.log.Warn("switching to pause scene failed", slog.String("error", err.Error()))
		}
	}

	f.tier = tier
	f.lastRetry = time.Now()
	f.setAlert(ctx, true)

	metrics.FallbackTier.Set(float64(tier))
	metrics.FallbackActivationsTotal.WithLabelValues(tier.String()).Inc()
	f.log.Error("fallback activated", slog.String("tier", tier.String()))
	f.notifier.Error("Fallback active",
		fmt.Sprintf("Downloads keep failing; switched to %s.", tier.String()),
		notify.Field{Name: "Tier", Value: tier.String()},
	)
}

// MaybeRetry starts a fresh download once per retry interval while a tier
// is active.
func (f *Fallback) MaybeRetry(ctx context.Context, now time.Time) {
	if !f.Active() || f.retry == nil {
		return
	}
	if now.Sub(f.lastRetry) < f.retryInterval {
		return
	}
	f.lastRetry = now

	if f.retry(ctx) {
		f.log.Info("fallback retry download started")
	}
}

// Deactivate restores normal playback after a download success: media input
// back on live, alert hidden, file deletion re-enabled.
func (f *Fallback) Deactivate(ctx context.Context) {
	if !f.Active() {
		return
	}
	exited := f.tier
	f.tier = TierNone

	f.monitor.SetDeleteOnTransition(true)

	paths, err := content.ListVideoPaths(f.folders.Live)
	if err == nil && len(paths) > 0 {
		if err := f.comp.ConfigureMediaInput(ctx, paths, true, false); err != nil {
			f.log.Warn("restoring media input on live failed", slog.String("error", err.Error()))
		} else {
			f.monitor.NoteMediaReconfigured()
		}
	}
	if exited == TierFallbackFolder {
		// The cursor was walking the fallback folder; bring it home before
		// deletion is trusted again.
		if err := f.monitor.Initialize(f.folders.Live); err != nil {
			f.log.Warn("re-pointing monitor at live folder failed", slog.String("error", err.Error()))
		}
	}

	if exited == TierPauseScreen {
		if err := f.comp.SetScene(ctx, f.scenes.Stream); err != nil {
			f.log.Warn("switching to stream scene failed", slog.String("error", err.Error()))
		}
	}

	f.setAlert(ctx, false)
	metrics.FallbackTier.Set(0)
	f.log.Info("fallback cleared", slog.String("tier", exited.String()))
	f.notifier.Success("Fallback cleared", "Downloads recovered; normal playback restored.")
}

// chooseTier picks the richest tier the installation can serve right now,
// returning the folder to loop when the fallback tier wins.
func (f *Fallback) chooseTier() (Tier, string) {
	if n, err := content.CountVideos(f.folders.Fallback); err == nil && n > 0 {
		return TierFallbackFolder, f.folders.Fallback
	}
	if f.ExtraSource != nil {
		if dir := f.ExtraSource(); dir != "" {
			if n, err := content.CountVideos(dir); err == nil && n > 0 {
				return TierFallbackFolder, dir
			}
		}
	}
	if n, err := content.CountVideos(f.folders.Live); err == nil && n > 0 {
		return TierLoopRemaining, ""
	}
	return TierPauseScreen, ""
}

func (f *Fallback) setAlert(ctx context.Context, visible bool) {
	if f.scenes.Alert == "" {
		return
	}
	if err := f.comp.SetSourceVisible(ctx, f.scenes.Stream, f.scenes.Alert, visible); err != nil {
		f.log.Warn("toggling fallback alert failed",
			slog.Bool("visible", visible),
			slog.String("error", err.Error()),
		)
	}
}
