package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/rotarr/internal/content"
	"github.com/jmylchreest/rotarr/internal/startup"
)

// bootstrap prepares the runtime for the first tick: content folders exist,
// crash leftovers are cleared, the catalog is synced into the store, and
// playback reattaches to whatever a previous run left behind. Only folder
// creation is fatal; a failed first rotation leaves the loop to retry.
func (o *Orchestrator) bootstrap(ctx context.Context) error {
	for _, dir := range []string{o.folders.Live, o.folders.Pending, o.folders.Fallback} {
		if dir == "" {
			continue
		}
		if err := content.EnsureDir(dir); err != nil {
			return err
		}
	}

	if n, err := startup.CleanupPartialDownloads(o.log, o.folders.Live, o.folders.Pending); err != nil {
		o.log.Warn("partial download cleanup failed", slog.String("error", err.Error()))
	} else if n > 0 {
		o.log.Info("cleared partial downloads", slog.Int("count", n))
	}

	if o.prepared != nil {
		if n, err := o.prepared.ResetStaleExecuting(); err != nil {
			o.log.Warn("resetting stale prepared rotations failed", slog.String("error", err.Error()))
		} else if n > 0 {
			o.log.Info("reset stale prepared rotations", slog.Int("count", n))
		}
	}

	o.syncCatalog(ctx)

	seek, resumed, err := o.manager.ResumeExistingSession(ctx)
	if err != nil {
		o.log.Warn("session resume failed", slog.String("error", err.Error()))
	}
	if resumed {
		o.setSeek(seek)
		o.log.Info("resumed existing rotation")
		return nil
	}

	if err := o.manager.HandleNormalRotation(ctx); err != nil {
		o.log.Error("initial rotation failed", slog.String("error", err.Error()))
		o.notifier.Error("Initial rotation failed", err.Error())
		o.lastBootstrap = time.Now()
	}
	return nil
}

// maybeBootstrapRotation retries the first rotation when no session exists,
// paced by the fallback retry interval so failing download batches are not
// hammered back to back.
func (o *Orchestrator) maybeBootstrapRotation(ctx context.Context, now time.Time) {
	interval := o.cfg.Rotation.FallbackRetryInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if !o.lastBootstrap.IsZero() && now.Sub(o.lastBootstrap) < interval {
		return
	}
	o.lastBootstrap = now

	if err := o.manager.HandleNormalRotation(ctx); err != nil {
		o.log.Error("rotation failed", slog.String("error", err.Error()))
		return
	}
	o.clearSeek()
}
