// Package maintenance runs the recurring housekeeping jobs: pruning aged
// playback history, expiring completed prepared rotations, and re-syncing
// the playlist catalog into the store. Jobs fire on cron schedules and are
// also invocable directly, so operators can trigger them off-schedule.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/rotarr/internal/catalog"
	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/metrics"
	"github.com/jmylchreest/rotarr/internal/prepared"
	"github.com/jmylchreest/rotarr/internal/repository"
)

// Deps are the stores the maintenance jobs operate on.
type Deps struct {
	History   repository.PlaybackLogRepository
	Prepared  *prepared.Store
	Playlists repository.PlaylistRepository
	Catalog   *catalog.Provider
}

// Runner schedules and executes the maintenance jobs. Cron specs use the
// six-field format with a seconds column.
type Runner struct {
	cfg  config.MaintenanceConfig
	deps Deps
	log  *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a maintenance runner. Schedules are validated on Start.
func New(cfg config.MaintenanceConfig, deps Deps, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cfg: cfg, deps: deps, log: log}
}

// Start registers the cron jobs and begins firing them.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return errors.New("maintenance already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithSeconds())

	if _, err := c.AddFunc(r.cfg.PruneCron, func() { r.runJob(ctx, "prune", r.Prune) }); err != nil {
		cancel()
		return fmt.Errorf("registering prune job: %w", err)
	}
	if _, err := c.AddFunc(r.cfg.CatalogSyncCron, func() { r.runJob(ctx, "catalog_sync", r.SyncCatalog) }); err != nil {
		cancel()
		return fmt.Errorf("registering catalog sync job: %w", err)
	}

	c.Start()
	r.cron = c
	r.cancel = cancel

	r.log.Info("maintenance scheduled",
		slog.String("prune_cron", r.cfg.PruneCron),
		slog.String("catalog_sync_cron", r.cfg.CatalogSyncCron),
		slog.Duration("playback_log_retention", r.cfg.PlaybackLogRetention.Duration()),
		slog.Duration("prepared_retention", r.cfg.PreparedRetention.Duration()))
	return nil
}

// Stop halts the schedule and waits for any in-flight job to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	c := r.cron
	cancel := r.cancel
	r.cron = nil
	r.cancel = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	cancel()
	r.log.Info("maintenance stopped")
}

func (r *Runner) runJob(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)

	result := "ok"
	if err != nil {
		result = "error"
		r.log.Error("maintenance job failed",
			slog.String("job", name),
			slog.Any("error", err))
	}
	metrics.MaintenanceRunsTotal.WithLabelValues(name, result).Inc()
	r.log.Debug("maintenance job finished",
		slog.String("job", name),
		slog.String("result", result),
		slog.Duration("duration", time.Since(start)))
}

// Prune removes playback log entries past their retention and deletes
// completed prepared rotations that have outlived theirs. Both steps run
// even if the first fails.
func (r *Runner) Prune(ctx context.Context) error {
	now := time.Now()
	var firstErr error

	if retention := r.cfg.PlaybackLogRetention.Duration(); retention > 0 && r.deps.History != nil {
		cutoff := now.Add(-retention)
		pruned, err := r.deps.History.PruneOlderThan(ctx, cutoff)
		if err != nil {
			firstErr = fmt.Errorf("pruning playback log: %w", err)
		} else if pruned > 0 {
			r.log.Info("pruned playback log",
				slog.Int64("entries", pruned),
				slog.Time("cutoff", cutoff))
		}
	}

	if retention := r.cfg.PreparedRetention.Duration(); retention > 0 && r.deps.Prepared != nil {
		cutoff := now.Add(-retention)
		removed, err := r.deps.Prepared.DeleteCompleted(cutoff)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("expiring prepared rotations: %w", err)
		} else if removed > 0 {
			r.log.Info("expired completed prepared rotations",
				slog.Int("removed", removed),
				slog.Time("cutoff", cutoff))
		}
	}

	return firstErr
}

// SyncCatalog reloads the playlist catalog from disk and upserts its entries
// into the playlist store. Playlists removed from the catalog keep their
// rows; the rotation selector only considers enabled ones.
func (r *Runner) SyncCatalog(ctx context.Context) error {
	if r.deps.Catalog == nil || r.deps.Playlists == nil {
		return nil
	}

	changed, err := r.deps.Catalog.Reload()
	if err != nil {
		return fmt.Errorf("reloading catalog: %w", err)
	}

	result, err := r.deps.Playlists.SyncFromCatalog(ctx, r.deps.Catalog.PlaylistModels())
	if err != nil {
		return fmt.Errorf("syncing playlists from catalog: %w", err)
	}

	if changed || result.Created > 0 || result.Updated > 0 {
		r.log.Info("catalog sync complete",
			slog.Bool("catalog_changed", changed),
			slog.Int("created", result.Created),
			slog.Int("updated", result.Updated))
	}
	return nil
}
