package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/rotarr/internal/catalog"
	"github.com/jmylchreest/rotarr/internal/dashboard"
	"github.com/jmylchreest/rotarr/internal/database"
	"github.com/jmylchreest/rotarr/internal/downloader"
	"github.com/jmylchreest/rotarr/internal/httpclient"
	"github.com/jmylchreest/rotarr/internal/maintenance"
	"github.com/jmylchreest/rotarr/internal/metrics"
	"github.com/jmylchreest/rotarr/internal/monitor"
	"github.com/jmylchreest/rotarr/internal/notify"
	"github.com/jmylchreest/rotarr/internal/obs"
	"github.com/jmylchreest/rotarr/internal/observability"
	"github.com/jmylchreest/rotarr/internal/orchestrator"
	"github.com/jmylchreest/rotarr/internal/platform"
	"github.com/jmylchreest/rotarr/internal/prepared"
	"github.com/jmylchreest/rotarr/internal/repository"
	"github.com/jmylchreest/rotarr/internal/rotation"
	"github.com/jmylchreest/rotarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rotation controller",
	Long: `Run the rotation controller daemon.

The daemon connects to the compositor, resumes or starts a rotation
session, and then ticks once per second: draining player events, rotating
consumed content, reacting to the watched streamer, and keeping itself on
air through download fallbacks and freeze recovery. It exits cleanly on
SIGINT/SIGTERM and non-zero on a fatal bootstrap error.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Let the exact bootstrap error reach the operator; cobra's usage dump
	// would bury it.
	cmd.SilenceUsage = true

	// Wrap the default handler with the dashboard log ring so every entry
	// from here on is available to the log feed.
	ring := observability.NewLogRing(cfg.Logging.RingCapacity)
	log := slog.New(ring.WrapHandler(slog.Default().Handler()))
	observability.SetDefault(log)

	log.Info("starting rotarr",
		slog.String("version", version.Short()),
		slog.String("obs", cfg.OBS.URL()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store.
	db, err := database.New(cfg.Database, log, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("closing database failed", slog.String("error", err.Error()))
		}
	}()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	playlistRepo := repository.NewPlaylistRepository(db.DB)
	videoRepo := repository.NewVideoRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	historyRepo := repository.NewPlaybackLogRepository(db.DB)

	// Owner-editable documents.
	cat := catalog.NewProvider(cfg.Content.PlaylistsFile(), log)
	if err := cat.Load(); err != nil {
		return fmt.Errorf("loading playlists document: %w", err)
	}
	override := catalog.NewOverrideStore(cfg.Content.OverrideFile())

	settings := cat.Settings()
	folders := rotation.Folders{
		Live:          resolveContentDir(settings.VideoFolder),
		Pending:       resolveContentDir(settings.NextRotationFolder),
		Fallback:      cfg.Content.FallbackPath(),
		Backup:        filepath.Join(cfg.Content.TempPath(), "backup_override"),
		PendingBackup: filepath.Join(cfg.Content.TempPath(), "pending_backup"),
	}
	scenes := rotation.Scenes{
		Stream:   cfg.OBS.SceneStream,
		Pause:    cfg.OBS.ScenePause,
		Rotation: cfg.OBS.SceneRotation,
		Alert:    cfg.OBS.AlertSourceName,
	}

	// Compositor. No connection at bootstrap is fatal; there is nothing to
	// control without it.
	comp := obs.NewClient(cfg.OBS, log)
	if err := comp.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to compositor at %s: %w", cfg.OBS.URL(), err)
	}
	defer func() {
		// Idempotent; the orchestrator closes it first on a clean shutdown.
		_ = comp.Close()
	}()
	if err := verifyScenes(ctx, comp, scenes); err != nil {
		return err
	}
	freeze := obs.NewFreezeMonitor(cfg.OBS, comp, log)

	notifier := notify.NewNotifier(cfg.Discord.WebhookURL, log)

	// Download pipeline.
	worker := downloader.NewWorker(cfg.Downloader, log)
	go worker.Run(ctx)

	// Platform adapters share one resilient HTTP client.
	platformHTTP := httpclient.New(httpclient.Config{
		Timeout: cfg.Platforms.HTTPTimeout,
		Logger:  log,
	}).StandardClient()

	var adapters []platform.Adapter
	if cfg.Platforms.Twitch.Enabled {
		adapters = append(adapters, platform.NewTwitch(platform.TwitchOptions{
			ClientID:         cfg.Platforms.Twitch.ClientID,
			ClientSecret:     cfg.Platforms.Twitch.ClientSecret,
			Broadcaster:      cfg.Platforms.Twitch.Broadcaster,
			TargetStreamer:   cfg.Platforms.Twitch.TargetStreamer,
			CategoryCacheTTL: cfg.Platforms.CategoryCacheTTL,
			HTTPClient:       platformHTTP,
			Logger:           log,
		}))
	}
	if cfg.Platforms.Kick.Enabled {
		adapters = append(adapters, platform.NewKick(platform.KickOptions{
			ClientID:       cfg.Platforms.Kick.ClientID,
			ClientSecret:   cfg.Platforms.Kick.ClientSecret,
			Channel:        cfg.Platforms.Kick.Channel,
			TargetStreamer: cfg.Platforms.Kick.TargetStreamer,
			TokenFile:      cfg.Platforms.Kick.TokenFile,
			HTTPClient:     platformHTTP,
			Logger:         log,
		}))
	}
	platforms := platform.NewManager(log, adapters...)
	streamer := platform.NewStreamerWatch(cfg.Platforms.LiveCheckInterval, log, platforms.LiveCheckers()...)

	// Playback and rotation.
	mon := monitor.New(comp, cfg.OBS.SceneStream, log)
	manager := rotation.NewManager(rotation.ManagerDeps{
		Log:          log,
		Catalog:      cat,
		Playlists:    playlistRepo,
		Videos:       videoRepo,
		Sessions:     sessionRepo,
		Worker:       worker,
		Compositor:   comp,
		Monitor:      mon,
		Platforms:    platforms,
		Notifier:     notifier,
		Scenes:       scenes,
		Folders:      folders,
		StreamerLive: streamer.Live,
	})
	fallback := rotation.NewFallback(comp, mon, notifier, scenes, folders,
		cfg.Rotation.FallbackRetryInterval, manager.RetryFailedDownloads, log)

	// Prepared rotations.
	prep, err := prepared.NewStore(cfg.Content.PreparedPath(), log)
	if err != nil {
		return fmt.Errorf("opening prepared rotation store: %w", err)
	}
	if watcher, err := prepared.NewWatcher(prep, log); err != nil {
		log.Warn("prepared folder watch unavailable, relying on polling",
			slog.String("error", err.Error()))
	} else {
		go watcher.Run(ctx)
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	// Dashboard.
	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(cfg.Dashboard, dashboard.Deps{
			Catalog:   cat,
			Playlists: playlistRepo,
			Sessions:  sessionRepo,
			History:   historyRepo,
			Prepared:  prep,
			LogRing:   ring,
			DB:        db.DB,
			Registry:  registry,
			Version:   version.Short(),
		}, log)
		go func() {
			if err := dash.Run(ctx); err != nil {
				log.Error("dashboard server failed", slog.String("error", err.Error()))
			}
		}()
	}

	// Maintenance.
	if cfg.Maintenance.Enabled {
		maint := maintenance.New(cfg.Maintenance, maintenance.Deps{
			History:   historyRepo,
			Prepared:  prep,
			Playlists: playlistRepo,
			Catalog:   cat,
		}, log)
		if err := maint.Start(); err != nil {
			return fmt.Errorf("starting maintenance scheduler: %w", err)
		}
		defer maint.Stop()
	}

	deps := orchestrator.Deps{
		Log:        log,
		Config:     *cfg,
		Catalog:    cat,
		Override:   override,
		Playlists:  playlistRepo,
		Videos:     videoRepo,
		Sessions:   sessionRepo,
		History:    historyRepo,
		Manager:    manager,
		Monitor:    mon,
		Worker:     worker,
		Fallback:   fallback,
		Compositor: comp,
		Freeze:     freeze,
		Streamer:   streamer,
		Prepared:   prep,
		Notifier:   notifier,
		Scenes:     scenes,
		Folders:    folders,
	}
	if dash != nil {
		deps.Dashboard = dash
	}

	return orchestrator.New(deps).Run(ctx)
}

// resolveContentDir anchors a relative folder from the settings document
// under the content base directory. Absolute paths are used as-is.
func resolveContentDir(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(cfg.Content.BaseDir, dir)
}

// verifyScenes confirms the configured scenes exist in the compositor.
// A missing scene would leave the stream stuck on the wrong screen, so
// this is a bootstrap failure rather than a runtime retry.
func verifyScenes(ctx context.Context, comp *obs.Client, scenes rotation.Scenes) error {
	available, err := comp.SceneList(ctx)
	if err != nil {
		return fmt.Errorf("listing compositor scenes: %w", err)
	}
	have := make(map[string]bool, len(available))
	for _, name := range available {
		have[name] = true
	}
	for _, name := range []string{scenes.Stream, scenes.Pause, scenes.Rotation} {
		if name != "" && !have[name] {
			return fmt.Errorf("required scene %q not found in compositor", name)
		}
	}
	return nil
}
