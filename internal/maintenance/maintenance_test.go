package maintenance

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/rotarr/internal/catalog"
	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/models"
	"github.com/jmylchreest/rotarr/internal/prepared"
	"github.com/jmylchreest/rotarr/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, cfg config.MaintenanceConfig) (*Runner, Deps) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Playlist{}, &models.Video{}, &models.PlaybackLogEntry{},
	))

	store, err := prepared.NewStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	cat := catalog.NewProvider(filepath.Join(t.TempDir(), "playlists.json"), testLogger())
	require.NoError(t, cat.Load())

	deps := Deps{
		History:   repository.NewPlaybackLogRepository(db),
		Prepared:  store,
		Playlists: repository.NewPlaylistRepository(db),
		Catalog:   cat,
	}
	return New(cfg, deps, testLogger()), deps
}

func TestRunner_StartStop(t *testing.T) {
	r, _ := newTestRunner(t, config.MaintenanceConfig{
		PruneCron:       "0 0 3 * * *",
		CatalogSyncCron: "0 30 3 * * *",
	})

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())

	r.Stop()

	require.NoError(t, r.Start())
	r.Stop()

	// Stopping twice is harmless.
	r.Stop()
}

func TestRunner_StartRejectsBadCron(t *testing.T) {
	r, _ := newTestRunner(t, config.MaintenanceConfig{
		PruneCron:       "not a schedule",
		CatalogSyncCron: "0 30 3 * * *",
	})

	err := r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prune job")

	r, _ = newTestRunner(t, config.MaintenanceConfig{
		PruneCron:       "0 0 3 * * *",
		CatalogSyncCron: "* * *",
	})

	err = r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog sync job")
}

func TestRunner_Prune(t *testing.T) {
	r, deps := newTestRunner(t, config.MaintenanceConfig{
		PlaybackLogRetention: config.Duration(24 * time.Hour),
		PreparedRetention:    config.Duration(24 * time.Hour),
	})
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, deps.History.Log(ctx, &models.PlaybackLogEntry{
		VideoFilename: "ancient.mp4",
		PlayedAt:      now.Add(-72 * time.Hour),
	}))
	require.NoError(t, deps.History.Log(ctx, &models.PlaybackLogEntry{
		VideoFilename: "recent.mp4",
		PlayedAt:      now.Add(-time.Hour),
	}))

	// An old completed rotation is reclaimed; fresh or unfinished ones stay.
	for _, slug := range []string{"old-done", "fresh-done", "old-ready"} {
		_, err := deps.Prepared.Create(slug, slug, nil, false)
		require.NoError(t, err)
	}
	_, err := deps.Prepared.UpdateStatus("old-done", prepared.StatusCompleted)
	require.NoError(t, err)
	_, err = deps.Prepared.UpdateStatus("fresh-done", prepared.StatusCompleted)
	require.NoError(t, err)
	_, err = deps.Prepared.UpdateStatus("old-ready", prepared.StatusReady)
	require.NoError(t, err)

	stale := now.Add(-72 * time.Hour)
	for _, slug := range []string{"old-done", "old-ready"} {
		dir, err := deps.Prepared.Folder(slug)
		require.NoError(t, err)
		meta := filepath.Join(dir, prepared.MetadataFile)
		require.NoError(t, os.Chtimes(meta, stale, stale))
	}

	require.NoError(t, r.Prune(ctx))

	entries, err := deps.History.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "recent.mp4", entries[0].VideoFilename)

	_, err = deps.Prepared.Get("old-done")
	assert.ErrorIs(t, err, prepared.ErrNotFound)
	_, err = deps.Prepared.Get("fresh-done")
	assert.NoError(t, err)
	_, err = deps.Prepared.Get("old-ready")
	assert.NoError(t, err)
}

func TestRunner_PruneSkipsZeroRetention(t *testing.T) {
	r, deps := newTestRunner(t, config.MaintenanceConfig{})
	ctx := context.Background()

	require.NoError(t, deps.History.Log(ctx, &models.PlaybackLogEntry{
		VideoFilename: "ancient.mp4",
		PlayedAt:      time.Now().UTC().Add(-1000 * time.Hour),
	}))

	require.NoError(t, r.Prune(ctx))

	entries, err := deps.History.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunner_SyncCatalog(t *testing.T) {
	r, deps := newTestRunner(t, config.MaintenanceConfig{})
	ctx := context.Background()

	require.NoError(t, deps.Catalog.AddEntry(catalog.Entry{
		Name: "Space Docs",
		URL:  "https://example.com/playlist/space",
	}))

	require.NoError(t, r.SyncCatalog(ctx))

	rows, err := deps.Playlists.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Space Docs", rows[0].Name)

	// A second sync with a changed URL updates in place instead of
	// duplicating.
	require.NoError(t, deps.Catalog.UpdateEntry("Space Docs", func(e *catalog.Entry) error {
		e.URL = "https://example.com/playlist/space-v2"
		return nil
	}))
	require.NoError(t, r.SyncCatalog(ctx))

	rows, err = deps.Playlists.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://example.com/playlist/space-v2", rows[0].URL)
}

func TestRunner_CronFiresPrune(t *testing.T) {
	r, deps := newTestRunner(t, config.MaintenanceConfig{
		PlaybackLogRetention: config.Duration(time.Minute),
		PruneCron:            "* * * * * *",
		CatalogSyncCron:      "0 30 3 * * *",
	})
	ctx := context.Background()

	require.NoError(t, deps.History.Log(ctx, &models.PlaybackLogEntry{
		VideoFilename: "ancient.mp4",
		PlayedAt:      time.Now().UTC().Add(-time.Hour),
	}))

	require.NoError(t, r.Start())
	defer r.Stop()

	require.Eventually(t, func() bool {
		entries, err := deps.History.Recent(ctx, 10)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 50*time.Millisecond)
}
