package rotation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/rotarr/internal/catalog"
	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/downloader"
	"github.com/jmylchreest/rotarr/internal/models"
	"github.com/jmylchreest/rotarr/internal/monitor"
	"github.com/jmylchreest/rotarr/internal/obs"
	"github.com/jmylchreest/rotarr/internal/platform"
	"github.com/jmylchreest/rotarr/internal/repository"
)

func setupRotationDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Playlist{}, &models.Video{}, &models.RotationSession{})
	require.NoError(t, err)

	return db
}

type managerFixture struct {
	m         *Manager
	comp      *mockCompositor
	mon       *monitor.Monitor
	worker    *downloader.Worker
	folders   Folders
	playlists repository.PlaylistRepository
	videos    repository.VideoRepository
	sessions  repository.SessionRepository
}

func newManagerFixture(t *testing.T) *managerFixture {
	return newManagerFixtureWith(t, testFolders(t), "yt-dlp-not-installed")
}

// newManagerFixtureWith builds a manager over an in-memory store, a
// recording compositor and a real playback monitor. The download worker
// exists but is not running; tests that need downloads pass a stub binary
// and start the worker themselves.
func newManagerFixtureWith(t *testing.T, folders Folders, binary string) *managerFixture {
	t.Helper()

	db := setupRotationDB(t)
	log := testLogger()
	comp := newMockCompositor()
	comp.scene = "Stream"
	mon := monitor.New(comp, "Stream", log)

	cat := catalog.NewProvider(filepath.Join(t.TempDir(), "playlists.json"), log)
	require.NoError(t, cat.Load())

	worker := downloader.NewWorker(config.DownloaderConfig{
		Binary:                binary,
		FFprobeBinary:         "ffprobe-not-installed",
		Timeout:               time.Minute,
		RegistrationQueueSize: 32,
	}, log)

	f := &managerFixture{
		comp:      comp,
		mon:       mon,
		worker:    worker,
		folders:   folders,
		playlists: repository.NewPlaylistRepository(db),
		videos:    repository.NewVideoRepository(db),
		sessions:  repository.NewSessionRepository(db),
	}
	f.m = NewManager(ManagerDeps{
		Log:        log,
		Catalog:    cat,
		Playlists:  f.playlists,
		Videos:     f.videos,
		Sessions:   f.sessions,
		Worker:     worker,
		Compositor: comp,
		Monitor:    mon,
		Scenes:     testScenes(),
		Folders:    folders,
	})
	f.m.DownloadPoll = 5 * time.Millisecond
	f.m.switcher.StageDelay = 0
	f.m.switcher.RotationDelay = 0
	f.m.switcher.MediaSettleDelay = 0
	f.m.temp.PollInterval = 5 * time.Millisecond
	f.m.temp.PollTimeout = 100 * time.Millisecond
	return f
}

// startWorker runs the download worker for the fixture's lifetime.
func (f *managerFixture) startWorker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go f.worker.Run(ctx)
	t.Cleanup(func() {
		cancel()
		f.worker.Shutdown()
	})
}

func (f *managerFixture) seedPlaylist(t *testing.T, name string, short bool) *models.Playlist {
	t.Helper()
	created, _, err := f.playlists.Add(context.Background(), &models.Playlist{
		Name:    name,
		URL:     "https://example.com/" + name,
		IsShort: short,
	})
	require.NoError(t, err)
	return created
}

// createTestSession inserts a current session directly, bypassing the
// manager's selection and staging.
func (f *managerFixture) createTestSession(t *testing.T, current ...string) *models.RotationSession {
	t.Helper()
	session := &models.RotationSession{
		PlaylistsSelected: models.StringList{"01K3HQ5ZJ3V9WDNHB06FYXBNKR"},
		CurrentPlaylists:  models.StringList(current),
		StreamTitle:       "24/7 Stream | TEST",
	}
	require.NoError(t, f.sessions.Create(context.Background(), session))
	return session
}

// stubDownloadTool writes a shell script standing in for yt-dlp that drops
// the given files into dir.
func stubDownloadTool(t *testing.T, dir string, files ...string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub download tool requires a POSIX shell")
	}

	script := "#!/bin/sh\n"
	for _, f := range files {
		script += fmt.Sprintf("echo fake-video > %q\n", filepath.Join(dir, f))
	}
	script += "exit 0\n"

	path := filepath.Join(t.TempDir(), "yt-dlp-stub.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestManager_StartSessionConsumesPrestagedContent(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedPlaylist(t, "alpha", false)
	f.seedPlaylist(t, "beta", true)
	writeVideo(t, f.folders.Pending, "alpha_01_a.mp4")
	writeVideo(t, f.folders.Pending, "beta_01_b.mp4")
	f.m.nextPrepared = []string{"alpha", "beta"}

	session, err := f.m.StartSession(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StringList{"alpha", "beta"}, session.CurrentPlaylists)
	assert.Equal(t, "24/7 Stream | ALPHA | BETA", session.StreamTitle)
	assert.True(t, session.IsCurrent)
	assert.Empty(t, f.m.nextPrepared)
	assert.False(t, f.worker.Busy())
}

func TestManager_StartSessionFailsWithoutPlaylists(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.m.StartSession(context.Background(), nil)

	assert.ErrorIs(t, err, ErrNoPlaylists)
}

func TestManager_StartSessionFailsWhenNothingStaged(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedPlaylist(t, "alpha", false)
	// Prestaged names but no files on disk.
	f.m.nextPrepared = []string{"alpha"}

	_, err := f.m.StartSession(ctx, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing staged")
}

func TestManager_ExecuteContentSwitchChoreography(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedPlaylist(t, "alpha", false)
	f.seedPlaylist(t, "beta", true)
	writeVideo(t, f.folders.Live, "stale_old.mp4")
	writeVideo(t, f.folders.Pending, "alpha_01_a.mp4")
	writeVideo(t, f.folders.Pending, "beta_01_b.mp4")
	f.m.nextPrepared = []string{"alpha", "beta"}

	session, err := f.m.StartSession(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, f.m.ExecuteContentSwitch(ctx, session))

	// Old live content is gone; the staged files carry selection-order
	// prefixes.
	assert.ElementsMatch(t, []string{"01_alpha_01_a.mp4", "02_beta_01_b.mp4"}, listNames(t, f.folders.Live))
	assert.Empty(t, listNames(t, f.folders.Pending))

	// The monitor points at the alphabetically-first live file.
	assert.Equal(t, "01_alpha_01_a.mp4", f.mon.CurrentVideo())
	assert.Equal(t, f.folders.Live, f.mon.Folder())

	// Rotation screen covered the swap, then playback resumed on stream.
	assert.Equal(t, "Rotation Screen", f.comp.sceneSets[0])
	assert.Equal(t, "Stream", f.comp.scene)
	assert.Equal(t, 1, f.comp.clears)
	require.Len(t, f.comp.configures, 1)
	assert.Equal(t, "01_alpha_01_a.mp4", filepath.Base(f.comp.configures[0][0]))

	// Selection was recorded as played.
	alpha, err := f.playlists.GetByName(ctx, "alpha")
	require.NoError(t, err)
	assert.NotNil(t, alpha.LastPlayed)
	assert.Equal(t, 1, alpha.PlayCount)
}

func TestManager_ExecuteContentSwitchRefusedDuringTempPlayback(t *testing.T) {
	f := newManagerFixture(t)

	f.mon.SetTempPlayback(true)

	err := f.m.ExecuteContentSwitch(context.Background(), &models.RotationSession{})

	assert.ErrorIs(t, err, ErrTempPlaybackActive)
}

func TestManager_ProcessQueuesRegistersAndCompletes(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedPlaylist(t, "alpha", false)
	session := f.createTestSession(t, "old")
	require.NoError(t, f.sessions.SetNextPlaylists(ctx, session.ID, []string{"alpha"}))

	f.worker.ToInitialize.Add("alpha")
	f.worker.Registrations.Push(downloader.VideoRegistration{
		PlaylistName:    "alpha",
		Filename:        "alpha_01_a.mp4",
		Title:           "Episode One",
		DurationSeconds: 61,
	})
	f.worker.ToComplete.Add("alpha")

	f.m.ProcessQueues(ctx)

	video, err := f.videos.GetByFilename(ctx, "alpha_01_a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "alpha", video.PlaylistName)
	assert.Equal(t, float64(61), video.DurationSeconds)

	stored, err := f.sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.NextStatusCompleted, stored.NextPlaylistsStatus["alpha"])
}

func TestManager_ProcessQueuesSkipsUnknownPlaylists(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.worker.Registrations.Push(downloader.VideoRegistration{
		PlaylistName: "ghost",
		Filename:     "ghost_01_a.mp4",
	})

	f.m.ProcessQueues(ctx)

	_, err := f.videos.GetByFilename(ctx, "ghost_01_a.mp4")
	assert.Error(t, err)
}

func TestManager_HandleNormalRotationConsumesCompletedNext(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	alpha := f.seedPlaylist(t, "alpha", false)
	_, err := f.videos.Register(ctx, &models.Video{
		PlaylistID:   alpha.ID,
		PlaylistName: "alpha",
		Filename:     "alpha_01_a.mp4",
	})
	require.NoError(t, err)
	previous := f.createTestSession(t, "old")
	require.NoError(t, f.sessions.SetNextPlaylists(ctx, previous.ID, []string{"alpha"}))
	require.NoError(t, f.sessions.UpdateNextPlaylistStatus(ctx, previous.ID, "alpha", models.NextStatusCompleted))
	writeVideo(t, f.folders.Pending, "alpha_01_a.mp4")

	require.NoError(t, f.m.HandleNormalRotation(ctx))

	current, err := f.sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StringList{"alpha"}, current.CurrentPlaylists)
	assert.NotEqual(t, previous.ID, current.ID)
	assert.Equal(t, []string{"01_alpha_01_a.mp4"}, listNames(t, f.folders.Live))
	// The staged content was consumed without touching the worker.
	assert.False(t, f.worker.Busy())
}

func TestManager_HandleNormalRotationRejectsPartialStagedContent(t *testing.T) {
	folders := testFolders(t)
	f := newManagerFixtureWith(t, folders, stubDownloadTool(t, folders.Pending, "alpha_01_a.mp4", "alpha_02_b.mp4"))
	ctx := context.Background()

	alpha := f.seedPlaylist(t, "alpha", false)
	for _, name := range []string{"alpha_01_a.mp4", "alpha_02_b.mp4"} {
		_, err := f.videos.Register(ctx, &models.Video{
			PlaylistID:   alpha.ID,
			PlaylistName: "alpha",
			Filename:     name,
		})
		require.NoError(t, err)
	}
	previous := f.createTestSession(t, "old")
	require.NoError(t, f.sessions.SetNextPlaylists(ctx, previous.ID, []string{"alpha"}))
	require.NoError(t, f.sessions.UpdateNextPlaylistStatus(ctx, previous.ID, "alpha", models.NextStatusCompleted))

	// Only half of the registered files survived in pending; the COMPLETED
	// status is stale.
	writeVideo(t, f.folders.Pending, "alpha_01_a.mp4")

	f.startWorker(t)
	require.NoError(t, f.m.HandleNormalRotation(ctx))

	// The partial staging was discarded and a fresh download delivered the
	// full set before the switch.
	assert.ElementsMatch(t, []string{"01_alpha_01_a.mp4", "01_alpha_02_b.mp4"}, listNames(t, f.folders.Live))
}

func TestManager_PrepareNextRotationRecordsSelection(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedPlaylist(t, "alpha", false)
	f.seedPlaylist(t, "beta", false)
	f.createTestSession(t, "alpha")

	assert.True(t, f.m.PrepareNextRotation(ctx))

	stored, err := f.sessions.Current(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, stored.NextPlaylists)
	for _, name := range stored.NextPlaylists {
		assert.Equal(t, models.NextStatusPending, stored.NextPlaylistsStatus[name])
	}
	// The batch was handed to the worker.
	assert.True(t, f.worker.Busy())

	// A second preparation is refused while one is recorded.
	assert.False(t, f.m.PrepareNextRotation(ctx))
}

func TestManager_StartOverrideGuards(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.m.StartOverride(ctx, nil), ErrNoPlaylists)

	f.mon.SetTempPlayback(true)
	assert.ErrorIs(t, f.m.StartOverride(ctx, []string{"alpha"}), ErrTempPlaybackActive)
	f.mon.SetTempPlayback(false)

	f.seedPlaylist(t, "alpha", false)
	err := f.m.StartOverride(ctx, []string{"nonexistent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled playlists match")
}

func TestManager_OverrideLifecycle(t *testing.T) {
	folders := testFolders(t)
	f := newManagerFixtureWith(t, folders, stubDownloadTool(t, folders.Pending, "omega_01_take.mp4"))
	ctx := context.Background()

	f.seedPlaylist(t, "alpha", false)
	f.seedPlaylist(t, "omega", false)

	// Initial rotation from prestaged content.
	writeVideo(t, f.folders.Pending, "alpha_01_a.mp4")
	f.m.nextPrepared = []string{"alpha"}
	first, err := f.m.StartSession(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, f.m.ExecuteContentSwitch(ctx, first))
	require.NoError(t, f.sessions.SavePlaybackPosition(ctx, first.ID, 30000, "alpha_01_a.mp4"))

	// Progress towards the next rotation sits half-done in pending.
	writeVideo(t, f.folders.Pending, "beta_half.mp4")
	require.NoError(t, os.WriteFile(filepath.Join(f.folders.Pending, "archive.txt"), []byte("youtube xyz\n"), 0o644))

	// The override downloads its own content through the stub tool.
	f.startWorker(t)

	require.NoError(t, f.m.StartOverride(ctx, []string{"omega"}))

	override, err := f.sessions.Current(ctx)
	require.NoError(t, err)
	assert.True(t, override.OverrideActive)
	assert.True(t, override.OverrideBackupSaved)
	assert.Equal(t, models.StringList{"omega"}, override.CurrentPlaylists)

	assert.Equal(t, []string{"01_omega_01_take.mp4"}, listNames(t, f.folders.Live))
	assert.Equal(t, []string{"01_alpha_01_a.mp4"}, listNames(t, f.folders.Backup))
	assert.ElementsMatch(t, []string{"beta_half.mp4", "archive.txt"}, listNames(t, f.folders.PendingBackup))

	// Override content consumed: the displaced rotation comes back.
	seek, err := f.m.RestoreAfterOverride(ctx, override)
	require.NoError(t, err)

	require.NotNil(t, seek)
	assert.Equal(t, "alpha_01_a.mp4", seek.Video)
	assert.Equal(t, int64(30000), seek.CursorMS)

	restored, err := f.sessions.Current(ctx)
	require.NoError(t, err)
	assert.False(t, restored.OverrideActive)
	assert.Equal(t, models.StringList{"alpha"}, restored.CurrentPlaylists)
	assert.Equal(t, first.StreamTitle, restored.StreamTitle)

	assert.Equal(t, []string{"01_alpha_01_a.mp4"}, listNames(t, f.folders.Live))
	assert.ElementsMatch(t, []string{"beta_half.mp4", "archive.txt"}, listNames(t, f.folders.Pending))
}

func TestManager_ResumeExistingSessionSchedulesSeek(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedPlaylist(t, "alpha", false)
	session := f.createTestSession(t, "alpha")
	require.NoError(t, f.sessions.SavePlaybackPosition(ctx, session.ID, 9000, "alpha_01_a.mp4"))
	writeVideo(t, f.folders.Live, "01_alpha_01_a.mp4")
	writeVideo(t, f.folders.Live, "01_alpha_02_b.mp4")

	seek, resumed, err := f.m.ResumeExistingSession(ctx)
	require.NoError(t, err)

	assert.True(t, resumed)
	require.NotNil(t, seek)
	assert.Equal(t, "alpha_01_a.mp4", seek.Video)
	assert.Equal(t, int64(9000), seek.CursorMS)

	require.Len(t, f.comp.configures, 1)
	assert.Len(t, f.comp.configures[0], 2)
	assert.Equal(t, f.folders.Live, f.mon.Folder())
}

func TestManager_ResumeSkipsSeekWhenSavedVideoIsNotFirst(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	session := f.createTestSession(t, "alpha")
	require.NoError(t, f.sessions.SavePlaybackPosition(ctx, session.ID, 9000, "alpha_02_b.mp4"))
	writeVideo(t, f.folders.Live, "01_alpha_01_a.mp4")
	writeVideo(t, f.folders.Live, "01_alpha_02_b.mp4")

	seek, resumed, err := f.m.ResumeExistingSession(ctx)
	require.NoError(t, err)

	assert.True(t, resumed)
	assert.Nil(t, seek)
}

func TestManager_ResumeWithoutSession(t *testing.T) {
	f := newManagerFixture(t)

	seek, resumed, err := f.m.ResumeExistingSession(context.Background())
	require.NoError(t, err)

	assert.False(t, resumed)
	assert.Nil(t, seek)
}

func TestManager_ResumeRestoresTempBridge(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedPlaylist(t, "alpha", false)
	session := f.createTestSession(t, "old")
	require.NoError(t, f.sessions.SetNextPlaylists(ctx, session.ID, []string{"alpha"}))
	require.NoError(t, f.sessions.SaveTempPlayback(ctx, session.ID, []string{"alpha"}, 0, f.folders.Pending, 0))
	require.NoError(t, f.sessions.SavePlaybackPosition(ctx, session.ID, 4000, "alpha_01_a.mp4"))
	writeVideo(t, f.folders.Pending, "alpha_01_a.mp4")

	seek, resumed, err := f.m.ResumeExistingSession(ctx)
	require.NoError(t, err)

	assert.True(t, resumed)
	require.NotNil(t, seek)
	assert.Equal(t, int64(4000), seek.CursorMS)
	assert.True(t, f.mon.TempPlayback())
	assert.Equal(t, f.folders.Pending, f.mon.Folder())
}

func TestManager_ActivateTempPlaybackPublishesNextStreamInfo(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedPlaylist(t, "beta", false)
	session := f.createTestSession(t, "old")
	require.NoError(t, f.sessions.SetNextPlaylists(ctx, session.ID, []string{"beta"}))
	writeVideo(t, f.folders.Pending, "beta_01_a.mp4")

	adapter := &recordingAdapter{name: "twitch"}
	f.m.platforms = platform.NewManager(testLogger(), adapter)

	require.NoError(t, f.m.ActivateTempPlayback(ctx))

	// The bridge plays the next playlists, so the title says so already.
	assert.Equal(t, "24/7 Stream | BETA", adapter.title)
	stored, err := f.sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "24/7 Stream | BETA", stored.StreamTitle)
}

func TestManager_ExitTempPlaybackRebuildsSession(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	f.seedPlaylist(t, "alpha", false)
	session := f.createTestSession(t, "old")
	require.NoError(t, f.sessions.SetNextPlaylists(ctx, session.ID, []string{"alpha"}))

	writeVideo(t, f.folders.Pending, "alpha_01_a.mp4")
	require.NoError(t, f.m.ActivateTempPlayback(ctx))
	require.True(t, f.mon.TempPlayback())

	f.comp.status = obs.MediaStatus{State: obs.MediaStatePlaying, CursorMS: 5000}

	seek, err := f.m.ExitTempPlayback(ctx)
	require.NoError(t, err)

	require.NotNil(t, seek)
	assert.Equal(t, "alpha_01_a.mp4", seek.Video)
	assert.Equal(t, int64(5000), seek.CursorMS)

	current, err := f.sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StringList{"alpha"}, current.CurrentPlaylists)
	assert.NotEqual(t, session.ID, current.ID)
	assert.False(t, current.TempPlaybackActive)
	assert.False(t, f.mon.TempPlayback())
	assert.Equal(t, []string{"01_alpha_01_a.mp4"}, listNames(t, f.folders.Live))
}

func TestManager_PublishStreamInfoResolvesPerPlatformCategory(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, _, err := f.playlists.Add(ctx, &models.Playlist{
		Name:           "alpha",
		URL:            "https://example.com/alpha",
		Category:       "Retro",
		TwitchCategory: "Retro Gaming",
	})
	require.NoError(t, err)

	twitch := &recordingAdapter{name: "twitch"}
	kick := &recordingAdapter{name: "kick"}
	f.m.platforms = platform.NewManager(testLogger(), twitch, kick)

	f.m.PublishStreamInfo(ctx, "24/7 Stream | ALPHA", []string{"alpha"})

	assert.Equal(t, "24/7 Stream | ALPHA", twitch.title)
	assert.Equal(t, "Retro Gaming", twitch.category)
	assert.Equal(t, "Retro", kick.category)
}

// recordingAdapter implements platform.Adapter for testing.
type recordingAdapter struct {
	name     string
	title    string
	category string
}

func (a *recordingAdapter) Name() string { return a.name }

func (a *recordingAdapter) UpdateTitle(_ context.Context, title string) error {
	a.title = title
	return nil
}

func (a *recordingAdapter) UpdateCategory(_ context.Context, category string) error {
	a.category = category
	return nil
}

func (a *recordingAdapter) UpdateStreamInfo(_ context.Context, title, category string) error {
	a.title = title
	a.category = category
	return nil
}

func TestReorderForResume(t *testing.T) {
	paths := []string{"/v/01_a.mp4", "/v/02_b.mp4", "/v/03_c.mp4"}

	got, found := reorderForResume(paths, "b.mp4")
	assert.True(t, found)
	assert.Equal(t, []string{"/v/02_b.mp4", "/v/01_a.mp4", "/v/03_c.mp4"}, got)

	got, found = reorderForResume(paths, "a.mp4")
	assert.True(t, found)
	assert.Equal(t, paths, got)

	_, found = reorderForResume(paths, "zz.mp4")
	assert.False(t, found)

	_, found = reorderForResume(paths, "")
	assert.False(t, found)
}
