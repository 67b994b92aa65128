package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/rotarr/internal/catalog"
	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/models"
	"github.com/jmylchreest/rotarr/internal/observability"
	"github.com/jmylchreest/rotarr/internal/prepared"
	"github.com/jmylchreest/rotarr/internal/repository"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Playlist{}, &models.Video{},
		&models.RotationSession{}, &models.PlaybackLogEntry{},
	))

	store, err := prepared.NewStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	cat := catalog.NewProvider(filepath.Join(t.TempDir(), "playlists.json"), testLogger())
	require.NoError(t, cat.Load())

	cfg := config.DashboardConfig{
		Host:            "127.0.0.1",
		Port:            0,
		ShutdownTimeout: time.Second,
	}
	return NewServer(cfg, Deps{
		Catalog:   cat,
		Playlists: repository.NewPlaylistRepository(db),
		Sessions:  repository.NewSessionRepository(db),
		History:   repository.NewPlaybackLogRepository(db),
		Prepared:  store,
		LogRing:   observability.NewLogRing(64),
		DB:        db,
		Registry:  prometheus.NewRegistry(),
		Version:   "test",
	}, testLogger())
}

func TestServer_GetHealth(t *testing.T) {
	s := newTestServer(t)

	out, err := s.getHealth(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "test", out.Body.Version)
	assert.Equal(t, "ok", out.Body.Database)
	assert.NotEmpty(t, out.Body.Uptime)
	assert.NotEmpty(t, out.Body.Timestamp)
}

func TestServer_GetHealthWithoutDatabase(t *testing.T) {
	s := newTestServer(t)
	s.deps.DB = nil

	out, err := s.getHealth(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "healthy", out.Body.Status)
	assert.Equal(t, "not_configured", out.Body.Database)
}

func TestServer_GetStatus(t *testing.T) {
	s := newTestServer(t)

	// Before the first push the endpoint still answers.
	out, err := s.getStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, out.Body.Timestamp.IsZero())
	assert.False(t, out.Body.Status.Connected)

	s.PushSnapshot(&Snapshot{
		Timestamp: time.Now(),
		Status: PlaybackStatus{
			Connected:    true,
			Scene:        "Stream",
			CurrentVideo: "03_space_documentary.mp4",
			FallbackTier: "none",
		},
	})

	out, err = s.getStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, out.Body.Status.Connected)
	assert.Equal(t, "Stream", out.Body.Status.Scene)
	assert.Equal(t, "03_space_documentary.mp4", out.Body.Status.CurrentVideo)

	require.NotNil(t, s.CurrentSnapshot())
	assert.Equal(t, "Stream", s.CurrentSnapshot().Status.Scene)
}

func TestServer_ListPlaylists(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, _, err := s.deps.Playlists.Add(ctx, &models.Playlist{
		Name:     "Space Docs",
		URL:      "https://example.com/playlist/space",
		Priority: 5,
		Category: "Science & Technology",
	})
	require.NoError(t, err)

	disabled := false
	_, _, err = s.deps.Playlists.Add(ctx, &models.Playlist{
		Name:    "Retro Shorts",
		URL:     "https://example.com/playlist/retro",
		Enabled: &disabled,
		IsShort: true,
	})
	require.NoError(t, err)

	played := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.deps.Playlists.MarkPlayed(ctx, []string{"Space Docs"}, played))

	out, err := s.listPlaylists(ctx, nil)
	require.NoError(t, err)
	require.Len(t, out.Body.Playlists, 2)

	byName := make(map[string]PlaylistSnapshot, 2)
	for _, p := range out.Body.Playlists {
		byName[p.Name] = p
	}

	space := byName["Space Docs"]
	assert.True(t, space.Enabled)
	assert.Equal(t, 5, space.Priority)
	assert.Equal(t, "Science & Technology", space.Category)
	assert.Equal(t, 1, space.PlayCount)
	require.NotNil(t, space.LastPlayed)
	assert.WithinDuration(t, played, *space.LastPlayed, time.Second)

	retro := byName["Retro Shorts"]
	assert.False(t, retro.Enabled)
	assert.True(t, retro.IsShort)
	assert.Zero(t, retro.PlayCount)
	assert.Nil(t, retro.LastPlayed)
}

func TestServer_ListSessions(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	sess := &models.RotationSession{
		StartedAt:         time.Now().UTC(),
		PlaylistsSelected: models.StringList{"space-docs", "retro-shorts"},
		CurrentPlaylists:  models.StringList{"Space Docs", "Retro Shorts"},
		StreamTitle:       "24/7 Stream | Space Docs",
		IsCurrent:         true,
	}
	require.NoError(t, s.deps.Sessions.Create(ctx, sess))

	out, err := s.listSessions(ctx, &SessionsInput{Limit: 20})
	require.NoError(t, err)
	require.Len(t, out.Body.Sessions, 1)

	got := out.Body.Sessions[0]
	assert.Equal(t, sess.ID.String(), got.ID)
	assert.Equal(t, []string{"Space Docs", "Retro Shorts"}, got.Playlists)
	assert.Equal(t, "24/7 Stream | Space Docs", got.StreamTitle)
	assert.True(t, got.IsCurrent)
	assert.Nil(t, got.EndedAt)
}

func TestServer_ListHistory(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.deps.History.Log(ctx, &models.PlaybackLogEntry{
		VideoFilename: "old_video.mp4",
		PlaylistName:  "Space Docs",
		PlayedAt:      now.Add(-time.Hour),
	}))
	require.NoError(t, s.deps.History.Log(ctx, &models.PlaybackLogEntry{
		VideoFilename: "new_video.mp4",
		PlaylistName:  "Space Docs",
		PlayedAt:      now,
	}))

	out, err := s.listHistory(ctx, &HistoryInput{Limit: 50})
	require.NoError(t, err)
	require.Len(t, out.Body.Entries, 2)
	assert.Equal(t, "new_video.mp4", out.Body.Entries[0].VideoFilename)
	assert.Equal(t, "old_video.mp4", out.Body.Entries[1].VideoFilename)

	out, err = s.listHistory(ctx, &HistoryInput{Limit: 1})
	require.NoError(t, err)
	require.Len(t, out.Body.Entries, 1)
	assert.Equal(t, "new_video.mp4", out.Body.Entries[0].VideoFilename)
}

func TestServer_ListPrepared(t *testing.T) {
	s := newTestServer(t)

	_, err := s.deps.Prepared.Create("weekend-special", "Weekend Special", []string{"Space Docs"}, false)
	require.NoError(t, err)

	out, err := s.listPrepared(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out.Body.Prepared, 1)
	assert.Equal(t, "weekend-special", out.Body.Prepared[0].Slug)
	assert.Equal(t, prepared.StatusCreated, out.Body.Prepared[0].Status)
}

func TestServer_ListLogs(t *testing.T) {
	s := newTestServer(t)

	s.deps.LogRing.Add(observability.LogEntry{Level: "INFO", Message: "rotation started"})
	s.deps.LogRing.Add(observability.LogEntry{Level: "WARN", Message: "download slow"})

	out, err := s.listLogs(context.Background(), &LogsInput{Limit: 100})
	require.NoError(t, err)
	require.Len(t, out.Body.Logs, 2)
	assert.Equal(t, int64(2), out.Body.Total)

	out, err = s.listLogs(context.Background(), &LogsInput{Limit: 1})
	require.NoError(t, err)
	require.Len(t, out.Body.Logs, 1)
	assert.Equal(t, "download slow", out.Body.Logs[0].Message)
}

func TestServer_GetSettingsMasksSecrets(t *testing.T) {
	t.Setenv("OBS_HOST", "obs.local")
	t.Setenv("OBS_PASSWORD", "hunter2")

	s := newTestServer(t)

	out, err := s.getSettings(context.Background(), nil)
	require.NoError(t, err)

	assert.Contains(t, out.Body.SettingKeys, "rotation_hours")
	assert.Contains(t, out.Body.SettingKeys, "stream_title_template")

	settings, ok := out.Body.Settings.(catalog.Settings)
	require.True(t, ok)
	assert.Equal(t, float64(6), settings.RotationHours)

	byKey := make(map[string]EnvVar, len(out.Body.Env))
	for _, v := range out.Body.Env {
		byKey[v.Key] = v
	}

	host, ok := byKey["OBS_HOST"]
	require.True(t, ok)
	assert.False(t, host.Secret)
	assert.True(t, host.Set)
	assert.Equal(t, "obs.local", host.Value)

	// The password is reported as configured but its value never leaves
	// the process.
	pass, ok := byKey["OBS_PASSWORD"]
	require.True(t, ok)
	assert.True(t, pass.Secret)
	assert.True(t, pass.Set)
	assert.Empty(t, pass.Value)
}

func TestServer_PostCommand(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	out, err := s.postCommand(ctx, &CommandInput{
		RawBody: []byte(`{"command":"update_setting","key":"rotation_hours","value":4}`),
	})
	require.NoError(t, err)
	assert.True(t, out.Body.Accepted)
	assert.Equal(t, CmdUpdateSetting, out.Body.Command)

	// The REST path feeds the same queue the websocket clients use.
	select {
	case cmd := <-s.Commands():
		assert.Equal(t, CmdUpdateSetting, cmd.Name)
		assert.Equal(t, "rotation_hours", cmd.String("key"))
	default:
		t.Fatal("command was not queued")
	}
}

func TestServer_PostCommandRejectsBadPayloads(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.postCommand(ctx, &CommandInput{RawBody: []byte(`{not json`)})
	assert.ErrorContains(t, err, "invalid command payload")

	_, err = s.postCommand(ctx, &CommandInput{RawBody: []byte(`{"command":"reboot_universe"}`)})
	assert.ErrorContains(t, err, "unknown command")
}

func TestServer_PostCommandWhenQueueFull(t *testing.T) {
	s := newTestServer(t)

	for s.hub.Enqueue(Command{Name: CmdSkipVideo}) {
	}

	_, err := s.postCommand(context.Background(), &CommandInput{
		RawBody: []byte(`{"command":"skip_video"}`),
	})
	assert.ErrorContains(t, err, "queue is full")
}

func TestServer_RouterServesAPI(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}
