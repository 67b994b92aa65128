package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:     "test.db",
			LogLevel: "warn",
		},
		Content: ContentConfig{
			BaseDir:   "./content",
			ConfigDir: "./config",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		OBS: OBSConfig{
			Host:             "localhost",
			Port:             4455,
			VLCSourceName:    "VLC Video Source",
			FreezeStallLimit: 3,
		},
		Rotation: RotationConfig{
			TickInterval:     5 * time.Second,
			FailureThreshold: 3,
		},
		Downloader: DownloaderConfig{
			Binary:                "yt-dlp",
			RegistrationQueueSize: 64,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Port:    8090,
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Database defaults
	assert.Equal(t, "rotarr.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Database.LogLevel)

	// Content defaults
	assert.Equal(t, "./content", cfg.Content.BaseDir)
	assert.Equal(t, "fallback", cfg.Content.FallbackDir)
	assert.Equal(t, "prepared", cfg.Content.PreparedDir)
	assert.Equal(t, "./config", cfg.Content.ConfigDir)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 500, cfg.Logging.RingCapacity)

	// Compositor defaults
	assert.Equal(t, "localhost", cfg.OBS.Host)
	assert.Equal(t, 4455, cfg.OBS.Port)
	assert.Equal(t, "VLC Video Source", cfg.OBS.VLCSourceName)
	assert.Equal(t, 10*time.Second, cfg.OBS.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.OBS.ReconnectBase)
	assert.Equal(t, 60*time.Second, cfg.OBS.ReconnectMax)
	assert.Equal(t, 20*time.Second, cfg.OBS.FreezePollInterval)
	assert.Equal(t, 3, cfg.OBS.FreezeStallLimit)

	// Rotation defaults
	assert.Equal(t, 5*time.Second, cfg.Rotation.TickInterval)
	assert.Equal(t, 5*time.Minute, cfg.Rotation.FallbackRetryInterval)
	assert.Equal(t, 3, cfg.Rotation.FailureThreshold)

	// Downloader defaults
	assert.Equal(t, "yt-dlp", cfg.Downloader.Binary)
	assert.Equal(t, "ffprobe", cfg.Downloader.FFprobeBinary)
	assert.Equal(t, 64, cfg.Downloader.RegistrationQueueSize)

	// Platform defaults
	assert.False(t, cfg.Platforms.Twitch.Enabled)
	assert.False(t, cfg.Platforms.Kick.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Platforms.LiveCheckInterval)

	// Dashboard defaults
	assert.True(t, cfg.Dashboard.Enabled)
	assert.Equal(t, "0.0.0.0", cfg.Dashboard.Host)
	assert.Equal(t, 8090, cfg.Dashboard.Port)
	assert.Equal(t, 5*time.Second, cfg.Dashboard.SnapshotInterval)

	// Maintenance defaults
	assert.True(t, cfg.Maintenance.Enabled)
	assert.Equal(t, 30*24*time.Hour, time.Duration(cfg.Maintenance.PlaybackLogRetention))
}

func TestLoad_FromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: "/var/lib/rotarr/rotarr.db"

content:
  base_dir: "/srv/rotarr/content"
  config_dir: "/srv/rotarr/config"

logging:
  level: "debug"
  format: "text"

obs:
  host: "192.168.1.20"
  port: 4456
  vlc_source_name: "VLC Media"
  request_timeout: 15s

rotation:
  tick_interval: 2s
  failure_threshold: 5

dashboard:
  host: "127.0.0.1"
  port: 9090
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check file values were loaded
	assert.Equal(t, "/var/lib/rotarr/rotarr.db", cfg.Database.Path)
	assert.Equal(t, "/srv/rotarr/content", cfg.Content.BaseDir)
	assert.Equal(t, "/srv/rotarr/config", cfg.Content.ConfigDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "192.168.1.20", cfg.OBS.Host)
	assert.Equal(t, 4456, cfg.OBS.Port)
	assert.Equal(t, "VLC Media", cfg.OBS.VLCSourceName)
	assert.Equal(t, 15*time.Second, cfg.OBS.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.Rotation.TickInterval)
	assert.Equal(t, 5, cfg.Rotation.FailureThreshold)
	assert.Equal(t, "127.0.0.1", cfg.Dashboard.Host)
	assert.Equal(t, 9090, cfg.Dashboard.Port)
}

func TestLoad_EnvOverride(t *testing.T) {
	// Set environment variables
	t.Setenv("ROTARR_OBS_HOST", "10.0.0.5")
	t.Setenv("ROTARR_OBS_PASSWORD", "hunter2")
	t.Setenv("ROTARR_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("ROTARR_LOGGING_LEVEL", "warn")
	t.Setenv("ROTARR_DASHBOARD_PORT", "3000")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check env overrides
	assert.Equal(t, "10.0.0.5", cfg.OBS.Host)
	assert.Equal(t, "hunter2", cfg.OBS.Password)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 3000, cfg.Dashboard.Port)
}

func TestLoad_BareEnvAliases(t *testing.T) {
	// Owner-facing .env names work without the ROTARR_ prefix
	t.Setenv("OBS_PASSWORD", "sekrit")
	t.Setenv("SCENE_ROTATION_SCREEN", "Rotation!")
	t.Setenv("VLC_SOURCE_NAME", "My VLC")
	t.Setenv("TARGET_TWITCH_STREAMER", "somestreamer")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sekrit", cfg.OBS.Password)
	assert.Equal(t, "Rotation!", cfg.OBS.SceneRotation)
	assert.Equal(t, "My VLC", cfg.OBS.VLCSourceName)
	assert.Equal(t, "somestreamer", cfg.Platforms.Twitch.TargetStreamer)
}

func TestLoad_PrefixedEnvWinsOverBare(t *testing.T) {
	t.Setenv("OBS_HOST", "bare-host")
	t.Setenv("ROTARR_OBS_HOST", "prefixed-host")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "prefixed-host", cfg.OBS.Host)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
obs:
  host: "file-host"
  port: 4455
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	// Set env var to override file
	t.Setenv("ROTARR_OBS_HOST", "env-host")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Env should override file
	assert.Equal(t, "env-host", cfg.OBS.Host)
	// File value should be preserved
	assert.Equal(t, 4455, cfg.OBS.Port)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validTestConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidate_InvalidOBSPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.OBS.Port = tt.port
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "obs.port")
		})
	}
}

func TestValidate_EmptyDatabasePath(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.Path = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "invalid"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_OBSConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"empty host", func(c *Config) { c.OBS.Host = "" }, "obs.host"},
		{"empty source name", func(c *Config) { c.OBS.VLCSourceName = "" }, "vlc_source_name"},
		{"zero stall limit", func(c *Config) { c.OBS.FreezeStallLimit = 0 }, "freeze_stall_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_RotationConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"zero tick interval", func(c *Config) { c.Rotation.TickInterval = 0 }, "tick_interval"},
		{"negative tick interval", func(c *Config) { c.Rotation.TickInterval = -time.Second }, "tick_interval"},
		{"zero failure threshold", func(c *Config) { c.Rotation.FailureThreshold = 0 }, "failure_threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_TwitchRequiresCredentials(t *testing.T) {
	cfg := validTestConfig()
	cfg.Platforms.Twitch.Enabled = true
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "platforms.twitch")

	cfg.Platforms.Twitch.ClientID = "id"
	cfg.Platforms.Twitch.ClientSecret = "secret"
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broadcaster")

	cfg.Platforms.Twitch.Broadcaster = "somebody"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_KickRequiresCredentials(t *testing.T) {
	cfg := validTestConfig()
	cfg.Platforms.Kick.Enabled = true
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "platforms.kick")

	cfg.Platforms.Kick.ClientID = "id"
	cfg.Platforms.Kick.ClientSecret = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestOBSConfig_URL(t *testing.T) {
	cfg := &OBSConfig{Host: "localhost", Port: 4455}
	assert.Equal(t, "ws://localhost:4455", cfg.URL())
}

func TestDashboardConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"localhost", "127.0.0.1", 8090, "127.0.0.1:8090"},
		{"all interfaces", "0.0.0.0", 3000, "0.0.0.0:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &DashboardConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestContentConfig_Paths(t *testing.T) {
	cfg := &ContentConfig{
		BaseDir:     "/srv/rotarr/content",
		FallbackDir: "fallback",
		PreparedDir: "prepared",
		TempDir:     "temp",
		ConfigDir:   "/srv/rotarr/config",
	}

	assert.Equal(t, "/srv/rotarr/content/fallback", cfg.FallbackPath())
	assert.Equal(t, "/srv/rotarr/content/prepared", cfg.PreparedPath())
	assert.Equal(t, "/srv/rotarr/content/temp", cfg.TempPath())
	assert.Equal(t, "/srv/rotarr/config/playlists.json", cfg.PlaylistsFile())
	assert.Equal(t, "/srv/rotarr/config/manual_override.json", cfg.OverrideFile())
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	// Create an invalid YAML file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
obs:
  port: "not a number"
  invalid yaml structure
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	// Specifying a non-existent file should fail
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
