// Package config provides configuration management for rotarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultDashboardPort       = 8090
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultSnapshotInterval    = 5 * time.Second
	defaultOBSPort             = 4455
	defaultOBSRequestTimeout   = 10 * time.Second
	defaultOBSConnectTimeout   = 3 * time.Second
	defaultReconnectBase       = 2 * time.Second
	defaultReconnectMax        = 60 * time.Second
	defaultFreezePollInterval  = 20 * time.Second
	defaultFreezeStallLimit    = 3
	defaultRelaunchWait        = 8 * time.Second
	defaultTickInterval        = time.Second
	defaultFallbackRetry       = 5 * time.Minute
	defaultFailureThreshold    = 3
	defaultLiveCheckInterval   = 60 * time.Second
	defaultDownloadTimeout     = 45 * time.Minute
	defaultDownloadRetries     = 2
	defaultRegistrationQueue   = 64
	defaultLogRetention        = 30 * 24 * time.Hour
	defaultPreparedRetention   = 7 * 24 * time.Hour
	defaultLogRingCapacity     = 500
	defaultCategoryCacheTTL    = 12 * time.Hour
	defaultPlatformHTTPTimeout = 10 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Content     ContentConfig     `mapstructure:"content"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	OBS         OBSConfig         `mapstructure:"obs"`
	Rotation    RotationConfig    `mapstructure:"rotation"`
	Downloader  DownloaderConfig  `mapstructure:"downloader"`
	Platforms   PlatformsConfig   `mapstructure:"platforms"`
	Discord     DiscordConfig     `mapstructure:"discord"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// DatabaseConfig holds the embedded database configuration.
type DatabaseConfig struct {
	Path     string `mapstructure:"path"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// ContentConfig holds the on-disk content layout. The live and pending
// folders are owner-editable settings in the playlists document; everything
// else hangs off BaseDir.
type ContentConfig struct {
	BaseDir     string `mapstructure:"base_dir"`
	FallbackDir string `mapstructure:"fallback_dir"`
	PreparedDir string `mapstructure:"prepared_dir"`
	TempDir     string `mapstructure:"temp_dir"`
	ConfigDir   string `mapstructure:"config_dir"`
	EnvFile     string `mapstructure:"env_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// RingCapacity is the number of recent log entries retained in memory
	// for the dashboard log feed.
	RingCapacity int `mapstructure:"ring_capacity"`
}

// OBSConfig holds the compositor connection and recovery configuration.
type OBSConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	VLCSourceName string `mapstructure:"vlc_source_name"`
	SceneStream   string `mapstructure:"scene_stream"`
	ScenePause    string `mapstructure:"scene_pause"`
	SceneRotation string `mapstructure:"scene_rotation"`

	// AlertSourceName is the scene item toggled visible while fallback
	// content is on screen. Empty disables the overlay.
	AlertSourceName string `mapstructure:"alert_source_name"`

	// LaunchPath is the compositor binary used by freeze recovery to
	// relaunch the process. Empty disables relaunch (reconnect only).
	LaunchPath string `mapstructure:"launch_path"`
	// SentinelDir holds the crash sentinel the compositor writes; freeze
	// recovery clears it so the relaunch does not open in safe mode.
	SentinelDir string `mapstructure:"sentinel_dir"`

	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ReconnectBase      time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax       time.Duration `mapstructure:"reconnect_max"`
	FreezePollInterval time.Duration `mapstructure:"freeze_poll_interval"`
	FreezeStallLimit   int           `mapstructure:"freeze_stall_limit"`
	RelaunchWait       time.Duration `mapstructure:"relaunch_wait"`
}

// RotationConfig holds the rotation loop configuration.
type RotationConfig struct {
	TickInterval          time.Duration `mapstructure:"tick_interval"`
	FallbackRetryInterval time.Duration `mapstructure:"fallback_retry_interval"`
	FailureThreshold      int           `mapstructure:"failure_threshold"`
}

// DownloaderConfig holds the yt-dlp download pipeline configuration.
type DownloaderConfig struct {
	Binary        string        `mapstructure:"binary"`
	FFprobeBinary string        `mapstructure:"ffprobe_binary"`
	Format        string        `mapstructure:"format"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	// RateLimit caps yt-dlp's download rate in bytes per second.
	// Supports human-readable values like "5MB". Zero means unlimited.
	RateLimit ByteSize `mapstructure:"rate_limit"`
	// RegistrationQueueSize bounds the cross-thread video registration
	// queue between the download worker and the orchestrator.
	RegistrationQueueSize int `mapstructure:"registration_queue_size"`
}

// PlatformsConfig holds broadcast platform adapter configuration.
type PlatformsConfig struct {
	LiveCheckInterval time.Duration `mapstructure:"live_check_interval"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	CategoryCacheTTL  time.Duration `mapstructure:"category_cache_ttl"`
	Twitch            TwitchConfig  `mapstructure:"twitch"`
	Kick              KickConfig    `mapstructure:"kick"`
}

// TwitchConfig holds Twitch Helix API configuration.
type TwitchConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	Broadcaster    string `mapstructure:"broadcaster"`
	TargetStreamer string `mapstructure:"target_streamer"`
}

// KickConfig holds Kick API configuration.
type KickConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	Channel        string `mapstructure:"channel"`
	TargetStreamer string `mapstructure:"target_streamer"`
	TokenFile      string `mapstructure:"token_file"`
}

// DiscordConfig holds Discord webhook notification configuration.
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// DashboardConfig holds the dashboard HTTP/WebSocket server configuration.
type DashboardConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	CORSOrigins      []string      `mapstructure:"cors_origins"`
}

// MaintenanceConfig holds scheduled maintenance configuration.
type MaintenanceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// PlaybackLogRetention prunes playback log entries older than this.
	// Supports human-readable values like "30d", "2w".
	PlaybackLogRetention Duration `mapstructure:"playback_log_retention"`
	// PreparedRetention removes completed prepared rotations older than this.
	PreparedRetention Duration `mapstructure:"prepared_retention"`
	PruneCron         string   `mapstructure:"prune_cron"`
	CatalogSyncCron   string   `mapstructure:"catalog_sync_cron"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with ROTARR_ and use underscores for
// nesting. Example: ROTARR_OBS_PASSWORD=secret.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/rotarr")
		v.AddConfigPath("$HOME/.rotarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("ROTARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvAliases(v)

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "rotarr.db")
	v.SetDefault("database.log_level", "warn")

	// Content defaults
	v.SetDefault("content.base_dir", "./content")
	v.SetDefault("content.fallback_dir", "fallback")
	v.SetDefault("content.prepared_dir", "prepared")
	v.SetDefault("content.temp_dir", "temp")
	v.SetDefault("content.config_dir", "./config")
	v.SetDefault("content.env_file", ".env")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.ring_capacity", defaultLogRingCapacity)

	// Compositor defaults
	v.SetDefault("obs.host", "localhost")
	v.SetDefault("obs.port", defaultOBSPort)
	v.SetDefault("obs.password", "")
	v.SetDefault("obs.vlc_source_name", "VLC Video Source")
	v.SetDefault("obs.scene_stream", "Stream")
	v.SetDefault("obs.scene_pause", "Pause")
	v.SetDefault("obs.scene_rotation", "Rotation Screen")
	v.SetDefault("obs.alert_source_name", "Fallback Alert")
	v.SetDefault("obs.launch_path", "")
	v.SetDefault("obs.sentinel_dir", "")
	v.SetDefault("obs.request_timeout", defaultOBSRequestTimeout)
	v.SetDefault("obs.connect_timeout", defaultOBSConnectTimeout)
	v.SetDefault("obs.reconnect_base", defaultReconnectBase)
	v.SetDefault("obs.reconnect_max", defaultReconnectMax)
	v.SetDefault("obs.freeze_poll_interval", defaultFreezePollInterval)
	v.SetDefault("obs.freeze_stall_limit", defaultFreezeStallLimit)
	v.SetDefault("obs.relaunch_wait", defaultRelaunchWait)

	// Rotation defaults
	v.SetDefault("rotation.tick_interval", defaultTickInterval)
	v.SetDefault("rotation.fallback_retry_interval", defaultFallbackRetry)
	v.SetDefault("rotation.failure_threshold", defaultFailureThreshold)

	// Downloader defaults
	v.SetDefault("downloader.binary", "yt-dlp")
	v.SetDefault("downloader.ffprobe_binary", "ffprobe")
	v.SetDefault("downloader.format", "bv*[height<=1080]+ba/b[height<=1080]")
	v.SetDefault("downloader.timeout", defaultDownloadTimeout)
	v.SetDefault("downloader.retry_attempts", defaultDownloadRetries)
	v.SetDefault("downloader.rate_limit", 0)
	v.SetDefault("downloader.registration_queue_size", defaultRegistrationQueue)

	// Platform defaults
	v.SetDefault("platforms.live_check_interval", defaultLiveCheckInterval)
	v.SetDefault("platforms.http_timeout", defaultPlatformHTTPTimeout)
	v.SetDefault("platforms.category_cache_ttl", defaultCategoryCacheTTL)
	v.SetDefault("platforms.twitch.enabled", false)
	v.SetDefault("platforms.kick.enabled", false)
	v.SetDefault("platforms.kick.token_file", "kick_token.json")

	// Discord defaults
	v.SetDefault("discord.webhook_url", "")

	// Dashboard defaults
	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.host", "0.0.0.0")
	v.SetDefault("dashboard.port", defaultDashboardPort)
	v.SetDefault("dashboard.read_timeout", defaultServerTimeout)
	v.SetDefault("dashboard.write_timeout", defaultServerTimeout)
	v.SetDefault("dashboard.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("dashboard.snapshot_interval", defaultSnapshotInterval)
	v.SetDefault("dashboard.cors_origins", []string{"*"})

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.playback_log_retention", defaultLogRetention)
	v.SetDefault("maintenance.prepared_retention", defaultPreparedRetention)
	v.SetDefault("maintenance.prune_cron", "0 0 3 * * *")         // Daily at 3 AM (6-field cron)
	v.SetDefault("maintenance.catalog_sync_cron", "0 30 3 * * *") // Daily at 3:30 AM safety sync
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535

	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Content validation
	if c.Content.BaseDir == "" {
		return fmt.Errorf("content.base_dir is required")
	}
	if c.Content.ConfigDir == "" {
		return fmt.Errorf("content.config_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Compositor validation
	if c.OBS.Host == "" {
		return fmt.Errorf("obs.host is required")
	}
	if c.OBS.Port < 1 || c.OBS.Port > maxPort {
		return fmt.Errorf("obs.port must be between 1 and %d", maxPort)
	}
	if c.OBS.VLCSourceName == "" {
		return fmt.Errorf("obs.vlc_source_name is required")
	}
	if c.OBS.FreezeStallLimit < 1 {
		return fmt.Errorf("obs.freeze_stall_limit must be at least 1")
	}

	// Rotation validation
	if c.Rotation.TickInterval <= 0 {
		return fmt.Errorf("rotation.tick_interval must be positive")
	}
	if c.Rotation.FailureThreshold < 1 {
		return fmt.Errorf("rotation.failure_threshold must be at least 1")
	}

	// Downloader validation
	if c.Downloader.Binary == "" {
		return fmt.Errorf("downloader.binary is required")
	}
	if c.Downloader.RegistrationQueueSize < 1 {
		return fmt.Errorf("downloader.registration_queue_size must be at least 1")
	}

	// Platform validation
	if c.Platforms.Twitch.Enabled {
		if c.Platforms.Twitch.ClientID == "" || c.Platforms.Twitch.ClientSecret == "" {
			return fmt.Errorf("platforms.twitch requires client_id and client_secret when enabled")
		}
		if c.Platforms.Twitch.Broadcaster == "" {
			return fmt.Errorf("platforms.twitch.broadcaster is required when enabled")
		}
	}
	if c.Platforms.Kick.Enabled {
		if c.Platforms.Kick.ClientID == "" || c.Platforms.Kick.ClientSecret == "" {
			return fmt.Errorf("platforms.kick requires client_id and client_secret when enabled")
		}
	}

	// Dashboard validation
	if c.Dashboard.Enabled {
		if c.Dashboard.Port < 1 || c.Dashboard.Port > maxPort {
			return fmt.Errorf("dashboard.port must be between 1 and %d", maxPort)
		}
	}

	return nil
}

// URL returns the compositor WebSocket URL.
func (c *OBSConfig) URL() string {
	return fmt.Sprintf("ws://%s:%d", c.Host, c.Port)
}

// Address returns the dashboard address in host:port format.
func (c *DashboardConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FallbackPath returns the full path to the emergency fallback folder.
func (c *ContentConfig) FallbackPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.FallbackDir)
}

// PreparedPath returns the full path to the prepared rotations folder.
func (c *ContentConfig) PreparedPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.PreparedDir)
}

// TempPath returns the full path to the scratch folder used by the
// override swap protocol.
func (c *ContentConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}

// PlaylistsFile returns the path of the playlists/settings document.
func (c *ContentConfig) PlaylistsFile() string {
	return fmt.Sprintf("%s/playlists.json", c.ConfigDir)
}

// OverrideFile returns the path of the manual-override document.
func (c *ContentConfig) OverrideFile() string {
	return fmt.Sprintf("%s/manual_override.json", c.ConfigDir)
}
