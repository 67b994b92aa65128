// Package cmd implements the CLI commands for rotarr.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/observability"
	"github.com/jmylchreest/rotarr/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// cfg is the effective configuration, loaded once in PersistentPreRunE and
// shared by every subcommand.
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "rotarr",
	Short:   "24/7 unattended video rotation controller",
	Version: version.Short(),
	Long: `rotarr drives an OBS instance over its WebSocket control protocol to play
rotations of downloaded playlists through a VLC media source, around the
clock and unattended.

It downloads fresh content with yt-dlp, swaps it on screen between
rotations, pauses when a watched streamer goes live, survives crashes
mid-video, keeps itself on air through three fallback tiers when downloads
fail, and updates Twitch/Kick stream titles on every switch.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// Version must print even on a broken installation.
		if cmd.Name() == "version" {
			return nil
		}
		return initConfig()
	}

	// These flags are not bound to viper. Load applies env > config file >
	// default precedence; explicitly set flags then win over all of them.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/rotarr, $HOME/.rotarr)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// initConfig loads the owner's .env file, the daemon configuration, and
// builds the default logger with secret redaction applied.
func initConfig() error {
	// The .env file carries owner-editable secrets (OBS password, platform
	// credentials). It must be in the environment before Load so its values
	// participate in viper's precedence.
	envFile := os.Getenv("ROTARR_CONTENT_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}

	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		cfg.Logging.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	logger = observability.WithApp(logger, "rotarr")
	observability.SetDefault(logger)
	return nil
}
