package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/spf13/viper"
)

// envAliases maps owner-facing environment variable names (as found in the
// .env file) onto configuration keys. The ROTARR_-prefixed form always works
// via AutomaticEnv; these bare names are kept for the dashboard env-update
// protocol and for operators migrating existing deployments.
var envAliases = map[string]string{
	"OBS_HOST":               "obs.host",
	"OBS_PORT":               "obs.port",
	"OBS_PASSWORD":           "obs.password",
	"SCENE_PAUSE":            "obs.scene_pause",
	"SCENE_STREAM":           "obs.scene_stream",
	"SCENE_ROTATION_SCREEN":  "obs.scene_rotation",
	"VLC_SOURCE_NAME":        "obs.vlc_source_name",
	"ENABLE_TWITCH":          "platforms.twitch.enabled",
	"ENABLE_KICK":            "platforms.kick.enabled",
	"TWITCH_CLIENT_ID":       "platforms.twitch.client_id",
	"TWITCH_CLIENT_SECRET":   "platforms.twitch.client_secret",
	"TWITCH_BROADCASTER":     "platforms.twitch.broadcaster",
	"TARGET_TWITCH_STREAMER": "platforms.twitch.target_streamer",
	"KICK_CLIENT_ID":         "platforms.kick.client_id",
	"KICK_CLIENT_SECRET":     "platforms.kick.client_secret",
	"KICK_CHANNEL":           "platforms.kick.channel",
	"TARGET_KICK_STREAMER":   "platforms.kick.target_streamer",
	"DISCORD_WEBHOOK_URL":    "discord.webhook_url",
}

// secretEnvKeys are write-only over the dashboard wire: they may be updated
// but are never echoed back in snapshots.
var secretEnvKeys = map[string]bool{
	"OBS_PASSWORD":         true,
	"TWITCH_CLIENT_SECRET": true,
	"KICK_CLIENT_SECRET":   true,
	"DISCORD_WEBHOOK_URL":  true,
}

// IsAllowedEnvKey reports whether the dashboard may read or update the given
// environment variable. Exact allow-listed names plus the TWITCH_ and KICK_
// prefixes are accepted.
func IsAllowedEnvKey(key string) bool {
	if _, ok := envAliases[key]; ok {
		return true
	}
	return strings.HasPrefix(key, "TWITCH_") || strings.HasPrefix(key, "KICK_")
}

// IsSecretEnvKey reports whether the given environment variable must be
// treated as write-only (never sent to dashboard clients).
func IsSecretEnvKey(key string) bool {
	if secretEnvKeys[key] {
		return true
	}
	return strings.Contains(key, "SECRET") || strings.Contains(key, "PASSWORD") || strings.Contains(key, "TOKEN")
}

// AllowedEnvKeys returns the sorted list of explicitly allow-listed names.
func AllowedEnvKeys() []string {
	keys := make([]string, 0, len(envAliases))
	for k := range envAliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// bindEnvAliases registers the bare env names as additional sources for
// their configuration keys. ROTARR_-prefixed variables win when both are set
// because BindEnv considers names in registration order.
func bindEnvAliases(v *viper.Viper) {
	for env, key := range envAliases {
		prefixed := "ROTARR_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		// BindEnv only errors on an empty key.
		_ = v.BindEnv(key, prefixed, env)
	}
}

// LoadEnvFile reads a .env file and sets allow-listed variables into the
// process environment. Variables already present in the environment are not
// overwritten. A missing file is not an error.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening env file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if !ok || !IsAllowedEnvKey(key) {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading env file: %w", err)
	}
	return nil
}

// UpdateEnvFile sets key=value in the .env file, preserving unrelated lines
// and comments, and applies the new value to the process environment. The
// file is replaced atomically.
func UpdateEnvFile(path, key, value string) error {
	if !IsAllowedEnvKey(key) {
		return fmt.Errorf("environment variable %q is not updatable", key)
	}

	var lines []string
	replaced := false
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			k, _, ok := parseEnvLine(line)
			if ok && k == key {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				replaced = true
				continue
			}
			lines = append(lines, line)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading env file: %w", err)
	}
	if !replaced {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := renameio.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing env file: %w", err)
	}
	if err := os.Setenv(key, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// ReloadEnvFile re-reads the .env file, overwriting process values for
// allow-listed keys. Used by the dashboard reload_env command.
func ReloadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening env file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if !ok || !IsAllowedEnvKey(key) {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading env file: %w", err)
	}
	return nil
}

// parseEnvLine splits one KEY=VALUE line. Comments and blank lines report
// ok=false. Surrounding quotes on the value are stripped.
func parseEnvLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "export ")
	idx := strings.Index(trimmed, "=")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(trimmed[:idx])
	value = strings.TrimSpace(trimmed[idx+1:])
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}
