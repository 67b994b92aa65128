package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	internalconfig "github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/pkg/bytesize"
	"github.com/jmylchreest/rotarr/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration in YAML format, after applying the
config file, environment variables, and defaults. Secrets are redacted.

Redirect the output to a file to create a configuration template:

  rotarr config > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/rotarr, $HOME/.rotarr)
  - Environment variables (ROTARR_OBS_PASSWORD, ROTARR_DATABASE_PATH, etc.)
  - The owner .env file (OBS_PASSWORD, TWITCH_CLIENT_SECRET, etc.)

Environment variables use the ROTARR_ prefix and underscores for nesting.
Example: obs.password -> ROTARR_OBS_PASSWORD`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	out, err := yaml.Marshal(toMap(*cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	cmd.Print(string(out))
	return nil
}

// secretKeys are blanked on output. The .env protocol treats these as
// write-only; the printed config must do the same.
var secretKeys = map[string]bool{
	"password":      true,
	"client_secret": true,
	"webhook_url":   true,
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations and sizes for human readability and redacting
// secrets.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(fv)
		case internalconfig.Duration:
			result[key] = duration.Format(time.Duration(fv))
		case internalconfig.ByteSize:
			result[key] = bytesize.Format(bytesize.Size(fv))
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
				continue
			}
			if secretKeys[key] {
				if s, ok := fv.(string); ok && s != "" {
					result[key] = "<redacted>"
					continue
				}
			}
			result[key] = fv
		}
	}
	return result
}
