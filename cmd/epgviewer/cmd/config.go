package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/epgviewer/internal/config"
	"github.com/jmylchreest/epgviewer/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing epgviewer configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
Redirect the output to a file to create a configuration template:

  epgviewer config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, /etc/epgviewer/config.yaml, ~/.epgviewer/config.yaml)
  - Environment variables (EPGVIEWER_SERVER_PORT, EPGVIEWER_STORAGE_DATA_DIR, etc.)
  - Command-line flags (for some options)

Environment variables use the EPGVIEWER_ prefix and underscores for nesting.
Example: server.port -> EPGVIEWER_SERVER_PORT. The bare PORT variable is
also honored for server.port.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg := defaultConfig()

	out, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

// defaultConfig materializes the built-in defaults by unmarshaling an
// empty viper instance.
func defaultConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		tag := typ.Field(i).Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		result[tag] = fieldValue(field)
	}
	return result
}

func fieldValue(field reflect.Value) any {
	switch v := field.Interface().(type) {
	case time.Duration:
		return duration.Format(v)
	case config.Duration:
		return duration.Format(v.Duration())
	default:
		if field.Kind() == reflect.Struct {
			return toMap(field.Interface())
		}
		return v
	}
}
