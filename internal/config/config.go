// Package config provides configuration management for epgviewer using
// Viper. It supports configuration from files, environment variables, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/epgviewer/pkg/duration"
)

// Default configuration values.
const (
	defaultServerPort      = 3333
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultPastDays        = 7
	defaultFutureDays      = 7
	defaultCacheTTL        = 10 * time.Minute
	defaultRetention       = 21 * duration.Day
	defaultKeepMax         = 40
	defaultFetchTimeout    = 60 * time.Second
	defaultRetryAttempts   = 1
	defaultRetryDelay      = 2 * time.Second
	defaultCircuitThresh   = 5
	defaultCircuitTimeout  = 30 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Epg     EpgConfig     `mapstructure:"epg"`
	Mirror  MirrorConfig  `mapstructure:"mirror"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// StorageConfig holds the on-disk layout root.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
}

// EpgConfig holds schedule window and cache defaults.
type EpgConfig struct {
	PastDays   int      `mapstructure:"past_days"`
	FutureDays int      `mapstructure:"future_days"`
	CacheTTL   Duration `mapstructure:"cache_ttl"`
}

// MirrorConfig holds mirror retention tuning.
type MirrorConfig struct {
	// Retention is how long rotated snapshots are kept. Supports
	// human-readable values like "21d" or "3w".
	Retention Duration `mapstructure:"retention"`
	// KeepMax caps the number of snapshots per upstream URL.
	KeepMax int `mapstructure:"keep_max"`
}

// FetchConfig holds upstream HTTP fetch tuning.
type FetchConfig struct {
	Timeout                 time.Duration `mapstructure:"timeout"`
	RetryAttempts           int           `mapstructure:"retry_attempts"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

// JobsConfig holds background job cron expressions. Empty disables a job.
type JobsConfig struct {
	RefreshCron string `mapstructure:"refresh_cron"`
	PruneCron   string `mapstructure:"prune_cron"`
	PrewarmCron string `mapstructure:"prewarm_cron"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration. They are
// prefixed with EPGVIEWER_ and use underscores for nesting, e.g.
// EPGVIEWER_SERVER_PORT=3333. The bare PORT variable is also honored for
// server.port.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/epgviewer")
		v.AddConfigPath("$HOME/.epgviewer")
	}

	v.SetEnvPrefix("EPGVIEWER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "EPGVIEWER_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("binding port env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine, defaults and env vars apply.
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("storage.data_dir", "./data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("epg.past_days", defaultPastDays)
	v.SetDefault("epg.future_days", defaultFutureDays)
	v.SetDefault("epg.cache_ttl", defaultCacheTTL)

	v.SetDefault("mirror.retention", defaultRetention)
	v.SetDefault("mirror.keep_max", defaultKeepMax)

	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.retry_attempts", defaultRetryAttempts)
	v.SetDefault("fetch.retry_delay", defaultRetryDelay)
	v.SetDefault("fetch.circuit_breaker_threshold", defaultCircuitThresh)
	v.SetDefault("fetch.circuit_breaker_timeout", defaultCircuitTimeout)

	// Background jobs are disabled until given a cron expression.
	v.SetDefault("jobs.refresh_cron", "")
	v.SetDefault("jobs.prune_cron", "")
	v.SetDefault("jobs.prewarm_cron", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Epg.PastDays < 0 || c.Epg.FutureDays < 0 {
		return fmt.Errorf("epg.past_days and epg.future_days must not be negative")
	}
	if c.Epg.CacheTTL.Duration() < 0 {
		return fmt.Errorf("epg.cache_ttl must not be negative")
	}

	if c.Mirror.Retention.Duration() <= 0 {
		return fmt.Errorf("mirror.retention must be positive")
	}
	if c.Mirror.KeepMax < 1 {
		return fmt.Errorf("mirror.keep_max must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MirrorPath returns the mirror directory under the data dir.
func (c *StorageConfig) MirrorPath() string {
	return filepath.Join(c.DataDir, "mirror")
}

// SettingsPath returns the settings file location.
func (c *StorageConfig) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.json")
}
