package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/papapumpkin/helix/internal/logging"
)

// EnvPrefix is the prefix of environment variables mapped to config keys,
// e.g. HELIX_DATA_DIR or HELIX_LOG_LEVEL.
const EnvPrefix = "HELIX"

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
	JSON  bool   `mapstructure:"json"`
}

// Config holds all runtime configuration for a helix session.
// Values are populated from .helix.yaml, HELIX_* env vars, and CLI flags.
type Config struct {
	Component         string    `mapstructure:"component"`
	DataDir           string    `mapstructure:"data_dir"`
	BlueprintDir      string    `mapstructure:"blueprint_dir"`
	BlueprintName     string    `mapstructure:"blueprint_name"`
	HistoryFile       string    `mapstructure:"history_file"`
	ArchivePath       string    `mapstructure:"archive_path"`
	TelemetryPath     string    `mapstructure:"telemetry_path"`
	MetricsTextfile   string    `mapstructure:"metrics_textfile"`
	CoverageThreshold float64   `mapstructure:"coverage_threshold"`
	Strict            bool      `mapstructure:"strict"`
	CarryMetrics      bool      `mapstructure:"carry_metrics"`
	Log               LogConfig `mapstructure:"log"`
}

// BindEnv maps HELIX_* environment variables onto config keys. Nested keys
// use underscores, so log.level reads HELIX_LOG_LEVEL.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags. Paths left empty
// are derived from data_dir.
func Load() (Config, error) {
	viper.SetDefault("component", "DataProcessor")
	viper.SetDefault("data_dir", ".helix")
	viper.SetDefault("blueprint_dir", "")
	viper.SetDefault("blueprint_name", "")
	viper.SetDefault("history_file", "")
	viper.SetDefault("archive_path", "")
	viper.SetDefault("telemetry_path", "")
	viper.SetDefault("metrics_textfile", "")
	viper.SetDefault("coverage_threshold", 0.60)
	viper.SetDefault("strict", false)
	viper.SetDefault("carry_metrics", true)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.dir", "")
	viper.SetDefault("log.json", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) resolve() {
	if c.BlueprintName == "" {
		c.BlueprintName = c.Component
	}
	if c.BlueprintDir == "" {
		c.BlueprintDir = filepath.Join(c.DataDir, "blueprints")
	}
	if c.HistoryFile == "" {
		c.HistoryFile = filepath.Join(c.DataDir, "history.toml")
	}
	if c.ArchivePath == "" {
		c.ArchivePath = filepath.Join(c.DataDir, "helix.db")
	}
	if c.TelemetryPath == "" {
		c.TelemetryPath = filepath.Join(c.DataDir, "telemetry.jsonl")
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Component) == "" {
		errs = append(errs, errors.New("component must not be empty"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if c.CoverageThreshold < 0 || c.CoverageThreshold > 1 {
		errs = append(errs, fmt.Errorf("coverage_threshold %v outside [0, 1]", c.CoverageThreshold))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LoggingConfig converts the log settings for logging.New.
func (c Config) LoggingConfig(service string) logging.Config {
	return logging.Config{
		Level:   c.Log.Level,
		LogDir:  c.Log.Dir,
		Service: service,
		JSON:    c.Log.JSON,
	}
}
