// Package config handles habit engine configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/logging"
	"github.com/quantumlife/habits/internal/parser"
	"github.com/quantumlife/habits/internal/progression"
	"github.com/quantumlife/habits/internal/rewards"
	"github.com/quantumlife/habits/internal/templates"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "HABITS_"

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`

	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Domain curves and keyword tables
	Parser      parser.Config      `json:"parser" yaml:"parser"`
	Templates   templates.Config   `json:"templates" yaml:"templates"`
	Progression progression.Config `json:"progression" yaml:"progression"`
	Rewards     rewards.Config     `json:"rewards" yaml:"rewards"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port         int      `json:"port" yaml:"port" env:"PORT"`
	Host         string   `json:"host" yaml:"host" env:"HOST"`
	AllowOrigins []string `json:"allow_origins" yaml:"allow_origins" env:"ALLOW_ORIGINS"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig for the SQLite database
type StorageConfig struct {
	// Path defaults to habits.db inside DataDir
	Path          string `json:"path,omitempty" yaml:"path,omitempty" env:"DB_PATH"`
	BusyTimeoutMS int    `json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
	SeedDefaults  bool   `json:"seed_defaults" yaml:"seed_defaults" env:"SEED_DEFAULTS"`
}

// SchedulerConfig for reminders
type SchedulerConfig struct {
	Timezone       string        `json:"timezone" yaml:"timezone" env:"TIMEZONE"`
	DefaultChannel string        `json:"default_channel" yaml:"default_channel" env:"DEFAULT_CHANNEL"`
	FireTimeout    time.Duration `json:"fire_timeout" yaml:"fire_timeout"`
	Announce       bool          `json:"announce_completions" yaml:"announce_completions"`
}

// LoggingConfig for the process logger
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" env:"LOG_LEVEL"`
}

// TelemetryConfig for OTLP trace export
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"OTEL_ENABLED"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" env:"OTEL_ENDPOINT"`
	ServiceName string `json:"service_name" yaml:"service_name"`
}

// envOverrides are knobs inside the domain sections that can be set from the
// environment. Unset variables leave the file value alone.
type envOverrides struct {
	GraceDays     *int `env:"GRACE_DAYS"`
	DefaultReward *int `env:"DEFAULT_BASE_REWARD"`
	ReminderHour  *int `env:"DEFAULT_REMINDER_HOUR"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".habits"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			BusyTimeoutMS: 5000,
			SeedDefaults:  true,
		},
		Scheduler: SchedulerConfig{
			Timezone:       "UTC",
			DefaultChannel: "general",
			FireTimeout:    30 * time.Second,
			Announce:       true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "habitd",
		},
		Parser:      parser.DefaultConfig(),
		Templates:   templates.DefaultConfig(),
		Progression: progression.DefaultConfig(),
		Rewards:     rewards.DefaultConfig(),
	}
}

// DefaultPath returns the config file used when no path is given
func (c *Config) DefaultPath() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

// DatabasePath returns the SQLite file path
func (c *Config) DatabasePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.DataDir, "habits.db")
}

// Load loads config from file, falling back to defaults, then applies
// HABITS_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	// The data dir may itself come from the environment.
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	if path == "" {
		path = cfg.DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnv() error {
	opts := env.Options{Prefix: EnvPrefix}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	var o envOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.GraceDays != nil {
		c.Progression.GraceDays = *o.GraceDays
	}
	if o.DefaultReward != nil {
		c.Templates.BaseReward = *o.DefaultReward
		c.Parser.DefaultReward = *o.DefaultReward
	}
	if o.ReminderHour != nil {
		c.Parser.DefaultHour = *o.ReminderHour
		c.Templates.Hour = *o.ReminderHour
	}
	return nil
}

// Validate checks values the services cannot start with
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d", core.ErrInvalidInput, c.Server.Port)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q", core.ErrInvalidInput, c.Scheduler.Timezone)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	if c.Parser.DefaultHour < 0 || c.Parser.DefaultHour > 23 {
		return fmt.Errorf("%w: default reminder hour %d", core.ErrInvalidInput, c.Parser.DefaultHour)
	}
	if c.Templates.BaseReward < 0 {
		return fmt.Errorf("%w: template base reward %d", core.ErrInvalidInput, c.Templates.BaseReward)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("%w: telemetry enabled without endpoint", core.ErrMissingRequired)
	}
	if err := c.Progression.Validate(); err != nil {
		return err
	}
	return c.Rewards.Validate()
}

// Save saves config to file. The format follows the extension.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.DefaultPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
