// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Player       PlayerConfig       `yaml:"player"`
	Audio        AudioConfig        `yaml:"audio"`
	MediaSession MediaSessionConfig `yaml:"media_session"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Crate        CrateConfig        `yaml:"crate"`
	Analytics    AnalyticsConfig    `yaml:"analytics"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr         string      `yaml:"addr" default:":8080"`
	ControlToken string      `yaml:"control_token" validate:"required"`
	Hooks        HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// PlayerConfig represents playback engine configuration.
type PlayerConfig struct {
	FrameIntervalMs   int     `yaml:"frame_interval_ms" default:"16" validate:"gte=1,lte=1000"`
	DriftThresholdSec float64 `yaml:"drift_threshold_sec" default:"0.5" validate:"gt=0"`
	SeekStepSec       float64 `yaml:"seek_step_sec" default:"10" validate:"gt=0"`
	NotifyIntervalMs  int     `yaml:"notify_interval_ms" default:"1000" validate:"gte=0,lte=60000"`
	InitialVolume     float64 `yaml:"initial_volume" default:"1" validate:"gte=0,lte=1"`
}

// AudioConfig represents audio output configuration.
type AudioConfig struct {
	Driver             string `yaml:"driver" default:"simulated" validate:"oneof=speaker simulated"`
	SampleRate         int    `yaml:"sample_rate" default:"44100" validate:"gte=8000,lte=192000"`
	BufferMs           int    `yaml:"buffer_ms" default:"100" validate:"gte=10,lte=2000"`
	FetchTimeoutSec    int    `yaml:"fetch_timeout_sec" default:"15" validate:"gte=1,lte=300"`
	SimulatedLengthSec int    `yaml:"simulated_length_sec" default:"30" validate:"gte=1"`
}

// MediaSessionConfig represents the system "now playing" integration.
type MediaSessionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name" default:"cratebox" validate:"required,alphanum"`
}

// CatalogConfig represents catalog search configuration.
type CatalogConfig struct {
	CacheTTLSec int              `yaml:"cache_ttl_sec" default:"60" validate:"gte=0"`
	Providers   []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
}

// ProviderConfig represents a single catalog provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=api spotify"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings" validate:"required"`
}

// CrateConfig represents crate storage configuration.
type CrateConfig struct {
	Backend string      `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig represents Redis connection configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Key      string `yaml:"key" default:"cratebox:crate"`
}

// AnalyticsConfig represents analytics sink configuration.
type AnalyticsConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	SampleRate float64 `yaml:"sample_rate" default:"0.1" validate:"gte=0,lte=1"`
	TimeoutMs  int     `yaml:"timeout_ms" default:"2000" validate:"gte=1"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Output     string `yaml:"output" default:"stdout"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"50"`
	MaxBackups int    `yaml:"max_backups" default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" default:"28"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("CONTROL_TOKEN"); v != "" {
		c.Server.ControlToken = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Crate.Redis.Password = v
	}
	for i := range c.Catalog.Providers {
		p := &c.Catalog.Providers[i]
		if p.Type != "spotify" {
			continue
		}
		if p.Settings == nil {
			p.Settings = make(map[string]any)
		}
		if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
			p.Settings["client_id"] = v
		}
		if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
			p.Settings["client_secret"] = v
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Crate.Backend == "redis" && c.Crate.Redis.Addr == "" {
		return errors.New("crate.redis.addr is required for the redis backend")
	}

	return nil
}

// FrameInterval returns the engine frame interval.
func (p PlayerConfig) FrameInterval() time.Duration {
	return time.Duration(p.FrameIntervalMs) * time.Millisecond
}

// NotifyInterval returns the minimum spacing of progress notifications.
func (p PlayerConfig) NotifyInterval() time.Duration {
	return time.Duration(p.NotifyIntervalMs) * time.Millisecond
}

// CacheTTL returns the catalog result cache lifetime.
func (c CatalogConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// Timeout returns the analytics request timeout.
func (a AnalyticsConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}
