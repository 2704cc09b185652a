package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all replay service configuration
type Config struct {
	Replay ReplayConfig `mapstructure:"replay"`
	Server ServerConfig `mapstructure:"server"`
	Events EventsConfig `mapstructure:"events"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
}

// ReplayConfig holds the buffer and sampling hyperparameters. It is also the
// exported configuration reported over /config and GetConfig.
type ReplayConfig struct {
	Capacity       int     `mapstructure:"capacity" yaml:"capacity" json:"capacity"`
	BatchSize      int     `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	ColdStart      int     `mapstructure:"cold_start" yaml:"cold_start" json:"cold_start"`
	Prioritized    bool    `mapstructure:"prioritized" yaml:"prioritized" json:"prioritized"`
	ClipPriorities float64 `mapstructure:"clip_priorities" yaml:"clip_priorities" json:"clip_priorities"`
	Alpha          float64 `mapstructure:"alpha" yaml:"alpha" json:"alpha"`
	Eps            float64 `mapstructure:"eps" yaml:"eps" json:"eps"`
	BetaStart      float64 `mapstructure:"beta_start" yaml:"beta_start" json:"beta_start"`
	BetaIterations int     `mapstructure:"beta_iterations" yaml:"beta_iterations" json:"beta_iterations"`

	// Seed for the sampling RNG; 0 seeds from the clock.
	Seed int64 `mapstructure:"seed" yaml:"seed,omitempty" json:"seed,omitempty"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EventsConfig holds stats fan-out configuration. An empty NATSURL disables
// publishing.
type EventsConfig struct {
	NATSURL  string        `mapstructure:"nats_url"`
	Subject  string        `mapstructure:"subject"`
	Interval time.Duration `mapstructure:"interval"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		Replay: ReplayConfig{
			Capacity:       100000,
			BatchSize:      32,
			ColdStart:      100,
			Prioritized:    true,
			ClipPriorities: 1,
			Alpha:          0.6,
			Eps:            1e-5,
			BetaStart:      0.4,
			BetaIterations: 100000,
		},
		Server: ServerConfig{
			GRPCAddr:        ":8080",
			HTTPAddr:        ":9090",
			ShutdownTimeout: 30 * time.Second,
		},
		Events: EventsConfig{
			Subject:  "replay.stats",
			Interval: 15 * time.Second,
		},
		LogLevel: "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Replay.Validate(); err != nil {
		return err
	}
	if c.Server.GRPCAddr == "" {
		return fmt.Errorf("server.grpc_addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if c.Events.NATSURL != "" && c.Events.Subject == "" {
		return fmt.Errorf("events.subject is required when events.nats_url is set")
	}
	if c.Events.Interval <= 0 {
		return fmt.Errorf("events.interval must be positive")
	}
	return nil
}

// Validate checks the replay hyperparameters.
func (r ReplayConfig) Validate() error {
	var errs []error
	if r.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity must be positive"))
	}
	if r.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive"))
	}
	if r.ColdStart < r.BatchSize {
		errs = append(errs, fmt.Errorf("cold_start (%d) must be at least batch_size (%d)", r.ColdStart, r.BatchSize))
	}
	if r.ColdStart > r.Capacity {
		errs = append(errs, fmt.Errorf("cold_start (%d) must not exceed capacity (%d)", r.ColdStart, r.Capacity))
	}
	if r.Prioritized {
		if r.ClipPriorities <= 0 {
			errs = append(errs, fmt.Errorf("clip_priorities must be positive"))
		}
		if r.Eps <= 0 || r.Eps > r.ClipPriorities {
			errs = append(errs, fmt.Errorf("eps must be in (0, clip_priorities]"))
		}
		if r.Alpha < 0 {
			errs = append(errs, fmt.Errorf("alpha must be non-negative"))
		}
		if r.BetaStart < 0 || r.BetaStart > 1 {
			errs = append(errs, fmt.Errorf("beta_start must be in [0, 1]"))
		}
		if r.BetaIterations < 0 {
			errs = append(errs, fmt.Errorf("beta_iterations must be non-negative"))
		}
	}
	return errors.Join(errs...)
}

// YAML renders the hyperparameters for reporting.
func (r ReplayConfig) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// Load reads configuration from an optional file and REPLAY_* environment
// variables on top of the defaults. Flags bound to v beforehand win over both.
func Load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v, Default())

	v.SetEnvPrefix("REPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("replay.capacity", d.Replay.Capacity)
	v.SetDefault("replay.batch_size", d.Replay.BatchSize)
	v.SetDefault("replay.cold_start", d.Replay.ColdStart)
	v.SetDefault("replay.prioritized", d.Replay.Prioritized)
	v.SetDefault("replay.clip_priorities", d.Replay.ClipPriorities)
	v.SetDefault("replay.alpha", d.Replay.Alpha)
	v.SetDefault("replay.eps", d.Replay.Eps)
	v.SetDefault("replay.beta_start", d.Replay.BetaStart)
	v.SetDefault("replay.beta_iterations", d.Replay.BetaIterations)
	v.SetDefault("replay.seed", d.Replay.Seed)

	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)
	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("events.nats_url", d.Events.NATSURL)
	v.SetDefault("events.subject", d.Events.Subject)
	v.SetDefault("events.interval", d.Events.Interval)

	v.SetDefault("log_level", d.LogLevel)
}
