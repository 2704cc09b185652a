package actor

import (
	"fmt"
	"time"
)

// Config holds actor configuration
type Config struct {
	ActorID string `mapstructure:"actor_id"`

	// Synthetic environment
	Envs          int     `mapstructure:"envs"`
	StateDim      int     `mapstructure:"state_dim"`
	NumActions    int     `mapstructure:"num_actions"`
	EpisodeLength int     `mapstructure:"episode_length"`
	Gamma         float64 `mapstructure:"gamma"`

	// Steps per rollout sent to replay
	RolloutLength int           `mapstructure:"rollout_length"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// MaxSteps bounds the run; -1 means unlimited
	MaxSteps int   `mapstructure:"max_steps"`
	Seed     int64 `mapstructure:"seed"`
}

// Default returns a config with sensible defaults
func Default() Config {
	return Config{
		ActorID:       "actor-1",
		Envs:          8,
		StateDim:      4,
		NumActions:    3,
		EpisodeLength: 50,
		Gamma:         0.99,
		RolloutLength: 4,
		FlushInterval: 5 * time.Second,
		MaxSteps:      -1,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Envs <= 0 {
		return fmt.Errorf("envs must be positive")
	}
	if c.StateDim <= 0 {
		return fmt.Errorf("state_dim must be positive")
	}
	if c.NumActions <= 0 {
		return fmt.Errorf("num_actions must be positive")
	}
	if c.EpisodeLength <= 0 {
		return fmt.Errorf("episode_length must be positive")
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in [0, 1]")
	}
	if c.RolloutLength <= 0 {
		return fmt.Errorf("rollout_length must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive")
	}
	return nil
}

// LearnerConfig holds learner configuration
type LearnerConfig struct {
	// MaxIterations bounds the run; -1 means unlimited
	MaxIterations int           `mapstructure:"max_iterations"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	LogEvery      int           `mapstructure:"log_every"`
}

// DefaultLearner returns a learner config with sensible defaults
func DefaultLearner() LearnerConfig {
	return LearnerConfig{
		MaxIterations: -1,
		PollInterval:  100 * time.Millisecond,
		LogEvery:      100,
	}
}

// Validate checks if the configuration is valid
func (c LearnerConfig) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.LogEvery <= 0 {
		return fmt.Errorf("log_every must be positive")
	}
	return nil
}
