package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero capacity", func(c *Config) { c.Replay.Capacity = 0 }},
		{"cold start below batch", func(c *Config) { c.Replay.ColdStart = c.Replay.BatchSize - 1 }},
		{"cold start above capacity", func(c *Config) { c.Replay.Capacity = 10; c.Replay.ColdStart = 11 }},
		{"eps above clip", func(c *Config) { c.Replay.Eps = 2 }},
		{"negative alpha", func(c *Config) { c.Replay.Alpha = -0.1 }},
		{"beta start above one", func(c *Config) { c.Replay.BetaStart = 1.5 }},
		{"missing grpc addr", func(c *Config) { c.Server.GRPCAddr = "" }},
		{"nats without subject", func(c *Config) { c.Events.NATSURL = "nats://x"; c.Events.Subject = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_UniformIgnoresPriorityKnobs(t *testing.T) {
	cfg := Default()
	cfg.Replay.Prioritized = false
	cfg.Replay.Alpha = -1
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.yaml")
	content := `
replay:
  capacity: 5000
  batch_size: 64
  cold_start: 256
  alpha: 0.7
server:
  shutdown_timeout: 5s
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("REPLAY_REPLAY_BETA_START", "0.5")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Replay.Capacity)
	assert.Equal(t, 64, cfg.Replay.BatchSize)
	assert.Equal(t, 256, cfg.Replay.ColdStart)
	assert.InDelta(t, 0.7, cfg.Replay.Alpha, 1e-12)
	assert.InDelta(t, 0.5, cfg.Replay.BetaStart, 1e-12)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Replay.BetaIterations, cfg.Replay.BetaIterations)
	assert.Equal(t, Default().Server.GRPCAddr, cfg.Server.GRPCAddr)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replay:\n  cold_start: 1\n"), 0o600))

	_, err := Load(viper.New(), path)
	assert.Error(t, err)

	_, err = Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReplayConfig_YAML(t *testing.T) {
	out, err := Default().Replay.YAML()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	for _, key := range []string{"capacity", "batch_size", "cold_start", "clip_priorities", "alpha", "beta_start", "beta_iterations"} {
		assert.Contains(t, decoded, key)
	}
	assert.NotContains(t, decoded, "seed")
}
