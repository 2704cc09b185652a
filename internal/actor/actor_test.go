package actor

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/per/internal/config"
	"github.com/cartridge/per/internal/replay"
	"github.com/cartridge/per/internal/storage"
)

func newEngine(t *testing.T, capacity int) *replay.Engine {
	t.Helper()
	cfg := config.Default().Replay
	cfg.Capacity = capacity
	cfg.BatchSize = 4
	cfg.ColdStart = 8
	cfg.Seed = 11
	e, err := replay.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func testActorConfig() Config {
	cfg := Default()
	cfg.Envs = 2
	cfg.StateDim = 3
	cfg.EpisodeLength = 5
	cfg.RolloutLength = 3
	cfg.FlushInterval = time.Hour
	cfg.MaxSteps = 7
	cfg.Seed = 1
	return cfg
}

func TestActor_StoresRollouts(t *testing.T) {
	engine := newEngine(t, 100)
	a, err := New(testActorConfig(), engine, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 7, a.Steps())
	// Two full rollouts of 3 steps plus the final partial flush.
	assert.Equal(t, 14, a.Stored())

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 14, stats.Size)
	assert.Contains(t, stats.Schema, storage.FieldNextStates)
}

func TestActor_ContextCancel(t *testing.T) {
	cfg := testActorConfig()
	cfg.MaxSteps = -1
	a, err := New(cfg, newEngine(t, 16), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Run(ctx), context.Canceled)
}

func TestActor_InvalidConfig(t *testing.T) {
	cfg := testActorConfig()
	cfg.Envs = 0
	_, err := New(cfg, newEngine(t, 16), zerolog.Nop())
	assert.Error(t, err)

	cfg = testActorConfig()
	cfg.Gamma = 1.5
	assert.Error(t, cfg.Validate())
}

func TestLearner_ReprioritizesSamples(t *testing.T) {
	engine := newEngine(t, 64)
	a, err := New(testActorConfig(), engine, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))

	lcfg := DefaultLearner()
	lcfg.MaxIterations = 5
	l, err := NewLearner(lcfg, engine, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, l.Run(context.Background()))
	stats := l.Stats()
	assert.Equal(t, 5, stats.Iterations)
	assert.Equal(t, 20, stats.Updated+stats.Stale)
	assert.GreaterOrEqual(t, stats.LastLoss, 0.0)

	replayStats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, replayStats.Iteration)
}

func TestLearner_UniformSkipsFeedback(t *testing.T) {
	cfg := config.Default().Replay
	cfg.Capacity = 64
	cfg.BatchSize = 4
	cfg.ColdStart = 8
	cfg.Prioritized = false
	cfg.Seed = 11
	engine, err := replay.New(cfg)
	require.NoError(t, err)
	defer engine.Close()

	a, err := New(testActorConfig(), engine, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))

	lcfg := DefaultLearner()
	lcfg.MaxIterations = 3
	l, err := NewLearner(lcfg, engine, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, l.Run(context.Background()))
	stats := l.Stats()
	assert.Equal(t, 3, stats.Iterations)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Stale)

	replayStats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, replayStats.Iteration)
}

func TestLearner_WaitsForColdStart(t *testing.T) {
	lcfg := DefaultLearner()
	lcfg.PollInterval = 5 * time.Millisecond
	l, err := NewLearner(lcfg, newEngine(t, 16), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Run(ctx), context.DeadlineExceeded)
	assert.Positive(t, l.Stats().ColdStarts)
	assert.Zero(t, l.Stats().Iterations)
}

func TestTDErrors(t *testing.T) {
	s, err := storage.FromRecords([]storage.Record{
		{State: []float64{3, 4}, Action: []float64{0}, Reward: -1, NextState: []float64{0, 0}, Discount: 0.5},
		{State: []float64{0, 0}, Action: []float64{1}, Reward: 2, NextState: []float64{3, 4}, Discount: 1},
	}, storage.KindInt)
	require.NoError(t, err)

	losses, err := tdErrors(s)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 3}, losses, 1e-12)
}

func TestWalkEnv(t *testing.T) {
	env := newWalkEnv(2, 3, 2, rand.New(rand.NewSource(5)))

	next, reward, done := env.step(2)
	assert.Len(t, next, 2)
	assert.LessOrEqual(t, reward, 0.0)
	assert.False(t, done)

	_, _, done = env.step(0)
	assert.True(t, done)

	env.reset()
	_, _, done = env.step(1)
	assert.False(t, done)
}

func TestRandomPolicy(t *testing.T) {
	p := NewRandom(3, rand.New(rand.NewSource(2)))
	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		a := p.SelectAction()
		require.GreaterOrEqual(t, a, 0)
		require.Less(t, a, 3)
		seen[a] = true
	}
	assert.Len(t, seen, 3)
}
