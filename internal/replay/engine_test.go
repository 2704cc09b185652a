package replay

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/per/internal/buffer"
	"github.com/cartridge/per/internal/config"
	"github.com/cartridge/per/internal/storage"
)

func testConfig() config.ReplayConfig {
	cfg := config.Default().Replay
	cfg.Capacity = 8
	cfg.BatchSize = 2
	cfg.ColdStart = 4
	cfg.Alpha = 1
	cfg.Seed = 7
	return cfg
}

func newEngine(t *testing.T, cfg config.ReplayConfig) *Engine {
	t.Helper()
	e, err := New(cfg, WithRand(rand.New(rand.NewSource(cfg.Seed))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func transitions(t *testing.T, n int, offset float64) *storage.Storage {
	t.Helper()
	records := make([]storage.Record, n)
	for i := range records {
		v := offset + float64(i)
		records[i] = storage.Record{
			State:     []float64{v, -v},
			Action:    []float64{float64(i % 2)},
			Reward:    v,
			NextState: []float64{v + 1, -v - 1},
			Discount:  0.99,
		}
	}
	s, err := storage.FromRecords(records, storage.KindInt)
	require.NoError(t, err)
	return s
}

func TestEngine_New_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ColdStart = 1
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestEngine_ColdStart(t *testing.T) {
	e := newEngine(t, testConfig())
	ctx := context.Background()

	_, err := e.Store(ctx, transitions(t, 3, 0))
	require.NoError(t, err)

	batch, ok, err := e.Sample(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, batch)

	_, err = e.Store(ctx, transitions(t, 1, 3))
	require.NoError(t, err)

	batch, ok, err = e.Sample(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, 0, batch.Iteration)
	assert.Equal(t, 2, batch.Data.Len())
	for _, field := range []string{storage.FieldStates, storage.FieldPriorities, storage.FieldIndices, storage.FieldWeights} {
		assert.True(t, batch.Data.Has(field), field)
	}
}

func TestEngine_StoreSeedsMaxPriority(t *testing.T) {
	e := newEngine(t, testConfig())

	indices, err := e.Store(context.Background(), transitions(t, 5, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, indices)

	for _, idx := range indices {
		p, err := e.Priority(idx)
		require.NoError(t, err)
		assert.Equal(t, 1.0, p)
	}
	stats, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 5.0, stats.TotalPriority, 1e-12)
}

func TestEngine_UpdatePriorities(t *testing.T) {
	e := newEngine(t, testConfig())
	ctx := context.Background()
	_, err := e.Store(ctx, transitions(t, 6, 0))
	require.NoError(t, err)

	batch, ok, err := e.Sample(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	idxCol, _ := batch.Data.Get(storage.FieldIndices)
	indices := idxCol.IntValues()
	result, err := e.UpdatePriorities(ctx, batch.ID, indices, []float64{0.5, -0.5})
	require.NoError(t, err)
	assert.Equal(t, FeedbackResult{Updated: 2}, result)

	for _, idx := range indices {
		p, err := e.Priority(idx)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, p, 1e-12)
	}

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, stats.MaxPriority)
}

func TestEngine_UpdatePriorities_EmptyIDMeansLatest(t *testing.T) {
	e := newEngine(t, testConfig())
	ctx := context.Background()
	_, err := e.Store(ctx, transitions(t, 4, 0))
	require.NoError(t, err)

	batch, ok, err := e.Sample(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	idxCol, _ := batch.Data.Get(storage.FieldIndices)
	_, err = e.UpdatePriorities(ctx, "", idxCol.IntValues(), []float64{0.1, 0.1})
	assert.NoError(t, err)
}

func TestEngine_UpdatePriorities_StaleRowsSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 4
	e := newEngine(t, cfg)
	ctx := context.Background()

	_, err := e.Store(ctx, transitions(t, 4, 0))
	require.NoError(t, err)
	batch, ok, err := e.Sample(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A full lap overwrites every sampled slot.
	_, err = e.Store(ctx, transitions(t, 4, 100))
	require.NoError(t, err)

	idxCol, _ := batch.Data.Get(storage.FieldIndices)
	indices := idxCol.IntValues()
	result, err := e.UpdatePriorities(ctx, batch.ID, indices, []float64{0.01, 0.01})
	require.NoError(t, err)
	assert.Equal(t, FeedbackResult{Stale: 2}, result)

	for _, idx := range indices {
		p, err := e.Priority(idx)
		require.NoError(t, err)
		assert.Equal(t, 1.0, p)
	}
}

func TestEngine_UpdatePriorities_Errors(t *testing.T) {
	e := newEngine(t, testConfig())
	ctx := context.Background()

	_, err := e.UpdatePriorities(ctx, "", []int{0}, []float64{1})
	assert.ErrorIs(t, err, ErrUnknownSample)

	_, err = e.Store(ctx, transitions(t, 8, 0))
	require.NoError(t, err)
	batch, ok, err := e.Sample(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.UpdatePriorities(ctx, "not-a-sample", []int{0}, []float64{1})
	assert.ErrorIs(t, err, ErrUnknownSample)

	_, err = e.UpdatePriorities(ctx, batch.ID, []int{0, 1}, []float64{1})
	assert.ErrorIs(t, err, ErrMismatchedLength)

	idxCol, _ := batch.Data.Get(storage.FieldIndices)
	sampled := map[int]bool{}
	for _, idx := range idxCol.IntValues() {
		sampled[idx] = true
	}
	missing := 0
	for sampled[missing] {
		missing++
	}
	_, err = e.UpdatePriorities(ctx, batch.ID, []int{missing}, []float64{1})
	assert.ErrorIs(t, err, ErrNotInSample)

	// A newer sample supersedes the previous one.
	_, _, err = e.Sample(ctx)
	require.NoError(t, err)
	_, err = e.UpdatePriorities(ctx, batch.ID, idxCol.IntValues(), []float64{1, 1})
	assert.ErrorIs(t, err, ErrUnknownSample)
}

func TestEngine_Uniform(t *testing.T) {
	cfg := testConfig()
	cfg.Prioritized = false
	e := newEngine(t, cfg)
	ctx := context.Background()

	_, err := e.Store(ctx, transitions(t, 4, 0))
	require.NoError(t, err)

	batch, ok, err := e.Sample(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, batch.Data.Has(storage.FieldIndices))
	assert.False(t, batch.Data.Has(storage.FieldWeights))
	assert.False(t, batch.Data.Has(storage.FieldPriorities))

	_, err = e.UpdatePriorities(ctx, batch.ID, []int{0}, []float64{1})
	assert.ErrorIs(t, err, ErrNotPrioritized)

	_, err = e.Priority(0)
	assert.ErrorIs(t, err, ErrNotPrioritized)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Prioritized)
	assert.Equal(t, 1.0, stats.Beta)
}

func TestEngine_Stats(t *testing.T) {
	e := newEngine(t, testConfig())
	ctx := context.Background()

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, 8, stats.Capacity)
	assert.Empty(t, stats.Schema)
	assert.InDelta(t, 0.4, stats.Beta, 1e-12)

	_, err = e.Store(ctx, transitions(t, 10, 0))
	require.NoError(t, err)
	_, ok, err := e.Sample(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	stats, err = e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Size)
	assert.Equal(t, uint64(10), stats.TotalWrites)
	assert.Equal(t, 2, stats.WritePos)
	assert.Equal(t, 1, stats.Iteration)
	assert.Contains(t, stats.Schema, storage.FieldStates)
	assert.Greater(t, stats.Beta, 0.4)
}

func TestEngine_SchemaMismatch(t *testing.T) {
	e := newEngine(t, testConfig())
	ctx := context.Background()

	_, err := e.Store(ctx, transitions(t, 2, 0))
	require.NoError(t, err)

	other := storage.New()
	require.NoError(t, other.Set(storage.FieldRewards, storage.Floats(1, 2)))
	_, err = e.Store(ctx, other)
	assert.ErrorIs(t, err, buffer.ErrSchemaMismatch)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Size)
}

func TestEngine_StoreRejectsSampledFields(t *testing.T) {
	e := newEngine(t, testConfig())
	ctx := context.Background()

	tainted := transitions(t, 8, 0)
	require.NoError(t, tainted.Set(storage.FieldPriorities, storage.Floats(1, 1, 1, 1, 1, 1, 1, 1)))
	_, err := e.Store(ctx, tainted)
	assert.ErrorIs(t, err, buffer.ErrReservedField)

	_, err = e.Store(ctx, transitions(t, 8, 0))
	require.NoError(t, err)
	batch, ok, err := e.Sample(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, batch.Data.Has(storage.FieldPriorities))
}

func TestEngine_ClosedAndCanceled(t *testing.T) {
	e := newEngine(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Store(ctx, transitions(t, 1, 0))
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, e.Close())
	_, err = e.Store(context.Background(), transitions(t, 1, 0))
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = e.Sample(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngine_ConcurrentAccess(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 64
	cfg.ColdStart = 8
	e := newEngine(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := e.Store(ctx, transitions(t, 3, float64(w*1000+i)))
				assert.NoError(t, err)
			}
		}(w)
	}
	for l := 0; l < 2; l++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				batch, ok, err := e.Sample(ctx)
				if !assert.NoError(t, err) || !ok {
					continue
				}
				idxCol, _ := batch.Data.Get(storage.FieldIndices)
				// Another learner may have sampled in between.
				_, err = e.UpdatePriorities(ctx, batch.ID, idxCol.IntValues(), []float64{0.3, 0.6})
				if err != nil {
					assert.ErrorIs(t, err, ErrUnknownSample)
				}
			}
		}()
	}
	wg.Wait()

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 64, stats.Size)
	assert.Equal(t, uint64(600), stats.TotalWrites)
}
