// Package replay composes the circular buffer, the samplers and the priority
// feedback loop into one serialised backend.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cartridge/per/internal/buffer"
	"github.com/cartridge/per/internal/config"
	"github.com/cartridge/per/internal/metrics"
	"github.com/cartridge/per/internal/sampler"
	"github.com/cartridge/per/internal/storage"
)

var (
	ErrClosed           = errors.New("replay engine is closed")
	ErrUnknownSample    = errors.New("unknown or superseded sample")
	ErrNotInSample      = errors.New("index was not part of the sample")
	ErrNotPrioritized   = errors.New("prioritization is disabled")
	ErrMismatchedLength = errors.New("indices and losses must have the same length")
)

// Engine implements Backend. A single mutex serialises every operation, so
// sum-tree updates never race with each other or with a sample descent.
type Engine struct {
	mu sync.Mutex

	cfg         config.ReplayConfig
	buf         *buffer.Circular
	sampler     sampler.Sampler
	prioritized *sampler.Prioritized
	feedback    *sampler.Feedback
	corrector   sampler.BiasCorrector

	iteration   int
	outstanding *outstandingSample
	closed      bool

	logger  zerolog.Logger
	metrics *metrics.Collector
	rng     *rand.Rand
}

// outstandingSample remembers the generation of every sampled slot so that
// feedback for rows overwritten in the meantime can be told apart.
type outstandingSample struct {
	id          string
	generations map[int]uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithRand sets the sampling RNG.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// New creates an engine from validated hyperparameters.
func New(cfg config.ReplayConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid replay config: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		logger:    zerolog.New(io.Discard),
		corrector: sampler.BiasCorrector{BetaStart: cfg.BetaStart, BetaIterations: cfg.BetaIterations},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewCollector(prometheus.NewRegistry())
	}
	if e.rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		e.rng = rand.New(rand.NewSource(seed))
	}

	buf, err := buffer.New(cfg.Capacity, nil)
	if err != nil {
		return nil, err
	}
	e.buf = buf

	scfg := sampler.Config{
		BatchSize:      cfg.BatchSize,
		ColdStart:      cfg.ColdStart,
		ClipPriorities: cfg.ClipPriorities,
		Eps:            cfg.Eps,
	}
	if cfg.Prioritized {
		p, err := sampler.NewPrioritized(buf, scfg, e.rng)
		if err != nil {
			return nil, err
		}
		fb, err := sampler.NewFeedback(p, cfg.Alpha)
		if err != nil {
			return nil, err
		}
		e.sampler, e.prioritized, e.feedback = p, p, fb
	} else {
		u, err := sampler.NewUniform(buf, scfg, e.rng)
		if err != nil {
			return nil, err
		}
		e.sampler = u
	}

	e.logger.Info().
		Int("capacity", cfg.Capacity).
		Int("batch_size", cfg.BatchSize).
		Int("cold_start", cfg.ColdStart).
		Bool("prioritized", cfg.Prioritized).
		Interface("sampler", e.sampler.Hyperparameters()).
		Msg("Replay engine initialized")

	return e, nil
}

// Store implements Backend.Store. New rows are seeded at the running max
// priority before the call returns.
func (e *Engine) Store(ctx context.Context, batch *storage.Storage) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if batch == nil {
		return nil, storage.ErrEmpty
	}

	indices, err := e.buf.Store(batch)
	if err != nil {
		e.metrics.StoreFailed()
		e.logger.Error().Err(err).Int("rows", batch.Len()).Msg("Rejected store")
		return nil, err
	}
	if e.prioritized != nil {
		e.prioritized.Sync()
		e.metrics.Priorities(e.prioritized.Total(), e.prioritized.MaxPriority())
	}
	e.metrics.Stored(len(indices), e.buf.Len())

	e.logger.Debug().
		Int("rows", len(indices)).
		Int("size", e.buf.Len()).
		Int("write_pos", e.buf.WritePos()).
		Msg("Stored rows")

	return indices, nil
}

// Sample implements Backend.Sample. With prioritization on, the batch
// carries priorities, indices and importance weights.
func (e *Engine) Sample(ctx context.Context) (*Batch, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, false, ErrClosed
	}

	data, ok, err := e.sampler.Sample()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		e.metrics.ColdStart()
		e.logger.Debug().Int("size", e.buf.Len()).Int("cold_start", e.cfg.ColdStart).Msg("No sample before cold start")
		return nil, false, nil
	}

	var priorities, weights []float64
	beta := 1.0
	if e.prioritized != nil {
		if err := e.corrector.Apply(data, e.iteration); err != nil {
			return nil, false, err
		}
		beta = e.corrector.Beta(e.iteration)
		p, _ := data.Get(storage.FieldPriorities)
		w, _ := data.Get(storage.FieldWeights)
		priorities, weights = p.Data, w.Data
	}

	indices, _ := data.Get(storage.FieldIndices)
	generations := make(map[int]uint64, indices.Len())
	for _, idx := range indices.IntValues() {
		generations[idx] = e.buf.Generation(idx)
	}

	batch := &Batch{ID: uuid.New().String(), Iteration: e.iteration, Data: data}
	e.outstanding = &outstandingSample{id: batch.ID, generations: generations}
	e.iteration++
	e.metrics.Sampled(priorities, weights, beta)

	e.logger.Debug().
		Str("sample_id", batch.ID).
		Int("iteration", batch.Iteration).
		Float64("beta", beta).
		Msg("Sampled batch")

	return batch, true, nil
}

// UpdatePriorities implements Backend.UpdatePriorities. Feedback must refer
// to the most recent sample; an empty sampleID means exactly that. Rows
// whose slot was overwritten since sampling are skipped.
func (e *Engine) UpdatePriorities(ctx context.Context, sampleID string, indices []int, losses []float64) (FeedbackResult, error) {
	if err := ctx.Err(); err != nil {
		return FeedbackResult{}, err
	}
	if len(indices) != len(losses) {
		return FeedbackResult{}, fmt.Errorf("%w: %d vs %d", ErrMismatchedLength, len(indices), len(losses))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return FeedbackResult{}, ErrClosed
	}
	if e.feedback == nil {
		return FeedbackResult{}, ErrNotPrioritized
	}
	if e.outstanding == nil || (sampleID != "" && sampleID != e.outstanding.id) {
		return FeedbackResult{}, fmt.Errorf("%w: %q", ErrUnknownSample, sampleID)
	}

	var result FeedbackResult
	liveIdx := make([]int, 0, len(indices))
	liveLoss := make([]float64, 0, len(losses))
	for i, idx := range indices {
		gen, ok := e.outstanding.generations[idx]
		if !ok {
			return FeedbackResult{}, fmt.Errorf("%w: %d", ErrNotInSample, idx)
		}
		if gen != e.buf.Generation(idx) {
			result.Stale++
			continue
		}
		liveIdx = append(liveIdx, idx)
		liveLoss = append(liveLoss, losses[i])
	}

	if _, err := e.feedback.Update(liveIdx, liveLoss); err != nil {
		return FeedbackResult{}, err
	}
	result.Updated = len(liveIdx)

	e.metrics.Reprioritized(result.Updated, result.Stale)
	e.metrics.Priorities(e.prioritized.Total(), e.prioritized.MaxPriority())
	if result.Stale > 0 {
		e.logger.Debug().
			Str("sample_id", e.outstanding.id).
			Int("stale", result.Stale).
			Msg("Dropped feedback for overwritten rows")
	}
	return result, nil
}

// Stats implements Backend.Stats.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	stats := &Stats{
		Size:        e.buf.Len(),
		Capacity:    e.buf.Capacity(),
		TotalWrites: e.buf.TotalWrites(),
		WritePos:    e.buf.WritePos(),
		Prioritized: e.prioritized != nil,
		Beta:        1,
		Iteration:   e.iteration,
	}
	if schema := e.buf.Schema(); schema != nil {
		stats.Schema = schema.String()
	}
	if e.prioritized != nil {
		stats.TotalPriority = e.prioritized.Total()
		stats.MaxPriority = e.prioritized.MaxPriority()
		stats.Beta = e.corrector.Beta(e.iteration)
	}
	return stats, nil
}

// Priority returns the priority currently held by slot. Only meaningful with
// prioritization enabled.
func (e *Engine) Priority(slot int) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prioritized == nil {
		return 0, ErrNotPrioritized
	}
	if slot < 0 || slot >= e.buf.Capacity() {
		return 0, fmt.Errorf("%w: %d", sampler.ErrIndexOutOfRange, slot)
	}
	return e.prioritized.Priority(slot), nil
}

// Hyperparameters implements Backend.Hyperparameters.
func (e *Engine) Hyperparameters() config.ReplayConfig {
	return e.cfg
}

// Close implements Backend.Close. Buffer contents are dropped.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.outstanding = nil
	return nil
}
