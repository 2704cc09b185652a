package actor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/per/internal/replay"
	"github.com/cartridge/per/internal/storage"
)

// fieldLosses holds the per-row TD errors attached to a sampled batch.
const fieldLosses = "losses"

// LearnerStats summarises a learner run.
type LearnerStats struct {
	Iterations int     `json:"iterations"`
	ColdStarts int     `json:"cold_starts"`
	Updated    int     `json:"updated"`
	Stale      int     `json:"stale"`
	LastLoss   float64 `json:"last_loss"`
}

// Learner samples batches, scores them with a fixed value estimate and
// reports the TD errors back as priorities.
type Learner struct {
	cfg    LearnerConfig
	replay Replay
	logger zerolog.Logger
	stats  LearnerStats
}

// NewLearner creates a learner over r.
func NewLearner(cfg LearnerConfig, r Replay, logger zerolog.Logger) (*Learner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid learner config: %w", err)
	}
	return &Learner{cfg: cfg, replay: r, logger: logger}, nil
}

// Run samples until MaxIterations batches have been processed or ctx ends.
func (l *Learner) Run(ctx context.Context) error {
	for l.cfg.MaxIterations < 0 || l.stats.Iterations < l.cfg.MaxIterations {
		batch, ok, err := l.replay.Sample(ctx)
		if err != nil {
			return fmt.Errorf("sample: %w", err)
		}
		if !ok {
			l.stats.ColdStarts++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.cfg.PollInterval):
			}
			continue
		}
		if err := l.train(ctx, batch); err != nil {
			return err
		}
	}
	l.logger.Info().
		Int("iterations", l.stats.Iterations).
		Int("updated", l.stats.Updated).
		Int("stale", l.stats.Stale).
		Msg("Learner finished")
	return nil
}

func (l *Learner) train(ctx context.Context, batch *replay.Batch) error {
	losses, err := tdErrors(batch.Data)
	if err != nil {
		return err
	}
	if err := batch.Data.Set(fieldLosses, storage.Floats(losses...)); err != nil {
		return err
	}
	// Weighted by importance when the batch carries weights.
	loss, err := batch.Data.Average(fieldLosses)
	if err != nil {
		return err
	}

	l.stats.Iterations++
	l.stats.LastLoss = loss

	// Uniform batches carry no priorities and take no feedback.
	if batch.Data.Has(storage.FieldPriorities) {
		idx, ok := batch.Data.Get(storage.FieldIndices)
		if !ok {
			return fmt.Errorf("%w: %s", storage.ErrFieldNotFound, storage.FieldIndices)
		}
		result, err := l.replay.UpdatePriorities(ctx, batch.ID, idx.IntValues(), losses)
		if err != nil {
			return fmt.Errorf("update priorities: %w", err)
		}
		l.stats.Updated += result.Updated
		l.stats.Stale += result.Stale
	}

	if l.stats.Iterations%l.cfg.LogEvery == 0 {
		l.logger.Info().
			Int("iteration", l.stats.Iterations).
			Float64("loss", loss).
			Int("stale", l.stats.Stale).
			Msg("Learner progress")
	}
	return nil
}

// Stats returns the counters of the run so far.
func (l *Learner) Stats() LearnerStats {
	return l.stats
}

// tdErrors computes |r + d*V(s') - V(s)| per row with V(s) = -|s|, the
// value the walk environment's reward is built around.
func tdErrors(s *storage.Storage) ([]float64, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = math.Abs(r.Reward + r.Discount*value(r.NextState) - value(r.State))
	}
	return out, nil
}

func value(state []float64) float64 {
	norm := 0.0
	for _, x := range state {
		norm += x * x
	}
	return -math.Sqrt(norm)
}
