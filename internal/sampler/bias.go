package sampler

import (
	"errors"
	"math"

	"github.com/cartridge/per/internal/storage"
)

var ErrNoPriorities = errors.New("sample has no priorities")

// BiasCorrector turns sampled priorities into importance-sampling weights.
// Beta is annealed linearly from BetaStart to 1 over BetaIterations training
// iterations.
type BiasCorrector struct {
	BetaStart      float64
	BetaIterations int
}

// Beta returns the correction exponent at iteration t.
func (b BiasCorrector) Beta(t int) float64 {
	if b.BetaIterations <= 0 {
		return 1
	}
	return math.Min(1, b.BetaStart+float64(t)*(1-b.BetaStart)/float64(b.BetaIterations))
}

// Weights computes p_i^-beta / p_min^-beta. The lowest priority in the
// sample gets weight exactly 1 and every other weight is below it.
func (b BiasCorrector) Weights(priorities []float64, t int) []float64 {
	weights := make([]float64, len(priorities))
	if len(priorities) == 0 {
		return weights
	}
	minP := priorities[0]
	for _, p := range priorities[1:] {
		if p < minP {
			minP = p
		}
	}

	beta := b.Beta(t)
	for i, p := range priorities {
		if minP <= 0 {
			weights[i] = 1
			continue
		}
		weights[i] = math.Pow(p/minP, -beta)
	}
	return weights
}

// Apply attaches a "weights" field computed from the sample's priorities.
func (b BiasCorrector) Apply(s *storage.Storage, t int) error {
	col, ok := s.Get(storage.FieldPriorities)
	if !ok {
		return ErrNoPriorities
	}
	return s.Set(storage.FieldWeights, storage.Floats(b.Weights(col.Data, t)...))
}

// Hyperparameters reports the annealing schedule.
func (b BiasCorrector) Hyperparameters() map[string]any {
	return map[string]any{"beta_start": b.BetaStart, "beta_iterations": b.BetaIterations}
}
