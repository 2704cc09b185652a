package sampler

import (
	"fmt"
	"math"
)

// DefaultAlpha is the usual degree of prioritization.
const DefaultAlpha = 0.6

// Feedback converts per-row learner loss into priorities.
type Feedback struct {
	sampler *Prioritized
	alpha   float64
}

// NewFeedback binds the loss-to-priority rule to a sampler.
func NewFeedback(p *Prioritized, alpha float64) (*Feedback, error) {
	if alpha < 0 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("alpha must be non-negative, got %g", alpha)
	}
	return &Feedback{sampler: p, alpha: alpha}, nil
}

// Priority maps one loss value to an unclipped priority, |loss|^alpha.
func (f *Feedback) Priority(loss float64) float64 {
	return math.Pow(math.Abs(loss), f.alpha)
}

// Update reprioritizes the given slots from losses aligned 1:1 with them and
// returns the priorities actually stored.
func (f *Feedback) Update(indices []int, losses []float64) ([]float64, error) {
	if len(indices) != len(losses) {
		return nil, fmt.Errorf("mismatched lengths: %d indices vs %d losses", len(indices), len(losses))
	}
	priorities := make([]float64, len(losses))
	for i, l := range losses {
		priorities[i] = f.Priority(l)
	}
	if err := f.sampler.UpdatePriorities(indices, priorities); err != nil {
		return nil, err
	}
	for i := range priorities {
		priorities[i] = f.sampler.Clip(priorities[i])
	}
	return priorities, nil
}

// Alpha returns the prioritization exponent.
func (f *Feedback) Alpha() float64 {
	return f.alpha
}
