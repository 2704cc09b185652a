package actor

import (
	"math"
	"math/rand"
)

// RandomPolicy selects uniformly random discrete actions
type RandomPolicy struct {
	rng *rand.Rand
	n   int
}

// NewRandom creates a random policy over n actions
func NewRandom(n int, rng *rand.Rand) *RandomPolicy {
	return &RandomPolicy{rng: rng, n: n}
}

// SelectAction returns an action in [0, n)
func (p *RandomPolicy) SelectAction() int {
	return p.rng.Intn(p.n)
}

// walkEnv is a bounded random walk. Each action pushes every state
// coordinate by (action - center) / n plus noise; reward is the negative
// distance to the origin.
type walkEnv struct {
	rng        *rand.Rand
	state      []float64
	numActions int
	length     int
	t          int
}

func newWalkEnv(dim, numActions, length int, rng *rand.Rand) *walkEnv {
	e := &walkEnv{rng: rng, state: make([]float64, dim), numActions: numActions, length: length}
	e.reset()
	return e
}

func (e *walkEnv) reset() []float64 {
	for i := range e.state {
		e.state[i] = e.rng.NormFloat64()
	}
	e.t = 0
	return append([]float64(nil), e.state...)
}

// step advances the walk and reports whether the episode ended.
func (e *walkEnv) step(action int) (next []float64, reward float64, done bool) {
	center := float64(e.numActions-1) / 2
	push := (float64(action) - center) / float64(e.numActions)

	norm := 0.0
	for i := range e.state {
		e.state[i] = math.Max(-10, math.Min(10, e.state[i]+push+0.1*e.rng.NormFloat64()))
		norm += e.state[i] * e.state[i]
	}
	e.t++
	return append([]float64(nil), e.state...), -math.Sqrt(norm), e.t >= e.length
}
