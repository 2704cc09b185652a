// Package sampler draws mini-batches from the replay buffer, uniformly or
// proportionally to per-row priorities (https://arxiv.org/abs/1511.05952).
package sampler

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cartridge/per/internal/buffer"
	"github.com/cartridge/per/internal/storage"
	"github.com/cartridge/per/internal/sumtree"
)

// DefaultEps is the priority floor that keeps every row samplable.
const DefaultEps = 1e-5

var ErrIndexOutOfRange = errors.New("sampler index out of range")

// Sampler produces mini-batches. ok is false while the buffer holds fewer
// rows than the cold-start threshold.
type Sampler interface {
	Sample() (batch *storage.Storage, ok bool, err error)
	Hyperparameters() map[string]any
}

// Config holds the parameters shared by both samplers.
type Config struct {
	BatchSize      int
	ColdStart      int
	ClipPriorities float64
	Eps            float64
}

func (c Config) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.ColdStart < c.BatchSize {
		return fmt.Errorf("cold_start (%d) must be at least batch_size (%d)", c.ColdStart, c.BatchSize)
	}
	return nil
}

// Prioritized samples rows with probability proportional to their priority.
// New rows enter at the running maximum priority so they are seen at least
// once before the learner has scored them.
type Prioritized struct {
	buf  *buffer.Circular
	tree *sumtree.Tree
	rng  *rand.Rand

	batchSize int
	coldStart int
	clip      float64
	eps       float64

	maxPriority float64
	synced      uint64
}

// NewPrioritized builds a sampler over buf. The priority tree is sized to
// the buffer's capacity.
func NewPrioritized(buf *buffer.Circular, cfg Config, rng *rand.Rand) (*Prioritized, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Eps <= 0 {
		cfg.Eps = DefaultEps
	}
	if cfg.ClipPriorities <= 0 {
		cfg.ClipPriorities = 1
	}
	if cfg.Eps > cfg.ClipPriorities {
		return nil, fmt.Errorf("eps (%g) must not exceed clip_priorities (%g)", cfg.Eps, cfg.ClipPriorities)
	}
	return &Prioritized{
		buf:         buf,
		tree:        sumtree.New(buf.Capacity()),
		rng:         rng,
		batchSize:   cfg.BatchSize,
		coldStart:   cfg.ColdStart,
		clip:        cfg.ClipPriorities,
		eps:         cfg.Eps,
		maxPriority: 1.0,
	}, nil
}

// Sync seeds every slot written since the previous call with the current
// max priority, replacing whatever the evicted row had. It assumes slots
// were written in cursor order, which holds as long as one writer owns the
// buffer. Returns the number of slots seeded.
func (p *Prioritized) Sync() int {
	written := p.buf.TotalWrites()
	pending := written - p.synced
	capacity := uint64(p.buf.Capacity())
	if pending > capacity {
		pending = capacity
	}

	start := (uint64(p.buf.WritePos()) + capacity - pending) % capacity
	for i := uint64(0); i < pending; i++ {
		p.tree.Update(int((start+i)%capacity), p.maxPriority)
	}
	p.synced = written
	return int(pending)
}

// Sample draws batchSize independent rows. The returned storage carries the
// raw "priorities" and the slot "indices" of every row.
func (p *Prioritized) Sample() (*storage.Storage, bool, error) {
	p.Sync()
	size := p.buf.Len()
	if size == 0 || size < p.coldStart {
		return nil, false, nil
	}

	total := p.tree.Total()
	indices := make([]int, p.batchSize)
	priorities := make([]float64, p.batchSize)
	for i := range indices {
		idx := p.tree.Sample(p.rng.Float64() * total)
		indices[i] = idx
		priorities[i] = p.tree.Get(idx)
	}

	batch, err := p.buf.At(indices)
	if err != nil {
		return nil, false, err
	}
	if err := batch.Set(storage.FieldPriorities, storage.Floats(priorities...)); err != nil {
		return nil, false, err
	}
	if err := batch.Set(storage.FieldIndices, storage.Ints(indices...)); err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

// UpdatePriorities stores new priorities for the given slots, clipped into
// [eps, clip]. The running maximum only grows.
func (p *Prioritized) UpdatePriorities(indices []int, priorities []float64) error {
	if len(indices) != len(priorities) {
		return fmt.Errorf("mismatched lengths: %d indices vs %d priorities", len(indices), len(priorities))
	}
	size := p.buf.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= size {
			return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, idx, size)
		}
	}

	for i, idx := range indices {
		v := p.Clip(priorities[i])
		p.tree.Update(idx, v)
		if v > p.maxPriority {
			p.maxPriority = v
		}
	}
	return nil
}

// Clip bounds a raw priority into [eps, clip]. NaN maps to eps.
func (p *Prioritized) Clip(v float64) float64 {
	if math.IsNaN(v) {
		return p.eps
	}
	return math.Min(math.Max(v, p.eps), p.clip)
}

// Priority returns the priority currently stored for slot.
func (p *Prioritized) Priority(slot int) float64 {
	return p.tree.Get(slot)
}

// MaxPriority is the priority given to newly stored rows.
func (p *Prioritized) MaxPriority() float64 {
	return p.maxPriority
}

// Total is the sum of all priorities.
func (p *Prioritized) Total() float64 {
	return p.tree.Total()
}

// Hyperparameters implements Sampler.
func (p *Prioritized) Hyperparameters() map[string]any {
	return map[string]any{
		"batch_size":      p.batchSize,
		"cold_start":      p.coldStart,
		"clip_priorities": p.clip,
		"eps":             p.eps,
	}
}
