package sampler

import (
	"math/rand"

	"github.com/cartridge/per/internal/buffer"
	"github.com/cartridge/per/internal/storage"
)

// Uniform samples rows with equal probability (https://arxiv.org/abs/1312.5602).
type Uniform struct {
	buf       *buffer.Circular
	rng       *rand.Rand
	batchSize int
	coldStart int
}

// NewUniform builds a uniform sampler over buf.
func NewUniform(buf *buffer.Circular, cfg Config, rng *rand.Rand) (*Uniform, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Uniform{
		buf:       buf,
		rng:       rng,
		batchSize: cfg.BatchSize,
		coldStart: cfg.ColdStart,
	}, nil
}

// Sample implements Sampler. Rows are drawn with replacement and the slot
// "indices" are attached.
func (u *Uniform) Sample() (*storage.Storage, bool, error) {
	size := u.buf.Len()
	if size == 0 || size < u.coldStart {
		return nil, false, nil
	}

	indices := make([]int, u.batchSize)
	for i := range indices {
		indices[i] = u.rng.Intn(size)
	}
	batch, err := u.buf.At(indices)
	if err != nil {
		return nil, false, err
	}
	if err := batch.Set(storage.FieldIndices, storage.Ints(indices...)); err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

// Hyperparameters implements Sampler.
func (u *Uniform) Hyperparameters() map[string]any {
	return map[string]any{"batch_size": u.batchSize, "cold_start": u.coldStart}
}
