// Package rollout groups the per-step batches produced by parallel
// environments into larger storages before they are sent to replay.
package rollout

import (
	"fmt"

	"github.com/cartridge/per/internal/storage"
)

// Collector buffers step batches until Length of them have arrived. Every
// step must share the schema of the first one.
type Collector struct {
	length int
	steps  []*storage.Storage
	schema storage.Schema
}

// NewCollector creates a collector that emits every length steps.
func NewCollector(length int) (*Collector, error) {
	if length <= 0 {
		return nil, fmt.Errorf("rollout length must be positive, got %d", length)
	}
	return &Collector{length: length, steps: make([]*storage.Storage, 0, length)}, nil
}

// Add appends one step. When the rollout is complete the concatenated
// storage is returned and the collector starts over.
func (c *Collector) Add(step *storage.Storage) (*storage.Storage, bool, error) {
	if step == nil || step.Len() == 0 {
		return nil, false, storage.ErrEmpty
	}
	schema := step.Schema()
	if c.schema == nil {
		c.schema = schema
	} else if !c.schema.Equal(schema) {
		return nil, false, fmt.Errorf("%w: step has schema %s, want %s", storage.ErrShapeMismatch, schema, c.schema)
	}

	c.steps = append(c.steps, step)
	if len(c.steps) < c.length {
		return nil, false, nil
	}
	out, err := c.Flush()
	return out, err == nil, err
}

// Flush returns whatever has been collected so far, possibly a partial
// rollout. It returns nil when nothing is pending.
func (c *Collector) Flush() (*storage.Storage, error) {
	if len(c.steps) == 0 {
		return nil, nil
	}
	out, err := storage.FromList(c.steps)
	c.steps = c.steps[:0]
	return out, err
}

// Pending is the number of steps waiting.
func (c *Collector) Pending() int {
	return len(c.steps)
}

// Length is the number of steps per rollout.
func (c *Collector) Length() int {
	return c.length
}
