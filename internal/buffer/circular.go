// Package buffer implements the fixed-capacity circular replay memory.
package buffer

import (
	"errors"
	"fmt"

	"github.com/cartridge/per/internal/storage"
)

// MaxValues bounds the float64 values a buffer preallocates across all
// fields and slots.
const MaxValues = 1 << 27

var (
	ErrSchemaMismatch  = errors.New("replay buffer schema mismatch")
	ErrIndexOutOfRange = errors.New("replay buffer index out of range")
	ErrTooLarge        = errors.New("replay buffer rows too large for capacity")
	ErrReservedField   = errors.New("field name is reserved for sampled batches")
)

// reserved fields are attached by the samplers and may not be stored.
var reserved = []string{storage.FieldPriorities, storage.FieldIndices, storage.FieldWeights}

// Circular stores rows column-wise in preallocated arrays and overwrites the
// oldest slot once full. It is not safe for concurrent use; the replay
// engine serialises access.
type Circular struct {
	capacity    int
	writePos    int
	totalWrites uint64

	schema  storage.Schema
	columns map[string][]float64

	// generation[i] counts writes to slot i, so a reader can tell whether
	// the row it saw is still the one physically stored there.
	generation []uint64
}

// New creates a buffer. A nil schema is registered from the first Store.
func New(capacity int, schema storage.Schema) (*Circular, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	c := &Circular{
		capacity:   capacity,
		generation: make([]uint64, capacity),
	}
	if schema != nil {
		if err := c.allocate(schema); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Circular) allocate(schema storage.Schema) error {
	width := 0
	for _, f := range schema {
		for _, name := range reserved {
			if f.Name == name {
				return fmt.Errorf("%w: %s", ErrReservedField, name)
			}
		}
		w, err := storage.ShapeWidth(f.Shape)
		if err != nil {
			return err
		}
		width += w
	}
	if width > MaxValues/c.capacity {
		return fmt.Errorf("%w: %d values per row, capacity %d", ErrTooLarge, width, c.capacity)
	}

	c.schema = schema
	c.columns = make(map[string][]float64, len(schema))
	for _, f := range schema {
		c.columns[f.Name] = make([]float64, c.capacity*f.Width())
	}
	return nil
}

// Store writes every row of s at the cursor, advancing it modulo capacity,
// and returns the slots written in order.
func (c *Circular) Store(s *storage.Storage) ([]int, error) {
	if s.Len() == 0 {
		return nil, nil
	}
	got := s.Schema()
	if c.schema == nil {
		if err := c.allocate(got); err != nil {
			return nil, err
		}
	} else if !c.schema.Equal(got) {
		return nil, fmt.Errorf("%w: expected %s, received %s", ErrSchemaMismatch, c.schema, got)
	}

	n := s.Len()
	indices := make([]int, n)
	for row := 0; row < n; row++ {
		slot := c.writePos
		for _, f := range c.schema {
			col, _ := s.Get(f.Name)
			w := f.Width()
			copy(c.columns[f.Name][slot*w:(slot+1)*w], col.Row(row))
		}
		c.generation[slot]++
		indices[row] = slot

		c.writePos = (c.writePos + 1) % c.capacity
		c.totalWrites++
	}
	return indices, nil
}

// At gathers rows into a fresh storage. Nothing returned aliases the
// buffer's arrays.
func (c *Circular) At(indices []int) (*storage.Storage, error) {
	if c.schema == nil {
		return nil, fmt.Errorf("%w: buffer is empty", ErrIndexOutOfRange)
	}
	size := c.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= size {
			return nil, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, idx, size)
		}
	}

	out := storage.New()
	for _, f := range c.schema {
		w := f.Width()
		src := c.columns[f.Name]
		data := make([]float64, 0, len(indices)*w)
		for _, idx := range indices {
			data = append(data, src[idx*w:(idx+1)*w]...)
		}
		col := &storage.Column{Kind: f.Kind, Shape: append([]int(nil), f.Shape...), Data: data}
		if err := out.Set(f.Name, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Len is min(total writes, capacity).
func (c *Circular) Len() int {
	if c.totalWrites < uint64(c.capacity) {
		return int(c.totalWrites)
	}
	return c.capacity
}

// Capacity is the fixed number of slots.
func (c *Circular) Capacity() int {
	return c.capacity
}

// WritePos is the slot the next row will be written to.
func (c *Circular) WritePos() int {
	return c.writePos
}

// TotalWrites counts every row ever stored.
func (c *Circular) TotalWrites() uint64 {
	return c.totalWrites
}

// Generation returns how many times slot has been written.
func (c *Circular) Generation(slot int) uint64 {
	return c.generation[slot]
}

// Schema returns the registered schema, nil before the first store.
func (c *Circular) Schema() storage.Schema {
	return c.schema
}
