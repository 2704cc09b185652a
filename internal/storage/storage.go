// Package storage provides the columnar container that moves experience
// between actors, the replay buffer and learners.
package storage

import (
	"errors"
	"fmt"
)

var (
	ErrFieldExists     = errors.New("field already exists")
	ErrFieldNotFound   = errors.New("field not found")
	ErrLengthMismatch  = errors.New("field length mismatch")
	ErrShapeMismatch   = errors.New("field shape mismatch")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrEmpty           = errors.New("storage is empty")
)

// Storage maps field names to equal-length columns. Fields keep their
// insertion order. Once set, a field is only replaced through Rewrite.
type Storage struct {
	keys []string
	cols map[string]*Column
}

// New creates an empty storage.
func New() *Storage {
	return &Storage{cols: make(map[string]*Column)}
}

// FromColumns builds a storage from parallel name/column slices.
func FromColumns(names []string, cols []*Column) (*Storage, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("mismatched lengths: %d names vs %d columns", len(names), len(cols))
	}
	s := New()
	for i, name := range names {
		if err := s.Set(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Set adds a new field.
func (s *Storage) Set(name string, col *Column) error {
	if col == nil {
		return fmt.Errorf("field %s: nil column", name)
	}
	if _, err := ShapeWidth(col.Shape); err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	if _, ok := s.cols[name]; ok {
		return fmt.Errorf("%w: %s", ErrFieldExists, name)
	}
	if len(s.keys) > 0 && col.Len() != s.Len() {
		return fmt.Errorf("%w: %s has %d rows, storage has %d", ErrLengthMismatch, name, col.Len(), s.Len())
	}
	s.keys = append(s.keys, name)
	s.cols[name] = col
	return nil
}

// Rewrite replaces an existing field.
func (s *Storage) Rewrite(name string, col *Column) error {
	if col == nil {
		return fmt.Errorf("field %s: nil column", name)
	}
	if _, err := ShapeWidth(col.Shape); err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	if _, ok := s.cols[name]; !ok {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, name)
	}
	if len(s.keys) > 1 && col.Len() != s.Len() {
		return fmt.Errorf("%w: %s has %d rows, storage has %d", ErrLengthMismatch, name, col.Len(), s.Len())
	}
	s.cols[name] = col
	return nil
}

// Get returns the named column.
func (s *Storage) Get(name string) (*Column, bool) {
	col, ok := s.cols[name]
	return col, ok
}

// Has reports whether the field is present.
func (s *Storage) Has(name string) bool {
	_, ok := s.cols[name]
	return ok
}

// Keys returns field names in insertion order.
func (s *Storage) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Len is the shared leading (batch) length.
func (s *Storage) Len() int {
	if len(s.keys) == 0 {
		return 0
	}
	return s.cols[s.keys[0]].Len()
}

// Schema describes the fields of the storage.
func (s *Storage) Schema() Schema {
	fields := make([]Field, 0, len(s.keys))
	for _, k := range s.keys {
		fields = append(fields, s.cols[k].field(k))
	}
	schema, _ := NewSchema(fields...)
	return schema
}

// Subset returns a storage holding only the given keys. Columns are shared.
func (s *Storage) Subset(keys ...string) (*Storage, error) {
	out := New()
	for _, k := range keys {
		col, ok := s.cols[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, k)
		}
		if err := out.Set(k, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Batch gathers the given rows into a fresh storage.
func (s *Storage) Batch(indices []int) (*Storage, error) {
	out := New()
	for _, k := range s.keys {
		col, err := s.cols[k].Gather(indices)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out.keys = append(out.keys, k)
		out.cols[k] = col
	}
	return out, nil
}

// Transitions splits the storage into single-row views.
func (s *Storage) Transitions() []*Storage {
	n := s.Len()
	rows := make([]*Storage, n)
	for i := 0; i < n; i++ {
		row := New()
		for _, k := range s.keys {
			col := s.cols[k]
			row.keys = append(row.keys, k)
			row.cols[k] = &Column{Kind: col.Kind, Shape: col.Shape, Data: col.Row(i)}
		}
		rows[i] = row
	}
	return rows
}

// Clone deep-copies every column.
func (s *Storage) Clone() *Storage {
	out := New()
	for _, k := range s.keys {
		out.keys = append(out.keys, k)
		out.cols[k] = s.cols[k].Clone()
	}
	return out
}

// Average returns the mean of a scalar field. If the storage carries a
// "weights" field, the result is instead the weighted sum Σ wᵢ·xᵢ.
func (s *Storage) Average(field string) (float64, error) {
	col, ok := s.cols[field]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrFieldNotFound, field)
	}
	if !col.Scalar() {
		return 0, fmt.Errorf("%w: %s has shape %v, want scalar", ErrShapeMismatch, field, col.Shape)
	}
	n := col.Len()
	if n == 0 {
		return 0, ErrEmpty
	}

	weights, weighted := s.cols[FieldWeights]
	if weighted && field != FieldWeights {
		if !weights.Scalar() || weights.Len() != n {
			return 0, fmt.Errorf("%w: weights do not correspond to %s", ErrShapeMismatch, field)
		}
	} else {
		weighted = false
	}

	var sum float64
	for i, v := range col.Data {
		if weighted {
			v *= weights.Data[i]
		}
		sum += v
	}
	if weighted {
		return sum, nil
	}
	return sum / float64(n), nil
}

// FromList concatenates storages along the batch axis. All parts must share
// one schema.
func FromList(parts []*Storage) (*Storage, error) {
	if len(parts) == 0 {
		return nil, ErrEmpty
	}
	schema := parts[0].Schema()
	total := 0
	for i, p := range parts {
		if !p.Schema().Equal(schema) {
			return nil, fmt.Errorf("%w: part %d has schema %s, want %s", ErrShapeMismatch, i, p.Schema(), schema)
		}
		total += p.Len()
	}

	out := New()
	for _, k := range parts[0].keys {
		first := parts[0].cols[k]
		data := make([]float64, 0, total*first.Width())
		for _, p := range parts {
			data = append(data, p.cols[k].Data...)
		}
		out.keys = append(out.keys, k)
		out.cols[k] = &Column{Kind: first.Kind, Shape: append([]int(nil), first.Shape...), Data: data}
	}
	return out, nil
}
