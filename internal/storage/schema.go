package storage

import (
	"fmt"
	"sort"
	"strings"
)

// Field describes one named column.
type Field struct {
	Name  string
	Kind  Kind
	Shape []int
}

// Width is the number of values per row for the field.
func (f Field) Width() int {
	w := 1
	for _, d := range f.Shape {
		w *= d
	}
	return w
}

func (f Field) equal(o Field) bool {
	if f.Name != o.Name || f.Kind != o.Kind || len(f.Shape) != len(o.Shape) {
		return false
	}
	for i := range f.Shape {
		if f.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Schema is a set of fields kept sorted by name.
type Schema []Field

// NewSchema sorts the fields and rejects duplicates.
func NewSchema(fields ...Field) (Schema, error) {
	s := append(Schema(nil), fields...)
	sort.Slice(s, func(i, j int) bool { return s[i].Name < s[j].Name })
	for i := 1; i < len(s); i++ {
		if s[i].Name == s[i-1].Name {
			return nil, fmt.Errorf("%w: %s", ErrFieldExists, s[i].Name)
		}
	}
	return s, nil
}

// Equal compares names, kinds and shapes.
func (s Schema) Equal(o Schema) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].equal(o[i]) {
			return false
		}
	}
	return true
}

// Lookup finds a field by name.
func (s Schema) Lookup(name string) (Field, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].Name >= name })
	if i < len(s) && s[i].Name == name {
		return s[i], true
	}
	return Field{}, false
}

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = fmt.Sprintf("%s:%s%v", f.Name, f.Kind, f.Shape)
	}
	return "{" + strings.Join(parts, " ") + "}"
}
