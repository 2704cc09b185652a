package storage

import (
	"fmt"
	"math"
)

// Kind is the element type of a column.
type Kind uint8

const (
	KindFloat Kind = iota
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "float":
		return KindFloat, nil
	case "int":
		return KindInt, nil
	case "bool":
		return KindBool, nil
	default:
		return 0, fmt.Errorf("unknown column kind %q", s)
	}
}

// Column is a batched array: Len rows, each holding Width values laid out
// row-major in Data. Ints and bools are stored as float64.
type Column struct {
	Kind  Kind
	Shape []int
	Data  []float64
}

// MaxRowWidth bounds the number of values a single row may hold.
const MaxRowWidth = 1 << 20

// NewColumn validates that data holds a whole number of rows of the given shape.
func NewColumn(kind Kind, shape []int, data []float64) (*Column, error) {
	width, err := ShapeWidth(shape)
	if err != nil {
		return nil, err
	}
	if len(data)%width != 0 {
		return nil, fmt.Errorf("%w: %d values do not fill rows of width %d", ErrLengthMismatch, len(data), width)
	}
	return &Column{Kind: kind, Shape: append([]int(nil), shape...), Data: data}, nil
}

// ShapeWidth returns the number of values in one row of the given shape.
// Non-positive dimensions and widths above MaxRowWidth are rejected, which
// also rules out overflow of the product.
func ShapeWidth(shape []int) (int, error) {
	width := 1
	for _, d := range shape {
		if d <= 0 || d > MaxRowWidth/width {
			return 0, fmt.Errorf("%w: invalid column shape %v", ErrShapeMismatch, shape)
		}
		width *= d
	}
	return width, nil
}

// Floats builds a scalar float column.
func Floats(values ...float64) *Column {
	return &Column{Kind: KindFloat, Data: values}
}

// Ints builds a scalar int column.
func Ints(values ...int) *Column {
	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = float64(v)
	}
	return &Column{Kind: KindInt, Data: data}
}

// Bools builds a scalar bool column.
func Bools(values ...bool) *Column {
	data := make([]float64, len(values))
	for i, v := range values {
		if v {
			data[i] = 1
		}
	}
	return &Column{Kind: KindBool, Data: data}
}

// Width is the number of values per row.
func (c *Column) Width() int {
	w := 1
	for _, d := range c.Shape {
		w *= d
	}
	return w
}

// Len is the number of rows. A column with an empty dimension has none.
func (c *Column) Len() int {
	w := c.Width()
	if w <= 0 {
		return 0
	}
	return len(c.Data) / w
}

// Scalar reports whether each row holds a single value.
func (c *Column) Scalar() bool {
	return c.Width() == 1
}

// Row returns a view of row i. The view cannot grow into the next row.
func (c *Column) Row(i int) []float64 {
	w := c.Width()
	return c.Data[i*w : (i+1)*w : (i+1)*w]
}

// Int returns row i of a scalar column as an int.
func (c *Column) Int(i int) int {
	return int(math.Round(c.Data[i]))
}

// IntValues returns the column as ints. Only meaningful for scalar columns.
func (c *Column) IntValues() []int {
	out := make([]int, c.Len())
	for i := range out {
		out[i] = c.Int(i)
	}
	return out
}

// Clone deep-copies the column.
func (c *Column) Clone() *Column {
	return &Column{
		Kind:  c.Kind,
		Shape: append([]int(nil), c.Shape...),
		Data:  append([]float64(nil), c.Data...),
	}
}

// Gather copies the listed rows into a new column.
func (c *Column) Gather(indices []int) (*Column, error) {
	w := c.Width()
	n := c.Len()
	data := make([]float64, 0, len(indices)*w)
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, idx, n)
		}
		data = append(data, c.Data[idx*w:(idx+1)*w]...)
	}
	return &Column{Kind: c.Kind, Shape: append([]int(nil), c.Shape...), Data: data}, nil
}

func (c *Column) field(name string) Field {
	return Field{Name: name, Kind: c.Kind, Shape: append([]int(nil), c.Shape...)}
}
