package service

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cartridge/per/internal/storage"
)

// EncodeStorage converts a storage into {field: {kind, shape, data}}.
func EncodeStorage(s *storage.Storage) *structpb.Struct {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(s.Keys()))}
	for _, name := range s.Keys() {
		col, _ := s.Get(name)
		out.Fields[name] = encodeColumn(col)
	}
	return out
}

func encodeColumn(c *storage.Column) *structpb.Value {
	shape := make([]*structpb.Value, len(c.Shape))
	for i, d := range c.Shape {
		shape[i] = structpb.NewNumberValue(float64(d))
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":  structpb.NewStringValue(c.Kind.String()),
		"shape": structpb.NewListValue(&structpb.ListValue{Values: shape}),
		"data":  numberList(c.Data),
	}})
}

// DecodeStorage is the inverse of EncodeStorage. Fields are added in name
// order.
func DecodeStorage(in *structpb.Struct) (*storage.Storage, error) {
	if in == nil || len(in.Fields) == 0 {
		return nil, storage.ErrEmpty
	}
	names := make([]string, 0, len(in.Fields))
	for name := range in.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	s := storage.New()
	for _, name := range names {
		col, err := decodeColumn(in.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if err := s.Set(name, col); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func decodeColumn(v *structpb.Value) (*storage.Column, error) {
	fields := v.GetStructValue().GetFields()
	if fields == nil {
		return nil, fmt.Errorf("expected {kind, shape, data}")
	}
	kind, err := storage.ParseKind(fields["kind"].GetStringValue())
	if err != nil {
		return nil, err
	}
	shape, err := intList(fields["shape"])
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	data, err := floatList(fields["data"])
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return storage.NewColumn(kind, shape, data)
}

func numberList(values []float64) *structpb.Value {
	list := make([]*structpb.Value, len(values))
	for i, x := range values {
		list[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

func intNumberList(values []int) *structpb.Value {
	list := make([]*structpb.Value, len(values))
	for i, x := range values {
		list[i] = structpb.NewNumberValue(float64(x))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

func floatList(v *structpb.Value) ([]float64, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("expected a list")
	}
	out := make([]float64, len(list.ListValue.GetValues()))
	for i, x := range list.ListValue.GetValues() {
		n, ok := x.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

// maxExactInt is the largest integer a float64 holds exactly.
const maxExactInt = 1 << 53

func intList(v *structpb.Value) ([]int, error) {
	floats, err := floatList(v)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(floats))
	for i, f := range floats {
		if f != math.Trunc(f) || math.Abs(f) > maxExactInt {
			return nil, fmt.Errorf("element %d is not an integer: %g", i, f)
		}
		out[i] = int(f)
	}
	return out, nil
}

// toStruct converts a JSON-tagged value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromStruct fills a JSON-tagged value from a Struct.
func fromStruct(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
