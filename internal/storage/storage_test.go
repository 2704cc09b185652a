package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		f := float64(i)
		records[i] = Record{
			State:     []float64{f, f + 0.5},
			Action:    []float64{f},
			Reward:    f * 10,
			NextState: []float64{f + 1, f + 1.5},
			Discount:  0.99,
		}
	}
	return records
}

func TestStorage_SetRefusesOverwrite(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("b", Floats(3, 4, 5)))

	err := s.Set("b", Floats(1, 2, 3))
	assert.ErrorIs(t, err, ErrFieldExists)

	require.NoError(t, s.Rewrite("b", Floats(1, 2, 3)))
	col, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3}, col.Data)

	assert.ErrorIs(t, s.Rewrite("missing", Floats(1, 2, 3)), ErrFieldNotFound)
}

func TestStorage_SetLengthMismatch(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("b", Floats(3, 4, 5)))
	assert.ErrorIs(t, s.Set("c", Floats(1, 2)), ErrLengthMismatch)
	assert.Equal(t, 3, s.Len())
}

func TestStorage_Subset(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("b", Floats(3, 4, 5)))
	require.NoError(t, s.Set("c", &Column{Kind: KindFloat, Shape: []int{7, 4}, Data: make([]float64, 3*28)}))
	require.NoError(t, s.Set("d", Floats(-1, -2, -3)))

	sub, err := s.Subset("b", "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, sub.Keys())

	_, err = s.Subset("b", "zzz")
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestStorage_Batch(t *testing.T) {
	s, err := FromRecords(testRecords(4), KindInt)
	require.NoError(t, err)

	b, err := s.Batch([]int{3, 1})
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())

	states, _ := b.Get(FieldStates)
	assert.Equal(t, []float64{3, 3.5, 1, 1.5}, states.Data)

	// Batch copies: mutating the result leaves the source intact.
	states.Data[0] = 100
	src, _ := s.Get(FieldStates)
	assert.Equal(t, 3.0, src.Row(3)[0])

	_, err = s.Batch([]int{4})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestStorage_TransitionsAndFromList(t *testing.T) {
	s, err := FromRecords(testRecords(3), KindInt)
	require.NoError(t, err)

	rows := s.Transitions()
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, 1, row.Len())
		rewards, _ := row.Get(FieldRewards)
		assert.Equal(t, float64(i)*10, rewards.Data[0])
	}

	joined, err := FromList(rows)
	require.NoError(t, err)
	assert.Equal(t, s.Schema(), joined.Schema())
	records, err := joined.Records()
	require.NoError(t, err)
	assert.Equal(t, testRecords(3), records)
}

func TestFromList_SchemaMismatch(t *testing.T) {
	a := New()
	require.NoError(t, a.Set("x", Floats(1)))
	b := New()
	require.NoError(t, b.Set("x", Ints(1)))

	_, err := FromList([]*Storage{a, b})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = FromList(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestStorage_Average(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("loss", Floats(1, 2, 3, 6)))

	avg, err := s.Average("loss")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, avg, 1e-12)

	require.NoError(t, s.Set(FieldWeights, Floats(1, 0.5, 0.5, 0.25)))
	avg, err = s.Average("loss")
	require.NoError(t, err)
	assert.InDelta(t, 1+1+1.5+1.5, avg, 1e-12)
}

func TestStorage_AverageShapeChecks(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("vec", &Column{Kind: KindFloat, Shape: []int{2}, Data: []float64{1, 2, 3, 4}}))
	_, err := s.Average("vec")
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = s.Average("missing")
	assert.ErrorIs(t, err, ErrFieldNotFound)

	w := New()
	require.NoError(t, w.Set("loss", Floats(1, 2)))
	require.NoError(t, w.Set(FieldWeights, &Column{Kind: KindFloat, Shape: []int{2}, Data: []float64{1, 1, 1, 1}}))
	_, err = w.Average("loss")
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFromRecords_Validation(t *testing.T) {
	_, err := FromRecords(nil, KindInt)
	assert.ErrorIs(t, err, ErrEmpty)

	records := testRecords(2)
	records[1].State = []float64{1}
	_, err = FromRecords(records, KindInt)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSchema_EqualIgnoresOrder(t *testing.T) {
	a := New()
	require.NoError(t, a.Set("x", Floats(1)))
	require.NoError(t, a.Set("y", Ints(1)))
	b := New()
	require.NoError(t, b.Set("y", Ints(2)))
	require.NoError(t, b.Set("x", Floats(2)))

	assert.True(t, a.Schema().Equal(b.Schema()))

	f, ok := a.Schema().Lookup("y")
	require.True(t, ok)
	assert.Equal(t, KindInt, f.Kind)
}

func TestNewColumn(t *testing.T) {
	_, err := NewColumn(KindFloat, []int{3}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = NewColumn(KindFloat, []int{0}, nil)
	assert.Error(t, err)

	col, err := NewColumn(KindInt, []int{2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 2, col.Len())
	assert.Equal(t, []float64{3, 4}, col.Row(1))
}

func TestNewColumn_RejectsOversizedShapes(t *testing.T) {
	for name, shape := range map[string][]int{
		"overflowing product": {1 << 32, 1 << 32},
		"wide single dim":     {MaxRowWidth + 1},
		"wide product":        {1 << 11, 1 << 10},
		"negative dim":        {4, -1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewColumn(KindFloat, shape, []float64{1, 2})
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})
	}

	width, err := ShapeWidth([]int{1 << 10, 1 << 10})
	require.NoError(t, err)
	assert.Equal(t, MaxRowWidth, width)
}

func TestStorage_SetRejectsInvalidShape(t *testing.T) {
	s := New()
	err := s.Set("bad", &Column{Kind: KindFloat, Shape: []int{0}, Data: []float64{1}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.False(t, s.Has("bad"))

	assert.Zero(t, (&Column{Kind: KindFloat, Shape: []int{0}}).Len())
}
