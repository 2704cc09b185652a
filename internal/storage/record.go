package storage

import "fmt"

// Standard field names exchanged with actors and learners.
const (
	FieldStates     = "states"
	FieldActions    = "actions"
	FieldRewards    = "rewards"
	FieldNextStates = "next_states"
	FieldDiscounts  = "discounts"

	FieldPriorities = "priorities"
	FieldIndices    = "indices"
	FieldWeights    = "weights"
)

// Record represents a single experience transition. Discount already folds
// in gamma and the episode-termination flag: gamma * (1 - done).
type Record struct {
	State     []float64 `json:"state"`
	Action    []float64 `json:"action"`
	Reward    float64   `json:"reward"`
	NextState []float64 `json:"next_state"`
	Discount  float64   `json:"discount"`
}

// FromRecords stacks records into a storage with the standard fields.
// Single-value actions become a scalar column.
func FromRecords(records []Record, actionKind Kind) (*Storage, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	stateDim := len(records[0].State)
	actionDim := len(records[0].Action)
	if stateDim == 0 || actionDim == 0 {
		return nil, fmt.Errorf("record 0: empty state or action")
	}

	states := make([]float64, 0, len(records)*stateDim)
	next := make([]float64, 0, len(records)*stateDim)
	actions := make([]float64, 0, len(records)*actionDim)
	rewards := make([]float64, 0, len(records))
	discounts := make([]float64, 0, len(records))
	for i, r := range records {
		if len(r.State) != stateDim || len(r.NextState) != stateDim {
			return nil, fmt.Errorf("%w: record %d state dims %d/%d, want %d", ErrShapeMismatch, i, len(r.State), len(r.NextState), stateDim)
		}
		if len(r.Action) != actionDim {
			return nil, fmt.Errorf("%w: record %d action dim %d, want %d", ErrShapeMismatch, i, len(r.Action), actionDim)
		}
		states = append(states, r.State...)
		next = append(next, r.NextState...)
		actions = append(actions, r.Action...)
		rewards = append(rewards, r.Reward)
		discounts = append(discounts, r.Discount)
	}

	var actionShape []int
	if actionDim > 1 {
		actionShape = []int{actionDim}
	}
	s := New()
	for _, f := range []struct {
		name string
		col  *Column
	}{
		{FieldStates, &Column{Kind: KindFloat, Shape: []int{stateDim}, Data: states}},
		{FieldActions, &Column{Kind: actionKind, Shape: actionShape, Data: actions}},
		{FieldRewards, Floats(rewards...)},
		{FieldNextStates, &Column{Kind: KindFloat, Shape: []int{stateDim}, Data: next}},
		{FieldDiscounts, Floats(discounts...)},
	} {
		if err := s.Set(f.name, f.col); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Records converts the standard fields back into records. Extra fields are
// ignored.
func (s *Storage) Records() ([]Record, error) {
	cols := make([]*Column, 0, 5)
	for _, name := range []string{FieldStates, FieldActions, FieldRewards, FieldNextStates, FieldDiscounts} {
		col, ok := s.cols[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, name)
		}
		cols = append(cols, col)
	}

	out := make([]Record, s.Len())
	for i := range out {
		out[i] = Record{
			State:     append([]float64(nil), cols[0].Row(i)...),
			Action:    append([]float64(nil), cols[1].Row(i)...),
			Reward:    cols[2].Data[i],
			NextState: append([]float64(nil), cols[3].Row(i)...),
			Discount:  cols[4].Data[i],
		}
	}
	return out, nil
}
