package replay

import (
	"context"

	"github.com/cartridge/per/internal/config"
	"github.com/cartridge/per/internal/storage"
)

// Batch is one mini-batch handed to a learner.
type Batch struct {
	ID        string           `json:"id"`
	Iteration int              `json:"iteration"`
	Data      *storage.Storage `json:"-"`
}

// FeedbackResult reports what a priority update did.
type FeedbackResult struct {
	Updated int `json:"updated"`
	// Stale rows were overwritten after sampling; their feedback is dropped.
	Stale int `json:"stale"`
}

// Stats represents replay buffer statistics
type Stats struct {
	Size          int     `json:"size"`
	Capacity      int     `json:"capacity"`
	TotalWrites   uint64  `json:"total_writes"`
	WritePos      int     `json:"write_pos"`
	Prioritized   bool    `json:"prioritized"`
	TotalPriority float64 `json:"total_priority"`
	MaxPriority   float64 `json:"max_priority"`
	Beta          float64 `json:"beta"`
	Iteration     int     `json:"iteration"`
	Schema        string  `json:"schema,omitempty"`
}

// Backend defines the interface for replay buffer implementations
type Backend interface {
	// Store rows and return the slots they were written to
	Store(ctx context.Context, batch *storage.Storage) ([]int, error)

	// Sample a mini-batch; ok is false until the buffer reaches cold start
	Sample(ctx context.Context) (batch *Batch, ok bool, err error)

	// Update priorities of the most recent sample from per-row losses
	UpdatePriorities(ctx context.Context, sampleID string, indices []int, losses []float64) (FeedbackResult, error)

	// Get buffer statistics
	Stats(ctx context.Context) (*Stats, error)

	// Hyperparameters the backend was built with
	Hyperparameters() config.ReplayConfig

	// Close the backend and cleanup resources
	Close() error
}
