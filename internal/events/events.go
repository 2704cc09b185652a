package events

import "context"

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishStats(ctx context.Context, payload StatsEvent) error
}

// StatsEvent is a periodic snapshot of the replay buffer.
type StatsEvent struct {
	Size          int     `json:"size"`
	Capacity      int     `json:"capacity"`
	TotalWrites   uint64  `json:"total_writes"`
	Prioritized   bool    `json:"prioritized"`
	TotalPriority float64 `json:"total_priority"`
	MaxPriority   float64 `json:"max_priority"`
	Beta          float64 `json:"beta"`
	Iteration     int     `json:"iteration"`
	Saturated     bool    `json:"saturated"`
}

// NoopPublisher publishes nothing; used when NATS is not configured.
type NoopPublisher struct{}

// PublishStats satisfies Publisher.
func (NoopPublisher) PublishStats(context.Context, StatsEvent) error { return nil }
