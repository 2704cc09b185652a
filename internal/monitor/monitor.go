package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/per/internal/events"
	"github.com/cartridge/per/internal/replay"
)

// StatsSource is the part of the replay backend the monitor reads.
type StatsSource interface {
	Stats(ctx context.Context) (*replay.Stats, error)
}

// Monitor periodically publishes replay buffer statistics
type Monitor struct {
	source    StatsSource
	publisher events.Publisher
	interval  time.Duration
	logger    zerolog.Logger
}

// NewMonitor creates a new stats monitor
func NewMonitor(source StatsSource, publisher events.Publisher, interval time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		source:    source,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

// Start runs the publishing loop until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval).Msg("Starting stats monitor")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Stats monitor stopped")
			return
		case <-ticker.C:
			m.publish(ctx)
		}
	}
}

func (m *Monitor) publish(ctx context.Context) {
	stats, err := m.source.Stats(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to read replay stats")
		return
	}

	event := events.StatsEvent{
		Size:          stats.Size,
		Capacity:      stats.Capacity,
		TotalWrites:   stats.TotalWrites,
		Prioritized:   stats.Prioritized,
		TotalPriority: stats.TotalPriority,
		MaxPriority:   stats.MaxPriority,
		Beta:          stats.Beta,
		Iteration:     stats.Iteration,
		Saturated:     stats.Capacity > 0 && stats.Size >= stats.Capacity,
	}
	if err := m.publisher.PublishStats(ctx, event); err != nil {
		m.logger.Error().Err(err).Msg("Failed to publish stats event")
	}
}
