package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSPublisher implements Publisher using NATS
type NATSPublisher struct {
	conn    conn
	subject string
	logger  zerolog.Logger

	mu        sync.Mutex
	saturated bool
}

// NewNATSPublisher creates a new NATS-backed publisher
func NewNATSPublisher(natsURL, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(natsURL, nats.Name("replay"))
	if err != nil {
		return nil, err
	}
	return newPublisher(nc, subject, logger), nil
}

func newPublisher(c conn, subject string, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:    c,
		subject: subject,
		logger:  logger,
	}
}

// Close closes the NATS connection
func (n *NATSPublisher) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// PublishStats publishes a stats snapshot to the main subject. The first
// snapshot of a full buffer is also sent to <subject>.saturated.
func (n *NATSPublisher) PublishStats(ctx context.Context, event StatsEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", n.subject).Msg("Failed to publish stats")
		return err
	}

	n.mu.Lock()
	first := event.Saturated && !n.saturated
	n.saturated = event.Saturated
	n.mu.Unlock()

	if first {
		routingKey := n.subject + ".saturated"
		if err := n.conn.Publish(routingKey, data); err != nil {
			n.logger.Error().Err(err).Str("routing_key", routingKey).Msg("Failed to publish to routing key")
		}
	}

	n.logger.Debug().
		Int("size", event.Size).
		Int("iteration", event.Iteration).
		Str("subject", n.subject).
		Msg("Published stats event")

	return nil
}
