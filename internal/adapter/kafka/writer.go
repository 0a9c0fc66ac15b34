package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-detect/internal/config"
	"github.com/couchcryptid/quake-detect/internal/events"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces lifecycle events to a Kafka topic.
// It implements events.Consumer.
type Writer struct {
	writer *kafkago.Writer
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured event topic.
func NewWriter(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaEventTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, clock: clock, logger: logger}
}

func (w *Writer) Name() string { return "kafka" }

// Consume publishes one event. Events of the same quake share a key so they
// land on one partition in order.
func (w *Writer) Consume(ctx context.Context, e events.Event) error {
	msg, err := serializeToMessage(e, w.clock.Now())
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", e.Kind(), err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// envelope is the wire form of an event.
type envelope struct {
	Type        events.Kind  `json:"type"`
	PublishedAt time.Time    `json:"published_at"`
	Data        events.Event `json:"data"`
}

// serializeToMessage marshals an event into a Kafka message.
func serializeToMessage(e events.Event, now time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(envelope{Type: e.Kind(), PublishedAt: now.UTC(), Data: e})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s event: %w", e.Kind(), err)
	}
	return kafkago.Message{
		Key:   []byte(messageKey(e)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(e.Kind())},
			{Key: "published_at", Value: []byte(now.UTC().Format(time.RFC3339))},
		},
	}, nil
}

func messageKey(e events.Event) string {
	if q, ok := events.QuakeOf(e); ok {
		return q.ID
	}
	if c, ok := e.(events.ClusterCreated); ok {
		return "cluster-" + strconv.Itoa(c.Cluster.ID)
	}
	return ""
}
