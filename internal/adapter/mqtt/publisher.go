// Package mqtt broadcasts earthquake summaries to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/quake-detect/internal/config"
	"github.com/couchcryptid/quake-detect/internal/events"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
	qosAtMostOnce  = 0
)

// client is the subset of paho.Client the publisher needs.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher implements events.Consumer for quake lifecycle events.
type Publisher struct {
	client client
	topic  string
	logger *slog.Logger
}

// NewPublisher connects to the configured broker. paho reconnects on its own
// after the first successful connection.
func NewPublisher(cfg *config.Config, logger *slog.Logger) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("connected to MQTT broker", "broker", cfg.MQTTBroker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("connection to MQTT broker lost", "broker", cfg.MQTTBroker, "error", err)
	})

	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return newPublisher(c, cfg.MQTTTopic, logger), nil
}

func newPublisher(c client, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{client: c, topic: topic, logger: logger}
}

func (p *Publisher) Name() string { return "mqtt" }

// Consume publishes created, updated and removed quakes to <topic>/<kind>.
// Other events are ignored.
func (p *Publisher) Consume(ctx context.Context, e events.Event) error {
	switch e.(type) {
	case events.QuakeCreated, events.QuakeUpdated, events.QuakeRemoved:
	default:
		return nil
	}
	if !p.client.IsConnected() {
		return errors.New("not connected to MQTT broker")
	}

	payload, err := json.Marshal(summarize(e))
	if err != nil {
		return fmt.Errorf("marshal %s summary: %w", e.Kind(), err)
	}
	topic := p.topic + "/" + string(e.Kind())

	token := p.client.Publish(topic, qosAtMostOnce, false, payload)
	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("published quake summary", "topic", topic)
	return nil
}

func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// Summary is the broadcast form of a quake.
type Summary struct {
	ID        string  `json:"id"`
	Event     string  `json:"event"`
	Revision  int     `json:"revision"`
	Region    string  `json:"region,omitempty"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Depth     float64 `json:"depth"`
	OriginMs  int64   `json:"origin_ms"`
	Magnitude float64 `json:"magnitude"`
	Quality   string  `json:"quality,omitempty"`
}

func summarize(e events.Event) Summary {
	q, _ := events.QuakeOf(e)
	s := Summary{
		ID:       q.ID,
		Event:    string(e.Kind()),
		Revision: q.Revision,
		Region:   q.Region,
	}
	if h := q.Hypocenter; h != nil {
		s.Lat, s.Lon, s.Depth = h.Lat, h.Lon, h.Depth
		s.OriginMs = h.OriginMs
		s.Magnitude = h.Magnitude
		s.Quality = h.Quality.Summary.String()
	}
	return s
}
