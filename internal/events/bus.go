package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/quake-detect/internal/observability"
)

// Consumer receives every published event in publication order.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, e Event) error
}

const (
	DefaultBufferSize = 1024
	consumeTimeout    = 10 * time.Second
)

// Bus fans events out to registered consumers from a single dispatch
// goroutine, so each consumer sees events in order.
type Bus struct {
	events    chan Event
	mu        sync.Mutex
	consumers []Consumer
	logger    *slog.Logger
	metrics   *observability.Metrics

	running atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	dropped atomic.Uint64
}

func NewBus(bufferSize int, logger *slog.Logger, metrics *observability.Metrics) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		events:  make(chan Event, bufferSize),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds a consumer. Names must be unique.
func (b *Bus) Register(c Consumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.consumers {
		if existing.Name() == c.Name() {
			return fmt.Errorf("consumer %s already registered", c.Name())
		}
	}
	b.consumers = append(b.consumers, c)
	b.logger.Info("registered event consumer", "consumer", c.Name())
	return nil
}

// Publish enqueues an event, dropping it when the buffer is full.
func (b *Bus) Publish(e Event) {
	select {
	case b.events <- e:
	default:
		b.dropped.Add(1)
		b.metrics.EventsDropped.Inc()
		b.logger.Warn("event buffer full, dropping event", "kind", e.Kind())
	}
}

// Dropped is the number of events lost to a full buffer.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Start launches the dispatcher. It stops when ctx is cancelled or Stop is
// called, after draining events already queued.
func (b *Bus) Start(ctx context.Context) {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.run(ctx)
}

// Stop cancels the dispatcher and waits for it to exit.
func (b *Bus) Stop() {
	if !b.running.Load() {
		return
	}
	b.cancel()
	b.wg.Wait()
	b.running.Store(false)
}

func (b *Bus) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.events:
			b.dispatch(ctx, e)
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case e := <-b.events:
			b.dispatch(context.Background(), e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, c := range consumers {
		cctx, cancel := context.WithTimeout(ctx, consumeTimeout)
		err := c.Consume(cctx, e)
		cancel()
		if err != nil {
			b.logger.Warn("event consumer failed",
				"consumer", c.Name(),
				"kind", e.Kind(),
				"error", err,
			)
			continue
		}
		b.metrics.EventsPublished.WithLabelValues(c.Name(), string(e.Kind())).Inc()
	}
}
