// Package messaging implements the event bus the points engine publishes to
// after each committed operation. LocalBus serves a single process; FanoutBus
// also relays events to every other instance over Redis Pub/Sub.
package messaging

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

var (
	// ErrBusClosed is returned by Publish and Subscribe after Close.
	ErrBusClosed = errors.New("event bus is closed")

	errNilEvent   = errors.New("event cannot be nil")
	errNilHandler = errors.New("handler cannot be nil")
)

// LocalConfig configures a LocalBus.
type LocalConfig struct {
	// Sync delivers on the publishing goroutine. Tests and the CLI use it so
	// that every handler has run when Publish returns.
	Sync bool

	// Workers drain the delivery queues in async mode. Each worker owns one
	// queue and every event of an aggregate goes to the same queue, so
	// handlers see one user's events in publish order.
	Workers int

	// QueueSize bounds queued deliveries per worker. Publish blocks while
	// the target queue is full. Handlers must not publish on the same bus.
	QueueSize int

	Logger *slog.Logger
}

// DefaultLocalConfig returns an async bus with 8 workers.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{Workers: 8, QueueSize: 256}
}

// Stats counts bus traffic since start.
type Stats struct {
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// LocalBus routes events to handlers registered in this process. Handler
// errors and panics are logged and counted, never returned: the operation
// that produced the event has already committed.
type LocalBus struct {
	mu       sync.RWMutex
	routes   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	queues  []chan delivery
	workers sync.WaitGroup
	pending sync.WaitGroup

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	log *slog.Logger
}

var _ shared.EventBus = (*LocalBus)(nil)

// NewLocalBus creates the bus and, unless cfg.Sync is set, starts its workers.
func NewLocalBus(cfg LocalConfig) *LocalBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &LocalBus{
		routes: make(map[shared.EventType][]shared.EventHandler),
		log:    cfg.Logger.With("component", "event_bus"),
	}
	if cfg.Sync {
		return b
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	b.queues = make([]chan delivery, cfg.Workers)
	b.workers.Add(cfg.Workers)
	for i := range b.queues {
		q := make(chan delivery, cfg.QueueSize)
		b.queues[i] = q
		go func() {
			defer b.workers.Done()
			for d := range q {
				b.deliver(d)
			}
		}()
	}
	return b
}

// queueFor picks the worker queue of an aggregate.
func (b *LocalBus) queueFor(aggregateID string) chan delivery {
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	return b.queues[h.Sum32()%uint32(len(b.queues))]
}

// Subscribe registers handler for one event type.
func (b *LocalBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.routes[eventType] = append(b.routes[eventType], handler)
	return nil
}

// SubscribeAll registers handler for every event type.
func (b *LocalBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.wildcard = append(b.wildcard, handler)
	return nil
}

// Publish hands the event to its type's handlers, then to the wildcard ones.
func (b *LocalBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	b.published.Add(1)

	var q chan delivery
	if b.queues != nil {
		q = b.queueFor(event.AggregateID())
	}
	for _, list := range [][]shared.EventHandler{b.routes[event.EventType()], b.wildcard} {
		for _, h := range list {
			d := delivery{event: event, handler: h}
			if q == nil {
				b.deliver(d)
				continue
			}
			b.pending.Add(1)
			q <- d
		}
	}
	return nil
}

func (b *LocalBus) deliver(d delivery) {
	if b.queues != nil {
		defer b.pending.Done()
	}
	if err := runHandler(d); err != nil {
		b.failed.Add(1)
		b.log.Error("event handler failed",
			"event_type", d.event.EventType(),
			"aggregate_id", d.event.AggregateID(),
			"error", err,
		)
		return
	}
	b.delivered.Add(1)
}

func runHandler(d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return d.handler(d.event)
}

// Wait blocks until every queued delivery has run.
func (b *LocalBus) Wait() {
	b.pending.Wait()
}

// Stats returns the traffic counters.
func (b *LocalBus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

// Close stops accepting events, drains the queue and stops the workers.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()

	b.workers.Wait()
	s := b.Stats()
	b.log.Info("event bus closed", "published", s.Published, "delivered", s.Delivered, "failed", s.Failed)
	return nil
}
