package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// DefaultChannel is the Redis channel carrying engine events.
const DefaultChannel = "points-engine:events"

const envelopeVersion = 1

// Message is one payload received from the transport.
type Message struct {
	Channel string
	Payload []byte
}

// Transport is the Pub/Sub surface FanoutBus needs. The subscription channel
// closes when ctx is done or the transport is closed.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)
	Close() error
}

// FanoutConfig configures a FanoutBus.
type FanoutConfig struct {
	Transport Transport

	// Channel defaults to DefaultChannel.
	Channel string

	// InstanceID tags outgoing envelopes so an instance skips its own.
	// Generated when empty.
	InstanceID string

	// PublishTimeout bounds one transport publish. Defaults to 2s.
	PublishTimeout time.Duration

	Local  LocalConfig
	Logger *slog.Logger
}

// FanoutBus delivers every event to local handlers and relays it to the other
// instances. Relayed events from elsewhere reach local handlers only and
// report shared.IsRelayed.
type FanoutBus struct {
	*LocalBus

	transport Transport
	channel   string
	instance  string
	timeout   time.Duration
	log       *slog.Logger

	stop     context.CancelFunc
	listener sync.WaitGroup
	once     sync.Once
}

var _ shared.EventBus = (*FanoutBus)(nil)

// NewFanoutBus subscribes to the channel and starts relaying.
func NewFanoutBus(cfg FanoutConfig) (*FanoutBus, error) {
	if cfg.Transport == nil {
		return nil, errors.New("fanout bus: transport is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Local.Logger == nil {
		cfg.Local.Logger = cfg.Logger
	}

	ctx, stop := context.WithCancel(context.Background())
	incoming, err := cfg.Transport.Subscribe(ctx, cfg.Channel)
	if err != nil {
		stop()
		return nil, fmt.Errorf("fanout bus: subscribe %s: %w", cfg.Channel, err)
	}

	b := &FanoutBus{
		LocalBus:  NewLocalBus(cfg.Local),
		transport: cfg.Transport,
		channel:   cfg.Channel,
		instance:  cfg.InstanceID,
		timeout:   cfg.PublishTimeout,
		log:       cfg.Logger.With("component", "fanout_bus", "instance", cfg.InstanceID),
		stop:      stop,
	}
	b.listener.Add(1)
	go b.listen(incoming)
	return b, nil
}

// Publish delivers locally and relays the event. A relay failure is logged;
// other instances then catch up through the next rank rebuild.
func (b *FanoutBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if err := b.LocalBus.Publish(event); err != nil {
		return err
	}

	payload, err := json.Marshal(envelope{
		Version:     envelopeVersion,
		Origin:      b.instance,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.transport.Publish(ctx, b.channel, payload); err != nil {
		b.log.Warn("event relay failed", "event_type", event.EventType(), "error", err)
	}
	return nil
}

func (b *FanoutBus) listen(incoming <-chan Message) {
	defer b.listener.Done()
	for msg := range incoming {
		ev, ok := b.decode(msg.Payload)
		if !ok {
			continue
		}
		if err := b.LocalBus.Publish(ev); err != nil {
			if errors.Is(err, ErrBusClosed) {
				return
			}
			b.log.Error("relayed event dropped", "event_type", ev.EventType(), "error", err)
		}
	}
}

func (b *FanoutBus) decode(payload []byte) (shared.Event, bool) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.log.Warn("undecodable relay message", "error", err)
		return nil, false
	}
	if env.Version != envelopeVersion {
		b.log.Warn("unsupported envelope version", "version", env.Version)
		return nil, false
	}
	if env.Origin == b.instance {
		return nil, false
	}
	return &relayedEvent{env: env}, true
}

// Close stops relaying, closes the transport and drains local handlers.
func (b *FanoutBus) Close() error {
	var err error
	b.once.Do(func() {
		b.stop()
		err = b.transport.Close()
		b.listener.Wait()
		err = errors.Join(err, b.LocalBus.Close())
	})
	return err
}

// envelope is the wire form of a relayed event.
type envelope struct {
	Version     int              `json:"v"`
	Origin      string           `json:"origin"`
	Type        shared.EventType `json:"type"`
	AggregateID string           `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     map[string]any   `json:"payload"`
}

// relayedEvent is an event published by another instance. Numeric payload
// values arrive as float64.
type relayedEvent struct {
	env envelope
}

func (e *relayedEvent) EventType() shared.EventType { return e.env.Type }
func (e *relayedEvent) AggregateID() string         { return e.env.AggregateID }
func (e *relayedEvent) OccurredAt() time.Time       { return e.env.OccurredAt }
func (e *relayedEvent) Payload() map[string]any     { return e.env.Payload }
func (e *relayedEvent) Relayed() bool               { return true }
