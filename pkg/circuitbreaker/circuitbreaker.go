// Package circuitbreaker guards calls to an optional dependency. The points
// engine wraps the Redis rank index with it so that, while Redis is failing,
// leaderboard reads go straight to the store instead of waiting on timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// ErrOpen is returned without running the call while the circuit is open,
// or while half-open with every probe slot taken.
var ErrOpen = errors.New("circuit breaker is open")

// Settings tune a Breaker. Zero fields take the defaults of New.
type Settings struct {
	Name string

	// TripAfter consecutive failures open the circuit.
	TripAfter int

	// RecoverAfter consecutive successful probes close it again.
	RecoverAfter int

	CoolDown time.Duration

	// Probes caps concurrent calls while half-open.
	Probes int

	// OnTransition runs under the breaker's lock and must not call back
	// into it.
	OnTransition func(name string, from, to State)

	// Counts decides whether an error is held against the dependency.
	Counts func(error) bool

	Clock func() time.Time
}

type Option func(*Settings)

func WithTripAfter(n int) Option { return func(s *Settings) { s.TripAfter = n } }

func WithRecoverAfter(n int) Option { return func(s *Settings) { s.RecoverAfter = n } }

func WithCoolDown(d time.Duration) Option { return func(s *Settings) { s.CoolDown = d } }

func WithProbes(n int) Option { return func(s *Settings) { s.Probes = n } }

func WithClock(now func() time.Time) Option {
	return func(s *Settings) { s.Clock = now }
}

func WithOnTransition(fn func(name string, from, to State)) Option {
	return func(s *Settings) { s.OnTransition = fn }
}

func WithCounts(fn func(error) bool) Option {
	return func(s *Settings) { s.Counts = fn }
}

// notCanceled ignores cancellation by the caller: a client that hung up
// says nothing about the dependency.
func notCanceled(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	s Settings

	mu       sync.Mutex
	state    State
	fails    int // consecutive, any state
	oks      int // consecutive, half-open only
	inflight int // probes running
	since    time.Time
}

// New returns a closed breaker that trips after 5 failures, cools down for
// 30s and closes after 2 good probes.
func New(name string, opts ...Option) *Breaker {
	s := Settings{Name: name}
	for _, opt := range opts {
		opt(&s)
	}
	if s.TripAfter <= 0 {
		s.TripAfter = 5
	}
	if s.RecoverAfter <= 0 {
		s.RecoverAfter = 2
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
	if s.Counts == nil {
		s.Counts = notCanceled
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	return &Breaker{s: s, state: Closed}
}

// RankIndexBreaker is the breaker for the Redis rank index. The store can
// always answer instead, so it trips fast and probes again soon.
func RankIndexBreaker(onTransition func(name string, from, to State)) *Breaker {
	return New("rank-index",
		WithTripAfter(3),
		WithRecoverAfter(1),
		WithCoolDown(15*time.Second),
		WithOnTransition(onTransition),
	)
}

// Execute runs fn unless the circuit is open and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.release(probe, err != nil && b.s.Counts(err))
	return err
}

func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil
	case Open:
		if b.s.Clock().Sub(b.since) < b.s.CoolDown {
			return false, ErrOpen
		}
		b.moveTo(HalfOpen)
	}
	if b.inflight >= b.s.Probes {
		return false, ErrOpen
	}
	b.inflight++
	return true, nil
}

func (b *Breaker) release(probe, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.inflight--
	}
	if failed {
		b.fails++
		b.oks = 0
		// a single failed probe reopens
		if b.state == HalfOpen || b.fails >= b.s.TripAfter {
			b.moveTo(Open)
		}
		return
	}
	b.fails = 0
	if b.state == HalfOpen {
		if b.oks++; b.oks >= b.s.RecoverAfter {
			b.moveTo(Closed)
		}
	}
}

// moveTo switches state and resets the counters. Callers hold b.mu.
func (b *Breaker) moveTo(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state, b.fails, b.oks = to, 0, 0
	b.since = b.s.Clock()
	if b.s.OnTransition != nil {
		b.s.OnTransition(b.s.Name, from, to)
	}
}

// State reports the current state. An open circuit past its cool-down stays
// open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) IsOpen() bool { return b.State() == Open }

func (b *Breaker) Name() string { return b.s.Name }

// Check fails with ErrOpen while the circuit is open, so a breaker can be
// registered as a readiness probe.
func (b *Breaker) Check(context.Context) error {
	if b.IsOpen() {
		return ErrOpen
	}
	return nil
}
