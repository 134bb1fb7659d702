// Package retry replays an operation with capped exponential backoff.
// The points engine retries whole store transactions that failed with a
// transient error, and writes to the Redis rank index.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy describes when and how often an operation is replayed.
type Policy struct {
	// MaxAttempts counts the first call too.
	MaxAttempts int

	// InitialDelay is the pause before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the pause between attempts.
	MaxDelay time.Duration

	// Multiplier grows the pause after every attempt.
	Multiplier float64

	// Jitter spreads each pause by up to this fraction in either direction.
	Jitter float64

	// RetryIf decides whether an error is worth another attempt.
	// Nil retries everything except context cancellation.
	RetryIf func(error) bool

	// OnRetry is called before each pause.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Policy.
type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.MaxDelay = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(p *Policy) {
		if m >= 1 {
			p.Multiplier = m
		}
	}
}

func WithJitter(j float64) Option {
	return func(p *Policy) {
		if j >= 0 && j <= 1 {
			p.Jitter = j
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) { p.RetryIf = fn }
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *Policy) { p.OnRetry = fn }
}

// WithSleep replaces the wait between attempts, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		if fn != nil {
			p.Sleep = fn
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func notCanceled(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Retrier runs operations under one Policy. It is safe for concurrent use.
type Retrier struct {
	policy Policy
}

// New returns a Retrier with three attempts starting at 100ms.
func New(opts ...Option) *Retrier {
	p := Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
		Sleep:        sleep,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.RetryIf == nil {
		p.RetryIf = notCanceled
	}
	return &Retrier{policy: p}
}

// Policy returns a copy of the retrier's policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

type attemptKey struct{}

// Attempt returns the 1-based attempt number of the operation running under
// ctx, or 0 outside a retrier.
func Attempt(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

// Do calls op until it succeeds, returns an error RetryIf rejects, or the
// attempts run out. The last error of op is returned as is. Cancellation of
// ctx during a pause also returns that last error.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p := r.policy
	delay := p.InitialDelay

	for attempt := 1; ; attempt++ {
		err := op(context.WithValue(ctx, attemptKey{}, attempt))
		if err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || !p.RetryIf(err) {
			return err
		}

		wait := spread(delay, p.Jitter)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if p.Sleep(ctx, wait) != nil {
			return err
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

func spread(d time.Duration, jitter float64) time.Duration {
	if jitter == 0 || d <= 0 {
		return d
	}
	out := float64(d) * (1 + jitter*(2*rand.Float64()-1))
	if out < 0 {
		return 0
	}
	return time.Duration(out)
}

// Do runs op under a one-off Retrier.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// DoWithData is Do for operations that produce a value. The value of the
// successful attempt is returned.
func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var result T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// StoreRetrier replays whole store transactions that failed with an error
// isTransient accepts. Every attempt reruns the complete transaction, so the
// operation must have no side effects outside the store.
func StoreRetrier(isTransient func(error) bool, opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(3),
		WithInitialDelay(50 * time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
		WithRetryIf(isTransient),
	}
	return New(append(base, opts...)...)
}

// RankIndexRetrier retries Redis rank index writes. Upserts are idempotent,
// so any error but cancellation is retried.
func RankIndexRetrier(opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(4),
		WithInitialDelay(100 * time.Millisecond),
		WithMaxDelay(2 * time.Second),
		WithMultiplier(1.5),
	}
	return New(append(base, opts...)...)
}
