package messaging

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func syncBus(t *testing.T) *LocalBus {
	t.Helper()
	bus := NewLocalBus(LocalConfig{Sync: true, Logger: quietLogger()})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func awarded(user string, total int64) shared.Event {
	return shared.NewPointsAwardedEvent(user, "TRADE", 25, total, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
}

func TestLocalBus_RoutesByType(t *testing.T) {
	bus := syncBus(t)

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(awarded("alice", 25)))
	require.NoError(t, bus.Publish(shared.NewUserPromotedEvent("alice", "high contributor", time.Now())))

	assert.Equal(t, []shared.EventType{shared.EventPointsAwarded}, typed)
	assert.Equal(t, []shared.EventType{shared.EventPointsAwarded, shared.EventUserPromoted}, all)
	assert.Equal(t, Stats{Published: 2, Delivered: 3}, bus.Stats())
}

func TestLocalBus_HandlerFailuresDoNotPropagate(t *testing.T) {
	bus := syncBus(t)

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("kaboom") }))

	calls := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		calls++
		return nil
	}))

	require.NoError(t, bus.Publish(awarded("alice", 25)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, Stats{Published: 1, Delivered: 1, Failed: 2}, bus.Stats())
}

func TestLocalBus_Async(t *testing.T) {
	bus := NewLocalBus(LocalConfig{Workers: 4, QueueSize: 8, Logger: quietLogger()})

	var n atomic.Int64
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error {
		n.Add(1)
		return nil
	}))

	// more events than the queues hold; Publish waits for room
	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(awarded("alice", int64(i))))
	}
	bus.Wait()
	assert.Equal(t, int64(50), n.Load())
	assert.Equal(t, int64(50), bus.Stats().Delivered)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(awarded("alice", 1)), ErrBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrBusClosed)
}

func TestLocalBus_KeepsAggregateOrder(t *testing.T) {
	bus := NewLocalBus(LocalConfig{Workers: 8, QueueSize: 4, Logger: quietLogger()})
	defer bus.Close()

	var mu sync.Mutex
	seen := make(map[string][]int64)
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(e shared.Event) error {
		total := e.Payload()["new_total"].(int64)
		if total == 100 {
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		defer mu.Unlock()
		seen[e.AggregateID()] = append(seen[e.AggregateID()], total)
		return nil
	}))

	users := []string{"alice", "bob", "carol", "dave"}
	for _, u := range users {
		require.NoError(t, bus.Publish(awarded(u, 100)))
		require.NoError(t, bus.Publish(awarded(u, 110)))
	}
	bus.Wait()

	for _, u := range users {
		assert.Equal(t, []int64{100, 110}, seen[u], u)
	}
}

func TestLocalBus_CloseDrainsQueue(t *testing.T) {
	bus := NewLocalBus(LocalConfig{Workers: 1, QueueSize: 16, Logger: quietLogger()})

	release := make(chan struct{})
	var n atomic.Int64
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		<-release
		n.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(awarded("bob", int64(i))))
	}

	close(release)
	require.NoError(t, bus.Close())
	assert.Equal(t, int64(5), n.Load())
}

func TestLocalBus_RejectsNil(t *testing.T) {
	bus := syncBus(t)

	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventPointsAwarded, nil))
	assert.Error(t, bus.SubscribeAll(nil))
}
