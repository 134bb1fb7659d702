package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/persistence/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recordingPublisher) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type testEngine struct {
	store     *memory.Store
	clock     *fakeClock
	events    *recordingPublisher
	pipeline  *Pipeline
	award     *AwardHandler
	bind      *BindReferralHandler
	trade     *RecordTradeHandler
	adjust    *AdjustPointsHandler
	evaluate  *EvaluateAchievementsHandler
	promotion *CheckPromotionHandler
	reconcile *ReconcileLedgerHandler
	create    *CreateUserHandler
}

func newTestEngine(t *testing.T, mutate func(*EngineConfig), storeOpts ...memory.Option) *testEngine {
	t.Helper()

	clock := newFakeClock()
	store := memory.New(storeOpts...)
	events := &recordingPublisher{}

	cfg := DefaultEngineConfig()
	cfg.Clock = clock.Now
	if mutate != nil {
		mutate(&cfg)
	}

	pipeline, err := NewPipeline(store, events, nil, cfg)
	require.NoError(t, err)
	require.NoError(t, NewSeedAchievementsHandler(store, nil).Handle(context.Background(), nil))

	return &testEngine{
		store:     store,
		clock:     clock,
		events:    events,
		pipeline:  pipeline,
		award:     NewAwardHandler(pipeline, nil),
		bind:      NewBindReferralHandler(pipeline, nil),
		trade:     NewRecordTradeHandler(pipeline),
		adjust:    NewAdjustPointsHandler(pipeline, nil),
		evaluate:  NewEvaluateAchievementsHandler(pipeline),
		promotion: NewCheckPromotionHandler(pipeline),
		reconcile: NewReconcileLedgerHandler(pipeline, nil),
		create:    NewCreateUserHandler(pipeline, nil),
	}
}

func (e *testEngine) mustCreate(t *testing.T, id string) *points.User {
	t.Helper()
	u, err := e.create.Handle(context.Background(), CreateUserCommand{UserID: id, DisplayName: "User " + id})
	require.NoError(t, err)
	return u
}

func (e *testEngine) mustAward(t *testing.T, id string, kind points.ActionKind) *AwardResult {
	t.Helper()
	res, err := e.award.Handle(context.Background(), AwardCommand{UserID: id, Kind: kind.String()})
	require.NoError(t, err)
	return res
}

func (e *testEngine) user(t *testing.T, id string) *points.User {
	t.Helper()
	u, err := e.store.GetUser(context.Background(), shared.UserID(id))
	require.NoError(t, err)
	return u
}

func (e *testEngine) entries(t *testing.T, id string, kinds ...points.ActionKind) []*points.LedgerEntry {
	t.Helper()
	out, err := e.store.ListEntries(context.Background(), ledger.EntryFilter{UserID: shared.UserID(id), Kinds: kinds})
	require.NoError(t, err)
	return out
}

// assertLedgerInvariant checks that the cached total equals the ledger sum.
func (e *testEngine) assertLedgerInvariant(t *testing.T, id string) {
	t.Helper()
	sum, err := e.store.SumEntries(context.Background(), ledger.EntryFilter{UserID: shared.UserID(id)})
	require.NoError(t, err)
	assert.Equal(t, sum, e.user(t, id).TotalPoints, "aggregate must equal ledger sum for %s", id)
}
