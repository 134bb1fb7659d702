package command

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/recognition"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/internal/infrastructure/persistence/memory"
)

var errInjected = errors.New("injected failure")

func TestAward_AchievementsReachFixpoint(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "alice")
	ctx := context.Background()

	_, err := e.adjust.Handle(ctx, AdjustPointsCommand{UserID: "alice", Delta: 950, Reason: "migration", Actor: "ops"})
	require.NoError(t, err)

	// 950 + 25 + 50 (First Trade) crosses 1000, which unlocks Rising Star
	// in a second pass of the same operation.
	res := e.mustAward(t, "alice", points.ActionTradeCompleted)

	var names []string
	for _, a := range res.UnlockedAchievements {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"First Trade", "Rising Star"}, names)
	assert.Equal(t, int64(150), res.Breakdown.AchievementRewards)
	assert.Equal(t, int64(1125), res.NewTotal)
	assert.True(t, res.Promoted)
	assert.Equal(t, recognition.ReasonHighContributor, res.PromotionReason)
	e.assertLedgerInvariant(t, "alice")

	again, err := e.evaluate.Handle(ctx, EvaluateAchievementsCommand{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, again.Unlocked)
	assert.False(t, again.Promoted)
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "alice")
	ctx := context.Background()

	first, err := e.evaluate.Handle(ctx, EvaluateAchievementsCommand{UserID: "alice"})
	require.NoError(t, err)
	second, err := e.evaluate.Handle(ctx, EvaluateAchievementsCommand{UserID: "alice"})
	require.NoError(t, err)

	assert.Empty(t, first.Unlocked)
	assert.Empty(t, second.Unlocked)

	_, err = e.evaluate.Handle(ctx, EvaluateAchievementsCommand{UserID: "ghost"})
	assert.True(t, shared.IsNotFound(err))
}

func TestAward_DerivationFailureKeepsBaseAward(t *testing.T) {
	e := newTestEngine(t, nil, memory.WithFault(func(op string, _ shared.UserID) error {
		if op == memory.OpInsertUnlock {
			return errInjected
		}
		return nil
	}))
	e.mustCreate(t, "alice")

	res := e.mustAward(t, "alice", points.ActionTradeCompleted)

	assert.True(t, res.Accepted)
	assert.Empty(t, res.UnlockedAchievements)
	assert.Equal(t, int64(25), res.NewTotal)
	assert.Len(t, e.entries(t, "alice"), 1)
	e.assertLedgerInvariant(t, "alice")

	// the next evaluation picks up what failed
	e.store.SetFault(nil)
	out, err := e.evaluate.Handle(context.Background(), EvaluateAchievementsCommand{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, out.Unlocked, 1)
	assert.Equal(t, "First Trade", out.Unlocked[0].Name)
	assert.Equal(t, int64(75), out.NewTotal)
	e.assertLedgerInvariant(t, "alice")
}

func TestAward_SavepointDiscardsPartialDerivation(t *testing.T) {
	var unlockCalls atomic.Int32
	e := newTestEngine(t, nil, memory.WithFault(func(op string, _ shared.UserID) error {
		if op == memory.OpInsertUnlock && unlockCalls.Add(1) == 2 {
			return errInjected
		}
		return nil
	}))
	e.mustCreate(t, "alice")
	_, err := e.adjust.Handle(context.Background(), AdjustPointsCommand{UserID: "alice", Delta: 950, Reason: "r", Actor: "ops"})
	require.NoError(t, err)

	// First Trade unlocks (call 1), Rising Star fails (call 2): the whole
	// evaluation rolls back, the trade itself stays.
	res := e.mustAward(t, "alice", points.ActionTradeCompleted)

	assert.True(t, res.Accepted)
	assert.Empty(t, res.UnlockedAchievements)
	assert.Equal(t, int64(975), res.NewTotal)
	assert.Empty(t, e.entries(t, "alice", points.ActionAchievementUnlocked))
	unlocks, err := e.store.ListUnlocks(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, unlocks)
	e.assertLedgerInvariant(t, "alice")
}

func TestReconcile_RepairsDrift(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "alice")
	e.mustAward(t, "alice", points.ActionProfileCreation)
	ctx := context.Background()

	// corrupt the cached total behind the engine's back
	err := e.store.InTx(ctx, []shared.UserID{"alice"}, func(tx ledger.Tx) error {
		u, err := tx.LockedUser("alice")
		if err != nil {
			return err
		}
		u.TotalPoints += 7
		return tx.SaveUser(ctx, u)
	})
	require.NoError(t, err)

	res, err := e.reconcile.Handle(ctx, ReconcileLedgerCommand{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(107), res.CachedTotal)
	assert.Equal(t, int64(100), res.LedgerTotal)
	assert.Equal(t, int64(7), res.Drift)
	assert.True(t, res.Repaired)
	e.assertLedgerInvariant(t, "alice")
	assert.Len(t, e.events.ofType(shared.EventLedgerReconciled), 1)

	res, err = e.reconcile.Handle(ctx, ReconcileLedgerCommand{UserID: "alice"})
	require.NoError(t, err)
	assert.False(t, res.Repaired)
	assert.Zero(t, res.Drift)
}

func TestCheckPromotion(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "alice")
	ctx := context.Background()

	res, err := e.promotion.Handle(ctx, CheckPromotionCommand{UserID: "alice"})
	require.NoError(t, err)
	assert.False(t, res.Promoted)
	assert.False(t, res.AlreadyRecognized)

	// force the total over the threshold without running derivations
	err = e.store.InTx(ctx, []shared.UserID{"alice"}, func(tx ledger.Tx) error {
		if err := tx.AppendEntry(ctx, points.NewLedgerEntry("alice", points.ActionAdminAdjustment, 2000, "seed", nil, e.clock.Now())); err != nil {
			return err
		}
		u, _ := tx.LockedUser("alice")
		u.TotalPoints = 2000
		return tx.SaveUser(ctx, u)
	})
	require.NoError(t, err)

	res, err = e.promotion.Handle(ctx, CheckPromotionCommand{UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, res.Promoted)
	assert.Equal(t, recognition.ReasonHighContributor, res.Reason)

	e.clock.Advance(time.Hour)
	res, err = e.promotion.Handle(ctx, CheckPromotionCommand{UserID: "alice"})
	require.NoError(t, err)
	assert.False(t, res.Promoted)
	assert.True(t, res.AlreadyRecognized)
	assert.Equal(t, recognition.ReasonHighContributor, res.Reason)
	assert.Len(t, e.events.ofType(shared.EventUserPromoted), 1)
}
