package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/domain/achievement"
	"github.com/bonkcomputer/points-engine/internal/domain/leaderboard"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newUser(t *testing.T, id, code string, created time.Time) *points.User {
	t.Helper()
	u, err := points.NewUser(shared.UserID(id), "User "+id, code, created)
	require.NoError(t, err)
	return u
}

func seedUser(t *testing.T, s *Store, id string, created time.Time) {
	t.Helper()
	u := newUser(t, id, referral.GenerateCode(shared.UserID(id), 0), created)
	require.NoError(t, s.CreateUser(context.Background(), u))
}

func award(t *testing.T, s *Store, id string, delta int64, at time.Time) {
	t.Helper()
	ctx := context.Background()
	err := s.InTx(ctx, []shared.UserID{shared.UserID(id)}, func(tx ledger.Tx) error {
		u, err := tx.LockedUser(shared.UserID(id))
		if err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, points.NewLedgerEntry(u.ID, points.ActionAdminAdjustment, delta, "test", nil, at)); err != nil {
			return err
		}
		u.ApplyPoints(delta, at)
		return tx.SaveUser(ctx, u)
	})
	require.NoError(t, err)
}

func TestCreateUser_Uniqueness(t *testing.T) {
	s := New()
	seedUser(t, s, "alice", now)

	dup := newUser(t, "alice", "ZZZZZZZZ", now)
	assert.ErrorIs(t, s.CreateUser(context.Background(), dup), shared.ErrUserAlreadyExists)

	alice, err := s.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	clash := newUser(t, "bob", alice.ReferralCode, now)
	assert.ErrorIs(t, s.CreateUser(context.Background(), clash), shared.ErrReferralCodeTaken)

	byCode, err := s.GetUserByReferralCode(context.Background(), alice.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, shared.UserID("alice"), byCode.ID)
}

func TestInTx_RollbackOnError(t *testing.T) {
	s := New()
	seedUser(t, s, "alice", now)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, []shared.UserID{"alice"}, func(tx ledger.Tx) error {
		u, _ := tx.LockedUser("alice")
		require.NoError(t, tx.AppendEntry(ctx, points.NewLedgerEntry(u.ID, points.ActionAdminAdjustment, 10, "x", nil, now)))
		u.ApplyPoints(10, now)
		require.NoError(t, tx.SaveUser(ctx, u))
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, u.TotalPoints)
	sum, err := s.SumEntries(ctx, ledger.EntryFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestInTx_UnknownUser(t *testing.T) {
	s := New()
	err := s.InTx(context.Background(), []shared.UserID{"ghost"}, func(ledger.Tx) error { return nil })
	assert.True(t, shared.IsNotFound(err))
}

func TestSavepoint_DiscardsOnlyInnerWrites(t *testing.T) {
	s := New()
	seedUser(t, s, "alice", now)
	ctx := context.Background()

	err := s.InTx(ctx, []shared.UserID{"alice"}, func(tx ledger.Tx) error {
		require.NoError(t, tx.AppendEntry(ctx, points.NewLedgerEntry("alice", points.ActionTradeCompleted, 25, "outer", nil, now)))

		spErr := tx.Savepoint(ctx, func(sp ledger.Tx) error {
			require.NoError(t, sp.AppendEntry(ctx, points.NewLedgerEntry("alice", points.ActionAchievementUnlocked, 50, "inner", nil, now)))
			return errors.New("inner failure")
		})
		require.Error(t, spErr)

		n, err := tx.CountEntries(ctx, ledger.EntryFilter{UserID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		u, _ := tx.LockedUser("alice")
		u.ApplyPoints(25, now)
		return tx.SaveUser(ctx, u)
	})
	require.NoError(t, err)

	entries, err := s.ListEntries(ctx, ledger.EntryFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "outer", entries[0].Description)
}

func TestInTx_LockTimeout(t *testing.T) {
	s := New(WithLockTimeout(20 * time.Millisecond))
	seedUser(t, s, "alice", now)
	seedUser(t, s, "bob", now)

	locked := make(chan struct{})
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = s.InTx(context.Background(), []shared.UserID{"alice"}, func(ledger.Tx) error {
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked

	err := s.InTx(context.Background(), []shared.UserID{"bob", "alice"}, func(ledger.Tx) error { return nil })
	assert.ErrorIs(t, err, shared.ErrLockTimeout)
	assert.True(t, shared.IsTransient(err))

	// bob's lock was released with the failed attempt
	require.NoError(t, s.InTx(context.Background(), []shared.UserID{"bob"}, func(ledger.Tx) error { return nil }))

	close(done)
	<-finished
}

func TestInTx_DuplicateReferral(t *testing.T) {
	s := New()
	seedUser(t, s, "alice", now)
	seedUser(t, s, "bob", now)
	ctx := context.Background()

	edge, err := referral.NewReferral("bob", "alice", "AAAAAAAA", now)
	require.NoError(t, err)
	require.NoError(t, s.InTx(ctx, []shared.UserID{"alice", "bob"}, func(tx ledger.Tx) error {
		return tx.InsertReferral(ctx, edge)
	}))

	err = s.InTx(ctx, []shared.UserID{"alice", "bob"}, func(tx ledger.Tx) error {
		return tx.InsertReferral(ctx, edge)
	})
	assert.True(t, shared.IsConflict(err))

	refs, err := s.ListReferrals(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestStandings_TieBreaks(t *testing.T) {
	s := New()
	seedUser(t, s, "carol", now.Add(-2*time.Hour))
	seedUser(t, s, "alice", now.Add(-time.Hour))
	seedUser(t, s, "bob", now.Add(-time.Hour))
	seedUser(t, s, "zero", now)
	ctx := context.Background()

	award(t, s, "alice", 100, now)
	award(t, s, "bob", 100, now)
	award(t, s, "carol", 100, now)

	all := leaderboard.WindowFor(leaderboard.PeriodAllTime, now)
	top, err := s.Standings(ctx, all, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []shared.UserID{"carol", "alice", "bob"}, []shared.UserID{top[0].UserID, top[1].UserID, top[2].UserID})
	for _, e := range top {
		assert.Equal(t, int64(1), e.Rank)
	}

	n, err := s.CountRanked(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, _, found, err := s.RankOf(ctx, all, "zero")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStandings_Windowed(t *testing.T) {
	s := New()
	seedUser(t, s, "alice", now)
	seedUser(t, s, "bob", now)
	ctx := context.Background()

	award(t, s, "alice", 500, now.AddDate(0, 0, -10))
	award(t, s, "alice", 10, now)
	award(t, s, "bob", 40, now)

	daily := leaderboard.WindowFor(leaderboard.PeriodDaily, now)
	rank, pts, found, err := s.RankOf(ctx, daily, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), rank)
	assert.Equal(t, int64(10), pts)

	all := leaderboard.WindowFor(leaderboard.PeriodAllTime, now)
	rank, pts, _, err = s.RankOf(ctx, all, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)
	assert.Equal(t, int64(510), pts)
}

func TestUpsertAchievements(t *testing.T) {
	s := New()
	ctx := context.Background()
	catalog := achievement.Catalog()

	require.NoError(t, s.UpsertAchievements(ctx, catalog))
	require.NoError(t, s.UpsertAchievements(ctx, catalog))
	defs, err := s.ListAchievements(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, len(catalog))

	dup := []*achievement.Definition{catalog[0], catalog[0]}
	assert.ErrorIs(t, s.UpsertAchievements(ctx, dup), shared.ErrDuplicateAchievement)
}
