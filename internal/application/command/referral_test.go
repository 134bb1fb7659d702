package command

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

func TestBindReferral_CreditsBothSides(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := e.mustCreate(t, "alice")
	e.mustCreate(t, "bob")
	ctx := context.Background()

	res, err := e.bind.Handle(ctx, BindReferralCommand{Code: strings.ToLower(alice.ReferralCode), UserID: "bob"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, shared.UserID("alice"), res.ReferrerID)
	assert.Equal(t, int64(500), res.ReferrerAward.Breakdown.Base)
	assert.Equal(t, int64(250), res.RefereeAward.Breakdown.Base)
	assert.Equal(t, int64(500), e.user(t, "alice").TotalPoints)
	assert.Equal(t, int64(250), e.user(t, "bob").TotalPoints)
	assert.Equal(t, shared.UserID("alice"), e.user(t, "bob").ReferredBy)

	aliceEntries := e.entries(t, "alice", points.ActionReferralBonus)
	require.Len(t, aliceEntries, 1)
	assert.Equal(t, referral.RoleReferrer, aliceEntries[0].Metadata[points.MetaRole])
	assert.Equal(t, "bob", aliceEntries[0].Metadata[points.MetaCounterparty])

	bobEntries := e.entries(t, "bob", points.ActionReferralBonus)
	require.Len(t, bobEntries, 1)
	assert.Equal(t, referral.RoleReferee, bobEntries[0].Metadata[points.MetaRole])

	assert.Len(t, e.events.ofType(shared.EventReferralBound), 1)
	e.assertLedgerInvariant(t, "alice")
	e.assertLedgerInvariant(t, "bob")

	// a second bind with the same code conflicts and changes nothing
	_, err = e.bind.Handle(ctx, BindReferralCommand{Code: alice.ReferralCode, UserID: "bob"})
	require.Error(t, err)
	assert.True(t, shared.IsConflict(err))
	assert.Equal(t, int64(500), e.user(t, "alice").TotalPoints)
	assert.Len(t, e.entries(t, "bob"), 1)
}

func TestBindReferral_ReferrerIsImmutable(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := e.mustCreate(t, "alice")
	carol := e.mustCreate(t, "carol")
	e.mustCreate(t, "bob")
	ctx := context.Background()

	_, err := e.bind.Handle(ctx, BindReferralCommand{Code: alice.ReferralCode, UserID: "bob"})
	require.NoError(t, err)

	_, err = e.bind.Handle(ctx, BindReferralCommand{Code: carol.ReferralCode, UserID: "bob"})
	require.ErrorIs(t, err, shared.ErrReferralAlreadyBound)

	assert.Equal(t, shared.UserID("alice"), e.user(t, "bob").ReferredBy)
	assert.Zero(t, e.user(t, "carol").TotalPoints)

	refs, err := e.store.ListReferrals(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestBindReferral_SoftFailures(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := e.mustCreate(t, "alice")
	ctx := context.Background()

	tests := []struct {
		name   string
		code   string
		reason string
	}{
		{"malformed", "not-a-code!", BindReasonUnknownCode},
		{"unknown", "AAAAAAAA", BindReasonUnknownCode},
		{"self", alice.ReferralCode, BindReasonSelfReferral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.bind.Handle(ctx, BindReferralCommand{Code: tt.code, UserID: "alice"})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}

	assert.Zero(t, e.user(t, "alice").TotalPoints)
	assert.False(t, e.user(t, "alice").HasReferrer())

	_, err := e.bind.Handle(ctx, BindReferralCommand{Code: "", UserID: "alice"})
	assert.True(t, shared.IsValidation(err))
	_, err = e.bind.Handle(ctx, BindReferralCommand{Code: alice.ReferralCode, UserID: "ghost"})
	assert.True(t, shared.IsNotFound(err))
}

func TestBindReferral_RecruiterUnlocksOnFifth(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := e.mustCreate(t, "alice")
	ctx := context.Background()

	var last *BindReferralResult
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("friend-%d", i)
		e.mustCreate(t, id)
		res, err := e.bind.Handle(ctx, BindReferralCommand{Code: alice.ReferralCode, UserID: id})
		require.NoError(t, err)
		last = res
		if i < 5 {
			for _, a := range res.ReferrerAward.UnlockedAchievements {
				assert.NotEqual(t, "Recruiter", a.Name)
			}
		}
	}

	require.Len(t, last.ReferrerAward.UnlockedAchievements, 1)
	assert.Equal(t, "Recruiter", last.ReferrerAward.UnlockedAchievements[0].Name)

	// 5 x 500 + Recruiter 500 + Rising Star 100 (crossed at 1000)
	u := e.user(t, "alice")
	assert.Equal(t, int64(5*500+500+100), u.TotalPoints)
	assert.True(t, u.Recognized)

	refs, err := e.store.ListReferrals(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, refs, 5)
	e.assertLedgerInvariant(t, "alice")
}

func TestBindReferral_RateLimitedReferrerStillUnlocks(t *testing.T) {
	e := newTestEngine(t, func(c *EngineConfig) {
		c.Rules[points.ActionReferralBonus] = points.Rule{Base: 500, DailyLimit: 2}
	})
	alice := e.mustCreate(t, "alice")
	ctx := context.Background()

	var last *BindReferralResult
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("friend-%d", i)
		e.mustCreate(t, id)
		res, err := e.bind.Handle(ctx, BindReferralCommand{Code: alice.ReferralCode, UserID: id})
		require.NoError(t, err)
		require.True(t, res.Success, id)
		last = res
	}

	assert.True(t, last.ReferrerAward.RateLimited())
	require.Len(t, last.ReferrerAward.UnlockedAchievements, 1)
	assert.Equal(t, "Recruiter", last.ReferrerAward.UnlockedAchievements[0].Name)

	// 2 x 500 + Rising Star 100 + Recruiter 500
	u := e.user(t, "alice")
	assert.Equal(t, int64(2*500+100+500), u.TotalPoints)
	assert.Equal(t, u.TotalPoints, last.ReferrerAward.NewTotal)
	assert.Len(t, e.entries(t, "alice", points.ActionReferralBonus), 2)
	e.assertLedgerInvariant(t, "alice")
}

func TestBindReferral_RollsBackOnAwardFailure(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := e.mustCreate(t, "alice")
	e.mustCreate(t, "bob")
	ctx := context.Background()

	e.store.SetFault(func(op string, id shared.UserID) error {
		if op == "AppendEntry" && id == "bob" {
			return errInjected
		}
		return nil
	})
	_, err := e.bind.Handle(ctx, BindReferralCommand{Code: alice.ReferralCode, UserID: "bob"})
	require.ErrorIs(t, err, errInjected)
	e.store.SetFault(nil)

	assert.False(t, e.user(t, "bob").HasReferrer())
	assert.Zero(t, e.user(t, "alice").TotalPoints)
	sum, err := e.store.SumEntries(ctx, ledger.EntryFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Zero(t, sum)

	res, err := e.bind.Handle(ctx, BindReferralCommand{Code: alice.ReferralCode, UserID: "bob"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}
