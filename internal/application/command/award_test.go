package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

func TestAward_ProfileCreation(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "alice")

	res := e.mustAward(t, "alice", points.ActionProfileCreation)

	assert.True(t, res.Accepted)
	assert.Equal(t, int64(100), res.PointsAwarded)
	assert.Equal(t, int64(100), res.NewTotal)
	assert.Empty(t, res.UnlockedAchievements)
	assert.False(t, res.Promoted)

	u := e.user(t, "alice")
	assert.Equal(t, int64(100), u.TotalPoints)
	assert.False(t, u.Recognized)
	assert.Len(t, e.entries(t, "alice"), 1)
	e.assertLedgerInvariant(t, "alice")

	awarded := e.events.ofType(shared.EventPointsAwarded)
	require.Len(t, awarded, 1)
	assert.Equal(t, int64(100), awarded[0].(shared.PointsAwardedEvent).NewTotal)
}

func TestAward_SeventhConsecutiveLogin(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "alice")

	for day := 1; day <= 6; day++ {
		res := e.mustAward(t, "alice", points.ActionDailyLogin)
		require.True(t, res.Accepted)
		require.Equal(t, day, res.Streak.Current)
		require.Zero(t, res.Streak.Bonus)
		e.clock.Advance(24 * time.Hour)
	}
	prior := e.user(t, "alice").TotalPoints
	require.Equal(t, int64(60), prior)

	res := e.mustAward(t, "alice", points.ActionDailyLogin)

	require.True(t, res.Accepted)
	assert.Equal(t, 7, res.Streak.Current)
	assert.Equal(t, int64(10), res.Streak.Bonus)
	assert.Equal(t, 1.5, res.Streak.Multiplier)
	require.Len(t, res.UnlockedAchievements, 1)
	assert.Equal(t, "Loyal User", res.UnlockedAchievements[0].Name)
	assert.Equal(t, Breakdown{Base: 10, StreakBonus: 10, AchievementRewards: 200}, res.Breakdown)
	assert.Equal(t, int64(220), res.PointsAwarded)
	assert.Equal(t, prior+10+10+200, res.NewTotal)

	u := e.user(t, "alice")
	assert.Equal(t, 7, u.CurrentStreak)
	assert.Equal(t, 7, u.LongestStreak)
	assert.Len(t, e.entries(t, "alice", points.ActionStreakBonus), 1)
	e.assertLedgerInvariant(t, "alice")
}

func TestAward_DailyLimit(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "trader")

	accepted := 0
	var last *AwardResult
	for i := 0; i < 101; i++ {
		last = e.mustAward(t, "trader", points.ActionTradeCompleted)
		if last.Accepted {
			accepted++
		}
	}

	assert.Equal(t, 100, accepted)
	assert.False(t, last.Accepted)
	assert.True(t, last.RateLimited())
	assert.Contains(t, last.RejectionReason, "TRADE_COMPLETED")
	assert.Zero(t, last.PointsAwarded)
	assert.Len(t, e.entries(t, "trader", points.ActionTradeCompleted), 100)
	e.assertLedgerInvariant(t, "trader")

	// the limit is per UTC day
	e.clock.Advance(24 * time.Hour)
	assert.True(t, e.mustAward(t, "trader", points.ActionTradeCompleted).Accepted)
}

func TestAward_SameDayLoginIsSoftRejected(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "alice")

	require.True(t, e.mustAward(t, "alice", points.ActionDailyLogin).Accepted)
	e.clock.Advance(time.Hour)
	res := e.mustAward(t, "alice", points.ActionDailyLogin)

	assert.False(t, res.Accepted)
	assert.Nil(t, res.Streak)
	assert.Equal(t, int64(10), res.NewTotal)
	assert.Equal(t, 1, e.user(t, "alice").CurrentStreak)
}

func TestAward_StreakResetsAfterGap(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "alice")

	e.mustAward(t, "alice", points.ActionDailyLogin)
	e.clock.Advance(24 * time.Hour)
	e.mustAward(t, "alice", points.ActionDailyLogin)
	e.clock.Advance(3 * 24 * time.Hour)

	res := e.mustAward(t, "alice", points.ActionDailyLogin)
	assert.Equal(t, 1, res.Streak.Current)
	assert.Equal(t, 2, res.Streak.Longest)
	assert.True(t, res.Streak.Reset)

	u := e.user(t, "alice")
	assert.Equal(t, 1, u.CurrentStreak)
	assert.Equal(t, 2, u.LongestStreak)
}

func TestAward_Rejections(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "alice")
	ctx := context.Background()

	internal := []points.ActionKind{
		points.ActionStreakBonus,
		points.ActionAchievementUnlocked,
		points.ActionReferralBonus,
		points.ActionAdminAdjustment,
	}
	for _, kind := range internal {
		_, err := e.award.Handle(ctx, AwardCommand{UserID: "alice", Kind: kind.String()})
		assert.True(t, shared.IsValidation(err), kind)
		assert.ErrorIs(t, err, shared.ErrInternalActionKind)
	}

	_, err := e.award.Handle(ctx, AwardCommand{UserID: "alice", Kind: "DANCE"})
	assert.True(t, shared.IsValidation(err))

	_, err = e.award.Handle(ctx, AwardCommand{UserID: "", Kind: "DAILY_LOGIN"})
	assert.True(t, shared.IsValidation(err))

	_, err = e.award.Handle(ctx, AwardCommand{UserID: "ghost", Kind: "DAILY_LOGIN"})
	assert.True(t, shared.IsNotFound(err))

	assert.Empty(t, e.entries(t, "alice"))
}

func TestAward_MetadataStored(t *testing.T) {
	e := newTestEngine(t, nil)
	e.mustCreate(t, "alice")

	_, err := e.award.Handle(context.Background(), AwardCommand{
		UserID:   "alice",
		Kind:     "COMMENT_CREATED",
		Metadata: map[string]string{"comment_id": "c-1"},
	})
	require.NoError(t, err)

	entries := e.entries(t, "alice", points.ActionCommentCreated)
	require.Len(t, entries, 1)
	assert.Equal(t, "c-1", entries[0].Metadata["comment_id"])
	assert.Equal(t, int64(5), entries[0].Delta)
}

func TestCreateUser(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	u, err := e.create.Handle(ctx, CreateUserCommand{DisplayName: "  Zoë  "})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "Zoë", u.DisplayName)
	assert.Len(t, u.ReferralCode, 8)
	assert.Len(t, e.events.ofType(shared.EventUserCreated), 1)

	_, err = e.create.Handle(ctx, CreateUserCommand{UserID: u.ID.String(), DisplayName: "again"})
	assert.True(t, shared.IsAlreadyExists(err))

	_, err = e.create.Handle(ctx, CreateUserCommand{DisplayName: "   "})
	assert.True(t, shared.IsValidation(err))
}
