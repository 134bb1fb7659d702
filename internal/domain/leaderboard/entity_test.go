package leaderboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/timeutil"
)

func TestWindowFor(t *testing.T) {
	// Thursday
	now := time.Date(2025, 5, 15, 18, 0, 0, 0, time.UTC)

	d := WindowFor(PeriodDaily, now)
	assert.Equal(t, timeutil.Date(2025, 5, 15), d.Start)
	assert.Equal(t, timeutil.Date(2025, 5, 16), d.End)

	w := WindowFor(PeriodWeekly, now)
	assert.Equal(t, timeutil.Date(2025, 5, 12), w.Start)
	assert.Equal(t, timeutil.Date(2025, 5, 19), w.End)
	assert.True(t, w.Contains(timeutil.Date(2025, 5, 18).Add(23*time.Hour)))
	assert.False(t, w.Contains(timeutil.Date(2025, 5, 19)))

	m := WindowFor(PeriodMonthly, now)
	assert.Equal(t, timeutil.Date(2025, 5, 1), m.Start)
	assert.Equal(t, timeutil.Date(2025, 6, 1), m.End)

	assert.True(t, WindowFor(PeriodAllTime, now).IsAllTime())
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodAllTime, p)

	p, err = ParsePeriod("Weekly")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeekly, p)

	_, err = ParsePeriod("yearly")
	assert.True(t, shared.IsValidation(err))
}

func TestRanking_SharedRanksAndTieOrder(t *testing.T) {
	base := timeutil.Date(2025, 1, 1)
	r := NewRanking()
	require.NoError(t, r.Add(&Entry{UserID: "c", Points: 50, CreatedAt: base.Add(2 * time.Hour)}))
	require.NoError(t, r.Add(&Entry{UserID: "a", Points: 100, CreatedAt: base}))
	require.NoError(t, r.Add(&Entry{UserID: "b", Points: 50, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, r.Add(&Entry{UserID: "d", Points: 10, CreatedAt: base}))
	require.NoError(t, r.Add(&Entry{UserID: "zero", Points: 0, CreatedAt: base}))
	assert.ErrorIs(t, r.Add(&Entry{UserID: "a", Points: 1}), ErrDuplicateUser)

	r.Sort()

	top := r.Top(10)
	require.Len(t, top, 4)
	assert.Equal(t, []shared.UserID{"a", "b", "c", "d"}, []shared.UserID{top[0].UserID, top[1].UserID, top[2].UserID, top[3].UserID})
	assert.Equal(t, []int64{1, 2, 2, 4}, []int64{top[0].Rank, top[1].Rank, top[2].Rank, top[3].Rank})
	assert.Nil(t, r.Get("zero"))
	assert.Equal(t, 4, r.Count())
}
