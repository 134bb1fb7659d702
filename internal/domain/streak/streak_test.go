package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/pkg/timeutil"
)

func day(d int) *time.Time {
	t := timeutil.Date(2025, 3, d)
	return &t
}

func TestPolicy_BonusTiers(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		streak int
		mult   float64
		bonus  int64
	}{
		{1, 1.0, 0},
		{6, 1.0, 0},
		{7, 1.5, 10},
		{13, 1.5, 10},
		{14, 2.0, 20},
		{30, 2.5, 30},
		{59, 2.5, 30},
		{60, 3.0, 40},
		{100, 4.0, 60},
		{365, 4.0, 60},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.mult, p.MultiplierFor(tt.streak), "streak %d", tt.streak)
		assert.Equal(t, tt.bonus, p.BonusFor(tt.streak), "streak %d", tt.streak)
	}
}

func TestAdvance(t *testing.T) {
	p := DefaultPolicy()
	today := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name        string
		state       State
		wantCurrent int
		wantLongest int
		wantBonus   int64
		wantSameDay bool
		wantReset   bool
	}{
		{"first login", State{}, 1, 1, 0, false, false},
		{"yesterday continues", State{Current: 6, Longest: 6, LastLogin: day(9)}, 7, 7, 10, false, false},
		{"same day unchanged", State{Current: 7, Longest: 9, LastLogin: day(10)}, 7, 9, 0, true, false},
		{"gap resets", State{Current: 20, Longest: 20, LastLogin: day(8)}, 1, 20, 0, false, true},
		{"longest kept", State{Current: 3, Longest: 50, LastLogin: day(9)}, 4, 50, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Advance(today, tt.state)
			assert.Equal(t, tt.wantCurrent, out.Current)
			assert.Equal(t, tt.wantLongest, out.Longest)
			assert.Equal(t, tt.wantBonus, out.Bonus)
			assert.Equal(t, tt.wantSameDay, out.SameDay)
			assert.Equal(t, tt.wantReset, out.Reset)
			assert.Equal(t, timeutil.Date(2025, 3, 10), out.LastLogin)
		})
	}
}

func TestAdvance_LongestNeverDecreases(t *testing.T) {
	p := DefaultPolicy()
	st := State{}
	longest := 0
	start := timeutil.Date(2025, 1, 1)

	// login pattern with gaps
	offsets := []int{0, 1, 2, 3, 6, 7, 20, 21, 22, 23, 24}
	for _, off := range offsets {
		out := p.Advance(start.AddDate(0, 0, off), st)
		assert.GreaterOrEqual(t, out.Longest, longest)
		longest = out.Longest
		last := out.LastLogin
		st = State{Current: out.Current, Longest: out.Longest, LastLogin: &last}
	}
	assert.Equal(t, 5, st.Current)
	assert.Equal(t, 5, st.Longest)
}

func TestPolicy_Validate(t *testing.T) {
	p, err := Policy{BaseBonus: 20, Tiers: []Tier{{7, 1.5}, {100, 4}}}.Validate()
	require.NoError(t, err)
	assert.Equal(t, 100, p.Tiers[0].MinStreak)

	_, err = Policy{BaseBonus: 20, Tiers: []Tier{{0, 1.5}}}.Validate()
	assert.Error(t, err)

	_, err = Policy{BaseBonus: 20, Tiers: []Tier{{7, 0.5}}}.Validate()
	assert.Error(t, err)

	_, err = Policy{BaseBonus: 20, Tiers: []Tier{{7, 1.5}, {7, 2}}}.Validate()
	assert.Error(t, err)
}
