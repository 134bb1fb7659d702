// Package streak derives login-streak state and streak bonus points.
// Everything here is pure: callers pass "today" and the stored state.
package streak

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bonkcomputer/points-engine/pkg/timeutil"
)

// Tier is one multiplier step. The highest tier whose MinStreak is reached wins.
type Tier struct {
	MinStreak  int     `yaml:"min_streak" json:"min_streak"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// Policy is the configurable streak rule set.
type Policy struct {
	// BaseBonus is the STREAK_BONUS base constant the multiplier scales.
	BaseBonus int64
	Tiers     []Tier
}

// DefaultPolicy returns the stock tiers.
func DefaultPolicy() Policy {
	return Policy{
		BaseBonus: 20,
		Tiers: []Tier{
			{MinStreak: 100, Multiplier: 4.0},
			{MinStreak: 60, Multiplier: 3.0},
			{MinStreak: 30, Multiplier: 2.5},
			{MinStreak: 14, Multiplier: 2.0},
			{MinStreak: 7, Multiplier: 1.5},
		},
	}
}

// Validate checks the policy and returns a copy with tiers sorted descending.
func (p Policy) Validate() (Policy, error) {
	if p.BaseBonus < 0 {
		return p, fmt.Errorf("streak: base bonus must be non-negative")
	}
	tiers := make([]Tier, len(p.Tiers))
	copy(tiers, p.Tiers)
	for _, t := range tiers {
		if t.MinStreak < 1 {
			return p, fmt.Errorf("streak: tier min_streak must be at least 1")
		}
		if t.Multiplier < 1 {
			return p, fmt.Errorf("streak: tier multiplier must be at least 1.0")
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinStreak > tiers[j].MinStreak })
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinStreak == tiers[i-1].MinStreak {
			return p, fmt.Errorf("streak: duplicate tier for min_streak %d", tiers[i].MinStreak)
		}
	}
	p.Tiers = tiers
	return p, nil
}

// MultiplierFor returns the multiplier for a streak length, 1.0 below every tier.
func (p Policy) MultiplierFor(streak int) float64 {
	best := Tier{Multiplier: 1.0}
	for _, t := range p.Tiers {
		if streak >= t.MinStreak && t.MinStreak > best.MinStreak {
			best = t
		}
	}
	return best.Multiplier
}

// BonusFor returns floor(BaseBonus × (multiplier − 1)), or 0 when no tier applies.
func (p Policy) BonusFor(streak int) int64 {
	m := p.MultiplierFor(streak)
	if m <= 1 {
		return 0
	}
	// Small epsilon so 20 × 0.15 style products do not floor one short.
	return int64(math.Floor(float64(p.BaseBonus)*(m-1) + 1e-9))
}

// State is the stored streak state of a user.
type State struct {
	Current   int
	Longest   int
	LastLogin *time.Time
}

// Outcome is the result of advancing the streak for one login.
type Outcome struct {
	Current    int
	Longest    int
	LastLogin  time.Time
	Bonus      int64
	Multiplier float64
	// SameDay is true when the user already logged in today; nothing changes.
	SameDay bool
	// Reset is true when an existing streak was broken by a gap.
	Reset bool
}

// Advance computes the streak after a login on today.
//
// Yesterday continues the streak, today leaves it unchanged with no bonus,
// anything else (a gap of two or more days, or no prior login) restarts at 1.
func (p Policy) Advance(today time.Time, st State) Outcome {
	day := timeutil.StartOfDay(today)

	if st.LastLogin != nil && timeutil.IsSameDay(*st.LastLogin, day) {
		return Outcome{
			Current:    st.Current,
			Longest:    st.Longest,
			LastLogin:  day,
			Multiplier: 1.0,
			SameDay:    true,
		}
	}

	next := 1
	reset := false
	if st.LastLogin != nil && timeutil.IsConsecutiveDay(*st.LastLogin, day) {
		next = st.Current + 1
	} else if st.Current > 0 {
		reset = true
	}

	longest := st.Longest
	if next > longest {
		longest = next
	}

	return Outcome{
		Current:    next,
		Longest:    longest,
		LastLogin:  day,
		Bonus:      p.BonusFor(next),
		Multiplier: p.MultiplierFor(next),
		Reset:      reset,
	}
}
