// Package points holds the ledger core: action kinds and their award rules,
// the per-user aggregate and the immutable ledger entry.
package points

import (
	"fmt"
	"sort"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTION KINDS
// ══════════════════════════════════════════════════════════════════════════════

// ActionKind tags every ledger entry with the action that produced it.
type ActionKind string

const (
	ActionProfileCreation     ActionKind = "PROFILE_CREATION"
	ActionDailyLogin          ActionKind = "DAILY_LOGIN"
	ActionStreakBonus         ActionKind = "STREAK_BONUS"
	ActionCommentCreated      ActionKind = "COMMENT_CREATED"
	ActionLikeGiven           ActionKind = "LIKE_GIVEN"
	ActionFollowUser          ActionKind = "FOLLOW_USER"
	ActionTradeCompleted      ActionKind = "TRADE_COMPLETED"
	ActionReferralBonus       ActionKind = "REFERRAL_BONUS"
	ActionProfileUpdate       ActionKind = "PROFILE_UPDATE"
	ActionPortfolioView       ActionKind = "PORTFOLIO_VIEW"
	ActionAchievementUnlocked ActionKind = "ACHIEVEMENT_UNLOCKED"
	ActionAdminAdjustment     ActionKind = "ADMIN_ADJUSTMENT"
)

// AllActionKinds lists every kind in table order.
var AllActionKinds = []ActionKind{
	ActionProfileCreation,
	ActionDailyLogin,
	ActionStreakBonus,
	ActionCommentCreated,
	ActionLikeGiven,
	ActionFollowUser,
	ActionTradeCompleted,
	ActionReferralBonus,
	ActionProfileUpdate,
	ActionPortfolioView,
	ActionAchievementUnlocked,
	ActionAdminAdjustment,
}

// String returns the string representation.
func (k ActionKind) String() string {
	return string(k)
}

// IsValid reports whether the kind is one the engine knows.
func (k ActionKind) IsValid() bool {
	for _, known := range AllActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsInternal reports whether the kind is written only by the engine itself
// and can never be requested by a caller.
func (k ActionKind) IsInternal() bool {
	switch k {
	case ActionStreakBonus, ActionAchievementUnlocked, ActionReferralBonus, ActionAdminAdjustment:
		return true
	default:
		return false
	}
}

// ParseActionKind validates a caller-supplied kind.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(s)
	if !k.IsValid() {
		return "", shared.WrapError("points", "ParseActionKind", shared.ErrInvalidInput,
			fmt.Sprintf("unknown action kind %q", s), shared.ErrUnknownActionKind)
	}
	return k, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RULES
// ══════════════════════════════════════════════════════════════════════════════

// NoDailyLimit marks a kind that may be written any number of times per day.
const NoDailyLimit = 0

// Rule is the configured award for one action kind. Variable-value kinds
// carry a zero Base; their amount is supplied by the engine.
type Rule struct {
	Base       int64 `yaml:"base" json:"base"`
	DailyLimit int   `yaml:"daily_limit" json:"daily_limit"`
}

// HasDailyLimit reports whether the rule is capped per UTC day.
func (r Rule) HasDailyLimit() bool {
	return r.DailyLimit > NoDailyLimit
}

// Rules maps each action kind to its award rule.
type Rules map[ActionKind]Rule

// DefaultRules returns the stock point table.
func DefaultRules() Rules {
	return Rules{
		ActionProfileCreation:     {Base: 100, DailyLimit: 1},
		ActionDailyLogin:          {Base: 10, DailyLimit: 1},
		ActionStreakBonus:         {Base: 20, DailyLimit: 1},
		ActionCommentCreated:      {Base: 5, DailyLimit: 20},
		ActionLikeGiven:           {Base: 2, DailyLimit: 50},
		ActionFollowUser:          {Base: 3, DailyLimit: 25},
		ActionTradeCompleted:      {Base: 25, DailyLimit: 100},
		ActionReferralBonus:       {Base: 500, DailyLimit: 10},
		ActionProfileUpdate:       {Base: 10, DailyLimit: 5},
		ActionPortfolioView:       {Base: 1, DailyLimit: 1},
		ActionAchievementUnlocked: {Base: 0, DailyLimit: NoDailyLimit},
		ActionAdminAdjustment:     {Base: 0, DailyLimit: NoDailyLimit},
	}
}

// Lookup returns the rule for a kind.
func (r Rules) Lookup(kind ActionKind) (Rule, bool) {
	rule, ok := r[kind]
	return rule, ok
}

// Merge returns a copy of r with every rule in override replacing the default.
func (r Rules) Merge(override Rules) Rules {
	out := make(Rules, len(r))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Validate checks that every known kind has a rule and values are sane.
func (r Rules) Validate() error {
	for _, kind := range AllActionKinds {
		rule, ok := r[kind]
		if !ok {
			return fmt.Errorf("rules: missing rule for %s", kind)
		}
		if rule.Base < 0 {
			return fmt.Errorf("rules: %s base must be non-negative", kind)
		}
		if rule.DailyLimit < 0 {
			return fmt.Errorf("rules: %s daily_limit must be non-negative", kind)
		}
	}
	for kind := range r {
		if !kind.IsValid() {
			return fmt.Errorf("rules: unknown action kind %s", kind)
		}
	}
	return nil
}

// Kinds returns the configured kinds sorted by name.
func (r Rules) Kinds() []ActionKind {
	kinds := make([]ActionKind, 0, len(r))
	for k := range r {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
