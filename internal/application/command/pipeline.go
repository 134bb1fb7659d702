// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bonkcomputer/points-engine/internal/domain/achievement"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/recognition"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/internal/domain/streak"
	"github.com/bonkcomputer/points-engine/pkg/logger"
	"github.com/bonkcomputer/points-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// EngineConfig is the single configuration value of the award pipeline.
type EngineConfig struct {
	Rules        points.Rules
	Streak       streak.Policy
	Recognition  recognition.Thresholds
	RefereeBonus int64

	// AwardTimeout bounds one whole operation, lock wait included.
	AwardTimeout time.Duration

	// Clock returns "now". Defaults to UTC wall time.
	Clock func() time.Time
}

// DefaultEngineConfig returns the stock configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Rules:        points.DefaultRules(),
		Streak:       streak.DefaultPolicy(),
		Recognition:  recognition.DefaultThresholds(),
		RefereeBonus: referral.RefereeBonus,
		AwardTimeout: 5 * time.Second,
		Clock:        timeutil.Now,
	}
}

// Validate checks the configuration and fills defaults.
func (c EngineConfig) Validate() (EngineConfig, error) {
	if c.Rules == nil {
		c.Rules = points.DefaultRules()
	}
	if err := c.Rules.Validate(); err != nil {
		return c, err
	}
	policy, err := c.Streak.Validate()
	if err != nil {
		return c, err
	}
	c.Streak = policy
	// The STREAK_BONUS rule base is the constant the tiers multiply.
	if rule, ok := c.Rules.Lookup(points.ActionStreakBonus); ok {
		c.Streak.BaseBonus = rule.Base
	}
	if err := c.Recognition.Validate(); err != nil {
		return c, err
	}
	if c.RefereeBonus < 0 {
		return c, fmt.Errorf("engine: referee bonus must be non-negative")
	}
	if c.AwardTimeout <= 0 {
		c.AwardTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = timeutil.Now
	}
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULTS
// ══════════════════════════════════════════════════════════════════════════════

// StreakInfo describes the streak after a DAILY_LOGIN.
type StreakInfo struct {
	Current    int     `json:"current"`
	Longest    int     `json:"longest"`
	Bonus      int64   `json:"bonus"`
	Multiplier float64 `json:"multiplier"`
	Reset      bool    `json:"reset"`
}

// UnlockedAchievement is one achievement unlocked by an operation.
type UnlockedAchievement struct {
	ID       uuid.UUID            `json:"id"`
	Name     string               `json:"name"`
	Category achievement.Category `json:"category"`
	Reward   int64                `json:"reward"`
}

// Breakdown splits PointsAwarded by source.
type Breakdown struct {
	Base               int64 `json:"base"`
	StreakBonus        int64 `json:"streak_bonus"`
	AchievementRewards int64 `json:"achievement_rewards"`
}

// AwardResult is the outcome of one award through the pipeline.
type AwardResult struct {
	Accepted bool              `json:"accepted"`
	UserID   shared.UserID     `json:"user_id"`
	Kind     points.ActionKind `json:"kind"`

	// PointsAwarded is base + streak bonus + achievement rewards.
	PointsAwarded int64     `json:"points_awarded"`
	Breakdown     Breakdown `json:"breakdown"`
	NewTotal      int64     `json:"new_total"`

	UnlockedAchievements []UnlockedAchievement `json:"unlocked_achievements"`
	Streak               *StreakInfo           `json:"streak,omitempty"`

	Promoted        bool   `json:"promoted"`
	PromotionReason string `json:"promotion_reason,omitempty"`

	// RejectionReason is set when Accepted is false (daily limit reached).
	RejectionReason string `json:"rejection_reason,omitempty"`

	Events []shared.Event `json:"-"`
}

// RateLimited reports whether the award was softly rejected.
func (r *AwardResult) RateLimited() bool {
	return !r.Accepted && r.RejectionReason != ""
}

// derivations captures what achievement and promotion passes produced.
type derivations struct {
	Unlocked        []UnlockedAchievement
	Rewards         int64
	Promoted        bool
	PromotionReason string
	Events          []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// PIPELINE
// ══════════════════════════════════════════════════════════════════════════════

// Pipeline runs award, streak, achievement and promotion logic inside one
// store transaction per operation and publishes events after commit.
type Pipeline struct {
	store     ledger.Store
	publisher shared.EventPublisher
	log       *logger.Logger
	config    EngineConfig
}

// NewPipeline creates a Pipeline. A nil publisher drops events.
func NewPipeline(store ledger.Store, publisher shared.EventPublisher, log *logger.Logger, config EngineConfig) (*Pipeline, error) {
	cfg, err := config.Validate()
	if err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		store:     store,
		publisher: publisher,
		log:       log.With(logger.Component("pipeline")),
		config:    cfg,
	}, nil
}

// Config returns the validated configuration.
func (p *Pipeline) Config() EngineConfig {
	return p.config
}

// Store returns the underlying store.
func (p *Pipeline) Store() ledger.Store {
	return p.store
}

func (p *Pipeline) now() time.Time {
	return p.config.Clock().UTC()
}

// run executes fn in one transaction bounded by AwardTimeout, then publishes
// the returned events. Deadline failures surface as transient errors.
func (p *Pipeline) run(ctx context.Context, op string, userIDs []shared.UserID, fn func(tx ledger.Tx, now time.Time) ([]shared.Event, error)) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.AwardTimeout)
	defer cancel()

	now := p.now()
	var events []shared.Event
	err := p.store.InTx(ctx, userIDs, func(tx ledger.Tx) error {
		var fnErr error
		events, fnErr = fn(tx, now)
		return fnErr
	})
	if err != nil {
		if !shared.IsTransient(err) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			err = shared.WrapError("points", op, shared.ErrTransient, "operation timed out", err)
		}
		return err
	}

	p.publish(events)
	return nil
}

func (p *Pipeline) publish(events []shared.Event) {
	for _, event := range events {
		if err := p.publisher.Publish(event); err != nil {
			p.log.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.UserID(event.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

// awardRequest is one award inside an open transaction.
type awardRequest struct {
	Kind points.ActionKind
	// Amount overrides the rule base when non-nil.
	Amount      *int64
	Description string
	Metadata    map[string]string
}

// awardLocked runs the full award pipeline for a locked user. The caller
// saves the user afterwards. A rate-limited award writes nothing.
func (p *Pipeline) awardLocked(ctx context.Context, tx ledger.Tx, user *points.User, req awardRequest, now time.Time) (*AwardResult, error) {
	result := &AwardResult{
		UserID:               user.ID,
		Kind:                 req.Kind,
		NewTotal:             user.TotalPoints,
		UnlockedAchievements: make([]UnlockedAchievement, 0),
	}

	rule, ok := p.config.Rules.Lookup(req.Kind)
	if !ok {
		return nil, shared.ErrUnknownActionKind
	}

	limited, err := p.dailyLimitReached(ctx, tx, user.ID, req.Kind, rule, now)
	if err != nil {
		return nil, err
	}
	if limited {
		result.RejectionReason = shared.NewRateLimitedError(req.Kind.String(), rule.DailyLimit).Message
		return result, nil
	}

	amount := rule.Base
	if req.Amount != nil {
		amount = *req.Amount
	}
	description := req.Description
	if description == "" {
		description = points.DescribeKind(req.Kind)
	}

	if err := tx.AppendEntry(ctx, points.NewLedgerEntry(user.ID, req.Kind, amount, description, req.Metadata, now)); err != nil {
		return nil, fmt.Errorf("append %s entry: %w", req.Kind, err)
	}
	user.ApplyPoints(amount, now)
	result.Accepted = true
	result.Breakdown.Base = amount

	if req.Kind == points.ActionDailyLogin {
		info, event, err := p.advanceStreak(ctx, tx, user, now)
		if err != nil {
			return nil, err
		}
		result.Streak = info
		result.Breakdown.StreakBonus = info.Bonus
		if event != nil {
			result.Events = append(result.Events, event)
		}
	}

	d, err := p.derive(ctx, tx, user, now)
	if err != nil {
		return nil, err
	}
	p.applyDerivations(result, d)

	result.PointsAwarded = result.Breakdown.Base + result.Breakdown.StreakBonus + result.Breakdown.AchievementRewards
	result.NewTotal = user.TotalPoints
	awarded := shared.NewPointsAwardedEvent(user.ID.String(), req.Kind.String(), result.PointsAwarded, result.NewTotal, now)
	result.Events = append([]shared.Event{awarded}, result.Events...)
	return result, nil
}

func (p *Pipeline) applyDerivations(result *AwardResult, d derivations) {
	result.UnlockedAchievements = append(result.UnlockedAchievements, d.Unlocked...)
	result.Breakdown.AchievementRewards += d.Rewards
	if d.Promoted {
		result.Promoted = true
		result.PromotionReason = d.PromotionReason
	}
	result.Events = append(result.Events, d.Events...)
}

// dailyLimitReached counts today's (UTC) entries of kind from the ledger.
func (p *Pipeline) dailyLimitReached(ctx context.Context, tx ledger.Tx, userID shared.UserID, kind points.ActionKind, rule points.Rule, now time.Time) (bool, error) {
	if !rule.HasDailyLimit() {
		return false, nil
	}
	count, err := tx.CountEntries(ctx, ledger.EntryFilter{
		UserID: userID,
		Kinds:  []points.ActionKind{kind},
		Since:  timeutil.StartOfDay(now),
	})
	if err != nil {
		return false, fmt.Errorf("count %s entries: %w", kind, err)
	}
	return count >= int64(rule.DailyLimit), nil
}

// advanceStreak applies the streak tracker and writes the STREAK_BONUS entry.
func (p *Pipeline) advanceStreak(ctx context.Context, tx ledger.Tx, user *points.User, now time.Time) (*StreakInfo, shared.Event, error) {
	out := p.config.Streak.Advance(now, streak.State{
		Current:   user.CurrentStreak,
		Longest:   user.LongestStreak,
		LastLogin: user.LastLoginDate,
	})

	info := &StreakInfo{
		Current:    out.Current,
		Longest:    out.Longest,
		Multiplier: out.Multiplier,
		Reset:      out.Reset,
	}
	if out.SameDay {
		return info, nil, nil
	}

	last := out.LastLogin
	user.CurrentStreak = out.Current
	user.LongestStreak = out.Longest
	user.LastLoginDate = &last

	if out.Bonus > 0 {
		bonusRule, _ := p.config.Rules.Lookup(points.ActionStreakBonus)
		limited, err := p.dailyLimitReached(ctx, tx, user.ID, points.ActionStreakBonus, bonusRule, now)
		if err != nil {
			return nil, nil, err
		}
		if !limited {
			entry := points.NewLedgerEntry(user.ID, points.ActionStreakBonus, out.Bonus,
				fmt.Sprintf("%d-day streak bonus (%.1fx)", out.Current, out.Multiplier),
				map[string]string{points.MetaStreak: fmt.Sprint(out.Current)}, now)
			if err := tx.AppendEntry(ctx, entry); err != nil {
				return nil, nil, fmt.Errorf("append streak bonus: %w", err)
			}
			user.ApplyPoints(out.Bonus, now)
			info.Bonus = out.Bonus
		}
	}

	event := shared.NewStreakAdvancedEvent(user.ID.String(), out.Current, out.Longest, info.Bonus, out.Reset, now)
	return info, event, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DERIVATIONS
// ══════════════════════════════════════════════════════════════════════════════

// derive runs achievement evaluation and then the promotion check, each in
// its own savepoint. A failed derivation is rolled back and logged; the award
// that triggered it stands. Only a done context fails the operation.
func (p *Pipeline) derive(ctx context.Context, tx ledger.Tx, user *points.User, now time.Time) (derivations, error) {
	var d derivations

	snap := user.Clone()
	err := tx.Savepoint(ctx, func(sp ledger.Tx) error {
		unlocked, rewards, events, err := p.unlockAchievements(ctx, sp, user, now)
		if err != nil {
			return err
		}
		d.Unlocked, d.Rewards, d.Events = unlocked, rewards, events
		return nil
	})
	if err != nil {
		*user = *snap
		d = derivations{}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return d, ctxErr
		}
		p.log.Warn("achievement evaluation failed, award kept",
			logger.UserID(user.ID.String()), logger.Operation("evaluate"), logger.Err(err))
	}

	snap = user.Clone()
	err = tx.Savepoint(ctx, func(sp ledger.Tx) error {
		reason, promoted, err := p.promote(ctx, sp, user, now)
		if err != nil {
			return err
		}
		if promoted {
			d.Promoted = true
			d.PromotionReason = reason
			d.Events = append(d.Events, shared.NewUserPromotedEvent(user.ID.String(), reason, now))
		}
		return nil
	})
	if err != nil {
		*user = *snap
		if ctxErr := ctx.Err(); ctxErr != nil {
			return d, ctxErr
		}
		p.log.Warn("promotion check failed, award kept",
			logger.UserID(user.ID.String()), logger.Operation("check_promotion"), logger.Err(err))
	}

	return d, nil
}

// unlockAchievements evaluates to a fixpoint: rewards can satisfy TotalPoints
// thresholds, so passes repeat until nothing new unlocks.
func (p *Pipeline) unlockAchievements(ctx context.Context, tx ledger.Tx, user *points.User, now time.Time) ([]UnlockedAchievement, int64, []shared.Event, error) {
	defs, err := tx.ListAchievements(ctx)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("list achievements: %w", err)
	}
	unlockedIDs, err := tx.UnlockedIDs(ctx, user.ID)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("list unlocks: %w", err)
	}

	var (
		unlocked []UnlockedAchievement
		rewards  int64
		events   []shared.Event
	)
	facts := &txFacts{tx: tx, user: user}

	for {
		hits, err := achievement.NewlySatisfied(ctx, defs, unlockedIDs, facts)
		if err != nil {
			return nil, 0, nil, err
		}
		if len(hits) == 0 {
			break
		}
		for _, def := range hits {
			if err := tx.InsertUnlock(ctx, &achievement.Unlock{UserID: user.ID, AchievementID: def.ID, UnlockedAt: now}); err != nil {
				return nil, 0, nil, fmt.Errorf("unlock %s: %w", def.Name, err)
			}
			entry := points.NewLedgerEntry(user.ID, points.ActionAchievementUnlocked, def.Reward,
				"Achievement unlocked: "+def.Name,
				map[string]string{points.MetaAchievementID: def.ID.String()}, now)
			if err := tx.AppendEntry(ctx, entry); err != nil {
				return nil, 0, nil, fmt.Errorf("append reward for %s: %w", def.Name, err)
			}
			user.ApplyPoints(def.Reward, now)
			unlockedIDs[def.ID] = true
			rewards += def.Reward

			unlocked = append(unlocked, UnlockedAchievement{ID: def.ID, Name: def.Name, Category: def.Category, Reward: def.Reward})
			events = append(events, shared.NewAchievementUnlockedEvent(user.ID.String(), def.ID.String(), def.Name, def.Reward, now))
			p.log.Info("achievement unlocked",
				logger.UserID(user.ID.String()), logger.AchievementName(def.Name), logger.Points(def.Reward))
		}
	}
	return unlocked, rewards, events, nil
}

// promote applies the one-way recognition rule.
func (p *Pipeline) promote(ctx context.Context, tx ledger.Tx, user *points.User, now time.Time) (string, bool, error) {
	if user.Recognized {
		return user.RecognitionReason, false, nil
	}
	unlocked, err := tx.UnlockedIDs(ctx, user.ID)
	if err != nil {
		return "", false, fmt.Errorf("count unlocks: %w", err)
	}
	reason, ok := p.config.Recognition.Decide(recognition.Standing{
		TradeVolume:  user.TradeVolume,
		Achievements: len(unlocked),
		Points:       user.TotalPoints,
	})
	if !ok {
		return "", false, nil
	}
	user.Promote(reason, now)
	p.log.Info("user promoted", logger.UserID(user.ID.String()), logger.String("reason", reason))
	return reason, true, nil
}

// txFacts reads requirement facts through the open transaction so staged
// entries of the current operation are counted.
type txFacts struct {
	tx   ledger.Tx
	user *points.User
}

func (f *txFacts) CountActions(ctx context.Context, kind points.ActionKind) (int64, error) {
	return f.tx.CountEntries(ctx, ledger.EntryFilter{UserID: f.user.ID, Kinds: []points.ActionKind{kind}})
}

func (f *txFacts) CountReferrals(ctx context.Context) (int64, error) {
	return f.tx.CountReferrals(ctx, f.user.ID)
}

func (f *txFacts) CurrentStreak() int {
	return f.user.CurrentStreak
}

func (f *txFacts) TotalPoints() int64 {
	return f.user.TotalPoints
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func requireUserID(op, raw string) (shared.UserID, error) {
	if raw == "" {
		return "", fmt.Errorf("%s: %w: user_id is required", op, shared.ErrInvalidInput)
	}
	id := shared.UserID(raw)
	if !id.IsValid() {
		return "", fmt.Errorf("%s: %w", op, shared.ErrInvalidUserID)
	}
	return id, nil
}
