// Package shared contains common domain types, errors and events that are used
// across all domain packages.
package shared

import (
	"time"
)

// EventType names a domain event as "<aggregate>.<what happened>".
type EventType string

// Events are published only after the transaction that produced them has
// committed. The aggregate of every event is a user id.
const (
	EventUserCreated         EventType = "user.created"
	EventPointsAwarded       EventType = "points.awarded"
	EventStreakAdvanced      EventType = "points.streak_advanced"
	EventLedgerReconciled    EventType = "ledger.reconciled"
	EventAchievementUnlocked EventType = "achievement.unlocked"
	EventUserPromoted        EventType = "recognition.promoted"
	EventReferralBound       EventType = "referral.bound"
)

// Event is what the bus carries. Payload holds the event specific fields
// under their JSON names; it is also what crosses instances.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]any
}

// BaseEvent is embedded by every concrete event.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent stamps a version 1 event. A zero at means now.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return BaseEvent{Type: eventType, Timestamp: at, AggregateId: aggregateID, Version: 1}
}

// WithCorrelationID returns a copy tagged with the id of the request that
// caused it.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// UserCreatedEvent is emitted when a user aggregate is created.
type UserCreatedEvent struct {
	BaseEvent
	DisplayName  string `json:"display_name"`
	ReferralCode string `json:"referral_code"`
}

func (e UserCreatedEvent) Payload() map[string]any {
	return map[string]any{
		"display_name":  e.DisplayName,
		"referral_code": e.ReferralCode,
	}
}

func NewUserCreatedEvent(userID, displayName, referralCode string, at time.Time) UserCreatedEvent {
	return UserCreatedEvent{
		BaseEvent:    NewBaseEvent(EventUserCreated, userID, at),
		DisplayName:  displayName,
		ReferralCode: referralCode,
	}
}

// PointsAwardedEvent is emitted once per accepted award, carrying the full
// amount written (base, streak bonus and achievement rewards).
type PointsAwardedEvent struct {
	BaseEvent
	Kind     string `json:"kind"`
	Points   int64  `json:"points"`
	NewTotal int64  `json:"new_total"`
}

func (e PointsAwardedEvent) Payload() map[string]any {
	return map[string]any{
		"kind":      e.Kind,
		"points":    e.Points,
		"new_total": e.NewTotal,
	}
}

func NewPointsAwardedEvent(userID, kind string, points, newTotal int64, at time.Time) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent: NewBaseEvent(EventPointsAwarded, userID, at),
		Kind:      kind,
		Points:    points,
		NewTotal:  newTotal,
	}
}

// StreakAdvancedEvent is emitted when a login moves the streak.
type StreakAdvancedEvent struct {
	BaseEvent
	CurrentStreak int   `json:"current_streak"`
	LongestStreak int   `json:"longest_streak"`
	Bonus         int64 `json:"bonus"`
	Reset         bool  `json:"reset"`
}

func (e StreakAdvancedEvent) Payload() map[string]any {
	return map[string]any{
		"current_streak": e.CurrentStreak,
		"longest_streak": e.LongestStreak,
		"bonus":          e.Bonus,
		"reset":          e.Reset,
	}
}

func NewStreakAdvancedEvent(userID string, current, longest int, bonus int64, reset bool, at time.Time) StreakAdvancedEvent {
	return StreakAdvancedEvent{
		BaseEvent:     NewBaseEvent(EventStreakAdvanced, userID, at),
		CurrentStreak: current,
		LongestStreak: longest,
		Bonus:         bonus,
		Reset:         reset,
	}
}

// LedgerReconciledEvent is emitted when reconciliation repaired a drifted total.
type LedgerReconciledEvent struct {
	BaseEvent
	CachedTotal int64 `json:"cached_total"`
	LedgerTotal int64 `json:"ledger_total"`
}

func (e LedgerReconciledEvent) Payload() map[string]any {
	return map[string]any{
		"cached_total": e.CachedTotal,
		"ledger_total": e.LedgerTotal,
		"new_total":    e.LedgerTotal,
	}
}

func NewLedgerReconciledEvent(userID string, cached, ledger int64, at time.Time) LedgerReconciledEvent {
	return LedgerReconciledEvent{
		BaseEvent:   NewBaseEvent(EventLedgerReconciled, userID, at),
		CachedTotal: cached,
		LedgerTotal: ledger,
	}
}

// AchievementUnlockedEvent is emitted for every new unlock.
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID   string `json:"achievement_id"`
	AchievementName string `json:"achievement_name"`
	Reward          int64  `json:"reward"`
}

func (e AchievementUnlockedEvent) Payload() map[string]any {
	return map[string]any{
		"achievement_id":   e.AchievementID,
		"achievement_name": e.AchievementName,
		"reward":           e.Reward,
	}
}

func NewAchievementUnlockedEvent(userID, achievementID, name string, reward int64, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:       NewBaseEvent(EventAchievementUnlocked, userID, at),
		AchievementID:   achievementID,
		AchievementName: name,
		Reward:          reward,
	}
}

// UserPromotedEvent is emitted once, when a user enters the recognized tier.
type UserPromotedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

func (e UserPromotedEvent) Payload() map[string]any {
	return map[string]any{
		"reason": e.Reason,
	}
}

func NewUserPromotedEvent(userID, reason string, at time.Time) UserPromotedEvent {
	return UserPromotedEvent{
		BaseEvent: NewBaseEvent(EventUserPromoted, userID, at),
		Reason:    reason,
	}
}

// ReferralBoundEvent is emitted when a referral edge is created.
type ReferralBoundEvent struct {
	BaseEvent
	ReferrerID string `json:"referrer_id"`
	Code       string `json:"code"`
}

func (e ReferralBoundEvent) Payload() map[string]any {
	return map[string]any{
		"referrer_id": e.ReferrerID,
		"code":        e.Code,
	}
}

func NewReferralBoundEvent(referredID, referrerID, code string, at time.Time) ReferralBoundEvent {
	return ReferralBoundEvent{
		BaseEvent:  NewBaseEvent(EventReferralBound, referredID, at),
		ReferrerID: referrerID,
		Code:       code,
	}
}

// Relayed marks an event published by another instance. Its side effects on
// shared state were applied where it was published.
type Relayed interface {
	Relayed() bool
}

// IsRelayed reports whether the event came from another instance.
func IsRelayed(event Event) bool {
	r, ok := event.(Relayed)
	return ok && r.Relayed()
}

// EventHandler consumes one event. Its error is logged by the bus and never
// reaches the publisher.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) error { return nil }
