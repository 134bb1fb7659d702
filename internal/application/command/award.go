package command

import (
	"context"
	"fmt"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD COMMAND
// Converts one user action into points: daily limit, base entry, streak bonus
// for logins, achievement rewards and the promotion check, as one unit.
// ══════════════════════════════════════════════════════════════════════════════

// AwardCommand contains the data to award an action.
type AwardCommand struct {
	// UserID is the opaque identity of the user.
	UserID string

	// Kind is the action kind. Internal kinds are rejected.
	Kind string

	// Metadata is stored on the ledger entry.
	Metadata map[string]string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AwardCommand) Validate() error {
	if _, err := requireUserID("award", c.UserID); err != nil {
		return err
	}
	kind, err := points.ParseActionKind(c.Kind)
	if err != nil {
		return fmt.Errorf("award: %w", err)
	}
	if kind.IsInternal() {
		return fmt.Errorf("award: %w", shared.ErrInternalActionKind)
	}
	return nil
}

// AwardHandler handles the AwardCommand.
type AwardHandler struct {
	pipeline *Pipeline
	log      *logger.Logger
}

// NewAwardHandler creates a new AwardHandler.
func NewAwardHandler(pipeline *Pipeline, log *logger.Logger) *AwardHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AwardHandler{pipeline: pipeline, log: log}
}

// Handle executes the award command. A rate-limited award is returned with
// Accepted=false and no error.
func (h *AwardHandler) Handle(ctx context.Context, cmd AwardCommand) (*AwardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID := shared.UserID(cmd.UserID)
	kind := points.ActionKind(cmd.Kind)

	var result *AwardResult
	err := h.pipeline.run(ctx, "Award", []shared.UserID{userID}, func(tx ledger.Tx, now time.Time) ([]shared.Event, error) {
		user, err := tx.LockedUser(userID)
		if err != nil {
			return nil, err
		}

		result, err = h.pipeline.awardLocked(ctx, tx, user, awardRequest{Kind: kind, Metadata: cmd.Metadata}, now)
		if err != nil {
			return nil, err
		}
		if !result.Accepted {
			return nil, nil
		}
		if err := tx.SaveUser(ctx, user); err != nil {
			return nil, fmt.Errorf("save user: %w", err)
		}
		return withCorrelation(result.Events, cmd.CorrelationID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("award: %w", err)
	}

	if result.Accepted {
		h.log.Debug("points awarded",
			logger.UserID(cmd.UserID),
			logger.ActionKind(cmd.Kind),
			logger.Points(result.PointsAwarded),
			logger.Int64("new_total", result.NewTotal),
		)
	} else {
		h.log.Debug("award rate limited", logger.UserID(cmd.UserID), logger.ActionKind(cmd.Kind))
	}
	return result, nil
}

// withCorrelation stamps a correlation id on events that carry a BaseEvent.
func withCorrelation(events []shared.Event, correlationID string) []shared.Event {
	if correlationID == "" {
		return events
	}
	out := make([]shared.Event, 0, len(events))
	for _, e := range events {
		switch ev := e.(type) {
		case shared.PointsAwardedEvent:
			ev.BaseEvent = ev.BaseEvent.WithCorrelationID(correlationID)
			out = append(out, ev)
		case shared.StreakAdvancedEvent:
			ev.BaseEvent = ev.BaseEvent.WithCorrelationID(correlationID)
			out = append(out, ev)
		case shared.AchievementUnlockedEvent:
			ev.BaseEvent = ev.BaseEvent.WithCorrelationID(correlationID)
			out = append(out, ev)
		case shared.UserPromotedEvent:
			ev.BaseEvent = ev.BaseEvent.WithCorrelationID(correlationID)
			out = append(out, ev)
		case shared.ReferralBoundEvent:
			ev.BaseEvent = ev.BaseEvent.WithCorrelationID(correlationID)
			out = append(out, ev)
		default:
			out = append(out, e)
		}
	}
	return out
}
