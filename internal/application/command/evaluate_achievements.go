package command

import (
	"context"
	"fmt"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE ACHIEVEMENTS COMMAND
// Standalone evaluation. Running it twice with no mutation in between returns
// an empty list the second time.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateAchievementsCommand asks for a re-evaluation of one user.
type EvaluateAchievementsCommand struct {
	UserID string
}

// Validate validates the command.
func (c EvaluateAchievementsCommand) Validate() error {
	_, err := requireUserID("evaluate_achievements", c.UserID)
	return err
}

// EvaluateAchievementsResult lists what the evaluation unlocked.
type EvaluateAchievementsResult struct {
	Unlocked        []UnlockedAchievement `json:"unlocked"`
	RewardPoints    int64                 `json:"reward_points"`
	NewTotal        int64                 `json:"new_total"`
	Promoted        bool                  `json:"promoted"`
	PromotionReason string                `json:"promotion_reason,omitempty"`
}

// EvaluateAchievementsHandler handles the command.
type EvaluateAchievementsHandler struct {
	pipeline *Pipeline
}

// NewEvaluateAchievementsHandler creates a new handler.
func NewEvaluateAchievementsHandler(pipeline *Pipeline) *EvaluateAchievementsHandler {
	return &EvaluateAchievementsHandler{pipeline: pipeline}
}

// Handle executes the command. Unlike the chained evaluation inside an award,
// a failure here is returned to the caller.
func (h *EvaluateAchievementsHandler) Handle(ctx context.Context, cmd EvaluateAchievementsCommand) (*EvaluateAchievementsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID := shared.UserID(cmd.UserID)

	result := &EvaluateAchievementsResult{Unlocked: make([]UnlockedAchievement, 0)}
	err := h.pipeline.run(ctx, "Evaluate", []shared.UserID{userID}, func(tx ledger.Tx, now time.Time) ([]shared.Event, error) {
		user, err := tx.LockedUser(userID)
		if err != nil {
			return nil, err
		}

		unlocked, rewards, events, err := h.pipeline.unlockAchievements(ctx, tx, user, now)
		if err != nil {
			return nil, err
		}
		reason, promoted, err := h.pipeline.promote(ctx, tx, user, now)
		if err != nil {
			return nil, err
		}
		if promoted {
			events = append(events, shared.NewUserPromotedEvent(user.ID.String(), reason, now))
			result.Promoted = true
			result.PromotionReason = reason
		}

		if len(unlocked) > 0 || promoted {
			if err := tx.SaveUser(ctx, user); err != nil {
				return nil, fmt.Errorf("save user: %w", err)
			}
		}
		if rewards != 0 {
			events = append([]shared.Event{shared.NewPointsAwardedEvent(user.ID.String(), "ACHIEVEMENT_UNLOCKED", rewards, user.TotalPoints, now)}, events...)
		}

		result.Unlocked = append(result.Unlocked, unlocked...)
		result.RewardPoints = rewards
		result.NewTotal = user.TotalPoints
		return events, nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate_achievements: %w", err)
	}
	return result, nil
}
