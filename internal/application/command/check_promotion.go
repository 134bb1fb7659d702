package command

import (
	"context"
	"fmt"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// CheckPromotionCommand asks whether a user now qualifies for recognition.
type CheckPromotionCommand struct {
	UserID string
}

// Validate validates the command.
func (c CheckPromotionCommand) Validate() error {
	_, err := requireUserID("check_promotion", c.UserID)
	return err
}

// CheckPromotionResult is the promotion outcome. For an already recognized
// user Promoted is false and Reason is the original reason.
type CheckPromotionResult struct {
	Promoted          bool   `json:"promoted"`
	AlreadyRecognized bool   `json:"already_recognized"`
	Reason            string `json:"reason,omitempty"`
}

// CheckPromotionHandler handles the command.
type CheckPromotionHandler struct {
	pipeline *Pipeline
}

// NewCheckPromotionHandler creates a new handler.
func NewCheckPromotionHandler(pipeline *Pipeline) *CheckPromotionHandler {
	return &CheckPromotionHandler{pipeline: pipeline}
}

// Handle executes the command.
func (h *CheckPromotionHandler) Handle(ctx context.Context, cmd CheckPromotionCommand) (*CheckPromotionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID := shared.UserID(cmd.UserID)

	result := &CheckPromotionResult{}
	err := h.pipeline.run(ctx, "CheckPromotion", []shared.UserID{userID}, func(tx ledger.Tx, now time.Time) ([]shared.Event, error) {
		user, err := tx.LockedUser(userID)
		if err != nil {
			return nil, err
		}
		if user.Recognized {
			result.AlreadyRecognized = true
			result.Reason = user.RecognitionReason
			return nil, nil
		}

		reason, promoted, err := h.pipeline.promote(ctx, tx, user, now)
		if err != nil {
			return nil, err
		}
		if !promoted {
			return nil, nil
		}
		if err := tx.SaveUser(ctx, user); err != nil {
			return nil, fmt.Errorf("save user: %w", err)
		}
		result.Promoted = true
		result.Reason = reason
		return []shared.Event{shared.NewUserPromotedEvent(user.ID.String(), reason, now)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("check_promotion: %w", err)
	}
	return result, nil
}
