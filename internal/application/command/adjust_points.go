package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJUST POINTS COMMAND
// Admin-only signed correction. It has no daily limit, so callers must never
// retry it blindly.
// ══════════════════════════════════════════════════════════════════════════════

// AdjustPointsCommand contains a manual adjustment.
type AdjustPointsCommand struct {
	UserID string
	Delta  int64
	Reason string
	// Actor identifies the operator, stored in metadata.
	Actor string
}

// Validate validates the command.
func (c AdjustPointsCommand) Validate() error {
	if _, err := requireUserID("adjust_points", c.UserID); err != nil {
		return err
	}
	if c.Delta == 0 {
		return fmt.Errorf("adjust_points: %w", shared.ErrZeroAdjustment)
	}
	if strings.TrimSpace(c.Reason) == "" {
		return fmt.Errorf("adjust_points: %w: reason is required", shared.ErrInvalidInput)
	}
	if strings.TrimSpace(c.Actor) == "" {
		return fmt.Errorf("adjust_points: %w: actor is required", shared.ErrInvalidInput)
	}
	return nil
}

// AdjustPointsHandler handles the AdjustPointsCommand.
type AdjustPointsHandler struct {
	pipeline *Pipeline
	log      *logger.Logger
}

// NewAdjustPointsHandler creates a new AdjustPointsHandler.
func NewAdjustPointsHandler(pipeline *Pipeline, log *logger.Logger) *AdjustPointsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AdjustPointsHandler{pipeline: pipeline, log: log}
}

// Handle executes the command.
func (h *AdjustPointsHandler) Handle(ctx context.Context, cmd AdjustPointsCommand) (*AwardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID := shared.UserID(cmd.UserID)

	var result *AwardResult
	err := h.pipeline.run(ctx, "AdjustPoints", []shared.UserID{userID}, func(tx ledger.Tx, now time.Time) ([]shared.Event, error) {
		user, err := tx.LockedUser(userID)
		if err != nil {
			return nil, err
		}
		delta := cmd.Delta
		result, err = h.pipeline.awardLocked(ctx, tx, user, awardRequest{
			Kind:        points.ActionAdminAdjustment,
			Amount:      &delta,
			Description: strings.TrimSpace(cmd.Reason),
			Metadata: map[string]string{
				points.MetaActor:  strings.TrimSpace(cmd.Actor),
				points.MetaReason: strings.TrimSpace(cmd.Reason),
			},
		}, now)
		if err != nil {
			return nil, err
		}
		if err := tx.SaveUser(ctx, user); err != nil {
			return nil, fmt.Errorf("save user: %w", err)
		}
		return result.Events, nil
	})
	if err != nil {
		return nil, fmt.Errorf("adjust_points: %w", err)
	}

	h.log.Info("points adjusted",
		logger.UserID(cmd.UserID),
		logger.Points(cmd.Delta),
		logger.String("actor", cmd.Actor),
		logger.String("reason", cmd.Reason),
	)
	return result, nil
}
