package command

import (
	"context"
	"fmt"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE LEDGER COMMAND
// Recomputes the cached total from the ledger, repairs drift and re-runs the
// derivations that may have failed after an earlier award.
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileLedgerCommand reconciles one user.
type ReconcileLedgerCommand struct {
	UserID string
}

// Validate validates the command.
func (c ReconcileLedgerCommand) Validate() error {
	_, err := requireUserID("reconcile", c.UserID)
	return err
}

// ReconcileLedgerResult is the drift report for one user.
type ReconcileLedgerResult struct {
	UserID      shared.UserID         `json:"user_id"`
	CachedTotal int64                 `json:"cached_total"`
	LedgerTotal int64                 `json:"ledger_total"`
	Drift       int64                 `json:"drift"`
	Repaired    bool                  `json:"repaired"`
	Unlocked    []UnlockedAchievement `json:"unlocked"`
	Promoted    bool                  `json:"promoted"`
	NewTotal    int64                 `json:"new_total"`
}

// ReconcileLedgerHandler handles the command.
type ReconcileLedgerHandler struct {
	pipeline *Pipeline
	log      *logger.Logger
}

// NewReconcileLedgerHandler creates a new handler.
func NewReconcileLedgerHandler(pipeline *Pipeline, log *logger.Logger) *ReconcileLedgerHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ReconcileLedgerHandler{pipeline: pipeline, log: log}
}

// Handle executes the command.
func (h *ReconcileLedgerHandler) Handle(ctx context.Context, cmd ReconcileLedgerCommand) (*ReconcileLedgerResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID := shared.UserID(cmd.UserID)

	result := &ReconcileLedgerResult{UserID: userID, Unlocked: make([]UnlockedAchievement, 0)}
	err := h.pipeline.run(ctx, "Reconcile", []shared.UserID{userID}, func(tx ledger.Tx, now time.Time) ([]shared.Event, error) {
		user, err := tx.LockedUser(userID)
		if err != nil {
			return nil, err
		}
		sum, err := tx.SumEntries(ctx, ledger.EntryFilter{UserID: userID})
		if err != nil {
			return nil, fmt.Errorf("sum ledger: %w", err)
		}

		var events []shared.Event
		result.CachedTotal = user.TotalPoints
		result.LedgerTotal = sum
		result.Drift = user.TotalPoints - sum
		dirty := false
		if result.Drift != 0 {
			user.ApplyPoints(-result.Drift, now)
			result.Repaired = true
			dirty = true
			events = append(events, shared.NewLedgerReconciledEvent(userID.String(), result.CachedTotal, sum, now))
		}

		d, err := h.pipeline.derive(ctx, tx, user, now)
		if err != nil {
			return nil, err
		}
		if len(d.Unlocked) > 0 || d.Promoted {
			dirty = true
			if d.Rewards != 0 {
				events = append(events, shared.NewPointsAwardedEvent(userID.String(), "ACHIEVEMENT_UNLOCKED", d.Rewards, user.TotalPoints, now))
			}
			events = append(events, d.Events...)
		}
		if dirty {
			if err := tx.SaveUser(ctx, user); err != nil {
				return nil, fmt.Errorf("save user: %w", err)
			}
		}

		result.Unlocked = append(result.Unlocked, d.Unlocked...)
		result.Promoted = d.Promoted
		result.NewTotal = user.TotalPoints
		return events, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	if result.Repaired {
		h.log.Warn("ledger drift repaired",
			logger.UserID(cmd.UserID),
			logger.Int64("cached_total", result.CachedTotal),
			logger.Int64("ledger_total", result.LedgerTotal),
		)
	}
	return result, nil
}
