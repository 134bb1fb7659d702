package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD TRADE COMMAND
// Trade settlement feed: accumulates USD volume and awards TRADE_COMPLETED.
// Volume is recorded even when the award hits the daily limit, and the
// promotion check runs either way.
// ══════════════════════════════════════════════════════════════════════════════

// RecordTradeCommand contains a settled trade.
type RecordTradeCommand struct {
	UserID string

	// VolumeUSD is the settled volume delta, must be positive.
	VolumeUSD decimal.Decimal

	// TradeRef is the settlement reference, stored on the ledger entry.
	TradeRef string

	CorrelationID string
}

// Validate validates the command.
func (c RecordTradeCommand) Validate() error {
	if _, err := requireUserID("record_trade", c.UserID); err != nil {
		return err
	}
	if !c.VolumeUSD.IsPositive() {
		return fmt.Errorf("record_trade: %w", shared.ErrNonPositiveVolume)
	}
	return nil
}

// RecordTradeResult contains the award and the new cumulative volume.
type RecordTradeResult struct {
	Award       *AwardResult    `json:"award"`
	TradeVolume decimal.Decimal `json:"trade_volume"`
}

// RecordTradeHandler handles the RecordTradeCommand.
type RecordTradeHandler struct {
	pipeline *Pipeline
}

// NewRecordTradeHandler creates a new RecordTradeHandler.
func NewRecordTradeHandler(pipeline *Pipeline) *RecordTradeHandler {
	return &RecordTradeHandler{pipeline: pipeline}
}

// Handle executes the command.
func (h *RecordTradeHandler) Handle(ctx context.Context, cmd RecordTradeCommand) (*RecordTradeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID := shared.UserID(cmd.UserID)

	result := &RecordTradeResult{}
	err := h.pipeline.run(ctx, "RecordTrade", []shared.UserID{userID}, func(tx ledger.Tx, now time.Time) ([]shared.Event, error) {
		user, err := tx.LockedUser(userID)
		if err != nil {
			return nil, err
		}
		if err := user.AddTradeVolume(cmd.VolumeUSD, now); err != nil {
			return nil, err
		}

		var md map[string]string
		if ref := strings.TrimSpace(cmd.TradeRef); ref != "" {
			md = map[string]string{points.MetaTradeRef: ref}
		}
		award, err := h.pipeline.awardLocked(ctx, tx, user, awardRequest{Kind: points.ActionTradeCompleted, Metadata: md}, now)
		if err != nil {
			return nil, err
		}
		if !award.Accepted {
			// volume changed, so promotion may now apply
			d, err := h.pipeline.derive(ctx, tx, user, now)
			if err != nil {
				return nil, err
			}
			h.pipeline.applyDerivations(award, d)
			award.NewTotal = user.TotalPoints
		}

		if err := tx.SaveUser(ctx, user); err != nil {
			return nil, fmt.Errorf("save user: %w", err)
		}
		result.Award = award
		result.TradeVolume = user.TradeVolume
		return withCorrelation(award.Events, cmd.CorrelationID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_trade: %w", err)
	}
	return result, nil
}
