package command

import (
	"context"
	"fmt"
	"time"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/referral"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BIND REFERRAL COMMAND
// Binds a user to the owner of a referral code, once, and credits both sides
// through the full award pipeline in the same transaction.
// ══════════════════════════════════════════════════════════════════════════════

// Soft failure reasons.
const (
	BindReasonUnknownCode  = "unknown referral code"
	BindReasonSelfReferral = "cannot use your own referral code"
)

// BindReferralCommand contains the data to bind a referral.
type BindReferralCommand struct {
	// Code is the referrer's referral code (case-insensitive).
	Code string

	// UserID is the referred (new) user.
	UserID string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c BindReferralCommand) Validate() error {
	if _, err := requireUserID("bind_referral", c.UserID); err != nil {
		return err
	}
	if referral.NormalizeCode(c.Code) == "" {
		return fmt.Errorf("bind_referral: %w: code is required", shared.ErrInvalidInput)
	}
	return nil
}

// BindReferralResult contains the result of a bind.
type BindReferralResult struct {
	// Success is false for unknown codes and self-referral.
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`

	ReferrerID    shared.UserID `json:"referrer_id,omitempty"`
	ReferrerAward *AwardResult  `json:"referrer_award,omitempty"`
	RefereeAward  *AwardResult  `json:"referee_award,omitempty"`
}

// BindReferralHandler handles the BindReferralCommand.
type BindReferralHandler struct {
	pipeline *Pipeline
	log      *logger.Logger
}

// NewBindReferralHandler creates a new BindReferralHandler.
func NewBindReferralHandler(pipeline *Pipeline, log *logger.Logger) *BindReferralHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &BindReferralHandler{pipeline: pipeline, log: log}
}

// Handle executes the bind. Rebinding an already bound user fails with a
// conflict; the stored referrer is never replaced.
func (h *BindReferralHandler) Handle(ctx context.Context, cmd BindReferralCommand) (*BindReferralResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	refereeID := shared.UserID(cmd.UserID)
	code := referral.NormalizeCode(cmd.Code)

	if !referral.IsWellFormed(code) {
		return &BindReferralResult{Reason: BindReasonUnknownCode}, nil
	}
	referrer, err := h.pipeline.store.GetUserByReferralCode(ctx, code)
	if err != nil {
		if shared.IsNotFound(err) {
			return &BindReferralResult{Reason: BindReasonUnknownCode}, nil
		}
		return nil, fmt.Errorf("bind_referral: lookup code: %w", err)
	}
	if referrer.ID == refereeID {
		return &BindReferralResult{Reason: BindReasonSelfReferral}, nil
	}

	result := &BindReferralResult{Success: true, ReferrerID: referrer.ID}
	ids := []shared.UserID{refereeID, referrer.ID}
	err = h.pipeline.run(ctx, "BindReferral", ids, func(tx ledger.Tx, now time.Time) ([]shared.Event, error) {
		referee, err := tx.LockedUser(refereeID)
		if err != nil {
			return nil, err
		}
		if referee.HasReferrer() {
			return nil, shared.ErrReferralAlreadyBound
		}
		ref, err := tx.LockedUser(referrer.ID)
		if err != nil {
			return nil, err
		}

		edge, err := referral.NewReferral(refereeID, ref.ID, code, now)
		if err != nil {
			return nil, err
		}
		if err := tx.InsertReferral(ctx, edge); err != nil {
			return nil, err
		}
		if err := referee.BindReferrer(ref.ID, now); err != nil {
			return nil, err
		}

		events := []shared.Event{shared.NewReferralBoundEvent(refereeID.String(), ref.ID.String(), code, now)}

		result.ReferrerAward, err = h.pipeline.awardLocked(ctx, tx, ref, awardRequest{
			Kind:        points.ActionReferralBonus,
			Description: "Referral bonus: invited " + refereeID.String(),
			Metadata: map[string]string{
				points.MetaRole:         referral.RoleReferrer,
				points.MetaCounterparty: refereeID.String(),
			},
		}, now)
		if err != nil {
			return nil, fmt.Errorf("referrer award: %w", err)
		}
		if !result.ReferrerAward.Accepted {
			// the edge counts even without the bonus
			d, err := h.pipeline.derive(ctx, tx, ref, now)
			if err != nil {
				return nil, err
			}
			h.pipeline.applyDerivations(result.ReferrerAward, d)
			result.ReferrerAward.NewTotal = ref.TotalPoints
		}
		events = append(events, result.ReferrerAward.Events...)

		bonus := h.pipeline.config.RefereeBonus
		result.RefereeAward, err = h.pipeline.awardLocked(ctx, tx, referee, awardRequest{
			Kind:        points.ActionReferralBonus,
			Amount:      &bonus,
			Description: "Referral bonus: joined with code " + code,
			Metadata: map[string]string{
				points.MetaRole:         referral.RoleReferee,
				points.MetaCounterparty: ref.ID.String(),
			},
		}, now)
		if err != nil {
			return nil, fmt.Errorf("referee award: %w", err)
		}
		events = append(events, result.RefereeAward.Events...)

		if err := tx.SaveUser(ctx, referee); err != nil {
			return nil, fmt.Errorf("save referee: %w", err)
		}
		if err := tx.SaveUser(ctx, ref); err != nil {
			return nil, fmt.Errorf("save referrer: %w", err)
		}
		return withCorrelation(events, cmd.CorrelationID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("bind_referral: %w", err)
	}

	h.log.Info("referral bound",
		logger.UserID(cmd.UserID),
		logger.String("referrer_id", referrer.ID.String()),
		logger.ReferralCode(code),
	)
	return result, nil
}
