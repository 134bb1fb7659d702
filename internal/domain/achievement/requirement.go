package achievement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// Requirement is the closed set of unlock predicates. The unexported marker
// keeps the set sealed to this package.
type Requirement interface {
	// Type returns the JSON tag of the variant.
	Type() string
	// Target returns the number the predicate compares against.
	Target() int64
	// Describe returns a short human description.
	Describe() string

	requirement()
}

// Requirement tags used in the persisted JSON form.
const (
	TypeActionCount   = "action_count"
	TypeStreakLength  = "streak_length"
	TypeReferralCount = "referral_count"
	TypeTotalPoints   = "total_points"
)

// ActionCount is met once the user has Count ledger entries of Kind.
type ActionCount struct {
	Kind  points.ActionKind
	Count int64
}

// StreakLength is met when the current login streak reaches Count.
type StreakLength struct {
	Count int
}

// ReferralCount is met once Count users were referred by this user.
type ReferralCount struct {
	Count int64
}

// TotalPoints is met when the aggregate total reaches Threshold.
type TotalPoints struct {
	Threshold int64
}

func (ActionCount) requirement()   {}
func (StreakLength) requirement()  {}
func (ReferralCount) requirement() {}
func (TotalPoints) requirement()   {}

func (ActionCount) Type() string   { return TypeActionCount }
func (StreakLength) Type() string  { return TypeStreakLength }
func (ReferralCount) Type() string { return TypeReferralCount }
func (TotalPoints) Type() string   { return TypeTotalPoints }

func (r ActionCount) Target() int64   { return r.Count }
func (r StreakLength) Target() int64  { return int64(r.Count) }
func (r ReferralCount) Target() int64 { return r.Count }
func (r TotalPoints) Target() int64   { return r.Threshold }

func (r ActionCount) Describe() string   { return fmt.Sprintf("%d × %s", r.Count, r.Kind) }
func (r StreakLength) Describe() string  { return fmt.Sprintf("%d-day login streak", r.Count) }
func (r ReferralCount) Describe() string { return fmt.Sprintf("%d referrals", r.Count) }
func (r TotalPoints) Describe() string   { return fmt.Sprintf("%d total points", r.Threshold) }

// ══════════════════════════════════════════════════════════════════════════════
// JSON CODEC
// ══════════════════════════════════════════════════════════════════════════════

type requirementJSON struct {
	Type      string `json:"type"`
	Kind      string `json:"kind,omitempty"`
	Count     int64  `json:"count,omitempty"`
	Threshold int64  `json:"threshold,omitempty"`
}

// MarshalRequirement encodes a requirement as tagged JSON.
func MarshalRequirement(r Requirement) ([]byte, error) {
	var doc requirementJSON
	switch req := r.(type) {
	case ActionCount:
		doc = requirementJSON{Type: TypeActionCount, Kind: string(req.Kind), Count: req.Count}
	case StreakLength:
		doc = requirementJSON{Type: TypeStreakLength, Count: int64(req.Count)}
	case ReferralCount:
		doc = requirementJSON{Type: TypeReferralCount, Count: req.Count}
	case TotalPoints:
		doc = requirementJSON{Type: TypeTotalPoints, Threshold: req.Threshold}
	default:
		return nil, shared.WrapError("achievement", "Encode", shared.ErrInvalidInput,
			fmt.Sprintf("unsupported requirement %T", r), shared.ErrInvalidRequirement)
	}
	return json.Marshal(doc)
}

// UnmarshalRequirement decodes tagged JSON into a requirement and validates it.
func UnmarshalRequirement(data []byte) (Requirement, error) {
	var doc requirementJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, shared.WrapError("achievement", "Decode", shared.ErrInvalidInput, "malformed requirement", err)
	}

	var req Requirement
	switch doc.Type {
	case TypeActionCount:
		req = ActionCount{Kind: points.ActionKind(doc.Kind), Count: doc.Count}
	case TypeStreakLength:
		req = StreakLength{Count: int(doc.Count)}
	case TypeReferralCount:
		req = ReferralCount{Count: doc.Count}
	case TypeTotalPoints:
		req = TotalPoints{Threshold: doc.Threshold}
	default:
		return nil, shared.WrapError("achievement", "Decode", shared.ErrInvalidInput,
			fmt.Sprintf("unknown requirement type %q", doc.Type), shared.ErrInvalidRequirement)
	}
	if err := ValidateRequirement(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ValidateRequirement checks the variant's fields.
func ValidateRequirement(r Requirement) error {
	invalid := func(msg string) error {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidInput, msg, shared.ErrInvalidRequirement)
	}
	switch req := r.(type) {
	case ActionCount:
		if !req.Kind.IsValid() {
			return invalid(fmt.Sprintf("unknown action kind %q", req.Kind))
		}
		if req.Count < 1 {
			return invalid("action count must be at least 1")
		}
	case StreakLength:
		if req.Count < 1 {
			return invalid("streak length must be at least 1")
		}
	case ReferralCount:
		if req.Count < 1 {
			return invalid("referral count must be at least 1")
		}
	case TotalPoints:
		if req.Threshold < 1 {
			return invalid("points threshold must be at least 1")
		}
	case nil:
		return invalid("requirement is required")
	default:
		return invalid(fmt.Sprintf("unsupported requirement %T", r))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

// Facts is the authoritative state a requirement is tested against.
// ActionCount and ReferralCount are read from the ledger and the referral
// edges, never from cached counters.
type Facts interface {
	CountActions(ctx context.Context, kind points.ActionKind) (int64, error)
	CountReferrals(ctx context.Context) (int64, error)
	CurrentStreak() int
	TotalPoints() int64
}

// Current returns the value of the fact a requirement compares against.
func Current(ctx context.Context, r Requirement, facts Facts) (int64, error) {
	switch req := r.(type) {
	case ActionCount:
		return facts.CountActions(ctx, req.Kind)
	case StreakLength:
		return int64(facts.CurrentStreak()), nil
	case ReferralCount:
		return facts.CountReferrals(ctx)
	case TotalPoints:
		return facts.TotalPoints(), nil
	default:
		return 0, shared.WrapError("achievement", "Evaluate", shared.ErrInvalidInput,
			fmt.Sprintf("unsupported requirement %T", r), shared.ErrInvalidRequirement)
	}
}

// Satisfied reports whether the requirement holds for facts.
func Satisfied(ctx context.Context, r Requirement, facts Facts) (bool, error) {
	current, err := Current(ctx, r, facts)
	if err != nil {
		return false, err
	}
	return current >= r.Target(), nil
}
