// Package achievement holds achievement definitions, their sealed requirement
// predicates, the seed catalog and the unlock evaluation rules.
package achievement

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// Namespace seeds name-based achievement ids so every deployment derives the
// same id for the same slug.
var Namespace = uuid.MustParse("6f1d8c1e-3b0a-5f5e-9a57-2d3c4b7e8a10")

// Category groups achievements for display.
type Category string

const (
	CategoryTrading   Category = "trading"
	CategorySocial    Category = "social"
	CategoryStreak    Category = "streak"
	CategoryReferral  Category = "referral"
	CategoryMilestone Category = "milestone"
)

// IsValid checks the category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryTrading, CategorySocial, CategoryStreak, CategoryReferral, CategoryMilestone:
		return true
	default:
		return false
	}
}

// Definition is immutable seed data describing one achievement.
type Definition struct {
	ID          uuid.UUID
	Slug        string
	Name        string
	Description string
	Reward      int64
	Category    Category
	Requirement Requirement
}

// NewDefinition validates the fields and derives slug and id from the name.
func NewDefinition(name, description string, category Category, reward int64, req Requirement) (*Definition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("achievement", "Define", shared.ErrEmptyValue, "name is required")
	}
	if !category.IsValid() {
		return nil, shared.NewDomainError("achievement", "Define", shared.ErrInvalidInput, "unknown category "+string(category))
	}
	if reward < 0 {
		return nil, shared.NewDomainError("achievement", "Define", shared.ErrNegativeValue, "reward must be non-negative")
	}
	if err := ValidateRequirement(req); err != nil {
		return nil, err
	}

	s := slug.Make(name)
	return &Definition{
		ID:          IDForSlug(s),
		Slug:        s,
		Name:        name,
		Description: description,
		Reward:      reward,
		Category:    category,
		Requirement: req,
	}, nil
}

// IDForSlug returns the UUIDv5 of a slug in Namespace.
func IDForSlug(s string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(s))
}

// Unlock records that a user earned an achievement. At most one per pair.
type Unlock struct {
	UserID        shared.UserID
	AchievementID uuid.UUID
	UnlockedAt    time.Time
}

// Pending returns the definitions not yet in unlocked, in stable order.
func Pending(defs []*Definition, unlocked map[uuid.UUID]bool) []*Definition {
	out := make([]*Definition, 0, len(defs))
	for _, d := range defs {
		if !unlocked[d.ID] {
			out = append(out, d)
		}
	}
	SortDefinitions(out)
	return out
}

// NewlySatisfied runs one evaluation pass: every pending definition whose
// requirement holds for facts. Callers repeat passes until this is empty,
// because rewards can satisfy TotalPoints thresholds.
func NewlySatisfied(ctx context.Context, defs []*Definition, unlocked map[uuid.UUID]bool, facts Facts) ([]*Definition, error) {
	var hits []*Definition
	for _, d := range Pending(defs, unlocked) {
		ok, err := Satisfied(ctx, d.Requirement, facts)
		if err != nil {
			return nil, err
		}
		if ok {
			hits = append(hits, d)
		}
	}
	return hits, nil
}

// SortDefinitions orders by category, then target, then name.
func SortDefinitions(defs []*Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		a, b := defs[i], defs[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Requirement.Target() != b.Requirement.Target() {
			return a.Requirement.Target() < b.Requirement.Target()
		}
		return a.Name < b.Name
	})
}
