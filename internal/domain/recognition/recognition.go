// Package recognition decides the one-way promotion to the recognized tier.
package recognition

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// Promotion reasons, in evaluation order.
const (
	ReasonHighTradingVolume = "high trading volume"
	ReasonAchievementMaster = "achievement master"
	ReasonHighContributor   = "high contributor"
)

// Thresholds are the configurable promotion criteria.
type Thresholds struct {
	TradeVolume  decimal.Decimal
	Achievements int
	Points       int64
}

// DefaultThresholds returns the stock criteria.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TradeVolume:  decimal.NewFromInt(100_000),
		Achievements: 5,
		Points:       1_000,
	}
}

// Validate checks the thresholds are positive.
func (t Thresholds) Validate() error {
	if !t.TradeVolume.IsPositive() {
		return fmt.Errorf("recognition: trade volume threshold must be positive")
	}
	if t.Achievements < 1 {
		return fmt.Errorf("recognition: achievement threshold must be at least 1")
	}
	if t.Points < 1 {
		return fmt.Errorf("recognition: points threshold must be at least 1")
	}
	return nil
}

// Standing is the state promotion is decided on.
type Standing struct {
	TradeVolume  decimal.Decimal
	Achievements int
	Points       int64
}

// Decide applies the ordered OR. The first satisfied criterion is the reason.
func (t Thresholds) Decide(s Standing) (string, bool) {
	switch {
	case s.TradeVolume.GreaterThanOrEqual(t.TradeVolume):
		return ReasonHighTradingVolume, true
	case s.Achievements >= t.Achievements:
		return ReasonAchievementMaster, true
	case s.Points >= t.Points:
		return ReasonHighContributor, true
	default:
		return "", false
	}
}

// Criterion is progress toward one threshold.
type Criterion struct {
	Current    float64 `json:"current"`
	Required   float64 `json:"required"`
	Percentage float64 `json:"percentage"`
}

// Progress is the read-only view of every criterion.
type Progress struct {
	Recognized   bool      `json:"recognized"`
	Reason       string    `json:"reason,omitempty"`
	TradeVolume  Criterion `json:"trade_volume"`
	Achievements Criterion `json:"achievements"`
	Points       Criterion `json:"points"`
}

// Progress reports per-criterion progress, percentages capped at 100.
func (t Thresholds) Progress(s Standing) Progress {
	volume := s.TradeVolume.InexactFloat64()
	required := t.TradeVolume.InexactFloat64()
	return Progress{
		TradeVolume: Criterion{
			Current:    volume,
			Required:   required,
			Percentage: shared.Percentage(volume, required),
		},
		Achievements: Criterion{
			Current:    float64(s.Achievements),
			Required:   float64(t.Achievements),
			Percentage: shared.Percentage(float64(s.Achievements), float64(t.Achievements)),
		},
		Points: Criterion{
			Current:    float64(s.Points),
			Required:   float64(t.Points),
			Percentage: shared.Percentage(float64(s.Points), float64(t.Points)),
		},
	}
}
