package recognition

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDecide_OrderedOR(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name    string
		s       Standing
		reason  string
		promote bool
	}{
		{"nothing", Standing{TradeVolume: decimal.NewFromInt(10), Achievements: 1, Points: 999}, "", false},
		{"volume wins over everything", Standing{TradeVolume: decimal.NewFromInt(100_000), Achievements: 9, Points: 50_000}, ReasonHighTradingVolume, true},
		{"achievements before points", Standing{TradeVolume: decimal.Zero, Achievements: 5, Points: 5_000}, ReasonAchievementMaster, true},
		{"points", Standing{TradeVolume: decimal.RequireFromString("99999.99"), Achievements: 4, Points: 1_000}, ReasonHighContributor, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := th.Decide(tt.s)
			assert.Equal(t, tt.promote, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestProgress_Capped(t *testing.T) {
	p := DefaultThresholds().Progress(Standing{
		TradeVolume:  decimal.NewFromInt(250_000),
		Achievements: 2,
		Points:       333,
	})

	assert.Equal(t, 100.0, p.TradeVolume.Percentage)
	assert.Equal(t, 250_000.0, p.TradeVolume.Current)
	assert.Equal(t, 40.0, p.Achievements.Percentage)
	assert.Equal(t, 33.3, p.Points.Percentage)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{TradeVolume: decimal.Zero, Achievements: 1, Points: 1}.Validate())
}
