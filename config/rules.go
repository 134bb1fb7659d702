package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/bonkcomputer/points-engine/internal/application/command"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
	"github.com/bonkcomputer/points-engine/internal/domain/streak"
)

// RulesFile is the YAML override of the stock engine rules. Every section
// is optional; omitted values keep their defaults.
//
//	rules:
//	  TRADE_COMPLETED: {base: 30, daily_limit: 200}
//	streak:
//	  tiers:
//	    - {min_streak: 7, multiplier: 1.5}
//	recognition:
//	  trade_volume: "250000.50"
//	  achievements: 8
//	referee_bonus: 300
type RulesFile struct {
	Rules        points.Rules     `yaml:"rules"`
	Streak       *StreakSection   `yaml:"streak"`
	Recognition  *RecognitionYAML `yaml:"recognition"`
	RefereeBonus *int64           `yaml:"referee_bonus"`
}

// StreakSection replaces the tier table when Tiers is non-empty.
type StreakSection struct {
	Tiers []streak.Tier `yaml:"tiers"`
}

// RecognitionYAML overrides promotion thresholds. TradeVolume is a decimal
// string so large volumes keep their precision.
type RecognitionYAML struct {
	TradeVolume  string `yaml:"trade_volume"`
	Achievements int    `yaml:"achievements"`
	Points       int64  `yaml:"points"`
}

// LoadRules reads path and applies it over base. An empty path returns base
// unchanged.
func LoadRules(path string, base command.EngineConfig) (command.EngineConfig, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("rules file: %w", err)
	}
	rf, err := ParseRules(data)
	if err != nil {
		return base, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rf.Apply(base)
}

// ParseRules decodes a rules document. Unknown keys are rejected.
func ParseRules(data []byte) (*RulesFile, error) {
	rf := &RulesFile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(rf); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rf, nil
}

// Apply merges the overrides into base and validates the result.
func (rf *RulesFile) Apply(base command.EngineConfig) (command.EngineConfig, error) {
	cfg := base
	if cfg.Rules == nil {
		cfg.Rules = points.DefaultRules()
	}
	if len(rf.Rules) > 0 {
		cfg.Rules = cfg.Rules.Merge(rf.Rules)
	}

	if rf.Streak != nil && len(rf.Streak.Tiers) > 0 {
		cfg.Streak.Tiers = rf.Streak.Tiers
	}

	if r := rf.Recognition; r != nil {
		if r.TradeVolume != "" {
			v, err := decimal.NewFromString(r.TradeVolume)
			if err != nil {
				return base, fmt.Errorf("recognition.trade_volume: %w", err)
			}
			cfg.Recognition.TradeVolume = v
		}
		if r.Achievements != 0 {
			cfg.Recognition.Achievements = r.Achievements
		}
		if r.Points != 0 {
			cfg.Recognition.Points = r.Points
		}
	}

	if rf.RefereeBonus != nil {
		cfg.RefereeBonus = *rf.RefereeBonus
	}

	validated, err := cfg.Validate()
	if err != nil {
		return base, err
	}
	return validated, nil
}
