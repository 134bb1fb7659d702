package command

import (
	"context"
	"fmt"

	"github.com/bonkcomputer/points-engine/internal/domain/achievement"
	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// SeedAchievementsHandler upserts the achievement catalog by unique name.
// Safe to run at every bootstrap.
type SeedAchievementsHandler struct {
	store ledger.Store
	log   *logger.Logger
}

// NewSeedAchievementsHandler creates a new handler.
func NewSeedAchievementsHandler(store ledger.Store, log *logger.Logger) *SeedAchievementsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SeedAchievementsHandler{store: store, log: log}
}

// Handle seeds defs, or the built-in catalog when defs is empty.
func (h *SeedAchievementsHandler) Handle(ctx context.Context, defs []*achievement.Definition) error {
	if len(defs) == 0 {
		defs = achievement.Catalog()
	}
	if err := h.store.UpsertAchievements(ctx, defs); err != nil {
		return fmt.Errorf("seed_achievements: %w", err)
	}
	h.log.Info("achievements seeded", logger.Int("count", len(defs)))
	return nil
}
