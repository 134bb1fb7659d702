package query

import (
	"context"
	"fmt"

	"github.com/bonkcomputer/points-engine/internal/domain/ledger"
	"github.com/bonkcomputer/points-engine/internal/domain/recognition"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
)

// GetRecognitionProgressQuery содержит параметры запроса.
type GetRecognitionProgressQuery struct {
	UserID string
}

// GetRecognitionProgressHandler считает прогресс по каждому критерию
// признания. Только чтение.
type GetRecognitionProgressHandler struct {
	store      ledger.Store
	thresholds recognition.Thresholds
}

// NewGetRecognitionProgressHandler создаёт обработчик.
func NewGetRecognitionProgressHandler(store ledger.Store, thresholds recognition.Thresholds) *GetRecognitionProgressHandler {
	return &GetRecognitionProgressHandler{store: store, thresholds: thresholds}
}

// Handle выполняет запрос.
func (h *GetRecognitionProgressHandler) Handle(ctx context.Context, query GetRecognitionProgressQuery) (*recognition.Progress, error) {
	userID, err := shared.NewUserID(query.UserID)
	if err != nil {
		return nil, err
	}
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_recognition_progress: %w", err)
	}
	unlocks, err := h.store.ListUnlocks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_recognition_progress: unlocks: %w", err)
	}

	progress := h.thresholds.Progress(recognition.Standing{
		TradeVolume:  user.TradeVolume,
		Achievements: len(unlocks),
		Points:       user.TotalPoints,
	})
	// Признание одностороннее: сохранённый статус главнее пересчёта
	progress.Recognized = user.Recognized
	progress.Reason = user.RecognitionReason
	return &progress, nil
}
