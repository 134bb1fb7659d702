package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bonkcomputer/points-engine/internal/application/command"
	"github.com/bonkcomputer/points-engine/internal/application/query"
	"github.com/bonkcomputer/points-engine/internal/application/saga"
	"github.com/bonkcomputer/points-engine/internal/interface/http/handlers"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    "Points Engine API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":       "/health",
			"users":        "/api/v1/users",
			"leaderboard":  "/api/v1/leaderboard",
			"achievements": "/api/v1/achievements",
		},
	}
	s.writeJSON(w, r, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		s.writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	s.writeJSON(w, r, http.StatusOK, status)
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// notImplemented answers routes whose handler was not wired.
func (s *Server) notImplemented(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, r, http.StatusNotImplemented, "not_implemented", "Not implemented")
}

// ══════════════════════════════════════════════════════════════════════════════
// USER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// CreateUserRequest is the body of POST /api/v1/users.
type CreateUserRequest struct {
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name"`
	ReferralCode string `json:"referral_code"`
}

// handleCreateUser onboards a user: create, PROFILE_CREATION award and an
// optional referral bind. A generated id is used when none is given.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.Onboarding == nil {
		s.notImplemented(w, r)
		return
	}

	var req CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, "create_user", err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = uuid.NewString()
	}

	result, err := s.deps.Onboarding.Execute(r.Context(), saga.OnboardingInput{
		UserID:        req.UserID,
		DisplayName:   req.DisplayName,
		ReferralCode:  req.ReferralCode,
		CorrelationID: handlers.RequestID(r.Context()),
	})
	if err != nil {
		logger.FromContext(r.Context()).Debug("onboarding failed",
			logger.UserID(req.UserID),
			logger.String("step", onboardingStep(err)),
		)
		s.writeError(w, r, "create_user", err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, result)
}

// handleGetUser returns the user summary with rank.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.UserSummary == nil {
		s.notImplemented(w, r)
		return
	}
	result, err := s.deps.UserSummary.Handle(r.Context(), query.GetUserSummaryQuery{
		UserID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, "get_user", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// handleGetHistory returns ledger entries newest first.
// Query params: limit, before (RFC 3339 cursor), kind.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.PointsHistory == nil {
		s.notImplemented(w, r)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, "get_history", err)
		return
	}
	before, err := queryTime(r, "before")
	if err != nil {
		s.writeError(w, r, "get_history", err)
		return
	}

	result, err := s.deps.PointsHistory.Handle(r.Context(), query.GetPointsHistoryQuery{
		UserID: r.PathValue("id"),
		Limit:  limit,
		Before: before,
		Kind:   r.URL.Query().Get("kind"),
	})
	if err != nil {
		s.writeError(w, r, "get_history", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// handleGetReferrals returns the referral code and referred users.
func (s *Server) handleGetReferrals(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReferralStats == nil {
		s.notImplemented(w, r)
		return
	}
	result, err := s.deps.ReferralStats.Handle(r.Context(), query.GetReferralStatsQuery{
		UserID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, "get_referrals", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// handleGetRecognition returns progress towards recognized status.
func (s *Server) handleGetRecognition(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecognitionProgress == nil {
		s.notImplemented(w, r)
		return
	}
	result, err := s.deps.RecognitionProgress.Handle(r.Context(), query.GetRecognitionProgressQuery{
		UserID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, "get_recognition", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// handleGetUserAchievements returns the catalog with the user's unlocks.
func (s *Server) handleGetUserAchievements(w http.ResponseWriter, r *http.Request) {
	if s.deps.Achievements == nil {
		s.notImplemented(w, r)
		return
	}
	result, err := s.deps.Achievements.Handle(r.Context(), query.ListAchievementsQuery{
		UserID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, "get_user_achievements", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// AwardRequest is the body of POST /api/v1/users/{id}/actions.
type AwardRequest struct {
	Kind     string            `json:"kind"`
	Metadata map[string]string `json:"metadata"`
}

// handleAward records a user action. A daily-limit rejection is a 200 with
// accepted=false; the rejection reason is in the body.
func (s *Server) handleAward(w http.ResponseWriter, r *http.Request) {
	if s.deps.Award == nil {
		s.notImplemented(w, r)
		return
	}

	var req AwardRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, "award", err)
		return
	}

	result, err := s.deps.Award.Handle(r.Context(), command.AwardCommand{
		UserID:        r.PathValue("id"),
		Kind:          req.Kind,
		Metadata:      req.Metadata,
		CorrelationID: handlers.RequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, "award", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// TradeRequest is the body of POST /api/v1/users/{id}/trades. volume_usd
// accepts both a JSON string and a number.
type TradeRequest struct {
	VolumeUSD decimal.Decimal `json:"volume_usd"`
	TradeRef  string          `json:"trade_ref"`
}

// handleRecordTrade adds trade volume and awards TRADE_COMPLETED.
func (s *Server) handleRecordTrade(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordTrade == nil {
		s.notImplemented(w, r)
		return
	}

	var req TradeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, "record_trade", err)
		return
	}

	result, err := s.deps.RecordTrade.Handle(r.Context(), command.RecordTradeCommand{
		UserID:        r.PathValue("id"),
		VolumeUSD:     req.VolumeUSD,
		TradeRef:      req.TradeRef,
		CorrelationID: handlers.RequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, "record_trade", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// BindReferralRequest is the body of POST /api/v1/users/{id}/referral.
type BindReferralRequest struct {
	Code string `json:"code"`
}

// handleBindReferral binds the user to a referrer. Unknown codes and
// self-referral are soft failures (200, success=false); a second bind is 409.
func (s *Server) handleBindReferral(w http.ResponseWriter, r *http.Request) {
	if s.deps.BindReferral == nil {
		s.notImplemented(w, r)
		return
	}

	var req BindReferralRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, "bind_referral", err)
		return
	}

	result, err := s.deps.BindReferral.Handle(r.Context(), command.BindReferralCommand{
		Code:          req.Code,
		UserID:        r.PathValue("id"),
		CorrelationID: handlers.RequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, "bind_referral", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// handleEvaluate runs the achievement evaluator for the user.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Evaluate == nil {
		s.notImplemented(w, r)
		return
	}
	result, err := s.deps.Evaluate.Handle(r.Context(), command.EvaluateAchievementsCommand{
		UserID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, "evaluate_achievements", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// handleCheckPromotion runs the status promoter for the user.
func (s *Server) handleCheckPromotion(w http.ResponseWriter, r *http.Request) {
	if s.deps.CheckPromotion == nil {
		s.notImplemented(w, r)
		return
	}
	result, err := s.deps.CheckPromotion.Handle(r.Context(), command.CheckPromotionCommand{
		UserID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, "check_promotion", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG & LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLeaderboard returns the top of a period leaderboard.
// Query params: period (daily, weekly, monthly, all_time), limit, user_id.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leaderboard == nil {
		s.notImplemented(w, r)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, "get_leaderboard", err)
		return
	}

	q := r.URL.Query()
	result, err := s.deps.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{
		Limit:  limit,
		Period: q.Get("period"),
		UserID: q.Get("user_id"),
	})
	if err != nil {
		s.writeError(w, r, "get_leaderboard", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// handleListAchievements returns the achievement catalog.
func (s *Server) handleListAchievements(w http.ResponseWriter, r *http.Request) {
	if s.deps.Achievements == nil {
		s.notImplemented(w, r)
		return
	}
	result, err := s.deps.Achievements.Handle(r.Context(), query.ListAchievementsQuery{})
	if err != nil {
		s.writeError(w, r, "list_achievements", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// handleCheckReferralCode reports whether a code belongs to a user.
func (s *Server) handleCheckReferralCode(w http.ResponseWriter, r *http.Request) {
	if s.deps.CheckReferralCode == nil {
		s.notImplemented(w, r)
		return
	}
	result, err := s.deps.CheckReferralCode.Handle(r.Context(), query.CheckReferralCodeQuery{
		Code: r.PathValue("code"),
	})
	if err != nil {
		s.writeError(w, r, "check_referral_code", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// AdjustPointsRequest is the body of POST /api/v1/admin/users/{id}/adjustments.
type AdjustPointsRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// handleAdjustPoints applies a signed manual correction.
func (s *Server) handleAdjustPoints(w http.ResponseWriter, r *http.Request) {
	if s.deps.AdjustPoints == nil {
		s.notImplemented(w, r)
		return
	}

	var req AdjustPointsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, "adjust_points", err)
		return
	}

	result, err := s.deps.AdjustPoints.Handle(r.Context(), command.AdjustPointsCommand{
		UserID: r.PathValue("id"),
		Delta:  req.Delta,
		Reason: req.Reason,
		Actor:  req.Actor,
	})
	if err != nil {
		s.writeError(w, r, "adjust_points", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// handleReconcile recomputes the cached total from the ledger.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconcile == nil {
		s.notImplemented(w, r)
		return
	}
	result, err := s.deps.Reconcile.Handle(r.Context(), command.ReconcileLedgerCommand{
		UserID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, "reconcile", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// handleSeedAchievements loads the built-in catalog. Existing definitions
// are updated in place.
func (s *Server) handleSeedAchievements(w http.ResponseWriter, r *http.Request) {
	if s.deps.SeedAchievements == nil {
		s.notImplemented(w, r)
		return
	}
	if err := s.deps.SeedAchievements.Handle(r.Context(), nil); err != nil {
		s.writeError(w, r, "seed_achievements", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "seeded"})
}

// onboardingStep extracts the failed saga step for error bodies.
func onboardingStep(err error) string {
	var oe *saga.OnboardingError
	if errors.As(err, &oe) {
		return string(oe.Step)
	}
	return ""
}
