// Package http implements the REST API of the points engine: award, trade,
// referral and admin operations plus the read side (summaries, history,
// leaderboards, achievements).
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bonkcomputer/points-engine/internal/application/command"
	"github.com/bonkcomputer/points-engine/internal/application/query"
	"github.com/bonkcomputer/points-engine/internal/application/saga"
	"github.com/bonkcomputer/points-engine/internal/domain/shared"
	"github.com/bonkcomputer/points-engine/internal/interface/http/handlers"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

// Config is the listener and routing configuration of the API server.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64

	// AdminAPIKeys are accepted in APIKeyHeader or as a Bearer token on
	// /api/v1/admin routes. With none configured those routes always answer 401.
	APIKeyHeader string
	AdminAPIKeys []string

	Version string
}

const (
	defaultAPIKeyHeader = "X-API-Key"
	defaultMaxBodyBytes = 64 << 10
)

// DefaultConfig listens on :8080.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    time.Minute,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   defaultMaxBodyBytes,
		APIKeyHeader:   defaultAPIKeyHeader,
		Version:        "v1",
	}
}

// Address is host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers. A nil
// handler turns its route into 501.
type Dependencies struct {
	// Write side
	Onboarding       *saga.OnboardingSaga
	Award            *command.AwardHandler
	RecordTrade      *command.RecordTradeHandler
	BindReferral     *command.BindReferralHandler
	AdjustPoints     *command.AdjustPointsHandler
	Evaluate         *command.EvaluateAchievementsHandler
	CheckPromotion   *command.CheckPromotionHandler
	Reconcile        *command.ReconcileLedgerHandler
	SeedAchievements *command.SeedAchievementsHandler

	// Read side
	Leaderboard         *query.GetLeaderboardHandler
	UserSummary         *query.GetUserSummaryHandler
	PointsHistory       *query.GetPointsHistoryHandler
	ReferralStats       *query.GetReferralStatsHandler
	CheckReferralCode   *query.CheckReferralCodeHandler
	RecognitionProgress *query.GetRecognitionProgressHandler
	Achievements        *query.ListAchievementsHandler

	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the REST API. Handler can be mounted on its own, which is how
// the tests drive it.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	auth       *handlers.APIKeyAuth
	logger     *logger.Logger
	running    atomic.Bool
}

// NewServer builds the router. Missing config fields take their defaults.
func NewServer(config Config, deps Dependencies) *Server {
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = defaultAPIKeyHeader
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewCompositeHealthChecker(config.Version)
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		auth:   handlers.NewAPIKeyAuth(config.APIKeyHeader, config.AdminAPIKeys),
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger = s.logger.With(logger.Component("http"))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.Handler(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return handlers.ChainHandler(s.router,
		handlers.RequestIDMiddleware(s.logger),
		handlers.RecoveryMiddleware(s.logger),
		handlers.LoggingMiddleware(s.logger),
		handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// probes
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)
	s.router.HandleFunc("GET /{$}", s.handleRoot)

	// users, awards and per-user reads
	s.router.HandleFunc("POST /api/v1/users", s.handleCreateUser)
	s.router.HandleFunc("GET /api/v1/users/{id}", s.handleGetUser)
	s.router.HandleFunc("GET /api/v1/users/{id}/history", s.handleGetHistory)
	s.router.HandleFunc("GET /api/v1/users/{id}/referrals", s.handleGetReferrals)
	s.router.HandleFunc("GET /api/v1/users/{id}/recognition", s.handleGetRecognition)
	s.router.HandleFunc("GET /api/v1/users/{id}/achievements", s.handleGetUserAchievements)
	s.router.HandleFunc("POST /api/v1/users/{id}/actions", s.handleAward)
	s.router.HandleFunc("POST /api/v1/users/{id}/trades", s.handleRecordTrade)
	s.router.HandleFunc("POST /api/v1/users/{id}/referral", s.handleBindReferral)
	s.router.HandleFunc("POST /api/v1/users/{id}/achievements/evaluate", s.handleEvaluate)
	s.router.HandleFunc("POST /api/v1/users/{id}/recognition/check", s.handleCheckPromotion)

	// global reads
	s.router.HandleFunc("GET /api/v1/leaderboard", s.handleGetLeaderboard)
	s.router.HandleFunc("GET /api/v1/achievements", s.handleListAchievements)
	s.router.HandleFunc("GET /api/v1/referral-codes/{code}", s.handleCheckReferralCode)

	// admin, API key required
	s.admin("POST /api/v1/admin/users/{id}/adjustments", s.handleAdjustPoints)
	s.admin("POST /api/v1/admin/users/{id}/reconcile", s.handleReconcile)
	s.admin("POST /api/v1/admin/achievements/seed", s.handleSeedAchievements)
}

func (s *Server) admin(pattern string, h http.HandlerFunc) {
	s.router.Handle(pattern, s.auth.Middleware(h))
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("http server already running")
	}
	s.logger.Info("starting HTTP server", logger.String("address", s.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.running.Store(false)
		return fmt.Errorf("listen %s: %w", s.Address(), err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires. Calling it on a server that never started is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Address is the configured listen address.
func (s *Server) Address() string {
	return s.config.Address()
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// envelope wraps every successful response body. Errors use
// handlers.ErrorBody instead.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Meta      meta   `json:"meta"`
	RequestID string `json:"request_id,omitempty"`
}

type meta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success:   status < http.StatusBadRequest,
		Data:      data,
		Meta:      meta{Timestamp: time.Now().UTC(), Version: s.config.Version},
		RequestID: handlers.RequestID(r.Context()),
	})
}

// writeError maps an engine error onto a status code and error code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	log := logger.FromContext(r.Context()).With(logger.Operation(op), logger.Err(err))
	if status >= 500 {
		log.Error("request failed")
		if status == http.StatusInternalServerError {
			handlers.WriteError(w, r, status, code, "internal error")
			return
		}
	} else {
		log.Debug("request rejected", logger.Int("status", status))
	}
	handlers.WriteError(w, r, status, code, err.Error())
}

var statusByCode = map[shared.ErrorCode]int{
	shared.CodeInvalidInput: http.StatusBadRequest,
	shared.CodeNotFound:     http.StatusNotFound,
	shared.CodeConflict:     http.StatusConflict,
	shared.CodeRateLimited:  http.StatusTooManyRequests,
	shared.CodeUnavailable:  http.StatusServiceUnavailable,
	shared.CodeInternal:     http.StatusInternalServerError,
}

// statusFor maps an engine error onto its HTTP status and error code.
func statusFor(err error) (int, string) {
	code := shared.CodeOf(err)
	return statusByCode[code], string(code)
}

// decodeJSON reads a request body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return shared.WrapError("http", "Decode", shared.ErrInvalidInput, "malformed JSON body", err)
	}
	return nil
}

// queryInt reads an integer query parameter; absent means def.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.WrapError("http", "Query", shared.ErrInvalidInput, fmt.Sprintf("%s must be an integer", key), err)
	}
	return n, nil
}

// queryTime reads an RFC 3339 query parameter; absent means zero.
func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, shared.WrapError("http", "Query", shared.ErrInvalidInput, fmt.Sprintf("%s must be RFC 3339", key), err)
	}
	return t, nil
}
