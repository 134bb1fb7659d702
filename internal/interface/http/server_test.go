package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/config"
	"github.com/bonkcomputer/points-engine/internal/app"
	httpserver "github.com/bonkcomputer/points-engine/internal/interface/http"
	"github.com/bonkcomputer/points-engine/pkg/logger"
)

const adminKey = "test-admin-key"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		App:    config.AppConfig{Name: "points-engine", Environment: config.EnvDevelopment, Version: "test"},
		Store:  config.StoreConfig{Driver: config.StoreDriverMemory},
		Engine: config.EngineConfig{SeedCatalog: true},
		HTTP:   config.HTTPConfig{Host: "127.0.0.1", Port: 0, AdminAPIKeys: []string{adminKey}},
	}
	a, err := app.New(context.Background(), cfg,
		app.WithLogger(logger.Nop()),
		app.WithSyncEvents(),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv := httpserver.NewServer(a.HTTPConfig(), a.HTTPDependencies())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

type userBody struct {
	ID           string `json:"id"`
	TotalPoints  int64  `json:"total_points"`
	ReferralCode string `json:"referral_code"`
	ReferredBy   string `json:"referred_by"`
}

type onboardingBody struct {
	User     userBody `json:"user"`
	Referral *struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason"`
	} `json:"referral"`
	ReferralError string `json:"referral_error"`
}

func onboard(t *testing.T, ts *httptest.Server, id, code string) onboardingBody {
	t.Helper()
	status, env := do(t, ts, http.MethodPost, "/api/v1/users", map[string]string{
		"user_id":       id,
		"display_name":  "User " + id,
		"referral_code": code,
	})
	require.Equal(t, http.StatusCreated, status, env.Error.Message)
	return decode[onboardingBody](t, env)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	status, env := do(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)

	status, _ = do(t, ts, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t)

	_, env := do(t, ts, http.MethodGet, "/live", nil, "X-Request-ID", "req-42")
	assert.Equal(t, "req-42", env.RequestID)
}

func TestCreateUser_AwardsProfileCreation(t *testing.T) {
	ts := newTestServer(t)

	body := onboard(t, ts, "alice", "")
	assert.Equal(t, "alice", body.User.ID)
	assert.Equal(t, int64(100), body.User.TotalPoints)
	assert.Len(t, body.User.ReferralCode, 8)
	assert.Nil(t, body.Referral)

	status, env := do(t, ts, http.MethodPost, "/api/v1/users", map[string]string{
		"user_id": "alice", "display_name": "Again",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", env.Error.Code)
}

func TestCreateUser_Validation(t *testing.T) {
	ts := newTestServer(t)

	status, env := do(t, ts, http.MethodPost, "/api/v1/users", map[string]string{"user_id": "carol"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", env.Error.Code)

	status, _ = do(t, ts, http.MethodPost, "/api/v1/users", `{"user_id": `)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, ts, http.MethodPost, "/api/v1/users", `{"display_name": "x", "nickname": "y"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAward(t *testing.T) {
	ts := newTestServer(t)
	onboard(t, ts, "alice", "")

	type awardBody struct {
		Accepted        bool   `json:"accepted"`
		PointsAwarded   int64  `json:"points_awarded"`
		NewTotal        int64  `json:"new_total"`
		RejectionReason string `json:"rejection_reason"`
	}

	status, env := do(t, ts, http.MethodPost, "/api/v1/users/alice/actions", map[string]string{"kind": "DAILY_LOGIN"})
	require.Equal(t, http.StatusOK, status, env.Error.Message)
	first := decode[awardBody](t, env)
	assert.True(t, first.Accepted)
	assert.Equal(t, int64(10), first.PointsAwarded)
	assert.Equal(t, int64(110), first.NewTotal)

	// DAILY_LOGIN is limited to one per day: rejected softly.
	status, env = do(t, ts, http.MethodPost, "/api/v1/users/alice/actions", map[string]string{"kind": "DAILY_LOGIN"})
	require.Equal(t, http.StatusOK, status)
	second := decode[awardBody](t, env)
	assert.False(t, second.Accepted)
	assert.Equal(t, int64(110), second.NewTotal)
	assert.NotEmpty(t, second.RejectionReason)
}

func TestAward_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	onboard(t, ts, "alice", "")

	tests := []struct {
		name   string
		path   string
		kind   string
		status int
		code   string
	}{
		{"unknown user", "/api/v1/users/ghost/actions", "DAILY_LOGIN", http.StatusNotFound, "not_found"},
		{"unknown kind", "/api/v1/users/alice/actions", "MINING", http.StatusBadRequest, "invalid_input"},
		{"internal kind", "/api/v1/users/alice/actions", "REFERRAL_BONUS", http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, ts, http.MethodPost, tt.path, map[string]string{"kind": tt.kind})
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestRecordTrade(t *testing.T) {
	ts := newTestServer(t)
	onboard(t, ts, "alice", "")

	type tradeBody struct {
		Award struct {
			PointsAwarded int64 `json:"points_awarded"`
			NewTotal      int64 `json:"new_total"`
		} `json:"award"`
		TradeVolume string `json:"trade_volume"`
	}

	status, env := do(t, ts, http.MethodPost, "/api/v1/users/alice/trades", `{"volume_usd": "1500.25", "trade_ref": "tx-1"}`)
	require.Equal(t, http.StatusOK, status, env.Error.Message)
	body := decode[tradeBody](t, env)
	// TRADE_COMPLETED plus the "First Trade" reward.
	assert.Equal(t, int64(75), body.Award.PointsAwarded)
	assert.Equal(t, int64(175), body.Award.NewTotal)
	assert.Equal(t, "1500.25", body.TradeVolume)

	status, _ = do(t, ts, http.MethodPost, "/api/v1/users/alice/trades", `{"volume_usd": "0"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReferral(t *testing.T) {
	ts := newTestServer(t)
	alice := onboard(t, ts, "alice", "")

	bob := onboard(t, ts, "bob", alice.User.ReferralCode)
	require.NotNil(t, bob.Referral)
	assert.True(t, bob.Referral.Success)
	assert.Equal(t, "alice", bob.User.ReferredBy)
	assert.Equal(t, int64(350), bob.User.TotalPoints)

	// A second bind is a conflict.
	status, env := do(t, ts, http.MethodPost, "/api/v1/users/bob/referral", map[string]string{"code": alice.User.ReferralCode})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", env.Error.Code)

	// Unknown code is a soft failure.
	onboard(t, ts, "carol", "")
	status, env = do(t, ts, http.MethodPost, "/api/v1/users/carol/referral", map[string]string{"code": "NOPE0000"})
	require.Equal(t, http.StatusOK, status)
	soft := decode[struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason"`
	}](t, env)
	assert.False(t, soft.Success)
	assert.NotEmpty(t, soft.Reason)

	status, env = do(t, ts, http.MethodGet, "/api/v1/users/alice/referrals", nil)
	require.Equal(t, http.StatusOK, status)
	stats := decode[struct {
		TotalReferrals int   `json:"total_referrals"`
		Bonus          int64 `json:"total_referral_bonus_points"`
	}](t, env)
	assert.Equal(t, 1, stats.TotalReferrals)
	assert.Equal(t, int64(500), stats.Bonus)

	status, env = do(t, ts, http.MethodGet, "/api/v1/referral-codes/"+alice.User.ReferralCode, nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[struct {
		Valid bool `json:"valid"`
	}](t, env).Valid)
}

func TestAdminRoutes_RequireAPIKey(t *testing.T) {
	ts := newTestServer(t)
	onboard(t, ts, "alice", "")

	adjust := map[string]any{"delta": -30, "reason": "chargeback", "actor": "ops"}

	status, env := do(t, ts, http.MethodPost, "/api/v1/admin/users/alice/adjustments", adjust)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	status, env = do(t, ts, http.MethodPost, "/api/v1/admin/users/alice/adjustments", adjust, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_api_key", env.Error.Code)

	status, env = do(t, ts, http.MethodPost, "/api/v1/admin/users/alice/adjustments", adjust, "Authorization", "Bearer "+adminKey)
	require.Equal(t, http.StatusOK, status, env.Error.Message)
	assert.Equal(t, int64(70), decode[struct {
		NewTotal int64 `json:"new_total"`
	}](t, env).NewTotal)

	status, env = do(t, ts, http.MethodPost, "/api/v1/admin/users/alice/reconcile", nil, "X-API-Key", adminKey)
	require.Equal(t, http.StatusOK, status, env.Error.Message)
	rec := decode[struct {
		Drift       int64 `json:"drift"`
		LedgerTotal int64 `json:"ledger_total"`
	}](t, env)
	assert.Zero(t, rec.Drift)
	assert.Equal(t, int64(70), rec.LedgerTotal)

	status, _ = do(t, ts, http.MethodPost, "/api/v1/admin/users/alice/adjustments",
		map[string]any{"delta": 0, "reason": "x", "actor": "ops"}, "X-API-Key", adminKey)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLeaderboard(t *testing.T) {
	ts := newTestServer(t)
	alice := onboard(t, ts, "alice", "")
	onboard(t, ts, "bob", alice.User.ReferralCode)

	type boardBody struct {
		Period  string `json:"period"`
		Entries []struct {
			Rank   int64  `json:"rank"`
			UserID string `json:"user_id"`
			Points int64  `json:"points"`
		} `json:"entries"`
		TotalCount int64 `json:"total_count"`
		Requester  *struct {
			Rank int64 `json:"rank"`
		} `json:"requester"`
		Source string `json:"source"`
	}

	status, env := do(t, ts, http.MethodGet, "/api/v1/leaderboard?user_id=bob", nil)
	require.Equal(t, http.StatusOK, status, env.Error.Message)
	board := decode[boardBody](t, env)
	assert.Equal(t, "all_time", board.Period)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "alice", board.Entries[0].UserID)
	assert.Equal(t, int64(600), board.Entries[0].Points)
	assert.Equal(t, int64(2), board.TotalCount)
	require.NotNil(t, board.Requester)
	assert.Equal(t, int64(2), board.Requester.Rank)
	assert.Equal(t, "store", board.Source)

	status, _ = do(t, ts, http.MethodGet, "/api/v1/leaderboard?period=yearly", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, ts, http.MethodGet, "/api/v1/leaderboard?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, ts, http.MethodGet, "/api/v1/leaderboard?user_id=ghost", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestReadEndpoints(t *testing.T) {
	ts := newTestServer(t)
	onboard(t, ts, "alice", "")

	for _, path := range []string{
		"/api/v1/users/alice",
		"/api/v1/users/alice/history?limit=5",
		"/api/v1/users/alice/recognition",
		"/api/v1/users/alice/achievements",
		"/api/v1/achievements",
	} {
		status, env := do(t, ts, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, status, "%s: %s", path, env.Error.Message)
	}

	status, _ := do(t, ts, http.MethodGet, "/api/v1/users/ghost", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, ts, http.MethodGet, "/api/v1/users/alice/history?before=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEvaluateAndPromotion(t *testing.T) {
	ts := newTestServer(t)
	onboard(t, ts, "alice", "")

	status, env := do(t, ts, http.MethodPost, "/api/v1/users/alice/achievements/evaluate", nil)
	require.Equal(t, http.StatusOK, status, env.Error.Message)

	status, env = do(t, ts, http.MethodPost, "/api/v1/users/alice/recognition/check", nil)
	require.Equal(t, http.StatusOK, status, env.Error.Message)
	assert.False(t, decode[struct {
		Promoted bool `json:"promoted"`
	}](t, env).Promoted)
}
