package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/pkg/logger"
)

func ok(context.Context) error { return nil }

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.AddCheck("postgres", ok)
	c.AddOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "v1", status.Version)
	assert.Equal(t, "Some checks failed: redis", status.Message)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
	assert.False(t, status.Checks["redis"].Critical)

	c.AddCheck("postgres", func(context.Context) error { return errors.New("down") })
	status = c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Len(t, status.Checks, 2)
	assert.Equal(t, "Some checks failed: postgres, redis", status.Message)
}

func TestCompositeHealthChecker_AllPass(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.AddCheck("a", ok)
	c.AddOptionalCheck("b", ok)

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "All checks passed", status.Message)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestNewPingCheck(t *testing.T) {
	boom := errors.New("boom")
	assert.NoError(t, NewPingCheck(pinger{})(context.Background()))
	assert.ErrorIs(t, NewPingCheck(pinger{err: boom})(context.Background()), boom)
}

func decodeError(t *testing.T, body io.Reader) ErrorBody {
	t.Helper()
	var e ErrorBody
	require.NoError(t, json.NewDecoder(body).Decode(&e))
	return e
}

func TestAPIKeyAuth(t *testing.T) {
	auth := NewAPIKeyAuth("X-API-Key", []string{"", "s3cret", "other"})
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		value  string
		status int
		code   string
	}{
		{"header", "X-API-Key", "s3cret", http.StatusNoContent, ""},
		{"bearer", "Authorization", "Bearer other", http.StatusNoContent, ""},
		{"missing", "", "", http.StatusUnauthorized, "missing_api_key"},
		{"wrong", "X-API-Key", "s3cret2", http.StatusUnauthorized, "invalid_api_key"},
		{"basic scheme", "Authorization", "Basic s3cret", http.StatusUnauthorized, "missing_api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeError(t, rec.Body).Error.Code)
			}
		})
	}

	assert.False(t, NewAPIKeyAuth("X-API-Key", nil).IsValid(""))
}

func TestMiddlewareChain(t *testing.T) {
	log := logger.Nop()
	var seen string
	h := ChainHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		if r.URL.Path == "/panic" {
			panic("nil map")
		}
		_, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	}),
		RequestIDMiddleware(log),
		RecoveryMiddleware(log),
		LoggingMiddleware(log),
		RequestSizeLimitMiddleware(8),
	)

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", 200))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeError(t, rec.Body)
	assert.Equal(t, "internal_error", e.Error.Code)
	assert.NotEmpty(t, e.RequestID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ok", strings.NewReader("way too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", decodeError(t, rec.Body).Error.Code)
}
