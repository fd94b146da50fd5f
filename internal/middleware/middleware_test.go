package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/designlens/internal/application"
	"github.com/bryanwahyu/designlens/internal/domain/analysis"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetTenantFromContext(r.Context())))
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"acme": "k-acme", "globex": "k-globex"}, "k-ops")(http.HandlerFunc(okHandler))

	tests := []struct {
		name   string
		path   string
		auth   string
		status int
		body   string
	}{
		{"public health", "/health", "", http.StatusOK, ""},
		{"missing header", "/v1/acme/analyses", "", http.StatusUnauthorized, ""},
		{"bad key", "/v1/acme/analyses", "Bearer nope", http.StatusUnauthorized, ""},
		{"bearer key", "/v1/acme/analyses", "Bearer k-acme", http.StatusOK, "acme"},
		{"raw key", "/v1/globex/analyses", "k-globex", http.StatusOK, "globex"},
		{"ops with tenant key", "/v1/ops/sweep", "Bearer k-acme", http.StatusUnauthorized, ""},
		{"ops key", "/v1/ops/sweep", "Bearer k-ops", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestRequireTenant(t *testing.T) {
	param := func(r *http.Request) string { return r.URL.Query().Get("t") }
	h := RequireTenant(param)(http.HandlerFunc(okHandler))

	serve := func(urlTenant, authTenant string) int {
		req := httptest.NewRequest(http.MethodGet, "/?t="+urlTenant, nil)
		req = req.WithContext(context.WithValue(req.Context(), TenantKey, authTenant))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve("acme", "acme"))
	assert.Equal(t, http.StatusForbidden, serve("globex", "acme"))
	assert.Equal(t, http.StatusBadRequest, serve("bad%20tenant", "acme"))
}

func TestRateLimiter_RefillsWithClock(t *testing.T) {
	clk := application.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(60, 2, clk) // 1 token/sec, burst 2

	ok, _ := rl.Allow("acme")
	assert.True(t, ok)
	ok, _ = rl.Allow("acme")
	assert.True(t, ok)
	ok, wait := rl.Allow("acme")
	assert.False(t, ok)
	assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	// another tenant has its own bucket
	ok, _ = rl.Allow("globex")
	assert.True(t, ok)

	clk.Advance(time.Second)
	ok, _ = rl.Allow("acme")
	assert.True(t, ok)

	clk.Advance(10 * time.Minute)
	assert.Equal(t, 2, rl.Prune(5*time.Minute))
}

func TestRateLimitMiddleware(t *testing.T) {
	clk := application.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	h := RateLimitMiddleware(NewRateLimiter(60, 1, clk))(http.HandlerFunc(okHandler))

	req := func(path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r = r.WithContext(context.WithValue(r.Context(), TenantKey, "acme"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, req("/v1/acme/analyses").Code)
	rec := req("/v1/acme/analyses")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, req("/health").Code)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.RunStarted()
	m.RunStarted()
	m.RunFinished(analysis.StatusFailed)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap["analyses_total"])
	assert.Equal(t, int64(1), snap["analyses_running"])
	assert.Equal(t, uint64(1), snap["analyses_failed"])
	assert.Equal(t, uint64(2), snap["requests_total"])
	assert.Equal(t, uint64(1), snap["requests_success"])
	assert.Equal(t, uint64(1), snap["requests_failed"])
	assert.Equal(t, int64(0), snap["requests_in_progress"])
}

func TestReadinessHandler(t *testing.T) {
	down := map[string]HealthChecker{
		"storage": CheckFunc(func(context.Context) error { return errors.New("bucket unreachable") }),
	}
	rec := httptest.NewRecorder()
	ReadinessHandler(down)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	HealthHandler(down)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "bucket unreachable")

	rec = httptest.NewRecorder()
	ReadinessHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
