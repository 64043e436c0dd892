package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/config"
	"github.com/ekaya-inc/ekaya-gsc/pkg/services"
)

func newTestHealthHandler(svc *mockHealthService) *HealthHandler {
	cfg := &config.Config{Version: "test-version", Env: "test"}
	return NewHealthHandler(cfg, svc, zap.NewNop())
}

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		report     *services.HealthReport
		wantStatus int
	}{
		{
			name: "healthy",
			report: &services.HealthReport{Status: services.HealthHealthy, Checks: map[string]services.CheckResult{
				"database": {Healthy: true, Message: "Database connection OK", Mode: "postgres"},
			}},
			wantStatus: http.StatusOK,
		},
		{
			name: "degraded",
			report: &services.HealthReport{Status: services.HealthDegraded, Checks: map[string]services.CheckResult{
				"oauth": {Healthy: false, Message: "No OAuth account found"},
			}},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHealthHandler(&mockHealthService{report: tt.report})

			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.report.Status, resp.Status)
			assert.Equal(t, "test-version", resp.Version)
			assert.Len(t, resp.Checks, 1)
		})
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	h := newTestHealthHandler(&mockHealthService{ready: &services.Readiness{Ready: true, Message: "ready"}})
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newTestHealthHandler(&mockHealthService{ready: &services.Readiness{Ready: false, Message: "storage unavailable"}})
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthHandler_Ping(t *testing.T) {
	h := newTestHealthHandler(&mockHealthService{})

	rec := httptest.NewRecorder()
	h.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ekaya-gsc", resp.Service)
	assert.Equal(t, "test", resp.Environment)
	assert.NotEmpty(t, resp.GoVersion)
}

func TestHealthHandler_Stats(t *testing.T) {
	h := newTestHealthHandler(&mockHealthService{stats: &services.Stats{ActiveProperties: 3}})
	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool           `json:"success"`
		Stats   services.Stats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(3), resp.Stats.ActiveProperties)

	h = newTestHealthHandler(&mockHealthService{statsErr: errors.New("query failed")})
	rec = httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
