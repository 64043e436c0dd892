package handlers

import (
	"net/http"
	"os"
	"runtime"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/config"
	"github.com/ekaya-inc/ekaya-gsc/pkg/services"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                          `json:"status"`
	Version   string                          `json:"version"`
	Checks    map[string]services.CheckResult `json:"checks"`
	RequestID string                          `json:"request_id,omitempty"`
}

// HealthHandler handles health, readiness, ping and stats endpoints.
type HealthHandler struct {
	cfg    *config.Config
	health services.HealthService
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with the given configuration.
func NewHealthHandler(cfg *config.Config, health services.HealthService, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, health: health, logger: logger.Named("health-handler")}
}

// RegisterRoutes registers the unauthenticated probe routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/ping", h.Ping)
}

// RegisterAPIRoutes registers routes that sit behind the API key.
func (h *HealthHandler) RegisterAPIRoutes(r chi.Router) {
	r.Get("/api/stats", h.Stats)
}

// Health handles GET /health requests.
// Returns 200 when every dependency is healthy and 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())

	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:  report.Status,
		Version: h.cfg.Version,
		Checks:  report.Checks,
	}
	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ready handles GET /ready requests. A service without a credential is
// ready; it reports authenticated=false so operators know to authorize it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ready := h.health.Ready(r.Context())

	status := http.StatusOK
	if !ready.Ready {
		status = http.StatusServiceUnavailable
	}
	if err := WriteJSON(w, status, ready); err != nil {
		h.logger.Error("Failed to encode ready response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-gsc",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

// Stats handles GET /api/stats.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.health.Stats(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats}); err != nil {
		h.logger.Error("Failed to encode stats response", zap.Error(err))
	}
}
