package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/middleware"
)

// RouterConfig collects the handlers NewRouter mounts.
type RouterConfig struct {
	APIKey  string
	Health  *HealthHandler
	Auth    *AuthHandler
	GSC     *GSCHandler
	Metrics *MetricsHandler
	// Prometheus serves GET /metrics when set.
	Prometheus http.Handler
}

// NewRouter builds the HTTP surface. Probes, /metrics and the browser OAuth
// callback are public; everything else under /api requires the API key.
func NewRouter(cfg RouterConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Metrics)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		if err := ErrorResponse(w, req, http.StatusNotFound, "not_found", "Endpoint not found"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		if err := ErrorResponse(w, req, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
	})

	cfg.Health.RegisterRoutes(r)
	cfg.Auth.RegisterRoutes(r)
	if cfg.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Prometheus)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKey, logger))
		cfg.Health.RegisterAPIRoutes(r)
		cfg.Auth.RegisterAPIRoutes(r)
		cfg.GSC.RegisterAPIRoutes(r)
		cfg.Metrics.RegisterAPIRoutes(r)
	})

	return r
}
