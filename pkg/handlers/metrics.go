package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/normalize"
	"github.com/ekaya-inc/ekaya-gsc/pkg/services"
)

// URLMetricsRequest holds the query of GET /api/metrics/url.
type URLMetricsRequest struct {
	URL     string `json:"url" validate:"required,url"`
	Start   string `json:"start" validate:"required,datetime=2006-01-02"`
	End     string `json:"end" validate:"required,datetime=2006-01-02"`
	Country string `json:"country" validate:"omitempty,len=3"`
	Device  string `json:"device" validate:"omitempty,oneof=desktop mobile tablet"`
	SiteURL string `json:"siteUrl"`
}

// URLListRequest holds the query of GET /api/metrics/urls.
type URLListRequest struct {
	SiteURL string `json:"siteUrl" validate:"required"`
	Start   string `json:"start" validate:"required,datetime=2006-01-02"`
	End     string `json:"end" validate:"required,datetime=2006-01-02"`
	Limit   int    `json:"limit" validate:"min=1,max=1000"`
	Offset  int    `json:"offset" validate:"min=0"`
	OrderBy string `json:"orderBy" validate:"oneof=clicks impressions ctr position"`
	Order   string `json:"order" validate:"oneof=asc desc"`
}

// MetricsResponse wraps a metrics payload.
type MetricsResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// MetricsHandler serves per-URL performance data.
type MetricsHandler struct {
	metrics services.MetricsService
	logger  *zap.Logger
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(metrics services.MetricsService, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, logger: logger.Named("metrics-handler")}
}

// RegisterAPIRoutes registers the metrics routes. All of them require the API key.
func (h *MetricsHandler) RegisterAPIRoutes(r chi.Router) {
	r.Get("/api/metrics/url", h.GetURLMetrics)
	r.Get("/api/metrics/urls", h.ListURLs)
}

// GetURLMetrics handles GET /api/metrics/url.
func (h *MetricsHandler) GetURLMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := URLMetricsRequest{
		URL:     q.Get("url"),
		Start:   q.Get("start"),
		End:     q.Get("end"),
		Country: q.Get("country"),
		Device:  q.Get("device"),
		SiteURL: q.Get("siteUrl"),
	}
	if err := validate.Struct(req); err != nil {
		h.validationError(w, r, validationMessage(err))
		return
	}
	start, end, err := parseDateRange(req.Start, req.End)
	if err != nil {
		h.validationError(w, r, err.Error())
		return
	}
	if req.SiteURL == "" {
		if _, err := normalize.SiteRoot(req.URL); err != nil {
			if err := ErrorResponse(w, r, http.StatusBadRequest, "invalid_url", "Could not determine site URL from the provided URL"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
	}

	result, err := h.metrics.GetURLMetrics(r.Context(), models.MetricsQuery{
		SiteURL: req.SiteURL,
		URL:     req.URL,
		Start:   start,
		End:     end,
		Country: req.Country,
		Device:  req.Device,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, MetricsResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to encode metrics response", zap.Error(err))
	}
}

// ListURLs handles GET /api/metrics/urls.
func (h *MetricsHandler) ListURLs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := URLListRequest{
		SiteURL: q.Get("siteUrl"),
		Start:   q.Get("start"),
		End:     q.Get("end"),
		Limit:   services.DefaultURLListLimit,
		OrderBy: models.OrderByClicks,
		Order:   "desc",
	}
	if v := q.Get("orderBy"); v != "" {
		req.OrderBy = v
	}
	if v := q.Get("order"); v != "" {
		req.Order = v
	}
	for name, dst := range map[string]*int{"limit": &req.Limit, "offset": &req.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.validationError(w, r, name+" must be an integer")
			return
		}
		*dst = n
	}

	if err := validate.Struct(req); err != nil {
		h.validationError(w, r, validationMessage(err))
		return
	}
	start, end, err := parseDateRange(req.Start, req.End)
	if err != nil {
		h.validationError(w, r, err.Error())
		return
	}

	result, err := h.metrics.ListURLs(r.Context(), models.URLListQuery{
		SiteURL: req.SiteURL,
		Start:   start,
		End:     end,
		Limit:   req.Limit,
		Offset:  req.Offset,
		OrderBy: req.OrderBy,
		Order:   req.Order,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, MetricsResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to encode url list response", zap.Error(err))
	}
}

func (h *MetricsHandler) validationError(w http.ResponseWriter, r *http.Request, message string) {
	if err := ErrorResponse(w, r, http.StatusBadRequest, "validation_error", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
