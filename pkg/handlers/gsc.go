package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/services"
)

const maxJobListLimit = 100

// ImportRequest is the body of POST /api/gsc/import.
type ImportRequest struct {
	Property   string               `json:"property" validate:"required"`
	Start      string               `json:"start" validate:"required,datetime=2006-01-02"`
	End        string               `json:"end" validate:"required,datetime=2006-01-02"`
	Dimensions []string             `json:"dimensions" validate:"omitempty,dive,oneof=page query country device"`
	SearchType string               `json:"searchType" validate:"omitempty,oneof=web image video news discover googleNews"`
	DataState  string               `json:"dataState" validate:"omitempty,oneof=all final"`
	Filters    models.ImportFilters `json:"filters"`
	DryRun     bool                 `json:"dryRun"`
}

// ImportResponse flattens the import result into the success envelope.
type ImportResponse struct {
	Success bool `json:"success"`
	*models.ImportResult
}

// PropertiesResponse lists stored properties.
type PropertiesResponse struct {
	Success    bool               `json:"success"`
	Properties []*models.Property `json:"properties"`
}

// SyncResponse reports a property sync.
type SyncResponse struct {
	Success bool `json:"success"`
	*services.SyncResult
}

// CheckAccessResponse answers GET /api/gsc/check-access.
type CheckAccessResponse struct {
	Success   bool   `json:"success"`
	HasAccess bool   `json:"hasAccess"`
	Property  string `json:"property"`
	Message   string `json:"message"`
}

// JobsResponse lists recent import jobs.
type JobsResponse struct {
	Success bool                `json:"success"`
	Jobs    []*models.ImportJob `json:"jobs"`
}

// JobResponse wraps one import job.
type JobResponse struct {
	Success bool              `json:"success"`
	Job     *models.ImportJob `json:"job"`
}

// GSCHandler handles property and import endpoints.
type GSCHandler struct {
	properties services.PropertyService
	imports    services.ImportService
	logger     *zap.Logger
}

// NewGSCHandler creates a new GSC handler.
func NewGSCHandler(properties services.PropertyService, imports services.ImportService, logger *zap.Logger) *GSCHandler {
	return &GSCHandler{
		properties: properties,
		imports:    imports,
		logger:     logger.Named("gsc-handler"),
	}
}

// RegisterAPIRoutes registers the GSC routes. All of them require the API key.
func (h *GSCHandler) RegisterAPIRoutes(r chi.Router) {
	r.Get("/api/gsc/properties", h.ListProperties)
	r.Post("/api/gsc/properties/sync", h.SyncProperties)
	r.Get("/api/gsc/check-access", h.CheckAccess)
	r.Post("/api/gsc/import", h.Import)
	r.Get("/api/gsc/imports", h.ListJobs)
	r.Get("/api/gsc/imports/{id}", h.GetJob)
}

// ListProperties handles GET /api/gsc/properties.
func (h *GSCHandler) ListProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.properties.ListProperties(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	h.logger.Debug("Retrieved properties", zap.Int("count", len(props)))
	if err := WriteJSON(w, http.StatusOK, PropertiesResponse{Success: true, Properties: props}); err != nil {
		h.logger.Error("Failed to encode properties response", zap.Error(err))
	}
}

// SyncProperties handles POST /api/gsc/properties/sync.
func (h *GSCHandler) SyncProperties(w http.ResponseWriter, r *http.Request) {
	result, err := h.properties.SyncProperties(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, SyncResponse{Success: true, SyncResult: result}); err != nil {
		h.logger.Error("Failed to encode sync response", zap.Error(err))
	}
}

// CheckAccess handles GET /api/gsc/check-access?property=.
func (h *GSCHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	property := r.URL.Query().Get("property")
	if property == "" {
		if err := ErrorResponse(w, r, http.StatusBadRequest, "missing_property", "Property parameter is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ok, err := h.properties.CheckAccess(r.Context(), property)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	resp := CheckAccessResponse{Success: true, HasAccess: ok, Property: property, Message: "No access to this property"}
	if ok {
		resp.Message = "Access confirmed"
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode check access response", zap.Error(err))
	}
}

// Import handles POST /api/gsc/import. The import runs synchronously; the
// response carries the finished job's totals or the dry-run estimate.
func (h *GSCHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.validationError(w, r, "Invalid request body")
		return
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

	params := models.ImportParams{
		SiteURL:    req.Property,
		Start:      start,
		End:        end,
		Dimensions: req.Dimensions,
		SearchType: req.SearchType,
		DataState:  req.DataState,
		Filters:    req.Filters,
		DryRun:     req.DryRun,
	}
	if len(params.Dimensions) == 0 {
		params.Dimensions = models.DefaultDimensions
	}
	if params.SearchType == "" {
		params.SearchType = models.SearchTypeWeb
	}
	if params.DataState == "" {
		params.DataState = models.DataStateAll
	}

	result, err := h.imports.ImportSearchAnalytics(r.Context(), params)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ImportResponse{Success: true, ImportResult: result}); err != nil {
		h.logger.Error("Failed to encode import response", zap.Error(err))
	}
}

// ListJobs handles GET /api/gsc/imports?limit=.
func (h *GSCHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := services.DefaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxJobListLimit {
			h.validationError(w, r, "limit must be an integer between 1 and 100")
			return
		}
		limit = n
	}

	jobs, err := h.imports.ListJobs(r.Context(), limit)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if jobs == nil {
		jobs = []*models.ImportJob{}
	}
	if err := WriteJSON(w, http.StatusOK, JobsResponse{Success: true, Jobs: jobs}); err != nil {
		h.logger.Error("Failed to encode jobs response", zap.Error(err))
	}
}

// GetJob handles GET /api/gsc/imports/{id}.
func (h *GSCHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseJobID(w, r, h.logger)
	if !ok {
		return
	}

	job, err := h.imports.GetJob(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, JobResponse{Success: true, Job: job}); err != nil {
		h.logger.Error("Failed to encode job response", zap.Error(err))
	}
}

func (h *GSCHandler) validationError(w http.ResponseWriter, r *http.Request, message string) {
	if err := ErrorResponse(w, r, http.StatusBadRequest, "validation_error", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
