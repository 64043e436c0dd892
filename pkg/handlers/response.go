package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/logging"
	"github.com/ekaya-inc/ekaya-gsc/pkg/middleware"
)

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ErrorBody{
		Success:   false,
		Error:     errorCode,
		Message:   message,
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps err to a status code and error code and writes it.
// Internal errors are logged and reported without detail.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("error", logging.SanitizeError(err)))
	} else {
		logger.Warn("Request rejected",
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.String("error", logging.SanitizeError(err)))
	}
	if werr := ErrorResponse(w, r, status, code, message); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}

func classify(err error) (int, string, string) {
	if errors.Is(err, apperrors.ErrInvalidTransition) {
		return http.StatusConflict, "invalid_transition", "Import job cannot change to the requested status"
	}

	kind := apperrors.KindOf(err)
	status := kind.HTTPStatus()

	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr) && status < http.StatusInternalServerError && appErr.Message != "":
		return status, string(kind), appErr.Message
	case errors.As(err, &appErr) && kind == apperrors.KindUpstreamUnavailable:
		return status, string(kind), "Google API is temporarily unavailable"
	case kind == apperrors.KindNotFound:
		return status, string(kind), "Resource not found"
	case kind == apperrors.KindImportInProgress:
		return status, string(kind), apperrors.ErrImportInProgress.Error()
	case status < http.StatusInternalServerError:
		return status, string(kind), logging.SanitizeError(err)
	default:
		return http.StatusInternalServerError, string(apperrors.KindInternal), "Internal server error"
	}
}
