package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// APIKeyHeader is the header checked by APIKey. The api_key query parameter
// is accepted as a fallback for clients that cannot set headers.
const (
	APIKeyHeader     = "X-API-Key"
	apiKeyQueryParam = "api_key"
)

// APIKey rejects requests that do not present key. A missing key is 401
// api_key_required, a wrong one 403 invalid_api_key. An empty key disables
// the check.
func APIKey(key string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(APIKeyHeader)
			if presented == "" {
				presented = r.URL.Query().Get(apiKeyQueryParam)
			}

			if presented == "" {
				writeError(w, r, http.StatusUnauthorized, "api_key_required", "API key is required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				if logger != nil {
					logger.Warn("Rejected request with invalid API key",
						zap.String("path", r.URL.Path),
						zap.String("remote_addr", r.RemoteAddr),
						zap.String("request_id", GetRequestID(r.Context())))
				}
				writeError(w, r, http.StatusForbidden, "invalid_api_key", "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError mirrors the handlers' error envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":    false,
		"error":      code,
		"message":    message,
		"request_id": GetRequestID(r.Context()),
	})
}
