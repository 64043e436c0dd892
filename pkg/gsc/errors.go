package gsc

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/logging"
)

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// upstreamMessage extracts the most useful message from an error response
// body, falling back to the sanitized raw body.
func upstreamMessage(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return logging.Sanitize(parsed.Error.Message)
	}
	return logging.SanitizeBody(body)
}

// ClassifyResponse maps a non-2xx Search Console response to a classified error.
// Only throttling is retryable: 429, or 403 with a rate-limit reason.
func ClassifyResponse(status int, body []byte) *apperrors.Error {
	msg := upstreamMessage(body)
	lower := strings.ToLower(string(body))

	switch {
	case status == http.StatusForbidden:
		// Matches both rateLimitExceeded and userRateLimitExceeded.
		if strings.Contains(lower, "ratelimitexceeded") {
			return apperrors.NewWithStatus(apperrors.KindRateLimited, status,
				"too many requests, please try again later", nil)
		}
		if strings.Contains(lower, "insufficient") || strings.Contains(lower, "sufficient permission") {
			return apperrors.NewWithStatus(apperrors.KindInsufficientPermission, status,
				"account does not have access to this property", nil)
		}
		return apperrors.NewWithStatus(apperrors.KindForbidden, status,
			"access denied to Google Search Console API: "+msg, nil)

	case status == http.StatusUnauthorized:
		if strings.Contains(lower, "invalid_grant") {
			return apperrors.NewWithStatus(apperrors.KindReauthRequired, status,
				"please re-authenticate via /api/auth/url", nil)
		}
		return apperrors.NewWithStatus(apperrors.KindUnauthorized, status,
			"invalid or expired authentication", nil)

	case status == http.StatusBadRequest:
		if strings.Contains(lower, "redirect_uri_mismatch") {
			return apperrors.NewWithStatus(apperrors.KindRedirectURIMismatch, status,
				"OAuth redirect URI does not match configured value", nil)
		}
		return apperrors.NewWithStatus(apperrors.KindInvalidRequest, status, msg, nil)

	case status == http.StatusTooManyRequests:
		return apperrors.NewWithStatus(apperrors.KindRateLimited, status,
			"too many requests, please try again later", nil)

	case status >= 500:
		return apperrors.NewWithStatus(apperrors.KindUpstreamUnavailable, status,
			"Google API temporarily unavailable", nil)
	}

	return apperrors.NewWithStatus(apperrors.KindInternal, status, msg, nil)
}
