// Package logging redacts credentials from strings before they are logged.
package logging

import (
	"regexp"
)

const (
	// MaxBodyLogLength bounds upstream response bodies copied into logs and errors.
	MaxBodyLogLength = 512
	// RedactedText replaces sensitive values.
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// OAuth fields in form bodies, query strings and JSON payloads.
	oauthFieldPattern = regexp.MustCompile(`(?i)"?(access_token|refresh_token|id_token|client_secret)"?\s*[:=]\s*"?[^"&\s,}]+"?`)

	// Authorization codes only appear in form or query encoding.
	authCodePattern = regexp.MustCompile(`(?i)\b(code)=[^&\s]+`)

	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/]+=*`)

	// Google access tokens (ya29.) and refresh tokens (1//).
	googleTokenPattern = regexp.MustCompile(`(ya29\.[A-Za-z0-9\-_.]+|1//[A-Za-z0-9\-_]+)`)

	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9\-_]{16,}`)

	// user:pass@host
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a DSN.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError returns err's message with credentials removed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}

// Sanitize removes OAuth tokens, API keys and passwords from s.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = oauthFieldPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = authCodePattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = googleTokenPattern.ReplaceAllString(s, RedactedText)
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)
	return s
}

// SanitizeBody truncates and sanitizes an upstream response body.
func SanitizeBody(body []byte) string {
	return TruncateString(Sanitize(string(body)), MaxBodyLogLength)
}

// TruncateString truncates s to maxLen bytes and adds an ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
