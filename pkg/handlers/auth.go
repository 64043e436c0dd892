package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/auth"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
)

// Authorizer drives the OAuth consent flow and reports credential state.
// *auth.TokenManager implements it.
type Authorizer interface {
	AuthCodeURL(state string) string
	CompleteAuthorization(ctx context.Context, code string) (*models.Credential, error)
	HasValidAccess(ctx context.Context) (bool, error)
	Status(ctx context.Context) (*auth.Status, error)
}

var _ Authorizer = (*auth.TokenManager)(nil)

// AuthURLResponse is the body of GET /api/auth/url.
type AuthURLResponse struct {
	Success bool   `json:"success"`
	AuthURL string `json:"auth_url"`
}

// CallbackRequest is the body of POST /api/auth/callback, used when the
// operator pastes the code instead of following the browser redirect.
type CallbackRequest struct {
	Code string `json:"code" validate:"required"`
}

// CallbackResponse reports a completed authorization.
type CallbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Email   string `json:"email"`
}

// AuthStatusResponse is the body of GET /api/auth/status.
type AuthStatusResponse struct {
	Success         bool   `json:"success"`
	Authenticated   bool   `json:"authenticated"`
	Message         string `json:"message"`
	Email           string `json:"email,omitempty"`
	HasRefreshToken bool   `json:"has_refresh_token"`
	NeedsReauth     bool   `json:"needs_reauth"`
}

// AuthHandler handles the OAuth authorization endpoints.
type AuthHandler struct {
	authorizer Authorizer
	states     auth.StateStore
	logger     *zap.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authorizer Authorizer, states auth.StateStore, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authorizer: authorizer,
		states:     states,
		logger:     logger.Named("auth-handler"),
	}
}

// RegisterRoutes registers the callback, which Google reaches without an API key.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/auth/callback", h.Callback)
}

// RegisterAPIRoutes registers the routes that sit behind the API key.
func (h *AuthHandler) RegisterAPIRoutes(r chi.Router) {
	r.Get("/api/auth/url", h.AuthURL)
	r.Post("/api/auth/callback", h.CompleteCallback)
	r.Get("/api/auth/status", h.Status)
}

// AuthURL handles GET /api/auth/url.
func (h *AuthHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	url := h.authorizer.AuthCodeURL(h.states.Generate())
	h.logger.Info("Generated OAuth URL")

	if err := WriteJSON(w, http.StatusOK, AuthURLResponse{Success: true, AuthURL: url}); err != nil {
		h.logger.Error("Failed to encode auth url response", zap.Error(err))
	}
}

// Callback handles GET /api/auth/callback, the redirect target of the
// consent screen. The state must be one issued by AuthURL.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if oauthErr := q.Get("error"); oauthErr != "" {
		h.logger.Warn("OAuth callback error", zap.String("error", oauthErr))
		h.writeError(w, r, http.StatusBadRequest, "oauth_error", "OAuth error: "+oauthErr)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.writeError(w, r, http.StatusBadRequest, "missing_code", "Authorization code is required")
		return
	}
	if !h.states.Validate(q.Get("state")) {
		h.writeError(w, r, http.StatusBadRequest, "invalid_state", "OAuth state is missing, expired or already used")
		return
	}

	h.complete(w, r, code)
}

// CompleteCallback handles POST /api/auth/callback with a JSON or form body.
func (h *AuthHandler) CompleteCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
	} else {
		req.Code = r.FormValue("code")
	}

	if err := validate.Struct(req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "missing_code", "Authorization code is required")
		return
	}

	h.complete(w, r, req.Code)
}

func (h *AuthHandler) complete(w http.ResponseWriter, r *http.Request, code string) {
	cred, err := h.authorizer.CompleteAuthorization(r.Context(), code)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	h.logger.Info("OAuth callback successful", zap.String("email", cred.Email))
	resp := CallbackResponse{
		Success: true,
		Message: "Authentication successful",
		Email:   cred.Email,
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode callback response", zap.Error(err))
	}
}

// Status handles GET /api/auth/status. A failed check is reported as
// unauthenticated rather than as an error.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := AuthStatusResponse{Success: true, Message: "No valid authentication found"}

	ok, err := h.authorizer.HasValidAccess(r.Context())
	if err != nil {
		h.logger.Error("Failed to check auth status", zap.Error(err))
		resp.Message = "Authentication check failed"
	}
	if ok {
		resp.Authenticated = true
		resp.Message = "Authentication is valid"
	}

	if st, err := h.authorizer.Status(r.Context()); err == nil {
		resp.Email = st.Email
		resp.HasRefreshToken = st.HasRefreshToken
		resp.NeedsReauth = st.NeedsReauth
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode auth status response", zap.Error(err))
	}
}

func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if err := ErrorResponse(w, r, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
