// Package auth owns the Google OAuth grant: the authorization flow, encrypted
// token storage and access token refresh.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/config"
	"github.com/ekaya-inc/ekaya-gsc/pkg/logging"
)

const (
	ScopeWebmastersReadonly = "https://www.googleapis.com/auth/webmasters.readonly"
	ScopeUserInfoEmail      = "https://www.googleapis.com/auth/userinfo.email"

	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// Scopes requested during authorization.
var Scopes = []string{ScopeWebmastersReadonly, ScopeUserInfoEmail}

// TokenGrant is the plaintext result of a code exchange or refresh.
// RefreshToken is empty when the provider did not issue one.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Email        string
	Scope        string
}

// AuthEndpoint is the OAuth authorization server.
type AuthEndpoint interface {
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for tokens and resolves the
	// account email.
	Exchange(ctx context.Context, code string) (*TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
}

// GoogleOAuth implements AuthEndpoint with golang.org/x/oauth2.
type GoogleOAuth struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

var _ AuthEndpoint = (*GoogleOAuth)(nil)

// GoogleOption configures a GoogleOAuth.
type GoogleOption func(*GoogleOAuth)

// WithEndpoint overrides the authorization and token URLs.
func WithEndpoint(ep oauth2.Endpoint) GoogleOption {
	return func(g *GoogleOAuth) { g.config.Endpoint = ep }
}

func WithUserInfoURL(u string) GoogleOption {
	return func(g *GoogleOAuth) { g.userInfoURL = u }
}

// WithHTTPClient sets the client used for token and userinfo calls.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(g *GoogleOAuth) { g.httpClient = c }
}

// NewGoogleOAuth builds the Google authorization endpoint from config.
func NewGoogleOAuth(cfg *config.GoogleConfig, redirectURL string, opts ...GoogleOption) *GoogleOAuth {
	g := &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint:     googleOAuth.Endpoint,
		},
		userInfoURL: DefaultUserInfoURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AuthCodeURL requests offline access with a forced consent prompt so that a
// refresh token is issued on every authorization.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleOAuth) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*TokenGrant, error) {
	ctx = g.withClient(ctx)

	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	email, err := g.fetchEmail(ctx, tok)
	if err != nil {
		return nil, err
	}

	grant := grantFromToken(tok)
	grant.Email = email
	return grant, nil
}

func (g *GoogleOAuth) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	ts := g.config.TokenSource(g.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	return grantFromToken(tok), nil
}

func (g *GoogleOAuth) fetchEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create userinfo request: %w", err)
	}

	resp, err := g.config.Client(ctx, tok).Do(req)
	if err != nil {
		return "", apperrors.UpstreamUnavailable("failed to get user info", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", apperrors.NewWithStatus(apperrors.KindUpstreamUnavailable, resp.StatusCode,
			"userinfo request failed: "+logging.SanitizeBody(body), nil)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", apperrors.UpstreamUnavailable("failed to decode user info", err)
	}
	if info.Email == "" {
		return "", apperrors.New(apperrors.KindInvalidRequest, "authorized account has no email address", nil)
	}
	return info.Email, nil
}

func grantFromToken(tok *oauth2.Token) *TokenGrant {
	grant := &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		grant.Scope = scope
	}
	return grant
}

func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := strings.ToLower(re.ErrorCode)
		switch {
		case code == "redirect_uri_mismatch":
			return apperrors.New(apperrors.KindRedirectURIMismatch,
				"OAuth redirect URI does not match configured value", err)
		case code == "invalid_grant":
			return apperrors.New(apperrors.KindInvalidRequest,
				"authorization code is invalid or expired", err)
		case re.Response != nil && re.Response.StatusCode >= 500:
			return apperrors.UpstreamUnavailable("token exchange failed", err)
		case code != "":
			return apperrors.New(apperrors.KindInvalidRequest, "token exchange rejected: "+code, err)
		}
	}
	return apperrors.UpstreamUnavailable("token exchange failed", err)
}

var permanentRefreshMarkers = []string{
	"invalid_grant",
	"token has been expired or revoked",
	"revoked",
}

// isPermanentRefreshError reports whether a refresh failure means the grant is
// gone and the user has to authorize again.
func isPermanentRefreshError(err error) bool {
	if err == nil || isClientConfigError(err) {
		return false
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentRefreshMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isClientConfigError reports whether Google rejected the OAuth client itself.
// The stored grant may still be valid once the client is fixed.
func isClientConfigError(err error) bool {
	if err == nil {
		return false
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return re.ErrorCode == "invalid_client" || re.ErrorCode == "unauthorized_client"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_client") || strings.Contains(msg, "unauthorized_client")
}
