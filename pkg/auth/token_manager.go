package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/crypto"
	"github.com/ekaya-inc/ekaya-gsc/pkg/logging"
	"github.com/ekaya-inc/ekaya-gsc/pkg/metrics"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/repositories"
)

// defaultTokenLifetime is assumed when the token response carries no expiry.
const defaultTokenLifetime = time.Hour

// TokenProvider hands out usable access tokens.
type TokenProvider interface {
	// GetValidAccessToken returns a plaintext access token for identity, or
	// for the most recently updated credential when identity is empty.
	GetValidAccessToken(ctx context.Context, identity string) (string, error)
}

// Status describes the stored credential without refreshing it.
type Status struct {
	Authenticated        bool       `json:"authenticated"`
	Email                string     `json:"email,omitempty"`
	HasRefreshToken      bool       `json:"has_refresh_token"`
	NeedsReauth          bool       `json:"needs_reauth"`
	AccessTokenExpiresAt *time.Time `json:"access_token_expires_at,omitempty"`
}

// TokenManager keeps the stored OAuth grant usable. Refreshes for the same
// identity are serialized; waiters reuse the token the holder stored.
type TokenManager struct {
	repo     repositories.CredentialRepository
	endpoint AuthEndpoint
	cipher   crypto.Cipher
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ TokenProvider = (*TokenManager)(nil)

// NewTokenManager creates a TokenManager.
func NewTokenManager(repo repositories.CredentialRepository, endpoint AuthEndpoint, cipher crypto.Cipher, logger *zap.Logger) *TokenManager {
	return &TokenManager{
		repo:     repo,
		endpoint: endpoint,
		cipher:   cipher,
		logger:   logger.Named("token-manager"),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *TokenManager) AuthCodeURL(state string) string {
	return m.endpoint.AuthCodeURL(state)
}

func (m *TokenManager) lockFor(identity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		m.locks[identity] = l
	}
	return l
}

func (m *TokenManager) load(ctx context.Context, identity string) (*models.Credential, error) {
	cred, err := m.repo.Get(ctx, identity)
	if errors.Is(err, apperrors.ErrNotFound) {
		if identity == "" {
			return nil, apperrors.NoCredential("no Google account authorized; visit /api/auth/url")
		}
		return nil, apperrors.NoCredential("no credential stored for " + identity)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return cred, nil
}

// usableToken returns the decrypted access token if it has not expired.
func (m *TokenManager) usableToken(cred *models.Credential) (string, bool) {
	if !cred.HasUsableAccessToken(m.now()) {
		return "", false
	}
	token, err := m.cipher.Decrypt(*cred.AccessToken)
	if err != nil {
		m.logger.Warn("Stored access token cannot be decrypted, refreshing",
			zap.String("email", cred.Email),
			zap.Error(err))
		return "", false
	}
	return token, true
}

func (m *TokenManager) GetValidAccessToken(ctx context.Context, identity string) (string, error) {
	cred, err := m.load(ctx, identity)
	if err != nil {
		return "", err
	}
	if token, ok := m.usableToken(cred); ok {
		return token, nil
	}

	lock := m.lockFor(cred.Email)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited.
	cred, err = m.load(ctx, cred.Email)
	if err != nil {
		return "", err
	}
	if token, ok := m.usableToken(cred); ok {
		return token, nil
	}

	return m.refresh(ctx, cred)
}

// refresh must be called with the identity lock held.
func (m *TokenManager) refresh(ctx context.Context, cred *models.Credential) (string, error) {
	refreshToken, err := m.cipher.Decrypt(cred.RefreshToken)
	if err != nil {
		return "", apperrors.ReauthRequired("stored refresh token cannot be decrypted", err)
	}

	grant, err := m.endpoint.Refresh(ctx, refreshToken)
	if err != nil {
		if isClientConfigError(err) {
			metrics.TokenRefreshTotal.WithLabelValues(metrics.RefreshMisconfigured).Inc()
			m.logger.Error("OAuth client rejected during token refresh",
				zap.String("email", cred.Email),
				zap.String("error", logging.SanitizeError(err)))
			return "", apperrors.New(apperrors.KindInternal,
				"OAuth client is misconfigured; check the Google client ID and secret", err)
		}
		if isPermanentRefreshError(err) {
			metrics.TokenRefreshTotal.WithLabelValues(metrics.RefreshRevoked).Inc()
			if invErr := m.repo.InvalidateAccessToken(ctx, cred.Email); invErr != nil {
				m.logger.Error("Failed to invalidate revoked access token",
					zap.String("email", cred.Email),
					zap.Error(invErr))
			}
			m.logger.Warn("Refresh token rejected, re-authorization required",
				zap.String("email", cred.Email),
				zap.String("error", logging.SanitizeError(err)))
			return "", apperrors.ReauthRequired("please re-authenticate via /api/auth/url", err)
		}

		metrics.TokenRefreshTotal.WithLabelValues(metrics.RefreshTransient).Inc()
		m.logger.Warn("Transient token refresh failure",
			zap.String("email", cred.Email),
			zap.String("error", logging.SanitizeError(err)))
		return "", apperrors.UpstreamUnavailable("failed to refresh access token", err)
	}

	accessCipher, err := m.cipher.Encrypt(grant.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}

	var rotated *string
	if grant.RefreshToken != "" && grant.RefreshToken != refreshToken {
		enc, err := m.cipher.Encrypt(grant.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		rotated = &enc
		m.logger.Info("Rotating refresh token", zap.String("email", cred.Email))
	}

	expiry := grant.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(defaultTokenLifetime)
	}

	if err := m.repo.UpdateTokens(ctx, cred.Email, accessCipher, expiry, rotated); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}

	metrics.TokenRefreshTotal.WithLabelValues(metrics.RefreshSuccess).Inc()
	m.logger.Info("Refreshed access token",
		zap.String("email", cred.Email),
		zap.Time("expires_at", expiry))
	return grant.AccessToken, nil
}

// CompleteAuthorization exchanges an authorization code and stores the grant.
// When the provider issues no refresh token the previously stored one is kept;
// with nothing stored the authorization fails.
func (m *TokenManager) CompleteAuthorization(ctx context.Context, code string) (*models.Credential, error) {
	if code == "" {
		return nil, apperrors.Validation("authorization code is required")
	}

	grant, err := m.endpoint.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	existing, err := m.repo.Get(ctx, grant.Email)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	var refreshCipher string
	switch {
	case grant.RefreshToken != "":
		refreshCipher, err = m.cipher.Encrypt(grant.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	case existing != nil:
		refreshCipher = existing.RefreshToken
	default:
		return nil, apperrors.New(apperrors.KindInvalidRequest,
			"no refresh token issued; revoke the app's access in your Google account and authorize again", nil)
	}

	accessCipher, err := m.cipher.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	expiry := grant.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(defaultTokenLifetime)
	}

	cred := &models.Credential{
		Email:                grant.Email,
		Scope:                grant.Scope,
		AccessToken:          &accessCipher,
		RefreshToken:         refreshCipher,
		AccessTokenExpiresAt: &expiry,
	}
	if err := m.repo.Upsert(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	m.logger.Info("Google account authorized",
		zap.String("email", grant.Email),
		zap.Bool("new_refresh_token", grant.RefreshToken != ""))
	return cred, nil
}

// HasValidAccess reports whether a usable token can be produced. Missing or
// revoked credentials are a negative answer, not an error.
func (m *TokenManager) HasValidAccess(ctx context.Context) (bool, error) {
	_, err := m.GetValidAccessToken(ctx, "")
	switch {
	case err == nil:
		return true, nil
	case apperrors.IsKind(err, apperrors.KindNoCredential), apperrors.IsKind(err, apperrors.KindReauthRequired):
		return false, nil
	default:
		return false, err
	}
}

// Status reports the stored credential state without contacting Google.
func (m *TokenManager) Status(ctx context.Context) (*Status, error) {
	cred, err := m.repo.Get(ctx, "")
	if errors.Is(err, apperrors.ErrNotFound) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &Status{
		Authenticated:        true,
		Email:                cred.Email,
		HasRefreshToken:      cred.RefreshToken != "",
		NeedsReauth:          cred.AccessToken == nil,
		AccessTokenExpiresAt: cred.AccessTokenExpiresAt,
	}, nil
}
