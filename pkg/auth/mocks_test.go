package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/repositories"
)

// prefixCipher marks values as encrypted without real cryptography.
type prefixCipher struct{}

func (prefixCipher) Encrypt(s string) (string, error) { return "enc:" + s, nil }

func (prefixCipher) Decrypt(s string) (string, error) {
	if !strings.HasPrefix(s, "enc:") {
		return "", errors.New("not encrypted")
	}
	return strings.TrimPrefix(s, "enc:"), nil
}

type mockCredentialRepo struct {
	mu          sync.Mutex
	creds       map[string]*models.Credential
	getErr      error
	updateCalls int
	invalidated []string
}

func newMockCredentialRepo() *mockCredentialRepo {
	return &mockCredentialRepo{creds: make(map[string]*models.Credential)}
}

var _ repositories.CredentialRepository = (*mockCredentialRepo)(nil)

func (m *mockCredentialRepo) put(c *models.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[c.Email] = c
}

func (m *mockCredentialRepo) Get(ctx context.Context, email string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if email == "" {
		var latest *models.Credential
		for _, c := range m.creds {
			if latest == nil || c.UpdatedAt.After(latest.UpdatedAt) {
				latest = c
			}
		}
		if latest == nil {
			return nil, apperrors.ErrNotFound
		}
		cp := *latest
		return &cp, nil
	}
	c, ok := m.creds[email]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCredentialRepo) Upsert(ctx context.Context, cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cred
	cp.UpdatedAt = time.Now()
	m.creds[cred.Email] = &cp
	return nil
}

func (m *mockCredentialRepo) UpdateTokens(ctx context.Context, email, accessToken string, expiresAt time.Time, refreshToken *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	c, ok := m.creds[email]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.AccessToken = &accessToken
	c.AccessTokenExpiresAt = &expiresAt
	if refreshToken != nil {
		c.RefreshToken = *refreshToken
	}
	return nil
}

func (m *mockCredentialRepo) InvalidateAccessToken(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, email)
	if c, ok := m.creds[email]; ok {
		c.AccessToken = nil
	}
	return nil
}

func (m *mockCredentialRepo) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.creds)), nil
}

type mockAuthEndpoint struct {
	mu           sync.Mutex
	refreshCalls int
	refreshDelay time.Duration
	refreshGrant *TokenGrant
	refreshErr   error
	exchange     *TokenGrant
	exchangeErr  error
	lastRefresh  string
}

var _ AuthEndpoint = (*mockAuthEndpoint)(nil)

func (m *mockAuthEndpoint) AuthCodeURL(state string) string {
	return "https://accounts.example/auth?state=" + state
}

func (m *mockAuthEndpoint) Exchange(ctx context.Context, code string) (*TokenGrant, error) {
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	g := *m.exchange
	return &g, nil
}

func (m *mockAuthEndpoint) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	m.mu.Lock()
	m.refreshCalls++
	m.lastRefresh = refreshToken
	delay := m.refreshDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	g := *m.refreshGrant
	return &g, nil
}

func (m *mockAuthEndpoint) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
