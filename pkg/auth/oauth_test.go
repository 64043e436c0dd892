package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/config"
)

type fakeGoogle struct {
	tokenStatus int
	tokenBody   string
	lastForm    url.Values
}

func (f *fakeGoogle) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_, _ = w.Write([]byte(f.tokenBody))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"owner@example.com"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGoogle(srv *httptest.Server) *GoogleOAuth {
	return NewGoogleOAuth(
		&config.GoogleConfig{ClientID: "client-id", ClientSecret: "client-secret"},
		"http://localhost:3000/api/auth/callback",
		WithEndpoint(oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}),
		WithUserInfoURL(srv.URL+"/userinfo"),
		WithHTTPClient(srv.Client()),
	)
}

func TestGoogleOAuth_AuthCodeURL(t *testing.T) {
	g := NewGoogleOAuth(&config.GoogleConfig{ClientID: "client-id"}, "http://localhost:3000/api/auth/callback")

	u, err := url.Parse(g.AuthCodeURL("state-1"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Contains(t, q.Get("scope"), ScopeWebmastersReadonly)
	assert.Contains(t, q.Get("scope"), ScopeUserInfoEmail)
}

func TestGoogleOAuth_Exchange(t *testing.T) {
	fake := &fakeGoogle{
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3599,"token_type":"Bearer","scope":"https://www.googleapis.com/auth/webmasters.readonly"}`,
	}
	g := newTestGoogle(fake.server(t))

	grant, err := g.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", grant.AccessToken)
	assert.Equal(t, "rt-1", grant.RefreshToken)
	assert.Equal(t, "owner@example.com", grant.Email)
	assert.Equal(t, ScopeWebmastersReadonly, grant.Scope)
	assert.False(t, grant.Expiry.IsZero())
	assert.Equal(t, "code-1", fake.lastForm.Get("code"))
	assert.Equal(t, "authorization_code", fake.lastForm.Get("grant_type"))
}

func TestGoogleOAuth_ExchangeRedirectMismatch(t *testing.T) {
	fake := &fakeGoogle{
		tokenStatus: http.StatusBadRequest,
		tokenBody:   `{"error":"redirect_uri_mismatch","error_description":"Bad Request"}`,
	}
	g := newTestGoogle(fake.server(t))

	_, err := g.Exchange(context.Background(), "code-1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindRedirectURIMismatch))
}

func TestGoogleOAuth_Refresh(t *testing.T) {
	fake := &fakeGoogle{
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"at-2","expires_in":3599,"token_type":"Bearer"}`,
	}
	g := newTestGoogle(fake.server(t))

	grant, err := g.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", grant.AccessToken)
	assert.Equal(t, "refresh_token", fake.lastForm.Get("grant_type"))
	assert.Equal(t, "rt-1", fake.lastForm.Get("refresh_token"))
}

func TestGoogleOAuth_RefreshRevoked(t *testing.T) {
	fake := &fakeGoogle{
		tokenStatus: http.StatusBadRequest,
		tokenBody:   `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`,
	}
	g := newTestGoogle(fake.server(t))

	_, err := g.Refresh(context.Background(), "rt-1")
	require.Error(t, err)
	assert.True(t, isPermanentRefreshError(err))
}

func TestGoogleOAuth_RefreshServerError(t *testing.T) {
	fake := &fakeGoogle{tokenStatus: http.StatusServiceUnavailable, tokenBody: `backend error`}
	g := newTestGoogle(fake.server(t))

	_, err := g.Refresh(context.Background(), "rt-1")
	require.Error(t, err)
	assert.False(t, isPermanentRefreshError(err))
}
