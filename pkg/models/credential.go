package models

import "time"

// Credential is the stored OAuth grant of one Google account.
// AccessToken and RefreshToken hold ciphertext produced by crypto.Cipher.
// The refresh token is always present; the access token is nulled when the
// grant is revoked and the row itself is never deleted.
type Credential struct {
	ID                   int64      `json:"id"`
	Email                string     `json:"email"`
	Scope                string     `json:"scope"`
	AccessToken          *string    `json:"-"`
	RefreshToken         string     `json:"-"`
	AccessTokenExpiresAt *time.Time `json:"access_token_expires_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// HasUsableAccessToken reports whether the stored access token exists and
// expires strictly after now.
func (c *Credential) HasUsableAccessToken(now time.Time) bool {
	if c.AccessToken == nil || *c.AccessToken == "" || c.AccessTokenExpiresAt == nil {
		return false
	}
	return c.AccessTokenExpiresAt.After(now)
}
