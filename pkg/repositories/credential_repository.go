package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/database"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
)

// CredentialRepository stores OAuth grants. Token columns hold ciphertext.
type CredentialRepository interface {
	// Get returns the credential for email, or the most recently updated one
	// when email is empty. Returns apperrors.ErrNotFound if none exists.
	Get(ctx context.Context, email string) (*models.Credential, error)
	// Upsert inserts or replaces the credential keyed by email.
	Upsert(ctx context.Context, cred *models.Credential) error
	// UpdateTokens replaces the access token and expiry. The refresh token is
	// replaced only when refreshToken is non-nil.
	UpdateTokens(ctx context.Context, email, accessToken string, expiresAt time.Time, refreshToken *string) error
	// InvalidateAccessToken clears the access token but keeps the row.
	InvalidateAccessToken(ctx context.Context, email string) error
	Count(ctx context.Context) (int64, error)
}

type credentialRepository struct {
	db *database.DB
}

// NewCredentialRepository creates a PostgreSQL-backed credential repository.
func NewCredentialRepository(db *database.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

var _ CredentialRepository = (*credentialRepository)(nil)

const credentialColumns = `id, email, scope, access_token, refresh_token, access_token_expires_at, created_at, updated_at`

func (r *credentialRepository) Get(ctx context.Context, email string) (*models.Credential, error) {
	var row pgx.Row
	if email == "" {
		row = r.db.QueryRow(ctx, `
			SELECT `+credentialColumns+`
			FROM oauth_google_accounts
			ORDER BY updated_at DESC
			LIMIT 1`)
	} else {
		row = r.db.QueryRow(ctx, `
			SELECT `+credentialColumns+`
			FROM oauth_google_accounts
			WHERE email = $1`, email)
	}

	var c models.Credential
	err := row.Scan(&c.ID, &c.Email, &c.Scope, &c.AccessToken, &c.RefreshToken,
		&c.AccessTokenExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

func (r *credentialRepository) Upsert(ctx context.Context, cred *models.Credential) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO oauth_google_accounts
			(email, scope, access_token, refresh_token, access_token_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (email) DO UPDATE
		SET scope = EXCLUDED.scope,
		    access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    access_token_expires_at = EXCLUDED.access_token_expires_at,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		cred.Email,
		cred.Scope,
		cred.AccessToken,
		cred.RefreshToken,
		cred.AccessTokenExpiresAt,
		now,
	).Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func (r *credentialRepository) UpdateTokens(ctx context.Context, email, accessToken string, expiresAt time.Time, refreshToken *string) error {
	query := `
		UPDATE oauth_google_accounts
		SET access_token = $2,
		    access_token_expires_at = $3,
		    refresh_token = COALESCE($4, refresh_token),
		    updated_at = now()
		WHERE email = $1`

	result, err := r.db.Exec(ctx, query, email, accessToken, expiresAt, refreshToken)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *credentialRepository) InvalidateAccessToken(ctx context.Context, email string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE oauth_google_accounts
		SET access_token = NULL, access_token_expires_at = NULL, updated_at = now()
		WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("failed to invalidate access token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *credentialRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM oauth_google_accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count credentials: %w", err)
	}
	return n, nil
}
