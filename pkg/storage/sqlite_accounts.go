package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/repositories"
)

type sqliteCredentials struct {
	db *sql.DB
}

var _ repositories.CredentialRepository = (*sqliteCredentials)(nil)

func (r *sqliteCredentials) Get(ctx context.Context, email string) (*models.Credential, error) {
	const cols = `id, email, scope, access_token, refresh_token, access_token_expires_at, created_at, updated_at`
	var row *sql.Row
	if email == "" {
		row = r.db.QueryRowContext(ctx, `SELECT `+cols+` FROM oauth_google_accounts ORDER BY updated_at DESC, id DESC LIMIT 1`)
	} else {
		row = r.db.QueryRowContext(ctx, `SELECT `+cols+` FROM oauth_google_accounts WHERE email = ?`, email)
	}

	var (
		c                    models.Credential
		access, expires      sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.Email, &c.Scope, &access, &c.RefreshToken, &expires, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	if access.Valid {
		c.AccessToken = &access.String
	}
	if c.AccessTokenExpiresAt, err = parseNullTime(expires); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *sqliteCredentials) Upsert(ctx context.Context, cred *models.Credential) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oauth_google_accounts
			(email, scope, access_token, refresh_token, access_token_expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE
		SET scope = excluded.scope,
		    access_token = excluded.access_token,
		    refresh_token = excluded.refresh_token,
		    access_token_expires_at = excluded.access_token_expires_at,
		    updated_at = excluded.updated_at`,
		cred.Email, cred.Scope, cred.AccessToken, cred.RefreshToken,
		nullableTime(cred.AccessTokenExpiresAt), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	stored, err := r.Get(ctx, cred.Email)
	if err != nil {
		return err
	}
	cred.ID = stored.ID
	cred.CreatedAt = stored.CreatedAt
	cred.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *sqliteCredentials) UpdateTokens(ctx context.Context, email, accessToken string, expiresAt time.Time, refreshToken *string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE oauth_google_accounts
		SET access_token = ?,
		    access_token_expires_at = ?,
		    refresh_token = COALESCE(?, refresh_token),
		    updated_at = ?
		WHERE email = ?`,
		accessToken, formatTime(expiresAt), refreshToken, formatTime(time.Now()), email)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return requireAffected(result)
}

func (r *sqliteCredentials) InvalidateAccessToken(ctx context.Context, email string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE oauth_google_accounts
		SET access_token = NULL, access_token_expires_at = NULL, updated_at = ?
		WHERE email = ?`, formatTime(time.Now()), email)
	if err != nil {
		return fmt.Errorf("failed to invalidate access token: %w", err)
	}
	return requireAffected(result)
}

func (r *sqliteCredentials) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM oauth_google_accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count credentials: %w", err)
	}
	return n, nil
}

type sqliteProperties struct {
	db *sql.DB
}

var _ repositories.PropertyRepository = (*sqliteProperties)(nil)

func (r *sqliteProperties) BulkUpsert(ctx context.Context, props []*models.Property) (int64, error) {
	if len(props) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin property upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	var affected int64
	for _, p := range props {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO gsc_properties (site_url, property_type, display_name, is_active, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT (site_url) DO UPDATE
			SET property_type = excluded.property_type,
			    display_name = excluded.display_name,
			    is_active = 1,
			    updated_at = excluded.updated_at`,
			p.SiteURL, string(p.PropertyType), p.DisplayName, now, now)
		if err != nil {
			return affected, fmt.Errorf("failed to upsert property %s: %w", p.SiteURL, err)
		}
		n, _ := result.RowsAffected()
		affected += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit property upsert: %w", err)
	}
	return affected, nil
}

const propertyColumns = `id, site_url, property_type, display_name, is_active, created_at, updated_at`

func (r *sqliteProperties) ListActive(ctx context.Context) ([]*models.Property, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+propertyColumns+` FROM gsc_properties WHERE is_active = 1 ORDER BY site_url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	var props []*models.Property
	for rows.Next() {
		p, err := scanSQLiteProperty(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

func (r *sqliteProperties) GetBySiteURL(ctx context.Context, siteURL string) (*models.Property, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM gsc_properties WHERE site_url = ?`, siteURL)
	p, err := scanSQLiteProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return p, err
}

func (r *sqliteProperties) Deactivate(ctx context.Context, siteURL string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE gsc_properties SET is_active = 0, updated_at = ? WHERE site_url = ?`,
		formatTime(time.Now()), siteURL)
	if err != nil {
		return fmt.Errorf("failed to deactivate property: %w", err)
	}
	return requireAffected(result)
}

func (r *sqliteProperties) DeactivateMissing(ctx context.Context, keep []string) (int64, error) {
	query := `UPDATE gsc_properties SET is_active = 0, updated_at = ? WHERE is_active = 1`
	args := []any{formatTime(time.Now())}
	if len(keep) > 0 {
		query += ` AND site_url NOT IN (` + placeholders(len(keep)) + `)`
		for _, k := range keep {
			args = append(args, k)
		}
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate missing properties: %w", err)
	}
	return result.RowsAffected()
}

func (r *sqliteProperties) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gsc_properties WHERE is_active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count properties: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProperty(row rowScanner) (*models.Property, error) {
	var (
		p                    models.Property
		propType             string
		active               int
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.SiteURL, &propType, &p.DisplayName, &active, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan property: %w", err)
	}
	p.PropertyType = models.PropertyType(propType)
	p.IsActive = active == 1

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
