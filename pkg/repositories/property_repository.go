package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/database"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
)

// PropertyRepository stores the Search Console sites the account can read.
type PropertyRepository interface {
	// BulkUpsert inserts or reactivates every property and returns how many rows changed.
	BulkUpsert(ctx context.Context, props []*models.Property) (int64, error)
	ListActive(ctx context.Context) ([]*models.Property, error)
	GetBySiteURL(ctx context.Context, siteURL string) (*models.Property, error)
	Deactivate(ctx context.Context, siteURL string) error
	// DeactivateMissing deactivates every active property whose site is not in keep.
	DeactivateMissing(ctx context.Context, keep []string) (int64, error)
	CountActive(ctx context.Context) (int64, error)
}

type propertyRepository struct {
	db *database.DB
}

// NewPropertyRepository creates a PostgreSQL-backed property repository.
func NewPropertyRepository(db *database.DB) PropertyRepository {
	return &propertyRepository{db: db}
}

var _ PropertyRepository = (*propertyRepository)(nil)

func (r *propertyRepository) BulkUpsert(ctx context.Context, props []*models.Property) (int64, error) {
	if len(props) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO gsc_properties (site_url, property_type, display_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, true, now(), now())
		ON CONFLICT (site_url) DO UPDATE
		SET property_type = EXCLUDED.property_type,
		    display_name = EXCLUDED.display_name,
		    is_active = true,
		    updated_at = now()`

	batch := &pgx.Batch{}
	for _, p := range props {
		batch.Queue(query, p.SiteURL, string(p.PropertyType), p.DisplayName)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	var affected int64
	for i := range props {
		tag, err := results.Exec()
		if err != nil {
			return affected, fmt.Errorf("failed to upsert property %s: %w", props[i].SiteURL, err)
		}
		affected += tag.RowsAffected()
	}
	return affected, nil
}

func (r *propertyRepository) ListActive(ctx context.Context) ([]*models.Property, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, site_url, property_type, display_name, is_active, created_at, updated_at
		FROM gsc_properties
		WHERE is_active
		ORDER BY site_url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	var props []*models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate properties: %w", err)
	}
	return props, nil
}

func (r *propertyRepository) GetBySiteURL(ctx context.Context, siteURL string) (*models.Property, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, site_url, property_type, display_name, is_active, created_at, updated_at
		FROM gsc_properties
		WHERE site_url = $1`, siteURL)
	p, err := scanProperty(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return p, err
}

func (r *propertyRepository) Deactivate(ctx context.Context, siteURL string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE gsc_properties SET is_active = false, updated_at = now()
		WHERE site_url = $1`, siteURL)
	if err != nil {
		return fmt.Errorf("failed to deactivate property: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *propertyRepository) DeactivateMissing(ctx context.Context, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	result, err := r.db.Exec(ctx, `
		UPDATE gsc_properties SET is_active = false, updated_at = now()
		WHERE is_active AND NOT (site_url = ANY($1))`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate missing properties: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *propertyRepository) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM gsc_properties WHERE is_active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count properties: %w", err)
	}
	return n, nil
}

func scanProperty(row pgx.Row) (*models.Property, error) {
	var p models.Property
	var propType string
	err := row.Scan(&p.ID, &p.SiteURL, &propType, &p.DisplayName, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan property: %w", err)
	}
	p.PropertyType = models.PropertyType(propType)
	return &p, nil
}
