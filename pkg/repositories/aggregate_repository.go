package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-gsc/pkg/database"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
)

// AggregateRepository reads the daily per-page rollup of facts.
type AggregateRepository interface {
	// Refresh recomputes the rollup from the fact table.
	Refresh(ctx context.Context) error
	// QueryDaily returns one row per date that has data, ordered by date.
	QueryDaily(ctx context.Context, q models.MetricsQuery) ([]models.AggregateRow, error)
	// ListURLs ranks the pages of a site over a date range.
	ListURLs(ctx context.Context, q models.URLListQuery) ([]models.URLSummary, error)
}

type aggregateRepository struct {
	db *database.DB
}

// NewAggregateRepository creates a rollup reader over the gsc_url_daily materialized view.
func NewAggregateRepository(db *database.DB) AggregateRepository {
	return &aggregateRepository{db: db}
}

var _ AggregateRepository = (*aggregateRepository)(nil)

func (r *aggregateRepository) Refresh(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `SELECT refresh_gsc_url_daily()`); err != nil {
		return fmt.Errorf("failed to refresh url daily rollup: %w", err)
	}
	return nil
}

func (r *aggregateRepository) QueryDaily(ctx context.Context, q models.MetricsQuery) ([]models.AggregateRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT date,
		       SUM(clicks)::BIGINT,
		       SUM(impressions)::BIGINT,
		       CASE WHEN SUM(impressions) > 0
		            THEN SUM(clicks)::DOUBLE PRECISION / SUM(impressions) ELSE 0 END,
		       CASE WHEN SUM(impressions) > 0
		            THEN SUM(position * impressions) / SUM(impressions) ELSE 0 END
		FROM gsc_url_daily
		WHERE site_url = $1
		  AND page_normalized = $2
		  AND date BETWEEN $3 AND $4
		  AND ($5 = '' OR country = $5)
		  AND ($6 = '' OR device = $6)
		GROUP BY date
		ORDER BY date`,
		q.SiteURL, q.URL, q.Start, q.End, q.Country, q.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}
	defer rows.Close()

	var out []models.AggregateRow
	for rows.Next() {
		row := models.AggregateRow{SiteURL: q.SiteURL, PageNormalized: q.URL}
		if err := rows.Scan(&row.Date, &row.Clicks, &row.Impressions, &row.CTR, &row.Position); err != nil {
			return nil, fmt.Errorf("failed to scan daily metrics: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// urlOrderColumns maps an order key to its aggregate expression.
var urlOrderColumns = map[string]string{
	models.OrderByClicks:      "clicks",
	models.OrderByImpressions: "impressions",
	models.OrderByCTR:         "ctr",
	models.OrderByPosition:    "position",
}

// URLOrderClause returns a safe ORDER BY clause for q, defaulting to clicks desc.
func URLOrderClause(orderBy, order string) string {
	col, ok := urlOrderColumns[orderBy]
	if !ok {
		col = "clicks"
	}
	dir := "DESC"
	if strings.EqualFold(order, "asc") {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s, url ASC", col, dir)
}

func (r *aggregateRepository) ListURLs(ctx context.Context, q models.URLListQuery) ([]models.URLSummary, error) {
	query := `
		SELECT page_normalized AS url,
		       SUM(clicks)::BIGINT AS clicks,
		       SUM(impressions)::BIGINT AS impressions,
		       CASE WHEN SUM(impressions) > 0
		            THEN SUM(clicks)::DOUBLE PRECISION / SUM(impressions) ELSE 0 END AS ctr,
		       CASE WHEN SUM(impressions) > 0
		            THEN SUM(position * impressions) / SUM(impressions) ELSE 0 END AS position,
		       COUNT(DISTINCT date) AS days_with_data
		FROM gsc_url_daily
		WHERE site_url = $1 AND date BETWEEN $2 AND $3
		GROUP BY page_normalized
		ORDER BY ` + URLOrderClause(q.OrderBy, q.Order) + `
		LIMIT $4 OFFSET $5`

	rows, err := r.db.Query(ctx, query, q.SiteURL, q.Start, q.End, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list urls: %w", err)
	}
	defer rows.Close()

	var out []models.URLSummary
	for rows.Next() {
		var s models.URLSummary
		if err := rows.Scan(&s.URL, &s.Clicks, &s.Impressions, &s.CTR, &s.Position, &s.DaysWithData); err != nil {
			return nil, fmt.Errorf("failed to scan url summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
