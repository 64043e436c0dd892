package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/repositories"
)

type sqliteFacts struct {
	db *sql.DB
}

var _ repositories.SearchAnalyticsRepository = (*sqliteFacts)(nil)

func (r *sqliteFacts) BulkUpsert(ctx context.Context, facts []models.AnalyticsFact) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin fact upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gsc_search_analytics
			(site_url, date, page_raw, page_normalized, query, country, device,
			 search_type, data_state, clicks, impressions, ctr, position, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (site_url, date, page_normalized, query, country, device) DO UPDATE
		SET page_raw = excluded.page_raw,
		    search_type = excluded.search_type,
		    data_state = excluded.data_state,
		    clicks = excluded.clicks,
		    impressions = excluded.impressions,
		    ctr = excluded.ctr,
		    position = excluded.position,
		    ingested_at = excluded.ingested_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare fact upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	var total int64
	for i, f := range facts {
		ingested := f.IngestedAt
		if ingested.IsZero() {
			ingested = now
		}
		result, err := stmt.ExecContext(ctx,
			f.SiteURL, formatDate(f.Date), f.PageRaw, f.PageNormalized, f.Query, f.Country, f.Device,
			f.SearchType, f.DataState, f.Clicks, f.Impressions, f.CTR, f.Position, formatTime(ingested))
		if err != nil {
			return 0, fmt.Errorf("failed to upsert fact %d: %w", i, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit fact upsert: %w", err)
	}
	return total, nil
}

func (r *sqliteFacts) DateRange(ctx context.Context, siteURL string) (*models.DateRange, error) {
	var minDate, maxDate sql.NullString
	var dr models.DateRange
	err := r.db.QueryRowContext(ctx, `
		SELECT MIN(date), MAX(date), COUNT(DISTINCT date)
		FROM gsc_search_analytics WHERE site_url = ?`, siteURL).Scan(&minDate, &maxDate, &dr.TotalDays)
	if err != nil {
		return nil, fmt.Errorf("failed to get date range: %w", err)
	}
	if dr.MinDate, err = parseNullDate(minDate); err != nil {
		return nil, err
	}
	if dr.MaxDate, err = parseNullDate(maxDate); err != nil {
		return nil, err
	}
	return &dr, nil
}

func (r *sqliteFacts) Stats(ctx context.Context) (*models.FactStats, error) {
	var s models.FactStats
	var earliest, latest, ingested sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT site_url), MIN(date), MAX(date), MAX(ingested_at)
		FROM gsc_search_analytics`).Scan(&s.TotalRows, &s.UniqueSites, &earliest, &latest, &ingested)
	if err != nil {
		return nil, fmt.Errorf("failed to get fact stats: %w", err)
	}
	if s.EarliestDate, err = parseNullDate(earliest); err != nil {
		return nil, err
	}
	if s.LatestDate, err = parseNullDate(latest); err != nil {
		return nil, err
	}
	if s.LastIngestion, err = parseNullTime(ingested); err != nil {
		return nil, err
	}
	return &s, nil
}

type sqliteAggregates struct {
	db *sql.DB
}

var _ repositories.AggregateRepository = (*sqliteAggregates)(nil)

// Refresh is a no-op: gsc_url_daily is a plain view in SQLite.
func (r *sqliteAggregates) Refresh(ctx context.Context) error {
	return nil
}

func (r *sqliteAggregates) QueryDaily(ctx context.Context, q models.MetricsQuery) ([]models.AggregateRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date,
		       SUM(clicks),
		       SUM(impressions),
		       CASE WHEN SUM(impressions) > 0
		            THEN CAST(SUM(clicks) AS REAL) / SUM(impressions) ELSE 0.0 END,
		       CASE WHEN SUM(impressions) > 0
		            THEN SUM(weighted_position) / SUM(impressions) ELSE 0.0 END
		FROM gsc_url_daily
		WHERE site_url = ?
		  AND page_normalized = ?
		  AND date BETWEEN ? AND ?
		  AND (? = '' OR country = ?)
		  AND (? = '' OR device = ?)
		GROUP BY date
		ORDER BY date`,
		q.SiteURL, q.URL, formatDate(q.Start), formatDate(q.End),
		q.Country, q.Country, q.Device, q.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}
	defer rows.Close()

	var out []models.AggregateRow
	for rows.Next() {
		row := models.AggregateRow{SiteURL: q.SiteURL, PageNormalized: q.URL}
		var date string
		if err := rows.Scan(&date, &row.Clicks, &row.Impressions, &row.CTR, &row.Position); err != nil {
			return nil, fmt.Errorf("failed to scan daily metrics: %w", err)
		}
		if row.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *sqliteAggregates) ListURLs(ctx context.Context, q models.URLListQuery) ([]models.URLSummary, error) {
	query := `
		SELECT page_normalized AS url,
		       SUM(clicks) AS clicks,
		       SUM(impressions) AS impressions,
		       CASE WHEN SUM(impressions) > 0
		            THEN CAST(SUM(clicks) AS REAL) / SUM(impressions) ELSE 0.0 END AS ctr,
		       CASE WHEN SUM(impressions) > 0
		            THEN SUM(weighted_position) / SUM(impressions) ELSE 0.0 END AS position,
		       COUNT(DISTINCT date) AS days_with_data
		FROM gsc_url_daily
		WHERE site_url = ? AND date BETWEEN ? AND ?
		GROUP BY page_normalized
		ORDER BY ` + repositories.URLOrderClause(q.OrderBy, q.Order) + `
		LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, q.SiteURL, formatDate(q.Start), formatDate(q.End), q.Limit, q.Offset)
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
