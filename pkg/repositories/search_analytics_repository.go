package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-gsc/pkg/database"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
)

// DefaultUpsertBatchSize is the number of facts sent per pgx batch.
const DefaultUpsertBatchSize = 500

// SearchAnalyticsRepository is the fact row store.
type SearchAnalyticsRepository interface {
	// BulkUpsert inserts facts keyed on (site, date, normalized page, query,
	// country, device), overwriting metrics on conflict. It returns the number
	// of rows inserted or updated; an overwrite counts.
	BulkUpsert(ctx context.Context, facts []models.AnalyticsFact) (int64, error)
	DateRange(ctx context.Context, siteURL string) (*models.DateRange, error)
	Stats(ctx context.Context) (*models.FactStats, error)
}

type searchAnalyticsRepository struct {
	db        *database.DB
	batchSize int
}

// NewSearchAnalyticsRepository creates a PostgreSQL-backed fact store.
func NewSearchAnalyticsRepository(db *database.DB, batchSize int) SearchAnalyticsRepository {
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}
	return &searchAnalyticsRepository{db: db, batchSize: batchSize}
}

var _ SearchAnalyticsRepository = (*searchAnalyticsRepository)(nil)

const upsertFactSQL = `
	INSERT INTO gsc_search_analytics
		(site_url, date, page_raw, page_normalized, query, country, device,
		 search_type, data_state, clicks, impressions, ctr, position, ingested_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (site_url, date, page_normalized, query, country, device) DO UPDATE
	SET page_raw = EXCLUDED.page_raw,
	    search_type = EXCLUDED.search_type,
	    data_state = EXCLUDED.data_state,
	    clicks = EXCLUDED.clicks,
	    impressions = EXCLUDED.impressions,
	    ctr = EXCLUDED.ctr,
	    position = EXCLUDED.position,
	    ingested_at = EXCLUDED.ingested_at`

func (r *searchAnalyticsRepository) BulkUpsert(ctx context.Context, facts []models.AnalyticsFact) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	var total int64

	for i := 0; i < len(facts); i += r.batchSize {
		j := i + r.batchSize
		if j > len(facts) {
			j = len(facts)
		}

		b := &pgx.Batch{}
		for _, f := range facts[i:j] {
			ingested := f.IngestedAt
			if ingested.IsZero() {
				ingested = now
			}
			b.Queue(upsertFactSQL,
				f.SiteURL, f.Date, f.PageRaw, f.PageNormalized, f.Query, f.Country, f.Device,
				f.SearchType, f.DataState, f.Clicks, f.Impressions, f.CTR, f.Position, ingested,
			)
		}

		br := r.db.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return total, fmt.Errorf("failed to upsert fact %d: %w", k, err)
			}
			total += tag.RowsAffected()
		}
		if err := br.Close(); err != nil {
			return total, fmt.Errorf("failed to close upsert batch: %w", err)
		}
	}
	return total, nil
}

func (r *searchAnalyticsRepository) DateRange(ctx context.Context, siteURL string) (*models.DateRange, error) {
	var dr models.DateRange
	err := r.db.QueryRow(ctx, `
		SELECT MIN(date), MAX(date), COUNT(DISTINCT date)
		FROM gsc_search_analytics
		WHERE site_url = $1`, siteURL).Scan(&dr.MinDate, &dr.MaxDate, &dr.TotalDays)
	if err != nil {
		return nil, fmt.Errorf("failed to get date range: %w", err)
	}
	return &dr, nil
}

func (r *searchAnalyticsRepository) Stats(ctx context.Context) (*models.FactStats, error) {
	var s models.FactStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT site_url), MIN(date), MAX(date), MAX(ingested_at)
		FROM gsc_search_analytics`).Scan(&s.TotalRows, &s.UniqueSites, &s.EarliestDate, &s.LatestDate, &s.LastIngestion)
	if err != nil {
		return nil, fmt.Errorf("failed to get fact stats: %w", err)
	}
	return &s, nil
}
