package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/cache"
	"github.com/ekaya-inc/ekaya-gsc/pkg/metrics"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/normalize"
	"github.com/ekaya-inc/ekaya-gsc/pkg/repositories"
)

const (
	metricsSource = "GSC"

	DefaultURLListLimit = 100
	MaxURLListLimit     = 1000
)

// MetricsService answers per-URL performance queries from the daily rollup.
type MetricsService interface {
	// GetURLMetrics returns one point per date with data (no gap filling)
	// plus impressions-weighted totals. The URL is normalized against the
	// site first; an empty site is inferred from the URL.
	GetURLMetrics(ctx context.Context, q models.MetricsQuery) (*models.MetricsResult, error)
	// ListURLs ranks the site's pages over the range.
	ListURLs(ctx context.Context, q models.URLListQuery) (*models.URLListResult, error)
}

type metricsService struct {
	aggregates repositories.AggregateRepository
	normalizer *normalize.Normalizer
	cache      cache.Cache
	ttl        time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewMetricsService creates a MetricsService caching responses for ttl.
func NewMetricsService(
	aggregates repositories.AggregateRepository,
	normalizer *normalize.Normalizer,
	cacheStore cache.Cache,
	ttl time.Duration,
	logger *zap.Logger,
) MetricsService {
	return &metricsService{
		aggregates: aggregates,
		normalizer: normalizer,
		cache:      cacheStore,
		ttl:        ttl,
		logger:     logger.Named("metrics-service"),
		now:        time.Now,
	}
}

var _ MetricsService = (*metricsService)(nil)

func (s *metricsService) GetURLMetrics(ctx context.Context, q models.MetricsQuery) (*models.MetricsResult, error) {
	if q.SiteURL == "" {
		root, err := normalize.SiteRoot(q.URL)
		if err != nil {
			return nil, apperrors.Validation("could not determine site URL from the provided URL")
		}
		q.SiteURL = root
	}
	q.URL = s.normalizer.Normalize(q.URL, q.SiteURL)
	// Facts keep the upstream casing: lowercase country, uppercase device.
	q.Country = strings.ToLower(q.Country)
	q.Device = strings.ToUpper(q.Device)

	key := cache.MetricsKey(q)
	var cached models.MetricsResult
	if s.cacheGet(ctx, key, &cached) {
		cached.Meta.Cached = true
		return &cached, nil
	}

	rows, err := s.aggregates.QueryDaily(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}

	result := BuildMetricsResult(q, rows, s.now())
	s.cacheSet(ctx, key, result)

	s.logger.Debug("URL metrics computed",
		zap.String("site_url", q.SiteURL),
		zap.String("url", q.URL),
		zap.Int("days_with_data", len(rows)))
	return result, nil
}

// BuildMetricsResult computes the timeseries, totals and freshness for rows
// ordered by date.
func BuildMetricsResult(q models.MetricsQuery, rows []models.AggregateRow, now time.Time) *models.MetricsResult {
	result := &models.MetricsResult{
		URL:        q.URL,
		SiteURL:    q.SiteURL,
		Start:      q.Start.Format(models.DateLayout),
		End:        q.End.Format(models.DateLayout),
		Timeseries: make([]models.MetricsPoint, 0, len(rows)),
	}

	var clicks, impressions int64
	var weightedPosition float64
	var last *time.Time

	for i := range rows {
		r := rows[i]
		result.Timeseries = append(result.Timeseries, models.MetricsPoint{
			Date:        r.Date.Format(models.DateLayout),
			Clicks:      r.Clicks,
			Impressions: r.Impressions,
			CTR:         round(r.CTR, 4),
			Position:    round(r.Position, 2),
		})
		clicks += r.Clicks
		impressions += r.Impressions
		weightedPosition += r.Position * float64(r.Impressions)
		if last == nil || r.Date.After(*last) {
			last = &rows[i].Date
		}
	}

	result.Totals = ComputeTotals(clicks, impressions, weightedPosition)

	freshness, note := ClassifyFreshness(last, now)
	updated := now.UTC().Format(time.RFC3339)
	result.Meta = models.MetricsMeta{
		Freshness:     freshness,
		FreshnessNote: note,
		Source:        metricsSource,
		LastUpdated:   &updated,
		DaysWithData:  len(rows),
	}
	return result
}

// ComputeTotals derives ctr and the impressions-weighted position. Both are
// zero when there were no impressions.
func ComputeTotals(clicks, impressions int64, weightedPosition float64) models.MetricsTotals {
	t := models.MetricsTotals{Clicks: clicks, Impressions: impressions}
	if impressions > 0 {
		t.CTR = round(float64(clicks)/float64(impressions), 4)
		t.Position = round(weightedPosition/float64(impressions), 2)
	}
	return t
}

// ClassifyFreshness grades the most recent date with data against now.
func ClassifyFreshness(last *time.Time, now time.Time) (models.Freshness, string) {
	if last == nil {
		return models.FreshnessNoData, "No recent data available"
	}
	days := int(math.Floor(now.Sub(*last).Hours() / 24))
	switch {
	case days <= 1:
		return models.FreshnessCurrent, "Data is current (within 1 day)"
	case days <= 3:
		return models.FreshnessNormalDelay, fmt.Sprintf("Data is %d days old (normal GSC delay)", days)
	default:
		return models.FreshnessNeedsRefresh, fmt.Sprintf("Data is %d days old (may need refresh)", days)
	}
}

func (s *metricsService) ListURLs(ctx context.Context, q models.URLListQuery) (*models.URLListResult, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultURLListLimit
	}
	if q.Limit > MaxURLListLimit {
		q.Limit = MaxURLListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.OrderBy == "" {
		q.OrderBy = models.OrderByClicks
	}
	if q.Order == "" {
		q.Order = "desc"
	}

	key := cache.URLListKey(q)
	var cached models.URLListResult
	if s.cacheGet(ctx, key, &cached) {
		cached.Cached = true
		return &cached, nil
	}

	// One extra row tells whether another page exists.
	probe := q
	probe.Limit = q.Limit + 1
	urls, err := s.aggregates.ListURLs(ctx, probe)
	if err != nil {
		return nil, fmt.Errorf("failed to list urls: %w", err)
	}

	hasMore := len(urls) > q.Limit
	if hasMore {
		urls = urls[:q.Limit]
	}
	for i := range urls {
		urls[i].CTR = round(urls[i].CTR, 4)
		urls[i].Position = round(urls[i].Position, 2)
	}
	if urls == nil {
		urls = []models.URLSummary{}
	}

	result := &models.URLListResult{
		SiteURL: q.SiteURL,
		Start:   q.Start.Format(models.DateLayout),
		End:     q.End.Format(models.DateLayout),
		URLs:    urls,
		Limit:   q.Limit,
		Offset:  q.Offset,
		HasMore: hasMore,
	}
	s.cacheSet(ctx, key, result)
	return result, nil
}

// cacheGet treats cache failures as misses.
func (s *metricsService) cacheGet(ctx context.Context, key string, dst any) bool {
	found, err := s.cache.Get(ctx, key, dst)
	switch {
	case err != nil:
		metrics.CacheRequestsTotal.WithLabelValues(metrics.CacheError).Inc()
		s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return false
	case found:
		metrics.CacheRequestsTotal.WithLabelValues(metrics.CacheHit).Inc()
		return true
	default:
		metrics.CacheRequestsTotal.WithLabelValues(metrics.CacheMiss).Inc()
		return false
	}
}

func (s *metricsService) cacheSet(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
