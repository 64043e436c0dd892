package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/cache"
	"github.com/ekaya-inc/ekaya-gsc/pkg/gsc"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/normalize"
	"github.com/ekaya-inc/ekaya-gsc/pkg/storage"
)

func newMetricsFixture(t *testing.T, c cache.Cache) (*storage.Store, *metricsService) {
	t.Helper()
	store, err := storage.NewMemory(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := NewMetricsService(store.Aggregates, normalize.New(), c, time.Hour, zap.NewNop()).(*metricsService)
	svc.now = func() time.Time { return time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC) }
	return store, svc
}

func seedFacts(t *testing.T, store *storage.Store, facts ...models.AnalyticsFact) {
	t.Helper()
	for i := range facts {
		if facts[i].SiteURL == "" {
			facts[i].SiteURL = testSite
		}
		if facts[i].PageRaw == "" {
			facts[i].PageRaw = facts[i].PageNormalized
		}
		facts[i].SearchType = models.SearchTypeWeb
		facts[i].DataState = models.DataStateFinal
		facts[i].IngestedAt = time.Now().UTC()
	}
	_, err := store.Facts.BulkUpsert(context.Background(), facts)
	require.NoError(t, err)
}

func fact(t *testing.T, date, page, query string, clicks, impressions int64, position float64) models.AnalyticsFact {
	ctr := 0.0
	if impressions > 0 {
		ctr = float64(clicks) / float64(impressions)
	}
	return models.AnalyticsFact{
		Date:           mustDate(t, date),
		PageNormalized: page,
		Query:          query,
		Country:        "usa",
		Device:         "DESKTOP",
		Clicks:         clicks,
		Impressions:    impressions,
		CTR:            ctr,
		Position:       position,
	}
}

func TestClassifyFreshness(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	at := func(daysAgo int) *time.Time {
		d := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -daysAgo)
		return &d
	}

	tests := []struct {
		name string
		last *time.Time
		want models.Freshness
		note string
	}{
		{"no data", nil, models.FreshnessNoData, "No recent data available"},
		{"today", at(0), models.FreshnessCurrent, "Data is current (within 1 day)"},
		{"yesterday", at(1), models.FreshnessCurrent, "Data is current (within 1 day)"},
		{"two days", at(2), models.FreshnessNormalDelay, "Data is 2 days old (normal GSC delay)"},
		{"three days", at(3), models.FreshnessNormalDelay, "Data is 3 days old (normal GSC delay)"},
		{"four days", at(4), models.FreshnessNeedsRefresh, "Data is 4 days old (may need refresh)"},
		{"ten days", at(10), models.FreshnessNeedsRefresh, "Data is 10 days old (may need refresh)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, note := ClassifyFreshness(tt.last, now)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.note, note)
		})
	}
}

func TestComputeTotals(t *testing.T) {
	totals := ComputeTotals(15, 150, 10*2.0+50*4.0+90*3.0)
	assert.Equal(t, int64(15), totals.Clicks)
	assert.Equal(t, int64(150), totals.Impressions)
	assert.Equal(t, 0.1, totals.CTR)
	assert.Equal(t, 3.27, totals.Position)

	zero := ComputeTotals(3, 0, 0)
	assert.Equal(t, 0.0, zero.CTR)
	assert.Equal(t, 0.0, zero.Position)
}

func TestBuildMetricsResult_NoRows(t *testing.T) {
	q := models.MetricsQuery{SiteURL: testSite, URL: "https://example.com/a", Start: mustDate(t, "2024-03-01"), End: mustDate(t, "2024-03-31")}
	result := BuildMetricsResult(q, nil, time.Now())

	assert.NotNil(t, result.Timeseries)
	assert.Empty(t, result.Timeseries)
	assert.Equal(t, models.FreshnessNoData, result.Meta.Freshness)
	assert.Equal(t, 0, result.Meta.DaysWithData)
	assert.Equal(t, "GSC", result.Meta.Source)
	assert.Equal(t, "2024-03-01", result.Start)
	assert.Equal(t, "2024-03-31", result.End)
}

func TestGetURLMetrics_TimeseriesAndTotals(t *testing.T) {
	store, svc := newMetricsFixture(t, cache.NewMemoryCache())
	seedFacts(t, store,
		fact(t, "2024-03-01", "https://example.com/a", "alpha", 10, 100, 2.0),
		fact(t, "2024-03-02", "https://example.com/a", "alpha", 5, 50, 4.0),
		fact(t, "2024-03-02", "https://example.com/b", "alpha", 99, 99, 1.0),
	)

	result, err := svc.GetURLMetrics(context.Background(), models.MetricsQuery{
		URL:   "https://example.com/a/",
		Start: mustDate(t, "2024-03-01"),
		End:   mustDate(t, "2024-03-31"),
	})
	require.NoError(t, err)

	assert.Equal(t, testSite, result.SiteURL)
	assert.Equal(t, "https://example.com/a", result.URL)
	require.Len(t, result.Timeseries, 2, "only dates with data")
	assert.Equal(t, "2024-03-01", result.Timeseries[0].Date)
	assert.Equal(t, "2024-03-02", result.Timeseries[1].Date)

	assert.Equal(t, int64(15), result.Totals.Clicks)
	assert.Equal(t, int64(150), result.Totals.Impressions)
	assert.Equal(t, 0.1, result.Totals.CTR)
	assert.Equal(t, 2.67, result.Totals.Position)

	assert.Equal(t, models.FreshnessNormalDelay, result.Meta.Freshness)
	assert.Equal(t, "Data is 2 days old (normal GSC delay)", result.Meta.FreshnessNote)
	assert.Equal(t, 2, result.Meta.DaysWithData)
	assert.False(t, result.Meta.Cached)
}

func TestGetURLMetrics_ServesFromCache(t *testing.T) {
	store, svc := newMetricsFixture(t, cache.NewMemoryCache())
	seedFacts(t, store, fact(t, "2024-03-01", "https://example.com/a", "alpha", 10, 100, 2.0))
	ctx := context.Background()
	q := models.MetricsQuery{SiteURL: testSite, URL: "https://example.com/a", Start: mustDate(t, "2024-03-01"), End: mustDate(t, "2024-03-31")}

	first, err := svc.GetURLMetrics(ctx, q)
	require.NoError(t, err)
	assert.False(t, first.Meta.Cached)

	seedFacts(t, store, fact(t, "2024-03-02", "https://example.com/a", "alpha", 7, 70, 1.0))

	second, err := svc.GetURLMetrics(ctx, q)
	require.NoError(t, err)
	assert.True(t, second.Meta.Cached)
	assert.Equal(t, first.Totals, second.Totals)
}

func TestGetURLMetrics_CacheFailureFallsThrough(t *testing.T) {
	store, svc := newMetricsFixture(t, failingCache{})
	seedFacts(t, store, fact(t, "2024-03-01", "https://example.com/a", "alpha", 10, 100, 2.0))

	result, err := svc.GetURLMetrics(context.Background(), models.MetricsQuery{
		SiteURL: testSite, URL: "https://example.com/a",
		Start: mustDate(t, "2024-03-01"), End: mustDate(t, "2024-03-31"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Totals.Clicks)
	assert.False(t, result.Meta.Cached)
}

func TestGetURLMetrics_FiltersMatchUpstreamCasing(t *testing.T) {
	store, svc := newMetricsFixture(t, cache.NewMemoryCache())

	row := mapRow(
		[]string{models.DimensionPage, models.DimensionQuery, models.DimensionCountry, models.DimensionDevice},
		gsc.Row{Keys: []string{"https://example.com/a", "shoes", "usa", "MOBILE"}, Clicks: 3, Impressions: 30, CTR: 0.1, Position: 4},
	)
	seedFacts(t, store, models.AnalyticsFact{
		Date:           mustDate(t, "2024-03-01"),
		PageNormalized: row.Page,
		Query:          row.Query,
		Country:        row.Country,
		Device:         row.Device,
		Clicks:         row.Clicks,
		Impressions:    row.Impressions,
		CTR:            row.CTR,
		Position:       row.Position,
	})

	tests := []struct {
		name    string
		country string
		device  string
		clicks  int64
	}{
		{"no filter", "", "", 3},
		{"lowercase device", "", "mobile", 3},
		{"uppercase device", "", "MOBILE", 3},
		{"uppercase country", "USA", "", 3},
		{"both", "Usa", "mobile", 3},
		{"other device", "", "desktop", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.GetURLMetrics(context.Background(), models.MetricsQuery{
				SiteURL: testSite,
				URL:     "https://example.com/a",
				Start:   mustDate(t, "2024-03-01"),
				End:     mustDate(t, "2024-03-31"),
				Country: tt.country,
				Device:  tt.device,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.clicks, result.Totals.Clicks)
		})
	}
}

func TestGetURLMetrics_RelativeURLWithoutSite(t *testing.T) {
	_, svc := newMetricsFixture(t, cache.NewMemoryCache())

	_, err := svc.GetURLMetrics(context.Background(), models.MetricsQuery{URL: "/a"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestListURLs_PagingAndDefaults(t *testing.T) {
	store, svc := newMetricsFixture(t, cache.NewMemoryCache())
	seedFacts(t, store,
		fact(t, "2024-03-01", "https://example.com/a", "q", 30, 100, 2.0),
		fact(t, "2024-03-01", "https://example.com/b", "q", 20, 100, 3.0),
		fact(t, "2024-03-02", "https://example.com/c", "q", 10, 100, 4.0),
	)
	ctx := context.Background()
	base := models.URLListQuery{SiteURL: testSite, Start: mustDate(t, "2024-03-01"), End: mustDate(t, "2024-03-31")}

	q := base
	q.Limit = 2
	page, err := svc.ListURLs(ctx, q)
	require.NoError(t, err)
	require.Len(t, page.URLs, 2)
	assert.Equal(t, "https://example.com/a", page.URLs[0].URL)
	assert.Equal(t, "https://example.com/b", page.URLs[1].URL)
	assert.True(t, page.HasMore)
	assert.Equal(t, 0.3, page.URLs[0].CTR)

	q.Offset = 2
	rest, err := svc.ListURLs(ctx, q)
	require.NoError(t, err)
	require.Len(t, rest.URLs, 1)
	assert.False(t, rest.HasMore)

	all, err := svc.ListURLs(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, DefaultURLListLimit, all.Limit)
	assert.Len(t, all.URLs, 3)
	assert.False(t, all.Cached)

	again, err := svc.ListURLs(ctx, base)
	require.NoError(t, err)
	assert.True(t, again.Cached)

	capped := base
	capped.Limit = 5000
	capped.OrderBy = models.OrderByPosition
	capped.Order = "asc"
	ranked, err := svc.ListURLs(ctx, capped)
	require.NoError(t, err)
	assert.Equal(t, MaxURLListLimit, ranked.Limit)
	assert.Equal(t, "https://example.com/a", ranked.URLs[0].URL)
}

func TestListURLs_EmptySite(t *testing.T) {
	_, svc := newMetricsFixture(t, cache.NewMemoryCache())

	result, err := svc.ListURLs(context.Background(), models.URLListQuery{SiteURL: "https://nothing.example/"})
	require.NoError(t, err)
	assert.NotNil(t, result.URLs)
	assert.Empty(t, result.URLs)
	assert.False(t, result.HasMore)
}
