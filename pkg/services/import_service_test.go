package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/cache"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/normalize"
	"github.com/ekaya-inc/ekaya-gsc/pkg/repositories"
	"github.com/ekaya-inc/ekaya-gsc/pkg/storage"
)

const testSite = "https://example.com/"

type importFixture struct {
	store   *storage.Store
	cache   *cache.MemoryCache
	fetcher *fakeFetcher
	sleeper *recordingSleeper
	svc     *importService
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()
	store, err := storage.NewMemory(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &importFixture{
		store:   store,
		cache:   cache.NewMemoryCache(),
		fetcher: &fakeFetcher{rows: map[string][]FetchedRow{}},
		sleeper: &recordingSleeper{},
	}
	f.svc = NewImportService(store.Jobs, store.Facts, store.Aggregates, f.fetcher, normalize.New(), f.cache, time.Second, zap.NewNop()).(*importService)
	f.svc.sleep = f.sleeper.Sleep
	return f
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(models.DateLayout, s)
	require.NoError(t, err)
	return d
}

func pageRows(n int, page string) []FetchedRow {
	rows := make([]FetchedRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, FetchedRow{
			Page:        page,
			Query:       fmt.Sprintf("query %d", i),
			Country:     "usa",
			Device:      "DESKTOP",
			Clicks:      int64(i + 1),
			Impressions: 10,
			CTR:         float64(i+1) / 10,
			Position:    3,
		})
	}
	return rows
}

func importParams(t *testing.T, start, end string) models.ImportParams {
	return models.ImportParams{
		SiteURL:    testSite,
		Start:      mustDate(t, start),
		End:        mustDate(t, end),
		Dimensions: models.DefaultDimensions,
		SearchType: models.SearchTypeWeb,
		DataState:  models.DataStateFinal,
	}
}

func TestImport_CompletesAndRecordsJob(t *testing.T) {
	f := newImportFixture(t)
	f.fetcher.rows["2024-03-01"] = pageRows(2, "https://www.example.com/a/")
	f.fetcher.rows["2024-03-03"] = pageRows(3, "https://example.com/b?utm_source=x")
	ctx := context.Background()

	result, err := f.svc.ImportSearchAnalytics(ctx, importParams(t, "2024-03-01", "2024-03-03"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, int64(5), result.RowsImported)
	assert.Equal(t, 3, result.Days)
	require.NotNil(t, result.JobID)
	assert.Equal(t, []string{"2024-03-01", "2024-03-02", "2024-03-03"}, f.fetcher.fetched)

	job, err := f.svc.GetJob(ctx, *result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, job.Status)
	assert.Equal(t, int64(5), job.RowsImported)
	assert.Nil(t, job.ErrorMessage)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	// Pauses between days, none after the last.
	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.sleeper.delays)

	// Pages are stored under their normalized form.
	daily, err := f.store.Aggregates.QueryDaily(ctx, models.MetricsQuery{
		SiteURL: testSite, URL: "https://example.com/a",
		Start: mustDate(t, "2024-03-01"), End: mustDate(t, "2024-03-31"),
	})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, int64(3), daily[0].Clicks)
}

func TestImport_RerunIsIdempotent(t *testing.T) {
	f := newImportFixture(t)
	f.fetcher.rows["2024-03-01"] = pageRows(4, "https://example.com/a")
	ctx := context.Background()
	params := importParams(t, "2024-03-01", "2024-03-02")

	first, err := f.svc.ImportSearchAnalytics(ctx, params)
	require.NoError(t, err)
	before, err := f.store.Facts.Stats(ctx)
	require.NoError(t, err)

	second, err := f.svc.ImportSearchAnalytics(ctx, params)
	require.NoError(t, err)
	after, err := f.store.Facts.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.RowsImported, second.RowsImported)
	assert.Equal(t, before.TotalRows, after.TotalRows)
	assert.Equal(t, int64(4), after.TotalRows)
	assert.NotEqual(t, *first.JobID, *second.JobID)
}

func TestImport_FailureMarksJobFailed(t *testing.T) {
	f := newImportFixture(t)
	f.fetcher.rows["2024-03-01"] = pageRows(2, "https://example.com/a")
	f.fetcher.failOn = "2024-03-02"
	f.fetcher.failErr = apperrors.NewWithStatus(apperrors.KindRateLimited, 429, "quota exceeded", nil)
	ctx := context.Background()

	result, err := f.svc.ImportSearchAnalytics(ctx, importParams(t, "2024-03-01", "2024-03-03"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.IsKind(err, apperrors.KindRateLimited))
	assert.Equal(t, []string{"2024-03-01", "2024-03-02"}, f.fetcher.fetched)

	jobs, err := f.svc.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, models.ImportStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, err.Error(), *job.ErrorMessage)
	assert.Equal(t, int64(2), job.RowsImported)

	// Rows from completed days stay.
	stats, err := f.store.Facts.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRows)
}

// completionFailingJobs rejects the move to completed once.
type completionFailingJobs struct {
	repositories.ImportJobRepository
	failed bool
}

func (r *completionFailingJobs) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ImportStatus, errMsg *string, rows *int64) error {
	if status == models.ImportStatusCompleted && !r.failed {
		r.failed = true
		return errors.New("connection reset")
	}
	return r.ImportJobRepository.UpdateStatus(ctx, id, status, errMsg, rows)
}

func TestImport_CompletionWriteFailureMarksJobFailed(t *testing.T) {
	f := newImportFixture(t)
	f.svc.jobs = &completionFailingJobs{ImportJobRepository: f.store.Jobs}
	f.fetcher.rows["2024-03-01"] = pageRows(3, "https://example.com/a")
	ctx := context.Background()

	result, err := f.svc.ImportSearchAnalytics(ctx, importParams(t, "2024-03-01", "2024-03-01"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "failed to complete import job")

	jobs, err := f.store.Jobs.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.ImportStatusFailed, jobs[0].Status)
	assert.True(t, jobs[0].Status.IsTerminal())
	require.NotNil(t, jobs[0].ErrorMessage)
	assert.Contains(t, *jobs[0].ErrorMessage, "connection reset")
	assert.Equal(t, int64(3), jobs[0].RowsImported)
}

func TestImport_EmptyRangeIsNoop(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	result, err := f.svc.ImportSearchAnalytics(ctx, importParams(t, "2024-03-05", "2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Nil(t, result.JobID)
	assert.Zero(t, result.RowsImported)
	assert.Empty(t, f.fetcher.fetched)

	jobs, err := f.svc.ListJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestImport_SurvivesCallerCancellation(t *testing.T) {
	f := newImportFixture(t)
	f.fetcher.rows["2024-03-01"] = pageRows(1, "https://example.com/a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.svc.ImportSearchAnalytics(ctx, importParams(t, "2024-03-01", "2024-03-02"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RowsImported)
}

func TestImport_RejectsConcurrentImport(t *testing.T) {
	f := newImportFixture(t)
	f.fetcher.block = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.svc.ImportSearchAnalytics(ctx, importParams(t, "2024-03-01", "2024-03-01"))
	}()

	require.Eventually(t, func() bool {
		jobs, err := f.store.Jobs.ListRecent(ctx, 1)
		return err == nil && len(jobs) == 1 && jobs[0].Status == models.ImportStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	_, err := f.svc.ImportSearchAnalytics(ctx, importParams(t, "2024-03-02", "2024-03-02"))
	assert.True(t, errors.Is(err, apperrors.ErrImportInProgress))

	close(f.fetcher.block)
	wg.Wait()
	assert.NoError(t, firstErr)

	// The lock is released once the first import finishes.
	_, err = f.svc.ImportSearchAnalytics(ctx, importParams(t, "2024-03-02", "2024-03-02"))
	assert.NoError(t, err)
}

func TestImport_InvalidatesSiteCache(t *testing.T) {
	f := newImportFixture(t)
	f.fetcher.rows["2024-03-01"] = pageRows(1, "https://example.com/a")
	ctx := context.Background()

	siteKey := cache.MetricsKey(models.MetricsQuery{SiteURL: testSite, URL: "https://example.com/a", Start: mustDate(t, "2024-03-01"), End: mustDate(t, "2024-03-31")})
	listKey := cache.URLListKey(models.URLListQuery{SiteURL: testSite, Start: mustDate(t, "2024-03-01"), End: mustDate(t, "2024-03-31"), Limit: 100})
	otherKey := cache.MetricsKey(models.MetricsQuery{SiteURL: "https://other.com/", URL: "https://other.com/a", Start: mustDate(t, "2024-03-01"), End: mustDate(t, "2024-03-31")})
	for _, key := range []string{siteKey, listKey, otherKey} {
		require.NoError(t, f.cache.Set(ctx, key, map[string]int{"v": 1}, time.Hour))
	}

	_, err := f.svc.ImportSearchAnalytics(ctx, importParams(t, "2024-03-01", "2024-03-01"))
	require.NoError(t, err)

	var dst map[string]int
	found, err := f.cache.Get(ctx, siteKey, &dst)
	require.NoError(t, err)
	assert.False(t, found)
	found, err = f.cache.Get(ctx, listKey, &dst)
	require.NoError(t, err)
	assert.False(t, found)
	found, err = f.cache.Get(ctx, otherKey, &dst)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestImport_CacheFailureDoesNotFailImport(t *testing.T) {
	f := newImportFixture(t)
	f.svc.cache = failingCache{}
	f.fetcher.rows["2024-03-01"] = pageRows(1, "https://example.com/a")

	result, err := f.svc.ImportSearchAnalytics(context.Background(), importParams(t, "2024-03-01", "2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
}

func TestDryRun_EstimatesFromSamples(t *testing.T) {
	f := newImportFixture(t)
	params := importParams(t, "2024-03-01", "2024-03-10")
	params.DryRun = true
	ctx := context.Background()

	result, err := f.svc.ImportSearchAnalytics(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, StatusDryRunComplete, result.Status)
	assert.Equal(t, 10, result.Days)
	assert.Nil(t, result.JobID)
	require.NotNil(t, result.Estimate)
	assert.Equal(t, int64(300000), result.Estimate.AvgRowsPerDay)
	assert.Equal(t, int64(3000000), result.Estimate.EstimatedRows)
	assert.Equal(t, 3, result.Estimate.SampleDays)
	assert.True(t, result.Estimate.AccessVerified)
	assert.Equal(t, []string{"2024-03-01", "2024-03-04", "2024-03-07"}, f.fetcher.probes)
	assert.Equal(t, []time.Duration{estimateSampleDelay, estimateSampleDelay}, f.sleeper.delays)

	// Nothing is fetched or recorded.
	assert.Empty(t, f.fetcher.fetched)
	jobs, err := f.svc.ListJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDryRun_FallsBackWhenSamplesFail(t *testing.T) {
	f := newImportFixture(t)
	f.fetcher.probeErr = apperrors.UpstreamUnavailable("down", nil)
	params := importParams(t, "2024-03-01", "2024-03-02")
	params.DryRun = true

	result, err := f.svc.ImportSearchAnalytics(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, int64(estimateFallbackRows), result.Estimate.AvgRowsPerDay)
	assert.Equal(t, int64(2*estimateFallbackRows), result.Estimate.EstimatedRows)
	assert.Equal(t, 0, result.Estimate.SampleDays)
	assert.False(t, result.Estimate.AccessVerified)
	assert.Len(t, f.fetcher.probes, 2)
}

func TestDryRun_CredentialErrorsPropagate(t *testing.T) {
	for _, probeErr := range []error{
		apperrors.NoCredential("no account"),
		apperrors.ReauthRequired("revoked", nil),
	} {
		f := newImportFixture(t)
		f.fetcher.probeErr = probeErr
		params := importParams(t, "2024-03-01", "2024-03-05")
		params.DryRun = true

		_, err := f.svc.ImportSearchAnalytics(context.Background(), params)
		assert.ErrorIs(t, err, probeErr)
		assert.Len(t, f.fetcher.probes, 1)
	}
}

func TestDimensionEstimate(t *testing.T) {
	assert.Equal(t, int64(300000), dimensionEstimate(models.DefaultDimensions))
	assert.Equal(t, int64(10000), dimensionEstimate([]string{models.DimensionQuery}))
	assert.Equal(t, int64(6000), dimensionEstimate([]string{models.DimensionCountry, models.DimensionDevice}))
	assert.Equal(t, int64(1000), dimensionEstimate(nil))
}

func TestGetJob_NotFound(t *testing.T) {
	f := newImportFixture(t)
	_, err := f.svc.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
