package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/cache"
	"github.com/ekaya-inc/ekaya-gsc/pkg/metrics"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/normalize"
	"github.com/ekaya-inc/ekaya-gsc/pkg/repositories"
	"github.com/ekaya-inc/ekaya-gsc/pkg/retry"
)

const (
	StatusCompleted      = "completed"
	StatusDryRunComplete = "dry_run_complete"

	// Dry-run heuristic: a per-day base multiplied per requested dimension.
	estimateBaseRows     = 1000
	estimateFallbackRows = 5000
	estimateMaxSamples   = 3
	estimateSampleDelay  = 100 * time.Millisecond

	DefaultJobListLimit = 20
)

var estimateMultipliers = map[string]int64{
	models.DimensionQuery:   10,
	models.DimensionPage:    5,
	models.DimensionCountry: 2,
	models.DimensionDevice:  3,
}

// ImportService runs search analytics imports and exposes their jobs.
type ImportService interface {
	// ImportSearchAnalytics imports every day in [Start, End]. A dry run
	// returns an estimate and writes nothing. Only one import runs at a time;
	// concurrent callers get apperrors.ErrImportInProgress.
	ImportSearchAnalytics(ctx context.Context, params models.ImportParams) (*models.ImportResult, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.ImportJob, error)
	ListJobs(ctx context.Context, limit int) ([]*models.ImportJob, error)
}

type importService struct {
	jobs       repositories.ImportJobRepository
	facts      repositories.SearchAnalyticsRepository
	aggregates repositories.AggregateRepository
	fetcher    FetchEngine
	normalizer *normalize.Normalizer
	cache      cache.Cache
	dayDelay   time.Duration
	logger     *zap.Logger
	sleep      retry.Sleeper
	now        func() time.Time

	running sync.Mutex
}

// NewImportService creates an ImportService.
func NewImportService(
	jobs repositories.ImportJobRepository,
	facts repositories.SearchAnalyticsRepository,
	aggregates repositories.AggregateRepository,
	fetcher FetchEngine,
	normalizer *normalize.Normalizer,
	cacheStore cache.Cache,
	dayDelay time.Duration,
	logger *zap.Logger,
) ImportService {
	return &importService{
		jobs:       jobs,
		facts:      facts,
		aggregates: aggregates,
		fetcher:    fetcher,
		normalizer: normalizer,
		cache:      cacheStore,
		dayDelay:   dayDelay,
		logger:     logger.Named("import-service"),
		sleep:      retry.Sleep,
		now:        time.Now,
	}
}

var _ ImportService = (*importService)(nil)

func (s *importService) ImportSearchAnalytics(ctx context.Context, params models.ImportParams) (*models.ImportResult, error) {
	s.logger.Info("Starting GSC import",
		zap.String("site_url", params.SiteURL),
		zap.String("start", params.Start.Format(models.DateLayout)),
		zap.String("end", params.End.Format(models.DateLayout)),
		zap.Strings("dimensions", params.Dimensions),
		zap.String("search_type", params.SearchType),
		zap.String("data_state", params.DataState),
		zap.Bool("dry_run", params.DryRun))

	if params.DryRun {
		return s.estimate(ctx, params)
	}

	days := params.Days()
	if len(days) == 0 {
		return &models.ImportResult{Status: StatusCompleted}, nil
	}

	if !s.running.TryLock() {
		return nil, apperrors.ErrImportInProgress
	}
	defer s.running.Unlock()

	// A started import runs to completion or failure even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	job := &models.ImportJob{
		SiteURL:    params.SiteURL,
		StartDate:  days[0],
		EndDate:    days[len(days)-1],
		Dimensions: params.Dimensions,
		SearchType: params.SearchType,
		DataState:  params.DataState,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}
	// A pending job may only move to running, so this failure leaves it pending.
	if err := s.jobs.UpdateStatus(ctx, job.ID, models.ImportStatusRunning, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to start import job: %w", err)
	}

	total, err := s.run(ctx, params, days)
	if err == nil {
		err = s.aggregates.Refresh(ctx)
	}
	if err != nil {
		s.fail(ctx, job.ID, params.SiteURL, total, err)
		return nil, err
	}

	if err := s.jobs.UpdateStatus(ctx, job.ID, models.ImportStatusCompleted, nil, &total); err != nil {
		err = fmt.Errorf("failed to complete import job: %w", err)
		s.fail(ctx, job.ID, params.SiteURL, total, err)
		return nil, err
	}
	metrics.ImportJobsTotal.WithLabelValues(string(models.ImportStatusCompleted)).Inc()

	s.invalidate(ctx, params.SiteURL)

	s.logger.Info("GSC import completed",
		zap.String("job_id", job.ID.String()),
		zap.String("site_url", params.SiteURL),
		zap.Int64("rows_imported", total),
		zap.Int("days", len(days)))

	return &models.ImportResult{
		Status:       StatusCompleted,
		JobID:        &job.ID,
		RowsImported: total,
		Days:         len(days),
	}, nil
}

// run imports days in order and returns the rows written so far.
func (s *importService) run(ctx context.Context, params models.ImportParams, days []time.Time) (int64, error) {
	var total int64
	for i, day := range days {
		date := day.Format(models.DateLayout)

		rows, err := s.fetcher.FetchDay(ctx, DayRequest{
			SiteURL:    params.SiteURL,
			Date:       day,
			Dimensions: params.Dimensions,
			SearchType: params.SearchType,
			DataState:  params.DataState,
			Filters:    params.Filters,
		})
		if err != nil {
			return total, err
		}

		if len(rows) > 0 {
			facts := s.toFacts(params, day, rows)
			n, err := s.facts.BulkUpsert(ctx, facts)
			if err != nil {
				return total, fmt.Errorf("failed to store rows for %s: %w", date, err)
			}
			total += n
			metrics.ImportRowsTotal.Add(float64(n))
			s.logger.Info("Imported day",
				zap.String("site_url", params.SiteURL),
				zap.String("date", date),
				zap.Int64("rows", n))
		}

		if i < len(days)-1 {
			if err := s.sleep(ctx, s.dayDelay); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (s *importService) toFacts(params models.ImportParams, day time.Time, rows []FetchedRow) []models.AnalyticsFact {
	ingested := s.now().UTC()
	facts := make([]models.AnalyticsFact, 0, len(rows))
	passthrough := 0

	for _, r := range rows {
		normalized := r.Page
		if r.Page != "" {
			var err error
			normalized, err = s.normalizer.TryNormalize(r.Page, params.SiteURL)
			if err != nil {
				passthrough++
				s.logger.Debug("URL kept as-is",
					zap.String("page", r.Page),
					zap.Error(err))
			}
		}
		facts = append(facts, models.AnalyticsFact{
			SiteURL:        params.SiteURL,
			Date:           day,
			PageRaw:        r.Page,
			PageNormalized: normalized,
			Query:          r.Query,
			Country:        r.Country,
			Device:         r.Device,
			SearchType:     params.SearchType,
			DataState:      params.DataState,
			Clicks:         r.Clicks,
			Impressions:    r.Impressions,
			CTR:            r.CTR,
			Position:       r.Position,
			IngestedAt:     ingested,
		})
	}

	if passthrough > 0 {
		s.logger.Warn("Some page URLs could not be normalized",
			zap.String("site_url", params.SiteURL),
			zap.String("date", day.Format(models.DateLayout)),
			zap.Int("count", passthrough))
	}
	return facts
}

func (s *importService) fail(ctx context.Context, id uuid.UUID, siteURL string, total int64, cause error) {
	msg := cause.Error()
	if err := s.jobs.UpdateStatus(ctx, id, models.ImportStatusFailed, &msg, &total); err != nil {
		s.logger.Error("Failed to mark import job failed",
			zap.String("job_id", id.String()),
			zap.Error(err))
	}
	metrics.ImportJobsTotal.WithLabelValues(string(models.ImportStatusFailed)).Inc()
	s.logger.Error("GSC import failed",
		zap.String("job_id", id.String()),
		zap.String("site_url", siteURL),
		zap.Int64("rows_imported", total),
		zap.Error(cause))
}

// invalidate drops cached metrics for the site. Failures only cost freshness.
func (s *importService) invalidate(ctx context.Context, siteURL string) {
	for _, pattern := range cache.SitePatterns(siteURL) {
		n, err := s.cache.DeletePattern(ctx, pattern)
		if err != nil {
			s.logger.Warn("Failed to invalidate metrics cache",
				zap.String("pattern", pattern),
				zap.Error(err))
			continue
		}
		s.logger.Debug("Invalidated metrics cache",
			zap.String("pattern", pattern),
			zap.Int("keys", n))
	}
}

// estimate projects the import size from a fixed multiplier table. Sampled
// days only prove the range is reachable; the upstream never reports totals.
func (s *importService) estimate(ctx context.Context, params models.ImportParams) (*models.ImportResult, error) {
	days := params.Days()
	est := &models.Estimate{
		DayCount:   len(days),
		Dimensions: params.Dimensions,
		SearchType: params.SearchType,
	}
	if len(days) == 0 {
		return &models.ImportResult{Status: StatusDryRunComplete, Estimate: est}, nil
	}

	sampleDays := min(estimateMaxSamples, len(days))
	perDay := dimensionEstimate(params.Dimensions)
	var sampled, sampleTotal int64

	for i := 0; i < sampleDays; i++ {
		day := days[i*len(days)/sampleDays]
		err := s.fetcher.Probe(ctx, DayRequest{
			SiteURL:    params.SiteURL,
			Date:       day,
			Dimensions: params.Dimensions,
			SearchType: params.SearchType,
			DataState:  params.DataState,
			Filters:    params.Filters,
		})
		if err != nil {
			if apperrors.IsKind(err, apperrors.KindNoCredential) || apperrors.IsKind(err, apperrors.KindReauthRequired) {
				return nil, err
			}
			s.logger.Warn("Failed to sample date",
				zap.String("date", day.Format(models.DateLayout)),
				zap.Error(err))
			continue
		}
		sampleTotal += perDay
		sampled++

		if i < sampleDays-1 {
			if err := s.sleep(ctx, estimateSampleDelay); err != nil {
				return nil, err
			}
		}
	}

	est.AvgRowsPerDay = estimateFallbackRows
	if sampled > 0 {
		est.AvgRowsPerDay = sampleTotal / sampled
	}
	est.EstimatedRows = est.AvgRowsPerDay * int64(len(days))
	est.SampleDays = int(sampled)
	est.AccessVerified = sampled > 0

	return &models.ImportResult{Status: StatusDryRunComplete, Days: len(days), Estimate: est}, nil
}

func dimensionEstimate(dimensions []string) int64 {
	rows := int64(estimateBaseRows)
	for _, dim := range dimensions {
		if m, ok := estimateMultipliers[dim]; ok {
			rows *= m
		}
	}
	return rows
}

func (s *importService) GetJob(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

func (s *importService) ListJobs(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	if limit <= 0 {
		limit = DefaultJobListLimit
	}
	jobs, err := s.jobs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	return jobs, nil
}
