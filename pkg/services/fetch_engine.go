package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/auth"
	"github.com/ekaya-inc/ekaya-gsc/pkg/config"
	"github.com/ekaya-inc/ekaya-gsc/pkg/gsc"
	"github.com/ekaya-inc/ekaya-gsc/pkg/metrics"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/retry"
)

// DayRequest selects one property's rows for a single date.
type DayRequest struct {
	SiteURL    string
	Date       time.Time
	Dimensions []string
	SearchType string
	DataState  string
	Filters    models.ImportFilters
}

// FetchedRow is one upstream row mapped by dimension position.
type FetchedRow struct {
	Page        string
	Query       string
	Country     string
	Device      string
	Clicks      int64
	Impressions int64
	CTR         float64
	Position    float64
}

// FetchConfig bounds paging, retries and self-throttling.
type FetchConfig struct {
	PageSize             int
	Retry                retry.Config
	PageDelay            time.Duration
	LargeVolumePageDelay time.Duration
	LargeVolumeThreshold int
	ProgressEvery        int
}

// NewFetchConfig builds a FetchConfig from the import settings.
func NewFetchConfig(cfg *config.ImportConfig) FetchConfig {
	return FetchConfig{
		PageSize: cfg.PageSize,
		Retry: retry.Config{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxJitter:   cfg.MaxJitter,
			Multiplier:  2.0,
		},
		PageDelay:            cfg.PageDelay,
		LargeVolumePageDelay: cfg.LargeVolumePageDelay,
		LargeVolumeThreshold: cfg.LargeVolumeThreshold,
		ProgressEvery:        cfg.ProgressEvery,
	}
}

// FetchEngine pulls a day of search analytics rows, page by page.
type FetchEngine interface {
	// FetchDay returns every row for the day in request order. Only rate
	// limiting is retried; any other failure aborts with a classified error.
	FetchDay(ctx context.Context, req DayRequest) ([]FetchedRow, error)
	// Probe requests a single row to confirm the day is reachable.
	Probe(ctx context.Context, req DayRequest) error
}

type fetchEngine struct {
	client gsc.Client
	tokens auth.TokenProvider
	cfg    FetchConfig
	logger *zap.Logger
	sleep  retry.Sleeper
	jitter func(max time.Duration) time.Duration
}

// NewFetchEngine creates a FetchEngine.
func NewFetchEngine(client gsc.Client, tokens auth.TokenProvider, cfg FetchConfig, logger *zap.Logger) FetchEngine {
	if cfg.PageSize <= 0 || cfg.PageSize > config.MaxPageSize {
		cfg.PageSize = config.MaxPageSize
	}
	return &fetchEngine{
		client: client,
		tokens: tokens,
		cfg:    cfg,
		logger: logger.Named("fetch-engine"),
		sleep:  retry.Sleep,
	}
}

var _ FetchEngine = (*fetchEngine)(nil)

// pageCursor tracks offset paging for one day. It is done after the first
// page shorter than the page size.
type pageCursor struct {
	pageSize int
	offset   int
	fetched  int
	pages    int
	done     bool
}

func (c *pageCursor) advance(rows int) {
	c.pages++
	c.fetched += rows
	if rows < c.pageSize {
		c.done = true
		return
	}
	c.offset += c.pageSize
}

func (e *fetchEngine) FetchDay(ctx context.Context, req DayRequest) ([]FetchedRow, error) {
	date := req.Date.Format(models.DateLayout)
	cursor := &pageCursor{pageSize: e.cfg.PageSize}
	var out []FetchedRow

	for !cursor.done {
		resp, err := e.fetchPage(ctx, req, cursor.offset, e.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		for _, row := range resp.Rows {
			out = append(out, mapRow(req.Dimensions, row))
		}

		before := cursor.fetched
		cursor.advance(len(resp.Rows))

		if every := e.cfg.ProgressEvery; every > 0 && cursor.fetched/every > before/every {
			e.logger.Info("Fetch progress",
				zap.String("site_url", req.SiteURL),
				zap.String("date", date),
				zap.Int("rows", cursor.fetched),
				zap.Int("pages", cursor.pages))
		}

		if cursor.done {
			break
		}
		if err := e.sleep(ctx, e.pageDelay(cursor.fetched)); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("Day fetched",
		zap.String("site_url", req.SiteURL),
		zap.String("date", date),
		zap.Int("rows", cursor.fetched),
		zap.Int("pages", cursor.pages))
	return out, nil
}

func (e *fetchEngine) Probe(ctx context.Context, req DayRequest) error {
	_, err := e.fetchPage(ctx, req, 0, 1)
	return err
}

// pageDelay pauses longer once the day has grown past the large-volume threshold.
func (e *fetchEngine) pageDelay(fetched int) time.Duration {
	if e.cfg.LargeVolumeThreshold > 0 && fetched > e.cfg.LargeVolumeThreshold {
		return e.cfg.LargeVolumePageDelay
	}
	return e.cfg.PageDelay
}

// fetchPage requests one page, retrying only rate-limit failures.
func (e *fetchEngine) fetchPage(ctx context.Context, req DayRequest, offset, limit int) (*gsc.QueryResponse, error) {
	date := req.Date.Format(models.DateLayout)
	query := gsc.QueryRequest{
		SiteURL:               req.SiteURL,
		StartDate:             date,
		EndDate:               date,
		Dimensions:            req.Dimensions,
		SearchType:            req.SearchType,
		DataState:             req.DataState,
		RowLimit:              limit,
		StartRow:              offset,
		DimensionFilterGroups: gsc.BuildFilterGroups(req.Filters),
	}

	var opts []retry.Option
	if e.jitter != nil {
		opts = append(opts, retry.WithJitter(e.jitter))
	}
	backoff := retry.NewBackoff(e.cfg.Retry, opts...)

	for {
		attempt, ok := backoff.Begin()
		if !ok {
			return nil, fmt.Errorf("page fetch for %s at offset %d: retry budget exhausted", date, offset)
		}

		resp, err := e.query(ctx, query)
		decision := backoff.Record(err, apperrors.IsKind(err, apperrors.KindRateLimited))
		if err == nil {
			return resp, nil
		}
		if !decision.Retry {
			if decision.State == retry.StateExhausted {
				e.logger.Warn("Rate limit retries exhausted",
					zap.String("site_url", req.SiteURL),
					zap.String("date", date),
					zap.Int("offset", offset),
					zap.Int("attempts", attempt))
			}
			return nil, err
		}

		metrics.FetchRetriesTotal.Inc()
		e.logger.Warn("Rate limited, retrying page",
			zap.String("site_url", req.SiteURL),
			zap.String("date", date),
			zap.Int("offset", offset),
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay))

		if err := e.sleep(ctx, decision.Delay); err != nil {
			return nil, err
		}
	}
}

func (e *fetchEngine) query(ctx context.Context, q gsc.QueryRequest) (*gsc.QueryResponse, error) {
	token, err := e.tokens.GetValidAccessToken(ctx, "")
	if err != nil {
		return nil, err
	}
	return e.client.Query(ctx, token, q)
}

// mapRow reads keys by the position of each requested dimension.
func mapRow(dimensions []string, row gsc.Row) FetchedRow {
	out := FetchedRow{
		Country:     models.UnknownDimension,
		Device:      models.UnknownDimension,
		Clicks:      int64(math.Round(row.Clicks)),
		Impressions: int64(math.Round(row.Impressions)),
		CTR:         row.CTR,
		Position:    row.Position,
	}
	for i, dim := range dimensions {
		if i >= len(row.Keys) {
			break
		}
		switch dim {
		case models.DimensionPage:
			out.Page = row.Keys[i]
		case models.DimensionQuery:
			out.Query = row.Keys[i]
		case models.DimensionCountry:
			out.Country = row.Keys[i]
		case models.DimensionDevice:
			out.Device = row.Keys[i]
		}
	}
	return out
}
