package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/cache"
	"github.com/ekaya-inc/ekaya-gsc/pkg/gsc"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) GetValidAccessToken(ctx context.Context, identity string) (string, error) {
	return s.token, s.err
}

// scriptedClient answers Query calls from a list of page responses or errors.
type scriptedClient struct {
	mu       sync.Mutex
	pages    []int   // row counts returned per call, in order
	errs     []error // error per call, nil for success
	requests []gsc.QueryRequest
	rowKeys  []string

	sites    []gsc.Site
	sitesErr error
	siteErr  error
}

func (c *scriptedClient) Query(ctx context.Context, token string, req gsc.QueryRequest) (*gsc.QueryResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.requests)
	c.requests = append(c.requests, req)

	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	n := 0
	if i < len(c.pages) {
		n = c.pages[i]
	}
	resp := &gsc.QueryResponse{}
	for j := 0; j < n; j++ {
		keys := c.rowKeys
		if keys == nil {
			keys = []string{"https://example.com/p", "q", "usa", "DESKTOP"}
		}
		resp.Rows = append(resp.Rows, gsc.Row{Keys: keys, Clicks: 1, Impressions: 10, CTR: 0.1, Position: 3})
	}
	return resp, nil
}

func (c *scriptedClient) ListSites(ctx context.Context, token string) ([]gsc.Site, error) {
	return c.sites, c.sitesErr
}

func (c *scriptedClient) GetSite(ctx context.Context, token, siteURL string) (*gsc.Site, error) {
	if c.siteErr != nil {
		return nil, c.siteErr
	}
	return &gsc.Site{SiteURL: siteURL, PermissionLevel: "siteOwner"}, nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// recordingSleeper captures waits instead of sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func rateLimited() error {
	return apperrors.NewWithStatus(apperrors.KindRateLimited, 429, "quota", nil)
}

// fakeFetcher returns canned rows per date.
type fakeFetcher struct {
	mu       sync.Mutex
	rows     map[string][]FetchedRow
	failOn   string
	failErr  error
	probeErr error
	probes   []string
	fetched  []string
	block    chan struct{}
}

func (f *fakeFetcher) FetchDay(ctx context.Context, req DayRequest) ([]FetchedRow, error) {
	if f.block != nil {
		<-f.block
	}
	date := req.Date.Format(models.DateLayout)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, date)
	if date == f.failOn {
		return nil, f.failErr
	}
	return f.rows[date], nil
}

func (f *fakeFetcher) Probe(ctx context.Context, req DayRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes = append(f.probes, req.Date.Format(models.DateLayout))
	return f.probeErr
}

// failingCache errors on every call.
type failingCache struct{}

var _ cache.Cache = failingCache{}

var errCacheDown = errors.New("cache down")

func (failingCache) Get(context.Context, string, any) (bool, error) { return false, errCacheDown }
func (failingCache) Set(context.Context, string, any, time.Duration) error {
	return errCacheDown
}
func (failingCache) Delete(context.Context, string) error { return errCacheDown }
func (failingCache) DeletePattern(context.Context, string) (int, error) {
	return 0, errCacheDown
}
func (failingCache) Ping(context.Context) error { return errCacheDown }
