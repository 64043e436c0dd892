// Package gsc is a client for the Google Search Console (webmasters v3) API.
package gsc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/metrics"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
)

// DefaultBaseURL is the Search Console API root.
const DefaultBaseURL = "https://www.googleapis.com/webmasters/v3"

const maxErrorBody = 64 << 10

// QueryRequest is the body of a searchAnalytics.query call.
type QueryRequest struct {
	SiteURL               string        `json:"-"`
	StartDate             string        `json:"startDate"`
	EndDate               string        `json:"endDate"`
	Dimensions            []string      `json:"dimensions,omitempty"`
	SearchType            string        `json:"searchType,omitempty"`
	DataState             string        `json:"dataState,omitempty"`
	RowLimit              int           `json:"rowLimit"`
	StartRow              int           `json:"startRow"`
	DimensionFilterGroups []FilterGroup `json:"dimensionFilterGroups,omitempty"`
}

type FilterGroup struct {
	GroupType string   `json:"groupType,omitempty"`
	Filters   []Filter `json:"filters"`
}

type Filter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

// Row is one result row. Keys follow the order of the requested dimensions.
type Row struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

type QueryResponse struct {
	Rows                    []Row  `json:"rows"`
	ResponseAggregationType string `json:"responseAggregationType,omitempty"`
}

// Site is a property the authorized account can see.
type Site struct {
	SiteURL         string `json:"siteUrl"`
	PermissionLevel string `json:"permissionLevel"`
}

// Client is the external analytics endpoint. Every call carries the access
// token to use; failures are *apperrors.Error values.
type Client interface {
	Query(ctx context.Context, token string, req QueryRequest) (*QueryResponse, error)
	ListSites(ctx context.Context, token string) ([]Site, error)
	GetSite(ctx context.Context, token, siteURL string) (*Site, error)
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type httpClient struct {
	baseURL string
	http    HTTPDoer
	logger  *zap.Logger
}

var _ Client = (*httpClient)(nil)

// NewClient creates a Search Console client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) Client {
	return NewClientWithDoer(baseURL, &http.Client{Timeout: timeout}, logger)
}

// NewClientWithDoer creates a client over a custom HTTP transport.
func NewClientWithDoer(baseURL string, doer HTTPDoer, logger *zap.Logger) Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
		logger:  logger.Named("gsc-client"),
	}
}

// escapeSite encodes a site URL as a single path segment.
func escapeSite(siteURL string) string {
	return strings.ReplaceAll(url.QueryEscape(siteURL), "+", "%20")
}

func (c *httpClient) Query(ctx context.Context, token string, req QueryRequest) (*QueryResponse, error) {
	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", c.baseURL, escapeSite(req.SiteURL))

	var resp QueryResponse
	if err := c.do(ctx, http.MethodPost, endpoint, token, req, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("Search analytics page fetched",
		zap.String("site_url", req.SiteURL),
		zap.String("date", req.StartDate),
		zap.Int("start_row", req.StartRow),
		zap.Int("rows", len(resp.Rows)))
	return &resp, nil
}

func (c *httpClient) ListSites(ctx context.Context, token string) ([]Site, error) {
	var resp struct {
		SiteEntry []Site `json:"siteEntry"`
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/sites", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.SiteEntry, nil
}

func (c *httpClient) GetSite(ctx context.Context, token, siteURL string) (*Site, error) {
	var site Site
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/sites/"+escapeSite(siteURL), token, nil, &site); err != nil {
		return nil, err
	}
	return &site, nil
}

func (c *httpClient) do(ctx context.Context, method, endpoint, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(string(apperrors.KindUpstreamUnavailable)).Inc()
		return apperrors.UpstreamUnavailable("search console request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		classified := ClassifyResponse(resp.StatusCode, data)
		metrics.UpstreamRequestsTotal.WithLabelValues(string(classified.Kind)).Inc()
		c.logger.Warn("Search Console API error",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(classified.Kind)))
		return classified
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(metrics.OutcomeOK).Inc()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.UpstreamUnavailable("failed to decode search console response", err)
	}
	return nil
}

// BuildFilterGroups converts import filters into dimension filter groups.
func BuildFilterGroups(f models.ImportFilters) []FilterGroup {
	var filters []Filter
	if f.Country != "" {
		filters = append(filters, Filter{Dimension: models.DimensionCountry, Operator: "equals", Expression: strings.ToLower(f.Country)})
	}
	if f.Device != "" {
		filters = append(filters, Filter{Dimension: models.DimensionDevice, Operator: "equals", Expression: strings.ToUpper(f.Device)})
	}
	if f.PageRegex != "" {
		filters = append(filters, Filter{Dimension: models.DimensionPage, Operator: "includingRegex", Expression: f.PageRegex})
	}
	if len(filters) == 0 {
		return nil
	}
	return []FilterGroup{{GroupType: "and", Filters: filters}}
}
