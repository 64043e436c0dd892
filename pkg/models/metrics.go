package models

import "time"

// AggregateRow is the daily rollup of facts for one normalized page.
type AggregateRow struct {
	SiteURL        string    `json:"site_url"`
	Date           time.Time `json:"date"`
	PageNormalized string    `json:"page_normalized"`
	Clicks         int64     `json:"clicks"`
	Impressions    int64     `json:"impressions"`
	CTR            float64   `json:"ctr"`
	Position       float64   `json:"position"`
}

// MetricsQuery selects the daily series of one page.
type MetricsQuery struct {
	SiteURL string
	URL     string // normalized page URL
	Start   time.Time
	End     time.Time
	Country string
	Device  string
}

// MetricsPoint is one day of a metrics timeseries.
type MetricsPoint struct {
	Date        string  `json:"date"`
	Clicks      int64   `json:"clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"avg_position"`
}

// MetricsTotals summarizes a timeseries. Position is impressions-weighted.
type MetricsTotals struct {
	Clicks      int64   `json:"clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"avg_position"`
}

// Freshness classifies how old the newest stored data is.
type Freshness string

const (
	FreshnessNoData       Freshness = "no_data"
	FreshnessCurrent      Freshness = "current"
	FreshnessNormalDelay  Freshness = "normal_delay"
	FreshnessNeedsRefresh Freshness = "needs_refresh"
)

// MetricsMeta annotates a metrics response.
type MetricsMeta struct {
	Freshness     Freshness `json:"freshness"`
	FreshnessNote string    `json:"data_freshness_note"`
	Source        string    `json:"source"`
	LastUpdated   *string   `json:"last_updated"`
	DaysWithData  int       `json:"days_with_data"`
	Cached        bool      `json:"cached"`
}

// MetricsResult is the response for a single page.
type MetricsResult struct {
	URL        string         `json:"url"`
	SiteURL    string         `json:"site_url"`
	Start      string         `json:"start"`
	End        string         `json:"end"`
	Timeseries []MetricsPoint `json:"timeseries"`
	Totals     MetricsTotals  `json:"totals"`
	Meta       MetricsMeta    `json:"meta"`
}

// URL list ordering.
const (
	OrderByClicks      = "clicks"
	OrderByImpressions = "impressions"
	OrderByCTR         = "ctr"
	OrderByPosition    = "position"
)

// URLListQuery pages through the pages of a site ranked by one metric.
type URLListQuery struct {
	SiteURL string
	Start   time.Time
	End     time.Time
	Limit   int
	Offset  int
	OrderBy string
	Order   string // asc or desc
}

// URLSummary is one entry of a URL list.
type URLSummary struct {
	URL          string  `json:"url"`
	Clicks       int64   `json:"clicks"`
	Impressions  int64   `json:"impressions"`
	CTR          float64 `json:"ctr"`
	Position     float64 `json:"avg_position"`
	DaysWithData int     `json:"days_with_data"`
}

// URLListResult is a page of URLSummary entries.
type URLListResult struct {
	SiteURL string       `json:"site_url"`
	Start   string       `json:"start"`
	End     string       `json:"end"`
	URLs    []URLSummary `json:"urls"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"has_more"`
	Cached  bool         `json:"cached"`
}
