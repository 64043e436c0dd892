package models

import "time"

// DateLayout is the calendar-date format used by the Search Console API.
const DateLayout = "2006-01-02"

// UnknownDimension fills country and device when a row does not carry them.
const UnknownDimension = "UNKNOWN"

const (
	DimensionPage    = "page"
	DimensionQuery   = "query"
	DimensionCountry = "country"
	DimensionDevice  = "device"
)

// DefaultDimensions is the dimension set requested when none is given.
var DefaultDimensions = []string{DimensionPage, DimensionQuery, DimensionCountry, DimensionDevice}

// ValidDimensions lists the dimensions an import may request.
var ValidDimensions = []string{DimensionPage, DimensionQuery, DimensionCountry, DimensionDevice}

const (
	SearchTypeWeb   = "web"
	SearchTypeImage = "image"
	SearchTypeVideo = "video"
	SearchTypeNews  = "news"

	DataStateAll   = "all"
	DataStateFinal = "final"
)

// ValidDevices lists the device values accepted as filters.
var ValidDevices = []string{"desktop", "mobile", "tablet"}

// AnalyticsFact is one ingested performance record. At most one fact exists per
// FactKey; re-ingesting a key overwrites the metrics and IngestedAt.
type AnalyticsFact struct {
	SiteURL        string    `json:"site_url"`
	Date           time.Time `json:"date"`
	PageRaw        string    `json:"page_raw"`
	PageNormalized string    `json:"page_normalized"`
	Query          string    `json:"query"`
	Country        string    `json:"country"`
	Device         string    `json:"device"`
	SearchType     string    `json:"search_type"`
	DataState      string    `json:"data_state"`
	Clicks         int64     `json:"clicks"`
	Impressions    int64     `json:"impressions"`
	CTR            float64   `json:"ctr"`
	Position       float64   `json:"position"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// FactKey is the uniqueness tuple of an AnalyticsFact.
type FactKey struct {
	SiteURL        string
	Date           string
	PageNormalized string
	Query          string
	Country        string
	Device         string
}

// Key returns the uniqueness tuple of the fact.
func (f *AnalyticsFact) Key() FactKey {
	return FactKey{
		SiteURL:        f.SiteURL,
		Date:           f.Date.Format(DateLayout),
		PageNormalized: f.PageNormalized,
		Query:          f.Query,
		Country:        f.Country,
		Device:         f.Device,
	}
}

// FactStats summarizes the stored facts.
type FactStats struct {
	TotalRows     int64      `json:"total_rows"`
	UniqueSites   int64      `json:"unique_sites"`
	EarliestDate  *time.Time `json:"earliest_date,omitempty"`
	LatestDate    *time.Time `json:"latest_date,omitempty"`
	LastIngestion *time.Time `json:"last_ingestion,omitempty"`
}

// DateRange is the span of dates stored for one site.
type DateRange struct {
	MinDate   *time.Time `json:"min_date,omitempty"`
	MaxDate   *time.Time `json:"max_date,omitempty"`
	TotalDays int64      `json:"total_days"`
}
