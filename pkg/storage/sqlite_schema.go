package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// sqliteSchema mirrors the PostgreSQL migrations. The daily rollup is a plain
// view, so refreshing it is a no-op.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS oauth_google_accounts (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    email                   TEXT NOT NULL UNIQUE,
    scope                   TEXT NOT NULL DEFAULT '',
    access_token            TEXT,
    refresh_token           TEXT NOT NULL,
    access_token_expires_at TEXT,
    created_at              TEXT NOT NULL,
    updated_at              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS gsc_properties (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    site_url      TEXT NOT NULL UNIQUE,
    property_type TEXT NOT NULL,
    display_name  TEXT NOT NULL,
    is_active     INTEGER NOT NULL DEFAULT 1,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS gsc_search_analytics (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    site_url        TEXT NOT NULL,
    date            TEXT NOT NULL,
    page_raw        TEXT NOT NULL DEFAULT '',
    page_normalized TEXT NOT NULL DEFAULT '',
    query           TEXT NOT NULL DEFAULT '',
    country         TEXT NOT NULL DEFAULT 'UNKNOWN',
    device          TEXT NOT NULL DEFAULT 'UNKNOWN',
    search_type     TEXT NOT NULL DEFAULT 'web',
    data_state      TEXT NOT NULL DEFAULT 'final',
    clicks          INTEGER NOT NULL DEFAULT 0,
    impressions     INTEGER NOT NULL DEFAULT 0,
    ctr             REAL NOT NULL DEFAULT 0,
    position        REAL NOT NULL DEFAULT 0,
    ingested_at     TEXT NOT NULL,
    UNIQUE (site_url, date, page_normalized, query, country, device)
);

CREATE INDEX IF NOT EXISTS idx_gsc_search_analytics_page
    ON gsc_search_analytics (site_url, page_normalized, date);

CREATE TABLE IF NOT EXISTS import_jobs (
    id            TEXT PRIMARY KEY,
    site_url      TEXT NOT NULL,
    start_date    TEXT NOT NULL,
    end_date      TEXT NOT NULL,
    dimensions    TEXT NOT NULL DEFAULT '[]',
    search_type   TEXT NOT NULL DEFAULT 'web',
    data_state    TEXT NOT NULL DEFAULT 'final',
    status        TEXT NOT NULL DEFAULT 'pending',
    rows_imported INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    started_at    TEXT,
    completed_at  TEXT,
    created_at    TEXT NOT NULL
);

CREATE VIEW IF NOT EXISTS gsc_url_daily AS
SELECT
    site_url,
    date,
    page_normalized,
    country,
    device,
    SUM(clicks)      AS clicks,
    SUM(impressions) AS impressions,
    SUM(position * impressions) AS weighted_position
FROM gsc_search_analytics
GROUP BY site_url, date, page_normalized, country, device;
`

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t, nil
}

func parseNullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
