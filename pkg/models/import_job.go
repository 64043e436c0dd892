package models

import (
	"time"

	"github.com/google/uuid"
)

// ImportStatus is the lifecycle state of an ImportJob.
// State machine:
//
//	pending → running → completed
//	             ↓
//	           failed
//
// completed and failed are terminal.
type ImportStatus string

const (
	ImportStatusPending   ImportStatus = "pending"
	ImportStatusRunning   ImportStatus = "running"
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
)

var importTransitions = map[ImportStatus][]ImportStatus{
	ImportStatusPending: {ImportStatusRunning},
	ImportStatusRunning: {ImportStatusCompleted, ImportStatusFailed},
}

// IsTerminal reports whether no transition leaves s.
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed
}

// CanTransition reports whether an ImportJob may move from one status to another.
func CanTransition(from, to ImportStatus) bool {
	for _, allowed := range importTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses from which to can be entered.
func AllowedFrom(to ImportStatus) []ImportStatus {
	var from []ImportStatus
	for src, targets := range importTransitions {
		for _, t := range targets {
			if t == to {
				from = append(from, src)
			}
		}
	}
	return from
}

// ImportJob records one non-dry-run import invocation.
type ImportJob struct {
	ID           uuid.UUID    `json:"id"`
	SiteURL      string       `json:"site_url"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`
	Dimensions   []string     `json:"dimensions"`
	SearchType   string       `json:"search_type"`
	DataState    string       `json:"data_state"`
	Status       ImportStatus `json:"status"`
	RowsImported int64        `json:"rows_imported"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ImportStatusSummary aggregates recent jobs of one status.
type ImportStatusSummary struct {
	Status     ImportStatus `json:"status"`
	Count      int64        `json:"count"`
	AvgRows    *float64     `json:"avg_rows,omitempty"`
	LastImport *time.Time   `json:"last_import,omitempty"`
}

// ImportFilters narrows an import to one country, device or page pattern.
type ImportFilters struct {
	Country   string `json:"country,omitempty" validate:"omitempty,len=3"`
	Device    string `json:"device,omitempty" validate:"omitempty,oneof=desktop mobile tablet"`
	PageRegex string `json:"pageRegex,omitempty"`
}

// ImportParams is a validated import request.
type ImportParams struct {
	SiteURL    string
	Start      time.Time
	End        time.Time
	Dimensions []string
	SearchType string
	DataState  string
	Filters    ImportFilters
	DryRun     bool
}

// Days returns every calendar date in [Start, End], or nil if End precedes Start.
func (p ImportParams) Days() []time.Time {
	start := truncateDay(p.Start)
	end := truncateDay(p.End)
	if end.Before(start) {
		return nil
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ImportResult is returned to the caller of an import.
type ImportResult struct {
	Status       string     `json:"status"`
	JobID        *uuid.UUID `json:"job_id,omitempty"`
	RowsImported int64      `json:"rows_imported"`
	Days         int        `json:"days"`
	Estimate     *Estimate  `json:"estimate,omitempty"`
}

// Estimate is the outcome of a dry run. It is a heuristic projection from a
// fixed per-dimension multiplier table, not an upstream row count.
type Estimate struct {
	EstimatedRows  int64    `json:"estimated_rows"`
	AvgRowsPerDay  int64    `json:"avg_rows_per_day"`
	DayCount       int      `json:"day_count"`
	Dimensions     []string `json:"dimensions"`
	SearchType     string   `json:"search_type"`
	SampleDays     int      `json:"sample_days"`
	AccessVerified bool     `json:"access_verified"`
}
