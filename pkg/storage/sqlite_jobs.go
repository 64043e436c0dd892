package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
	"github.com/ekaya-inc/ekaya-gsc/pkg/repositories"
)

type sqliteJobs struct {
	db *sql.DB
}

var _ repositories.ImportJobRepository = (*sqliteJobs)(nil)

const jobColumns = `id, site_url, start_date, end_date, dimensions, search_type, data_state,
	status, rows_imported, error_message, started_at, completed_at, created_at`

func (r *sqliteJobs) Create(ctx context.Context, job *models.ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.ImportStatusPending
	job.CreatedAt = time.Now().UTC()
	if job.Dimensions == nil {
		job.Dimensions = []string{}
	}
	dims, err := json.Marshal(job.Dimensions)
	if err != nil {
		return fmt.Errorf("failed to encode dimensions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO import_jobs (id, site_url, start_date, end_date, dimensions, search_type, data_state, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.SiteURL, formatDate(job.StartDate), formatDate(job.EndDate), string(dims),
		job.SearchType, job.DataState, string(job.Status), formatTime(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

func (r *sqliteJobs) Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = ?`, id.String())
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return job, err
}

func (r *sqliteJobs) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ImportStatus, errMsg *string, rowsImported *int64) error {
	allowed := models.AllowedFrom(status)
	if len(allowed) == 0 {
		return fmt.Errorf("%w: nothing transitions to %s", apperrors.ErrInvalidTransition, status)
	}

	var startedAt, completedAt any
	now := formatTime(time.Now())
	switch {
	case status == models.ImportStatusRunning:
		startedAt = now
	case status.IsTerminal():
		completedAt = now
	}

	args := []any{string(status), errMsg, rowsImported, startedAt, completedAt, id.String()}
	for _, s := range allowed {
		args = append(args, string(s))
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = ?,
		    error_message = COALESCE(?, error_message),
		    rows_imported = COALESCE(?, rows_imported),
		    started_at = COALESCE(?, started_at),
		    completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status IN (`+placeholders(len(allowed))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to update import job status: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, current.Status, status)
}

func (r *sqliteJobs) ListRecent(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM import_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ImportJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *sqliteJobs) StatusSummary(ctx context.Context, since time.Time) ([]models.ImportStatusSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*), AVG(rows_imported), MAX(completed_at)
		FROM import_jobs
		WHERE created_at >= ?
		GROUP BY status
		ORDER BY status`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to summarize import jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ImportStatusSummary
	for rows.Next() {
		var (
			s      models.ImportStatusSummary
			status string
			avg    sql.NullFloat64
			last   sql.NullString
		)
		if err := rows.Scan(&status, &s.Count, &avg, &last); err != nil {
			return nil, fmt.Errorf("failed to scan import summary: %w", err)
		}
		s.Status = models.ImportStatus(status)
		if avg.Valid {
			s.AvgRows = &avg.Float64
		}
		if s.LastImport, err = parseNullTime(last); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSQLiteJob(row rowScanner) (*models.ImportJob, error) {
	var (
		job                   models.ImportJob
		id, start, end, dims  string
		status, createdAt     string
		errMsg                sql.NullString
		startedAt, completeAt sql.NullString
	)
	err := row.Scan(&id, &job.SiteURL, &start, &end, &dims, &job.SearchType, &job.DataState,
		&status, &job.RowsImported, &errMsg, &startedAt, &completeAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan import job: %w", err)
	}

	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid stored job id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(dims), &job.Dimensions); err != nil {
		return nil, fmt.Errorf("invalid stored dimensions: %w", err)
	}
	job.Status = models.ImportStatus(status)
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if job.StartDate, err = parseDate(start); err != nil {
		return nil, err
	}
	if job.EndDate, err = parseDate(end); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullTime(completeAt); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &job, nil
}
