package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-gsc/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gsc/pkg/database"
	"github.com/ekaya-inc/ekaya-gsc/pkg/models"
)

// ImportJobRepository stores import jobs and enforces their state machine.
type ImportJobRepository interface {
	// Create inserts job in pending state, assigning an ID if it has none.
	Create(ctx context.Context, job *models.ImportJob) error
	Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error)
	// UpdateStatus moves a job to status. It returns apperrors.ErrInvalidTransition
	// when the stored status does not allow it and apperrors.ErrNotFound when
	// the job does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ImportStatus, errMsg *string, rowsImported *int64) error
	ListRecent(ctx context.Context, limit int) ([]*models.ImportJob, error)
	StatusSummary(ctx context.Context, since time.Time) ([]models.ImportStatusSummary, error)
}

type importJobRepository struct {
	db *database.DB
}

// NewImportJobRepository creates a PostgreSQL-backed job store.
func NewImportJobRepository(db *database.DB) ImportJobRepository {
	return &importJobRepository{db: db}
}

var _ ImportJobRepository = (*importJobRepository)(nil)

const importJobColumns = `id, site_url, start_date, end_date, dimensions, search_type, data_state,
	status, rows_imported, error_message, started_at, completed_at, created_at`

func (r *importJobRepository) Create(ctx context.Context, job *models.ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.ImportStatusPending
	job.CreatedAt = time.Now().UTC()
	if job.Dimensions == nil {
		job.Dimensions = []string{}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO import_jobs (id, site_url, start_date, end_date, dimensions, search_type, data_state, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.SiteURL, job.StartDate, job.EndDate, job.Dimensions,
		job.SearchType, job.DataState, string(job.Status), job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

func (r *importJobRepository) Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	row := r.db.QueryRow(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id)
	job, err := scanImportJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	return job, err
}

func (r *importJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ImportStatus, errMsg *string, rowsImported *int64) error {
	allowed := models.AllowedFrom(status)
	if len(allowed) == 0 {
		return fmt.Errorf("%w: nothing transitions to %s", apperrors.ErrInvalidTransition, status)
	}
	from := make([]string, len(allowed))
	for i, s := range allowed {
		from[i] = string(s)
	}

	now := time.Now().UTC()
	var startedAt, completedAt *time.Time
	switch {
	case status == models.ImportStatusRunning:
		startedAt = &now
	case status.IsTerminal():
		completedAt = &now
	}

	result, err := r.db.Exec(ctx, `
		UPDATE import_jobs
		SET status = $2,
		    error_message = COALESCE($3, error_message),
		    rows_imported = COALESCE($4, rows_imported),
		    started_at = COALESCE($5, started_at),
		    completed_at = COALESCE($6, completed_at)
		WHERE id = $1 AND status = ANY($7)`,
		id, string(status), errMsg, rowsImported, startedAt, completedAt, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update import job status: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, current.Status, status)
}

func (r *importJobRepository) ListRecent(ctx context.Context, limit int) ([]*models.ImportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+importJobColumns+`
		FROM import_jobs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ImportJob
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate import jobs: %w", err)
	}
	return jobs, nil
}

func (r *importJobRepository) StatusSummary(ctx context.Context, since time.Time) ([]models.ImportStatusSummary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*), AVG(rows_imported)::DOUBLE PRECISION, MAX(completed_at)
		FROM import_jobs
		WHERE created_at >= $1
		GROUP BY status
		ORDER BY status`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize import jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ImportStatusSummary
	for rows.Next() {
		var s models.ImportStatusSummary
		var status string
		if err := rows.Scan(&status, &s.Count, &s.AvgRows, &s.LastImport); err != nil {
			return nil, fmt.Errorf("failed to scan import summary: %w", err)
		}
		s.Status = models.ImportStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanImportJob(row pgx.Row) (*models.ImportJob, error) {
	var job models.ImportJob
	var status string
	err := row.Scan(
		&job.ID, &job.SiteURL, &job.StartDate, &job.EndDate, &job.Dimensions,
		&job.SearchType, &job.DataState, &status, &job.RowsImported, &job.ErrorMessage,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan import job: %w", err)
	}
	job.Status = models.ImportStatus(status)
	return &job, nil
}
