package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/exam-core-api/internal/models"
)

// ExportJobRepository persists report-card export jobs.
type ExportJobRepository struct {
	db *sqlx.DB
}

// NewExportJobRepository creates a new export job repository.
func NewExportJobRepository(db *sqlx.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

// Create inserts a queued export job.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO export_jobs (id, generation_id, format, status, progress, result_url, error_message, created_by, created_at, finished_at)
        VALUES (:id, :generation_id, :format, :status, :progress, :result_url, :error_message, :created_by, :created_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// FindByID returns an export job by identifier.
func (r *ExportJobRepository) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	const query = `SELECT id, generation_id, format, status, progress, result_url, error_message, created_by, created_at, finished_at FROM export_jobs WHERE id = $1 LIMIT 1`
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find export job: %w", err)
	}
	return &job, nil
}

// UpdateExportJobParams carries the mutable fields of an export job. Nil
// pointers are skipped.
type UpdateExportJobParams struct {
	Status       *models.ExportStatus
	Progress     *int
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update applies the non-nil fields of params to a job.
func (r *ExportJobRepository) Update(ctx context.Context, id string, params UpdateExportJobParams) error {
	setClauses := ""
	var args []interface{}
	add := func(column string, value interface{}) {
		if setClauses != "" {
			setClauses += ", "
		}
		args = append(args, value)
		setClauses += fmt.Sprintf("%s = $%d", column, len(args))
	}
	if params.Status != nil {
		add("status", *params.Status)
	}
	if params.Progress != nil {
		add("progress", *params.Progress)
	}
	if params.ResultURL != nil {
		add("result_url", *params.ResultURL)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.FinishedAt != nil {
		add("finished_at", *params.FinishedAt)
	}
	if setClauses == "" {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE export_jobs SET %s WHERE id = $%d", setClauses, len(args))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	return nil
}

// ListPending returns jobs still waiting for a worker, oldest first. Used to
// replay the queue after a restart.
func (r *ExportJobRepository) ListPending(ctx context.Context) ([]models.ExportJob, error) {
	const query = `SELECT id, generation_id, format, status, progress, result_url, error_message, created_by, created_at, finished_at FROM export_jobs WHERE status IN ('QUEUED', 'PROCESSING') ORDER BY created_at ASC`
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("list pending export jobs: %w", err)
	}
	return jobs, nil
}

// ListFinishedBefore returns finished jobs older than the cutoff, used by the
// export file cleanup loop.
func (r *ExportJobRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, generation_id, format, status, progress, result_url, error_message, created_by, created_at, finished_at FROM export_jobs WHERE status = 'FINISHED' AND finished_at IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2`
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished export jobs: %w", err)
	}
	return jobs, nil
}
