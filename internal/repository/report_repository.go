package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ilyes-bd/presence-api/internal/models"
)

const reportJobColumns = "id, type, params, status, progress, result_url, created_by, created_at, finished_at, error_message"

// ReportRepository stores report job rows. The rows are the source of
// truth for the async pipeline, the in-process queue only carries ids.
type ReportRepository struct {
	db *sqlx.DB
}

func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a job, stamping id, status and created_at when unset.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO report_jobs (id, type, params, status, progress, result_url, created_by, created_at, finished_at, error_message)
        VALUES (:id, :type, :params, :status, :progress, :result_url, :created_by, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// GetByID returns one job, sql.ErrNoRows when absent.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	var job models.ReportJob
	query := "SELECT " + reportJobColumns + " FROM report_jobs WHERE id = $1"
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("load report job: %w", err)
	}
	return &job, nil
}

// UpdateReportJobParams selects which job fields to overwrite. Nil
// fields keep their stored value.
type UpdateReportJobParams struct {
	Status       *models.ReportStatus
	Progress     *int
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update overwrites the non-nil fields of one job row.
func (r *ReportRepository) Update(ctx context.Context, id string, params UpdateReportJobParams) error {
	var update setClause
	if params.Status != nil {
		update.set("status", *params.Status)
	}
	if params.Progress != nil {
		update.set("progress", *params.Progress)
	}
	if params.ResultURL != nil {
		update.set("result_url", *params.ResultURL)
	}
	if params.ErrorMessage != nil {
		update.set("error_message", *params.ErrorMessage)
	}
	if params.FinishedAt != nil {
		update.set("finished_at", *params.FinishedAt)
	}
	if update.empty() {
		return nil
	}

	query := fmt.Sprintf("UPDATE report_jobs SET %s WHERE id = $%d", update.clause(), update.next())
	if _, err := r.db.ExecContext(ctx, query, append(update.args, id)...); err != nil {
		return fmt.Errorf("update report job: %w", err)
	}
	return nil
}

// ListQueued returns the oldest still-queued jobs. The API replays them
// into the queue after a restart.
func (r *ReportRepository) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT " + reportJobColumns + " FROM report_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2"
	var pending []models.ReportJob
	if err := r.db.SelectContext(ctx, &pending, query, models.ReportStatusQueued, limit); err != nil {
		return nil, fmt.Errorf("list queued report jobs: %w", err)
	}
	return pending, nil
}

// ListExpiredResults returns finished jobs whose export file outlived
// the cutoff and has not been purged yet.
func (r *ReportRepository) ListExpiredResults(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + reportJobColumns + ` FROM report_jobs
        WHERE status = $1 AND finished_at IS NOT NULL AND finished_at < $2 AND result_url IS NOT NULL AND result_url <> ''
        ORDER BY finished_at ASC LIMIT $3`
	var expired []models.ReportJob
	if err := r.db.SelectContext(ctx, &expired, query, models.ReportStatusFinished, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list expired report jobs: %w", err)
	}
	return expired, nil
}
