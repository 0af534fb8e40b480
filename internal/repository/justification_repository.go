package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// JustificationRepository persists absence justifications.
type JustificationRepository struct {
	db *sqlx.DB
}

// NewJustificationRepository constructs the repository.
func NewJustificationRepository(db *sqlx.DB) *JustificationRepository {
	return &JustificationRepository{db: db}
}

// List returns justifications matching the filter with roster context.
func (r *JustificationRepository) List(ctx context.Context, filter models.JustificationFilter) ([]models.JustificationDetail, int, error) {
	base := `FROM justifications j
JOIN absence_records ar ON ar.id = j.absence_record_id
JOIN sessions se ON se.id = ar.session_id
JOIN modules m ON m.id = se.module_id
JOIN students s ON s.id = j.student_id
WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil && filter.Status.Valid() {
		conditions = append(conditions, fmt.Sprintf("j.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("j.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ModuleID != "" {
		conditions = append(conditions, fmt.Sprintf("se.module_id = $%d", len(args)+1))
		args = append(args, filter.ModuleID)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	allowedSorts := map[string]string{
		"created_at":   "j.created_at",
		"decided_at":   "j.decided_at",
		"session_date": "se.start_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "j.created_at"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT j.id, j.absence_record_id, j.student_id, j.reason, j.attachment_path, j.status, j.decision_note, j.decided_by, j.decided_at, j.created_at, j.updated_at,
        s.full_name AS student_name, m.code AS module_code, se.start_at AS session_date
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)
	var justifications []models.JustificationDetail
	if err := r.db.SelectContext(ctx, &justifications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list justifications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count justifications: %w", err)
	}
	return justifications, total, nil
}

// FindByID fetches one justification with roster context.
func (r *JustificationRepository) FindByID(ctx context.Context, id string) (*models.JustificationDetail, error) {
	const query = `SELECT j.id, j.absence_record_id, j.student_id, j.reason, j.attachment_path, j.status, j.decision_note, j.decided_by, j.decided_at, j.created_at, j.updated_at,
        s.full_name AS student_name, m.code AS module_code, se.start_at AS session_date
        FROM justifications j
        JOIN absence_records ar ON ar.id = j.absence_record_id
        JOIN sessions se ON se.id = ar.session_id
        JOIN modules m ON m.id = se.module_id
        JOIN students s ON s.id = j.student_id
        WHERE j.id = $1`
	var justification models.JustificationDetail
	if err := r.db.GetContext(ctx, &justification, query, id); err != nil {
		return nil, err
	}
	return &justification, nil
}

// ExistsForRecord reports whether the record already has a justification.
func (r *JustificationRepository) ExistsForRecord(ctx context.Context, recordID string) (bool, error) {
	const query = `SELECT 1 FROM justifications WHERE absence_record_id = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, recordID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check justification: %w", err)
	}
	return true, nil
}

// Create files a justification for an absence record.
func (r *JustificationRepository) Create(ctx context.Context, justification *models.Justification) error {
	if justification.ID == "" {
		justification.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if justification.CreatedAt.IsZero() {
		justification.CreatedAt = now
	}
	justification.UpdatedAt = now
	if justification.Status == "" {
		justification.Status = models.JustificationPending
	}
	const query = `INSERT INTO justifications (id, absence_record_id, student_id, reason, attachment_path, status, decision_note, decided_by, decided_at, created_at, updated_at)
        VALUES (:id, :absence_record_id, :student_id, :reason, :attachment_path, :status, :decision_note, :decided_by, :decided_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, justification); err != nil {
		return fmt.Errorf("create justification: %w", err)
	}
	return nil
}

// Decide stores a review decision on a pending justification.
func (r *JustificationRepository) Decide(ctx context.Context, id string, status models.JustificationStatus, note *string, decidedBy string, at time.Time) error {
	const query = `UPDATE justifications SET status = $2, decision_note = $3, decided_by = $4, decided_at = $5, updated_at = $5
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, status, note, decidedBy, at, models.JustificationPending)
	if err != nil {
		return fmt.Errorf("decide justification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide justification: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountPending returns the pending review backlog size.
func (r *JustificationRepository) CountPending(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM justifications WHERE status = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, models.JustificationPending); err != nil {
		return 0, fmt.Errorf("count pending justifications: %w", err)
	}
	return count, nil
}
