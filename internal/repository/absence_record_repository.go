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

// AbsenceRecordRepository persists per session attendance records.
type AbsenceRecordRepository struct {
	db *sqlx.DB
}

// NewAbsenceRecordRepository constructs the repository.
func NewAbsenceRecordRepository(db *sqlx.DB) *AbsenceRecordRepository {
	return &AbsenceRecordRepository{db: db}
}

const recordDetailColumns = `ar.id, ar.session_id, ar.enrollment_id, ar.status, ar.marked_at, ar.created_at, ar.updated_at,
        e.student_id, s.full_name AS student_name, m.code AS module_code, se.start_at AS session_date,
        CASE WHEN ar.status <> 'ABSENT' THEN ''
             WHEN j.status = 'APPROVED' THEN 'justified'
             WHEN j.status = 'PENDING' THEN 'pending'
             ELSE 'unjustified' END AS absence_type`

const recordDetailJoins = `FROM absence_records ar
JOIN enrollments e ON e.id = ar.enrollment_id
JOIN students s ON s.id = e.student_id
JOIN sessions se ON se.id = ar.session_id
JOIN modules m ON m.id = se.module_id
LEFT JOIN justifications j ON j.absence_record_id = ar.id`

// List returns attendance records matching the filter with derived types.
func (r *AbsenceRecordRepository) List(ctx context.Context, filter models.AbsenceRecordFilter) ([]models.AbsenceRecordDetail, int, error) {
	base := recordDetailJoins + "\nWHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("ar.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ModuleID != "" {
		conditions = append(conditions, fmt.Sprintf("se.module_id = $%d", len(args)+1))
		args = append(args, filter.ModuleID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("ar.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("se.start_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("se.start_at <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "session_date"
	}
	allowedSorts := map[string]string{
		"session_date": "se.start_at",
		"student_name": "s.full_name",
		"created_at":   "ar.created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "se.start_at"
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
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s\n%s ORDER BY %s %s LIMIT %d OFFSET %d", recordDetailColumns, base, column, order, size, offset)
	var records []models.AbsenceRecordDetail
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list absence records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count absence records: %w", err)
	}
	return records, total, nil
}

// FindByID fetches one record with roster context and derived type.
func (r *AbsenceRecordRepository) FindByID(ctx context.Context, id string) (*models.AbsenceRecordDetail, error) {
	query := fmt.Sprintf("SELECT %s\n%s\nWHERE ar.id = $1", recordDetailColumns, recordDetailJoins)
	var record models.AbsenceRecordDetail
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindBySessionAndEnrollment fetches the record a session holds for an
// enrollment, if any.
func (r *AbsenceRecordRepository) FindBySessionAndEnrollment(ctx context.Context, sessionID, enrollmentID string) (*models.AbsenceRecord, error) {
	const query = `SELECT id, session_id, enrollment_id, status, marked_at, created_at, updated_at
        FROM absence_records WHERE session_id = $1 AND enrollment_id = $2`
	var record models.AbsenceRecord
	if err := r.db.GetContext(ctx, &record, query, sessionID, enrollmentID); err != nil {
		return nil, err
	}
	return &record, nil
}

// Create inserts a single record. Duplicate marks for the same session
// and enrollment surface as sql.ErrNoRows.
func (r *AbsenceRecordRepository) Create(ctx context.Context, record *models.AbsenceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO absence_records (id, session_id, enrollment_id, status, marked_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (session_id, enrollment_id) DO NOTHING
        RETURNING id`
	var insertedID string
	if err := r.db.QueryRowxContext(ctx, query, record.ID, record.SessionID, record.EnrollmentID, record.Status, record.MarkedAt, record.CreatedAt, record.UpdatedAt).Scan(&insertedID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("create absence record: %w", err)
	}
	return nil
}

// BulkInsert writes the remaining records when a session closes,
// skipping pairs already marked during the session.
func (r *AbsenceRecordRepository) BulkInsert(ctx context.Context, records []models.AbsenceRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk absence records: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()
	const query = `INSERT INTO absence_records (id, session_id, enrollment_id, status, marked_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (session_id, enrollment_id) DO NOTHING`
	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, query, rec.ID, rec.SessionID, rec.EnrollmentID, rec.Status, rec.MarkedAt, rec.CreatedAt, rec.UpdatedAt); err != nil {
			return fmt.Errorf("bulk insert absence records: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk absence records: %w", err)
	}
	commit = true
	return nil
}

// MarkedEnrollmentIDs returns every enrollment already holding a record
// for the session. Used at close time to find who never checked in.
func (r *AbsenceRecordRepository) MarkedEnrollmentIDs(ctx context.Context, sessionID string) ([]string, error) {
	const query = `SELECT enrollment_id FROM absence_records WHERE session_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, sessionID); err != nil {
		return nil, fmt.Errorf("list marked enrollments: %w", err)
	}
	return ids, nil
}

// CountBySession tallies records per status for a session.
func (r *AbsenceRecordRepository) CountBySession(ctx context.Context, sessionID string) (present int, absent int, err error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE status = 'PRESENT') AS present,
        COUNT(*) FILTER (WHERE status = 'ABSENT') AS absent
        FROM absence_records WHERE session_id = $1`
	row := r.db.QueryRowxContext(ctx, query, sessionID)
	if err = row.Scan(&present, &absent); err != nil {
		return 0, 0, fmt.Errorf("count session records: %w", err)
	}
	return present, absent, nil
}
