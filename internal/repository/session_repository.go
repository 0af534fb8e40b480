package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// SessionRepository persists attendance sessions and feeds the absence
// aggregation with typed session views.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	const query = `INSERT INTO sessions (id, module_id, teacher_id, share_code, room, start_at, ends_at, status, expected_count, present_count, created_at, updated_at)
        VALUES (:id, :module_id, :teacher_id, :share_code, :room, :start_at, :ends_at, :status, :expected_count, :present_count, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID fetches a session with module and teacher context.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.SessionDetail, error) {
	const query = `SELECT se.id, se.module_id, se.teacher_id, se.share_code, se.room, se.start_at, se.ends_at, se.status, se.expected_count, se.present_count, se.created_at, se.updated_at,
        m.code AS module_code, m.title AS module_title, t.full_name AS teacher_name, m.level_id
        FROM sessions se
        JOIN modules m ON m.id = se.module_id
        JOIN teachers t ON t.id = se.teacher_id
        WHERE se.id = $1`
	var detail models.SessionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindActiveByShareCode fetches the open session carrying the share code.
func (r *SessionRepository) FindActiveByShareCode(ctx context.Context, code string) (*models.SessionDetail, error) {
	const query = `SELECT se.id, se.module_id, se.teacher_id, se.share_code, se.room, se.start_at, se.ends_at, se.status, se.expected_count, se.present_count, se.created_at, se.updated_at,
        m.code AS module_code, m.title AS module_title, t.full_name AS teacher_name, m.level_id
        FROM sessions se
        JOIN modules m ON m.id = se.module_id
        JOIN teachers t ON t.id = se.teacher_id
        WHERE se.share_code = $1 AND se.status = $2`
	var detail models.SessionDetail
	if err := r.db.GetContext(ctx, &detail, query, strings.ToUpper(code), models.SessionActive); err != nil {
		return nil, err
	}
	return &detail, nil
}

// HasActiveForModule reports whether the module already has an open session.
func (r *SessionRepository) HasActiveForModule(ctx context.Context, moduleID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE module_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, moduleID, models.SessionActive); err != nil {
		return false, fmt.Errorf("check active session: %w", err)
	}
	return count > 0, nil
}

// List returns sessions matching the filter with context joins.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, int, error) {
	base := `FROM sessions se
JOIN modules m ON m.id = se.module_id
JOIN teachers t ON t.id = se.teacher_id
WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.ModuleID != "" {
		conditions = append(conditions, fmt.Sprintf("se.module_id = $%d", len(args)+1))
		args = append(args, filter.ModuleID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("se.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.LevelID != "" {
		conditions = append(conditions, fmt.Sprintf("m.level_id = $%d", len(args)+1))
		args = append(args, filter.LevelID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		conditions = append(conditions, fmt.Sprintf("se.status = $%d", len(args)+1))
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
		sortBy = "start_at"
	}
	allowedSorts := map[string]string{
		"start_at":    "se.start_at",
		"module_code": "m.code",
		"created_at":  "se.created_at",
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

	query := fmt.Sprintf(`SELECT se.id, se.module_id, se.teacher_id, se.share_code, se.room, se.start_at, se.ends_at, se.status, se.expected_count, se.present_count, se.created_at, se.updated_at,
        m.code AS module_code, m.title AS module_title, t.full_name AS teacher_name, m.level_id
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)
	var sessions []models.SessionDetail
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// Close marks a session ended and freezes its present count.
func (r *SessionRepository) Close(ctx context.Context, id string, presentCount int, at time.Time) error {
	const query = `UPDATE sessions SET status = $2, present_count = $3, updated_at = $4 WHERE id = $1 AND status = $5`
	if _, err := r.db.ExecContext(ctx, query, id, models.SessionEnded, presentCount, at, models.SessionActive); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// ListExpired returns open sessions whose end time has passed, for the
// auto close sweep.
func (r *SessionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, module_id, teacher_id, share_code, room, start_at, ends_at, status, expected_count, present_count, created_at, updated_at
        FROM sessions WHERE status = $1 AND ends_at < $2 ORDER BY ends_at ASC LIMIT $3`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, models.SessionActive, now, limit); err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	return sessions, nil
}

type attendanceSessionRow struct {
	ID            string               `db:"id"`
	ModuleCode    string               `db:"module_code"`
	TeacherID     string               `db:"teacher_id"`
	StartAt       time.Time            `db:"start_at"`
	Status        models.SessionStatus `db:"status"`
	ExpectedCount int                  `db:"expected_count"`
	PresentCount  int                  `db:"present_count"`
}

type absenceEntryRow struct {
	SessionID string             `db:"session_id"`
	StudentID string             `db:"student_id"`
	Type      models.AbsenceType `db:"absence_type"`
}

// ListAttendanceSessions loads closed sessions in the range together
// with their typed absence entries. The absence type is derived from
// the record's justification: approved makes it justified, pending
// keeps it pending, rejected or missing leaves it unjustified.
func (r *SessionRepository) ListAttendanceSessions(ctx context.Context, rng models.DateRange, moduleCode, levelID string) ([]models.AttendanceSession, error) {
	base := `SELECT se.id, m.code AS module_code, se.teacher_id, se.start_at, se.status, se.expected_count, se.present_count
FROM sessions se
JOIN modules m ON m.id = se.module_id
WHERE se.status = $1 AND se.start_at >= $2 AND se.start_at <= $3`
	args := []interface{}{models.SessionEnded, rng.Start, rng.End}
	if moduleCode != "" {
		base += fmt.Sprintf(" AND UPPER(m.code) = UPPER($%d)", len(args)+1)
		args = append(args, moduleCode)
	}
	if levelID != "" {
		base += fmt.Sprintf(" AND m.level_id = $%d", len(args)+1)
		args = append(args, levelID)
	}
	base += " ORDER BY se.start_at ASC"

	var rows []attendanceSessionRow
	if err := r.db.SelectContext(ctx, &rows, base, args...); err != nil {
		return nil, fmt.Errorf("list attendance sessions: %w", err)
	}
	if len(rows) == 0 {
		return []models.AttendanceSession{}, nil
	}

	sessions := make([]models.AttendanceSession, len(rows))
	index := make(map[string]int, len(rows))
	ids := make([]string, len(rows))
	for i, row := range rows {
		sessions[i] = models.AttendanceSession{
			ID:            row.ID,
			ModuleCode:    row.ModuleCode,
			TeacherID:     row.TeacherID,
			StartAt:       row.StartAt,
			Status:        row.Status,
			ExpectedCount: row.ExpectedCount,
			PresentCount:  row.PresentCount,
			Absences:      []models.AbsenceEntry{},
		}
		index[row.ID] = i
		ids[i] = row.ID
	}

	const entryQuery = `SELECT ar.session_id, e.student_id,
        CASE WHEN j.status = 'APPROVED' THEN 'justified'
             WHEN j.status = 'PENDING' THEN 'pending'
             ELSE 'unjustified' END AS absence_type
        FROM absence_records ar
        JOIN enrollments e ON e.id = ar.enrollment_id
        LEFT JOIN justifications j ON j.absence_record_id = ar.id
        WHERE ar.status = $1 AND ar.session_id = ANY($2)`
	var entries []absenceEntryRow
	if err := r.db.SelectContext(ctx, &entries, entryQuery, models.RecordAbsent, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list absence entries: %w", err)
	}
	for _, entry := range entries {
		i, ok := index[entry.SessionID]
		if !ok {
			continue
		}
		sessions[i].Absences = append(sessions[i].Absences, models.AbsenceEntry{
			StudentID: entry.StudentID,
			Type:      entry.Type,
		})
	}
	return sessions, nil
}
