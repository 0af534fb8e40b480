package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// EnrollmentRepository manages student/module enrollments together with
// their denormalised absence counters and exclusion flags.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs an EnrollmentRepository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments matching the filter with roster context.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var clause filterClause
	if filter.StudentID != "" {
		clause.add("e.student_id = ?", filter.StudentID)
	}
	if filter.ModuleID != "" {
		clause.add("e.module_id = ?", filter.ModuleID)
	}
	if filter.Excluded != nil {
		clause.add("e.excluded = ?", *filter.Excluded)
	}
	base := `FROM enrollments e
JOIN students s ON s.id = e.student_id
JOIN modules m ON m.id = e.module_id
WHERE 1=1` + clause.where()

	column := sortColumn(map[string]string{
		"student_name": "s.full_name",
		"module_code":  "m.code",
		"absences":     "e.absences",
		"enrolled_at":  "e.enrolled_at",
	}, filter.SortBy, "student_name")
	limit, offset := pageWindow(filter.Page, filter.PageSize, 50, 200)

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.module_id, e.absences, e.absences_justified, e.excluded, e.excluded_at, e.enrolled_at,
        s.full_name AS student_name, s.number AS student_number, m.code AS module_code, m.title AS module_title
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, sortDirection(filter.SortOrder, "ASC"), limit, offset)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, clause.args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, clause.args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID fetches a single enrollment.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, module_id, absences, absences_justified, excluded, excluded_at, enrolled_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByStudentAndModule fetches the enrollment linking a student to a module.
func (r *EnrollmentRepository) FindByStudentAndModule(ctx context.Context, studentID, moduleID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, module_id, absences, absences_justified, excluded, excluded_at, enrolled_at FROM enrollments WHERE student_id = $1 AND module_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, moduleID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListByModule returns every enrollment of a module with roster context,
// in roster order. Used to freeze the expected headcount at session open
// and to fill absent records at close.
func (r *EnrollmentRepository) ListByModule(ctx context.Context, moduleID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.module_id, e.absences, e.absences_justified, e.excluded, e.excluded_at, e.enrolled_at,
        s.full_name AS student_name, s.number AS student_number, m.code AS module_code, m.title AS module_title
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN modules m ON m.id = e.module_id
        WHERE e.module_id = $1 AND s.active
        ORDER BY s.full_name ASC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, moduleID); err != nil {
		return nil, fmt.Errorf("list module enrollments: %w", err)
	}
	return enrollments, nil
}

// Create registers a student to a module.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, student_id, module_id, absences, absences_justified, excluded, excluded_at, enrolled_at)
        VALUES (:id, :student_id, :module_id, :absences, :absences_justified, :excluded, :excluded_at, :enrolled_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Delete removes an enrollment.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

// IncrementAbsences bumps the running absence counter for the given
// enrollments. Called once per enrollment when a session closes.
func (r *EnrollmentRepository) IncrementAbsences(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE enrollments SET absences = absences + 1 WHERE id = ANY($1)`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("increment absences: %w", err)
	}
	return nil
}

// AdjustJustified moves the justified counter by delta when a
// justification decision lands.
func (r *EnrollmentRepository) AdjustJustified(ctx context.Context, id string, delta int) error {
	const query = `UPDATE enrollments SET absences_justified = GREATEST(absences_justified + $2, 0) WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, delta); err != nil {
		return fmt.Errorf("adjust justified counter: %w", err)
	}
	return nil
}

// SetExcluded flips the exclusion flag on an enrollment.
func (r *EnrollmentRepository) SetExcluded(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE enrollments SET excluded = TRUE, excluded_at = $2 WHERE id = $1 AND excluded = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("set enrollment excluded: %w", err)
	}
	return nil
}

// ClearExcluded reinstates an excluded enrollment.
func (r *EnrollmentRepository) ClearExcluded(ctx context.Context, id string) error {
	const query = `UPDATE enrollments SET excluded = FALSE, excluded_at = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("clear enrollment excluded: %w", err)
	}
	return nil
}

// CountByStudent returns how many modules a student is enrolled in.
func (r *EnrollmentRepository) CountByStudent(ctx context.Context, studentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE student_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count student enrollments: %w", err)
	}
	return count, nil
}
