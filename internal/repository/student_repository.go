package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	var clause filterClause
	if filter.LevelID != "" {
		clause.add("s.level_id = ?", filter.LevelID)
	}
	if filter.Active != nil {
		clause.add("s.active = ?", *filter.Active)
	}
	if filter.Search != "" {
		clause.add("(LOWER(s.full_name) LIKE ? OR LOWER(s.number) LIKE ? OR LOWER(s.email) LIKE ?)", "%"+strings.ToLower(filter.Search)+"%")
	}

	base := "FROM students s LEFT JOIN levels l ON l.id = s.level_id WHERE 1=1" + clause.where()

	column := sortColumn(map[string]string{
		"full_name":  "s.full_name",
		"number":     "s.number",
		"created_at": "s.created_at",
	}, filter.SortBy, "full_name")
	order := sortDirection(filter.SortOrder, "ASC")
	limit, offset := pageWindow(filter.Page, filter.PageSize, 20, 100)

	query := fmt.Sprintf(`SELECT s.id, s.number, s.full_name, s.email, s.level_id, s.user_id, s.active, s.created_at, s.updated_at,
        l.name AS level_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, limit, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, clause.args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, clause.args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student detail by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	const query = `SELECT s.id, s.number, s.full_name, s.email, s.level_id, s.user_id, s.active, s.created_at, s.updated_at,
        l.name AS level_name
        FROM students s
        LEFT JOIN levels l ON l.id = s.level_id
        WHERE s.id = $1`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("load student: %w", err)
	}
	return &detail, nil
}

// FindByUserID fetches the student linked to the given account.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	const query = `SELECT id, number, full_name, email, level_id, user_id, active, created_at, updated_at FROM students WHERE user_id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("load student profile: %w", err)
	}
	return &student, nil
}

// ListByLevel returns the active students of a level in roster order.
func (r *StudentRepository) ListByLevel(ctx context.Context, levelID string) ([]models.Student, error) {
	const query = `SELECT id, number, full_name, email, level_id, user_id, active, created_at, updated_at
        FROM students WHERE level_id = $1 AND active ORDER BY full_name ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, levelID); err != nil {
		return nil, fmt.Errorf("list level students: %w", err)
	}
	return students, nil
}

// NamesByIDs resolves display names for a batch of students.
func (r *StudentRepository) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	const query = `SELECT id, full_name FROM students WHERE id = ANY($1)`
	rows, err := r.db.QueryxContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("resolve student names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan student name: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate student names: %w", err)
	}
	return names, nil
}

// ExistsByNumber checks if a student with the given number exists, optionally excluding an ID.
func (r *StudentRepository) ExistsByNumber(ctx context.Context, number string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE number = $1"
	args := []interface{}{number}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check student number: %w", err)
	}
	return true, nil
}

// ExistsByEmail checks if a student with the given email exists, optionally excluding an ID.
func (r *StudentRepository) ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE LOWER(email) = LOWER($1)"
	args := []interface{}{email}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check student email: %w", err)
	}
	return true, nil
}

// NextNumber returns the next free sequential student number for imports.
func (r *StudentRepository) NextNumber(ctx context.Context) (string, error) {
	const query = `SELECT COALESCE(MAX(CAST(number AS INTEGER)), 0) + 1 FROM students WHERE number ~ '^[0-9]+$'`
	var next int
	if err := r.db.GetContext(ctx, &next, query); err != nil {
		return "", fmt.Errorf("next student number: %w", err)
	}
	return fmt.Sprintf("%06d", next), nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, number, full_name, email, level_id, user_id, active, created_at, updated_at)
        VALUES (:id, :number, :full_name, :email, :level_id, :user_id, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies an existing student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET number = :number, full_name = :full_name, email = :email, level_id = :level_id, user_id = :user_id, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Deactivate marks a student as inactive.
func (r *StudentRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE students SET active = false, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate student: %w", err)
	}
	return nil
}

// LinkUser attaches a login account to a student profile.
func (r *StudentRepository) LinkUser(ctx context.Context, id, userID string) error {
	const query = `UPDATE students SET user_id = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("link student account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("link student account: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
