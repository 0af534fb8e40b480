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

// LevelRepository manages persistence for study levels.
type LevelRepository struct {
	db *sqlx.DB
}

// NewLevelRepository constructs a new level repository.
func NewLevelRepository(db *sqlx.DB) *LevelRepository {
	return &LevelRepository{db: db}
}

// List returns levels matching filter criteria with headcounts.
func (r *LevelRepository) List(ctx context.Context, filter models.LevelFilter) ([]models.LevelDetail, int, error) {
	base := "FROM levels l WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Year != "" {
		conditions = append(conditions, fmt.Sprintf("l.academic_year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(l.name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "name"
	}
	allowedSorts := map[string]string{
		"name":          "l.name",
		"academic_year": "l.academic_year",
		"created_at":    "l.created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "l.name"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT l.id, l.name, l.academic_year, l.created_at, l.updated_at,
        (SELECT COUNT(*) FROM students s WHERE s.level_id = l.id AND s.active) AS student_count,
        (SELECT COUNT(*) FROM modules m WHERE m.level_id = l.id AND m.active) AS module_count
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)
	var levels []models.LevelDetail
	if err := r.db.SelectContext(ctx, &levels, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list levels: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count levels: %w", err)
	}
	return levels, total, nil
}

// ListAll returns every level ordered by name, for small lookups.
func (r *LevelRepository) ListAll(ctx context.Context) ([]models.Level, error) {
	const query = `SELECT id, name, academic_year, created_at, updated_at FROM levels ORDER BY name ASC`
	var levels []models.Level
	if err := r.db.SelectContext(ctx, &levels, query); err != nil {
		return nil, fmt.Errorf("list all levels: %w", err)
	}
	return levels, nil
}

// FindByID returns a level record by ID.
func (r *LevelRepository) FindByID(ctx context.Context, id string) (*models.Level, error) {
	const query = `SELECT id, name, academic_year, created_at, updated_at FROM levels WHERE id = $1`
	var level models.Level
	if err := r.db.GetContext(ctx, &level, query, id); err != nil {
		return nil, err
	}
	return &level, nil
}

// FindByName returns a level matching the given name exactly.
func (r *LevelRepository) FindByName(ctx context.Context, name string) (*models.Level, error) {
	const query = `SELECT id, name, academic_year, created_at, updated_at FROM levels WHERE LOWER(name) = LOWER($1)`
	var level models.Level
	if err := r.db.GetContext(ctx, &level, query, name); err != nil {
		return nil, err
	}
	return &level, nil
}

// ExistsByName checks if a level with the same name already exists.
func (r *LevelRepository) ExistsByName(ctx context.Context, name string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM levels WHERE LOWER(name) = LOWER($1)"
	args := []interface{}{name}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check level name: %w", err)
	}
	return true, nil
}

// Create persists a level record.
func (r *LevelRepository) Create(ctx context.Context, level *models.Level) error {
	if level.ID == "" {
		level.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if level.CreatedAt.IsZero() {
		level.CreatedAt = now
	}
	level.UpdatedAt = now

	const query = `INSERT INTO levels (id, name, academic_year, created_at, updated_at) VALUES (:id, :name, :academic_year, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, level); err != nil {
		return fmt.Errorf("create level: %w", err)
	}
	return nil
}

// Update modifies a level record.
func (r *LevelRepository) Update(ctx context.Context, level *models.Level) error {
	level.UpdatedAt = time.Now().UTC()
	const query = `UPDATE levels SET name = :name, academic_year = :academic_year, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, level); err != nil {
		return fmt.Errorf("update level: %w", err)
	}
	return nil
}

// Delete removes a level record.
func (r *LevelRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM levels WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete level: %w", err)
	}
	return nil
}

// CountStudents returns how many active students belong to the level.
func (r *LevelRepository) CountStudents(ctx context.Context, levelID string) (int, error) {
	const query = `SELECT COUNT(*) FROM students WHERE level_id = $1 AND active`
	var count int
	if err := r.db.GetContext(ctx, &count, query, levelID); err != nil {
		return 0, fmt.Errorf("count level students: %w", err)
	}
	return count, nil
}
