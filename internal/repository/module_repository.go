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

// ModuleRepository manages persistence for course modules.
type ModuleRepository struct {
	db *sqlx.DB
}

// NewModuleRepository constructs a new module repository.
func NewModuleRepository(db *sqlx.DB) *ModuleRepository {
	return &ModuleRepository{db: db}
}

// List returns modules matching filter criteria with level and teacher context.
func (r *ModuleRepository) List(ctx context.Context, filter models.ModuleFilter) ([]models.ModuleDetail, int, error) {
	base := `FROM modules m
JOIN levels l ON l.id = m.level_id
LEFT JOIN teacher_assignments ta ON ta.module_id = m.id
LEFT JOIN teachers t ON t.id = ta.teacher_id
WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.LevelID != "" {
		conditions = append(conditions, fmt.Sprintf("m.level_id = $%d", len(args)+1))
		args = append(args, filter.LevelID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("m.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(m.code) LIKE $%d OR LOWER(m.title) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "code"
	}
	allowedSorts := map[string]string{
		"code":       "m.code",
		"title":      "m.title",
		"created_at": "m.created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "m.code"
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

	query := fmt.Sprintf(`SELECT m.id, m.code, m.title, m.level_id, m.weekly_hours, m.active, m.created_at, m.updated_at,
        l.name AS level_name, ta.teacher_id, t.full_name AS teacher_name,
        (SELECT COUNT(*) FROM enrollments e WHERE e.module_id = m.id) AS student_count
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)
	var modules []models.ModuleDetail
	if err := r.db.SelectContext(ctx, &modules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list modules: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT m.id) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count modules: %w", err)
	}
	return modules, total, nil
}

// ListAll returns every active module ordered by code, for small lookups.
func (r *ModuleRepository) ListAll(ctx context.Context) ([]models.Module, error) {
	const query = `SELECT id, code, title, level_id, weekly_hours, active, created_at, updated_at FROM modules WHERE active ORDER BY code ASC`
	var modules []models.Module
	if err := r.db.SelectContext(ctx, &modules, query); err != nil {
		return nil, fmt.Errorf("list all modules: %w", err)
	}
	return modules, nil
}

// FindByID returns a module record by ID.
func (r *ModuleRepository) FindByID(ctx context.Context, id string) (*models.Module, error) {
	const query = `SELECT id, code, title, level_id, weekly_hours, active, created_at, updated_at FROM modules WHERE id = $1`
	var module models.Module
	if err := r.db.GetContext(ctx, &module, query, id); err != nil {
		return nil, err
	}
	return &module, nil
}

// FindByCode returns a module by its unique code.
func (r *ModuleRepository) FindByCode(ctx context.Context, code string) (*models.Module, error) {
	const query = `SELECT id, code, title, level_id, weekly_hours, active, created_at, updated_at FROM modules WHERE UPPER(code) = UPPER($1)`
	var module models.Module
	if err := r.db.GetContext(ctx, &module, query, code); err != nil {
		return nil, err
	}
	return &module, nil
}

// ExistsByCode checks if a module with the same code already exists.
func (r *ModuleRepository) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM modules WHERE UPPER(code) = UPPER($1)"
	args := []interface{}{code}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check module code: %w", err)
	}
	return true, nil
}

// Create persists a module record.
func (r *ModuleRepository) Create(ctx context.Context, module *models.Module) error {
	if module.ID == "" {
		module.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if module.CreatedAt.IsZero() {
		module.CreatedAt = now
	}
	module.UpdatedAt = now

	const query = `INSERT INTO modules (id, code, title, level_id, weekly_hours, active, created_at, updated_at)
		VALUES (:id, :code, :title, :level_id, :weekly_hours, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, module); err != nil {
		return fmt.Errorf("create module: %w", err)
	}
	return nil
}

// Update modifies a module record.
func (r *ModuleRepository) Update(ctx context.Context, module *models.Module) error {
	module.UpdatedAt = time.Now().UTC()
	const query = `UPDATE modules SET code = :code, title = :title, level_id = :level_id, weekly_hours = :weekly_hours, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, module); err != nil {
		return fmt.Errorf("update module: %w", err)
	}
	return nil
}

// Deactivate sets a module's active flag to false.
func (r *ModuleRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE modules SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate module: %w", err)
	}
	return nil
}
