package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
)

type levelRepository interface {
	List(ctx context.Context, filter models.LevelFilter) ([]models.LevelDetail, int, error)
	ListAll(ctx context.Context) ([]models.Level, error)
	FindByID(ctx context.Context, id string) (*models.Level, error)
	ExistsByName(ctx context.Context, name string, excludeID string) (bool, error)
	Create(ctx context.Context, level *models.Level) error
	Update(ctx context.Context, level *models.Level) error
	Delete(ctx context.Context, id string) error
	CountStudents(ctx context.Context, levelID string) (int, error)
}

type levelModuleRepository interface {
	List(ctx context.Context, filter models.ModuleFilter) ([]models.ModuleDetail, int, error)
}

// CreateLevelRequest captures the creation payload.
type CreateLevelRequest struct {
	Name         string `json:"name" validate:"required,min=2,max=60"`
	AcademicYear string `json:"academic_year" validate:"required"`
}

// UpdateLevelRequest modifies level fields.
type UpdateLevelRequest struct {
	Name         string `json:"name" validate:"required,min=2,max=60"`
	AcademicYear string `json:"academic_year" validate:"required"`
}

// LevelService coordinates level operations.
type LevelService struct {
	repo      levelRepository
	modules   levelModuleRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLevelService constructs LevelService.
func NewLevelService(repo levelRepository, modules levelModuleRepository, validate *validator.Validate, logger *zap.Logger) *LevelService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LevelService{repo: repo, modules: modules, validator: validate, logger: logger}
}

// List returns levels with headcounts and pagination metadata.
func (s *LevelService) List(ctx context.Context, filter models.LevelFilter) ([]models.LevelDetail, *models.Pagination, error) {
	levels, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list levels")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return levels, pagination, nil
}

// Get returns one level.
func (s *LevelService) Get(ctx context.Context, id string) (*models.Level, error) {
	level, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}
	return level, nil
}

// Create adds a new level.
func (s *LevelService) Create(ctx context.Context, req CreateLevelRequest) (*models.Level, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid level payload")
	}

	name := strings.TrimSpace(req.Name)
	exists, err := s.repo.ExistsByName(ctx, name, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check level name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "level name already exists")
	}

	level := &models.Level{
		Name:         name,
		AcademicYear: strings.TrimSpace(req.AcademicYear),
	}
	if err := s.repo.Create(ctx, level); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create level")
	}
	return level, nil
}

// Update modifies a level record.
func (s *LevelService) Update(ctx context.Context, id string, req UpdateLevelRequest) (*models.Level, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid level payload")
	}

	level, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}

	name := strings.TrimSpace(req.Name)
	exists, err := s.repo.ExistsByName(ctx, name, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check level name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "level name already exists")
	}

	level.Name = name
	level.AcademicYear = strings.TrimSpace(req.AcademicYear)
	if err := s.repo.Update(ctx, level); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update level")
	}
	return level, nil
}

// Delete removes a level once no students or modules reference it.
func (s *LevelService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}

	if count, err := s.repo.CountStudents(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check level students")
	} else if count > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "level has students")
	}

	if s.modules != nil {
		_, count, err := s.modules.List(ctx, models.ModuleFilter{LevelID: id, PageSize: 1})
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check level modules")
		}
		if count > 0 {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "level has modules")
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete level")
	}
	return nil
}
