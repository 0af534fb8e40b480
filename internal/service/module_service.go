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

type moduleRepository interface {
	List(ctx context.Context, filter models.ModuleFilter) ([]models.ModuleDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Module, error)
	FindByCode(ctx context.Context, code string) (*models.Module, error)
	ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error)
	Create(ctx context.Context, module *models.Module) error
	Update(ctx context.Context, module *models.Module) error
	Deactivate(ctx context.Context, id string) error
}

type moduleLevelRepository interface {
	FindByID(ctx context.Context, id string) (*models.Level, error)
}

// CreateModuleRequest captures the payload for creating modules.
type CreateModuleRequest struct {
	Code        string `json:"code" validate:"required,min=2,max=16"`
	Title       string `json:"title" validate:"required,min=2,max=120"`
	LevelID     string `json:"level_id" validate:"required"`
	WeeklyHours int    `json:"weekly_hours" validate:"omitempty,min=1,max=40"`
}

// UpdateModuleRequest modifies module fields.
type UpdateModuleRequest struct {
	Code        string `json:"code" validate:"required,min=2,max=16"`
	Title       string `json:"title" validate:"required,min=2,max=120"`
	LevelID     string `json:"level_id" validate:"required"`
	WeeklyHours int    `json:"weekly_hours" validate:"omitempty,min=1,max=40"`
	Active      bool   `json:"active"`
}

// ModuleService handles module workflows.
type ModuleService struct {
	repo      moduleRepository
	levels    moduleLevelRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewModuleService creates a new module service.
func NewModuleService(repo moduleRepository, levels moduleLevelRepository, validate *validator.Validate, logger *zap.Logger) *ModuleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModuleService{repo: repo, levels: levels, validator: validate, logger: logger}
}

// List returns paginated modules with level and teacher context.
func (s *ModuleService) List(ctx context.Context, filter models.ModuleFilter) ([]models.ModuleDetail, *models.Pagination, error) {
	modules, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list modules")
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
	return modules, pagination, nil
}

// Get returns one module.
func (s *ModuleService) Get(ctx context.Context, id string) (*models.Module, error) {
	module, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	return module, nil
}

// GetByCode resolves a module by its code.
func (s *ModuleService) GetByCode(ctx context.Context, code string) (*models.Module, error) {
	module, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	return module, nil
}

// Create registers a new module under a level.
func (s *ModuleService) Create(ctx context.Context, req CreateModuleRequest) (*models.Module, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid module payload")
	}
	if _, err := s.levels.FindByID(ctx, req.LevelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	exists, err := s.repo.ExistsByCode(ctx, code, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check module code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "module code already exists")
	}

	weekly := req.WeeklyHours
	if weekly <= 0 {
		weekly = 3
	}
	module := &models.Module{
		Code:        code,
		Title:       strings.TrimSpace(req.Title),
		LevelID:     req.LevelID,
		WeeklyHours: weekly,
		Active:      true,
	}
	if err := s.repo.Create(ctx, module); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create module")
	}
	return module, nil
}

// Update modifies a module record.
func (s *ModuleService) Update(ctx context.Context, id string, req UpdateModuleRequest) (*models.Module, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid module payload")
	}
	module, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	if _, err := s.levels.FindByID(ctx, req.LevelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	exists, err := s.repo.ExistsByCode(ctx, code, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check module code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "module code already exists")
	}

	module.Code = code
	module.Title = strings.TrimSpace(req.Title)
	module.LevelID = req.LevelID
	if req.WeeklyHours > 0 {
		module.WeeklyHours = req.WeeklyHours
	}
	module.Active = req.Active
	if err := s.repo.Update(ctx, module); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update module")
	}
	return module, nil
}

// Deactivate retires a module without touching its history.
func (s *ModuleService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate module")
	}
	return nil
}
