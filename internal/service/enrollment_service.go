package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByStudentAndModule(ctx context.Context, studentID, moduleID string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, id string) error
}

type enrollmentStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ListByLevel(ctx context.Context, levelID string) ([]models.Student, error)
}

type enrollmentModuleRepository interface {
	FindByID(ctx context.Context, id string) (*models.Module, error)
}

// EnrollStudentRequest registers a student to a module.
type EnrollStudentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ModuleID  string `json:"module_id" validate:"required"`
}

// EnrollLevelRequest registers every active student of a module's level.
type EnrollLevelRequest struct {
	ModuleID string `json:"module_id" validate:"required"`
}

// EnrollLevelResult reports the outcome of a bulk enrollment.
type EnrollLevelResult struct {
	Enrolled        int `json:"enrolled"`
	AlreadyEnrolled int `json:"already_enrolled"`
}

// EnrollmentService manages the student/module enrollment roster.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  enrollmentStudentRepository
	modules   enrollmentModuleRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students enrollmentStudentRepository, modules enrollmentModuleRepository, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, students: students, modules: modules, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Enroll registers a student to a module of their level.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollStudentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is inactive")
	}
	module, err := s.modules.FindByID(ctx, req.ModuleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	if !module.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "module is inactive")
	}
	if student.LevelID != module.LevelID {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student level does not match module level")
	}

	if _, err := s.repo.FindByStudentAndModule(ctx, req.StudentID, req.ModuleID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in module")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}

	enrollment := &models.Enrollment{StudentID: req.StudentID, ModuleID: req.ModuleID}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return enrollment, nil
}

// EnrollLevel registers every active student of the module's level.
// Students already enrolled are counted, not duplicated.
func (s *EnrollmentService) EnrollLevel(ctx context.Context, req EnrollLevelRequest) (*EnrollLevelResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	module, err := s.modules.FindByID(ctx, req.ModuleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	if !module.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "module is inactive")
	}
	students, err := s.students.ListByLevel(ctx, module.LevelID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list level students")
	}

	result := &EnrollLevelResult{}
	for _, student := range students {
		if _, err := s.repo.FindByStudentAndModule(ctx, student.ID, module.ID); err == nil {
			result.AlreadyEnrolled++
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		enrollment := &models.Enrollment{StudentID: student.ID, ModuleID: module.ID}
		if err := s.repo.Create(ctx, enrollment); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		}
		result.Enrolled++
	}
	s.logger.Info("level enrolled into module",
		zap.String("module_id", module.ID),
		zap.Int("enrolled", result.Enrolled),
		zap.Int("already_enrolled", result.AlreadyEnrolled))
	return result, nil
}

// Withdraw removes an enrollment together with its counters.
func (s *EnrollmentService) Withdraw(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	return nil
}
