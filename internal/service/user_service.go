package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/mailer"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userTeacherLinker interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	LinkUser(ctx context.Context, id, userID string) error
}

type userStudentLinker interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	LinkUser(ctx context.Context, id, userID string) error
}

// RequestMeta carries the connection attributes stamped onto audit rows.
// Handlers fill it from the request, never from client-supplied fields.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// CreateUserRequest is the admin payload for opening an account. TeacherID
// and StudentID attach the account to an existing roster profile, the
// profile kind has to match the role.
type CreateUserRequest struct {
	Email     string          `json:"email" validate:"required,email"`
	FullName  string          `json:"full_name" validate:"required"`
	Role      models.UserRole `json:"role" validate:"required"`
	Password  string          `json:"password" validate:"required,min=6"`
	TeacherID *string         `json:"teacher_id"`
	StudentID *string         `json:"student_id"`
}

// UpdateUserRequest rewrites the mutable account attributes. A nil Active
// leaves the flag alone.
type UpdateUserRequest struct {
	FullName string          `json:"full_name" validate:"required"`
	Role     models.UserRole `json:"role" validate:"required"`
	Active   *bool           `json:"active"`
}

// UserService handles account management workflows.
type UserService struct {
	repo      userRepository
	teachers  userTeacherLinker
	students  userStudentLinker
	mail      mailer.Mailer
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, teachers userTeacherLinker, students userStudentLinker, mail mailer.Mailer, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, teachers: teachers, students: students, mail: mail, validator: validate, logger: logger}
}

// List returns one page of accounts plus the paging block.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
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

	return users, pagination, nil
}

// Get returns one account by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	return s.load(ctx, id)
}

// Create opens a new account, links the roster profile when one is given
// and mails the initial credentials.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	if !req.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", req.Role))
	}
	if req.TeacherID != nil && req.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher profile requires the TEACHER role")
	}
	if req.StudentID != nil && req.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student profile requires the STUDENT role")
	}

	email := normalizeEmail(req.Email)
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     req.FullName,
		Role:         req.Role,
		Active:       true,
		PasswordHash: string(hash),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	if err := s.linkProfile(ctx, user, req); err != nil {
		return nil, err
	}

	if s.mail != nil {
		s.mail.Send(mailer.Message{
			ToName:  user.FullName,
			ToEmail: user.Email,
			Subject: "Your account is ready",
			Text:    fmt.Sprintf("Sign in with %s and the password %s. Change it after your first login.", user.Email, req.Password),
		})
	}

	s.audit(ctx, actorID, models.AuditActionUserCreate, user.ID, nil,
		map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role}, meta)

	return user, nil
}

// Update rewrites name, role and active flag on an account.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}
	if !req.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", req.Role))
	}

	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	before := map[string]interface{}{"full_name": user.FullName, "role": user.Role, "active": user.Active}

	user.FullName = req.FullName
	user.Role = req.Role
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	s.audit(ctx, actorID, models.AuditActionUserUpdate, user.ID, before,
		map[string]interface{}{"full_name": user.FullName, "role": user.Role, "active": user.Active}, meta)

	return user, nil
}

// Delete deactivates an account. Rows are never removed, attendance
// history and audit trails keep pointing at the id.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta RequestMeta) error {
	user, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	s.audit(ctx, actorID, models.AuditActionUserDelete, user.ID,
		map[string]interface{}{"active": user.Active},
		map[string]interface{}{"active": false}, meta)

	return nil
}

func (s *UserService) load(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *UserService) linkProfile(ctx context.Context, user *models.User, req CreateUserRequest) error {
	switch {
	case req.TeacherID != nil:
		teacher, err := s.teachers.FindByID(ctx, *req.TeacherID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "teacher profile not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher profile")
		}
		if teacher.UserID != nil {
			return appErrors.Clone(appErrors.ErrConflict, "teacher profile already has an account")
		}
		if err := s.teachers.LinkUser(ctx, teacher.ID, user.ID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link teacher profile")
		}
	case req.StudentID != nil:
		student, err := s.students.FindByID(ctx, *req.StudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
		if student.UserID != nil {
			return appErrors.Clone(appErrors.ErrConflict, "student profile already has an account")
		}
		if err := s.students.LinkUser(ctx, student.ID, user.ID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link student profile")
		}
	}
	return nil
}

func (s *UserService) audit(ctx context.Context, actorID string, action models.AuditAction, targetID string, oldValues, newValues interface{}, meta RequestMeta) {
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &targetID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", string(action)), zap.Error(err))
	}
}

// normalizeEmail lowercases and trims an address. Every path that stores
// or looks up an account email goes through it, login included.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
