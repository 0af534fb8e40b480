package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
)

type mockUserRepo struct {
	users     map[string]*models.User
	byEmail   map[string]*models.User
	deleted   []string
	auditLogs []*models.AuditLog
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := m.byEmail[email]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.users == nil {
		m.users = make(map[string]*models.User)
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockUserTeacherLinker struct {
	teachers map[string]*models.Teacher
	linked   map[string]string
}

func (m *mockUserTeacherLinker) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if t, ok := m.teachers[id]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserTeacherLinker) LinkUser(ctx context.Context, id, userID string) error {
	if m.linked == nil {
		m.linked = make(map[string]string)
	}
	m.linked[id] = userID
	return nil
}

type mockUserStudentLinker struct {
	students map[string]*models.StudentDetail
	linked   map[string]string
}

func (m *mockUserStudentLinker) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserStudentLinker) LinkUser(ctx context.Context, id, userID string) error {
	if m.linked == nil {
		m.linked = make(map[string]string)
	}
	m.linked[id] = userID
	return nil
}

func newUserServiceFixture() (*mockUserRepo, *mockUserTeacherLinker, *mockUserStudentLinker, *UserService) {
	repo := &mockUserRepo{byEmail: make(map[string]*models.User)}
	teachers := &mockUserTeacherLinker{teachers: make(map[string]*models.Teacher)}
	students := &mockUserStudentLinker{students: make(map[string]*models.StudentDetail)}
	svc := NewUserService(repo, teachers, students, nil, validator.New(), zap.NewNop())
	return repo, teachers, students, svc
}

func TestUserServiceCreate(t *testing.T) {
	repo, _, _, svc := newUserServiceFixture()

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "Admin@Example.EDU",
		FullName: "Site Admin",
		Role:     models.RoleAdmin,
		Password: "s3cret!",
	}, "actor-1", RequestMeta{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)

	assert.Equal(t, "admin@example.edu", user.Email)
	assert.True(t, user.Active)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret!")))

	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.auditLogs[0].Action)
	assert.Equal(t, "users", repo.auditLogs[0].Resource)
}

func TestUserServiceCreateUnknownRole(t *testing.T) {
	_, _, _, svc := newUserServiceFixture()

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "root@example.edu",
		FullName: "Root",
		Role:     models.UserRole("SUPERADMIN"),
		Password: "s3cret!",
	}, "actor-1", RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateMailsCredentials(t *testing.T) {
	repo := &mockUserRepo{byEmail: make(map[string]*models.User)}
	mail := &captureMailer{}
	svc := NewUserService(repo, &mockUserTeacherLinker{}, &mockUserStudentLinker{}, mail, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "amine@example.edu",
		FullName: "Amine K.",
		Role:     models.RoleStudent,
		Password: "s3cret!",
	}, "actor-1", RequestMeta{})
	require.NoError(t, err)

	require.Len(t, mail.messages, 1)
	assert.Equal(t, "amine@example.edu", mail.messages[0].ToEmail)
	assert.Contains(t, mail.messages[0].Text, "s3cret!")
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	repo, _, _, svc := newUserServiceFixture()
	repo.byEmail["admin@example.edu"] = &models.User{ID: "u-0", Email: "admin@example.edu"}

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "admin@example.edu",
		FullName: "Site Admin",
		Role:     models.RoleAdmin,
		Password: "s3cret!",
	}, "actor-1", RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateProfileRoleMismatch(t *testing.T) {
	_, _, _, svc := newUserServiceFixture()

	teacherID := "tea-1"
	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:     "x@example.edu",
		FullName:  "Mismatch",
		Role:      models.RoleStudent,
		Password:  "s3cret!",
		TeacherID: &teacherID,
	}, "actor-1", RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateLinksTeacherProfile(t *testing.T) {
	_, teachers, _, svc := newUserServiceFixture()
	teachers.teachers["tea-1"] = &models.Teacher{ID: "tea-1", FullName: "Dalila Benali"}

	teacherID := "tea-1"
	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:     "d.benali@example.edu",
		FullName:  "Dalila Benali",
		Role:      models.RoleTeacher,
		Password:  "s3cret!",
		TeacherID: &teacherID,
	}, "actor-1", RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, user.ID, teachers.linked["tea-1"])
}

func TestUserServiceCreateTeacherAlreadyLinked(t *testing.T) {
	_, teachers, _, svc := newUserServiceFixture()
	existing := "u-0"
	teachers.teachers["tea-1"] = &models.Teacher{ID: "tea-1", UserID: &existing}

	teacherID := "tea-1"
	_, err := svc.Create(context.Background(), CreateUserRequest{
		Email:     "d.benali@example.edu",
		FullName:  "Dalila Benali",
		Role:      models.RoleTeacher,
		Password:  "s3cret!",
		TeacherID: &teacherID,
	}, "actor-1", RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateLinksStudentProfile(t *testing.T) {
	_, _, students, svc := newUserServiceFixture()
	students.students["stu-1"] = &models.StudentDetail{Student: models.Student{ID: "stu-1", FullName: "Amine K."}}

	studentID := "stu-1"
	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:     "amine@example.edu",
		FullName:  "Amine K.",
		Role:      models.RoleStudent,
		Password:  "s3cret!",
		StudentID: &studentID,
	}, "actor-1", RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, user.ID, students.linked["stu-1"])
}

func TestUserServiceUpdate(t *testing.T) {
	repo, _, _, svc := newUserServiceFixture()
	repo.users = map[string]*models.User{
		"u-1": {ID: "u-1", Email: "x@example.edu", FullName: "Old", Role: models.RoleTeacher, Active: true},
	}

	inactive := false
	updated, err := svc.Update(context.Background(), "u-1", UpdateUserRequest{
		FullName: "New Name",
		Role:     models.RoleAdmin,
		Active:   &inactive,
	}, "actor-1", RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, "New Name", updated.FullName)
	assert.Equal(t, models.RoleAdmin, updated.Role)
	assert.False(t, updated.Active)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserUpdate, repo.auditLogs[0].Action)
}

func TestUserServiceUpdateNotFound(t *testing.T) {
	_, _, _, svc := newUserServiceFixture()

	_, err := svc.Update(context.Background(), "u-404", UpdateUserRequest{FullName: "X", Role: models.RoleAdmin}, "actor-1", RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceDelete(t *testing.T) {
	repo, _, _, svc := newUserServiceFixture()
	repo.users = map[string]*models.User{"u-1": {ID: "u-1", Active: true}}

	require.NoError(t, svc.Delete(context.Background(), "u-1", "actor-1", RequestMeta{}))
	assert.Equal(t, []string{"u-1"}, repo.deleted)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserDelete, repo.auditLogs[0].Action)

	err := svc.Delete(context.Background(), "u-404", "actor-1", RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
