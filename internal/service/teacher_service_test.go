package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
)

type mockTeacherRepo struct {
	items       map[string]*models.Teacher
	emailIndex  map[string]string
	assigned    []models.TeacherAssignment
	unassigned  []string
	assignments []models.TeacherAssignmentDetail
	deactivated []string
}

func (m *mockTeacherRepo) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error) {
	teachers := make([]models.Teacher, 0, len(m.items))
	for _, t := range m.items {
		teachers = append(teachers, *t)
	}
	return teachers, len(teachers), nil
}

func (m *mockTeacherRepo) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if t, ok := m.items[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTeacherRepo) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	if id, ok := m.emailIndex[email]; ok {
		return excludeID == "" || id != excludeID, nil
	}
	return false, nil
}

func (m *mockTeacherRepo) Create(ctx context.Context, teacher *models.Teacher) error {
	if m.items == nil {
		m.items = make(map[string]*models.Teacher)
	}
	if teacher.ID == "" {
		teacher.ID = fmt.Sprintf("tea-%d", len(m.items)+1)
	}
	copied := *teacher
	m.items[teacher.ID] = &copied
	return nil
}

func (m *mockTeacherRepo) Update(ctx context.Context, teacher *models.Teacher) error {
	copied := *teacher
	m.items[teacher.ID] = &copied
	return nil
}

func (m *mockTeacherRepo) Deactivate(ctx context.Context, id string) error {
	m.deactivated = append(m.deactivated, id)
	return nil
}

func (m *mockTeacherRepo) Assign(ctx context.Context, assignment *models.TeacherAssignment) error {
	if assignment.ID == "" {
		assignment.ID = fmt.Sprintf("asg-%d", len(m.assigned)+1)
	}
	m.assigned = append(m.assigned, *assignment)
	return nil
}

func (m *mockTeacherRepo) Unassign(ctx context.Context, teacherID, moduleID string) error {
	m.unassigned = append(m.unassigned, teacherID+"/"+moduleID)
	return nil
}

func (m *mockTeacherRepo) ListAssignments(ctx context.Context, teacherID string) ([]models.TeacherAssignmentDetail, error) {
	return m.assignments, nil
}

type mockTeacherModuleRepo struct {
	modules map[string]*models.Module
}

func (m *mockTeacherModuleRepo) FindByID(ctx context.Context, id string) (*models.Module, error) {
	if mod, ok := m.modules[id]; ok {
		return mod, nil
	}
	return nil, sql.ErrNoRows
}

func teacherModules() *mockTeacherModuleRepo {
	return &mockTeacherModuleRepo{modules: map[string]*models.Module{
		"mod-1": {ID: "mod-1", Code: "CS101", Title: "Algorithms", Active: true},
	}}
}

func TestTeacherServiceCreate(t *testing.T) {
	repo := &mockTeacherRepo{emailIndex: make(map[string]string)}
	svc := NewTeacherService(repo, teacherModules(), validator.New(), zap.NewNop())

	teacher, err := svc.Create(context.Background(), CreateTeacherRequest{
		Email:    "D.Benali@Example.EDU",
		FullName: "Dalila Benali",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, teacher.ID)
	assert.True(t, teacher.Active)
	assert.Equal(t, "d.benali@example.edu", teacher.Email)
}

func TestTeacherServiceCreateDuplicateEmail(t *testing.T) {
	repo := &mockTeacherRepo{emailIndex: map[string]string{"d.benali@example.edu": "tea-0"}}
	svc := NewTeacherService(repo, teacherModules(), validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateTeacherRequest{
		Email:    "d.benali@example.edu",
		FullName: "Dalila Benali",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestTeacherServiceUpdate(t *testing.T) {
	repo := &mockTeacherRepo{
		items:      map[string]*models.Teacher{"tea-1": {ID: "tea-1", Email: "old@example.edu", FullName: "Old", Active: true}},
		emailIndex: map[string]string{"old@example.edu": "tea-1"},
	}
	svc := NewTeacherService(repo, teacherModules(), validator.New(), zap.NewNop())

	inactive := false
	updated, err := svc.Update(context.Background(), "tea-1", UpdateTeacherRequest{
		Email:    "old@example.edu",
		FullName: "New Name",
		Active:   &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.FullName)
	assert.False(t, updated.Active)
}

func TestTeacherServiceUpdateNotFound(t *testing.T) {
	repo := &mockTeacherRepo{}
	svc := NewTeacherService(repo, teacherModules(), validator.New(), zap.NewNop())

	_, err := svc.Update(context.Background(), "tea-404", UpdateTeacherRequest{Email: "x@example.edu", FullName: "Nobody"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTeacherServiceAssign(t *testing.T) {
	repo := &mockTeacherRepo{items: map[string]*models.Teacher{"tea-1": {ID: "tea-1", FullName: "Dalila Benali", Active: true}}}
	svc := NewTeacherService(repo, teacherModules(), validator.New(), zap.NewNop())

	assignment, err := svc.Assign(context.Background(), "tea-1", AssignModuleRequest{ModuleID: "mod-1"})
	require.NoError(t, err)
	assert.Equal(t, "tea-1", assignment.TeacherID)
	assert.Equal(t, "mod-1", assignment.ModuleID)
	require.Len(t, repo.assigned, 1)
}

func TestTeacherServiceAssignInactiveModule(t *testing.T) {
	repo := &mockTeacherRepo{items: map[string]*models.Teacher{"tea-1": {ID: "tea-1", Active: true}}}
	modules := teacherModules()
	modules.modules["mod-1"].Active = false
	svc := NewTeacherService(repo, modules, validator.New(), zap.NewNop())

	_, err := svc.Assign(context.Background(), "tea-1", AssignModuleRequest{ModuleID: "mod-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestTeacherServiceAssignUnknownModule(t *testing.T) {
	repo := &mockTeacherRepo{items: map[string]*models.Teacher{"tea-1": {ID: "tea-1", Active: true}}}
	svc := NewTeacherService(repo, teacherModules(), validator.New(), zap.NewNop())

	_, err := svc.Assign(context.Background(), "tea-1", AssignModuleRequest{ModuleID: "mod-404"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTeacherServiceUnassign(t *testing.T) {
	repo := &mockTeacherRepo{items: map[string]*models.Teacher{"tea-1": {ID: "tea-1", Active: true}}}
	svc := NewTeacherService(repo, teacherModules(), validator.New(), zap.NewNop())

	require.NoError(t, svc.Unassign(context.Background(), "tea-1", "mod-1"))
	assert.Equal(t, []string{"tea-1/mod-1"}, repo.unassigned)
}

func TestTeacherServiceListAssignments(t *testing.T) {
	repo := &mockTeacherRepo{
		items: map[string]*models.Teacher{"tea-1": {ID: "tea-1", Active: true}},
		assignments: []models.TeacherAssignmentDetail{
			{TeacherAssignment: models.TeacherAssignment{ID: "asg-1", TeacherID: "tea-1", ModuleID: "mod-1"}, ModuleCode: "CS101"},
		},
	}
	svc := NewTeacherService(repo, teacherModules(), validator.New(), zap.NewNop())

	assignments, err := svc.ListAssignments(context.Background(), "tea-1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "CS101", assignments[0].ModuleCode)

	_, err = svc.ListAssignments(context.Background(), "tea-404")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTeacherServiceDeactivate(t *testing.T) {
	repo := &mockTeacherRepo{items: map[string]*models.Teacher{"tea-1": {ID: "tea-1", Active: true}}}
	svc := NewTeacherService(repo, teacherModules(), validator.New(), zap.NewNop())

	require.NoError(t, svc.Deactivate(context.Background(), "tea-1"))
	assert.Equal(t, []string{"tea-1"}, repo.deactivated)
}
