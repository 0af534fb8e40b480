package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/mailer"
)

type mockExclusionSessionRepo struct {
	sessions       []models.AttendanceSession
	err            error
	calls          int
	lastModuleCode string
	lastLevelID    string
}

func (m *mockExclusionSessionRepo) ListAttendanceSessions(ctx context.Context, rng models.DateRange, moduleCode, levelID string) ([]models.AttendanceSession, error) {
	m.calls++
	m.lastModuleCode = moduleCode
	m.lastLevelID = levelID
	if m.err != nil {
		return nil, m.err
	}
	return m.sessions, nil
}

type mockExclusionEnrollmentRepo struct {
	byKey      map[string]*models.Enrollment
	setIDs     []string
	setAts     []time.Time
	clearedIDs []string
	setErr     error
}

func (m *mockExclusionEnrollmentRepo) FindByStudentAndModule(ctx context.Context, studentID, moduleID string) (*models.Enrollment, error) {
	enrollment, ok := m.byKey[studentID+"|"+moduleID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *enrollment
	return &clone, nil
}

func (m *mockExclusionEnrollmentRepo) SetExcluded(ctx context.Context, id string, at time.Time) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.setIDs = append(m.setIDs, id)
	m.setAts = append(m.setAts, at)
	for _, enrollment := range m.byKey {
		if enrollment.ID == id {
			enrollment.Excluded = true
			when := at
			enrollment.ExcludedAt = &when
		}
	}
	return nil
}

func (m *mockExclusionEnrollmentRepo) ClearExcluded(ctx context.Context, id string) error {
	m.clearedIDs = append(m.clearedIDs, id)
	for _, enrollment := range m.byKey {
		if enrollment.ID == id {
			enrollment.Excluded = false
			enrollment.ExcludedAt = nil
		}
	}
	return nil
}

type mockExclusionModuleRepo struct {
	modules []models.Module
	listErr error
}

func (m *mockExclusionModuleRepo) ListAll(ctx context.Context) ([]models.Module, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.modules, nil
}

func (m *mockExclusionModuleRepo) FindByCode(ctx context.Context, code string) (*models.Module, error) {
	for i := range m.modules {
		if m.modules[i].Code == code {
			return &m.modules[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

type mockExclusionLevelRepo struct {
	levels []models.LevelDetail
}

func (m *mockExclusionLevelRepo) List(ctx context.Context, filter models.LevelFilter) ([]models.LevelDetail, int, error) {
	return m.levels, len(m.levels), nil
}

type mockExclusionStudentRepo struct {
	byID map[string]*models.StudentDetail
}

func (m *mockExclusionStudentRepo) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func (m *mockExclusionStudentRepo) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if student, ok := m.byID[id]; ok {
			names[id] = student.FullName
		}
	}
	return names, nil
}

type stubCacheRepo struct {
	store    map[string][]byte
	patterns []string
}

func (s *stubCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	s.patterns = append(s.patterns, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range s.store {
		if strings.HasPrefix(key, prefix) {
			delete(s.store, key)
		}
	}
	return nil
}

type captureMailer struct {
	messages []mailer.Message
}

func (c *captureMailer) Send(msg mailer.Message) {
	c.messages = append(c.messages, msg)
}

type exclusionFixture struct {
	sessions    *mockExclusionSessionRepo
	enrollments *mockExclusionEnrollmentRepo
	modules     *mockExclusionModuleRepo
	levels      *mockExclusionLevelRepo
	students    *mockExclusionStudentRepo
	cacheRepo   *stubCacheRepo
	notifier    *captureNotifier
	mail        *captureMailer
	svc         *ExclusionService
}

func newExclusionFixture() *exclusionFixture {
	userID := "user-s1"
	f := &exclusionFixture{
		sessions: &mockExclusionSessionRepo{},
		enrollments: &mockExclusionEnrollmentRepo{byKey: map[string]*models.Enrollment{
			"s1|mod-1": {ID: "enr-1", StudentID: "s1", ModuleID: "mod-1"},
		}},
		modules: &mockExclusionModuleRepo{modules: []models.Module{
			{ID: "mod-1", Code: "CS101", Title: "Algorithms", LevelID: "lvl-1", Active: true},
		}},
		levels: &mockExclusionLevelRepo{levels: []models.LevelDetail{
			{Level: models.Level{ID: "lvl-1", Name: "L3-CS"}, StudentCount: 25},
		}},
		students: &mockExclusionStudentRepo{byID: map[string]*models.StudentDetail{
			"s1": {Student: models.Student{ID: "s1", FullName: "Amina Cherif", Email: "amina@uni.example", UserID: &userID}},
			"s2": {Student: models.Student{ID: "s2", FullName: "Yacine Brahimi", Email: "yacine@uni.example"}},
		}},
		cacheRepo: &stubCacheRepo{},
		notifier:  &captureNotifier{},
		mail:      &captureMailer{},
	}
	cacheSvc := NewCacheService(f.cacheRepo, nil, time.Minute, zap.NewNop(), true)
	f.svc = NewExclusionService(f.sessions, f.enrollments, f.modules, f.levels, f.students,
		cacheSvc, nil, f.notifier, f.mail, validator.New(), zap.NewNop(), models.DefaultRuleset(), time.Minute)
	return f
}

// marchQuery pins the window with custom bounds so the mocked sessions,
// all mid March, resolve inside it in any host timezone.
func marchQuery() ExclusionQueryRequest {
	return ExclusionQueryRequest{Preset: "custom", From: "2024-03-01", To: "2024-03-31"}
}

// threeUnjustified puts s1 over the unjustified limit and s2 one short
// of it within the March window.
func threeUnjustified() []models.AttendanceSession {
	return []models.AttendanceSession{
		sessionOn(4, "CS101", models.AbsenceEntry{StudentID: "s1", Type: models.AbsenceUnjustified}),
		sessionOn(8, "CS101",
			models.AbsenceEntry{StudentID: "s1", Type: models.AbsenceUnjustified},
			models.AbsenceEntry{StudentID: "s2", Type: models.AbsenceUnjustified},
		),
		sessionOn(15, "CS101",
			models.AbsenceEntry{StudentID: "s1", Type: models.AbsenceUnjustified},
			models.AbsenceEntry{StudentID: "s2", Type: models.AbsenceUnjustified},
		),
	}
}

func TestExclusionServiceOverviewCaching(t *testing.T) {
	f := newExclusionFixture()
	f.sessions.sessions = threeUnjustified()
	ctx := context.Background()

	result, fromCache, err := f.svc.Overview(ctx, marchQuery())
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, 1, f.sessions.calls)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Amina Cherif", result.Rows[0].StudentName)
	assert.Equal(t, 1, result.Summary.ExcludedCount)
	assert.Equal(t, 1, result.Summary.NearCount)

	cached, fromCache2, err := f.svc.Overview(ctx, marchQuery())
	require.NoError(t, err)
	assert.True(t, fromCache2)
	assert.Equal(t, 1, f.sessions.calls)
	assert.Equal(t, result.Rows, cached.Rows)
	assert.Equal(t, result.Summary, cached.Summary)
	assert.True(t, cached.Range.Start.Equal(result.Range.Start))
}

func TestExclusionServiceOverviewErrorPassthrough(t *testing.T) {
	f := newExclusionFixture()
	f.sessions.err = assert.AnError

	_, _, err := f.svc.Overview(context.Background(), marchQuery())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestExclusionServiceExcludedAndNearFilters(t *testing.T) {
	f := newExclusionFixture()
	f.sessions.sessions = threeUnjustified()
	ctx := context.Background()

	excluded, _, err := f.svc.Excluded(ctx, marchQuery())
	require.NoError(t, err)
	require.Len(t, excluded.Rows, 1)
	assert.Equal(t, "s1", excluded.Rows[0].StudentID)
	assert.Equal(t, 1, excluded.Summary.TrackedPairs)
	assert.Equal(t, 1, excluded.Summary.ExcludedCount)

	near, _, err := f.svc.Near(ctx, marchQuery())
	require.NoError(t, err)
	require.Len(t, near.Rows, 1)
	assert.Equal(t, "s2", near.Rows[0].StudentID)
	assert.Equal(t, 1, near.Summary.NearCount)
}

func TestExclusionServiceModuleDetailScopesQuery(t *testing.T) {
	f := newExclusionFixture()
	f.sessions.sessions = threeUnjustified()

	_, _, err := f.svc.ModuleDetail(context.Background(), "CS101", marchQuery())
	require.NoError(t, err)
	assert.Equal(t, "CS101", f.sessions.lastModuleCode)
}

func TestExclusionServiceModuleDetailUnknownModule(t *testing.T) {
	f := newExclusionFixture()

	_, _, err := f.svc.ModuleDetail(context.Background(), "NOPE", marchQuery())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, f.sessions.calls)
}

func TestExclusionServiceApplyFlagsExcludedPairs(t *testing.T) {
	f := newExclusionFixture()
	f.sessions.sessions = threeUnjustified()
	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	result, err := f.svc.Apply(context.Background(), claims, ApplySweepRequest{Preset: "custom", From: "2024-03-01", To: "2024-03-31"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Verdicts)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 0, result.AlreadyExcluded)
	assert.Equal(t, 0, result.Skipped)

	require.Len(t, f.enrollments.setIDs, 1)
	assert.Equal(t, "enr-1", f.enrollments.setIDs[0])
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), f.enrollments.setAts[0])

	require.Len(t, f.notifier.userIDs, 1)
	assert.Equal(t, "user-s1", f.notifier.userIDs[0])
	assert.Equal(t, models.NotificationExclusionApplied, f.notifier.kinds[0])
	require.Len(t, f.mail.messages, 1)
	assert.Equal(t, "amina@uni.example", f.mail.messages[0].ToEmail)

	assert.Contains(t, f.cacheRepo.patterns, "exclusions:*")
}

func TestExclusionServiceApplyIsIdempotent(t *testing.T) {
	f := newExclusionFixture()
	f.sessions.sessions = threeUnjustified()
	f.enrollments.byKey["s1|mod-1"].Excluded = true
	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	result, err := f.svc.Apply(context.Background(), claims, ApplySweepRequest{Preset: "custom", From: "2024-03-01", To: "2024-03-31"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Verdicts)
	assert.Equal(t, 0, result.Applied)
	assert.Equal(t, 1, result.AlreadyExcluded)
	assert.Empty(t, f.enrollments.setIDs)
	assert.Empty(t, f.notifier.userIDs)
}

func TestExclusionServiceApplySkipsUnenrolledPairs(t *testing.T) {
	f := newExclusionFixture()
	f.sessions.sessions = threeUnjustified()
	delete(f.enrollments.byKey, "s1|mod-1")
	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	result, err := f.svc.Apply(context.Background(), claims, ApplySweepRequest{Preset: "custom", From: "2024-03-01", To: "2024-03-31"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Verdicts)
	assert.Equal(t, 0, result.Applied)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, f.enrollments.setIDs)
}

func TestExclusionServiceReinstate(t *testing.T) {
	f := newExclusionFixture()
	excludedAt := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	f.enrollments.byKey["s1|mod-1"].Excluded = true
	f.enrollments.byKey["s1|mod-1"].ExcludedAt = &excludedAt
	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	enrollment, err := f.svc.Reinstate(context.Background(), claims, ReinstateRequest{StudentID: "s1", ModuleCode: "CS101"})
	require.NoError(t, err)
	assert.False(t, enrollment.Excluded)
	assert.Nil(t, enrollment.ExcludedAt)
	assert.Equal(t, []string{"enr-1"}, f.enrollments.clearedIDs)

	require.Len(t, f.notifier.kinds, 1)
	assert.Equal(t, models.NotificationReinstated, f.notifier.kinds[0])
	assert.Contains(t, f.cacheRepo.patterns, "exclusions:*")
}

func TestExclusionServiceReinstateRequiresExcludedFlag(t *testing.T) {
	f := newExclusionFixture()
	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	_, err := f.svc.Reinstate(context.Background(), claims, ReinstateRequest{StudentID: "s1", ModuleCode: "CS101"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.enrollments.clearedIDs)
}

func TestExclusionServiceReinstateValidation(t *testing.T) {
	f := newExclusionFixture()
	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	_, err := f.svc.Reinstate(context.Background(), claims, ReinstateRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExclusionServiceReinstateUnknownModule(t *testing.T) {
	f := newExclusionFixture()
	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	_, err := f.svc.Reinstate(context.Background(), claims, ReinstateRequest{StudentID: "s1", ModuleCode: "NOPE"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestExclusionServiceMonitorGroupsByLevel(t *testing.T) {
	f := newExclusionFixture()
	f.modules.modules = append(f.modules.modules, models.Module{ID: "mod-2", Code: "MA201", Title: "Analysis", LevelID: "lvl-1", Active: true})
	f.sessions.sessions = append(threeUnjustified(),
		sessionOn(11, "MA201", models.AbsenceEntry{StudentID: "s1", Type: models.AbsenceUnjustified}),
	)
	ctx := context.Background()

	snapshot, fromCache, err := f.svc.Monitor(ctx, marchQuery())
	require.NoError(t, err)
	assert.False(t, fromCache)

	require.Len(t, snapshot.Levels, 1)
	level := snapshot.Levels[0]
	assert.Equal(t, "L3-CS", level.LevelName)
	assert.Equal(t, 25, level.Students)
	require.Len(t, level.Modules, 2)

	cs := level.Modules[0]
	assert.Equal(t, "CS101", cs.ModuleCode)
	assert.Equal(t, 3, cs.SessionsHeld)
	assert.Equal(t, 5, cs.Absences)
	assert.Equal(t, 1, cs.Excluded)
	assert.Equal(t, 1, cs.Near)
	assert.InDelta(t, 85.0/90.0, cs.AttendanceRate, 0.0001)

	ma := level.Modules[1]
	assert.Equal(t, "MA201", ma.ModuleCode)
	assert.Equal(t, 1, ma.SessionsHeld)
	assert.Equal(t, 1, ma.Absences)
	assert.Equal(t, 0, ma.Excluded)

	assert.Equal(t, 4, snapshot.Summary.Sessions)
	assert.Equal(t, 6, snapshot.Summary.Absences)
	assert.Equal(t, 1, snapshot.Summary.Excluded)
	assert.Equal(t, 25, snapshot.Summary.Students)
	assert.InDelta(t, 114.0/120.0, snapshot.Summary.AttendanceRate, 0.0001)

	cached, fromCache2, err := f.svc.Monitor(ctx, marchQuery())
	require.NoError(t, err)
	assert.True(t, fromCache2)
	assert.Equal(t, 1, f.sessions.calls)
	assert.Equal(t, snapshot.Levels, cached.Levels)
	assert.Equal(t, snapshot.Summary, cached.Summary)
}

func TestExclusionServiceNormalizesRules(t *testing.T) {
	svc := NewExclusionService(nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, models.ExclusionRuleset{}, 0)
	rules := svc.Rules()
	assert.Equal(t, 3, rules.UnjustifiedLimit)
	assert.Equal(t, 5, rules.JustifiedLimit)
}
