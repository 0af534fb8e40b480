package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
)

type mockSessionRepo struct {
	sessions   map[string]*models.SessionDetail
	byCode     map[string]*models.SessionDetail
	hasActive  bool
	created    *models.Session
	closed     []string
	expired    []models.Session
	listResult []models.SessionDetail
	listTotal  int
	lastFilter models.SessionFilter
}

func (m *mockSessionRepo) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = "ses-1"
	}
	m.created = session
	if m.sessions == nil {
		m.sessions = make(map[string]*models.SessionDetail)
	}
	m.sessions[session.ID] = &models.SessionDetail{Session: *session, ModuleCode: "CS101"}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*models.SessionDetail, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) FindActiveByShareCode(ctx context.Context, code string) (*models.SessionDetail, error) {
	if s, ok := m.byCode[code]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) HasActiveForModule(ctx context.Context, moduleID string) (bool, error) {
	return m.hasActive, nil
}

func (m *mockSessionRepo) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, int, error) {
	m.lastFilter = filter
	return m.listResult, m.listTotal, nil
}

func (m *mockSessionRepo) Close(ctx context.Context, id string, presentCount int, at time.Time) error {
	m.closed = append(m.closed, id)
	if s, ok := m.sessions[id]; ok {
		s.Status = models.SessionEnded
		s.PresentCount = presentCount
	}
	return nil
}

func (m *mockSessionRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Session, error) {
	return m.expired, nil
}

type mockSessionModuleRepo struct {
	modules map[string]*models.Module
}

func (m *mockSessionModuleRepo) FindByID(ctx context.Context, id string) (*models.Module, error) {
	if mod, ok := m.modules[id]; ok {
		return mod, nil
	}
	return nil, sql.ErrNoRows
}

type mockSessionEnrollmentRepo struct {
	byModule    map[string][]models.EnrollmentDetail
	byStudent   map[string]*models.Enrollment
	incremented []string
}

func (m *mockSessionEnrollmentRepo) ListByModule(ctx context.Context, moduleID string) ([]models.EnrollmentDetail, error) {
	return m.byModule[moduleID], nil
}

func (m *mockSessionEnrollmentRepo) FindByStudentAndModule(ctx context.Context, studentID, moduleID string) (*models.Enrollment, error) {
	if e, ok := m.byStudent[studentID+"/"+moduleID]; ok {
		return e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionEnrollmentRepo) IncrementAbsences(ctx context.Context, ids []string) error {
	m.incremented = append(m.incremented, ids...)
	return nil
}

type mockSessionRecordRepo struct {
	created   []models.AbsenceRecord
	createErr error
	bulk      []models.AbsenceRecord
	markedIDs []string
	present   int
	absent    int
	roster    []models.AbsenceRecordDetail
}

func (m *mockSessionRecordRepo) Create(ctx context.Context, record *models.AbsenceRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	record.ID = "rec-1"
	m.created = append(m.created, *record)
	return nil
}

func (m *mockSessionRecordRepo) BulkInsert(ctx context.Context, records []models.AbsenceRecord) error {
	m.bulk = append(m.bulk, records...)
	return nil
}

func (m *mockSessionRecordRepo) MarkedEnrollmentIDs(ctx context.Context, sessionID string) ([]string, error) {
	return m.markedIDs, nil
}

func (m *mockSessionRecordRepo) CountBySession(ctx context.Context, sessionID string) (int, int, error) {
	return m.present, m.absent, nil
}

func (m *mockSessionRecordRepo) List(ctx context.Context, filter models.AbsenceRecordFilter) ([]models.AbsenceRecordDetail, int, error) {
	return m.roster, len(m.roster), nil
}

type mockSessionTeacherRepo struct {
	byID     map[string]*models.Teacher
	byUserID map[string]*models.Teacher
	teaches  bool
}

func (m *mockSessionTeacherRepo) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if t, ok := m.byID[id]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionTeacherRepo) FindByUserID(ctx context.Context, userID string) (*models.Teacher, error) {
	if t, ok := m.byUserID[userID]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionTeacherRepo) Teaches(ctx context.Context, teacherID, moduleID string) (bool, error) {
	return m.teaches, nil
}

type mockSessionStudentRepo struct {
	byUserID map[string]*models.Student
}

func (m *mockSessionStudentRepo) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	if s, ok := m.byUserID[userID]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type capturePublisher struct {
	events []string
}

func (c *capturePublisher) Publish(event string, payload interface{}) {
	c.events = append(c.events, event)
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "u-1", Role: models.RoleTeacher}
}

func sessionFixtures() (*mockSessionRepo, *mockSessionModuleRepo, *mockSessionEnrollmentRepo, *mockSessionRecordRepo, *mockSessionTeacherRepo, *mockSessionStudentRepo) {
	sessions := &mockSessionRepo{byCode: make(map[string]*models.SessionDetail)}
	modules := &mockSessionModuleRepo{modules: map[string]*models.Module{
		"mod-1": {ID: "mod-1", Code: "CS101", Title: "Algorithms", Active: true},
	}}
	enrollments := &mockSessionEnrollmentRepo{
		byModule: map[string][]models.EnrollmentDetail{
			"mod-1": {
				{Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-1", ModuleID: "mod-1"}},
				{Enrollment: models.Enrollment{ID: "enr-2", StudentID: "stu-2", ModuleID: "mod-1"}},
				{Enrollment: models.Enrollment{ID: "enr-3", StudentID: "stu-3", ModuleID: "mod-1", Excluded: true}},
			},
		},
		byStudent: make(map[string]*models.Enrollment),
	}
	records := &mockSessionRecordRepo{}
	teachers := &mockSessionTeacherRepo{
		byID:     map[string]*models.Teacher{"tea-1": {ID: "tea-1", FullName: "Dr. Benali"}},
		byUserID: map[string]*models.Teacher{"u-1": {ID: "tea-1", FullName: "Dr. Benali"}},
		teaches:  true,
	}
	students := &mockSessionStudentRepo{byUserID: map[string]*models.Student{
		"u-9": {ID: "stu-1", FullName: "Amine K."},
	}}
	return sessions, modules, enrollments, records, teachers, students
}

func newTestSessionService(sessions *mockSessionRepo, modules *mockSessionModuleRepo, enrollments *mockSessionEnrollmentRepo, records *mockSessionRecordRepo, teachers *mockSessionTeacherRepo, students *mockSessionStudentRepo, live LivePublisher) *SessionService {
	return NewSessionService(sessions, modules, enrollments, records, teachers, students, live, nil, validator.New(), zap.NewNop(), 90*time.Minute)
}

func TestSessionServiceOpen(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	live := &capturePublisher{}
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, live)

	detail, err := svc.Open(context.Background(), teacherClaims(), OpenSessionRequest{ModuleID: "mod-1"})
	require.NoError(t, err)

	assert.Equal(t, models.SessionActive, detail.Status)
	assert.Equal(t, 2, detail.ExpectedCount, "excluded enrollments do not count toward the expected headcount")
	assert.Equal(t, "tea-1", sessions.created.TeacherID)
	assert.True(t, strings.HasPrefix(sessions.created.ShareCode, "SES-"))
	assert.Len(t, sessions.created.ShareCode, 10)
	assert.Equal(t, 90*time.Minute, sessions.created.EndsAt.Sub(sessions.created.StartAt))
	assert.Contains(t, live.events, "session_update")
}

func TestSessionServiceOpenCustomDuration(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	_, err := svc.Open(context.Background(), teacherClaims(), OpenSessionRequest{ModuleID: "mod-1", DurationMinutes: 45})
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, sessions.created.EndsAt.Sub(sessions.created.StartAt))
}

func TestSessionServiceOpenConflict(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	sessions.hasActive = true
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	_, err := svc.Open(context.Background(), teacherClaims(), OpenSessionRequest{ModuleID: "mod-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceOpenNotAssigned(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	teachers.teaches = false
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	_, err := svc.Open(context.Background(), teacherClaims(), OpenSessionRequest{ModuleID: "mod-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceOpenInactiveModule(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	modules.modules["mod-1"].Active = false
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	_, err := svc.Open(context.Background(), teacherClaims(), OpenSessionRequest{ModuleID: "mod-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceOpenAdminOnBehalf(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	teachers.byID["tea-9"] = &models.Teacher{ID: "tea-9", FullName: "Prof. Saidi"}
	teachers.teaches = false
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	admin := &models.JWTClaims{UserID: "u-adm", Role: models.RoleAdmin}
	_, err := svc.Open(context.Background(), admin, OpenSessionRequest{ModuleID: "mod-1", TeacherID: "tea-9"})
	require.NoError(t, err)
	assert.Equal(t, "tea-9", sessions.created.TeacherID)
}

func activeSessionDetail(code string, endsAt time.Time) *models.SessionDetail {
	return &models.SessionDetail{
		Session: models.Session{
			ID:        "ses-1",
			ModuleID:  "mod-1",
			TeacherID: "tea-1",
			ShareCode: code,
			Status:    models.SessionActive,
			StartAt:   endsAt.Add(-90 * time.Minute),
			EndsAt:    endsAt,
		},
		ModuleCode: "CS101",
	}
}

func TestSessionServiceMarkPresent(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	sessions.byCode["SES-AB12CD"] = activeSessionDetail("SES-AB12CD", time.Now().UTC().Add(time.Hour))
	enrollments.byStudent["stu-1/mod-1"] = &models.Enrollment{ID: "enr-1", StudentID: "stu-1", ModuleID: "mod-1"}
	live := &capturePublisher{}
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, live)

	student := &models.JWTClaims{UserID: "u-9", Role: models.RoleStudent}
	_, err := svc.MarkPresent(context.Background(), student, MarkPresentRequest{ShareCode: "ab12cd"})
	require.NoError(t, err)

	require.Len(t, records.created, 1)
	assert.Equal(t, models.RecordPresent, records.created[0].Status)
	assert.Equal(t, "enr-1", records.created[0].EnrollmentID)
	assert.NotNil(t, records.created[0].MarkedAt)
	assert.Contains(t, live.events, "attendance_update")
}

func TestSessionServiceMarkPresentDuplicate(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	sessions.byCode["SES-AB12CD"] = activeSessionDetail("SES-AB12CD", time.Now().UTC().Add(time.Hour))
	enrollments.byStudent["stu-1/mod-1"] = &models.Enrollment{ID: "enr-1", StudentID: "stu-1", ModuleID: "mod-1"}
	records.createErr = sql.ErrNoRows
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	student := &models.JWTClaims{UserID: "u-9", Role: models.RoleStudent}
	_, err := svc.MarkPresent(context.Background(), student, MarkPresentRequest{ShareCode: "SES-AB12CD"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyMarked.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceMarkPresentWindowEnded(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	sessions.byCode["SES-AB12CD"] = activeSessionDetail("SES-AB12CD", time.Now().UTC().Add(-time.Minute))
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	student := &models.JWTClaims{UserID: "u-9", Role: models.RoleStudent}
	_, err := svc.MarkPresent(context.Background(), student, MarkPresentRequest{ShareCode: "SES-AB12CD"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSessionClosed.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceMarkPresentUnknownCode(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	student := &models.JWTClaims{UserID: "u-9", Role: models.RoleStudent}
	_, err := svc.MarkPresent(context.Background(), student, MarkPresentRequest{ShareCode: "SES-000000"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSessionClosed.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceMarkPresentNotEnrolled(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	sessions.byCode["SES-AB12CD"] = activeSessionDetail("SES-AB12CD", time.Now().UTC().Add(time.Hour))
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	student := &models.JWTClaims{UserID: "u-9", Role: models.RoleStudent}
	_, err := svc.MarkPresent(context.Background(), student, MarkPresentRequest{ShareCode: "SES-AB12CD"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceMarkPresentExcluded(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	sessions.byCode["SES-AB12CD"] = activeSessionDetail("SES-AB12CD", time.Now().UTC().Add(time.Hour))
	enrollments.byStudent["stu-1/mod-1"] = &models.Enrollment{ID: "enr-1", StudentID: "stu-1", ModuleID: "mod-1", Excluded: true}
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	student := &models.JWTClaims{UserID: "u-9", Role: models.RoleStudent}
	_, err := svc.MarkPresent(context.Background(), student, MarkPresentRequest{ShareCode: "SES-AB12CD"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStudentExcluded.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceClose(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	detail := activeSessionDetail("SES-AB12CD", time.Now().UTC().Add(time.Hour))
	detail.ExpectedCount = 2
	sessions.sessions = map[string]*models.SessionDetail{"ses-1": detail}
	records.markedIDs = []string{"enr-1"}
	records.present = 1
	records.absent = 1
	live := &capturePublisher{}
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, live)

	stats, err := svc.Close(context.Background(), teacherClaims(), "ses-1")
	require.NoError(t, err)

	require.Len(t, records.bulk, 2)
	byEnrollment := map[string]models.RecordStatus{}
	for _, rec := range records.bulk {
		byEnrollment[rec.EnrollmentID] = rec.Status
	}
	assert.Equal(t, models.RecordAbsent, byEnrollment["enr-2"])
	assert.Equal(t, models.RecordExcluded, byEnrollment["enr-3"])
	assert.Equal(t, []string{"enr-2"}, enrollments.incremented, "excluded rows do not bump the absence counter")
	assert.Equal(t, []string{"ses-1"}, sessions.closed)
	assert.Equal(t, 1, stats.Present)
	assert.Equal(t, 1, stats.Absent)
	assert.InDelta(t, 0.5, stats.AttendanceRate, 0.001)
	assert.Contains(t, live.events, "session_update")
}

func TestSessionServiceCloseNotOwner(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	sessions.sessions = map[string]*models.SessionDetail{"ses-1": activeSessionDetail("SES-AB12CD", time.Now().UTC().Add(time.Hour))}
	teachers.byUserID["u-2"] = &models.Teacher{ID: "tea-2", FullName: "Someone Else"}
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	other := &models.JWTClaims{UserID: "u-2", Role: models.RoleTeacher}
	_, err := svc.Close(context.Background(), other, "ses-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceCloseAlreadyEnded(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	detail := activeSessionDetail("SES-AB12CD", time.Now().UTC().Add(time.Hour))
	detail.Status = models.SessionEnded
	sessions.sessions = map[string]*models.SessionDetail{"ses-1": detail}
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	_, err := svc.Close(context.Background(), teacherClaims(), "ses-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSessionClosed.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceCloseExpired(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	past := time.Now().UTC().Add(-time.Hour)
	sessions.expired = []models.Session{
		{ID: "ses-1", ModuleID: "mod-1", TeacherID: "tea-1", Status: models.SessionActive, EndsAt: past},
		{ID: "ses-2", ModuleID: "mod-1", TeacherID: "tea-1", Status: models.SessionActive, EndsAt: past},
	}
	sessions.sessions = map[string]*models.SessionDetail{}
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	closed, err := svc.CloseExpired(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, closed)
	assert.ElementsMatch(t, []string{"ses-1", "ses-2"}, sessions.closed)
}

func TestSessionServiceListInvalidStatus(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	bogus := "paused"
	_, _, err := svc.List(context.Background(), SessionListRequest{Status: &bogus})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceListPeriodNarrowsWindow(t *testing.T) {
	sessions, modules, enrollments, records, teachers, students := sessionFixtures()
	svc := newTestSessionService(sessions, modules, enrollments, records, teachers, students, nil)

	_, pagination, err := svc.List(context.Background(), SessionListRequest{Preset: "week", Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.NotNil(t, sessions.lastFilter.DateFrom)
	require.NotNil(t, sessions.lastFilter.DateTo)
	assert.True(t, sessions.lastFilter.DateFrom.Before(*sessions.lastFilter.DateTo))
	assert.Equal(t, 2, pagination.Page)
	assert.Equal(t, 10, pagination.PageSize)
}

func TestNormalizeShareCode(t *testing.T) {
	cases := map[string]string{
		"ses-ab12cd":     "SES-AB12CD",
		"AB12CD":         "SES-AB12CD",
		"  SES-AB12CD  ": "SES-AB12CD",
		"SES-000000":     "SES-000000",
	}
	for input, want := range cases {
		assert.Equal(t, want, normalizeShareCode(input), "input %q", input)
	}
}

func TestGenerateShareCode(t *testing.T) {
	code, err := generateShareCode()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "SES-"))
	assert.Len(t, code, 10)
	for _, r := range code[4:] {
		assert.Contains(t, shareCodeCharset, string(r))
	}
}
