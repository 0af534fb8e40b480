package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
)

type sessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.SessionDetail, error)
	FindActiveByShareCode(ctx context.Context, code string) (*models.SessionDetail, error)
	HasActiveForModule(ctx context.Context, moduleID string) (bool, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, int, error)
	Close(ctx context.Context, id string, presentCount int, at time.Time) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Session, error)
}

type sessionModuleRepository interface {
	FindByID(ctx context.Context, id string) (*models.Module, error)
}

type sessionEnrollmentRepository interface {
	ListByModule(ctx context.Context, moduleID string) ([]models.EnrollmentDetail, error)
	FindByStudentAndModule(ctx context.Context, studentID, moduleID string) (*models.Enrollment, error)
	IncrementAbsences(ctx context.Context, ids []string) error
}

type sessionRecordRepository interface {
	Create(ctx context.Context, record *models.AbsenceRecord) error
	BulkInsert(ctx context.Context, records []models.AbsenceRecord) error
	MarkedEnrollmentIDs(ctx context.Context, sessionID string) ([]string, error)
	CountBySession(ctx context.Context, sessionID string) (present int, absent int, err error)
	List(ctx context.Context, filter models.AbsenceRecordFilter) ([]models.AbsenceRecordDetail, int, error)
}

type sessionTeacherRepository interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	FindByUserID(ctx context.Context, userID string) (*models.Teacher, error)
	Teaches(ctx context.Context, teacherID, moduleID string) (bool, error)
}

type sessionStudentRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

// LivePublisher pushes events to connected monitor clients.
type LivePublisher interface {
	Publish(event string, payload interface{})
}

// SessionService drives the attendance session lifecycle.
type SessionService struct {
	sessions    sessionRepository
	modules     sessionModuleRepository
	enrollments sessionEnrollmentRepository
	records     sessionRecordRepository
	teachers    sessionTeacherRepository
	students    sessionStudentRepository
	live        LivePublisher
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	duration    time.Duration
}

// NewSessionService constructs the session service.
func NewSessionService(
	sessions sessionRepository,
	modules sessionModuleRepository,
	enrollments sessionEnrollmentRepository,
	records sessionRecordRepository,
	teachers sessionTeacherRepository,
	students sessionStudentRepository,
	live LivePublisher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	defaultDuration time.Duration,
) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultDuration <= 0 {
		defaultDuration = 90 * time.Minute
	}
	return &SessionService{
		sessions:    sessions,
		modules:     modules,
		enrollments: enrollments,
		records:     records,
		teachers:    teachers,
		students:    students,
		live:        live,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		duration:    defaultDuration,
	}
}

// OpenSessionRequest describes the payload for opening a session.
// TeacherID is only honoured for admins opening on a teacher's behalf.
type OpenSessionRequest struct {
	ModuleID        string  `json:"module_id" validate:"required"`
	TeacherID       string  `json:"teacher_id"`
	Room            *string `json:"room"`
	DurationMinutes int     `json:"duration_minutes" validate:"omitempty,min=5,max=480"`
}

// SessionListRequest describes session listing filters.
type SessionListRequest struct {
	ModuleID  string
	TeacherID string
	LevelID   string
	Status    *string
	Preset    string
	From      string
	To        string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Open starts a session for a module taught by the calling teacher.
// Admins may open on behalf of any assigned teacher.
func (s *SessionService) Open(ctx context.Context, claims *models.JWTClaims, req OpenSessionRequest) (*models.SessionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
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

	var teacher *models.Teacher
	if claims.Role == models.RoleAdmin && req.TeacherID != "" {
		teacher, err = s.teachers.FindByID(ctx, req.TeacherID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
		}
	} else {
		teacher, err = s.teachers.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "no teacher profile linked to this account")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
		}
	}
	if claims.Role != models.RoleAdmin {
		teaches, err := s.teachers.Teaches(ctx, teacher.ID, module.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check assignment")
		}
		if !teaches {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "module is not assigned to this teacher")
		}
	}

	open, err := s.sessions.HasActiveForModule(ctx, module.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check open sessions")
	}
	if open {
		return nil, appErrors.Clone(appErrors.ErrConflict, "module already has an open session")
	}

	enrollments, err := s.enrollments.ListByModule(ctx, module.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	expected := 0
	for _, enrollment := range enrollments {
		if !enrollment.Excluded {
			expected++
		}
	}

	code, err := generateShareCode()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate share code")
	}

	duration := s.duration
	if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
	}

	now := time.Now().UTC()
	session := &models.Session{
		ModuleID:      module.ID,
		TeacherID:     teacher.ID,
		ShareCode:     code,
		Room:          req.Room,
		StartAt:       now,
		EndsAt:        now.Add(duration),
		Status:        models.SessionActive,
		ExpectedCount: expected,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	detail, err := s.sessions.FindByID(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load created session")
	}

	s.publish("session_update", map[string]interface{}{
		"session_id":  detail.ID,
		"module_code": detail.ModuleCode,
		"status":      detail.Status,
		"expected":    detail.ExpectedCount,
	})
	s.logger.Info("session opened",
		zap.String("session_id", detail.ID),
		zap.String("module_code", detail.ModuleCode),
		zap.Int("expected", expected))
	return detail, nil
}

// MarkPresentRequest carries a student check-in.
type MarkPresentRequest struct {
	ShareCode string `json:"share_code" validate:"required,min=6"`
}

// MarkPresent checks the calling student into the session behind the
// share code.
func (s *SessionService) MarkPresent(ctx context.Context, claims *models.JWTClaims, req MarkPresentRequest) (*models.SessionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid check-in payload")
	}

	code := normalizeShareCode(req.ShareCode)
	session, err := s.sessions.FindActiveByShareCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSessionClosed, "no open session for this code")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	now := time.Now().UTC()
	if now.After(session.EndsAt) {
		return nil, appErrors.Clone(appErrors.ErrSessionClosed, "session window has ended")
	}

	student, err := s.students.FindByUserID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile linked to this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	enrollment, err := s.enrollments.FindByStudentAndModule(ctx, student.ID, session.ModuleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "student is not enrolled in this module")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Excluded {
		return nil, appErrors.Clone(appErrors.ErrStudentExcluded, "student is excluded from this module")
	}

	record := &models.AbsenceRecord{
		SessionID:    session.ID,
		EnrollmentID: enrollment.ID,
		Status:       models.RecordPresent,
		MarkedAt:     &now,
	}
	if err := s.records.Create(ctx, record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyMarked, "attendance already marked for this session")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}

	if s.metrics != nil {
		s.metrics.IncAttendanceMark()
	}
	s.publish("attendance_update", map[string]interface{}{
		"session_id":  session.ID,
		"module_code": session.ModuleCode,
		"student_id":  student.ID,
		"marked_at":   now,
	})
	return session, nil
}

// Close ends a session: unmarked enrollments become absence records,
// counters increment, and the frozen stats are returned.
func (s *SessionService) Close(ctx context.Context, claims *models.JWTClaims, sessionID string) (*models.SessionCloseStats, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.Status != models.SessionActive {
		return nil, appErrors.Clone(appErrors.ErrSessionClosed, "session is already closed")
	}
	if claims != nil && claims.Role != models.RoleAdmin {
		teacher, err := s.teachers.FindByUserID(ctx, claims.UserID)
		if err != nil || teacher == nil || teacher.ID != session.TeacherID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning teacher can close this session")
		}
	}

	stats, err := s.finalize(ctx, &session.Session)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CloseExpired sweeps sessions whose window has lapsed. Returns how
// many were closed; used by the background auto close job.
func (s *SessionService) CloseExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.sessions.ListExpired(ctx, now, 50)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}
	closed := 0
	for i := range expired {
		if _, err := s.finalize(ctx, &expired[i]); err != nil {
			s.logger.Warn("auto close failed",
				zap.String("session_id", expired[i].ID),
				zap.Error(err))
			continue
		}
		closed++
	}
	return closed, nil
}

// finalize writes absent records for unmarked enrollments, bumps
// counters and freezes the session.
func (s *SessionService) finalize(ctx context.Context, session *models.Session) (*models.SessionCloseStats, error) {
	enrollments, err := s.enrollments.ListByModule(ctx, session.ModuleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}

	markedIDs, err := s.records.MarkedEnrollmentIDs(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session records")
	}
	marked := make(map[string]struct{}, len(markedIDs))
	for _, id := range markedIDs {
		marked[id] = struct{}{}
	}

	var absentRecords []models.AbsenceRecord
	var absentEnrollmentIDs []string
	for _, enrollment := range enrollments {
		if _, ok := marked[enrollment.ID]; ok {
			continue
		}
		status := models.RecordAbsent
		if enrollment.Excluded {
			status = models.RecordExcluded
		}
		absentRecords = append(absentRecords, models.AbsenceRecord{
			SessionID:    session.ID,
			EnrollmentID: enrollment.ID,
			Status:       status,
		})
		if status == models.RecordAbsent {
			absentEnrollmentIDs = append(absentEnrollmentIDs, enrollment.ID)
		}
	}
	if err := s.records.BulkInsert(ctx, absentRecords); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write absence records")
	}
	if err := s.enrollments.IncrementAbsences(ctx, absentEnrollmentIDs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update absence counters")
	}

	present, absent, err := s.records.CountBySession(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count session records")
	}

	now := time.Now().UTC()
	if err := s.sessions.Close(ctx, session.ID, present, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close session")
	}

	expected := session.ExpectedCount
	rate := 0.0
	if expected > 0 {
		rate = float64(present) / float64(expected)
	}
	stats := &models.SessionCloseStats{
		SessionID:      session.ID,
		Present:        present,
		Absent:         absent,
		Expected:       expected,
		AttendanceRate: rate,
	}

	if s.metrics != nil {
		s.metrics.IncSessionClosed()
	}
	s.publish("session_update", map[string]interface{}{
		"session_id": session.ID,
		"status":     models.SessionEnded,
		"present":    present,
		"absent":     absent,
	})
	s.logger.Info("session closed",
		zap.String("session_id", session.ID),
		zap.Int("present", present),
		zap.Int("absent", absent))
	return stats, nil
}

// Get returns a session with context.
func (s *SessionService) Get(ctx context.Context, id string) (*models.SessionDetail, error) {
	detail, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return detail, nil
}

// List returns sessions matching the filters. When a period preset is
// given the range resolver narrows the window.
func (s *SessionService) List(ctx context.Context, req SessionListRequest) ([]models.SessionDetail, *models.Pagination, error) {
	var status *models.SessionStatus
	if req.Status != nil {
		st := models.SessionStatus(strings.ToLower(*req.Status))
		if !st.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid session status")
		}
		status = &st
	}

	filter := models.SessionFilter{
		ModuleID:  req.ModuleID,
		TeacherID: req.TeacherID,
		LevelID:   req.LevelID,
		Status:    status,
		Page:      req.Page,
		PageSize:  req.PageSize,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	if req.Preset != "" || req.From != "" || req.To != "" {
		rng := models.ResolvePeriod(models.PeriodPreset(req.Preset), req.From, req.To, time.Now())
		filter.DateFrom = &rng.Start
		filter.DateTo = &rng.End
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	sessions, total, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return sessions, pagination, nil
}

// Roster returns the per student records of a session.
func (s *SessionService) Roster(ctx context.Context, sessionID string) ([]models.AbsenceRecordDetail, error) {
	records, _, err := s.records.List(ctx, models.AbsenceRecordFilter{
		SessionID: sessionID,
		PageSize:  200,
		SortBy:    "student_name",
		SortOrder: "ASC",
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session roster")
	}
	return records, nil
}

func (s *SessionService) publish(event string, payload interface{}) {
	if s.live == nil {
		return
	}
	s.live.Publish(event, payload)
}

const shareCodeCharset = "0123456789ABCDEF"

// generateShareCode returns a session code in SES-XXXXXX form.
func generateShareCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var builder strings.Builder
	builder.WriteString("SES-")
	for _, b := range buf {
		builder.WriteByte(shareCodeCharset[int(b)%len(shareCodeCharset)])
	}
	return builder.String(), nil
}

func normalizeShareCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !strings.HasPrefix(code, "SES-") && len(code) == 6 {
		code = "SES-" + code
	}
	return code
}
