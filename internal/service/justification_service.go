package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/mailer"
)

type justificationRepository interface {
	List(ctx context.Context, filter models.JustificationFilter) ([]models.JustificationDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.JustificationDetail, error)
	ExistsForRecord(ctx context.Context, recordID string) (bool, error)
	Create(ctx context.Context, justification *models.Justification) error
	Decide(ctx context.Context, id string, status models.JustificationStatus, note *string, decidedBy string, at time.Time) error
	CountPending(ctx context.Context) (int, error)
}

type justificationRecordRepository interface {
	FindByID(ctx context.Context, id string) (*models.AbsenceRecordDetail, error)
}

type justificationEnrollmentRepository interface {
	AdjustJustified(ctx context.Context, enrollmentID string, delta int) error
}

type justificationStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type attachmentStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
}

// Notifier delivers in-app notifications without failing the caller.
type Notifier interface {
	Push(ctx context.Context, userID string, kind models.NotificationKind, title, body string)
}

// JustificationService runs the absence justification workflow.
type JustificationService struct {
	justifications justificationRepository
	records        justificationRecordRepository
	enrollments    justificationEnrollmentRepository
	students       justificationStudentRepository
	store          attachmentStore
	notifier       Notifier
	mail           mailer.Mailer
	validator      *validator.Validate
	logger         *zap.Logger
}

// NewJustificationService constructs the justification service.
func NewJustificationService(
	justifications justificationRepository,
	records justificationRecordRepository,
	enrollments justificationEnrollmentRepository,
	students justificationStudentRepository,
	store attachmentStore,
	notifier Notifier,
	mail mailer.Mailer,
	validate *validator.Validate,
	logger *zap.Logger,
) *JustificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JustificationService{
		justifications: justifications,
		records:        records,
		enrollments:    enrollments,
		students:       students,
		store:          store,
		notifier:       notifier,
		mail:           mail,
		validator:      validate,
		logger:         logger,
	}
}

// SubmitJustificationRequest is a student's filing for one absence.
type SubmitJustificationRequest struct {
	AbsenceRecordID string `form:"absence_record_id" json:"absence_record_id" validate:"required"`
	Reason          string `form:"reason" json:"reason" validate:"required,min=3,max=2000"`
}

// Attachment is an uploaded supporting document.
type Attachment struct {
	Filename string
	Reader   io.Reader
}

var allowedAttachmentExts = map[string]struct{}{
	".pdf":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// Submit files a justification for the calling student's absence.
func (s *JustificationService) Submit(ctx context.Context, claims *models.JWTClaims, req SubmitJustificationRequest, attachment *Attachment) (*models.JustificationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid justification payload")
	}

	student, err := s.students.FindByUserID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile linked to this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	record, err := s.records.FindByID(ctx, req.AbsenceRecordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "absence record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load absence record")
	}
	if record.StudentID != student.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot justify another student's absence")
	}
	if record.Status != models.RecordAbsent {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only absences can be justified")
	}

	exists, err := s.justifications.ExistsForRecord(ctx, record.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing justification")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateJustification, "")
	}

	var attachmentPath *string
	if attachment != nil && attachment.Reader != nil {
		path, err := s.saveAttachment(attachment)
		if err != nil {
			return nil, err
		}
		attachmentPath = &path
	}

	justification := &models.Justification{
		AbsenceRecordID: record.ID,
		StudentID:       student.ID,
		Reason:          strings.TrimSpace(req.Reason),
		AttachmentPath:  attachmentPath,
	}
	if err := s.justifications.Create(ctx, justification); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create justification")
	}

	detail, err := s.justifications.FindByID(ctx, justification.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load created justification")
	}
	s.logger.Info("justification filed",
		zap.String("justification_id", detail.ID),
		zap.String("student_id", student.ID),
		zap.String("module_code", detail.ModuleCode))
	return detail, nil
}

func (s *JustificationService) saveAttachment(attachment *Attachment) (string, error) {
	ext := strings.ToLower(filepath.Ext(attachment.Filename))
	if _, ok := allowedAttachmentExts[ext]; !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, "attachment must be a pdf, png or jpeg file")
	}
	name := filepath.Join("justifications", uuid.NewString()+ext)
	path, err := s.store.SaveStream(name, attachment.Reader)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}
	return path, nil
}

// DecideJustificationRequest carries an admin decision.
type DecideJustificationRequest struct {
	Note string `json:"note" validate:"omitempty,max=1000"`
}

// Approve accepts a pending justification. The absence re-derives as
// justified on the next aggregation read.
func (s *JustificationService) Approve(ctx context.Context, claims *models.JWTClaims, id string, req DecideJustificationRequest) (*models.JustificationDetail, error) {
	return s.decide(ctx, claims, id, models.JustificationApproved, req)
}

// Reject declines a pending justification with an optional note.
func (s *JustificationService) Reject(ctx context.Context, claims *models.JWTClaims, id string, req DecideJustificationRequest) (*models.JustificationDetail, error) {
	return s.decide(ctx, claims, id, models.JustificationRejected, req)
}

func (s *JustificationService) decide(ctx context.Context, claims *models.JWTClaims, id string, status models.JustificationStatus, req DecideJustificationRequest) (*models.JustificationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	detail, err := s.justifications.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "justification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load justification")
	}
	if detail.Status != models.JustificationPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "justification is already decided")
	}

	var note *string
	if trimmed := strings.TrimSpace(req.Note); trimmed != "" {
		note = &trimmed
	}
	now := time.Now().UTC()
	if err := s.justifications.Decide(ctx, id, status, note, claims.UserID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "justification is already decided")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}

	if status == models.JustificationApproved {
		record, err := s.records.FindByID(ctx, detail.AbsenceRecordID)
		if err != nil {
			s.logger.Error("approved justification without counter update",
				zap.String("justification_id", id),
				zap.Error(err))
		} else if err := s.enrollments.AdjustJustified(ctx, record.EnrollmentID, 1); err != nil {
			s.logger.Error("approved justification without counter update",
				zap.String("justification_id", id),
				zap.Error(err))
		}
	}

	s.notifyDecision(ctx, detail, status, note)

	decided, err := s.justifications.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load decided justification")
	}
	s.logger.Info("justification decided",
		zap.String("justification_id", id),
		zap.String("status", string(status)),
		zap.String("decided_by", claims.UserID))
	return decided, nil
}

// notifyDecision informs the student in-app and by mail. Failures are
// logged, never propagated.
func (s *JustificationService) notifyDecision(ctx context.Context, detail *models.JustificationDetail, status models.JustificationStatus, note *string) {
	student, err := s.students.FindByID(ctx, detail.StudentID)
	if err != nil {
		s.logger.Warn("decision notification skipped",
			zap.String("student_id", detail.StudentID),
			zap.Error(err))
		return
	}

	date := detail.SessionDate.Format("Jan 2, 2006")
	var kind models.NotificationKind
	var title, body string
	switch status {
	case models.JustificationApproved:
		kind = models.NotificationJustificationApproved
		title = "Absence justified"
		body = fmt.Sprintf("Your justification for %s on %s was approved.", detail.ModuleCode, date)
	default:
		kind = models.NotificationJustificationRejected
		title = "Justification rejected"
		body = fmt.Sprintf("Your justification for %s on %s was rejected.", detail.ModuleCode, date)
		if note != nil {
			body += " Note: " + *note
		}
	}

	if s.notifier != nil && student.UserID != nil {
		s.notifier.Push(ctx, *student.UserID, kind, title, body)
	}
	if s.mail != nil {
		s.mail.Send(mailer.Message{
			ToName:  student.FullName,
			ToEmail: student.Email,
			Subject: title,
			Text:    body,
		})
	}
}

// JustificationListRequest scopes review listings.
type JustificationListRequest struct {
	Status    string
	StudentID string
	ModuleID  string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// List returns justifications for review.
func (s *JustificationService) List(ctx context.Context, req JustificationListRequest) ([]models.JustificationDetail, *models.Pagination, error) {
	var status *models.JustificationStatus
	if req.Status != "" {
		st := models.JustificationStatus(strings.ToUpper(req.Status))
		if !st.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid justification status")
		}
		status = &st
	}

	filter := models.JustificationFilter{
		Status:    status,
		StudentID: req.StudentID,
		ModuleID:  req.ModuleID,
		Page:      req.Page,
		PageSize:  req.PageSize,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	justifications, total, err := s.justifications.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list justifications")
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return justifications, pagination, nil
}

// Get returns one justification. Students may only read their own.
func (s *JustificationService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.JustificationDetail, error) {
	detail, err := s.justifications.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "justification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load justification")
	}
	if claims.Role == models.RoleStudent {
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil || student.ID != detail.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot read another student's justification")
		}
	}
	return detail, nil
}

// PendingCount reports the review backlog.
func (s *JustificationService) PendingCount(ctx context.Context) (int, error) {
	count, err := s.justifications.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending justifications: %w", err)
	}
	return count, nil
}
