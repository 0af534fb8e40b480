package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/mailer"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
	ExistsByNumber(ctx context.Context, number string, excludeID string) (bool, error)
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	NextNumber(ctx context.Context) (string, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
}

type studentLevelRepository interface {
	FindByID(ctx context.Context, id string) (*models.Level, error)
	FindByName(ctx context.Context, name string) (*models.Level, error)
}

type studentRecordRepository interface {
	List(ctx context.Context, filter models.AbsenceRecordFilter) ([]models.AbsenceRecordDetail, int, error)
}

// CreateStudentRequest holds the payload for registering a student.
// Number is assigned from the sequence when left empty.
type CreateStudentRequest struct {
	Number   string `json:"number"`
	FullName string `json:"full_name" validate:"required,min=2,max=120"`
	Email    string `json:"email" validate:"required,email"`
	LevelID  string `json:"level_id" validate:"required"`
}

// UpdateStudentRequest holds the payload for updating a student.
type UpdateStudentRequest struct {
	Number   string `json:"number" validate:"required"`
	FullName string `json:"full_name" validate:"required,min=2,max=120"`
	Email    string `json:"email" validate:"required,email"`
	LevelID  string `json:"level_id" validate:"required"`
	Active   bool   `json:"active"`
}

// StudentService handles roster use-cases.
type StudentService struct {
	repo      studentRepository
	levels    studentLevelRepository
	records   studentRecordRepository
	mail      mailer.Mailer
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, levels studentLevelRepository, records studentRecordRepository, mail mailer.Mailer, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{
		repo:      repo,
		levels:    levels,
		records:   records,
		mail:      mail,
		validator: validate,
		logger:    logger,
	}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
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
	return students, pagination, nil
}

// Get returns detailed student information.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a new student and mails the assigned number.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if _, err := s.levels.FindByID(ctx, req.LevelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	exists, err := s.repo.ExistsByEmail(ctx, email, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate email")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already used")
	}

	number := strings.TrimSpace(req.Number)
	if number == "" {
		number, err = s.repo.NextNumber(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign student number")
		}
	} else {
		taken, err := s.repo.ExistsByNumber(ctx, number, "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate number")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student number already used")
		}
	}

	student := &models.Student{
		Number:   number,
		FullName: strings.TrimSpace(req.FullName),
		Email:    email,
		LevelID:  req.LevelID,
		Active:   true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	if s.mail != nil {
		s.mail.Send(mailer.Message{
			ToName:  student.FullName,
			ToEmail: student.Email,
			Subject: "Welcome",
			Text:    fmt.Sprintf("Your student number is %s.", student.Number),
		})
	}
	s.logger.Info("student registered",
		zap.String("student_id", student.ID),
		zap.String("number", student.Number))
	return student, nil
}

// Update modifies an existing student record.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if _, err := s.levels.FindByID(ctx, req.LevelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}

	number := strings.TrimSpace(req.Number)
	taken, err := s.repo.ExistsByNumber(ctx, number, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate number")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student number already used")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	emailTaken, err := s.repo.ExistsByEmail(ctx, email, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate email")
	}
	if emailTaken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already used")
	}

	student := detail.Student
	student.Number = number
	student.FullName = strings.TrimSpace(req.FullName)
	student.Email = email
	student.LevelID = req.LevelID
	student.Active = req.Active
	if err := s.repo.Update(ctx, &student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return &student, nil
}

// Deactivate marks a student inactive.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
	}
	return nil
}

// StudentAbsencesRequest scopes a student's absence history.
type StudentAbsencesRequest struct {
	Preset   string
	From     string
	To       string
	ModuleID string
	Page     int
	PageSize int
}

// Absences returns a student's absence records, newest first. Students
// may only read their own history; staff roles can read any student.
func (s *StudentService) Absences(ctx context.Context, claims *models.JWTClaims, studentID string, req StudentAbsencesRequest) ([]models.AbsenceRecordDetail, *models.Pagination, error) {
	if claims != nil && claims.Role == models.RoleStudent {
		own, err := s.repo.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile linked to this account")
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
		if own.ID != studentID {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "students can only read their own absences")
		}
	}
	if _, err := s.repo.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	status := models.RecordAbsent
	filter := models.AbsenceRecordFilter{
		StudentID: studentID,
		ModuleID:  req.ModuleID,
		Status:    &status,
		Page:      req.Page,
		PageSize:  req.PageSize,
	}
	if req.Preset != "" || req.From != "" || req.To != "" {
		rng := models.ResolvePeriod(models.PeriodPreset(req.Preset), req.From, req.To, time.Now())
		filter.DateFrom = &rng.Start
		filter.DateTo = &rng.End
	}
	records, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list absences")
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
	return records, pagination, nil
}

// ImportResult summarises a bulk CSV import.
type ImportResult struct {
	Imported  int                            `json:"imported"`
	Conflicts []models.StudentImportConflict `json:"conflicts"`
}

// Import reads students from a CSV stream, one fullName,email,level
// line per student. Lines that cannot be imported are reported back
// with their reason instead of aborting the batch.
func (s *StudentService) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	result := &ImportResult{Conflicts: []models.StudentImportConflict{}}
	line := 0
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Conflicts = append(result.Conflicts, models.StudentImportConflict{Line: line, Reason: "malformed csv line"})
			continue
		}
		if line == 1 && looksLikeHeader(fields) {
			continue
		}
		if len(fields) < 3 {
			result.Conflicts = append(result.Conflicts, models.StudentImportConflict{Line: line, Reason: "expected fullName,email,level"})
			continue
		}
		row := models.StudentImportRow{
			Line:     line,
			FullName: strings.TrimSpace(fields[0]),
			Email:    strings.ToLower(strings.TrimSpace(fields[1])),
			Level:    strings.TrimSpace(fields[2]),
		}
		if reason := s.importRow(ctx, row); reason != "" {
			result.Conflicts = append(result.Conflicts, models.StudentImportConflict{Line: line, Reason: reason})
			continue
		}
		result.Imported++
	}

	s.logger.Info("student import finished",
		zap.Int("imported", result.Imported),
		zap.Int("conflicts", len(result.Conflicts)))
	return result, nil
}

func (s *StudentService) importRow(ctx context.Context, row models.StudentImportRow) string {
	if row.FullName == "" || row.Email == "" || row.Level == "" {
		return "missing fullName, email or level"
	}
	level, err := s.levels.FindByName(ctx, row.Level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Sprintf("unknown level %q", row.Level)
		}
		return "level lookup failed"
	}
	exists, err := s.repo.ExistsByEmail(ctx, row.Email, "")
	if err != nil {
		return "email lookup failed"
	}
	if exists {
		return "email already used"
	}
	number, err := s.repo.NextNumber(ctx)
	if err != nil {
		return "number assignment failed"
	}
	student := &models.Student{
		Number:   number,
		FullName: row.FullName,
		Email:    row.Email,
		LevelID:  level.ID,
		Active:   true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return "insert failed"
	}
	return ""
}

func looksLikeHeader(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	head := strings.ToLower(strings.TrimSpace(fields[0]))
	return head == "fullname" || head == "full_name" || head == "name"
}
