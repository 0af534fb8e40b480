package main

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/fixture"
	"github.com/ilyes-bd/presence-api/internal/models"
	"github.com/ilyes-bd/presence-api/internal/repository"
	"github.com/ilyes-bd/presence-api/internal/service"
	"github.com/ilyes-bd/presence-api/internal/ws"
	"github.com/ilyes-bd/presence-api/pkg/config"
	"github.com/ilyes-bd/presence-api/pkg/jobs"
	"github.com/ilyes-bd/presence-api/pkg/mailer"
	"github.com/ilyes-bd/presence-api/pkg/storage"
)

// The per-entity storage contracts below are the union of what the
// services consume. Both the Postgres repositories and the in-memory
// demo store satisfy them, so the service graph is assembled once for
// either backend.

type userStore interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type levelStore interface {
	List(ctx context.Context, filter models.LevelFilter) ([]models.LevelDetail, int, error)
	ListAll(ctx context.Context) ([]models.Level, error)
	FindByID(ctx context.Context, id string) (*models.Level, error)
	FindByName(ctx context.Context, name string) (*models.Level, error)
	ExistsByName(ctx context.Context, name string, excludeID string) (bool, error)
	Create(ctx context.Context, level *models.Level) error
	Update(ctx context.Context, level *models.Level) error
	Delete(ctx context.Context, id string) error
	CountStudents(ctx context.Context, levelID string) (int, error)
}

type moduleStore interface {
	List(ctx context.Context, filter models.ModuleFilter) ([]models.ModuleDetail, int, error)
	ListAll(ctx context.Context) ([]models.Module, error)
	FindByID(ctx context.Context, id string) (*models.Module, error)
	FindByCode(ctx context.Context, code string) (*models.Module, error)
	ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error)
	Create(ctx context.Context, module *models.Module) error
	Update(ctx context.Context, module *models.Module) error
	Deactivate(ctx context.Context, id string) error
}

type teacherStore interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error)
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	FindByUserID(ctx context.Context, userID string) (*models.Teacher, error)
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	Create(ctx context.Context, teacher *models.Teacher) error
	Update(ctx context.Context, teacher *models.Teacher) error
	Deactivate(ctx context.Context, id string) error
	LinkUser(ctx context.Context, id, userID string) error
	Assign(ctx context.Context, assignment *models.TeacherAssignment) error
	Unassign(ctx context.Context, teacherID, moduleID string) error
	Teaches(ctx context.Context, teacherID, moduleID string) (bool, error)
	ListAssignments(ctx context.Context, teacherID string) ([]models.TeacherAssignmentDetail, error)
}

type studentStore interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
	ListByLevel(ctx context.Context, levelID string) ([]models.Student, error)
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
	ExistsByNumber(ctx context.Context, number string, excludeID string) (bool, error)
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	NextNumber(ctx context.Context) (string, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
	LinkUser(ctx context.Context, id, userID string) error
}

type enrollmentStore interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByStudentAndModule(ctx context.Context, studentID, moduleID string) (*models.Enrollment, error)
	ListByModule(ctx context.Context, moduleID string) ([]models.EnrollmentDetail, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, id string) error
	IncrementAbsences(ctx context.Context, ids []string) error
	AdjustJustified(ctx context.Context, id string, delta int) error
	SetExcluded(ctx context.Context, id string, at time.Time) error
	ClearExcluded(ctx context.Context, id string) error
	CountByStudent(ctx context.Context, studentID string) (int, error)
}

type scheduleStore interface {
	ListByLevel(ctx context.Context, levelID string) ([]models.ScheduleSlotDetail, error)
	ListByModule(ctx context.Context, moduleID string) ([]models.ScheduleSlotDetail, error)
	FindByID(ctx context.Context, id string) (*models.ScheduleSlot, error)
	HasOverlap(ctx context.Context, levelID string, day time.Weekday, startTime, endTime, excludeID string) (bool, error)
	Create(ctx context.Context, slot *models.ScheduleSlot) error
	Delete(ctx context.Context, id string) error
}

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.SessionDetail, error)
	FindActiveByShareCode(ctx context.Context, code string) (*models.SessionDetail, error)
	HasActiveForModule(ctx context.Context, moduleID string) (bool, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, int, error)
	Close(ctx context.Context, id string, presentCount int, at time.Time) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Session, error)
	ListAttendanceSessions(ctx context.Context, rng models.DateRange, moduleCode, levelID string) ([]models.AttendanceSession, error)
}

type recordStore interface {
	List(ctx context.Context, filter models.AbsenceRecordFilter) ([]models.AbsenceRecordDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.AbsenceRecordDetail, error)
	FindBySessionAndEnrollment(ctx context.Context, sessionID, enrollmentID string) (*models.AbsenceRecord, error)
	Create(ctx context.Context, record *models.AbsenceRecord) error
	BulkInsert(ctx context.Context, records []models.AbsenceRecord) error
	MarkedEnrollmentIDs(ctx context.Context, sessionID string) ([]string, error)
	CountBySession(ctx context.Context, sessionID string) (present int, absent int, err error)
}

type justificationStore interface {
	List(ctx context.Context, filter models.JustificationFilter) ([]models.JustificationDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.JustificationDetail, error)
	ExistsForRecord(ctx context.Context, recordID string) (bool, error)
	Create(ctx context.Context, justification *models.Justification) error
	Decide(ctx context.Context, id string, status models.JustificationStatus, note *string, decidedBy string, at time.Time) error
	CountPending(ctx context.Context) (int, error)
}

type notificationStore interface {
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	Create(ctx context.Context, notification *models.Notification) error
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) error
	CountUnread(ctx context.Context, userID string) (int, error)
}

type reportStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
	ListExpiredResults(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
}

// backends groups the storage implementations behind the service graph.
type backends struct {
	users          userStore
	levels         levelStore
	modules        moduleStore
	teachers       teacherStore
	students       studentStore
	enrollments    enrollmentStore
	schedules      scheduleStore
	sessions       sessionStore
	records        recordStore
	justifications justificationStore
	notifications  notificationStore
	reports        reportStore

	cache service.CacheRepository
}

func sqlBackends(db *sqlx.DB, rdb *redis.Client, logr *zap.Logger) backends {
	b := backends{
		users:          repository.NewUserRepository(db),
		levels:         repository.NewLevelRepository(db),
		modules:        repository.NewModuleRepository(db),
		teachers:       repository.NewTeacherRepository(db),
		students:       repository.NewStudentRepository(db),
		enrollments:    repository.NewEnrollmentRepository(db),
		schedules:      repository.NewScheduleRepository(db),
		sessions:       repository.NewSessionRepository(db),
		records:        repository.NewAbsenceRecordRepository(db),
		justifications: repository.NewJustificationRepository(db),
		notifications:  repository.NewNotificationRepository(db),
		reports:        repository.NewReportRepository(db),
	}
	if rdb != nil {
		b.cache = repository.NewCacheRepository(rdb, logr)
	}
	return b
}

func demoBackends(store *fixture.Store) backends {
	return backends{
		users:          store.Users(),
		levels:         store.Levels(),
		modules:        store.Modules(),
		teachers:       store.Teachers(),
		students:       store.Students(),
		enrollments:    store.Enrollments(),
		schedules:      store.Schedules(),
		sessions:       store.Sessions(),
		records:        store.Records(),
		justifications: store.Justifications(),
		notifications:  store.Notifications(),
		reports:        store.ReportJobs(),
	}
}

// services is the fully wired application graph.
type services struct {
	metrics        *service.MetricsService
	auth           *service.AuthService
	users          *service.UserService
	students       *service.StudentService
	teachers       *service.TeacherService
	levels         *service.LevelService
	modules        *service.ModuleService
	enrollments    *service.EnrollmentService
	schedules      *service.ScheduleService
	sessions       *service.SessionService
	justifications *service.JustificationService
	exclusions     *service.ExclusionService
	notifications  *service.NotificationService
	exports        *service.ExportService
	reports        *service.ReportService
	queue          *jobs.Queue

	attachments *storage.LocalStorage
}

func buildServices(cfg *config.Config, logr *zap.Logger, b backends, hub *ws.Hub) (*services, error) {
	validate := validator.New()
	mail := mailer.New(cfg.Mail, logr)

	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(b.cache, metrics, cfg.Exclusion.CacheTTL, logr, b.cache != nil)
	notifications := service.NewNotificationService(b.notifications, logr)

	auth := service.NewAuthService(b.users, mail, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		ResetTokenExpiry:   cfg.JWT.ResetExpiration,
		Issuer:             "presence-api",
		SingleSession:      cfg.JWT.SingleSession,
	})

	users := service.NewUserService(b.users, b.teachers, b.students, mail, validate, logr)
	students := service.NewStudentService(b.students, b.levels, b.records, mail, validate, logr)
	teachers := service.NewTeacherService(b.teachers, b.modules, validate, logr)
	levels := service.NewLevelService(b.levels, b.modules, validate, logr)
	modules := service.NewModuleService(b.modules, b.levels, validate, logr)
	enrollments := service.NewEnrollmentService(b.enrollments, b.students, b.modules, validate, logr)
	schedules := service.NewScheduleService(b.schedules, b.levels, b.modules, validate, logr)

	var live service.LivePublisher
	if hub != nil {
		live = hub
	}
	sessions := service.NewSessionService(
		b.sessions,
		b.modules,
		b.enrollments,
		b.records,
		b.teachers,
		b.students,
		live,
		metrics,
		validate,
		logr,
		cfg.Sessions.DefaultDuration,
	)

	attachments, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		return nil, err
	}
	justifications := service.NewJustificationService(
		b.justifications,
		b.records,
		b.enrollments,
		b.students,
		attachments,
		notifications,
		mail,
		validate,
		logr,
	)

	exclusions := service.NewExclusionService(
		b.sessions,
		b.enrollments,
		b.modules,
		b.levels,
		b.students,
		cacheSvc,
		metrics,
		notifications,
		mail,
		validate,
		logr,
		models.ExclusionRuleset{
			UnjustifiedLimit: cfg.Exclusion.UnjustifiedLimit,
			JustifiedLimit:   cfg.Exclusion.JustifiedLimit,
		},
		cfg.Exclusion.CacheTTL,
	)

	reportFiles, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exports := service.NewExportService(exclusions, b.sessions, reportFiles, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr)

	svcs := &services{
		metrics:        metrics,
		auth:           auth,
		users:          users,
		students:       students,
		teachers:       teachers,
		levels:         levels,
		modules:        modules,
		enrollments:    enrollments,
		schedules:      schedules,
		sessions:       sessions,
		justifications: justifications,
		exclusions:     exclusions,
		notifications:  notifications,
		exports:        exports,
		attachments:    attachments,
	}

	if cfg.Reports.Enabled {
		worker := service.NewReportWorker(b.reports, exports, cfg.Reports.WorkerRetries, logr)
		queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		svcs.queue = queue
		svcs.reports = service.NewReportService(b.reports, b.teachers, b.modules, queue, exports, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.RetentionAge,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})
	}

	return svcs, nil
}
