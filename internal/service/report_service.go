package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/dto"
	"github.com/ilyes-bd/presence-api/internal/models"
	"github.com/ilyes-bd/presence-api/internal/repository"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/jobs"
)

type reportTeacherRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Teacher, error)
	Teaches(ctx context.Context, teacherID, moduleID string) (bool, error)
}

type reportModuleRepository interface {
	FindByCode(ctx context.Context, code string) (*models.Module, error)
}

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
	ListExpiredResults(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

// ReportService owns the async report pipeline: it accepts jobs,
// answers status polls, resolves signed downloads and purges exports
// once their TTL runs out.
type ReportService struct {
	repo     reportJobStore
	teachers reportTeacherRepository
	modules  reportModuleRepository
	queue    jobDispatcher
	exporter *ExportService
	logger   *zap.Logger
	cfg      ReportServiceConfig
}

// ReportServiceConfig tunes result retention and worker retries.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ReportDownload is an opened export ready to stream to the client.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

func NewReportService(repo reportJobStore, teachers reportTeacherRepository, modules reportModuleRepository, queue jobDispatcher, exporter *ExportService, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ReportService{
		repo:     repo,
		teachers: teachers,
		modules:  modules,
		queue:    queue,
		exporter: exporter,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateJob persists a queued job and hands its id to the worker queue.
// Teachers may only report on modules they teach.
func (s *ReportService) CreateJob(ctx context.Context, req dto.ReportRequest, actorID string, role models.UserRole) (*dto.ReportJobResponse, error) {
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	}
	if !req.Format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}
	if role == models.RoleTeacher {
		if err := s.ensureTeacherModule(ctx, req.ModuleCode, actorID); err != nil {
			return nil, err
		}
	}

	job := &models.ReportJob{
		Type: req.Type,
		Params: models.ReportJobParams{
			Preset:     req.Preset,
			From:       req.From,
			To:         req.To,
			ModuleCode: req.ModuleCode,
			Format:     req.Format,
		},
		Status:    models.ReportStatusQueued,
		CreatedBy: actorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		if markErr := s.repo.Update(ctx, job.ID, failedUpdate("failed to enqueue job", time.Now().UTC())); markErr != nil {
			s.logger.Sugar().Warnw("failed to mark unenqueued job", "job_id", job.ID, "error", markErr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	return &dto.ReportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// ensureTeacherModule checks that the teacher behind actorID teaches the
// requested module. Reports without a module are admin-only.
func (s *ReportService) ensureTeacherModule(ctx context.Context, moduleCode *string, actorID string) error {
	if moduleCode == nil || *moduleCode == "" {
		return appErrors.Clone(appErrors.ErrValidation, "moduleCode is required for teacher reports")
	}
	if s.teachers == nil || s.modules == nil {
		return appErrors.Wrap(fmt.Errorf("module scope checkers not wired"), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "report access validation error")
	}
	module, err := s.modules.FindByCode(ctx, *moduleCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	teacher, err := s.teachers.FindByUserID(ctx, actorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrForbidden
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	teaches, err := s.teachers.Teaches(ctx, teacher.ID, module.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate module access")
	}
	if !teaches {
		return appErrors.ErrForbidden
	}
	return nil
}

// GetStatus answers a status poll. Teachers only see their own jobs.
func (s *ReportService) GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ReportStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if role == models.RoleTeacher && job.CreatedBy != actorID {
		return nil, appErrors.ErrForbidden
	}
	resp := &dto.ReportStatusResponse{
		ID:       job.ID,
		Status:   job.Status,
		Progress: job.Progress,
	}
	if job.ResultURL != nil && *job.ResultURL != "" {
		resp.ResultURL = job.ResultURL
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload checks a signed download token and opens the export
// behind it. The token must still match the job's stored result URL.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	jobID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ReportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	}
	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs replays rows that were still queued when the
// previous process died. The in-memory queue forgets them on restart.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued report jobs", "error", err)
		return
	}
	requeued := 0
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending job", "job_id", job.ID, "error", err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		s.logger.Sugar().Infow("requeued pending report jobs", "count", requeued)
	}
}

// StartCleanup purges expired exports every CleanupInterval until the
// context ends. A zero interval disables the sweep.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

// cleanupExpired handles one sweep tick. It purges at most one batch,
// the next tick picks up whatever is left.
func (s *ReportService) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	expired, err := s.repo.ListExpiredResults(ctx, cutoff, 100)
	if err != nil {
		s.logger.Sugar().Warnw("cleanup list failed", "error", err)
		return
	}
	for _, job := range expired {
		s.purgeResult(ctx, job)
	}
	if _, err := s.exporter.Cleanup(s.cfg.ResultTTL); err != nil {
		s.logger.Sugar().Warnw("filesystem cleanup failed", "error", err)
	}
}

// purgeResult deletes a job's export file and blanks its result URL so
// the row leaves the cleanup window. A failed file delete keeps the URL
// in place for a retry on the next tick; URLs that no longer parse are
// blanked anyway and left to the mtime sweep.
func (s *ReportService) purgeResult(ctx context.Context, job models.ReportJob) {
	if job.ResultURL != nil {
		token := tokenFromURL(*job.ResultURL)
		if _, relPath, _, err := s.exporter.ParseToken(token, true); err == nil {
			if err := s.exporter.Delete(relPath); err != nil {
				s.logger.Sugar().Warnw("cleanup delete failed", "job_id", job.ID, "error", err)
				return
			}
		}
	}
	cleared := ""
	if err := s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{ResultURL: &cleared}); err != nil {
		s.logger.Sugar().Warnw("cleanup url reset failed", "job_id", job.ID, "error", err)
	}
}

// tokenFromURL returns the last path segment, which is where export
// URLs carry their signed token.
func tokenFromURL(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}

func failedUpdate(msg string, at time.Time) repository.UpdateReportJobParams {
	status := models.ReportStatusFailed
	progress := 100
	return repository.UpdateReportJobParams{Status: &status, Progress: &progress, ErrorMessage: &msg, FinishedAt: &at}
}

func requeuedUpdate(msg string) repository.UpdateReportJobParams {
	status := models.ReportStatusQueued
	progress := 0
	return repository.UpdateReportJobParams{Status: &status, Progress: &progress, ErrorMessage: &msg}
}

func processingUpdate() repository.UpdateReportJobParams {
	status := models.ReportStatusProcessing
	progress := 10
	return repository.UpdateReportJobParams{Status: &status, Progress: &progress}
}

func finishedUpdate(url string, at time.Time) repository.UpdateReportJobParams {
	status := models.ReportStatusFinished
	progress := 100
	cleared := ""
	return repository.UpdateReportJobParams{Status: &status, Progress: &progress, ResultURL: &url, ErrorMessage: &cleared, FinishedAt: &at}
}

// ReportWorker runs report jobs off the queue and writes their outcome
// back to the job row.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	logger     *zap.Logger
	maxRetries int
}

func NewReportWorker(repo reportJobStore, exporter exportGenerator, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReportWorker{
		repo:       repo,
		exporter:   exporter,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Handle generates the export for one queued job. Returning an error
// makes the queue retry until the attempt budget runs out.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if err := w.repo.Update(ctx, job.ID, processingUpdate()); err != nil {
		return err
	}
	result, err := w.exporter.Generate(ctx, record)
	if err != nil {
		w.recordFailure(ctx, job, err)
		return err
	}
	if err := w.repo.Update(ctx, job.ID, finishedUpdate(result.URL, time.Now().UTC())); err != nil {
		w.logger.Sugar().Warnw("failed to mark job finished", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}

// recordFailure either re-queues the job for another attempt or marks
// it failed for good, keeping the last error visible to status polls.
func (w *ReportWorker) recordFailure(ctx context.Context, job jobs.Job, cause error) {
	patch := requeuedUpdate(cause.Error())
	if job.Attempt >= w.maxRetries {
		patch = failedUpdate(cause.Error(), time.Now().UTC())
	}
	if err := w.repo.Update(ctx, job.ID, patch); err != nil {
		w.logger.Sugar().Warnw("failed to record job failure", "job_id", job.ID, "error", err)
	}
}
