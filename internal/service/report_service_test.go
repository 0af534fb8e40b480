package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/dto"
	"github.com/ilyes-bd/presence-api/internal/models"
	"github.com/ilyes-bd/presence-api/internal/repository"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/jobs"
)

type reportRepoStub struct {
	jobs map[string]*models.ReportJob
}

func newReportRepoStub() *reportRepoStub {
	return &reportRepoStub{jobs: map[string]*models.ReportJob{}}
}

func (r *reportRepoStub) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *reportRepoStub) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (r *reportRepoStub) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *reportRepoStub) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	var queued []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *reportRepoStub) ListExpiredResults(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	var expired []models.ReportJob
	for _, job := range r.jobs {
		if job.Status != models.ReportStatusFinished || job.FinishedAt == nil || !job.FinishedAt.Before(cutoff) {
			continue
		}
		if job.ResultURL == nil || *job.ResultURL == "" {
			continue
		}
		expired = append(expired, *job)
	}
	return expired, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type reportTeacherStub struct {
	teacher *models.Teacher
	teaches bool
}

func (s reportTeacherStub) FindByUserID(ctx context.Context, userID string) (*models.Teacher, error) {
	if s.teacher == nil {
		return nil, sql.ErrNoRows
	}
	return s.teacher, nil
}

func (s reportTeacherStub) Teaches(ctx context.Context, teacherID, moduleID string) (bool, error) {
	return s.teaches, nil
}

type reportModuleStub struct {
	modules map[string]*models.Module
}

func (s reportModuleStub) FindByCode(ctx context.Context, code string) (*models.Module, error) {
	module, ok := s.modules[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return module, nil
}

func newReportServiceForTest(t *testing.T, teachers reportTeacherStub) (*ReportService, *reportRepoStub, *queueStub, *ExportService) {
	t.Helper()
	repo := newReportRepoStub()
	queue := &queueStub{}
	exportSvc, _ := newExportServiceForTest(t)
	modules := reportModuleStub{modules: map[string]*models.Module{
		"CS101": {ID: "mod-1", Code: "CS101", Title: "Algorithms", Active: true},
	}}
	svc := NewReportService(repo, teachers, modules, queue, exportSvc, zap.NewNop(), ReportServiceConfig{
		ResultTTL:  time.Hour,
		MaxRetries: 3,
	})
	return svc, repo, queue, exportSvc
}

func TestReportServiceCreateJob(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t, reportTeacherStub{})

	resp, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:   models.ReportTypeExclusion,
		Preset: models.PeriodMonth,
		Format: models.ReportFormatCSV,
	}, "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	assert.Equal(t, 0, resp.Progress)

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, resp.ID, queue.jobs[0].ID)
	assert.Equal(t, string(models.ReportTypeExclusion), queue.jobs[0].Type)

	stored := repo.jobs[resp.ID]
	require.NotNil(t, stored)
	assert.Equal(t, models.PeriodMonth, stored.Params.Preset)
	assert.Equal(t, "admin-1", stored.CreatedBy)
}

func TestReportServiceCreateJobInvalidType(t *testing.T) {
	svc, _, queue, _ := newReportServiceForTest(t, reportTeacherStub{})

	_, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:   models.ReportType("grades"),
		Preset: models.PeriodMonth,
		Format: models.ReportFormatCSV,
	}, "admin-1", models.RoleAdmin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, queue.jobs)
}

func TestReportServiceCreateJobInvalidFormat(t *testing.T) {
	svc, _, _, _ := newReportServiceForTest(t, reportTeacherStub{})

	_, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:   models.ReportTypeAttendance,
		Preset: models.PeriodWeek,
		Format: models.ReportFormat("docx"),
	}, "admin-1", models.RoleAdmin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceCreateJobTeacherRequiresModule(t *testing.T) {
	teacher := &models.Teacher{ID: "tea-1", FullName: "Karim Haddad"}
	svc, _, _, _ := newReportServiceForTest(t, reportTeacherStub{teacher: teacher, teaches: true})

	_, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:   models.ReportTypeExclusion,
		Preset: models.PeriodMonth,
		Format: models.ReportFormatCSV,
	}, "u-1", models.RoleTeacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceCreateJobTeacherNotAssigned(t *testing.T) {
	teacher := &models.Teacher{ID: "tea-1", FullName: "Karim Haddad"}
	svc, _, queue, _ := newReportServiceForTest(t, reportTeacherStub{teacher: teacher, teaches: false})

	module := "CS101"
	_, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:       models.ReportTypeExclusion,
		Preset:     models.PeriodMonth,
		ModuleCode: &module,
		Format:     models.ReportFormatCSV,
	}, "u-1", models.RoleTeacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, queue.jobs)
}

func TestReportServiceCreateJobTeacherScoped(t *testing.T) {
	teacher := &models.Teacher{ID: "tea-1", FullName: "Karim Haddad"}
	svc, _, queue, _ := newReportServiceForTest(t, reportTeacherStub{teacher: teacher, teaches: true})

	module := "CS101"
	resp, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:       models.ReportTypeAttendance,
		Preset:     models.PeriodWeek,
		ModuleCode: &module,
		Format:     models.ReportFormatXLSX,
	}, "u-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	require.Len(t, queue.jobs, 1)
}

func TestReportServiceCreateJobTeacherUnknownModule(t *testing.T) {
	teacher := &models.Teacher{ID: "tea-1", FullName: "Karim Haddad"}
	svc, _, _, _ := newReportServiceForTest(t, reportTeacherStub{teacher: teacher, teaches: true})

	module := "MISSING"
	_, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:       models.ReportTypeExclusion,
		Preset:     models.PeriodMonth,
		ModuleCode: &module,
		Format:     models.ReportFormatCSV,
	}, "u-1", models.RoleTeacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReportServiceCreateJobEnqueueFailure(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t, reportTeacherStub{})
	queue.err = errors.New("queue full")

	_, err := svc.CreateJob(context.Background(), dto.ReportRequest{
		Type:   models.ReportTypeExclusion,
		Preset: models.PeriodMonth,
		Format: models.ReportFormatCSV,
	}, "admin-1", models.RoleAdmin)
	require.Error(t, err)

	require.Len(t, repo.jobs, 1)
	for _, job := range repo.jobs {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
		assert.Equal(t, 100, job.Progress)
		require.NotNil(t, job.ErrorMessage)
	}
}

func TestReportServiceGetStatus(t *testing.T) {
	svc, repo, _, _ := newReportServiceForTest(t, reportTeacherStub{})
	url := "/api/v1/reports/files/tok-1"
	repo.jobs["job-1"] = &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeExclusion,
		Params:    models.ReportJobParams{Preset: models.PeriodMonth, Format: models.ReportFormatCSV},
		Status:    models.ReportStatusFinished,
		Progress:  100,
		ResultURL: &url,
		CreatedBy: "u-1",
	}

	resp, err := svc.GetStatus(context.Background(), "job-1", "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, resp.Status)
	assert.Equal(t, 100, resp.Progress)
	require.NotNil(t, resp.ResultURL)
	assert.Equal(t, url, *resp.ResultURL)
}

func TestReportServiceGetStatusScopesTeachers(t *testing.T) {
	svc, repo, _, _ := newReportServiceForTest(t, reportTeacherStub{})
	repo.jobs["job-1"] = &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeExclusion,
		Status:    models.ReportStatusProcessing,
		Progress:  10,
		CreatedBy: "u-1",
	}

	resp, err := svc.GetStatus(context.Background(), "job-1", "u-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusProcessing, resp.Status)

	_, err = svc.GetStatus(context.Background(), "job-1", "u-2", models.RoleTeacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.GetStatus(context.Background(), "missing", "admin-1", models.RoleAdmin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReportServiceResolveDownload(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t, reportTeacherStub{})
	job := &models.ReportJob{
		ID:        "job-dl",
		Type:      models.ReportTypeExclusion,
		Params:    models.ReportJobParams{Preset: models.PeriodMonth, Format: models.ReportFormatCSV},
		Status:    models.ReportStatusFinished,
		Progress:  100,
		CreatedBy: "admin-1",
	}
	repo.jobs[job.ID] = job

	result, err := exportSvc.Generate(context.Background(), job)
	require.NoError(t, err)
	job.ResultURL = &result.URL

	download, err := svc.ResolveDownload(context.Background(), result.Token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, filepath.Base(result.RelativePath), download.Filename)
	assert.Equal(t, models.ReportFormatCSV, download.Format)
}

func TestReportServiceResolveDownloadRejectsUnready(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t, reportTeacherStub{})
	job := &models.ReportJob{
		ID:        "job-dl",
		Type:      models.ReportTypeExclusion,
		Params:    models.ReportJobParams{Preset: models.PeriodMonth, Format: models.ReportFormatCSV},
		Status:    models.ReportStatusProcessing,
		Progress:  50,
		CreatedBy: "admin-1",
	}
	repo.jobs[job.ID] = job

	result, err := exportSvc.Generate(context.Background(), job)
	require.NoError(t, err)
	job.ResultURL = &result.URL

	_, err = svc.ResolveDownload(context.Background(), result.Token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportServiceResolveDownloadRejectsMismatchedToken(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t, reportTeacherStub{})
	job := &models.ReportJob{
		ID:        "job-dl",
		Type:      models.ReportTypeExclusion,
		Params:    models.ReportJobParams{Preset: models.PeriodMonth, Format: models.ReportFormatCSV},
		Status:    models.ReportStatusFinished,
		CreatedBy: "admin-1",
	}
	repo.jobs[job.ID] = job

	result, err := exportSvc.Generate(context.Background(), job)
	require.NoError(t, err)
	stale := "/api/v1/reports/files/some-other-token"
	job.ResultURL = &stale

	_, err = svc.ResolveDownload(context.Background(), result.Token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportServiceResolveDownloadRejectsGarbageToken(t *testing.T) {
	svc, _, _, _ := newReportServiceForTest(t, reportTeacherStub{})

	_, err := svc.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportServiceCleanupPurgesExpiredExports(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t, reportTeacherStub{})

	job := &models.ReportJob{
		ID:        "job-old",
		Type:      models.ReportTypeExclusion,
		Params:    models.ReportJobParams{Preset: models.PeriodMonth, Format: models.ReportFormatCSV},
		Status:    models.ReportStatusFinished,
		Progress:  100,
		CreatedBy: "admin-1",
	}
	repo.jobs[job.ID] = job

	result, err := exportSvc.Generate(context.Background(), job)
	require.NoError(t, err)
	job.ResultURL = &result.URL
	finishedAt := time.Now().Add(-48 * time.Hour)
	job.FinishedAt = &finishedAt

	svc.cleanupExpired(context.Background())

	_, err = exportSvc.Open(result.RelativePath)
	require.Error(t, err, "export file should be gone after the sweep")
	require.NotNil(t, job.ResultURL)
	assert.Empty(t, *job.ResultURL)

	resp, err := svc.GetStatus(context.Background(), job.ID, "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Nil(t, resp.ResultURL)
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t, reportTeacherStub{})
	repo.jobs["job-1"] = &models.ReportJob{ID: "job-1", Type: models.ReportTypeExclusion, Status: models.ReportStatusQueued}
	repo.jobs["job-2"] = &models.ReportJob{ID: "job-2", Type: models.ReportTypeAttendance, Status: models.ReportStatusQueued}
	repo.jobs["job-3"] = &models.ReportJob{ID: "job-3", Type: models.ReportTypeExclusion, Status: models.ReportStatusFinished}

	svc.RecoverPendingJobs(context.Background())

	require.Len(t, queue.jobs, 2)
	ids := []string{queue.jobs[0].ID, queue.jobs[1].ID}
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, ids)
}

type exportStub struct {
	result *ExportResult
	err    error
}

func (e exportStub) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func queuedReportRepo() *reportRepoStub {
	repo := newReportRepoStub()
	repo.jobs["job-1"] = &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeExclusion,
		Params:    models.ReportJobParams{Preset: models.PeriodMonth, Format: models.ReportFormatCSV},
		Status:    models.ReportStatusQueued,
		CreatedBy: "admin-1",
	}
	return repo
}

func TestReportWorkerHandleSuccess(t *testing.T) {
	repo := queuedReportRepo()
	url := "/api/v1/reports/files/tok-1"
	worker := NewReportWorker(repo, exportStub{result: &ExportResult{URL: url}}, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.NoError(t, err)

	job := repo.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, url, *job.ResultURL)
	require.NotNil(t, job.FinishedAt)
}

func TestReportWorkerHandleRequeuesOnFailure(t *testing.T) {
	repo := queuedReportRepo()
	worker := NewReportWorker(repo, exportStub{err: errors.New("render failed")}, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.Error(t, err)

	job := repo.jobs["job-1"]
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "render failed", *job.ErrorMessage)
	assert.Nil(t, job.FinishedAt)
}

func TestReportWorkerHandleFailsAfterMaxRetries(t *testing.T) {
	repo := queuedReportRepo()
	worker := NewReportWorker(repo, exportStub{err: errors.New("render failed")}, 2, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)

	job := repo.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFailed, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.FinishedAt)
}
