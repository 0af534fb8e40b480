package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyes-bd/presence-api/internal/dto"
	"github.com/ilyes-bd/presence-api/internal/middleware"
	"github.com/ilyes-bd/presence-api/internal/models"
	"github.com/ilyes-bd/presence-api/internal/service"
	"github.com/ilyes-bd/presence-api/pkg/storage"
)

type exclusionSessionsFake struct {
	sessions []models.AttendanceSession
}

func (f *exclusionSessionsFake) ListAttendanceSessions(ctx context.Context, rng models.DateRange, moduleCode, levelID string) ([]models.AttendanceSession, error) {
	return f.sessions, nil
}

type exclusionModulesFake struct {
	modules []models.Module
}

func (f *exclusionModulesFake) ListAll(ctx context.Context) ([]models.Module, error) {
	return f.modules, nil
}

func (f *exclusionModulesFake) FindByCode(ctx context.Context, code string) (*models.Module, error) {
	for i := range f.modules {
		if f.modules[i].Code == code {
			return &f.modules[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

type exclusionStudentsFake struct {
	names map[string]string
}

func (f *exclusionStudentsFake) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	return nil, sql.ErrNoRows
}

func (f *exclusionStudentsFake) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	return f.names, nil
}

func exclusionSessionAt(day int, studentID string) models.AttendanceSession {
	start := time.Date(2024, 3, day, 10, 0, 0, 0, time.UTC)
	return models.AttendanceSession{
		ID:            "ses-" + start.Format("20060102"),
		ModuleCode:    "CS101",
		TeacherID:     "teacher-1",
		StartAt:       start,
		Status:        models.SessionEnded,
		ExpectedCount: 30,
		PresentCount:  29,
		Absences:      []models.AbsenceEntry{{StudentID: studentID, Type: models.AbsenceUnjustified}},
	}
}

func newExclusionHandlerForTest(t *testing.T) *ExclusionHandler {
	t.Helper()
	sessions := &exclusionSessionsFake{sessions: []models.AttendanceSession{
		exclusionSessionAt(4, "s1"),
		exclusionSessionAt(8, "s1"),
		exclusionSessionAt(15, "s1"),
	}}
	modules := &exclusionModulesFake{modules: []models.Module{
		{ID: "mod-1", Code: "CS101", Title: "Algorithms", LevelID: "lvl-1", Active: true},
	}}
	students := &exclusionStudentsFake{names: map[string]string{"s1": "Amina Cherif"}}

	svc := service.NewExclusionService(sessions, nil, modules, nil, students,
		nil, nil, nil, nil, nil, nil, models.DefaultRuleset(), time.Minute)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("handler-test-secret", time.Hour)
	exports := service.NewExportService(svc, nil, store, signer,
		service.ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}, nil)

	return NewExclusionHandler(svc, exports)
}

func TestExclusionHandlerRules(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newExclusionHandlerForTest(t)

	c, w := newGinContext(http.MethodGet, "/exclusions/rules", nil)
	handler.Rules(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data models.ExclusionRuleset `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 3, envelope.Data.UnjustifiedLimit)
	assert.Equal(t, 5, envelope.Data.JustifiedLimit)
}

func TestExclusionHandlerOverview(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newExclusionHandlerForTest(t)

	c, w := newGinContext(http.MethodGet, "/exclusions/overview?preset=custom&from=2024-03-01&to=2024-03-31", nil)
	handler.Overview(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data dto.ExclusionOverviewResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 1, envelope.Data.Summary.TrackedPairs)
	assert.Equal(t, 1, envelope.Data.Summary.ExcludedCount)
	require.Len(t, envelope.Data.Rows, 1)
	assert.Equal(t, "Amina Cherif", envelope.Data.Rows[0].StudentName)
	assert.True(t, envelope.Data.Rows[0].Excluded)
}

func TestExclusionHandlerExcludedFiltersRows(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newExclusionHandlerForTest(t)

	c, w := newGinContext(http.MethodGet, "/exclusions/excluded?preset=custom&from=2024-03-01&to=2024-03-31", nil)
	handler.Excluded(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data dto.ExclusionOverviewResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data.Rows, 1)
	assert.Equal(t, "s1", envelope.Data.Rows[0].StudentID)
}

func TestExclusionHandlerModuleDetailNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newExclusionHandlerForTest(t)

	c, w := newGinContext(http.MethodGet, "/exclusions/modules/NOPE", nil)
	c.Params = gin.Params{{Key: "code", Value: "NOPE"}}
	handler.ModuleDetail(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestExclusionHandlerApplyRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newExclusionHandlerForTest(t)

	payload, _ := json.Marshal(dto.ApplyExclusionsRequest{Preset: models.PeriodMonth})
	c, w := newGinContext(http.MethodPost, "/exclusions/apply", payload)
	handler.Apply(c)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExclusionHandlerApplyRejectsMalformedPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newExclusionHandlerForTest(t)

	c, w := newGinContext(http.MethodPost, "/exclusions/apply", []byte("{"))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	handler.Apply(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExclusionHandlerExportCSV(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newExclusionHandlerForTest(t)

	c, w := newGinContext(http.MethodGet, "/exclusions/export?preset=custom&from=2024-03-01&to=2024-03-31", nil)
	handler.ExportCSV(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "exclusions_")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	body := w.Body.String()
	assert.Contains(t, body, "Student ID")
	assert.Contains(t, body, "Amina Cherif")
}
