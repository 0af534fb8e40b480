package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyes-bd/presence-api/internal/dto"
	"github.com/ilyes-bd/presence-api/internal/middleware"
	"github.com/ilyes-bd/presence-api/internal/models"
	"github.com/ilyes-bd/presence-api/internal/service"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
)

type reportServiceMock struct {
	createResp  *dto.ReportJobResponse
	createErr   error
	statusResp  *dto.ReportStatusResponse
	statusErr   error
	download    *service.ReportDownload
	downloadErr error

	lastReq   dto.ReportRequest
	lastActor string
	lastRole  models.UserRole
}

func (m *reportServiceMock) CreateJob(ctx context.Context, req dto.ReportRequest, actorID string, role models.UserRole) (*dto.ReportJobResponse, error) {
	m.lastReq, m.lastActor, m.lastRole = req, actorID, role
	return m.createResp, m.createErr
}

func (m *reportServiceMock) GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ReportStatusResponse, error) {
	m.lastActor, m.lastRole = actorID, role
	return m.statusResp, m.statusErr
}

func (m *reportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func adminClaims(c *gin.Context) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "usr-admin", Role: models.RoleAdmin})
}

func TestReportHandlerGenerateReport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		createResp: &dto.ReportJobResponse{ID: "job-1", Status: models.ReportStatusQueued},
	}
	h := NewReportHandler(mockSvc, nil)

	payload, _ := json.Marshal(dto.ReportRequest{Type: models.ReportTypeExclusion, Preset: models.PeriodMonth, Format: models.ReportFormatCSV})
	c, w := newGinContext(http.MethodPost, "/reports", payload)
	adminClaims(c)

	h.GenerateReport(c)
	require.Equal(t, http.StatusAccepted, w.Code)

	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "job-1", data["id"])
	assert.Equal(t, string(models.ReportStatusQueued), data["status"])
	assert.Equal(t, "usr-admin", mockSvc.lastActor)
	assert.Equal(t, models.RoleAdmin, mockSvc.lastRole)
	assert.Equal(t, models.ReportTypeExclusion, mockSvc.lastReq.Type)
}

func TestReportHandlerGenerateReportRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewReportHandler(&reportServiceMock{}, nil)

	c, w := newGinContext(http.MethodPost, "/reports", []byte(`{}`))
	h.GenerateReport(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReportHandlerGenerateReportBadPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewReportHandler(&reportServiceMock{}, nil)

	c, w := newGinContext(http.MethodPost, "/reports", []byte(`{"type":`))
	adminClaims(c)

	h.GenerateReport(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeEnvelope(t, w)
	errBody := envelope["error"].(map[string]interface{})
	assert.Equal(t, appErrors.ErrValidation.Code, errBody["code"])
}

func TestReportHandlerGenerateReportServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewReportHandler(&reportServiceMock{createErr: appErrors.ErrForbidden}, nil)

	payload, _ := json.Marshal(dto.ReportRequest{Type: models.ReportTypeExclusion, Preset: models.PeriodMonth, Format: models.ReportFormatCSV})
	c, w := newGinContext(http.MethodPost, "/reports", payload)
	adminClaims(c)

	h.GenerateReport(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestReportHandlerReportStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	url := "/api/v1/reports/files/tok"
	mockSvc := &reportServiceMock{
		statusResp: &dto.ReportStatusResponse{ID: "job-1", Status: models.ReportStatusFinished, Progress: 100, ResultURL: &url},
	}
	h := NewReportHandler(mockSvc, nil)

	c, w := newGinContext(http.MethodGet, "/reports/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	adminClaims(c)

	h.ReportStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, string(models.ReportStatusFinished), data["status"])
	assert.Equal(t, url, data["resultUrl"])
}

func TestReportHandlerDownloadRedirects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	url := "/api/v1/reports/files/tok"
	mockSvc := &reportServiceMock{
		statusResp: &dto.ReportStatusResponse{ID: "job-1", Status: models.ReportStatusFinished, Progress: 100, ResultURL: &url},
	}
	h := NewReportHandler(mockSvc, nil)

	c, w := newGinContext(http.MethodGet, "/reports/job-1/download", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	adminClaims(c)

	h.Download(c)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, url, w.Header().Get("Location"))
}

func TestReportHandlerDownloadUnfinishedConflicts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &reportServiceMock{
		statusResp: &dto.ReportStatusResponse{ID: "job-1", Status: models.ReportStatusProcessing, Progress: 40},
	}
	h := NewReportHandler(mockSvc, nil)

	c, w := newGinContext(http.MethodGet, "/reports/job-1/download", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	adminClaims(c)

	h.Download(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestReportHandlerDownloadReportStreamsFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	file, err := os.CreateTemp(t.TempDir(), "report*.csv")
	require.NoError(t, err)
	_, _ = file.WriteString("module,student\n")
	_, _ = file.Seek(0, 0)

	mockSvc := &reportServiceMock{
		download: &service.ReportDownload{
			File:      file,
			Filename:  "report.csv",
			Format:    models.ReportFormatCSV,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	h := NewReportHandler(mockSvc, nil)

	c, w := newGinContext(http.MethodGet, "/reports/files/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}

	h.DownloadReport(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "module,student\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="report.csv"`)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
}

func TestReportHandlerDownloadReportRejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewReportHandler(&reportServiceMock{downloadErr: appErrors.ErrForbidden}, nil)

	c, w := newGinContext(http.MethodGet, "/reports/files/bad", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}

	h.DownloadReport(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}
