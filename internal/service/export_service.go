package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	"github.com/ilyes-bd/presence-api/pkg/export"
	"github.com/ilyes-bd/presence-api/pkg/storage"
)

type exportExclusionSource interface {
	Overview(ctx context.Context, req ExclusionQueryRequest) (*models.ExclusionOverview, bool, error)
}

type exportSessionSource interface {
	ListAttendanceSessions(ctx context.Context, rng models.DateRange, moduleCode, levelID string) ([]models.AttendanceSession, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	RemoveOlderThan(maxAge time.Duration) ([]string, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	exclusions exportExclusionSource
	sessions   exportSessionSource
	storage    fileStorage
	renderers  map[models.ReportFormat]datasetRenderer
	signer     *storage.SignedURLSigner
	logger     *zap.Logger
	cfg        ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(exclusions exportExclusionSource, sessions exportSessionSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		exclusions: exclusions,
		sessions:   sessions,
		storage:    store,
		renderers: map[models.ReportFormat]datasetRenderer{
			models.ReportFormatCSV:  export.NewCSVExporter(),
			models.ReportFormatPDF:  export.NewPDFExporter(),
			models.ReportFormatXLSX: export.NewXLSXExporter(),
		},
		signer: signer,
		logger: logger,
		cfg:    cfg,
	}
}

// Generate builds the dataset for the job and stores the rendered file.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	renderer, ok := s.renderers[job.Params.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	signedURL := fmt.Sprintf("%s/reports/files/%s", prefix, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// OverviewCSV renders the current exclusion overview synchronously.
func (s *ExportService) OverviewCSV(ctx context.Context, req ExclusionQueryRequest) ([]byte, string, error) {
	overview, _, err := s.exclusions.Overview(ctx, req)
	if err != nil {
		return nil, "", err
	}
	dataset := exclusionDataset(overview.Rows, "Exclusion Overview ("+overview.Range.Label+")")
	payload, err := s.renderers[models.ReportFormatCSV].Render(dataset)
	if err != nil {
		return nil, "", fmt.Errorf("render exclusion csv: %w", err)
	}
	filename := fmt.Sprintf("exclusions_%s.csv", time.Now().UTC().Format("20060102_150405"))
	return payload, filename, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.RemoveOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	scope := string(job.Params.Preset)
	if job.Params.ModuleCode != nil {
		scope = *job.Params.ModuleCode
	}
	name := fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), sanitizeFilename(scope), timestamp, job.Params.Format)
	return name
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, error) {
	switch job.Type {
	case models.ReportTypeExclusion:
		return s.buildExclusionDataset(ctx, job.Params)
	case models.ReportTypeAttendance:
		return s.buildAttendanceDataset(ctx, job.Params)
	default:
		return export.Dataset{}, fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildExclusionDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	req := ExclusionQueryRequest{
		Preset:     string(params.Preset),
		From:       params.From,
		To:         params.To,
		ModuleCode: deref(params.ModuleCode),
	}
	overview, _, err := s.exclusions.Overview(ctx, req)
	if err != nil {
		return export.Dataset{}, err
	}
	title := fmt.Sprintf("Exclusion Report (%s)", overview.Range.Label)
	return exclusionDataset(overview.Rows, title), nil
}

func exclusionDataset(rows []models.ExclusionRow, title string) export.Dataset {
	dataRows := make([][]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, []string{
			row.StudentID,
			row.StudentName,
			row.ModuleCode,
			fmt.Sprintf("%d", row.TotalAbsences),
			fmt.Sprintf("%d", row.Justified),
			fmt.Sprintf("%d", row.Unjustified),
			fmt.Sprintf("%d", row.Pending),
			row.ExclusionDate,
			verdictLabel(row),
		})
	}
	return export.Dataset{
		Title:     title,
		Generated: time.Now().UTC(),
		Columns:   []string{"Student ID", "Student Name", "Module", "Total", "Justified", "Unjustified", "Pending", "Last Absence", "Verdict"},
		Rows:      dataRows,
	}
}

func verdictLabel(row models.ExclusionRow) string {
	switch {
	case row.Excluded:
		return "EXCLUDED"
	case row.NearExclusion:
		return "NEAR"
	default:
		return "OK"
	}
}

func (s *ExportService) buildAttendanceDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	rng := models.ResolvePeriod(params.Preset, params.From, params.To, time.Now())
	sessions, err := s.sessions.ListAttendanceSessions(ctx, rng, deref(params.ModuleCode), "")
	if err != nil {
		return export.Dataset{}, err
	}
	dataRows := make([][]string, 0, len(sessions))
	for _, session := range sessions {
		rate := 0.0
		if session.ExpectedCount > 0 {
			rate = float64(session.PresentCount) / float64(session.ExpectedCount) * 100
		}
		dataRows = append(dataRows, []string{
			session.StartAt.Format("2006-01-02 15:04"),
			session.ModuleCode,
			fmt.Sprintf("%d", session.ExpectedCount),
			fmt.Sprintf("%d", session.PresentCount),
			fmt.Sprintf("%d", len(session.Absences)),
			fmt.Sprintf("%.2f", rate),
		})
	}
	return export.Dataset{
		Title:     fmt.Sprintf("Attendance Report (%s)", rng.Label),
		Generated: time.Now().UTC(),
		Columns:   []string{"Date", "Module", "Expected", "Present", "Absences", "Attendance (%)"},
		Rows:      dataRows,
	}, nil
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
