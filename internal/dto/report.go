package dto

import "github.com/ilyes-bd/presence-api/internal/models"

// ReportRequest is the POST /reports payload. From and To only matter
// when the preset is custom.
type ReportRequest struct {
	Type       models.ReportType   `json:"type"`
	Preset     models.PeriodPreset `json:"preset"`
	From       string              `json:"from,omitempty"`
	To         string              `json:"to,omitempty"`
	ModuleCode *string             `json:"moduleCode,omitempty"`
	Format     models.ReportFormat `json:"format"`
}

// ReportJobResponse acknowledges an accepted report job.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse is the polling payload. ResultURL appears once
// the job finishes, Error once it fails for good.
type ReportStatusResponse struct {
	ID        string              `json:"id"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"resultUrl,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
