package dto

import (
	"time"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// DateRangeResponse carries the resolved reporting window.
type DateRangeResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// ExclusionRowResponse is one aggregated (student, module) verdict as
// consumed by tables and exports.
type ExclusionRowResponse struct {
	StudentID     string `json:"studentId"`
	StudentName   string `json:"studentName,omitempty"`
	ModuleCode    string `json:"moduleCode"`
	TotalAbsences int    `json:"totalAbsences"`
	Justified     int    `json:"justified"`
	Unjustified   int    `json:"unjustified"`
	Pending       int    `json:"pending"`
	ExclusionDate string `json:"exclusionDate"`
	Excluded      bool   `json:"excluded"`
	NearExclusion bool   `json:"nearExclusion"`
}

// ModuleExclusionSummaryResponse aggregates verdicts for one module.
type ModuleExclusionSummaryResponse struct {
	ModuleCode string `json:"moduleCode"`
	Tracked    int    `json:"tracked"`
	Excluded   int    `json:"excluded"`
	Near       int    `json:"near"`
}

// ExclusionSummaryResponse totals an overview.
type ExclusionSummaryResponse struct {
	TrackedPairs  int                              `json:"trackedPairs"`
	ExcludedCount int                              `json:"excludedCount"`
	NearCount     int                              `json:"nearCount"`
	ByModule      []ModuleExclusionSummaryResponse `json:"byModule"`
}

// ExclusionOverviewResponse is the aggregation payload for a range.
type ExclusionOverviewResponse struct {
	Range       DateRangeResponse        `json:"range"`
	Summary     ExclusionSummaryResponse `json:"summary"`
	Rows        []ExclusionRowResponse   `json:"rows"`
	GeneratedAt time.Time                `json:"generatedAt"`
}

// ApplyExclusionsRequest scopes an apply sweep.
type ApplyExclusionsRequest struct {
	Preset     models.PeriodPreset `json:"preset"`
	From       string              `json:"from,omitempty"`
	To         string              `json:"to,omitempty"`
	ModuleCode string              `json:"moduleCode,omitempty"`
}

// ExclusionApplyResponse reports the outcome of an apply sweep.
type ExclusionApplyResponse struct {
	Range           DateRangeResponse `json:"range"`
	Verdicts        int               `json:"verdicts"`
	Applied         int               `json:"applied"`
	AlreadyExcluded int               `json:"alreadyExcluded"`
	Skipped         int               `json:"skipped"`
	AppliedAt       time.Time         `json:"appliedAt"`
}

// ReinstateRequest clears an exclusion flag.
type ReinstateRequest struct {
	StudentID  string `json:"studentId"`
	ModuleCode string `json:"moduleCode"`
}

// NewDateRangeResponse maps a resolved range.
func NewDateRangeResponse(r models.DateRange) DateRangeResponse {
	return DateRangeResponse{Start: r.Start, End: r.End, Label: r.Label}
}

// NewExclusionRowResponse maps one aggregate row.
func NewExclusionRowResponse(row models.ExclusionRow) ExclusionRowResponse {
	return ExclusionRowResponse{
		StudentID:     row.StudentID,
		StudentName:   row.StudentName,
		ModuleCode:    row.ModuleCode,
		TotalAbsences: row.TotalAbsences,
		Justified:     row.Justified,
		Unjustified:   row.Unjustified,
		Pending:       row.Pending,
		ExclusionDate: row.ExclusionDate,
		Excluded:      row.Excluded,
		NearExclusion: row.NearExclusion,
	}
}

// NewExclusionOverviewResponse maps a computed overview.
func NewExclusionOverviewResponse(overview *models.ExclusionOverview) ExclusionOverviewResponse {
	resp := ExclusionOverviewResponse{
		Range:       NewDateRangeResponse(overview.Range),
		GeneratedAt: overview.GeneratedAt,
		Summary: ExclusionSummaryResponse{
			TrackedPairs:  overview.Summary.TrackedPairs,
			ExcludedCount: overview.Summary.ExcludedCount,
			NearCount:     overview.Summary.NearCount,
		},
		Rows: make([]ExclusionRowResponse, 0, len(overview.Rows)),
	}
	for _, module := range overview.Summary.ByModule {
		resp.Summary.ByModule = append(resp.Summary.ByModule, ModuleExclusionSummaryResponse{
			ModuleCode: module.ModuleCode,
			Tracked:    module.Tracked,
			Excluded:   module.Excluded,
			Near:       module.Near,
		})
	}
	for _, row := range overview.Rows {
		resp.Rows = append(resp.Rows, NewExclusionRowResponse(row))
	}
	return resp
}

// NewExclusionApplyResponse maps a sweep result.
func NewExclusionApplyResponse(result *models.ExclusionApplyResult) ExclusionApplyResponse {
	return ExclusionApplyResponse{
		Range:           NewDateRangeResponse(result.Range),
		Verdicts:        result.Verdicts,
		Applied:         result.Applied,
		AlreadyExcluded: result.AlreadyExcluded,
		Skipped:         result.Skipped,
		AppliedAt:       result.AppliedAt,
	}
}
