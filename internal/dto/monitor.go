package dto

import (
	"time"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// MonitorModuleResponse summarises one module inside the snapshot.
type MonitorModuleResponse struct {
	ModuleCode     string  `json:"moduleCode"`
	ModuleTitle    string  `json:"moduleTitle"`
	SessionsHeld   int     `json:"sessionsHeld"`
	Absences       int     `json:"absences"`
	Excluded       int     `json:"excluded"`
	Near           int     `json:"near"`
	AttendanceRate float64 `json:"attendanceRate"`
}

// MonitorLevelResponse groups module summaries under a level.
type MonitorLevelResponse struct {
	LevelID   string                  `json:"levelId"`
	LevelName string                  `json:"levelName"`
	Students  int                     `json:"students"`
	Modules   []MonitorModuleResponse `json:"modules"`
}

// MonitorSummaryResponse totals the snapshot.
type MonitorSummaryResponse struct {
	Students       int     `json:"students"`
	Sessions       int     `json:"sessions"`
	Absences       int     `json:"absences"`
	Excluded       int     `json:"excluded"`
	Near           int     `json:"near"`
	AttendanceRate float64 `json:"attendanceRate"`
}

// MonitorResponse is the whole-system view served to administrators.
type MonitorResponse struct {
	GeneratedAt time.Time              `json:"generatedAt"`
	Range       DateRangeResponse      `json:"range"`
	Levels      []MonitorLevelResponse `json:"levels"`
	Summary     MonitorSummaryResponse `json:"summary"`
}

// NewMonitorResponse maps a computed snapshot.
func NewMonitorResponse(snapshot *models.MonitorSnapshot) MonitorResponse {
	resp := MonitorResponse{
		GeneratedAt: snapshot.GeneratedAt,
		Range:       NewDateRangeResponse(snapshot.Range),
		Levels:      make([]MonitorLevelResponse, 0, len(snapshot.Levels)),
		Summary: MonitorSummaryResponse{
			Students:       snapshot.Summary.Students,
			Sessions:       snapshot.Summary.Sessions,
			Absences:       snapshot.Summary.Absences,
			Excluded:       snapshot.Summary.Excluded,
			Near:           snapshot.Summary.Near,
			AttendanceRate: snapshot.Summary.AttendanceRate,
		},
	}
	for _, level := range snapshot.Levels {
		mapped := MonitorLevelResponse{
			LevelID:   level.LevelID,
			LevelName: level.LevelName,
			Students:  level.Students,
			Modules:   make([]MonitorModuleResponse, 0, len(level.Modules)),
		}
		for _, module := range level.Modules {
			mapped.Modules = append(mapped.Modules, MonitorModuleResponse{
				ModuleCode:     module.ModuleCode,
				ModuleTitle:    module.ModuleTitle,
				SessionsHeld:   module.SessionsHeld,
				Absences:       module.Absences,
				Excluded:       module.Excluded,
				Near:           module.Near,
				AttendanceRate: module.AttendanceRate,
			})
		}
		resp.Levels = append(resp.Levels, mapped)
	}
	return resp
}
