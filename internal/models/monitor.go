package models

import "time"

// MonitorModule summarises one module inside the monitor snapshot.
type MonitorModule struct {
	ModuleCode     string  `json:"module_code"`
	ModuleTitle    string  `json:"module_title"`
	SessionsHeld   int     `json:"sessions_held"`
	Absences       int     `json:"absences"`
	Excluded       int     `json:"excluded"`
	Near           int     `json:"near"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// MonitorLevel groups module summaries under a level.
type MonitorLevel struct {
	LevelID   string          `json:"level_id"`
	LevelName string          `json:"level_name"`
	Students  int             `json:"students"`
	Modules   []MonitorModule `json:"modules"`
}

// MonitorSummary totals the snapshot.
type MonitorSummary struct {
	Students       int     `json:"students"`
	Sessions       int     `json:"sessions"`
	Absences       int     `json:"absences"`
	Excluded       int     `json:"excluded"`
	Near           int     `json:"near"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// MonitorSnapshot is the whole-system view served to administrators.
type MonitorSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Range       DateRange      `json:"range"`
	Levels      []MonitorLevel `json:"levels"`
	Summary     MonitorSummary `json:"summary"`
}

// SystemMetrics is the instrumentation snapshot served on the ops
// endpoints.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
