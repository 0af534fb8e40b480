package models

import "time"

// SessionStatus represents the lifecycle of an attendance session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Valid returns true when the status is a supported value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionEnded:
		return true
	default:
		return false
	}
}

// Session is a persisted attendance session row. ExpectedCount freezes
// the enrolled headcount at open time; PresentCount freezes at close.
type Session struct {
	ID            string        `db:"id" json:"id"`
	ModuleID      string        `db:"module_id" json:"module_id"`
	TeacherID     string        `db:"teacher_id" json:"teacher_id"`
	ShareCode     string        `db:"share_code" json:"share_code"`
	Room          *string       `db:"room" json:"room,omitempty"`
	StartAt       time.Time     `db:"start_at" json:"start_at"`
	EndsAt        time.Time     `db:"ends_at" json:"ends_at"`
	Status        SessionStatus `db:"status" json:"status"`
	ExpectedCount int           `db:"expected_count" json:"expected_count"`
	PresentCount  int           `db:"present_count" json:"present_count"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// SessionDetail enriches a session with module and teacher context.
type SessionDetail struct {
	Session
	ModuleCode  string `db:"module_code" json:"module_code"`
	ModuleTitle string `db:"module_title" json:"module_title"`
	TeacherName string `db:"teacher_name" json:"teacher_name"`
	LevelID     string `db:"level_id" json:"level_id"`
}

// SessionFilter scopes session listing queries.
type SessionFilter struct {
	ModuleID  string
	TeacherID string
	LevelID   string
	Status    *SessionStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// SessionCloseStats summarises a session at close time.
type SessionCloseStats struct {
	SessionID      string  `json:"session_id"`
	Present        int     `json:"present"`
	Absent         int     `json:"absent"`
	Expected       int     `json:"expected"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// AttendanceSession is the aggregation view of a session: the fields
// the absence pipeline consumes, with the absence entries attached.
type AttendanceSession struct {
	ID            string
	ModuleCode    string
	TeacherID     string
	StartAt       time.Time
	Status        SessionStatus
	ExpectedCount int
	PresentCount  int
	Absences      []AbsenceEntry
}

// AbsenceEntry is one student's typed absence within a session.
type AbsenceEntry struct {
	StudentID string
	Type      AbsenceType
}
