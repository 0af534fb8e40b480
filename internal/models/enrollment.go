package models

import "time"

// Enrollment registers a student to a module. The absence counters are
// denormalised running totals maintained on session close; the excluded
// flag is set by the exclusion sweep and cleared by reinstatement.
type Enrollment struct {
	ID                string     `db:"id" json:"id"`
	StudentID         string     `db:"student_id" json:"student_id"`
	ModuleID          string     `db:"module_id" json:"module_id"`
	Absences          int        `db:"absences" json:"absences"`
	AbsencesJustified int        `db:"absences_justified" json:"absences_justified"`
	Excluded          bool       `db:"excluded" json:"excluded"`
	ExcludedAt        *time.Time `db:"excluded_at" json:"excluded_at,omitempty"`
	EnrolledAt        time.Time  `db:"enrolled_at" json:"enrolled_at"`
}

// EnrollmentDetail enriches an enrollment with student and module info.
type EnrollmentDetail struct {
	Enrollment
	StudentName   string `db:"student_name" json:"student_name"`
	StudentNumber string `db:"student_number" json:"student_number"`
	ModuleCode    string `db:"module_code" json:"module_code"`
	ModuleTitle   string `db:"module_title" json:"module_title"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	ModuleID  string
	Excluded  *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
