package models

import "time"

// AbsenceType is the derived classification of an absence. It follows
// the record's justification: an approved justification makes the
// absence justified, a pending one keeps it pending, anything else
// (rejected or never filed) leaves it unjustified.
type AbsenceType string

const (
	AbsenceJustified   AbsenceType = "justified"
	AbsenceUnjustified AbsenceType = "unjustified"
	AbsencePending     AbsenceType = "pending"
)

// Valid returns true when the type is a supported value.
func (t AbsenceType) Valid() bool {
	switch t {
	case AbsenceJustified, AbsenceUnjustified, AbsencePending:
		return true
	default:
		return false
	}
}

// RecordStatus is the persisted state of a per-session attendance record.
type RecordStatus string

const (
	RecordPresent  RecordStatus = "PRESENT"
	RecordAbsent   RecordStatus = "ABSENT"
	RecordExcluded RecordStatus = "EXCLUDED"
)

// DeriveAbsenceType maps a record's justification status onto the
// absence classification used by the exclusion pipeline.
func DeriveAbsenceType(js *JustificationStatus) AbsenceType {
	if js == nil {
		return AbsenceUnjustified
	}
	switch *js {
	case JustificationApproved:
		return AbsenceJustified
	case JustificationPending:
		return AbsencePending
	default:
		return AbsenceUnjustified
	}
}

// AbsenceRecord is a persisted per-session attendance row.
type AbsenceRecord struct {
	ID           string       `db:"id" json:"id"`
	SessionID    string       `db:"session_id" json:"session_id"`
	EnrollmentID string       `db:"enrollment_id" json:"enrollment_id"`
	Status       RecordStatus `db:"status" json:"status"`
	MarkedAt     *time.Time   `db:"marked_at" json:"marked_at,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// AbsenceRecordDetail enriches a record with roster and session context.
// Type carries the derived classification for absent records and stays
// empty for the rest.
type AbsenceRecordDetail struct {
	AbsenceRecord
	StudentID   string      `db:"student_id" json:"student_id"`
	StudentName string      `db:"student_name" json:"student_name"`
	ModuleCode  string      `db:"module_code" json:"module_code"`
	SessionDate time.Time   `db:"session_date" json:"session_date"`
	Type        AbsenceType `db:"absence_type" json:"absence_type,omitempty"`
}

// AbsenceRecordFilter scopes record listing queries.
type AbsenceRecordFilter struct {
	SessionID string
	StudentID string
	ModuleID  string
	Status    *RecordStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
