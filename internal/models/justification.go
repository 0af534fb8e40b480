package models

import "time"

// JustificationStatus tracks the review lifecycle of a filed
// justification.
type JustificationStatus string

const (
	JustificationPending  JustificationStatus = "PENDING"
	JustificationApproved JustificationStatus = "APPROVED"
	JustificationRejected JustificationStatus = "REJECTED"
)

// Valid returns true when the status is a supported value.
func (s JustificationStatus) Valid() bool {
	switch s {
	case JustificationPending, JustificationApproved, JustificationRejected:
		return true
	default:
		return false
	}
}

// Justification is a student's explanation for one absence record.
// At most one justification exists per record.
type Justification struct {
	ID              string              `db:"id" json:"id"`
	AbsenceRecordID string              `db:"absence_record_id" json:"absence_record_id"`
	StudentID       string              `db:"student_id" json:"student_id"`
	Reason          string              `db:"reason" json:"reason"`
	AttachmentPath  *string             `db:"attachment_path" json:"attachment_path,omitempty"`
	Status          JustificationStatus `db:"status" json:"status"`
	DecisionNote    *string             `db:"decision_note" json:"decision_note,omitempty"`
	DecidedBy       *string             `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt       *time.Time          `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// JustificationDetail enriches a justification with roster and session
// context for review listings.
type JustificationDetail struct {
	Justification
	StudentName string    `db:"student_name" json:"student_name"`
	ModuleCode  string    `db:"module_code" json:"module_code"`
	SessionDate time.Time `db:"session_date" json:"session_date"`
}

// JustificationFilter scopes justification listing queries.
type JustificationFilter struct {
	Status    *JustificationStatus
	StudentID string
	ModuleID  string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
