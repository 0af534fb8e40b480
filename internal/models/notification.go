package models

import "time"

// NotificationKind labels what a notification is about.
type NotificationKind string

const (
	NotificationJustificationFiled    NotificationKind = "justification_filed"
	NotificationJustificationApproved NotificationKind = "justification_approved"
	NotificationJustificationRejected NotificationKind = "justification_rejected"
	NotificationExclusionApplied      NotificationKind = "exclusion_applied"
	NotificationReinstated            NotificationKind = "reinstated"
	NotificationReportReady           NotificationKind = "report_ready"
)

// Notification is a per-user in-app message.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	Title     string           `db:"title" json:"title"`
	Body      string           `db:"body" json:"body"`
	ReadAt    *time.Time       `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter scopes notification listing queries.
type NotificationFilter struct {
	UserID   string
	Unread   *bool
	Page     int
	PageSize int
}
