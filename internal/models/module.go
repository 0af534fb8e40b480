package models

import "time"

// Module represents a taught course unit. Code is unique and is the key
// used by the exclusion aggregation (e.g. "CS101").
type Module struct {
	ID          string    `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Title       string    `db:"title" json:"title"`
	LevelID     string    `db:"level_id" json:"level_id"`
	WeeklyHours int       `db:"weekly_hours" json:"weekly_hours"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ModuleFilter captures search parameters for listing modules.
type ModuleFilter struct {
	Search    string
	LevelID   string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ModuleDetail enriches a module with level and teacher context.
type ModuleDetail struct {
	Module
	LevelName    string  `db:"level_name" json:"level_name"`
	TeacherID    *string `db:"teacher_id" json:"teacher_id,omitempty"`
	TeacherName  *string `db:"teacher_name" json:"teacher_name,omitempty"`
	StudentCount int     `db:"student_count" json:"student_count"`
}
