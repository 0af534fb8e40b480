package models

import "time"

// Student represents a learner registered in the institution.
type Student struct {
	ID        string    `db:"id" json:"id"`
	Number    string    `db:"number" json:"number"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	LevelID   string    `db:"level_id" json:"level_id"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	LevelID   string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StudentDetail contains student information with level context.
type StudentDetail struct {
	Student
	LevelName *string `db:"level_name" json:"level_name,omitempty"`
}

// StudentImportRow is one parsed line of a bulk CSV import.
type StudentImportRow struct {
	Line     int    `json:"line"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Level    string `json:"level"`
}

// StudentImportConflict reports a rejected import line.
type StudentImportConflict struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}
