package models

import "time"

// Level represents a cohort of students following the same curriculum,
// e.g. "L3-CS".
type Level struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// LevelFilter captures search parameters for listing levels.
type LevelFilter struct {
	Search    string
	Year      string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// LevelDetail enriches a level with headcounts for listings.
type LevelDetail struct {
	Level
	StudentCount int `db:"student_count" json:"student_count"`
	ModuleCount  int `db:"module_count" json:"module_count"`
}
