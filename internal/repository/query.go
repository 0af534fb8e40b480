package repository

import (
	"fmt"
	"strings"
)

// filterClause accumulates WHERE conditions with positional args. Each
// "?" in a condition is rewritten to the next $n placeholder; a
// condition may repeat "?" when it reuses a single argument.
type filterClause struct {
	conditions []string
	args       []interface{}
}

func (f *filterClause) add(condition string, value interface{}) {
	placeholder := fmt.Sprintf("$%d", len(f.args)+1)
	f.conditions = append(f.conditions, strings.ReplaceAll(condition, "?", placeholder))
	f.args = append(f.args, value)
}

// where renders the accumulated conditions as an AND chain for appending
// to a "WHERE 1=1" base. Empty when nothing was added.
func (f *filterClause) where() string {
	if len(f.conditions) == 0 {
		return ""
	}
	return " AND " + strings.Join(f.conditions, " AND ")
}

// setClause accumulates SET assignments for a partial UPDATE. Argument
// placeholders continue from $1, the caller appends its own WHERE args
// after next().
type setClause struct {
	assignments []string
	args        []interface{}
}

func (s *setClause) set(column string, value interface{}) {
	s.assignments = append(s.assignments, fmt.Sprintf("%s = $%d", column, len(s.args)+1))
	s.args = append(s.args, value)
}

func (s *setClause) empty() bool { return len(s.assignments) == 0 }

// next returns the placeholder number for the first argument after the
// assignments.
func (s *setClause) next() int { return len(s.args) + 1 }

func (s *setClause) clause() string { return strings.Join(s.assignments, ", ") }

// sortColumn maps a client-supplied sort key to a real column, falling
// back when the key is off the allow-list.
func sortColumn(allowed map[string]string, key, fallback string) string {
	if column, ok := allowed[key]; ok {
		return column
	}
	return allowed[fallback]
}

func sortDirection(order, fallback string) string {
	switch strings.ToUpper(order) {
	case "ASC":
		return "ASC"
	case "DESC":
		return "DESC"
	default:
		return fallback
	}
}

// pageWindow clamps pagination and returns the LIMIT and OFFSET values.
func pageWindow(page, size, defaultSize, maxSize int) (limit, offset int) {
	if size <= 0 || size > maxSize {
		size = defaultSize
	}
	if page < 1 {
		page = 1
	}
	return size, (page - 1) * size
}
