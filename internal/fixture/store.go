package fixture

import (
	"strings"
	"sync"
	"time"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// Store is an in-memory database holding the generated dataset. It
// backs the API when demo mode is enabled: every sub-store mirrors the
// behaviour of its SQL counterpart, including not-found errors and
// ordering, so the services run unchanged on top of it.
type Store struct {
	mu             sync.RWMutex
	users          map[string]models.User
	refreshTokens  map[string]models.RefreshToken
	auditLogs      []models.AuditLog
	levels         map[string]models.Level
	modules        map[string]models.Module
	teachers       map[string]models.Teacher
	assignments    map[string]models.TeacherAssignment
	students       map[string]models.Student
	enrollments    map[string]models.Enrollment
	slots          map[string]models.ScheduleSlot
	sessions       map[string]models.Session
	records        map[string]models.AbsenceRecord
	justifications map[string]models.Justification
	notifications  map[string]models.Notification
	reportJobs     map[string]models.ReportJob
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:          make(map[string]models.User),
		refreshTokens:  make(map[string]models.RefreshToken),
		levels:         make(map[string]models.Level),
		modules:        make(map[string]models.Module),
		teachers:       make(map[string]models.Teacher),
		assignments:    make(map[string]models.TeacherAssignment),
		students:       make(map[string]models.Student),
		enrollments:    make(map[string]models.Enrollment),
		slots:          make(map[string]models.ScheduleSlot),
		sessions:       make(map[string]models.Session),
		records:        make(map[string]models.AbsenceRecord),
		justifications: make(map[string]models.Justification),
		notifications:  make(map[string]models.Notification),
		reportJobs:     make(map[string]models.ReportJob),
	}
}

// Load bulk inserts a generated dataset.
func (s *Store) Load(ds *Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range ds.Users {
		s.users[u.ID] = u
	}
	for _, l := range ds.Levels {
		s.levels[l.ID] = l
	}
	for _, m := range ds.Modules {
		s.modules[m.ID] = m
	}
	for _, t := range ds.Teachers {
		s.teachers[t.ID] = t
	}
	for _, a := range ds.Assignments {
		s.assignments[a.ID] = a
	}
	for _, st := range ds.Students {
		s.students[st.ID] = st
	}
	for _, e := range ds.Enrollments {
		s.enrollments[e.ID] = e
	}
	for _, sl := range ds.Slots {
		s.slots[sl.ID] = sl
	}
	for _, se := range ds.Sessions {
		s.sessions[se.ID] = se
	}
	for _, r := range ds.Records {
		s.records[r.ID] = r
	}
	for _, j := range ds.Justifications {
		s.justifications[j.ID] = j
	}
}

// Sub-store accessors. Each returned value satisfies the repository
// interfaces the corresponding services consume.

// Users exposes account and token persistence.
func (s *Store) Users() *UserStore { return &UserStore{s: s} }

// Levels exposes level persistence.
func (s *Store) Levels() *LevelStore { return &LevelStore{s: s} }

// Modules exposes module persistence.
func (s *Store) Modules() *ModuleStore { return &ModuleStore{s: s} }

// Teachers exposes teacher and assignment persistence.
func (s *Store) Teachers() *TeacherStore { return &TeacherStore{s: s} }

// Students exposes student persistence.
func (s *Store) Students() *StudentStore { return &StudentStore{s: s} }

// Enrollments exposes enrollment persistence.
func (s *Store) Enrollments() *EnrollmentStore { return &EnrollmentStore{s: s} }

// Schedules exposes timetable persistence.
func (s *Store) Schedules() *ScheduleStore { return &ScheduleStore{s: s} }

// Sessions exposes attendance session persistence.
func (s *Store) Sessions() *SessionStore { return &SessionStore{s: s} }

// Records exposes attendance record persistence.
func (s *Store) Records() *RecordStore { return &RecordStore{s: s} }

// Justifications exposes justification persistence.
func (s *Store) Justifications() *JustificationStore { return &JustificationStore{s: s} }

// Notifications exposes notification persistence.
func (s *Store) Notifications() *NotificationStore { return &NotificationStore{s: s} }

// ReportJobs exposes report job persistence.
func (s *Store) ReportJobs() *ReportJobStore { return &ReportJobStore{s: s} }

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// normalizePage mirrors the page clamping of the SQL repositories.
func normalizePage(page, size, defaultSize, maxSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > maxSize {
		size = defaultSize
	}
	return page, size
}

// pageWindow slices [lo, hi) out of a sorted result set.
func pageWindow(total, page, size int) (int, int) {
	lo := (page - 1) * size
	if lo > total {
		lo = total
	}
	hi := lo + size
	if hi > total {
		hi = total
	}
	return lo, hi
}

// sortAscending resolves the requested order against a default.
func sortAscending(sortOrder, defaultOrder string) bool {
	order := strings.ToUpper(sortOrder)
	if order != "ASC" && order != "DESC" {
		order = defaultOrder
	}
	return order == "ASC"
}

func cmpStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

// applyOrder turns a key comparison into a less result for sort.Slice,
// breaking ties by id so listings stay stable across runs.
func applyOrder(cmp int, asc bool, idA, idB string) bool {
	if cmp == 0 {
		return idA < idB
	}
	if asc {
		return cmp < 0
	}
	return cmp > 0
}
