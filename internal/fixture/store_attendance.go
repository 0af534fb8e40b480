package fixture

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// EnrollmentStore holds student/module enrollments with their
// denormalised absence counters.
type EnrollmentStore struct {
	s *Store
}

// List returns enrollments with roster context.
func (e *EnrollmentStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()

	var matched []models.EnrollmentDetail
	for _, enrollment := range e.s.enrollments {
		if filter.StudentID != "" && enrollment.StudentID != filter.StudentID {
			continue
		}
		if filter.ModuleID != "" && enrollment.ModuleID != filter.ModuleID {
			continue
		}
		if filter.Excluded != nil && enrollment.Excluded != *filter.Excluded {
			continue
		}
		detail, ok := e.s.enrollmentDetail(enrollment)
		if !ok {
			continue
		}
		matched = append(matched, detail)
	}

	asc := sortAscending(filter.SortOrder, "ASC")
	sortBy := filter.SortBy
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var cmp int
		switch sortBy {
		case "module_code":
			cmp = cmpStrings(a.ModuleCode, b.ModuleCode)
		case "absences":
			cmp = a.Absences - b.Absences
		case "enrolled_at":
			cmp = cmpTimes(a.EnrolledAt, b.EnrolledAt)
		default:
			cmp = cmpStrings(a.StudentName, b.StudentName)
		}
		return applyOrder(cmp, asc, a.ID, b.ID)
	})

	page, size := normalizePage(filter.Page, filter.PageSize, 50, 200)
	lo, hi := pageWindow(len(matched), page, size)
	return matched[lo:hi], len(matched), nil
}

// FindByID fetches a single enrollment.
func (e *EnrollmentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	enrollment, ok := e.s.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &enrollment, nil
}

// FindByStudentAndModule fetches the enrollment linking the pair.
func (e *EnrollmentStore) FindByStudentAndModule(ctx context.Context, studentID, moduleID string) (*models.Enrollment, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	for _, enrollment := range e.s.enrollments {
		if enrollment.StudentID == studentID && enrollment.ModuleID == moduleID {
			found := enrollment
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

// ListByModule returns the module's enrollments for active students in
// roster order.
func (e *EnrollmentStore) ListByModule(ctx context.Context, moduleID string) ([]models.EnrollmentDetail, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	var details []models.EnrollmentDetail
	for _, enrollment := range e.s.enrollments {
		if enrollment.ModuleID != moduleID {
			continue
		}
		student, ok := e.s.students[enrollment.StudentID]
		if !ok || !student.Active {
			continue
		}
		detail, ok := e.s.enrollmentDetail(enrollment)
		if !ok {
			continue
		}
		details = append(details, detail)
	}
	sort.Slice(details, func(i, j int) bool {
		return applyOrder(cmpStrings(details[i].StudentName, details[j].StudentName), true, details[i].ID, details[j].ID)
	})
	return details, nil
}

// Create registers a student to a module.
func (e *EnrollmentStore) Create(ctx context.Context, enrollment *models.Enrollment) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	e.s.enrollments[enrollment.ID] = *enrollment
	return nil
}

// Delete removes an enrollment.
func (e *EnrollmentStore) Delete(ctx context.Context, id string) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	delete(e.s.enrollments, id)
	return nil
}

// IncrementAbsences bumps the absence counter of the given enrollments.
func (e *EnrollmentStore) IncrementAbsences(ctx context.Context, ids []string) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	for _, id := range ids {
		enrollment, ok := e.s.enrollments[id]
		if !ok {
			continue
		}
		enrollment.Absences++
		e.s.enrollments[id] = enrollment
	}
	return nil
}

// AdjustJustified moves the justified counter by delta, floored at zero.
func (e *EnrollmentStore) AdjustJustified(ctx context.Context, id string, delta int) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	enrollment, ok := e.s.enrollments[id]
	if !ok {
		return nil
	}
	enrollment.AbsencesJustified += delta
	if enrollment.AbsencesJustified < 0 {
		enrollment.AbsencesJustified = 0
	}
	e.s.enrollments[id] = enrollment
	return nil
}

// SetExcluded flips the exclusion flag if not already set.
func (e *EnrollmentStore) SetExcluded(ctx context.Context, id string, at time.Time) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	enrollment, ok := e.s.enrollments[id]
	if !ok || enrollment.Excluded {
		return nil
	}
	enrollment.Excluded = true
	enrollment.ExcludedAt = &at
	e.s.enrollments[id] = enrollment
	return nil
}

// CountByStudent returns how many modules a student is enrolled in.
func (e *EnrollmentStore) CountByStudent(ctx context.Context, studentID string) (int, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	count := 0
	for _, enrollment := range e.s.enrollments {
		if enrollment.StudentID == studentID {
			count++
		}
	}
	return count, nil
}

// ClearExcluded reinstates an excluded enrollment.
func (e *EnrollmentStore) ClearExcluded(ctx context.Context, id string) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	enrollment, ok := e.s.enrollments[id]
	if !ok {
		return nil
	}
	enrollment.Excluded = false
	enrollment.ExcludedAt = nil
	e.s.enrollments[id] = enrollment
	return nil
}

func (s *Store) enrollmentDetail(enrollment models.Enrollment) (models.EnrollmentDetail, bool) {
	student, ok := s.students[enrollment.StudentID]
	if !ok {
		return models.EnrollmentDetail{}, false
	}
	module, ok := s.modules[enrollment.ModuleID]
	if !ok {
		return models.EnrollmentDetail{}, false
	}
	return models.EnrollmentDetail{
		Enrollment:    enrollment,
		StudentName:   student.FullName,
		StudentNumber: student.Number,
		ModuleCode:    module.Code,
		ModuleTitle:   module.Title,
	}, true
}

// ScheduleStore holds weekly timetable slots.
type ScheduleStore struct {
	s *Store
}

// ListByLevel returns the level's slots ordered by day then start time.
func (sc *ScheduleStore) ListByLevel(ctx context.Context, levelID string) ([]models.ScheduleSlotDetail, error) {
	sc.s.mu.RLock()
	defer sc.s.mu.RUnlock()
	var details []models.ScheduleSlotDetail
	for _, slot := range sc.s.slots {
		if slot.LevelID != levelID {
			continue
		}
		if detail, ok := sc.s.slotDetail(slot); ok {
			details = append(details, detail)
		}
	}
	sortSlots(details)
	return details, nil
}

// ListByModule returns the module's slots ordered by day then start time.
func (sc *ScheduleStore) ListByModule(ctx context.Context, moduleID string) ([]models.ScheduleSlotDetail, error) {
	sc.s.mu.RLock()
	defer sc.s.mu.RUnlock()
	var details []models.ScheduleSlotDetail
	for _, slot := range sc.s.slots {
		if slot.ModuleID != moduleID {
			continue
		}
		if detail, ok := sc.s.slotDetail(slot); ok {
			details = append(details, detail)
		}
	}
	sortSlots(details)
	return details, nil
}

// FindByID fetches a slot.
func (sc *ScheduleStore) FindByID(ctx context.Context, id string) (*models.ScheduleSlot, error) {
	sc.s.mu.RLock()
	defer sc.s.mu.RUnlock()
	slot, ok := sc.s.slots[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &slot, nil
}

// HasOverlap reports whether the level already has a slot crossing the
// candidate window on the same day.
func (sc *ScheduleStore) HasOverlap(ctx context.Context, levelID string, day time.Weekday, startTime, endTime, excludeID string) (bool, error) {
	sc.s.mu.RLock()
	defer sc.s.mu.RUnlock()
	for _, slot := range sc.s.slots {
		if slot.ID == excludeID || slot.LevelID != levelID || slot.Day != day {
			continue
		}
		if slot.StartTime < endTime && slot.EndTime > startTime {
			return true, nil
		}
	}
	return false, nil
}

// Create inserts a slot.
func (sc *ScheduleStore) Create(ctx context.Context, slot *models.ScheduleSlot) error {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now().UTC()
	}
	sc.s.slots[slot.ID] = *slot
	return nil
}

// Delete removes a slot.
func (sc *ScheduleStore) Delete(ctx context.Context, id string) error {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	delete(sc.s.slots, id)
	return nil
}

func (s *Store) slotDetail(slot models.ScheduleSlot) (models.ScheduleSlotDetail, bool) {
	module, ok := s.modules[slot.ModuleID]
	if !ok {
		return models.ScheduleSlotDetail{}, false
	}
	return models.ScheduleSlotDetail{
		ScheduleSlot: slot,
		ModuleCode:   module.Code,
		ModuleTitle:  module.Title,
	}, true
}

func sortSlots(details []models.ScheduleSlotDetail) {
	sort.Slice(details, func(i, j int) bool {
		a, b := details[i], details[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
}

// SessionStore holds attendance sessions.
type SessionStore struct {
	s *Store
}

// Create inserts a session.
func (se *SessionStore) Create(ctx context.Context, session *models.Session) error {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	se.s.sessions[session.ID] = *session
	return nil
}

// FindByID fetches a session with module and teacher context.
func (se *SessionStore) FindByID(ctx context.Context, id string) (*models.SessionDetail, error) {
	se.s.mu.RLock()
	defer se.s.mu.RUnlock()
	session, ok := se.s.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail, ok := se.s.sessionDetail(session)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &detail, nil
}

// FindActiveByShareCode fetches the open session carrying the code.
func (se *SessionStore) FindActiveByShareCode(ctx context.Context, code string) (*models.SessionDetail, error) {
	se.s.mu.RLock()
	defer se.s.mu.RUnlock()
	normalized := strings.ToUpper(code)
	for _, session := range se.s.sessions {
		if session.Status != models.SessionActive || session.ShareCode != normalized {
			continue
		}
		detail, ok := se.s.sessionDetail(session)
		if !ok {
			continue
		}
		return &detail, nil
	}
	return nil, sql.ErrNoRows
}

// HasActiveForModule reports whether the module has an open session.
func (se *SessionStore) HasActiveForModule(ctx context.Context, moduleID string) (bool, error) {
	se.s.mu.RLock()
	defer se.s.mu.RUnlock()
	for _, session := range se.s.sessions {
		if session.ModuleID == moduleID && session.Status == models.SessionActive {
			return true, nil
		}
	}
	return false, nil
}

// List returns sessions matching the filter.
func (se *SessionStore) List(ctx context.Context, filter models.SessionFilter) ([]models.SessionDetail, int, error) {
	se.s.mu.RLock()
	defer se.s.mu.RUnlock()

	var matched []models.SessionDetail
	for _, session := range se.s.sessions {
		if filter.ModuleID != "" && session.ModuleID != filter.ModuleID {
			continue
		}
		if filter.TeacherID != "" && session.TeacherID != filter.TeacherID {
			continue
		}
		if filter.Status != nil && filter.Status.Valid() && session.Status != *filter.Status {
			continue
		}
		if filter.DateFrom != nil && session.StartAt.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && session.StartAt.After(*filter.DateTo) {
			continue
		}
		detail, ok := se.s.sessionDetail(session)
		if !ok {
			continue
		}
		if filter.LevelID != "" && detail.LevelID != filter.LevelID {
			continue
		}
		matched = append(matched, detail)
	}

	asc := sortAscending(filter.SortOrder, "DESC")
	sortBy := filter.SortBy
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var cmp int
		switch sortBy {
		case "module_code":
			cmp = cmpStrings(a.ModuleCode, b.ModuleCode)
		case "created_at":
			cmp = cmpTimes(a.CreatedAt, b.CreatedAt)
		default:
			cmp = cmpTimes(a.StartAt, b.StartAt)
		}
		return applyOrder(cmp, asc, a.ID, b.ID)
	})

	page, size := normalizePage(filter.Page, filter.PageSize, 50, 200)
	lo, hi := pageWindow(len(matched), page, size)
	return matched[lo:hi], len(matched), nil
}

// Close marks an open session ended and freezes its present count.
func (se *SessionStore) Close(ctx context.Context, id string, presentCount int, at time.Time) error {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()
	session, ok := se.s.sessions[id]
	if !ok || session.Status != models.SessionActive {
		return nil
	}
	session.Status = models.SessionEnded
	session.PresentCount = presentCount
	session.UpdatedAt = at
	se.s.sessions[id] = session
	return nil
}

// ListExpired returns open sessions whose end time has passed.
func (se *SessionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Session, error) {
	se.s.mu.RLock()
	defer se.s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var expired []models.Session
	for _, session := range se.s.sessions {
		if session.Status == models.SessionActive && session.EndsAt.Before(now) {
			expired = append(expired, session)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return applyOrder(cmpTimes(expired[i].EndsAt, expired[j].EndsAt), true, expired[i].ID, expired[j].ID)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// ListAttendanceSessions loads closed sessions in the range with their
// typed absence entries, the view the exclusion pipeline aggregates.
func (se *SessionStore) ListAttendanceSessions(ctx context.Context, rng models.DateRange, moduleCode, levelID string) ([]models.AttendanceSession, error) {
	se.s.mu.RLock()
	defer se.s.mu.RUnlock()

	var rows []models.AttendanceSession
	index := make(map[string]int)
	for _, session := range se.s.sessions {
		if session.Status != models.SessionEnded {
			continue
		}
		if session.StartAt.Before(rng.Start) || session.StartAt.After(rng.End) {
			continue
		}
		module, ok := se.s.modules[session.ModuleID]
		if !ok {
			continue
		}
		if moduleCode != "" && !strings.EqualFold(module.Code, moduleCode) {
			continue
		}
		if levelID != "" && module.LevelID != levelID {
			continue
		}
		rows = append(rows, models.AttendanceSession{
			ID:            session.ID,
			ModuleCode:    module.Code,
			TeacherID:     session.TeacherID,
			StartAt:       session.StartAt,
			Status:        session.Status,
			ExpectedCount: session.ExpectedCount,
			PresentCount:  session.PresentCount,
			Absences:      []models.AbsenceEntry{},
		})
	}
	if len(rows) == 0 {
		return []models.AttendanceSession{}, nil
	}

	sort.Slice(rows, func(i, j int) bool {
		return applyOrder(cmpTimes(rows[i].StartAt, rows[j].StartAt), true, rows[i].ID, rows[j].ID)
	})
	for i, row := range rows {
		index[row.ID] = i
	}

	justificationByRecord := se.s.justificationIndex()
	recordIDs := se.s.sortedRecordIDs()
	for _, recordID := range recordIDs {
		record := se.s.records[recordID]
		if record.Status != models.RecordAbsent {
			continue
		}
		i, ok := index[record.SessionID]
		if !ok {
			continue
		}
		enrollment, ok := se.s.enrollments[record.EnrollmentID]
		if !ok {
			continue
		}
		var status *models.JustificationStatus
		if j, found := justificationByRecord[record.ID]; found {
			s := j.Status
			status = &s
		}
		rows[i].Absences = append(rows[i].Absences, models.AbsenceEntry{
			StudentID: enrollment.StudentID,
			Type:      models.DeriveAbsenceType(status),
		})
	}
	return rows, nil
}

func (s *Store) sessionDetail(session models.Session) (models.SessionDetail, bool) {
	module, ok := s.modules[session.ModuleID]
	if !ok {
		return models.SessionDetail{}, false
	}
	teacher, ok := s.teachers[session.TeacherID]
	if !ok {
		return models.SessionDetail{}, false
	}
	return models.SessionDetail{
		Session:     session,
		ModuleCode:  module.Code,
		ModuleTitle: module.Title,
		TeacherName: teacher.FullName,
		LevelID:     module.LevelID,
	}, true
}

func (s *Store) justificationIndex() map[string]models.Justification {
	byRecord := make(map[string]models.Justification, len(s.justifications))
	for _, j := range s.justifications {
		byRecord[j.AbsenceRecordID] = j
	}
	return byRecord
}

func (s *Store) sortedRecordIDs() []string {
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RecordStore holds per session attendance records.
type RecordStore struct {
	s *Store
}

// Create inserts a record. A duplicate mark for the same session and
// enrollment surfaces as sql.ErrNoRows, matching the SQL repository.
func (r *RecordStore) Create(ctx context.Context, record *models.AbsenceRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.records {
		if existing.SessionID == record.SessionID && existing.EnrollmentID == record.EnrollmentID {
			return sql.ErrNoRows
		}
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	r.s.records[record.ID] = *record
	return nil
}

// FindBySessionAndEnrollment fetches the record a session holds for an
// enrollment.
func (r *RecordStore) FindBySessionAndEnrollment(ctx context.Context, sessionID, enrollmentID string) (*models.AbsenceRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, record := range r.s.records {
		if record.SessionID == sessionID && record.EnrollmentID == enrollmentID {
			found := record
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

// BulkInsert writes the remaining records when a session closes,
// skipping pairs already marked.
func (r *RecordStore) BulkInsert(ctx context.Context, records []models.AbsenceRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	marked := make(map[string]bool)
	for _, existing := range r.s.records {
		marked[existing.SessionID+"|"+existing.EnrollmentID] = true
	}
	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		key := rec.SessionID + "|" + rec.EnrollmentID
		if marked[key] {
			continue
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		r.s.records[rec.ID] = *rec
		marked[key] = true
	}
	return nil
}

// MarkedEnrollmentIDs returns every enrollment holding a record for the
// session.
func (r *RecordStore) MarkedEnrollmentIDs(ctx context.Context, sessionID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []string
	for _, record := range r.s.records {
		if record.SessionID == sessionID {
			ids = append(ids, record.EnrollmentID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CountBySession tallies records per status for a session.
func (r *RecordStore) CountBySession(ctx context.Context, sessionID string) (present int, absent int, err error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, record := range r.s.records {
		if record.SessionID != sessionID {
			continue
		}
		switch record.Status {
		case models.RecordPresent:
			present++
		case models.RecordAbsent:
			absent++
		}
	}
	return present, absent, nil
}

// List returns attendance records with derived absence types.
func (r *RecordStore) List(ctx context.Context, filter models.AbsenceRecordFilter) ([]models.AbsenceRecordDetail, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	justificationByRecord := r.s.justificationIndex()
	var matched []models.AbsenceRecordDetail
	for _, record := range r.s.records {
		if filter.SessionID != "" && record.SessionID != filter.SessionID {
			continue
		}
		if filter.Status != nil && record.Status != *filter.Status {
			continue
		}
		detail, ok := r.s.recordDetail(record, justificationByRecord)
		if !ok {
			continue
		}
		if filter.StudentID != "" && detail.StudentID != filter.StudentID {
			continue
		}
		if filter.ModuleID != "" {
			session, found := r.s.sessions[record.SessionID]
			if !found || session.ModuleID != filter.ModuleID {
				continue
			}
		}
		if filter.DateFrom != nil && detail.SessionDate.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && detail.SessionDate.After(*filter.DateTo) {
			continue
		}
		matched = append(matched, detail)
	}

	asc := sortAscending(filter.SortOrder, "DESC")
	sortBy := filter.SortBy
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var cmp int
		switch sortBy {
		case "student_name":
			cmp = cmpStrings(a.StudentName, b.StudentName)
		case "created_at":
			cmp = cmpTimes(a.CreatedAt, b.CreatedAt)
		default:
			cmp = cmpTimes(a.SessionDate, b.SessionDate)
		}
		return applyOrder(cmp, asc, a.ID, b.ID)
	})

	page, size := normalizePage(filter.Page, filter.PageSize, 50, 200)
	lo, hi := pageWindow(len(matched), page, size)
	return matched[lo:hi], len(matched), nil
}

// FindByID fetches one record with roster context and derived type.
func (r *RecordStore) FindByID(ctx context.Context, id string) (*models.AbsenceRecordDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	record, ok := r.s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail, ok := r.s.recordDetail(record, r.s.justificationIndex())
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &detail, nil
}

func (s *Store) recordDetail(record models.AbsenceRecord, justificationByRecord map[string]models.Justification) (models.AbsenceRecordDetail, bool) {
	enrollment, ok := s.enrollments[record.EnrollmentID]
	if !ok {
		return models.AbsenceRecordDetail{}, false
	}
	student, ok := s.students[enrollment.StudentID]
	if !ok {
		return models.AbsenceRecordDetail{}, false
	}
	session, ok := s.sessions[record.SessionID]
	if !ok {
		return models.AbsenceRecordDetail{}, false
	}
	module, ok := s.modules[session.ModuleID]
	if !ok {
		return models.AbsenceRecordDetail{}, false
	}
	detail := models.AbsenceRecordDetail{
		AbsenceRecord: record,
		StudentID:     student.ID,
		StudentName:   student.FullName,
		ModuleCode:    module.Code,
		SessionDate:   session.StartAt,
	}
	if record.Status == models.RecordAbsent {
		var status *models.JustificationStatus
		if j, found := justificationByRecord[record.ID]; found {
			st := j.Status
			status = &st
		}
		detail.Type = models.DeriveAbsenceType(status)
	}
	return detail, true
}

// JustificationStore holds filed justifications.
type JustificationStore struct {
	s *Store
}

// List returns justifications with roster context.
func (j *JustificationStore) List(ctx context.Context, filter models.JustificationFilter) ([]models.JustificationDetail, int, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()

	var matched []models.JustificationDetail
	for _, justification := range j.s.justifications {
		if filter.Status != nil && filter.Status.Valid() && justification.Status != *filter.Status {
			continue
		}
		if filter.StudentID != "" && justification.StudentID != filter.StudentID {
			continue
		}
		detail, ok := j.s.justificationDetail(justification)
		if !ok {
			continue
		}
		if filter.ModuleID != "" {
			record, found := j.s.records[justification.AbsenceRecordID]
			if !found {
				continue
			}
			session, foundSession := j.s.sessions[record.SessionID]
			if !foundSession || session.ModuleID != filter.ModuleID {
				continue
			}
		}
		matched = append(matched, detail)
	}

	asc := sortAscending(filter.SortOrder, "DESC")
	sortBy := filter.SortBy
	sort.Slice(matched, func(i, j2 int) bool {
		a, b := matched[i], matched[j2]
		var cmp int
		switch sortBy {
		case "decided_at":
			cmp = cmpTimePtrs(a.DecidedAt, b.DecidedAt)
		case "session_date":
			cmp = cmpTimes(a.SessionDate, b.SessionDate)
		default:
			cmp = cmpTimes(a.CreatedAt, b.CreatedAt)
		}
		return applyOrder(cmp, asc, a.ID, b.ID)
	})

	page, size := normalizePage(filter.Page, filter.PageSize, 20, 100)
	lo, hi := pageWindow(len(matched), page, size)
	return matched[lo:hi], len(matched), nil
}

// FindByID fetches one justification with roster context.
func (j *JustificationStore) FindByID(ctx context.Context, id string) (*models.JustificationDetail, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()
	justification, ok := j.s.justifications[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail, ok := j.s.justificationDetail(justification)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &detail, nil
}

// ExistsForRecord reports whether the record already has a justification.
func (j *JustificationStore) ExistsForRecord(ctx context.Context, recordID string) (bool, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()
	for _, justification := range j.s.justifications {
		if justification.AbsenceRecordID == recordID {
			return true, nil
		}
	}
	return false, nil
}

// Create files a justification.
func (j *JustificationStore) Create(ctx context.Context, justification *models.Justification) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	if justification.ID == "" {
		justification.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if justification.CreatedAt.IsZero() {
		justification.CreatedAt = now
	}
	justification.UpdatedAt = now
	if justification.Status == "" {
		justification.Status = models.JustificationPending
	}
	j.s.justifications[justification.ID] = *justification
	return nil
}

// Decide resolves a pending justification. Deciding a settled one
// surfaces as sql.ErrNoRows, matching the SQL repository.
func (j *JustificationStore) Decide(ctx context.Context, id string, status models.JustificationStatus, note *string, decidedBy string, at time.Time) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	justification, ok := j.s.justifications[id]
	if !ok || justification.Status != models.JustificationPending {
		return sql.ErrNoRows
	}
	justification.Status = status
	justification.DecisionNote = note
	justification.DecidedBy = &decidedBy
	justification.DecidedAt = &at
	justification.UpdatedAt = at
	j.s.justifications[id] = justification
	return nil
}

// CountPending returns the review backlog size.
func (j *JustificationStore) CountPending(ctx context.Context) (int, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()
	count := 0
	for _, justification := range j.s.justifications {
		if justification.Status == models.JustificationPending {
			count++
		}
	}
	return count, nil
}

func (s *Store) justificationDetail(justification models.Justification) (models.JustificationDetail, bool) {
	record, ok := s.records[justification.AbsenceRecordID]
	if !ok {
		return models.JustificationDetail{}, false
	}
	session, ok := s.sessions[record.SessionID]
	if !ok {
		return models.JustificationDetail{}, false
	}
	module, ok := s.modules[session.ModuleID]
	if !ok {
		return models.JustificationDetail{}, false
	}
	student, ok := s.students[justification.StudentID]
	if !ok {
		return models.JustificationDetail{}, false
	}
	return models.JustificationDetail{
		Justification: justification,
		StudentName:   student.FullName,
		ModuleCode:    module.Code,
		SessionDate:   session.StartAt,
	}, true
}

func cmpTimePtrs(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return cmpTimes(*a, *b)
	}
}
