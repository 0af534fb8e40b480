package fixture

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// UserStore holds accounts, refresh tokens and the audit trail.
type UserStore struct {
	s *Store
}

// List returns users matching the filter.
func (u *UserStore) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	var matched []models.User
	for _, user := range u.s.users {
		if filter.Role != nil && user.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && user.Active != *filter.Active {
			continue
		}
		if filter.Search != "" && !containsFold(user.Email, filter.Search) && !containsFold(user.FullName, filter.Search) {
			continue
		}
		matched = append(matched, user)
	}

	asc := sortAscending(filter.SortOrder, "DESC")
	sortBy := filter.SortBy
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var cmp int
		switch sortBy {
		case "email":
			cmp = cmpStrings(a.Email, b.Email)
		case "full_name":
			cmp = cmpStrings(a.FullName, b.FullName)
		case "updated_at":
			cmp = cmpTimes(a.UpdatedAt, b.UpdatedAt)
		default:
			cmp = cmpTimes(a.CreatedAt, b.CreatedAt)
		}
		return applyOrder(cmp, asc, a.ID, b.ID)
	})

	page, size := normalizePage(filter.Page, filter.PageSize, 20, 100)
	lo, hi := pageWindow(len(matched), page, size)
	return matched[lo:hi], len(matched), nil
}

// FindByID fetches a user by identifier.
func (u *UserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &user, nil
}

// FindByEmail fetches a user by email, case insensitively.
func (u *UserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, user := range u.s.users {
		if strings.EqualFold(user.Email, email) {
			found := user
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

// Create inserts a user.
func (u *UserStore) Create(ctx context.Context, user *models.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	u.s.users[user.ID] = *user
	return nil
}

// Update replaces a stored user.
func (u *UserStore) Update(ctx context.Context, user *models.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[user.ID]; !ok {
		return nil
	}
	user.UpdatedAt = time.Now().UTC()
	u.s.users[user.ID] = *user
	return nil
}

// Delete marks the user inactive.
func (u *UserStore) Delete(ctx context.Context, id string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil
	}
	user.Active = false
	user.UpdatedAt = time.Now().UTC()
	u.s.users[id] = user
	return nil
}

// UpdateLastLogin stamps the user's last login time.
func (u *UserStore) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil
	}
	user.LastLogin = &ts
	user.UpdatedAt = ts
	u.s.users[id] = user
	return nil
}

// UpdatePassword replaces the stored password hash.
func (u *UserStore) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = updatedAt
	u.s.users[id] = user
	return nil
}

// CreateRefreshToken stores a refresh token session.
func (u *UserStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	u.s.refreshTokens[token.ID] = *token
	return nil
}

// FindRefreshToken looks a token up by its opaque value.
func (u *UserStore) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, rt := range u.s.refreshTokens {
		if rt.Token == token {
			found := rt
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

// RevokeRefreshToken marks one token revoked.
func (u *UserStore) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	rt, ok := u.s.refreshTokens[id]
	if !ok {
		return nil
	}
	rt.Revoked = true
	rt.RevokedAt = &revokedAt
	u.s.refreshTokens[id] = rt
	return nil
}

// RevokeUserRefreshTokens revokes every live token of a user.
func (u *UserStore) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	now := time.Now().UTC()
	for id, rt := range u.s.refreshTokens {
		if rt.UserID != userID || rt.Revoked {
			continue
		}
		rt.Revoked = true
		rt.RevokedAt = &now
		u.s.refreshTokens[id] = rt
	}
	return nil
}

// CreateAuditLog appends an audit trail entry.
func (u *UserStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	u.s.auditLogs = append(u.s.auditLogs, *log)
	return nil
}

// LevelStore holds cohort levels.
type LevelStore struct {
	s *Store
}

// List returns levels with headcounts.
func (l *LevelStore) List(ctx context.Context, filter models.LevelFilter) ([]models.LevelDetail, int, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var matched []models.LevelDetail
	for _, level := range l.s.levels {
		if filter.Search != "" && !containsFold(level.Name, filter.Search) {
			continue
		}
		if filter.Year != "" && level.AcademicYear != filter.Year {
			continue
		}
		matched = append(matched, models.LevelDetail{
			Level:        level,
			StudentCount: l.s.countActiveStudents(level.ID),
			ModuleCount:  l.s.countActiveModules(level.ID),
		})
	}

	asc := sortAscending(filter.SortOrder, "ASC")
	sortBy := filter.SortBy
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var cmp int
		switch sortBy {
		case "academic_year":
			cmp = cmpStrings(a.AcademicYear, b.AcademicYear)
		case "created_at":
			cmp = cmpTimes(a.CreatedAt, b.CreatedAt)
		default:
			cmp = cmpStrings(a.Name, b.Name)
		}
		return applyOrder(cmp, asc, a.ID, b.ID)
	})

	page, size := normalizePage(filter.Page, filter.PageSize, 20, 100)
	lo, hi := pageWindow(len(matched), page, size)
	return matched[lo:hi], len(matched), nil
}

// ListAll returns every level sorted by name.
func (l *LevelStore) ListAll(ctx context.Context) ([]models.Level, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	var levels []models.Level
	for _, level := range l.s.levels {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool {
		return applyOrder(cmpStrings(levels[i].Name, levels[j].Name), true, levels[i].ID, levels[j].ID)
	})
	return levels, nil
}

// FindByID fetches a level.
func (l *LevelStore) FindByID(ctx context.Context, id string) (*models.Level, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	level, ok := l.s.levels[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &level, nil
}

// FindByName fetches a level by name, case insensitively.
func (l *LevelStore) FindByName(ctx context.Context, name string) (*models.Level, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	for _, level := range l.s.levels {
		if strings.EqualFold(level.Name, name) {
			found := level
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

// ExistsByName reports whether another level carries the name.
func (l *LevelStore) ExistsByName(ctx context.Context, name string, excludeID string) (bool, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	for _, level := range l.s.levels {
		if level.ID == excludeID {
			continue
		}
		if strings.EqualFold(level.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// Create inserts a level.
func (l *LevelStore) Create(ctx context.Context, level *models.Level) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if level.ID == "" {
		level.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if level.CreatedAt.IsZero() {
		level.CreatedAt = now
	}
	level.UpdatedAt = now
	l.s.levels[level.ID] = *level
	return nil
}

// Update replaces a stored level.
func (l *LevelStore) Update(ctx context.Context, level *models.Level) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if _, ok := l.s.levels[level.ID]; !ok {
		return nil
	}
	level.UpdatedAt = time.Now().UTC()
	l.s.levels[level.ID] = *level
	return nil
}

// Delete removes a level.
func (l *LevelStore) Delete(ctx context.Context, id string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	delete(l.s.levels, id)
	return nil
}

// CountStudents counts the level's active students.
func (l *LevelStore) CountStudents(ctx context.Context, levelID string) (int, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	return l.s.countActiveStudents(levelID), nil
}

func (s *Store) countActiveStudents(levelID string) int {
	count := 0
	for _, st := range s.students {
		if st.LevelID == levelID && st.Active {
			count++
		}
	}
	return count
}

func (s *Store) countActiveModules(levelID string) int {
	count := 0
	for _, m := range s.modules {
		if m.LevelID == levelID && m.Active {
			count++
		}
	}
	return count
}

// ModuleStore holds course modules.
type ModuleStore struct {
	s *Store
}

// List returns modules with level and teacher context.
func (m *ModuleStore) List(ctx context.Context, filter models.ModuleFilter) ([]models.ModuleDetail, int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var matched []models.ModuleDetail
	for _, module := range m.s.modules {
		if filter.LevelID != "" && module.LevelID != filter.LevelID {
			continue
		}
		if filter.Active != nil && module.Active != *filter.Active {
			continue
		}
		if filter.Search != "" && !containsFold(module.Code, filter.Search) && !containsFold(module.Title, filter.Search) {
			continue
		}
		matched = append(matched, m.s.moduleDetail(module))
	}

	asc := sortAscending(filter.SortOrder, "ASC")
	sortBy := filter.SortBy
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var cmp int
		switch sortBy {
		case "title":
			cmp = cmpStrings(a.Title, b.Title)
		case "created_at":
			cmp = cmpTimes(a.CreatedAt, b.CreatedAt)
		default:
			cmp = cmpStrings(a.Code, b.Code)
		}
		return applyOrder(cmp, asc, a.ID, b.ID)
	})

	page, size := normalizePage(filter.Page, filter.PageSize, 20, 100)
	lo, hi := pageWindow(len(matched), page, size)
	return matched[lo:hi], len(matched), nil
}

// ListAll returns every active module sorted by code.
func (m *ModuleStore) ListAll(ctx context.Context) ([]models.Module, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var modules []models.Module
	for _, module := range m.s.modules {
		if !module.Active {
			continue
		}
		modules = append(modules, module)
	}
	sort.Slice(modules, func(i, j int) bool {
		return applyOrder(cmpStrings(modules[i].Code, modules[j].Code), true, modules[i].ID, modules[j].ID)
	})
	return modules, nil
}

// FindByID fetches a module.
func (m *ModuleStore) FindByID(ctx context.Context, id string) (*models.Module, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	module, ok := m.s.modules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &module, nil
}

// FindByCode fetches a module by its code, case insensitively.
func (m *ModuleStore) FindByCode(ctx context.Context, code string) (*models.Module, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, module := range m.s.modules {
		if strings.EqualFold(module.Code, code) {
			found := module
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

// ExistsByCode reports whether another module carries the code.
func (m *ModuleStore) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, module := range m.s.modules {
		if module.ID == excludeID {
			continue
		}
		if strings.EqualFold(module.Code, code) {
			return true, nil
		}
	}
	return false, nil
}

// Create inserts a module.
func (m *ModuleStore) Create(ctx context.Context, module *models.Module) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if module.ID == "" {
		module.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if module.CreatedAt.IsZero() {
		module.CreatedAt = now
	}
	module.UpdatedAt = now
	m.s.modules[module.ID] = *module
	return nil
}

// Update replaces a stored module.
func (m *ModuleStore) Update(ctx context.Context, module *models.Module) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.modules[module.ID]; !ok {
		return nil
	}
	module.UpdatedAt = time.Now().UTC()
	m.s.modules[module.ID] = *module
	return nil
}

// Deactivate marks the module inactive.
func (m *ModuleStore) Deactivate(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	module, ok := m.s.modules[id]
	if !ok {
		return nil
	}
	module.Active = false
	module.UpdatedAt = time.Now().UTC()
	m.s.modules[id] = module
	return nil
}

func (s *Store) moduleDetail(module models.Module) models.ModuleDetail {
	detail := models.ModuleDetail{Module: module}
	if level, ok := s.levels[module.LevelID]; ok {
		detail.LevelName = level.Name
	}
	if assignment, ok := s.firstAssignment(module.ID); ok {
		if teacher, found := s.teachers[assignment.TeacherID]; found {
			id := teacher.ID
			name := teacher.FullName
			detail.TeacherID = &id
			detail.TeacherName = &name
		}
	}
	for _, e := range s.enrollments {
		if e.ModuleID == module.ID {
			detail.StudentCount++
		}
	}
	return detail
}

// firstAssignment picks the earliest assignment of a module so the
// listing shows one teacher even when several are linked.
func (s *Store) firstAssignment(moduleID string) (models.TeacherAssignment, bool) {
	var best models.TeacherAssignment
	found := false
	for _, a := range s.assignments {
		if a.ModuleID != moduleID {
			continue
		}
		if !found || a.CreatedAt.Before(best.CreatedAt) || (a.CreatedAt.Equal(best.CreatedAt) && a.ID < best.ID) {
			best = a
			found = true
		}
	}
	return best, found
}

// TeacherStore holds teachers and their module assignments.
type TeacherStore struct {
	s *Store
}

// List returns teachers matching the filter.
func (t *TeacherStore) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	var matched []models.Teacher
	for _, teacher := range t.s.teachers {
		if filter.Active != nil && teacher.Active != *filter.Active {
			continue
		}
		if filter.Search != "" && !containsFold(teacher.FullName, filter.Search) && !containsFold(teacher.Email, filter.Search) {
			continue
		}
		matched = append(matched, teacher)
	}

	asc := sortAscending(filter.SortOrder, "ASC")
	sortBy := filter.SortBy
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var cmp int
		switch sortBy {
		case "email":
			cmp = cmpStrings(a.Email, b.Email)
		case "created_at":
			cmp = cmpTimes(a.CreatedAt, b.CreatedAt)
		default:
			cmp = cmpStrings(a.FullName, b.FullName)
		}
		return applyOrder(cmp, asc, a.ID, b.ID)
	})

	page, size := normalizePage(filter.Page, filter.PageSize, 20, 100)
	lo, hi := pageWindow(len(matched), page, size)
	return matched[lo:hi], len(matched), nil
}

// FindByID fetches a teacher.
func (t *TeacherStore) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	teacher, ok := t.s.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &teacher, nil
}

// FindByUserID fetches the teacher linked to an account.
func (t *TeacherStore) FindByUserID(ctx context.Context, userID string) (*models.Teacher, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, teacher := range t.s.teachers {
		if teacher.UserID != nil && *teacher.UserID == userID {
			found := teacher
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

// ExistsByEmail reports whether another teacher carries the email.
func (t *TeacherStore) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, teacher := range t.s.teachers {
		if teacher.ID == excludeID {
			continue
		}
		if strings.EqualFold(teacher.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

// Create inserts a teacher.
func (t *TeacherStore) Create(ctx context.Context, teacher *models.Teacher) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if teacher.ID == "" {
		teacher.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if teacher.CreatedAt.IsZero() {
		teacher.CreatedAt = now
	}
	teacher.UpdatedAt = now
	t.s.teachers[teacher.ID] = *teacher
	return nil
}

// Update replaces a stored teacher.
func (t *TeacherStore) Update(ctx context.Context, teacher *models.Teacher) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.teachers[teacher.ID]; !ok {
		return nil
	}
	teacher.UpdatedAt = time.Now().UTC()
	t.s.teachers[teacher.ID] = *teacher
	return nil
}

// Deactivate marks a teacher inactive.
func (t *TeacherStore) Deactivate(ctx context.Context, id string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	teacher, ok := t.s.teachers[id]
	if !ok {
		return nil
	}
	teacher.Active = false
	teacher.UpdatedAt = time.Now().UTC()
	t.s.teachers[id] = teacher
	return nil
}

// LinkUser attaches an account to a teacher profile.
func (t *TeacherStore) LinkUser(ctx context.Context, id, userID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	teacher, ok := t.s.teachers[id]
	if !ok {
		return sql.ErrNoRows
	}
	teacher.UserID = &userID
	teacher.UpdatedAt = time.Now().UTC()
	t.s.teachers[id] = teacher
	return nil
}

// Assign links a teacher to a module. Repeating a link is a no-op.
func (t *TeacherStore) Assign(ctx context.Context, assignment *models.TeacherAssignment) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, existing := range t.s.assignments {
		if existing.TeacherID == assignment.TeacherID && existing.ModuleID == assignment.ModuleID {
			return nil
		}
	}
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now().UTC()
	}
	t.s.assignments[assignment.ID] = *assignment
	return nil
}

// Unassign removes a teacher/module link.
func (t *TeacherStore) Unassign(ctx context.Context, teacherID, moduleID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, existing := range t.s.assignments {
		if existing.TeacherID == teacherID && existing.ModuleID == moduleID {
			delete(t.s.assignments, id)
		}
	}
	return nil
}

// Teaches reports whether the teacher is assigned to the module.
func (t *TeacherStore) Teaches(ctx context.Context, teacherID, moduleID string) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, existing := range t.s.assignments {
		if existing.TeacherID == teacherID && existing.ModuleID == moduleID {
			return true, nil
		}
	}
	return false, nil
}

// ListAssignments returns a teacher's assignments sorted by module code.
func (t *TeacherStore) ListAssignments(ctx context.Context, teacherID string) ([]models.TeacherAssignmentDetail, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	teacher, ok := t.s.teachers[teacherID]
	if !ok {
		return nil, nil
	}
	var details []models.TeacherAssignmentDetail
	for _, assignment := range t.s.assignments {
		if assignment.TeacherID != teacherID {
			continue
		}
		module, found := t.s.modules[assignment.ModuleID]
		if !found {
			continue
		}
		details = append(details, models.TeacherAssignmentDetail{
			TeacherAssignment: assignment,
			TeacherName:       teacher.FullName,
			ModuleCode:        module.Code,
			ModuleTitle:       module.Title,
		})
	}
	sort.Slice(details, func(i, j int) bool {
		return applyOrder(cmpStrings(details[i].ModuleCode, details[j].ModuleCode), true, details[i].ID, details[j].ID)
	})
	return details, nil
}

// StudentStore holds student profiles.
type StudentStore struct {
	s *Store
}

// List returns students with level context.
func (st *StudentStore) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()

	var matched []models.StudentDetail
	for _, student := range st.s.students {
		if filter.LevelID != "" && student.LevelID != filter.LevelID {
			continue
		}
		if filter.Active != nil && student.Active != *filter.Active {
			continue
		}
		if filter.Search != "" &&
			!containsFold(student.FullName, filter.Search) &&
			!containsFold(student.Number, filter.Search) &&
			!containsFold(student.Email, filter.Search) {
			continue
		}
		matched = append(matched, st.s.studentDetail(student))
	}

	asc := sortAscending(filter.SortOrder, "ASC")
	sortBy := filter.SortBy
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var cmp int
		switch sortBy {
		case "number":
			cmp = cmpStrings(a.Number, b.Number)
		case "created_at":
			cmp = cmpTimes(a.CreatedAt, b.CreatedAt)
		default:
			cmp = cmpStrings(a.FullName, b.FullName)
		}
		return applyOrder(cmp, asc, a.ID, b.ID)
	})

	page, size := normalizePage(filter.Page, filter.PageSize, 20, 100)
	lo, hi := pageWindow(len(matched), page, size)
	return matched[lo:hi], len(matched), nil
}

// FindByID fetches a student with level context.
func (st *StudentStore) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	student, ok := st.s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := st.s.studentDetail(student)
	return &detail, nil
}

// FindByUserID fetches the student linked to an account.
func (st *StudentStore) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, student := range st.s.students {
		if student.UserID != nil && *student.UserID == userID {
			found := student
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

// ListByLevel returns the level's active students in roster order.
func (st *StudentStore) ListByLevel(ctx context.Context, levelID string) ([]models.Student, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var students []models.Student
	for _, student := range st.s.students {
		if student.LevelID == levelID && student.Active {
			students = append(students, student)
		}
	}
	sort.Slice(students, func(i, j int) bool {
		return applyOrder(cmpStrings(students[i].FullName, students[j].FullName), true, students[i].ID, students[j].ID)
	})
	return students, nil
}

// NamesByIDs resolves display names for a batch of students.
func (st *StudentStore) NamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if student, ok := st.s.students[id]; ok {
			names[id] = student.FullName
		}
	}
	return names, nil
}

// ExistsByNumber reports whether another student carries the number.
func (st *StudentStore) ExistsByNumber(ctx context.Context, number string, excludeID string) (bool, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, student := range st.s.students {
		if student.ID == excludeID {
			continue
		}
		if student.Number == number {
			return true, nil
		}
	}
	return false, nil
}

// ExistsByEmail reports whether another student carries the email.
func (st *StudentStore) ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, student := range st.s.students {
		if student.ID == excludeID {
			continue
		}
		if strings.EqualFold(student.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

// NextNumber returns the next free sequential student number.
func (st *StudentStore) NextNumber(ctx context.Context) (string, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	highest := 0
	for _, student := range st.s.students {
		n, err := strconv.Atoi(student.Number)
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%06d", highest+1), nil
}

// Create inserts a student.
func (st *StudentStore) Create(ctx context.Context, student *models.Student) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	st.s.students[student.ID] = *student
	return nil
}

// Update replaces a stored student.
func (st *StudentStore) Update(ctx context.Context, student *models.Student) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.students[student.ID]; !ok {
		return nil
	}
	student.UpdatedAt = time.Now().UTC()
	st.s.students[student.ID] = *student
	return nil
}

// Deactivate marks a student inactive.
func (st *StudentStore) Deactivate(ctx context.Context, id string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	student, ok := st.s.students[id]
	if !ok {
		return nil
	}
	student.Active = false
	student.UpdatedAt = time.Now().UTC()
	st.s.students[id] = student
	return nil
}

// LinkUser attaches an account to a student profile.
func (st *StudentStore) LinkUser(ctx context.Context, id, userID string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	student, ok := st.s.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	student.UserID = &userID
	student.UpdatedAt = time.Now().UTC()
	st.s.students[id] = student
	return nil
}

func (s *Store) studentDetail(student models.Student) models.StudentDetail {
	detail := models.StudentDetail{Student: student}
	if level, ok := s.levels[student.LevelID]; ok {
		name := level.Name
		detail.LevelName = &name
	}
	return detail
}
