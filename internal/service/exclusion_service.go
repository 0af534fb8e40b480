package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/mailer"
)

type exclusionSessionRepository interface {
	ListAttendanceSessions(ctx context.Context, rng models.DateRange, moduleCode, levelID string) ([]models.AttendanceSession, error)
}

type exclusionEnrollmentRepository interface {
	FindByStudentAndModule(ctx context.Context, studentID, moduleID string) (*models.Enrollment, error)
	SetExcluded(ctx context.Context, id string, at time.Time) error
	ClearExcluded(ctx context.Context, id string) error
}

type exclusionModuleRepository interface {
	ListAll(ctx context.Context) ([]models.Module, error)
	FindByCode(ctx context.Context, code string) (*models.Module, error)
}

type exclusionLevelRepository interface {
	List(ctx context.Context, filter models.LevelFilter) ([]models.LevelDetail, int, error)
}

type exclusionStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

// ExclusionService aggregates absences and applies the exclusion rule.
type ExclusionService struct {
	sessions    exclusionSessionRepository
	enrollments exclusionEnrollmentRepository
	modules     exclusionModuleRepository
	levels      exclusionLevelRepository
	students    exclusionStudentRepository
	cache       *CacheService
	metrics     *MetricsService
	notifier    Notifier
	mail        mailer.Mailer
	validator   *validator.Validate
	logger      *zap.Logger
	rules       models.ExclusionRuleset
	cacheTTL    time.Duration
}

// NewExclusionService constructs the exclusion service.
func NewExclusionService(
	sessions exclusionSessionRepository,
	enrollments exclusionEnrollmentRepository,
	modules exclusionModuleRepository,
	levels exclusionLevelRepository,
	students exclusionStudentRepository,
	cache *CacheService,
	metrics *MetricsService,
	notifier Notifier,
	mail mailer.Mailer,
	validate *validator.Validate,
	logger *zap.Logger,
	rules models.ExclusionRuleset,
	cacheTTL time.Duration,
) *ExclusionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ExclusionService{
		sessions:    sessions,
		enrollments: enrollments,
		modules:     modules,
		levels:      levels,
		students:    students,
		cache:       cache,
		metrics:     metrics,
		notifier:    notifier,
		mail:        mail,
		validator:   validate,
		logger:      logger,
		rules:       rules.Normalize(),
		cacheTTL:    cacheTTL,
	}
}

// Rules exposes the active thresholds.
func (s *ExclusionService) Rules() models.ExclusionRuleset {
	return s.rules
}

// ExclusionQueryRequest selects the aggregation window and scope.
type ExclusionQueryRequest struct {
	Preset     string
	From       string
	To         string
	ModuleCode string
	LevelID    string
}

// Overview aggregates absences over the resolved range and classifies
// every tracked (student, module) pair. The boolean reports whether the
// payload came from cache.
func (s *ExclusionService) Overview(ctx context.Context, req ExclusionQueryRequest) (*models.ExclusionOverview, bool, error) {
	rng := models.ResolvePeriod(models.PeriodPreset(req.Preset), req.From, req.To, time.Now())

	cacheKey := makeExclusionCacheKey("overview", rng.Start.Format(time.RFC3339), rng.End.Format(time.RFC3339), req.ModuleCode, req.LevelID)
	var cached models.ExclusionOverview
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	rows, _, err := s.compute(ctx, rng, req.ModuleCode, req.LevelID)
	if err != nil {
		return nil, false, err
	}
	overview := &models.ExclusionOverview{
		Range:       rng,
		Summary:     SummarizeExclusions(rows),
		Rows:        rows,
		GeneratedAt: time.Now().UTC(),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, overview, s.cacheTTL); err != nil {
			s.logger.Warn("cache exclusion overview", zap.Error(err))
		}
	}
	return overview, false, nil
}

// Excluded returns the overview narrowed to pairs over a limit.
func (s *ExclusionService) Excluded(ctx context.Context, req ExclusionQueryRequest) (*models.ExclusionOverview, bool, error) {
	return s.filtered(ctx, req, func(row models.ExclusionRow) bool { return row.Excluded })
}

// Near returns the overview narrowed to pairs one absence short of a
// limit.
func (s *ExclusionService) Near(ctx context.Context, req ExclusionQueryRequest) (*models.ExclusionOverview, bool, error) {
	return s.filtered(ctx, req, func(row models.ExclusionRow) bool { return row.NearExclusion })
}

func (s *ExclusionService) filtered(ctx context.Context, req ExclusionQueryRequest, keep func(models.ExclusionRow) bool) (*models.ExclusionOverview, bool, error) {
	overview, fromCache, err := s.Overview(ctx, req)
	if err != nil {
		return nil, false, err
	}
	rows := make([]models.ExclusionRow, 0, len(overview.Rows))
	for _, row := range overview.Rows {
		if keep(row) {
			rows = append(rows, row)
		}
	}
	out := &models.ExclusionOverview{
		Range:       overview.Range,
		Summary:     SummarizeExclusions(rows),
		Rows:        rows,
		GeneratedAt: overview.GeneratedAt,
	}
	return out, fromCache, nil
}

// ModuleDetail returns the aggregation scoped to one module code.
func (s *ExclusionService) ModuleDetail(ctx context.Context, code string, req ExclusionQueryRequest) (*models.ExclusionOverview, bool, error) {
	module, err := s.modules.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	req.ModuleCode = module.Code
	return s.Overview(ctx, req)
}

// compute runs the aggregation pipeline for the range and fills in
// student display names.
func (s *ExclusionService) compute(ctx context.Context, rng models.DateRange, moduleCode, levelID string) ([]models.ExclusionRow, []models.AttendanceSession, error) {
	start := time.Now()
	sessions, err := s.sessions.ListAttendanceSessions(ctx, rng, moduleCode, levelID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance sessions")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("exclusion_sessions", time.Since(start))
	}

	tallies := AggregateAbsences(sessions, rng)
	rows := BuildExclusionRows(tallies, s.rules)

	ids := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.StudentID]; ok {
			continue
		}
		seen[row.StudentID] = struct{}{}
		ids = append(ids, row.StudentID)
	}
	names, err := s.students.NamesByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("student name lookup failed", zap.Error(err))
	} else {
		for i := range rows {
			rows[i].StudentName = names[rows[i].StudentID]
		}
	}
	return rows, sessions, nil
}

// ApplySweepRequest selects the window whose verdicts get persisted.
// An empty module code sweeps every module.
type ApplySweepRequest struct {
	Preset     string `json:"preset"`
	From       string `json:"from"`
	To         string `json:"to"`
	ModuleCode string `json:"module_code"`
}

// Apply persists the classifier verdicts for the range: every excluded
// pair gets its enrollment flagged with the exclusion date. Historical
// records stay untouched so the aggregation remains reproducible.
func (s *ExclusionService) Apply(ctx context.Context, claims *models.JWTClaims, req ApplySweepRequest) (*models.ExclusionApplyResult, error) {
	rng := models.ResolvePeriod(models.PeriodPreset(req.Preset), req.From, req.To, time.Now())
	rows, _, err := s.compute(ctx, rng, strings.ToUpper(strings.TrimSpace(req.ModuleCode)), "")
	if err != nil {
		return nil, err
	}

	modules, err := s.modules.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load modules")
	}
	modulesByCode := make(map[string]models.Module, len(modules))
	for _, module := range modules {
		modulesByCode[module.Code] = module
	}

	result := &models.ExclusionApplyResult{Range: rng, AppliedAt: time.Now().UTC()}
	for _, row := range rows {
		if !row.Excluded {
			continue
		}
		result.Verdicts++

		module, ok := modulesByCode[row.ModuleCode]
		if !ok {
			result.Skipped++
			continue
		}
		enrollment, err := s.enrollments.FindByStudentAndModule(ctx, row.StudentID, module.ID)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
			}
			result.Skipped++
			continue
		}
		if enrollment.Excluded {
			result.AlreadyExcluded++
			continue
		}

		at, err := time.Parse("2006-01-02", row.ExclusionDate)
		if err != nil {
			at = result.AppliedAt
		}
		if err := s.enrollments.SetExcluded(ctx, enrollment.ID, at); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to flag enrollment")
		}
		result.Applied++
		s.notifyExclusion(ctx, row)
	}

	s.invalidate(ctx)
	s.logger.Info("exclusion sweep applied",
		zap.String("applied_by", claims.UserID),
		zap.String("range", rng.Label),
		zap.Int("verdicts", result.Verdicts),
		zap.Int("applied", result.Applied),
		zap.Int("already_excluded", result.AlreadyExcluded),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *ExclusionService) notifyExclusion(ctx context.Context, row models.ExclusionRow) {
	student, err := s.students.FindByID(ctx, row.StudentID)
	if err != nil {
		s.logger.Warn("exclusion notification skipped",
			zap.String("student_id", row.StudentID),
			zap.Error(err))
		return
	}
	title := "Module exclusion"
	body := fmt.Sprintf("You have been excluded from %s after %d absences (%d unjustified, %d justified).",
		row.ModuleCode, row.TotalAbsences, row.Unjustified, row.Justified)
	if s.notifier != nil && student.UserID != nil {
		s.notifier.Push(ctx, *student.UserID, models.NotificationExclusionApplied, title, body)
	}
	if s.mail != nil {
		s.mail.Send(mailer.Message{
			ToName:  student.FullName,
			ToEmail: student.Email,
			Subject: title,
			Text:    body,
		})
	}
}

// ReinstateRequest identifies the enrollment to reinstate.
type ReinstateRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	ModuleCode string `json:"module_code" validate:"required"`
}

// Reinstate clears an enrollment's excluded flag. The computed views
// still classify from counts; this is an administrative override.
func (s *ExclusionService) Reinstate(ctx context.Context, claims *models.JWTClaims, req ReinstateRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reinstate payload")
	}

	module, err := s.modules.FindByCode(ctx, req.ModuleCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	enrollment, err := s.enrollments.FindByStudentAndModule(ctx, req.StudentID, module.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !enrollment.Excluded {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not excluded")
	}

	if err := s.enrollments.ClearExcluded(ctx, enrollment.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reinstate enrollment")
	}

	if student, err := s.students.FindByID(ctx, req.StudentID); err == nil {
		body := fmt.Sprintf("You have been reinstated in %s.", module.Code)
		if s.notifier != nil && student.UserID != nil {
			s.notifier.Push(ctx, *student.UserID, models.NotificationReinstated, "Reinstated", body)
		}
		if s.mail != nil {
			s.mail.Send(mailer.Message{
				ToName:  student.FullName,
				ToEmail: student.Email,
				Subject: "Reinstated",
				Text:    body,
			})
		}
	}

	s.invalidate(ctx)
	s.logger.Info("enrollment reinstated",
		zap.String("reinstated_by", claims.UserID),
		zap.String("student_id", req.StudentID),
		zap.String("module_code", module.Code))

	reinstated, err := s.enrollments.FindByStudentAndModule(ctx, req.StudentID, module.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reinstated enrollment")
	}
	return reinstated, nil
}

// Monitor builds the whole-system snapshot grouped by level then module.
func (s *ExclusionService) Monitor(ctx context.Context, req ExclusionQueryRequest) (*models.MonitorSnapshot, bool, error) {
	rng := models.ResolvePeriod(models.PeriodPreset(req.Preset), req.From, req.To, time.Now())

	cacheKey := makeExclusionCacheKey("monitor", rng.Start.Format(time.RFC3339), rng.End.Format(time.RFC3339))
	var cached models.MonitorSnapshot
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	rows, sessions, err := s.compute(ctx, rng, "", "")
	if err != nil {
		return nil, false, err
	}
	modules, err := s.modules.ListAll(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load modules")
	}
	levels, _, err := s.levels.List(ctx, models.LevelFilter{PageSize: 100})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load levels")
	}

	type moduleStats struct {
		sessions int
		absences int
		expected int
		present  int
		excluded int
		near     int
	}
	stats := make(map[string]*moduleStats, len(modules))
	statsFor := func(code string) *moduleStats {
		st, ok := stats[code]
		if !ok {
			st = &moduleStats{}
			stats[code] = st
		}
		return st
	}
	for _, session := range sessions {
		st := statsFor(session.ModuleCode)
		st.sessions++
		st.absences += len(session.Absences)
		st.expected += session.ExpectedCount
		st.present += session.PresentCount
	}
	for _, row := range rows {
		st := statsFor(row.ModuleCode)
		if row.Excluded {
			st.excluded++
		}
		if row.NearExclusion {
			st.near++
		}
	}

	modulesByLevel := make(map[string][]models.Module)
	for _, module := range modules {
		modulesByLevel[module.LevelID] = append(modulesByLevel[module.LevelID], module)
	}

	snapshot := &models.MonitorSnapshot{
		GeneratedAt: time.Now().UTC(),
		Range:       rng,
		Levels:      make([]models.MonitorLevel, 0, len(levels)),
	}
	for _, level := range levels {
		monitorLevel := models.MonitorLevel{
			LevelID:   level.ID,
			LevelName: level.Name,
			Students:  level.StudentCount,
			Modules:   []models.MonitorModule{},
		}
		group := modulesByLevel[level.ID]
		sort.Slice(group, func(i, j int) bool { return group[i].Code < group[j].Code })
		for _, module := range group {
			st := statsFor(module.Code)
			rate := 0.0
			if st.expected > 0 {
				rate = float64(st.present) / float64(st.expected)
			}
			monitorLevel.Modules = append(monitorLevel.Modules, models.MonitorModule{
				ModuleCode:     module.Code,
				ModuleTitle:    module.Title,
				SessionsHeld:   st.sessions,
				Absences:       st.absences,
				Excluded:       st.excluded,
				Near:           st.near,
				AttendanceRate: rate,
			})
		}
		snapshot.Levels = append(snapshot.Levels, monitorLevel)
	}
	sort.Slice(snapshot.Levels, func(i, j int) bool { return snapshot.Levels[i].LevelName < snapshot.Levels[j].LevelName })

	var totalExpected, totalPresent int
	for _, st := range stats {
		totalExpected += st.expected
		totalPresent += st.present
	}
	summary := models.MonitorSummary{Sessions: len(sessions)}
	for _, level := range snapshot.Levels {
		summary.Students += level.Students
		for _, module := range level.Modules {
			summary.Absences += module.Absences
			summary.Excluded += module.Excluded
			summary.Near += module.Near
		}
	}
	if totalExpected > 0 {
		summary.AttendanceRate = float64(totalPresent) / float64(totalExpected)
	}
	snapshot.Summary = summary

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, snapshot, s.cacheTTL); err != nil {
			s.logger.Warn("cache monitor snapshot", zap.Error(err))
		}
	}
	return snapshot, false, nil
}

// invalidate drops every cached exclusion payload after a mutation.
func (s *ExclusionService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "exclusions:*"); err != nil {
		s.logger.Warn("exclusion cache invalidation failed", zap.Error(err))
	}
}

func makeExclusionCacheKey(parts ...string) string {
	var builder strings.Builder
	builder.Grow(len(parts) * 16)
	builder.WriteString("exclusions")
	for _, part := range parts {
		if part == "" {
			continue
		}
		builder.WriteByte(':')
		builder.WriteString(strings.ReplaceAll(part, ":", "|"))
	}
	return builder.String()
}
