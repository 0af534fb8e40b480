package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
)

type mockScheduleRepo struct {
	slots    []models.ScheduleSlotDetail
	byID     map[string]*models.ScheduleSlot
	overlap  bool
	created  []*models.ScheduleSlot
	deleted  []string
	lastDay  time.Weekday
	lastFrom string
	lastTo   string
}

func (m *mockScheduleRepo) ListByLevel(ctx context.Context, levelID string) ([]models.ScheduleSlotDetail, error) {
	return m.slots, nil
}

func (m *mockScheduleRepo) ListByModule(ctx context.Context, moduleID string) ([]models.ScheduleSlotDetail, error) {
	return m.slots, nil
}

func (m *mockScheduleRepo) FindByID(ctx context.Context, id string) (*models.ScheduleSlot, error) {
	slot, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return slot, nil
}

func (m *mockScheduleRepo) HasOverlap(ctx context.Context, levelID string, day time.Weekday, startTime, endTime, excludeID string) (bool, error) {
	m.lastDay = day
	m.lastFrom = startTime
	m.lastTo = endTime
	return m.overlap, nil
}

func (m *mockScheduleRepo) Create(ctx context.Context, slot *models.ScheduleSlot) error {
	m.created = append(m.created, slot)
	return nil
}

func (m *mockScheduleRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockScheduleLevelRepo struct {
	level *models.Level
}

func (m *mockScheduleLevelRepo) FindByID(ctx context.Context, id string) (*models.Level, error) {
	if m.level == nil {
		return nil, sql.ErrNoRows
	}
	return m.level, nil
}

type mockScheduleModuleRepo struct {
	module *models.Module
}

func (m *mockScheduleModuleRepo) FindByID(ctx context.Context, id string) (*models.Module, error) {
	if m.module == nil {
		return nil, sql.ErrNoRows
	}
	return m.module, nil
}

func slotDetail(id string, day time.Weekday, code string) models.ScheduleSlotDetail {
	return models.ScheduleSlotDetail{
		ScheduleSlot: models.ScheduleSlot{ID: id, LevelID: "lvl-1", ModuleID: "mod-1", Day: day, StartTime: "08:00", EndTime: "09:30"},
		ModuleCode:   code,
		ModuleTitle:  "Algorithms",
	}
}

func newScheduleServiceForTest(repo *mockScheduleRepo, levels *mockScheduleLevelRepo, modules *mockScheduleModuleRepo) *ScheduleService {
	return NewScheduleService(repo, levels, modules, nil, zap.NewNop())
}

func TestScheduleServiceWeeklyGroupsByDay(t *testing.T) {
	repo := &mockScheduleRepo{slots: []models.ScheduleSlotDetail{
		slotDetail("slot-1", time.Monday, "CS101"),
		slotDetail("slot-2", time.Monday, "MA201"),
		slotDetail("slot-3", time.Wednesday, "CS101"),
	}}
	levels := &mockScheduleLevelRepo{level: &models.Level{ID: "lvl-1", Name: "L3-CS"}}
	svc := newScheduleServiceForTest(repo, levels, &mockScheduleModuleRepo{})

	week, err := svc.WeeklyByLevel(context.Background(), "lvl-1")
	require.NoError(t, err)
	assert.Equal(t, "lvl-1", week.LevelID)
	assert.Len(t, week.Days[time.Monday], 2)
	assert.Len(t, week.Days[time.Wednesday], 1)
	assert.Empty(t, week.Days[time.Friday])
}

func TestScheduleServiceWeeklyUnknownLevel(t *testing.T) {
	svc := newScheduleServiceForTest(&mockScheduleRepo{}, &mockScheduleLevelRepo{}, &mockScheduleModuleRepo{})

	_, err := svc.WeeklyByLevel(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestScheduleServiceCreate(t *testing.T) {
	repo := &mockScheduleRepo{}
	modules := &mockScheduleModuleRepo{module: &models.Module{ID: "mod-1", Code: "CS101", LevelID: "lvl-1", Active: true}}
	svc := newScheduleServiceForTest(repo, &mockScheduleLevelRepo{}, modules)

	room := "  B12  "
	slot, err := svc.Create(context.Background(), CreateScheduleSlotRequest{
		ModuleID:  "mod-1",
		Day:       int(time.Tuesday),
		StartTime: "08:00",
		EndTime:   "09:30",
		Room:      &room,
	})
	require.NoError(t, err)
	assert.Equal(t, "lvl-1", slot.LevelID)
	assert.Equal(t, time.Tuesday, slot.Day)
	assert.Equal(t, "08:00", slot.StartTime)
	assert.Equal(t, "09:30", slot.EndTime)
	require.NotNil(t, slot.Room)
	assert.Equal(t, "B12", *slot.Room)
	require.Len(t, repo.created, 1)
	assert.Equal(t, time.Tuesday, repo.lastDay)
}

func TestScheduleServiceCreateValidation(t *testing.T) {
	svc := newScheduleServiceForTest(&mockScheduleRepo{}, &mockScheduleLevelRepo{}, &mockScheduleModuleRepo{})

	_, err := svc.Create(context.Background(), CreateScheduleSlotRequest{Day: 1, StartTime: "08:00", EndTime: "09:30"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestScheduleServiceCreateRejectsInvertedWindow(t *testing.T) {
	modules := &mockScheduleModuleRepo{module: &models.Module{ID: "mod-1", LevelID: "lvl-1", Active: true}}
	svc := newScheduleServiceForTest(&mockScheduleRepo{}, &mockScheduleLevelRepo{}, modules)

	_, err := svc.Create(context.Background(), CreateScheduleSlotRequest{
		ModuleID: "mod-1", Day: 1, StartTime: "10:00", EndTime: "09:00",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestScheduleServiceCreateRejectsOverlap(t *testing.T) {
	repo := &mockScheduleRepo{overlap: true}
	modules := &mockScheduleModuleRepo{module: &models.Module{ID: "mod-1", LevelID: "lvl-1", Active: true}}
	svc := newScheduleServiceForTest(repo, &mockScheduleLevelRepo{}, modules)

	_, err := svc.Create(context.Background(), CreateScheduleSlotRequest{
		ModuleID: "mod-1", Day: 1, StartTime: "08:00", EndTime: "09:30",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.created)
}

func TestScheduleServiceCreateRejectsInactiveModule(t *testing.T) {
	modules := &mockScheduleModuleRepo{module: &models.Module{ID: "mod-1", LevelID: "lvl-1", Active: false}}
	svc := newScheduleServiceForTest(&mockScheduleRepo{}, &mockScheduleLevelRepo{}, modules)

	_, err := svc.Create(context.Background(), CreateScheduleSlotRequest{
		ModuleID: "mod-1", Day: 1, StartTime: "08:00", EndTime: "09:30",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestScheduleServiceDelete(t *testing.T) {
	repo := &mockScheduleRepo{byID: map[string]*models.ScheduleSlot{
		"slot-1": {ID: "slot-1", LevelID: "lvl-1"},
	}}
	svc := newScheduleServiceForTest(repo, &mockScheduleLevelRepo{}, &mockScheduleModuleRepo{})

	require.NoError(t, svc.Delete(context.Background(), "slot-1"))
	assert.Equal(t, []string{"slot-1"}, repo.deleted)

	err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
