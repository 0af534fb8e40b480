package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
)

type scheduleRepository interface {
	ListByLevel(ctx context.Context, levelID string) ([]models.ScheduleSlotDetail, error)
	ListByModule(ctx context.Context, moduleID string) ([]models.ScheduleSlotDetail, error)
	FindByID(ctx context.Context, id string) (*models.ScheduleSlot, error)
	HasOverlap(ctx context.Context, levelID string, day time.Weekday, startTime, endTime, excludeID string) (bool, error)
	Create(ctx context.Context, slot *models.ScheduleSlot) error
	Delete(ctx context.Context, id string) error
}

type scheduleLevelRepository interface {
	FindByID(ctx context.Context, id string) (*models.Level, error)
}

type scheduleModuleRepository interface {
	FindByID(ctx context.Context, id string) (*models.Module, error)
}

// CreateScheduleSlotRequest places a module in its level's weekly timetable.
type CreateScheduleSlotRequest struct {
	ModuleID  string  `json:"module_id" validate:"required"`
	Day       int     `json:"day" validate:"min=0,max=6"`
	StartTime string  `json:"start_time" validate:"required"`
	EndTime   string  `json:"end_time" validate:"required"`
	Room      *string `json:"room" validate:"omitempty,max=50"`
}

// ScheduleService maintains the weekly timetables of levels.
type ScheduleService struct {
	repo      scheduleRepository
	levels    scheduleLevelRepository
	modules   scheduleModuleRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService instantiates ScheduleService.
func NewScheduleService(repo scheduleRepository, levels scheduleLevelRepository, modules scheduleModuleRepository, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{repo: repo, levels: levels, modules: modules, validator: validate, logger: logger}
}

// WeeklyByLevel returns a level's timetable grouped by weekday.
func (s *ScheduleService) WeeklyByLevel(ctx context.Context, levelID string) (*models.WeeklySchedule, error) {
	if _, err := s.levels.FindByID(ctx, levelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}
	slots, err := s.repo.ListByLevel(ctx, levelID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedule")
	}
	week := &models.WeeklySchedule{LevelID: levelID, Days: make(map[time.Weekday][]models.ScheduleSlotDetail)}
	for _, slot := range slots {
		week.Days[slot.Day] = append(week.Days[slot.Day], slot)
	}
	return week, nil
}

// ListByModule returns the slots a module occupies across the week.
func (s *ScheduleService) ListByModule(ctx context.Context, moduleID string) ([]models.ScheduleSlotDetail, error) {
	slots, err := s.repo.ListByModule(ctx, moduleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list module schedule")
	}
	return slots, nil
}

// Create inserts a slot after window validation and overlap detection.
func (s *ScheduleService) Create(ctx context.Context, req CreateScheduleSlotRequest) (*models.ScheduleSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	start, end, err := parseSlotWindow(req.StartTime, req.EndTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	module, err := s.modules.FindByID(ctx, req.ModuleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load module")
	}
	if !module.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "module is inactive")
	}

	day := time.Weekday(req.Day)
	overlap, err := s.repo.HasOverlap(ctx, module.LevelID, day, start, end, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check schedule overlap")
	}
	if overlap {
		return nil, appErrors.Clone(appErrors.ErrConflict, "level already has a slot in this window")
	}

	slot := &models.ScheduleSlot{
		LevelID:   module.LevelID,
		ModuleID:  module.ID,
		Day:       day,
		StartTime: start,
		EndTime:   end,
	}
	if req.Room != nil {
		if room := strings.TrimSpace(*req.Room); room != "" {
			slot.Room = &room
		}
	}
	if err := s.repo.Create(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule slot")
	}
	return slot, nil
}

// Delete removes a slot from the timetable.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "schedule slot not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule slot")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule slot")
	}
	return nil
}

// parseSlotWindow normalises HH:MM bounds and enforces start < end.
func parseSlotWindow(startTime, endTime string) (string, string, error) {
	start, err := time.Parse("15:04", strings.TrimSpace(startTime))
	if err != nil {
		return "", "", errors.New("start_time must be HH:MM")
	}
	end, err := time.Parse("15:04", strings.TrimSpace(endTime))
	if err != nil {
		return "", "", errors.New("end_time must be HH:MM")
	}
	if !start.Before(end) {
		return "", "", errors.New("start_time must be before end_time")
	}
	return start.Format("15:04"), end.Format("15:04"), nil
}
