package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// ScheduleRepository persists weekly timetable slots.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs a ScheduleRepository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// ListByLevel returns a level's slots ordered by day and start time.
func (r *ScheduleRepository) ListByLevel(ctx context.Context, levelID string) ([]models.ScheduleSlotDetail, error) {
	const query = `SELECT sl.id, sl.level_id, sl.module_id, sl.day, sl.start_time, sl.end_time, sl.room, sl.created_at,
        m.code AS module_code, m.title AS module_title
        FROM schedule_slots sl
        JOIN modules m ON m.id = sl.module_id
        WHERE sl.level_id = $1
        ORDER BY sl.day ASC, sl.start_time ASC`
	var slots []models.ScheduleSlotDetail
	if err := r.db.SelectContext(ctx, &slots, query, levelID); err != nil {
		return nil, fmt.Errorf("list level schedule: %w", err)
	}
	return slots, nil
}

// ListByModule returns the slots a module occupies.
func (r *ScheduleRepository) ListByModule(ctx context.Context, moduleID string) ([]models.ScheduleSlotDetail, error) {
	const query = `SELECT sl.id, sl.level_id, sl.module_id, sl.day, sl.start_time, sl.end_time, sl.room, sl.created_at,
        m.code AS module_code, m.title AS module_title
        FROM schedule_slots sl
        JOIN modules m ON m.id = sl.module_id
        WHERE sl.module_id = $1
        ORDER BY sl.day ASC, sl.start_time ASC`
	var slots []models.ScheduleSlotDetail
	if err := r.db.SelectContext(ctx, &slots, query, moduleID); err != nil {
		return nil, fmt.Errorf("list module schedule: %w", err)
	}
	return slots, nil
}

// FindByID fetches one slot.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.ScheduleSlot, error) {
	const query = `SELECT id, level_id, module_id, day, start_time, end_time, room, created_at FROM schedule_slots WHERE id = $1`
	var slot models.ScheduleSlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// HasOverlap reports whether a level already has a slot crossing the
// candidate window on the same day.
func (r *ScheduleRepository) HasOverlap(ctx context.Context, levelID string, day time.Weekday, startTime, endTime, excludeID string) (bool, error) {
	query := `SELECT COUNT(*) FROM schedule_slots
        WHERE level_id = $1 AND day = $2 AND start_time < $4 AND end_time > $3`
	args := []interface{}{levelID, day, startTime, endTime}
	if excludeID != "" {
		query += " AND id <> $5"
		args = append(args, excludeID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return false, fmt.Errorf("check schedule overlap: %w", err)
	}
	return count > 0, nil
}

// Create inserts a slot.
func (r *ScheduleRepository) Create(ctx context.Context, slot *models.ScheduleSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO schedule_slots (id, level_id, module_id, day, start_time, end_time, room, created_at)
        VALUES (:id, :level_id, :module_id, :day, :start_time, :end_time, :room, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("create schedule slot: %w", err)
	}
	return nil
}

// Delete removes a slot.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM schedule_slots WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete schedule slot: %w", err)
	}
	return nil
}
