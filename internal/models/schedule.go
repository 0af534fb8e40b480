package models

import "time"

// ScheduleSlot places a module in a level's weekly timetable.
type ScheduleSlot struct {
	ID        string       `db:"id" json:"id"`
	LevelID   string       `db:"level_id" json:"level_id"`
	ModuleID  string       `db:"module_id" json:"module_id"`
	Day       time.Weekday `db:"day" json:"day"`
	StartTime string       `db:"start_time" json:"start_time"`
	EndTime   string       `db:"end_time" json:"end_time"`
	Room      *string      `db:"room" json:"room,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// ScheduleSlotDetail enriches a slot with module context.
type ScheduleSlotDetail struct {
	ScheduleSlot
	ModuleCode  string `db:"module_code" json:"module_code"`
	ModuleTitle string `db:"module_title" json:"module_title"`
}

// WeeklySchedule groups a level's slots by weekday for responses.
type WeeklySchedule struct {
	LevelID string                                `json:"level_id"`
	Days    map[time.Weekday][]ScheduleSlotDetail `json:"days"`
}
