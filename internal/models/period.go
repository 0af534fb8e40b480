package models

import (
	"fmt"
	"time"
)

// PeriodPreset selects a reporting window.
type PeriodPreset string

const (
	PeriodToday  PeriodPreset = "today"
	PeriodWeek   PeriodPreset = "week"
	PeriodMonth  PeriodPreset = "month"
	PeriodCustom PeriodPreset = "custom"
)

// Valid returns true when the preset is a supported value.
func (p PeriodPreset) Valid() bool {
	switch p {
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodCustom:
		return true
	default:
		return false
	}
}

// DateRange is a resolved reporting window, inclusive on both ends.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

const dateLayout = "2006-01-02"

// ResolvePeriod turns a preset plus optional custom bounds into a
// concrete range in now's location. It is total: unknown presets and
// malformed or inverted custom bounds fall back to the current month
// instead of failing.
func ResolvePeriod(preset PeriodPreset, from, to string, now time.Time) DateRange {
	switch preset {
	case PeriodToday:
		return DateRange{Start: startOfDay(now), End: now, Label: "Today"}
	case PeriodWeek:
		monday := startOfDay(now)
		for monday.Weekday() != time.Monday {
			monday = monday.AddDate(0, 0, -1)
		}
		return DateRange{Start: monday, End: endOfDay(now), Label: "This week"}
	case PeriodCustom:
		start, errFrom := time.ParseInLocation(dateLayout, from, now.Location())
		end, errTo := time.ParseInLocation(dateLayout, to, now.Location())
		if errFrom != nil || errTo != nil || end.Before(start) {
			return monthRange(now)
		}
		label := fmt.Sprintf("%s to %s", start.Format("Jan 2, 2006"), end.Format("Jan 2, 2006"))
		return DateRange{Start: start, End: endOfDay(end), Label: label}
	case PeriodMonth:
		return monthRange(now)
	default:
		return monthRange(now)
	}
}

func monthRange(now time.Time) DateRange {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return DateRange{Start: first, End: endOfDay(now), Label: "This month"}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
