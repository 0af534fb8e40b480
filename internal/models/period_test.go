package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var resolveNow = time.Date(2024, 3, 14, 15, 30, 0, 0, time.UTC) // a Thursday

func TestResolvePeriodToday(t *testing.T) {
	rng := ResolvePeriod(PeriodToday, "", "", resolveNow)
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), rng.Start)
	assert.Equal(t, resolveNow, rng.End)
	assert.Equal(t, "Today", rng.Label)
}

func TestResolvePeriodWeekStartsMonday(t *testing.T) {
	rng := ResolvePeriod(PeriodWeek, "", "", resolveNow)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), rng.Start)
	assert.Equal(t, time.Monday, rng.Start.Weekday())
	assert.Equal(t, 14, rng.End.Day())
	assert.Equal(t, 23, rng.End.Hour())
}

func TestResolvePeriodMonth(t *testing.T) {
	rng := ResolvePeriod(PeriodMonth, "", "", resolveNow)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), rng.Start)
	assert.Equal(t, 14, rng.End.Day())
}

func TestResolvePeriodCustom(t *testing.T) {
	rng := ResolvePeriod(PeriodCustom, "2024-01-10", "2024-02-20", resolveNow)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), rng.Start)
	assert.Equal(t, 20, rng.End.Day())
	assert.Equal(t, time.February, rng.End.Month())
	assert.Contains(t, rng.Label, "Jan 10, 2024")
}

func TestResolvePeriodCustomFallsBackSoftly(t *testing.T) {
	month := ResolvePeriod(PeriodMonth, "", "", resolveNow)

	cases := []struct {
		name string
		from string
		to   string
	}{
		{"garbage from", "not-a-date", "2024-02-20"},
		{"garbage to", "2024-01-10", "20/02/2024"},
		{"both empty", "", ""},
		{"inverted", "2024-02-20", "2024-01-10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rng := ResolvePeriod(PeriodCustom, tc.from, tc.to, resolveNow)
			assert.Equal(t, month.Start, rng.Start)
			assert.Equal(t, month.End, rng.End)
		})
	}
}

func TestResolvePeriodUnknownPresetFallsBack(t *testing.T) {
	rng := ResolvePeriod(PeriodPreset("quarter"), "", "", resolveNow)
	month := ResolvePeriod(PeriodMonth, "", "", resolveNow)
	assert.Equal(t, month.Start, rng.Start)
	assert.Equal(t, month.End, rng.End)
}

func TestDateRangeContains(t *testing.T) {
	rng := ResolvePeriod(PeriodMonth, "", "", resolveNow)
	require.True(t, rng.Contains(rng.Start))
	require.True(t, rng.Contains(rng.End))
	assert.False(t, rng.Contains(rng.Start.Add(-time.Second)))
	assert.False(t, rng.Contains(rng.End.Add(time.Second)))
}

func TestDeriveAbsenceType(t *testing.T) {
	approved := JustificationApproved
	pending := JustificationPending
	rejected := JustificationRejected

	assert.Equal(t, AbsenceUnjustified, DeriveAbsenceType(nil))
	assert.Equal(t, AbsenceJustified, DeriveAbsenceType(&approved))
	assert.Equal(t, AbsencePending, DeriveAbsenceType(&pending))
	assert.Equal(t, AbsenceUnjustified, DeriveAbsenceType(&rejected))
}
