package fixture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyes-bd/presence-api/internal/models"
)

var fixedSeedDate = time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)

func TestDateSeed(t *testing.T) {
	assert.Equal(t, int64(20240314), DateSeed(fixedSeedDate))
	assert.Equal(t, int64(20231201), DateSeed(time.Date(2023, 12, 1, 23, 59, 0, 0, time.UTC)))
}

func TestLCGIsReproducible(t *testing.T) {
	a := NewLCG(20240314)
	b := NewLCG(20240314)
	for i := 0; i < 100; i++ {
		va := a.Float()
		vb := b.Float()
		require.Equal(t, va, vb)
		require.GreaterOrEqual(t, va, 0.0)
		require.Less(t, va, 1.0)
	}
}

func TestGenerateIsDeterministicPerDay(t *testing.T) {
	first := Generate(GeneratorConfig{SeedDate: fixedSeedDate})
	second := Generate(GeneratorConfig{SeedDate: fixedSeedDate.Add(5 * time.Hour)})

	// Same calendar day, different wall clock: identical dataset apart
	// from the bcrypt salts in user rows.
	assert.Equal(t, first.Levels, second.Levels)
	assert.Equal(t, first.Modules, second.Modules)
	assert.Equal(t, first.Students, second.Students)
	assert.Equal(t, first.Enrollments, second.Enrollments)
	assert.Equal(t, first.Slots, second.Slots)
	assert.Equal(t, first.Sessions, second.Sessions)
	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, first.Justifications, second.Justifications)
}

func TestGenerateDiffersAcrossDays(t *testing.T) {
	first := Generate(GeneratorConfig{SeedDate: fixedSeedDate})
	second := Generate(GeneratorConfig{SeedDate: fixedSeedDate.AddDate(0, 0, 1)})
	assert.NotEqual(t, first.Sessions, second.Sessions)
}

func TestGenerateHeadcountArithmetic(t *testing.T) {
	ds := Generate(GeneratorConfig{SeedDate: fixedSeedDate})
	require.NotEmpty(t, ds.Sessions)

	absentBySession := make(map[string]int)
	recordsBySession := make(map[string]int)
	for _, record := range ds.Records {
		recordsBySession[record.SessionID]++
		if record.Status == models.RecordAbsent {
			absentBySession[record.SessionID]++
		}
	}

	for _, session := range ds.Sessions {
		absent := absentBySession[session.ID]
		assert.Equal(t, session.ExpectedCount, session.PresentCount+absent, "session %s", session.ID)
		assert.Equal(t, session.ExpectedCount, recordsBySession[session.ID], "session %s has a record per enrolled student", session.ID)
	}
}

func TestGenerateAbsenceRateStaysInBand(t *testing.T) {
	ds := Generate(GeneratorConfig{SeedDate: fixedSeedDate, StudentsPerLevel: 24})

	absentBySession := make(map[string]int)
	for _, record := range ds.Records {
		if record.Status == models.RecordAbsent {
			absentBySession[record.SessionID]++
		}
	}
	// rate in [0.08, 0.20) rounded to the nearest student: 2..5 of 24.
	for _, session := range ds.Sessions {
		absent := absentBySession[session.ID]
		assert.GreaterOrEqual(t, absent, 2, "session %s", session.ID)
		assert.LessOrEqual(t, absent, 5, "session %s", session.ID)
	}
}

func TestGenerateNeverOnSundayAndSkewsTueThu(t *testing.T) {
	ds := Generate(GeneratorConfig{SeedDate: fixedSeedDate})

	byWeekday := make(map[time.Weekday]int)
	for _, session := range ds.Sessions {
		byWeekday[session.StartAt.Weekday()]++
	}

	assert.Zero(t, byWeekday[time.Sunday])
	tueThu := byWeekday[time.Tuesday] + byWeekday[time.Thursday]
	rest := len(ds.Sessions) - tueThu
	assert.Greater(t, tueThu, rest, "timetable concentrates on Tuesday/Thursday")
}

func TestGenerateJustificationsAttachToAbsentRecords(t *testing.T) {
	ds := Generate(GeneratorConfig{SeedDate: fixedSeedDate})

	recordStatus := make(map[string]models.RecordStatus, len(ds.Records))
	for _, record := range ds.Records {
		recordStatus[record.ID] = record.Status
	}

	seen := make(map[string]bool)
	for _, j := range ds.Justifications {
		status, ok := recordStatus[j.AbsenceRecordID]
		require.True(t, ok, "justification %s references a record", j.ID)
		assert.Equal(t, models.RecordAbsent, status)
		assert.False(t, seen[j.AbsenceRecordID], "one justification per record")
		seen[j.AbsenceRecordID] = true
		if j.Status != models.JustificationPending {
			assert.NotNil(t, j.DecidedAt)
			assert.NotNil(t, j.DecidedBy)
		}
	}
}

func TestGenerateEnrollmentCountersMatchRecords(t *testing.T) {
	ds := Generate(GeneratorConfig{SeedDate: fixedSeedDate})

	absences := make(map[string]int)
	for _, record := range ds.Records {
		if record.Status == models.RecordAbsent {
			absences[record.EnrollmentID]++
		}
	}
	for _, enrollment := range ds.Enrollments {
		assert.Equal(t, absences[enrollment.ID], enrollment.Absences, "enrollment %s", enrollment.ID)
		assert.LessOrEqual(t, enrollment.AbsencesJustified, enrollment.Absences)
		assert.False(t, enrollment.Excluded, "generator leaves exclusion to the sweep")
	}
}
