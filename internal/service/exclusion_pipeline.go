package service

import (
	"sort"

	"github.com/ilyes-bd/presence-api/internal/models"
)

// AggregateAbsences folds the sessions that fall inside the range into
// per (student, module) tallies. Sessions outside the range contribute
// nothing; students without absences never appear. Each absence entry
// increments exactly one bucket, and LastDate tracks the most recent
// contributing session independent of input order.
func AggregateAbsences(sessions []models.AttendanceSession, rng models.DateRange) map[models.AggregateKey]models.AbsenceTally {
	out := make(map[models.AggregateKey]models.AbsenceTally, len(sessions))
	for _, session := range sessions {
		if !rng.Contains(session.StartAt) {
			continue
		}
		for _, entry := range session.Absences {
			key := models.AggregateKey{StudentID: entry.StudentID, ModuleCode: session.ModuleCode}
			tally := out[key]
			switch entry.Type {
			case models.AbsenceJustified:
				tally.Justified++
			case models.AbsencePending:
				tally.Pending++
			default:
				tally.Unjustified++
			}
			if session.StartAt.After(tally.LastDate) {
				tally.LastDate = session.StartAt
			}
			out[key] = tally
		}
	}
	return out
}

// BuildExclusionRows applies the ruleset to each tally and returns the
// verdict rows ordered by module code, then student id.
func BuildExclusionRows(tallies map[models.AggregateKey]models.AbsenceTally, rules models.ExclusionRuleset) []models.ExclusionRow {
	rules = rules.Normalize()
	rows := make([]models.ExclusionRow, 0, len(tallies))
	for key, tally := range tallies {
		rows = append(rows, models.ExclusionRow{
			StudentID:     key.StudentID,
			ModuleCode:    key.ModuleCode,
			TotalAbsences: tally.Total(),
			Justified:     tally.Justified,
			Unjustified:   tally.Unjustified,
			Pending:       tally.Pending,
			ExclusionDate: tally.LastDate.Format("2006-01-02"),
			Excluded:      rules.Excluded(tally),
			NearExclusion: rules.NearExclusion(tally),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ModuleCode != rows[j].ModuleCode {
			return rows[i].ModuleCode < rows[j].ModuleCode
		}
		return rows[i].StudentID < rows[j].StudentID
	})
	return rows
}

// SummarizeExclusions totals the rows per module and overall.
func SummarizeExclusions(rows []models.ExclusionRow) models.ExclusionSummary {
	summary := models.ExclusionSummary{ByModule: []models.ModuleExclusionSummary{}}
	perModule := make(map[string]*models.ModuleExclusionSummary)
	for _, row := range rows {
		summary.TrackedPairs++
		if row.Excluded {
			summary.ExcludedCount++
		}
		if row.NearExclusion {
			summary.NearCount++
		}
		mod, ok := perModule[row.ModuleCode]
		if !ok {
			mod = &models.ModuleExclusionSummary{ModuleCode: row.ModuleCode}
			perModule[row.ModuleCode] = mod
		}
		mod.Tracked++
		if row.Excluded {
			mod.Excluded++
		}
		if row.NearExclusion {
			mod.Near++
		}
	}
	codes := make([]string, 0, len(perModule))
	for code := range perModule {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		summary.ByModule = append(summary.ByModule, *perModule[code])
	}
	return summary
}
