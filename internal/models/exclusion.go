package models

import "time"

// AggregateKey identifies a (student, module) absence tally.
type AggregateKey struct {
	StudentID  string
	ModuleCode string
}

// AbsenceTally accumulates typed absence counts for one key. LastDate
// holds the date of the most recent session that contributed an entry.
type AbsenceTally struct {
	Justified   int
	Unjustified int
	Pending     int
	LastDate    time.Time
}

// Total returns the combined absence count.
func (t AbsenceTally) Total() int {
	return t.Justified + t.Unjustified + t.Pending
}

// ExclusionRuleset carries the absence thresholds applied by the
// classifier.
type ExclusionRuleset struct {
	UnjustifiedLimit int
	JustifiedLimit   int
}

// DefaultRuleset returns the institutional rule: exclusion at 3
// unjustified or 5 justified absences.
func DefaultRuleset() ExclusionRuleset {
	return ExclusionRuleset{UnjustifiedLimit: 3, JustifiedLimit: 5}
}

// Normalize fills non-positive limits with the defaults.
func (r ExclusionRuleset) Normalize() ExclusionRuleset {
	def := DefaultRuleset()
	if r.UnjustifiedLimit <= 0 {
		r.UnjustifiedLimit = def.UnjustifiedLimit
	}
	if r.JustifiedLimit <= 0 {
		r.JustifiedLimit = def.JustifiedLimit
	}
	return r
}

// Excluded reports whether the tally crosses either limit. Pending
// absences never count toward exclusion.
func (r ExclusionRuleset) Excluded(t AbsenceTally) bool {
	return t.Unjustified >= r.UnjustifiedLimit || t.Justified >= r.JustifiedLimit
}

// NearExclusion reports whether the tally sits exactly one absence
// under a limit. The check is equality, not >=: a student already over
// one limit still reads as near on the other axis when that count is
// exactly one short. Callers rely on this exact behaviour.
func (r ExclusionRuleset) NearExclusion(t AbsenceTally) bool {
	return t.Unjustified == r.UnjustifiedLimit-1 || t.Justified == r.JustifiedLimit-1
}

// ExclusionRow is one aggregated (student, module) verdict.
// ExclusionDate carries the YYYY-MM-DD date of the last contributing
// session regardless of the verdict; consumers decide what to display.
type ExclusionRow struct {
	StudentID     string `json:"student_id"`
	StudentName   string `json:"student_name,omitempty"`
	ModuleCode    string `json:"module_code"`
	TotalAbsences int    `json:"total_absences"`
	Justified     int    `json:"justified"`
	Unjustified   int    `json:"unjustified"`
	Pending       int    `json:"pending"`
	ExclusionDate string `json:"exclusion_date"`
	Excluded      bool   `json:"excluded"`
	NearExclusion bool   `json:"near_exclusion"`
}

// ModuleExclusionSummary aggregates verdicts for one module.
type ModuleExclusionSummary struct {
	ModuleCode string `json:"module_code"`
	Tracked    int    `json:"tracked"`
	Excluded   int    `json:"excluded"`
	Near       int    `json:"near"`
}

// ExclusionSummary totals an overview response.
type ExclusionSummary struct {
	TrackedPairs  int                      `json:"tracked_pairs"`
	ExcludedCount int                      `json:"excluded_count"`
	NearCount     int                      `json:"near_count"`
	ByModule      []ModuleExclusionSummary `json:"by_module"`
}

// ExclusionOverview is the full aggregation response for a range.
type ExclusionOverview struct {
	Range       DateRange        `json:"range"`
	Summary     ExclusionSummary `json:"summary"`
	Rows        []ExclusionRow   `json:"rows"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// ExclusionApplyResult reports the outcome of an apply sweep.
type ExclusionApplyResult struct {
	Range           DateRange `json:"range"`
	Verdicts        int       `json:"verdicts"`
	Applied         int       `json:"applied"`
	AlreadyExcluded int       `json:"already_excluded"`
	Skipped         int       `json:"skipped"`
	AppliedAt       time.Time `json:"applied_at"`
}
