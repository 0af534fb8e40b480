// Package fixture generates the deterministic demo dataset and provides
// the in-memory store the API runs on when demo mode is enabled.
package fixture

import "time"

const (
	lcgMultiplier = 9301
	lcgIncrement  = 49297
	lcgModulus    = 233280
)

// LCG is a small linear congruential generator. Statistical quality is
// irrelevant here; what matters is that the same seed always yields the
// same sequence, so a given calendar day reproduces the same dataset.
type LCG struct {
	state int64
}

// NewLCG seeds the generator.
func NewLCG(seed int64) *LCG {
	if seed < 0 {
		seed = -seed
	}
	return &LCG{state: seed % lcgModulus}
}

// DateSeed collapses a calendar date into the canonical YYYYMMDD seed.
func DateSeed(t time.Time) int64 {
	return int64(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// Float advances the generator and returns a value in [0, 1).
func (g *LCG) Float() float64 {
	g.state = (g.state*lcgMultiplier + lcgIncrement) % lcgModulus
	return float64(g.state) / lcgModulus
}

// IntN returns a value in [0, n). n must be positive.
func (g *LCG) IntN(n int) int {
	return int(g.Float() * float64(n))
}

// Between returns a value in [lo, hi).
func (g *LCG) Between(lo, hi float64) float64 {
	return lo + g.Float()*(hi-lo)
}
