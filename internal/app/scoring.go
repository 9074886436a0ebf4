package app

// ScoringRule computes round points from correctness and seconds remaining.
type ScoringRule struct {
	Base           int
	PerSecondBonus int
}

// DefaultScoring awards 100 points plus 10 per second left on the clock.
var DefaultScoring = ScoringRule{Base: 100, PerSecondBonus: 10}

// Points is pure. Remaining time is clamped to [0, timeLimit]; a non-positive
// timeLimit disables the upper clamp.
func (r ScoringRule) Points(correct bool, remaining, timeLimit int) int {
	if !correct {
		return 0
	}
	if remaining < 0 {
		remaining = 0
	}
	if timeLimit > 0 && remaining > timeLimit {
		remaining = timeLimit
	}
	return r.Base + remaining*r.PerSecondBonus
}
