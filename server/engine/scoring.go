package engine

// Score bounds and the per-sample adjustments applied by Evaluate.
const (
	ScoreMin = 0.0
	ScoreMax = 100.0

	penaltyPhoneBegan      = 5.0
	penaltyPhoneOngoing    = 0.1
	penaltyLeftSeatBegan   = 3.0
	penaltyLeftSeatOngoing = 0.1
	recoveryBonus          = 0.2

	// Detection confidence floors. Person below the floor counts as having
	// left the seat; below the posture floor the view is too unclear.
	personConfidenceFloor  = 0.3
	postureConfidenceFloor = 0.7

	criticalScoreFloor = 50.0

	escalationGraceSeconds = 10.0
	criticalStreak         = 3
)

// Focus level bands over the current score.
const (
	FocusLevelHigh               = "highly_focused"
	FocusLevelFocused            = "focused"
	FocusLevelDistracted         = "distracted"
	FocusLevelSeverelyDistracted = "severely_distracted"

	highlyFocusedMin = 85.0
	focusedMin       = 65.0
	distractedMin    = 40.0
)

// FocusLevelFor maps a score to its focus level label.
func FocusLevelFor(score float64) string {
	switch {
	case score >= highlyFocusedMin:
		return FocusLevelHigh
	case score >= focusedMin:
		return FocusLevelFocused
	case score >= distractedMin:
		return FocusLevelDistracted
	default:
		return FocusLevelSeverelyDistracted
	}
}

func clampScore(v float64) float64 {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}
