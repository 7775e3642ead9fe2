package engine

// AlertLevel orders alert severity. The empty level means no alert; it is
// not counted in TotalAlerts.
type AlertLevel string

const (
	AlertNone     AlertLevel = ""
	AlertGentle   AlertLevel = "gentle"
	AlertUrgent   AlertLevel = "urgent"
	AlertCritical AlertLevel = "critical"
)

// AlertResult is the advice produced for one evaluated sample. Score is the
// session score after this sample's adjustments.
type AlertResult struct {
	Level             AlertLevel
	Message           string
	IsFocused         bool
	OverallConfidence float64
	Score             float64
}

const (
	msgEscalation = "Too many violations in a row - take a breath and refocus!"
	msgLowScore   = "Focus score is critically low - consider a short break."
	msgPhone      = "Phone detected - stay focused on your studies!"
	msgAbsent     = "No one in view - please return to your seat."
	msgLeaving    = "You seem to be leaving your seat - sit up straight!"
	msgPosture    = "Hard to see you clearly - adjust your posture or camera."
	msgFocused    = "Focused - great job!"
)

// decideAlert picks the alert for a sample. Rules are ordered by severity;
// the first match wins.
func decideAlert(sample DetectionSample, consecutiveViolations int, score float64) (AlertLevel, string) {
	switch {
	case consecutiveViolations >= criticalStreak:
		return AlertCritical, msgEscalation
	case score < criticalScoreFloor:
		return AlertCritical, msgLowScore
	case sample.PhoneDetected:
		return AlertUrgent, msgPhone
	case !sample.PersonDetected:
		return AlertUrgent, msgAbsent
	case sample.PersonConfidence < personConfidenceFloor:
		return AlertUrgent, msgLeaving
	case sample.PersonConfidence < postureConfidenceFloor:
		return AlertGentle, msgPosture
	default:
		return AlertNone, msgFocused
	}
}

// overallConfidence combines person and phone confidence into one figure:
// phone presence discounts it by the phone detector's certainty.
func overallConfidence(sample DetectionSample) float64 {
	c := sample.PersonConfidence
	if sample.PhoneDetected {
		c *= 1 - sample.PhoneConfidence
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
