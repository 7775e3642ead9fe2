package engine

// SessionSummary is the final report computed when a session ends. End and
// start times share the clock used for samples.
type SessionSummary struct {
	SessionID       string
	StartedAt       float64
	EndedAt         float64
	DurationSeconds float64
	DurationClamped bool

	InitialScore float64
	FinalScore   float64
	AverageScore float64
	MinScore     float64
	MaxScore     float64

	TotalFrames     int64
	FocusedFrames   int64
	FocusPercentage float64
	FocusLevel      string

	TotalViolations     int64
	PhoneDetectedCount  int64
	LeftSeatCount       int64
	PhonePercentage     float64
	LeftSeatPercentage  float64
	ViolationsPerMinute float64

	TotalAlerts    int64
	GentleAlerts   int64
	UrgentAlerts   int64
	CriticalAlerts int64
}

// summarize builds the final report from the session state. An end time
// before the start yields an InvalidDurationError together with a summary
// whose duration is clamped to zero and flagged, so callers can still show
// partial results.
func summarize(s *SessionState, endedAt float64) (SessionSummary, error) {
	duration := endedAt - s.StartedAt
	var durErr error
	clamped := false
	if duration < 0 {
		durErr = &InvalidDurationError{SessionID: s.SessionID, StartedAt: s.StartedAt, EndedAt: endedAt}
		duration = 0
		clamped = true
	}

	sum := SessionSummary{
		SessionID:       s.SessionID,
		StartedAt:       s.StartedAt,
		EndedAt:         endedAt,
		DurationSeconds: duration,
		DurationClamped: clamped,

		InitialScore: s.InitialScore,
		FinalScore:   s.CurrentScore,
		AverageScore: (s.InitialScore + s.CurrentScore) / 2,
		MinScore:     s.MinScore,
		MaxScore:     s.MaxScore,

		TotalFrames:     s.TotalFrames,
		FocusedFrames:   s.FocusedFrames,
		FocusPercentage: s.FocusPercentage(),
		FocusLevel:      FocusLevelFor(s.CurrentScore),

		TotalViolations:    s.TotalViolations,
		PhoneDetectedCount: s.PhoneDetectedCount,
		LeftSeatCount:      s.LeftSeatCount,

		TotalAlerts:    s.TotalAlerts,
		GentleAlerts:   s.GentleAlerts,
		UrgentAlerts:   s.UrgentAlerts,
		CriticalAlerts: s.CriticalAlerts,
	}

	if s.TotalViolations > 0 {
		sum.PhonePercentage = float64(s.PhoneDetectedCount) / float64(s.TotalViolations) * 100
		sum.LeftSeatPercentage = float64(s.LeftSeatCount) / float64(s.TotalViolations) * 100
	}
	if duration > 0 {
		sum.ViolationsPerMinute = float64(s.TotalViolations) / (duration / 60)
	}

	return sum, durErr
}
