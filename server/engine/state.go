package engine

import "math"

// DetectionSample is one frame's worth of detector output. Timestamps are
// seconds on a single caller-chosen clock per session and must be
// non-decreasing.
type DetectionSample struct {
	PersonDetected   bool    `json:"person_detected"`
	PersonConfidence float64 `json:"person_confidence"`
	PhoneDetected    bool    `json:"phone_detected"`
	PhoneConfidence  float64 `json:"phone_confidence"`
	Timestamp        float64 `json:"timestamp"`
}

// SessionState is the full per-session scoring state. Engine methods return
// copies; mutation happens only inside Evaluate under the session lock.
type SessionState struct {
	SessionID    string
	StartedAt    float64
	InitialScore float64
	CurrentScore float64
	MinScore     float64
	MaxScore     float64

	PhoneState    MachineState
	LeftSeatState MachineState

	TotalFrames   int64
	FocusedFrames int64

	TotalViolations    int64
	PhoneDetectedCount int64
	LeftSeatCount      int64

	ConsecutiveViolations int
	LastViolationAt       float64

	TotalAlerts    int64
	GentleAlerts   int64
	UrgentAlerts   int64
	CriticalAlerts int64

	LastSampleAt float64
}

func newSessionState(sessionID string, startedAt, initialScore float64) SessionState {
	score := clampScore(initialScore)
	return SessionState{
		SessionID:       sessionID,
		StartedAt:       startedAt,
		InitialScore:    score,
		CurrentScore:    score,
		MinScore:        score,
		MaxScore:        score,
		LastViolationAt: math.Inf(-1),
		LastSampleAt:    math.Inf(-1),
	}
}

func (s *SessionState) adjustScore(delta float64) {
	s.CurrentScore = clampScore(s.CurrentScore + delta)
	if s.CurrentScore < s.MinScore {
		s.MinScore = s.CurrentScore
	}
	if s.CurrentScore > s.MaxScore {
		s.MaxScore = s.CurrentScore
	}
}

// apply advances both violation machines, adjusts the score, updates
// escalation and alert counters, and returns the alert decision plus any
// new-violation events. Caller holds the session lock and has already
// checked sample ordering.
func (s *SessionState) apply(sample DetectionSample) (AlertResult, []ViolationEvent) {
	phoneTriggered := sample.PhoneDetected
	leftSeatTriggered := !sample.PersonDetected || sample.PersonConfidence < personConfidenceFloor

	phoneWasNormal := s.PhoneState == StateNormal
	leftSeatWasNormal := s.LeftSeatState == StateNormal

	var events []ViolationEvent

	var tr Transition
	s.PhoneState, tr = step(s.PhoneState, phoneTriggered)
	switch tr {
	case TransitionBegan:
		s.PhoneDetectedCount++
		s.TotalViolations++
		s.adjustScore(-penaltyPhoneBegan)
		events = append(events, ViolationEvent{Kind: KindPhone, OccurredAt: sample.Timestamp})
	case TransitionOngoing:
		s.adjustScore(-penaltyPhoneOngoing)
	}

	s.LeftSeatState, tr = step(s.LeftSeatState, leftSeatTriggered)
	switch tr {
	case TransitionBegan:
		s.LeftSeatCount++
		s.TotalViolations++
		s.adjustScore(-penaltyLeftSeatBegan)
		events = append(events, ViolationEvent{Kind: KindLeftSeat, OccurredAt: sample.Timestamp})
	case TransitionOngoing:
		s.adjustScore(-penaltyLeftSeatOngoing)
	}

	// A sample is focused only when it is clean and did not just clear a
	// violation; the clearing sample earns no recovery bonus.
	focused := !phoneTriggered && !leftSeatTriggered && phoneWasNormal && leftSeatWasNormal
	if focused {
		s.adjustScore(recoveryBonus)
		s.FocusedFrames++
	}
	s.TotalFrames++

	s.trackEscalation(len(events) > 0, sample.Timestamp)

	level, message := decideAlert(sample, s.ConsecutiveViolations, s.CurrentScore)
	switch level {
	case AlertGentle:
		s.GentleAlerts++
		s.TotalAlerts++
	case AlertUrgent:
		s.UrgentAlerts++
		s.TotalAlerts++
	case AlertCritical:
		s.CriticalAlerts++
		s.TotalAlerts++
	}

	return AlertResult{
		Level:             level,
		Message:           message,
		IsFocused:         focused,
		OverallConfidence: overallConfidence(sample),
		Score:             s.CurrentScore,
	}, events
}

// FocusPercentage is the share of evaluated samples classified focused.
func (s *SessionState) FocusPercentage() float64 {
	if s.TotalFrames == 0 {
		return 0
	}
	return float64(s.FocusedFrames) / float64(s.TotalFrames) * 100
}
