package engine

// trackEscalation updates the consecutive violation streak. Samples with at
// least one new violation extend the streak; a clean sample resets it only
// once the grace period since the last violation has passed.
func (s *SessionState) trackEscalation(newViolation bool, ts float64) {
	if newViolation {
		s.ConsecutiveViolations++
		s.LastViolationAt = ts
		return
	}
	if ts-s.LastViolationAt > escalationGraceSeconds {
		s.ConsecutiveViolations = 0
	}
}

// EscalationLevel grades the current violation streak.
func (s *SessionState) EscalationLevel() AlertLevel {
	switch {
	case s.ConsecutiveViolations >= criticalStreak:
		return AlertCritical
	case s.ConsecutiveViolations >= 1:
		return AlertUrgent
	default:
		return AlertNone
	}
}
