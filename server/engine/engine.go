// Package engine turns per-frame detection samples into focus scores,
// violation counts, and alert decisions for study sessions. It performs no
// I/O and keeps one independent state per session; callers persist what it
// returns.
package engine

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// Engine is the session registry. Each session has its own lock, so
// different sessions evaluate in parallel while samples for one session are
// strictly serialized.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	logger   *zap.Logger
}

type sessionEntry struct {
	mu    sync.Mutex
	state SessionState
}

// EvalResult bundles the outcome of evaluating one sample: a snapshot of
// the updated state, the alert decision, and any new-violation events.
type EvalResult struct {
	State  SessionState
	Alert  AlertResult
	Events []ViolationEvent
}

func New(logger *zap.Logger) *Engine {
	return &Engine{
		sessions: make(map[string]*sessionEntry),
		logger:   logger,
	}
}

// StartSession registers a fresh session. The initial score is clamped into
// the valid score range.
func (e *Engine) StartSession(sessionID string, startedAt, initialScore float64) (SessionState, error) {
	st := newSessionState(sessionID, startedAt, initialScore)
	if err := e.register(sessionID, st); err != nil {
		return SessionState{}, err
	}
	e.logger.Info("Session registered",
		zap.String("session_id", sessionID),
		zap.Float64("initial_score", st.InitialScore))
	return st, nil
}

// Restore registers a session from previously persisted state, so scoring
// continues across reconnects and restarts. Zero LastViolationAt and
// LastSampleAt are treated as unset.
func (e *Engine) Restore(sessionID string, st SessionState) error {
	st.SessionID = sessionID
	st.CurrentScore = clampScore(st.CurrentScore)
	if st.LastViolationAt == 0 {
		st.LastViolationAt = math.Inf(-1)
	}
	if st.LastSampleAt == 0 {
		st.LastSampleAt = math.Inf(-1)
	}
	if err := e.register(sessionID, st); err != nil {
		return err
	}
	e.logger.Info("Session restored",
		zap.String("session_id", sessionID),
		zap.Float64("current_score", st.CurrentScore),
		zap.Int64("total_frames", st.TotalFrames))
	return nil
}

func (e *Engine) register(sessionID string, st SessionState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[sessionID]; ok {
		return fmt.Errorf("register session %s: %w", sessionID, ErrSessionExists)
	}
	e.sessions[sessionID] = &sessionEntry{state: st}
	return nil
}

func (e *Engine) entry(sessionID string) *sessionEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[sessionID]
}

// Evaluate runs one detection sample through the session's violation
// machines, scoring, escalation, and alert decision. Samples must arrive
// with non-decreasing timestamps; older samples are rejected without
// touching state.
func (e *Engine) Evaluate(sessionID string, sample DetectionSample) (*EvalResult, error) {
	entry := e.entry(sessionID)
	if entry == nil {
		return nil, fmt.Errorf("evaluate session %s: %w", sessionID, ErrUnknownSession)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if sample.Timestamp < entry.state.LastSampleAt {
		return nil, &OutOfOrderSampleError{
			SessionID:     sessionID,
			LastTimestamp: entry.state.LastSampleAt,
			Timestamp:     sample.Timestamp,
		}
	}

	alert, events := entry.state.apply(sample)
	entry.state.LastSampleAt = sample.Timestamp

	return &EvalResult{State: entry.state, Alert: alert, Events: events}, nil
}

// EndSession computes the final summary. The session stays registered, so
// calling it again recomputes from current state; Remove discards it.
func (e *Engine) EndSession(sessionID string, endedAt float64) (SessionSummary, error) {
	entry := e.entry(sessionID)
	if entry == nil {
		return SessionSummary{}, fmt.Errorf("end session %s: %w", sessionID, ErrUnknownSession)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	summary, err := summarize(&entry.state, endedAt)
	if err != nil {
		e.logger.Warn("Session ended before it started, duration clamped",
			zap.String("session_id", sessionID),
			zap.Float64("started_at", entry.state.StartedAt),
			zap.Float64("ended_at", endedAt))
		return summary, err
	}

	e.logger.Info("Session ended",
		zap.String("session_id", sessionID),
		zap.Float64("final_score", summary.FinalScore),
		zap.Int64("total_violations", summary.TotalViolations),
		zap.Float64("focus_percentage", summary.FocusPercentage))
	return summary, nil
}

// Snapshot returns a copy of the session's current state.
func (e *Engine) Snapshot(sessionID string) (SessionState, error) {
	entry := e.entry(sessionID)
	if entry == nil {
		return SessionState{}, fmt.Errorf("snapshot session %s: %w", sessionID, ErrUnknownSession)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, nil
}

// Remove discards the session's state. It reports whether the session was
// registered.
func (e *Engine) Remove(sessionID string) bool {
	e.mu.Lock()
	_, ok := e.sessions[sessionID]
	delete(e.sessions, sessionID)
	e.mu.Unlock()
	if ok {
		e.logger.Info("Session removed", zap.String("session_id", sessionID))
	}
	return ok
}

// ActiveSessions returns the number of registered sessions.
func (e *Engine) ActiveSessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}
