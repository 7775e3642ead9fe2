package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSession is returned for operations on a session id the
	// registry has never seen or has already removed.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionExists is returned when registering a session id twice.
	ErrSessionExists = errors.New("session already registered")
)

// OutOfOrderSampleError reports a sample older than the last one processed
// for the session. The session state is left untouched.
type OutOfOrderSampleError struct {
	SessionID     string
	LastTimestamp float64
	Timestamp     float64
}

func (e *OutOfOrderSampleError) Error() string {
	return fmt.Sprintf("session %s: sample timestamp %.3f precedes last processed %.3f",
		e.SessionID, e.Timestamp, e.LastTimestamp)
}

// IsOutOfOrderSample reports whether err is an OutOfOrderSampleError.
func IsOutOfOrderSample(err error) bool {
	var target *OutOfOrderSampleError
	return errors.As(err, &target)
}

// InvalidDurationError reports a session end time earlier than its start.
// The summary returned alongside it has its duration clamped to zero.
type InvalidDurationError struct {
	SessionID string
	StartedAt float64
	EndedAt   float64
}

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("session %s: ended at %.3f before start %.3f",
		e.SessionID, e.EndedAt, e.StartedAt)
}

// IsInvalidDuration reports whether err is an InvalidDurationError.
func IsInvalidDuration(err error) bool {
	var target *InvalidDurationError
	return errors.As(err, &target)
}
