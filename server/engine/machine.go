package engine

// ViolationKind identifies which violation machine produced an event.
type ViolationKind string

const (
	KindPhone    ViolationKind = "phone"
	KindLeftSeat ViolationKind = "left_seat"
)

// MachineState is the state of a single violation machine.
type MachineState uint8

const (
	StateNormal MachineState = iota
	StateActive
)

func (s MachineState) String() string {
	if s == StateActive {
		return "active"
	}
	return "normal"
}

// Transition describes what a violation machine did on one sample.
type Transition uint8

const (
	TransitionNone Transition = iota
	TransitionBegan
	TransitionOngoing
	TransitionEnded
)

// step advances a violation machine by one sample. TransitionBegan is the
// only outcome that counts as a new violation; a trigger that keeps holding
// is a continuation, not a new count.
func step(cur MachineState, triggered bool) (MachineState, Transition) {
	switch {
	case cur == StateNormal && triggered:
		return StateActive, TransitionBegan
	case cur == StateActive && triggered:
		return StateActive, TransitionOngoing
	case cur == StateActive && !triggered:
		return StateNormal, TransitionEnded
	default:
		return StateNormal, TransitionNone
	}
}

// ViolationEvent is emitted exactly once per Normal to Active transition.
type ViolationEvent struct {
	Kind       ViolationKind `json:"kind"`
	OccurredAt float64       `json:"occurred_at"`
}
