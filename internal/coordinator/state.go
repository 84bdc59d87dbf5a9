package coordinator

import "fmt"

// State is the position of a transfer in the send protocol.
type State uint8

const (
	StateInitiated State = iota
	StateSigned
	StateBroadcast
	StateConfirmed
	// StateRecorded is the COMPLETED terminal state.
	StateRecorded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitiated:
		return "INITIATED"
	case StateSigned:
		return "SIGNED"
	case StateBroadcast:
		return "BROADCAST"
	case StateConfirmed:
		return "CONFIRMED"
	case StateRecorded:
		return "RECORDED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateRecorded, StateFailed:
		return true
	case StateInitiated, StateSigned, StateBroadcast, StateConfirmed:
		return false
	}
	return false
}

// CanTransition reports whether s may move to next. Every non-terminal state
// may fail; otherwise the protocol only moves forward one step.
func (s State) CanTransition(next State) bool {
	if next == StateFailed {
		return !s.Terminal()
	}
	switch s {
	case StateInitiated:
		return next == StateSigned
	case StateSigned:
		return next == StateBroadcast
	case StateBroadcast:
		return next == StateConfirmed
	case StateConfirmed:
		return next == StateRecorded
	case StateRecorded, StateFailed:
		return false
	}
	return false
}
