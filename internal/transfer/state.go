package transfer

import (
	"errors"
	"fmt"
)

type State int

const (
	StateRequested State = iota
	StateStreaming
	StateCompleted
	StateCancelled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateErrored
}

var (
	ErrNotFound = errors.New("not found")
	ErrBusy     = errors.New("sender already has an active transfer")
	ErrIO       = errors.New("transfer i/o error")
)

// StateError reports a request that conflicts with a transfer already in flight.
type StateError struct {
	SenderID string
	FileID   string
	State    State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("sender %s: transfer of %s is %s", e.SenderID, e.FileID, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrBusy
}
