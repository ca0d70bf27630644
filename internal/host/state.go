// SPDX-License-Identifier: MPL-2.0

package host

import (
	"errors"
	"fmt"
)

// Lifecycle of a Runner. Stopped, Failed and Restarting are terminal.
const (
	StateCreated State = iota
	// StateUpdating covers the update check and the verification pass.
	StateUpdating
	StateRunning
	StateStopping
	StateStopped
	StateFailed
	// StateRestarting means a new process was started to finish an update
	// that replaced files in use.
	StateRestarting
)

// ErrInvalidState is wrapped by InvalidStateError.
var ErrInvalidState = errors.New("invalid state")

var stateNames = [...]string{
	StateCreated:    "created",
	StateUpdating:   "updating",
	StateRunning:    "running",
	StateStopping:   "stopping",
	StateStopped:    "stopped",
	StateFailed:     "failed",
	StateRestarting: "restarting",
}

type (
	// State is the lifecycle state of a Runner.
	State int32

	// InvalidStateError reports a State outside the lifecycle.
	InvalidStateError struct {
		Value State
	}
)

func (s State) String() string {
	if s.Validate() != nil {
		return "unknown"
	}
	return stateNames[s]
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state %d", e.Value)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// Validate returns an *InvalidStateError for values outside the lifecycle.
func (s State) Validate() error {
	if s < 0 || int(s) >= len(stateNames) {
		return &InvalidStateError{Value: s}
	}
	return nil
}

// IsTerminal reports whether the Runner can no longer change state.
func (s State) IsTerminal() bool {
	return s >= StateStopped && s.Validate() == nil
}
