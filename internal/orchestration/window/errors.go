package window

import (
	"errors"
	"fmt"

	"github.com/zjrosen/conductor/internal/orchestration/events"
)

// Precondition errors. They are returned without changing state and are never retried.
var (
	ErrBusy                = errors.New("agent window is busy")
	ErrNotAwaiting         = errors.New("agent is not awaiting a response")
	ErrCorrelationMismatch = errors.New("correlation id does not match the pending request")
	ErrUnknownElement      = errors.New("no coordinates configured")
	ErrInvalidTransition   = errors.New("invalid window state transition")
)

// Transient UI errors. UIAutomation implementations return these (wrapped) so
// the orchestrator retries them.
var (
	ErrFocusLost          = errors.New("editor window does not have focus")
	ErrClipboardUnchanged = errors.New("clipboard did not change")
	ErrClickFailed        = errors.New("click failed")
)

// Terminal errors.
var (
	ErrUnresponsive    = errors.New("agent window is unresponsive")
	ErrResponseTimeout = errors.New("timed out waiting for agent response")
)

// IsTransient reports whether err is a UI error worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrFocusLost) ||
		errors.Is(err, ErrClipboardUnchanged) ||
		errors.Is(err, ErrClickFailed)
}

// StateError is a precondition failure carrying the state that rejected the call.
type StateError struct {
	AgentID string
	Op      string
	State   events.WindowState
	Err     error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s: %v (state %s)", e.Op, e.AgentID, e.Err, e.State)
}

func (e *StateError) Unwrap() error {
	return e.Err
}
