package events

// WindowState is the lifecycle phase of one agent's editor window.
type WindowState string

const (
	// StateUnknown is reported for agents the orchestrator has not seen yet.
	StateUnknown WindowState = "unknown"
	// StateIdle means the window is ready for a new prompt.
	StateIdle WindowState = "idle"
	// StateInjecting means a prompt is being typed and submitted.
	StateInjecting WindowState = "injecting"
	// StateAwaitingResponse means the prompt was submitted and the editor is working.
	StateAwaitingResponse WindowState = "awaiting_response"
	// StateCopying means the response is being copied out through the clipboard.
	StateCopying WindowState = "copying"
	// StateError means the last inject or retrieve failed after exhausting retries.
	StateError WindowState = "error"
	// StateUnresponsive means a health probe failed; the editor process itself may be stuck.
	StateUnresponsive WindowState = "unresponsive"
)

// AllWindowStates lists every state, in lifecycle order.
var AllWindowStates = []WindowState{
	StateUnknown,
	StateIdle,
	StateInjecting,
	StateAwaitingResponse,
	StateCopying,
	StateError,
	StateUnresponsive,
}

func (s WindowState) String() string {
	return string(s)
}

// CanInject reports whether an injection may start from this state.
func (s WindowState) CanInject() bool {
	switch s {
	case StateIdle, StateError, StateUnresponsive, StateUnknown:
		return true
	default:
		return false
	}
}

// IsBusy returns true while a UI action is in flight or a reply is pending.
func (s WindowState) IsBusy() bool {
	return s == StateInjecting || s == StateAwaitingResponse || s == StateCopying
}

// NeedsRecovery returns true for states a passing health check resets to idle.
func (s WindowState) NeedsRecovery() bool {
	return s == StateError || s == StateUnresponsive
}
