package events

import "fmt"

// Payload is implemented by every event payload published on the coordination bus.
type Payload interface {
	// Agent returns the agent the payload concerns.
	Agent() string
	isPayload()
}

// InjectRequest asks the orchestrator to type Prompt into the agent's window.
type InjectRequest struct {
	AgentID string
	Prompt  string
}

// InjectResult reports the terminal outcome of an injection.
type InjectResult struct {
	AgentID string
	Success bool
	Message string
}

// RetrieveRequest asks the orchestrator to copy the agent's response out.
type RetrieveRequest struct {
	AgentID string
}

// RetrieveResult reports the terminal outcome of a retrieval.
// Content holds the clipboard text on success.
type RetrieveResult struct {
	AgentID string
	Success bool
	Content string
	Message string
}

// HealthResult reports a health probe of an agent's window.
type HealthResult struct {
	AgentID string
	Healthy bool
	Message string
}

// StateChange reports a window state transition.
type StateChange struct {
	AgentID string
	From    WindowState
	To      WindowState
}

// WorkerStatusChange reports a worker loop status change.
type WorkerStatusChange struct {
	AgentID string
	Status  WorkerStatus
	TaskID  string
}

func (p InjectRequest) Agent() string      { return p.AgentID }
func (p InjectResult) Agent() string       { return p.AgentID }
func (p RetrieveRequest) Agent() string    { return p.AgentID }
func (p RetrieveResult) Agent() string     { return p.AgentID }
func (p HealthResult) Agent() string       { return p.AgentID }
func (p StateChange) Agent() string        { return p.AgentID }
func (p WorkerStatusChange) Agent() string { return p.AgentID }

func (InjectRequest) isPayload()      {}
func (InjectResult) isPayload()       {}
func (RetrieveRequest) isPayload()    {}
func (RetrieveResult) isPayload()     {}
func (HealthResult) isPayload()       {}
func (StateChange) isPayload()        {}
func (WorkerStatusChange) isPayload() {}

// Describe renders a one-line summary of a payload for logs and the monitor.
func Describe(p Payload) string {
	switch v := p.(type) {
	case InjectRequest:
		return fmt.Sprintf("inject requested (%d chars)", len(v.Prompt))
	case InjectResult:
		if v.Success {
			return "prompt submitted"
		}
		return "inject failed: " + v.Message
	case RetrieveRequest:
		return "response ready"
	case RetrieveResult:
		if v.Success {
			return fmt.Sprintf("response copied (%d chars)", len(v.Content))
		}
		return "retrieve failed: " + v.Message
	case HealthResult:
		if v.Healthy {
			return "healthy"
		}
		return "unresponsive: " + v.Message
	case StateChange:
		return fmt.Sprintf("%s -> %s", v.From, v.To)
	case WorkerStatusChange:
		if v.TaskID != "" {
			return fmt.Sprintf("worker %s (%s)", v.Status, v.TaskID)
		}
		return "worker " + v.Status.String()
	default:
		return fmt.Sprintf("%T", p)
	}
}
