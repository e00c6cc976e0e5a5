package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/conductor/internal/orchestration/window"
)

// Responder produces an editor's response to a prompt.
type Responder func(agentID, prompt string, seq int) string

// EchoResponder answers with the prompt and a sequence number.
func EchoResponder(agentID, prompt string, seq int) string {
	return fmt.Sprintf("[%s #%d] done: %s", agentID, seq, prompt)
}

// Editor is the simulated state of one agent's editor window.
type Editor struct {
	AgentID  string
	Prompt   string
	Response string
	ReadyAt  time.Time
	Hung     bool
	Prompts  int
}

// Automation is a simulated window.UIAutomation and window.ReadinessProbe.
// Function fields, when set, replace the simulated behavior of that call.
type Automation struct {
	InjectFunc func(ctx context.Context, p window.Point, text string) error
	CopyFunc   func(ctx context.Context, p window.Point) (string, error)
	FocusFunc  func(ctx context.Context, title string) (bool, error)
	ProbeFunc  func(ctx context.Context, p window.Point) error
	ReadyFunc  func(ctx context.Context, agentID string) (bool, error)

	mu        sync.Mutex
	byPoint   map[window.Point]pointRef
	editors   map[string]*Editor
	clipboard string
	latency   time.Duration
	responder Responder
	unfocused map[string]bool
	keyFixes  bool
	calls     map[string]int
	seq       int
	now       func() time.Time
}

type pointRef struct {
	agentID string
	element string
}

var (
	_ window.UIAutomation   = (*Automation)(nil)
	_ window.ReadinessProbe = (*Automation)(nil)
)

// NewAutomation creates editors for every agent in coords.
func NewAutomation(coords window.StaticCoordinates) *Automation {
	a := &Automation{
		byPoint:   make(map[window.Point]pointRef),
		editors:   make(map[string]*Editor),
		responder: EchoResponder,
		unfocused: make(map[string]bool),
		keyFixes:  true,
		calls:     make(map[string]int),
		now:       time.Now,
	}
	for agentID, elements := range coords {
		a.editors[agentID] = &Editor{AgentID: agentID}
		for element, p := range elements {
			a.byPoint[p] = pointRef{agentID: agentID, element: element}
		}
	}
	return a
}

// SetLatency sets how long an editor takes to respond to a prompt.
func (a *Automation) SetLatency(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latency = d
}

// SetResponder replaces the response generator.
func (a *Automation) SetResponder(r Responder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responder = r
}

// SetFocused sets whether the window titled title has focus.
func (a *Automation) SetFocused(title string, focused bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unfocused[title] = !focused
}

// SetNeutralKeyRecovers controls whether PressNeutralKey restores focus.
func (a *Automation) SetNeutralKeyRecovers(recovers bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keyFixes = recovers
}

// SetHung makes an agent's editor fail health probes and never become ready.
func (a *Automation) SetHung(agentID string, hung bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.editors[agentID]; ok {
		e.Hung = hung
	}
}

// SetClipboard replaces the clipboard contents.
func (a *Automation) SetClipboard(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clipboard = text
}

// Editor returns a copy of the agent's editor state.
func (a *Automation) Editor(agentID string) (Editor, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.editors[agentID]
	if !ok {
		return Editor{}, false
	}
	return *e, true
}

// Calls returns how many times the named method was called.
func (a *Automation) Calls(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[method]
}

func (a *Automation) record(method string) {
	a.mu.Lock()
	a.calls[method]++
	a.mu.Unlock()
}

// editorAt resolves the editor owning p. a.mu must be held.
func (a *Automation) editorAt(p window.Point, element string) (*Editor, error) {
	ref, ok := a.byPoint[p]
	if !ok || ref.element != element {
		return nil, fmt.Errorf("%w: nothing at %s", window.ErrClickFailed, p)
	}
	return a.editors[ref.agentID], nil
}

// PerformInjection submits text to the editor whose input is at p.
func (a *Automation) PerformInjection(ctx context.Context, p window.Point, text string) error {
	a.record("PerformInjection")
	if a.InjectFunc != nil {
		return a.InjectFunc(ctx, p, text)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorAt(p, window.ElementInput)
	if err != nil {
		return err
	}
	a.seq++
	e.Prompts++
	e.Prompt = text
	e.Response = a.responder(e.AgentID, text, a.seq)
	e.ReadyAt = a.now().Add(a.latency)
	return nil
}

// PerformCopy copies the ready response of the editor whose copy control is at
// p and returns the clipboard. Before the response is ready the clipboard is
// left unchanged.
func (a *Automation) PerformCopy(ctx context.Context, p window.Point) (string, error) {
	a.record("PerformCopy")
	if a.CopyFunc != nil {
		return a.CopyFunc(ctx, p)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorAt(p, window.ElementCopy)
	if err != nil {
		return "", err
	}
	if e.Response != "" && !e.Hung && !a.now().Before(e.ReadyAt) {
		a.clipboard = e.Response
	}
	return a.clipboard, nil
}

// ReadClipboard returns the clipboard.
func (a *Automation) ReadClipboard(ctx context.Context) (string, error) {
	a.record("ReadClipboard")
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clipboard, nil
}

// CheckWindowFocused reports whether title has focus. Windows are focused by default.
func (a *Automation) CheckWindowFocused(ctx context.Context, title string) (bool, error) {
	a.record("CheckWindowFocused")
	if a.FocusFunc != nil {
		return a.FocusFunc(ctx, title)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.unfocused[title], nil
}

// ProbeClick fails for hung editors.
func (a *Automation) ProbeClick(ctx context.Context, p window.Point) error {
	a.record("ProbeClick")
	if a.ProbeFunc != nil {
		return a.ProbeFunc(ctx, p)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.editorAt(p, window.ElementProbe)
	if err != nil {
		return err
	}
	if e.Hung {
		return fmt.Errorf("%w: %s not responding", window.ErrClickFailed, e.AgentID)
	}
	return nil
}

// PressNeutralKey restores focus to every window unless disabled.
func (a *Automation) PressNeutralKey(ctx context.Context) error {
	a.record("PressNeutralKey")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.keyFixes {
		clear(a.unfocused)
	}
	return nil
}

// ResponseReady reports whether the agent's editor has finished its response.
func (a *Automation) ResponseReady(ctx context.Context, agentID string) (bool, error) {
	a.record("ResponseReady")
	if a.ReadyFunc != nil {
		return a.ReadyFunc(ctx, agentID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.editors[agentID]
	if !ok {
		return false, fmt.Errorf("unknown agent %s", agentID)
	}
	return e.Response != "" && !e.Hung && !a.now().Before(e.ReadyAt), nil
}
