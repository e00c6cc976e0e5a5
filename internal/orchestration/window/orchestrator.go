// Package window owns the per-agent editor window state machine.
//
// Each agent moves through idle, injecting, awaiting_response and copying as a
// prompt is typed into its editor and the response is copied back out through
// the clipboard. The agent's mutex is held only to check and change state; the
// slow UI work runs outside it so a concurrent caller gets ErrBusy at once
// instead of queueing behind an injection.
package window

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/conductor/internal/log"
	"github.com/zjrosen/conductor/internal/orchestration/events"
	"github.com/zjrosen/conductor/internal/orchestration/metrics"
	"github.com/zjrosen/conductor/internal/orchestration/retry"
	"github.com/zjrosen/conductor/internal/orchestration/tracing"
	"github.com/zjrosen/conductor/internal/pubsub"
)

// Operation names used for retry policies, metrics and logs.
const (
	OpInject   = "inject"
	OpRetrieve = "retrieve"
	OpHealth   = "health"
)

const (
	defaultClipboardPollInterval = 100 * time.Millisecond
	defaultClipboardPollTimeout  = 3 * time.Second
)

// Bus is the part of the event bus the orchestrator uses.
type Bus interface {
	pubsub.Publisher[events.Payload]
	pubsub.Subscriber[events.Payload]
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetryPolicy sets the policy for UI actions. IsRetryable defaults to IsTransient.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithClipboardPoll sets how often and how long the clipboard is polled after a copy click.
func WithClipboardPoll(interval, timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.pollInterval = interval
		}
		if timeout > 0 {
			o.pollTimeout = timeout
		}
	}
}

// WithWindowTitles sets the window title per agent used for focus checks.
// Agents without a title skip the check.
func WithWindowTitles(titles map[string]string) Option {
	return func(o *Orchestrator) {
		for id, title := range titles {
			o.titles[id] = title
		}
	}
}

// WithTracer enables spans around window operations.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithMetrics records operation outcomes and the state gauge.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator drives the inject, await and retrieve protocol for every agent.
type Orchestrator struct {
	bus    Bus
	ui     UIAutomation
	coords CoordinateStore

	policy       retry.Policy
	pollInterval time.Duration
	pollTimeout  time.Duration
	titles       map[string]string
	tracer       trace.Tracer
	metrics      *metrics.Metrics

	mu      sync.Mutex
	windows map[string]*agentWindow

	// clipboard is held from snapshot to result by one copy at a time; the
	// clipboard is shared by every agent.
	clipboard chan struct{}

	runMu    sync.Mutex
	cancel   context.CancelFunc
	stopping bool
	inflight sync.WaitGroup
}

type agentWindow struct {
	mu            sync.Mutex
	id            string
	state         events.WindowState
	correlationID string
	since         time.Time
}

// New creates an orchestrator. Agents start in the unknown state.
func New(bus Bus, ui UIAutomation, coords CoordinateStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		bus:          bus,
		ui:           ui,
		coords:       coords,
		policy:       retry.DefaultPolicy(),
		pollInterval: defaultClipboardPollInterval,
		pollTimeout:  defaultClipboardPollTimeout,
		titles:       make(map[string]string),
		windows:      make(map[string]*agentWindow),
		clipboard:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.policy.IsRetryable == nil {
		o.policy.IsRetryable = IsTransient
	}
	observer := o.policy.Observer
	o.policy.Observer = func(a retry.Attempt) {
		o.metrics.Retry(a.Operation)
		if observer != nil {
			observer(a)
		}
	}
	return o
}

func (o *Orchestrator) window(agentID string) *agentWindow {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.windows[agentID]
	if !ok {
		w = &agentWindow{id: agentID, state: events.StateUnknown, since: time.Now()}
		o.windows[agentID] = w
	}
	return w
}

func (o *Orchestrator) lookup(agentID string) (*agentWindow, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.windows[agentID]
	return w, ok
}

// owns reports whether correlationID is the request w is working on. w.mu must be held.
func (w *agentWindow) owns(correlationID string) bool {
	return correlationID != "" && correlationID == w.correlationID
}

// transitionLocked moves w to state. w.mu must be held.
func (w *agentWindow) transitionLocked(to events.WindowState) (events.StateChange, error) {
	from := w.state
	if err := checkTransition(from, to); err != nil {
		return events.StateChange{}, err
	}
	w.state = to
	w.since = time.Now()
	return events.StateChange{AgentID: w.id, From: from, To: to}, nil
}

// settle finishes an operation started from expected. It reports an invalid
// transition when the state was changed underneath the operation.
func (o *Orchestrator) settle(w *agentWindow, expected, to events.WindowState, correlationID string) error {
	w.mu.Lock()
	if w.state != expected {
		state := w.state
		w.mu.Unlock()
		log.Error(log.CatWindow, "state changed during operation",
			"agent", w.id, "expected", expected, "actual", state, "target", to)
		return fmt.Errorf("%w: %s -> %s (expected %s)", ErrInvalidTransition, state, to, expected)
	}
	change, err := w.transitionLocked(to)
	if err == nil {
		w.correlationID = correlationID
	}
	w.mu.Unlock()

	if err != nil {
		return err
	}
	o.publishState(change)
	return nil
}

func (o *Orchestrator) publishState(change events.StateChange) {
	o.metrics.WindowState(change.AgentID, change.To.String())
	log.Debug(log.CatWindow, "state changed", "agent", change.AgentID, "from", change.From, "to", change.To)
	o.bus.Publish(events.New(events.TopicWindowState, "", change))
}

func (o *Orchestrator) point(agentID, element string) (Point, error) {
	p, ok := o.coords.Lookup(agentID, element)
	if !ok {
		return Point{}, fmt.Errorf("%w: agent %s element %q", ErrUnknownElement, agentID, element)
	}
	return p, nil
}

// Inject types prompt into the agent's editor and submits it. It returns after
// the inject outcome event has been published; it does not wait for the reply.
func (o *Orchestrator) Inject(ctx context.Context, agentID, prompt, correlationID string) (err error) {
	ctx, span := tracing.Start(ctx, o.tracer, tracing.SpanWindowInject,
		attribute.String(tracing.AttrAgentID, agentID),
		attribute.String(tracing.AttrCorrelationID, correlationID),
		attribute.Int(tracing.AttrPromptChars, len(prompt)),
	)
	defer func() { tracing.Finish(span, err) }()
	start := time.Now()

	w := o.window(agentID)
	w.mu.Lock()
	if !w.state.CanInject() {
		state, owned := w.state, w.owns(correlationID)
		w.mu.Unlock()
		o.metrics.WindowOp(OpInject, metrics.OutcomeBusy, 0)
		err := &StateError{AgentID: agentID, Op: OpInject, State: state, Err: ErrBusy}
		if !owned {
			o.bus.Publish(events.New(events.TopicInjectFailure, correlationID,
				events.InjectResult{AgentID: agentID, Message: err.Error()}))
		}
		return err
	}
	change, err := w.transitionLocked(events.StateInjecting)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.correlationID = correlationID
	w.mu.Unlock()
	o.publishState(change)

	log.Info(log.CatWindow, "injecting prompt", "agent", agentID, "correlation_id", correlationID, "chars", len(prompt))

	input, err := o.point(agentID, ElementInput)
	if err == nil {
		err = retry.Do(ctx, o.policy.WithName(OpInject), func(ctx context.Context) error {
			if err := o.ensureFocus(ctx, agentID); err != nil {
				return err
			}
			return o.ui.PerformInjection(ctx, input, prompt)
		})
	}

	if err != nil {
		if settleErr := o.settle(w, events.StateInjecting, events.StateError, ""); settleErr != nil {
			err = errors.Join(err, settleErr)
		}
		o.metrics.WindowOp(OpInject, metrics.OutcomeFailure, time.Since(start))
		log.ErrorErr(log.CatWindow, "inject failed", err, "agent", agentID, "correlation_id", correlationID)
		o.bus.Publish(events.New(events.TopicInjectFailure, correlationID,
			events.InjectResult{AgentID: agentID, Message: err.Error()}))
		return fmt.Errorf("inject %s: %w", agentID, err)
	}

	if err := o.settle(w, events.StateInjecting, events.StateAwaitingResponse, correlationID); err != nil {
		o.bus.Publish(events.New(events.TopicInjectFailure, correlationID,
			events.InjectResult{AgentID: agentID, Message: err.Error()}))
		return err
	}
	o.metrics.WindowOp(OpInject, metrics.OutcomeSuccess, time.Since(start))
	o.bus.Publish(events.New(events.TopicInjectSuccess, correlationID,
		events.InjectResult{AgentID: agentID, Success: true}))
	return nil
}

// Retrieve copies the agent's response out through the clipboard. An empty
// correlationID accepts whatever request the agent is awaiting.
func (o *Orchestrator) Retrieve(ctx context.Context, agentID, correlationID string) (content string, err error) {
	ctx, span := tracing.Start(ctx, o.tracer, tracing.SpanWindowRetrieve,
		attribute.String(tracing.AttrAgentID, agentID),
		attribute.String(tracing.AttrCorrelationID, correlationID),
	)
	defer func() { tracing.Finish(span, err) }()
	start := time.Now()

	w := o.window(agentID)
	w.mu.Lock()
	if w.state != events.StateAwaitingResponse {
		state, owned := w.state, w.owns(correlationID)
		w.mu.Unlock()
		err := &StateError{AgentID: agentID, Op: OpRetrieve, State: state, Err: ErrNotAwaiting}
		o.rejectRetrieve(agentID, correlationID, owned, err)
		return "", err
	}
	if correlationID != "" && correlationID != w.correlationID {
		pending := w.correlationID
		w.mu.Unlock()
		err := &StateError{AgentID: agentID, Op: OpRetrieve, State: events.StateAwaitingResponse,
			Err: fmt.Errorf("%w: got %s, awaiting %s", ErrCorrelationMismatch, correlationID, pending)}
		o.rejectRetrieve(agentID, correlationID, false, err)
		return "", err
	}
	correlationID = w.correlationID
	change, err := w.transitionLocked(events.StateCopying)
	w.mu.Unlock()
	if err != nil {
		return "", err
	}
	o.publishState(change)

	copyAt, err := o.point(agentID, ElementCopy)
	if err == nil {
		content, err = retry.Run(ctx, o.policy.WithName(OpRetrieve), func(ctx context.Context) (string, error) {
			return o.copyOnce(ctx, agentID, copyAt)
		})
	}

	if err != nil {
		if settleErr := o.settle(w, events.StateCopying, events.StateError, ""); settleErr != nil {
			err = errors.Join(err, settleErr)
		}
		o.metrics.WindowOp(OpRetrieve, metrics.OutcomeFailure, time.Since(start))
		log.ErrorErr(log.CatWindow, "retrieve failed", err, "agent", agentID, "correlation_id", correlationID)
		o.bus.Publish(events.New(events.TopicRetrieveFailure, correlationID,
			events.RetrieveResult{AgentID: agentID, Message: err.Error()}))
		return "", fmt.Errorf("retrieve %s: %w", agentID, err)
	}

	if err := o.settle(w, events.StateCopying, events.StateIdle, ""); err != nil {
		o.bus.Publish(events.New(events.TopicRetrieveFailure, correlationID,
			events.RetrieveResult{AgentID: agentID, Message: err.Error()}))
		return "", err
	}
	span.SetAttributes(attribute.Int(tracing.AttrContentChars, len(content)))
	o.metrics.WindowOp(OpRetrieve, metrics.OutcomeSuccess, time.Since(start))
	log.Info(log.CatWindow, "response retrieved", "agent", agentID, "correlation_id", correlationID, "chars", len(content))
	o.bus.Publish(events.New(events.TopicRetrieveSuccess, correlationID,
		events.RetrieveResult{AgentID: agentID, Success: true, Content: content}))
	return content, nil
}

// rejectRetrieve publishes a failure for a retrieve refused by its
// precondition. Requests without a correlation ID, or for the request the
// agent is already working on, publish nothing: the operation in progress
// reports the outcome for that ID.
func (o *Orchestrator) rejectRetrieve(agentID, correlationID string, owned bool, err error) {
	if correlationID == "" || owned {
		log.Debug(log.CatWindow, "retrieve rejected", "agent", agentID, "error", err)
		return
	}
	o.bus.Publish(events.New(events.TopicRetrieveFailure, correlationID,
		events.RetrieveResult{AgentID: agentID, Message: err.Error()}))
}

// copyOnce clicks copy and waits for the clipboard to differ from its
// pre-click snapshot. An unchanged clipboard is never taken as a fresh result.
// Only one copy runs at a time, so another agent's copy cannot be mistaken
// for this agent's response.
func (o *Orchestrator) copyOnce(ctx context.Context, agentID string, at Point) (string, error) {
	select {
	case o.clipboard <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-o.clipboard }()

	if err := o.ensureFocus(ctx, agentID); err != nil {
		return "", err
	}
	before, err := o.ui.ReadClipboard(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot clipboard: %w", err)
	}
	text, err := o.ui.PerformCopy(ctx, at)
	if err != nil {
		return "", err
	}
	if text != before {
		tracing.AddEvent(ctx, tracing.EventClipboardChanged)
		return text, nil
	}
	return o.pollClipboard(ctx, before)
}

func (o *Orchestrator) pollClipboard(ctx context.Context, before string) (string, error) {
	pollCtx, cancel := context.WithTimeout(ctx, o.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w after %s", ErrClipboardUnchanged, o.pollTimeout)
		case <-ticker.C:
			text, err := o.ui.ReadClipboard(pollCtx)
			if err != nil {
				if pollCtx.Err() != nil {
					continue
				}
				return "", fmt.Errorf("read clipboard: %w", err)
			}
			if text != before {
				tracing.AddEvent(ctx, tracing.EventClipboardChanged)
				return text, nil
			}
		}
	}
}

// ensureFocus verifies the agent's window has focus, pressing a neutral key
// once to recover before giving up.
func (o *Orchestrator) ensureFocus(ctx context.Context, agentID string) error {
	title, ok := o.titles[agentID]
	if !ok {
		return nil
	}
	focused, err := o.ui.CheckWindowFocused(ctx, title)
	if err != nil {
		return fmt.Errorf("check focus: %w", err)
	}
	if focused {
		return nil
	}

	log.Warn(log.CatWindow, "window lost focus, attempting recovery", "agent", agentID, "title", title)
	if err := o.ui.PressNeutralKey(ctx); err != nil {
		return fmt.Errorf("%w: %s: recovery key press: %v", ErrFocusLost, title, err)
	}
	focused, err = o.ui.CheckWindowFocused(ctx, title)
	if err != nil {
		return fmt.Errorf("check focus: %w", err)
	}
	if !focused {
		return fmt.Errorf("%w: %s", ErrFocusLost, title)
	}
	tracing.AddEvent(ctx, tracing.EventFocusRecovered)
	return nil
}

// CheckHealth probes the agent's window. A pass resets error and unresponsive
// agents to idle; a failure marks the agent unresponsive. Agents with a UI
// action in flight are reported healthy without probing.
func (o *Orchestrator) CheckHealth(ctx context.Context, agentID string) (healthy bool) {
	var probeErr error
	ctx, span := tracing.Start(ctx, o.tracer, tracing.SpanWindowHealth,
		attribute.String(tracing.AttrAgentID, agentID),
	)
	defer func() { tracing.Finish(span, probeErr) }()
	start := time.Now()

	w := o.window(agentID)
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()
	if state == events.StateInjecting || state == events.StateCopying {
		log.Debug(log.CatWindow, "skipping health probe during ui action", "agent", agentID, "state", state)
		return true
	}

	probeAt, err := o.point(agentID, ElementProbe)
	if err == nil {
		err = o.ui.ProbeClick(ctx, probeAt)
	}

	if err == nil {
		w.mu.Lock()
		var change events.StateChange
		var changed bool
		if w.state.NeedsRecovery() {
			change, err = w.transitionLocked(events.StateIdle)
			changed = err == nil
			w.correlationID = ""
		}
		w.mu.Unlock()
		if changed {
			o.publishState(change)
			log.Info(log.CatWindow, "agent recovered", "agent", agentID, "from", change.From)
		}
		o.metrics.WindowOp(OpHealth, metrics.OutcomeSuccess, time.Since(start))
		o.bus.Publish(events.New(events.TopicWindowHealth, "", events.HealthResult{AgentID: agentID, Healthy: true}))
		return true
	}

	probeErr = fmt.Errorf("%w: %w", ErrUnresponsive, err)
	o.metrics.WindowOp(OpHealth, metrics.OutcomeFailure, time.Since(start))
	log.Warn(log.CatWindow, "health probe failed", "agent", agentID, "error", err)

	w.mu.Lock()
	var change events.StateChange
	var changed bool
	var abandoned string
	if w.state != events.StateUnresponsive && canTransition(w.state, events.StateUnresponsive) {
		if w.state == events.StateAwaitingResponse {
			abandoned = w.correlationID
		}
		change, _ = w.transitionLocked(events.StateUnresponsive)
		changed = true
		w.correlationID = ""
	}
	w.mu.Unlock()

	result := events.HealthResult{AgentID: agentID, Message: err.Error()}
	if changed {
		o.publishState(change)
	}
	o.bus.Publish(events.New(events.TopicWindowUnresponsive, "", result))
	o.bus.Publish(events.New(events.TopicWindowHealth, "", result))
	if abandoned != "" {
		o.bus.Publish(events.New(events.TopicRetrieveFailure, abandoned,
			events.RetrieveResult{AgentID: agentID, Message: probeErr.Error()}))
	}
	return false
}

// Fail abandons the request an agent is awaiting, moving it to error and
// publishing a retrieve failure so no waiter is left hanging.
func (o *Orchestrator) Fail(agentID, correlationID, reason string) error {
	w, ok := o.lookup(agentID)
	if !ok {
		return &StateError{AgentID: agentID, Op: "fail", State: events.StateUnknown, Err: ErrNotAwaiting}
	}

	w.mu.Lock()
	if w.state != events.StateAwaitingResponse {
		state := w.state
		w.mu.Unlock()
		return &StateError{AgentID: agentID, Op: "fail", State: state, Err: ErrNotAwaiting}
	}
	if correlationID != "" && correlationID != w.correlationID {
		pending := w.correlationID
		w.mu.Unlock()
		return &StateError{AgentID: agentID, Op: "fail", State: events.StateAwaitingResponse,
			Err: fmt.Errorf("%w: got %s, awaiting %s", ErrCorrelationMismatch, correlationID, pending)}
	}
	correlationID = w.correlationID
	change, err := w.transitionLocked(events.StateError)
	w.correlationID = ""
	w.mu.Unlock()
	if err != nil {
		return err
	}

	o.publishState(change)
	o.metrics.WindowOp(OpRetrieve, metrics.OutcomeTimeout, 0)
	log.Warn(log.CatWindow, "awaited response abandoned", "agent", agentID, "correlation_id", correlationID, "reason", reason)
	o.bus.Publish(events.New(events.TopicRetrieveFailure, correlationID,
		events.RetrieveResult{AgentID: agentID, Message: reason}))
	return nil
}

// State returns the agent's current state, or unknown for agents never seen.
func (o *Orchestrator) State(agentID string) events.WindowState {
	w, ok := o.lookup(agentID)
	if !ok {
		return events.StateUnknown
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Snapshot returns every known agent's state.
func (o *Orchestrator) Snapshot() map[string]events.WindowState {
	o.mu.Lock()
	windows := make([]*agentWindow, 0, len(o.windows))
	for _, w := range o.windows {
		windows = append(windows, w)
	}
	o.mu.Unlock()

	out := make(map[string]events.WindowState, len(windows))
	for _, w := range windows {
		w.mu.Lock()
		out[w.id] = w.state
		w.mu.Unlock()
	}
	return out
}

// AwaitingCorrelation returns the correlation ID the agent is awaiting.
func (o *Orchestrator) AwaitingCorrelation(agentID string) (string, bool) {
	w, ok := o.lookup(agentID)
	if !ok {
		return "", false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != events.StateAwaitingResponse {
		return "", false
	}
	return w.correlationID, true
}

// Awaiting describes an agent waiting for its editor to respond.
type Awaiting struct {
	AgentID       string
	CorrelationID string
	Since         time.Time
}

// AwaitingAgents lists agents in awaiting_response, sorted by agent ID.
func (o *Orchestrator) AwaitingAgents() []Awaiting {
	o.mu.Lock()
	windows := make([]*agentWindow, 0, len(o.windows))
	for _, w := range o.windows {
		windows = append(windows, w)
	}
	o.mu.Unlock()

	var out []Awaiting
	for _, w := range windows {
		w.mu.Lock()
		if w.state == events.StateAwaitingResponse {
			out = append(out, Awaiting{AgentID: w.id, CorrelationID: w.correlationID, Since: w.since})
		}
		w.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Start handles inject and retrieve requests published on the bus until ctx
// is cancelled or Stop is called. Each request runs on its own goroutine.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.runMu.Lock()
	o.cancel = cancel
	o.stopping = false
	o.runMu.Unlock()
	defer cancel()

	injectSub, err := o.bus.Subscribe(events.TopicInjectRequest, func(ev events.Event) {
		req, ok := ev.Payload.(events.InjectRequest)
		if !ok {
			return
		}
		o.spawn(ctx, func(ctx context.Context) {
			if err := o.Inject(ctx, req.AgentID, req.Prompt, ev.CorrelationID); err != nil {
				log.Debug(log.CatWindow, "inject request failed", "agent", req.AgentID, "error", err)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("subscribe inject requests: %w", err)
	}

	retrieveSub, err := o.bus.Subscribe(events.TopicRetrieveRequest, func(ev events.Event) {
		req, ok := ev.Payload.(events.RetrieveRequest)
		if !ok {
			return
		}
		o.spawn(ctx, func(ctx context.Context) {
			if _, err := o.Retrieve(ctx, req.AgentID, ev.CorrelationID); err != nil {
				log.Debug(log.CatWindow, "retrieve request failed", "agent", req.AgentID, "error", err)
			}
		})
	})
	if err != nil {
		o.bus.Unsubscribe(injectSub)
		return fmt.Errorf("subscribe retrieve requests: %w", err)
	}

	log.Info(log.CatWindow, "orchestrator started")
	<-ctx.Done()

	o.bus.Unsubscribe(injectSub)
	o.bus.Unsubscribe(retrieveSub)
	o.runMu.Lock()
	o.stopping = true
	o.runMu.Unlock()
	o.inflight.Wait()
	log.Info(log.CatWindow, "orchestrator stopped")
	return nil
}

// Stop ends a running Start.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) spawn(ctx context.Context, fn func(context.Context)) {
	o.runMu.Lock()
	if o.stopping || ctx.Err() != nil {
		o.runMu.Unlock()
		return
	}
	o.inflight.Add(1)
	o.runMu.Unlock()
	go func() {
		defer o.inflight.Done()
		fn(ctx)
	}()
}
