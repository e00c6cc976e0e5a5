package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/conductor/internal/orchestration/events"
	"github.com/zjrosen/conductor/internal/orchestration/retry"
)

var testCoords = StaticCoordinates{
	"A1": {ElementInput: {X: 10, Y: 10}, ElementCopy: {X: 10, Y: 20}, ElementProbe: {X: 10, Y: 30}},
	"A2": {ElementInput: {X: 50, Y: 10}, ElementCopy: {X: 50, Y: 20}, ElementProbe: {X: 50, Y: 30}},
}

// fakeUI is a scripted UIAutomation. Error slices are consumed one per call.
type fakeUI struct {
	mu sync.Mutex

	clipboard   string
	response    string
	copyLag     int
	pendingLag  int
	injectErrs  []error
	copyErrs    []error
	focus       []bool
	probeErr    error
	injectGate  chan struct{}
	injected    []string
	copies      int
	neutralKeys int
}

func (f *fakeUI) pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeUI) PerformInjection(ctx context.Context, _ Point, text string) error {
	f.mu.Lock()
	gate := f.injectGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pop(&f.injectErrs); err != nil {
		return err
	}
	f.injected = append(f.injected, text)
	return nil
}

func (f *fakeUI) PerformCopy(_ context.Context, _ Point) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	if err := f.pop(&f.copyErrs); err != nil {
		return "", err
	}
	if f.response == "" {
		return f.clipboard, nil
	}
	if f.copyLag > 0 {
		f.pendingLag = f.copyLag
		return f.clipboard, nil
	}
	f.clipboard = f.response
	return f.clipboard, nil
}

func (f *fakeUI) ReadClipboard(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingLag > 0 {
		f.pendingLag--
		if f.pendingLag == 0 {
			f.clipboard = f.response
		}
	}
	return f.clipboard, nil
}

func (f *fakeUI) CheckWindowFocused(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.focus) == 0 {
		return true, nil
	}
	v := f.focus[0]
	f.focus = f.focus[1:]
	return v, nil
}

func (f *fakeUI) ProbeClick(context.Context, Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

func (f *fakeUI) PressNeutralKey(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.neutralKeys++
	return nil
}

func (f *fakeUI) setResponse(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.response = text
}

// recorder collects every event published on the bus.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) byTopic(topic string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, topic string, n int) []events.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.byTopic(topic)) >= n }, time.Second, 2*time.Millisecond,
		"expected %d events on %s", n, topic)
	return r.byTopic(topic)
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Delay: time.Millisecond, Multiplier: 1}
}

type harness struct {
	bus  *events.Bus
	ui   *fakeUI
	orch *Orchestrator
	rec  *recorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	bus := events.NewBus(64, nil)
	t.Cleanup(bus.Close)

	rec := &recorder{}
	_, err := bus.Subscribe("*", rec.handle)
	require.NoError(t, err)

	ui := &fakeUI{clipboard: "previous clipboard"}
	opts = append([]Option{
		WithRetryPolicy(testPolicy()),
		WithClipboardPoll(2*time.Millisecond, 30*time.Millisecond),
	}, opts...)
	return &harness{bus: bus, ui: ui, orch: New(bus, ui, testCoords, opts...), rec: rec}
}

// awaiting drives agentID into awaiting_response with correlation ID cid.
func (h *harness) awaiting(t *testing.T, agentID, cid string) {
	t.Helper()
	require.NoError(t, h.orch.Inject(context.Background(), agentID, "prompt for "+cid, cid))
	require.Equal(t, events.StateAwaitingResponse, h.orch.State(agentID))
}
