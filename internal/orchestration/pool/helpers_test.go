package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/conductor/internal/orchestration/correlation"
	"github.com/zjrosen/conductor/internal/orchestration/events"
	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
	"github.com/zjrosen/conductor/internal/testutil"
)

// scriptedWindows answers every injection on the bus, the way the
// orchestrator and readiness watcher do together.
type scriptedWindows struct {
	bus *events.Bus

	mu        sync.Mutex
	injectErr error
	silent    bool
	failWith  string
	prompts   []string
	abandoned []string
}

func (s *scriptedWindows) Inject(_ context.Context, agentID, prompt, correlationID string) error {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	injectErr, silent, failWith := s.injectErr, s.silent, s.failWith
	s.mu.Unlock()

	if injectErr != nil {
		return injectErr
	}
	if silent {
		return nil
	}
	if failWith != "" {
		s.bus.Publish(events.New(events.TopicRetrieveFailure, correlationID,
			events.RetrieveResult{AgentID: agentID, Message: failWith}))
		return nil
	}
	s.bus.Publish(events.New(events.TopicRetrieveSuccess, correlationID,
		events.RetrieveResult{AgentID: agentID, Success: true, Content: "re: " + prompt}))
	return nil
}

func (s *scriptedWindows) Fail(_ string, correlationID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = append(s.abandoned, correlationID)
	return nil
}

func (s *scriptedWindows) abandonedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.abandoned)
}

// statusRecorder collects worker status events.
type statusRecorder struct {
	mu      sync.Mutex
	changes []events.WorkerStatusChange
}

func (r *statusRecorder) handle(ev events.Event) {
	if c, ok := ev.Payload.(events.WorkerStatusChange); ok {
		r.mu.Lock()
		r.changes = append(r.changes, c)
		r.mu.Unlock()
	}
}

func (r *statusRecorder) statuses(agentID string) []events.WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.WorkerStatus
	for _, c := range r.changes {
		if c.AgentID == agentID {
			out = append(out, c.Status)
		}
	}
	return out
}

type harness struct {
	bus     *events.Bus
	windows *scriptedWindows
	waiter  *correlation.Waiter
	board   *taskboard.Coordinator
	store   *taskboard.MemoryStore
	status  *statusRecorder
}

func newHarness(t *testing.T, build func(*testutil.Builder)) *harness {
	t.Helper()
	bus := events.NewBus(64, nil)
	t.Cleanup(bus.Close)

	status := &statusRecorder{}
	_, err := bus.Subscribe(events.PatternPool, status.handle)
	require.NoError(t, err)

	store := taskboard.NewMemoryStore()
	b := testutil.NewBuilder(t, store)
	if build != nil {
		build(b)
	}
	return &harness{
		bus:     bus,
		windows: &scriptedWindows{bus: bus},
		waiter:  correlation.NewWaiter(bus, events.RetrieveOutcomeTopics),
		board:   b.Coordinator(),
		store:   store,
		status:  status,
	}
}

func (h *harness) pool(cfg Config) *WorkerPool {
	if len(cfg.Agents) == 0 {
		cfg.Agents = []string{"A1"}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = time.Second
	}
	return NewWorkerPool(cfg, h.board, h.windows, h.waiter, WithPublisher(h.bus))
}

var errInjectBoom = errors.New("boom")
