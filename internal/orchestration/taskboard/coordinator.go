package taskboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/conductor/internal/log"
	"github.com/zjrosen/conductor/internal/orchestration/metrics"
	"github.com/zjrosen/conductor/internal/orchestration/tracing"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTracer enables spans around claims and transitions.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// WithMetrics records claim outcomes and transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator owns the in-memory board. All mutations happen under one mutex
// and are persisted before they become visible.
type Coordinator struct {
	store   TaskStore
	tracer  trace.Tracer
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	tasks   map[string]*Task
	order   []*Task
	nextSeq int64
}

// NewCoordinator loads the board from store.
func NewCoordinator(ctx context.Context, store TaskStore, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store: store,
		now:   time.Now,
		tasks: make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := c.Sync(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// insertLocked adds t to the index and keeps claim order. c.mu must be held.
func (c *Coordinator) insertLocked(t Task) {
	task := &t
	c.tasks[t.ID] = task
	i := sort.Search(len(c.order), func(i int) bool { return claimOrder(task, c.order[i]) })
	c.order = append(c.order, nil)
	copy(c.order[i+1:], c.order[i:])
	c.order[i] = task
	if t.Seq >= c.nextSeq {
		c.nextSeq = t.Seq + 1
	}
}

// Add puts a new ready task on the board. An empty ID is generated.
func (c *Coordinator) Add(ctx context.Context, t Task) (Task, error) {
	if strings.TrimSpace(t.Payload) == "" {
		return Task{}, fmt.Errorf("%w: empty payload", ErrInvalidTask)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tasks[t.ID]; ok {
		return Task{}, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}

	now := c.now()
	t.Status = StatusReady
	t.Owner = ""
	t.Result = ""
	t.Reason = ""
	t.Seq = c.nextSeq
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := c.store.Insert(ctx, t); err != nil {
		return Task{}, fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	c.insertLocked(t)
	log.Info(log.CatTasks, "task added", "task_id", t.ID, "priority", t.Priority)
	return t, nil
}

// ClaimNext claims the first ready task matching pred, scanning by priority
// and then insertion order. The boolean is false when no task is available.
func (c *Coordinator) ClaimNext(ctx context.Context, agentID string, pred Predicate) (claimed Task, ok bool, err error) {
	ctx, span := tracing.Start(ctx, c.tracer, tracing.SpanTaskClaim, attribute.String(tracing.AttrAgentID, agentID))
	defer func() {
		span.SetAttributes(attribute.Bool(tracing.AttrClaimed, ok))
		if ok {
			span.SetAttributes(attribute.String(tracing.AttrTaskID, claimed.ID))
		}
		tracing.Finish(span, err)
	}()

	if pred == nil {
		pred = Any
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.order {
		if t.Status != StatusReady || !pred(*t) {
			continue
		}

		next := *t
		next.Status = StatusClaimed
		next.Owner = agentID
		next.UpdatedAt = c.now()

		if err := c.store.Transition(ctx, t.ID, StatusReady, next); err != nil {
			if errors.Is(err, ErrStaleTask) {
				// Another process claimed it; the next Sync picks up its owner.
				c.metrics.TaskClaim(metrics.OutcomeConflict)
				log.Debug(log.CatTasks, "claim lost to another process", "task_id", t.ID, "agent", agentID)
				continue
			}
			c.metrics.TaskClaim(metrics.OutcomeFailure)
			return Task{}, false, fmt.Errorf("claim %s: %w", t.ID, err)
		}

		*t = next
		c.metrics.TaskClaim(metrics.OutcomeClaimed)
		c.metrics.TaskTransition(StatusClaimed.String())
		tracing.AddEvent(ctx, tracing.EventTaskClaimed, attribute.Int(tracing.AttrTaskPriority, t.Priority))
		log.Info(log.CatTasks, "task claimed", "task_id", t.ID, "agent", agentID, "priority", t.Priority)
		return next, true, nil
	}

	c.metrics.TaskClaim(metrics.OutcomeEmpty)
	return Task{}, false, nil
}

// Complete marks a task claimed by agentID as completed.
func (c *Coordinator) Complete(ctx context.Context, id, agentID, result string) error {
	return c.finish(ctx, tracing.SpanTaskComplete, id, agentID, func(t *Task) {
		t.Status = StatusCompleted
		t.Result = result
	})
}

// Fail marks a task claimed by agentID as failed.
func (c *Coordinator) Fail(ctx context.Context, id, agentID, reason string) error {
	return c.finish(ctx, tracing.SpanTaskFail, id, agentID, func(t *Task) {
		t.Status = StatusFailed
		t.Reason = reason
	})
}

// Release returns a task claimed by agentID to the ready pool.
func (c *Coordinator) Release(ctx context.Context, id, agentID string) error {
	return c.finish(ctx, "", id, agentID, func(t *Task) {
		t.Status = StatusReady
		t.Owner = ""
	})
}

// finish moves a claimed task on behalf of its owner. The in-memory task only
// changes once the store accepts the transition.
func (c *Coordinator) finish(ctx context.Context, spanName, id, agentID string, apply func(*Task)) (err error) {
	if spanName != "" {
		var span trace.Span
		ctx, span = tracing.Start(ctx, c.tracer, spanName,
			attribute.String(tracing.AttrTaskID, id),
			attribute.String(tracing.AttrAgentID, agentID),
		)
		defer func() { tracing.Finish(span, err) }()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != StatusClaimed {
		return fmt.Errorf("%w: %s is %s", ErrNotClaimed, id, t.Status)
	}
	if t.Owner != agentID {
		c.metrics.TaskClaim(metrics.OutcomeConflict)
		log.Debug(log.CatTasks, "ownership conflict", "task_id", id, "owner", t.Owner, "caller", agentID)
		return &OwnershipError{TaskID: id, Owner: t.Owner, Caller: agentID}
	}

	next := *t
	apply(&next)
	next.UpdatedAt = c.now()
	if err := c.store.Transition(ctx, id, StatusClaimed, next); err != nil {
		return fmt.Errorf("persist %s -> %s: %w", id, next.Status, err)
	}

	*t = next
	c.metrics.TaskTransition(next.Status.String())
	log.Info(log.CatTasks, "task transitioned", "task_id", id, "agent", agentID, "status", next.Status)
	return nil
}

// Get returns a copy of the task.
func (c *Coordinator) Get(id string) (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns every task in claim order.
func (c *Coordinator) List() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Task, len(c.order))
	for i, t := range c.order {
		out[i] = *t
	}
	return out
}

// Counts returns the number of tasks per status.
func (c *Coordinator) Counts() map[Status]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Status]int, len(AllStatuses))
	for _, t := range c.order {
		out[t.Status]++
	}
	return out
}

// Sync reloads the store. New tasks are added to the board and tasks another
// process moved are refreshed. It returns the number of new tasks.
//
// The load happens under c.mu so the snapshot can never predate a claim or
// transition this coordinator has already applied in memory.
func (c *Coordinator) Sync(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tasks: %w", err)
	}

	added := 0
	for _, t := range stored {
		if cur, ok := c.tasks[t.ID]; ok {
			*cur = t
			continue
		}
		c.insertLocked(t)
		added++
	}
	if added > 0 {
		log.Info(log.CatTasks, "tasks synced", "added", added, "total", len(c.order))
	}
	return added, nil
}

// Seed adds tasks whose IDs are not on the board yet and returns how many were added.
func (c *Coordinator) Seed(ctx context.Context, tasks []Task) (int, error) {
	added := 0
	for _, t := range tasks {
		if t.ID != "" {
			if _, ok := c.Get(t.ID); ok {
				continue
			}
		}
		if _, err := c.Add(ctx, t); err != nil {
			if errors.Is(err, ErrDuplicateTask) {
				continue
			}
			return added, err
		}
		added++
	}
	return added, nil
}
