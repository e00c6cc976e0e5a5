// Package pool runs one worker loop per agent: claim a task, send its prompt
// to the agent's editor, wait for the correlated response and record the result.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/conductor/internal/log"
	"github.com/zjrosen/conductor/internal/orchestration/correlation"
	"github.com/zjrosen/conductor/internal/orchestration/events"
	"github.com/zjrosen/conductor/internal/orchestration/metrics"
	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
	"github.com/zjrosen/conductor/internal/orchestration/tracing"
	"github.com/zjrosen/conductor/internal/pubsub"
)

const (
	// DefaultPollInterval is how long an idle worker waits before claiming again.
	DefaultPollInterval = 2 * time.Second
	// DefaultResponseTimeout bounds one prompt/response exchange.
	DefaultResponseTimeout = 10 * time.Minute
)

// ErrNoAgents is returned by Run when the pool has no agents.
var ErrNoAgents = errors.New("worker pool has no agents")

// ErrResponseFailed wraps a retrieve failure reported by the orchestrator.
var ErrResponseFailed = errors.New("response retrieval failed")

// Board is the slice of the task coordinator a worker uses.
type Board interface {
	ClaimNext(ctx context.Context, agentID string, pred taskboard.Predicate) (taskboard.Task, bool, error)
	Complete(ctx context.Context, id, agentID, result string) error
	Fail(ctx context.Context, id, agentID, reason string) error
	Release(ctx context.Context, id, agentID string) error
}

// Windows is the slice of the window orchestrator a worker uses.
type Windows interface {
	Inject(ctx context.Context, agentID, prompt, correlationID string) error
	Fail(agentID, correlationID, reason string) error
}

// Registrar registers correlated waits on the retrieve outcome topics.
type Registrar interface {
	Register(correlationID string) (*correlation.Pending, error)
}

// Config holds configuration for the worker pool.
type Config struct {
	Agents          []string
	PollInterval    time.Duration
	ResponseTimeout time.Duration
	// Predicate filters which tasks workers claim. Nil claims anything.
	Predicate   taskboard.Predicate
	HistorySize int
}

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithPublisher publishes worker status changes on the bus.
func WithPublisher(p pubsub.Publisher[events.Payload]) Option {
	return func(wp *WorkerPool) {
		wp.bus = p
	}
}

// WithTracer sets the tracer used for exchange spans.
func WithTracer(t trace.Tracer) Option {
	return func(wp *WorkerPool) {
		wp.tracer = t
	}
}

// WithMetrics records exchange latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(wp *WorkerPool) {
		wp.metrics = m
	}
}

// WorkerPool drives every configured agent.
type WorkerPool struct {
	cfg     Config
	board   Board
	windows Windows
	waiter  Registrar
	bus     pubsub.Publisher[events.Payload]
	tracer  trace.Tracer
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	workers map[string]*Worker
}

// NewWorkerPool creates a pool. Zero durations fall back to the defaults.
func NewWorkerPool(cfg Config, board Board, windows Windows, waiter Registrar, opts ...Option) *WorkerPool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.Predicate == nil {
		cfg.Predicate = taskboard.Any
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	p := &WorkerPool{
		cfg:     cfg,
		board:   board,
		windows: windows,
		waiter:  waiter,
		now:     time.Now,
		workers: make(map[string]*Worker, len(cfg.Agents)),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, id := range cfg.Agents {
		p.workers[id] = newWorker(id, cfg.HistorySize)
	}
	return p
}

// Run runs one worker loop per agent until ctx is cancelled. A claimed task
// still in flight at shutdown is released back to the board.
func (p *WorkerPool) Run(ctx context.Context) error {
	if len(p.cfg.Agents) == 0 {
		return ErrNoAgents
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range p.cfg.Agents {
		w := p.worker(id)
		g.Go(func() error {
			return p.loop(gctx, w)
		})
	}
	log.Info(log.CatPool, "worker pool started", "agents", len(p.cfg.Agents))

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info(log.CatPool, "worker pool stopped")
	return err
}

func (p *WorkerPool) loop(ctx context.Context, w *Worker) error {
	defer func() {
		w.retire()
		p.publishStatus(w.agentID, WorkerRetired, "")
	}()
	p.publishStatus(w.agentID, WorkerReady, "")

	for {
		if ctx.Err() != nil {
			return nil
		}

		worked, err := p.Step(ctx, w.agentID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if taskboard.IsLoopSignal(err) {
				log.Debug(log.CatPool, "task moved on", "agent", w.agentID, "error", err)
			} else {
				log.ErrorErr(log.CatPool, "worker step failed", err, "agent", w.agentID)
			}
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// Step claims and processes at most one task for agentID. The boolean is
// false when no task was available.
func (p *WorkerPool) Step(ctx context.Context, agentID string) (bool, error) {
	w := p.worker(agentID)
	if w == nil {
		return false, fmt.Errorf("unknown agent %s", agentID)
	}

	task, ok, err := p.board.ClaimNext(ctx, agentID, p.cfg.Predicate)
	if err != nil || !ok {
		return false, err
	}

	w.startTask(task.ID, p.now())
	p.publishStatus(agentID, WorkerWorking, task.ID)
	log.Info(log.CatPool, "working task", "agent", agentID, "task_id", task.ID)

	response, xerr := p.Exchange(ctx, agentID, task.Payload)

	// The task is settled with a fresh context so shutdown does not strand it.
	settleCtx := context.WithoutCancel(ctx)
	outcome := Outcome{At: p.now()}
	switch {
	case xerr == nil:
		err = p.board.Complete(settleCtx, task.ID, agentID, response)
		outcome.Success = err == nil
		outcome.Summary = summarize(response)
	case ctx.Err() != nil:
		err = p.board.Release(settleCtx, task.ID, agentID)
		outcome.Summary = "released at shutdown"
		xerr = ctx.Err()
	default:
		err = p.board.Fail(settleCtx, task.ID, agentID, xerr.Error())
		outcome.Summary = xerr.Error()
	}
	if err != nil {
		outcome.Success = false
		xerr = errors.Join(xerr, err)
	}
	w.finishTask(outcome, xerr)
	p.publishStatus(agentID, WorkerReady, "")

	if xerr != nil {
		return true, fmt.Errorf("task %s: %w", task.ID, xerr)
	}
	return true, nil
}

// Exchange sends prompt to the agent and waits for the correlated response.
// On timeout the agent's pending request is abandoned so it can be reused.
func (p *WorkerPool) Exchange(ctx context.Context, agentID, prompt string) (response string, err error) {
	correlationID := uuid.NewString()
	ctx, span := tracing.Start(ctx, p.tracer, tracing.SpanPoolExchange,
		attribute.String(tracing.AttrAgentID, agentID),
		attribute.String(tracing.AttrCorrelationID, correlationID),
		attribute.Int(tracing.AttrPromptChars, len(prompt)),
	)
	defer func() { tracing.Finish(span, err) }()
	start := p.now()

	// Register before injecting so a fast response cannot be missed.
	pending, err := p.waiter.Register(correlationID)
	if err != nil {
		return "", fmt.Errorf("register %s: %w", correlationID, err)
	}

	if err := p.windows.Inject(ctx, agentID, prompt, correlationID); err != nil {
		pending.Cancel()
		return "", err
	}

	ev, err := pending.Wait(ctx, p.cfg.ResponseTimeout)
	if err != nil {
		if errors.Is(err, correlation.ErrTimeout) || ctx.Err() != nil {
			if ferr := p.windows.Fail(agentID, correlationID, err.Error()); ferr != nil {
				log.Debug(log.CatPool, "abandon after wait error", "agent", agentID, "error", ferr)
			}
		}
		return "", err
	}

	result, ok := ev.Payload.(events.RetrieveResult)
	if !ok {
		return "", fmt.Errorf("unexpected payload %T on %s", ev.Payload, ev.Topic)
	}
	if !result.Success {
		return "", fmt.Errorf("%w: %s", ErrResponseFailed, result.Message)
	}

	p.metrics.Exchange(p.now().Sub(start))
	span.SetAttributes(attribute.Int(tracing.AttrContentChars, len(result.Content)))
	return result.Content, nil
}

// Workers returns a snapshot of every worker, sorted by agent ID.
func (p *WorkerPool) Workers() []WorkerSnapshot {
	p.mu.RLock()
	out := make([]WorkerSnapshot, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.snapshot())
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (p *WorkerPool) worker(agentID string) *Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workers[agentID]
}

func (p *WorkerPool) publishStatus(agentID string, status WorkerStatus, taskID string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.New(events.TopicWorkerStatus, "",
		events.WorkerStatusChange{AgentID: agentID, Status: status, TaskID: taskID}))
}

const summaryLimit = 80

func summarize(s string) string {
	r := []rune(s)
	if len(r) <= summaryLimit {
		return s
	}
	return string(r[:summaryLimit-1]) + "…"
}
