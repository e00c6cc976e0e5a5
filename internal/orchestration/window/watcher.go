package window

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/conductor/internal/log"
	"github.com/zjrosen/conductor/internal/orchestration/events"
	"github.com/zjrosen/conductor/internal/pubsub"
)

// WatcherConfig configures a ReadinessWatcher.
type WatcherConfig struct {
	// PollInterval is how often awaiting agents are probed.
	PollInterval time.Duration
	// ResponseTimeout bounds how long an agent may await a response.
	ResponseTimeout time.Duration
	// HealthInterval is how often error and unresponsive agents are health checked.
	// Zero disables the sweep.
	HealthInterval time.Duration
}

// DefaultWatcherConfig returns the watcher defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		PollInterval:    time.Second,
		ResponseTimeout: 5 * time.Minute,
		HealthInterval:  30 * time.Second,
	}
}

// ReadinessWatcher turns editor readiness into retrieve requests.
//
// It polls agents awaiting a response and publishes one retrieve request per
// correlation ID once the probe reports the response ready. Agents that wait
// longer than ResponseTimeout are failed through the orchestrator.
type ReadinessWatcher struct {
	orch  *Orchestrator
	probe ReadinessProbe
	bus   pubsub.Publisher[events.Payload]
	cfg   WatcherConfig

	requested map[string]struct{}
	now       func() time.Time
}

// NewReadinessWatcher creates a watcher. Zero config values take defaults.
func NewReadinessWatcher(orch *Orchestrator, probe ReadinessProbe, bus pubsub.Publisher[events.Payload], cfg WatcherConfig) *ReadinessWatcher {
	def := DefaultWatcherConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	return &ReadinessWatcher{
		orch:      orch,
		probe:     probe,
		bus:       bus,
		cfg:       cfg,
		requested: make(map[string]struct{}),
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled.
func (w *ReadinessWatcher) Run(ctx context.Context) error {
	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()

	var healthC <-chan time.Time
	if w.cfg.HealthInterval > 0 {
		health := time.NewTicker(w.cfg.HealthInterval)
		defer health.Stop()
		healthC = health.C
	}

	log.Info(log.CatWindow, "readiness watcher started",
		"poll_interval", w.cfg.PollInterval,
		"response_timeout", w.cfg.ResponseTimeout,
		"health_interval", w.cfg.HealthInterval,
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			w.Poll(ctx)
		case <-healthC:
			w.Sweep(ctx)
		}
	}
}

// Poll runs one readiness pass over awaiting agents.
func (w *ReadinessWatcher) Poll(ctx context.Context) {
	awaiting := w.orch.AwaitingAgents()

	live := make(map[string]struct{}, len(awaiting))
	for _, a := range awaiting {
		live[a.CorrelationID] = struct{}{}
	}
	for cid := range w.requested {
		if _, ok := live[cid]; !ok {
			delete(w.requested, cid)
		}
	}

	for _, a := range awaiting {
		if ctx.Err() != nil {
			return
		}
		// A request that was published but never serviced still times out.
		if waited := w.now().Sub(a.Since); waited > w.cfg.ResponseTimeout {
			reason := fmt.Sprintf("%v: waited %s", ErrResponseTimeout, waited.Round(time.Millisecond))
			if err := w.orch.Fail(a.AgentID, a.CorrelationID, reason); err != nil {
				log.Debug(log.CatWindow, "timeout fail skipped", "agent", a.AgentID, "error", err)
			}
			continue
		}
		if _, done := w.requested[a.CorrelationID]; done {
			continue
		}

		ready, err := w.probe.ResponseReady(ctx, a.AgentID)
		if err != nil {
			log.Warn(log.CatWindow, "readiness probe failed", "agent", a.AgentID, "error", err)
			continue
		}
		if !ready {
			continue
		}

		w.requested[a.CorrelationID] = struct{}{}
		log.Debug(log.CatWindow, "response ready", "agent", a.AgentID, "correlation_id", a.CorrelationID)
		w.bus.Publish(events.New(events.TopicRetrieveRequest, a.CorrelationID, events.RetrieveRequest{AgentID: a.AgentID}))
	}
}

// Sweep health checks every agent in error or unresponsive.
func (w *ReadinessWatcher) Sweep(ctx context.Context) {
	for agentID, state := range w.orch.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		if state.NeedsRecovery() {
			w.orch.CheckHealth(ctx, agentID)
		}
	}
}
