// Package correlation turns fire-and-forget bus events into awaitable calls.
//
// A caller registers a correlation ID before triggering a request, then waits
// for the first event on the completion topics carrying that ID. Each ID
// resolves at most once: duplicate deliveries are discarded, and IDs that
// already resolved are remembered for a TTL so a late duplicate cannot satisfy
// a second wait.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/conductor/internal/cachemanager"
	"github.com/zjrosen/conductor/internal/log"
	"github.com/zjrosen/conductor/internal/orchestration/events"
	"github.com/zjrosen/conductor/internal/orchestration/metrics"
	"github.com/zjrosen/conductor/internal/pubsub"
)

// DefaultResolvedTTL is how long resolved correlation IDs are remembered.
const DefaultResolvedTTL = 10 * time.Minute

var (
	// ErrTimeout is returned when no matching event arrives before the timeout.
	ErrTimeout = errors.New("timed out waiting for correlated event")
	// ErrAlreadyWaiting is returned when the correlation ID already has a pending waiter.
	ErrAlreadyWaiting = errors.New("correlation id already has a pending waiter")
	// ErrAlreadyResolved is returned when the correlation ID resolved recently.
	ErrAlreadyResolved = errors.New("correlation id already resolved")
	// ErrEmptyID is returned for an empty correlation ID.
	ErrEmptyID = errors.New("empty correlation id")
	// ErrInvalidTimeout is returned for a non-positive timeout.
	ErrInvalidTimeout = errors.New("timeout must be positive")
	// ErrReleased is returned when waiting on a registration that was already released.
	ErrReleased = errors.New("pending correlation already released")
)

// Option configures a Waiter.
type Option func(*Waiter)

// WithResolvedTTL sets how long resolved IDs are remembered.
func WithResolvedTTL(ttl time.Duration) Option {
	return func(w *Waiter) {
		if ttl > 0 {
			w.resolvedTTL = ttl
		}
	}
}

// WithMetrics records timeouts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Waiter) {
		w.metrics = m
	}
}

// Waiter matches correlated events to registered callers.
type Waiter struct {
	bus         pubsub.Subscriber[events.Payload]
	topics      []string
	resolvedTTL time.Duration
	metrics     *metrics.Metrics

	mu       sync.Mutex
	pending  map[string]*Pending
	resolved cachemanager.CacheManager[string, time.Time]
}

// NewWaiter creates a waiter that resolves on events published to topics.
func NewWaiter(bus pubsub.Subscriber[events.Payload], topics []string, opts ...Option) *Waiter {
	w := &Waiter{
		bus:         bus,
		topics:      append([]string(nil), topics...),
		resolvedTTL: DefaultResolvedTTL,
		pending:     make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.resolved = cachemanager.NewInMemoryCacheManager[string, time.Time]("resolved-correlations", w.resolvedTTL, w.resolvedTTL)
	return w
}

// Pending is one registered wait. It must be finished with Wait or Cancel.
type Pending struct {
	id     string
	w      *Waiter
	subs   []pubsub.Subscription
	result chan events.Event

	waited      atomic.Bool
	releaseOnce sync.Once
}

// ID returns the correlation ID.
func (p *Pending) ID() string {
	return p.id
}

// Register subscribes for correlationID. Call it before triggering the request
// so a fast response cannot be missed.
func (w *Waiter) Register(correlationID string) (*Pending, error) {
	if correlationID == "" {
		return nil, ErrEmptyID
	}

	p := &Pending{
		id:     correlationID,
		w:      w,
		result: make(chan events.Event, 1),
	}

	w.mu.Lock()
	if _, exists := w.pending[correlationID]; exists {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWaiting, correlationID)
	}
	if _, done := w.resolved.Get(context.Background(), correlationID); done {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, correlationID)
	}
	w.pending[correlationID] = p
	w.mu.Unlock()

	for _, topic := range w.topics {
		sub, err := w.bus.Subscribe(topic, p.deliver)
		if err != nil {
			p.release()
			return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		p.subs = append(p.subs, sub)
	}

	log.Debug(log.CatCorrelation, "registered", "correlation_id", correlationID, "topics", len(w.topics))
	return p, nil
}

// Wait registers correlationID and blocks until it resolves, times out or ctx is done.
func (w *Waiter) Wait(ctx context.Context, correlationID string, timeout time.Duration) (events.Event, error) {
	p, err := w.Register(correlationID)
	if err != nil {
		return events.Event{}, err
	}
	return p.Wait(ctx, timeout)
}

// Outstanding returns the number of registered, unreleased waits.
func (w *Waiter) Outstanding() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Resolved reports whether correlationID resolved within the TTL window.
func (w *Waiter) Resolved(correlationID string) bool {
	_, ok := w.resolved.Get(context.Background(), correlationID)
	return ok
}

// Wait blocks until the first matching event, the timeout, or ctx cancellation.
// The registration is released on every path.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (events.Event, error) {
	defer p.release()

	if !p.waited.CompareAndSwap(false, true) {
		return events.Event{}, ErrReleased
	}
	if timeout <= 0 {
		return events.Event{}, fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-p.result:
		if !ok {
			return events.Event{}, ErrReleased
		}
		return ev, nil
	case <-timer.C:
		p.w.metrics.CorrelationTimeout()
		log.Warn(log.CatCorrelation, "wait timed out", "correlation_id", p.id, "timeout", timeout)
		return events.Event{}, fmt.Errorf("%w: %s after %s", ErrTimeout, p.id, timeout)
	case <-ctx.Done():
		return events.Event{}, ctx.Err()
	}
}

// Cancel releases a registration that will not be waited on.
func (p *Pending) Cancel() {
	p.release()
}

// deliver runs on bus dispatcher goroutines, possibly concurrently for
// different completion topics. Only the first matching event is kept.
func (p *Pending) deliver(ev events.Event) {
	if ev.CorrelationID != p.id {
		return
	}
	if !p.w.resolved.Add(context.Background(), p.id, time.Now(), p.w.resolvedTTL) {
		log.Debug(log.CatCorrelation, "duplicate delivery discarded", "correlation_id", p.id, "topic", ev.Topic)
		return
	}
	select {
	case p.result <- ev:
	default:
	}
}

func (p *Pending) release() {
	p.releaseOnce.Do(func() {
		for _, sub := range p.subs {
			p.w.bus.Unsubscribe(sub)
		}
		p.w.mu.Lock()
		if current, ok := p.w.pending[p.id]; ok && current == p {
			delete(p.w.pending, p.id)
		}
		p.w.mu.Unlock()
	})
}
