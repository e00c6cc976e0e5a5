package pubsub

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 256

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("bus is closed")

// PanicHandler is called when a subscription handler panics.
type PanicHandler func(pattern, topic string, recovered any, stack []byte)

// DropHandler is called when an event is dropped because a subscription mailbox is full.
type DropHandler func(pattern, topic string)

// Option configures a Bus.
type Option func(*busOptions)

type busOptions struct {
	bufferSize int
	onPanic    PanicHandler
	onDrop     DropHandler
}

// WithBufferSize sets the per-subscription mailbox capacity.
func WithBufferSize(size int) Option {
	return func(o *busOptions) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// WithPanicHandler reports recovered handler panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(o *busOptions) {
		o.onPanic = h
	}
}

// WithDropHandler reports events dropped for a full subscription mailbox.
func WithDropHandler(h DropHandler) Option {
	return func(o *busOptions) {
		o.onDrop = h
	}
}

// Bus is a topic based pub/sub router.
//
// Every subscription owns a buffered mailbox and a dispatcher goroutine, so
// handlers run independently of the publisher and of each other, and each
// handler sees events from a single publisher in publish order. A full mailbox
// drops the event for that subscription only and reports it to the DropHandler.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription[T]
	nextID uint64
	closed bool
	opts   busOptions

	dropped atomic.Int64
	panics  atomic.Int64
}

type subscription[T any] struct {
	id      uint64
	pattern string
	handler Handler[T]
	mailbox chan Event[T]
	done    chan struct{}

	// mu is held by the dispatcher while it invokes the handler.
	mu      sync.Mutex
	removed bool
}

// NewBus creates a bus. The default mailbox size is 256 events per subscription.
func NewBus[T any](opts ...Option) *Bus[T] {
	o := busOptions{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus[T]{
		subs: make(map[uint64]*subscription[T]),
		opts: o,
	}
}

// Subscribe registers handler for every topic matched by pattern.
func (b *Bus[T]) Subscribe(pattern string, handler Handler[T]) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return Subscription{}, err
	}
	if handler == nil {
		return Subscription{}, fmt.Errorf("nil handler for pattern %q", pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Subscription{}, ErrBusClosed
	}

	b.nextID++
	sub := &subscription[T]{
		id:      b.nextID,
		pattern: pattern,
		handler: handler,
		mailbox: make(chan Event[T], b.opts.bufferSize),
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub
	go b.dispatch(sub)

	return Subscription{id: sub.id, pattern: pattern}, nil
}

// Unsubscribe removes a subscription. It is idempotent. Events still queued for
// the subscription are discarded. Unsubscribe waits for an invocation already
// in progress, so once it returns the handler is never called again. A handler
// must not unsubscribe its own subscription synchronously.
func (b *Bus[T]) Unsubscribe(s Subscription) {
	b.mu.Lock()
	sub, ok := b.subs[s.id]
	if ok {
		delete(b.subs, s.id)
		close(sub.done)
	}
	b.mu.Unlock()

	if ok {
		sub.markRemoved()
	}
}

// Publish delivers event to every matching subscription without blocking.
// A zero Timestamp is set to the current time.
func (b *Bus[T]) Publish(event Event[T]) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !Match(sub.pattern, event.Topic) {
			continue
		}
		select {
		case sub.mailbox <- event:
		default:
			b.dropped.Add(1)
			if b.opts.onDrop != nil {
				b.opts.onDrop(sub.pattern, event.Topic)
			}
		}
	}
}

// Listen returns a channel receiving events matching pattern until ctx is
// cancelled, at which point the subscription is removed and the channel closed.
// Events are dropped when the channel buffer is full.
func (b *Bus[T]) Listen(ctx context.Context, pattern string) (<-chan Event[T], error) {
	l := &listener[T]{ch: make(chan Event[T], b.opts.bufferSize)}
	sub, err := b.Subscribe(pattern, l.forward)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		b.Unsubscribe(sub)
		l.close()
	}()
	return l.ch, nil
}

// Close stops all dispatchers and removes every subscription. Unlike
// Unsubscribe it does not wait for handlers in progress.
// Publish and Subscribe after Close are no-ops / errors respectively.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DroppedCount returns how many deliveries were dropped for full mailboxes.
func (b *Bus[T]) DroppedCount() int64 {
	return b.dropped.Load()
}

// PanicCount returns how many handler invocations panicked.
func (b *Bus[T]) PanicCount() int64 {
	return b.panics.Load()
}

func (b *Bus[T]) dispatch(sub *subscription[T]) {
	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.mailbox:
			if !b.deliver(sub, event) {
				return
			}
		}
	}
}

// deliver invokes the handler unless the subscription was removed. It reports
// whether the subscription is still live.
func (b *Bus[T]) deliver(sub *subscription[T], event Event[T]) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.removed {
		return false
	}
	select {
	case <-sub.done:
		return false
	default:
	}
	b.invoke(sub, event)
	return true
}

// markRemoved blocks until no invocation is in progress.
func (s *subscription[T]) markRemoved() {
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
}

func (b *Bus[T]) invoke(sub *subscription[T], event Event[T]) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			if b.opts.onPanic != nil {
				b.opts.onPanic(sub.pattern, event.Topic, r, debug.Stack())
			}
		}
	}()
	sub.handler(event)
}

// listener forwards events into a channel that is closed exactly once.
type listener[T any] struct {
	mu     sync.Mutex
	closed bool
	ch     chan Event[T]
}

func (l *listener[T]) forward(event Event[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.ch <- event:
	default:
	}
}

func (l *listener[T]) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}
