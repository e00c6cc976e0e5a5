package pubsub

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// ListenCmd creates a Bubble Tea command that listens for events on a channel.
// Returns the event as a tea.Msg when received.
// Returns nil if the context is cancelled or the channel is closed.
func ListenCmd[T any](ctx context.Context, ch <-chan Event[T]) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			return event
		}
	}
}

// ContinuousListener keeps a bus subscription open for the Bubble Tea update loop.
type ContinuousListener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// NewContinuousListener subscribes to pattern on bus until ctx is cancelled.
func NewContinuousListener[T any](ctx context.Context, bus *Bus[T], pattern string) (*ContinuousListener[T], error) {
	ch, err := bus.Listen(ctx, pattern)
	if err != nil {
		return nil, err
	}
	return &ContinuousListener[T]{ctx: ctx, ch: ch}, nil
}

// Listen returns a tea.Cmd that waits for the next event.
// Call it again from Update after handling an event to keep receiving.
func (l *ContinuousListener[T]) Listen() tea.Cmd {
	return ListenCmd(l.ctx, l.ch)
}
