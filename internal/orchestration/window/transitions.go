package window

import (
	"fmt"
	"slices"

	"github.com/zjrosen/conductor/internal/orchestration/events"
)

// transitions lists the legal target states for each state.
var transitions = map[events.WindowState][]events.WindowState{
	events.StateUnknown:          {events.StateInjecting, events.StateUnresponsive},
	events.StateIdle:             {events.StateInjecting, events.StateUnresponsive},
	events.StateInjecting:        {events.StateAwaitingResponse, events.StateError},
	events.StateAwaitingResponse: {events.StateCopying, events.StateError, events.StateUnresponsive},
	events.StateCopying:          {events.StateIdle, events.StateError},
	events.StateError:            {events.StateInjecting, events.StateIdle, events.StateUnresponsive},
	events.StateUnresponsive:     {events.StateInjecting, events.StateIdle},
}

func canTransition(from, to events.WindowState) bool {
	return slices.Contains(transitions[from], to)
}

func checkTransition(from, to events.WindowState) error {
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
