package queue

import (
	"context"
)

// Listener receives the events it listens to from a Dispatcher.
type Listener interface {
	// Listen returns the events the listener is interested in.
	Listen() []Event
	// Process is called with one of AfterSuccessPayload, BeforeRetryPayload or
	// BeforeAbortPayload.
	Process(ctx context.Context, event Event, payload interface{}) error
}

// Listen creates a functional listener in one line.
func Listen(events []Event, callback func(ctx context.Context, event Event, payload interface{}) error) ListenFunc {
	return ListenFunc{
		Events:   events,
		callback: callback,
	}
}

// ListenFunc is a listener implemented with a callback.
type ListenFunc struct {
	Events   []Event
	callback func(ctx context.Context, event Event, payload interface{}) error
}

// Listen implements Listener
func (f ListenFunc) Listen() []Event {
	return f.Events
}

// Process implements Listener
func (f ListenFunc) Process(ctx context.Context, event Event, payload interface{}) error {
	return f.callback(ctx, event, payload)
}
