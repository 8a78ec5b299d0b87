package queue

import (
	"context"
	"sync"
)

// Dispatcher delivers job lifecycle events to listeners.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event, payload interface{}) error
	Subscribe(listener Listener)
}

// SyncDispatcher is a Dispatcher that calls listeners synchronously, in the
// order they subscribed. SyncDispatcher is safe for concurrent use.
type SyncDispatcher struct {
	registry map[Event][]Listener
	rwLock   sync.RWMutex
}

// Dispatch dispatches events synchronously. If any listener returns an error,
// abort the process immediately and return that error to caller.
func (d *SyncDispatcher) Dispatch(ctx context.Context, event Event, payload interface{}) error {
	d.rwLock.RLock()
	listeners := d.registry[event]
	d.rwLock.RUnlock()

	for _, listener := range listeners {
		if err := listener.Process(ctx, event, payload); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe subscribes the listener to the dispatcher.
func (d *SyncDispatcher) Subscribe(listener Listener) {
	d.rwLock.Lock()
	defer d.rwLock.Unlock()

	if d.registry == nil {
		d.registry = make(map[Event][]Listener)
	}
	for _, e := range listener.Listen() {
		d.registry[e] = append(d.registry[e], listener)
	}
}
