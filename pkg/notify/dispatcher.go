// Package notify implements an explicit name -> handler-list registration
// dispatcher, shared by the Arena Client and Recorder Client for their
// semantic notifiers.
package notify

import "sync"

// Handler receives the data associated with a single notifier firing. data
// is nil for notifiers that carry no payload (pure lifecycle signals).
type Handler func(data any)

// Dispatcher holds, per notifier name, the ordered list of registered
// handlers. Fire invokes them in registration order on the calling
// goroutine, preserving the "single receive loop, no reordering" guarantee
// for whichever component owns the Dispatcher.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]Handler)}
}

// Subscribe registers handler to be called whenever notifier fires.
func (d *Dispatcher) Subscribe(notifier string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[notifier] = append(d.handlers[notifier], handler)
}

// Fire invokes every handler registered for notifier, in registration
// order, on the calling goroutine. A panicking handler is not recovered —
// handlers are expected to be cheap and non-throwing.
func (d *Dispatcher) Fire(notifier string, data any) {
	d.mu.Lock()
	handlers := make([]Handler, len(d.handlers[notifier]))
	copy(handlers, d.handlers[notifier])
	d.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}
