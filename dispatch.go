package xfuse

import (
	"maps"
	"sync"
	"sync/atomic"
)

type listenerEntry struct {
	id    uint64
	topic string
	fn    Listener
}

// dispatcher is the ordered listener table shared by both transport variants.
// The slice is copy-on-write, so a dispatch iterates the snapshot taken when it
// started and registrations changed mid-dispatch only affect later dispatches.
type dispatcher struct {
	mu        sync.Mutex
	listeners []listenerEntry
	nextID    uint64
	released  atomic.Bool

	// onPanic is told about a listener that panicked; the dispatch goes on.
	onPanic func(env Envelope, r any)
}

func (d *dispatcher) listen(topic string, l Listener) (cancel func()) {
	if d.released.Load() {
		return func() {}
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	next := make([]listenerEntry, len(d.listeners), len(d.listeners)+1)
	copy(next, d.listeners)
	d.listeners = append(next, listenerEntry{id: id, topic: topic, fn: l})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(id) })
	}
}

func (d *dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.listeners {
		if e.id != id {
			continue
		}
		next := make([]listenerEntry, 0, len(d.listeners)-1)
		next = append(next, d.listeners[:i]...)
		d.listeners = append(next, d.listeners[i+1:]...)
		return
	}
}

func (d *dispatcher) snapshot() []listenerEntry {
	d.mu.Lock()
	s := d.listeners
	d.mu.Unlock()
	return s
}

// dispatch invokes every matching listener in registration order and returns
// how many were invoked. Each listener gets its own shallow copy of the payload.
func (d *dispatcher) dispatch(env Envelope) int {
	if d.released.Load() {
		return 0
	}
	n := 0
	for _, e := range d.snapshot() {
		if !env.Matches(e.topic) {
			continue
		}
		n++
		delivered := env
		delivered.Payload = maps.Clone(env.Payload)
		d.invoke(e.fn, delivered)
	}
	return n
}

func (d *dispatcher) invoke(fn Listener, env Envelope) {
	defer func() {
		if r := recover(); r != nil && d.onPanic != nil {
			d.onPanic(env, r)
		}
	}()
	fn(env)
}

func (d *dispatcher) size() int {
	return len(d.snapshot())
}

// release drops every registration; later listen calls are no-ops.
func (d *dispatcher) release() {
	d.released.Store(true)
	d.mu.Lock()
	d.listeners = nil
	d.mu.Unlock()
}
