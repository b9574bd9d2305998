package xfuse

import (
	"context"
	"sync"
)

// Debouncer coalesces bursts of calls into at most one run of h per frame.
//
// The first call in a frame schedules h and records its argument; further
// calls before that frame are dropped. When the frame fires, h runs with the
// first call's argument. The pending flag clears before h runs, so a call
// made from within h (or any later call) schedules the following frame.
type Debouncer[T any] struct {
	frames FrameScheduler
	h      func(T)

	mu      sync.Mutex
	pending bool
	args    T
	gen     uint64
	cancel  func()
	stopped bool
}

// NewDebouncer wraps h. frames nil panics: a debouncer without a frame source
// would never run.
func NewDebouncer[T any](frames FrameScheduler, h func(T)) *Debouncer[T] {
	if frames == nil || h == nil {
		panic("xfuse: debouncer needs a frame scheduler and a handler")
	}
	return &Debouncer[T]{frames: frames, h: h}
}

// Call requests a run of h with v, unless one is already pending.
func (d *Debouncer[T]) Call(v T) {
	d.mu.Lock()
	if d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = true
	d.args = v
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	cancel := d.frames.RequestFrame(func() { d.fire(gen) })

	d.mu.Lock()
	if d.gen == gen && d.pending {
		d.cancel = cancel
	}
	d.mu.Unlock()
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if !d.pending || d.stopped || d.gen != gen {
		d.mu.Unlock()
		return
	}
	v := d.args
	var zero T
	d.args = zero
	d.pending = false
	d.cancel = nil
	d.mu.Unlock()

	d.h(v)
}

// Pending reports whether a run is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Cancel drops a scheduled run. Later calls schedule again.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	cancel := d.cancel
	d.pending = false
	d.cancel = nil
	var zero T
	d.args = zero
	d.gen++
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop drops a scheduled run and ignores every later call. Idempotent.
func (d *Debouncer[T]) Stop() {
	d.Cancel()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

// Debounce wraps h so that it runs at most once per frame of frames.
func Debounce[T any](frames FrameScheduler, h func(T)) func(T) {
	return NewDebouncer(frames, h).Call
}

// DebouncePublish returns a publisher for topic on ch that emits at most one
// envelope per frame, carrying the first payload offered in that frame.
func DebouncePublish(ch *Channel, frames FrameScheduler, topic, origin string) *Debouncer[map[string]any] {
	return NewDebouncer(frames, func(p map[string]any) {
		ch.Publish(context.Background(), topic, p, origin)
	})
}
