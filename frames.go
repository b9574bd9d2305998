package xfuse

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// DefaultFrameInterval is one frame at 60 Hz.
const DefaultFrameInterval = time.Second / 60

// FrameScheduler runs callbacks at the next frame boundary. cancel removes a
// callback that has not run yet and is idempotent.
type FrameScheduler interface {
	RequestFrame(fn func()) (cancel func())
}

// FrameOption configures a FrameTicker or ManualFrames.
type FrameOption func(*frameQueue)

// WithFrameLogger sets the logger that reports panicking frame callbacks
// (default: xlog.Default()).
func WithFrameLogger(l *xlog.Logger) FrameOption {
	return func(q *frameQueue) {
		if l != nil {
			q.logger = l
		}
	}
}

type frameRequest struct {
	fn        func()
	cancelled atomic.Bool
}

// frameQueue holds the callbacks waiting for the next frame.
type frameQueue struct {
	mu      sync.Mutex
	pending []*frameRequest
	stopped bool

	logger *xlog.Logger
	panics atomic.Uint64
}

func (q *frameQueue) configure(opts []FrameOption) {
	for _, o := range opts {
		if o != nil {
			o(q)
		}
	}
	if q.logger == nil {
		q.logger = xlog.Default()
	}
}

func (q *frameQueue) push(fn func()) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || fn == nil {
		return func() {}
	}
	r := &frameRequest{fn: fn}
	q.pending = append(q.pending, r)
	return func() { r.cancelled.Store(true) }
}

// take returns the callbacks due this frame; callbacks requested while they
// run land in the next frame.
func (q *frameQueue) take() []*frameRequest {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	return batch
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *frameQueue) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// stop drops pending callbacks; later requests are ignored.
func (q *frameQueue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.pending = nil
	q.mu.Unlock()
}

// run invokes r; a panic is counted and logged, and the frame goes on.
func (q *frameQueue) run(r *frameRequest) {
	if r.cancelled.Load() {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			q.panics.Add(1)
			q.logger.Warn().Str("panic", fmt.Sprint(v)).Msg("xfuse: frame callback panic (recovered)")
		}
	}()
	r.fn()
}

// FrameTicker is a FrameScheduler driven by a clock ticker. Callbacks run on
// the ticker goroutine, in request order, once per tick.
type FrameTicker struct {
	q        frameQueue
	clock    xclock.Clock
	interval time.Duration
	frames   atomic.Uint64
	inFrame  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

var _ FrameScheduler = (*FrameTicker)(nil)

// NewFrameTicker starts a ticker on clock (nil selects xclock.Default());
// interval <= 0 selects DefaultFrameInterval.
func NewFrameTicker(clock xclock.Clock, interval time.Duration, opts ...FrameOption) *FrameTicker {
	if clock == nil {
		clock = xclock.Default()
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	ft := &FrameTicker{
		clock:    clock,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	ft.q.configure(opts)
	go ft.loop()
	return ft
}

func (ft *FrameTicker) RequestFrame(fn func()) func() { return ft.q.push(fn) }

// Frames returns how many ticks have elapsed.
func (ft *FrameTicker) Frames() uint64 { return ft.frames.Load() }

// Panics returns how many frame callbacks panicked.
func (ft *FrameTicker) Panics() uint64 { return ft.q.panics.Load() }

// Stop halts the ticker. Pending callbacks never run, including the rest of
// a frame in progress. Idempotent. Stop waits for the ticker goroutine to exit
// unless a frame is running, so a frame callback may call it.
func (ft *FrameTicker) Stop() {
	ft.stopOnce.Do(func() {
		ft.q.stop()
		close(ft.stopCh)
		if !ft.inFrame.Load() {
			<-ft.doneCh
		}
	})
}

func (ft *FrameTicker) loop() {
	defer close(ft.doneCh)
	ticker := ft.clock.NewTicker(ft.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ft.stopCh:
			return
		case <-ticker.C():
			ft.frames.Add(1)
			ft.inFrame.Store(true)
			for _, r := range ft.q.take() {
				if ft.q.isStopped() {
					break
				}
				ft.q.run(r)
			}
			ft.inFrame.Store(false)
		}
	}
}

// ManualFrames is a FrameScheduler advanced explicitly with Flush. Useful in
// tests and in hosts that own their render loop.
type ManualFrames struct {
	q      frameQueue
	frames atomic.Uint64
}

var _ FrameScheduler = (*ManualFrames)(nil)

func NewManualFrames(opts ...FrameOption) *ManualFrames {
	m := &ManualFrames{}
	m.q.configure(opts)
	return m
}

func (m *ManualFrames) RequestFrame(fn func()) func() { return m.q.push(fn) }

// Flush ends the current frame: every callback requested before the call runs,
// in request order. It returns how many were due.
func (m *ManualFrames) Flush() int {
	m.frames.Add(1)
	batch := m.q.take()
	for _, r := range batch {
		m.q.run(r)
	}
	return len(batch)
}

// Pending returns the number of callbacks waiting for the next frame.
func (m *ManualFrames) Pending() int { return m.q.len() }

// Frames returns how many times Flush was called.
func (m *ManualFrames) Frames() uint64 { return m.frames.Load() }

// Panics returns how many frame callbacks panicked.
func (m *ManualFrames) Panics() uint64 { return m.q.panics.Load() }
