package xfuse

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xclock"
)

func TestDebouncer_BurstRunsOncePerFrame(t *testing.T) {
	frames := NewManualFrames()
	var runs []int
	d := NewDebouncer(frames, func(v int) { runs = append(runs, v) })

	for i := 1; i <= 10; i++ {
		d.Call(i)
	}
	assert.True(t, d.Pending())
	assert.Equal(t, 1, frames.Pending())
	assert.Empty(t, runs, "nothing runs before the frame")

	assert.Equal(t, 1, frames.Flush())
	assert.Equal(t, []int{1}, runs, "first call's argument wins")
	assert.False(t, d.Pending())

	d.Call(11)
	d.Call(12)
	frames.Flush()
	assert.Equal(t, []int{1, 11}, runs)
}

func TestDebouncer_EmptyFrameDoesNothing(t *testing.T) {
	frames := NewManualFrames()
	var runs int
	d := NewDebouncer(frames, func(struct{}) { runs++ })

	assert.Equal(t, 0, frames.Flush())
	d.Call(struct{}{})
	frames.Flush()
	frames.Flush()
	assert.Equal(t, 1, runs)
}

func TestDebouncer_CancelAndStop(t *testing.T) {
	frames := NewManualFrames()
	var runs []string
	d := NewDebouncer(frames, func(v string) { runs = append(runs, v) })

	d.Call("a")
	d.Cancel()
	assert.False(t, d.Pending())
	frames.Flush()
	assert.Empty(t, runs)

	d.Call("b")
	frames.Flush()
	assert.Equal(t, []string{"b"}, runs)

	d.Call("c")
	d.Stop()
	d.Stop()
	d.Call("d")
	frames.Flush()
	frames.Flush()
	assert.Equal(t, []string{"b"}, runs)
}

func TestDebouncer_CallFromHandlerSchedulesNextFrame(t *testing.T) {
	frames := NewManualFrames()
	var runs []int
	var d *Debouncer[int]
	d = NewDebouncer(frames, func(v int) {
		runs = append(runs, v)
		if v < 3 {
			d.Call(v + 1)
		}
	})

	d.Call(1)
	frames.Flush()
	assert.Equal(t, []int{1}, runs)
	assert.True(t, d.Pending())

	frames.Flush()
	frames.Flush()
	assert.Equal(t, []int{1, 2, 3}, runs)
	assert.False(t, d.Pending())
}

func TestDebouncer_PanicInHandlerDoesNotWedgeIt(t *testing.T) {
	frames := NewManualFrames()
	var calls int
	d := NewDebouncer(frames, func(int) {
		calls++
		panic("boom")
	})

	d.Call(1)
	assert.NotPanics(t, func() { frames.Flush() })
	d.Call(2)
	frames.Flush()
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(2), frames.Panics())
}

func TestNewDebouncer_PanicsWithoutScheduler(t *testing.T) {
	assert.Panics(t, func() { NewDebouncer[int](nil, func(int) {}) })
	assert.Panics(t, func() { NewDebouncer[int](NewManualFrames(), nil) })
}

func TestDebounce_FuncForm(t *testing.T) {
	frames := NewManualFrames()
	var got []string
	f := Debounce(frames, func(s string) { got = append(got, s) })
	f("x")
	f("y")
	frames.Flush()
	assert.Equal(t, []string{"x"}, got)
}

func TestDebouncePublish_OneEnvelopePerFrame(t *testing.T) {
	ch := newLocalChannel(t, "bus")
	var rec recorder
	_, err := ch.Subscribe("map/moved", rec.Handle)
	require.NoError(t, err)

	frames := NewManualFrames()
	pub := DebouncePublish(ch, frames, "map/moved", "map")
	for i := 0; i < 50; i++ {
		pub.Call(map[string]any{"step": i})
	}
	assert.Equal(t, 0, rec.Len())

	frames.Flush()
	envs := rec.All()
	require.Len(t, envs, 1)
	assert.Equal(t, 0, envs[0].Payload["step"])
	assert.Equal(t, "map", envs[0].Origin)
}

func TestManualFrames_RequestDuringFlushWaitsForNextFrame(t *testing.T) {
	frames := NewManualFrames()
	var order []string
	frames.RequestFrame(func() {
		order = append(order, "first")
		frames.RequestFrame(func() { order = append(order, "nested") })
	})
	frames.RequestFrame(func() { order = append(order, "second") })

	assert.Equal(t, 2, frames.Flush())
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, frames.Pending())

	frames.Flush()
	assert.Equal(t, []string{"first", "second", "nested"}, order)
	assert.Equal(t, uint64(2), frames.Frames())
}

func TestManualFrames_CancelledRequestDoesNotRun(t *testing.T) {
	frames := NewManualFrames()
	ran := false
	cancel := frames.RequestFrame(func() { ran = true })
	cancel()
	cancel()
	frames.Flush()
	assert.False(t, ran)
}

func TestFrameTicker_RunsRequestedCallbacks(t *testing.T) {
	ft := NewFrameTicker(nil, 5*time.Millisecond)
	defer ft.Stop()

	var runs atomic.Int32
	d := NewDebouncer(ft, func(int) { runs.Add(1) })
	for i := 0; i < 100; i++ {
		d.Call(i)
	}

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, d.Pending())
	assert.Positive(t, ft.Frames())
}

func TestFrameTicker_StopDropsPending(t *testing.T) {
	ft := NewFrameTicker(nil, time.Hour)
	var ran atomic.Bool
	ft.RequestFrame(func() { ran.Store(true) })
	ft.Stop()
	ft.Stop()

	ft.RequestFrame(func() { ran.Store(true) })
	assert.False(t, ran.Load())
}

func TestDebouncePublish_WithFrameTicker(t *testing.T) {
	ch := newLocalChannel(t, "bus")
	var got atomic.Int32
	_, err := ch.Subscribe("t", func(context.Context, Envelope) { got.Add(1) })
	require.NoError(t, err)

	ft := NewFrameTicker(xclock.Default(), 10*time.Millisecond)
	defer ft.Stop()
	pub := DebouncePublish(ch, ft, "t", "slider")
	pub.Call(map[string]any{"v": 1})
	pub.Call(map[string]any{"v": 2})

	require.Eventually(t, func() bool { return got.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestFrameTicker_StopFromFrameCallback(t *testing.T) {
	ft := NewFrameTicker(nil, 5*time.Millisecond)

	stopped := make(chan struct{})
	var later atomic.Bool
	ft.RequestFrame(func() {
		ft.Stop()
		close(stopped)
	})
	ft.RequestFrame(func() { later.Store(true) })

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from a frame callback did not return")
	}
	assert.NotPanics(t, ft.Stop)
	assert.False(t, later.Load(), "rest of the frame is dropped after Stop")
}

func TestFrameTicker_PanickingCallbackIsCounted(t *testing.T) {
	ft := NewFrameTicker(nil, 5*time.Millisecond)
	defer ft.Stop()

	var after atomic.Bool
	ft.RequestFrame(func() { panic("frame") })
	ft.RequestFrame(func() { after.Store(true) })

	require.Eventually(t, after.Load, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), ft.Panics())
}
