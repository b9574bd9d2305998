// Package binding attaches xfuse channels to component event sources.
//
// Concrete widgets (maps, charts, dropdowns) stay outside this module; they
// only need to expose their events as a Source. Every binding returns a single
// cleanup that detaches from both the source and the channel.
package binding

import (
	"context"
	"errors"
	"sync"

	"github.com/trickstertwo/xfuse"
)

var (
	ErrNilChannel = errors.New("binding: channel must not be nil")
	ErrNilSource  = errors.New("binding: source must not be nil")
	ErrNoTopic    = errors.New("binding: topic must not be empty")
)

// Source is a component event stream. On registers fn and returns a function
// that removes it.
type Source[T any] interface {
	On(fn func(T)) (off func())
}

// SourceFunc adapts a plain registration function to Source.
type SourceFunc[T any] func(fn func(T)) (off func())

func (f SourceFunc[T]) On(fn func(T)) func() { return f(fn) }

// Spec describes what a bound component publishes.
type Spec struct {
	Topic  string
	Origin string
	// Frames, when set, coalesces source events to one publish per frame.
	Frames xfuse.FrameScheduler
}

// Emit publishes build(ev) on ch for every event of src.
func Emit[T any](ch *xfuse.Channel, src Source[T], spec Spec, build func(T) map[string]any) (cleanup func(), err error) {
	if ch == nil {
		return nil, ErrNilChannel
	}
	if src == nil {
		return nil, ErrNilSource
	}
	if spec.Topic == "" {
		return nil, ErrNoTopic
	}
	if build == nil {
		build = func(T) map[string]any { return nil }
	}

	publish := func(ev T) {
		ch.Publish(context.Background(), spec.Topic, build(ev), spec.Origin)
	}

	var d *xfuse.Debouncer[T]
	if spec.Frames != nil {
		d = xfuse.NewDebouncer(spec.Frames, publish)
		publish = d.Call
	}

	off := src.On(publish)

	var once sync.Once
	return func() {
		once.Do(func() {
			if off != nil {
				off()
			}
			if d != nil {
				d.Stop()
			}
		})
	}, nil
}

// Follow applies envelopes for topic published on ch by anyone except origin,
// the bound component itself.
func Follow(ch *xfuse.Channel, topic, origin string, apply func(ctx context.Context, env xfuse.Envelope)) (cleanup func(), err error) {
	if ch == nil {
		return nil, ErrNilChannel
	}
	if topic == "" {
		return nil, ErrNoTopic
	}
	if apply == nil {
		return nil, xfuse.ErrInvalidSubscription
	}
	h := xfuse.Chain(apply, xfuse.IgnoreOrigin(origin))
	return ch.Subscribe(topic, h)
}

// Sync binds a component both ways: its events are published on topic and
// envelopes from other components on the same topic are applied to it.
func Sync[T any](ch *xfuse.Channel, src Source[T], spec Spec, build func(T) map[string]any, apply func(ctx context.Context, env xfuse.Envelope)) (cleanup func(), err error) {
	stopEmit, err := Emit(ch, src, spec, build)
	if err != nil {
		return nil, err
	}
	stopFollow, err := Follow(ch, spec.Topic, spec.Origin, apply)
	if err != nil {
		stopEmit()
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			stopEmit()
			stopFollow()
		})
	}, nil
}
