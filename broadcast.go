package xfuse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// transportHooks lets the owning Channel count and log what a transport drops.
type transportHooks struct {
	onPanic     func(env Envelope, r any)
	onMalformed func(err error)
	onOversize  func(env Envelope, size int)
}

// BroadcastTransport delivers envelopes to same-context listeners and, through
// a Broadcaster, to every other context listening on the same channel name.
// Each instance is one context: frames it posted itself are not dispatched twice.
type BroadcastTransport struct {
	channel   string
	contextID string
	b         Broadcaster
	codec     Codec
	maxFrame  int
	hooks     transportHooks

	d        dispatcher
	stop     func()
	closed   atomic.Bool
	tearOnce sync.Once
	tearErr  error
}

var _ Transport = (*BroadcastTransport)(nil)

// BroadcastOptions tunes a BroadcastTransport. Zero values select defaults.
type BroadcastOptions struct {
	Codec Codec
	// ContextID identifies this context on the wire (default: random UUID).
	ContextID string
	// MaxFrameBytes is an advisory size; larger frames are still posted.
	MaxFrameBytes int

	hooks transportHooks
}

// NewBroadcastTransport starts receiving on channel through b. An error means
// the primitive is unusable and the caller should fall back to a LocalTransport.
func NewBroadcastTransport(channel string, b Broadcaster, opts BroadcastOptions) (*BroadcastTransport, error) {
	if channel == "" {
		return nil, ErrInvalidChannelName
	}
	if b == nil {
		return nil, errors.New("xfuse: broadcaster must not be nil")
	}
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.ContextID == "" {
		opts.ContextID = uuid.NewString()
	}

	t := &BroadcastTransport{
		channel:   channel,
		contextID: opts.ContextID,
		b:         b,
		codec:     opts.Codec,
		maxFrame:  opts.MaxFrameBytes,
		hooks:     opts.hooks,
	}
	t.d.onPanic = opts.hooks.onPanic
	// hooks are in place before the first frame can arrive
	stop, err := b.Receive(channel, t.receive)
	if err != nil {
		return nil, err
	}
	t.stop = stop
	return t, nil
}

func (t *BroadcastTransport) Kind() Kind { return KindBroadcast }

// ContextID returns the identity this transport stamps on outgoing frames.
func (t *BroadcastTransport) ContextID() string { return t.contextID }

// Broadcaster returns the underlying primitive.
func (t *BroadcastTransport) Broadcaster() Broadcaster { return t.b }

// Send dispatches env to same-context listeners, then posts it to the other
// contexts. Remote delivery is fire-and-forget.
func (t *BroadcastTransport) Send(ctx context.Context, env Envelope) error {
	if t.closed.Load() {
		return nil
	}
	t.d.dispatch(env)

	data, err := encodeFrame(t.codec, t.contextID, env)
	if err != nil {
		return err
	}
	if t.maxFrame > 0 && len(data) > t.maxFrame && t.hooks.onOversize != nil {
		t.hooks.onOversize(env, len(data))
	}
	return t.b.Post(ctx, t.channel, data)
}

func (t *BroadcastTransport) Listen(topic string, l Listener) func() {
	return t.d.listen(topic, l)
}

// receive runs on the broadcaster's delivery goroutine.
func (t *BroadcastTransport) receive(data []byte) {
	if t.closed.Load() {
		return
	}
	env, src, err := decodeFrame(t.codec, data)
	if err != nil {
		if t.hooks.onMalformed != nil {
			t.hooks.onMalformed(err)
		}
		return
	}
	if src == t.contextID || env.Channel != t.channel {
		return
	}
	t.d.dispatch(env)
}

// Teardown stops receiving and closes the primitive. Idempotent; the first
// call's error is returned by every call.
func (t *BroadcastTransport) Teardown(_ context.Context) error {
	t.tearOnce.Do(func() {
		t.closed.Store(true)
		if t.stop != nil {
			t.stop()
		}
		t.d.release()
		t.tearErr = t.b.Close()
	})
	return t.tearErr
}
