package xfuse

import (
	"context"
	"sync/atomic"
)

// LocalTransport delivers envelopes to listeners registered on the same
// transport instance only. It is the fallback when no broadcaster is usable.
type LocalTransport struct {
	d      dispatcher
	closed atomic.Bool
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport returns a same-context transport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{}
}

func newLocalTransport(onPanic func(Envelope, any)) *LocalTransport {
	t := &LocalTransport{}
	t.d.onPanic = onPanic
	return t
}

func (t *LocalTransport) Kind() Kind { return KindLocal }

// Send dispatches env synchronously; every matching listener has run when it returns.
func (t *LocalTransport) Send(_ context.Context, env Envelope) error {
	if t.closed.Load() {
		return nil
	}
	t.d.dispatch(env)
	return nil
}

func (t *LocalTransport) Listen(topic string, l Listener) func() {
	return t.d.listen(topic, l)
}

// Teardown releases every listener. Idempotent.
func (t *LocalTransport) Teardown(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.d.release()
	return nil
}
