package xfuse

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeBroadcaster is an in-test primitive: Post records frames and Inject
// simulates a frame arriving from another context.
type fakeBroadcaster struct {
	mu         sync.Mutex
	receiveErr error
	postErr    error
	closeErr   error
	receivers  map[string][]func([]byte)
	backlog    [][]byte
	posted     [][]byte
	closes     int
	stops      int
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{receivers: map[string][]func([]byte){}}
}

func (f *fakeBroadcaster) Name() string { return "fake" }

func (f *fakeBroadcaster) Post(_ context.Context, _ string, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, frame)
	return nil
}

func (f *fakeBroadcaster) Receive(channel string, fn func([]byte)) (func(), error) {
	f.mu.Lock()
	if f.receiveErr != nil {
		f.mu.Unlock()
		return nil, f.receiveErr
	}
	f.receivers[channel] = append(f.receivers[channel], fn)
	backlog := f.backlog
	f.backlog = nil
	f.mu.Unlock()

	// backlog is delivered before Receive returns, like a primitive that
	// replays buffered frames to a new subscriber.
	for _, frame := range backlog {
		fn(frame)
	}
	return func() {
		f.mu.Lock()
		f.stops++
		f.mu.Unlock()
	}, nil
}

func (f *fakeBroadcaster) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return f.closeErr
}

func (f *fakeBroadcaster) Inject(channel string, frame []byte) {
	f.mu.Lock()
	fns := append([]func([]byte){}, f.receivers[channel]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(frame)
	}
}

func (f *fakeBroadcaster) Posted() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.posted...)
}

var errFake = errors.New("fake failure")

// recorder collects envelopes delivered to a handler.
type recorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *recorder) Handle(_ context.Context, env Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *recorder) All() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope{}, r.envs...)
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func newLocalChannel(t *testing.T, name string) *Channel {
	t.Helper()
	ch, err := NewChannelBuilder().Build(name)
	require.NoError(t, err)
	t.Cleanup(ch.Close)
	return ch
}
