package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xfuse"
	"github.com/trickstertwo/xfuse/adapter/memory"
)

type collector struct {
	mu   sync.Mutex
	envs []xfuse.Envelope
}

func (c *collector) handle(_ context.Context, env xfuse.Envelope) {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
}

func (c *collector) all() []xfuse.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]xfuse.Envelope(nil), c.envs...)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

// newContext builds one channel attached to hub, standing in for one
// execution context.
func newContext(t *testing.T, hub *memory.Hub, name string) *xfuse.Channel {
	t.Helper()
	return newContextWith(t, hub, name, memory.Config{BufferSize: 64})
}

func newContextWith(t *testing.T, hub *memory.Hub, name string, cfg memory.Config) *xfuse.Channel {
	t.Helper()
	ch, err := xfuse.NewChannelBuilder().
		WithBroadcasterInstance(memory.NewBroadcaster(hub, cfg)).
		Build(name)
	require.NoError(t, err)
	require.Equal(t, xfuse.KindBroadcast, ch.Kind())
	t.Cleanup(ch.Close)
	return ch
}

func TestMemory_CrossContextDelivery(t *testing.T) {
	hub := memory.NewHub()
	tab1 := newContext(t, hub, "bus-a")
	tab2 := newContext(t, hub, "bus-a")

	var local, remote collector
	_, err := tab1.Subscribe("filter/range.changed", local.handle)
	require.NoError(t, err)
	_, err = tab2.Subscribe(xfuse.Wildcard, remote.handle)
	require.NoError(t, err)

	tab1.Publish(context.Background(), "filter/range.changed",
		map[string]any{"field": "area_km", "range": []int{0, 10}}, "histogram")

	require.Equal(t, 1, local.len(), "publisher's own context is served synchronously")
	require.Eventually(t, func() bool { return remote.len() == 1 }, 2*time.Second, 5*time.Millisecond)

	env := remote.all()[0]
	assert.Equal(t, "filter/range.changed", env.Type)
	assert.Equal(t, "histogram", env.Origin)
	assert.Equal(t, "bus-a", env.Channel)
	assert.Equal(t, "area_km", env.Payload["field"])
	assert.Equal(t, []any{0.0, 10.0}, env.Payload["range"], "payload crossed the codec")
	assert.Equal(t, local.all()[0].TS, env.TS)

	// no echo back into the publishing context
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, local.len())
}

func TestMemory_ChannelNamesAreIsolated(t *testing.T) {
	hub := memory.NewHub()
	a := newContext(t, hub, "bus-a")
	b := newContext(t, hub, "bus-b")
	probe := newContext(t, hub, "bus-a")

	var got, reached collector
	_, err := b.Subscribe(xfuse.Wildcard, got.handle)
	require.NoError(t, err)
	_, err = probe.Subscribe(xfuse.Wildcard, reached.handle)
	require.NoError(t, err)

	a.Publish(context.Background(), "t", nil, "x")

	require.Eventually(t, func() bool { return reached.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, got.len())
}

func TestMemory_ClosingOneContextLeavesOthersRunning(t *testing.T) {
	hub := memory.NewHub()
	a := newContext(t, hub, "bus")
	b := newContext(t, hub, "bus")
	c := newContext(t, hub, "bus")

	var gotB, gotC collector
	_, err := b.Subscribe("t", gotB.handle)
	require.NoError(t, err)
	_, err = c.Subscribe("t", gotC.handle)
	require.NoError(t, err)

	b.Close()
	a.Publish(context.Background(), "t", nil, "x")

	require.Eventually(t, func() bool { return gotC.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, gotB.len())
}

func TestMemory_PerContextOrderIsPreserved(t *testing.T) {
	hub := memory.NewHub()
	a := newContext(t, hub, "bus")
	b := newContextWith(t, hub, "bus", memory.Config{BufferSize: 8, BlockWhenFull: true})

	var got collector
	_, err := b.Subscribe("n", got.handle)
	require.NoError(t, err)

	const n = 200
	for i := 0; i < n; i++ {
		a.Publish(context.Background(), "n", map[string]any{"i": i}, "a")
	}

	require.Eventually(t, func() bool { return got.len() == n }, 5*time.Second, 5*time.Millisecond)
	for i, env := range got.all() {
		assert.Equal(t, float64(i), env.Payload["i"])
	}
	assert.Equal(t, uint64(0), hub.Stats().Dropped)
}

func TestMemory_FullQueueDropsByDefault(t *testing.T) {
	hub := memory.NewHub()
	recv := memory.NewBroadcaster(hub, memory.Config{BufferSize: 1})
	send := memory.NewBroadcaster(hub, memory.Config{BlockWhenFull: true})
	defer recv.Close()
	defer send.Close()

	block := make(chan struct{})
	var handled atomic.Int32
	_, err := recv.Receive("bus", func([]byte) {
		handled.Add(1)
		<-block
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, send.Post(context.Background(), "bus", []byte("f")))
	}
	close(block)

	require.Eventually(t, func() bool { return hub.Stats().Dropped > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(10), hub.Stats().Posted)
	assert.LessOrEqual(t, handled.Load(), int32(2))
}

func TestMemory_PublishReturnsWhileRemoteHandlerStalls(t *testing.T) {
	hub := memory.NewHub()
	a := newContext(t, hub, "bus")
	b := newContextWith(t, hub, "bus", memory.Config{BufferSize: 1})

	block := make(chan struct{})
	defer close(block)
	var entered atomic.Int32
	_, err := b.Subscribe("t", func(context.Context, xfuse.Envelope) {
		entered.Add(1)
		<-block
	})
	require.NoError(t, err)

	a.Publish(context.Background(), "t", nil, "a")
	require.Eventually(t, func() bool { return entered.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			a.Publish(context.Background(), "t", map[string]any{"i": i}, "a")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled remote handler")
	}
	assert.Greater(t, hub.Stats().Dropped, uint64(0))
}

func TestMemory_BlockWhenFullWaitsForReceiver(t *testing.T) {
	hub := memory.NewHub()
	recv := memory.NewBroadcaster(hub, memory.Config{BufferSize: 1, BlockWhenFull: true})
	send := memory.NewBroadcaster(hub, memory.Config{})
	defer recv.Close()
	defer send.Close()

	var handled atomic.Int32
	_, err := recv.Receive("bus", func([]byte) {
		time.Sleep(time.Millisecond)
		handled.Add(1)
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, send.Post(context.Background(), "bus", []byte("f")))
	}
	require.Eventually(t, func() bool { return handled.Load() == 20 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), hub.Stats().Dropped)
}

func TestMemory_ClosedBroadcasterRejectsUse(t *testing.T) {
	b := memory.NewBroadcaster(memory.NewHub(), memory.Config{})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.Error(t, b.Post(context.Background(), "bus", []byte("x")))
	_, err := b.Receive("bus", func([]byte) {})
	assert.Error(t, err)
}

func TestMemory_ConfigFromMap(t *testing.T) {
	c := memory.ConfigFromMap(map[string]any{"hub": "h", "buffer_size": 8.0, "block_when_full": true})
	assert.Equal(t, memory.Config{Hub: "h", BufferSize: 8, BlockWhenFull: true}, c)

	d := memory.ConfigFromMap(nil)
	assert.Equal(t, "default", d.Hub)
	assert.Equal(t, 256, d.BufferSize)
	assert.False(t, d.BlockWhenFull)
}

func TestMemory_UseInstallsBroadcastRegistry(t *testing.T) {
	prev := xfuse.Default()
	reg := memory.Use(memory.Config{Hub: t.Name()})
	t.Cleanup(func() {
		reg.CloseAll(context.Background())
		xfuse.SetDefault(prev)
	})

	ch, err := xfuse.CreateChannel("bus-a")
	require.NoError(t, err)
	assert.Equal(t, xfuse.KindBroadcast, ch.Kind())
	assert.Same(t, reg, xfuse.Default())

	again, err := xfuse.CreateChannel("bus-a")
	require.NoError(t, err)
	assert.Same(t, ch, again)

	// a second registry on the same hub is another context
	other := xfuse.NewRegistry(func(b *xfuse.ChannelBuilder) {
		b.WithBroadcaster(memory.BroadcasterName, map[string]any{"hub": t.Name()})
	})
	defer other.CloseAll(context.Background())
	peer, err := other.Channel("bus-a")
	require.NoError(t, err)

	var got collector
	_, err = peer.Subscribe(xfuse.Wildcard, got.handle)
	require.NoError(t, err)
	ch.Publish(context.Background(), "hello", nil, "tab-1")
	require.Eventually(t, func() bool { return got.len() == 1 }, 2*time.Second, 5*time.Millisecond)
}
