package redispubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xfuse"
)

func testConfig(mr *miniredis.Miniredis) Config {
	cfg := Defaults()
	cfg.Addr = mr.Addr()
	cfg.Prefix = "test:"
	return cfg
}

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

func newContext(t *testing.T, cfg Config, name string) *xfuse.Channel {
	t.Helper()
	ch, err := xfuse.NewChannelBuilder().
		WithBroadcaster(BroadcasterName, cfg.toMap()).
		Build(name)
	require.NoError(t, err)
	t.Cleanup(ch.Close)
	return ch
}

func TestRedis_CrossContextDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(mr)

	a := newContext(t, cfg, "bus-a")
	b := newContext(t, cfg, "bus-a")
	require.Equal(t, xfuse.KindBroadcast, a.Kind())
	require.Equal(t, xfuse.KindBroadcast, b.Kind())

	var gotA, gotB collector
	_, err := a.Subscribe(xfuse.Wildcard, gotA.handle)
	require.NoError(t, err)
	_, err = b.Subscribe("filter/bounds.changed", gotB.handle)
	require.NoError(t, err)

	a.Publish(context.Background(), "filter/bounds.changed",
		map[string]any{"bounds": []float64{-10, 40, 5, 52}}, "map")

	require.Eventually(t, func() bool { return len(gotB.all()) == 1 }, 3*time.Second, 10*time.Millisecond)
	env := gotB.all()[0]
	assert.Equal(t, "map", env.Origin)
	assert.Equal(t, "bus-a", env.Channel)
	assert.Equal(t, []any{-10.0, 40.0, 5.0, 52.0}, env.Payload["bounds"])

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, gotA.all(), 1, "publisher is not echoed")
}

func TestRedis_UnreachableServerFallsBackToLocal(t *testing.T) {
	cfg := Defaults()
	cfg.Addr = "127.0.0.1:1"
	cfg.PingTimeout = 200 * time.Millisecond

	ch := newContext(t, cfg, "bus")
	assert.Equal(t, xfuse.KindLocal, ch.Kind())
	assert.True(t, ch.Metrics().FellBack)

	var got collector
	_, err := ch.Subscribe("t", got.handle)
	require.NoError(t, err)
	ch.Publish(context.Background(), "t", nil, "")
	assert.Len(t, got.all(), 1)
}

func TestRedis_KeyUsesPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewBroadcaster(testConfig(mr))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "test:bus-a", b.Key("bus-a"))

	stop, err := b.Receive("bus-a", func([]byte) {})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stats().Subscriptions)
	stop()
	stop()
	assert.Equal(t, 0, b.Stats().Subscriptions)
}

func TestRedis_PostReachesRawSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(mr)

	sender, err := NewBroadcaster(cfg)
	require.NoError(t, err)
	defer sender.Close()
	receiver, err := NewBroadcaster(cfg)
	require.NoError(t, err)
	defer receiver.Close()

	frames := make(chan []byte, 1)
	_, err = receiver.Receive("bus", func(f []byte) { frames <- f })
	require.NoError(t, err)

	require.NoError(t, sender.Post(context.Background(), "bus", []byte(`{"type":"t"}`)))
	select {
	case f := <-frames:
		assert.JSONEq(t, `{"type":"t"}`, string(f))
	case <-time.After(3 * time.Second):
		t.Fatal("frame not received")
	}
	assert.Equal(t, uint64(1), sender.Stats().Posted)
}

func TestRedis_CloseIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewBroadcaster(testConfig(mr))
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Error(t, b.Post(context.Background(), "bus", []byte("x")))
}

func TestConfig_ValidateAndFromMap(t *testing.T) {
	assert.NoError(t, Defaults().Validate())
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Addr: "x", DB: -1, PingTimeout: time.Second}.Validate())
	assert.Error(t, Config{Addr: "x"}.Validate())

	c := ConfigFromMap(map[string]any{
		"addr":         "redis:6380",
		"db":           2.0,
		"tls":          true,
		"prefix":       "",
		"ping_timeout": "500ms",
	})
	assert.Equal(t, "redis:6380", c.Addr)
	assert.Equal(t, 2, c.DB)
	assert.True(t, c.TLS)
	assert.Equal(t, "", c.Prefix)
	assert.Equal(t, 500*time.Millisecond, c.PingTimeout)

	round := ConfigFromMap(Defaults().toMap())
	assert.Equal(t, Defaults(), round)
}
