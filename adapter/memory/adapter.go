package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xfuse"
)

const BroadcasterName = "memory"

func init() {
	if err := xfuse.RegisterBroadcaster(BroadcasterName, func(cfg map[string]any) (xfuse.Broadcaster, error) {
		c := ConfigFromMap(cfg)
		return NewBroadcaster(HubNamed(c.Hub), c), nil
	}); err != nil {
		panic(fmt.Errorf("xfuse/memory: failed to register broadcaster: %w", err))
	}
}

var errClosed = errors.New("memory broadcaster is closed")

// Config controls memory broadcaster behavior.
type Config struct {
	// Hub names the shared hub; broadcasters on the same hub see each other (default: "default").
	Hub string
	// BufferSize is the per-receiver queue size (default: 256).
	BufferSize int
	// BlockWhenFull makes posters wait for room in this broadcaster's receiver
	// queues instead of dropping the frame (default: false). A blocked poster
	// stalls its Publish until the receiver catches up.
	BlockWhenFull bool
}

func ConfigFromMap(cfg map[string]any) Config {
	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}

	size := getInt("buffer_size", 256)
	if size < 1 {
		size = 256
	}
	return Config{
		Hub:           getString("hub", "default"),
		BufferSize:    size,
		BlockWhenFull: getBool("block_when_full", false),
	}
}

// toMap converts Config to the generic map expected by the broadcaster factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"hub":             c.Hub,
		"buffer_size":     c.BufferSize,
		"block_when_full": c.BlockWhenFull,
	}
}

// Hub is an in-process stand-in for a cross-context primitive: every
// broadcaster attached to it is a separate context, and frames reach each
// receiver asynchronously through its own queue.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
	seq    atomic.Uint64

	metrics *hubMetrics
}

type hubMetrics struct {
	posted    atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Stats returns hub telemetry.
type Stats struct {
	Posted    uint64
	Delivered uint64
	Dropped   uint64
	Receivers int
}

var (
	hubsMu sync.Mutex
	hubs   = map[string]*Hub{}
)

// HubNamed returns the process-wide hub called name, creating it on first use.
func HubNamed(name string) *Hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	if h, ok := hubs[name]; ok {
		return h
	}
	h := NewHub()
	hubs[name] = h
	return h
}

// NewHub returns a private hub, not reachable through HubNamed.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic), metrics: &hubMetrics{}}
}

// Stats returns current hub metrics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := 0
	for _, tp := range h.topics {
		tp.mu.RLock()
		n += len(tp.receivers)
		tp.mu.RUnlock()
	}
	h.mu.RUnlock()
	return Stats{
		Posted:    h.metrics.posted.Load(),
		Delivered: h.metrics.delivered.Load(),
		Dropped:   h.metrics.dropped.Load(),
		Receivers: n,
	}
}

type topic struct {
	mu        sync.RWMutex
	receivers map[uint64]*receiver
}

type receiver struct {
	owner         *Broadcaster
	queue         chan []byte
	blockWhenFull bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// post fans frame out to every receiver on channel except the poster's own.
// A full queue drops the frame unless its receiver asked to block.
func (h *Hub) post(ctx context.Context, from *Broadcaster, channel string, frame []byte) error {
	h.mu.RLock()
	tp, ok := h.topics[channel]
	h.mu.RUnlock()
	h.metrics.posted.Add(1)
	if !ok {
		// nobody listening
		return nil
	}

	tp.mu.RLock()
	defer tp.mu.RUnlock()
	for _, r := range tp.receivers {
		if r.owner == from {
			continue
		}
		select {
		case r.queue <- frame:
			continue
		default:
		}
		if !r.blockWhenFull {
			h.metrics.dropped.Add(1)
			continue
		}
		// Queue full: block to preserve ordering
		select {
		case r.queue <- frame:
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub) attach(owner *Broadcaster, channel string, fn func([]byte)) (id uint64, stop func()) {
	h.mu.Lock()
	tp, ok := h.topics[channel]
	if !ok {
		tp = &topic{receivers: make(map[uint64]*receiver)}
		h.topics[channel] = tp
	}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	r := &receiver{
		owner:         owner,
		queue:         make(chan []byte, owner.cfg.BufferSize),
		blockWhenFull: owner.cfg.BlockWhenFull,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	id = h.seq.Add(1)

	tp.mu.Lock()
	tp.receivers[id] = r
	tp.mu.Unlock()

	go h.worker(ctx, r, fn)

	var once sync.Once
	return id, func() {
		once.Do(func() {
			// cancel first: a post blocked on this queue holds tp.mu until done closes.
			// No wait on r.done: stop may run on the worker itself.
			cancel()
			tp.mu.Lock()
			delete(tp.receivers, id)
			tp.mu.Unlock()
		})
	}
}

func (h *Hub) worker(ctx context.Context, r *receiver, fn func([]byte)) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-r.queue:
			h.metrics.delivered.Add(1)
			fn(f)
		}
	}
}

// Broadcaster implements xfuse.Broadcaster on a Hub. Each instance is one context.
type Broadcaster struct {
	hub *Hub
	cfg Config

	mu     sync.Mutex
	stops  map[uint64]func()
	closed atomic.Bool
}

var _ xfuse.Broadcaster = (*Broadcaster)(nil)

// NewBroadcaster attaches a new context to hub.
func NewBroadcaster(hub *Hub, cfg Config) *Broadcaster {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 256
	}
	if hub == nil {
		hub = HubNamed(cfg.Hub)
	}
	return &Broadcaster{hub: hub, cfg: cfg, stops: make(map[uint64]func())}
}

func (b *Broadcaster) Name() string { return BroadcasterName }

// Hub returns the hub this broadcaster is attached to.
func (b *Broadcaster) Hub() *Hub { return b.hub }

func (b *Broadcaster) Post(ctx context.Context, channel string, frame []byte) error {
	if b.closed.Load() {
		return errClosed
	}
	return b.hub.post(ctx, b, channel, frame)
}

func (b *Broadcaster) Receive(channel string, fn func([]byte)) (func(), error) {
	if b.closed.Load() {
		return nil, errClosed
	}
	id, stop := b.hub.attach(b, channel, fn)

	b.mu.Lock()
	b.stops[id] = stop
	b.mu.Unlock()

	return func() {
		stop()
		b.mu.Lock()
		delete(b.stops, id)
		b.mu.Unlock()
	}, nil
}

// Close detaches every receiver of this broadcaster. The hub stays up for others.
func (b *Broadcaster) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	stops := b.stops
	b.stops = map[uint64]func(){}
	b.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	return nil
}
