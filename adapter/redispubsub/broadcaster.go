package redispubsub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xfuse"
)

const BroadcasterName = "redis-pubsub"

func init() {
	if err := xfuse.RegisterBroadcaster(BroadcasterName, func(cfg map[string]any) (xfuse.Broadcaster, error) {
		return NewBroadcaster(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xfuse: failed to register broadcaster %q: %w", BroadcasterName, err))
	}
}

var errClosed = errors.New("redis broadcaster is closed")

// Broadcaster implements xfuse.Broadcaster over Redis PUBLISH/SUBSCRIBE.
type Broadcaster struct {
	cfg    Config
	client *redis.Client

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed atomic.Bool

	metrics *broadcasterMetrics
}

type broadcasterMetrics struct {
	posted     atomic.Uint64
	received   atomic.Uint64
	postErrors atomic.Uint64
}

// Stats returns broadcaster telemetry.
type Stats struct {
	Posted        uint64
	Received      uint64
	PostErrors    uint64
	Subscriptions int
}

var _ xfuse.Broadcaster = (*Broadcaster)(nil)

// NewBroadcaster connects to Redis and verifies it answers PING. An error here
// makes the channel fall back to its local transport.
func NewBroadcaster(cfg Config) (*Broadcaster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Username:   cfg.Username,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 3,
		PoolSize:   4,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client, cfg.PingTimeout); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Broadcaster{
		cfg:     cfg,
		client:  client,
		subs:    make(map[*redis.PubSub]struct{}),
		metrics: &broadcasterMetrics{},
	}, nil
}

func (b *Broadcaster) Name() string { return BroadcasterName }

// Key returns the Redis channel key used for an xfuse channel name.
func (b *Broadcaster) Key(channel string) string { return b.cfg.Prefix + channel }

// Post PUBLISHes frame. Redis reports how many subscribers got it; the count
// is not meaningful to the bus and is ignored.
func (b *Broadcaster) Post(ctx context.Context, channel string, frame []byte) error {
	if b.closed.Load() {
		return errClosed
	}
	if err := b.client.Publish(ctx, b.Key(channel), frame).Err(); err != nil {
		b.metrics.postErrors.Add(1)
		return err
	}
	b.metrics.posted.Add(1)
	return nil
}

// Receive SUBSCRIBEs to the channel key and waits for Redis to confirm, so
// frames posted after Receive returns are not missed.
func (b *Broadcaster) Receive(channel string, fn func([]byte)) (func(), error) {
	if b.closed.Load() {
		return nil, errClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.PingTimeout)
	defer cancel()

	ps := b.client.Subscribe(ctx, b.Key(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %q: %w", b.Key(channel), err)
	}

	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	msgs := ps.Channel()
	go func() {
		for m := range msgs {
			b.metrics.received.Add(1)
			fn([]byte(m.Payload))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ps)
			b.mu.Unlock()
			_ = ps.Close()
		})
	}, nil
}

// Close unsubscribes everything and closes the client. Idempotent.
func (b *Broadcaster) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = map[*redis.PubSub]struct{}{}
	b.mu.Unlock()

	var errs []error
	for ps := range subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stats returns current broadcaster metrics.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	return Stats{
		Posted:        b.metrics.posted.Load(),
		Received:      b.metrics.received.Load(),
		PostErrors:    b.metrics.postErrors.Load(),
		Subscriptions: n,
	}
}

func ping(c *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}

	return nil
}
