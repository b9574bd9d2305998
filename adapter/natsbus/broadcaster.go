// Package natsbus provides a NATS core-subject broadcaster for xfuse.
//
// Broadcaster name: "nats"
//
// Config keys:
// - url: server URL(s), comma separated (default nats.DefaultURL)
// - name: client connection name (default "xfuse")
// - prefix: subject prefix (default "xfuse.")
// - user, password, token: credentials (optional)
// - connect_timeout: dial timeout (default 2s)
//
// Channel names are mapped to one subject token: characters NATS reserves
// ('.', '*', '>' and whitespace) become '_'.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	nats "github.com/nats-io/nats.go"

	"github.com/trickstertwo/xfuse"
)

const BroadcasterName = "nats"

func init() {
	if err := xfuse.RegisterBroadcaster(BroadcasterName, func(cfg map[string]any) (xfuse.Broadcaster, error) {
		return NewBroadcaster(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xfuse: failed to register broadcaster %q: %w", BroadcasterName, err))
	}
}

var errClosed = errors.New("nats broadcaster is closed")

// Config for the NATS broadcaster.
type Config struct {
	URL            string
	Name           string
	Prefix         string
	User           string
	Password       string
	Token          string
	ConnectTimeout time.Duration
}

// Defaults returns a Config for a local NATS server.
func Defaults() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "xfuse",
		Prefix:         "xfuse.",
		ConnectTimeout: 2 * time.Second,
	}
}

// ConfigFromMap safely converts cfg into Config with defaults.
func ConfigFromMap(cfg map[string]any) Config {
	c := Defaults()
	if v, ok := cfg["url"].(string); ok && v != "" {
		c.URL = v
	}
	if v, ok := cfg["name"].(string); ok && v != "" {
		c.Name = v
	}
	if v, ok := cfg["prefix"].(string); ok {
		c.Prefix = v
	}
	if v, ok := cfg["user"].(string); ok {
		c.User = v
	}
	if v, ok := cfg["password"].(string); ok {
		c.Password = v
	}
	if v, ok := cfg["token"].(string); ok {
		c.Token = v
	}
	switch v := cfg["connect_timeout"].(type) {
	case time.Duration:
		if v > 0 {
			c.ConnectTimeout = v
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.ConnectTimeout = d
		}
	}
	return c
}

// Broadcaster implements xfuse.Broadcaster over NATS core publish/subscribe.
type Broadcaster struct {
	cfg Config
	nc  *nats.Conn

	mu     sync.Mutex
	subs   map[*nats.Subscription]struct{}
	closed atomic.Bool

	posted   atomic.Uint64
	received atomic.Uint64
}

var _ xfuse.Broadcaster = (*Broadcaster)(nil)

// NewBroadcaster connects to NATS. An error makes the channel fall back to its
// local transport.
func NewBroadcaster(cfg Config) (*Broadcaster, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return NewBroadcasterWithConn(nc, cfg), nil
}

// NewBroadcasterWithConn wraps an existing connection. The broadcaster owns nc
// and closes it on Close.
func NewBroadcasterWithConn(nc *nats.Conn, cfg Config) *Broadcaster {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = Defaults().ConnectTimeout
	}
	return &Broadcaster{cfg: cfg, nc: nc, subs: make(map[*nats.Subscription]struct{})}
}

func (b *Broadcaster) Name() string { return BroadcasterName }

// Subject returns the NATS subject used for an xfuse channel name.
func (b *Broadcaster) Subject(channel string) string {
	return b.cfg.Prefix + subjectToken(channel)
}

func (b *Broadcaster) Post(ctx context.Context, channel string, frame []byte) error {
	if b.closed.Load() {
		return errClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.nc.Publish(b.Subject(channel), frame); err != nil {
		return err
	}
	b.posted.Add(1)
	return nil
}

// Receive subscribes and flushes, so the server has registered interest
// before Receive returns.
func (b *Broadcaster) Receive(channel string, fn func([]byte)) (func(), error) {
	if b.closed.Load() {
		return nil, errClosed
	}
	sub, err := b.nc.Subscribe(b.Subject(channel), func(m *nats.Msg) {
		b.received.Add(1)
		fn(m.Data)
	})
	if err != nil {
		return nil, err
	}
	if err := b.nc.FlushTimeout(b.cfg.ConnectTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			_ = sub.Unsubscribe()
		})
	}, nil
}

// Close unsubscribes, flushes pending publishes and closes the connection.
func (b *Broadcaster) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = map[*nats.Subscription]struct{}{}
	b.mu.Unlock()
	for sub := range subs {
		_ = sub.Unsubscribe()
	}
	err := b.nc.FlushTimeout(b.cfg.ConnectTimeout)
	b.nc.Close()
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

// Counts returns how many frames were posted and received.
func (b *Broadcaster) Counts() (posted, received uint64) {
	return b.posted.Load(), b.received.Load()
}

func subjectToken(channel string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, channel)
}
