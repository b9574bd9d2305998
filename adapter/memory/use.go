package memory

import (
	"github.com/trickstertwo/xfuse"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Use installs a process-wide registry whose channels broadcast through the
// memory hub named by cfg.Hub, and returns it.
//
// Example:
//
//	reg := memory.Use(memory.Config{Hub: "dashboard", BufferSize: 512},
//	    memory.WithLogger(logger),
//	)
//	ch, _ := xfuse.CreateChannel("bus-a")
func Use(cfg Config, opts ...Option) *xfuse.Registry {
	m := cfg.toMap()
	reg := xfuse.NewRegistry(func(b *xfuse.ChannelBuilder) {
		b.WithBroadcaster(BroadcasterName, m)
		for _, o := range opts {
			if o != nil {
				o(b)
			}
		}
	})
	xfuse.SetDefault(reg)
	return reg
}

// Option configures channels built by the registry installed with Use.
type Option func(*xfuse.ChannelBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xfuse.ChannelBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xfuse.ChannelBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: "json").
func WithCodec(name string) Option {
	return func(b *xfuse.ChannelBuilder) { b.WithCodec(name) }
}

// WithMiddleware adds handler middlewares.
func WithMiddleware(mw ...xfuse.Middleware) Option {
	return func(b *xfuse.ChannelBuilder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xfuse.Observer) Option {
	return func(b *xfuse.ChannelBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool sizes the async observer pool.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xfuse.ChannelBuilder) { b.WithObserverPool(workers, bufferSize) }
}
