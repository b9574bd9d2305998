package xfuse

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ChannelBuilder constructs Channel instances (Builder pattern).
type ChannelBuilder struct {
	broadcasterName string
	broadcasterCfg  map[string]any
	broadcasterInst Broadcaster

	codecName string
	codecInst Codec

	middlewares   []Middleware
	observers     []Observer
	logger        *xlog.Logger
	clock         xclock.Clock
	defaultOrigin string
	contextID     string
	maxPayload    int

	poolWorkers int
	poolBuffer  int
}

// NewChannelBuilder returns a builder for a local channel with JSON encoding.
func NewChannelBuilder() *ChannelBuilder {
	return &ChannelBuilder{
		codecName:     "json",
		defaultOrigin: DefaultOrigin,
		poolWorkers:   1,
		poolBuffer:    256,
	}
}

// WithBroadcaster selects a registered cross-context backend. If it cannot be
// constructed, Build silently falls back to the local transport.
func (cb *ChannelBuilder) WithBroadcaster(name string, cfg map[string]any) *ChannelBuilder {
	cb.broadcasterName = name
	cb.broadcasterCfg = cfg
	return cb
}

// WithBroadcasterInstance accepts a ready Broadcaster. The built channel owns
// it and closes it on Close, so an instance must not be shared by channels.
func (cb *ChannelBuilder) WithBroadcasterInstance(b Broadcaster) *ChannelBuilder {
	cb.broadcasterInst = b
	return cb
}

func (cb *ChannelBuilder) WithCodec(name string) *ChannelBuilder {
	cb.codecName = name
	return cb
}

// WithCodecInstance accepts a ready Codec instance.
func (cb *ChannelBuilder) WithCodecInstance(c Codec) *ChannelBuilder {
	cb.codecInst = c
	return cb
}

func (cb *ChannelBuilder) WithMiddleware(mw ...Middleware) *ChannelBuilder {
	cb.middlewares = append(cb.middlewares, mw...)
	return cb
}

func (cb *ChannelBuilder) WithObserver(obs ...Observer) *ChannelBuilder {
	for _, o := range obs {
		if o != nil {
			cb.observers = append(cb.observers, o)
		}
	}
	return cb
}

// WithObserverPool sizes the async observer dispatch pool.
func (cb *ChannelBuilder) WithObserverPool(workers, bufferSize int) *ChannelBuilder {
	cb.poolWorkers = workers
	cb.poolBuffer = bufferSize
	return cb
}

func (cb *ChannelBuilder) WithLogger(l *xlog.Logger) *ChannelBuilder {
	cb.logger = l
	return cb
}

func (cb *ChannelBuilder) WithClock(c xclock.Clock) *ChannelBuilder {
	cb.clock = c
	return cb
}

// WithDefaultOrigin sets the origin stamped when Publish gets an empty one.
func (cb *ChannelBuilder) WithDefaultOrigin(origin string) *ChannelBuilder {
	if origin != "" {
		cb.defaultOrigin = origin
	}
	return cb
}

// WithContextID pins the broadcast context identity (default: random).
func (cb *ChannelBuilder) WithContextID(id string) *ChannelBuilder {
	cb.contextID = id
	return cb
}

// WithMaxPayloadBytes sets an advisory frame size. Larger frames are still
// delivered but reported to observers and counted.
func (cb *ChannelBuilder) WithMaxPayloadBytes(n int) *ChannelBuilder {
	if n > 0 {
		cb.maxPayload = n
	}
	return cb
}

// Build constructs the channel named name. Transport selection happens here,
// once; an unusable broadcaster is logged and replaced by the local variant.
// Only programmer errors (empty name, unknown codec) are returned.
func (cb *ChannelBuilder) Build(name string) (*Channel, error) {
	if name == "" {
		return nil, ErrInvalidChannelName
	}

	var cd Codec
	if cb.codecInst != nil {
		cd = cb.codecInst
	} else {
		var err error
		cd, err = NewCodec(cb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := cb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := cb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	c := &Channel{
		name:          name,
		codec:         cd,
		clock:         clk,
		logger:        lg,
		middlewares:   cb.middlewares,
		defaultOrigin: cb.defaultOrigin,
		subs:          make(map[uint64]func()),
		metrics:       &channelMetrics{},
		observerPool:  NewObserverPool(context.Background(), cb.poolWorkers, cb.poolBuffer),
	}

	ctx := InjectAll(context.Background(), cd, lg, clk)
	c.baseCtx = injectChannel(ctx, c)

	// Logging observer first unless one was supplied.
	hasLoggingObserver := false
	for _, o := range cb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		c.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range cb.observers {
		c.AddObserver(o)
	}

	// Observers are in place before the transport can deliver anything.
	wantBroadcast := cb.broadcasterInst != nil || cb.broadcasterName != ""
	tr, selErr := selectTransport(name, transportSpec{
		broadcasterName: cb.broadcasterName,
		broadcasterCfg:  cb.broadcasterCfg,
		broadcasterInst: cb.broadcasterInst,
		opts: BroadcastOptions{
			Codec:         cd,
			ContextID:     cb.contextID,
			MaxFrameBytes: cb.maxPayload,
		},
	}, c.hooks)
	c.transport = tr
	c.fellBack = wantBroadcast && tr.Kind() == KindLocal

	if c.fellBack {
		lg.Debug().
			Err(selErr).
			Str("channel", name).
			Str("broadcaster", cb.broadcasterName).
			Msg("xfuse: broadcaster unavailable, using local transport")
		c.notify(Event{Type: EventFallback, Err: selErr})
	}

	return c, nil
}
