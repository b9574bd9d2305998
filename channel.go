package xfuse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Channel is a named publish/subscribe endpoint over exactly one Transport.
// The transport is chosen when the channel is built and never changes.
// A closed channel is inert and cannot be reopened.
type Channel struct {
	name          string
	transport     Transport
	codec         Codec
	clock         xclock.Clock
	logger        *xlog.Logger
	middlewares   []Middleware
	defaultOrigin string
	fellBack      bool
	baseCtx       context.Context

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer

	subsMu sync.Mutex
	subs   map[uint64]func()
	subSeq uint64

	metrics   *channelMetrics
	closed    atomic.Bool
	closeOnce sync.Once
	onClose   func(*Channel)
}

// Name returns the channel name stamped on every envelope.
func (c *Channel) Name() string { return c.name }

// Kind reports which transport variant was selected.
func (c *Channel) Kind() Kind { return c.transport.Kind() }

// Codec returns the configured codec (Strategy).
func (c *Channel) Codec() Codec { return c.codec }

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool { return c.closed.Load() }

// Publish stamps an envelope and hands it to the transport. Same-context
// subscribers have all run when Publish returns; other contexts receive it
// asynchronously. Delivery is best effort: failures are logged, never returned,
// and publishing on a closed channel does nothing.
func (c *Channel) Publish(ctx context.Context, topic string, payload map[string]any, origin string) {
	if c.closed.Load() {
		c.metrics.droppedClosed.Add(1)
		return
	}
	if topic == "" {
		c.logger.Warn().Str("channel", c.name).Msg("xfuse: publish without topic dropped")
		c.notifyAsync(Event{Type: EventPublishDropped, Origin: origin})
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if origin == "" {
		origin = c.defaultOrigin
	}

	env := newEnvelope(c.clock, c.name, topic, payload, origin)
	c.metrics.published.Add(1)

	start := c.clock.Now()
	err := c.transport.Send(ctx, env)
	duration := c.clock.Since(start)
	c.metrics.recordPublishTime(duration.Nanoseconds())

	if err != nil {
		c.metrics.sendErrors.Add(1)
		c.logger.Warn().Err(err).Str("channel", c.name).Str("topic", topic).Msg("xfuse: send failed")
		c.notifyAsync(Event{Type: EventSendError, Topic: topic, Origin: origin, Err: err})
		return
	}
	c.notifyAsync(Event{Type: EventPublish, Topic: topic, Origin: origin, Duration: duration})
}

// Subscribe registers handler for topic, or for every topic when topic is
// Wildcard. The returned unsubscribe removes exactly this registration and is
// safe to call more than once. Duplicate registrations are independent.
func (c *Channel) Subscribe(topic string, handler Handler) (unsubscribe func(), err error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}
	if topic == "" || handler == nil {
		return nil, ErrInvalidSubscription
	}

	kind := c.transport.Kind()
	base := RecoveryMiddleware(func(env Envelope, err error) { c.handlerPanicked(kind, env, err) })(handler)
	wh := Chain(base, c.middlewares...)

	cancel := c.transport.Listen(topic, func(env Envelope) {
		c.metrics.delivered.Add(1)
		wh(c.baseCtx, env)
	})

	c.subsMu.Lock()
	if c.subs == nil {
		// closed between the check above and now
		c.subsMu.Unlock()
		cancel()
		return nil, ErrChannelClosed
	}
	c.subSeq++
	id := c.subSeq
	c.subs[id] = cancel
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
		})
	}, nil
}

// On is Subscribe for glue code where a bad argument is a programming error.
func (c *Channel) On(topic string, handler Handler) func() {
	off, err := c.Subscribe(topic, handler)
	if err != nil {
		panic(fmt.Sprintf("xfuse: subscribe %q on %q: %v", topic, c.name, err))
	}
	return off
}

// Close tears down the transport and drops every registration. Idempotent.
// Teardown failures are logged and swallowed. Close only affects this
// channel; other contexts sharing the name are untouched.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.transport.Teardown(ctx); err != nil {
			c.logger.Warn().Err(err).Str("channel", c.name).Msg("xfuse: transport teardown failed")
			c.notify(Event{Type: EventTeardownError, Err: err})
		}

		c.subsMu.Lock()
		subs := c.subs
		c.subs = nil
		c.subsMu.Unlock()
		for _, cancel := range subs {
			cancel()
		}

		c.notify(Event{Type: EventClosed})
		if c.observerPool != nil {
			if err := c.observerPool.Close(time.Second); err != nil {
				c.logger.Warn().Err(err).Str("channel", c.name).Msg("xfuse: observer pool shutdown timeout")
			}
		}

		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// Metrics returns current channel metrics.
func (c *Channel) Metrics() Metrics {
	c.subsMu.Lock()
	nsubs := len(c.subs)
	c.subsMu.Unlock()

	var dropped uint64
	if c.observerPool != nil {
		dropped = c.observerPool.Stats().Dropped
	}
	return Metrics{
		Published:      c.metrics.published.Load(),
		Delivered:      c.metrics.delivered.Load(),
		DroppedClosed:  c.metrics.droppedClosed.Load(),
		Malformed:      c.metrics.malformed.Load(),
		HandlerPanics:  c.metrics.handlerPanics.Load(),
		SendErrors:     c.metrics.sendErrors.Load(),
		Oversize:       c.metrics.oversize.Load(),
		Subscriptions:  nsubs,
		Transport:      c.transport.Kind(),
		FellBack:       c.fellBack,
		EventsDropped:  dropped,
		AvgPublishTime: time.Duration(c.metrics.publishNs.Load()),
	}
}

// Health reports "unhealthy" once closed and "degraded" when running on the
// fallback transport or when more than 5% of sends failed.
func (c *Channel) Health(_ context.Context) HealthStatus {
	now := c.clock.Now()
	if c.closed.Load() {
		return HealthStatus{Status: "unhealthy", Timestamp: now, Message: "channel is closed"}
	}

	m := c.Metrics()
	status := HealthStatus{Status: "healthy", Metrics: m, Timestamp: now}
	if m.FellBack {
		status.Status = "degraded"
		status.Message = "broadcaster unavailable, delivering in-process only"
	}
	if m.SendErrors > 0 && m.Published > 0 {
		if float64(m.SendErrors)/float64(m.Published) > 0.05 {
			status.Status = "degraded"
			status.Message = "send error rate above 5%"
		}
	}
	return status
}

// AddObserver registers an observer (thread-safe).
func (c *Channel) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	c.observersMu.Lock()
	c.observers = append(c.observers, obs)
	c.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (c *Channel) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	c.observersMu.Lock()
	defer c.observersMu.Unlock()

	for i, o := range c.observers {
		if o == obs {
			c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
			break
		}
	}
}

func (c *Channel) handlerPanicked(kind Kind, env Envelope, err error) {
	c.metrics.handlerPanics.Add(1)
	c.logger.Warn().Err(err).Str("channel", c.name).Str("topic", env.Type).Msg("xfuse: handler panic (recovered)")
	c.notifyAsync(Event{Type: EventHandlerPanic, Topic: env.Type, Origin: env.Origin, Transport: kind, Err: err})
}

// hooks are handed to a transport of the given kind while it is built; they
// may fire before c.transport is assigned, so they never read it.
func (c *Channel) hooks(kind Kind) transportHooks {
	return transportHooks{
		onPanic: func(env Envelope, r any) {
			c.handlerPanicked(kind, env, fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		},
		onMalformed: func(err error) {
			c.metrics.malformed.Add(1)
			c.notifyAsync(Event{Type: EventMalformed, Transport: kind, Err: err})
		},
		onOversize: func(env Envelope, size int) {
			c.metrics.oversize.Add(1)
			c.notifyAsync(Event{Type: EventOversize, Topic: env.Type, Origin: env.Origin, Transport: kind, Size: size})
		},
	}
}

// notifyAsync drops events once the channel is closed.
func (c *Channel) notifyAsync(e Event) {
	if c.closed.Load() {
		return
	}
	c.notify(e)
}

func (c *Channel) notify(e Event) {
	if c.observerPool == nil {
		return
	}
	c.observersMu.RLock()
	if len(c.observers) == 0 {
		c.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.observersMu.RUnlock()

	e.Channel = c.name
	if e.Transport == "" {
		e.Transport = c.transport.Kind()
	}
	c.observerPool.Notify(e, observers)
}
