package xfuse

import (
	"context"
)

// Handler processes a single delivered envelope. It runs synchronously on the
// goroutine that dispatched the envelope. The top-level Payload map is the
// handler's own copy; nested maps and slices are shared with the publisher
// and every other handler and must not be mutated.
type Handler func(ctx context.Context, env Envelope)

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// Listener is the transport-level callback. Channels adapt Handlers into Listeners.
type Listener func(env Envelope)

// Kind tags which delivery variant a Transport implements.
type Kind string

const (
	KindLocal     Kind = "local"
	KindBroadcast Kind = "broadcast"
)

// Transport delivers envelopes to interested listeners. The two variants are
// indistinguishable to callers beyond Kind.
type Transport interface {
	Kind() Kind
	// Send delivers env to same-context listeners before returning and, for the
	// broadcast variant, posts it to every other context sharing the channel name.
	Send(ctx context.Context, env Envelope) error
	// Listen registers l for envelopes whose Type equals topic, or for every
	// envelope when topic is Wildcard. The returned cancel is idempotent.
	Listen(topic string, l Listener) (cancel func())
	// Teardown releases the underlying primitive. Idempotent.
	Teardown(ctx context.Context) error
}

// Broadcaster is the cross-context primitive a BroadcastTransport is built on.
// Frames are opaque encoded envelopes.
type Broadcaster interface {
	Name() string
	Post(ctx context.Context, channel string, frame []byte) error
	// Receive starts delivering frames posted on channel to fn until stop is called.
	Receive(channel string, fn func(frame []byte)) (stop func(), err error)
	Close() error
}

// Codec is the Strategy for encoding/decoding envelopes on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Observer receives channel lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker provides health status for monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete Channel surface.
type API interface {
	Name() string
	Kind() Kind
	Publish(ctx context.Context, topic string, payload map[string]any, origin string)
	Subscribe(topic string, handler Handler) (unsubscribe func(), err error)
	Close()
	Metrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API = (*Channel)(nil)
var _ HealthChecker = (*Channel)(nil)
