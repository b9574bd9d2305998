package xfuse

import (
	"github.com/trickstertwo/xclock"
)

const (
	// Wildcard subscribes to every topic on a channel.
	Wildcard = "*"
	// DefaultOrigin is stamped on envelopes published without an origin.
	DefaultOrigin = "unknown"
)

// Envelope is the unit of communication traveling a channel.
type Envelope struct {
	// Type is the topic, e.g. "filter/range.changed". Opaque to the bus.
	Type string `json:"type"`
	// Payload is application data; it must be representable by the channel codec.
	Payload map[string]any `json:"payload"`
	// Origin identifies the publishing component.
	Origin string `json:"origin"`
	// Channel is the name of the channel the envelope was published on.
	Channel string `json:"channel"`
	// TS is milliseconds since epoch at publish time (from the injected clock).
	TS int64 `json:"ts"`
}

// Validate reports ErrMalformedEnvelope when the routing fields are missing.
func (e Envelope) Validate() error {
	if e.Type == "" || e.Channel == "" {
		return ErrMalformedEnvelope
	}
	return nil
}

// Matches reports whether a listener registered for topic receives e.
func (e Envelope) Matches(topic string) bool {
	return topic == Wildcard || topic == e.Type
}

func newEnvelope(clock xclock.Clock, channel, topic string, payload map[string]any, origin string) Envelope {
	if origin == "" {
		origin = DefaultOrigin
	}
	// shallow copy: later writes to the caller's map must not reach delivered envelopes
	p := make(map[string]any, len(payload))
	for k, v := range payload {
		p[k] = v
	}
	return Envelope{
		Type:    topic,
		Payload: p,
		Origin:  origin,
		Channel: channel,
		TS:      clock.Now().UnixMilli(),
	}
}
