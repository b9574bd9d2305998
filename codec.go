package xfuse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}
)

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

// JSONCodec is the default JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// frame is the wire record posted to a Broadcaster: the envelope plus the
// sending context, which receivers use to drop their own echo.
type frame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Origin  string         `json:"origin"`
	Channel string         `json:"channel"`
	TS      int64          `json:"ts"`
	Src     string         `json:"src,omitempty"`
}

func encodeFrame(c Codec, src string, env Envelope) ([]byte, error) {
	return c.Marshal(frame{
		Type:    env.Type,
		Payload: env.Payload,
		Origin:  env.Origin,
		Channel: env.Channel,
		TS:      env.TS,
		Src:     src,
	})
}

// decodeFrame parses a raw frame. A frame that does not parse or lacks a type
// yields ErrMalformedEnvelope.
func decodeFrame(c Codec, data []byte) (Envelope, string, error) {
	var f frame
	if err := c.Unmarshal(data, &f); err != nil {
		return Envelope{}, "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	env := Envelope{
		Type:    f.Type,
		Payload: f.Payload,
		Origin:  f.Origin,
		Channel: f.Channel,
		TS:      f.TS,
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, "", err
	}
	return env, f.Src, nil
}

// Decode converts env.Payload into T using a Codec found in ctx.
// Falls back to the default "json" codec if none was injected.
func Decode[T any](ctx context.Context, env Envelope) (T, error) {
	c, ok := CodecFromContext(ctx)
	if !ok {
		c = JSONCodec{}
	}
	return DecodeCodec[T](c, env)
}

// DecodeCodec converts env.Payload into T by a round trip through c.
func DecodeCodec[T any](c Codec, env Envelope) (T, error) {
	var v T
	data, err := c.Marshal(env.Payload)
	if err != nil {
		return v, err
	}
	if err := c.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// PayloadOf converts a typed value into a payload map, the inverse of DecodeCodec.
func PayloadOf(c Codec, v any) (map[string]any, error) {
	data, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
