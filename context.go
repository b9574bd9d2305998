package xfuse

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xfuse (prevents collisions).
type ctxKey string

const (
	codecCtxKey   ctxKey = "xfuse:codec"
	loggerCtxKey  ctxKey = "xfuse:logger"
	clockCtxKey   ctxKey = "xfuse:clock"
	channelCtxKey ctxKey = "xfuse:channel"
)

func injectCodec(ctx context.Context, c Codec) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, codecCtxKey, c)
}

// CodecFromContext retrieves the Codec of the channel that delivered the envelope.
func CodecFromContext(ctx context.Context) (Codec, bool) {
	if v := ctx.Value(codecCtxKey); v != nil {
		if c, ok := v.(Codec); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectChannel(ctx context.Context, ch *Channel) context.Context {
	if ch == nil {
		return ctx
	}
	return context.WithValue(ctx, channelCtxKey, ch)
}

// ChannelFromContext returns the channel that delivered the envelope, so a
// handler can publish a reply without capturing the channel in a closure.
func ChannelFromContext(ctx context.Context) (*Channel, bool) {
	if v := ctx.Value(channelCtxKey); v != nil {
		if ch, ok := v.(*Channel); ok && ch != nil {
			return ch, true
		}
	}
	return nil, false
}

// InjectAll is a convenience helper to inject all standard dependencies.
func InjectAll(ctx context.Context, codec Codec, logger *xlog.Logger, clock xclock.Clock) context.Context {
	ctx = injectCodec(ctx, codec)
	ctx = injectLogger(ctx, logger)
	ctx = injectClock(ctx, clock)
	return ctx
}
