package xfuse

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// RecoveryMiddleware keeps a panicking handler from unwinding into the
// dispatch loop, so the remaining subscribers still receive the envelope.
// onPanic may be nil.
func RecoveryMiddleware(onPanic func(env Envelope, err error)) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env Envelope) {
			defer func() {
				if r := recover(); r != nil && onPanic != nil {
					onPanic(env, fmt.Errorf("%w: %v", ErrHandlerPanic, r))
				}
			}()
			next(ctx, env)
		}
	}
}

// FilterMiddleware only lets envelopes for which keep returns true through.
func FilterMiddleware(keep func(env Envelope) bool) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env Envelope) {
			if keep(env) {
				next(ctx, env)
			}
		}
	}
}

// IgnoreOrigin drops envelopes published by any of origins. Components that
// both publish and follow a topic use it to skip their own messages.
func IgnoreOrigin(origins ...string) Middleware {
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		set[o] = struct{}{}
	}
	return FilterMiddleware(func(env Envelope) bool {
		_, skip := set[env.Origin]
		return !skip
	})
}

// LoggingMiddleware logs each delivery at debug level with its handling time,
// measured on the channel clock carried by ctx.
func LoggingMiddleware(l *xlog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env Envelope) {
			clock, ok := ClockFromContext(ctx)
			if !ok {
				clock = xclock.Default()
			}
			start := clock.Now()
			next(ctx, env)
			l.Debug().
				Str("channel", env.Channel).
				Str("topic", env.Type).
				Str("origin", env.Origin).
				Dur("dur", clock.Since(start)).
				Msg("handler done")
		}
	}
}

// Chain composes middlewares around a handler in order.
func Chain(h Handler, mws ...Middleware) Handler {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
