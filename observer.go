package xfuse

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xlog"
)

// EventType enumerates channel lifecycle events for the Observer pattern.
type EventType string

const (
	EventPublish        EventType = "publish"
	EventPublishDropped EventType = "publish_dropped"
	EventSendError      EventType = "send_error"
	EventMalformed      EventType = "malformed"
	EventHandlerPanic   EventType = "handler_panic"
	EventOversize       EventType = "oversize"
	EventFallback       EventType = "fallback"
	EventTeardownError  EventType = "teardown_error"
	EventClosed         EventType = "closed"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Channel   string
	Topic     string
	Origin    string
	Transport Kind
	Size      int
	Duration  time.Duration
	Err       error

	// attached for async dispatch
	observers []Observer
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits channel events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("channel", e.Channel),
		xlog.Str("topic", e.Topic),
		xlog.Str("origin", e.Origin),
		xlog.Str("transport", string(e.Transport)),
	)
	switch e.Type {
	case EventSendError, EventMalformed, EventHandlerPanic, EventTeardownError:
		ev.Warn().Err(e.Err).Msg("xfuse event")
	case EventOversize:
		ev.Warn().Str("size", fmt.Sprint(e.Size)).Msg("xfuse frame above advisory size")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xfuse event")
	}
}
