package xfuse

import (
	"errors"
	"fmt"
)

type ErrUnknownBroadcaster struct{ name string }

func (e ErrUnknownBroadcaster) Error() string {
	return fmt.Sprintf("unknown broadcaster: %s", e.name)
}

var (
	ErrChannelClosed               = errors.New("xfuse: channel closed")
	ErrInvalidChannelName          = errors.New("xfuse: channel name must not be empty")
	ErrInvalidSubscription         = errors.New("xfuse: subscription requires a topic and a handler")
	ErrMalformedEnvelope           = errors.New("xfuse: malformed envelope")
	ErrHandlerPanic                = errors.New("xfuse: handler panic")
	ErrObserverPoolShutdownTimeout = errors.New("xfuse: observer pool shutdown timeout")
)
