package xfuse

import (
	"errors"
	"sync"
)

// BroadcasterFactory constructs a broadcaster from a config blob. Factories
// should verify the primitive is reachable and return an error if it is not.
type BroadcasterFactory func(cfg map[string]any) (Broadcaster, error)

var (
	broadcasterRegistryMu sync.RWMutex
	broadcasterRegistry   = map[string]BroadcasterFactory{}
)

// RegisterBroadcaster registers a cross-context backend adapter.
func RegisterBroadcaster(name string, factory BroadcasterFactory) error {
	if name == "" {
		return errors.New("broadcaster name must not be empty")
	}
	if factory == nil {
		return errors.New("broadcaster factory must not be nil")
	}
	broadcasterRegistryMu.Lock()
	broadcasterRegistry[name] = factory
	broadcasterRegistryMu.Unlock()
	return nil
}

// NewBroadcaster constructs a broadcaster by name with config.
func NewBroadcaster(name string, cfg map[string]any) (Broadcaster, error) {
	broadcasterRegistryMu.RLock()
	f, ok := broadcasterRegistry[name]
	broadcasterRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownBroadcaster{name: name}
	}
	return f(cfg)
}

// transportSpec is what a builder knows about the desired transport.
type transportSpec struct {
	broadcasterName string
	broadcasterCfg  map[string]any
	broadcasterInst Broadcaster
	opts            BroadcastOptions
}

// selectTransport picks the variant once, at channel construction. Any failure
// to obtain a working broadcaster selects the local variant; the cause is
// returned alongside for logging, never as a construction error. hooksFor
// supplies the hooks of the variant being built, before it starts delivering.
func selectTransport(channel string, spec transportSpec, hooksFor func(Kind) transportHooks) (Transport, error) {
	local := func() *LocalTransport { return newLocalTransport(hooksFor(KindLocal).onPanic) }

	b := spec.broadcasterInst
	if b == nil && spec.broadcasterName != "" {
		var err error
		b, err = NewBroadcaster(spec.broadcasterName, spec.broadcasterCfg)
		if err != nil {
			return local(), err
		}
	}
	if b == nil {
		return local(), nil
	}
	opts := spec.opts
	opts.hooks = hooksFor(KindBroadcast)
	t, err := NewBroadcastTransport(channel, b, opts)
	if err != nil {
		_ = b.Close()
		return local(), err
	}
	return t, nil
}
