package xfuse

import (
	"sync"
)

var (
	defaultRegistry   *Registry
	defaultRegistryMu sync.Mutex
)

// Default returns the process-wide registry. Unless SetDefault installed one,
// it builds local channels.
func Default() *Registry {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()

	if defaultRegistry == nil {
		defaultRegistry = NewRegistry(nil)
	}
	return defaultRegistry
}

// SetDefault replaces the process-wide registry. Channels handed out by the
// previous one stay live until closed.
func SetDefault(r *Registry) {
	if r == nil {
		panic("xfuse: SetDefault called with nil Registry")
	}
	defaultRegistryMu.Lock()
	defaultRegistry = r
	defaultRegistryMu.Unlock()
}

// CreateChannel returns the default registry's channel for name. Calls with
// the same name share one channel (and one transport) until it is closed.
func CreateChannel(name string) (*Channel, error) {
	return Default().Channel(name)
}
