package xfuse

import (
	"context"
	"sort"
	"sync"
)

// Registry maps channel names to live Channel instances. A name's channel is
// built on first use and shared by every later lookup until it is closed;
// closing evicts it, and the next lookup builds a fresh one. Nothing is
// evicted implicitly.
type Registry struct {
	init func(b *ChannelBuilder)

	mu       sync.Mutex
	channels map[string]*Channel
}

// NewRegistry returns a registry whose channels are configured by init.
// init runs once per channel build, so broadcasters configured by name get a
// fresh instance per channel.
func NewRegistry(init func(b *ChannelBuilder)) *Registry {
	return &Registry{init: init, channels: make(map[string]*Channel)}
}

// Channel returns the live channel for name, building it if needed.
func (r *Registry) Channel(name string) (*Channel, error) {
	if name == "" {
		return nil, ErrInvalidChannelName
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[name]; ok {
		return ch, nil
	}

	b := NewChannelBuilder()
	if r.init != nil {
		r.init(b)
	}
	ch, err := b.Build(name)
	if err != nil {
		return nil, err
	}
	ch.onClose = r.evict
	r.channels[name] = ch
	return ch, nil
}

// Lookup returns the live channel for name without building one.
func (r *Registry) Lookup(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Names lists the live channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// CloseAll closes every live channel.
func (r *Registry) CloseAll(_ context.Context) {
	r.mu.Lock()
	chs := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chs = append(chs, ch)
	}
	r.mu.Unlock()

	for _, ch := range chs {
		ch.Close()
	}
}

// evict removes ch if it is still the registered channel for its name.
func (r *Registry) evict(ch *Channel) {
	r.mu.Lock()
	if cur, ok := r.channels[ch.name]; ok && cur == ch {
		delete(r.channels, ch.name)
	}
	r.mu.Unlock()
}
