// Package xfuse is a lightweight publish/subscribe bus for components that
// exchange structured events (filters, selections, viewport bounds) without a
// server of their own.
//
// A Channel is a named endpoint over one Transport. The transport is either
// local (same-context dispatch) or broadcast (a Broadcaster such as Redis
// Pub/Sub, NATS or the in-process memory hub, plus same-context dispatch).
// The variant is chosen once, when the channel is built; a broadcaster that
// cannot be reached silently selects the local variant.
//
// Example:
//
//	ch, _ := xfuse.NewChannelBuilder().
//	    WithBroadcaster(redispubsub.BroadcasterName, map[string]any{"addr": "localhost:6379"}).
//	    Build("bus-a")
//	defer ch.Close()
//
//	off, _ := ch.Subscribe("filter/range.changed", func(ctx context.Context, env xfuse.Envelope) {
//	    r, _ := xfuse.Decode[RangeFilter](ctx, env)
//	    _ = r
//	})
//	defer off()
//
//	ch.Publish(ctx, "filter/range.changed", map[string]any{"field": "area_km", "range": []any{0, 10}}, "histogram")
//
// Subscribers registered for Wildcard receive every envelope on the channel.
// High-frequency sources (pointer drags, map panning) go through Debounce or
// DebouncePublish to emit at most once per frame.
package xfuse
