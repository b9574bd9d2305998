// Package redispubsub provides a Redis Pub/Sub broadcaster for xfuse.
//
// Broadcaster name: "redis-pubsub"
//
// Every channel built with this broadcaster is one context: it PUBLISHes
// frames on prefix+channel and SUBSCRIBEs to the same key. Delivery is Redis
// Pub/Sub's: at most once, nothing is kept for contexts that are not listening.
//
// Config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - username, password, db
// - tls: enable TLS (default false); tls_server_name
// - prefix: key prefix for channel names (default "xfuse:")
// - ping_timeout: reachability check at construction (default 2s)
//
// Example builder usage:
//
//	ch, _ := xfuse.NewChannelBuilder().
//	    WithBroadcaster(redispubsub.BroadcasterName, map[string]any{
//	        "addr":   "localhost:6379",
//	        "prefix": "dashboard:",
//	    }).
//	    Build("bus-a")
//
// When Redis cannot be reached the channel is built on the local transport.
package redispubsub
