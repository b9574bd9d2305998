package xfuse

import (
	"sync/atomic"
	"time"
)

// Metrics defines observable telemetry for a channel.
type Metrics struct {
	Published      uint64
	Delivered      uint64
	DroppedClosed  uint64 // publishes made after Close
	Malformed      uint64 // incoming frames that failed to decode
	HandlerPanics  uint64
	SendErrors     uint64
	Oversize       uint64 // frames above the advisory size
	Subscriptions  int
	Transport      Kind
	FellBack       bool // a broadcaster was requested but the local variant is in use
	EventsDropped  uint64
	AvgPublishTime time.Duration
}

// HealthStatus indicates channel health.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// channelMetrics uses lock-free atomics.
type channelMetrics struct {
	published     atomic.Uint64
	delivered     atomic.Uint64
	droppedClosed atomic.Uint64
	malformed     atomic.Uint64
	handlerPanics atomic.Uint64
	sendErrors    atomic.Uint64
	oversize      atomic.Uint64
	publishNs     atomic.Int64
}

// recordPublishTime keeps an exponential moving average of publish latency.
func (m *channelMetrics) recordPublishTime(ns int64) {
	const alpha = 0.2
	current := m.publishNs.Load()
	if current == 0 {
		m.publishNs.Store(ns)
		return
	}
	m.publishNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
