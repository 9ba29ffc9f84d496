// Package monitor contains the two coordinators that drive detection: the
// network anomaly coordinator consuming a passive traffic observer, and
// the runtime integrity coordinator scheduling randomized tamper scans.
// Both share the same idempotent StartMonitoring/StopMonitoring lifecycle.
package monitor

import (
	"github.com/imanology1/securus-agent/pkg/event"
)

// Coordinator is the uniform lifecycle the orchestrator manages.
type Coordinator interface {
	StartMonitoring()
	StopMonitoring()
}

// Sink receives each emitted threat event. The orchestrator supplies one
// that both enqueues to the reporter and notifies the host.
type Sink func(event.ThreatEvent)

// TrafficObserver is the passive tap on the host app's outbound traffic.
// The agent never blocks or mutates traffic; it only reads samples.
type TrafficObserver interface {
	Events() <-chan event.NetworkEvent
}

// ChannelObserver is a TrafficObserver hosts push samples into. Observe
// drops samples when the buffer is full so instrumentation can never block
// the host's request path.
type ChannelObserver struct {
	ch chan event.NetworkEvent
}

// NewChannelObserver builds an observer with the given buffer.
func NewChannelObserver(buffer int) *ChannelObserver {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelObserver{ch: make(chan event.NetworkEvent, buffer)}
}

// Observe offers one traffic sample; returns false if it was dropped.
func (o *ChannelObserver) Observe(e event.NetworkEvent) bool {
	select {
	case o.ch <- e:
		return true
	default:
		return false
	}
}

// Events implements TrafficObserver.
func (o *ChannelObserver) Events() <-chan event.NetworkEvent {
	return o.ch
}
