package daemon

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PeerMetrics records peer-channel traffic. A nil *PeerMetrics records nothing.
type PeerMetrics struct {
	requests *prometheus.CounterVec
	calls    *prometheus.HistogramVec
}

// NewPeerMetrics creates peer metrics and registers them on reg.
// A nil reg registers on the default registerer. Collectors already
// registered there are reused.
func NewPeerMetrics(reg prometheus.Registerer) *PeerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PeerMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatnode_peer_requests_total",
			Help: "Requests received on the peer channel, by method and outcome.",
		}, []string{"method", "result"}),
		calls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatnode_peer_call_duration_seconds",
			Help:    "Round trip time of calls made to other nodes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "result"}),
	}

	m.requests = register(reg, m.requests)
	m.calls = register(reg, m.calls)
	return m
}

// register registers c on reg, returning the existing collector when an
// identical one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// RecordRequest counts one request served on the peer channel.
func (m *PeerMetrics) RecordRequest(method, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, result).Inc()
}

// ObserveCall records the round trip of one call made to another node.
func (m *PeerMetrics) ObserveCall(method, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method, result).Observe(d.Seconds())
}
