package router

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leonletto/chatnode/internal/transport"
)

// Metrics records router activity. A nil *Metrics records nothing.
type Metrics struct {
	archived        *prometheus.CounterVec
	conversations   prometheus.Gauge
	dropped         *prometheus.CounterVec
	forwardFailures *prometheus.CounterVec
	livePushes      *prometheus.CounterVec
}

// NewMetrics creates router metrics and registers them on reg.
// A nil reg registers on the default registerer. Collectors already
// registered there are reused, so several routers in one process share them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatnode_messages_archived_total",
			Help: "Messages appended to the archive, by the transport they arrived on.",
		}, []string{"origin"}),
		conversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatnode_conversations",
			Help: "Number of conversations in the archive.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatnode_commands_dropped_total",
			Help: "Commands dropped because their bytes did not decode.",
		}, []string{"transport"}),
		forwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatnode_forward_failures_total",
			Help: "Outbound sends the target did not acknowledge.",
		}, []string{"reason"}),
		livePushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatnode_live_pushes_total",
			Help: "New-message events pushed to the live channel.",
		}, []string{"result"}),
	}

	m.archived = register(reg, m.archived)
	m.conversations = register(reg, m.conversations)
	m.dropped = register(reg, m.dropped)
	m.forwardFailures = register(reg, m.forwardFailures)
	m.livePushes = register(reg, m.livePushes)
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

// RecordArchived counts one appended message and updates the conversation gauge.
func (m *Metrics) RecordArchived(origin transport.Transport, conversations int) {
	if m == nil {
		return
	}
	m.archived.WithLabelValues(origin.String()).Inc()
	m.conversations.Set(float64(conversations))
}

// RecordDropped counts one undecodable command.
func (m *Metrics) RecordDropped(t transport.Transport) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(t.String()).Inc()
}

// RecordForwardFailure counts one outbound send that was not acknowledged.
func (m *Metrics) RecordForwardFailure(reason string) {
	if m == nil {
		return
	}
	m.forwardFailures.WithLabelValues(reason).Inc()
}

// RecordPush counts one live push attempt by result: sent, failed or skipped.
func (m *Metrics) RecordPush(result string) {
	if m == nil {
		return
	}
	m.livePushes.WithLabelValues(result).Inc()
}
