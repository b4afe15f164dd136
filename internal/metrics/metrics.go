// Package metrics exposes prometheus collectors for the signaling
// server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ActiveMeetings        prometheus.Gauge
	ConnectedParticipants prometheus.Gauge
	EventsTotal           *prometheus.CounterVec
	RelayErrors           prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveMeetings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meetspace",
			Name:      "active_meetings",
			Help:      "Number of live meetings.",
		}),
		ConnectedParticipants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meetspace",
			Name:      "connected_participants",
			Help:      "Number of bound participant connections.",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetspace",
			Name:      "relay_events_total",
			Help:      "Inbound signaling events processed, by event name.",
		}, []string{"event"}),
		RelayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetspace",
			Name:      "relay_errors_total",
			Help:      "Validation and authorization rejections emitted.",
		}),
	}
	reg.MustRegister(m.ActiveMeetings, m.ConnectedParticipants, m.EventsTotal, m.RelayErrors)
	return m
}
