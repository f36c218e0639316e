// Package metrics registers the node's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	EventsApplied prometheus.Counter
	EventsStale   prometheus.Counter
	DecodeErrors  prometheus.Counter
	PeersEvicted  prometheus.Counter

	SessionsStarted  prometheus.Counter
	SessionsSettled  prometheus.Counter
	SessionsAborted  prometheus.Counter
	SessionsRefunded prometheus.Counter

	// SessionsStuck counts sessions that exhausted claim/refund retries
	// and need operator attention: funds may still be time-locked.
	SessionsStuck prometheus.Gauge

	OpenOrders prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradepost", Name: "events_applied_total",
			Help: "Announce/retract events applied to the ledger.",
		}),
		EventsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradepost", Name: "events_stale_total",
			Help: "Duplicate or stale events dropped by the watermark.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradepost", Name: "decode_errors_total",
			Help: "Malformed room payloads dropped.",
		}),
		PeersEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradepost", Name: "peers_evicted_total",
			Help: "Departed peers whose open orders were evicted.",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradepost", Name: "sessions_started_total",
			Help: "Swap sessions opened (either role).",
		}),
		SessionsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradepost", Name: "sessions_settled_total",
			Help: "Swap sessions settled on both legs.",
		}),
		SessionsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradepost", Name: "sessions_aborted_total",
			Help: "Swap sessions aborted before value was at risk.",
		}),
		SessionsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradepost", Name: "sessions_refunded_total",
			Help: "Swap sessions resolved by refunding the local lock.",
		}),
		SessionsStuck: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradepost", Name: "sessions_stuck",
			Help: "Sessions with unresolved at-risk funds.",
		}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradepost", Name: "open_orders",
			Help: "Open orders currently in the ledger.",
		}),
	}

	reg.MustRegister(
		m.EventsApplied, m.EventsStale, m.DecodeErrors, m.PeersEvicted,
		m.SessionsStarted, m.SessionsSettled, m.SessionsAborted,
		m.SessionsRefunded, m.SessionsStuck, m.OpenOrders,
	)
	return m
}
