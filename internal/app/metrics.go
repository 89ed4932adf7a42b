package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skillswap/relay/internal/core"
)

// Envelope outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeOffline   = "offline"
	OutcomeDropped   = "dropped"
	OutcomeMalformed = "malformed"
	OutcomeUnknown   = "unknown"
	OutcomeLimited   = "limited"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionsReplaced prometheus.Counter
	authRejected     prometheus.Counter
	envelopes        *prometheus.CounterVec
	records          *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillswap_sessions_active",
			Help: "Sessions currently bound in the registry.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillswap_sessions_total",
			Help: "Sessions that passed verification since start.",
		}),
		sessionsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillswap_sessions_replaced_total",
			Help: "Sessions superseded by a reconnect of the same user.",
		}),
		authRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillswap_auth_rejected_total",
			Help: "Connections closed because the credential was rejected.",
		}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillswap_envelopes_total",
			Help: "Inbound envelopes by kind and routing outcome.",
		}, []string{"kind", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillswap_records_total",
			Help: "Chat persistence attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.sessionsReplaced,
		m.authRejected,
		m.envelopes,
		m.records,
	)
	return m
}

func (m *Metrics) SessionOpened(active int) {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Set(float64(active))
}

func (m *Metrics) SessionClosed(active int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(active))
}

func (m *Metrics) SessionReplaced() {
	if m == nil {
		return
	}
	m.sessionsReplaced.Inc()
}

func (m *Metrics) AuthRejected() {
	if m == nil {
		return
	}
	m.authRejected.Inc()
}

func (m *Metrics) Envelope(kind core.Kind, outcome string) {
	if m == nil {
		return
	}
	switch kind {
	case core.KindChat, core.KindSignal:
	default:
		kind = "other"
	}
	m.envelopes.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) Record(result string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(result).Inc()
}
