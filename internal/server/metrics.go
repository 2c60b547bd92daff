package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements engine.Observer over a private Prometheus
// registry.
type Metrics struct {
	registry         *prometheus.Registry
	mintsTotal       *prometheus.CounterVec
	redemptionsTotal *prometheus.CounterVec
	webhooksTotal    *prometheus.CounterVec
	reconcileRuns    *prometheus.CounterVec
	connectedTokens  prometheus.Gauge
}

func NewMetrics() *Metrics {
	mints := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bankrails_mints_total",
		Help: "Deposit settlements attempted, by outcome",
	}, []string{"status"})

	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bankrails_redemptions_total",
		Help: "Redemption requests, by outcome",
	}, []string{"status"})

	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bankrails_webhook_events_total",
		Help: "Aggregator webhook events received, by kind",
	}, []string{"type"})

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bankrails_reconcile_runs_total",
		Help: "Reconciliation passes, by result",
	}, []string{"result"})

	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bankrails_connected_tokens",
		Help: "Tokens with a connected bank account",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(mints, redemptions, webhooks, runs, connected)

	return &Metrics{
		registry:         r,
		mintsTotal:       mints,
		redemptionsTotal: redemptions,
		webhooksTotal:    webhooks,
		reconcileRuns:    runs,
		connectedTokens:  connected,
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MintSettled(status string) {
	m.mintsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RedemptionSettled(status string) {
	m.redemptionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ReconcileRun(result string) {
	m.reconcileRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) WebhookEvent(kind string) {
	m.webhooksTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) setConnectedTokens(n int) {
	m.connectedTokens.Set(float64(n))
}
