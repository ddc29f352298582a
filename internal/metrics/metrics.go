package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	RequestsSubmitted  *prometheus.CounterVec
	RequestsProcessed  *prometheus.CounterVec
	ReferralPayouts    prometheus.Counter
	Investments        *prometheus.CounterVec
	Claims             *prometheus.CounterVec
	BalanceAdjustments *prometheus.CounterVec
	Rejections         *prometheus.CounterVec
	StoreLatency       *prometheus.HistogramVec
	Notifications      *prometheus.CounterVec
	WAIncomingMessages *prometheus.CounterVec
	WAOutgoingMessages *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = New(namespace, prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

// New builds a fresh set of collectors and registers them with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_submitted_total",
			Help:      "Transaction requests submitted by type.",
		}, []string{"type"}),
		RequestsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_processed_total",
			Help:      "Transaction requests decided by type and decision.",
		}, []string{"type", "decision"}),
		ReferralPayouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_payouts_total",
			Help:      "Referral bonuses paid on first deposits.",
		}),
		Investments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "investments_total",
			Help:      "Plan purchases by plan.",
		}, []string{"plan"}),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Profit claims by plan and maturity.",
		}, []string{"plan", "matured"}),
		BalanceAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_adjustments_total",
			Help:      "Direct balance adjustments by source and target.",
		}, []string{"source", "target"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Operations refused by validation, grouped by operation.",
		}, []string{"operation"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Latency distribution for record store calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications emitted by kind.",
		}, []string{"kind"}),
		WAIncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wa_incoming_messages_total",
			Help:      "Total incoming WhatsApp messages processed.",
		}, []string{"type"}),
		WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wa_outgoing_messages_total",
			Help:      "Total outgoing WhatsApp messages sent.",
		}, []string{"type"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}

	reg.MustRegister(
		m.RequestsSubmitted,
		m.RequestsProcessed,
		m.ReferralPayouts,
		m.Investments,
		m.Claims,
		m.BalanceAdjustments,
		m.Rejections,
		m.StoreLatency,
		m.Notifications,
		m.WAIncomingMessages,
		m.WAOutgoingMessages,
		m.Errors,
	)
	return m
}
