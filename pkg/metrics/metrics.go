// Package metrics holds the Prometheus collectors of the settlement engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "settlement"

type Metrics struct {
	settlementEvents  *prometheus.CounterVec
	duplicateEvents   *prometheus.CounterVec
	withdrawals       *prometheus.CounterVec
	reconcileResults  *prometheus.CounterVec
	interestCredits   *prometheus.CounterVec
	interestLastRun   prometheus.Gauge
	notifications     *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
	commissionCredits *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		settlementEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "events_total",
			Help:      "Settlement events processed, partitioned by provider and result.",
		}, []string{"provider", "result"}),
		duplicateEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "duplicate_events_total",
			Help:      "Writes rejected because their external reference was already applied.",
		}, []string{"source"}),
		withdrawals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "actions_total",
			Help:      "Withdrawal operations, partitioned by action and result.",
		}, []string{"action", "result"}),
		reconcileResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "reconcile_total",
			Help:      "Reconciliation outcomes of PROCESSING withdrawals.",
		}, []string{"result"}),
		interestCredits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interest",
			Name:      "credits_total",
			Help:      "Per-account interest outcomes.",
		}, []string{"result"}),
		interestLastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "interest",
			Name:      "last_run_unix",
			Help:      "Unix time of the most recent interest run.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Notification deliveries, partitioned by channel and result.",
		}, []string{"channel", "result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, partitioned by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		commissionCredits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "referrals",
			Name:      "commissions_total",
			Help:      "Referral commission outcomes.",
		}, []string{"result"}),
	}
}

func (m *Metrics) SettlementEvent(provider, result string) {
	if m == nil {
		return
	}
	m.settlementEvents.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) DuplicateEvent(source string) {
	if m == nil {
		return
	}
	m.duplicateEvents.WithLabelValues(source).Inc()
}

func (m *Metrics) Withdrawal(action, result string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(action, result).Inc()
}

func (m *Metrics) Reconciled(result string) {
	if m == nil {
		return
	}
	m.reconcileResults.WithLabelValues(result).Inc()
}

func (m *Metrics) InterestCredit(result string) {
	if m == nil {
		return
	}
	m.interestCredits.WithLabelValues(result).Inc()
}

func (m *Metrics) InterestRun(unix float64) {
	if m == nil {
		return
	}
	m.interestLastRun.Set(unix)
}

func (m *Metrics) Notification(channel, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) Commission(result string) {
	if m == nil {
		return
	}
	m.commissionCredits.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(seconds)
}
