package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMetrics records ledger and webhook activity.
type LedgerMetrics interface {
	IncWebhookEvent(eventType, outcome string)
	IncLedgerOp(op, outcome string)
	IncCreditsConsumed()
	IncCreditsRefunded()
	IncInsufficientCredits()
	ObserveConsumeBalance(balance float64)
}

type ledgerMetrics struct {
	webhookEvents  *prometheus.CounterVec
	ledgerOps      *prometheus.CounterVec
	consumed       prometheus.Counter
	refunded       prometheus.Counter
	insufficient   prometheus.Counter
	consumeBalance prometheus.Histogram
}

// NewLedgerMetrics registers the ledger metrics on the given registry.
func NewLedgerMetrics(registry *prometheus.Registry) LedgerMetrics {
	return &ledgerMetrics{
		webhookEvents: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "The total number of received webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		ledgerOps: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "The total number of ledger operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		consumed: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "report_credits_consumed_total",
				Help: "The total number of report credits consumed",
			},
		),
		refunded: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "report_credits_refunded_total",
				Help: "The total number of report credits refunded after pipeline failures",
			},
		),
		insufficient: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "report_credits_insufficient_total",
				Help: "The total number of consumptions rejected for lack of credits",
			},
		),
		consumeBalance: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "report_credits_balance_after_consume",
				Help:    "Remaining balance observed after successful consumptions",
				Buckets: prometheus.LinearBuckets(0, 10, 8),
			},
		),
	}
}

func (m *ledgerMetrics) IncWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *ledgerMetrics) IncLedgerOp(op, outcome string) {
	m.ledgerOps.WithLabelValues(op, outcome).Inc()
}

func (m *ledgerMetrics) IncCreditsConsumed() {
	m.consumed.Inc()
}

func (m *ledgerMetrics) IncCreditsRefunded() {
	m.refunded.Inc()
}

func (m *ledgerMetrics) IncInsufficientCredits() {
	m.insufficient.Inc()
}

func (m *ledgerMetrics) ObserveConsumeBalance(balance float64) {
	m.consumeBalance.Observe(balance)
}

// NopLedgerMetrics returns metrics that record nothing. Used in tests.
func NopLedgerMetrics() LedgerMetrics {
	return NewLedgerMetrics(prometheus.NewRegistry())
}
