package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Committed ledger transactions by type.",
		},
		[]string{"type"},
	)
	DuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_duplicate_requests_total",
			Help: "Mutations answered from a previously applied idempotency key.",
		},
	)
	InsufficientTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_insufficient_balance_total",
			Help: "Debits rejected because they would overdraw the account.",
		},
	)
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_webhook_events_total",
			Help: "Inbound payment webhook events by terminal state.",
		},
		[]string{"outcome"},
	)
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
