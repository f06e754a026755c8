package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decisions counts governance decisions by action
var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "crossaudit",
	Name:      "governance_decisions_total",
	Help:      "Governance decisions by action.",
}, []string{"action"})

// QuotaRejections counts requests rejected by the quota ledger
var QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "crossaudit",
	Name:      "quota_rejections_total",
	Help:      "Requests rejected for exceeding quota, by usage type.",
}, []string{"usage_type"})

// QuotaDegraded counts degraded-mode admissions while the ledger is down
var QuotaDegraded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "crossaudit",
	Name:      "quota_degraded_admissions_total",
	Help:      "Requests admitted in degraded mode with the quota ledger unreachable.",
})

// EvaluatorLatency observes evaluator pool dispatch latency
var EvaluatorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "crossaudit",
	Name:      "evaluator_dispatch_seconds",
	Help:      "Evaluator pool dispatch latency by strategy.",
	Buckets:   prometheus.DefBuckets,
}, []string{"strategy"})

// AuditDropped counts audit events dropped after retries were exhausted
var AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "crossaudit",
	Name:      "audit_events_dropped_total",
	Help:      "Audit events dropped after delivery retries were exhausted.",
})
