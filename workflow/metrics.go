package workflow

import "github.com/prometheus/client_golang/prometheus"

var (
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_scans_total",
			Help: "Check-in attempts by event type and outcome",
		},
		[]string{"type", "outcome"},
	)
	partialFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_partial_failures_total",
			Help: "Check-ins that succeeded but lost a follow-up write",
		},
		[]string{"stage"},
	)
	outboxDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_outbox_dispatch_total",
			Help: "Mirror outbox publish attempts by result",
		},
		[]string{"result"},
	)
	reconciledLogsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_reconciled_logs_total",
			Help: "Log entries backfilled by reconciliation",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(scansTotal, partialFailuresTotal, outboxDispatchTotal, reconciledLogsTotal)
}
