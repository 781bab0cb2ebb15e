// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_validations_total",
			Help: "Total number of session validations by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)

	SessionLogins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_logins_total",
			Help: "Total number of login attempts by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)

	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Access gate decisions by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)

	SubscriptionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "Subscription state machine transitions",
		},
		[]string{"from", "to"},
	)

	InvoicesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invoices_generated_total",
			Help: "Total number of invoices generated",
		},
	)

	PaymentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_attempts_total",
			Help: "Payment attempts by final status",
		},
		[]string{"status"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "payment_gateway_duration_seconds",
			Help: "Duration of payment gateway calls in seconds",
		},
		[]string{"operation"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_sweep_runs_total",
			Help: "Billing scheduler sweep executions by sweep and result",
		},
		[]string{"sweep", "result"},
	)
)
