package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// transitionsTotal counts conversation turns by step and outcome
	// (advanced, reprompt, rejected, stale, unhandled, error).
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_transitions_total",
			Help: "Conversation turns by step and outcome.",
		},
		[]string{"step", "outcome"},
	)

	// handoffsTotal counts handoff executions by kind and outcome
	// (done, skipped, retry, failed, superseded).
	handoffsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoffs_total",
			Help: "Handoff executions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(transitionsTotal, handoffsTotal)
}
