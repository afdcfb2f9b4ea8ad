package delivery

import "github.com/prometheus/client_golang/prometheus"

// Delivery outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped_invalid_address"
)

// Claim results.
const (
	ClaimTask  = "task"
	ClaimEmpty = "empty"
	ClaimError = "error"
)

var (
	// deliveries counts finished delivery attempts by outcome.
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_deliveries_total",
			Help: "Delivery tasks processed, by outcome.",
		},
		[]string{"outcome"},
	)

	// claims counts claim attempts by result.
	claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_queue_claims_total",
			Help: "Delivery queue claim attempts, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(deliveries, claims)
}
