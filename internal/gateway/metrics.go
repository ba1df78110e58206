package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the gated-data server.
type Metrics struct {
	ChallengesIssued *prometheus.CounterVec
	ProofsVerified   *prometheus.CounterVec
	Revenue          *prometheus.CounterVec
	VerifyDuration   prometheus.Histogram
}

// NewMetrics creates and registers the gateway metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChallengesIssued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_challenges_issued_total",
				Help: "Payment challenges issued",
			},
			[]string{"endpoint"},
		),
		ProofsVerified: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_proofs_total",
				Help: "Payment proofs received",
			},
			[]string{"result"}, // accepted, unknown, expired, mismatch, rejected, malformed
		),
		Revenue: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_revenue_units_total",
				Help: "Amount charged for served requests, in token units",
			},
			[]string{"token"},
		),
		VerifyDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "x402_verify_duration_seconds",
				Help:    "Duration of proof validation including the payment provider",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}
