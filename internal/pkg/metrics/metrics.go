package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's prometheus collectors
type Metrics struct {
	DecisionsTotal    *prometheus.CounterVec
	FraudOverrides    prometheus.Counter
	RateLimitDenials  prometheus.Counter
	IdempotentReplays prometheus.Counter
	RequestDuration   *prometheus.HistogramVec
	BackgroundTasks   *prometheus.CounterVec
}

// New registers the collectors on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_decisions_total",
			Help: "Credit decisions by outcome",
		}, []string{"decision"}),
		FraudOverrides: factory.NewCounter(prometheus.CounterOpts{
			Name: "credit_fraud_overrides_total",
			Help: "Predictions short-circuited by a critical fraud flag",
		}),
		RateLimitDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "credit_rate_limit_denials_total",
			Help: "Requests denied by the per-user rate limiter",
		}),
		IdempotentReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "credit_idempotent_replays_total",
			Help: "Responses served from the idempotency cache",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_request_duration_seconds",
			Help:    "Loan request handling duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		BackgroundTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_background_tasks_total",
			Help: "Background feature recomputation tasks by status",
		}, []string{"status"}),
	}
}
