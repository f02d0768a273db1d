package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botguard_evaluations_total",
			Help: "Total number of request evaluations by resulting action",
		},
		[]string{"action"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botguard_evaluation_duration_seconds",
			Help:    "Time taken to resolve a request to an action",
			Buckets: prometheus.DefBuckets,
		},
	)

	CaptchaVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botguard_captcha_verifications_total",
			Help: "Total number of CAPTCHA verifications by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botguard_incidents_created_total",
			Help: "Total number of incidents created by severity",
		},
		[]string{"severity"},
	)

	AlertPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botguard_alert_publish_failures_total",
			Help: "Total number of failed alert broadcasts",
		},
	)

	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botguard_rate_limit_decisions_total",
			Help: "Total number of rate_limit action resolutions by verdict",
		},
		[]string{"verdict"},
	)
)
