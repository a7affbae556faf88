// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_sessions_started_total",
			Help: "Total number of onboarding wizard sessions started",
		},
		[]string{"mode", "context"},
	)

	StepsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_steps_submitted_total",
			Help: "Total number of wizard step submissions by outcome",
		},
		[]string{"step", "result"},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_submissions_total",
			Help: "Total number of final create/update submissions by outcome",
		},
		[]string{"customer_type", "mode", "result"},
	)

	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboarding_submission_duration_seconds",
			Help:    "Duration of the backend create/update call in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"customer_type"},
	)

	SubmissionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onboarding_submissions_in_flight",
			Help: "Number of final submissions currently waiting on the backend",
		},
	)

	FranchiseListings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_franchise_listings_total",
			Help: "Total number of franchise picker listings by outcome",
		},
		[]string{"query", "result"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
