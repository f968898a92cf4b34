package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prism_jobs_processed_total",
		Help: "Jobs the worker finished an attempt for, by outcome.",
	}, []string{"outcome"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prism_job_duration_seconds",
		Help:    "Wall time per job attempt, claim to final write.",
		Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
	})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prism_jobs_in_flight",
		Help: "Jobs currently executing in this process.",
	})

	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prism_analysis_cache_hits_total",
		Help: "Jobs satisfied from the analysis cache without a provider call.",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prism_analysis_cache_misses_total",
		Help: "Jobs that had to call the provider.",
	})

	jobsReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prism_jobs_reclaimed_total",
		Help: "Stale running jobs reclaimed from stopped workers.",
	})

	pollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prism_poll_errors_total",
		Help: "Queue poll cycles that failed.",
	})
)
