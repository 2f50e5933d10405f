// SPDX-License-Identifier: MIT

// Package metrics defines the pipeline's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civicast",
			Name:      "jobs_total",
			Help:      "Jobs processed per queue and result",
		},
		[]string{"queue", "result"}, // result: completed|retried|failed
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "civicast",
			Name:      "job_duration_seconds",
			Help:      "Wall time spent handling a job",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		},
		[]string{"queue"},
	)

	phaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civicast",
			Name:      "phase_transitions_total",
			Help:      "Recorded meeting phase transitions",
		},
		[]string{"from", "to"},
	)

	discoveryInserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "civicast",
			Name:      "discovery_inserts_total",
			Help:      "Meetings newly inserted by discovery",
		},
	)

	fileRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "civicast",
			Name:      "fileserver_requests_total",
			Help:      "File server requests per route and status code",
		},
		[]string{"route", "code"},
	)
)

// IncJob records a job outcome for a queue.
func IncJob(queue, result string) {
	jobsTotal.WithLabelValues(queue, result).Inc()
}

// ObserveJobDuration records how long a job took.
func ObserveJobDuration(queue string, seconds float64) {
	jobDuration.WithLabelValues(queue).Observe(seconds)
}

// IncTransition records a phase transition.
func IncTransition(from, to string) {
	phaseTransitions.WithLabelValues(from, to).Inc()
}

// IncDiscoveryInsert records a newly discovered meeting.
func IncDiscoveryInsert() {
	discoveryInserts.Inc()
}

// IncFileRequest records a file-server response.
func IncFileRequest(route, code string) {
	fileRequests.WithLabelValues(route, code).Inc()
}
