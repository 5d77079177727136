// Package metrics defines the Prometheus metrics exported by netqual.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netqual_active_sessions",
			Help: "Number of measurement sessions currently running.",
		})
	CycleCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netqual_cycles_total",
			Help: "Number of measurement cycles, by outcome.",
		},
		[]string{"outcome"},
	)
	PhaseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netqual_phase_errors_total",
			Help: "Number of failed measurement phases, by phase and kind.",
		},
		[]string{"phase", "kind"},
	)
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "netqual_phase_duration_ms",
			Help: "A histogram of successful measurement phase durations.",
			Buckets: []float64{
				1, 2.5, 5, 10, 25, 50, 100,
				250, 500, 1000, 2500, 5000},
		},
		[]string{"phase"},
	)
	QualityScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netqual_quality_score",
			Help:    "A histogram of connection quality scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
		[]string{"target"},
	)
	Alerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netqual_alerts_total",
			Help: "Number of alerts raised, by target.",
		},
		[]string{"target"},
	)
	StatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netqual_status_changes_total",
			Help: "Number of target status transitions, by new status.",
		},
		[]string{"status"},
	)
)
