// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transitions counts lifecycle transition attempts.
// Use RegisterMetrics to register this with a Prometheus registry.
var Transitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "extd_extension_transitions_total",
		Help: "Total number of extension lifecycle transitions",
	},
	[]string{"transition", "outcome"},
)

// ExtensionsByPhase is the number of known extensions in each phase.
// Use RegisterMetrics to register this with a Prometheus registry.
var ExtensionsByPhase = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "extd_extensions",
		Help: "Number of registered extensions by lifecycle phase",
	},
	[]string{"phase"},
)

// DiscoveryFailures counts containers that could not be registered.
// Use RegisterMetrics to register this with a Prometheus registry.
var DiscoveryFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "extd_extension_discovery_failures_total",
		Help: "Total number of extension containers rejected during discovery",
	},
)

// StepDuration is the histogram for batch step duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var StepDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "extd_extension_step_duration_seconds",
		Help:    "Duration of extension lifecycle batch steps in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"step"},
)

// RegisterMetrics registers extension package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Transitions)
	reg.MustRegister(ExtensionsByPhase)
	reg.MustRegister(DiscoveryFailures)
	reg.MustRegister(StepDuration)
}

// RecordTransition increments the transition counter.
func RecordTransition(transition, outcome string) {
	Transitions.WithLabelValues(transition, outcome).Inc()
}

// RecordStepDuration records how long a batch step took.
func RecordStepDuration(step string, d time.Duration) {
	StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// recordPhases resets the phase gauge from a population snapshot.
func recordPhases(exts []*Extension) {
	counts := make(map[Phase]int, len(Phases))
	for _, ext := range exts {
		counts[ext.Phase()]++
	}
	for _, p := range Phases {
		ExtensionsByPhase.WithLabelValues(p.String()).Set(float64(counts[p]))
	}
}
