// Package metrics defines the Prometheus collectors exported by the sampling
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for a sampling process.
type Metrics struct {
	IterationsTotal            prometheus.Counter
	LikelihoodEvaluationsTotal prometheus.Counter
	DrawAttempts               prometheus.Histogram
	DrawExhaustionsTotal       prometheus.Counter
	ReclusteringsTotal         prometheus.Counter
	ReclusterDuration          prometheus.Histogram
	DegenerateClustersTotal    prometheus.Counter
	Clusters                   prometheus.Gauge
	LivePoints                 prometheus.Gauge
	LogEvidence                prometheus.Gauge
	InformationGain            prometheus.Gauge
	RunsTotal                  *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. Passing nil
// registers with the Prometheus default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		IterationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nested_iterations_total",
				Help: "Total nested sampling iterations (replacements and removals).",
			},
		),
		LikelihoodEvaluationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nested_likelihood_evaluations_total",
				Help: "Total log-likelihood evaluations.",
			},
		),
		DrawAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nested_draw_attempts",
				Help:    "Candidate points drawn per constrained replacement.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		DrawExhaustionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nested_draw_exhaustions_total",
				Help: "Constrained draws that hit the attempt cap.",
			},
		),
		ReclusteringsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nested_reclusterings_total",
				Help: "Total live-point re-clustering events.",
			},
		),
		ReclusterDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nested_recluster_duration_seconds",
				Help:    "Time spent selecting a live-point partition.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		DegenerateClustersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nested_degenerate_clusters_total",
				Help: "Clusters that fell back to a minimum-volume ellipsoid.",
			},
		),
		Clusters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nested_clusters",
				Help: "Number of clusters in the current live-point partition.",
			},
		),
		LivePoints: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nested_live_points",
				Help: "Current number of live points.",
			},
		),
		LogEvidence: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nested_log_evidence",
				Help: "Running natural-log evidence estimate.",
			},
		),
		InformationGain: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nested_information_gain_nats",
				Help: "Running information gain H in nats.",
			},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nested_runs_total",
				Help: "Completed runs by outcome (ok, draw_exhausted, error, cached).",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.IterationsTotal,
		m.LikelihoodEvaluationsTotal,
		m.DrawAttempts,
		m.DrawExhaustionsTotal,
		m.ReclusteringsTotal,
		m.ReclusterDuration,
		m.DegenerateClustersTotal,
		m.Clusters,
		m.LivePoints,
		m.LogEvidence,
		m.InformationGain,
		m.RunsTotal,
	)

	return m
}

// Handler returns the scrape handler for g, or for the default gatherer when
// g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
