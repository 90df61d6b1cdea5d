// Package metrics records loop outcomes as Prometheus metrics and writes
// them to a node-exporter textfile after every iteration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
)

const namespace = "evoloop"

// Recorder holds the loop metrics in its own registry. A nil *Recorder
// records nothing.
type Recorder struct {
	registry *prometheus.Registry
	path     string

	iterations   *prometheus.CounterVec
	promotions   *prometheus.CounterVec
	attempts     *prometheus.HistogramVec
	deltas       *prometheus.HistogramVec
	championEdge prometheus.Gauge
	lastIter     prometheus.Gauge
	rollbacks    *prometheus.CounterVec
	evolutions   *prometheus.CounterVec
}

// New creates a recorder. Flush writes to path; an empty path disables
// writing.
func New(path string) *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		path:     path,

		// Labels: mechanism ("wildcard" for wildcard attempts), status
		iterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Iterations by mechanism and terminal status",
		}, []string{"mechanism", "status"}),

		promotions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Champion promotions by mechanism",
		}, []string{"mechanism"}),

		attempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_attempts",
			Help:      "Generation attempts per iteration, including regenerations",
			Buckets:   []float64{1, 2, 3, 4, 6},
		}, []string{"mechanism"}),

		deltas: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "edge_delta",
			Help:      "Measured edge delta of evaluated candidates",
			Buckets:   []float64{-5, -2, -1, -0.5, -0.1, 0, 0.1, 0.5, 1, 2, 5},
		}, []string{"mechanism"}),

		championEdge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "champion_edge",
			Help:      "Edge of the current champion",
		}),

		lastIter: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_iteration",
			Help:      "Number of the last recorded iteration",
		}),

		// Labels: reason (consecutive_invalid, severe_regression, ...)
		rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollbacks performed by reason",
		}, []string{"reason"}),

		evolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_evolutions_total",
			Help:      "Policy evolution runs by outcome",
		}, []string{"outcome"}),
	}
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Iteration records one log entry and the champion edge after it.
func (r *Recorder) Iteration(e ir.LogEntry, championEdge float64) {
	if r == nil {
		return
	}
	mech := e.Mechanism
	if e.Wildcard {
		mech = "wildcard"
	}
	r.iterations.WithLabelValues(mech, string(e.Status)).Inc()
	if e.Attempts > 0 {
		r.attempts.WithLabelValues(mech).Observe(float64(e.Attempts))
	}
	if e.Delta != nil {
		r.deltas.WithLabelValues(mech).Observe(*e.Delta)
	}
	if e.Promoted {
		r.promotions.WithLabelValues(mech).Inc()
	}
	r.championEdge.Set(championEdge)
	r.lastIter.Set(float64(e.Iteration))
}

// Rollback records a performed rollback.
func (r *Recorder) Rollback(reason string) {
	if r == nil {
		return
	}
	r.rollbacks.WithLabelValues(reason).Inc()
}

// Evolution records a policy evolution outcome.
func (r *Recorder) Evolution(outcome string) {
	if r == nil {
		return
	}
	r.evolutions.WithLabelValues(outcome).Inc()
}

// Flush writes the textfile atomically.
func (r *Recorder) Flush() error {
	if r == nil || r.path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(r.path, r.registry)
}
