package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devloop",
			Subsystem: "process",
			Name:      "spawns_total",
			Help:      "Number of successful child process spawns.",
		}, []string{"name"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devloop",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of child process exits by exit code (-1 = signalled).",
		}, []string{"name", "code"},
	)
	restarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devloop",
			Name:      "restarts_total",
			Help:      "Number of supervised application restarts.",
		},
	)
	changeEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devloop",
			Name:      "change_events_total",
			Help:      "Number of filesystem change notifications received.",
		},
	)
	readinessWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devloop",
			Subsystem: "readiness",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a readiness marker, by outcome.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"name", "outcome"},
	)
	buildStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devloop",
			Subsystem: "build",
			Name:      "step_duration_seconds",
			Help:      "Duration of build pipeline steps, by outcome.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"step", "outcome"},
	)
	trackedProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "devloop",
			Name:      "tracked_processes",
			Help:      "Current number of handles tracked per registry.",
		}, []string{"registry"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processSpawns, processExits, restarts, changeEvents, readinessWait, buildStepDuration, trackedProcesses}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Enabled reports whether Register has succeeded.
func Enabled() bool { return regOK.Load() }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(name string) {
	if regOK.Load() {
		processSpawns.WithLabelValues(name).Inc()
	}
}

func IncExit(name string, code int) {
	if regOK.Load() {
		processExits.WithLabelValues(name, strconv.Itoa(code)).Inc()
	}
}

func IncRestart() {
	if regOK.Load() {
		restarts.Inc()
	}
}

func IncChangeEvent() {
	if regOK.Load() {
		changeEvents.Inc()
	}
}

func ObserveReadiness(name, outcome string, seconds float64) {
	if regOK.Load() {
		readinessWait.WithLabelValues(name, outcome).Observe(seconds)
	}
}

func ObserveBuildStep(step, outcome string, seconds float64) {
	if regOK.Load() {
		buildStepDuration.WithLabelValues(step, outcome).Observe(seconds)
	}
}

func SetTracked(registry string, n int) {
	if regOK.Load() {
		trackedProcesses.WithLabelValues(registry).Set(float64(n))
	}
}
