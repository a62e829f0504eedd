package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livuals",
			Subsystem: "launcher",
			Name:      "launches_total",
			Help:      "Launch sequences by final outcome.",
		}, []string{"outcome"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "livuals",
			Subsystem: "launcher",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each launch stage.",
			// installs can take tens of minutes
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 18),
		}, []string{"stage"},
	)
	bootstrapRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livuals",
			Subsystem: "bootstrap",
			Name:      "installer_runs_total",
			Help:      "Installer invocations by result.",
		}, []string{"result"},
	)
	probeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livuals",
			Subsystem: "probe",
			Name:      "attempts_total",
			Help:      "Readiness probe attempts by result.",
		}, []string{"result"},
	)
	backendRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "livuals",
			Subsystem: "backend",
			Name:      "running",
			Help:      "1 while the launcher holds a backend process handle.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, stageDuration, bootstrapRuns, probeAttempts, backendRunning}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Helpers no-op until Register has been called.

func IncLaunch(outcome string) {
	if regOK.Load() {
		launches.WithLabelValues(outcome).Inc()
	}
}

func ObserveStage(stage string, seconds float64) {
	if regOK.Load() {
		stageDuration.WithLabelValues(stage).Observe(seconds)
	}
}

func IncBootstrap(result string) {
	if regOK.Load() {
		bootstrapRuns.WithLabelValues(result).Inc()
	}
}

func IncProbe(ok bool) {
	if !regOK.Load() {
		return
	}
	result := "fail"
	if ok {
		result = "ok"
	}
	probeAttempts.WithLabelValues(result).Inc()
}

func SetBackendRunning(running bool) {
	if !regOK.Load() {
		return
	}
	var v float64
	if running {
		v = 1
	}
	backendRunning.Set(v)
}
