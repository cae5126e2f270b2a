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

	spawnAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fixturectl",
			Subsystem: "process",
			Name:      "spawn_attempts_total",
			Help:      "Number of spawn attempts, including retries.",
		}, []string{"name"},
	)
	startupFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fixturectl",
			Subsystem: "process",
			Name:      "startup_failures_total",
			Help:      "Number of processes that exhausted their start retries.",
		}, []string{"name"},
	)
	healthy = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fixturectl",
			Subsystem: "process",
			Name:      "healthy_total",
			Help:      "Number of processes confirmed healthy after spawn.",
		}, []string{"name"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fixturectl",
			Subsystem: "process",
			Name:      "terminations_total",
			Help:      "Number of reaped processes by termination mode.",
		}, []string{"name", "mode"},
	)
	startupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fixturectl",
			Subsystem: "process",
			Name:      "startup_duration_seconds",
			Help:      "Time from first spawn attempt to confirmed health.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fixturectl",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"name", "from", "to"},
	)
	malformedStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fixturectl",
			Subsystem: "health",
			Name:      "malformed_total",
			Help:      "Status documents that were reachable but could not be decoded.",
		}, []string{"addr"},
	)
	running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fixturectl",
			Name:      "running_processes",
			Help:      "Managed processes currently running.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{spawnAttempts, startupFailures, healthy, terminations, startupDuration, stateTransitions, malformedStatus, running}
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

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has succeeded.

func IncSpawnAttempt(name string) {
	if regOK.Load() {
		spawnAttempts.WithLabelValues(name).Inc()
	}
}

func IncStartupFailure(name string) {
	if regOK.Load() {
		startupFailures.WithLabelValues(name).Inc()
	}
}

func IncHealthy(name string) {
	if regOK.Load() {
		healthy.WithLabelValues(name).Inc()
	}
}

func IncTermination(name, mode string) {
	if regOK.Load() {
		terminations.WithLabelValues(name, mode).Inc()
	}
}

func ObserveStartupDuration(name string, seconds float64) {
	if regOK.Load() {
		startupDuration.WithLabelValues(name).Observe(seconds)
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func IncMalformedStatus(addr string) {
	if regOK.Load() {
		malformedStatus.WithLabelValues(addr).Inc()
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		running.Set(float64(n))
	}
}
