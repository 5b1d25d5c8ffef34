package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"run", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shiftctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"run", "method", "path", "status"},
	)
	pollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftctl",
			Subsystem: "controller",
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by verdict or absorbed error kind.",
		},
		[]string{"run", "verdict"},
	)
	trafficWeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shiftctl",
			Subsystem: "controller",
			Name:      "traffic_weight",
			Help:      "Committed traffic weight per environment.",
		},
		[]string{"run", "environment"},
	)
	migrationPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shiftctl",
			Subsystem: "controller",
			Name:      "phase",
			Help:      "Current migration phase (1 for the active phase label).",
		},
		[]string{"run", "phase"},
	)
	casConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftctl",
			Subsystem: "controller",
			Name:      "cas_conflicts_total",
			Help:      "Weight store compare-and-swap conflicts.",
		},
		[]string{"run"},
	)
	collaboratorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shiftctl",
			Subsystem: "collaborator",
			Name:      "requests_total",
			Help:      "Requests to external collaborators.",
		},
		[]string{"run", "collaborator", "success"},
	)
	collaboratorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shiftctl",
			Subsystem: "collaborator",
			Name:      "request_duration_seconds",
			Help:      "Collaborator request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"run", "collaborator", "success"},
	)
)

var knownPhases = []string{"initializing", "validating", "shifting", "completed", "rolled_back"}

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			pollCycles, trafficWeight, migrationPhase, casConflicts,
			collaboratorRequests, collaboratorDuration,
		)
	})
}

func RecordHTTPRequest(run, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(run, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(run, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPollCycle(run, verdict string) {
	RegisterMetrics()
	pollCycles.WithLabelValues(run, verdict).Inc()
}

func RecordWeight(run string, oldWeight, newWeight int) {
	RegisterMetrics()
	trafficWeight.WithLabelValues(run, "old").Set(float64(oldWeight))
	trafficWeight.WithLabelValues(run, "new").Set(float64(newWeight))
}

func RecordPhase(run, phase string) {
	RegisterMetrics()
	for _, p := range knownPhases {
		value := 0.0
		if p == phase {
			value = 1.0
		}
		migrationPhase.WithLabelValues(run, p).Set(value)
	}
}

func RecordCASConflict(run string) {
	RegisterMetrics()
	casConflicts.WithLabelValues(run).Inc()
}

func RecordCollaboratorRequest(run, collaborator string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	collaboratorRequests.WithLabelValues(run, collaborator, successLabel).Inc()
	collaboratorDuration.WithLabelValues(run, collaborator, successLabel).
		Observe(duration.Seconds())
}
