package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lifecycle metrics
var (
	ProvisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ctfcore",
		Subsystem: "lifecycle",
		Name:      "provision_latency_seconds",
		Help:      "Latency of provisioning a challenge instance",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	LiveInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ctfcore",
		Subsystem: "lifecycle",
		Name:      "live_instances",
		Help:      "Number of instances currently registered",
	})

	RuntimeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ctfcore",
		Subsystem: "lifecycle",
		Name:      "runtime_errors_total",
		Help:      "Total number of failed runtime engine operations",
	})

	PersistenceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ctfcore",
		Subsystem: "lifecycle",
		Name:      "persistence_errors_total",
		Help:      "Total number of registry writes that failed after a runtime side effect",
	})

	CompensationsRun = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ctfcore",
		Subsystem: "lifecycle",
		Name:      "compensations_total",
		Help:      "Total number of compensating stop+remove cleanups",
	})
)

// Bulk reset metrics
var (
	ReprovisionRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ctfcore",
		Subsystem: "reprovision",
		Name:      "runs_total",
		Help:      "Total number of bulk reprovision runs",
	})

	ReprovisionUnitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ctfcore",
		Subsystem: "reprovision",
		Name:      "unit_failures_total",
		Help:      "Per-phase count of failed reprovision units",
	}, []string{"phase"})
)
