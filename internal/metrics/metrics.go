// Package metrics exposes the engine's Prometheus instrumentation, tagged by
// tenant, protocol and status.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConfigurationsCreated counts configuration create events.
	ConfigurationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inlet",
		Name:      "configurations_created_total",
		Help:      "Total retrieval configurations created.",
	}, []string{"tenant"})

	// ConfigurationsDeleted counts configuration delete events.
	ConfigurationsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inlet",
		Name:      "configurations_deleted_total",
		Help:      "Total retrieval configurations deleted.",
	}, []string{"tenant"})

	// ChecksExecuted counts file-check executions by outcome.
	ChecksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inlet",
		Name:      "checks_executed_total",
		Help:      "Total file checks executed.",
	}, []string{"tenant", "protocol", "status"})

	// FilesDiscovered counts newly discovered files.
	FilesDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inlet",
		Name:      "files_discovered_total",
		Help:      "Total files discovered for the first time.",
	}, []string{"tenant", "protocol"})

	// ExecutionFailures counts failed executions by error category.
	ExecutionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inlet",
		Name:      "execution_failures_total",
		Help:      "Total failed file checks by error category.",
	}, []string{"tenant", "protocol", "category"})

	// SkippedOverlappingFires counts fires skipped because the previous
	// execution of the same configuration was still running.
	SkippedOverlappingFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inlet",
		Subsystem: "scheduler",
		Name:      "skipped_overlapping_fires_total",
		Help:      "Fires skipped due to an overlapping in-flight execution.",
	}, []string{"tenant", "config"})

	// CheckDuration tracks file-check latency.
	CheckDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inlet",
		Name:      "check_duration_seconds",
		Help:      "File check duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"protocol", "status"})

	// ActiveConfigurations tracks armed configurations per tenant.
	ActiveConfigurations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inlet",
		Name:      "active_configurations",
		Help:      "Active retrieval configurations by tenant.",
	}, []string{"tenant"})

	// ExecutionsInFlight tracks currently running executions per protocol.
	ExecutionsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inlet",
		Name:      "executions_in_flight",
		Help:      "Executions currently in flight by protocol.",
	}, []string{"protocol"})

	// ArmedConfigurations tracks the size of the scheduler's fire table.
	ArmedConfigurations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "inlet",
		Subsystem: "scheduler",
		Name:      "armed_configurations",
		Help:      "Configurations currently armed in the scheduler.",
	})
)
