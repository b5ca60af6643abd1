// Package metrics defines the Prometheus collectors exposed by the
// orchestrator's /metrics endpoint, grounded on the teacher's use of
// prometheus/client_golang for service instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AuditAppendsTotal counts successful audit chain appends.
	AuditAppendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_appends_total",
		Help: "Total number of records appended to the audit chain.",
	})

	// AuditVerifyFailuresTotal counts audit chain verification failures
	// (tamper detections).
	AuditVerifyFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_verify_failures_total",
		Help: "Total number of audit chain verify() calls that detected tampering.",
	})

	// WorkflowRunsTotal counts workflow engine runs by terminal status.
	WorkflowRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_runs_total",
		Help: "Total number of workflow engine runs by terminal status.",
	}, []string{"status"})

	// SelfHealAttemptsTotal counts self-heal recovery attempts by outcome.
	SelfHealAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_self_heal_attempts_total",
		Help: "Total number of self-heal recovery attempts by outcome (success|failure).",
	}, []string{"outcome"})

	// SupervisorSpawnsTotal counts agent CLI spawns by mode and outcome.
	SupervisorSpawnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_spawns_total",
		Help: "Total number of agent CLI spawns by mode and outcome.",
	}, []string{"mode", "outcome"})

	// SignalsCreatedTotal counts signals created by type.
	SignalsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signals_created_total",
		Help: "Total number of signals created by type.",
	}, []string{"type"})
)

// Collectors returns every collector in this package for a single
// registration call.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		AuditAppendsTotal,
		AuditVerifyFailuresTotal,
		WorkflowRunsTotal,
		SelfHealAttemptsTotal,
		SupervisorSpawnsTotal,
		SignalsCreatedTotal,
	}
}

// MustRegister registers every collector in this package against reg.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(Collectors()...)
}
