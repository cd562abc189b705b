package orchestrator

import "go.opentelemetry.io/otel/metric"

// newInstruments builds the orchestrator's otel counters/gauges from meter.
// Grounded on the teacher's per-service instrument structs in dag_engine.go
// and persistence.go (a plain struct of metric.* fields built once at
// construction, never recreated per call).
func newInstruments(meter metric.Meter) *instruments {
	inst := &instruments{}
	inst.tasksDispatched, _ = meter.Int64Counter("constellation_tasks_dispatched_total")
	inst.tasksCompleted, _ = meter.Int64Counter("constellation_tasks_completed_total")
	inst.tasksFailed, _ = meter.Int64Counter("constellation_tasks_failed_total")
	inst.inflightGauge, _ = meter.Int64UpDownCounter("constellation_tasks_inflight")
	return inst
}
