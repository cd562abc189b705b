package orchestrator

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CancellationManager tracks in-flight task executions per constellation so
// Cancel can both flip the scheduling-loop flags and reach into the device
// collaborator to abort anything already dispatched. Grounded on the
// teacher's CancellationManager in cancellation.go, generalized from a
// single workflow-execution registry to a constellation/task two-level one.
type CancellationManager struct {
	mu sync.Mutex

	global     bool
	cancelled  map[string]bool                    // constellationID -> cancelled
	inflight   map[string]map[string]func()        // constellationID -> taskID -> cancel func
	cancelCounter metric.Int64Counter
}

// NewCancellationManager builds a manager, wiring a cancellation counter
// into meter if provided.
func NewCancellationManager(meter metric.Meter) *CancellationManager {
	var counter metric.Int64Counter
	if meter != nil {
		counter, _ = meter.Int64Counter("constellation_cancellations_total")
	}
	return &CancellationManager{
		cancelled:     make(map[string]bool),
		inflight:      make(map[string]map[string]func()),
		cancelCounter: counter,
	}
}

// RegisterInflight records an in-flight task execution's cancel func so a
// later Cancel call can abort it.
func (cm *CancellationManager) RegisterInflight(constellationID, taskID string, cancel func()) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	m, ok := cm.inflight[constellationID]
	if !ok {
		m = make(map[string]func())
		cm.inflight[constellationID] = m
	}
	m[taskID] = cancel
}

// UnregisterInflight removes a task from the in-flight table once it
// terminates on its own.
func (cm *CancellationManager) UnregisterInflight(constellationID, taskID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if m, ok := cm.inflight[constellationID]; ok {
		delete(m, taskID)
	}
}

// IsCancelled reports whether the given constellation (or the whole
// process) has been asked to cancel.
func (cm *CancellationManager) IsCancelled(constellationID string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.global || cm.cancelled[constellationID]
}

// Cancel is idempotent and safe on an unknown ID. It sets the
// per-constellation flag, invokes every registered in-flight cancel func,
// and clears the in-flight table: by the time it returns, the table for
// constellationID is guaranteed empty.
func (cm *CancellationManager) Cancel(ctx context.Context, constellationID string) bool {
	cm.mu.Lock()
	alreadyCancelled := cm.cancelled[constellationID]
	cm.cancelled[constellationID] = true
	inflight := cm.inflight[constellationID]
	delete(cm.inflight, constellationID)
	cm.mu.Unlock()

	for _, cancel := range inflight {
		cancel()
	}

	if cm.cancelCounter != nil {
		cm.cancelCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("constellation_id", constellationID)))
	}
	return !alreadyCancelled
}

// CancelGlobal sets the process-wide flag, affecting every constellation's
// IsCancelled check from this point on.
func (cm *CancellationManager) CancelGlobal() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.global = true
}

// InflightCount reports how many tasks are currently registered for a
// constellation, for tests asserting the post-cancel invariant.
func (cm *CancellationManager) InflightCount(constellationID string) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.inflight[constellationID])
}

// Forget drops cancellation bookkeeping for a constellation. Callers
// should call this once a constellation's terminal event has been
// published, so the maps don't grow unbounded across a long-running
// process.
func (cm *CancellationManager) Forget(constellationID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.cancelled, constellationID)
	delete(cm.inflight, constellationID)
}

// CancelAll cancels every tracked constellation, for process shutdown.
func (cm *CancellationManager) CancelAll(ctx context.Context) int {
	cm.mu.Lock()
	ids := make([]string, 0, len(cm.inflight))
	for id := range cm.inflight {
		ids = append(ids, id)
	}
	cm.mu.Unlock()

	n := 0
	for _, id := range ids {
		if cm.Cancel(ctx, id) {
			n++
		}
	}
	return n
}
