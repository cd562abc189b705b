package dag

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDManager issues monotonically increasing task/line IDs and timestamped
// constellation IDs. Grounded on the teacher's process-wide atomic counters
// in dag_engine.go, generalized to the three ID shapes of spec.md §3.1.
type IDManager struct {
	mu         sync.Mutex
	taskSeq    int
	lineSeq    int
	now        func() time.Time
	randHex8   func() string
}

// NewIDManager builds a manager with real clock and randomness sources.
func NewIDManager() *IDManager {
	return &IDManager{
		now:      time.Now,
		randHex8: defaultHex8,
	}
}

// NewIDManagerWithSources builds a manager with injectable clock/randomness,
// for deterministic tests.
func NewIDManagerWithSources(now func() time.Time, randHex8 func() string) *IDManager {
	return &IDManager{now: now, randHex8: randHex8}
}

func (m *IDManager) NextTaskID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskSeq++
	return fmt.Sprintf("task_%03d", m.taskSeq)
}

func (m *IDManager) NextLineID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineSeq++
	return fmt.Sprintf("line_%03d", m.lineSeq)
}

func (m *IDManager) NextConstellationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("constellation_%s_%s", m.randHex8(), ts)
}

// process-wide default instance, mirroring the teacher's package-level
// singleton counters.
var defaultManager = NewIDManager()

// Default returns the process-wide ID manager singleton.
func Default() *IDManager { return defaultManager }

func defaultHex8() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
