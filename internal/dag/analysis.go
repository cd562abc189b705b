package dag

import (
	"fmt"
	"sort"
	"time"
)

// ReadyTasks returns tasks whose dependencies are all satisfied and which
// are themselves still PENDING, sorted by descending priority then
// insertion order, per spec.md §4.1's readiness computation.
func (c *Constellation) ReadyTasks() []*Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ready []*Task
	for _, id := range c.insertOrder {
		t := c.tasks[id]
		if t.Status != StatusPending && t.Status != StatusWaitingDependency {
			continue
		}
		if c.dependenciesSatisfiedLocked(id) {
			ready = append(ready, t.Clone())
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority > ready[j].Priority
	})
	return ready
}

// dependenciesSatisfiedLocked reports whether every incoming edge of id is
// satisfied. mu must be held.
func (c *Constellation) dependenciesSatisfiedLocked(id string) bool {
	for _, eid := range c.incoming[id] {
		e := c.edges[eid]
		up := c.tasks[e.From]
		if !e.Satisfied(up, c.Predicates) {
			return false
		}
	}
	return true
}

// Blocked returns task IDs that can never become ready because an upstream
// edge requirement permanently failed.
func (c *Constellation) Blocked() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var blocked []string
	for _, id := range c.insertOrder {
		t := c.tasks[id]
		if t.Status.Terminal() {
			continue
		}
		for _, eid := range c.incoming[id] {
			e := c.edges[eid]
			if e.Blocks(c.tasks[e.From], c.Predicates) {
				blocked = append(blocked, id)
				break
			}
		}
	}
	return blocked
}

// TopologicalOrder runs Kahn's algorithm, breaking ties by insertion order.
func (c *Constellation) TopologicalOrder() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	indegree := make(map[string]int, len(c.tasks))
	for id := range c.tasks {
		indegree[id] = len(c.incoming[id])
	}

	rank := make(map[string]int, len(c.insertOrder))
	for i, id := range c.insertOrder {
		rank[id] = i
	}

	var queue []string
	for _, id := range c.insertOrder {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return rank[queue[i]] < rank[queue[j]] })

	var order []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)

		var newlyReady []string
		for _, eid := range c.outgoing[next] {
			to := c.edges[eid].To
			indegree[to]--
			if indegree[to] == 0 {
				newlyReady = append(newlyReady, to)
			}
		}
		sort.Slice(newlyReady, func(i, j int) bool { return rank[newlyReady[i]] < rank[newlyReady[j]] })
		queue = append(queue, newlyReady...)
		sort.SliceStable(queue, func(i, j int) bool { return rank[queue[i]] < rank[queue[j]] })
	}

	if len(order) != len(c.tasks) {
		return nil, fmt.Errorf("graph contains a cycle, only %d of %d tasks ordered", len(order), len(c.tasks))
	}
	return order, nil
}

// LongestPath returns the task IDs on the longest path by node count, using
// parent-pointer reconstruction over the topological order and
// insertion-order tie-breaking among equal-length candidates.
func (c *Constellation) LongestPath() ([]string, error) {
	order, err := c.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	dist := make(map[string]int, len(order))
	parent := make(map[string]string, len(order))
	for _, id := range order {
		dist[id] = 1
	}

	for _, id := range order {
		for _, eid := range c.outgoing[id] {
			to := c.edges[eid].To
			if dist[id]+1 > dist[to] {
				dist[to] = dist[id] + 1
				parent[to] = id
			}
		}
	}

	best := ""
	bestLen := 0
	for _, id := range order {
		if dist[id] > bestLen {
			bestLen = dist[id]
			best = id
		}
	}
	if best == "" {
		return nil, nil
	}

	var path []string
	for cur := best; cur != ""; {
		path = append([]string{cur}, path...)
		p, ok := parent[cur]
		if !ok {
			break
		}
		cur = p
	}
	return path, nil
}

// CriticalPathDuration returns the sum of task durations along the path of
// maximal cumulative execution time, i.e. the weighted longest path using
// each task's Timeout as its estimated duration when it has not yet run, or
// its actual Duration() once completed.
func (c *Constellation) CriticalPathDuration() (time.Duration, []string, error) {
	order, err := c.TopologicalOrder()
	if err != nil {
		return 0, nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	weight := func(id string) time.Duration {
		t := c.tasks[id]
		if d := t.Duration(); d > 0 {
			return d
		}
		return t.Timeout
	}

	dist := make(map[string]time.Duration, len(order))
	parent := make(map[string]string, len(order))
	for _, id := range order {
		dist[id] = weight(id)
	}
	for _, id := range order {
		for _, eid := range c.outgoing[id] {
			to := c.edges[eid].To
			cand := dist[id] + weight(to)
			if cand > dist[to] {
				dist[to] = cand
				parent[to] = id
			}
		}
	}

	best := ""
	var bestDur time.Duration
	for _, id := range order {
		if dist[id] > bestDur {
			bestDur = dist[id]
			best = id
		}
	}
	if best == "" {
		return 0, nil, nil
	}
	var path []string
	for cur := best; cur != ""; {
		path = append([]string{cur}, path...)
		p, ok := parent[cur]
		if !ok {
			break
		}
		cur = p
	}
	return bestDur, path, nil
}

// MaxWidth returns the largest number of tasks reachable at the same BFS
// depth from the graph's roots (tasks with no dependencies).
func (c *Constellation) MaxWidth() (int, error) {
	order, err := c.TopologicalOrder()
	if err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	depth := make(map[string]int, len(order))
	widthAt := make(map[int]int)
	for _, id := range order {
		d := 0
		for _, eid := range c.incoming[id] {
			from := c.edges[eid].From
			if depth[from]+1 > d {
				d = depth[from] + 1
			}
		}
		depth[id] = d
		widthAt[d]++
	}
	max := 0
	for _, w := range widthAt {
		if w > max {
			max = w
		}
	}
	return max, nil
}

// ParallelismMetrics reports the work/length/parallelism ratio of the graph:
// W (total task count), L (longest path length, i.e. critical path node
// count), and P = W / L, per original_source's get_parallelism_metrics.
type ParallelismMetrics struct {
	Work        int
	Length      int
	Parallelism float64
}

func (c *Constellation) ParallelismMetrics() (ParallelismMetrics, error) {
	path, err := c.LongestPath()
	if err != nil {
		return ParallelismMetrics{}, err
	}
	c.mu.RLock()
	w := len(c.tasks)
	c.mu.RUnlock()

	l := len(path)
	p := 0.0
	if l > 0 {
		p = float64(w) / float64(l)
	}
	return ParallelismMetrics{Work: w, Length: l, Parallelism: p}, nil
}

// Statistics is a point-in-time count of tasks by status.
type Statistics struct {
	Total             int
	Pending           int
	Running           int
	Completed         int
	Failed            int
	Cancelled         int
	WaitingDependency int
}

func (c *Constellation) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var s Statistics
	for _, t := range c.tasks {
		s.Total++
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		case StatusWaitingDependency:
			s.WaitingDependency++
		}
	}
	return s
}

// DeriveState computes the constellation's lifecycle state as a pure
// function of its tasks' statuses, per spec.md §4.2. Cancellation dominates
// over partial failure, resolving the Open Question noted there.
func (c *Constellation) DeriveState() ConstellationState {
	s := c.Statistics()
	if s.Total == 0 {
		return StateCreated
	}
	if s.Cancelled > 0 {
		return StateCancelled
	}
	if s.Running > 0 || s.WaitingDependency > 0 {
		return StateExecuting
	}
	if s.Pending > 0 {
		if s.Completed == 0 && s.Failed == 0 {
			return StateCreated
		}
		return StateExecuting
	}
	if s.Failed > 0 && s.Completed > 0 {
		return StatePartiallyFailed
	}
	if s.Failed > 0 {
		return StateFailed
	}
	return StateCompleted
}

// Summary renders a short human-readable description of the graph, in the
// style of original_source's display_dag debug helper.
func (c *Constellation) Summary() string {
	stats := c.Statistics()
	metrics, err := c.ParallelismMetrics()
	if err != nil {
		return fmt.Sprintf("constellation %s: %d tasks, INVALID (%v)", c.ID, stats.Total, err)
	}
	return fmt.Sprintf(
		"constellation %s %q: %d tasks (%d completed, %d failed, %d running), work=%d length=%d parallelism=%.2f, state=%s",
		c.ID, c.Name, stats.Total, stats.Completed, stats.Failed, stats.Running,
		metrics.Work, metrics.Length, metrics.Parallelism, c.DeriveState(),
	)
}
