package dag

import (
	"sort"
	"sync"
	"time"

	"github.com/swarmguard/constellation/internal/cerrors"
)

// Constellation is a mutable DAG of tasks connected by dependency edges.
// Grounded on the teacher's in-memory workflow graph in dag_engine.go,
// generalized to the editable, long-lived graph of
// original_source/galaxy/constellation/task_constellation.py.
type Constellation struct {
	mu sync.RWMutex

	ID        string
	Name      string
	CreatedAt time.Time

	tasks map[string]*Task
	edges map[string]*Edge // edge ID -> edge

	// adjacency, derived and kept in sync on every mutation
	outgoing map[string][]string // task ID -> edge IDs where From == task
	incoming map[string][]string // task ID -> edge IDs where To == task

	insertOrder []string // task IDs in insertion order, for tie-breaking

	Predicates *PredicateRegistry

	ids *IDManager

	startedAt   *time.Time
	completedAt *time.Time
}

// New creates an empty constellation with a freshly issued ID.
func New(name string, ids *IDManager) *Constellation {
	if ids == nil {
		ids = Default()
	}
	return &Constellation{
		ID:         ids.NextConstellationID(),
		Name:       name,
		CreatedAt:  time.Now(),
		tasks:      make(map[string]*Task),
		edges:      make(map[string]*Edge),
		outgoing:   make(map[string][]string),
		incoming:   make(map[string][]string),
		Predicates: NewPredicateRegistry(),
		ids:        ids,
	}
}

// AddTask inserts a task, assigning an ID if empty. Returns the final ID.
func (c *Constellation) AddTask(t *Task) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t == nil {
		return "", cerrors.Validation("task", "must not be nil")
	}
	if t.ID == "" {
		t.ID = c.ids.NextTaskID()
	}
	if _, exists := c.tasks[t.ID]; exists {
		return "", cerrors.Validation("task.id", "duplicate task id "+t.ID)
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	c.tasks[t.ID] = t
	c.insertOrder = append(c.insertOrder, t.ID)
	return t.ID, nil
}

// RemoveTask deletes a task and every edge touching it.
func (c *Constellation) RemoveTask(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return cerrors.NotFound("task", id)
	}
	if t.Status == StatusRunning {
		return cerrors.Invariant("cannot remove task " + id + " while it is running")
	}
	for _, eid := range append([]string(nil), c.outgoing[id]...) {
		c.removeEdgeLocked(eid)
	}
	for _, eid := range append([]string(nil), c.incoming[id]...) {
		c.removeEdgeLocked(eid)
	}
	delete(c.tasks, id)
	delete(c.outgoing, id)
	delete(c.incoming, id)
	for i, tid := range c.insertOrder {
		if tid == id {
			c.insertOrder = append(c.insertOrder[:i], c.insertOrder[i+1:]...)
			break
		}
	}
	return nil
}

// AddDependency creates an edge "to depends on from". Rejects self-loops,
// duplicate edges, and edges that would introduce a cycle.
func (c *Constellation) AddDependency(from, to string, kind EdgeKind, predicateName string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if from == to {
		return "", cerrors.Invariant("a task cannot depend on itself")
	}
	if _, ok := c.tasks[from]; !ok {
		return "", cerrors.NotFound("task", from)
	}
	if _, ok := c.tasks[to]; !ok {
		return "", cerrors.NotFound("task", to)
	}
	for _, eid := range c.incoming[to] {
		e := c.edges[eid]
		if e.From == from {
			return "", cerrors.Validation("dependency", "duplicate edge "+from+"->"+to)
		}
	}
	if c.wouldCreateCycleLocked(from, to) {
		return "", cerrors.Invariant("adding " + from + "->" + to + " would create a cycle")
	}

	e := &Edge{
		ID:            c.ids.NextLineID(),
		From:          from,
		To:            to,
		Kind:          kind,
		PredicateName: predicateName,
	}
	c.edges[e.ID] = e
	c.outgoing[from] = append(c.outgoing[from], e.ID)
	c.incoming[to] = append(c.incoming[to], e.ID)
	c.tasks[to].Dependencies = append(c.tasks[to].Dependencies, from)
	c.tasks[from].Dependents = append(c.tasks[from].Dependents, to)
	return e.ID, nil
}

// RemoveDependency deletes the edge with the given ID.
func (c *Constellation) RemoveDependency(edgeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.edges[edgeID]; !ok {
		return cerrors.NotFound("edge", edgeID)
	}
	c.removeEdgeLocked(edgeID)
	return nil
}

func (c *Constellation) removeEdgeLocked(edgeID string) {
	e, ok := c.edges[edgeID]
	if !ok {
		return
	}
	delete(c.edges, edgeID)
	c.outgoing[e.From] = removeString(c.outgoing[e.From], edgeID)
	c.incoming[e.To] = removeString(c.incoming[e.To], edgeID)
	if t, ok := c.tasks[e.To]; ok {
		t.Dependencies = removeString(t.Dependencies, e.From)
	}
	if t, ok := c.tasks[e.From]; ok {
		t.Dependents = removeString(t.Dependents, e.To)
	}
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// wouldCreateCycleLocked reports whether adding from->to introduces a cycle,
// i.e. whether to can already reach from. Must be called with mu held.
func (c *Constellation) wouldCreateCycleLocked(from, to string) bool {
	visited := make(map[string]bool)
	var dfs func(id string) bool
	dfs = func(id string) bool {
		if id == from {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for _, eid := range c.outgoing[id] {
			if dfs(c.edges[eid].To) {
				return true
			}
		}
		return false
	}
	return dfs(to)
}

// HasCycle runs a fresh three-color DFS cycle check over the whole graph.
func (c *Constellation) HasCycle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasCycleLocked()
}

func (c *Constellation) hasCycleLocked() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(c.tasks))
	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		for _, eid := range c.outgoing[id] {
			next := c.edges[eid].To
			switch color[next] {
			case gray:
				return true
			case white:
				if dfs(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for id := range c.tasks {
		if color[id] == white {
			if dfs(id) {
				return true
			}
		}
	}
	return false
}

// Task returns a clone of the task with the given ID.
func (c *Constellation) Task(id string) (*Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	if !ok {
		return nil, cerrors.NotFound("task", id)
	}
	return t.Clone(), nil
}

// Tasks returns clones of all tasks in insertion order.
func (c *Constellation) Tasks() []*Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Task, 0, len(c.insertOrder))
	for _, id := range c.insertOrder {
		out = append(out, c.tasks[id].Clone())
	}
	return out
}

// Edges returns all edges, sorted by ID for deterministic output.
func (c *Constellation) Edges() []*Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Edge, 0, len(c.edges))
	for _, e := range c.edges {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateTaskStatus mutates a task's status and timestamps in place.
func (c *Constellation) UpdateTaskStatus(id string, status TaskStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return cerrors.NotFound("task", id)
	}
	t.Status = status
	now := time.Now()
	switch status {
	case StatusRunning:
		t.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		t.CompletedAt = &now
	}
	return nil
}

// ReplaceTask overwrites the stored task fields for id with replacement,
// preserving the existing graph adjacency (Dependencies/Dependents are
// taken from the current stored task, not from replacement, since edge
// membership is only ever changed via AddDependency/RemoveDependency).
func (c *Constellation) ReplaceTask(id string, replacement *Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.tasks[id]
	if !ok {
		return cerrors.NotFound("task", id)
	}
	if existing.Status == StatusRunning {
		return cerrors.Invariant("cannot update task " + id + " while it is running")
	}
	cp := replacement.Clone()
	cp.ID = existing.ID
	cp.Dependencies = existing.Dependencies
	cp.Dependents = existing.Dependents
	c.tasks[id] = cp
	return nil
}

// ValidateDAG checks acyclicity and referential integrity, returning a
// human-readable diagnostic list. Supplemented from
// original_source/galaxy/constellation/task_constellation.py's validate_dag,
// which reports every violation found rather than stopping at the first.
func (c *Constellation) ValidateDAG() (bool, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var problems []string

	if c.hasCycleLocked() {
		problems = append(problems, "graph contains a cycle")
	}
	for id, t := range c.tasks {
		for _, dep := range t.Dependencies {
			if _, ok := c.tasks[dep]; !ok {
				problems = append(problems, "task "+id+" depends on unknown task "+dep)
			}
		}
	}
	for _, e := range c.edges {
		if _, ok := c.tasks[e.From]; !ok {
			problems = append(problems, "edge "+e.ID+" references unknown source task "+e.From)
		}
		if _, ok := c.tasks[e.To]; !ok {
			problems = append(problems, "edge "+e.ID+" references unknown target task "+e.To)
		}
		if e.Kind == EdgeConditional {
			if _, ok := c.Predicates.Lookup(e.PredicateName); !ok {
				problems = append(problems, "edge "+e.ID+" references unregistered predicate "+e.PredicateName)
			}
		}
	}
	return len(problems) == 0, problems
}
