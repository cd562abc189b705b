package editor

import (
	"github.com/swarmguard/constellation/internal/cerrors"
	"github.com/swarmguard/constellation/internal/dag"
)

// AddTaskCommand inserts a new task.
type AddTaskCommand struct {
	Task       *dag.Task
	assignedID string
}

func NewAddTask(t *dag.Task) *AddTaskCommand { return &AddTaskCommand{Task: t} }

func (c *AddTaskCommand) Name() string { return "add_task" }

func (c *AddTaskCommand) Apply(g *dag.Constellation) error {
	id, err := g.AddTask(c.Task)
	if err != nil {
		return err
	}
	c.assignedID = id
	return nil
}

func (c *AddTaskCommand) Revert(g *dag.Constellation) error {
	return g.RemoveTask(c.assignedID)
}

func (c *AddTaskCommand) TouchedFields() []string { return []string{c.assignedID} }

// RemoveTaskCommand deletes a task and every edge touching it, retaining
// enough state to fully restore both on Revert.
type RemoveTaskCommand struct {
	TaskID string

	removedTask  *dag.Task
	removedEdges []*dag.Edge
}

func NewRemoveTask(taskID string) *RemoveTaskCommand { return &RemoveTaskCommand{TaskID: taskID} }

func (c *RemoveTaskCommand) Name() string { return "remove_task" }

func (c *RemoveTaskCommand) Apply(g *dag.Constellation) error {
	t, err := g.Task(c.TaskID)
	if err != nil {
		return err
	}
	c.removedTask = t
	c.removedEdges = nil
	for _, e := range g.Edges() {
		if e.From == c.TaskID || e.To == c.TaskID {
			c.removedEdges = append(c.removedEdges, e)
		}
	}
	return g.RemoveTask(c.TaskID)
}

func (c *RemoveTaskCommand) Revert(g *dag.Constellation) error {
	if c.removedTask == nil {
		return cerrors.State("remove_task: nothing to restore")
	}
	if _, err := g.AddTask(c.removedTask); err != nil {
		return err
	}
	for _, e := range c.removedEdges {
		if _, err := g.AddDependency(e.From, e.To, e.Kind, e.PredicateName); err != nil {
			return err
		}
	}
	return nil
}

func (c *RemoveTaskCommand) TouchedFields() []string { return []string{c.TaskID} }

// UpdateTaskCommand applies a mutator function to a task in place,
// capturing the prior value for Revert.
type UpdateTaskCommand struct {
	TaskID string
	Mutate func(*dag.Task)
	before *dag.Task
}

func NewUpdateTask(taskID string, mutate func(*dag.Task)) *UpdateTaskCommand {
	return &UpdateTaskCommand{TaskID: taskID, Mutate: mutate}
}

func (c *UpdateTaskCommand) Name() string { return "update_task" }

func (c *UpdateTaskCommand) Apply(g *dag.Constellation) error {
	before, err := g.Task(c.TaskID)
	if err != nil {
		return err
	}
	c.before = before
	after := before.Clone()
	c.Mutate(after)
	return g.ReplaceTask(c.TaskID, after)
}

func (c *UpdateTaskCommand) Revert(g *dag.Constellation) error {
	if c.before == nil {
		return cerrors.State("update_task: nothing to restore")
	}
	return g.ReplaceTask(c.TaskID, c.before)
}

func (c *UpdateTaskCommand) TouchedFields() []string { return []string{c.TaskID} }

// AddDependencyCommand adds one edge.
type AddDependencyCommand struct {
	From, To, PredicateName string
	Kind                    dag.EdgeKind
	edgeID                  string
}

func NewAddDependency(from, to string, kind dag.EdgeKind, predicateName string) *AddDependencyCommand {
	return &AddDependencyCommand{From: from, To: to, Kind: kind, PredicateName: predicateName}
}

func (c *AddDependencyCommand) Name() string { return "add_dependency" }

func (c *AddDependencyCommand) Apply(g *dag.Constellation) error {
	id, err := g.AddDependency(c.From, c.To, c.Kind, c.PredicateName)
	if err != nil {
		return err
	}
	c.edgeID = id
	return nil
}

func (c *AddDependencyCommand) Revert(g *dag.Constellation) error {
	return g.RemoveDependency(c.edgeID)
}

func (c *AddDependencyCommand) TouchedFields() []string { return []string{c.From, c.To} }

// RemoveDependencyCommand removes one edge by ID.
type RemoveDependencyCommand struct {
	EdgeID  string
	removed *dag.Edge
}

func NewRemoveDependency(edgeID string) *RemoveDependencyCommand {
	return &RemoveDependencyCommand{EdgeID: edgeID}
}

func (c *RemoveDependencyCommand) Name() string { return "remove_dependency" }

func (c *RemoveDependencyCommand) Apply(g *dag.Constellation) error {
	for _, e := range g.Edges() {
		if e.ID == c.EdgeID {
			cp := *e
			c.removed = &cp
			break
		}
	}
	if c.removed == nil {
		return cerrors.NotFound("edge", c.EdgeID)
	}
	return g.RemoveDependency(c.EdgeID)
}

func (c *RemoveDependencyCommand) Revert(g *dag.Constellation) error {
	if c.removed == nil {
		return cerrors.State("remove_dependency: nothing to restore")
	}
	_, err := g.AddDependency(c.removed.From, c.removed.To, c.removed.Kind, c.removed.PredicateName)
	return err
}

func (c *RemoveDependencyCommand) TouchedFields() []string {
	if c.removed == nil {
		return []string{c.EdgeID}
	}
	return []string{c.removed.From, c.removed.To}
}

// UpdateDependencyCommand changes an edge's kind/predicate by removing and
// re-adding it, preserving the original for Revert.
type UpdateDependencyCommand struct {
	EdgeID           string
	NewKind          dag.EdgeKind
	NewPredicateName string

	original *dag.Edge
	newID    string
}

func NewUpdateDependency(edgeID string, newKind dag.EdgeKind, newPredicateName string) *UpdateDependencyCommand {
	return &UpdateDependencyCommand{EdgeID: edgeID, NewKind: newKind, NewPredicateName: newPredicateName}
}

func (c *UpdateDependencyCommand) Name() string { return "update_dependency" }

func (c *UpdateDependencyCommand) Apply(g *dag.Constellation) error {
	for _, e := range g.Edges() {
		if e.ID == c.EdgeID {
			cp := *e
			c.original = &cp
			break
		}
	}
	if c.original == nil {
		return cerrors.NotFound("edge", c.EdgeID)
	}
	if err := g.RemoveDependency(c.EdgeID); err != nil {
		return err
	}
	id, err := g.AddDependency(c.original.From, c.original.To, c.NewKind, c.NewPredicateName)
	if err != nil {
		g.AddDependency(c.original.From, c.original.To, c.original.Kind, c.original.PredicateName)
		return err
	}
	c.newID = id
	return nil
}

func (c *UpdateDependencyCommand) Revert(g *dag.Constellation) error {
	if c.original == nil {
		return cerrors.State("update_dependency: nothing to restore")
	}
	if err := g.RemoveDependency(c.newID); err != nil {
		return err
	}
	_, err := g.AddDependency(c.original.From, c.original.To, c.original.Kind, c.original.PredicateName)
	return err
}

func (c *UpdateDependencyCommand) TouchedFields() []string {
	if c.original == nil {
		return []string{c.EdgeID}
	}
	return []string{c.original.From, c.original.To}
}

// ClearCommand removes every task and edge, retaining a full snapshot for
// Revert.
type ClearCommand struct {
	savedTasks []*dag.Task
	savedEdges []*dag.Edge
}

func NewClear() *ClearCommand { return &ClearCommand{} }

func (c *ClearCommand) Name() string { return "clear" }

func (c *ClearCommand) Apply(g *dag.Constellation) error {
	c.savedTasks = g.Tasks()
	c.savedEdges = g.Edges()
	for _, t := range c.savedTasks {
		if err := g.RemoveTask(t.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClearCommand) Revert(g *dag.Constellation) error {
	for _, t := range c.savedTasks {
		if _, err := g.AddTask(t); err != nil {
			return err
		}
	}
	for _, e := range c.savedEdges {
		if _, err := g.AddDependency(e.From, e.To, e.Kind, e.PredicateName); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClearCommand) TouchedFields() []string { return nil }

// BulkBuildCommand applies a caller-supplied batch of tasks and edges in
// one atomic command, so validation and undo treat the whole batch as a
// single step.
type BulkBuildCommand struct {
	Tasks []*dag.Task
	Edges []bulkEdge

	addedTaskIDs []string
	addedEdgeIDs []string
}

type bulkEdge struct {
	From, To, PredicateName string
	Kind                    dag.EdgeKind
}

func NewBulkBuild(tasks []*dag.Task) *BulkBuildCommand {
	return &BulkBuildCommand{Tasks: tasks}
}

// WithEdge registers a dependency to create after all tasks are added.
func (c *BulkBuildCommand) WithEdge(from, to string, kind dag.EdgeKind, predicateName string) *BulkBuildCommand {
	c.Edges = append(c.Edges, bulkEdge{From: from, To: to, Kind: kind, PredicateName: predicateName})
	return c
}

func (c *BulkBuildCommand) Name() string { return "bulk_build" }

func (c *BulkBuildCommand) Apply(g *dag.Constellation) error {
	c.addedTaskIDs = nil
	c.addedEdgeIDs = nil
	for _, t := range c.Tasks {
		id, err := g.AddTask(t)
		if err != nil {
			_ = c.Revert(g)
			return err
		}
		c.addedTaskIDs = append(c.addedTaskIDs, id)
	}
	for _, e := range c.Edges {
		id, err := g.AddDependency(e.From, e.To, e.Kind, e.PredicateName)
		if err != nil {
			_ = c.Revert(g)
			return err
		}
		c.addedEdgeIDs = append(c.addedEdgeIDs, id)
	}
	return nil
}

func (c *BulkBuildCommand) Revert(g *dag.Constellation) error {
	for i := len(c.addedEdgeIDs) - 1; i >= 0; i-- {
		if err := g.RemoveDependency(c.addedEdgeIDs[i]); err != nil {
			return err
		}
	}
	for i := len(c.addedTaskIDs) - 1; i >= 0; i-- {
		if err := g.RemoveTask(c.addedTaskIDs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *BulkBuildCommand) TouchedFields() []string { return append([]string(nil), c.addedTaskIDs...) }

// MergeCommand splices every task and edge of another constellation into
// this one, remapping IDs to avoid collisions.
type MergeCommand struct {
	Source *dag.Constellation

	idMap        map[string]string
	addedTaskIDs []string
	addedEdgeIDs []string
}

func NewMerge(source *dag.Constellation) *MergeCommand { return &MergeCommand{Source: source} }

func (c *MergeCommand) Name() string { return "merge" }

func (c *MergeCommand) Apply(g *dag.Constellation) error {
	c.idMap = make(map[string]string)
	c.addedTaskIDs = nil
	c.addedEdgeIDs = nil

	for _, t := range c.Source.Tasks() {
		clone := t.Clone()
		clone.ID = ""
		clone.Dependencies = nil
		clone.Dependents = nil
		newID, err := g.AddTask(clone)
		if err != nil {
			return err
		}
		c.idMap[t.ID] = newID
		c.addedTaskIDs = append(c.addedTaskIDs, newID)
	}
	for _, e := range c.Source.Edges() {
		from, to := c.idMap[e.From], c.idMap[e.To]
		id, err := g.AddDependency(from, to, e.Kind, e.PredicateName)
		if err != nil {
			return err
		}
		c.addedEdgeIDs = append(c.addedEdgeIDs, id)
	}
	return nil
}

func (c *MergeCommand) Revert(g *dag.Constellation) error {
	for i := len(c.addedEdgeIDs) - 1; i >= 0; i-- {
		if err := g.RemoveDependency(c.addedEdgeIDs[i]); err != nil {
			return err
		}
	}
	for i := len(c.addedTaskIDs) - 1; i >= 0; i-- {
		if err := g.RemoveTask(c.addedTaskIDs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *MergeCommand) TouchedFields() []string { return append([]string(nil), c.addedTaskIDs...) }

// SubgraphCommand removes every task not reachable from (or reaching) a
// given set of root task IDs, keeping only the relevant neighborhood.
type SubgraphCommand struct {
	Keep map[string]bool

	removedCmds []*RemoveTaskCommand
}

func NewSubgraph(keep []string) *SubgraphCommand {
	k := make(map[string]bool, len(keep))
	for _, id := range keep {
		k[id] = true
	}
	return &SubgraphCommand{Keep: k}
}

func (c *SubgraphCommand) Name() string { return "subgraph" }

func (c *SubgraphCommand) Apply(g *dag.Constellation) error {
	c.removedCmds = nil
	for _, t := range g.Tasks() {
		if c.Keep[t.ID] {
			continue
		}
		rc := NewRemoveTask(t.ID)
		if err := rc.Apply(g); err != nil {
			return err
		}
		c.removedCmds = append(c.removedCmds, rc)
	}
	return nil
}

func (c *SubgraphCommand) Revert(g *dag.Constellation) error {
	for i := len(c.removedCmds) - 1; i >= 0; i-- {
		if err := c.removedCmds[i].Revert(g); err != nil {
			return err
		}
	}
	return nil
}

func (c *SubgraphCommand) TouchedFields() []string { return nil }

// LoadCommand replaces the entire graph contents with a freshly parsed
// constellation, keeping the prior contents for Revert.
type LoadCommand struct {
	JSON []byte
	ids  *dag.IDManager

	previous *ClearCommand
	loaded   *BulkBuildCommand
}

func NewLoad(data []byte, ids *dag.IDManager) *LoadCommand {
	return &LoadCommand{JSON: data, ids: ids}
}

func (c *LoadCommand) Name() string { return "load" }

func (c *LoadCommand) Apply(g *dag.Constellation) error {
	parsed, err := dag.FromJSON(c.JSON, c.ids)
	if err != nil {
		return err
	}

	clear := NewClear()
	if err := clear.Apply(g); err != nil {
		return err
	}
	c.previous = clear

	bulk := NewBulkBuild(parsed.Tasks())
	for _, e := range parsed.Edges() {
		bulk.WithEdge(e.From, e.To, e.Kind, e.PredicateName)
	}
	if err := bulk.Apply(g); err != nil {
		return err
	}
	c.loaded = bulk
	return nil
}

func (c *LoadCommand) Revert(g *dag.Constellation) error {
	if c.loaded != nil {
		if err := c.loaded.Revert(g); err != nil {
			return err
		}
	}
	if c.previous != nil {
		return c.previous.Revert(g)
	}
	return nil
}

func (c *LoadCommand) TouchedFields() []string { return nil }
