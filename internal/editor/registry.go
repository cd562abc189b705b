package editor

import "github.com/swarmguard/constellation/internal/cerrors"

// Builder constructs a Command from a generic argument bag, letting callers
// (an HTTP handler, a script runner) dispatch by command name without
// importing concrete command types directly.
type Builder func(args map[string]interface{}) (Command, error)

// Registry maps command names to builders, mirroring the teacher's
// map[TaskType]PluginExecutor dispatch in plugins.go, generalized from
// task-type dispatch to editor-command dispatch.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns a registry pre-populated with these editor commands:
// add_task, remove_task, add_dependency, remove_dependency,
// update_dependency, clear, load. update_task, bulk_build, merge and
// subgraph are not registered by name; they are built directly with
// NewUpdateTask, NewBulkBuild, NewMerge and NewSubgraph.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.registerStandardCommands()
	return r
}

func (r *Registry) Register(name string, b Builder) {
	r.builders[name] = b
}

func (r *Registry) Build(name string, args map[string]interface{}) (Command, error) {
	b, ok := r.builders[name]
	if !ok {
		return nil, cerrors.NotFound("command", name)
	}
	return b(args)
}
