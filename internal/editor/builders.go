package editor

import (
	"github.com/swarmguard/constellation/internal/cerrors"
	"github.com/swarmguard/constellation/internal/dag"
)

func (r *Registry) registerStandardCommands() {
	r.Register("add_task", buildAddTask)
	r.Register("remove_task", buildRemoveTask)
	r.Register("add_dependency", buildAddDependency)
	r.Register("remove_dependency", buildRemoveDependency)
	r.Register("update_dependency", buildUpdateDependency)
	r.Register("clear", buildClear)
	r.Register("load", buildLoad)
}

func buildAddTask(args map[string]interface{}) (Command, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, cerrors.Validation("name", "required for add_task")
	}
	t := &dag.Task{Name: name}
	if desc, ok := args["description"].(string); ok {
		t.Description = desc
	}
	if cmd, ok := args["command"].(string); ok {
		t.Command = cmd
	}
	if prioRaw, ok := args["priority"]; ok {
		if p, ok := dag.ParsePriority(prioRaw); ok {
			t.Priority = p
		}
	} else {
		t.Priority = dag.PriorityMedium
	}
	if devRaw, ok := args["device_type"].(string); ok {
		if d, ok := dag.ParseDeviceType(devRaw); ok {
			t.DeviceType = d
		}
	}
	return NewAddTask(t), nil
}

func buildRemoveTask(args map[string]interface{}) (Command, error) {
	id, _ := args["task_id"].(string)
	if id == "" {
		return nil, cerrors.Validation("task_id", "required for remove_task")
	}
	return NewRemoveTask(id), nil
}

func buildAddDependency(args map[string]interface{}) (Command, error) {
	from, _ := args["from"].(string)
	to, _ := args["to"].(string)
	if from == "" || to == "" {
		return nil, cerrors.Validation("from/to", "required for add_dependency")
	}
	kindRaw, _ := args["kind"].(string)
	if kindRaw == "" {
		kindRaw = string(dag.EdgeUnconditional)
	}
	kind, ok := dag.ParseEdgeKind(kindRaw)
	if !ok {
		return nil, cerrors.Validation("kind", "unknown edge kind "+kindRaw)
	}
	predicate, _ := args["predicate_name"].(string)
	return NewAddDependency(from, to, kind, predicate), nil
}

func buildRemoveDependency(args map[string]interface{}) (Command, error) {
	id, _ := args["edge_id"].(string)
	if id == "" {
		return nil, cerrors.Validation("edge_id", "required for remove_dependency")
	}
	return NewRemoveDependency(id), nil
}

func buildUpdateDependency(args map[string]interface{}) (Command, error) {
	id, _ := args["edge_id"].(string)
	if id == "" {
		return nil, cerrors.Validation("edge_id", "required for update_dependency")
	}
	kindRaw, _ := args["kind"].(string)
	kind, ok := dag.ParseEdgeKind(kindRaw)
	if !ok {
		return nil, cerrors.Validation("kind", "unknown edge kind "+kindRaw)
	}
	predicate, _ := args["predicate_name"].(string)
	return NewUpdateDependency(id, kind, predicate), nil
}

func buildClear(map[string]interface{}) (Command, error) {
	return NewClear(), nil
}

func buildLoad(args map[string]interface{}) (Command, error) {
	raw, _ := args["json"].(string)
	if raw == "" {
		return nil, cerrors.Validation("json", "required for load")
	}
	return NewLoad([]byte(raw), nil), nil
}
