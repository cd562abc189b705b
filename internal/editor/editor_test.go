package editor

import (
	"testing"

	"github.com/swarmguard/constellation/internal/dag"
)

func TestExecuteUndoRedoAddTask(t *testing.T) {
	c := dag.New("pipeline", dag.NewIDManager())
	e := New(c, 10)

	cmd := NewAddTask(&dag.Task{Name: "build", Priority: dag.PriorityMedium})
	if err := e.Execute(cmd); err != nil {
		t.Fatalf("Execute add_task: %v", err)
	}
	if len(c.Tasks()) != 1 {
		t.Fatalf("expected 1 task after execute")
	}

	if err := e.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if len(c.Tasks()) != 0 {
		t.Fatalf("expected 0 tasks after undo")
	}

	if err := e.Redo(); err != nil {
		t.Fatalf("Redo: %v", err)
	}
	if len(c.Tasks()) != 1 {
		t.Fatalf("expected 1 task after redo")
	}
}

func TestExecuteRejectsCycleWithoutUndoEntry(t *testing.T) {
	c := dag.New("pipeline", dag.NewIDManager())
	e := New(c, 10)

	idA, _ := c.AddTask(&dag.Task{Name: "a", Priority: dag.PriorityMedium})
	idB, _ := c.AddTask(&dag.Task{Name: "b", Priority: dag.PriorityMedium})
	if err := e.Execute(NewAddDependency(idA, idB, dag.EdgeUnconditional, "")); err != nil {
		t.Fatalf("first dependency: %v", err)
	}

	err := e.Execute(NewAddDependency(idB, idA, dag.EdgeUnconditional, ""))
	if err == nil {
		t.Fatalf("expected cycle to be rejected at AddDependency")
	}
	if e.UndoDepth() != 1 {
		t.Fatalf("rejected command must not land on the undo stack, depth=%d", e.UndoDepth())
	}
}

func TestUndoStackBounded(t *testing.T) {
	c := dag.New("pipeline", dag.NewIDManager())
	e := New(c, 3)

	for i := 0; i < 5; i++ {
		if err := e.Execute(NewAddTask(&dag.Task{Name: "t", Priority: dag.PriorityMedium})); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	if e.UndoDepth() != 3 {
		t.Fatalf("expected undo depth capped at 3, got %d", e.UndoDepth())
	}
}

func TestObserverNotifiedOnExecute(t *testing.T) {
	c := dag.New("pipeline", dag.NewIDManager())
	e := New(c, 10)

	var seenName string
	var seenErr error
	e.Observe(func(name string, result Result) {
		seenName = name
		seenErr = result.Err
	})

	if err := e.Execute(NewAddTask(&dag.Task{Name: "a", Priority: dag.PriorityMedium})); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if seenName != "add_task" || seenErr != nil {
		t.Fatalf("observer not notified correctly: name=%s err=%v", seenName, seenErr)
	}
}

func TestRegistryBuildsAddTask(t *testing.T) {
	c := dag.New("pipeline", dag.NewIDManager())
	e := New(c, 10)
	reg := NewRegistry()

	cmd, err := reg.Build("add_task", map[string]interface{}{"name": "build"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := e.Execute(cmd); err != nil {
		t.Fatalf("Execute built command: %v", err)
	}
	if len(c.Tasks()) != 1 {
		t.Fatalf("expected 1 task")
	}
}
