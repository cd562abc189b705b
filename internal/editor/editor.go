package editor

import (
	"log/slog"
	"sync"

	"github.com/swarmguard/constellation/internal/cerrors"
	"github.com/swarmguard/constellation/internal/dag"
)

// Result carries the outcome of executing, undoing, or redoing a command,
// handed to every registered observer.
type Result struct {
	CommandName string
	Err         error
	Reverted    bool // true if Apply succeeded but was auto-reverted by validation
}

// Observer is notified after every command execution attempt.
type Observer func(commandName string, result Result)

// Editor wraps a Constellation with bounded undo/redo stacks. Every applied
// command is followed by a full ValidateDAG pass; a failing validation
// triggers an automatic Revert and the command is not pushed onto the undo
// stack, so invalid graphs are never observable to callers.
type Editor struct {
	mu            sync.Mutex
	constellation *dag.Constellation
	undo          []Command
	redo          []Command
	maxDepth      int
	observers     []Observer
}

// New wraps c with an editor bounding undo history to maxDepth entries.
func New(c *dag.Constellation, maxDepth int) *Editor {
	if maxDepth <= 0 {
		maxDepth = 100
	}
	return &Editor{constellation: c, maxDepth: maxDepth}
}

// Observe registers an observer notified after every command attempt.
func (e *Editor) Observe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Execute applies cmd, validates the resulting graph, and rolls back
// automatically if validation fails.
func (e *Editor) Execute(cmd Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := cmd.Apply(e.constellation); err != nil {
		e.notifyLocked(cmd.Name(), Result{CommandName: cmd.Name(), Err: err})
		return err
	}

	if ok, problems := e.constellation.ValidateDAG(); !ok {
		revertErr := cmd.Revert(e.constellation)
		err := cerrors.Invariant("command " + cmd.Name() + " produced an invalid graph: " + joinProblems(problems))
		if revertErr != nil {
			slog.Error("failed to revert invalid command", "command", cmd.Name(), "error", revertErr)
		}
		e.notifyLocked(cmd.Name(), Result{CommandName: cmd.Name(), Err: err, Reverted: revertErr == nil})
		return err
	}

	e.pushUndoLocked(cmd)
	e.redo = nil
	e.notifyLocked(cmd.Name(), Result{CommandName: cmd.Name()})
	return nil
}

// Undo reverts the most recently applied command, moving it to the redo
// stack.
func (e *Editor) Undo() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.undo) == 0 {
		return cerrors.State("no command to undo")
	}
	cmd := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]

	if err := cmd.Revert(e.constellation); err != nil {
		e.undo = append(e.undo, cmd)
		e.notifyLocked("undo:"+cmd.Name(), Result{CommandName: cmd.Name(), Err: err})
		return err
	}
	e.redo = append(e.redo, cmd)
	e.notifyLocked("undo:"+cmd.Name(), Result{CommandName: cmd.Name()})
	return nil
}

// Redo re-applies the most recently undone command.
func (e *Editor) Redo() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.redo) == 0 {
		return cerrors.State("no command to redo")
	}
	cmd := e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]

	if err := cmd.Apply(e.constellation); err != nil {
		e.redo = append(e.redo, cmd)
		e.notifyLocked("redo:"+cmd.Name(), Result{CommandName: cmd.Name(), Err: err})
		return err
	}
	e.pushUndoLocked(cmd)
	e.notifyLocked("redo:"+cmd.Name(), Result{CommandName: cmd.Name()})
	return nil
}

func (e *Editor) pushUndoLocked(cmd Command) {
	e.undo = append(e.undo, cmd)
	if len(e.undo) > e.maxDepth {
		e.undo = e.undo[len(e.undo)-e.maxDepth:]
	}
}

func (e *Editor) notifyLocked(name string, result Result) {
	for _, o := range e.observers {
		o(name, result)
	}
}

// UndoDepth reports how many commands can currently be undone.
func (e *Editor) UndoDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.undo)
}

// RedoDepth reports how many commands can currently be redone.
func (e *Editor) RedoDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.redo)
}

func joinProblems(problems []string) string {
	out := ""
	for i, p := range problems {
		if i > 0 {
			out += "; "
		}
		out += p
	}
	return out
}
