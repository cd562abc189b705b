// Package editor implements the constellation editor: an undo/redo command
// stack over internal/dag, validating the whole graph after every applied
// command and automatically rolling back on violation. Grounded on the
// teacher's cancellation.go registration/rollback shape and the
// plugin-registry pattern in plugins.go, generalized into a command-pattern
// editor per spec.md §4.3.
package editor

import "github.com/swarmguard/constellation/internal/dag"

// Command is a reversible edit to a Constellation. Apply and Revert must be
// exact inverses: calling Revert immediately after a successful Apply must
// leave the constellation observably unchanged.
type Command interface {
	Name() string
	Apply(c *dag.Constellation) error
	Revert(c *dag.Constellation) error
	// TouchedFields lists the task/edge IDs this command reads or writes,
	// for observers that want to react selectively.
	TouchedFields() []string
}
