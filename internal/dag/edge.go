package dag

// Edge is a directed dependency: To depends on From, gated by Kind.
// Conditional edges carry a registered predicate name rather than a closure
// so edges stay serializable, per spec.md §3's Edge data model.
type Edge struct {
	ID            string
	From          string // upstream task ID
	To            string // downstream task ID
	Kind          EdgeKind
	PredicateName string // only meaningful when Kind == EdgeConditional
}

// Predicate evaluates whether a conditional edge is satisfied, given the
// upstream task's final state.
type Predicate func(upstream *Task) bool

// PredicateRegistry maps registered names to Predicate implementations.
// Grounded on the plugin-registry pattern of the teacher's plugins.go,
// generalized from task-type dispatch to edge-gating dispatch.
type PredicateRegistry struct {
	predicates map[string]Predicate
}

func NewPredicateRegistry() *PredicateRegistry {
	r := &PredicateRegistry{predicates: make(map[string]Predicate)}
	r.Register("always", func(*Task) bool { return true })
	r.Register("never", func(*Task) bool { return false })
	return r
}

func (r *PredicateRegistry) Register(name string, p Predicate) {
	r.predicates[name] = p
}

func (r *PredicateRegistry) Lookup(name string) (Predicate, bool) {
	p, ok := r.predicates[name]
	return p, ok
}

// Satisfied reports whether the edge's dependency requirement is met given
// the upstream task's current state. registry may be nil only when Kind is
// not EdgeConditional.
func (e *Edge) Satisfied(upstream *Task, registry *PredicateRegistry) bool {
	switch e.Kind {
	case EdgeUnconditional:
		return upstream.Status.Terminal()
	case EdgeSuccessOnly:
		return upstream.Status == StatusCompleted
	case EdgeCompletionOnly:
		return upstream.Status == StatusCompleted || upstream.Status == StatusFailed
	case EdgeConditional:
		if registry == nil {
			return false
		}
		pred, ok := registry.Lookup(e.PredicateName)
		if !ok {
			return false
		}
		return upstream.Status.Terminal() && pred(upstream)
	default:
		return false
	}
}

// Blocks reports whether the edge permanently prevents the downstream task
// from ever becoming ready, given the upstream task's terminal state.
func (e *Edge) Blocks(upstream *Task, registry *PredicateRegistry) bool {
	if !upstream.Status.Terminal() {
		return false
	}
	return !e.Satisfied(upstream, registry)
}
