// Package sfc implements sequential function charts: named steps with
// entry, during and exit actions, connected by guarded transitions.
//
// A Graph is a static description assembled once at program build time;
// a Controller executes it one scan at a time. Transition firing is
// snapshot-isolated: every guard in a scan is judged against the active
// set as it stood when the scan began, so declaration order never
// changes which transitions are enabled, only which one wins a
// divergence conflict.
package sfc

// ActionFunc is a step action callback. Actions run synchronously
// inside the scan and must not block.
type ActionFunc func()

// Predicate is a transition guard, evaluated once per scan.
type Predicate func() bool

// Step is one state of the chart. Any of the three actions may be nil.
type Step struct {
	Name string

	// Entry runs once when the step becomes active.
	Entry ActionFunc

	// During runs every scan while the step is active, after all
	// transitions have settled.
	During ActionFunc

	// Exit runs once when the step is deactivated.
	Exit ActionFunc
}

// Transition connects source steps to target steps. It is enabled when
// every source is active and the guard returns true.
type Transition struct {
	Sources []string
	Targets []string
	Guard   Predicate
}

// Graph is a chart under construction. Errors are deferred to
// NewController so builder call sites stay unconditional.
type Graph struct {
	steps       []Step
	byName      map[string]int
	transitions []Transition
	initial     []string
}

// NewGraph creates an empty chart.
func NewGraph() *Graph {
	return &Graph{byName: make(map[string]int)}
}

// AddStep declares a step. Duplicate names are reported by NewController.
func (g *Graph) AddStep(s Step) *Graph {
	if _, dup := g.byName[s.Name]; !dup {
		g.byName[s.Name] = len(g.steps)
	} else {
		// Keep the duplicate in the slice so validation can name it.
		g.byName[s.Name] = -1
	}
	g.steps = append(g.steps, s)
	return g
}

// AddTransition declares a transition from sources to targets with the
// given guard. Declaration order decides divergence conflicts.
func (g *Graph) AddTransition(sources, targets []string, guard Predicate) *Graph {
	g.transitions = append(g.transitions, Transition{
		Sources: sources,
		Targets: targets,
		Guard:   guard,
	})
	return g
}

// SetInitial declares the steps active when the controller starts.
func (g *Graph) SetInitial(names ...string) *Graph {
	g.initial = append(g.initial, names...)
	return g
}

// Steps returns the declared steps in declaration order.
func (g *Graph) Steps() []Step {
	out := make([]Step, len(g.steps))
	copy(out, g.steps)
	return out
}
