package sfc

import (
	"sync"

	"berryplc/pkg/plcerror"
)

// Controller executes a validated Graph scan by scan. Scan runs on the
// cycle goroutine; Active and IsActive may be called from others.
type Controller struct {
	graph *Graph

	mu      sync.Mutex
	active  []bool // indexed like graph.steps
	started bool
}

// NewController validates the graph and returns a controller positioned
// before the first scan. Start must be called before Scan.
func NewController(g *Graph) (*Controller, error) {
	if len(g.steps) == 0 {
		return nil, plcerror.InvalidGraph("chart has no steps")
	}
	seen := make(map[string]bool, len(g.steps))
	for _, s := range g.steps {
		if s.Name == "" {
			return nil, plcerror.InvalidGraph("step with empty name")
		}
		if seen[s.Name] {
			return nil, plcerror.InvalidGraph("duplicate step %q", s.Name)
		}
		seen[s.Name] = true
	}
	if len(g.initial) == 0 {
		return nil, plcerror.InvalidGraph("chart has no initial steps")
	}
	for _, name := range g.initial {
		if !seen[name] {
			return nil, plcerror.InvalidGraph("initial step %q is not declared", name)
		}
	}
	for i, tr := range g.transitions {
		if len(tr.Sources) == 0 {
			return nil, plcerror.InvalidGraph("transition %d has no sources", i)
		}
		if len(tr.Targets) == 0 {
			return nil, plcerror.InvalidGraph("transition %d has no targets", i)
		}
		if tr.Guard == nil {
			return nil, plcerror.InvalidGraph("transition %d has no guard", i)
		}
		for _, name := range tr.Sources {
			if !seen[name] {
				return nil, plcerror.InvalidGraph("transition %d: unknown source step %q", i, name)
			}
		}
		for _, name := range tr.Targets {
			if !seen[name] {
				return nil, plcerror.InvalidGraph("transition %d: unknown target step %q", i, name)
			}
		}
	}

	return &Controller{
		graph:  g,
		active: make([]bool, len(g.steps)),
	}, nil
}

// Start activates the initial steps and runs their entry actions.
// Starting an already started controller resets it first.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.active {
		c.active[i] = false
	}
	c.started = true
	for _, name := range c.graph.initial {
		c.activate(c.graph.byName[name])
	}
}

// Scan runs one evaluation cycle and returns the number of transitions
// fired. All guards see the active set as it stood at scan start; when
// two enabled transitions share a source step, the one declared first
// fires and the other is skipped for this scan. Guards and actions run
// with the controller lock held and must not call back into it.
func (c *Controller) Scan() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return 0
	}

	snapshot := make([]bool, len(c.active))
	copy(snapshot, c.active)

	claimed := make([]bool, len(c.active))
	var fired []*Transition

	for i := range c.graph.transitions {
		tr := &c.graph.transitions[i]
		enabled := true
		conflicted := false
		for _, name := range tr.Sources {
			idx := c.graph.byName[name]
			if !snapshot[idx] {
				enabled = false
				break
			}
			if claimed[idx] {
				conflicted = true
				break
			}
		}
		if !enabled || conflicted {
			continue
		}
		if !tr.Guard() {
			continue
		}
		for _, name := range tr.Sources {
			claimed[c.graph.byName[name]] = true
		}
		fired = append(fired, tr)
	}

	// Deactivate every fired source before activating any target, so a
	// step that is both source and target re-runs its entry action.
	for _, tr := range fired {
		for _, name := range tr.Sources {
			c.deactivate(c.graph.byName[name])
		}
	}
	for _, tr := range fired {
		for _, name := range tr.Targets {
			c.activate(c.graph.byName[name])
		}
	}

	for i := range c.graph.steps {
		if c.active[i] && c.graph.steps[i].During != nil {
			c.graph.steps[i].During()
		}
	}
	return len(fired)
}

// Active returns the names of the active steps in declaration order.
func (c *Controller) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for i, on := range c.active {
		if on {
			out = append(out, c.graph.steps[i].Name)
		}
	}
	return out
}

// IsActive reports whether the named step is active. Unknown names
// report false.
func (c *Controller) IsActive(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.graph.byName[name]
	return ok && c.active[idx]
}

func (c *Controller) activate(idx int) {
	if c.active[idx] {
		return
	}
	c.active[idx] = true
	if entry := c.graph.steps[idx].Entry; entry != nil {
		entry()
	}
}

func (c *Controller) deactivate(idx int) {
	if !c.active[idx] {
		return
	}
	c.active[idx] = false
	if exit := c.graph.steps[idx].Exit; exit != nil {
		exit()
	}
}
