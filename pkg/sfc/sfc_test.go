package sfc

import (
	"reflect"
	"testing"

	"berryplc/pkg/plcerror"
)

func always() bool { return true }
func never() bool  { return false }

func mustController(t *testing.T, g *Graph) *Controller {
	t.Helper()
	c, err := NewController(g)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestScanAdvancesOneStepPerCycle(t *testing.T) {
	// A -> B -> C with always-true guards must not cascade within one
	// scan: guards are judged against the active set at scan start.
	g := NewGraph().
		AddStep(Step{Name: "A"}).
		AddStep(Step{Name: "B"}).
		AddStep(Step{Name: "C"}).
		AddTransition([]string{"A"}, []string{"B"}, always).
		AddTransition([]string{"B"}, []string{"C"}, always).
		SetInitial("A")

	c := mustController(t, g)
	c.Start()

	if got := c.Active(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("after start: active = %v", got)
	}
	if n := c.Scan(); n != 1 {
		t.Fatalf("first scan fired %d transitions, want 1", n)
	}
	if got := c.Active(); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("after scan 1: active = %v, want [B]", got)
	}
	c.Scan()
	if got := c.Active(); !reflect.DeepEqual(got, []string{"C"}) {
		t.Fatalf("after scan 2: active = %v, want [C]", got)
	}
}

func TestDivergenceFirstDeclaredWins(t *testing.T) {
	g := NewGraph().
		AddStep(Step{Name: "idle"}).
		AddStep(Step{Name: "left"}).
		AddStep(Step{Name: "right"}).
		AddTransition([]string{"idle"}, []string{"left"}, always).
		AddTransition([]string{"idle"}, []string{"right"}, always).
		SetInitial("idle")

	c := mustController(t, g)
	c.Start()
	c.Scan()

	if !c.IsActive("left") || c.IsActive("right") {
		t.Errorf("active = %v, want [left]", c.Active())
	}
}

func TestDivergenceLaterBranchWinsWhenFirstDisabled(t *testing.T) {
	g := NewGraph().
		AddStep(Step{Name: "idle"}).
		AddStep(Step{Name: "left"}).
		AddStep(Step{Name: "right"}).
		AddTransition([]string{"idle"}, []string{"left"}, never).
		AddTransition([]string{"idle"}, []string{"right"}, always).
		SetInitial("idle")

	c := mustController(t, g)
	c.Start()
	c.Scan()

	if !c.IsActive("right") {
		t.Errorf("active = %v, want [right]", c.Active())
	}
}

func TestConvergenceRequiresAllSources(t *testing.T) {
	ready := false
	g := NewGraph().
		AddStep(Step{Name: "fillA"}).
		AddStep(Step{Name: "fillB"}).
		AddStep(Step{Name: "waitB"}).
		AddStep(Step{Name: "drain"}).
		AddTransition([]string{"fillB"}, []string{"waitB"}, func() bool { return ready }).
		AddTransition([]string{"fillA", "waitB"}, []string{"drain"}, always).
		SetInitial("fillA", "fillB")

	c := mustController(t, g)
	c.Start()

	// waitB is not active yet, so the convergence must not fire.
	c.Scan()
	if c.IsActive("drain") {
		t.Fatal("convergence fired with an inactive source")
	}

	ready = true
	c.Scan() // fillB -> waitB
	if !c.IsActive("waitB") {
		t.Fatalf("active = %v, want waitB active", c.Active())
	}
	c.Scan() // convergence fires
	if got := c.Active(); !reflect.DeepEqual(got, []string{"drain"}) {
		t.Errorf("active = %v, want [drain]", got)
	}
}

func TestParallelBranchesRunConcurrently(t *testing.T) {
	g := NewGraph().
		AddStep(Step{Name: "start"}).
		AddStep(Step{Name: "a"}).
		AddStep(Step{Name: "b"}).
		AddTransition([]string{"start"}, []string{"a", "b"}, always).
		SetInitial("start")

	c := mustController(t, g)
	c.Start()
	c.Scan()

	if got := c.Active(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("active = %v, want [a b]", got)
	}
}

func TestActionOrdering(t *testing.T) {
	var trace []string
	record := func(tag string) ActionFunc {
		return func() { trace = append(trace, tag) }
	}

	g := NewGraph().
		AddStep(Step{Name: "A", Entry: record("entry A"), During: record("during A"), Exit: record("exit A")}).
		AddStep(Step{Name: "B", Entry: record("entry B"), During: record("during B")}).
		AddTransition([]string{"A"}, []string{"B"}, always).
		SetInitial("A")

	c := mustController(t, g)
	c.Start()
	c.Scan()

	want := []string{"entry A", "exit A", "entry B", "during B"}
	if !reflect.DeepEqual(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
}

func TestSelfLoopRerunsEntry(t *testing.T) {
	entries := 0
	g := NewGraph().
		AddStep(Step{Name: "cycle", Entry: func() { entries++ }}).
		AddTransition([]string{"cycle"}, []string{"cycle"}, always).
		SetInitial("cycle")

	c := mustController(t, g)
	c.Start()
	c.Scan()
	c.Scan()

	if entries != 3 {
		t.Errorf("entry ran %d times, want 3 (start + 2 self-loops)", entries)
	}
}

func TestDuringRunsEveryScanWhileActive(t *testing.T) {
	during := 0
	g := NewGraph().
		AddStep(Step{Name: "hold", During: func() { during++ }}).
		SetInitial("hold")

	c := mustController(t, g)
	c.Start()
	for i := 0; i < 4; i++ {
		c.Scan()
	}
	if during != 4 {
		t.Errorf("during ran %d times, want 4", during)
	}
}

func TestNewControllerRejectsBadGraphs(t *testing.T) {
	cases := []struct {
		name string
		g    *Graph
	}{
		{"no steps", NewGraph()},
		{"no initial", NewGraph().AddStep(Step{Name: "a"})},
		{"unknown initial", NewGraph().AddStep(Step{Name: "a"}).SetInitial("b")},
		{"duplicate step", NewGraph().AddStep(Step{Name: "a"}).AddStep(Step{Name: "a"}).SetInitial("a")},
		{"empty step name", NewGraph().AddStep(Step{}).SetInitial("")},
		{"unknown source", NewGraph().
			AddStep(Step{Name: "a"}).
			AddTransition([]string{"x"}, []string{"a"}, always).
			SetInitial("a")},
		{"unknown target", NewGraph().
			AddStep(Step{Name: "a"}).
			AddTransition([]string{"a"}, []string{"x"}, always).
			SetInitial("a")},
		{"empty sources", NewGraph().
			AddStep(Step{Name: "a"}).
			AddTransition(nil, []string{"a"}, always).
			SetInitial("a")},
		{"empty targets", NewGraph().
			AddStep(Step{Name: "a"}).
			AddTransition([]string{"a"}, nil, always).
			SetInitial("a")},
		{"nil guard", NewGraph().
			AddStep(Step{Name: "a"}).
			AddTransition([]string{"a"}, []string{"a"}, nil).
			SetInitial("a")},
	}
	for _, c := range cases {
		_, err := NewController(c.g)
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if code, ok := plcerror.CodeOf(err); !ok || code != plcerror.ErrInvalidGraph {
			t.Errorf("%s: code = %v, want INVALID_GRAPH", c.name, code)
		}
	}
}

func TestGuardsEvaluatedAtMostOncePerScan(t *testing.T) {
	calls := 0
	g := NewGraph().
		AddStep(Step{Name: "a"}).
		AddStep(Step{Name: "b"}).
		AddTransition([]string{"a"}, []string{"b"}, func() bool {
			calls++
			return false
		}).
		SetInitial("a")

	c := mustController(t, g)
	c.Start()
	c.Scan()
	if calls != 1 {
		t.Errorf("guard evaluated %d times in one scan, want 1", calls)
	}
}
