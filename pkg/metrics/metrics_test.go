package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("plc_scan_cycles_total", "Completed scan cycles.")
	c.Inc(nil)
	c.Inc(nil)
	c.Add(nil, 3)
	if got := c.Get(nil); got != 5 {
		t.Errorf("value = %d, want 5", got)
	}

	labeled := Labels{"axis": "x"}
	c.Inc(labeled)
	if got := c.Get(labeled); got != 1 {
		t.Errorf("labeled value = %d, want 1", got)
	}
	if got := c.Get(nil); got != 5 {
		t.Errorf("unlabeled value changed to %d", got)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("plc_axis_position_steps", "Axis position.")
	g.Set(Labels{"axis": "x"}, 120)
	g.Add(Labels{"axis": "x"}, -20)
	if got := g.Get(Labels{"axis": "x"}); got != 100 {
		t.Errorf("value = %g, want 100", got)
	}
	if got := g.Get(Labels{"axis": "y"}); got != 0 {
		t.Errorf("unset label value = %g, want 0", got)
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("plc_cycle_seconds", "Cycle time.", []float64{0.01, 0.1, 1})
	h.Observe(nil, 0.005)
	h.Observe(nil, 0.05)
	h.Observe(nil, 5)

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()

	checks := map[string]string{
		`le="0.01"`:  `plc_cycle_seconds_bucket{le="0.01"} 1`,
		`le="0.1"`:   `plc_cycle_seconds_bucket{le="0.1"} 2`,
		`le="+Inf"`:  `plc_cycle_seconds_bucket{le="+Inf"} 3`,
		"count line": "plc_cycle_seconds_count 3",
	}
	for name, want := range checks {
		if !strings.Contains(out, want) {
			t.Errorf("%s: output missing %q\n%s", name, want, out)
		}
	}
}

func TestRegistryGatherAndHandler(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("plc_scan_overruns_total", "Scan overruns.")
	g := NewGauge("plc_estop", "Emergency stop state.")
	r.MustRegister(c)
	r.MustRegister(g)

	c.Inc(nil)
	g.Set(nil, 1)

	out := r.Gather()
	for _, want := range []string{
		"# TYPE plc_scan_overruns_total counter",
		"plc_scan_overruns_total 1",
		"# TYPE plc_estop gauge",
		"plc_estop 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("gather output missing %q", want)
		}
	}

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "plc_scan_overruns_total 1") {
		t.Error("handler body missing counter sample")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewCounter("x", "")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewGauge("x", "")); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestLabelFormatting(t *testing.T) {
	got := formatLabels(Labels{"b": "2", "a": `va"l`})
	want := `{a="va\"l",b="2"}`
	if got != want {
		t.Errorf("formatLabels = %s, want %s", got, want)
	}
	if formatLabels(nil) != "" {
		t.Error("empty labels should render empty")
	}
}
