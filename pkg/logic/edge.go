// Package logic provides the scan-synchronous control primitives of the
// runtime: edge detectors, on/off-delay timers and up/down counters.
//
// All primitives are updated exactly once per scan cycle. They hold no
// locks: each instance is owned by the scan goroutine.
package logic

// EdgeMode selects what an EdgeDetector reports.
type EdgeMode int

const (
	// Rising reports true for the one scan where the input goes false->true.
	Rising EdgeMode = iota

	// Falling reports true for the one scan where the input goes true->false.
	Falling

	// Toggle flips a latched output on every rising edge and reports the
	// latch state.
	Toggle
)

func (m EdgeMode) String() string {
	switch m {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	case Toggle:
		return "toggle"
	default:
		return "unknown"
	}
}

// EdgeDetector turns a sampled boolean signal into edge events. It must
// be sampled exactly once per scan; sampling twice in one scan would eat
// the stored previous value and miss edges.
type EdgeDetector struct {
	mode  EdgeMode
	prev  bool
	latch bool
}

// NewEdgeDetector creates an edge detector in the given mode. The
// previous sample starts false, so an input that is already true on the
// first scan counts as a rising edge.
func NewEdgeDetector(mode EdgeMode) *EdgeDetector {
	return &EdgeDetector{mode: mode}
}

// Sample feeds the current input value and returns the detector output
// for this scan.
func (d *EdgeDetector) Sample(current bool) bool {
	rising := current && !d.prev
	falling := !current && d.prev
	d.prev = current

	switch d.mode {
	case Rising:
		return rising
	case Falling:
		return falling
	case Toggle:
		if rising {
			d.latch = !d.latch
		}
		return d.latch
	}
	return false
}

// Mode returns the detection mode.
func (d *EdgeDetector) Mode() EdgeMode {
	return d.mode
}

// Reset clears the stored previous sample and the toggle latch.
func (d *EdgeDetector) Reset() {
	d.prev = false
	d.latch = false
}
