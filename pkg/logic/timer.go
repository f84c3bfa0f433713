package logic

import (
	"time"

	"berryplc/pkg/plcerror"
)

// TimerKind distinguishes on-delay from off-delay timers.
type TimerKind int

const (
	// TON is an on-delay timer: done once the input has been held true
	// for the preset duration.
	TON TimerKind = iota

	// TOF is an off-delay timer: done while the input is true and for
	// the preset duration after it falls.
	TOF
)

func (k TimerKind) String() string {
	if k == TOF {
		return "TOF"
	}
	return "TON"
}

// Timer implements IEC-style TON/TOF elapsed-time logic. Elapsed time
// advances by the nominal cycle period passed to Update, not by wall
// time, so timer behavior is deterministic across scan overruns.
//
// Invariant: 0 <= Elapsed() <= Preset().
type Timer struct {
	kind    TimerKind
	preset  time.Duration
	elapsed time.Duration
	running bool
	done    bool
}

// NewTimer creates a timer of the given kind. A negative preset is
// rejected; a zero preset is legal (TON done on the first true scan).
func NewTimer(kind TimerKind, preset time.Duration) (*Timer, error) {
	if preset < 0 {
		return nil, plcerror.TimerPreset("negative preset %v", preset)
	}
	return &Timer{kind: kind, preset: preset}, nil
}

// NewTON creates an on-delay timer.
func NewTON(preset time.Duration) (*Timer, error) {
	return NewTimer(TON, preset)
}

// NewTOF creates an off-delay timer.
func NewTOF(preset time.Duration) (*Timer, error) {
	return NewTimer(TOF, preset)
}

// Update advances the timer by one scan. dt is the nominal cycle
// period. Call exactly once per scan.
func (t *Timer) Update(input bool, dt time.Duration) {
	switch t.kind {
	case TON:
		if !input {
			t.elapsed = 0
			t.done = false
			t.running = false
			return
		}
		if t.elapsed < t.preset {
			t.elapsed += dt
			if t.elapsed > t.preset {
				t.elapsed = t.preset
			}
		}
		t.done = t.elapsed >= t.preset
		t.running = !t.done

	case TOF:
		if input {
			// A true input cancels any countdown in progress.
			t.elapsed = 0
			t.done = true
			t.running = false
			return
		}
		if !t.done {
			t.running = false
			return
		}
		t.elapsed += dt
		if t.elapsed >= t.preset {
			t.elapsed = t.preset
			t.done = false
			t.running = false
			return
		}
		t.running = true
	}
}

// Done reports whether the timer output is asserted.
func (t *Timer) Done() bool { return t.done }

// Running reports whether the timer is accumulating toward its preset.
func (t *Timer) Running() bool { return t.running }

// Elapsed returns the accumulated time.
func (t *Timer) Elapsed() time.Duration { return t.elapsed }

// Preset returns the preset duration.
func (t *Timer) Preset() time.Duration { return t.preset }

// Kind returns TON or TOF.
func (t *Timer) Kind() TimerKind { return t.kind }

// Reset returns the timer to its initial state.
func (t *Timer) Reset() {
	t.elapsed = 0
	t.running = false
	t.done = false
}
