package stepper

import (
	"berryplc/pkg/hal"
)

// a4988Modes maps microstep factors to MS1/MS2/MS3 levels.
var a4988Modes = map[int][3]bool{
	1:  {false, false, false},
	2:  {true, false, false},
	4:  {false, true, false},
	8:  {true, true, false},
	16: {true, true, true},
}

// A4988 drives an Allegro A4988 (or the pin-compatible DRV8825 wiring)
// in step/dir mode with microstep selection on MS1-MS3.
type A4988 struct {
	basePins
	ms        [3]hal.DigitalOutput
	microstep int
}

// NewA4988 creates a driver. Any of the ms pins may be nil when the
// corresponding mode line is strapped on the board; enable may be nil.
func NewA4988(step hal.PulseSink, dir, enable hal.DigitalOutput, ms [3]hal.DigitalOutput) *A4988 {
	return &A4988{
		basePins:  basePins{step: step, dir: dir, enable: enable},
		ms:        ms,
		microstep: 1,
	}
}

// SetMicrostep implements Driver. Supported factors: 1, 2, 4, 8, 16.
func (d *A4988) SetMicrostep(factor int) error {
	levels, ok := a4988Modes[factor]
	if !ok {
		return unsupportedMicrostep("a4988", factor)
	}
	if err := writeModePins(d.ms[:], levels[:]); err != nil {
		return err
	}
	d.microstep = factor
	return nil
}

// Microstep implements Driver.
func (d *A4988) Microstep() int { return d.microstep }
