// Package stepper models step/dir stepper drivers: enable handling,
// direction, microstep configuration and the step pulse itself.
//
// Every driver implements Driver and also satisfies hal.PulseSink and
// hal.DigitalOutput duties through its pin objects, so a stepgen.Axis
// can be wired directly to a driver's pins.
package stepper

import (
	"berryplc/pkg/hal"
	"berryplc/pkg/plcerror"
)

// Driver is a step/dir stepper driver.
type Driver interface {
	// Step emits one step pulse.
	Step() error

	// SetDirection sets the travel direction for subsequent steps.
	SetDirection(forward bool) error

	// SetMicrostep selects the microstep factor. Unsupported factors
	// are rejected without touching the hardware.
	SetMicrostep(factor int) error

	// Microstep returns the active microstep factor.
	Microstep() int

	// Enable powers the motor outputs.
	Enable() error

	// Disable cuts the motor outputs.
	Disable() error

	// StepPin exposes the step channel for an axis sequencer.
	StepPin() hal.PulseSink

	// DirPin exposes the direction channel.
	DirPin() hal.DigitalOutput
}

// basePins is the step/dir/enable trio every supported driver shares.
// enable may be nil for boards with the enable line strapped.
type basePins struct {
	step   hal.PulseSink
	dir    hal.DigitalOutput
	enable hal.DigitalOutput
}

func (b *basePins) Step() error { return b.step.AssertPulse() }

func (b *basePins) SetDirection(forward bool) error { return b.dir.Write(forward) }

func (b *basePins) Enable() error {
	if b.enable == nil {
		return nil
	}
	return b.enable.Write(true)
}

func (b *basePins) Disable() error {
	if b.enable == nil {
		return nil
	}
	return b.enable.Write(false)
}

// StepPin exposes the driver's step channel as a hal.PulseSink for an
// axis sequencer.
func (b *basePins) StepPin() hal.PulseSink { return b.step }

// DirPin exposes the driver's direction channel.
func (b *basePins) DirPin() hal.DigitalOutput { return b.dir }

// writeModePins drives a microstep mode pin set to the levels in table.
func writeModePins(pins []hal.DigitalOutput, levels []bool) error {
	for i, pin := range pins {
		if pin == nil {
			continue
		}
		if err := pin.Write(levels[i]); err != nil {
			return err
		}
	}
	return nil
}

func unsupportedMicrostep(driver string, factor int) error {
	return plcerror.New(plcerror.ErrConfigValidation,
		"%s does not support 1/%d microstepping", driver, factor)
}
