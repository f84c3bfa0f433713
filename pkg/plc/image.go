package plc

import (
	"sort"
	"sync"

	"berryplc/pkg/hal"
	"berryplc/pkg/log"
)

// IOImage is the process image: named inputs sampled once per scan and
// named outputs staged during the scan and flushed together at its end.
// Logic reads the latched snapshot, never the live pins, so every rung
// of a cycle sees one consistent view of the plant.
type IOImage struct {
	mu sync.RWMutex

	inputs  map[string]hal.DigitalInput
	outputs map[string]hal.DigitalOutput
	pwms    map[string]hal.PWMOutput

	prev map[string]bool // input snapshot of the previous scan
	curr map[string]bool // input snapshot of this scan

	staged map[string]bool // output values staged this scan
	actual map[string]bool // output values last flushed

	stagedDuty map[string]float64 // pwm duty staged this scan
	actualDuty map[string]float64 // pwm duty last flushed

	logger *log.Logger
}

// NewIOImage creates an empty image.
func NewIOImage(logger *log.Logger) *IOImage {
	if logger == nil {
		logger = log.New("io")
	}
	return &IOImage{
		inputs:     make(map[string]hal.DigitalInput),
		outputs:    make(map[string]hal.DigitalOutput),
		pwms:       make(map[string]hal.PWMOutput),
		prev:       make(map[string]bool),
		curr:       make(map[string]bool),
		staged:     make(map[string]bool),
		actual:     make(map[string]bool),
		stagedDuty: make(map[string]float64),
		actualDuty: make(map[string]float64),
		logger:     logger,
	}
}

// AddInput registers a named input channel.
func (im *IOImage) AddInput(name string, in hal.DigitalInput) {
	im.mu.Lock()
	im.inputs[name] = in
	im.mu.Unlock()
}

// AddOutput registers a named output channel.
func (im *IOImage) AddOutput(name string, out hal.DigitalOutput) {
	im.mu.Lock()
	im.outputs[name] = out
	im.staged[name] = false
	im.mu.Unlock()
}

// AddPWM registers a named PWM channel and drives it to the given
// initial duty immediately, so the channel is defined before the first
// scan.
func (im *IOImage) AddPWM(name string, out hal.PWMOutput, initial float64) error {
	initial = clampDuty(initial)
	if err := out.SetDuty(initial); err != nil {
		return err
	}
	im.mu.Lock()
	im.pwms[name] = out
	im.stagedDuty[name] = initial
	im.actualDuty[name] = initial
	im.mu.Unlock()
	return nil
}

// ReadInputs samples every input into the current snapshot, moving the
// old snapshot to prev. A read error keeps the input's previous value,
// so a flaky sensor cannot inject a spurious edge.
func (im *IOImage) ReadInputs() {
	im.mu.Lock()
	defer im.mu.Unlock()
	for name, in := range im.inputs {
		im.prev[name] = im.curr[name]
		v, err := in.Read()
		if err != nil {
			im.logger.WarnFields("input read failed", log.Fields{
				"input": name,
				"error": err.Error(),
			})
			continue
		}
		im.curr[name] = v
	}
}

// Input returns the latched value of a named input. Unknown names read
// false.
func (im *IOImage) Input(name string) bool {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.curr[name]
}

// Rose reports a rising edge on the named input this scan.
func (im *IOImage) Rose(name string) bool {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.curr[name] && !im.prev[name]
}

// Fell reports a falling edge on the named input this scan.
func (im *IOImage) Fell(name string) bool {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return !im.curr[name] && im.prev[name]
}

// SetOutput stages an output value for the end-of-scan flush.
func (im *IOImage) SetOutput(name string, value bool) {
	im.mu.Lock()
	im.staged[name] = value
	im.mu.Unlock()
}

// Output returns the staged value of a named output.
func (im *IOImage) Output(name string) bool {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.staged[name]
}

// SetPWM stages a duty fraction, clamped to [0, 1], for the
// end-of-scan flush. Unknown names are ignored.
func (im *IOImage) SetPWM(name string, duty float64) {
	im.mu.Lock()
	if _, ok := im.pwms[name]; ok {
		im.stagedDuty[name] = clampDuty(duty)
	}
	im.mu.Unlock()
}

// PWM returns the staged duty of a named PWM channel.
func (im *IOImage) PWM(name string) float64 {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.stagedDuty[name]
}

// FlushOutputs writes every staged value that changed since the last
// flush.
func (im *IOImage) FlushOutputs() {
	im.mu.Lock()
	defer im.mu.Unlock()
	for name, value := range im.staged {
		if im.actual[name] == value {
			continue
		}
		if err := im.outputs[name].Write(value); err != nil {
			im.logger.WarnFields("output write failed", log.Fields{
				"output": name,
				"error":  err.Error(),
			})
			continue
		}
		im.actual[name] = value
	}
	for name, duty := range im.stagedDuty {
		if im.actualDuty[name] == duty {
			continue
		}
		if err := im.pwms[name].SetDuty(duty); err != nil {
			im.logger.WarnFields("pwm write failed", log.Fields{
				"output": name,
				"error":  err.Error(),
			})
			continue
		}
		im.actualDuty[name] = duty
	}
}

// AllOff stages false on every output, zero on every PWM channel, and
// flushes immediately. Used by the emergency stop path.
func (im *IOImage) AllOff() {
	im.mu.Lock()
	for name := range im.staged {
		im.staged[name] = false
	}
	for name := range im.stagedDuty {
		im.stagedDuty[name] = 0
	}
	im.mu.Unlock()
	im.FlushOutputs()
}

func clampDuty(d float64) float64 {
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

// InputNames returns the registered input names, sorted.
func (im *IOImage) InputNames() []string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	names := make([]string, 0, len(im.inputs))
	for name := range im.inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PWMNames returns the registered PWM channel names, sorted.
func (im *IOImage) PWMNames() []string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	names := make([]string, 0, len(im.pwms))
	for name := range im.pwms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OutputNames returns the registered output names, sorted.
func (im *IOImage) OutputNames() []string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	names := make([]string, 0, len(im.outputs))
	for name := range im.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
