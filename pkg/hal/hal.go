// Package hal defines the hardware capabilities the runtime consumes:
// digital inputs and outputs, PWM outputs and step-pulse sinks.
//
// The production implementation drives GPIO lines through periph.io; the
// Mem* types back the same interfaces with plain memory for tests and
// for running a program without hardware attached.
package hal

import (
	"sync"
	"sync/atomic"
	"time"
)

// DigitalInput reads one boolean channel.
type DigitalInput interface {
	Read() (bool, error)
}

// DigitalOutput writes one boolean channel.
type DigitalOutput interface {
	Write(value bool) error
}

// PWMOutput sets a duty-cycle fraction on one channel.
type PWMOutput interface {
	// SetDuty sets the duty cycle; fraction is clamped to [0, 1].
	SetDuty(fraction float64) error
}

// PulseSink emits one step pulse per call, honoring the driver's
// minimum pulse width.
type PulseSink interface {
	AssertPulse() error
}

// MemInput is an in-memory DigitalInput whose value is set by tests or
// by a remote command source.
type MemInput struct {
	value atomic.Bool
}

// NewMemInput creates a MemInput with the given initial value.
func NewMemInput(initial bool) *MemInput {
	in := &MemInput{}
	in.value.Store(initial)
	return in
}

// Set stores the value the next Read will return.
func (in *MemInput) Set(value bool) { in.value.Store(value) }

// Read implements DigitalInput.
func (in *MemInput) Read() (bool, error) { return in.value.Load(), nil }

// MemOutput is an in-memory DigitalOutput that records its last value
// and the number of writes.
type MemOutput struct {
	mu     sync.Mutex
	value  bool
	writes int
}

// NewMemOutput creates a MemOutput.
func NewMemOutput() *MemOutput { return &MemOutput{} }

// Write implements DigitalOutput.
func (out *MemOutput) Write(value bool) error {
	out.mu.Lock()
	out.value = value
	out.writes++
	out.mu.Unlock()
	return nil
}

// Value returns the last written value.
func (out *MemOutput) Value() bool {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.value
}

// Writes returns the number of Write calls.
func (out *MemOutput) Writes() int {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.writes
}

// MemPWM is an in-memory PWMOutput recording the last duty fraction.
type MemPWM struct {
	mu   sync.Mutex
	duty float64
}

// NewMemPWM creates a MemPWM.
func NewMemPWM() *MemPWM { return &MemPWM{} }

// SetDuty implements PWMOutput.
func (p *MemPWM) SetDuty(fraction float64) error {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	p.mu.Lock()
	p.duty = fraction
	p.mu.Unlock()
	return nil
}

// Duty returns the last duty fraction set.
func (p *MemPWM) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// MemPulseSink counts pulses and records their timestamps.
type MemPulseSink struct {
	mu     sync.Mutex
	times  []time.Time
	pulses atomic.Int64
}

// NewMemPulseSink creates a MemPulseSink.
func NewMemPulseSink() *MemPulseSink { return &MemPulseSink{} }

// AssertPulse implements PulseSink.
func (s *MemPulseSink) AssertPulse() error {
	s.pulses.Add(1)
	s.mu.Lock()
	s.times = append(s.times, time.Now())
	s.mu.Unlock()
	return nil
}

// Pulses returns the number of pulses emitted so far.
func (s *MemPulseSink) Pulses() int64 { return s.pulses.Load() }

// Times returns a copy of the pulse timestamps.
func (s *MemPulseSink) Times() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.times))
	copy(out, s.times)
	return out
}
