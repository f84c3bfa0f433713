package hal

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"berryplc/pkg/plcerror"
)

// Context owns the periph.io host state and hands out pins by name.
// Create exactly one per process.
type Context struct {
	mu     sync.Mutex
	claims map[string]gpio.PinIO
}

// NewContext initializes the periph.io host drivers.
func NewContext() (*Context, error) {
	if _, err := host.Init(); err != nil {
		return nil, plcerror.Wrap(err, plcerror.ErrHardware, "gpio host init")
	}
	return &Context{claims: make(map[string]gpio.PinIO)}, nil
}

func (c *Context) claim(name string) (gpio.PinIO, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.claims[name]; ok {
		return nil, plcerror.New(plcerror.ErrHardware, "pin %s already claimed", name)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, plcerror.New(plcerror.ErrHardware, "unknown pin %s", name)
	}
	c.claims[name] = pin
	return pin, nil
}

// PinInput is a DigitalInput backed by a GPIO line. With invert set the
// electrical level is negated, for NC contacts and active-low sensors.
type PinInput struct {
	pin    gpio.PinIO
	invert bool
}

// Input claims the named pin as a digital input with the given pull.
func (c *Context) Input(name string, pull gpio.Pull, invert bool) (*PinInput, error) {
	pin, err := c.claim(name)
	if err != nil {
		return nil, err
	}
	if err := pin.In(pull, gpio.NoEdge); err != nil {
		return nil, plcerror.Wrap(err, plcerror.ErrHardware, "configure input %s", name)
	}
	return &PinInput{pin: pin, invert: invert}, nil
}

// Read implements DigitalInput.
func (in *PinInput) Read() (bool, error) {
	return bool(in.pin.Read()) != in.invert, nil
}

// PinOutput is a DigitalOutput backed by a GPIO line.
type PinOutput struct {
	pin    gpio.PinIO
	invert bool
}

// Output claims the named pin as a digital output, driven low (or high
// when inverted) immediately.
func (c *Context) Output(name string, invert bool) (*PinOutput, error) {
	pin, err := c.claim(name)
	if err != nil {
		return nil, err
	}
	out := &PinOutput{pin: pin, invert: invert}
	if err := out.Write(false); err != nil {
		return nil, err
	}
	return out, nil
}

// Write implements DigitalOutput.
func (out *PinOutput) Write(value bool) error {
	level := gpio.Level(value != out.invert)
	if err := out.pin.Out(level); err != nil {
		return plcerror.Wrap(err, plcerror.ErrHardware, "write %s", out.pin.Name())
	}
	return nil
}

// PinPWM is a PWMOutput backed by the pin's hardware or toggling PWM.
type PinPWM struct {
	pin  gpio.PinIO
	freq physic.Frequency
}

// PWM claims the named pin as a PWM output at the given carrier frequency.
func (c *Context) PWM(name string, freq physic.Frequency) (*PinPWM, error) {
	pin, err := c.claim(name)
	if err != nil {
		return nil, err
	}
	return &PinPWM{pin: pin, freq: freq}, nil
}

// SetDuty implements PWMOutput.
func (p *PinPWM) SetDuty(fraction float64) error {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	duty := gpio.Duty(fraction * float64(gpio.DutyMax))
	if err := p.pin.PWM(duty, p.freq); err != nil {
		return plcerror.Wrap(err, plcerror.ErrHardware, "pwm %s", p.pin.Name())
	}
	return nil
}

// PinPulse is a PulseSink backed by a GPIO line. AssertPulse drives the
// line high for the configured width, then low again.
type PinPulse struct {
	pin   gpio.PinIO
	width time.Duration
}

// Pulse claims the named pin as a step-pulse output. width is the
// minimum high time the attached driver requires.
func (c *Context) Pulse(name string, width time.Duration) (*PinPulse, error) {
	pin, err := c.claim(name)
	if err != nil {
		return nil, err
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, plcerror.Wrap(err, plcerror.ErrHardware, "configure pulse %s", name)
	}
	return &PinPulse{pin: pin, width: width}, nil
}

// AssertPulse implements PulseSink.
func (p *PinPulse) AssertPulse() error {
	if err := p.pin.Out(gpio.High); err != nil {
		return plcerror.Wrap(err, plcerror.ErrHardware, "pulse %s", p.pin.Name())
	}
	time.Sleep(p.width)
	if err := p.pin.Out(gpio.Low); err != nil {
		return plcerror.Wrap(err, plcerror.ErrHardware, "pulse %s", p.pin.Name())
	}
	return nil
}
