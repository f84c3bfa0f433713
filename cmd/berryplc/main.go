// berryplc is a soft PLC for Raspberry Pi class hardware. It reads an
// INI machine configuration, wires the configured GPIO and stepper
// hardware, runs the cyclic scan engine and serves the HMI API.
//
// Usage:
//
//	berryplc -config machine.cfg [options]
//
// Options:
//
//	-config string   Machine configuration file (required)
//	-addr string     HMI listen address (overrides [plc] hmi_addr)
//	-loglevel string Log level override (debug, info, warn, error)
//	-check           Parse and validate the config, then exit
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"berryplc/pkg/config"
	"berryplc/pkg/hal"
	"berryplc/pkg/hmi"
	"berryplc/pkg/journal"
	"berryplc/pkg/log"
	"berryplc/pkg/metrics"
	"berryplc/pkg/plc"
	"berryplc/pkg/plcerror"
	"berryplc/pkg/serial"
	"berryplc/pkg/sfc"
	"berryplc/pkg/stepgen"
	"berryplc/pkg/stepper"
	"berryplc/pkg/tmc"
)

const defaultPulseWidth = 2 * time.Microsecond

func main() {
	configFile := flag.String("config", "", "Machine configuration file (required)")
	addrFlag := flag.String("addr", "", "HMI listen address (overrides config)")
	levelFlag := flag.String("loglevel", "", "Log level override")
	checkOnly := flag.Bool("check", false, "Validate the config and exit")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "error: -config is required")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.New("berryplc")

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, *addrFlag, *levelFlag, *checkOnly); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *log.Logger, addrFlag, levelFlag string, checkOnly bool) error {
	plcSec, err := cfg.GetSection("plc")
	if err != nil {
		return err
	}

	level, err := plcSec.GetChoice("log_level", []string{"debug", "info", "warn", "error"}, "info")
	if err != nil {
		return err
	}
	if levelFlag != "" {
		level = levelFlag
	}
	logger.SetLevel(log.ParseLevel(level))

	format, err := plcSec.GetChoice("log_format", []string{"text", "json"}, "text")
	if err != nil {
		return err
	}
	if format == "json" {
		logger.SetFormat(log.FormatJSON)
	}

	scanPeriod, err := plcSec.GetDuration("scan_period", 10*time.Millisecond)
	if err != nil {
		return err
	}
	hmiAddr, err := plcSec.Get("hmi_addr", ":8080")
	if err != nil {
		return err
	}
	if addrFlag != "" {
		hmiAddr = addrFlag
	}
	journalPath, err := plcSec.Get("journal", "")
	if err != nil {
		return err
	}
	estopInput, err := plcSec.Get("estop_input", "")
	if err != nil {
		return err
	}

	var jrnl *journal.Journal
	if journalPath != "" && !checkOnly {
		jrnl, err = journal.Open(journalPath, logger.Child("journal"))
		if err != nil {
			return err
		}
		defer jrnl.Close()
	}

	registry := metrics.NewRegistry()
	rt, err := plc.NewRuntime(plc.Options{
		ScanPeriod: scanPeriod,
		Logger:     logger,
		Journal:    jrnl,
		Metrics:    registry,
	})
	if err != nil {
		return err
	}

	hw := newHardware(logger, checkOnly)

	if err := buildIO(cfg, rt, hw); err != nil {
		return err
	}
	if err := buildSteppers(cfg, rt, hw, logger); err != nil {
		return err
	}
	if err := installChart(rt, estopInput); err != nil {
		return err
	}

	// Every section and option must have been read by now; anything
	// left is a typo.
	if err := cfg.CheckUnused(); err != nil {
		return err
	}
	if checkOnly {
		logger.Info("config ok")
		return nil
	}

	if err := rt.Start(); err != nil {
		return err
	}
	defer rt.Stop()

	server := hmi.New(hmi.Config{
		Addr:       hmiAddr,
		Controller: rt,
		Logger:     logger.Child("hmi"),
		Metrics:    registry,
		Journal:    jrnl,
	})
	defer server.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received %v, shutting down", sig)
		return nil
	case err := <-errCh:
		return err
	}
}

// hardware defers GPIO host init until the first pin is claimed, so a
// -check run never touches the hardware.
type hardware struct {
	logger    *log.Logger
	checkOnly bool
	ctx       *hal.Context
}

func newHardware(logger *log.Logger, checkOnly bool) *hardware {
	return &hardware{logger: logger, checkOnly: checkOnly}
}

func (h *hardware) context() (*hal.Context, error) {
	if h.ctx == nil {
		ctx, err := hal.NewContext()
		if err != nil {
			return nil, err
		}
		h.ctx = ctx
	}
	return h.ctx, nil
}

func (h *hardware) input(pin string, pull gpio.Pull, invert bool) (hal.DigitalInput, error) {
	if h.checkOnly {
		return hal.NewMemInput(false), nil
	}
	ctx, err := h.context()
	if err != nil {
		return nil, err
	}
	return ctx.Input(pin, pull, invert)
}

func (h *hardware) output(pin string, invert bool) (hal.DigitalOutput, error) {
	if h.checkOnly {
		return hal.NewMemOutput(), nil
	}
	ctx, err := h.context()
	if err != nil {
		return nil, err
	}
	return ctx.Output(pin, invert)
}

func (h *hardware) pwm(pin string, freq physic.Frequency) (hal.PWMOutput, error) {
	if h.checkOnly {
		return hal.NewMemPWM(), nil
	}
	ctx, err := h.context()
	if err != nil {
		return nil, err
	}
	return ctx.PWM(pin, freq)
}

func (h *hardware) pulse(pin string, width time.Duration) (hal.PulseSink, error) {
	if h.checkOnly {
		return hal.NewMemPulseSink(), nil
	}
	ctx, err := h.context()
	if err != nil {
		return nil, err
	}
	return ctx.Pulse(pin, width)
}

// sectionSuffix returns the instance name of a prefixed section, e.g.
// "feed" for [input feed].
func sectionSuffix(sec *config.Section, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(sec.GetName(), prefix))
}

func buildIO(cfg *config.Config, rt *plc.Runtime, hw *hardware) error {
	for _, sec := range cfg.GetPrefixSections("input ") {
		name := sectionSuffix(sec, "input ")
		pin, err := sec.Get("pin")
		if err != nil {
			return err
		}
		pullUp, err := sec.GetBool("pull_up", false)
		if err != nil {
			return err
		}
		invert, err := sec.GetBool("invert", false)
		if err != nil {
			return err
		}
		pull := gpio.Float
		if pullUp {
			pull = gpio.PullUp
		}
		in, err := hw.input(pin, pull, invert)
		if err != nil {
			return err
		}
		rt.Image().AddInput(name, in)
	}

	for _, sec := range cfg.GetPrefixSections("output ") {
		name := sectionSuffix(sec, "output ")
		pin, err := sec.Get("pin")
		if err != nil {
			return err
		}
		invert, err := sec.GetBool("invert", false)
		if err != nil {
			return err
		}
		out, err := hw.output(pin, invert)
		if err != nil {
			return err
		}
		rt.Image().AddOutput(name, out)
	}

	for _, sec := range cfg.GetPrefixSections("pwm ") {
		name := sectionSuffix(sec, "pwm ")
		pin, err := sec.Get("pin")
		if err != nil {
			return err
		}
		freq, err := sec.GetFloat("frequency", 1000)
		if err != nil {
			return err
		}
		p, err := hw.pwm(pin, physic.Frequency(freq)*physic.Hertz)
		if err != nil {
			return err
		}
		duty, err := sec.GetFloat("initial_duty", 0)
		if err != nil {
			return err
		}
		if err := rt.Image().AddPWM(name, p, duty); err != nil {
			return err
		}
		hw.logger.Debug("pwm %s on pin %s at %.0f Hz", name, pin, freq)
	}
	return nil
}

func buildSteppers(cfg *config.Config, rt *plc.Runtime, hw *hardware, logger *log.Logger) error {
	for _, sec := range cfg.GetPrefixSections("stepper ") {
		name := sectionSuffix(sec, "stepper ")
		if err := buildStepper(sec, name, rt, hw, logger); err != nil {
			return err
		}
	}
	return nil
}

func buildStepper(sec *config.Section, name string, rt *plc.Runtime, hw *hardware, logger *log.Logger) error {
	driverKind, err := sec.GetChoice("driver", []string{"a4988", "tmc2208", "tmc2208_uart"})
	if err != nil {
		return err
	}
	stepPinName, err := sec.Get("step_pin")
	if err != nil {
		return err
	}
	dirPinName, err := sec.Get("dir_pin")
	if err != nil {
		return err
	}
	pulseWidth, err := sec.GetDuration("pulse_width", defaultPulseWidth)
	if err != nil {
		return err
	}

	stepPin, err := hw.pulse(stepPinName, pulseWidth)
	if err != nil {
		return err
	}
	dirPin, err := hw.output(dirPinName, false)
	if err != nil {
		return err
	}

	var enablePin hal.DigitalOutput
	if enableName, _ := sec.Get("enable_pin", ""); enableName != "" {
		// Enable is typically active-low on stepper driver boards.
		invert, err := sec.GetBool("enable_invert", true)
		if err != nil {
			return err
		}
		enablePin, err = hw.output(enableName, invert)
		if err != nil {
			return err
		}
	}

	defaultMicrostep := 16
	if driverKind == "tmc2208" {
		defaultMicrostep = 8
	}
	microstep, err := sec.GetInt("microstep", defaultMicrostep)
	if err != nil {
		return err
	}

	var drv stepper.Driver
	switch driverKind {
	case "a4988":
		ms, err := modePins(sec, hw, 3)
		if err != nil {
			return err
		}
		drv = stepper.NewA4988(stepPin, dirPin, enablePin, [3]hal.DigitalOutput{ms[0], ms[1], ms[2]})

	case "tmc2208":
		ms, err := modePins(sec, hw, 2)
		if err != nil {
			return err
		}
		drv = stepper.NewTMC2208(stepPin, dirPin, enablePin, [2]hal.DigitalOutput{ms[0], ms[1]})

	case "tmc2208_uart":
		d, err := buildUARTDriver(sec, name, stepPin, dirPin, enablePin, hw, logger)
		if err != nil {
			return err
		}
		drv = d
	}

	if err := drv.SetMicrostep(microstep); err != nil {
		return err
	}
	if err := drv.Enable(); err != nil {
		return err
	}

	maxVelocity, err := sec.GetFloat("max_velocity")
	if err != nil {
		return err
	}
	maxAccel, err := sec.GetFloat("max_accel")
	if err != nil {
		return err
	}
	maxJerk, err := sec.GetFloat("max_jerk", 0)
	if err != nil {
		return err
	}

	axis := stepgen.NewAxis(name, drv.StepPin(), drv.DirPin(), logger.Child("axis."+name))
	err = rt.AddAxis(axis, plc.AxisLimits{
		MaxVelocity: maxVelocity,
		MaxAccel:    maxAccel,
		MaxJerk:     maxJerk,
		Microstep:   drv.Microstep(),
	})
	if err != nil {
		return err
	}
	if err := rt.SetAxisEnabler(name, drv); err != nil {
		return err
	}

	logger.Info("stepper %s: driver=%s microstep=%d step=%s dir=%s",
		name, driverKind, drv.Microstep(), stepPinName, dirPinName)
	return nil
}

// modePins claims the msN_pin outputs of a pin-strapped driver. Missing
// pins stay nil, which the driver rejects only when a microstep change
// actually needs them.
func modePins(sec *config.Section, hw *hardware, n int) ([]hal.DigitalOutput, error) {
	pins := make([]hal.DigitalOutput, n)
	for i := 0; i < n; i++ {
		option := fmt.Sprintf("ms%d_pin", i+1)
		pinName, err := sec.Get(option, "")
		if err != nil {
			return nil, err
		}
		if pinName == "" {
			continue
		}
		pin, err := hw.output(pinName, false)
		if err != nil {
			return nil, err
		}
		pins[i] = pin
	}
	return pins, nil
}

func buildUARTDriver(sec *config.Section, name string, stepPin hal.PulseSink,
	dirPin, enablePin hal.DigitalOutput, hw *hardware, logger *log.Logger) (stepper.Driver, error) {

	device, err := sec.Get("uart_device")
	if err != nil {
		return nil, err
	}
	baud, err := sec.GetInt("uart_baud", 115200)
	if err != nil {
		return nil, err
	}
	addr, err := sec.GetInt("uart_address", 0)
	if err != nil {
		return nil, err
	}
	runCurrent, err := sec.GetInt("run_current", -1)
	if err != nil {
		return nil, err
	}
	holdCurrent, holdDelay := runCurrent/2, 8
	if runCurrent >= 0 {
		holdCurrent, err = sec.GetInt("hold_current", runCurrent/2)
		if err != nil {
			return nil, err
		}
		holdDelay, err = sec.GetInt("hold_delay", 8)
		if err != nil {
			return nil, err
		}
	}

	if hw.checkOnly {
		return &checkDriver{step: stepPin, dir: dirPin}, nil
	}

	port, err := serial.Open(serial.Config{Device: device, BaudRate: baud})
	if err != nil {
		return nil, err
	}
	bus := tmc.NewUART(port, byte(addr), logger.Child("tmc."+name))

	drv, err := stepper.NewTMC2208UART(stepPin, dirPin, enablePin, bus, logger.Child("stepper."+name))
	if err != nil {
		return nil, err
	}
	if runCurrent >= 0 {
		err = drv.SetCurrent(uint32(runCurrent), uint32(holdCurrent), uint32(holdDelay))
		if err != nil {
			return nil, err
		}
	}
	return drv, nil
}

// checkDriver stands in for a UART driver during -check runs, where no
// serial port is opened. It accepts any factor the silicon supports.
type checkDriver struct {
	step      hal.PulseSink
	dir       hal.DigitalOutput
	microstep int
}

func (d *checkDriver) Step() error                 { return d.step.AssertPulse() }
func (d *checkDriver) SetDirection(fwd bool) error { return d.dir.Write(fwd) }
func (d *checkDriver) Enable() error               { return nil }
func (d *checkDriver) Disable() error              { return nil }
func (d *checkDriver) StepPin() hal.PulseSink      { return d.step }
func (d *checkDriver) DirPin() hal.DigitalOutput   { return d.dir }
func (d *checkDriver) Microstep() int              { return d.microstep }

func (d *checkDriver) SetMicrostep(factor int) error {
	switch factor {
	case 1, 2, 4, 8, 16, 32, 64, 128, 256:
		d.microstep = factor
		return nil
	}
	return plcerror.New(plcerror.ErrConfigValidation,
		"tmc2208_uart does not support 1/%d microstepping", factor)
}

// installChart installs the supervisor chart: a single run step that
// latches the emergency stop when the configured input rises.
// Application charts replace this through the library API.
func installChart(rt *plc.Runtime, estopInput string) error {
	im := rt.Image()
	run := sfc.Step{Name: "run"}
	if estopInput != "" {
		run.During = func() {
			if im.Rose(estopInput) {
				rt.Estop()
			}
		}
	}
	g := sfc.NewGraph().AddStep(run).SetInitial("run")
	return rt.SetChart(g)
}
