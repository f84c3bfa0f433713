package stepper

import (
	"berryplc/pkg/hal"
	"berryplc/pkg/log"
	"berryplc/pkg/plcerror"
	"berryplc/pkg/tmc"
)

// tmc2208Modes maps microstep factors to MS1/MS2 levels for a TMC2208
// in standalone (legacy) mode.
var tmc2208Modes = map[int][2]bool{
	2:  {true, false},
	4:  {false, true},
	8:  {false, false},
	16: {true, true},
}

// TMC2208 drives a Trinamic TMC2208 in standalone mode: microstep
// selection on the MS1/MS2 pins, no register access.
type TMC2208 struct {
	basePins
	ms        [2]hal.DigitalOutput
	microstep int
}

// NewTMC2208 creates a standalone-mode driver. enable may be nil.
func NewTMC2208(step hal.PulseSink, dir, enable hal.DigitalOutput, ms [2]hal.DigitalOutput) *TMC2208 {
	return &TMC2208{
		basePins:  basePins{step: step, dir: dir, enable: enable},
		ms:        ms,
		microstep: 8, // MS1=MS2=low power-on default
	}
}

// SetMicrostep implements Driver. Supported factors: 2, 4, 8, 16.
func (d *TMC2208) SetMicrostep(factor int) error {
	levels, ok := tmc2208Modes[factor]
	if !ok {
		return unsupportedMicrostep("tmc2208", factor)
	}
	if err := writeModePins(d.ms[:], levels[:]); err != nil {
		return err
	}
	d.microstep = factor
	return nil
}

// Microstep implements Driver.
func (d *TMC2208) Microstep() int { return d.microstep }

// Status is a decoded TMC2208 DRV_STATUS readback.
type Status struct {
	OvertempWarning bool
	Overtemp        bool
	ShortToGround   bool
	OpenLoad        bool
	Standstill      bool
	StealthChop     bool
	CurrentScale    uint32
}

// TMC2208UART drives a TMC2208 with its microstep and current settings
// controlled over the single-wire UART instead of the MS pins.
type TMC2208UART struct {
	basePins
	uart   *tmc.UART
	logger *log.Logger

	microstep int
	chopconf  uint32
}

// NewTMC2208UART creates a UART-mode driver and switches the chip to
// register-controlled microstepping (pdn_disable + mstep_reg_select).
// The current CHOPCONF is read back to seed the local register cache.
func NewTMC2208UART(step hal.PulseSink, dir, enable hal.DigitalOutput, uart *tmc.UART, logger *log.Logger) (*TMC2208UART, error) {
	if logger == nil {
		logger = log.New("tmc2208")
	}
	d := &TMC2208UART{
		basePins: basePins{step: step, dir: dir, enable: enable},
		uart:     uart,
		logger:   logger,
	}

	var gconf uint32
	gconf = tmc.SetField(tmc.RegGCONF, "pdn_disable", gconf, 1)
	gconf = tmc.SetField(tmc.RegGCONF, "mstep_reg_select", gconf, 1)
	gconf = tmc.SetField(tmc.RegGCONF, "multistep_filt", gconf, 1)
	if err := uart.WriteRegister(tmc.RegGCONF, gconf); err != nil {
		return nil, err
	}

	chopconf, err := uart.ReadRegister(tmc.RegCHOPCONF)
	if err != nil {
		return nil, err
	}
	d.chopconf = chopconf
	mres := tmc.GetField(tmc.RegCHOPCONF, "mres", chopconf)
	d.microstep = 256 >> mres
	return d, nil
}

// SetMicrostep implements Driver. Supported factors: powers of two up
// to 256.
func (d *TMC2208UART) SetMicrostep(factor int) error {
	mres, ok := tmc.MicrostepToMRES(factor)
	if !ok {
		return unsupportedMicrostep("tmc2208-uart", factor)
	}
	chopconf := tmc.SetField(tmc.RegCHOPCONF, "mres", d.chopconf, mres)
	chopconf = tmc.SetField(tmc.RegCHOPCONF, "intpol", chopconf, 1)
	if err := d.uart.WriteRegister(tmc.RegCHOPCONF, chopconf); err != nil {
		return err
	}
	d.chopconf = chopconf
	d.microstep = factor
	d.logger.DebugFields("microstep set", log.Fields{"factor": factor, "mres": mres})
	return nil
}

// Microstep implements Driver.
func (d *TMC2208UART) Microstep() int { return d.microstep }

// SetCurrent programs the run and hold current scales (0-31) and the
// hold delay (0-15).
func (d *TMC2208UART) SetCurrent(irun, ihold, holdDelay uint32) error {
	if irun > 31 || ihold > 31 || holdDelay > 15 {
		return plcerror.New(plcerror.ErrConfigValidation,
			"current scale out of range: irun=%d ihold=%d delay=%d", irun, ihold, holdDelay)
	}
	var v uint32
	v = tmc.SetField(tmc.RegIHOLDIRUN, "irun", v, irun)
	v = tmc.SetField(tmc.RegIHOLDIRUN, "ihold", v, ihold)
	v = tmc.SetField(tmc.RegIHOLDIRUN, "iholddelay", v, holdDelay)
	return d.uart.WriteRegister(tmc.RegIHOLDIRUN, v)
}

// Status reads and decodes DRV_STATUS.
func (d *TMC2208UART) Status() (Status, error) {
	raw, err := d.uart.ReadRegister(tmc.RegDRVSTATUS)
	if err != nil {
		return Status{}, err
	}
	get := func(field string) bool {
		return tmc.GetField(tmc.RegDRVSTATUS, field, raw) != 0
	}
	return Status{
		OvertempWarning: get("otpw"),
		Overtemp:        get("ot"),
		ShortToGround:   get("s2ga") || get("s2gb"),
		OpenLoad:        get("ola") || get("olb"),
		Standstill:      get("stst"),
		StealthChop:     get("stealth"),
		CurrentScale:    tmc.GetField(tmc.RegDRVSTATUS, "cs_actual", raw),
	}, nil
}
