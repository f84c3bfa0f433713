// Package plc composes the scan engine, the step chart, the process
// image and the motion axes into one runtime.
package plc

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"berryplc/pkg/journal"
	"berryplc/pkg/log"
	"berryplc/pkg/logic"
	"berryplc/pkg/metrics"
	"berryplc/pkg/motion"
	"berryplc/pkg/plcerror"
	"berryplc/pkg/scan"
	"berryplc/pkg/sfc"
	"berryplc/pkg/stepgen"
)

// Enabler powers a motor driver's outputs on and off. The emergency
// stop path disables every registered enabler.
type Enabler interface {
	Enable() error
	Disable() error
}

// AxisLimits are the motion limits for one axis, in full steps (the
// runtime scales by Microstep when building profiles).
type AxisLimits struct {
	MaxVelocity float64 // steps/s
	MaxAccel    float64 // steps/s^2
	MaxJerk     float64 // steps/s^3; 0 selects trapezoidal profiles
	Microstep   int     // electrical microsteps per full step
}

type axisEntry struct {
	axis    *stepgen.Axis
	limits  AxisLimits
	enabler Enabler
}

// Options configures a Runtime.
type Options struct {
	// ScanPeriod is the cycle time (default 10ms).
	ScanPeriod time.Duration

	Logger *log.Logger

	// Journal receives runtime events; optional.
	Journal *journal.Journal

	// Metrics receives runtime counters and gauges; optional.
	Metrics *metrics.Registry
}

// Runtime owns the machine: I/O image, chart controller, axes and the
// scan engine driving them.
type Runtime struct {
	logger  *log.Logger
	image   *IOImage
	journal *journal.Journal

	mu           sync.Mutex
	controller   *sfc.Controller
	axes         map[string]*axisEntry
	timers       map[string]*logic.Timer
	counters     map[string]*logic.Counter
	timerStats   map[string]TimerStatus
	counterStats map[string]CounterStatus
	estopped     bool
	lastDt       time.Duration
	seenOverruns uint64
	consecOver   uint64

	engine *scan.Engine

	mCycles     *metrics.Counter
	mOverruns   *metrics.Counter
	mConsecOver *metrics.Gauge
	mLastCycle  *metrics.Gauge
	mMaxCycle   *metrics.Gauge
	mEstop      *metrics.Gauge
	mPosition   *metrics.Gauge
	mMovesDone  *metrics.Counter
	mMovesCxl   *metrics.Counter
	mCycleDur   *metrics.Histogram
}

// NewRuntime creates a runtime with no I/O, chart or axes yet.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.ScanPeriod == 0 {
		opts.ScanPeriod = 10 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New("plc")
	}

	rt := &Runtime{
		logger:       logger,
		image:        NewIOImage(logger.Child("io")),
		journal:      opts.Journal,
		axes:         make(map[string]*axisEntry),
		timers:       make(map[string]*logic.Timer),
		counters:     make(map[string]*logic.Counter),
		timerStats:   make(map[string]TimerStatus),
		counterStats: make(map[string]CounterStatus),
		lastDt:       opts.ScanPeriod,
	}

	if opts.Metrics != nil {
		rt.mCycles = metrics.NewCounter("plc_scan_cycles_total", "Completed scan cycles.")
		rt.mOverruns = metrics.NewCounter("plc_scan_overruns_total", "Scan cycles that missed their deadline.")
		rt.mConsecOver = metrics.NewGauge("plc_scan_consecutive_overruns", "Consecutive overruns ending at the latest cycle.")
		rt.mLastCycle = metrics.NewGauge("plc_scan_last_seconds", "Execution time of the latest cycle.")
		rt.mMaxCycle = metrics.NewGauge("plc_scan_max_seconds", "Longest cycle execution time since start.")
		rt.mEstop = metrics.NewGauge("plc_estop", "1 while the emergency stop is latched.")
		rt.mPosition = metrics.NewGauge("plc_axis_position_steps", "Axis position in microsteps.")
		rt.mMovesDone = metrics.NewCounter("plc_moves_completed_total", "Moves run to completion.")
		rt.mMovesCxl = metrics.NewCounter("plc_moves_cancelled_total", "Moves cancelled mid-flight.")
		rt.mCycleDur = metrics.NewHistogram("plc_cycle_seconds", "Scan cycle execution time.", metrics.DefaultBuckets())
		opts.Metrics.MustRegister(rt.mCycles)
		opts.Metrics.MustRegister(rt.mOverruns)
		opts.Metrics.MustRegister(rt.mConsecOver)
		opts.Metrics.MustRegister(rt.mLastCycle)
		opts.Metrics.MustRegister(rt.mMaxCycle)
		opts.Metrics.MustRegister(rt.mEstop)
		opts.Metrics.MustRegister(rt.mPosition)
		opts.Metrics.MustRegister(rt.mMovesDone)
		opts.Metrics.MustRegister(rt.mMovesCxl)
		opts.Metrics.MustRegister(rt.mCycleDur)
	}

	engine, err := scan.New(opts.ScanPeriod, scan.CyclerFunc(rt.cycle), logger.Child("scan"))
	if err != nil {
		return nil, err
	}
	rt.engine = engine
	return rt, nil
}

// Image returns the process image for chart actions and I/O setup.
func (rt *Runtime) Image() *IOImage { return rt.image }

// Dt returns the nominal scan period; chart actions use it to advance
// timers deterministically.
func (rt *Runtime) Dt() time.Duration {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.lastDt
}

// AddAxis registers a motion axis with its limits.
func (rt *Runtime) AddAxis(axis *stepgen.Axis, limits AxisLimits) error {
	if limits.Microstep <= 0 {
		limits.Microstep = 1
	}
	if limits.MaxVelocity <= 0 || limits.MaxAccel <= 0 {
		return plcerror.New(plcerror.ErrConfigValidation,
			"axis %s: velocity and accel limits must be positive", axis.Name())
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, dup := rt.axes[axis.Name()]; dup {
		return plcerror.New(plcerror.ErrConfigValidation, "duplicate axis %s", axis.Name())
	}
	rt.axes[axis.Name()] = &axisEntry{axis: axis, limits: limits}
	return nil
}

// SetAxisEnabler attaches a driver enable line to a registered axis.
// The emergency stop disables it; ClearEstop re-enables it.
func (rt *Runtime) SetAxisEnabler(axisName string, e Enabler) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	entry, ok := rt.axes[axisName]
	if !ok {
		return plcerror.New(plcerror.ErrConfigValidation, "unknown axis %s", axisName)
	}
	entry.enabler = e
	return nil
}

// AddTimer registers a timer for the status surface. The chart still
// owns Update; the runtime only snapshots state after each scan.
func (rt *Runtime) AddTimer(name string, t *logic.Timer) {
	rt.mu.Lock()
	rt.timers[name] = t
	rt.mu.Unlock()
}

// AddCounter registers a counter for the status surface.
func (rt *Runtime) AddCounter(name string, c *logic.Counter) {
	rt.mu.Lock()
	rt.counters[name] = c
	rt.mu.Unlock()
}

// SetChart validates and installs the step chart. Must be called
// before Start.
func (rt *Runtime) SetChart(g *sfc.Graph) error {
	ctl, err := sfc.NewController(g)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	rt.controller = ctl
	rt.mu.Unlock()
	return nil
}

// Start activates the chart's initial steps and begins scanning.
func (rt *Runtime) Start() error {
	rt.mu.Lock()
	ctl := rt.controller
	rt.mu.Unlock()
	if ctl == nil {
		return plcerror.New(plcerror.ErrConfigValidation, "no chart installed")
	}
	ctl.Start()
	if err := rt.engine.Start(); err != nil {
		return err
	}
	rt.record(journal.EventStartup, "", "")
	rt.logger.Info("runtime started, scan period %v", rt.engine.Period())
	return nil
}

// Stop halts the scan loop and cancels in-flight moves.
func (rt *Runtime) Stop() {
	rt.engine.Stop()
	rt.cancelAllMoves()
	rt.record(journal.EventShutdown, "", "")
	rt.logger.Info("runtime stopped")
}

func (rt *Runtime) cycle(dt time.Duration) {
	var release func()
	if rt.mCycleDur != nil {
		release = rt.mCycleDur.Timer(nil)
	}

	rt.mu.Lock()
	rt.lastDt = dt
	ctl := rt.controller
	estopped := rt.estopped
	rt.mu.Unlock()

	rt.image.ReadInputs()
	fired := 0
	if !estopped {
		fired = ctl.Scan()
		rt.image.FlushOutputs()
	} else {
		// Outputs stay forced off while the estop is latched.
		rt.image.AllOff()
	}

	if fired > 0 {
		rt.record(journal.EventStepChange, "chart", strings.Join(ctl.Active(), ","))
	}

	rt.mu.Lock()
	for name, t := range rt.timers {
		rt.timerStats[name] = TimerStatus{
			Kind:    t.Kind().String(),
			Elapsed: t.Elapsed().Seconds(),
			Preset:  t.Preset().Seconds(),
			Done:    t.Done(),
		}
	}
	for name, c := range rt.counters {
		rt.counterStats[name] = CounterStatus{
			Direction: c.Direction().String(),
			Count:     c.Count(),
			Preset:    c.Preset(),
			Done:      c.Done(),
		}
	}
	rt.mu.Unlock()

	st := rt.engine.Stats()
	rt.mu.Lock()
	overran := st.Overruns > rt.seenOverruns
	rt.seenOverruns = st.Overruns
	if overran {
		rt.consecOver++
	} else {
		rt.consecOver = 0
	}
	consec := rt.consecOver
	rt.mu.Unlock()
	if overran {
		rt.record(journal.EventOverrun, "scan", fmt.Sprintf("by=%v", st.LastOverrunBy))
	}

	if rt.mCycles != nil {
		rt.mCycles.Inc(nil)
		if overran {
			rt.mOverruns.Inc(nil)
		}
		rt.mConsecOver.Set(nil, float64(consec))
		rt.mLastCycle.Set(nil, st.LastDuration.Seconds())
		rt.mMaxCycle.Set(nil, st.MaxDuration.Seconds())
		rt.mu.Lock()
		for name, e := range rt.axes {
			rt.mPosition.Set(metrics.Labels{"axis": name}, float64(e.axis.Position()))
		}
		rt.mu.Unlock()
	}
	if release != nil {
		release()
	}
}

// Move dispatches a motion command: travel the given number of full
// steps (sign selects direction) on the named axis under its configured
// limits. An in-flight move is cancelled first and the new profile
// installed in its place.
func (rt *Runtime) Move(axisName string, steps float64) (*stepgen.Move, error) {
	rt.mu.Lock()
	entry, ok := rt.axes[axisName]
	estopped := rt.estopped
	rt.mu.Unlock()
	if !ok {
		return nil, plcerror.New(plcerror.ErrConfigValidation, "unknown axis %s", axisName)
	}
	if estopped {
		return nil, plcerror.New(plcerror.ErrHardware, "estop latched, axis %s refused", axisName)
	}

	forward := steps >= 0
	if !forward {
		steps = -steps
	}
	distance := steps * float64(entry.limits.Microstep)

	var profile *motion.Profile
	var err error
	if entry.limits.MaxJerk > 0 {
		profile, err = motion.BuildSCurve(distance,
			entry.limits.MaxVelocity*float64(entry.limits.Microstep),
			entry.limits.MaxAccel*float64(entry.limits.Microstep),
			entry.limits.MaxJerk*float64(entry.limits.Microstep))
	} else {
		profile, err = motion.Build(distance,
			entry.limits.MaxVelocity*float64(entry.limits.Microstep),
			entry.limits.MaxAccel*float64(entry.limits.Microstep))
	}
	if err != nil {
		return nil, err
	}

	// Cancel-then-install: a newer command always wins the axis.
	entry.axis.Cancel()
	m, err := entry.axis.Move(profile, forward)
	if err != nil {
		return nil, err
	}
	rt.record(journal.EventMoveStart, axisName,
		fmt.Sprintf("steps=%.0f duration=%.3fs", distance, profile.Duration()))
	go rt.watchMove(axisName, m)
	return m, nil
}

// Jog dispatches a constant-speed move: steps full steps at speed full
// steps per second, sign of steps selecting direction. Like Move, a
// newer command cancels whatever the axis is doing.
func (rt *Runtime) Jog(axisName string, speed, steps float64) (*stepgen.Move, error) {
	rt.mu.Lock()
	entry, ok := rt.axes[axisName]
	estopped := rt.estopped
	rt.mu.Unlock()
	if !ok {
		return nil, plcerror.New(plcerror.ErrConfigValidation, "unknown axis %s", axisName)
	}
	if estopped {
		return nil, plcerror.New(plcerror.ErrHardware, "estop latched, axis %s refused", axisName)
	}

	forward := steps >= 0
	if !forward {
		steps = -steps
	}
	micro := float64(entry.limits.Microstep)
	pulses := int64(steps * micro)
	pulseRate := speed * micro
	if pulseRate > entry.limits.MaxVelocity*micro {
		pulseRate = entry.limits.MaxVelocity * micro
	}

	entry.axis.Cancel()
	m, err := entry.axis.Jog(pulseRate, pulses, forward)
	if err != nil {
		return nil, err
	}
	rt.record(journal.EventMoveStart, axisName,
		fmt.Sprintf("jog steps=%d rate=%.1f/s", pulses, pulseRate))
	go rt.watchMove(axisName, m)
	return m, nil
}

// CancelMove cancels the in-flight move on the named axis, if any.
func (rt *Runtime) CancelMove(axisName string) error {
	rt.mu.Lock()
	entry, ok := rt.axes[axisName]
	rt.mu.Unlock()
	if !ok {
		return plcerror.New(plcerror.ErrConfigValidation, "unknown axis %s", axisName)
	}
	entry.axis.Cancel()
	return nil
}

func (rt *Runtime) watchMove(axisName string, m *stepgen.Move) {
	res := m.Wait()
	switch {
	case res.Err == nil:
		rt.record(journal.EventMoveDone, axisName, fmt.Sprintf("steps=%d", res.Steps))
		if rt.mMovesDone != nil {
			rt.mMovesDone.Inc(metrics.Labels{"axis": axisName})
		}
	case res.Err == plcerror.ErrMoveCancelled:
		rt.record(journal.EventMoveCancel, axisName,
			fmt.Sprintf("steps=%d of %d", res.Steps, res.Total))
		if rt.mMovesCxl != nil {
			rt.mMovesCxl.Inc(metrics.Labels{"axis": axisName})
		}
	default:
		rt.record(journal.EventFault, axisName, res.Err.Error())
	}
}

// Estop latches the emergency stop: all moves cancel, all outputs drop
// and stay off, motion commands are refused until ClearEstop.
func (rt *Runtime) Estop() {
	rt.mu.Lock()
	already := rt.estopped
	rt.estopped = true
	rt.mu.Unlock()
	if already {
		return
	}
	rt.cancelAllMoves()
	rt.image.AllOff()
	rt.setDrivers(false)
	if rt.mEstop != nil {
		rt.mEstop.Set(nil, 1)
	}
	rt.record(journal.EventEstop, "", "latched")
	rt.logger.Warn("emergency stop latched")
}

// setDrivers enables or disables every registered axis enabler.
func (rt *Runtime) setDrivers(enable bool) {
	rt.mu.Lock()
	type pair struct {
		name string
		e    Enabler
	}
	var enablers []pair
	for name, entry := range rt.axes {
		if entry.enabler != nil {
			enablers = append(enablers, pair{name, entry.enabler})
		}
	}
	rt.mu.Unlock()

	for _, p := range enablers {
		var err error
		if enable {
			err = p.e.Enable()
		} else {
			err = p.e.Disable()
		}
		if err != nil {
			rt.logger.ErrorFields("driver enable change failed", log.Fields{
				"axis":   p.name,
				"enable": enable,
				"error":  err.Error(),
			})
		}
	}
}

// ClearEstop releases the latch; scanning resumes on the next cycle.
func (rt *Runtime) ClearEstop() {
	rt.mu.Lock()
	rt.estopped = false
	rt.mu.Unlock()
	rt.setDrivers(true)
	if rt.mEstop != nil {
		rt.mEstop.Set(nil, 0)
	}
	rt.record(journal.EventEstop, "", "cleared")
	rt.logger.Info("emergency stop cleared")
}

// Estopped reports whether the emergency stop is latched.
func (rt *Runtime) Estopped() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.estopped
}

func (rt *Runtime) cancelAllMoves() {
	rt.mu.Lock()
	entries := make([]*axisEntry, 0, len(rt.axes))
	for _, e := range rt.axes {
		entries = append(entries, e)
	}
	rt.mu.Unlock()
	for _, e := range entries {
		e.axis.Cancel()
	}
}

// AxisStatus is one axis in a Status snapshot.
type AxisStatus struct {
	Position int64 `json:"position"`
	Moving   bool  `json:"moving"`
}

// TimerStatus is one registered timer in a Status snapshot, as of the
// end of the latest scan. Times are seconds.
type TimerStatus struct {
	Kind    string  `json:"kind"`
	Elapsed float64 `json:"elapsed"`
	Preset  float64 `json:"preset"`
	Done    bool    `json:"done"`
}

// CounterStatus is one registered counter in a Status snapshot.
type CounterStatus struct {
	Direction string `json:"direction"`
	Count     int    `json:"count"`
	Preset    int    `json:"preset"`
	Done      bool   `json:"done"`
}

// Status is a consistent snapshot of the runtime for operator surfaces.
type Status struct {
	ActiveSteps []string                 `json:"active_steps"`
	Axes        map[string]AxisStatus    `json:"axes"`
	Timers      map[string]TimerStatus   `json:"timers,omitempty"`
	Counters    map[string]CounterStatus `json:"counters,omitempty"`
	Inputs      map[string]bool          `json:"inputs"`
	Outputs     map[string]bool          `json:"outputs"`
	PWM         map[string]float64       `json:"pwm,omitempty"`
	Estop       bool                     `json:"estop"`
	Cycles      uint64                   `json:"cycles"`
	Overruns    uint64                   `json:"overruns"`
}

// Status returns a snapshot of chart state, axes and I/O.
func (rt *Runtime) Status() Status {
	rt.mu.Lock()
	ctl := rt.controller
	estopped := rt.estopped
	axes := make(map[string]AxisStatus, len(rt.axes))
	for name, e := range rt.axes {
		pos, moving := e.axis.Snapshot()
		axes[name] = AxisStatus{Position: pos, Moving: moving}
	}
	var timers map[string]TimerStatus
	if len(rt.timerStats) > 0 {
		timers = make(map[string]TimerStatus, len(rt.timerStats))
		for name, ts := range rt.timerStats {
			timers[name] = ts
		}
	}
	var counters map[string]CounterStatus
	if len(rt.counterStats) > 0 {
		counters = make(map[string]CounterStatus, len(rt.counterStats))
		for name, cs := range rt.counterStats {
			counters[name] = cs
		}
	}
	rt.mu.Unlock()

	st := Status{
		Axes:     axes,
		Timers:   timers,
		Counters: counters,
		Inputs:   make(map[string]bool),
		Outputs:  make(map[string]bool),
		Estop:    estopped,
	}
	if ctl != nil {
		st.ActiveSteps = ctl.Active()
	}
	for _, name := range rt.image.InputNames() {
		st.Inputs[name] = rt.image.Input(name)
	}
	for _, name := range rt.image.OutputNames() {
		st.Outputs[name] = rt.image.Output(name)
	}
	if names := rt.image.PWMNames(); len(names) > 0 {
		st.PWM = make(map[string]float64, len(names))
		for _, name := range names {
			st.PWM[name] = rt.image.PWM(name)
		}
	}
	es := rt.engine.Stats()
	st.Cycles = es.Cycles
	st.Overruns = es.Overruns
	return st
}

func (rt *Runtime) record(typ journal.EventType, source, detail string) {
	if rt.journal != nil {
		rt.journal.Record(journal.Event{Type: typ, Source: source, Detail: detail})
	}
}
