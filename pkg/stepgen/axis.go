// Package stepgen turns motion profiles into step pulses.
//
// Each whole step i of a move gets an absolute deadline computed from
// the move start time and the profile's inverted position function, so
// timing error never accumulates: a late pulse does not delay the ones
// after it. A move emits exactly the commanded number of pulses unless
// cancelled, and the axis position always equals the pulses actually
// sent, including after a cancellation mid-move.
package stepgen

import (
	"math"
	"sync"
	"time"

	"berryplc/pkg/hal"
	"berryplc/pkg/log"
	"berryplc/pkg/motion"
	"berryplc/pkg/plcerror"
)

// Result describes how a move ended.
type Result struct {
	// Steps emitted before the move ended.
	Steps int64

	// Total steps commanded.
	Total int64

	// Err is nil for a completed move and plcerror.ErrMoveCancelled
	// for a cancelled one.
	Err error
}

// Move is a handle on an in-flight or finished move.
type Move struct {
	done   chan struct{}
	cancel chan struct{}
	once   sync.Once

	mu     sync.Mutex
	result Result
}

// Done returns a channel closed when the move finishes.
func (m *Move) Done() <-chan struct{} { return m.done }

// Wait blocks until the move finishes and returns its result.
func (m *Move) Wait() Result {
	<-m.done
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

func (m *Move) requestCancel() {
	m.once.Do(func() { close(m.cancel) })
}

// Axis owns one step/direction channel pair and runs at most one move
// at a time.
type Axis struct {
	name   string
	sink   hal.PulseSink
	dir    hal.DigitalOutput
	logger *log.Logger

	mu       sync.Mutex
	position int64
	current  *Move
}

// NewAxis creates an axis over the given pulse sink and direction
// output. dir may be nil for direction-less actuators.
func NewAxis(name string, sink hal.PulseSink, dir hal.DigitalOutput, logger *log.Logger) *Axis {
	if logger == nil {
		logger = log.New("axis." + name)
	}
	return &Axis{name: name, sink: sink, dir: dir, logger: logger}
}

// Name returns the axis name.
func (a *Axis) Name() string { return a.name }

// Position returns the absolute position in steps, the exact count of
// pulses sent in each direction since construction.
func (a *Axis) Position() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// Moving reports whether a move is in flight.
func (a *Axis) Moving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

// Snapshot returns the position and the in-flight flag as one
// consistent pair. Reading them through separate calls can interleave
// with a move finishing, pairing a stale position with moving=false;
// once Snapshot reports the axis idle, the position includes every
// pulse of the finished move.
func (a *Axis) Snapshot() (position int64, moving bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position, a.current != nil
}

// Move starts executing the profile in the given direction and returns
// immediately. The axis must be idle.
func (a *Axis) Move(p *motion.Profile, forward bool) (*Move, error) {
	total := wholeSteps(p.Distance())
	timeAt := func(i int64) time.Duration {
		return secondsToDuration(p.TimeAtPosition(float64(i)))
	}
	return a.start(total, forward, timeAt)
}

// Jog starts a constant-speed move of the given number of whole steps
// at speed steps/s.
func (a *Axis) Jog(speed float64, steps int64, forward bool) (*Move, error) {
	if speed <= 0 {
		return nil, plcerror.InfeasibleProfile("jog speed %g must be positive", speed)
	}
	if steps <= 0 {
		return nil, plcerror.InfeasibleProfile("jog steps %d must be positive", steps)
	}
	timeAt := func(i int64) time.Duration {
		return secondsToDuration(float64(i) / speed)
	}
	return a.start(steps, forward, timeAt)
}

func (a *Axis) start(total int64, forward bool, timeAt func(int64) time.Duration) (*Move, error) {
	a.mu.Lock()
	if a.current != nil {
		a.mu.Unlock()
		return nil, plcerror.New(plcerror.ErrAxisBusy, "axis %s is moving", a.name)
	}
	m := &Move{done: make(chan struct{}), cancel: make(chan struct{})}
	a.current = m
	a.mu.Unlock()

	if a.dir != nil {
		if err := a.dir.Write(forward); err != nil {
			a.mu.Lock()
			a.current = nil
			a.mu.Unlock()
			return nil, err
		}
	}

	sign := int64(1)
	if !forward {
		sign = -1
	}
	go a.run(m, total, sign, timeAt)
	return m, nil
}

// Cancel stops the in-flight move, if any, and waits until the pulse
// goroutine has acknowledged. The axis position is left at exactly the
// pulses emitted.
func (a *Axis) Cancel() {
	a.mu.Lock()
	m := a.current
	a.mu.Unlock()
	if m == nil {
		return
	}
	m.requestCancel()
	<-m.done
}

func (a *Axis) run(m *Move, total, sign int64, timeAt func(int64) time.Duration) {
	start := time.Now()
	var emitted int64

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for i := int64(1); i <= total; i++ {
		// Absolute deadline from move start keeps the schedule
		// drift-free even when individual pulses run late.
		wait := time.Until(start.Add(timeAt(i)))
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-m.cancel:
				if !timer.Stop() {
					<-timer.C
				}
				a.finish(m, emitted, total, plcerror.ErrMoveCancelled)
				return
			case <-timer.C:
			}
		} else {
			select {
			case <-m.cancel:
				a.finish(m, emitted, total, plcerror.ErrMoveCancelled)
				return
			default:
			}
		}

		if err := a.sink.AssertPulse(); err != nil {
			a.finish(m, emitted, total, err)
			return
		}
		emitted++
		a.mu.Lock()
		a.position += sign
		a.mu.Unlock()
	}
	a.finish(m, emitted, total, nil)
}

func (a *Axis) finish(m *Move, emitted, total int64, err error) {
	m.mu.Lock()
	m.result = Result{Steps: emitted, Total: total, Err: err}
	m.mu.Unlock()

	a.mu.Lock()
	a.current = nil
	position := a.position
	a.mu.Unlock()

	fields := log.Fields{
		"steps":    emitted,
		"total":    total,
		"position": position,
	}
	switch {
	case err == nil:
		a.logger.DebugFields("move complete", fields)
	case err == plcerror.ErrMoveCancelled:
		a.logger.InfoFields("move cancelled", fields)
	default:
		fields["error"] = err.Error()
		a.logger.ErrorFields("move failed", fields)
	}
	close(m.done)
}

// wholeSteps truncates a commanded distance to whole steps, tolerating
// float noise just under an integer boundary.
func wholeSteps(distance float64) int64 {
	return int64(math.Floor(distance + 1e-9))
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
