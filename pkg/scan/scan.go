// Package scan runs a program on a fixed-period cycle.
//
// The engine calls the Cycler once per period and always passes the
// nominal period as dt, so timers and profiles advance in deterministic
// cycle time even when the wall clock slips. A cycle that runs past its
// deadline is recorded as an overrun and logged; the schedule then
// resynchronizes to the present instead of trying to catch up with a
// burst of back-to-back cycles. Overruns never stop the engine.
package scan

import (
	"sync"
	"time"

	"berryplc/pkg/log"
	"berryplc/pkg/plcerror"
)

// Cycler is one scan of a program: read inputs, evaluate logic, write
// outputs. dt is always the nominal scan period.
type Cycler interface {
	Cycle(dt time.Duration)
}

// CyclerFunc adapts a function to the Cycler interface.
type CyclerFunc func(dt time.Duration)

// Cycle implements Cycler.
func (f CyclerFunc) Cycle(dt time.Duration) { f(dt) }

// Stats is a snapshot of engine counters.
type Stats struct {
	// Cycles completed since Start.
	Cycles uint64

	// Overruns is the number of cycles that finished past their
	// deadline.
	Overruns uint64

	// LastDuration and MaxDuration measure Cycle execution time.
	LastDuration time.Duration
	MaxDuration  time.Duration

	// LastOverrunBy is how far past the deadline the most recent
	// overrun finished.
	LastOverrunBy time.Duration
}

// Engine drives a Cycler at a fixed period.
type Engine struct {
	period time.Duration
	cycler Cycler
	logger *log.Logger

	mu      sync.Mutex
	stats   Stats
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates an engine. period must be positive.
func New(period time.Duration, cycler Cycler, logger *log.Logger) (*Engine, error) {
	if period <= 0 {
		return nil, plcerror.New(plcerror.ErrConfigValidation, "scan period %v must be positive", period)
	}
	if cycler == nil {
		return nil, plcerror.New(plcerror.ErrConfigValidation, "nil cycler")
	}
	if logger == nil {
		logger = log.New("scan")
	}
	return &Engine{period: period, cycler: cycler, logger: logger}, nil
}

// Period returns the nominal scan period.
func (e *Engine) Period() time.Duration { return e.period }

// Start launches the scan loop. Starting a running engine is an error.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return plcerror.New(plcerror.ErrConfigValidation, "engine already running")
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(e.stop, e.done)
	return nil
}

// Stop halts the loop after the in-flight cycle and waits for it to
// finish. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	next := time.Now()
	for {
		select {
		case <-stop:
			return
		default:
		}

		start := time.Now()
		e.cycler.Cycle(e.period)
		end := time.Now()

		next = next.Add(e.period)
		overrunBy := end.Sub(next)

		e.mu.Lock()
		e.stats.Cycles++
		e.stats.LastDuration = end.Sub(start)
		if e.stats.LastDuration > e.stats.MaxDuration {
			e.stats.MaxDuration = e.stats.LastDuration
		}
		if overrunBy > 0 {
			e.stats.Overruns++
			e.stats.LastOverrunBy = overrunBy
		}
		cycle := e.stats.Cycles
		e.mu.Unlock()

		if overrunBy > 0 {
			e.logger.WarnFields("scan overrun", log.Fields{
				"cycle":      cycle,
				"overrun_ms": float64(overrunBy) / float64(time.Millisecond),
				"period_ms":  float64(e.period) / float64(time.Millisecond),
			})
			// Resynchronize instead of bursting catch-up cycles.
			next = end
			continue
		}

		timer.Reset(next.Sub(end))
		select {
		case <-stop:
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}
