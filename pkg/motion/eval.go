package motion

import "math"

// bisection tolerance for jerk-segment inversion, in seconds.
const invertTimeTol = 1e-12

// PositionAt returns the distance travelled from move start after t
// seconds, clamped to [0, Distance] outside the profile.
func (p *Profile) PositionAt(t float64) float64 {
	if t <= 0 || len(p.phases) == 0 {
		return 0
	}
	if t >= p.duration {
		return p.endPosition()
	}
	ph := p.phaseAtTime(t)
	return ph.startPos + ph.distanceAt(t-ph.startTime)
}

// VelocityAt returns the velocity in steps/s after t seconds, zero
// outside the profile.
func (p *Profile) VelocityAt(t float64) float64 {
	if t < 0 || t > p.duration || len(p.phases) == 0 {
		return 0
	}
	ph := p.phaseAtTime(t)
	return ph.velocityAt(t - ph.startTime)
}

// TimeAtPosition inverts the position function: it returns the smallest
// time t at which the travelled distance reaches s. Positions at or
// beyond the end of the profile return the total duration.
func (p *Profile) TimeAtPosition(s float64) float64 {
	if s <= 0 || len(p.phases) == 0 {
		return 0
	}
	if s >= p.endPosition() {
		return p.duration
	}

	ph := p.phaseAtPosition(s)
	ds := s - ph.startPos
	return ph.startTime + ph.timeForDistance(ds)
}

func (p *Profile) endPosition() float64 {
	if len(p.phases) == 0 {
		return 0
	}
	last := &p.phases[len(p.phases)-1]
	return last.startPos + last.distanceAt(last.Duration)
}

func (p *Profile) phaseAtTime(t float64) *Phase {
	for i := range p.phases {
		ph := &p.phases[i]
		if t < ph.startTime+ph.Duration {
			return ph
		}
	}
	return &p.phases[len(p.phases)-1]
}

func (p *Profile) phaseAtPosition(s float64) *Phase {
	for i := range p.phases {
		ph := &p.phases[i]
		if s < ph.startPos+ph.distanceAt(ph.Duration) {
			return ph
		}
	}
	return &p.phases[len(p.phases)-1]
}

// timeForDistance returns the smallest tau in [0, Duration] with
// distanceAt(tau) >= ds. Closed form for constant-acceleration segments,
// bisection for jerk segments.
func (ph *Phase) timeForDistance(ds float64) float64 {
	if ds <= 0 {
		return 0
	}

	if ph.Jerk == 0 {
		if ph.Accel == 0 {
			return ds / ph.StartVelocity
		}
		// Solve v0*tau + a*tau^2/2 = ds; the + root is the first
		// crossing for both accelerating and decelerating segments.
		disc := ph.StartVelocity*ph.StartVelocity + 2*ph.Accel*ds
		if disc < 0 {
			disc = 0
		}
		tau := (-ph.StartVelocity + math.Sqrt(disc)) / ph.Accel
		return clampTau(tau, ph.Duration)
	}

	// Jerk segment: distance is a monotone cubic in tau, bisect.
	lo, hi := 0.0, ph.Duration
	for hi-lo > invertTimeTol {
		mid := (lo + hi) / 2
		if ph.distanceAt(mid) < ds {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}

func clampTau(tau, duration float64) float64 {
	if tau < 0 {
		return 0
	}
	if tau > duration {
		return duration
	}
	return tau
}
