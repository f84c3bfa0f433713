// Package motion synthesizes single-axis velocity profiles and evaluates
// them in closed form.
//
// A profile is an ordered list of constant-jerk phases. Units are steps,
// seconds, steps/s, steps/s^2 and steps/s^3 throughout; the caller scales
// distances by the microstep factor before building a profile.
//
// Trapezoidal profiles degrade to triangular when the commanded distance
// cannot hold the full cruise (peak velocity sqrt(distance*amax));
// jerk-limited profiles shed their constant-acceleration plateau and then
// their cruise in the same way. In every case the integral of velocity
// over the profile equals the commanded distance and no phase has a
// negative duration.
package motion

import (
	"math"

	"berryplc/pkg/plcerror"
)

// Phase is one constant-jerk segment of a profile.
type Phase struct {
	// Duration of the phase in seconds.
	Duration float64

	// StartVelocity and EndVelocity in steps/s.
	StartVelocity float64
	EndVelocity   float64

	// Accel is the acceleration at phase start in steps/s^2.
	Accel float64

	// Jerk in steps/s^3; zero for trapezoidal phases.
	Jerk float64

	// Cumulative time and position at phase start, filled in by seal.
	startTime float64
	startPos  float64
}

// distance travelled within the phase after tau seconds (0 <= tau <= Duration).
func (ph *Phase) distanceAt(tau float64) float64 {
	return ph.StartVelocity*tau + ph.Accel*tau*tau/2 + ph.Jerk*tau*tau*tau/6
}

// velocity within the phase after tau seconds.
func (ph *Phase) velocityAt(tau float64) float64 {
	return ph.StartVelocity + ph.Accel*tau + ph.Jerk*tau*tau/2
}

// Profile is an immutable time-parameterized motion profile.
type Profile struct {
	phases   []Phase
	distance float64
	duration float64
	peak     float64
}

// Distance returns the commanded travel distance in steps.
func (p *Profile) Distance() float64 { return p.distance }

// Duration returns the total travel time in seconds.
func (p *Profile) Duration() float64 { return p.duration }

// PeakVelocity returns the highest velocity reached, in steps/s.
func (p *Profile) PeakVelocity() float64 { return p.peak }

// Phases returns a copy of the phase list.
func (p *Profile) Phases() []Phase {
	out := make([]Phase, len(p.phases))
	copy(out, p.phases)
	return out
}

// seal drops zero-duration phases, chains cumulative time/position and
// records totals.
func seal(phases []Phase, commanded float64) *Profile {
	p := &Profile{distance: commanded}
	var t, s float64
	for _, ph := range phases {
		if ph.Duration <= 0 {
			continue
		}
		ph.startTime = t
		ph.startPos = s
		ph.EndVelocity = ph.velocityAt(ph.Duration)
		t += ph.Duration
		s += ph.distanceAt(ph.Duration)
		if ph.StartVelocity > p.peak {
			p.peak = ph.StartVelocity
		}
		if ph.EndVelocity > p.peak {
			p.peak = ph.EndVelocity
		}
		p.phases = append(p.phases, ph)
	}
	p.duration = t
	return p
}

// Build synthesizes a trapezoidal profile for the given distance (steps)
// under the velocity limit vmax (steps/s) and acceleration limit amax
// (steps/s^2). If the distance is too short to reach vmax the profile is
// triangular with peak velocity sqrt(distance*amax).
func Build(distance, vmax, amax float64) (*Profile, error) {
	if err := checkLimits(distance, vmax, amax); err != nil {
		return nil, err
	}

	// Distance consumed by a full ramp to vmax and back.
	rampDist := vmax * vmax / amax
	if rampDist > distance {
		// Triangular: accel and decel alone cover the distance.
		vpeak := math.Sqrt(distance * amax)
		tRamp := vpeak / amax
		return seal([]Phase{
			{Duration: tRamp, StartVelocity: 0, Accel: amax},
			{Duration: tRamp, StartVelocity: vpeak, Accel: -amax},
		}, distance), nil
	}

	tRamp := vmax / amax
	cruiseDist := distance - rampDist
	return seal([]Phase{
		{Duration: tRamp, StartVelocity: 0, Accel: amax},
		{Duration: cruiseDist / vmax, StartVelocity: vmax},
		{Duration: tRamp, StartVelocity: vmax, Accel: -amax},
	}, distance), nil
}

// BuildSCurve synthesizes a jerk-limited profile (up to seven segments)
// for the given distance under vmax, amax and the jerk limit jmax
// (steps/s^3). Short moves shed first the constant-acceleration plateau,
// then the cruise, reducing to the shortest achievable shape.
func BuildSCurve(distance, vmax, amax, jmax float64) (*Profile, error) {
	if err := checkLimits(distance, vmax, amax); err != nil {
		return nil, err
	}
	if jmax <= 0 {
		return nil, plcerror.InfeasibleProfile("jmax %g must be positive", jmax)
	}

	// Peak velocity actually reachable over this distance.
	vp := scurvePeakVelocity(distance, vmax, amax, jmax)

	// Ramp shape for a 0 -> vp jerk-limited ramp.
	var tj, ta float64
	if vp*jmax >= amax*amax {
		// Acceleration plateau reached.
		tj = amax / jmax
		ta = vp/amax - tj
	} else {
		// Peak acceleration stays below amax.
		tj = math.Sqrt(vp / jmax)
		ta = 0
	}
	apk := jmax * tj
	rampTime := 2*tj + ta
	// Distance of one full ramp: average velocity is vp/2 by symmetry.
	rampDist := vp * rampTime / 2

	cruiseDist := distance - 2*rampDist
	if cruiseDist < 0 {
		cruiseDist = 0
	}

	v1 := jmax * tj * tj / 2 // velocity after the jerk-in segment
	phases := []Phase{
		{Duration: tj, StartVelocity: 0, Accel: 0, Jerk: jmax},
		{Duration: ta, StartVelocity: v1, Accel: apk},
		{Duration: tj, StartVelocity: vp - v1, Accel: apk, Jerk: -jmax},
		{Duration: cruiseDist / vp, StartVelocity: vp},
		{Duration: tj, StartVelocity: vp, Accel: 0, Jerk: -jmax},
		{Duration: ta, StartVelocity: vp - v1, Accel: -apk},
		{Duration: tj, StartVelocity: v1, Accel: -apk, Jerk: jmax},
	}
	return seal(phases, distance), nil
}

// scurvePeakVelocity returns the peak velocity for a jerk-limited move of
// the given distance: vmax when reachable, otherwise the analytic
// degraded peak.
func scurvePeakVelocity(distance, vmax, amax, jmax float64) float64 {
	full := rampPairDistance(vmax, amax, jmax)
	if full <= distance {
		return vmax
	}

	// No cruise. Try the shape with an acceleration plateau:
	// distance = vp*(vp/amax + tj) with tj = amax/jmax.
	tj := amax / jmax
	vp := (-tj*amax + math.Sqrt(tj*tj*amax*amax+4*distance*amax)) / 2
	if vp*jmax >= amax*amax {
		return vp
	}

	// Plateau gone too: distance = 2*vp*sqrt(vp/jmax).
	return math.Cbrt(distance * distance * jmax / 4)
}

// rampPairDistance is the distance consumed by a full accel ramp to v
// plus its mirror-image decel ramp.
func rampPairDistance(v, amax, jmax float64) float64 {
	var rampTime float64
	if v*jmax >= amax*amax {
		rampTime = v/amax + amax/jmax
	} else {
		rampTime = 2 * math.Sqrt(v/jmax)
	}
	return v * rampTime
}

func checkLimits(distance, vmax, amax float64) error {
	if distance <= 0 {
		return plcerror.InfeasibleProfile("distance %g must be positive", distance)
	}
	if vmax <= 0 {
		return plcerror.InfeasibleProfile("vmax %g must be positive", vmax)
	}
	if amax <= 0 {
		return plcerror.InfeasibleProfile("amax %g must be positive", amax)
	}
	return nil
}
