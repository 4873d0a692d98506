// Package navigation follows a list of waypoints, producing the attitude and
// thrust setpoints for the attitude controller.
package navigation

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/felixge/pidctrl"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/ahrs"
	"github.com/martindeegan/copter/config"
)

// Instructions is a setpoint for the attitude controller.
type Instructions struct {
	Attitude quat.Number // Desired attitude, unit norm
	Thrust   float64     // Throttle bias, motor power units
}

// Navigator flies through the waypoints of a path in order. Horizontal
// velocity loops command tilt; an altitude loop commands climb rate, which a
// proportional gain turns into thrust around the hover bias.
type Navigator struct {
	cfg       config.Navigation
	climbGain float64
	clk       clock.Clock

	path []r3.Vec
	next int

	vx, vy, alt *pidctrl.PIDController
	last        time.Time
	started     bool
}

// NewNavigator returns a navigator with an empty path. climbGain is the
// throttle bias per m/s of climb rate error.
func NewNavigator(cfg config.Navigation, climbGain float64, clk clock.Clock) *Navigator {
	n := &Navigator{cfg: cfg, climbGain: climbGain, clk: clk}
	n.SetPath(nil)
	return n
}

// SetPath replaces the path, local ENU waypoints in m, and restarts the loops.
func (n *Navigator) SetPath(path []r3.Vec) {
	n.path = append([]r3.Vec(nil), path...)
	n.next = 0
	n.started = false

	tilt, climb := n.cfg.MaxTilt, n.cfg.MaxClimb
	v, a := n.cfg.Velocity, n.cfg.Altitude
	n.vx = pidctrl.NewPIDController(v.P, v.I, v.D)
	n.vx.SetOutputLimits(-tilt, tilt)
	n.vy = pidctrl.NewPIDController(v.P, v.I, v.D)
	n.vy.SetOutputLimits(-tilt, tilt)
	n.alt = pidctrl.NewPIDController(a.P, a.I, a.D)
	n.alt.SetOutputLimits(-climb, climb)
}

// Path returns the remaining waypoints.
func (n *Navigator) Path() []r3.Vec {
	return n.path[n.next:]
}

// Done reports whether every waypoint has been reached.
func (n *Navigator) Done() bool {
	return n.next >= len(n.path)
}

// Target returns the waypoint being flown to.
func (n *Navigator) Target() (r3.Vec, bool) {
	if n.Done() {
		return r3.Vec{}, false
	}
	return n.path[n.next], true
}

// Navigate returns the setpoint for state s with throttle bias hover. Once
// the path is done it holds a level attitude at the current heading.
func (n *Navigator) Navigate(s ahrs.State, hover float64) Instructions {
	now := n.clk.Now()
	var dt time.Duration
	if n.started {
		dt = now.Sub(n.last)
	}
	n.last, n.started = now, true

	_, _, yaw := s.RollPitchYaw()
	for !n.Done() && r3.Norm(r3.Sub(n.path[n.next], s.Position)) < n.cfg.AcceptanceRadius {
		n.next++
	}
	if n.Done() {
		return Instructions{Attitude: ahrs.Heading(yaw), Thrust: hover - n.climbGain*s.Velocity.Z}
	}

	d := r3.Sub(n.path[n.next], s.Position)
	horiz := math.Hypot(d.X, d.Y)
	speed := math.Min(n.cfg.CruiseSpeed, horiz)
	var want r3.Vec
	if horiz > 0 {
		want = r3.Vec{X: speed * d.X / horiz, Y: speed * d.Y / horiz}
	}
	if horiz > n.cfg.AcceptanceRadius {
		yaw = math.Atan2(d.Y, d.X)
	}

	n.vx.Set(want.X)
	n.vy.Set(want.Y)
	n.alt.Set(n.path[n.next].Z)
	var ax, ay, climb float64
	if dt > 0 {
		ax = n.vx.UpdateDuration(s.Velocity.X, dt)
		ay = n.vy.UpdateDuration(s.Velocity.Y, dt)
		climb = n.alt.UpdateDuration(s.Position.Z, dt)
	}

	// Tilt toward the commanded acceleration: nose down (+pitch) to go
	// forward, left side down (-roll) to go left.
	sy, cy := math.Sincos(yaw)
	forward := ax*cy + ay*sy
	left := -ax*sy + ay*cy
	return Instructions{
		Attitude: ahrs.FromEuler(-left, forward, yaw),
		Thrust:   hover + n.climbGain*(climb-s.Velocity.Z),
	}
}
