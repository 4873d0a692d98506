// Package control turns attitude setpoints into motor powers: a per-axis PID
// on the attitude error and a quad X mixer.
package control

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/ahrs"
	"github.com/martindeegan/copter/config"
)

// Torque is the controller output split into its terms, body frame, in
// motor power units.
type Torque struct {
	P, I, D r3.Vec
}

// Sum is the total torque.
func (t Torque) Sum() r3.Vec {
	return r3.Add(r3.Add(t.P, t.I), t.D)
}

// AttitudeController is a PID on the rotation between the current and the
// desired attitude. The derivative term damps the measured angular rate
// rather than differentiating the error. It is owned by the control loop and
// not safe for concurrent use.
type AttitudeController struct {
	cfg config.Attitude
	clk clock.Clock

	integral r3.Vec // ∫e dt, rad·s, each axis bounded by IntegralLimit
	last     time.Time
	started  bool
}

// NewAttitudeController returns a controller timing its integral with clk.
func NewAttitudeController(cfg config.Attitude, clk clock.Clock) *AttitudeController {
	return &AttitudeController{cfg: cfg, clk: clk}
}

// AttitudeError is the rotation vector taking desired to current, body frame.
func AttitudeError(current, desired quat.Number) r3.Vec {
	return ahrs.RotationVector(quat.Mul(quat.Conj(desired), current))
}

// Control returns the torque driving current toward desired.
func (c *AttitudeController) Control(current quat.Number, rate r3.Vec, desired quat.Number) Torque {
	now := c.clk.Now()
	dt := 0.0
	if c.started {
		dt = now.Sub(c.last).Seconds()
	}
	c.last, c.started = now, true

	e := AttitudeError(current, desired)
	lim := c.cfg.IntegralLimit
	c.integral = r3.Vec{
		X: clamp(c.integral.X+e.X*dt, -lim, lim),
		Y: clamp(c.integral.Y+e.Y*dt, -lim, lim),
		Z: clamp(c.integral.Z+e.Z*dt, -lim, lim),
	}

	return Torque{
		P: gains(c.cfg.Kp, e),
		I: gains(c.cfg.Ki, c.integral),
		D: gains(c.cfg.Kd, rate),
	}
}

// Integral returns the accumulated attitude error, rad·s.
func (c *AttitudeController) Integral() r3.Vec {
	return c.integral
}

// Reset clears the integral and the timing.
func (c *AttitudeController) Reset() {
	c.integral = r3.Vec{}
	c.started = false
}

// gains returns -k⊙v.
func gains(k [3]float64, v r3.Vec) r3.Vec {
	return r3.Vec{X: -k[0] * v.X, Y: -k[1] * v.Y, Z: -k[2] * v.Z}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
