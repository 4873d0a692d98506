package control

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/config"
)

// Mixer maps throttle bias and body torque to the four motors of a quad X
// frame, numbered rear-right, front-right, front-left, rear-left.
type Mixer struct {
	Min, Max float64
}

// NewMixer returns a mixer for the motor range in cfg.
func NewMixer(cfg config.Motors) Mixer {
	return Mixer{Min: cfg.Min, Max: cfg.Max}
}

// Mix returns the motor powers for throttle bias and torque. When a power
// falls outside [Min, Max] all four are shifted by the same amount, which
// keeps the differences that produce the torque. If the spread is wider than
// the range the ceiling wins.
func (m Mixer) Mix(bias float64, torque r3.Vec) [4]float64 {
	x, y, z := torque.X, torque.Y, torque.Z
	p := [4]float64{
		bias + (-x+y)/2 - z,
		bias + (-x-y)/2 + z,
		bias + (x-y)/2 - z,
		bias + (x+y)/2 + z,
	}

	hi, lo := math.Inf(-1), math.Inf(1)
	for _, v := range p {
		hi, lo = math.Max(hi, v), math.Min(lo, v)
	}
	// Shifting by distance from the extreme lands the extreme exactly on the bound.
	switch {
	case hi > m.Max:
		for i := range p {
			p[i] = m.Max - (hi - p[i])
		}
	case lo < m.Min:
		for i := range p {
			p[i] = m.Min + (p[i] - lo)
		}
	}
	return p
}
