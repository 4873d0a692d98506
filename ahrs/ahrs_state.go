package ahrs

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// RollPitchYaw returns the Tait-Bryan angles of the attitude, rad.
func (s *State) RollPitchYaw() (roll, pitch, yaw float64) {
	return Euler(s.Attitude)
}

// Tilt returns the angle between body up and world up, rad.
func (s *State) Tilt() float64 {
	up := Rotate(s.Attitude, r3.Vec{Z: 1})
	return math.Acos(math.Max(-1, math.Min(1, up.Z)))
}

// Valid reports whether every component of the estimate is finite.
func (s *State) Valid() bool {
	for _, v := range []r3.Vec{s.Position, s.Velocity, s.AccelBias, s.GyroBias, s.MagField} {
		if !finiteVec(v) {
			return false
		}
	}
	q := s.Attitude
	return finiteVec(r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}) && !math.IsNaN(q.Real) && !math.IsInf(q.Real, 0)
}

// Uncertainty returns the standard deviation of the attitude error about
// each body axis, rad.
func (e *Estimator) Uncertainty() r3.Vec {
	return r3.Vec{
		X: math.Sqrt(math.Max(0, e.P.Get(IdxAtt, IdxAtt))),
		Y: math.Sqrt(math.Max(0, e.P.Get(IdxAtt+1, IdxAtt+1))),
		Z: math.Sqrt(math.Max(0, e.P.Get(IdxAtt+2, IdxAtt+2))),
	}
}

// LogMap returns the estimate as named values for diagnostics streams.
func (e *Estimator) LogMap() map[string]float64 {
	s := e.s
	roll, pitch, yaw := s.RollPitchYaw()
	u := e.Uncertainty()
	return map[string]float64{
		"Roll":  roll / Deg,
		"Pitch": pitch / Deg,
		"Yaw":   yaw / Deg,
		"DRoll": u.X / Deg, "DPitch": u.Y / Deg, "DYaw": u.Z / Deg,
		"X": s.Position.X, "Y": s.Position.Y, "Z": s.Position.Z,
		"VX": s.Velocity.X, "VY": s.Velocity.Y, "VZ": s.Velocity.Z,
		"AB1": s.AccelBias.X, "AB2": s.AccelBias.Y, "AB3": s.AccelBias.Z,
		"GB1": s.GyroBias.X, "GB2": s.GyroBias.Y, "GB3": s.GyroBias.Z,
		"N1": s.MagField.X, "N2": s.MagField.Y, "N3": s.MagField.Z,
	}
}

func finiteVec(v r3.Vec) bool {
	for _, x := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
