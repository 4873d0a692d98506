// Package telemetry carries one record per control loop tick to the CSV log
// and the live websocket stream, and exports the loop's Prometheus metrics.
package telemetry

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Record is the state of one tick. Rate, Accel and Mag are the sensor
// readings the estimator consumed, body frame, so a log replays as a
// recording.
type Record struct {
	T                float64    // s since the loop started
	Mode             string
	Powers           [4]float64 // µs
	Roll, Pitch, Yaw float64    // rad
	P, I, D          r3.Vec     // Attitude controller terms
	Rate             r3.Vec     // rad/s
	Accel            r3.Vec     // m/s²
	Mag              r3.Vec
}

// Header names the CSV columns of a Record.
var Header = []string{
	"T", "Mode",
	"Motor1", "Motor2", "Motor3", "Motor4",
	"Roll", "Pitch", "Yaw",
	"P1", "P2", "P3",
	"I1", "I2", "I3",
	"D1", "D2", "D3",
	"G1", "G2", "G3",
	"A1", "A2", "A3",
	"M1", "M2", "M3",
}

// values returns the fields of r in Header order.
func (r *Record) values() []interface{} {
	v := []interface{}{r.T, r.Mode}
	for _, p := range r.Powers {
		v = append(v, p)
	}
	v = append(v, r.Roll, r.Pitch, r.Yaw)
	for _, x := range []r3.Vec{r.P, r.I, r.D, r.Rate, r.Accel, r.Mag} {
		v = append(v, x.X, x.Y, x.Z)
	}
	return v
}
