// Package ahrs implements an error-state extended Kalman filter that fuses
// gyro and accelerometer samples with gravity, magnetometer and GPS
// corrections into a position, velocity and attitude estimate.
package ahrs

import (
	"math"
	"time"

	"github.com/skelterjohn/go.matrix"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	Pi    = math.Pi
	Small = 1e-9
	Deg   = Pi / 180

	// NumErr is the dimension of the error state.
	NumErr = 18
	// NumNominal is the dimension of the nominal state; the attitude takes four components.
	NumNominal = 19
)

// Offsets of each block in the 18-dim error state.
const (
	IdxPos       = 0
	IdxVel       = 3
	IdxAtt       = 6
	IdxAccelBias = 9
	IdxGyroBias  = 12
	IdxMag       = 15
)

// Offsets of each block in the 19-dim nominal state.
const (
	nomPos       = 0
	nomVel       = 3
	nomAtt       = 6
	nomAccelBias = 10
	nomGyroBias  = 13
	nomMag       = 16
)

// State holds the nominal estimate.
// World frame is local East-North-Up: 1 is east; 2 is north; 3 is up.
// Body frame: 1 is to nose; 2 is to left; 3 is up.
type State struct {
	Position  r3.Vec      // m, world frame
	Velocity  r3.Vec      // m/s, world frame
	Attitude  quat.Number // Rotates body frame to world frame, unit norm
	AccelBias r3.Vec      // m/s², body frame
	GyroBias  r3.Vec      // rad/s, body frame
	MagField  r3.Vec      // Normalized geomagnetic field, world frame

	T time.Time // Time of the last prediction
}

// PredictionReading is one inertial sample.
type PredictionReading struct {
	AngularRate   r3.Vec // rad/s, body frame
	SpecificForce r3.Vec // m/s², body frame; (0, 0, +g) at rest and level
	T             time.Time
}

// UpdateReading carries the slower correction measurements. MagField and GPS
// are optional; a nil pointer skips that correction.
type UpdateReading struct {
	SpecificForce r3.Vec  // m/s², body frame
	MagField      *r3.Vec // Body frame, any units; normalized before use
	GPS           *r3.Vec // m, already projected into the local world frame
	T             time.Time
}

// Provider is the read side of an estimator, consumed by the controllers.
type Provider interface {
	State() State
	RollPitchYaw() (roll, pitch, yaw float64)
	AngularRate() r3.Vec
}

func identity() quat.Number {
	return quat.Number{Real: 1}
}

// normalizeQ returns q with unit norm; a degenerate q becomes the identity.
func normalizeQ(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n < Small {
		return identity()
	}
	return quat.Scale(1/n, q)
}

func vecAt(m *matrix.DenseMatrix, row int) r3.Vec {
	return r3.Vec{X: m.Get(row, 0), Y: m.Get(row+1, 0), Z: m.Get(row+2, 0)}
}

func setBlock(m *matrix.DenseMatrix, row, col int, b [3][3]float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(row+i, col+j, b[i][j])
		}
	}
}

func setDiag(m *matrix.DenseMatrix, row int, v float64) {
	for i := 0; i < 3; i++ {
		m.Set(row+i, row+i, v)
	}
}
