// Package sensors defines the capabilities the flight controller needs from
// its inertial, magnetic, position and battery sensors, and the worker that
// samples them into estimator readings.
package sensors

import (
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrStale is returned by Poller.Sample once a required sensor has failed
// more consecutive reads than the configured bound.
var ErrStale = errors.New("sensor readings are stale")

// Gyroscope measures angular rate, rad/s, body frame.
type Gyroscope interface {
	AngularRate() (r3.Vec, error)
}

// Accelerometer measures specific force, m/s², body frame. A level sensor at
// rest reads (0, 0, +g).
type Accelerometer interface {
	SpecificForce() (r3.Vec, error)
}

// Magnetometer measures the magnetic field, body frame, any consistent units.
type Magnetometer interface {
	MagneticField() (r3.Vec, error)
}

// Fix is a GPS position.
type Fix struct {
	Latitude, Longitude float64 // degrees
	Altitude            float64 // m
	T                   time.Time
}

// GPS reports position fixes. fresh is false when no new fix arrived since
// the previous call.
type GPS interface {
	Fix() (fix Fix, fresh bool, err error)
}

// Battery measures the flight pack voltage, V.
type Battery interface {
	Voltage() (float64, error)
}

// Set bundles the sensors a Poller samples. Gyroscope and Accelerometer are
// required; Magnetometer, GPS and Battery may be nil.
type Set struct {
	Gyroscope     Gyroscope
	Accelerometer Accelerometer
	Magnetometer  Magnetometer
	GPS           GPS
	Battery       Battery
}

// Validate reports a missing required sensor.
func (s Set) Validate() error {
	if s.Gyroscope == nil {
		return errors.New("no gyroscope configured")
	}
	if s.Accelerometer == nil {
		return errors.New("no accelerometer configured")
	}
	return nil
}
