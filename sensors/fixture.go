package sensors

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Fixture is a sensor backend that reports fixed values. It implements every
// capability interface, so one Fixture can stand in for a whole Set.
type Fixture struct {
	mu    sync.Mutex
	rate  r3.Vec
	force r3.Vec
	field r3.Vec
	fix   *Fix
	volts float64
	err   error
}

// fullPack is a charged three cell pack, V.
const fullPack = 12.6

// NewFixture returns a Fixture at rest and level, reading specific force
// (0, 0, g), the magnetic field field and a full three cell pack.
func NewFixture(g float64, field r3.Vec) *Fixture {
	return &Fixture{force: r3.Vec{Z: g}, field: field, volts: fullPack}
}

// Set returns a sensor Set backed entirely by f.
func (f *Fixture) Set() Set {
	return Set{Gyroscope: f, Accelerometer: f, Magnetometer: f, GPS: f, Battery: f}
}

// SetVoltage changes the battery reading.
func (f *Fixture) SetVoltage(volts float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volts = volts
}

// SetInertial changes the angular rate and specific force readings.
func (f *Fixture) SetInertial(rate, force r3.Vec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate, f.force = rate, force
}

// SetField changes the magnetometer reading.
func (f *Fixture) SetField(field r3.Vec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.field = field
}

// SetFix queues a GPS fix, reported as fresh on the next Fix call.
func (f *Fixture) SetFix(fix Fix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fix = &fix
}

// Fail makes every read return err until Fail(nil).
func (f *Fixture) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fixture) AngularRate() (r3.Vec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rate, f.err
}

func (f *Fixture) SpecificForce() (r3.Vec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.force, f.err
}

func (f *Fixture) MagneticField() (r3.Vec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.field, f.err
}

func (f *Fixture) Fix() (Fix, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Fix{}, false, f.err
	}
	if f.fix == nil {
		return Fix{}, false, nil
	}
	fix := *f.fix
	f.fix = nil
	return fix, true, nil
}

func (f *Fixture) Voltage() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volts, f.err
}
