// Package sim synthesizes sensor readings from a scripted flight so the
// estimator and the control loop can run without hardware.
package sim

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/ahrs"
	"github.com/martindeegan/copter/geodesy"
	"github.com/martindeegan/copter/sensors"
)

// GPSPeriod is the interval between simulated GPS fixes.
const GPSPeriod = 200 * time.Millisecond

// Knot is one point of a scripted flight. The aircraft passes through each
// knot at rest: position eases in and out between knots, attitude angles are
// interpolated linearly.
type Knot struct {
	T                float64 // s since the start of the situation
	Position         r3.Vec  // m, local ENU
	Roll, Pitch, Yaw float64 // rad
}

// Noise describes the sensor imperfections added to the true values.
type Noise struct {
	Gyro, Accel, Mag, GPS float64 // Gaussian std devs, in each sensor's units
	GyroBias, AccelBias   r3.Vec
	Seed                  int64
}

// Truth is the true kinematic state at one instant.
type Truth struct {
	Position, Velocity, Acceleration r3.Vec // world frame
	Attitude                         quat.Number
	AngularRate                      r3.Vec // body frame
}

// Situation defines a scenario by piecewise interpolation between knots and
// serves sensor readings for the clock's current time. It implements every
// capability interface in package sensors.
type Situation struct {
	knots   []Knot
	clk     Clock
	start   time.Time
	gravity float64
	field   r3.Vec // World frame
	frame   *geodesy.Frame
	noise   Noise

	mu      sync.Mutex
	rnd     *rand.Rand
	lastFix time.Time
}

// NewSituation returns a situation starting at the clock's current time.
// field is the geomagnetic field, world frame; frame places GPS fixes and may
// be nil to disable the GPS.
func NewSituation(knots []Knot, clk Clock, gravity float64, field r3.Vec, frame *geodesy.Frame, noise Noise) (*Situation, error) {
	if len(knots) < 2 {
		return nil, errors.New("a situation needs at least two knots")
	}
	for i := 1; i < len(knots); i++ {
		if knots[i].T <= knots[i-1].T {
			return nil, errors.Errorf("knot %d at %gs is not after knot %d at %gs", i, knots[i].T, i-1, knots[i-1].T)
		}
	}
	now := clk.Now()
	return &Situation{
		knots:   knots,
		clk:     clk,
		start:   now,
		gravity: gravity,
		field:   field,
		frame:   frame,
		noise:   noise,
		rnd:     rand.New(rand.NewSource(noise.Seed)),
		lastFix: now.Add(-GPSPeriod),
	}, nil
}

// Duration is the scripted length of the situation. Past the end the
// aircraft holds the last knot.
func (s *Situation) Duration() time.Duration {
	return time.Duration((s.knots[len(s.knots)-1].T - s.knots[0].T) * float64(time.Second))
}

// Elapsed is the situation time at the clock's current time, s.
func (s *Situation) Elapsed() float64 {
	return s.knots[0].T + s.clk.Since(s.start).Seconds()
}

// Done reports whether the clock has passed the last knot.
func (s *Situation) Done() bool {
	return s.Elapsed() >= s.knots[len(s.knots)-1].T
}

// Truth interpolates the true state at situation time t.
func (s *Situation) Truth(t float64) Truth {
	k := s.knots
	if t <= k[0].T {
		return Truth{Position: k[0].Position, Attitude: ahrs.FromEuler(k[0].Roll, k[0].Pitch, k[0].Yaw)}
	}
	if t >= k[len(k)-1].T {
		e := k[len(k)-1]
		return Truth{Position: e.Position, Attitude: ahrs.FromEuler(e.Roll, e.Pitch, e.Yaw)}
	}
	ix := sort.Search(len(k), func(i int) bool { return k[i].T > t }) - 1
	a, b := k[ix], k[ix+1]
	ddt := b.T - a.T
	f := (t - a.T) / ddt

	// Position eases with (1 - cos πf)/2 so velocity is zero at every knot.
	dp := r3.Sub(b.Position, a.Position)
	ease := (1 - math.Cos(math.Pi*f)) / 2
	dEase := math.Pi / 2 * math.Sin(math.Pi*f) / ddt
	ddEase := math.Pi * math.Pi / 2 * math.Cos(math.Pi*f) / (ddt * ddt)

	roll := a.Roll + f*(b.Roll-a.Roll)
	pitch := a.Pitch + f*(b.Pitch-a.Pitch)
	yaw := a.Yaw + f*(b.Yaw-a.Yaw)
	dRoll := (b.Roll - a.Roll) / ddt
	dPitch := (b.Pitch - a.Pitch) / ddt
	dYaw := (b.Yaw - a.Yaw) / ddt

	sr, cr := math.Sincos(roll)
	sp, cp := math.Sincos(pitch)
	return Truth{
		Position:     r3.Add(a.Position, r3.Scale(ease, dp)),
		Velocity:     r3.Scale(dEase, dp),
		Acceleration: r3.Scale(ddEase, dp),
		Attitude:     ahrs.FromEuler(roll, pitch, yaw),
		AngularRate: r3.Vec{
			X: dRoll - dYaw*sp,
			Y: dPitch*cr + dYaw*cp*sr,
			Z: -dPitch*sr + dYaw*cp*cr,
		},
	}
}

// Now is the true state at the clock's current time.
func (s *Situation) Now() Truth {
	return s.Truth(s.Elapsed())
}

func (s *Situation) gauss(sd float64) r3.Vec {
	if sd == 0 {
		return r3.Vec{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return r3.Vec{X: sd * s.rnd.NormFloat64(), Y: sd * s.rnd.NormFloat64(), Z: sd * s.rnd.NormFloat64()}
}

// AngularRate implements sensors.Gyroscope.
func (s *Situation) AngularRate() (r3.Vec, error) {
	x := s.Now()
	return r3.Add(r3.Add(x.AngularRate, s.noise.GyroBias), s.gauss(s.noise.Gyro)), nil
}

// SpecificForce implements sensors.Accelerometer.
func (s *Situation) SpecificForce() (r3.Vec, error) {
	x := s.Now()
	f := ahrs.RotateInv(x.Attitude, r3.Add(x.Acceleration, r3.Vec{Z: s.gravity}))
	return r3.Add(r3.Add(f, s.noise.AccelBias), s.gauss(s.noise.Accel)), nil
}

// MagneticField implements sensors.Magnetometer.
func (s *Situation) MagneticField() (r3.Vec, error) {
	x := s.Now()
	return r3.Add(ahrs.RotateInv(x.Attitude, s.field), s.gauss(s.noise.Mag)), nil
}

// Fix implements sensors.GPS, producing a fresh fix every GPSPeriod.
func (s *Situation) Fix() (sensors.Fix, bool, error) {
	if s.frame == nil {
		return sensors.Fix{}, false, errors.New("no GPS in this situation")
	}
	now := s.clk.Now()
	s.mu.Lock()
	fresh := now.Sub(s.lastFix) >= GPSPeriod
	if fresh {
		s.lastFix = now
	}
	s.mu.Unlock()
	if !fresh {
		return sensors.Fix{}, false, nil
	}
	p := r3.Add(s.Now().Position, s.gauss(s.noise.GPS))
	lat, lng, alt := s.frame.ToGeo(p)
	return sensors.Fix{Latitude: lat, Longitude: lng, Altitude: alt, T: now}, true, nil
}

// Sensors returns a sensor set backed by s.
func (s *Situation) Sensors() sensors.Set {
	set := sensors.Set{Gyroscope: s, Accelerometer: s, Magnetometer: s}
	if s.frame != nil {
		set.GPS = s
	}
	return set
}
