package ahrs

import (
	"math"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestTilt(t *testing.T) {
	s := State{Attitude: FromEuler(0.3, 0, 1.2)}
	test.That(t, s.Tilt(), test.ShouldAlmostEqual, 0.3, tolerance)
	s.Attitude = FromEuler(0, -0.4, -2)
	test.That(t, s.Tilt(), test.ShouldAlmostEqual, 0.4, tolerance)
}

func TestValid(t *testing.T) {
	s := State{Attitude: identity()}
	test.That(t, s.Valid(), test.ShouldBeTrue)
	s.Velocity = r3.Vec{Y: math.NaN()}
	test.That(t, s.Valid(), test.ShouldBeFalse)
	s.Velocity = r3.Vec{}
	s.Attitude.Real = math.Inf(1)
	test.That(t, s.Valid(), test.ShouldBeFalse)
}

func TestLogMap(t *testing.T) {
	e := newTestEstimator(t)
	e.s.Attitude = FromEuler(10*Deg, 0, 0)
	m := e.LogMap()
	test.That(t, m["Roll"], test.ShouldAlmostEqual, 10, 1e-9)
	test.That(t, m["DRoll"], test.ShouldAlmostEqual, e.cfg.InitAttitude/Deg, 1e-9)
	test.That(t, m, test.ShouldContainKey, "GB3")
}
