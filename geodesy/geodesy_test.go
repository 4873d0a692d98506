package geodesy

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestLocalRoundTrip(t *testing.T) {
	f := NewFrame(47.3977, 8.5456, 488)
	for _, v := range []r3.Vec{
		{X: 100, Y: 0, Z: 5},
		{X: 0, Y: -250, Z: -2},
		{X: -35.5, Y: 71.25, Z: 10},
		{},
	} {
		lat, lng, alt := f.ToGeo(v)
		got := f.ToLocal(lat, lng, alt)
		test.That(t, got.X, test.ShouldAlmostEqual, v.X, 1e-3)
		test.That(t, got.Y, test.ShouldAlmostEqual, v.Y, 1e-3)
		test.That(t, got.Z, test.ShouldAlmostEqual, v.Z, 1e-9)
	}
}

func TestNorthIsPlusY(t *testing.T) {
	f := NewFrame(0, 0, 0)
	// one arc-minute of latitude is about one nautical mile
	v := f.ToLocal(1.0/60, 0, 0)
	test.That(t, v.X, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1853, 2)
}

func TestDistanceAndBearing(t *testing.T) {
	test.That(t, Distance(0, 0, 0, 1), test.ShouldAlmostEqual, 111195, 1)
	test.That(t, Bearing(0, 0, 0, 1), test.ShouldAlmostEqual, 90, 1e-9)
	test.That(t, Bearing(0, 0, -1, 0), test.ShouldAlmostEqual, 180, 1e-9)
}
