package navigation

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/ahrs"
	"github.com/martindeegan/copter/config"
)

const hover = 1400

func newTestNavigator() (*Navigator, *clock.Mock) {
	clk := clock.NewMock()
	cfg := config.Default()
	return NewNavigator(cfg.Navigation, cfg.Flight.ClimbGain, clk), clk
}

func level() ahrs.State {
	return ahrs.State{Attitude: quat.Number{Real: 1}}
}

func TestEmptyPathHoldsHeading(t *testing.T) {
	n, _ := newTestNavigator()
	test.That(t, n.Done(), test.ShouldBeTrue)
	_, ok := n.Target()
	test.That(t, ok, test.ShouldBeFalse)

	s := level()
	s.Attitude = ahrs.Heading(1)
	s.Velocity.Z = 0.2
	in := n.Navigate(s, hover)
	_, _, yaw := ahrs.Euler(in.Attitude)
	test.That(t, yaw, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, in.Thrust, test.ShouldAlmostEqual, hover-config.Default().Flight.ClimbGain*0.2, 1e-9)
}

func TestFliesTowardWaypoint(t *testing.T) {
	n, clk := newTestNavigator()
	n.SetPath([]r3.Vec{{Y: 10}})
	maxTilt := config.Default().Navigation.MaxTilt

	var in Instructions
	for i := 0; i < 5; i++ {
		in = n.Navigate(level(), hover)
		clk.Add(10 * time.Millisecond)
	}
	roll, pitch, yaw := ahrs.Euler(in.Attitude)
	test.That(t, yaw, test.ShouldAlmostEqual, math.Pi/2, 1e-9)
	test.That(t, pitch, test.ShouldBeGreaterThan, 0.2)
	test.That(t, pitch, test.ShouldBeLessThanOrEqualTo, maxTilt+1e-12)
	test.That(t, roll, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, in.Thrust, test.ShouldAlmostEqual, hover, 1e-9)
}

func TestClimbsToWaypointAltitude(t *testing.T) {
	n, clk := newTestNavigator()
	n.SetPath([]r3.Vec{{Z: 5}})
	var in Instructions
	for i := 0; i < 3; i++ {
		in = n.Navigate(level(), hover)
		clk.Add(10 * time.Millisecond)
	}
	test.That(t, in.Thrust, test.ShouldBeGreaterThan, hover)
	test.That(t, in.Thrust, test.ShouldBeLessThanOrEqualTo, hover+config.Default().Flight.ClimbGain*config.Default().Navigation.MaxClimb+1e-9)
}

func TestAdvancesThroughWaypoints(t *testing.T) {
	n, _ := newTestNavigator()
	path := []r3.Vec{{X: 1}, {X: 10}, {X: 10, Y: 10}}
	n.SetPath(path)
	path[1] = r3.Vec{}
	test.That(t, n.Path(), test.ShouldHaveLength, 3)

	s := level()
	n.Navigate(s, hover)
	target, ok := n.Target()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, target, test.ShouldResemble, r3.Vec{X: 10})

	s.Position = r3.Vec{X: 9.5, Y: 0.5}
	n.Navigate(s, hover)
	target, _ = n.Target()
	test.That(t, target, test.ShouldResemble, r3.Vec{X: 10, Y: 10})
	test.That(t, n.Done(), test.ShouldBeFalse)

	s.Position = r3.Vec{X: 10, Y: 9}
	n.Navigate(s, hover)
	test.That(t, n.Done(), test.ShouldBeTrue)
	test.That(t, n.Path(), test.ShouldBeEmpty)
}
