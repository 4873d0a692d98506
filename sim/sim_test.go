package sim

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/ahrs"
	"github.com/martindeegan/copter/config"
)

func newStepper() *Stepper {
	return NewStepper(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
}

func TestNewSituationRejectsBadKnots(t *testing.T) {
	cfg := config.Default()
	_, err := NewScenario(cfg, []Knot{{T: 0}}, newStepper(), Noise{}, false)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewScenario(cfg, []Knot{{T: 0}, {T: 2}, {T: 2}}, newStepper(), Noise{}, false)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "knot 2")
}

func TestTruthIsConsistent(t *testing.T) {
	sit, err := NewScenario(config.Default(), Square(10, 3), newStepper(), Noise{}, false)
	test.That(t, err, test.ShouldBeNil)

	const h = 1e-4
	for _, tt := range []float64{2.5, 7, 11.3, 18, 40.2, 57.5} {
		a, b := sit.Truth(tt-h), sit.Truth(tt+h)
		x := sit.Truth(tt)

		v := r3.Scale(1/(2*h), r3.Sub(b.Position, a.Position))
		test.That(t, r3.Norm(r3.Sub(v, x.Velocity)), test.ShouldBeLessThan, 1e-6)
		acc := r3.Scale(1/(2*h), r3.Sub(b.Velocity, a.Velocity))
		test.That(t, r3.Norm(r3.Sub(acc, x.Acceleration)), test.ShouldBeLessThan, 1e-5)

		// body rates rotate a into b
		w := r3.Scale(1/(2*h), ahrs.RotationVector(quat.Mul(quat.Conj(a.Attitude), b.Attitude)))
		test.That(t, r3.Norm(r3.Sub(w, x.AngularRate)), test.ShouldBeLessThan, 1e-6)
	}

	// knots are passed at rest
	k := sit.Truth(15)
	test.That(t, r3.Norm(k.Velocity), test.ShouldBeLessThan, 1e-9)
	test.That(t, k.Position.X, test.ShouldAlmostEqual, 10, 1e-9)

	end := sit.Truth(1000)
	test.That(t, end.Position, test.ShouldResemble, r3.Vec{})
	test.That(t, end.AngularRate, test.ShouldResemble, r3.Vec{})
}

func TestSensorsAtRest(t *testing.T) {
	clk := newStepper()
	cfg := config.Default()
	sit, err := NewScenario(cfg, Hover(), clk, Noise{GyroBias: r3.Vec{X: 0.01}}, true)
	test.That(t, err, test.ShouldBeNil)

	clk.Step(time.Second)
	f, err := sit.SpecificForce()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Z, test.ShouldAlmostEqual, cfg.Estimator.Gravity, 1e-9)
	w, _ := sit.AngularRate()
	test.That(t, w, test.ShouldResemble, r3.Vec{X: 0.01})
	m, _ := sit.MagneticField()
	test.That(t, m.Y, test.ShouldAlmostEqual, FieldStrength*cfg.Estimator.MagReference[1], 1e-9)

	fix, fresh, err := sit.Fix()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fresh, test.ShouldBeTrue)
	test.That(t, fix.Altitude, test.ShouldAlmostEqual, cfg.Navigation.Home.Altitude+2, 1e-9)
	_, fresh, _ = sit.Fix()
	test.That(t, fresh, test.ShouldBeFalse)
	clk.Step(GPSPeriod)
	_, fresh, _ = sit.Fix()
	test.That(t, fresh, test.ShouldBeTrue)
}

func TestScenarioLookup(t *testing.T) {
	test.That(t, ScenarioNames(), test.ShouldResemble, []string{"hover", "square"})
	k, err := Scenario("square")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k[len(k)-1].Position, test.ShouldResemble, r3.Vec{})
	_, err = Scenario("loop")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEstimatorTracksHover(t *testing.T) {
	cfg := config.Default()
	cfg.Sensors.SampleRateHz = 200
	clk := newStepper()
	sit, err := NewScenario(cfg, Hover(), clk, Noise{}, true)
	test.That(t, err, test.ShouldBeNil)

	n := 0
	res, err := Evaluate(cfg, sit, clk, zaptest.NewLogger(t), func(Truth, *ahrs.Estimator) { n++ })
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Samples, test.ShouldEqual, n)
	test.That(t, res.Samples, test.ShouldEqual, 8000)
	test.That(t, res.Updates, test.ShouldEqual, 2000)
	test.That(t, res.SkippedCorrections, test.ShouldEqual, 0)
	test.That(t, res.MaxAttitude, test.ShouldBeLessThan, 1*ahrs.Deg)
	test.That(t, res.PositionError, test.ShouldBeLessThan, 0.5)
}

const recording = `T,G1,G2,G3,A1,A2,A3,Mode
0,0,0,0,0,0,9.8,Off
0.01,0.1,0,0,0,0,9.8,Off
bad,row
0.02,0.2,0,0,0,0,9.8,Off
`

func TestReplayInterpolates(t *testing.T) {
	clk := newStepper()
	r, err := NewReplay(strings.NewReader(recording), clk, zap.NewNop())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.HasMagnetometer(), test.ShouldBeFalse)
	test.That(t, r.Sensors().Magnetometer, test.ShouldBeNil)
	test.That(t, r.MagneticFields(), test.ShouldBeNil)
	test.That(t, r.Duration(), test.ShouldEqual, 20*time.Millisecond)

	clk.Step(15 * time.Millisecond)
	w, err := r.AngularRate()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.X, test.ShouldAlmostEqual, 0.15, 1e-9)
	f, _ := r.SpecificForce()
	test.That(t, f.Z, test.ShouldAlmostEqual, 9.8, 1e-9)
	_, err = r.MagneticField()
	test.That(t, err, test.ShouldNotBeNil)

	clk.Step(10 * time.Millisecond)
	test.That(t, r.Done(), test.ShouldBeTrue)
	_, err = r.AngularRate()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReplayNeedsInertialColumns(t *testing.T) {
	_, err := NewReplay(strings.NewReader("T,G1,G2,G3\n0,0,0,0\n"), newStepper(), zap.NewNop())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "A1")
}

func TestReplayMagneticFields(t *testing.T) {
	const rec = "T,G1,G2,G3,A1,A2,A3,M1,M2,M3\n0,0,0,0,0,0,9.8,20,0,-40\n0.01,0,0,0,0,0,9.8,-20,5,-40\n"
	r, err := NewReplay(strings.NewReader(rec), newStepper(), zap.NewNop())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.HasMagnetometer(), test.ShouldBeTrue)
	test.That(t, r.MagneticFields(), test.ShouldResemble, []r3.Vec{{X: 20, Z: -40}, {X: -20, Y: 5, Z: -40}})
}
