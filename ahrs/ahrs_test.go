package ahrs

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/skelterjohn/go.matrix"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/config"
)

const (
	dt       = 0.0025
	gravity  = 9.80665
	normTol  = 1e-12
	jacobTol = 1e-5
)

func newTestEstimator(t *testing.T) *Estimator {
	return NewEstimator(config.Default().Estimator, 2500*time.Microsecond, zaptest.NewLogger(t))
}

func randVec(r *rand.Rand, scale float64) r3.Vec {
	return r3.Vec{X: (r.Float64()*2 - 1) * scale, Y: (r.Float64()*2 - 1) * scale, Z: (r.Float64()*2 - 1) * scale}
}

func randomState(r *rand.Rand) State {
	return State{
		Position:  randVec(r, 100),
		Velocity:  randVec(r, 5),
		Attitude:  FromEuler((r.Float64()*2-1)*Pi/3, (r.Float64()*2-1)*Pi/3, (r.Float64()*2-1)*Pi),
		AccelBias: randVec(r, 0.2),
		GyroBias:  randVec(r, 0.02),
		MagField:  r3.Unit(r3.Add(r3.Vec{Y: 0.4, Z: -0.9}, randVec(r, 0.1))),
	}
}

func atRest(t time.Time) PredictionReading {
	return PredictionReading{SpecificForce: r3.Vec{Z: gravity}, T: t}
}

func TestSteadyState(t *testing.T) {
	e := newTestEstimator(t)
	start := time.Now()
	for i := 0; i < 2000; i++ {
		e.Predict(atRest(start.Add(time.Duration(i)*2500*time.Microsecond)), dt)
	}
	s := e.State()
	test.That(t, s.Position, test.ShouldResemble, r3.Vec{})
	test.That(t, s.Velocity, test.ShouldResemble, r3.Vec{})
	test.That(t, s.Attitude, test.ShouldResemble, quat.Number{Real: 1})
}

func TestAttitudeStaysUnitNorm(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	e := newTestEstimator(t)
	for i := 0; i < 500; i++ {
		e.Predict(PredictionReading{
			AngularRate:   randVec(r, 3),
			SpecificForce: r3.Add(r3.Vec{Z: gravity}, randVec(r, 3)),
		}, dt*(0.5+r.Float64()))
		test.That(t, quat.Abs(e.State().Attitude), test.ShouldAlmostEqual, 1, normTol)

		if i%4 == 0 {
			mag := r3.Add(r3.Vec{Y: 20, Z: -45}, randVec(r, 5))
			u := UpdateReading{SpecificForce: r3.Add(r3.Vec{Z: gravity}, randVec(r, 2)), MagField: &mag}
			if i%20 == 0 {
				gps := randVec(r, 3)
				u.GPS = &gps
			}
			e.Update(u)
			test.That(t, quat.Abs(e.State().Attitude), test.ShouldAlmostEqual, 1, normTol)
			test.That(t, r3.Norm(e.State().MagField), test.ShouldAlmostEqual, 1, normTol)
		}
	}
}

func checkPSD(t *testing.T, p *matrix.DenseMatrix) {
	t.Helper()
	sym := mat.NewSymDense(NumErr, nil)
	for i := 0; i < NumErr; i++ {
		for j := 0; j < NumErr; j++ {
			test.That(t, p.Get(i, j), test.ShouldEqual, p.Get(j, i))
			if j >= i {
				sym.SetSym(i, j, p.Get(i, j))
			}
		}
	}
	var eig mat.EigenSym
	test.That(t, eig.Factorize(sym, false), test.ShouldBeTrue)
	for _, v := range eig.Values(nil) {
		test.That(t, v, test.ShouldBeGreaterThanOrEqualTo, -1e-9)
	}
}

func TestCovarianceStaysPSD(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	e := newTestEstimator(t)
	for i := 0; i < 200; i++ {
		e.Predict(PredictionReading{
			AngularRate:   randVec(r, 1),
			SpecificForce: r3.Add(r3.Vec{Z: gravity}, randVec(r, 1)),
		}, dt)
		if i%5 == 0 {
			mag := r3.Add(r3.Vec{Y: 0.4, Z: -0.9}, randVec(r, 0.05))
			gps := randVec(r, 2)
			e.Update(UpdateReading{SpecificForce: r3.Add(r3.Vec{Z: gravity}, randVec(r, 0.5)), MagField: &mag, GPS: &gps})
			checkPSD(t, e.Covariance())
		}
	}
}

func TestNoCorrectionOnPerfectGravityMatch(t *testing.T) {
	e := newTestEstimator(t)
	e.s.Attitude = FromEuler(0.1, -0.2, 0.3)
	e.s.AccelBias = r3.Vec{X: 0.01, Y: -0.02, Z: 0.03}

	before := e.State()
	e.Update(UpdateReading{SpecificForce: r3.Add(RotateInv(before.Attitude, r3.Vec{Z: gravity}), before.AccelBias)})

	for i, d := range e.LastCorrection() {
		if d != 0 {
			t.Errorf("error state %d corrected by %g on a perfect match", i, d)
		}
	}
	after := e.State()
	test.That(t, after.Position, test.ShouldResemble, before.Position)
	test.That(t, after.AccelBias, test.ShouldResemble, before.AccelBias)
	test.That(t, r3.Norm(RotationVector(quat.Mul(quat.Conj(before.Attitude), after.Attitude))), test.ShouldBeLessThan, 1e-12)
}

// TestJacobianMeasurement compares the analytic observation matrices with
// central differences of the measurement functions over the error state.
func TestJacobianMeasurement(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	e := newTestEstimator(t)
	const eps = 1e-6

	for n := 0; n < 20; n++ {
		s := randomState(r)
		models := map[string]struct {
			h func(State) r3.Vec
			H *matrix.DenseMatrix
		}{
			"gravity":      {e.predictGravity, e.gravityJacobian(s)},
			"magnetometer": {e.predictMag, e.magJacobian(s)},
		}
		for name, m := range models {
			for j := 0; j < NumErr; j++ {
				var d [NumErr]float64
				d[j] = eps
				hp := m.h(injectError(s, d))
				d[j] = -eps
				hm := m.h(injectError(s, d))
				num := r3.Scale(1/(2*eps), r3.Sub(hp, hm))
				for i, v := range []float64{num.X, num.Y, num.Z} {
					if math.Abs(v-m.H.Get(i, j)) > jacobTol {
						t.Errorf("%s: H[%d][%d] analytic %g, numeric %g", name, i, j, m.H.Get(i, j), v)
					}
				}
			}
		}
	}
}

func TestSingularInnovationIsSkipped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := config.Default().Estimator
	cfg.AccelMeasNoise = 0
	e := NewEstimator(cfg, 2500*time.Microsecond, zap.New(core))
	e.P = matrix.Zeros(NumErr, NumErr)

	before := e.State()
	e.Update(UpdateReading{SpecificForce: r3.Vec{X: 1, Z: gravity}})

	test.That(t, e.SkippedCorrections(), test.ShouldEqual, 1)
	test.That(t, e.State(), test.ShouldResemble, before)
	test.That(t, logs.FilterMessageSnippet("singular").Len(), test.ShouldEqual, 1)
}

func TestGravityCorrectsTilt(t *testing.T) {
	e := newTestEstimator(t)
	truth := FromEuler(0.2, 0, 0)
	f := RotateInv(truth, r3.Vec{Z: gravity})
	for i := 0; i < 100; i++ {
		e.Update(UpdateReading{SpecificForce: f})
	}
	roll, pitch, yaw := e.RollPitchYaw()
	test.That(t, roll, test.ShouldAlmostEqual, 0.2, 0.05)
	test.That(t, pitch, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, yaw, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestMagnetometerCorrectsYaw(t *testing.T) {
	cfg := config.Default().Estimator
	cfg.InitAttitude = 0.5
	cfg.InitMagField = 1e-3
	e := NewEstimator(cfg, 2500*time.Microsecond, zaptest.NewLogger(t))

	truth := FromEuler(0, 0, 0.3)
	ref := e.State().MagField
	f := RotateInv(truth, r3.Vec{Z: gravity})
	m := r3.Scale(48, RotateInv(truth, ref))
	for i := 0; i < 100; i++ {
		e.Update(UpdateReading{SpecificForce: f, MagField: &m})
	}
	roll, pitch, yaw := e.RollPitchYaw()
	test.That(t, yaw, test.ShouldAlmostEqual, 0.3, 0.03)
	test.That(t, roll, test.ShouldAlmostEqual, 0, 0.02)
	test.That(t, pitch, test.ShouldAlmostEqual, 0, 0.02)
}

func TestGPSPullsPosition(t *testing.T) {
	e := newTestEstimator(t)
	fix := r3.Vec{X: 5, Y: -3, Z: 2}
	e.Update(UpdateReading{SpecificForce: r3.Vec{Z: gravity}, GPS: &fix})
	p := e.State().Position
	test.That(t, p.X, test.ShouldBeBetween, 0.0, 5.0)
	test.That(t, p.Y, test.ShouldBeBetween, -3.0, 0.0)
	test.That(t, p.Z, test.ShouldBeBetween, 0.0, 2.0)

	for i := 0; i < 1000; i++ {
		e.Update(UpdateReading{SpecificForce: r3.Vec{Z: gravity}, GPS: &fix})
	}
	test.That(t, r3.Norm(r3.Sub(e.State().Position, fix)), test.ShouldBeLessThan, 0.1)
}

func TestPredictIntegratesYawRate(t *testing.T) {
	e := newTestEstimator(t)
	for i := 0; i < 800; i++ {
		e.Predict(PredictionReading{AngularRate: r3.Vec{Z: 0.5}, SpecificForce: r3.Vec{Z: gravity}}, dt)
	}
	roll, pitch, yaw := e.RollPitchYaw()
	test.That(t, yaw, test.ShouldAlmostEqual, 1.0, 1e-9)
	test.That(t, roll, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, pitch, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, r3.Norm(e.State().Velocity), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, e.AngularRate(), test.ShouldResemble, r3.Vec{Z: 0.5})
}

func TestPredictFreeFall(t *testing.T) {
	e := newTestEstimator(t)
	for i := 0; i < 400; i++ {
		e.Predict(PredictionReading{}, dt)
	}
	s := e.State()
	test.That(t, s.Velocity.Z, test.ShouldAlmostEqual, -gravity, 1e-9)
	test.That(t, s.Position.Z, test.ShouldAlmostEqual, -gravity/2, 1e-9)
}

func TestResetRestoresInitialEstimate(t *testing.T) {
	e := newTestEstimator(t)
	initial := e.State()
	for i := 0; i < 10; i++ {
		e.Predict(PredictionReading{AngularRate: r3.Vec{X: 1}}, dt)
	}
	e.Reset()
	test.That(t, e.State(), test.ShouldResemble, initial)
	test.That(t, e.Covariance().Get(IdxAtt, IdxAtt), test.ShouldAlmostEqual, sq(config.Default().Estimator.InitAttitude))
}
