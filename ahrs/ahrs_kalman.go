package ahrs

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/skelterjohn/go.matrix"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/config"
)

var errSingular = errors.New("inverse is not finite")

// Estimator is an error-state Kalman filter over the 18-dim error state
// [δp δv δθ δa_b δω_b δm]. It is not safe for concurrent use; the control
// loop owns it.
type Estimator struct {
	cfg     config.Estimator
	logger  *zap.Logger
	gravity r3.Vec

	s State
	P *matrix.DenseMatrix // Covariance of the error state
	Q *matrix.DenseMatrix // Process noise per nominal sample period

	prev     PredictionReading
	havePrev bool
	rate     r3.Vec // Latest bias-corrected angular rate
	force    r3.Vec // Latest bias-corrected specific force

	correction [NumErr]float64
	skipped    int
}

// NewEstimator returns an estimator at rest at the origin with identity attitude.
// period is the nominal time between prediction readings, used to scale Q.
func NewEstimator(cfg config.Estimator, period time.Duration, logger *zap.Logger) *Estimator {
	e := &Estimator{
		cfg:     cfg,
		logger:  logger.Named("ahrs"),
		gravity: r3.Vec{Z: cfg.Gravity},
	}
	e.Q = processNoise(cfg, period.Seconds())
	e.Reset()
	return e
}

// Reset returns the estimate to its initial state and covariance.
func (e *Estimator) Reset() {
	m := e.cfg.MagReference
	e.s = State{
		Attitude: identity(),
		MagField: r3.Unit(r3.Vec{X: m[0], Y: m[1], Z: m[2]}),
	}
	e.P = matrix.Zeros(NumErr, NumErr)
	setDiag(e.P, IdxPos, sq(e.cfg.InitPosition))
	setDiag(e.P, IdxVel, sq(e.cfg.InitVelocity))
	setDiag(e.P, IdxAtt, sq(e.cfg.InitAttitude))
	setDiag(e.P, IdxAccelBias, sq(e.cfg.InitAccelBias))
	setDiag(e.P, IdxGyroBias, sq(e.cfg.InitGyroBias))
	setDiag(e.P, IdxMag, sq(e.cfg.InitMagField))
	e.havePrev = false
	e.rate, e.force = r3.Vec{}, r3.Vec{}
	e.correction = [NumErr]float64{}
	e.skipped = 0
}

func processNoise(cfg config.Estimator, dt float64) *matrix.DenseMatrix {
	q := matrix.Zeros(NumErr, NumErr)
	setDiag(q, IdxVel, sq(cfg.AccelNoise)*dt)
	setDiag(q, IdxAtt, sq(cfg.GyroNoise)*dt)
	setDiag(q, IdxAccelBias, sq(cfg.AccelBiasWalk)*dt)
	setDiag(q, IdxGyroBias, sq(cfg.GyroBiasWalk)*dt)
	setDiag(q, IdxMag, sq(cfg.MagWalk)*dt)
	return q
}

// Predict propagates the nominal state and the covariance by dt seconds using r.
func (e *Estimator) Predict(r PredictionReading, dt float64) {
	if !e.havePrev {
		e.prev = r
		e.havePrev = true
	}
	s := &e.s

	w0 := r3.Sub(e.prev.AngularRate, s.GyroBias)
	w1 := r3.Sub(r.AngularRate, s.GyroBias)
	f0 := r3.Sub(e.prev.SpecificForce, s.AccelBias)
	f1 := r3.Sub(r.SpecificForce, s.AccelBias)
	e.prev = r
	e.rate, e.force = w1, f1
	s.T = r.T
	if dt <= 0 {
		return
	}

	w := r3.Scale(0.5, r3.Add(w0, w1))
	r0 := RotationMatrix(s.Attitude)
	s.Attitude = normalizeQ(quat.Mul(s.Attitude, propagator(w, dt)))
	r1 := RotationMatrix(s.Attitude)

	a := r3.Sub(r3.Scale(0.5, r3.Add(mulVec(r0, f0), mulVec(r1, f1))), e.gravity)
	v0 := s.Velocity
	s.Velocity = r3.Add(v0, r3.Scale(dt, a))
	s.Position = r3.Add(s.Position, r3.Scale(dt/2, r3.Add(v0, s.Velocity)))

	f := transition(r0, r3.Scale(0.5, r3.Add(f0, f1)), w, dt)
	e.P = matrix.Sum(matrix.Product(f, matrix.Product(e.P, f.Transpose())), e.Q)
	e.symmetrize()
}

// propagator returns the quaternion form of the fourth-order Taylor expansion
// of exp(½Ω(w)dt). Since Ω² = -|w|²I the series collapses to scalar coefficients.
func propagator(w r3.Vec, dt float64) quat.Number {
	th2 := r3.Norm2(w) * dt * dt / 4
	c := 1 - th2/2 + th2*th2/24
	k := (1 - th2/6) * dt / 2
	return quat.Number{Real: c, Imag: k * w.X, Jmag: k * w.Y, Kmag: k * w.Z}
}

// transition returns the error-state Jacobian F for one step of length dt,
// evaluated at rotation matrix rm, corrected specific force f and angular rate w.
func transition(rm [3][3]float64, f, w r3.Vec, dt float64) *matrix.DenseMatrix {
	F := matrix.Eye(NumErr)
	rf := mul(rm, skew(f))

	for i := 0; i < 3; i++ {
		F.Set(IdxPos+i, IdxVel+i, dt)
	}
	setBlock(F, IdxPos, IdxAtt, scale(-dt*dt/2, rf))
	setBlock(F, IdxPos, IdxAccelBias, scale(-dt*dt/2, rm))
	setBlock(F, IdxVel, IdxAtt, scale(-dt, rf))
	setBlock(F, IdxVel, IdxAccelBias, scale(-dt, rm))
	setBlock(F, IdxAtt, IdxAtt, transpose(rodrigues(r3.Scale(dt, w))))
	for i := 0; i < 3; i++ {
		F.Set(IdxAtt+i, IdxGyroBias+i, -dt)
	}
	return F
}

// Update applies the corrections available in r: gravity always, then the
// magnetometer and GPS fixes when present.
func (e *Estimator) Update(r UpdateReading) {
	e.correction = [NumErr]float64{}

	h := e.predictGravity(e.s)
	e.correct("gravity", r3.Sub(r.SpecificForce, h), e.gravityJacobian(e.s), diag3(sq(e.cfg.AccelMeasNoise)))

	if r.MagField != nil && r3.Norm(*r.MagField) > Small {
		h := e.predictMag(e.s)
		e.correct("magnetometer", r3.Sub(r3.Unit(*r.MagField), h), e.magJacobian(e.s), diag3(sq(e.cfg.MagMeasNoise)))
	}

	if r.GPS != nil {
		H := matrix.Zeros(3, NumErr)
		setDiag(H, IdxPos, 1)
		e.correct("gps", r3.Sub(*r.GPS, e.s.Position), H, diag3(sq(e.cfg.GPSNoise)))
	}
}

// correct applies one measurement with innovation y, observation matrix H (3×18)
// and noise covariance V. It reports false when the innovation covariance is singular.
func (e *Estimator) correct(name string, y r3.Vec, H, V *matrix.DenseMatrix) bool {
	Ht := H.Transpose()
	S := matrix.Sum(matrix.Product(H, matrix.Product(e.P, Ht)), V)
	Si, err := S.Inverse()
	if err == nil && !finite(Si) {
		err = errSingular
	}
	if err != nil {
		e.skipped++
		e.logger.Warn("skipping correction, innovation covariance is singular",
			zap.String("measurement", name), zap.Error(err))
		return false
	}

	K := matrix.Product(e.P, matrix.Product(Ht, Si))
	dx := matrix.Product(K, matrix.MakeDenseMatrix([]float64{y.X, y.Y, y.Z}, 3, 1))

	var d [NumErr]float64
	for i := range d {
		d[i] = dx.Get(i, 0)
		e.correction[i] += d[i]
	}
	e.s = injectError(e.s, d)

	ikh := matrix.Difference(matrix.Eye(NumErr), matrix.Product(K, H))
	e.P = matrix.Sum(
		matrix.Product(ikh, matrix.Product(e.P, ikh.Transpose())),
		matrix.Product(K, matrix.Product(V, K.Transpose())))
	e.symmetrize()
	return true
}

// injectError folds the error-state correction d into the nominal state s.
func injectError(s State, d [NumErr]float64) State {
	at := func(i int) r3.Vec { return r3.Vec{X: d[i], Y: d[i+1], Z: d[i+2]} }

	s.Position = r3.Add(s.Position, at(IdxPos))
	s.Velocity = r3.Add(s.Velocity, at(IdxVel))
	s.Attitude = normalizeQ(quat.Mul(s.Attitude, SmallAngle(at(IdxAtt))))
	s.AccelBias = r3.Add(s.AccelBias, at(IdxAccelBias))
	s.GyroBias = r3.Add(s.GyroBias, at(IdxGyroBias))
	if m := r3.Add(s.MagField, at(IdxMag)); r3.Norm(m) > Small {
		s.MagField = r3.Unit(m)
	}
	return s
}

func (e *Estimator) predictGravity(s State) r3.Vec {
	return r3.Add(RotateInv(s.Attitude, e.gravity), s.AccelBias)
}

func (e *Estimator) predictMag(s State) r3.Vec {
	return RotateInv(s.Attitude, s.MagField)
}

func (e *Estimator) gravityJacobian(s State) *matrix.DenseMatrix {
	hx := matrix.Zeros(3, NumNominal)
	setQuatBlock(hx, s.Attitude, e.gravity)
	setDiag3(hx, nomAccelBias, 1)
	return matrix.Product(hx, errorJacobian(s.Attitude))
}

func (e *Estimator) magJacobian(s State) *matrix.DenseMatrix {
	hx := matrix.Zeros(3, NumNominal)
	setQuatBlock(hx, s.Attitude, s.MagField)
	// The field is kept on the unit sphere, so only its tangential error is observable.
	m := s.MagField
	proj := [3][3]float64{
		{1 - m.X*m.X, -m.X * m.Y, -m.X * m.Z},
		{-m.Y * m.X, 1 - m.Y*m.Y, -m.Y * m.Z},
		{-m.Z * m.X, -m.Z * m.Y, 1 - m.Z*m.Z},
	}
	setBlock(hx, 0, nomMag, mul(transpose(RotationMatrix(s.Attitude)), proj))
	return matrix.Product(hx, errorJacobian(s.Attitude))
}

// setQuatBlock writes ∂(R(q)ᵀr)/∂q into columns nomAtt..nomAtt+3 of hx.
func setQuatBlock(hx *matrix.DenseMatrix, q quat.Number, r r3.Vec) {
	w := q.Real
	v := r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}

	dw := r3.Sub(r3.Scale(w, r), r3.Cross(v, r))
	hx.Set(0, nomAtt, 2*dw.X)
	hx.Set(1, nomAtt, 2*dw.Y)
	hx.Set(2, nomAtt, 2*dw.Z)

	vr := r3.Dot(v, r)
	vv := [3]float64{v.X, v.Y, v.Z}
	rr := [3]float64{r.X, r.Y, r.Z}
	sk := skew(r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d := vv[i]*rr[j] - rr[i]*vv[j] + w*sk[i][j]
			if i == j {
				d += vr
			}
			hx.Set(i, nomAtt+1+j, 2*d)
		}
	}
}

// errorJacobian returns the 19×18 derivative of the nominal state with
// respect to the error state, for attitude perturbed as q⊗δq.
func errorJacobian(q quat.Number) *matrix.DenseMatrix {
	x := matrix.Zeros(NumNominal, NumErr)
	for i := 0; i < IdxAtt; i++ {
		x.Set(i, i, 1)
	}
	for i := IdxAccelBias; i < NumErr; i++ {
		x.Set(i+1, i, 1)
	}
	w, a, b, c := q.Real/2, q.Imag/2, q.Jmag/2, q.Kmag/2
	qd := [4][3]float64{
		{-a, -b, -c},
		{w, -c, b},
		{c, w, -a},
		{-b, a, w},
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			x.Set(nomAtt+i, IdxAtt+j, qd[i][j])
		}
	}
	return x
}

func (e *Estimator) symmetrize() {
	for i := 0; i < NumErr; i++ {
		for j := i + 1; j < NumErr; j++ {
			m := (e.P.Get(i, j) + e.P.Get(j, i)) / 2
			e.P.Set(i, j, m)
			e.P.Set(j, i, m)
		}
	}
}

// State returns a copy of the current estimate.
func (e *Estimator) State() State {
	return e.s
}

// Covariance returns a copy of the error-state covariance.
func (e *Estimator) Covariance() *matrix.DenseMatrix {
	return e.P.Copy()
}

// RollPitchYaw returns the Tait-Bryan angles of the estimated attitude, rad.
func (e *Estimator) RollPitchYaw() (roll, pitch, yaw float64) {
	return Euler(e.s.Attitude)
}

// AngularRate returns the latest bias-corrected angular rate, rad/s.
func (e *Estimator) AngularRate() r3.Vec {
	return e.rate
}

// SpecificForce returns the latest bias-corrected specific force, m/s².
func (e *Estimator) SpecificForce() r3.Vec {
	return e.force
}

// LastCorrection returns the error state injected by the most recent Update.
func (e *Estimator) LastCorrection() [NumErr]float64 {
	return e.correction
}

// SkippedCorrections counts corrections dropped for a singular innovation covariance.
func (e *Estimator) SkippedCorrections() int {
	return e.skipped
}

func diag3(v float64) *matrix.DenseMatrix {
	return matrix.Scaled(matrix.Eye(3), v)
}

func setDiag3(m *matrix.DenseMatrix, col int, v float64) {
	for i := 0; i < 3; i++ {
		m.Set(i, col+i, v)
	}
}

func finite(m *matrix.DenseMatrix) bool {
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			if x := m.Get(i, j); math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

func sq(x float64) float64 { return x * x }
