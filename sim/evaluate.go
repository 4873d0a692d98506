package sim

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/ahrs"
	"github.com/martindeegan/copter/config"
	"github.com/martindeegan/copter/geodesy"
	"github.com/martindeegan/copter/internal/latest"
	"github.com/martindeegan/copter/sensors"
)

// FieldStrength scales the configured reference field into the simulated
// magnetometer reading, µT.
const FieldStrength = 100

// NewScenario builds a situation from knots using the gravity, magnetic
// reference and home point in cfg. When gps is false the situation has no GPS.
func NewScenario(cfg config.Config, knots []Knot, clk Clock, noise Noise, gps bool) (*Situation, error) {
	m := cfg.Estimator.MagReference
	field := r3.Scale(FieldStrength, r3.Vec{X: m[0], Y: m[1], Z: m[2]})
	var frame *geodesy.Frame
	if gps {
		h := cfg.Navigation.Home
		frame = geodesy.NewFrame(h.Latitude, h.Longitude, h.Altitude)
	}
	return NewSituation(knots, clk, cfg.Estimator.Gravity, field, frame, noise)
}

// Result summarizes how closely an estimator tracked a situation.
type Result struct {
	Samples, Updates   int
	RMSAttitude        float64 // rad
	MaxAttitude        float64 // rad
	PositionError      float64 // m, at the end of the run
	SkippedCorrections int
}

// AttitudeError is the angle of the rotation between truth and estimate, rad.
func AttitudeError(truth, estimate quat.Number) float64 {
	return r3.Norm(ahrs.RotationVector(quat.Mul(quat.Conj(truth), estimate)))
}

// Evaluate runs a fresh estimator against sit, sampled through a Poller at
// the rates in cfg.Sensors. clk must be the clock sit was built on; Evaluate
// steps it until the situation is done. observe, if not nil, sees the truth
// and the estimator after every sample.
func Evaluate(
	cfg config.Config,
	sit *Situation,
	clk *Stepper,
	logger *zap.Logger,
	observe func(Truth, *ahrs.Estimator),
) (Result, error) {
	var res Result
	p, err := sensors.NewPoller(cfg.Sensors, sit.Sensors(), sensors.DefaultCalibration(), sit.frame, clock.New(), logger)
	if err != nil {
		return res, err
	}
	est := ahrs.NewEstimator(cfg.Estimator, p.Period(), logger)

	var prev time.Time
	var sumSq float64
	for !sit.Done() {
		clk.Step(p.Period())
		if err := p.SampleAt(clk.Now()); err != nil {
			return res, err
		}
		if r, ok := latest.Drain(p.Predictions()); ok {
			dt := 0.0
			if !prev.IsZero() {
				dt = r.T.Sub(prev).Seconds()
			}
			prev = r.T
			est.Predict(r, dt)
			res.Samples++
		}
		if u, ok := latest.Drain(p.Updates()); ok {
			est.Update(u)
			res.Updates++
		}

		truth := sit.Now()
		e := AttitudeError(truth.Attitude, est.State().Attitude)
		sumSq += e * e
		res.MaxAttitude = math.Max(res.MaxAttitude, e)
		if observe != nil {
			observe(truth, est)
		}
	}
	if res.Samples > 0 {
		res.RMSAttitude = math.Sqrt(sumSq / float64(res.Samples))
	}
	res.PositionError = r3.Norm(r3.Sub(sit.Now().Position, est.State().Position))
	res.SkippedCorrections = est.SkippedCorrections()
	return res, nil
}
