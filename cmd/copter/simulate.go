package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/ahrs"
	"github.com/martindeegan/copter/config"
	"github.com/martindeegan/copter/sensors"
	"github.com/martindeegan/copter/sim"
	"github.com/martindeegan/copter/telemetry"
)

// parseVec parses "x,y,z".
func parseVec(s string) (r3.Vec, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r3.Vec{}, errors.Errorf("%q is not x,y,z", s)
	}
	var v [3]float64
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Vec{}, errors.Wrapf(err, "error parsing %q", s)
		}
		v[i] = x
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

func simulateAction(c *cli.Context) (err error) {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	knots, err := sim.Scenario(c.String(flagScenario))
	if err != nil {
		return err
	}
	gyroBias, err := parseVec(c.String(flagGyroBias))
	if err != nil {
		return err
	}
	accelBias, err := parseVec(c.String(flagAccelBias))
	if err != nil {
		return err
	}
	noise := sim.Noise{
		Gyro:      c.Float64(flagGyroNoise),
		Accel:     c.Float64(flagAccelNoise),
		Mag:       c.Float64(flagMagNoise),
		GPS:       c.Float64(flagGPSNoise),
		GyroBias:  gyroBias,
		AccelBias: accelBias,
		Seed:      c.Int64(flagSeed),
	}

	clk := sim.NewStepper(time.Now())
	sit, err := sim.NewScenario(cfg, knots, clk, noise, !c.Bool(flagNoGPS))
	if err != nil {
		return err
	}

	var observe func(sim.Truth, *ahrs.Estimator)
	if fn := c.String(flagCSV); fn != "" {
		csv, cerr := telemetry.NewCSV(fn, logger)
		if cerr != nil {
			return cerr
		}
		defer func() { err = multierr.Append(err, csv.Close()) }()
		observe = func(_ sim.Truth, est *ahrs.Estimator) {
			roll, pitch, yaw := est.RollPitchYaw()
			// A failed row shows up in the row count logged on close.
			_ = csv.Write(telemetry.Record{
				T:     sit.Elapsed(),
				Mode:  "simulate",
				Roll:  roll,
				Pitch: pitch,
				Yaw:   yaw,
				Rate:  est.AngularRate(),
				Accel: est.SpecificForce(),
			})
		}
	}

	fmt.Printf("Simulating %s for %v\n", c.String(flagScenario), sit.Duration())
	res, err := sim.Evaluate(cfg, sit, clk, logger, observe)
	if err != nil {
		return err
	}
	fmt.Printf("\tSamples: %s (%s corrections, %d skipped)\n",
		humanize.Comma(int64(res.Samples)), humanize.Comma(int64(res.Updates)), res.SkippedCorrections)
	fmt.Printf("\tAttitude error: %.3f° RMS, %.3f° max\n", res.RMSAttitude/ahrs.Deg, res.MaxAttitude/ahrs.Deg)
	fmt.Printf("\tFinal position error: %.2f m\n", res.PositionError)
	return nil
}

func writeCalibrationAction(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cal := sensors.DefaultCalibration()
	what := "identity calibration"
	if rec := c.String(flagMagFrom); rec != "" {
		r, err := sim.LoadReplay(rec, sim.NewStepper(time.Now()), logger)
		if err != nil {
			return err
		}
		var fit sensors.MinMax
		for _, m := range r.MagneticFields() {
			fit.Observe(m)
		}
		if cal.Magnetometer, err = fit.Fit(c.Float64(flagMagStrength)); err != nil {
			return errors.Wrapf(err, "error fitting magnetometer from %s", rec)
		}
		what = fmt.Sprintf("magnetometer calibration fitted from %s readings", humanize.Comma(int64(fit.N())))
	}

	fn := c.String(flagCalibration)
	if err := cal.Save(fn); err != nil {
		return err
	}
	fmt.Printf("Wrote %s to %s\n", what, fn)
	return nil
}
