package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/martindeegan/copter/config"
	"github.com/martindeegan/copter/flight"
	"github.com/martindeegan/copter/geodesy"
	"github.com/martindeegan/copter/link"
	"github.com/martindeegan/copter/motors"
	"github.com/martindeegan/copter/sensors"
	"github.com/martindeegan/copter/sim"
	"github.com/martindeegan/copter/telemetry"
)

const shutdownTimeout = 5 * time.Second

func runAction(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	if c.Bool(flagNoMotors) {
		cfg.Loop.MotorsOn = false
	}
	clk := clock.New()

	set, frame, simulated, err := sensorSet(c, cfg, clk, logger)
	if err != nil {
		return err
	}
	cal, err := sensors.LoadCalibration(cfg.Sensors.CalibrationPath)
	if err != nil {
		logger.Warn("using identity calibration", zap.Error(err))
	}
	poller, err := sensors.NewPoller(cfg.Sensors, set, cal, frame, clk, logger)
	if err != nil {
		return err
	}

	var driver motors.Driver
	if simulated {
		driver = motors.NewRecorder(cfg.Motors.Min)
	} else if driver, err = motors.NewPCA9685(cfg.Motors, logger); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg, cfg.Loop.Period())
	var sinks []telemetry.Sink
	if fn := cfg.Telemetry.CSVPath; fn != "" {
		csv, err := telemetry.NewCSV(fn, logger)
		if err != nil {
			return multierr.Append(err, driver.Terminate())
		}
		sinks = append(sinks, csv)
	}
	var room *telemetry.Room
	if cfg.Telemetry.HTTPAddr != "" {
		room = telemetry.NewRoom(cfg.Telemetry.Decimate, logger)
		sinks = append(sinks, room)
	}
	writer := telemetry.NewWriter(logger, sinks...)
	listener := link.NewListener(cfg.Link, logger)

	loop := flight.NewLoop(cfg, flight.Deps{
		Clock:       clk,
		Motors:      driver,
		Predictions: poller.Predictions(),
		Updates:     poller.Updates(),
		Battery:     poller.Battery(),
		Inputs:      listener.Inputs(),
		Modes:       listener.Modes(),
		Stop:        listener.Stop(),
		Telemetry:   writer,
		Metrics:     metrics,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(poller.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(listener.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(writer.Run(ctx)) })
	if room != nil {
		mux := http.NewServeMux()
		mux.Handle("/room", room)
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		g.Go(func() error { return room.Run(ctx) })
		g.Go(func() error { return serve(ctx, cfg.Telemetry.HTTPAddr, mux, logger) })
	}
	g.Go(func() error {
		err := loop.Run(ctx)
		switch {
		case errors.Is(err, flight.ErrTiltCutoff), errors.Is(err, flight.ErrShutdown):
			// The motors are off; keep reporting until interrupted or stopped.
			logger.Error("control loop stopped", zap.Error(err))
			return awaitEmergencyStop(ctx, listener.Stop(), logger)
		case errors.Is(err, flight.ErrEmergencyStop):
			return err
		}
		return ignoreCanceled(err)
	})
	return g.Wait()
}

// awaitEmergencyStop honors an operator emergency stop once the loop no
// longer reads the stop channel. It returns nil when ctx is done.
func awaitEmergencyStop(ctx context.Context, stop <-chan struct{}, logger *zap.Logger) error {
	select {
	case <-ctx.Done():
		return nil
	case <-stop:
		logger.Error("emergency stop after the control loop ended")
		return flight.ErrEmergencyStop
	}
}

// sensorSet picks the sensor backend. simulated is set when no hardware is
// involved.
func sensorSet(c *cli.Context, cfg config.Config, clk clock.Clock, logger *zap.Logger) (sensors.Set, *geodesy.Frame, bool, error) {
	switch {
	case c.String(flagSimulate) != "":
		knots, err := sim.Scenario(c.String(flagSimulate))
		if err != nil {
			return sensors.Set{}, nil, false, err
		}
		sit, err := sim.NewScenario(cfg, knots, clk, sim.Noise{}, true)
		if err != nil {
			return sensors.Set{}, nil, false, err
		}
		h := cfg.Navigation.Home
		logger.Info("simulating sensors", zap.String("scenario", c.String(flagSimulate)), zap.Duration("duration", sit.Duration()))
		return sit.Sensors(), geodesy.NewFrame(h.Latitude, h.Longitude, h.Altitude), true, nil
	case c.String(flagReplay) != "":
		r, err := sim.LoadReplay(c.String(flagReplay), clk, logger)
		if err != nil {
			return sensors.Set{}, nil, false, err
		}
		logger.Info("replaying sensors", zap.String("file", c.String(flagReplay)), zap.Duration("duration", r.Duration()))
		return r.Sensors(), nil, true, nil
	}
	return sensors.Set{}, nil, false, errors.Errorf("no sensor backend: pass --%s or --%s", flagSimulate, flagReplay)
}

func serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("error shutting down telemetry server", zap.Error(err))
		}
	}()
	logger.Info("serving telemetry", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "error serving telemetry on %s", addr)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
