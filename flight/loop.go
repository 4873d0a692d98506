package flight

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/ahrs"
	"github.com/martindeegan/copter/config"
	"github.com/martindeegan/copter/control"
	"github.com/martindeegan/copter/internal/latest"
	"github.com/martindeegan/copter/link"
	"github.com/martindeegan/copter/motors"
	"github.com/martindeegan/copter/navigation"
	"github.com/martindeegan/copter/sensors"
	"github.com/martindeegan/copter/telemetry"
)

var (
	// ErrTiltCutoff ends the loop when the aircraft tilts past the cutoff.
	ErrTiltCutoff = errors.New("tilt cutoff exceeded")
	// ErrEmergencyStop ends the loop on an operator emergency stop.
	ErrEmergencyStop = errors.New("emergency stop")
	// ErrShutdown ends the loop on an operator Shutdown request.
	ErrShutdown = errors.New("shutdown requested")
)

// Sink receives one telemetry record per tick. It must not block.
type Sink interface {
	Log(telemetry.Record)
}

// Deps are the collaborators of a Loop. Battery, Telemetry and Metrics may
// be nil.
type Deps struct {
	Clock       clock.Clock
	Motors      motors.Driver
	Predictions <-chan ahrs.PredictionReading
	Updates     <-chan ahrs.UpdateReading
	Battery     <-chan sensors.BatteryReading
	Inputs      <-chan link.ControlInput
	Modes       <-chan link.ModeCommand
	Stop        <-chan struct{}
	Telemetry   Sink
	Metrics     *telemetry.Metrics
	Logger      *zap.Logger
}

// Loop is the fixed-rate control loop. It exclusively owns the estimator,
// the supervisor, the controllers and the motor handle.
type Loop struct {
	cfg     config.Config
	clk     clock.Clock
	logger  *zap.Logger
	sink    Sink
	metrics *telemetry.Metrics

	predictions <-chan ahrs.PredictionReading
	updates     <-chan ahrs.UpdateReading
	battery     <-chan sensors.BatteryReading
	inputs      <-chan link.ControlInput
	modes       <-chan link.ModeCommand
	stop        <-chan struct{}

	est    *ahrs.Estimator
	sup    *Supervisor
	att    *control.AttitudeController
	mixer  control.Mixer
	nav    *navigation.Navigator
	handle *motors.Handle

	start, lastTick time.Time
	started         bool
	armUntil        time.Time // Motors are held at minimum until the ESCs settle
	reading         ahrs.PredictionReading
	haveReading     bool
	mag             r3.Vec
	input           link.ControlInput
}

// NewLoop returns a loop in Off. It takes ownership of d.Motors.
func NewLoop(cfg config.Config, d Deps) *Loop {
	logger := d.Logger.Named("flight")
	return &Loop{
		cfg:         cfg,
		clk:         d.Clock,
		logger:      logger,
		sink:        d.Telemetry,
		metrics:     d.Metrics,
		predictions: d.Predictions,
		updates:     d.Updates,
		battery:     d.Battery,
		inputs:      d.Inputs,
		modes:       d.Modes,
		stop:        d.Stop,
		est:         ahrs.NewEstimator(cfg.Estimator, cfg.Loop.Period(), d.Logger),
		sup:         NewSupervisor(cfg.Flight, cfg.Motors, cfg.Battery, logger),
		att:         control.NewAttitudeController(cfg.Attitude, d.Clock),
		mixer:       control.NewMixer(cfg.Motors),
		nav:         navigation.NewNavigator(cfg.Navigation, cfg.Flight.ClimbGain, d.Clock),
		handle:      motors.Acquire(d.Motors, cfg.Motors, d.Logger),
	}
}

// Mode is the current flight mode.
func (l *Loop) Mode() Mode { return l.sup.Mode() }

// Estimator is the loop's state estimator. It must only be used from the
// loop goroutine.
func (l *Loop) Estimator() *ahrs.Estimator { return l.est }

// Close terminates the motors. Run does this itself on exit.
func (l *Loop) Close() error { return l.handle.Terminate() }

// Run ticks every loop period until ctx is done or the loop ends. The motors
// are terminated on every exit path, including a panic.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer l.handle.Release(&err)

	period := l.cfg.Loop.Period()
	l.logger.Info("control loop started", zap.Duration("period", period), zap.Bool("motors_on", l.cfg.Loop.MotorsOn))
	next := l.clk.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := l.clk.Now()
		if err := l.Step(); err != nil {
			return err
		}
		l.metrics.ObserveTick(l.clk.Since(start))

		// No catch-up after an overrun: the next tick starts now.
		next = next.Add(period)
		wait := next.Sub(l.clk.Now())
		if wait <= 0 {
			l.metrics.Overrun()
			next = l.clk.Now()
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clk.After(wait):
		}
	}
}

// Step runs one tick.
func (l *Loop) Step() error {
	now := l.clk.Now()
	var dt float64
	if l.started {
		d := now.Sub(l.lastTick)
		dt = d.Seconds()
		l.metrics.ObservePeriod(d)
	} else {
		l.start, l.started = now, true
	}
	l.lastTick = now

	select {
	case <-l.stop:
		l.sup.EmergencyStop()
		l.powerDown()
		return ErrEmergencyStop
	default:
	}

	cmd, haveCmd := latest.Drain(l.modes)
	in, haveIn := latest.Drain(l.inputs)
	if haveIn {
		l.input = in
	}
	if haveCmd || haveIn {
		l.sup.Heard(now)
	}

	// The safety check wins over anything the operator sent this tick.
	roll, pitch, yaw := l.est.RollPitchYaw()
	if l.sup.CheckTilt(roll, pitch) {
		l.powerDown()
		return ErrTiltCutoff
	}
	if haveCmd {
		l.request(cmd, yaw)
	}
	if _, ok := l.sup.Mode().(Shutdown); ok {
		l.powerDown()
		return ErrShutdown
	}

	r, fresh := latest.Drain(l.predictions)
	if fresh {
		l.reading, l.haveReading = r, true
	} else {
		l.metrics.StaleTick()
	}
	if l.sup.Sample(fresh) && l.haveReading {
		l.est.Predict(l.reading, dt)
	}
	if u, ok := latest.Drain(l.updates); ok {
		l.est.Update(u)
		if u.MagField != nil {
			l.mag = *u.MagField
		}
	}
	if s := l.est.State(); !s.Valid() {
		l.logger.Error("estimate diverged, resetting", zap.Any("estimate", l.est.LogMap()))
		l.est.Reset()
	}
	l.sup.CheckLink(now)
	if b, ok := latest.Drain(l.battery); ok {
		st := l.sup.CheckBattery(b.Voltage)
		l.metrics.SetBattery(b.Voltage, int(st))
	}

	state := l.est.State()
	var setpoint navigation.Instructions
	fly := false
	if !now.Before(l.armUntil) {
		setpoint, fly = l.instructions(state, dt)
	}
	powers := [4]float64{l.cfg.Motors.Min, l.cfg.Motors.Min, l.cfg.Motors.Min, l.cfg.Motors.Min}
	var torque control.Torque
	if fly {
		torque = l.att.Control(state.Attitude, l.est.AngularRate(), setpoint.Attitude)
		powers = l.mixer.Mix(setpoint.Thrust, torque.Sum())
	} else {
		l.att.Reset()
	}
	if l.cfg.Loop.MotorsOn && l.handle.Armed() {
		if err := l.handle.Dispatch(motors.SetPowers{Powers: powers}); err != nil {
			l.logger.Warn("error setting motor powers", zap.Error(err))
		}
	}

	l.record(now, powers, torque)
	return nil
}

// instructions runs the handler of the current mode. fly is false when the
// motors should idle.
func (l *Loop) instructions(s ahrs.State, dt float64) (in navigation.Instructions, fly bool) {
	switch l.sup.Mode().(type) {
	case TakeOff, Landing:
		l.sup.Ramp()
		if _, off := l.sup.Mode().(Off); off {
			return in, false
		}
		return navigation.Instructions{Attitude: ahrs.Heading(l.sup.Heading()), Thrust: l.sup.Bias()}, true
	case Hold:
		f := l.cfg.Flight
		roll := clamp(float64(l.input.Orientation.X), f.MaxAngle)
		pitch := clamp(float64(l.input.Orientation.Y), f.MaxAngle)
		yaw := l.sup.Turn(float64(l.input.YawVelocity), dt)
		return navigation.Instructions{
			Attitude: ahrs.FromEuler(roll, pitch, yaw),
			Thrust:   l.sup.Bias() + f.ClimbGain*(float64(l.input.VerticalVelocity)-s.Velocity.Z),
		}, true
	case Navigation:
		in = l.nav.Navigate(s, l.sup.Bias())
		if l.nav.Done() {
			_, _, yaw := s.RollPitchYaw()
			l.sup.PathDone(yaw)
		}
		return in, true
	default:
		return in, false
	}
}

func (l *Loop) request(c link.ModeCommand, yaw float64) {
	m, err := ModeFor(c)
	if err != nil {
		l.logger.Warn("ignoring mode request", zap.Error(err))
		return
	}
	if l.sup.Request(m, yaw) {
		if err := l.handle.Dispatch(motors.Arm{}); err != nil {
			l.logger.Error("error arming motors", zap.Error(err))
			l.sup.Request(Off{}, yaw)
			return
		}
		l.armUntil = l.clk.Now().Add(l.cfg.Motors.ArmDelay.Duration)
		l.logger.Info("arming", zap.Duration("settle", l.cfg.Motors.ArmDelay.Duration))
	}
	if nav, ok := l.sup.Mode().(Navigation); ok {
		l.nav.SetPath(nav.Path)
	}
}

func (l *Loop) powerDown() {
	if err := l.handle.Dispatch(motors.PowerDown{}); err != nil {
		l.logger.Error("error powering down motors", zap.Error(err))
	}
	l.metrics.SetMode(l.sup.Mode().String())
}

func (l *Loop) record(now time.Time, powers [4]float64, torque control.Torque) {
	mode := l.sup.Mode().String()
	l.metrics.SetMode(mode)
	l.metrics.SetSkippedCorrections(l.est.SkippedCorrections())
	if l.sink == nil {
		return
	}
	roll, pitch, yaw := l.est.RollPitchYaw()
	l.sink.Log(telemetry.Record{
		T:      now.Sub(l.start).Seconds(),
		Mode:   mode,
		Powers: powers,
		Roll:   roll,
		Pitch:  pitch,
		Yaw:    yaw,
		P:      torque.P,
		I:      torque.I,
		D:      torque.D,
		Rate:   l.reading.AngularRate,
		Accel:  l.reading.SpecificForce,
		Mag:    l.mag,
	})
}

func clamp(x, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, x))
}
