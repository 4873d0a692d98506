package sensors

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/ahrs"
	"github.com/martindeegan/copter/config"
	"github.com/martindeegan/copter/geodesy"
	"github.com/martindeegan/copter/internal/latest"
)

const (
	predictionBufferSize = 8
	updateBufferSize     = 2
	batteryBufferSize    = 1
)

// channel remembers the last good value of one sensor so a failed read can be
// covered for a bounded number of samples.
type channel struct {
	name     string
	last     r3.Vec
	good     bool
	failures int
}

func (c *channel) read(f func() (r3.Vec, error), maxStale int, logger *zap.Logger) (r3.Vec, bool) {
	v, err := f()
	if err == nil {
		if c.failures > maxStale {
			logger.Info("sensor recovered", zap.String("sensor", c.name), zap.Int("failed_reads", c.failures))
		}
		c.last, c.good, c.failures = v, true, 0
		return v, true
	}
	c.failures++
	if c.failures == maxStale+1 {
		logger.Warn("sensor is stale", zap.String("sensor", c.name), zap.Error(err))
	}
	return c.last, c.good && c.failures <= maxStale
}

// Poller samples a sensor Set at a fixed rate. Every sample becomes a
// PredictionReading; every UpdateDivider-th sample also becomes an
// UpdateReading. Both are offered on channels that drop their oldest value
// when the consumer falls behind.
type Poller struct {
	cfg     config.Sensors
	sensors Set
	cal     Calibration
	frame   *geodesy.Frame
	clk     clock.Clock
	logger  *zap.Logger

	predictions chan ahrs.PredictionReading
	updates     chan ahrs.UpdateReading
	battery     chan BatteryReading

	gyro, accel, mag channel
	n, nUpdates      int
}

// NewPoller returns a Poller over set. frame projects GPS fixes into the
// local frame and may be nil when set has no GPS.
func NewPoller(
	cfg config.Sensors,
	set Set,
	cal Calibration,
	frame *geodesy.Frame,
	clk clock.Clock,
	logger *zap.Logger,
) (*Poller, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &Poller{
		cfg:         cfg,
		sensors:     set,
		cal:         cal,
		frame:       frame,
		clk:         clk,
		logger:      logger.Named("sensors"),
		predictions: make(chan ahrs.PredictionReading, predictionBufferSize),
		updates:     make(chan ahrs.UpdateReading, updateBufferSize),
		battery:     make(chan BatteryReading, batteryBufferSize),
		gyro:        channel{name: "gyroscope"},
		accel:       channel{name: "accelerometer"},
		mag:         channel{name: "magnetometer"},
	}, nil
}

// Predictions is the stream of inertial samples.
func (p *Poller) Predictions() <-chan ahrs.PredictionReading {
	return p.predictions
}

// Updates is the stream of correction readings.
func (p *Poller) Updates() <-chan ahrs.UpdateReading {
	return p.updates
}

// Battery is the stream of pack voltages, one per update reading. It stays
// silent when the set has no battery sensor.
func (p *Poller) Battery() <-chan BatteryReading {
	return p.battery
}

// Period is the sampling period.
func (p *Poller) Period() time.Duration {
	return time.Duration(float64(time.Second) / p.cfg.SampleRateHz)
}

// Run samples until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clk.Ticker(p.Period())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			// Staleness is logged by the channel and surfaces to the loop as
			// missing readings.
			_ = p.SampleAt(t)
		}
	}
}

// Sample reads every sensor once and offers the resulting readings.
func (p *Poller) Sample() error {
	return p.SampleAt(p.clk.Now())
}

// SampleAt is Sample with the readings stamped now.
func (p *Poller) SampleAt(now time.Time) error {
	w, wok := p.gyro.read(p.sensors.Gyroscope.AngularRate, p.cfg.MaxStaleReads, p.logger)
	f, fok := p.accel.read(p.sensors.Accelerometer.SpecificForce, p.cfg.MaxStaleReads, p.logger)
	if !wok || !fok {
		return ErrStale
	}
	w = p.cal.Gyroscope.Apply(w)
	f = p.cal.Accelerometer.Apply(f)
	latest.Offer(p.predictions, ahrs.PredictionReading{AngularRate: w, SpecificForce: f, T: now})

	p.n++
	if p.n%p.cfg.UpdateDivider != 0 {
		return nil
	}
	u := ahrs.UpdateReading{SpecificForce: f, T: now}
	p.nUpdates++
	if p.sensors.Magnetometer != nil && p.nUpdates%p.cfg.MagDivider == 0 {
		if m, ok := p.mag.read(p.sensors.Magnetometer.MagneticField, p.cfg.MaxStaleReads, p.logger); ok {
			m = p.cal.Magnetometer.Apply(m)
			u.MagField = &m
		}
	}
	if p.sensors.GPS != nil && p.frame != nil {
		fix, fresh, err := p.sensors.GPS.Fix()
		if err != nil {
			p.logger.Debug("gps read failed", zap.Error(err))
		} else if fresh {
			pos := p.frame.ToLocal(fix.Latitude, fix.Longitude, fix.Altitude)
			u.GPS = &pos
		}
	}
	latest.Offer(p.updates, u)

	if p.sensors.Battery != nil {
		if v, err := p.sensors.Battery.Voltage(); err != nil {
			p.logger.Debug("battery read failed", zap.Error(err))
		} else {
			latest.Offer(p.battery, BatteryReading{Voltage: v, T: now})
		}
	}
	return nil
}
