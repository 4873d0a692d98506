// Package config holds the configuration tree for the flight controller and
// loads it from TOML.
package config

import (
	"math"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	// DefaultPath is where the controller looks for its configuration file.
	DefaultPath = "/etc/copter/config.toml"

	Deg = math.Pi / 180
)

// Duration wraps time.Duration so it can be written as "2.5ms" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Wrapf(err, "invalid duration %q", string(text))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete controller configuration.
type Config struct {
	Loop       Loop
	Estimator  Estimator
	Attitude   Attitude
	Motors     Motors
	Flight     Flight
	Navigation Navigation
	Sensors    Sensors
	Link       Link
	Telemetry  Telemetry
	Battery    Battery
}

// Loop configures the fixed-rate control loop.
type Loop struct {
	SampleRateHz float64 // Tick rate; the period is 1/SampleRateHz
	MotorsOn     bool    // When false, SetPowers commands are not sent to the driver
}

// Period returns the tick period.
func (l Loop) Period() time.Duration {
	return time.Duration(float64(time.Second) / l.SampleRateHz)
}

// Estimator configures the error-state Kalman filter.
type Estimator struct {
	Gravity      float64    // m/s²
	MagReference [3]float64 // Geomagnetic field in the local ENU frame, any units; normalized on use

	GyroNoise     float64 // rad/s/√Hz
	AccelNoise    float64 // m/s²/√Hz
	GyroBiasWalk  float64 // rad/s²/√Hz
	AccelBiasWalk float64 // m/s³/√Hz
	MagWalk       float64 // 1/s/√Hz, normalized field

	AccelMeasNoise float64 // m/s², std dev of accelerometer reference-vector measurement
	MagMeasNoise   float64 // normalized units, std dev of magnetometer reference-vector measurement
	GPSNoise       float64 // m, std dev of a position fix

	InitPosition  float64 // Initial std devs of the error state
	InitVelocity  float64
	InitAttitude  float64
	InitAccelBias float64
	InitGyroBias  float64
	InitMagField  float64
}

// Attitude configures the attitude PID controller. Gains are per axis: roll, pitch, yaw.
type Attitude struct {
	Kp, Ki, Kd    [3]float64
	IntegralLimit float64 // Per-axis bound on the accumulated error integral, rad·s
}

// Motors configures the motor output device.
type Motors struct {
	Min, Max  float64  // Valid pulse width range, µs
	ArmDelay  Duration // Settle time after arming
	Bus       byte     // I2C bus number
	Address   byte     // PCA9685 address
	Frequency int      // PWM frequency, Hz
	Channels  [4]int   // PWM channel of each motor
}

// Flight configures the mode state machine.
type Flight struct {
	TakeOffCeiling float64 // Throttle bias at which the takeoff ramp stops
	TakeOffRate    float64 // Throttle bias increase per tick
	LandingFloor   float64 // Throttle bias at which landing completes
	LandingRate    float64 // Throttle bias decrease per tick
	TiltCutoff     float64 // Max |roll| or |pitch| before forced shutdown, rad
	CommandTimeout Duration
	MaxStaleTicks  int // Ticks without a fresh prediction reading before forced landing
	MaxAngle       float64 // Max roll/pitch setpoint accepted from the operator, rad
	ClimbGain      float64 // Throttle bias per m/s of vertical speed error
}

// Navigation configures waypoint following.
type Navigation struct {
	AcceptanceRadius float64 // m
	CruiseSpeed      float64 // m/s
	MaxTilt          float64 // rad
	MaxClimb         float64 // m/s
	Velocity         PID     // Horizontal velocity loop, output tilt angle
	Altitude         PID     // Altitude loop, output climb rate
	Home             Home
}

// PID is a set of scalar gains.
type PID struct {
	P, I, D float64
}

// Home is the origin of the local ENU frame.
type Home struct {
	Latitude, Longitude, Altitude float64
}

// Sensors configures the acquisition worker.
type Sensors struct {
	SampleRateHz    float64
	UpdateDivider   int // One UpdateReading every UpdateDivider samples
	MagDivider      int // Magnetometer included every MagDivider update readings
	MaxStaleReads   int // Consecutive failed reads that may reuse the last good value
	CalibrationPath string
	Simulate        bool
}

// Battery sets the pack voltage thresholds. Voltages are per cell.
type Battery struct {
	Cells           int
	WarningVoltage  float64 // V per cell; below this the pack is Low
	CriticalVoltage float64 // V per cell; below this the pack is Critical and the aircraft lands
}

// Warning is the pack warning voltage.
func (b Battery) Warning() float64 { return float64(b.Cells) * b.WarningVoltage }

// Critical is the pack critical voltage.
func (b Battery) Critical() float64 { return float64(b.Cells) * b.CriticalVoltage }

// Link configures the operator datagram link.
type Link struct {
	ListenAddr string
}

// Telemetry configures the telemetry sinks.
type Telemetry struct {
	CSVPath  string
	HTTPAddr string // Websocket stream and metrics; empty disables
	Decimate int    // Forward every Decimate-th record to the websocket
}

// Default returns a configuration suitable for a 250 mm quad.
func Default() Config {
	return Config{
		Loop: Loop{
			SampleRateHz: 400,
			MotorsOn:     true,
		},
		Estimator: Estimator{
			Gravity:        9.80665,
			MagReference:   [3]float64{0, 0.19, -0.47},
			GyroNoise:      0.005,
			AccelNoise:     0.05,
			GyroBiasWalk:   1e-4,
			AccelBiasWalk:  1e-3,
			MagWalk:        1e-4,
			AccelMeasNoise: 0.3,
			MagMeasNoise:   0.05,
			GPSNoise:       2.5,
			InitPosition:   1,
			InitVelocity:   0.1,
			InitAttitude:   0.1,
			InitAccelBias:  0.1,
			InitGyroBias:   0.01,
			InitMagField:   0.05,
		},
		Attitude: Attitude{
			Kp:            [3]float64{120, 120, 80},
			Ki:            [3]float64{20, 20, 5},
			Kd:            [3]float64{30, 30, 20},
			IntegralLimit: 0.3,
		},
		Motors: Motors{
			Min:       1000,
			Max:       2000,
			ArmDelay:  Duration{2 * time.Second},
			Bus:       1,
			Address:   0x40,
			Frequency: 100,
			Channels:  [4]int{0, 1, 2, 3},
		},
		Flight: Flight{
			TakeOffCeiling: 1200,
			TakeOffRate:    1.5,
			LandingFloor:   1000,
			LandingRate:    0.2,
			TiltCutoff:     45 * Deg,
			CommandTimeout: Duration{time.Second},
			MaxStaleTicks:  40,
			MaxAngle:       30 * Deg,
			ClimbGain:      50,
		},
		Navigation: Navigation{
			AcceptanceRadius: 1.5,
			CruiseSpeed:      3,
			MaxTilt:          20 * Deg,
			MaxClimb:         1.5,
			Velocity:         PID{P: 0.08, I: 0.01, D: 0},
			Altitude:         PID{P: 0.8, I: 0.05, D: 0},
		},
		Sensors: Sensors{
			SampleRateHz:    400,
			UpdateDivider:   4,
			MagDivider:      4,
			MaxStaleReads:   20,
			CalibrationPath: "/etc/copter/calibrations.toml",
		},
		Link: Link{
			ListenAddr: "0.0.0.0:27136",
		},
		Telemetry: Telemetry{
			HTTPAddr: ":8080",
			Decimate: 8,
		},
		Battery: Battery{
			Cells:           3,
			WarningVoltage:  3.6,
			CriticalVoltage: 3.4,
		},
	}
}

// Load reads the TOML file at path on top of Default. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "error reading config from %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, errors.Errorf("unknown config keys in %s: %v", path, undecoded)
	}
	return cfg, cfg.Validate()
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() (err error) {
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			err = multierr.Append(err, errors.Errorf(format, args...))
		}
	}
	check(c.Loop.SampleRateHz > 0, "loop sample rate must be positive, got %v", c.Loop.SampleRateHz)
	check(c.Sensors.SampleRateHz > 0, "sensor sample rate must be positive, got %v", c.Sensors.SampleRateHz)
	check(c.Sensors.UpdateDivider >= 1, "sensor update divider must be at least 1")
	check(c.Sensors.MagDivider >= 1, "magnetometer divider must be at least 1")
	check(c.Estimator.Gravity > 0, "gravity must be positive")
	m := c.Estimator.MagReference
	check(m[0]*m[0]+m[1]*m[1]+m[2]*m[2] > 0, "magnetic reference must be nonzero")
	check(c.Estimator.AccelMeasNoise > 0 && c.Estimator.MagMeasNoise > 0 && c.Estimator.GPSNoise > 0,
		"measurement noise must be positive")
	check(c.Motors.Min < c.Motors.Max, "motor range [%v, %v] is empty", c.Motors.Min, c.Motors.Max)
	check(c.Flight.TakeOffCeiling <= c.Motors.Max, "takeoff ceiling %v above motor max %v", c.Flight.TakeOffCeiling, c.Motors.Max)
	check(c.Flight.LandingFloor >= c.Motors.Min, "landing floor %v below motor min %v", c.Flight.LandingFloor, c.Motors.Min)
	check(c.Flight.TakeOffRate > 0 && c.Flight.LandingRate > 0, "takeoff and landing rates must be positive")
	check(c.Flight.TiltCutoff > 0 && c.Flight.TiltCutoff < math.Pi/2, "tilt cutoff must be in (0, 90°)")
	check(c.Flight.MaxStaleTicks >= 0, "max stale ticks must not be negative")
	check(c.Attitude.IntegralLimit >= 0, "integral limit must not be negative")
	check(c.Navigation.AcceptanceRadius > 0, "acceptance radius must be positive")
	check(c.Battery.Cells >= 1, "battery must have at least one cell")
	check(c.Battery.CriticalVoltage > 0 && c.Battery.CriticalVoltage < c.Battery.WarningVoltage,
		"battery critical voltage %v must be positive and below the warning voltage %v",
		c.Battery.CriticalVoltage, c.Battery.WarningVoltage)
	return err
}
