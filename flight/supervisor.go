package flight

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/martindeegan/copter/config"
	"github.com/martindeegan/copter/sensors"
)

// landedTolerance absorbs the rounding of repeated ramp decrements.
const landedTolerance = 1e-9

// Supervisor owns the flight mode and the throttle bias. Every mode change
// goes through it. It is owned by the control loop and not safe for
// concurrent use.
type Supervisor struct {
	cfg     config.Flight
	min     float64
	battery config.Battery
	logger  *zap.Logger

	mode      Mode
	bias      float64 // Throttle bias, µs
	heading   float64 // Yaw setpoint, rad
	lastHeard time.Time
	stale     int
	pack      sensors.BatteryStatus
}

// NewSupervisor returns a supervisor in Off with the bias at the motor minimum.
func NewSupervisor(cfg config.Flight, motors config.Motors, battery config.Battery, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		min:     motors.Min,
		battery: battery,
		logger:  logger.Named("supervisor"),
		mode:    Off{},
		bias:    motors.Min,
	}
}

// Mode is the current mode.
func (s *Supervisor) Mode() Mode { return s.mode }

// Bias is the throttle bias.
func (s *Supervisor) Bias() float64 { return s.bias }

// Heading is the yaw setpoint.
func (s *Supervisor) Heading() float64 { return s.heading }

func (s *Supervisor) transition(m Mode, yaw float64, reason string) {
	s.logger.Info("flight mode changed",
		zap.Stringer("from", s.mode),
		zap.Stringer("to", m),
		zap.String("reason", reason),
		zap.Float64("bias", s.bias))
	s.mode = m
	s.heading = yaw
}

// Request applies an operator mode request; yaw is the current estimate.
// arm reports that the motors must be armed before flying the new mode.
func (s *Supervisor) Request(m Mode, yaw float64) (arm bool) {
	switch s.mode.(type) {
	case Shutdown:
		return false
	case Off:
		if _, ok := m.(Landing); ok {
			s.logger.Debug("ignoring landing request while off")
			return false
		}
		if flying(m) && s.pack == sensors.BatteryCritical {
			s.logger.Warn("refusing to fly on a critical battery", zap.Stringer("requested", m))
			return false
		}
		if flying(m) {
			arm = true
			s.bias = s.min
		}
	}
	_, nav := m.(Navigation)
	if !nav && m == s.mode {
		return false
	}
	s.transition(m, yaw, "operator request")
	return arm
}

// Heard records operator traffic at now.
func (s *Supervisor) Heard(now time.Time) {
	s.lastHeard = now
}

// CheckTilt forces Shutdown when roll or pitch exceeds the cutoff.
func (s *Supervisor) CheckTilt(roll, pitch float64) bool {
	if math.Abs(roll) <= s.cfg.TiltCutoff && math.Abs(pitch) <= s.cfg.TiltCutoff {
		return false
	}
	s.logger.Error("tilt cutoff exceeded",
		zap.Stringer("mode", s.mode),
		zap.Float64("roll", roll),
		zap.Float64("pitch", pitch),
		zap.Float64("cutoff", s.cfg.TiltCutoff))
	s.mode = Shutdown{}
	return true
}

// EmergencyStop forces Shutdown.
func (s *Supervisor) EmergencyStop() {
	s.logger.Error("emergency stop", zap.Stringer("mode", s.mode))
	s.mode = Shutdown{}
}

// Sample records whether this tick has a fresh inertial reading. It returns
// false once the last good reading is too old to use, and lands if flying.
func (s *Supervisor) Sample(fresh bool) (usable bool) {
	if fresh {
		s.stale = 0
		return true
	}
	s.stale++
	if s.stale <= s.cfg.MaxStaleTicks {
		return true
	}
	if flying(s.mode) {
		s.transition(Landing{}, s.heading, "sensors stale")
	}
	return false
}

// CheckLink lands when the operator has been silent longer than the command
// timeout.
func (s *Supervisor) CheckLink(now time.Time) {
	if flying(s.mode) && now.Sub(s.lastHeard) > s.cfg.CommandTimeout.Duration {
		s.logger.Warn("operator link lost", zap.Duration("silent", now.Sub(s.lastHeard)))
		s.transition(Landing{}, s.heading, "command timeout")
	}
}

// CheckBattery classifies a pack voltage. A change of status is logged once;
// Critical lands the aircraft if it is flying and blocks the next takeoff.
func (s *Supervisor) CheckBattery(volts float64) sensors.BatteryStatus {
	st := sensors.Classify(s.battery, volts)
	if st != s.pack {
		fields := []zap.Field{zap.Stringer("status", st), zap.Float64("volts", volts)}
		switch st {
		case sensors.BatteryCritical:
			s.logger.Error("battery critical", fields...)
		case sensors.BatteryLow:
			s.logger.Warn("battery low", fields...)
		default:
			s.logger.Info("battery recovered", fields...)
		}
		s.pack = st
	}
	if st == sensors.BatteryCritical && flying(s.mode) {
		s.transition(Landing{}, s.heading, "battery critical")
	}
	return st
}

// Battery is the last pack status.
func (s *Supervisor) Battery() sensors.BatteryStatus { return s.pack }

// Ramp advances the throttle bias of TakeOff and Landing by one tick.
// Landing ends in Off, with the bias at the landing floor, once the bias
// reaches the floor. Landing entered at the floor ends on its first tick.
func (s *Supervisor) Ramp() {
	switch s.mode.(type) {
	case TakeOff:
		if s.bias < s.cfg.TakeOffCeiling {
			s.bias += s.cfg.TakeOffRate
		}
	case Landing:
		s.bias -= s.cfg.LandingRate
		if s.bias <= s.cfg.LandingFloor+landedTolerance {
			s.bias = s.cfg.LandingFloor
			s.transition(Off{}, s.heading, "landed")
		}
	}
}

// Turn integrates a yaw rate command into the heading, rad/s over dt s.
func (s *Supervisor) Turn(rate, dt float64) float64 {
	s.heading = math.Remainder(s.heading+rate*dt, 2*math.Pi)
	return s.heading
}

// PathDone switches a finished Navigation to Hold.
func (s *Supervisor) PathDone(yaw float64) {
	if _, ok := s.mode.(Navigation); ok {
		s.transition(Hold{}, yaw, "path complete")
	}
}
