package sensors

import (
	"time"

	"github.com/martindeegan/copter/config"
)

// BatteryStatus is the charge state of the flight pack.
type BatteryStatus int

const (
	BatteryFull BatteryStatus = iota
	BatteryLow
	BatteryCritical
)

func (s BatteryStatus) String() string {
	switch s {
	case BatteryFull:
		return "Full"
	case BatteryLow:
		return "Low"
	case BatteryCritical:
		return "Critical"
	}
	return "Unknown"
}

// BatteryReading is one pack voltage sample.
type BatteryReading struct {
	Voltage float64 // V
	T       time.Time
}

// Classify compares a pack voltage with the thresholds in cfg.
func Classify(cfg config.Battery, volts float64) BatteryStatus {
	switch {
	case volts < cfg.Critical():
		return BatteryCritical
	case volts < cfg.Warning():
		return BatteryLow
	}
	return BatteryFull
}
