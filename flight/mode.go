// Package flight runs the control loop: it supervises the flight mode, feeds
// the estimator, and turns the mode's setpoint into motor powers.
package flight

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/link"
)

// Mode is a flight mode. The set is closed: Shutdown, Off, TakeOff, Landing,
// Hold and Navigation.
type Mode interface {
	isMode()
	fmt.Stringer
}

// Shutdown powers the motors down and ends the loop. It is terminal.
type Shutdown struct{}

// Off idles with the motors at minimum power.
type Off struct{}

// TakeOff ramps the throttle bias up to the takeoff ceiling, level.
type TakeOff struct{}

// Landing ramps the throttle bias down to the landing floor, level, then
// switches to Off.
type Landing struct{}

// Hold flies the operator's setpoint.
type Hold struct{}

// Navigation follows Path, local ENU waypoints in m, then switches to Hold.
type Navigation struct {
	Path []r3.Vec
}

func (Shutdown) isMode()   {}
func (Off) isMode()        {}
func (TakeOff) isMode()    {}
func (Landing) isMode()    {}
func (Hold) isMode()       {}
func (Navigation) isMode() {}

func (Shutdown) String() string   { return "Shutdown" }
func (Off) String() string        { return "Off" }
func (TakeOff) String() string    { return "TakeOff" }
func (Landing) String() string    { return "Landing" }
func (Hold) String() string       { return "Hold" }
func (Navigation) String() string { return "Navigation" }

// flying reports whether m keeps the aircraft in the air on operator or
// navigation input, the modes the fail-safes land from.
func flying(m Mode) bool {
	switch m.(type) {
	case TakeOff, Hold, Navigation:
		return true
	}
	return false
}

// ModeFor converts an operator mode request.
func ModeFor(c link.ModeCommand) (Mode, error) {
	switch c.Mode {
	case link.ModeShutdown:
		return Shutdown{}, nil
	case link.ModeOff:
		return Off{}, nil
	case link.ModeTakeOff:
		return TakeOff{}, nil
	case link.ModeLanding:
		return Landing{}, nil
	case link.ModeHold:
		return Hold{}, nil
	case link.ModeNavigation:
		path := make([]r3.Vec, len(c.Path))
		for i, v := range c.Path {
			path[i] = v.Vec()
		}
		return Navigation{Path: path}, nil
	}
	return nil, errors.Errorf("no flight mode for %v", c.Mode)
}
