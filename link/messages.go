// Package link receives operator traffic over UDP. Each datagram is one tag
// byte followed by a protobuf payload.
package link

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Tag identifies the message type of a datagram.
type Tag byte

const (
	TagControlInput  Tag = 1
	TagEmergencyStop Tag = 2
	TagModeCommand   Tag = 3
	TagPath          Tag = 4
)

// Message is one decoded datagram: ControlInput, EmergencyStop or ModeCommand.
type Message interface {
	isMessage()
}

// Vector3 is the wire form of a vector.
type Vector3 struct {
	X, Y, Z float32
}

// Vec widens v.
func (v Vector3) Vec() r3.Vec {
	return r3.Vec{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

// FromVec narrows v to its wire form.
func FromVec(v r3.Vec) Vector3 {
	return Vector3{X: float32(v.X), Y: float32(v.Y), Z: float32(v.Z)}
}

// ControlInput is an operator setpoint. Orientation carries the desired roll
// (X) and pitch (Y) in rad; Z is unused.
type ControlInput struct {
	ID               int32
	Time             int32
	Orientation      Vector3
	VerticalVelocity float32 // m/s, up
	YawVelocity      float32 // rad/s, counterclockwise
}

// EmergencyStop asks for immediate motor termination and process exit.
type EmergencyStop struct{}

// ModeID is the wire enumeration of flight modes.
type ModeID int32

const (
	ModeUnknown ModeID = iota
	ModeShutdown
	ModeOff
	ModeTakeOff
	ModeLanding
	ModeHold
	ModeNavigation
)

func (m ModeID) String() string {
	switch m {
	case ModeShutdown:
		return "Shutdown"
	case ModeOff:
		return "Off"
	case ModeTakeOff:
		return "TakeOff"
	case ModeLanding:
		return "Landing"
	case ModeHold:
		return "Hold"
	case ModeNavigation:
		return "Navigation"
	default:
		return fmt.Sprintf("ModeID(%d)", int32(m))
	}
}

// ModeCommand requests a flight mode. A path datagram decodes to a
// ModeCommand for ModeNavigation carrying the waypoints, local ENU meters.
type ModeCommand struct {
	Mode ModeID
	Path []Vector3
}

func (ControlInput) isMessage()  {}
func (EmergencyStop) isMessage() {}
func (ModeCommand) isMessage()   {}
