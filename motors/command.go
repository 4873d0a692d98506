// Package motors drives the four motor outputs through a scoped handle that
// guarantees the outputs are terminated on every exit path.
package motors

import "fmt"

// Command is one instruction to the motor output. It is one of Arm,
// PowerDown or SetPowers.
type Command interface {
	isCommand()
	fmt.Stringer
}

// Arm brings every motor to minimum power and waits for the speed
// controllers to settle.
type Arm struct{}

// PowerDown forces every output to its off state. No further command is
// accepted afterwards.
type PowerDown struct{}

// SetPowers sets each motor's power, a pulse width in µs. Motors are
// numbered rear-right, front-right, front-left, rear-left.
type SetPowers struct {
	Powers [4]float64
}

func (Arm) isCommand()       {}
func (PowerDown) isCommand() {}
func (SetPowers) isCommand() {}

func (Arm) String() string       { return "Arm" }
func (PowerDown) String() string { return "PowerDown" }
func (c SetPowers) String() string {
	return fmt.Sprintf("SetPowers(%.1f, %.1f, %.1f, %.1f)", c.Powers[0], c.Powers[1], c.Powers[2], c.Powers[3])
}
