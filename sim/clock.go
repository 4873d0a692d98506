package sim

import "time"

// Clock is the time source a situation or a replay reads. A
// github.com/benbjohnson/clock Clock satisfies it.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// Stepper is a Clock that only moves when told to, for running a situation
// faster than real time. It is not safe for concurrent use.
type Stepper struct {
	now time.Time
}

// NewStepper returns a Stepper reading start.
func NewStepper(start time.Time) *Stepper {
	return &Stepper{now: start}
}

func (s *Stepper) Now() time.Time { return s.now }

func (s *Stepper) Since(t time.Time) time.Duration { return s.now.Sub(t) }

// Step advances the clock by d.
func (s *Stepper) Step(d time.Duration) { s.now = s.now.Add(d) }
