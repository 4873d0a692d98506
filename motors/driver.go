package motors

import (
	"sync"
)

// Driver is a motor output device. Implementations are owned by a single
// Handle and need not be safe for concurrent use.
type Driver interface {
	// Arm sets every output to minimum power. It returns at once; the owner
	// holds the outputs at minimum for the configured settle time.
	Arm() error
	// SetPowers sets each output, pulse width in µs.
	SetPowers(powers [4]float64) error
	// Terminate forces every output off. It must be safe to call more than once.
	Terminate() error
}

// Recorder is an in-memory Driver that keeps every command it receives.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	min      float64
}

// NewRecorder returns a Recorder that arms to min.
func NewRecorder(min float64) *Recorder {
	return &Recorder{min: min}
}

func (r *Recorder) record(c Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, c)
}

func (r *Recorder) Arm() error {
	r.record(Arm{})
	return nil
}

func (r *Recorder) SetPowers(powers [4]float64) error {
	r.record(SetPowers{Powers: powers})
	return nil
}

func (r *Recorder) Terminate() error {
	r.record(PowerDown{})
	return nil
}

// Commands returns a copy of everything received so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Last returns the most recent command, or nil.
func (r *Recorder) Last() Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commands) == 0 {
		return nil
	}
	return r.commands[len(r.commands)-1]
}

// Powers returns the most recent powers set, or all at the arming minimum.
func (r *Recorder) Powers() [4]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.commands) - 1; i >= 0; i-- {
		if c, ok := r.commands[i].(SetPowers); ok {
			return c.Powers
		}
	}
	return [4]float64{r.min, r.min, r.min, r.min}
}
