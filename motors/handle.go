package motors

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/martindeegan/copter/config"
)

var (
	// ErrTerminated is returned for any command after PowerDown.
	ErrTerminated = errors.New("motors are terminated")
	// ErrNotArmed is returned by SetPowers before Arm.
	ErrNotArmed = errors.New("motors are not armed")
)

// Handle is the exclusive owner of a Driver. Acquire one, and defer Release
// so the outputs are terminated however the owner exits.
type Handle struct {
	driver Driver
	cfg    config.Motors
	logger *zap.Logger

	mu         sync.Mutex
	armed      bool
	terminated bool
	termErr    error
	last       Command
}

// Acquire takes ownership of d.
func Acquire(d Driver, cfg config.Motors, logger *zap.Logger) *Handle {
	return &Handle{driver: d, cfg: cfg, logger: logger.Named("motors")}
}

// Dispatch sends c to the driver. SetPowers values are clamped to the valid
// pulse range per motor.
func (h *Handle) Dispatch(c Command) error {
	if _, ok := c.(PowerDown); ok {
		return h.Terminate()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return ErrTerminated
	}
	h.last = c
	switch c := c.(type) {
	case Arm:
		if h.armed {
			return nil
		}
		if err := h.driver.Arm(); err != nil {
			return errors.Wrap(err, "error arming motors")
		}
		h.armed = true
		h.logger.Info("motors armed")
	case SetPowers:
		if !h.armed {
			return ErrNotArmed
		}
		p := c.Powers
		for i := range p {
			p[i] = math.Max(h.cfg.Min, math.Min(h.cfg.Max, p[i]))
		}
		return h.driver.SetPowers(p)
	default:
		return errors.Errorf("unknown motor command %v", c)
	}
	return nil
}

// Terminate forces the outputs off. Only the first call reaches the driver;
// later calls return its result.
func (h *Handle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return h.termErr
	}
	h.terminated, h.armed = true, false
	h.last = PowerDown{}
	h.termErr = h.driver.Terminate()
	if h.termErr != nil {
		h.logger.Error("error terminating motors", zap.Error(h.termErr))
	} else {
		h.logger.Info("motors terminated")
	}
	return h.termErr
}

// Release terminates the outputs and folds any error into *errp. It must be
// deferred directly: a panic in the owner is recovered, the outputs are
// terminated, and the panic continues.
func (h *Handle) Release(errp *error) {
	r := recover()
	err := h.Terminate()
	if r != nil {
		h.logger.Error("terminated motors after panic", zap.Any("panic", r))
		panic(r)
	}
	if errp != nil {
		*errp = multierr.Append(*errp, err)
	}
}

// Armed reports whether the motors are armed.
func (h *Handle) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.armed
}

// Terminated reports whether PowerDown has been sent.
func (h *Handle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// Last returns the last command dispatched, or nil.
func (h *Handle) Last() Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}
