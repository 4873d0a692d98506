package motors

import (
	"math"

	"github.com/kidoman/embd"
	"github.com/kidoman/embd/controller/pca9685"
	_ "github.com/kidoman/embd/host/all" // Empty import needed to initialize embd library.
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/martindeegan/copter/config"
)

const pwmResolution = 4096 // Counts per PWM cycle

// PCA9685 drives four ESCs from a PCA9685 PWM controller on I2C.
type PCA9685 struct {
	cfg    config.Motors
	bus    embd.I2CBus
	dev    *pca9685.PCA9685
	logger *zap.Logger
	closed bool
}

// NewPCA9685 opens the controller described by cfg.
func NewPCA9685(cfg config.Motors, logger *zap.Logger) (*PCA9685, error) {
	if cfg.Frequency <= 0 {
		return nil, errors.Errorf("invalid PWM frequency %d", cfg.Frequency)
	}
	bus := embd.NewI2CBus(cfg.Bus)
	dev := pca9685.New(bus, cfg.Address)
	dev.Freq = cfg.Frequency
	return &PCA9685{
		cfg:    cfg,
		bus:    bus,
		dev:    dev,
		logger: logger.Named("pca9685"),
	}, nil
}

// counts converts a pulse width to PWM off-time counts.
func (d *PCA9685) counts(us float64) int {
	return int(math.Round(us * float64(d.cfg.Frequency) * pwmResolution / 1e6))
}

func (d *PCA9685) clamp(us float64) float64 {
	return math.Max(d.cfg.Min, math.Min(d.cfg.Max, us))
}

func (d *PCA9685) Arm() error {
	for i, ch := range d.cfg.Channels {
		if err := d.dev.SetPwm(ch, 0, d.counts(d.cfg.Min)); err != nil {
			return errors.Wrapf(err, "error arming motor %d", i+1)
		}
	}
	d.logger.Info("motors at minimum")
	return nil
}

func (d *PCA9685) SetPowers(powers [4]float64) error {
	for i, ch := range d.cfg.Channels {
		if err := d.dev.SetPwm(ch, 0, d.counts(d.clamp(powers[i]))); err != nil {
			return errors.Wrapf(err, "error setting motor %d", i+1)
		}
	}
	return nil
}

// Terminate drives every output low, then releases the controller and the bus.
func (d *PCA9685) Terminate() (err error) {
	if d.closed {
		return nil
	}
	d.closed = true
	for i, ch := range d.cfg.Channels {
		err = multierr.Append(err, errors.Wrapf(d.dev.SetPwm(ch, 0, 0), "error stopping motor %d", i+1))
	}
	err = multierr.Append(err, d.dev.Close())
	return multierr.Append(err, d.bus.Close())
}
