package sensors

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// Simple is an offset-only calibration.
type Simple struct {
	Offsets [3]float64
}

// Apply removes the offsets from v.
func (c Simple) Apply(v r3.Vec) r3.Vec {
	return r3.Sub(v, r3.Vec{X: c.Offsets[0], Y: c.Offsets[1], Z: c.Offsets[2]})
}

// Ellipsoid maps a sensor whose readings lie on an offset, scaled and rotated
// ellipsoid back onto a sphere: Rotation·((v - Offsets) ⊙ Gains).
type Ellipsoid struct {
	Offsets  [3]float64
	Rotation [3][3]float64
	Gains    [3]float64
}

// Apply corrects v.
func (c Ellipsoid) Apply(v r3.Vec) r3.Vec {
	x := [3]float64{
		(v.X - c.Offsets[0]) * c.Gains[0],
		(v.Y - c.Offsets[1]) * c.Gains[1],
		(v.Z - c.Offsets[2]) * c.Gains[2],
	}
	var out [3]float64
	for i := range out {
		for j := range x {
			out[i] += c.Rotation[i][j] * x[j]
		}
	}
	return r3.Vec{X: out[0], Y: out[1], Z: out[2]}
}

func unitEllipsoid() Ellipsoid {
	return Ellipsoid{
		Rotation: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Gains:    [3]float64{1, 1, 1},
	}
}

// Calibration holds the results of the offline calibration procedures.
type Calibration struct {
	Gyroscope     Simple
	Accelerometer Ellipsoid
	Magnetometer  Ellipsoid
}

// DefaultCalibration is the identity calibration.
func DefaultCalibration() Calibration {
	return Calibration{
		Accelerometer: unitEllipsoid(),
		Magnetometer:  unitEllipsoid(),
	}
}

// LoadCalibration reads calibration results from the TOML file at path.
func LoadCalibration(path string) (Calibration, error) {
	c := DefaultCalibration()
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return DefaultCalibration(), errors.Wrapf(err, "error reading calibration data from %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return DefaultCalibration(), errors.Errorf("unknown calibration keys in %s: %v", path, undecoded)
	}
	return c, nil
}

// Save writes the calibration to path as TOML.
func (c Calibration) Save(path string) (err error) {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(0644))
	if err != nil {
		return errors.Wrapf(err, "error saving calibration data to %s", path)
	}
	defer func() {
		if cerr := fd.Close(); err == nil {
			err = cerr
		}
	}()
	return errors.Wrap(toml.NewEncoder(fd).Encode(c), "error encoding calibration data")
}
