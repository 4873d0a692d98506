package sensors

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// MinMax fits a magnetometer calibration from the extremes seen along each
// axis. It needs the sensor turned through every orientation to be useful.
type MinMax struct {
	min, max r3.Vec
	n        int
}

// Observe records one raw reading.
func (m *MinMax) Observe(v r3.Vec) {
	if m.n == 0 {
		m.min, m.max = v, v
	} else {
		m.min = r3.Vec{X: math.Min(m.min.X, v.X), Y: math.Min(m.min.Y, v.Y), Z: math.Min(m.min.Z, v.Z)}
		m.max = r3.Vec{X: math.Max(m.max.X, v.X), Y: math.Max(m.max.Y, v.Y), Z: math.Max(m.max.Z, v.Z)}
	}
	m.n++
}

// N is the number of readings observed.
func (m *MinMax) N() int {
	return m.n
}

// Fit returns a calibration centering each axis and scaling it so the
// corrected readings span ±strength.
func (m *MinMax) Fit(strength float64) (Ellipsoid, error) {
	c := unitEllipsoid()
	lo, hi := [3]float64{m.min.X, m.min.Y, m.min.Z}, [3]float64{m.max.X, m.max.Y, m.max.Z}
	for i := range c.Offsets {
		span := hi[i] - lo[i]
		if m.n < 2 || span <= 0 {
			return unitEllipsoid(), errors.Errorf("no spread on axis %d after %d readings", i+1, m.n)
		}
		c.Offsets[i] = (hi[i] + lo[i]) / 2
		c.Gains[i] = 2 * strength / span
	}
	return c, nil
}
