package sim

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/sensors"
)

// Replay serves sensor readings recorded in a CSV file. The header names the
// columns; T (s), G1..G3 (rad/s), A1..A3 (m/s²) are required and M1..M3 are
// optional. Unknown columns are ignored, so telemetry logs replay directly.
type Replay struct {
	t       []float64
	g, a, m []r3.Vec
	hasMag  bool

	clk   Clock
	start time.Time
}

// LoadReplay reads the file at fn.
func LoadReplay(fn string, clk Clock, logger *zap.Logger) (*Replay, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening recording %s", fn)
	}
	defer f.Close()
	return NewReplay(f, clk, logger)
}

// NewReplay reads a recording from r. Rows that fail to parse are skipped.
func NewReplay(r io.Reader, clk Clock, logger *zap.Logger) (*Replay, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "error reading recording header")
	}
	cols := make(map[string]int, len(header))
	for i, k := range header {
		cols[k] = i
	}
	for _, k := range []string{"T", "G1", "G2", "G3", "A1", "A2", "A3"} {
		if _, ok := cols[k]; !ok {
			return nil, errors.Errorf("recording has no %s column", k)
		}
	}
	_, hasMag := cols["M1"]

	s := &Replay{hasMag: hasMag, clk: clk}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("skipping recording row", zap.Int("line", line), zap.Error(err))
			continue
		}
		val := func(k string) float64 {
			i, ok := cols[k]
			if !ok || err != nil {
				return 0
			}
			var v float64
			v, err = strconv.ParseFloat(rec[i], 64)
			return v
		}
		t := val("T")
		g := r3.Vec{X: val("G1"), Y: val("G2"), Z: val("G3")}
		a := r3.Vec{X: val("A1"), Y: val("A2"), Z: val("A3")}
		m := r3.Vec{X: val("M1"), Y: val("M2"), Z: val("M3")}
		if err != nil {
			logger.Warn("skipping recording row", zap.Int("line", line), zap.Error(err))
			continue
		}
		if n := len(s.t); n > 0 && t <= s.t[n-1] {
			logger.Warn("skipping out of order recording row", zap.Int("line", line), zap.Float64("t", t))
			continue
		}
		s.t = append(s.t, t)
		s.g = append(s.g, g)
		s.a = append(s.a, a)
		s.m = append(s.m, m)
	}
	if len(s.t) < 2 {
		return nil, errors.New("recording needs at least two rows")
	}
	s.start = clk.Now()
	return s, nil
}

// Duration is the length of the recording.
func (s *Replay) Duration() time.Duration {
	return time.Duration((s.t[len(s.t)-1] - s.t[0]) * float64(time.Second))
}

// Done reports whether the clock has passed the last row.
func (s *Replay) Done() bool {
	return s.clk.Since(s.start) >= s.Duration()
}

// HasMagnetometer reports whether the recording carries field readings.
func (s *Replay) HasMagnetometer() bool {
	return s.hasMag
}

func (s *Replay) at(v []r3.Vec) (r3.Vec, error) {
	t := s.t[0] + s.clk.Since(s.start).Seconds()
	if t > s.t[len(s.t)-1] {
		return r3.Vec{}, errors.New("requested time is outside of recorded data")
	}
	ix := 0
	if t > s.t[0] {
		ix = sort.SearchFloat64s(s.t, t) - 1
	}
	f := (t - s.t[ix]) / (s.t[ix+1] - s.t[ix])
	return r3.Add(r3.Scale(1-f, v[ix]), r3.Scale(f, v[ix+1])), nil
}

// MagneticFields returns every recorded field reading, or nil when the
// recording has none.
func (s *Replay) MagneticFields() []r3.Vec {
	if !s.hasMag {
		return nil
	}
	return s.m
}

// AngularRate implements sensors.Gyroscope.
func (s *Replay) AngularRate() (r3.Vec, error) { return s.at(s.g) }

// SpecificForce implements sensors.Accelerometer.
func (s *Replay) SpecificForce() (r3.Vec, error) { return s.at(s.a) }

// MagneticField implements sensors.Magnetometer.
func (s *Replay) MagneticField() (r3.Vec, error) {
	if !s.hasMag {
		return r3.Vec{}, errors.New("recording has no magnetometer data")
	}
	return s.at(s.m)
}

// Sensors returns a sensor set backed by s.
func (s *Replay) Sensors() sensors.Set {
	set := sensors.Set{Gyroscope: s, Accelerometer: s}
	if s.hasMag {
		set.Magnetometer = s
	}
	return set
}
