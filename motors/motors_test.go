package motors

import (
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/martindeegan/copter/config"
)

type failingDriver struct {
	*Recorder
	terminations int
}

func (d *failingDriver) Terminate() error {
	d.terminations++
	return errors.New("bus closed")
}

func newTestHandle(t *testing.T) (*Handle, *Recorder) {
	r := NewRecorder(1000)
	return Acquire(r, config.Default().Motors, zaptest.NewLogger(t)), r
}

func TestSetPowersNeedsArm(t *testing.T) {
	h, r := newTestHandle(t)
	test.That(t, h.Dispatch(SetPowers{Powers: [4]float64{1100, 1100, 1100, 1100}}), test.ShouldEqual, ErrNotArmed)
	test.That(t, r.Commands(), test.ShouldBeEmpty)
	test.That(t, r.Powers(), test.ShouldResemble, [4]float64{1000, 1000, 1000, 1000})

	test.That(t, h.Dispatch(Arm{}), test.ShouldBeNil)
	test.That(t, h.Dispatch(Arm{}), test.ShouldBeNil)
	test.That(t, h.Armed(), test.ShouldBeTrue)
	test.That(t, h.Dispatch(SetPowers{Powers: [4]float64{1100, 1200, 1300, 1400}}), test.ShouldBeNil)
	test.That(t, r.Commands(), test.ShouldResemble, []Command{Arm{}, SetPowers{Powers: [4]float64{1100, 1200, 1300, 1400}}})
}

func TestSetPowersClampsEachMotor(t *testing.T) {
	h, r := newTestHandle(t)
	test.That(t, h.Dispatch(Arm{}), test.ShouldBeNil)
	test.That(t, h.Dispatch(SetPowers{Powers: [4]float64{900, 2100, 1500, 2000}}), test.ShouldBeNil)
	test.That(t, r.Powers(), test.ShouldResemble, [4]float64{1000, 2000, 1500, 2000})
}

func TestTerminateIsIdempotent(t *testing.T) {
	h, r := newTestHandle(t)
	test.That(t, h.Dispatch(Arm{}), test.ShouldBeNil)
	test.That(t, h.Dispatch(PowerDown{}), test.ShouldBeNil)
	test.That(t, h.Terminate(), test.ShouldBeNil)
	test.That(t, h.Terminated(), test.ShouldBeTrue)
	test.That(t, h.Last(), test.ShouldResemble, PowerDown{})
	test.That(t, r.Commands(), test.ShouldResemble, []Command{Arm{}, PowerDown{}})

	test.That(t, h.Dispatch(Arm{}), test.ShouldEqual, ErrTerminated)
	test.That(t, h.Dispatch(SetPowers{}), test.ShouldEqual, ErrTerminated)
	test.That(t, h.Armed(), test.ShouldBeFalse)
}

func TestTerminateErrorIsRemembered(t *testing.T) {
	d := &failingDriver{Recorder: NewRecorder(1000)}
	h := Acquire(d, config.Default().Motors, zaptest.NewLogger(t))
	err1 := h.Terminate()
	err2 := h.Terminate()
	test.That(t, err1, test.ShouldNotBeNil)
	test.That(t, err2, test.ShouldEqual, err1)
	test.That(t, d.terminations, test.ShouldEqual, 1)
}

func TestReleaseFoldsError(t *testing.T) {
	d := &failingDriver{Recorder: NewRecorder(1000)}
	run := func() (err error) {
		h := Acquire(d, config.Default().Motors, zaptest.NewLogger(t))
		defer h.Release(&err)
		return errors.New("loop failed")
	}
	err := run()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "loop failed")
	test.That(t, err.Error(), test.ShouldContainSubstring, "bus closed")
}

func TestReleaseTerminatesOnPanic(t *testing.T) {
	h, r := newTestHandle(t)
	run := func() (err error) {
		defer h.Release(&err)
		test.That(t, h.Dispatch(Arm{}), test.ShouldBeNil)
		panic("estimator diverged")
	}
	test.That(t, func() { _ = run() }, test.ShouldPanic)
	test.That(t, h.Terminated(), test.ShouldBeTrue)
	test.That(t, r.Last(), test.ShouldResemble, PowerDown{})
}

func TestCommandStrings(t *testing.T) {
	test.That(t, Arm{}.String(), test.ShouldEqual, "Arm")
	test.That(t, SetPowers{Powers: [4]float64{1000, 1100.5, 1200, 1300}}.String(), test.ShouldEqual,
		"SetPowers(1000.0, 1100.5, 1200.0, 1300.0)")
}
