package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/test"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.Loop.Period(), test.ShouldEqual, 2500*time.Microsecond)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg, test.ShouldResemble, Default())
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[Loop]
SampleRateHz = 200
MotorsOn = false

[Attitude]
Kp = [1.0, 2.0, 3.0]
IntegralLimit = 0.5

[Flight]
CommandTimeout = "750ms"
`
	test.That(t, os.WriteFile(path, []byte(data), 0o644), test.ShouldBeNil)

	cfg, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Loop.SampleRateHz, test.ShouldEqual, 200.0)
	test.That(t, cfg.Loop.MotorsOn, test.ShouldBeFalse)
	test.That(t, cfg.Attitude.Kp, test.ShouldResemble, [3]float64{1, 2, 3})
	test.That(t, cfg.Attitude.IntegralLimit, test.ShouldEqual, 0.5)
	test.That(t, cfg.Flight.CommandTimeout.Duration, test.ShouldEqual, 750*time.Millisecond)
	// untouched sections keep their defaults
	test.That(t, cfg.Motors, test.ShouldResemble, Default().Motors)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	test.That(t, os.WriteFile(path, []byte("[Loop]\nSampleRate = 10\n"), 0o644), test.ShouldBeNil)
	_, err := Load(path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Loop.SampleRate")
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	test.That(t, os.WriteFile(path, []byte("[Flight]\nCommandTimeout = \"soon\"\n"), 0o644), test.ShouldBeNil)
	_, err := Load(path)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Loop.SampleRateHz = 0
	cfg.Motors.Min = 2100
	cfg.Flight.TiltCutoff = 2
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, len(multierr.Errors(err)), test.ShouldBeGreaterThanOrEqualTo, 3)
}

func TestBatteryThresholds(t *testing.T) {
	b := Default().Battery
	test.That(t, b.Warning(), test.ShouldAlmostEqual, 10.8, 1e-9)
	test.That(t, b.Critical(), test.ShouldAlmostEqual, 10.2, 1e-9)

	cfg := Default()
	cfg.Battery.CriticalVoltage = 3.8
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}
