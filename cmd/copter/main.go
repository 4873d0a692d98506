// Command copter runs the flight controller, or evaluates the estimator
// against a simulated flight.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/martindeegan/copter/config"
	"github.com/martindeegan/copter/flight"
	"github.com/martindeegan/copter/sim"
)

const (
	flagConfig      = "config"
	flagDebug       = "debug"
	flagSimulate    = "simulate"
	flagReplay      = "replay"
	flagNoMotors    = "no-motors"
	flagScenario    = "scenario"
	flagGyroNoise   = "gyro-noise"
	flagGyroBias    = "gyro-bias"
	flagAccelNoise  = "accel-noise"
	flagAccelBias   = "accel-bias"
	flagMagNoise    = "mag-noise"
	flagGPSNoise    = "gps-noise"
	flagNoGPS       = "no-gps"
	flagSeed        = "seed"
	flagCSV         = "csv"
	flagCalibration = "out"
	flagMagFrom     = "mag-from"
	flagMagStrength = "mag-strength"
)

// exitEmergencyStop is the exit status after an operator emergency stop.
const exitEmergencyStop = 2

func main() {
	app := &cli.App{
		Name:  "copter",
		Usage: "quadcopter flight controller",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   config.DefaultPath,
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the flight controller",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagSimulate,
						Usage: "read sensors from the simulated `SCENARIO` and record motor commands in memory",
					},
					&cli.StringFlag{
						Name:  flagReplay,
						Usage: "read sensors from a recorded telemetry `FILE` and record motor commands in memory",
					},
					&cli.BoolFlag{
						Name:  flagNoMotors,
						Usage: "arm but never set motor powers",
					},
				},
				Action: runAction,
			},
			{
				Name:  "simulate",
				Usage: "evaluate the estimator against a simulated flight",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagScenario,
						Aliases: []string{"s"},
						Value:   "hover",
						Usage:   fmt.Sprintf("scenario to fly, one of %v", sim.ScenarioNames()),
					},
					&cli.Float64Flag{Name: flagGyroNoise, Usage: "gyro noise, rad/s"},
					&cli.StringFlag{Name: flagGyroBias, Value: "0,0,0", Usage: "gyro bias, \"x,y,z\" rad/s"},
					&cli.Float64Flag{Name: flagAccelNoise, Usage: "accelerometer noise, m/s²"},
					&cli.StringFlag{Name: flagAccelBias, Value: "0,0,0", Usage: "accelerometer bias, \"x,y,z\" m/s²"},
					&cli.Float64Flag{Name: flagMagNoise, Usage: "magnetometer noise, µT"},
					&cli.Float64Flag{Name: flagGPSNoise, Usage: "GPS position noise, m"},
					&cli.BoolFlag{Name: flagNoGPS, Usage: "make the GPS inoperative"},
					&cli.Int64Flag{Name: flagSeed, Value: 1, Usage: "noise seed"},
					&cli.StringFlag{Name: flagCSV, Usage: "write the estimate to `FILE`"},
				},
				Action: simulateAction,
			},
			{
				Name:  "write-calibration",
				Usage: "write a sensor calibration file, optionally fitting the magnetometer from a recording",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagCalibration, Required: true, Usage: "calibration `FILE`"},
					&cli.StringFlag{Name: flagMagFrom, Usage: "fit the magnetometer from the M columns of recording `FILE`"},
					&cli.Float64Flag{Name: flagMagStrength, Value: 50, Usage: "local field strength, µT"},
				},
				Action: writeCalibrationAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStatus(err))
	}
}

func exitStatus(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flight.ErrEmergencyStop):
		return exitEmergencyStop
	}
	return 1
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if c.Bool(flagDebug) {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}
