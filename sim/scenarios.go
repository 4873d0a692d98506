package sim

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/martindeegan/copter/ahrs"
)

// Hover stays over the origin at 2 m, rocks in roll and pitch, then turns
// through a full circle of yaw.
func Hover() []Knot {
	const h = 2
	at := r3.Vec{Z: h}
	return []Knot{
		{T: 0, Position: at},
		{T: 5, Position: at},
		{T: 7, Position: at, Roll: 10 * ahrs.Deg},
		{T: 9, Position: at, Roll: -10 * ahrs.Deg},
		{T: 11, Position: at},
		{T: 13, Position: at, Pitch: 10 * ahrs.Deg},
		{T: 15, Position: at, Pitch: -10 * ahrs.Deg},
		{T: 17, Position: at},
		{T: 37, Position: at, Yaw: 2 * ahrs.Pi},
		{T: 40, Position: at, Yaw: 2 * ahrs.Pi},
	}
}

// Square climbs to alt, flies a square of the given side facing along each
// leg, and comes back down.
func Square(side, alt float64) []Knot {
	const leg = 10
	corners := []r3.Vec{{Z: alt}, {X: side, Z: alt}, {X: side, Y: side, Z: alt}, {Y: side, Z: alt}, {Z: alt}}
	knots := []Knot{{T: 0}, {T: 5, Position: corners[0]}}
	yaw := 0.0
	t := 5.0
	for i := 1; i < len(corners); i++ {
		t += leg
		knots = append(knots, Knot{T: t, Position: corners[i], Yaw: yaw})
		yaw += ahrs.Pi / 2
		t += 2
		knots = append(knots, Knot{T: t, Position: corners[i], Yaw: yaw})
	}
	return append(knots, Knot{T: t + 5, Yaw: yaw})
}

var scenarios = map[string]func() []Knot{
	"hover":  Hover,
	"square": func() []Knot { return Square(10, 3) },
}

// Scenario looks up a built-in scenario by name.
func Scenario(name string) ([]Knot, error) {
	f, ok := scenarios[name]
	if !ok {
		return nil, errors.Errorf("no scenario named %q, have %v", name, ScenarioNames())
	}
	return f(), nil
}

// ScenarioNames lists the built-in scenarios.
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for k := range scenarios {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
