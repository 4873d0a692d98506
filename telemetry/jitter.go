package telemetry

// Jitter accumulates an exponentially weighted mean and variance of an
// observation, such as the period between loop ticks.
type Jitter struct {
	decay   float64
	n, m, v float64
}

// NewJitter returns an accumulator initialized with the observation init and
// decay constant decay in (0, 1).
func NewJitter(init, decay float64) *Jitter {
	return &Jitter{decay: decay, n: 1, m: init}
}

// Observe adds obs and returns the effective number of observations, the
// mean and the variance.
func (j *Jitter) Observe(obs float64) (n, mean, variance float64) {
	d := obs - j.m
	dm := (1 - j.decay) * d

	j.n = 1 + j.decay*j.n
	j.m += dm
	j.v = j.decay * (j.v + dm*d)
	return j.n, j.m, j.v
}
