package telemetry

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "copter"

// Metrics are the control loop's Prometheus collectors. A nil *Metrics
// discards everything.
type Metrics struct {
	tick       prometheus.Histogram
	overruns   prometheus.Counter
	stale      prometheus.Counter
	skipped    prometheus.Gauge
	periodMean prometheus.Gauge
	periodStd  prometheus.Gauge
	mode       *prometheus.GaugeVec
	volts      prometheus.Gauge
	battery    prometheus.Gauge

	jitter   *Jitter
	lastMode string
}

// NewMetrics registers the loop metrics with reg.
func NewMetrics(reg prometheus.Registerer, period time.Duration) *Metrics {
	m := &Metrics{
		tick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one control loop tick.",
			Buckets:   prometheus.ExponentialBuckets(50e-6, 2, 10),
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_overruns_total",
			Help:      "Ticks that ran past their period.",
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_ticks_total",
			Help:      "Ticks without a fresh inertial reading.",
		}),
		skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skipped_corrections",
			Help:      "Estimator corrections skipped for a singular innovation covariance.",
		}),
		periodMean: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick_period_mean_seconds",
			Help:      "Exponentially weighted mean time between tick starts.",
		}),
		periodStd: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick_period_stddev_seconds",
			Help:      "Exponentially weighted standard deviation of the time between tick starts.",
		}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flight_mode",
			Help:      "1 for the current flight mode.",
		}, []string{"mode"}),
		volts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "battery_volts",
			Help:      "Last flight pack voltage.",
		}),
		battery: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "battery_status",
			Help:      "Flight pack status: 0 full, 1 low, 2 critical.",
		}),
		jitter: NewJitter(period.Seconds(), 0.99),
	}
	reg.MustRegister(m.tick, m.overruns, m.stale, m.skipped, m.periodMean, m.periodStd, m.mode, m.volts, m.battery)
	return m
}

// ObserveTick records the work time of one tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tick.Observe(d.Seconds())
}

// ObservePeriod records the time between two tick starts.
func (m *Metrics) ObservePeriod(d time.Duration) {
	if m == nil {
		return
	}
	_, mean, v := m.jitter.Observe(d.Seconds())
	m.periodMean.Set(mean)
	m.periodStd.Set(math.Sqrt(v))
}

// Overrun counts a tick that missed its deadline.
func (m *Metrics) Overrun() {
	if m == nil {
		return
	}
	m.overruns.Inc()
}

// StaleTick counts a tick without a fresh inertial reading.
func (m *Metrics) StaleTick() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

// SetSkippedCorrections publishes the estimator's skipped correction count.
func (m *Metrics) SetSkippedCorrections(n int) {
	if m == nil {
		return
	}
	m.skipped.Set(float64(n))
}

// SetMode marks mode as current.
func (m *Metrics) SetMode(mode string) {
	if m == nil || mode == m.lastMode {
		return
	}
	if m.lastMode != "" {
		m.mode.WithLabelValues(m.lastMode).Set(0)
	}
	m.mode.WithLabelValues(mode).Set(1)
	m.lastMode = mode
}

// SetBattery publishes the pack voltage and its status level.
func (m *Metrics) SetBattery(volts float64, status int) {
	if m == nil {
		return
	}
	m.volts.Set(volts)
	m.battery.Set(float64(status))
}
