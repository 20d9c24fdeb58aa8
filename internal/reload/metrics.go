package reload

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the reload collectors. A nil *Metrics records nothing.
type Metrics struct {
	reloads  *prometheus.CounterVec
	duration prometheus.Histogram
	active   prometheus.Gauge
}

// NewMetrics registers the reload collectors on reg. A nil reg disables
// metrics and returns nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rex",
			Subsystem: "reload",
			Name:      "total",
			Help:      "Total rule reloads by result.",
		}, []string{"result"}),

		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rex",
			Subsystem: "reload",
			Name:      "duration_seconds",
			Help:      "Time spent parsing rules and building an engine.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rex",
			Subsystem: "reload",
			Name:      "active_rules",
			Help:      "Number of rules in the active engine.",
		}),
	}

	var err error
	if m.reloads, err = register(reg, m.reloads); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.active, err = register(reg, m.active); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the existing collector when an identical
// one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeSuccess(d time.Duration, rules int) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues("success").Inc()
	m.duration.Observe(d.Seconds())
	m.active.Set(float64(rules))
}

func (m *Metrics) observeFailure(d time.Duration) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues("failure").Inc()
	m.duration.Observe(d.Seconds())
}
