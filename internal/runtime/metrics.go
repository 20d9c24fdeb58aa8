package runtime

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing, so
// engines built without metrics pay only a nil check.
type Metrics struct {
	executions  *prometheus.CounterVec
	firings     *prometheus.CounterVec
	duration    prometheus.Histogram
	rulesLoaded prometheus.Gauge
}

// NewMetrics registers the engine collectors on reg. A nil reg disables
// metrics and returns nil. Collectors already registered by an earlier call
// are reused, so every engine built from one registry shares the same series.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rex",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Total rule engine executions by result.",
		}, []string{"result"}),

		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rex",
			Subsystem: "engine",
			Name:      "rule_firings_total",
			Help:      "Total rule firings by rule name.",
		}, []string{"rule"}),

		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rex",
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "Time spent executing one pass over the rule set.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		rulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rex",
			Subsystem: "engine",
			Name:      "rules",
			Help:      "Number of rules in the most recently modified engine.",
		}),
	}

	var err error
	if m.executions, err = register(reg, m.executions); err != nil {
		return nil, err
	}
	if m.firings, err = register(reg, m.firings); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.rulesLoaded, err = register(reg, m.rulesLoaded); err != nil {
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

func (m *Metrics) observeExecution(start time.Time, fired []string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.executions.WithLabelValues(result).Inc()
	m.duration.Observe(time.Since(start).Seconds())
	for _, name := range fired {
		m.firings.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) setRules(n int) {
	if m == nil {
		return
	}
	m.rulesLoaded.Set(float64(n))
}
