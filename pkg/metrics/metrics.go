package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// HistogramBuckets are latency buckets in milliseconds. Gateway and ILS calls run up to the
// configured timeouts, so the tail reaches two minutes.
var HistogramBuckets = []float64{
	25, 50, 75, 100, 150, 200, 300, 400, 500,
	750, 1000, 1250, 1500, 1750, 2000,
	2500, 3000, 4000, 5000, 7500, 10000, 15000,
	20000, 30000, 45000, 60000, 90000, 120000,
}

// Metric defines one vector collector.
type Metric struct {
	Name        string
	Description string
	Type        string
	Args        []string
}

const (
	TypeCounterVec   = "counter_vec"
	TypeHistogramVec = "histogram_vec"
	TypeSummaryVec   = "summary_vec"
)

// NewMetric builds the collector for m under subsystem.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case TypeCounterVec:
		return prometheus.NewCounterVec(prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case TypeHistogramVec:
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets}, m.Args)
	case TypeSummaryVec:
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	}
	panic(fmt.Sprintf("metrics: unsupported type %q for %s", m.Type, m.Name))
}

// register adds the collector for def to reg, returning the existing one if an equal collector
// is already registered.
func register(reg prometheus.Registerer, def *Metric, subsystem string) (prometheus.Collector, error) {
	c := NewMetric(def, subsystem)
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
		return are.ExistingCollector, nil
	}
	return c, nil
}

// MetricsBusinessProcess times gateway and ILS calls; type is the collaborator, subtype the operation.
var MetricsBusinessProcess = &Metric{
	Name:        "bp_dur",
	Description: "process latency in milliseconds",
	Type:        TypeHistogramVec,
	Args:        []string{"type", "subtype", "outcome"},
}

var MetricsPaymentTransition = &Metric{
	Name:        "payment_transition_total",
	Description: "Payment status transitions applied, partitioned by source and target status.",
	Type:        TypeCounterVec,
	Args:        []string{"from", "to"},
}

var MetricsRegistration = &Metric{
	Name:        "payment_registration_total",
	Description: "ILS payment registration attempts, partitioned by outcome.",
	Type:        TypeCounterVec,
	Args:        []string{"outcome"},
}
