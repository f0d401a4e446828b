package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

const businessSubsystem = "finepay"

// Business records payment domain metrics. A nil *Business is a no-op so services can run
// without a registry in tests.
type Business struct {
	bpDur         *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	registrations *prometheus.CounterVec
}

// NewBusiness registers the domain metrics on reg. Already registered collectors are reused.
func NewBusiness(reg prometheus.Registerer) (*Business, error) {
	b := &Business{}
	for _, def := range []*Metric{MetricsBusinessProcess, MetricsPaymentTransition, MetricsRegistration} {
		collector, err := register(reg, def, businessSubsystem)
		if err != nil {
			return nil, err
		}
		switch def {
		case MetricsBusinessProcess:
			b.bpDur = collector.(*prometheus.HistogramVec)
		case MetricsPaymentTransition:
			b.transitions = collector.(*prometheus.CounterVec)
		case MetricsRegistration:
			b.registrations = collector.(*prometheus.CounterVec)
		}
	}
	return b, nil
}

// ObserveProcess records the latency of a collaborator call started at start.
func (b *Business) ObserveProcess(typ, subtype string, start time.Time, err error) {
	if b == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	b.bpDur.WithLabelValues(typ, subtype, outcome).Observe(MillisecondsSince(start))
}

func (b *Business) IncTransition(from, to string) {
	if b == nil {
		return
	}
	b.transitions.WithLabelValues(from, to).Inc()
}

func (b *Business) IncRegistration(outcome string) {
	if b == nil {
		return
	}
	b.registrations.WithLabelValues(outcome).Inc()
}

func newDefaultBusiness() (*Business, error) {
	return NewBusiness(prometheus.DefaultRegisterer)
}

func newDefaultHTTP() (*HTTP, error) {
	return NewHTTP(HTTPOptions{})
}

var Module = fx.Options(
	fx.Provide(newDefaultBusiness, newDefaultHTTP),
)
