package httprate

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Decision labels recorded by Metrics.
const (
	DecisionAllowed  = "allowed"
	DecisionRejected = "rejected"
	DecisionBypassed = "bypassed"
)

// Metrics counts middleware decisions per policy. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics creates the decision counter and registers it with reg, if reg
// is not nil. Share one Metrics across every middleware using the same reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slidingrate",
			Name:      "requests_total",
			Help:      "Requests seen by the rate limit middleware, by policy and decision.",
		}, []string{"policy", "decision"}),
	}

	if reg != nil {
		if err := reg.Register(m.requests); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(policy, decision string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(policy, decision).Inc()
}
