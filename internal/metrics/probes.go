package metrics

import (
	"errors"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
)

// SetProbesRegistered records how many dependency probes the registry holds.
func (m *ServerMetrics) SetProbesRegistered(n int) {
	m.probesRegistered.Set(float64(n))
}

// ObserveProbe implements health.Observer.
func (m *ServerMetrics) ObserveProbe(key string, out health.Outcome) {
	m.probeDur.WithLabelValues(key).Observe(out.Elapsed.Seconds())
	m.probeHealthy.WithLabelValues(key).Set(boolGauge(out.Healthy()))
	var te *health.TimeoutError
	if errors.As(out.Err, &te) {
		m.probeTimeouts.WithLabelValues(key).Inc()
	}
}

// ObserveRun implements health.Observer.
func (m *ServerMetrics) ObserveRun(rep health.Report) {
	m.runsTotal.WithLabelValues(rep.Status.String()).Inc()
	m.runDur.Observe(rep.TotalDuration.Seconds())
}

var _ health.Observer = (*ServerMetrics)(nil)
