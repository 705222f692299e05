package reactor

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this
// package.
const MetricsSubsystem = "reactor"

// Metrics contains metrics exposed by the top-level reactor.
type Metrics struct {
	// State is the current reactor state, encoded as the State enum's
	// integer value.
	State metrics.Gauge

	// StallsDetected counts builder resets: each time more than
	// max_attempts consecutive control ticks found the synchronizer idle
	// for longer than idle_tolerance.
	StallsDetected metrics.Counter

	// Transitions counts every state transition taken.
	Transitions metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library. Optionally, labels can be provided along with their values
// ("foo", "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		State: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "state",
			Help:      "Current reactor state, encoded as the State enum's integer value.",
		}, labels).With(labelsAndValues...),
		StallsDetected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "stalls_detected_total",
			Help:      "Number of builder resets after more than max_attempts control ticks found the synchronizer idle past idle_tolerance.",
		}, labels).With(labelsAndValues...),
		Transitions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "transitions_total",
			Help:      "Number of reactor state transitions.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns Metrics that discard everything written to them, for
// tests and for running without Prometheus wired up.
func NopMetrics() *Metrics {
	return &Metrics{
		State:          discard.NewGauge(),
		StallsDetected: discard.NewCounter(),
		Transitions:    discard.NewCounter(),
	}
}
