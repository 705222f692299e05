package blocksync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this
// package.
const MetricsSubsystem = "blocksync"

// Metrics contains metrics exposed by the block synchronizer and its
// builders.
type Metrics struct {
	// BuildersActive is the number of builders currently running, by
	// direction ("forward" or "historical").
	BuildersActive metrics.Gauge

	// AcquisitionState is the current acquisition tag of each active
	// builder, by direction.
	AcquisitionState metrics.Gauge

	// BuildersCompleted counts builders that reached Complete.
	BuildersCompleted metrics.Counter
	// BuildersFailed counts builders that reached Failed.
	BuildersFailed metrics.Counter

	// TrieNodesFetched counts individual global-state trie nodes
	// fetched by historical builders.
	TrieNodesFetched metrics.Counter

	// PeersBlocklisted counts peers placed on the blocklist by the
	// disconnect-dishonest tick.
	PeersBlocklisted metrics.Counter

	// LatchResets counts latch-reset tick interventions.
	LatchResets metrics.Counter
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
		BuildersActive: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "builders_active",
			Help:      "Number of builders currently running, by direction.",
		}, append(labels, "direction")).With(labelsAndValues...),
		AcquisitionState: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "acquisition_state",
			Help:      "Current acquisition tag of each active builder, by direction.",
		}, append(labels, "direction")).With(labelsAndValues...),
		BuildersCompleted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "builders_completed_total",
			Help:      "Number of builders that reached Complete.",
		}, labels).With(labelsAndValues...),
		BuildersFailed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "builders_failed_total",
			Help:      "Number of builders that reached Failed.",
		}, labels).With(labelsAndValues...),
		TrieNodesFetched: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "trie_nodes_fetched_total",
			Help:      "Number of global-state trie nodes fetched by historical builders.",
		}, labels).With(labelsAndValues...),
		PeersBlocklisted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers_blocklisted_total",
			Help:      "Number of peers placed on the blocklist by the disconnect-dishonest tick.",
		}, labels).With(labelsAndValues...),
		LatchResets: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "latch_resets_total",
			Help:      "Number of latch-reset tick interventions.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns Metrics that discard everything written to them, for
// tests and for running without Prometheus wired up.
func NopMetrics() *Metrics {
	return &Metrics{
		BuildersActive:    discard.NewGauge(),
		AcquisitionState:  discard.NewGauge(),
		BuildersCompleted: discard.NewCounter(),
		BuildersFailed:    discard.NewCounter(),
		TrieNodesFetched:  discard.NewCounter(),
		PeersBlocklisted:  discard.NewCounter(),
		LatchResets:       discard.NewCounter(),
	}
}
