package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
	OutcomeRejected = "rejected"
)

// Metrics tracks coordinator and storage node activity
type Metrics struct {
	// Coordinator
	ClientRequests      *prometheus.CounterVec
	ActiveConnections   prometheus.Gauge
	RejectedConnections prometheus.Counter
	BytesStored         prometheus.Counter
	BytesRetrieved      prometheus.Counter
	RequestDuration     *prometheus.HistogramVec
	FragmentTransfers   *prometheus.CounterVec

	// Storage nodes
	NodeRequests  *prometheus.CounterVec
	NodeBytes     *prometheus.CounterVec
	NodeFragments *prometheus.GaugeVec

	// Probing
	NodeUp        *prometheus.GaugeVec
	LastNodeProbe prometheus.Gauge
}

// New creates and registers the collectors. A nil registry uses a fresh
// private one so that several instances can coexist in one process.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		ClientRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fragstore_coordinator_requests_total",
			Help: "Client requests handled by the coordinator",
		}, []string{"command", "outcome"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fragstore_coordinator_active_connections",
			Help: "Client connections currently being served",
		}),
		RejectedConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "fragstore_coordinator_rejected_connections_total",
			Help: "Client connections refused by the admission limit",
		}),
		BytesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "fragstore_coordinator_bytes_stored_total",
			Help: "Payload bytes distributed to storage nodes",
		}),
		BytesRetrieved: factory.NewCounter(prometheus.CounterOpts{
			Name: "fragstore_coordinator_bytes_retrieved_total",
			Help: "Payload bytes reassembled and returned to clients",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fragstore_coordinator_request_duration_seconds",
			Help:    "Client request latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"command"}),
		FragmentTransfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fragstore_coordinator_fragment_transfers_total",
			Help: "Fragment round trips between the coordinator and storage nodes",
		}, []string{"node", "command", "outcome"}),

		NodeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fragstore_node_requests_total",
			Help: "Requests handled by storage nodes",
		}, []string{"node", "command", "outcome"}),
		NodeBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fragstore_node_bytes_total",
			Help: "Fragment bytes written or read by storage nodes",
		}, []string{"node", "direction"}),
		NodeFragments: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fragstore_node_fragments",
			Help: "Fragments currently held by each storage node",
		}, []string{"node"}),

		NodeUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fragstore_node_up",
			Help: "1 if the last probe reached the storage node",
		}, []string{"node"}),
		LastNodeProbe: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fragstore_last_node_probe_timestamp",
			Help: "Timestamp of the last node probe round",
		}),
	}
}
