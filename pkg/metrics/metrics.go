package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "distrisearch_nodes_total",
			Help: "Total number of cluster nodes by health status",
		},
		[]string{"status"},
	)

	DocumentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distrisearch_documents_total",
			Help: "Total number of documents known to the local replication tracker",
		},
	)

	UnderReplicatedDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distrisearch_under_replicated_documents",
			Help: "Number of documents with fewer than their configured replication factor of healthy replicas",
		},
	)

	DegradationLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distrisearch_degradation_level",
			Help: "Current cluster degradation level (0=full, higher=more degraded)",
		},
	)

	// Raft metrics (metadata log)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distrisearch_raft_is_leader",
			Help: "Whether this node is the raft leader for the metadata log (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distrisearch_raft_peers_total",
			Help: "Total number of raft peers in the metadata log",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distrisearch_raft_log_index",
			Help: "Current raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distrisearch_raft_applied_index",
			Help: "Last applied raft log index",
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "distrisearch_raft_commit_duration_seconds",
			Help:    "Time taken to commit a raft metadata log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Partitioning / routing metrics
	RoutingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "distrisearch_routing_duration_seconds",
			Help:    "Time taken to route a document to its owning partition",
			Buckets: prometheus.DefBuckets,
		},
	)

	RebalanceOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distrisearch_rebalance_operations_total",
			Help: "Total number of rebalance transfer batches by outcome",
		},
		[]string{"outcome"},
	)

	RebalanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "distrisearch_rebalance_duration_seconds",
			Help:    "Time taken for one rebalance transfer batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Replication metrics
	ReplicationOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distrisearch_replication_operations_total",
			Help: "Total number of replication attempts by outcome",
		},
		[]string{"outcome"},
	)

	ReplicationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "distrisearch_replication_duration_seconds",
			Help:    "Time taken to replicate a document to a target node",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Failure detection / recovery metrics
	NodeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distrisearch_node_failures_total",
			Help: "Total number of node failures detected",
		},
	)

	NodeRecoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distrisearch_node_recoveries_total",
			Help: "Total number of node recoveries detected",
		},
	)

	ElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distrisearch_elections_total",
			Help: "Total number of bully elections initiated",
		},
	)

	// Peer RPC transport metrics
	PeerRPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distrisearch_peer_rpc_requests_total",
			Help: "Total number of outbound peer RPCs by method and status",
		},
		[]string{"method", "status"},
	)

	PeerRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "distrisearch_peer_rpc_duration_seconds",
			Help:    "Outbound peer RPC duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(DocumentsTotal)
	prometheus.MustRegister(UnderReplicatedDocuments)
	prometheus.MustRegister(DegradationLevel)

	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftCommitDuration)

	prometheus.MustRegister(RoutingDuration)
	prometheus.MustRegister(RebalanceOperationsTotal)
	prometheus.MustRegister(RebalanceDuration)

	prometheus.MustRegister(ReplicationOperationsTotal)
	prometheus.MustRegister(ReplicationDuration)

	prometheus.MustRegister(NodeFailuresTotal)
	prometheus.MustRegister(NodeRecoveriesTotal)
	prometheus.MustRegister(ElectionsTotal)

	prometheus.MustRegister(PeerRPCRequestsTotal)
	prometheus.MustRegister(PeerRPCDuration)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
