/*
Package metrics defines and registers every prometheus gauge, counter, and
histogram this module exposes: cluster membership health, raft metadata-log
state, routing/rebalance/replication latency, and failure-detector counts.
Metrics are exposed over HTTP for scraping via Handler().

# Architecture

All metrics are package-level prometheus collectors registered in init().
Collector (collector.go) samples Manager and replication.Tracker state on
a 15s ticker and writes it into the gauges; counters and histograms are
updated directly at the call site (pkg/coordinator, pkg/manager) as events
happen. The PeerRPC* metrics are registered, but pkg/rpc does not update
them.

# Usage

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RoutingDuration)

	collector := metrics.NewCollector(mgr, tracker)
	collector.Start()
	defer collector.Stop()

# See also

  - pkg/manager for the raft metadata log this package's Raft* gauges describe
  - pkg/replication for the tracker statistics behind DocumentsTotal/UnderReplicatedDocuments
  - pkg/rpc for the peer transport this package's PeerRPC* metrics are named after
*/
package metrics
