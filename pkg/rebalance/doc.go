// Package rebalance implements load-based cluster rebalancing (C8-C10): a
// load calculator that scores each node on documents, storage, CPU, and
// memory and decides when the cluster is imbalanced; a migration handler
// that moves documents between nodes in rate-limited batches; and a
// rebalancer that ticks on an interval, respects a post-rebalance cooldown,
// and orchestrates the two.
package rebalance
