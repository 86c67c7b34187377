/*
Package log provides structured logging for distrisearch via zerolog: a
global logger configured once with Init, and component-scoped child
loggers (WithComponent, WithNodeID, WithDocumentID, WithPartitionID) that
attach context fields to every subsequent log line.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	partitionLog := log.WithComponent("partition")
	partitionLog.Info().Str("leaf_id", leafID).Msg("partition rebuilt")

	nodeLog := log.WithNodeID(nodeID)
	nodeLog.Error().Err(err).Msg("raft metadata log failed to start")

# Integration points

  - pkg/manager: raft metadata-log lifecycle and leadership changes
  - pkg/coordinator: node join/leave, routing, rebalance, and failure events
  - pkg/replication, pkg/rebalance, pkg/recovery, pkg/cluster: component-scoped loggers via WithComponent
*/
package log
