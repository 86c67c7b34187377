/*
Package storage provides BoltDB-backed durable persistence for the cluster
metadata that the raft FSM (pkg/manager) replicates: node registrations,
VP-Tree partition assignments, and replica-set state.

# Architecture

BoltStore keeps three buckets in a single bbolt file per node:

	nodes                  node ID   -> types.ClusterNode
	partition_assignments  leaf ID   -> types.PartitionAssignment
	replica_sets           doc ID    -> types.ReplicaSet

Every node in the cluster runs its own BoltStore; the raft log (pkg/manager)
is what keeps them identical. A node's BoltStore is a local, read-optimized
materialization of the replicated log, not itself the system of record.

# Transaction model

Reads use db.View for consistent, concurrent snapshots. Writes use
db.Update, which BoltDB serializes and fsyncs on commit. Create and Update
share one Put-based upsert path; Delete is idempotent.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.PutNode(&types.ClusterNode{ID: "node-1", Address: "10.0.0.1:7970"}); err != nil {
		return err
	}
	nodes, err := store.ListNodes()

# See also

  - pkg/manager for the raft FSM that drives writes to this store
  - pkg/types for the persisted entity definitions
*/
package storage
