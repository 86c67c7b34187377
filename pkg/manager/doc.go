/*
Package manager replicates cluster metadata -- node membership, VP-Tree
partition assignments, and replica-set state -- across every node using
hashicorp/raft, giving the cluster a durable, strongly-consistent record of
"who owns what" that survives restarts and rejoins.

This is deliberately a separate consistency tier from pkg/consensus: raft
here replicates *placement metadata*, not document bodies. Document reads
and writes stay AP and never wait on a raft quorum; only changes to the
partition table or replica-set bookkeeping go through Manager.Apply, and
only when a majority of nodes are reachable. A partitioned minority keeps
serving documents from its last-known assignment but cannot commit new
placement decisions until it reconnects.

# Architecture

	┌─────────────────────── raft metadata log ───────────────────────┐
	│                                                                    │
	│  Manager.Apply(cmd) -> raft.Raft.Apply -> FSM.Apply -> storage.Store │
	│                                                                    │
	│  FSM.Snapshot / FSM.Restore use raft-boltdb log/stable stores and  │
	│  raft's file snapshot store for compaction and fast node rejoin.   │
	└────────────────────────────────────────────────────────────────────┘

# Usage

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "node-1",
		BindAddr: "127.0.0.1:7980",
		DataDir:  "/var/lib/distrisearch/node-1",
	})
	if err != nil {
		return err
	}
	if err := mgr.Bootstrap(); err != nil { // first node only
		return err
	}

	err = mgr.PutNode(&types.ClusterNode{ID: "node-2", Address: "127.0.0.1:7970"})
	nodes, err := mgr.ListNodes()

# See also

  - pkg/storage for the per-node durable store the FSM writes through
  - pkg/consensus for the separate AP document-placement surface
  - pkg/coordinator, which wires Manager alongside the AP cluster layer
*/
package manager
