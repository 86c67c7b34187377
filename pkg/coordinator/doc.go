// Package coordinator wires every distrisearch component into one running
// cluster node: VP-Tree partitioning (pkg/partition), semantic-affinity
// replication (pkg/replication), failure detection and recovery
// (pkg/recovery), load-based rebalancing (pkg/rebalance), adaptive cluster
// coordination with Bully election (pkg/cluster), the AP read/write
// surface (pkg/consensus), and the peer RPC transport (pkg/rpc).
//
// Node plays the role cuemby-warren/pkg/manager.Manager plays for Warren:
// the single top-level object cmd/distrisearchd constructs, starts, and
// stops. Node's cluster membership table (Registry) is an in-memory runtime
// view rather than a raft-replicated log; Node also owns a pkg/manager
// Manager and writes membership changes through its raft log on a
// best-effort basis (Join/Leave), so durable, cluster-wide agreement lives
// there while Registry serves every read.
package coordinator
