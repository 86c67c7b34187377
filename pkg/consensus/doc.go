/*
Package consensus implements the AP read/write surface (C17, spec §4.8):
Read never fails, Write never blocks on quorum, and a background Reconciler
drains writes that couldn't reach every replica once the partition that
blocked them heals.

This is the explicit CAP choice named in the spec: availability and
partition tolerance, sacrificing linearizability. It sits above
pkg/replication (which still tracks and repairs replica sets) and
pkg/cluster (whose AdaptiveConfig reports whether the node is currently on
the minority side of a partition); it does not replace either.

Read always returns the locally held value, tagged with how much to trust
it (types.Freshness: FRESH when fully replicated and unpartitioned, down to
STALE when the node can't currently confirm quorum). Write always accepts
the value locally first, then either replicates synchronously to the
healthy replica set (SyncCommitted) or enqueues it for the Reconciler
(SyncPending, or SyncWillSyncLater specifically when a partition is the
reason) — it never returns an error.
*/
package consensus
