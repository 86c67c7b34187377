/*
Package vptree implements a Vantage-Point Tree metric-space index over
documents (C2), plus the leaf-to-cluster-node assignment strategies (C3)
that turn tree leaves into partitions a cluster can own.

The tree is built once and is immutable thereafter: reads (KNN, Range,
FindPartition) are lock-free; a rebuild produces a new *Tree and callers
swap the pointer atomically. Every node carries a unique ID and is also
reachable through a flat id->node map, so leaf lookups by ID (used by
partition assignment) do not require a tree walk.

The composite distance used to build and search the tree (pkg/distance) is
not a strict metric, so k-NN search here is approximate: pruning decisions
follow the reference formulas in spec §4.2 and accept the resulting minor
recall loss rather than widening the search radius defensively.
*/
package vptree
