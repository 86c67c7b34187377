package vptree

import (
	"sort"

	"github.com/distrisearch/distrisearch/pkg/types"
)

// AssignmentStrategy selects how tree leaves are mapped onto cluster nodes.
type AssignmentStrategy string

const (
	// AssignRoundRobin cycles leaves across nodes in leaf order.
	AssignRoundRobin AssignmentStrategy = "round_robin"
	// AssignBalanced assigns the largest leaves first, each to whichever
	// node currently holds the fewest documents.
	AssignBalanced AssignmentStrategy = "balanced"
)

// Assign maps every leaf in the tree onto one of nodes using strategy, and
// sets each leaf's AssignedNode in place. nodes must be non-empty and is
// read in the order given for round-robin; for balanced assignment nodes
// are only consulted for their starting DocumentCount and ID.
func (t *Tree) Assign(nodes []*types.ClusterNode, strategy AssignmentStrategy) map[string]string {
	assignment := make(map[string]string)
	if len(nodes) == 0 {
		return assignment
	}

	leaves := t.Leaves()

	switch strategy {
	case AssignRoundRobin:
		for i, leaf := range leaves {
			nodeID := nodes[i%len(nodes)].ID
			leaf.AssignedNode = nodeID
			assignment[leaf.NodeID] = nodeID
		}
	default: // AssignBalanced
		sorted := append([]*Node(nil), leaves...)
		sort.Slice(sorted, func(i, j int) bool {
			si, sj := sorted[i].Size(), sorted[j].Size()
			if si != sj {
				return si > sj
			}
			return sorted[i].NodeID < sorted[j].NodeID
		})

		totals := make(map[string]int64, len(nodes))
		order := make([]string, len(nodes))
		for i, n := range nodes {
			totals[n.ID] = n.DocumentCount
			order[i] = n.ID
		}

		for _, leaf := range sorted {
			best := order[0]
			for _, id := range order[1:] {
				if totals[id] < totals[best] || (totals[id] == totals[best] && id < best) {
					best = id
				}
			}
			leaf.AssignedNode = best
			assignment[leaf.NodeID] = best
			totals[best] += int64(leaf.Size())
		}
	}

	return assignment
}

// Statistics summarizes the tree's shape, used for diagnostics and
// rebalance decisions.
type Statistics struct {
	TotalDocuments int
	LeafCount      int
	NodeCount      int
	MaxDepth       int
	MinLeafSize    int
	MaxLeafSize    int
}

// Stats computes aggregate statistics over the built tree.
func (t *Tree) Stats() Statistics {
	leaves := t.Leaves()
	stats := Statistics{
		TotalDocuments: t.root.Size(),
		LeafCount:      len(leaves),
		NodeCount:      t.NodeCount(),
	}
	if len(leaves) == 0 {
		return stats
	}

	stats.MinLeafSize = leaves[0].Size()
	for _, leaf := range leaves {
		size := leaf.Size()
		if size < stats.MinLeafSize {
			stats.MinLeafSize = size
		}
		if size > stats.MaxLeafSize {
			stats.MaxLeafSize = size
		}
		if leaf.Depth > stats.MaxDepth {
			stats.MaxDepth = leaf.Depth
		}
	}
	return stats
}
