package coordinator

import (
	"sort"
	"sync"

	"github.com/distrisearch/distrisearch/pkg/types"
)

// Registry is the in-memory record of every node this node currently
// believes is part of the cluster, keyed by node ID. It is the single
// source of truth Node hands to partition.Manager (for leaf assignment),
// replication.Manager (for replica placement), and rpc.Client (for
// dialing), so all three always agree on cluster membership and addresses.
//
// A durable, raft-replicated version of this table belongs in pkg/manager;
// Registry is the in-memory projection every component actually reads from
// during normal operation.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*types.ClusterNode
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*types.ClusterNode)}
}

// Put inserts or replaces a node record.
func (r *Registry) Put(node *types.ClusterNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[node.ID] = node
}

// Remove deletes a node record.
func (r *Registry) Remove(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, nodeID)
}

// Get returns the node record for nodeID, if known.
func (r *Registry) Get(nodeID string) (*types.ClusterNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	return n, ok
}

// Address returns nodeID's last-known address, if known.
func (r *Registry) Address(nodeID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return "", false
	}
	return n.Address, true
}

// SetStatus updates nodeID's observed health status, if known.
func (r *Registry) SetStatus(nodeID string, status types.NodeStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[nodeID]; ok {
		n.Status = status
	}
}

// All returns every known node, sorted by ID.
func (r *Registry) All() []*types.ClusterNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.ClusterNode, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HealthyNodes implements replication.NodeLister.
func (r *Registry) HealthyNodes() []*types.ClusterNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.ClusterNode, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.IsHealthy() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the total number of known nodes, healthy or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
