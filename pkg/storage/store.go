package storage

import (
	"github.com/distrisearch/distrisearch/pkg/types"
)

// Store is the durable, raft-replicated view of cluster metadata: node
// membership, VP-Tree partition assignments, and replica-set state. It is
// applied to by the raft FSM (pkg/manager) on every node and read directly
// by local query paths that don't need linearizability.
type Store interface {
	PutNode(node *types.ClusterNode) error
	GetNode(id string) (*types.ClusterNode, error)
	ListNodes() ([]*types.ClusterNode, error)
	DeleteNode(id string) error

	PutPartitionAssignment(pa *types.PartitionAssignment) error
	GetPartitionAssignment(leafID string) (*types.PartitionAssignment, error)
	ListPartitionAssignments() ([]*types.PartitionAssignment, error)
	DeletePartitionAssignment(leafID string) error

	PutReplicaSet(rs *types.ReplicaSet) error
	GetReplicaSet(documentID string) (*types.ReplicaSet, error)
	ListReplicaSets() ([]*types.ReplicaSet, error)
	DeleteReplicaSet(documentID string) error

	Close() error
}
