package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/distrisearch/distrisearch/pkg/storage"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// FSM implements the raft Finite State Machine that replicates cluster
// metadata -- node membership, VP-Tree partition assignments, and replica
// sets -- across every node's local storage.Store.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates an FSM backed by the given store.
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Command represents one state-change operation in the raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opPutNode                = "put_node"
	opDeleteNode             = "delete_node"
	opPutPartitionAssignment = "put_partition_assignment"
	opDeletePartition        = "delete_partition_assignment"
	opPutReplicaSet          = "put_replica_set"
	opDeleteReplicaSet       = "delete_replica_set"
)

// Apply applies one committed raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opPutNode:
		var node types.ClusterNode
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return err
		}
		return f.store.PutNode(&node)

	case opDeleteNode:
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return err
		}
		return f.store.DeleteNode(nodeID)

	case opPutPartitionAssignment:
		var pa types.PartitionAssignment
		if err := json.Unmarshal(cmd.Data, &pa); err != nil {
			return err
		}
		return f.store.PutPartitionAssignment(&pa)

	case opDeletePartition:
		var leafID string
		if err := json.Unmarshal(cmd.Data, &leafID); err != nil {
			return err
		}
		return f.store.DeletePartitionAssignment(leafID)

	case opPutReplicaSet:
		var rs types.ReplicaSet
		if err := json.Unmarshal(cmd.Data, &rs); err != nil {
			return err
		}
		return f.store.PutReplicaSet(&rs)

	case opDeleteReplicaSet:
		var documentID string
		if err := json.Unmarshal(cmd.Data, &documentID); err != nil {
			return err
		}
		return f.store.DeleteReplicaSet(documentID)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures the FSM's entire state for raft log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	partitions, err := f.store.ListPartitionAssignments()
	if err != nil {
		return nil, fmt.Errorf("list partition assignments: %w", err)
	}
	replicaSets, err := f.store.ListReplicaSets()
	if err != nil {
		return nil, fmt.Errorf("list replica sets: %w", err)
	}

	return &Snapshot{
		Nodes:       nodes,
		Partitions:  partitions,
		ReplicaSets: replicaSets,
	}, nil
}

// Restore replaces the FSM's state with a previously captured snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, node := range snap.Nodes {
		if err := f.store.PutNode(node); err != nil {
			return fmt.Errorf("restore node: %w", err)
		}
	}
	for _, pa := range snap.Partitions {
		if err := f.store.PutPartitionAssignment(pa); err != nil {
			return fmt.Errorf("restore partition assignment: %w", err)
		}
	}
	for _, rs := range snap.ReplicaSets {
		if err := f.store.PutReplicaSet(rs); err != nil {
			return fmt.Errorf("restore replica set: %w", err)
		}
	}

	return nil
}

// Snapshot is a point-in-time capture of every replicated table.
type Snapshot struct {
	Nodes       []*types.ClusterNode
	Partitions  []*types.PartitionAssignment
	ReplicaSets []*types.ReplicaSet
}

// Persist writes the snapshot to raft's SnapshotSink as JSON.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op; the snapshot holds no external resources.
func (s *Snapshot) Release() {}
