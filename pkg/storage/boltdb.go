package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/distrisearch/distrisearch/pkg/types"
)

var (
	bucketNodes       = []byte("nodes")
	bucketPartitions  = []byte("partition_assignments")
	bucketReplicaSets = []byte("replica_sets")
)

// BoltStore implements Store on top of go.etcd.io/bbolt, giving every node
// a durable local copy of the state the raft FSM applies to it.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the node's metadata database
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "distrisearch.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNodes, bucketPartitions, bucketReplicaSets} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) PutNode(node *types.ClusterNode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.ClusterNode, error) {
	var node types.ClusterNode
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("node not found: %s", id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.ClusterNode, error) {
	var nodes []*types.ClusterNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.ClusterNode
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

func (s *BoltStore) PutPartitionAssignment(pa *types.PartitionAssignment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(pa)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPartitions).Put([]byte(pa.LeafID), data)
	})
}

func (s *BoltStore) GetPartitionAssignment(leafID string) (*types.PartitionAssignment, error) {
	var pa types.PartitionAssignment
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPartitions).Get([]byte(leafID))
		if data == nil {
			return fmt.Errorf("partition assignment not found: %s", leafID)
		}
		return json.Unmarshal(data, &pa)
	})
	if err != nil {
		return nil, err
	}
	return &pa, nil
}

func (s *BoltStore) ListPartitionAssignments() ([]*types.PartitionAssignment, error) {
	var assignments []*types.PartitionAssignment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPartitions).ForEach(func(k, v []byte) error {
			var pa types.PartitionAssignment
			if err := json.Unmarshal(v, &pa); err != nil {
				return err
			}
			assignments = append(assignments, &pa)
			return nil
		})
	})
	return assignments, err
}

func (s *BoltStore) DeletePartitionAssignment(leafID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPartitions).Delete([]byte(leafID))
	})
}

func (s *BoltStore) PutReplicaSet(rs *types.ReplicaSet) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rs)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketReplicaSets).Put([]byte(rs.DocumentID), data)
	})
}

func (s *BoltStore) GetReplicaSet(documentID string) (*types.ReplicaSet, error) {
	var rs types.ReplicaSet
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReplicaSets).Get([]byte(documentID))
		if data == nil {
			return fmt.Errorf("replica set not found: %s", documentID)
		}
		return json.Unmarshal(data, &rs)
	})
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

func (s *BoltStore) ListReplicaSets() ([]*types.ReplicaSet, error) {
	var sets []*types.ReplicaSet
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReplicaSets).ForEach(func(k, v []byte) error {
			var rs types.ReplicaSet
			if err := json.Unmarshal(v, &rs); err != nil {
				return err
			}
			sets = append(sets, &rs)
			return nil
		})
	})
	return sets, err
}

func (s *BoltStore) DeleteReplicaSet(documentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReplicaSets).Delete([]byte(documentID))
	})
}
