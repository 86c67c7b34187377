package replication

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/distrisearch/distrisearch/pkg/types"
)

var (
	// ErrDocumentNotFound is returned when an operation targets an
	// unregistered document.
	ErrDocumentNotFound = errors.New("replication: document not found")
	// ErrReplicaExists is returned by AddReplica when the node already
	// holds a copy of the document.
	ErrReplicaExists = errors.New("replication: replica already exists on node")
	// ErrCannotRemovePrimary is returned by RemoveReplica for the primary.
	ErrCannotRemovePrimary = errors.New("replication: cannot remove primary replica directly")
	// ErrNoReplicaOnNode is returned when promoting a node with no replica.
	ErrNoReplicaOnNode = errors.New("replication: no replica on node to promote")
)

const lockStripes = 256

// Tracker is the authoritative document -> replica-set map (C6). Writes to
// a single document are serialized by a striped per-document lock so that
// concurrent updates to different documents never contend, while updates
// to the same document are strictly ordered per spec §5.
type Tracker struct {
	stripes [lockStripes]sync.Mutex

	mu              sync.RWMutex
	documents       map[string]*types.ReplicaSet
	nodeDocs        map[string]map[string]bool // node_id -> doc_ids
	underReplicated map[string]bool

	defaultRF int
}

// NewTracker constructs an empty Tracker with the given default
// replication factor (used when RegisterDocument doesn't specify one).
func NewTracker(defaultReplicationFactor int) *Tracker {
	return &Tracker{
		documents:       make(map[string]*types.ReplicaSet),
		nodeDocs:        make(map[string]map[string]bool),
		underReplicated: make(map[string]bool),
		defaultRF:        defaultReplicationFactor,
	}
}

func (t *Tracker) stripe(documentID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(documentID))
	return &t.stripes[h.Sum32()%lockStripes]
}

// RegisterDocument creates a replica set for a new document: the primary
// is ACTIVE immediately, replicas start SYNCING.
func (t *Tracker) RegisterDocument(documentID, primaryNode string, replicaNodes []string, replicationFactor int, size int64, checksum string) *types.ReplicaSet {
	lock := t.stripe(documentID)
	lock.Lock()
	defer lock.Unlock()

	if replicationFactor <= 0 {
		replicationFactor = t.defaultRF
	}

	now := time.Now()
	replicas := make([]types.ReplicaInfo, 0, len(replicaNodes)+1)
	replicas = append(replicas, types.ReplicaInfo{
		NodeID:    primaryNode,
		IsPrimary: true,
		Status:    types.ReplicaStatusActive,
		Version:   1,
		LastSync:  now,
		Size:      size,
		Checksum:  checksum,
	})
	for _, nodeID := range replicaNodes {
		replicas = append(replicas, types.ReplicaInfo{
			NodeID:   nodeID,
			Status:   types.ReplicaStatusSyncing,
			Version:  1,
			LastSync: now,
			Size:     size,
			Checksum: checksum,
		})
	}

	rs := &types.ReplicaSet{
		DocumentID:        documentID,
		Replicas:          replicas,
		ReplicationFactor: replicationFactor,
		Version:           1,
		UpdatedAt:         now,
	}

	t.mu.Lock()
	t.documents[documentID] = rs
	for _, nodeID := range rs.NodeIDs() {
		t.indexNode(nodeID, documentID)
	}
	t.refreshUnderReplicated(documentID, rs)
	t.mu.Unlock()

	return rs
}

func (t *Tracker) indexNode(nodeID, documentID string) {
	if t.nodeDocs[nodeID] == nil {
		t.nodeDocs[nodeID] = make(map[string]bool)
	}
	t.nodeDocs[nodeID][documentID] = true
}

func (t *Tracker) refreshUnderReplicated(documentID string, rs *types.ReplicaSet) {
	if rs.IsUnderReplicated() {
		t.underReplicated[documentID] = true
	} else {
		delete(t.underReplicated, documentID)
	}
}

// AddReplica adds a new PENDING replica for an existing document.
func (t *Tracker) AddReplica(documentID, nodeID string, size int64, checksum string) (*types.ReplicaInfo, error) {
	lock := t.stripe(documentID)
	lock.Lock()
	defer lock.Unlock()

	t.mu.RLock()
	rs, ok := t.documents[documentID]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrDocumentNotFound
	}
	if rs.Holds(nodeID) {
		return nil, ErrReplicaExists
	}

	if size == 0 || checksum == "" {
		if p := rs.Primary(); p != nil {
			if size == 0 {
				size = p.Size
			}
			if checksum == "" {
				checksum = p.Checksum
			}
		}
	}

	replica := types.ReplicaInfo{
		NodeID:   nodeID,
		Status:   types.ReplicaStatusPending,
		Version:  1,
		LastSync: time.Now(),
		Size:     size,
		Checksum: checksum,
	}

	t.mu.Lock()
	rs.Replicas = append(rs.Replicas, replica)
	rs.UpdatedAt = time.Now()
	t.indexNode(nodeID, documentID)
	t.refreshUnderReplicated(documentID, rs)
	t.mu.Unlock()

	return &replica, nil
}

// RemoveReplica removes a non-primary replica from a node.
func (t *Tracker) RemoveReplica(documentID, nodeID string) error {
	lock := t.stripe(documentID)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.documents[documentID]
	if !ok {
		return ErrDocumentNotFound
	}

	for i, r := range rs.Replicas {
		if r.NodeID != nodeID {
			continue
		}
		if r.IsPrimary {
			return ErrCannotRemovePrimary
		}
		rs.Replicas = append(rs.Replicas[:i], rs.Replicas[i+1:]...)
		rs.UpdatedAt = time.Now()
		delete(t.nodeDocs[nodeID], documentID)
		t.refreshUnderReplicated(documentID, rs)
		return nil
	}
	return nil
}

// UpdateReplicaStatus transitions one replica's status and optionally its
// version.
func (t *Tracker) UpdateReplicaStatus(documentID, nodeID string, status types.ReplicaStatus, version int64) error {
	lock := t.stripe(documentID)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.documents[documentID]
	if !ok {
		return ErrDocumentNotFound
	}

	for i := range rs.Replicas {
		if rs.Replicas[i].NodeID != nodeID {
			continue
		}
		rs.Replicas[i].Status = status
		rs.Replicas[i].LastSync = time.Now()
		if version > 0 {
			rs.Replicas[i].Version = version
		}
		rs.UpdatedAt = time.Now()
		t.refreshUnderReplicated(documentID, rs)
		return nil
	}
	return ErrNoReplicaOnNode
}

// PromoteReplica promotes the replica on newPrimaryNode to primary,
// demoting the current primary (if any) to an ordinary replica.
func (t *Tracker) PromoteReplica(documentID, newPrimaryNode string) error {
	lock := t.stripe(documentID)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.documents[documentID]
	if !ok {
		return ErrDocumentNotFound
	}

	idx := -1
	for i, r := range rs.Replicas {
		if r.NodeID == newPrimaryNode {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrNoReplicaOnNode
	}

	for i := range rs.Replicas {
		if rs.Replicas[i].IsPrimary {
			rs.Replicas[i].IsPrimary = false
		}
	}
	rs.Replicas[idx].IsPrimary = true
	rs.Replicas[idx].Status = types.ReplicaStatusActive
	rs.Version++
	rs.UpdatedAt = time.Now()
	t.refreshUnderReplicated(documentID, rs)
	return nil
}

// MarkNodeFailed marks every replica on nodeID as FAILED and returns the
// IDs of every document affected.
func (t *Tracker) MarkNodeFailed(nodeID string) []string {
	t.mu.RLock()
	docIDs := make([]string, 0, len(t.nodeDocs[nodeID]))
	for id := range t.nodeDocs[nodeID] {
		docIDs = append(docIDs, id)
	}
	t.mu.RUnlock()

	sort.Strings(docIDs)

	var affected []string
	for _, documentID := range docIDs {
		lock := t.stripe(documentID)
		lock.Lock()

		t.mu.Lock()
		rs, ok := t.documents[documentID]
		if ok {
			for i := range rs.Replicas {
				if rs.Replicas[i].NodeID == nodeID {
					rs.Replicas[i].Status = types.ReplicaStatusFailed
				}
			}
			rs.UpdatedAt = time.Now()
			t.refreshUnderReplicated(documentID, rs)
			affected = append(affected, documentID)
		}
		t.mu.Unlock()

		lock.Unlock()
	}
	return affected
}

// BumpReplicationFactor raises every tracked document's target replication
// factor to at least rf (used when the adaptive cluster config's effective
// RF increases) and the tracker's default for documents registered
// afterward. Returns the IDs that newly became under-replicated as a
// result, sorted for determinism.
func (t *Tracker) BumpReplicationFactor(rf int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for id, rs := range t.documents {
		wasUnder := t.underReplicated[id]
		if rs.ReplicationFactor < rf {
			rs.ReplicationFactor = rf
			rs.UpdatedAt = time.Now()
		}
		if rs.IsUnderReplicated() {
			if !wasUnder {
				affected = append(affected, id)
			}
			t.underReplicated[id] = true
		} else {
			delete(t.underReplicated, id)
		}
	}
	if rf > t.defaultRF {
		t.defaultRF = rf
	}
	sort.Strings(affected)
	return affected
}

// Get returns a document's replica set, or nil if unknown.
func (t *Tracker) Get(documentID string) *types.ReplicaSet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.documents[documentID]
}

// ReplicasOnNode returns every replica stored on a node, across all
// documents.
func (t *Tracker) ReplicasOnNode(nodeID string) []types.ReplicaInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []types.ReplicaInfo
	for docID := range t.nodeDocs[nodeID] {
		rs, ok := t.documents[docID]
		if !ok {
			continue
		}
		for _, r := range rs.Replicas {
			if r.NodeID == nodeID {
				out = append(out, r)
			}
		}
	}
	return out
}

// DocumentIDsOnNode returns the IDs of every document with a replica
// (primary or otherwise) stored on nodeID, sorted for determinism.
func (t *Tracker) DocumentIDsOnNode(nodeID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.nodeDocs[nodeID]))
	for id := range t.nodeDocs[nodeID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UnderReplicated returns every currently under-replicated document ID.
func (t *Tracker) UnderReplicated() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.underReplicated))
	for id := range t.underReplicated {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DocumentsNeedingReplication returns up to limit under-replicated replica
// sets.
func (t *Tracker) DocumentsNeedingReplication(limit int) []*types.ReplicaSet {
	ids := t.UnderReplicated()
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*types.ReplicaSet, 0, len(ids))
	for _, id := range ids {
		if rs, ok := t.documents[id]; ok && rs.IsUnderReplicated() {
			out = append(out, rs)
		}
	}
	return out
}

// NodeDocumentCount returns how many documents (primary or replica) a node
// currently holds.
func (t *Tracker) NodeDocumentCount(nodeID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodeDocs[nodeID])
}

// Statistics summarizes tracker-wide replication state.
type Statistics struct {
	TotalDocuments       int
	TotalReplicas        int
	UnderReplicatedCount int
	AvgReplicasPerDoc    float64
	NodesWithReplicas    int
	StatusCounts         map[types.ReplicaStatus]int
}

// Stats computes aggregate tracker statistics.
func (t *Tracker) Stats() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Statistics{
		TotalDocuments:       len(t.documents),
		UnderReplicatedCount: len(t.underReplicated),
		NodesWithReplicas:    len(t.nodeDocs),
		StatusCounts:         make(map[types.ReplicaStatus]int),
	}

	for _, rs := range t.documents {
		stats.TotalReplicas += len(rs.Replicas)
		for _, r := range rs.Replicas {
			stats.StatusCounts[r.Status]++
		}
	}
	if stats.TotalDocuments > 0 {
		stats.AvgReplicasPerDoc = float64(stats.TotalReplicas) / float64(stats.TotalDocuments)
	}
	return stats
}
