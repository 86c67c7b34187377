package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/distrisearch/distrisearch/pkg/events"
	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/metrics"
	"github.com/distrisearch/distrisearch/pkg/storage"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// Manager owns the raft-replicated metadata log for one cluster node: node
// membership, VP-Tree partition assignments, and replica-set state. It is
// the durable, CP-consistent counterpart to the AP document-placement
// surface in pkg/consensus -- document reads/writes favor availability and
// never touch raft, but *where* a partition or replica lives is agreed on
// through this log so a restarted or newly-joined node can recover it.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft        *raft.Raft
	fsm         *FSM
	store       storage.Store
	eventBroker *events.Broker
	logger      zerolog.Logger
}

// Config holds configuration for creating a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance. It does not start raft --
// call Bootstrap for a new cluster's first node or Join for every other
// node.
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	fsm := NewFSM(store)

	eventBroker := events.NewBroker()
	eventBroker.Start()

	return &Manager{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindAddr,
		dataDir:     cfg.DataDir,
		fsm:         fsm,
		store:       store,
		eventBroker: eventBroker,
		logger:      log.WithComponent("manager"),
	}, nil
}

func (m *Manager) newRaft() (*raft.Raft, *raft.NetworkTransport, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Tuned for LAN deployments so a failed leader is replaced in a few
	// seconds rather than hashicorp/raft's WAN-oriented defaults.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft: %w", err)
	}

	return r, transport, nil
}

// Bootstrap initializes a brand-new single-node raft cluster. Additional
// nodes join the cluster via Join plus a leader-side AddVoter call.
func (m *Manager) Bootstrap() error {
	r, transport, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.nodeID), Address: transport.LocalAddr()},
		},
	}
	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}

	m.logger.Info().Str("node_id", m.nodeID).Msg("bootstrapped raft metadata log")
	return nil
}

// Join starts this node's raft instance without bootstrapping a
// configuration; it becomes a working member of the cluster once the
// current leader calls AddVoter for it.
func (m *Manager) Join() error {
	r, _, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	m.logger.Info().Str("node_id", m.nodeID).Msg("raft started, awaiting AddVoter from leader")
	return nil
}

// AddVoter adds a new node to the raft configuration. Only the leader can
// do this.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}

	m.logger.Info().Str("node_id", nodeID).Str("addr", address).Msg("added raft voter")
	return nil
}

// RemoveServer removes a node from the raft configuration.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}
	return nil
}

// GetClusterServers returns the current raft configuration's servers.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node is the current raft leader.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the current raft leader's address, if known.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns a snapshot of raft internals for status reporting
// and metrics collection.
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}

	if configFuture := m.raft.GetConfiguration(); configFuture.Error() == nil {
		stats["peers"] = uint64(len(configFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}

	return stats
}

// GetEventBroker returns the manager's event broker.
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all subscribers.
func (m *Manager) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// Apply submits a command to the raft log and blocks until it commits.
func (m *Manager) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

func applyOp(m *Manager, op string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: payload})
}

// PutNode upserts a cluster node's membership record.
func (m *Manager) PutNode(node *types.ClusterNode) error {
	return applyOp(m, opPutNode, node)
}

// DeleteNode removes a cluster node's membership record.
func (m *Manager) DeleteNode(id string) error {
	return applyOp(m, opDeleteNode, id)
}

// PutPartitionAssignment upserts which node owns a VP-Tree leaf.
func (m *Manager) PutPartitionAssignment(pa *types.PartitionAssignment) error {
	return applyOp(m, opPutPartitionAssignment, pa)
}

// DeletePartitionAssignment removes a leaf's ownership record.
func (m *Manager) DeletePartitionAssignment(leafID string) error {
	return applyOp(m, opDeletePartition, leafID)
}

// PutReplicaSet upserts a document's replica-set state.
func (m *Manager) PutReplicaSet(rs *types.ReplicaSet) error {
	return applyOp(m, opPutReplicaSet, rs)
}

// DeleteReplicaSet removes a document's replica-set record.
func (m *Manager) DeleteReplicaSet(documentID string) error {
	return applyOp(m, opDeleteReplicaSet, documentID)
}

// GetNode reads a node's membership record from local storage.
func (m *Manager) GetNode(id string) (*types.ClusterNode, error) {
	return m.store.GetNode(id)
}

// ListNodes reads every node's membership record from local storage.
func (m *Manager) ListNodes() ([]*types.ClusterNode, error) {
	return m.store.ListNodes()
}

// ListPartitionAssignments reads every partition assignment from local storage.
func (m *Manager) ListPartitionAssignments() ([]*types.PartitionAssignment, error) {
	return m.store.ListPartitionAssignments()
}

// GetReplicaSet reads one document's replica-set record from local storage.
func (m *Manager) GetReplicaSet(documentID string) (*types.ReplicaSet, error) {
	return m.store.GetReplicaSet(documentID)
}

// ListReplicaSets reads every replica-set record from local storage.
func (m *Manager) ListReplicaSets() ([]*types.ReplicaSet, error) {
	return m.store.ListReplicaSets()
}

// NodeID returns the manager's node ID.
func (m *Manager) NodeID() string {
	return m.nodeID
}

// Shutdown gracefully shuts down raft, the event broker, and local storage.
func (m *Manager) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}

	return nil
}
