package coordinator

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/distrisearch/distrisearch/pkg/cluster"
	"github.com/distrisearch/distrisearch/pkg/consensus"
	"github.com/distrisearch/distrisearch/pkg/events"
	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/manager"
	"github.com/distrisearch/distrisearch/pkg/metrics"
	"github.com/distrisearch/distrisearch/pkg/partition"
	"github.com/distrisearch/distrisearch/pkg/rebalance"
	"github.com/distrisearch/distrisearch/pkg/recovery"
	"github.com/distrisearch/distrisearch/pkg/replication"
	"github.com/distrisearch/distrisearch/pkg/rpc"
	"github.com/distrisearch/distrisearch/pkg/similarity"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// Config bundles every sub-component's configuration for a single running
// node, keyed off the node's own identity and listen address.
type Config struct {
	NodeID      string
	NodeAddress string
	SeedNodes   []string

	DataDir      string // raft log/stable store + local metadata store directory
	RaftBindAddr string // raft's own TCP transport, separate from the peer RPC port

	ClusterOptions    cluster.ConfigOptions
	BootstrapConfig   cluster.BootstrapConfig
	ElectionConfig    cluster.ElectionConfig
	ReplicationConfig replication.Config
	RecoveryConfig    recovery.Config
	RebalanceConfig   rebalance.Config
	SimilarityOptions similarity.Options
	PartitionOptions  partition.Options
	ConsensusConfig   consensus.Config
}

// DefaultConfig returns every sub-component's own defaults, addressed at
// nodeID/nodeAddress with no seeds (a fresh single-node cluster). DataDir
// defaults to a node-scoped subdirectory of the current directory, and
// RaftBindAddr defaults to the peer RPC port plus 1000 so the two
// transports never collide on the same address.
func DefaultConfig(nodeID, nodeAddress string) Config {
	return Config{
		NodeID:            nodeID,
		NodeAddress:       nodeAddress,
		DataDir:           "data/" + nodeID,
		RaftBindAddr:      defaultRaftBindAddr(nodeAddress),
		ClusterOptions:    cluster.DefaultConfigOptions(),
		BootstrapConfig:   cluster.DefaultBootstrapConfig(nodeID, nodeAddress),
		ElectionConfig:    cluster.DefaultElectionConfig(),
		ReplicationConfig: replication.DefaultConfig(),
		RecoveryConfig:    recovery.DefaultConfig(),
		RebalanceConfig:   rebalance.DefaultConfig(),
		SimilarityOptions: similarity.DefaultOptions(),
		PartitionOptions:  partition.DefaultOptions(),
		ConsensusConfig:   consensus.DefaultConfig(),
	}
}

func defaultRaftBindAddr(nodeAddress string) string {
	host, portStr, err := net.SplitHostPort(nodeAddress)
	if err != nil {
		return nodeAddress
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nodeAddress
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1000))
}

// Node wires every distrisearch component (VP-Tree partitioning, semantic
// replication, adaptive cluster coordination, rebalancing, failure
// recovery, and the AP read/write surface) into one running cluster
// member, playing the role cuemby-warren/pkg/manager.Manager plays for
// Warren: the single object cmd/distrisearchd constructs and starts.
type Node struct {
	cfg Config

	registry    *Registry
	graph       *similarity.Graph
	tracker     *replication.Tracker
	replication *replication.Manager
	partition   *partition.Manager
	rebalancer  *rebalance.Rebalancer
	recovery    *recovery.Service
	degradation *cluster.DegradationManager
	surface     *consensus.Surface

	rpcServer *rpc.Server
	rpcClient *rpc.Client

	manager   *manager.Manager
	collector *metrics.Collector
	eventBus  *events.Broker

	mu     sync.RWMutex
	cancel context.CancelFunc

	logger zerolog.Logger
}

// New constructs a Node and wires every component together, but starts
// nothing: call Start to bring it up.
func New(cfg Config) *Node {
	n := &Node{
		cfg:      cfg,
		registry: NewRegistry(),
		logger:   log.WithComponent("coordinator"),
	}
	n.registry.Put(&types.ClusterNode{
		ID:            cfg.NodeID,
		Address:       cfg.NodeAddress,
		Status:        types.NodeStatusHealthy,
		JoinedAt:      time.Now(),
		LastHeartbeat: time.Now(),
	})

	n.rpcClient = rpc.NewClient()
	n.graph = similarity.NewGraph(cfg.SimilarityOptions)
	n.tracker = replication.NewTracker(cfg.ReplicationConfig.ReplicationFactor)
	n.replication = replication.NewManager(n.tracker, n.graph, n.registry, n.transferDocument, cfg.ReplicationConfig)
	n.recovery = recovery.NewService(cfg.RecoveryConfig, n.tracker, n.replication)
	n.rebalancer = rebalance.NewRebalancer(cfg.RebalanceConfig, n.selectDocuments, n.transferBatch)
	n.partition = partition.NewManager(n.replication, n.rebalancer, cfg.PartitionOptions)

	n.degradation = cluster.NewDegradationManager(cluster.DegradationManagerConfig{
		NodeID:      cfg.NodeID,
		NodeAddress: cfg.NodeAddress,
		Options:     cfg.ClusterOptions,
		Bootstrap:   cfg.BootstrapConfig,
		Election:    cfg.ElectionConfig,
	}, n.probeSeed, n)

	n.surface = consensus.NewSurface(cfg.ConsensusConfig, n.tracker, n.degradation, n.replicateDocument)

	n.rpcServer = rpc.NewServer(rpc.Handlers{
		Heartbeat: n.onPeerHeartbeat,
		Election:  n.degradation.HandleElectionMessage,
		Transfer:  n.onPeerTransfer,
		Replicate: n.onPeerReplicate,
	})

	n.recovery.OnFailure(n.onNodeFailed)
	n.recovery.OnRecovery(n.onNodeRecovered)

	n.eventBus = events.NewBroker()

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.RaftBindAddr,
		DataDir:  cfg.DataDir,
	})
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to construct raft metadata manager")
	} else {
		n.manager = mgr
		n.collector = metrics.NewCollector(mgr, n.tracker)
	}

	return n
}

// Start brings every background loop up: the peer RPC listener, failure
// detection, the rebalancer, the degradation manager's bootstrap/election
// sequence, and the consensus reconciler.
func (n *Node) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()

	go func() {
		if err := n.rpcServer.Start(n.cfg.NodeAddress); err != nil {
			n.logger.Error().Err(err).Msg("peer rpc server stopped")
		}
	}()

	n.recovery.RegisterNode(n.cfg.NodeID, nil)
	n.recovery.Start(runCtx)
	n.rebalancer.Start(runCtx)
	n.surface.Start(runCtx)
	n.eventBus.Start()

	if n.manager != nil {
		var err error
		if len(n.cfg.SeedNodes) == 0 {
			err = n.manager.Bootstrap()
		} else {
			err = n.manager.Join()
		}
		if err != nil {
			n.logger.Error().Err(err).Msg("raft metadata log failed to start")
		} else if n.collector != nil {
			n.collector.Start()
		}
	}

	result := n.degradation.Start(runCtx)
	n.logger.Info().
		Str("node_id", n.cfg.NodeID).
		Str("phase", string(result.Phase)).
		Bool("is_leader", result.IsLeader).
		Msg("node started")
	return nil
}

// Stop halts every background loop and releases peer connections.
func (n *Node) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	n.degradation.Stop()
	n.rebalancer.Stop()
	n.recovery.Stop()
	n.surface.Stop()
	n.rpcServer.Stop()
	_ = n.rpcClient.Close()
	if n.collector != nil {
		n.collector.Stop()
	}
	if n.manager != nil {
		if err := n.manager.Shutdown(); err != nil {
			n.logger.Error().Err(err).Msg("raft metadata log shutdown error")
		}
	}
	n.eventBus.Stop()
}

// Join registers a peer discovered at address, making it eligible for
// partition assignment, replica placement, and rebalancing.
func (n *Node) Join(nodeID, address string) {
	node := &types.ClusterNode{
		ID:            nodeID,
		Address:       address,
		Status:        types.NodeStatusHealthy,
		JoinedAt:      time.Now(),
		LastHeartbeat: time.Now(),
	}
	n.registry.Put(node)
	n.recovery.RegisterNode(nodeID, nil)
	n.degradation.NodeJoined(nodeID)
	n.persistNode(node)
	n.eventBus.Publish(&events.Event{Type: events.EventNodeJoined, NodeID: nodeID})
}

// Leave removes a peer that departed cleanly.
func (n *Node) Leave(nodeID string) {
	n.registry.Remove(nodeID)
	n.recovery.UnregisterNode(nodeID)
	n.rebalancer.RemoveNode(nodeID)
	n.degradation.NodeLeft(nodeID)
	n.deleteNode(nodeID)
	n.eventBus.Publish(&events.Event{Type: events.EventNodeLeft, NodeID: nodeID})
}

// persistNode best-effort replicates a membership change through the raft
// metadata log. Only the raft leader can commit; followers log and move on
// since the in-memory Registry already reflects the change locally, and
// the leader's own PutNode call will bring every node's durable store in
// sync once raft replicates it.
func (n *Node) persistNode(node *types.ClusterNode) {
	if n.manager == nil {
		return
	}
	if err := n.manager.PutNode(node); err != nil {
		n.logger.Debug().Err(err).Str("node_id", node.ID).Msg("membership change not committed to raft metadata log")
	}
}

func (n *Node) deleteNode(nodeID string) {
	if n.manager == nil {
		return
	}
	if err := n.manager.DeleteNode(nodeID); err != nil {
		n.logger.Debug().Err(err).Str("node_id", nodeID).Msg("membership removal not committed to raft metadata log")
	}
}

// BuildPartitions rebuilds the VP-Tree over the given corpus and
// reassigns leaves across every currently known node (C2-C4).
func (n *Node) BuildPartitions(docs []*types.Document) error {
	return n.partition.Build(docs, n.registry.All())
}

// Route places doc in its partition and materializes its replicas,
// returning the resulting primary/replica assignment (C4/C7).
func (n *Node) Route(ctx context.Context, doc *types.Document) (*partition.RouteResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RoutingDuration)

	result, err := n.partition.Route(ctx, doc)
	if err != nil {
		return nil, err
	}
	n.surface.Write(ctx, doc)
	n.eventBus.Publish(&events.Event{Type: events.EventDocumentRouted, DocumentID: doc.ID})
	return result, nil
}

// Read returns a document and its freshness via the AP surface (C17).
func (n *Node) Read(docID string) (*types.Document, types.Freshness) {
	return n.surface.Read(docID)
}

// Status summarizes the node's components for in-process callers and tests.
// cmd/distrisearchd's `status` subcommand does not use it; it sends a
// Heartbeat RPC instead.
type Status struct {
	NodeID       string
	KnownNodes   int
	Degradation  cluster.Status
	Replication  replication.Stats
	Rebalance    rebalance.Stats
	Recovery     recovery.Stats
	SurfaceStats consensus.Stats
}

// Status snapshots every component's own status.
func (n *Node) Status() Status {
	return Status{
		NodeID:       n.cfg.NodeID,
		KnownNodes:   n.registry.Count(),
		Degradation:  n.degradation.Status(),
		Replication:  n.replication.Stats(),
		Rebalance:    n.rebalancer.Stats(),
		Recovery:     n.recovery.Stats(),
		SurfaceStats: n.surface.Stats(),
	}
}

// probeSeed implements cluster.SeedProber by asking the heartbeat RPC
// whether seedAddress is reachable, and, if so, who it reports as leader.
// This repo has no separate "who is leader" RPC; a reachable seed is
// treated as sufficient evidence of an existing cluster to join, with the
// seed's own node ID (learned from its heartbeat response) standing in
// for leader ID until a join handshake assigns a real one.
func (n *Node) probeSeed(ctx context.Context, seedAddress string) (string, bool, error) {
	resp, err := n.rpcClient.Heartbeat(ctx, seedAddress, n.cfg.NodeID, nil)
	if err != nil {
		return "", false, nil
	}
	return resp.NodeID, true, nil
}

// SendElectionMessage implements cluster.PeerSender by resolving peerID to
// its known address and delivering the Bully message over the peer RPC
// client.
func (n *Node) SendElectionMessage(ctx context.Context, peerID string, msg cluster.ElectionMessage) error {
	addr, ok := n.registry.Address(peerID)
	if !ok {
		return fmt.Errorf("coordinator: unknown peer %s", peerID)
	}
	return n.rpcClient.SendElectionMessage(ctx, addr, msg)
}

func (n *Node) onPeerHeartbeat(nodeID string, metadata map[string]string) {
	n.recovery.RecordHeartbeat(nodeID, 0, metadata)
}

func (n *Node) onPeerTransfer(ctx context.Context, sourceNode, targetNode string, documentIDs []string) ([]string, []string) {
	// This node is the target: it simply accepts every document ID it's
	// offered. Actual document bytes arrive via subsequent Replicate calls
	// driven by the rebalancer's MigrationHandler.
	return documentIDs, nil
}

func (n *Node) onPeerReplicate(ctx context.Context, doc *types.Document, sourceNode string) bool {
	n.surface.Write(ctx, doc)
	return true
}

func (n *Node) onNodeFailed(nodeID string) {
	n.registry.SetStatus(nodeID, types.NodeStatusFailed)
	n.degradation.NodeFailed(nodeID)
	metrics.NodeFailuresTotal.Inc()
	n.eventBus.Publish(&events.Event{Type: events.EventNodeFailed, NodeID: nodeID})
}

func (n *Node) onNodeRecovered(nodeID string) {
	n.registry.SetStatus(nodeID, types.NodeStatusHealthy)
	n.degradation.NodeRecovered(nodeID)
	metrics.NodeRecoveriesTotal.Inc()
	n.eventBus.Publish(&events.Event{Type: events.EventNodeRecovered, NodeID: nodeID})
}

// transferDocument implements replication.TransferFn: push documentID from
// sourceNode (always this node, in practice) to targetNode over the peer
// RPC transport.
func (n *Node) transferDocument(ctx context.Context, documentID, sourceNode, targetNode string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplicationDuration)

	doc, _ := n.surface.Read(documentID)
	if doc == nil {
		metrics.ReplicationOperationsTotal.WithLabelValues("not_found").Inc()
		return fmt.Errorf("coordinator: document %s not held locally", documentID)
	}

	addr, ok := n.registry.Address(targetNode)
	if !ok {
		metrics.ReplicationOperationsTotal.WithLabelValues("unknown_target").Inc()
		return fmt.Errorf("coordinator: unknown target node %s", targetNode)
	}

	ok2, err := n.rpcClient.Replicate(ctx, addr, doc, sourceNode, targetNode)
	if err != nil {
		metrics.ReplicationOperationsTotal.WithLabelValues("error").Inc()
		return err
	}
	if !ok2 {
		metrics.ReplicationOperationsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("coordinator: target %s rejected replica", targetNode)
	}
	metrics.ReplicationOperationsTotal.WithLabelValues("success").Inc()
	n.eventBus.Publish(&events.Event{Type: events.EventDocumentReplicated, DocumentID: documentID, NodeID: targetNode})
	return nil
}

// replicateDocument implements consensus.ReplicateFn for the Surface's
// synchronous write-path replication.
func (n *Node) replicateDocument(ctx context.Context, doc *types.Document, targetNode string) bool {
	addr, ok := n.registry.Address(targetNode)
	if !ok {
		return false
	}
	ok2, err := n.rpcClient.Replicate(ctx, addr, doc, n.cfg.NodeID, targetNode)
	return err == nil && ok2
}

// selectDocuments implements rebalance.DocumentSelectorFunc, offering up
// to count documents currently held on nodeID.
func (n *Node) selectDocuments(ctx context.Context, nodeID string, count int) ([]string, error) {
	ids := n.tracker.DocumentIDsOnNode(nodeID)
	if len(ids) > count {
		ids = ids[:count]
	}
	return ids, nil
}

// transferBatch implements rebalance.TransferBatchFunc by calling the
// target's Transfer RPC.
func (n *Node) transferBatch(ctx context.Context, source, target string, documentIDs []string) ([]string, []string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RebalanceDuration)

	addr, ok := n.registry.Address(target)
	if !ok {
		metrics.RebalanceOperationsTotal.WithLabelValues("unknown_target").Inc()
		return nil, documentIDs, fmt.Errorf("coordinator: unknown target node %s", target)
	}
	resp, err := n.rpcClient.Transfer(ctx, addr, source, target, documentIDs)
	if err != nil {
		metrics.RebalanceOperationsTotal.WithLabelValues("error").Inc()
		return nil, documentIDs, err
	}
	for _, id := range resp.Migrated {
		if err := n.transferDocument(ctx, id, source, target); err != nil {
			resp.Failed = append(resp.Failed, id)
		}
	}
	metrics.RebalanceOperationsTotal.WithLabelValues("success").Inc()
	n.eventBus.Publish(&events.Event{Type: events.EventRebalanceComplete, NodeID: target})
	return resp.Migrated, resp.Failed, nil
}
