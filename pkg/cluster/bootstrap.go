package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// SeedProber probes a single seed address for an existing cluster. It
// returns ok=false when no cluster answered, and leaderID set when one did.
type SeedProber func(ctx context.Context, seedAddress string) (leaderID string, ok bool, err error)

// BootstrapConfig configures single-node-to-cluster bootstrap (C15).
type BootstrapConfig struct {
	NodeID      string
	NodeAddress string

	SeedNodes []string

	PeerDiscoveryInterval time.Duration
	StartupGracePeriod    time.Duration
	MaxDiscoveryAttempts  int

	AllowSingleNode    bool
	AutoPromoteToLeader bool
}

// DefaultBootstrapConfig mirrors the reference defaults.
func DefaultBootstrapConfig(nodeID, nodeAddress string) BootstrapConfig {
	return BootstrapConfig{
		NodeID:                nodeID,
		NodeAddress:           nodeAddress,
		PeerDiscoveryInterval: 10 * time.Second,
		StartupGracePeriod:    30 * time.Second,
		MaxDiscoveryAttempts:  3,
		AllowSingleNode:       true,
		AutoPromoteToLeader:   true,
	}
}

// BootstrapResult reports the outcome of a Start or discovery-loop attempt.
type BootstrapResult struct {
	Phase       types.BootstrapPhase
	IsLeader    bool
	LeaderID    string
	ClusterSize int
	Message     string
}

// Bootstrap carries a node from INITIALIZING through seed discovery to
// either standalone leadership or joining an existing cluster, then tracks
// cluster growth through to OPERATIONAL (C15).
type Bootstrap struct {
	cfg    BootstrapConfig
	prober SeedProber

	onBecomeLeader  func()
	onJoinCluster   func(leaderID string)
	onClusterFormed func(nodes []string)

	mu               sync.Mutex
	phase            types.BootstrapPhase
	isLeader         bool
	leaderID         string
	clusterNodes     []string
	discoveryAttempts int
	startedAt        time.Time
	becameLeaderAt   time.Time
	joinedClusterAt  time.Time

	cancelDiscovery context.CancelFunc
	wg              sync.WaitGroup

	logger zerolog.Logger
}

// NewBootstrap constructs a Bootstrap in the INITIALIZING phase. prober may
// be nil if cfg.SeedNodes is empty (no seeds to probe, discovery always
// fails fast).
func NewBootstrap(cfg BootstrapConfig, prober SeedProber, onBecomeLeader func(), onJoinCluster func(string), onClusterFormed func([]string)) *Bootstrap {
	if cfg.PeerDiscoveryInterval <= 0 {
		cfg.PeerDiscoveryInterval = DefaultBootstrapConfig(cfg.NodeID, cfg.NodeAddress).PeerDiscoveryInterval
	}
	if cfg.MaxDiscoveryAttempts <= 0 {
		cfg.MaxDiscoveryAttempts = 3
	}
	return &Bootstrap{
		cfg:             cfg,
		prober:          prober,
		onBecomeLeader:  onBecomeLeader,
		onJoinCluster:   onJoinCluster,
		onClusterFormed: onClusterFormed,
		phase:           types.PhaseInitializing,
		clusterNodes:    []string{cfg.NodeID},
		logger:          log.WithComponent("cluster.bootstrap"),
	}
}

// Phase returns the current bootstrap phase.
func (b *Bootstrap) Phase() types.BootstrapPhase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// IsLeader reports whether this node currently believes it is the leader.
func (b *Bootstrap) IsLeader() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isLeader
}

// LeaderID returns the known leader's ID, or this node's own ID if it is
// the leader and no other leader has been recorded.
func (b *Bootstrap) LeaderID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.leaderID != "" {
		return b.leaderID
	}
	if b.isLeader {
		return b.cfg.NodeID
	}
	return ""
}

// ClusterSize returns the number of nodes this bootstrap instance currently
// believes are in the cluster.
func (b *Bootstrap) ClusterSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clusterNodes)
}

// Start runs the bootstrap sequence: probe seeds for an existing cluster,
// join it if found, otherwise become a standalone leader (if allowed) or
// spawn a background discovery loop.
func (b *Bootstrap) Start(ctx context.Context) BootstrapResult {
	b.mu.Lock()
	b.startedAt = time.Now()
	b.phase = types.PhaseDiscovering
	b.mu.Unlock()

	b.logger.Info().Str("node_id", b.cfg.NodeID).Msg("starting bootstrap")

	leaderID, found := b.discoverCluster(ctx)
	if found {
		return b.joinExistingCluster(leaderID)
	}

	if b.cfg.AllowSingleNode {
		return b.becomeStandaloneLeader()
	}

	discoveryCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancelDiscovery = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go b.discoveryLoop(discoveryCtx)

	return BootstrapResult{
		Phase:   types.PhaseDiscovering,
		Message: "waiting for cluster peers",
	}
}

// Stop halts any background discovery loop.
func (b *Bootstrap) Stop() {
	b.mu.Lock()
	cancel := b.cancelDiscovery
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	b.logger.Info().Msg("bootstrap stopped")
}

func (b *Bootstrap) discoverCluster(ctx context.Context) (leaderID string, found bool) {
	if len(b.cfg.SeedNodes) == 0 || b.prober == nil {
		b.logger.Info().Msg("no seed nodes configured, cannot discover existing cluster")
		return "", false
	}

	b.logger.Info().Int("seed_count", len(b.cfg.SeedNodes)).Msg("attempting cluster discovery")

	for _, seed := range b.cfg.SeedNodes {
		id, ok, err := b.prober(ctx, seed)
		if err != nil {
			b.logger.Warn().Str("seed", seed).Err(err).Msg("failed to probe seed node")
			continue
		}
		if ok {
			b.logger.Info().Str("seed", seed).Str("leader_id", id).Msg("found existing cluster")
			return id, true
		}
	}
	return "", false
}

func (b *Bootstrap) becomeStandaloneLeader() BootstrapResult {
	b.mu.Lock()
	b.isLeader = true
	b.leaderID = b.cfg.NodeID
	b.becameLeaderAt = time.Now()
	b.phase = types.PhaseSingleLeader
	b.mu.Unlock()

	b.logger.Info().Str("node_id", b.cfg.NodeID).Msg("becoming standalone leader")

	if b.onBecomeLeader != nil {
		b.onBecomeLeader()
	}

	return BootstrapResult{
		Phase:       types.PhaseSingleLeader,
		IsLeader:    true,
		LeaderID:    b.cfg.NodeID,
		ClusterSize: 1,
		Message:     "operating as single-node cluster",
	}
}

func (b *Bootstrap) joinExistingCluster(leaderID string) BootstrapResult {
	b.mu.Lock()
	b.isLeader = false
	b.leaderID = leaderID
	b.joinedClusterAt = time.Now()
	b.phase = types.PhaseOperational
	size := len(b.clusterNodes)
	b.mu.Unlock()

	b.logger.Info().Str("node_id", b.cfg.NodeID).Str("leader_id", leaderID).Msg("joining existing cluster")

	if b.onJoinCluster != nil {
		b.onJoinCluster(leaderID)
	}

	return BootstrapResult{
		Phase:       types.PhaseOperational,
		IsLeader:    false,
		LeaderID:    leaderID,
		ClusterSize: size,
		Message:     "joined existing cluster",
	}
}

func (b *Bootstrap) discoveryLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.PeerDiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			b.discoveryAttempts++
			attempts := b.discoveryAttempts
			b.mu.Unlock()

			if attempts > b.cfg.MaxDiscoveryAttempts {
				if b.cfg.AllowSingleNode {
					b.mu.Lock()
					alreadyLeader := b.isLeader
					b.mu.Unlock()
					if !alreadyLeader {
						b.becomeStandaloneLeader()
					}
				}
				return
			}

			leaderID, found := b.discoverCluster(ctx)
			if found {
				b.joinExistingCluster(leaderID)
				return
			}
		}
	}
}

// HandleNodeJoin processes a join request for node_id, valid only when this
// node is the leader. It transitions SINGLE_LEADER -> CLUSTER_FORMING ->
// OPERATIONAL as the cluster grows past one node.
func (b *Bootstrap) HandleNodeJoin(nodeID string) BootstrapResult {
	b.mu.Lock()
	if !b.isLeader {
		leaderID := b.leaderID
		b.mu.Unlock()
		return BootstrapResult{Message: "not the leader", LeaderID: leaderID}
	}

	for _, existing := range b.clusterNodes {
		if existing == nodeID {
			size := len(b.clusterNodes)
			b.mu.Unlock()
			return BootstrapResult{Phase: b.phase, LeaderID: b.leaderID, ClusterSize: size, Message: "node already in cluster"}
		}
	}

	b.clusterNodes = append(b.clusterNodes, nodeID)

	if b.phase == types.PhaseSingleLeader {
		b.phase = types.PhaseClusterForming
	}

	formed := false
	if len(b.clusterNodes) >= 2 {
		b.phase = types.PhaseOperational
		formed = true
	}

	size := len(b.clusterNodes)
	nodes := append([]string(nil), b.clusterNodes...)
	phase := b.phase
	leaderID := b.leaderID
	b.mu.Unlock()

	b.logger.Info().Str("node_id", nodeID).Int("cluster_size", size).Msg("node joined cluster")

	if formed && b.onClusterFormed != nil {
		b.onClusterFormed(nodes)
	}

	return BootstrapResult{Phase: phase, LeaderID: leaderID, ClusterSize: size}
}

// HandleNodeLeave removes nodeID from the known cluster membership. If the
// leader left, leadership is cleared; a new leader is expected to be
// determined by the consensus layer's own election, not by this package.
func (b *Bootstrap) HandleNodeLeave(nodeID string) BootstrapResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i, existing := range b.clusterNodes {
		if existing == nodeID {
			idx = i
			break
		}
	}
	if nodeID == b.leaderID {
		b.leaderID = ""
		b.isLeader = false
	}

	if idx == -1 {
		return BootstrapResult{Message: "node not in cluster"}
	}

	b.clusterNodes = append(b.clusterNodes[:idx], b.clusterNodes[idx+1:]...)

	if len(b.clusterNodes) == 1 {
		b.phase = types.PhaseSingleLeader
		b.logger.Info().Msg("reverted to single-node operation")
	}

	b.logger.Info().Str("node_id", nodeID).Int("cluster_size", len(b.clusterNodes)).Msg("node left cluster")

	return BootstrapResult{Phase: b.phase, ClusterSize: len(b.clusterNodes)}
}

// Status returns a point-in-time snapshot for diagnostics.
type BootstrapStatus struct {
	NodeID            string
	Phase             types.BootstrapPhase
	IsLeader          bool
	LeaderID          string
	ClusterSize       int
	ClusterNodes      []string
	DiscoveryAttempts int
}

func (b *Bootstrap) Status() BootstrapStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BootstrapStatus{
		NodeID:            b.cfg.NodeID,
		Phase:             b.phase,
		IsLeader:          b.isLeader,
		LeaderID:          b.leaderID,
		ClusterSize:       len(b.clusterNodes),
		ClusterNodes:      append([]string(nil), b.clusterNodes...),
		DiscoveryAttempts: b.discoveryAttempts,
	}
}
