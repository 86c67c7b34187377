package cluster

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// ConfigOptions are the target (ideal) parameters AdaptiveConfig degrades
// away from as healthy nodes drop below target.
type ConfigOptions struct {
	TargetNodes             int
	TargetReplicationFactor int
	TargetQuorumSize        int
	MinNodesForReplication  int
	MinNodesForQuorum       int
}

// DefaultConfigOptions mirrors the reference defaults.
func DefaultConfigOptions() ConfigOptions {
	return ConfigOptions{
		TargetNodes:             3,
		TargetReplicationFactor: 2,
		TargetQuorumSize:        2,
		MinNodesForReplication:  2,
		MinNodesForQuorum:       3,
	}
}

// ConfigChange records one field of EffectiveConfig moving from old to new,
// returned by UpdateForClusterSize so callers can log or react to exactly
// what shifted.
type ConfigChange struct {
	Field string
	Old   any
	New   any
}

// AdaptiveConfig derives replication factor, quorum size, operation mode,
// and consistency level purely from the healthy node count (C14). The
// system always operates, even with a single node.
type AdaptiveConfig struct {
	opts ConfigOptions

	mu            sync.RWMutex
	effective     types.EffectiveConfig
	isPartitioned bool
	partitionID   string
	lastUpdate    time.Time

	logger zerolog.Logger
}

// NewAdaptiveConfig constructs an AdaptiveConfig starting in SINGLE_NODE
// mode (as if exactly one node, itself, were healthy).
func NewAdaptiveConfig(opts ConfigOptions) *AdaptiveConfig {
	if opts.TargetNodes <= 0 {
		opts = DefaultConfigOptions()
	}
	c := &AdaptiveConfig{
		opts:   opts,
		logger: log.WithComponent("cluster.config"),
	}
	c.UpdateForClusterSize(1)
	return c
}

// UpdateForClusterSize recomputes the effective configuration for
// availableNodes currently-healthy nodes, returning every field that
// changed.
func (c *AdaptiveConfig) UpdateForClusterSize(availableNodes int) []ConfigChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.effective

	next := types.EffectiveConfig{HealthyNodes: availableNodes}

	switch {
	case availableNodes >= c.opts.TargetReplicationFactor+1:
		next.ReplicationFactor = c.opts.TargetReplicationFactor
	case availableNodes >= 2:
		next.ReplicationFactor = 1
	default:
		next.ReplicationFactor = 0
	}

	switch {
	case availableNodes >= c.opts.MinNodesForQuorum:
		next.Quorum = availableNodes/2 + 1
	case availableNodes >= 2:
		next.Quorum = 2
	default:
		next.Quorum = 1
	}

	switch {
	case availableNodes == 1:
		next.Mode = types.ModeSingleNode
		next.Consistency = types.ConsistencyLocal
	case availableNodes < c.opts.TargetNodes:
		next.Mode = types.ModeDegraded
		if availableNodes >= c.opts.MinNodesForQuorum {
			next.Consistency = types.ConsistencyQuorum
		} else {
			next.Consistency = types.ConsistencyEventual
		}
	default:
		next.Mode = types.ModeNormal
		next.Consistency = types.ConsistencyStrong
	}

	c.effective = next
	c.lastUpdate = time.Now()

	changes := diffEffectiveConfig(old, next)
	if len(changes) > 0 {
		c.logger.Info().Int("healthy_nodes", availableNodes).Interface("changes", changes).Msg("adaptive config updated")
	}
	return changes
}

func diffEffectiveConfig(old, next types.EffectiveConfig) []ConfigChange {
	var changes []ConfigChange
	if old.HealthyNodes != next.HealthyNodes {
		changes = append(changes, ConfigChange{"healthy_nodes", old.HealthyNodes, next.HealthyNodes})
	}
	if old.ReplicationFactor != next.ReplicationFactor {
		changes = append(changes, ConfigChange{"replication_factor", old.ReplicationFactor, next.ReplicationFactor})
	}
	if old.Quorum != next.Quorum {
		changes = append(changes, ConfigChange{"quorum", old.Quorum, next.Quorum})
	}
	if old.Mode != next.Mode {
		changes = append(changes, ConfigChange{"mode", old.Mode, next.Mode})
	}
	if old.Consistency != next.Consistency {
		changes = append(changes, ConfigChange{"consistency", old.Consistency, next.Consistency})
	}
	return changes
}

// HandlePartition marks the cluster as partitioned. Per spec §4.7 this
// system is AP: a minority partition keeps accepting reads and writes
// (callers should tag writes SyncWillSyncLater via pkg/consensus), it does
// not fall back to read-only.
func (c *AdaptiveConfig) HandlePartition(reachableNodes int, totalKnownNodes int) (isMajority bool) {
	c.mu.Lock()
	c.isPartitioned = true
	c.partitionID = time.Now().Format("20060102T150405.000000000")
	c.mu.Unlock()

	isMajority = reachableNodes > totalKnownNodes/2

	c.UpdateForClusterSize(reachableNodes)
	c.mu.Lock()
	if !isMajority {
		c.effective.Mode = types.ModePartitioned
	}
	c.mu.Unlock()

	c.logger.Warn().Int("reachable", reachableNodes).Int("total_known", totalKnownNodes).Bool("is_majority", isMajority).Msg("partition detected")
	return isMajority
}

// HealPartition clears partitioned state and recomputes the effective
// configuration for the now-fully-reachable node count.
func (c *AdaptiveConfig) HealPartition(reachableNodes int) {
	c.mu.Lock()
	c.isPartitioned = false
	c.partitionID = ""
	c.mu.Unlock()

	c.UpdateForClusterSize(reachableNodes)
	c.logger.Info().Int("reachable", reachableNodes).Msg("partition healed")
}

// Effective returns a copy of the current effective configuration.
func (c *AdaptiveConfig) Effective() types.EffectiveConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.effective
}

// IsPartitioned reports whether the cluster currently believes it is
// partitioned.
func (c *AdaptiveConfig) IsPartitioned() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isPartitioned
}

// CanWrite reports whether writes are currently allowed. This AP design
// never refuses writes outside of an explicit future READONLY mode, which
// this package does not implement (see package doc).
func (c *AdaptiveConfig) CanWrite() bool { return true }

// FaultToleranceLevel is the number of replica losses survivable while
// keeping at least one copy — equal to the effective replication factor.
func (c *AdaptiveConfig) FaultToleranceLevel() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.effective.ReplicationFactor
}
