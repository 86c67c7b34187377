package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrisearch/distrisearch/pkg/types"
)

func TestBootstrap_NoSeedsBecomesStandaloneLeader(t *testing.T) {
	cfg := DefaultBootstrapConfig("n1", "127.0.0.1:7000")
	var becameLeader bool
	b := NewBootstrap(cfg, nil, func() { becameLeader = true }, nil, nil)

	res := b.Start(context.Background())
	assert.Equal(t, types.PhaseSingleLeader, res.Phase)
	assert.True(t, res.IsLeader)
	assert.Equal(t, "n1", res.LeaderID)
	assert.True(t, becameLeader)
	assert.True(t, b.IsLeader())
	assert.Equal(t, "n1", b.LeaderID())
}

func TestBootstrap_SeedFoundJoinsExistingCluster(t *testing.T) {
	cfg := DefaultBootstrapConfig("n2", "127.0.0.1:7001")
	cfg.SeedNodes = []string{"127.0.0.1:7000"}

	prober := func(ctx context.Context, seed string) (string, bool, error) {
		return "n1", true, nil
	}
	var joinedLeader string
	b := NewBootstrap(cfg, prober, nil, func(leaderID string) { joinedLeader = leaderID }, nil)

	res := b.Start(context.Background())
	assert.Equal(t, types.PhaseOperational, res.Phase)
	assert.False(t, res.IsLeader)
	assert.Equal(t, "n1", res.LeaderID)
	assert.Equal(t, "n1", joinedLeader)
	assert.False(t, b.IsLeader())
}

func TestBootstrap_HandleNodeJoin_TransitionsToOperational(t *testing.T) {
	cfg := DefaultBootstrapConfig("n1", "127.0.0.1:7000")
	var formedWith []string
	b := NewBootstrap(cfg, nil, nil, nil, func(nodes []string) { formedWith = nodes })

	b.Start(context.Background())
	require.True(t, b.IsLeader())
	assert.Equal(t, types.PhaseSingleLeader, b.Phase())

	res := b.HandleNodeJoin("n2")
	assert.Equal(t, types.PhaseOperational, res.Phase)
	assert.Equal(t, 2, res.ClusterSize)
	assert.Equal(t, []string{"n1", "n2"}, formedWith)
}

func TestBootstrap_HandleNodeJoin_RejectsWhenNotLeader(t *testing.T) {
	cfg := DefaultBootstrapConfig("n2", "127.0.0.1:7001")
	cfg.SeedNodes = []string{"seed"}
	prober := func(ctx context.Context, seed string) (string, bool, error) { return "n1", true, nil }
	b := NewBootstrap(cfg, prober, nil, nil, nil)
	b.Start(context.Background())

	res := b.HandleNodeJoin("n3")
	assert.Equal(t, "not the leader", res.Message)
}

func TestBootstrap_HandleNodeLeave_RevertsToSingleNode(t *testing.T) {
	cfg := DefaultBootstrapConfig("n1", "127.0.0.1:7000")
	b := NewBootstrap(cfg, nil, nil, nil, nil)
	b.Start(context.Background())
	b.HandleNodeJoin("n2")
	require.Equal(t, types.PhaseOperational, b.Phase())

	res := b.HandleNodeLeave("n2")
	assert.Equal(t, types.PhaseSingleLeader, res.Phase)
	assert.Equal(t, 1, res.ClusterSize)
}

func TestBootstrap_HandleNodeLeave_ClearsLeadershipIfLeaderLeft(t *testing.T) {
	cfg := DefaultBootstrapConfig("n2", "127.0.0.1:7001")
	cfg.SeedNodes = []string{"seed"}
	prober := func(ctx context.Context, seed string) (string, bool, error) { return "n1", true, nil }
	b := NewBootstrap(cfg, prober, nil, nil, nil)
	b.Start(context.Background())

	b.HandleNodeLeave("n1")
	status := b.Status()
	assert.Equal(t, "", status.LeaderID)
	assert.False(t, status.IsLeader)
}

func TestBootstrap_NoSeedsDisallowSingleNodeWaitsThenStop(t *testing.T) {
	cfg := DefaultBootstrapConfig("n1", "127.0.0.1:7000")
	cfg.AllowSingleNode = false
	b := NewBootstrap(cfg, nil, nil, nil, nil)

	res := b.Start(context.Background())
	assert.Equal(t, types.PhaseDiscovering, res.Phase)
	b.Stop()
}
