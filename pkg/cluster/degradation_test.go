package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrisearch/distrisearch/pkg/types"
)

func testDegradationConfig(nodeID string) DegradationManagerConfig {
	return DegradationManagerConfig{
		NodeID:          nodeID,
		NodeAddress:     "127.0.0.1:9000",
		Options:         DefaultConfigOptions(),
		Bootstrap:       DefaultBootstrapConfig(nodeID, "127.0.0.1:9000"),
		Election:        ElectionConfig{ElectionTimeout: 50 * time.Millisecond, CoordinatorTimeout: 50 * time.Millisecond},
		MonitorInterval: time.Hour, // disable periodic ticks for deterministic tests
	}
}

func TestDegradationManager_StartsSignificantAlone(t *testing.T) {
	dm := NewDegradationManager(testDegradationConfig("n1"), nil, nil)
	dm.Start(context.Background())
	defer dm.Stop()

	assert.Equal(t, types.DegradationSignificant, dm.Level())
	caps := dm.Capabilities()
	assert.True(t, caps.CanWrite)
	assert.True(t, caps.CanRead)
	assert.False(t, caps.CanReplicate)
}

func TestDegradationManager_ReachesNoneAtTargetCluster(t *testing.T) {
	dm := NewDegradationManager(testDegradationConfig("n1"), nil, nil)
	dm.Start(context.Background())
	defer dm.Stop()

	dm.NodeJoined("n2")
	dm.NodeJoined("n3")

	assert.Equal(t, types.DegradationNone, dm.Level())
	caps := dm.Capabilities()
	assert.True(t, caps.CanReplicate)
	assert.True(t, caps.StrongConsistencyAvailable)
}

func TestDegradationManager_MinorityPartitionStaysWritable(t *testing.T) {
	dm := NewDegradationManager(testDegradationConfig("n1"), nil, nil)
	dm.Start(context.Background())
	defer dm.Stop()

	dm.NodeJoined("n2")
	dm.NodeJoined("n3")
	require.Equal(t, types.DegradationNone, dm.Level())

	// Lose 2 of 3 nodes -> minority partition.
	dm.NodeFailed("n2")
	dm.NodeFailed("n3")

	caps := dm.Capabilities()
	assert.True(t, caps.CanWrite, "AP design must keep accepting writes on the minority side")
	assert.True(t, caps.CanRead)
	assert.NotEqual(t, types.DegradationCritical, dm.Level(), "spec redesign forbids the reference's CRITICAL/read-only minority state")
}

func TestDegradationManager_DegradationChangeCallbackFires(t *testing.T) {
	dm := NewDegradationManager(testDegradationConfig("n1"), nil, nil)

	changes := make(chan types.DegradationLevel, 8)
	dm.OnDegradationChange(func(level types.DegradationLevel, caps types.Capabilities) {
		changes <- level
	})

	dm.Start(context.Background())
	defer dm.Stop()

	dm.NodeJoined("n2")
	dm.NodeJoined("n3")

	require.Eventually(t, func() bool {
		return dm.Level() == types.DegradationNone
	}, time.Second, 10*time.Millisecond)

	select {
	case level := <-changes:
		assert.NotEqual(t, types.DegradationLevel(-1), level)
	case <-time.After(time.Second):
		t.Fatal("expected at least one degradation change notification")
	}
}

func TestDegradationManager_CheckOperationAllowed(t *testing.T) {
	dm := NewDegradationManager(testDegradationConfig("n1"), nil, nil)
	dm.Start(context.Background())
	defer dm.Stop()

	write := dm.CheckOperationAllowed("write")
	assert.True(t, write.Allowed)

	replicate := dm.CheckOperationAllowed("replicate")
	assert.False(t, replicate.Allowed)
	assert.Contains(t, replicate.Reason, "insufficient nodes")
}

func TestDegradationManager_StatusReflectsBootstrap(t *testing.T) {
	dm := NewDegradationManager(testDegradationConfig("n1"), nil, nil)
	dm.Start(context.Background())
	defer dm.Stop()

	status := dm.Status()
	assert.Equal(t, "n1", status.NodeID)
	assert.True(t, status.IsLeader)
	assert.Equal(t, types.PhaseSingleLeader, status.BootstrapPhase)
	assert.NotEmpty(t, status.Summary)
}
