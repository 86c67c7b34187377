package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrisearch/distrisearch/pkg/types"
)

func fastConfig() Config {
	return Config{
		HeartbeatInterval: 10 * time.Millisecond,
		FailureTimeout:    20 * time.Millisecond,
		SuspectThreshold:  1,
		FailureThreshold:  2,
	}
}

func TestRegisterNode_StartsUnknown(t *testing.T) {
	d := NewDetector(fastConfig(), nil, nil)
	d.RegisterNode("n1", nil)

	h, ok := d.GetNodeHealth("n1")
	require.True(t, ok)
	assert.Equal(t, types.NodeStatusUnknown, h.Status)
}

func TestRecordHeartbeat_MarksHealthyAndClearsFailures(t *testing.T) {
	d := NewDetector(fastConfig(), nil, nil)
	d.RegisterNode("n1", nil)
	d.RecordFailure("n1", "probe timeout")
	d.RecordHeartbeat("n1", 1.5, map[string]string{"region": "us"})

	h, ok := d.GetNodeHealth("n1")
	require.True(t, ok)
	assert.Equal(t, types.NodeStatusHealthy, h.Status)
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Equal(t, "us", h.Metadata["region"])
}

func TestRecordFailure_EscalatesSuspectThenFailed(t *testing.T) {
	d := NewDetector(fastConfig(), nil, nil)
	d.RegisterNode("n1", nil)
	d.RecordHeartbeat("n1", 1, nil)

	d.RecordFailure("n1", "timeout")
	h, _ := d.GetNodeHealth("n1")
	assert.Equal(t, types.NodeStatusSuspect, h.Status)

	d.RecordFailure("n1", "timeout")
	h, _ = d.GetNodeHealth("n1")
	assert.Equal(t, types.NodeStatusFailed, h.Status)
	assert.Contains(t, d.FailedNodes(), "n1")
}

func TestRecordFailure_FiresOnFailureCallback(t *testing.T) {
	var fired atomic.Bool
	var gotEvent FailureEvent
	d := NewDetector(fastConfig(), func(e FailureEvent) {
		gotEvent = e
		fired.Store(true)
	}, nil)
	d.RegisterNode("n1", nil)
	d.RecordHeartbeat("n1", 1, nil)

	d.RecordFailure("n1", "x")
	d.RecordFailure("n1", "x")

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
	assert.Equal(t, "n1", gotEvent.NodeID)
}

func TestRecordHeartbeat_AfterFailedFiresRecoveryAndSetsRecovering(t *testing.T) {
	var recovered atomic.Bool
	var recoveredNode string
	d := NewDetector(fastConfig(), nil, func(nodeID string) {
		recoveredNode = nodeID
		recovered.Store(true)
	})
	d.RegisterNode("n1", nil)
	d.RecordHeartbeat("n1", 1, nil)
	d.RecordFailure("n1", "x")
	d.RecordFailure("n1", "x")
	require.Contains(t, d.FailedNodes(), "n1")

	d.RecordHeartbeat("n1", 1, nil)
	h, _ := d.GetNodeHealth("n1")
	assert.Equal(t, types.NodeStatusRecovering, h.Status)
	assert.Equal(t, 1, h.RecoveryAttempts)

	require.Eventually(t, recovered.Load, time.Second, time.Millisecond)
	assert.Equal(t, "n1", recoveredNode)
	assert.NotContains(t, d.FailedNodes(), "n1")
}

func TestMonitorLoop_DetectsSilentNodeTimeout(t *testing.T) {
	d := NewDetector(fastConfig(), nil, nil)
	d.RegisterNode("n1", nil)
	d.RecordHeartbeat("n1", 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.Eventually(t, func() bool {
		return d.IsNodeHealthy("n1") == false
	}, 2*time.Second, 5*time.Millisecond)

	assert.Contains(t, d.FailedNodes(), "n1")
}

func TestMonitorLoop_NeverHeartbeatingNodeEventuallyFails(t *testing.T) {
	d := NewDetector(fastConfig(), nil, nil)
	d.RegisterNode("n1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.Eventually(t, func() bool {
		_, ok := d.GetNodeHealth("n1")
		return ok && !d.IsNodeHealthy("n1")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealthyNodes_ReflectsOnlyHealthyStatus(t *testing.T) {
	d := NewDetector(fastConfig(), nil, nil)
	d.RegisterNode("n1", nil)
	d.RegisterNode("n2", nil)
	d.RecordHeartbeat("n1", 1, nil)

	assert.ElementsMatch(t, []string{"n1"}, d.HealthyNodes())
}

func TestUnregisterNode_RemovesFromAllViews(t *testing.T) {
	d := NewDetector(fastConfig(), nil, nil)
	d.RegisterNode("n1", nil)
	d.RecordHeartbeat("n1", 1, nil)
	d.UnregisterNode("n1")

	_, ok := d.GetNodeHealth("n1")
	assert.False(t, ok)
	assert.NotContains(t, d.HealthyNodes(), "n1")
}

func TestFailureHistory_BoundedByLimit(t *testing.T) {
	d := NewDetector(fastConfig(), nil, nil)
	for _, id := range []string{"n1", "n2", "n3"} {
		d.RegisterNode(id, nil)
		d.RecordHeartbeat(id, 1, nil)
		d.RecordFailure(id, "x")
		d.RecordFailure(id, "x")
	}

	assert.Len(t, d.FailureHistory(2), 2)
	assert.Len(t, d.FailureHistory(0), 3)
}

func TestStats_CountsStatusDistribution(t *testing.T) {
	d := NewDetector(fastConfig(), nil, nil)
	d.RegisterNode("n1", nil)
	d.RegisterNode("n2", nil)
	d.RecordHeartbeat("n1", 1, nil)

	stats := d.Stats()
	assert.Equal(t, 2, stats.TotalNodes)
	assert.Equal(t, 1, stats.HealthyNodes)
	assert.Equal(t, 1, stats.StatusDistribution[types.NodeStatusUnknown])
	assert.Equal(t, 1, stats.StatusDistribution[types.NodeStatusHealthy])
}

func TestStartStop_IsIdempotent(t *testing.T) {
	d := NewDetector(fastConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Start(ctx)
	d.Stop()
	d.Stop()
}
