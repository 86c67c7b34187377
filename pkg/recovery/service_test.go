package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrisearch/distrisearch/pkg/replication"
	"github.com/distrisearch/distrisearch/pkg/similarity"
	"github.com/distrisearch/distrisearch/pkg/types"
)

type fakeLister struct{ nodes []*types.ClusterNode }

func (f *fakeLister) HealthyNodes() []*types.ClusterNode {
	var out []*types.ClusterNode
	for _, n := range f.nodes {
		if n.IsHealthy() {
			out = append(out, n)
		}
	}
	return out
}

func clusterNode(id string) *types.ClusterNode {
	return &types.ClusterNode{ID: id, Capacity: 100, Status: types.NodeStatusHealthy}
}

func fastServiceConfig() Config {
	cfg := DefaultConfig()
	cfg.Health.HeartbeatInterval = 10 * time.Millisecond
	cfg.Health.FailureTimeout = 20 * time.Millisecond
	cfg.Health.SuspectThreshold = 1
	cfg.Health.FailureThreshold = 2
	cfg.AssessmentDelay = time.Millisecond
	cfg.VerificationTimeout = 200 * time.Millisecond
	cfg.VerificationPollInterval = 5 * time.Millisecond
	return cfg
}

func TestTriggerManualRecovery_NoDocumentsOnNodeCompletesImmediately(t *testing.T) {
	tracker := replication.NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	manager := replication.NewManager(tracker, graph, &fakeLister{}, nil, replication.DefaultConfig())

	svc := NewService(fastServiceConfig(), tracker, manager)

	task := svc.TriggerManualRecovery("ghost-node")
	require.NotNil(t, task)
	assert.Equal(t, PhaseCompleted, task.Phase)
	assert.Empty(t, task.AffectedDocuments)
}

func TestTriggerManualRecovery_PromotesAndRepairsAffectedDocuments(t *testing.T) {
	tracker := replication.NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	lister := &fakeLister{nodes: []*types.ClusterNode{clusterNode("n1"), clusterNode("n2")}}
	manager := replication.NewManager(tracker, graph, lister, nil, replication.DefaultConfig())

	tracker.RegisterDocument("doc1", "failed-node", []string{"n1"}, 2, 0, "")
	require.NoError(t, tracker.UpdateReplicaStatus("doc1", "n1", types.ReplicaStatusActive, 0))

	svc := NewService(fastServiceConfig(), tracker, manager)

	task := svc.TriggerManualRecovery("failed-node")
	require.NotNil(t, task)
	assert.Equal(t, PhaseCompleted, task.Phase)
	assert.Contains(t, task.AffectedDocuments, "doc1")

	rs := tracker.Get("doc1")
	require.NotNil(t, rs)
	primary := rs.Primary()
	require.NotNil(t, primary)
	assert.Equal(t, "n1", primary.NodeID)
}

func TestRecoveryHistory_RecordsCompletedTasks(t *testing.T) {
	tracker := replication.NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	manager := replication.NewManager(tracker, graph, &fakeLister{}, nil, replication.DefaultConfig())
	svc := NewService(fastServiceConfig(), tracker, manager)

	svc.TriggerManualRecovery("n1")
	svc.TriggerManualRecovery("n2")

	assert.Len(t, svc.RecoveryHistory(0), 2)
	assert.Len(t, svc.RecoveryHistory(1), 1)
}

func TestHeartbeatFailureTriggersAutomaticRecovery(t *testing.T) {
	tracker := replication.NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	lister := &fakeLister{nodes: []*types.ClusterNode{clusterNode("n1"), clusterNode("n2")}}
	manager := replication.NewManager(tracker, graph, lister, nil, replication.DefaultConfig())

	tracker.RegisterDocument("doc1", "flaky-node", []string{"n1"}, 2, 0, "")
	require.NoError(t, tracker.UpdateReplicaStatus("doc1", "n1", types.ReplicaStatusActive, 0))

	svc := NewService(fastServiceConfig(), tracker, manager)
	svc.RegisterNode("flaky-node", nil)
	svc.RecordHeartbeat("flaky-node", 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return len(svc.RecoveryHistory(0)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	history := svc.RecoveryHistory(1)
	require.Len(t, history, 1)
	assert.Equal(t, "flaky-node", history[0].FailedNode)
	assert.Equal(t, PhaseCompleted, history[0].Phase)
	assert.Contains(t, svc.FailedNodes(), "flaky-node")
}

func TestStats_AggregatesRecoveryAndDetectorCounts(t *testing.T) {
	tracker := replication.NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	manager := replication.NewManager(tracker, graph, &fakeLister{}, nil, replication.DefaultConfig())
	svc := NewService(fastServiceConfig(), tracker, manager)
	svc.RegisterNode("n1", nil)
	svc.RecordHeartbeat("n1", 1, nil)

	svc.TriggerManualRecovery("n1")

	stats := svc.Stats()
	assert.Equal(t, 1, stats.TotalRecoveries)
	assert.Equal(t, 0, stats.ActiveRecoveries)
	assert.Equal(t, 1, stats.Detector.TotalNodes)
}

func TestGetNodeHealth_ReflectsDetectorState(t *testing.T) {
	tracker := replication.NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	manager := replication.NewManager(tracker, graph, &fakeLister{}, nil, replication.DefaultConfig())
	svc := NewService(fastServiceConfig(), tracker, manager)

	svc.RegisterNode("n1", nil)
	svc.RecordHeartbeat("n1", 2.5, nil)

	h, ok := svc.GetNodeHealth("n1")
	require.True(t, ok)
	assert.Equal(t, types.NodeStatusHealthy, h.Status)
	assert.Contains(t, svc.HealthyNodes(), "n1")
}
