package replication

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrisearch/distrisearch/pkg/similarity"
	"github.com/distrisearch/distrisearch/pkg/types"
)

type fakeNodeLister struct {
	nodes []*types.ClusterNode
}

func (f *fakeNodeLister) HealthyNodes() []*types.ClusterNode {
	var out []*types.ClusterNode
	for _, n := range f.nodes {
		if n.IsHealthy() {
			out = append(out, n)
		}
	}
	return out
}

func clusterNode(id string, loadFactor float64, healthy bool) *types.ClusterNode {
	status := types.NodeStatusHealthy
	if !healthy {
		status = types.NodeStatusFailed
	}
	return &types.ClusterNode{
		ID:            id,
		Capacity:      100,
		DocumentCount: int64(loadFactor * 100),
		Status:        status,
	}
}

func TestSelectReplicas_FallsBackToLeastLoadedWithNoSignal(t *testing.T) {
	tracker := NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	lister := &fakeNodeLister{nodes: []*types.ClusterNode{
		clusterNode("n1", 0.8, true),
		clusterNode("n2", 0.1, true),
		clusterNode("n3", 0.5, true),
	}}

	cfg := DefaultConfig()
	cfg.ReplicationFactor = 2
	m := NewManager(tracker, graph, lister, nil, cfg)

	doc := &types.Document{ID: "doc1"}
	targets := m.SelectReplicas(doc, "primary")

	require.Len(t, targets, 1)
	assert.Equal(t, "n2", targets[0]) // least loaded
}

func TestSelectReplicas_UsesAffinityWhenGraphHasSignal(t *testing.T) {
	tracker := NewTracker(2)
	graph := similarity.NewGraph(similarity.Options{SimilarityThreshold: 0.1, MaxNeighbors: 10})

	graph.AddDocument("doc1", "primary", nil)
	graph.AddDocument("neighbor", "n1", nil)
	graph.AddEdge("doc1", "neighbor", 0.9)

	lister := &fakeNodeLister{nodes: []*types.ClusterNode{
		clusterNode("n1", 0.9, true), // holds the neighbor, heavily loaded
		clusterNode("n2", 0.1, true), // lightly loaded but no affinity
	}}

	cfg := DefaultConfig()
	cfg.ReplicationFactor = 2
	m := NewManager(tracker, graph, lister, nil, cfg)

	targets := m.SelectReplicas(&types.Document{ID: "doc1"}, "primary")
	require.Len(t, targets, 1)
	assert.Equal(t, "n1", targets[0])
}

func TestSelectReplicas_ZeroWhenRFIsOne(t *testing.T) {
	tracker := NewTracker(1)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	lister := &fakeNodeLister{nodes: []*types.ClusterNode{clusterNode("n1", 0.1, true)}}

	cfg := DefaultConfig()
	cfg.ReplicationFactor = 1
	m := NewManager(tracker, graph, lister, nil, cfg)

	assert.Empty(t, m.SelectReplicas(&types.Document{ID: "doc1"}, "primary"))
}

func TestMaterializeReplicas_RegistersAndEnqueues(t *testing.T) {
	tracker := NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	lister := &fakeNodeLister{nodes: []*types.ClusterNode{
		clusterNode("n1", 0.2, true),
		clusterNode("n2", 0.3, true),
	}}
	cfg := DefaultConfig()
	cfg.ReplicationFactor = 2
	m := NewManager(tracker, graph, lister, nil, cfg)

	targets, err := m.MaterializeReplicas(context.Background(), &types.Document{ID: "doc1", Size: 100}, "primary")
	require.NoError(t, err)
	require.Len(t, targets, 1)

	rs := tracker.Get("doc1")
	require.NotNil(t, rs)
	assert.Equal(t, 1, m.QueueDepth())
}

func TestManager_StartStopDrainsQueue(t *testing.T) {
	tracker := NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	lister := &fakeNodeLister{nodes: []*types.ClusterNode{clusterNode("n2", 0.1, true)}}

	var calls atomic.Int32
	transfer := func(ctx context.Context, documentID, source, target string) error {
		calls.Add(1)
		return nil
	}

	cfg := DefaultConfig()
	cfg.ReplicationFactor = 2
	m := NewManager(tracker, graph, lister, transfer, cfg)

	_, err := m.MaterializeReplicas(context.Background(), &types.Document{ID: "doc1"}, "primary")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return m.QueueDepth() == 0
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
}

func TestManager_RetriesOnTransferFailure(t *testing.T) {
	tracker := NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	lister := &fakeNodeLister{nodes: []*types.ClusterNode{clusterNode("n2", 0.1, true)}}

	var attempts atomic.Int32
	transfer := func(ctx context.Context, documentID, source, target string) error {
		n := attempts.Add(1)
		if n < 2 {
			return assert.AnError
		}
		return nil
	}

	cfg := DefaultConfig()
	cfg.ReplicationFactor = 2
	cfg.RetryDelay = 10 * time.Millisecond
	m := NewManager(tracker, graph, lister, transfer, cfg)

	_, err := m.MaterializeReplicas(context.Background(), &types.Document{ID: "doc1"}, "primary")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.Eventually(t, func() bool {
		return attempts.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond)

	m.Stop()
}

func TestOnNodeFailure_PromotesAndRepairs(t *testing.T) {
	tracker := NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	lister := &fakeNodeLister{nodes: []*types.ClusterNode{
		clusterNode("n1", 0.1, true),
		clusterNode("n2", 0.1, true),
	}}
	cfg := DefaultConfig()
	m := NewManager(tracker, graph, lister, nil, cfg)

	tracker.RegisterDocument("doc1", "primary", []string{"n1"}, 2, 0, "")
	require.NoError(t, tracker.UpdateReplicaStatus("doc1", "n1", types.ReplicaStatusActive, 0))

	affected := m.OnNodeFailure("primary")
	assert.Equal(t, 1, affected)

	rs := tracker.Get("doc1")
	require.NotNil(t, rs)
	primary := rs.Primary()
	require.NotNil(t, primary)
	assert.Equal(t, "n1", primary.NodeID)
}

func TestOnNodeJoined_BumpsRFAndRepairsUnderReplicated(t *testing.T) {
	tracker := NewTracker(1)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	lister := &fakeNodeLister{nodes: []*types.ClusterNode{
		clusterNode("n1", 0.1, true),
		clusterNode("n2", 0.2, true),
	}}
	cfg := DefaultConfig()
	cfg.ReplicationFactor = 1
	m := NewManager(tracker, graph, lister, nil, cfg)

	tracker.RegisterDocument("doc1", "primary", nil, 1, 0, "")

	m.OnNodeJoined(2)

	assert.Equal(t, 2, m.cfg.ReplicationFactor)
	assert.Equal(t, 1, m.QueueDepth())
}

func TestTaskHeap_OrdersByPriorityThenFIFO(t *testing.T) {
	tracker := NewTracker(2)
	graph := similarity.NewGraph(similarity.DefaultOptions())
	lister := &fakeNodeLister{}
	m := NewManager(tracker, graph, lister, nil, DefaultConfig())

	m.enqueue("a", "s", "t1", types.PriorityLow)
	m.enqueue("b", "s", "t2", types.PriorityCritical)
	m.enqueue("c", "s", "t3", types.PriorityNormal)

	first, ok := m.dequeue()
	require.True(t, ok)
	assert.Equal(t, types.PriorityCritical, first.Priority)

	second, ok := m.dequeue()
	require.True(t, ok)
	assert.Equal(t, types.PriorityNormal, second.Priority)

	third, ok := m.dequeue()
	require.True(t, ok)
	assert.Equal(t, types.PriorityLow, third.Priority)
}
