package partition

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrisearch/distrisearch/pkg/types"
)

type fakeReplicator struct {
	replicas []string
	err      error
}

func (f *fakeReplicator) MaterializeReplicas(ctx context.Context, doc *types.Document, primary string) ([]string, error) {
	return f.replicas, f.err
}

type fakeRebalanceChecker struct{ needs bool }

func (f *fakeRebalanceChecker) NeedsRebalance(threshold float64) bool { return f.needs }

func corpus(n int) []*types.Document {
	rng := rand.New(rand.NewSource(int64(n)))
	docs := make([]*types.Document, n)
	for i := range docs {
		docs[i] = &types.Document{
			ID:                 string(rune('a'+i%26)) + string(rune('A'+i/26)),
			NameVector:         map[string]float64{"x": rng.Float64(), "y": rng.Float64()},
			MinHashSignature:   []uint64{rng.Uint64(), rng.Uint64(), rng.Uint64()},
			TopicDistribution:  []float64{rng.Float64(), rng.Float64(), rng.Float64()},
			CreatedAt:          time.Now(),
		}
	}
	return docs
}

func nodes(n int) []*types.ClusterNode {
	out := make([]*types.ClusterNode, n)
	for i := range out {
		out[i] = &types.ClusterNode{
			ID:       string(rune('n' + i)),
			Capacity: 1000,
			Status:   types.NodeStatusHealthy,
		}
	}
	return out
}

func TestManager_RouteBeforeBuildErrors(t *testing.T) {
	m := NewManager(nil, nil, DefaultOptions())
	_, err := m.Route(context.Background(), &types.Document{ID: "x"})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestManager_BuildAndRoute(t *testing.T) {
	docs := corpus(200)
	ns := nodes(3)

	rep := &fakeReplicator{replicas: []string{"n1", "n2"}}
	m := NewManager(rep, nil, DefaultOptions())

	require.NoError(t, m.Build(docs, ns))
	assert.True(t, m.Initialized())

	result, err := m.Route(context.Background(), docs[0])
	require.NoError(t, err)
	assert.NotEmpty(t, result.PartitionID)
	assert.NotEmpty(t, result.PrimaryNode)
	assert.Equal(t, []string{"n1", "n2"}, result.ReplicaNodes)
}

func TestManager_NearestEmptyWhenNotBuilt(t *testing.T) {
	m := NewManager(nil, nil, DefaultOptions())
	assert.Nil(t, m.Nearest(&types.Document{ID: "q"}, 5))
}

func TestManager_NearestReturnsKResults(t *testing.T) {
	docs := corpus(100)
	ns := nodes(2)
	m := NewManager(nil, nil, DefaultOptions())
	require.NoError(t, m.Build(docs, ns))

	got := m.Nearest(docs[0], 5)
	assert.Len(t, got, 5)
}

func TestManager_NodesForQueryFallsBackToAllHealthyWhenUninitialized(t *testing.T) {
	ns := nodes(3)
	ns[1].Status = types.NodeStatusFailed
	m := NewManager(nil, nil, DefaultOptions())
	m.nodes = ns // simulate a prior known node set without a build

	got := m.NodesForQuery(&types.Document{ID: "q"})
	assert.Len(t, got, 2)
}

func TestManager_NodesForQueryBoundedAdditionalLeaves(t *testing.T) {
	docs := corpus(500)
	ns := nodes(10)

	opts := DefaultOptions()
	opts.BuildOptions.LeafSize = 5
	opts.MaxAdditionalLeaves = 5
	opts.NeighborhoodRadius = 1.0 // wide enough to pull in many leaves

	m := NewManager(nil, nil, opts)
	require.NoError(t, m.Build(docs, ns))

	got := m.NodesForQuery(docs[0])
	assert.LessOrEqual(t, len(got), 6) // primary + at most 5 additional
}

func TestManager_NeedsRebalanceDelegates(t *testing.T) {
	checker := &fakeRebalanceChecker{needs: true}
	m := NewManager(nil, checker, DefaultOptions())
	assert.True(t, m.NeedsRebalance(0.5))
}

func TestManager_NeedsRebalanceFalseWithoutChecker(t *testing.T) {
	m := NewManager(nil, nil, DefaultOptions())
	assert.False(t, m.NeedsRebalance(0.5))
}

func TestManager_BuildReplacesPriorTree(t *testing.T) {
	m := NewManager(nil, nil, DefaultOptions())
	require.NoError(t, m.Build(corpus(50), nodes(2)))
	first := m.Nearest(corpus(1)[0], 3)

	require.NoError(t, m.Build(corpus(80), nodes(4)))
	second := m.Nearest(corpus(1)[0], 3)

	assert.Len(t, first, 3)
	assert.Len(t, second, 3)
}
