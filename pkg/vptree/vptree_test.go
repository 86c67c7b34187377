package vptree

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrisearch/distrisearch/pkg/distance"
	"github.com/distrisearch/distrisearch/pkg/types"
)

func randomCorpus(n int, seed int64) []*types.Document {
	rng := rand.New(rand.NewSource(seed))
	docs := make([]*types.Document, n)
	for i := range docs {
		name := map[string]float64{}
		for j := 0; j < 5; j++ {
			name[string(rune('a'+j))] = rng.Float64()
		}
		mh := make([]uint64, 8)
		for j := range mh {
			mh[j] = rng.Uint64()
		}
		topics := make([]float64, 4)
		var total float64
		for j := range topics {
			topics[j] = rng.Float64()
			total += topics[j]
		}
		for j := range topics {
			topics[j] /= total
		}
		docs[i] = &types.Document{
			ID:                 string(rune('A' + i%26)) + string(rune('0'+i/26)),
			NameVector:         name,
			MinHashSignature:   mh,
			TopicDistribution:  topics,
		}
	}
	return docs
}

func bruteForceKNN(query *types.Document, docs []*types.Document, k int, w distance.Weights) []ScoredDocument {
	scored := make([]ScoredDocument, len(docs))
	for i, d := range docs {
		scored[i] = ScoredDocument{d, distance.Composite(query, d, w)}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Distance < scored[j].Distance })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func TestBuild_LeafSizeInvariant(t *testing.T) {
	docs := randomCorpus(200, 1)
	opts := DefaultBuildOptions()
	opts.LeafSize = 10
	opts.Rand = rand.New(rand.NewSource(42))

	tree, err := Build(docs, opts)
	require.NoError(t, err)

	stats := tree.Stats()
	assert.Equal(t, 200, stats.TotalDocuments)
	assert.LessOrEqual(t, stats.MaxLeafSize, opts.LeafSize)
	for _, leaf := range tree.Leaves() {
		assert.LessOrEqual(t, leaf.Size(), opts.LeafSize)
		assert.Greater(t, leaf.Size(), 0)
	}
}

func TestBuild_EmptyCorpus(t *testing.T) {
	tree, err := Build(nil, DefaultBuildOptions())
	require.NoError(t, err)
	assert.True(t, tree.IsEmpty())
	assert.Empty(t, tree.Leaves())
}

func TestBuild_AllEqualDistancesSplitsByCount(t *testing.T) {
	// Identical vectors mean distance is 0 between every pair, forcing the
	// degenerate median-split path to fall back to a count-based split.
	docs := make([]*types.Document, 20)
	for i := range docs {
		docs[i] = &types.Document{
			ID:                string(rune('a' + i)),
			NameVector:        map[string]float64{"x": 1},
			MinHashSignature:  []uint64{1, 2, 3},
			TopicDistribution: []float64{0.5, 0.5},
		}
	}
	opts := DefaultBuildOptions()
	opts.LeafSize = 4
	opts.Rand = rand.New(rand.NewSource(7))

	tree, err := Build(docs, opts)
	require.NoError(t, err)

	stats := tree.Stats()
	assert.Equal(t, 20, stats.TotalDocuments)
	assert.Greater(t, stats.LeafCount, 1)
}

func TestKNN_MatchesBruteForceOnSmallCorpus(t *testing.T) {
	docs := randomCorpus(150, 3)
	opts := DefaultBuildOptions()
	opts.LeafSize = 8
	opts.Strategy = StrategyMaxSpread
	opts.Rand = rand.New(rand.NewSource(99))

	tree, err := Build(docs, opts)
	require.NoError(t, err)

	query := docs[0]
	k := 5

	got := tree.KNN(query, k, 0)
	want := bruteForceKNN(query, docs, k, opts.Weights)

	require.Len(t, got, k)
	// The composite distance is non-metric, so exact recall isn't
	// guaranteed; require the tree's worst returned distance not to exceed
	// the true k-th nearest distance by more than a small slack.
	assert.LessOrEqual(t, got[k-1].Distance, want[k-1].Distance+0.2)
	assert.InDelta(t, want[0].Distance, got[0].Distance, 0.05)
}

func TestKNN_ResultsSortedAscending(t *testing.T) {
	docs := randomCorpus(100, 5)
	tree, err := Build(docs, DefaultBuildOptions())
	require.NoError(t, err)

	got := tree.KNN(docs[10], 10, 0)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
}

func TestRange_ReturnsAllWithinRadius(t *testing.T) {
	docs := randomCorpus(120, 6)
	tree, err := Build(docs, DefaultBuildOptions())
	require.NoError(t, err)

	query := docs[0]
	radius := 0.3
	got := tree.Range(query, radius)

	var wantCount int
	for _, d := range docs {
		if distance.Composite(query, d, weightsOf(tree)) <= radius {
			wantCount++
		}
	}
	assert.Equal(t, wantCount, len(got))
	for _, sd := range got {
		assert.LessOrEqual(t, sd.Distance, radius)
	}
}

// weightsOf reaches the weights a tree was built with, for tests that need
// to reproduce the same composite distance without exporting internals.
func weightsOf(t *Tree) distance.Weights {
	return t.opts.Weights
}

func TestFindPartition_IsDeterministic(t *testing.T) {
	docs := randomCorpus(80, 8)
	tree, err := Build(docs, DefaultBuildOptions())
	require.NoError(t, err)

	for _, d := range docs {
		a, err := tree.FindPartition(d)
		require.NoError(t, err)
		b, err := tree.FindPartition(d)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestFindPartition_EmptyTreeErrors(t *testing.T) {
	tree, err := Build(nil, DefaultBuildOptions())
	require.NoError(t, err)

	_, err = tree.FindPartition(&types.Document{ID: "x"})
	assert.ErrorIs(t, err, ErrEmptyTree)
}

func TestAssign_RoundRobinCyclesNodes(t *testing.T) {
	docs := randomCorpus(300, 9)
	opts := DefaultBuildOptions()
	opts.LeafSize = 15
	tree, err := Build(docs, opts)
	require.NoError(t, err)

	nodes := []*types.ClusterNode{
		{ID: "n1", Capacity: 1000},
		{ID: "n2", Capacity: 1000},
		{ID: "n3", Capacity: 1000},
	}
	assignment := tree.Assign(nodes, AssignRoundRobin)
	assert.Len(t, assignment, len(tree.Leaves()))

	seen := map[string]bool{}
	for _, nodeID := range assignment {
		seen[nodeID] = true
	}
	assert.Len(t, seen, 3)
}

func TestAssign_BalancedMinimizesImbalance(t *testing.T) {
	docs := randomCorpus(400, 10)
	opts := DefaultBuildOptions()
	opts.LeafSize = 10
	tree, err := Build(docs, opts)
	require.NoError(t, err)

	nodes := []*types.ClusterNode{
		{ID: "n1", Capacity: 1000},
		{ID: "n2", Capacity: 1000},
	}
	tree.Assign(nodes, AssignBalanced)

	totals := map[string]int{}
	for _, leaf := range tree.Leaves() {
		totals[leaf.AssignedNode] += leaf.Size()
	}
	require.Len(t, totals, 2)

	diff := totals["n1"] - totals["n2"]
	if diff < 0 {
		diff = -diff
	}
	// Greedy balancing should land within two leaves' worth of documents.
	assert.LessOrEqual(t, diff, opts.LeafSize*2)
}
