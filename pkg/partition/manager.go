package partition

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/distrisearch/distrisearch/pkg/types"
	"github.com/distrisearch/distrisearch/pkg/vptree"
)

// ErrNotInitialized is returned by operations that require a built tree.
var ErrNotInitialized = errors.New("partition: manager not built yet")

// ReplicaMaterializer asks the replication layer to place replicas for a
// newly-routed document. Implemented by replication.Manager; declared here
// so pkg/partition never imports pkg/replication.
type ReplicaMaterializer interface {
	MaterializeReplicas(ctx context.Context, doc *types.Document, primary string) ([]string, error)
}

// RebalanceChecker reports whether the cluster's current load distribution
// warrants a rebalance. Implemented by rebalance.LoadCalculator.
type RebalanceChecker interface {
	NeedsRebalance(threshold float64) bool
}

// Options configures a Manager.
type Options struct {
	BuildOptions         vptree.BuildOptions
	AssignStrategy       vptree.AssignmentStrategy
	NeighborhoodRadius   float64
	MaxAdditionalLeaves  int
}

// DefaultOptions mirrors the spec defaults: neighborhood radius 0.3, at
// most 5 additional leaves consulted per query.
func DefaultOptions() Options {
	return Options{
		BuildOptions:        vptree.DefaultBuildOptions(),
		AssignStrategy:      vptree.AssignBalanced,
		NeighborhoodRadius:  0.3,
		MaxAdditionalLeaves: 5,
	}
}

// RouteResult is the outcome of routing a document to a partition.
type RouteResult struct {
	PartitionID  string
	PrimaryNode  string
	ReplicaNodes []string
}

// Manager joins C2 (VP-Tree) and C3 (leaf assignment) into the partition
// manager (C4): it builds partitions from a corpus, routes documents to
// their primary node, and answers "which nodes should serve this query".
type Manager struct {
	mu sync.RWMutex

	opts Options

	tree        *vptree.Tree
	assignment  map[string]string // leaf node_id -> cluster node_id
	nodes       []*types.ClusterNode
	initialized bool

	replicator ReplicaMaterializer
	rebalancer RebalanceChecker
}

// NewManager constructs a Manager. replicator and rebalancer may be nil in
// tests that only exercise routing/search; with a nil replicator Route
// places no replicas and returns the primary alone, without an error.
func NewManager(replicator ReplicaMaterializer, rebalancer RebalanceChecker, opts Options) *Manager {
	if opts.MaxAdditionalLeaves <= 0 {
		opts.MaxAdditionalLeaves = DefaultOptions().MaxAdditionalLeaves
	}
	if opts.NeighborhoodRadius <= 0 {
		opts.NeighborhoodRadius = DefaultOptions().NeighborhoodRadius
	}
	if opts.AssignStrategy == "" {
		opts.AssignStrategy = vptree.AssignBalanced
	}
	return &Manager{
		opts:       opts,
		replicator: replicator,
		rebalancer: rebalancer,
	}
}

// Build constructs the VP-Tree over docs and assigns its leaves to nodes,
// marking the manager initialized. A subsequent Build fully replaces the
// prior tree and assignment table atomically.
func (m *Manager) Build(docs []*types.Document, nodes []*types.ClusterNode) error {
	tree, err := vptree.Build(docs, m.opts.BuildOptions)
	if err != nil {
		return err
	}
	assignment := tree.Assign(nodes, m.opts.AssignStrategy)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree = tree
	m.assignment = assignment
	m.nodes = append([]*types.ClusterNode(nil), nodes...)
	m.initialized = true
	return nil
}

// Route finds doc's partition, materializes its replicas via the injected
// ReplicaMaterializer, and returns the resulting placement.
func (m *Manager) Route(ctx context.Context, doc *types.Document) (*RouteResult, error) {
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	tree := m.tree
	assignment := m.assignment
	m.mu.RUnlock()

	leafID, err := tree.FindPartition(doc)
	if err != nil {
		return nil, err
	}
	primary := assignment[leafID]

	var replicas []string
	if m.replicator != nil {
		replicas, err = m.replicator.MaterializeReplicas(ctx, doc, primary)
		if err != nil {
			return nil, err
		}
	}

	return &RouteResult{
		PartitionID:  leafID,
		PrimaryNode:  primary,
		ReplicaNodes: replicas,
	}, nil
}

// Nearest returns the k nearest documents to query, empty when the
// manager hasn't been built yet.
func (m *Manager) Nearest(query *types.Document, k int) []vptree.ScoredDocument {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil
	}
	return m.tree.KNN(query, k, 0)
}

// NodesForQuery returns the node owning query's partition plus owners of
// any nearby leaves (within NeighborhoodRadius, capped at
// MaxAdditionalLeaves), the query-side locality optimization from spec
// §4.3. If the manager isn't initialized, it returns every healthy node.
func (m *Manager) NodesForQuery(query *types.Document) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return healthyNodeIDs(m.nodes)
	}

	leafID, err := m.tree.FindPartition(query)
	if err != nil {
		return healthyNodeIDs(m.nodes)
	}
	primary := m.assignment[leafID]

	seen := map[string]bool{primary: true}
	result := []string{primary}

	neighbors := m.tree.Range(query, m.opts.NeighborhoodRadius)
	additional := 0
	for _, sd := range neighbors {
		if additional >= m.opts.MaxAdditionalLeaves {
			break
		}
		otherLeaf, err := m.tree.FindPartition(sd.Document)
		if err != nil || otherLeaf == leafID {
			continue
		}
		node, ok := m.assignment[otherLeaf]
		if !ok || seen[node] {
			continue
		}
		seen[node] = true
		result = append(result, node)
		additional++
	}

	sort.Strings(result[1:])
	return result
}

// NeedsRebalance delegates to the injected load calculator, defaulting to
// false when none is wired.
func (m *Manager) NeedsRebalance(threshold float64) bool {
	if m.rebalancer == nil {
		return false
	}
	return m.rebalancer.NeedsRebalance(threshold)
}

// Initialized reports whether Build has completed at least once.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

func healthyNodeIDs(nodes []*types.ClusterNode) []string {
	var ids []string
	for _, n := range nodes {
		if n.IsHealthy() {
			ids = append(ids, n.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
