package vptree

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/distrisearch/distrisearch/pkg/distance"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// ErrEmptyTree is returned by operations that require a built tree.
var ErrEmptyTree = errors.New("vptree: tree is empty")

// VantageStrategy selects how a node's vantage point is picked during build.
type VantageStrategy string

const (
	StrategyRandom    VantageStrategy = "random"
	StrategyMaxSpread  VantageStrategy = "max_spread"
	StrategyKMedoids   VantageStrategy = "k_medoids"
)

// Node is either an internal split node (vantage point, median distance,
// children) or a leaf (bounded bag of documents). depth and nodeID are set
// on every node; Tree.nodes indexes every node by ID for O(1) lookup.
type Node struct {
	NodeID         string
	Depth          int
	Vantage        *types.Document
	Median         float64
	Left           *Node
	Right          *Node
	Documents      []*types.Document // only populated on leaves
	AssignedNode   string            // cluster node owning this leaf
}

// IsLeaf reports whether this node has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// Size returns the number of documents in this node's subtree.
func (n *Node) Size() int {
	if n == nil {
		return 0
	}
	if n.IsLeaf() {
		return len(n.Documents)
	}
	size := n.Left.Size() + n.Right.Size()
	if n.Vantage != nil {
		size++
	}
	return size
}

// BuildOptions configures tree construction.
type BuildOptions struct {
	LeafSize   int
	Strategy   VantageStrategy
	SampleSize int
	Weights    distance.Weights
	Rand       *rand.Rand // optional, for deterministic tests
}

// DefaultBuildOptions mirrors the reference defaults: leaf size 50,
// k-medoids vantage selection sampling up to 10 candidates.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		LeafSize:   50,
		Strategy:   StrategyKMedoids,
		SampleSize: 10,
		Weights:    distance.DefaultWeights(),
	}
}

// Tree is an immutable (after Build) VP-Tree over a document corpus.
type Tree struct {
	root    *Node
	nodes   map[string]*Node
	opts    BuildOptions
	counter int
}

// Build constructs a new VP-Tree from docs. The returned tree is safe for
// concurrent read-only use; rebuilding means calling Build again and
// swapping the pointer.
func Build(docs []*types.Document, opts BuildOptions) (*Tree, error) {
	if opts.LeafSize <= 0 {
		opts.LeafSize = DefaultBuildOptions().LeafSize
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultBuildOptions().SampleSize
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyKMedoids
	}
	if opts.Weights == (distance.Weights{}) {
		opts.Weights = distance.DefaultWeights()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}

	t := &Tree{
		nodes: make(map[string]*Node),
		opts:  opts,
	}
	t.root = t.buildRecursive(docs, 0)
	return t, nil
}

func (t *Tree) nextID() string {
	t.counter++
	return fmt.Sprintf("vpn_%d", t.counter)
}

func (t *Tree) dist(a, b *types.Document) float64 {
	return distance.Composite(a, b, t.opts.Weights)
}

func (t *Tree) buildRecursive(docs []*types.Document, depth int) *Node {
	if len(docs) == 0 {
		return nil
	}

	id := t.nextID()

	if len(docs) <= t.opts.LeafSize {
		leaf := &Node{
			NodeID:    id,
			Depth:     depth,
			Documents: append([]*types.Document(nil), docs...),
		}
		t.nodes[id] = leaf
		return leaf
	}

	vp, vpIdx := t.selectVantage(docs)

	remaining := make([]*types.Document, 0, len(docs)-1)
	remaining = append(remaining, docs[:vpIdx]...)
	remaining = append(remaining, docs[vpIdx+1:]...)

	type scored struct {
		doc *types.Document
		d   float64
	}
	scoredDocs := make([]scored, len(remaining))
	for i, d := range remaining {
		scoredDocs[i] = scored{d, t.dist(vp, d)}
	}
	sort.Slice(scoredDocs, func(i, j int) bool { return scoredDocs[i].d < scoredDocs[j].d })

	medianIdx := len(scoredDocs) / 2
	var median float64
	if len(scoredDocs) > 0 {
		median = scoredDocs[medianIdx].d
	}

	var leftDocs, rightDocs []*types.Document
	for _, sd := range scoredDocs {
		if sd.d <= median {
			leftDocs = append(leftDocs, sd.doc)
		} else {
			rightDocs = append(rightDocs, sd.doc)
		}
	}

	// Degenerate case: all distances equal (or otherwise one side empty).
	// Split by count instead, and set median to the distance of the first
	// right-side element, per spec §3/§4.2.
	if len(leftDocs) == 0 || len(rightDocs) == 0 {
		mid := len(remaining) / 2
		leftDocs = append([]*types.Document(nil), remaining[:mid]...)
		rightDocs = append([]*types.Document(nil), remaining[mid:]...)
		if len(leftDocs) > 0 && len(rightDocs) > 0 {
			median = t.dist(vp, rightDocs[0])
		}
	}

	node := &Node{
		NodeID:  id,
		Depth:   depth,
		Vantage: vp,
		Median:  median,
	}
	node.Left = t.buildRecursive(leftDocs, depth+1)
	node.Right = t.buildRecursive(rightDocs, depth+1)
	t.nodes[id] = node
	return node
}

// selectVantage dispatches to the configured vantage-point selection
// strategy and returns the chosen document and its index in docs.
func (t *Tree) selectVantage(docs []*types.Document) (*types.Document, int) {
	switch t.opts.Strategy {
	case StrategyRandom:
		return t.selectRandom(docs)
	case StrategyMaxSpread:
		return t.selectMaxSpread(docs)
	default:
		return t.selectKMedoids(docs)
	}
}

func (t *Tree) selectRandom(docs []*types.Document) (*types.Document, int) {
	idx := t.opts.Rand.Intn(len(docs))
	return docs[idx], idx
}

// selectMaxSpread samples up to SampleSize candidates and picks the one
// maximizing the variance of distances to the rest of the set.
func (t *Tree) selectMaxSpread(docs []*types.Document) (*types.Document, int) {
	candidates := t.sampleIndices(len(docs))

	bestIdx := candidates[0]
	bestSpread := -1.0

	for _, idx := range candidates {
		var dists []float64
		for j := range docs {
			if j == idx {
				continue
			}
			dists = append(dists, t.dist(docs[idx], docs[j]))
		}
		spread := variance(dists)
		if spread > bestSpread {
			bestSpread = spread
			bestIdx = idx
		}
	}
	return docs[bestIdx], bestIdx
}

// selectKMedoids samples up to SampleSize candidates and picks the one
// minimizing the sum of distances to the rest of the set (the medoid).
func (t *Tree) selectKMedoids(docs []*types.Document) (*types.Document, int) {
	var candidates []int
	if len(docs) <= t.opts.SampleSize {
		candidates = make([]int, len(docs))
		for i := range candidates {
			candidates[i] = i
		}
	} else {
		candidates = t.sampleIndices(len(docs))
	}

	bestIdx := candidates[0]
	bestTotal := math.Inf(1)

	for _, idx := range candidates {
		var total float64
		for j := range docs {
			if j == idx {
				continue
			}
			total += t.dist(docs[idx], docs[j])
		}
		if total < bestTotal {
			bestTotal = total
			bestIdx = idx
		}
	}
	return docs[bestIdx], bestIdx
}

func (t *Tree) sampleIndices(n int) []int {
	count := t.opts.SampleSize
	if count > n {
		count = n
	}
	perm := t.opts.Rand.Perm(n)
	return perm[:count]
}

func variance(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var mean float64
	for _, v := range vs {
		mean += v
	}
	mean /= float64(len(vs))

	var acc float64
	for _, v := range vs {
		diff := v - mean
		acc += diff * diff
	}
	return acc / float64(len(vs))
}

// ScoredDocument pairs a document with its distance to the query.
type ScoredDocument struct {
	Document *types.Document
	Distance float64
}

// KNN returns the k nearest documents to query, sorted ascending by
// distance, per spec §4.2. maxDistance, if > 0, seeds the initial pruning
// radius tau; otherwise tau starts at +Inf.
func (t *Tree) KNN(query *types.Document, k int, maxDistance float64) []ScoredDocument {
	if t.root == nil || k <= 0 {
		return nil
	}

	tau := math.Inf(1)
	if maxDistance > 0 {
		tau = maxDistance
	}

	var best []ScoredDocument

	var visit func(n *Node)
	visit = func(n *Node) {
		if n == nil {
			return
		}

		if n.IsLeaf() {
			for _, d := range n.Documents {
				dist := t.dist(query, d)
				if dist < tau {
					best = insertBest(best, ScoredDocument{d, dist}, k)
					if len(best) == k {
						tau = best[len(best)-1].Distance
					}
				}
			}
			return
		}

		vpDist := t.dist(query, n.Vantage)
		if vpDist < tau {
			best = insertBest(best, ScoredDocument{n.Vantage, vpDist}, k)
			if len(best) == k {
				tau = best[len(best)-1].Distance
			}
		}

		if vpDist <= n.Median {
			visit(n.Left)
			if vpDist+tau >= n.Median {
				visit(n.Right)
			}
		} else {
			visit(n.Right)
			if vpDist-tau <= n.Median {
				visit(n.Left)
			}
		}
	}
	visit(t.root)

	sort.Slice(best, func(i, j int) bool { return best[i].Distance < best[j].Distance })
	return best
}

func insertBest(best []ScoredDocument, cand ScoredDocument, k int) []ScoredDocument {
	best = append(best, cand)
	sort.Slice(best, func(i, j int) bool { return best[i].Distance < best[j].Distance })
	if len(best) > k {
		best = best[:k]
	}
	return best
}

// Range returns every document within radius of query, sorted ascending by
// distance.
func (t *Tree) Range(query *types.Document, radius float64) []ScoredDocument {
	if t.root == nil {
		return nil
	}

	var results []ScoredDocument

	var visit func(n *Node)
	visit = func(n *Node) {
		if n == nil {
			return
		}
		if n.IsLeaf() {
			for _, d := range n.Documents {
				dist := t.dist(query, d)
				if dist <= radius {
					results = append(results, ScoredDocument{d, dist})
				}
			}
			return
		}

		vpDist := t.dist(query, n.Vantage)
		if vpDist <= radius {
			results = append(results, ScoredDocument{n.Vantage, vpDist})
		}

		if vpDist-radius <= n.Median {
			visit(n.Left)
		}
		if vpDist+radius >= n.Median {
			visit(n.Right)
		}
	}
	visit(t.root)

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	return results
}

// FindPartition returns the leaf ID that query would be routed to: a
// deterministic single descent, going left when dist(query,vantage) <=
// median, right otherwise.
func (t *Tree) FindPartition(query *types.Document) (string, error) {
	if t.root == nil {
		return "", ErrEmptyTree
	}

	n := t.root
	for !n.IsLeaf() {
		d := t.dist(query, n.Vantage)
		var next *Node
		if d <= n.Median {
			next = n.Left
		} else {
			next = n.Right
		}
		if next == nil {
			// Defensive: malformed tree, treat current node as the leaf.
			break
		}
		n = next
	}
	return n.NodeID, nil
}

// Leaf returns the leaf node for the given ID, or nil if it doesn't exist
// or isn't a leaf.
func (t *Tree) Leaf(id string) *Node {
	n, ok := t.nodes[id]
	if !ok || !n.IsLeaf() {
		return nil
	}
	return n
}

// Leaves returns every leaf node in the tree, in ID order for determinism.
func (t *Tree) Leaves() []*Node {
	var leaves []*Node
	for _, n := range t.nodes {
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].NodeID < leaves[j].NodeID })
	return leaves
}

// NodeCount returns the total number of internal+leaf nodes built.
func (t *Tree) NodeCount() int {
	return len(t.nodes)
}

// IsEmpty reports whether the tree has no documents.
func (t *Tree) IsEmpty() bool {
	return t.root == nil
}
