package similarity

import (
	"sort"
	"sync"
)

// DefaultSimilarityThreshold and DefaultMaxNeighbors mirror the reference
// defaults (0.3 minimum similarity, 20 neighbors per vertex).
const (
	DefaultSimilarityThreshold = 0.3
	DefaultMaxNeighbors        = 20
)

// vertex tracks one document's placement and its pruned neighbor set.
type vertex struct {
	primaryNode  string
	replicaNodes []string
	neighbors    map[string]float64 // doc_id -> similarity
}

func (v *vertex) allNodes() []string {
	return append([]string{v.primaryNode}, v.replicaNodes...)
}

// Edge is a (neighbor document, similarity) pair returned by Neighbors.
type Edge struct {
	DocumentID string
	Similarity float64
}

// Graph is an undirected, weighted, pruned similarity graph over document
// IDs (C5). It is safe for concurrent use.
type Graph struct {
	mu sync.RWMutex

	similarityThreshold float64
	maxNeighbors        int

	vertices  map[string]*vertex
	nodeDocs  map[string]map[string]bool // cluster_node -> set of doc_ids it holds
}

// Options configures a Graph.
type Options struct {
	SimilarityThreshold float64
	MaxNeighbors        int
}

// DefaultOptions returns the reference defaults.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MaxNeighbors:        DefaultMaxNeighbors,
	}
}

// NewGraph constructs an empty Graph.
func NewGraph(opts Options) *Graph {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if opts.MaxNeighbors <= 0 {
		opts.MaxNeighbors = DefaultMaxNeighbors
	}
	return &Graph{
		similarityThreshold: opts.SimilarityThreshold,
		maxNeighbors:        opts.MaxNeighbors,
		vertices:            make(map[string]*vertex),
		nodeDocs:            make(map[string]map[string]bool),
	}
}

// AddDocument registers a document at its current placement. Calling it
// again for an existing document ID resets that document's neighbor set.
func (g *Graph) AddDocument(documentID, primaryNode string, replicaNodes []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	v := &vertex{
		primaryNode:  primaryNode,
		replicaNodes: append([]string(nil), replicaNodes...),
		neighbors:    make(map[string]float64),
	}
	g.vertices[documentID] = v
	g.indexLocation(documentID, v)
}

func (g *Graph) indexLocation(documentID string, v *vertex) {
	for _, node := range v.allNodes() {
		if g.nodeDocs[node] == nil {
			g.nodeDocs[node] = make(map[string]bool)
		}
		g.nodeDocs[node][documentID] = true
	}
}

// AddEdge adds or updates the similarity between two known documents.
// Edges below the similarity threshold, or referencing unknown documents,
// are rejected. Returns whether the edge was stored.
func (g *Graph) AddEdge(docA, docB string, sim float64) bool {
	if sim < g.similarityThreshold {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	va, ok := g.vertices[docA]
	if !ok {
		return false
	}
	vb, ok := g.vertices[docB]
	if !ok {
		return false
	}

	va.neighbors[docB] = sim
	vb.neighbors[docA] = sim

	g.pruneNeighbors(docA, va)
	g.pruneNeighbors(docB, vb)
	return true
}

// pruneNeighbors keeps only the top MaxNeighbors by similarity, matching
// the reference's tie-break-free sort (stable sort, highest first).
func (g *Graph) pruneNeighbors(documentID string, v *vertex) {
	if len(v.neighbors) <= g.maxNeighbors {
		return
	}

	type scored struct {
		id  string
		sim float64
	}
	all := make([]scored, 0, len(v.neighbors))
	for id, sim := range v.neighbors {
		all = append(all, scored{id, sim})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].sim > all[j].sim })

	keep := make(map[string]float64, g.maxNeighbors)
	for _, s := range all[:g.maxNeighbors] {
		keep[s.id] = s.sim
	}

	// Drop the reverse edge for every neighbor we're pruning away.
	for id := range v.neighbors {
		if _, ok := keep[id]; ok {
			continue
		}
		if other, ok := g.vertices[id]; ok {
			delete(other.neighbors, documentID)
		}
	}
	v.neighbors = keep
}

// RemoveVertex deletes a document and all of its edges from the graph.
func (g *Graph) RemoveVertex(documentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.vertices[documentID]
	if !ok {
		return
	}

	for neighborID := range v.neighbors {
		if nv, ok := g.vertices[neighborID]; ok {
			delete(nv.neighbors, documentID)
		}
	}

	for _, node := range v.allNodes() {
		delete(g.nodeDocs[node], documentID)
	}

	delete(g.vertices, documentID)
}

// Similarity returns the cached similarity between two documents, or 0 if
// no edge exists between them.
func (g *Graph) Similarity(docA, docB string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vertices[docA]
	if !ok {
		return 0
	}
	return v.neighbors[docB]
}

// Neighbors returns a document's neighbors sorted by descending similarity,
// capped at limit (0 means no extra cap beyond MaxNeighbors).
func (g *Graph) Neighbors(documentID string, limit int) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v, ok := g.vertices[documentID]
	if !ok {
		return nil
	}

	edges := make([]Edge, 0, len(v.neighbors))
	for id, sim := range v.neighbors {
		edges = append(edges, Edge{id, sim})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Similarity > edges[j].Similarity })
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	return edges
}

// DocumentsOnNode returns the set of document IDs currently stored (as
// primary or replica) on the given cluster node.
func (g *Graph) DocumentsOnNode(nodeID string) map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]bool, len(g.nodeDocs[nodeID]))
	for id := range g.nodeDocs[nodeID] {
		out[id] = true
	}
	return out
}

// UpdateLocation reflects a document's new primary/replica placement in
// the node index, used after routing or migration changes ownership.
func (g *Graph) UpdateLocation(documentID, primaryNode string, replicaNodes []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.vertices[documentID]
	if !ok {
		return
	}

	for _, old := range v.allNodes() {
		delete(g.nodeDocs[old], documentID)
	}

	if primaryNode != "" {
		v.primaryNode = primaryNode
	}
	if replicaNodes != nil {
		v.replicaNodes = append([]string(nil), replicaNodes...)
	}

	g.indexLocation(documentID, v)
}

// ScoredNode is a candidate replica target with its affinity score.
type ScoredNode struct {
	NodeID string
	Score  float64
}

// BestReplicaNodes scores each candidate node by the sum of similarities
// to documentID's neighbors already stored on that node (semantic-affinity
// placement, C5 contribution to C7). Candidates already holding the
// document are skipped; excludePrimary additionally skips the primary.
func (g *Graph) BestReplicaNodes(documentID string, candidates []string, excludePrimary bool) []ScoredNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v, ok := g.vertices[documentID]
	if !ok {
		return nil
	}

	neighbors := v.neighbors

	var scored []ScoredNode
	for _, candidate := range candidates {
		if excludePrimary && candidate == v.primaryNode {
			continue
		}
		if containsString(v.replicaNodes, candidate) {
			continue
		}

		docsOnNode := g.nodeDocs[candidate]
		var affinity float64
		for neighborID, sim := range neighbors {
			if docsOnNode[neighborID] {
				affinity += sim
			}
		}
		scored = append(scored, ScoredNode{candidate, affinity})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Statistics summarizes the graph's current shape.
type Statistics struct {
	TotalDocuments      int
	TotalEdges          int
	AvgNeighbors        float64
	MaxNeighbors        int
	MinNeighbors        int
	NodesWithDocuments  int
	SimilarityThreshold float64
}

// Stats computes aggregate statistics over the graph.
func (g *Graph) Stats() Statistics {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Statistics{
		TotalDocuments:      len(g.vertices),
		NodesWithDocuments:  len(g.nodeDocs),
		SimilarityThreshold: g.similarityThreshold,
	}
	if len(g.vertices) == 0 {
		return stats
	}

	var totalNeighbors, edgeCount int
	first := true
	for _, v := range g.vertices {
		n := len(v.neighbors)
		totalNeighbors += n
		edgeCount += n
		if first {
			stats.MinNeighbors = n
			stats.MaxNeighbors = n
			first = false
		} else {
			if n < stats.MinNeighbors {
				stats.MinNeighbors = n
			}
			if n > stats.MaxNeighbors {
				stats.MaxNeighbors = n
			}
		}
	}
	stats.TotalEdges = edgeCount / 2
	stats.AvgNeighbors = float64(totalNeighbors) / float64(len(g.vertices))
	return stats
}
