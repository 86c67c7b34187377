package rebalance

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/distrisearch/distrisearch/pkg/types"
)

// NodeLoad is a point-in-time load snapshot for one cluster node. CPUPercent
// and MemoryPercent are normalized to [0, 1].
type NodeLoad struct {
	NodeID               string
	DocumentCount        int64
	Capacity             int64
	StorageUsedBytes      int64
	StorageCapacityBytes int64
	CPUPercent           float64
	MemoryPercent        float64
	IsHealthy            bool
	LastUpdated          time.Time
}

// LoadFactor is the documents-held fraction of capacity.
func (n *NodeLoad) LoadFactor() float64 {
	if n.Capacity <= 0 {
		return 1
	}
	return float64(n.DocumentCount) / float64(n.Capacity)
}

// StorageFactor is the bytes-used fraction of storage capacity.
func (n *NodeLoad) StorageFactor() float64 {
	if n.StorageCapacityBytes <= 0 {
		return 0
	}
	return float64(n.StorageUsedBytes) / float64(n.StorageCapacityBytes)
}

// combinedLoadWeights, fixed per spec: docs matter most, storage/cpu/memory
// share the rest equally.
const (
	docWeight     = 0.4
	storageWeight = 0.2
	cpuWeight     = 0.2
	memoryWeight  = 0.2
)

// CombinedLoad is the weighted score used to rank nodes for rebalancing.
func (n *NodeLoad) CombinedLoad() float64 {
	return docWeight*n.LoadFactor() +
		storageWeight*n.StorageFactor() +
		cpuWeight*n.CPUPercent +
		memoryWeight*n.MemoryPercent
}

// Level categorizes a node by its document load factor.
func (n *NodeLoad) Level() types.LoadLevel {
	lf := n.LoadFactor()
	switch {
	case lf < 0.4:
		return types.LoadLevelLow
	case lf < 0.75:
		return types.LoadLevelNormal
	case lf < 0.9:
		return types.LoadLevelHigh
	default:
		return types.LoadLevelCritical
	}
}

// AvailableCapacity returns max(0, capacity - document_count).
func (n *NodeLoad) AvailableCapacity() int64 {
	avail := n.Capacity - n.DocumentCount
	if avail < 0 {
		return 0
	}
	return avail
}

// fromClusterNode builds a NodeLoad from a ClusterNode snapshot.
func fromClusterNode(node *types.ClusterNode) *NodeLoad {
	load := &NodeLoad{
		NodeID:        node.ID,
		DocumentCount: node.DocumentCount,
		Capacity:      node.Capacity,
		IsHealthy:     node.IsHealthy(),
		LastUpdated:   time.Now(),
	}
	if node.Resources != nil {
		load.StorageUsedBytes = node.Resources.StorageBytes
		load.StorageCapacityBytes = node.Resources.StorageLimit
		load.CPUPercent = node.Resources.CPUPercent
		load.MemoryPercent = node.Resources.MemoryPercent
	}
	return load
}

// ClusterLoadSummary is a cluster-wide load snapshot, computed over healthy
// nodes only for the statistical fields.
type ClusterLoadSummary struct {
	TotalDocuments   int64
	TotalCapacity    int64
	NodeCount        int
	HealthyNodes     int
	AvgLoadFactor    float64
	LoadVariance     float64
	LoadStdDev       float64
	MinLoadFactor    float64
	MaxLoadFactor    float64
	ImbalanceRatio   float64
	OverloadedNodes  []string
	UnderloadedNodes []string
	CriticalNodes    []string
}

// Options configures the load calculator's thresholds (C8).
type Options struct {
	ImbalanceThreshold float64 // max load std-dev before rebalancing
	CriticalThreshold  float64 // load factor considered critical
	MinTransferSize    int     // minimum docs worth moving in one migration
	TargetLoadFactor   float64
}

// DefaultOptions mirrors the reference thresholds.
func DefaultOptions() Options {
	return Options{
		ImbalanceThreshold: 0.2,
		CriticalThreshold:  0.9,
		MinTransferSize:    10,
		TargetLoadFactor:   0.6,
	}
}

// Decision is one proposed document migration from an overloaded node to an
// underloaded one.
type Decision struct {
	Reason             string
	SourceNode         string
	TargetNode         string
	DocumentsToMove    int64
	Priority           types.TaskPriority
	EstimatedDuration  time.Duration
}

// LoadCalculator tracks per-node load and decides when and how to rebalance
// (C8/C9). Safe for concurrent use.
type LoadCalculator struct {
	mu      sync.RWMutex
	opts    Options
	nodes   map[string]*NodeLoad
	history []ClusterLoadSummary
}

// NewLoadCalculator constructs an empty calculator.
func NewLoadCalculator(opts Options) *LoadCalculator {
	return &LoadCalculator{
		opts:  opts,
		nodes: make(map[string]*NodeLoad),
	}
}

// UpdateNode records a load snapshot for a node, replacing any prior one.
func (c *LoadCalculator) UpdateNode(load *NodeLoad) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[load.NodeID] = load
}

// UpdateFromClusterNode is the usual entrypoint: translate a ClusterNode
// heartbeat into a NodeLoad snapshot.
func (c *LoadCalculator) UpdateFromClusterNode(node *types.ClusterNode) {
	c.UpdateNode(fromClusterNode(node))
}

// RemoveNode stops tracking a node (it has left the cluster).
func (c *LoadCalculator) RemoveNode(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, nodeID)
}

// GetNode returns a node's last known load snapshot, or nil.
func (c *LoadCalculator) GetNode(nodeID string) *NodeLoad {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodes[nodeID]
}

// Summary computes a fresh ClusterLoadSummary and appends it to history
// (capped at the most recent 100 entries).
func (c *LoadCalculator) Summary() ClusterLoadSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.nodes) == 0 {
		return ClusterLoadSummary{}
	}

	var healthy []*NodeLoad
	var totalDocs, totalCap int64
	for _, n := range c.nodes {
		totalDocs += n.DocumentCount
		totalCap += n.Capacity
		if n.IsHealthy {
			healthy = append(healthy, n)
		}
	}

	loadFactors := make([]float64, 0, len(healthy))
	for _, n := range healthy {
		loadFactors = append(loadFactors, n.LoadFactor())
	}
	if len(loadFactors) == 0 {
		loadFactors = []float64{0}
	}

	avg := mean(loadFactors)
	variance := varianceOf(loadFactors, avg)
	stddev := math.Sqrt(variance)
	minLoad, maxLoad := minMax(loadFactors)

	imbalance := 0.0
	if avg > 0 {
		imbalance = (maxLoad - minLoad) / avg
	}

	var overloaded, underloaded, critical []string
	for _, n := range healthy {
		lf := n.LoadFactor()
		if lf > 0.75 {
			overloaded = append(overloaded, n.NodeID)
		}
		if lf < 0.4 {
			underloaded = append(underloaded, n.NodeID)
		}
		if lf > c.opts.CriticalThreshold {
			critical = append(critical, n.NodeID)
		}
	}
	sort.Strings(overloaded)
	sort.Strings(underloaded)
	sort.Strings(critical)

	summary := ClusterLoadSummary{
		TotalDocuments:   totalDocs,
		TotalCapacity:    totalCap,
		NodeCount:        len(c.nodes),
		HealthyNodes:     len(healthy),
		AvgLoadFactor:    avg,
		LoadVariance:     variance,
		LoadStdDev:       stddev,
		MinLoadFactor:    minLoad,
		MaxLoadFactor:    maxLoad,
		ImbalanceRatio:   imbalance,
		OverloadedNodes:  overloaded,
		UnderloadedNodes: underloaded,
		CriticalNodes:    critical,
	}

	c.history = append(c.history, summary)
	if len(c.history) > 100 {
		c.history = c.history[len(c.history)-100:]
	}
	return summary
}

// NeedsRebalance reports whether the cluster's current load distribution
// warrants a rebalance, using threshold as the load std-dev ceiling (the
// caller's own imbalance tolerance overriding the configured default). It
// satisfies partition.RebalanceChecker by structural typing.
func (c *LoadCalculator) NeedsRebalance(threshold float64) bool {
	need, _ := c.NeedsRebalanceReason(threshold)
	return need
}

// NeedsRebalanceReason is NeedsRebalance with a human-readable explanation,
// useful for logging.
func (c *LoadCalculator) NeedsRebalanceReason(threshold float64) (bool, string) {
	summary := c.Summary()

	if summary.NodeCount < 2 {
		return false, "insufficient nodes for rebalancing"
	}
	if summary.HealthyNodes < 2 {
		return false, "insufficient healthy nodes"
	}
	if len(summary.CriticalNodes) > 0 {
		return true, "critical load on nodes: " + joinStrings(summary.CriticalNodes)
	}
	if summary.LoadStdDev > threshold {
		return true, "load imbalance detected"
	}
	if summary.ImbalanceRatio > 0.5 {
		return true, "high imbalance ratio"
	}
	return false, "cluster is balanced"
}

// OptimalDistribution computes each healthy node's target document count,
// proportional to its capacity share of the total.
func (c *LoadCalculator) OptimalDistribution() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var totalDocs, totalCap int64
	healthy := make(map[string]*NodeLoad)
	for id, n := range c.nodes {
		if !n.IsHealthy {
			continue
		}
		healthy[id] = n
		totalDocs += n.DocumentCount
		totalCap += n.Capacity
	}
	if len(healthy) == 0 {
		return nil
	}

	distribution := make(map[string]int64, len(healthy))
	for id, n := range healthy {
		ratio := 0.0
		if totalCap > 0 {
			ratio = float64(n.Capacity) / float64(totalCap)
		}
		target := int64(float64(totalDocs) * ratio)
		if target > n.Capacity {
			target = n.Capacity
		}
		distribution[id] = target
	}
	return distribution
}

// GeneratePlan matches overloaded nodes (positive delta from target) against
// underloaded ones (negative delta), most-overloaded and most-underloaded
// first, producing a priority-ordered list of migrations.
func (c *LoadCalculator) GeneratePlan() []Decision {
	optimal := c.OptimalDistribution()
	if len(optimal) == 0 {
		return nil
	}

	c.mu.RLock()
	type delta struct {
		nodeID string
		amount int64
	}
	deltas := make([]delta, 0, len(optimal))
	for id, target := range optimal {
		n := c.nodes[id]
		deltas = append(deltas, delta{nodeID: id, amount: n.DocumentCount - target})
	}
	nodesSnapshot := make(map[string]*NodeLoad, len(c.nodes))
	for id, n := range c.nodes {
		nodesSnapshot[id] = n
	}
	c.mu.RUnlock()

	minTransfer := int64(c.opts.MinTransferSize)

	var sources, targets []delta
	for _, d := range deltas {
		if d.amount > minTransfer {
			sources = append(sources, d)
		} else if -d.amount > minTransfer {
			targets = append(targets, delta{nodeID: d.nodeID, amount: -d.amount})
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].amount > sources[j].amount })
	sort.Slice(targets, func(i, j int) bool { return targets[i].amount > targets[j].amount })

	var decisions []Decision
	for _, src := range sources {
		remaining := src.amount
		for i := range targets {
			if remaining <= 0 || targets[i].amount <= 0 {
				continue
			}
			toMove := remaining
			if targets[i].amount < toMove {
				toMove = targets[i].amount
			}
			if toMove < minTransfer {
				continue
			}

			srcLoad := nodesSnapshot[src.nodeID]
			priority := types.PriorityNormal
			switch srcLoad.Level() {
			case types.LoadLevelCritical:
				priority = types.PriorityCritical
			case types.LoadLevelHigh:
				priority = types.PriorityHigh
			}

			batches := (toMove + migrationBatchSize - 1) / migrationBatchSize
			duration := time.Duration(batches) * (migrationBatchDelay + 500*time.Millisecond)

			decisions = append(decisions, Decision{
				Reason:            "load balancing: " + src.nodeID + " -> " + targets[i].nodeID,
				SourceNode:        src.nodeID,
				TargetNode:        targets[i].nodeID,
				DocumentsToMove:   toMove,
				Priority:          priority,
				EstimatedDuration: duration,
			})

			remaining -= toMove
			targets[i].amount -= toMove
		}
	}

	sort.SliceStable(decisions, func(i, j int) bool {
		return decisions[i].Priority < decisions[j].Priority // CRITICAL first
	})
	return decisions
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func varianceOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}

func minMax(xs []float64) (float64, float64) {
	min, max := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return min, max
}

func joinStrings(xs []string) string {
	out := ""
	for i, x := range xs {
		if i > 0 {
			out += ", "
		}
		out += x
	}
	return out
}
