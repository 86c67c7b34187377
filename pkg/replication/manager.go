package replication

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/similarity"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// TransferFn performs the actual replication of a document from source to
// target node. Injected by the coordinator; in tests a fake is enough.
type TransferFn func(ctx context.Context, documentID, sourceNode, targetNode string) error

// NodeLister supplies the set of currently-healthy cluster nodes, used for
// replica placement and fallback least-loaded selection.
type NodeLister interface {
	HealthyNodes() []*types.ClusterNode
}

// Config configures the replication manager (C7).
type Config struct {
	ReplicationFactor         int
	MaxConcurrentReplications int
	ReplicationTimeout        time.Duration
	RetryCount                int
	RetryDelay                time.Duration
	CheckInterval             time.Duration
}

// DefaultConfig mirrors the reference defaults.
func DefaultConfig() Config {
	return Config{
		ReplicationFactor:         2,
		MaxConcurrentReplications: 5,
		ReplicationTimeout:        60 * time.Second,
		RetryCount:                3,
		RetryDelay:                5 * time.Second,
		CheckInterval:             30 * time.Second,
	}
}

// Task is one pending (document, target node) replication to perform.
type Task struct {
	ID         string
	DocumentID string
	SourceNode string
	TargetNode string
	Priority   types.TaskPriority
	Attempt    int
	CreatedAt  time.Time

	seq int64
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority // CRITICAL(0) before LOW(3)
	}
	return h[i].seq < h[j].seq // FIFO within a priority band
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Manager is the semantic-affinity replication manager (C7): it selects
// replica targets using the similarity graph (C5), enqueues replication
// tasks onto a bounded worker pool, and handles node-failure fan-out.
type Manager struct {
	cfg Config

	tracker    *Tracker
	graph      *similarity.Graph
	nodeLister NodeLister
	transfer   TransferFn

	queueMu sync.Mutex
	queue   taskHeap
	seq     int64
	pending map[string]bool // document_id+target_node -> already queued

	sem *semaphore.Weighted

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	totalReplications  atomic.Int64
	failedReplications atomic.Int64

	logger zerolog.Logger
}

func NewManager(tracker *Tracker, graph *similarity.Graph, nodeLister NodeLister, transfer TransferFn, cfg Config) *Manager {
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = DefaultConfig().ReplicationFactor
	}
	if cfg.MaxConcurrentReplications <= 0 {
		cfg.MaxConcurrentReplications = DefaultConfig().MaxConcurrentReplications
	}
	if cfg.ReplicationTimeout <= 0 {
		cfg.ReplicationTimeout = DefaultConfig().ReplicationTimeout
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = DefaultConfig().RetryCount
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}

	return &Manager{
		cfg:        cfg,
		tracker:    tracker,
		graph:      graph,
		nodeLister: nodeLister,
		transfer:   transfer,
		pending:    make(map[string]bool),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentReplications)),
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("replication"),
	}
}

// MaterializeReplicas selects replica targets for a newly-routed document,
// registers the resulting replica set and similarity-graph entry, and
// enqueues NORMAL-priority replication tasks for each target. It satisfies
// partition.ReplicaMaterializer by structural typing.
func (m *Manager) MaterializeReplicas(ctx context.Context, doc *types.Document, primary string) ([]string, error) {
	targets := m.SelectReplicas(doc, primary)

	m.tracker.RegisterDocument(doc.ID, primary, targets, m.cfg.ReplicationFactor, doc.Size, doc.ContentHash)
	m.graph.AddDocument(doc.ID, primary, targets)

	for _, target := range targets {
		m.enqueue(doc.ID, primary, target, types.PriorityNormal)
	}
	return targets, nil
}

// SelectReplicas implements spec §4.4's placement algorithm: candidates
// are healthy nodes minus the primary and any node already holding the
// document; if the similarity graph yields an affinity signal, nodes are
// scored by summed similarity to neighbors already on that node, ties
// broken by lower load factor then lexicographic node ID; otherwise it
// falls back to least-loaded.
func (m *Manager) SelectReplicas(doc *types.Document, primary string) []string {
	numReplicas := m.cfg.ReplicationFactor - 1
	if numReplicas <= 0 {
		return nil
	}

	healthy := m.nodeLister.HealthyNodes()
	byID := make(map[string]*types.ClusterNode, len(healthy))
	var candidates []string
	held := m.tracker.Get(doc.ID)
	for _, n := range healthy {
		if n.ID == primary || held.Holds(n.ID) {
			continue
		}
		byID[n.ID] = n
		candidates = append(candidates, n.ID)
	}
	if len(candidates) == 0 {
		return nil
	}

	scored := m.graph.BestReplicaNodes(doc.ID, candidates, true)
	hasSignal := false
	for _, s := range scored {
		if s.Score > 0 {
			hasSignal = true
			break
		}
	}

	if hasSignal {
		sort.SliceStable(scored, func(i, j int) bool {
			if scored[i].Score != scored[j].Score {
				return scored[i].Score > scored[j].Score
			}
			return lessByLoadThenID(byID, scored[i].NodeID, scored[j].NodeID)
		})
		out := make([]string, 0, numReplicas)
		for _, s := range scored {
			if len(out) == numReplicas {
				break
			}
			out = append(out, s.NodeID)
		}
		return out
	}

	sort.Slice(candidates, func(i, j int) bool {
		return lessByLoadThenID(byID, candidates[i], candidates[j])
	})
	if len(candidates) > numReplicas {
		candidates = candidates[:numReplicas]
	}
	return candidates
}

func lessByLoadThenID(byID map[string]*types.ClusterNode, a, b string) bool {
	la, lb := byID[a].LoadFactor(), byID[b].LoadFactor()
	if la != lb {
		return la < lb
	}
	return a < b
}

func (m *Manager) enqueue(documentID, source, target string, priority types.TaskPriority) {
	key := documentID + "|" + target
	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	if m.pending[key] {
		return
	}
	m.pending[key] = true
	m.seq++
	heap.Push(&m.queue, &Task{
		ID:         fmt.Sprintf("repl_%s_%s_%d", documentID, target, m.seq),
		DocumentID: documentID,
		SourceNode: source,
		TargetNode: target,
		Priority:   priority,
		CreatedAt:  time.Now(),
		seq:        m.seq,
	})
}

func (m *Manager) dequeue() (*Task, bool) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if m.queue.Len() == 0 {
		return nil, false
	}
	task := heap.Pop(&m.queue).(*Task)
	delete(m.pending, task.DocumentID+"|"+task.TargetNode)
	return task, true
}

// QueueDepth returns the number of tasks currently pending.
func (m *Manager) QueueDepth() int {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return m.queue.Len()
}

// Start launches the background worker pool that drains the task queue.
// Safe to call once; a second call is a no-op.
func (m *Manager) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.logger.Info().Msg("replication manager starting")

	m.wg.Add(1)
	go m.dispatchLoop(ctx)
}

// Stop signals the worker pool to drain and exit, and waits for it.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info().Msg("replication manager stopped")
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drainOnce(ctx)
		}
	}
}

func (m *Manager) drainOnce(ctx context.Context) {
	for {
		task, ok := m.dequeue()
		if !ok {
			return
		}
		if !m.sem.TryAcquire(1) {
			// Put it back; another tick will retry once a slot frees up.
			m.queueMu.Lock()
			m.pending[task.DocumentID+"|"+task.TargetNode] = true
			heap.Push(&m.queue, task)
			m.queueMu.Unlock()
			return
		}

		m.wg.Add(1)
		go func(t *Task) {
			defer m.wg.Done()
			defer m.sem.Release(1)
			m.executeTask(ctx, t)
		}(task)
	}
}

func (m *Manager) executeTask(ctx context.Context, task *Task) {
	taskLogger := m.logger.With().Str("task_id", task.ID).Str("document_id", task.DocumentID).Logger()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ReplicationTimeout)
	defer cancel()

	err := m.doReplicate(callCtx, task)
	if err == nil {
		if _, aerr := m.tracker.AddReplica(task.DocumentID, task.TargetNode, 0, ""); aerr != nil && aerr != ErrReplicaExists {
			taskLogger.Warn().Err(aerr).Msg("add replica failed after transfer")
		}
		_ = m.tracker.UpdateReplicaStatus(task.DocumentID, task.TargetNode, types.ReplicaStatusActive, 0)

		if rs := m.tracker.Get(task.DocumentID); rs != nil {
			var replicaNodes []string
			for _, id := range rs.NodeIDs() {
				if id != rs.Primary().NodeID {
					replicaNodes = append(replicaNodes, id)
				}
			}
			m.graph.UpdateLocation(task.DocumentID, "", replicaNodes)
		}

		m.totalReplications.Add(1)
		taskLogger.Info().Str("target_node", task.TargetNode).Msg("replication completed")
		return
	}

	task.Attempt++
	if task.Attempt < m.cfg.RetryCount {
		delay := time.Duration(task.Attempt) * m.cfg.RetryDelay
		taskLogger.Warn().Err(err).Int("attempt", task.Attempt).Dur("delay", delay).Msg("replication failed, retrying")
		time.AfterFunc(delay, func() {
			m.queueMu.Lock()
			key := task.DocumentID + "|" + task.TargetNode
			if !m.pending[key] {
				m.pending[key] = true
				m.seq++
				task.seq = m.seq
				heap.Push(&m.queue, task)
			}
			m.queueMu.Unlock()
		})
		return
	}

	m.failedReplications.Add(1)
	taskLogger.Error().Err(err).Msg("replication permanently failed")
}

func (m *Manager) doReplicate(ctx context.Context, task *Task) error {
	if m.transfer == nil {
		return nil
	}
	return m.transfer(ctx, task.DocumentID, task.SourceNode, task.TargetNode)
}

// OnNodeFailure marks all of a failed node's replicas as FAILED, promotes
// a healthy replica to primary wherever the failed node was primary, and
// enqueues HIGH-priority repair for every now-under-replicated document.
// Returns the number of affected documents.
func (m *Manager) OnNodeFailure(nodeID string) int {
	affected := m.tracker.MarkNodeFailed(nodeID)

	for _, documentID := range affected {
		rs := m.tracker.Get(documentID)
		if rs == nil {
			continue
		}
		primary := rs.Primary()
		if primary == nil || primary.NodeID != nodeID {
			m.enqueueRepair(documentID, types.PriorityHigh)
			continue
		}

		candidate := ""
		for _, r := range rs.Replicas {
			if r.NodeID == nodeID || !r.Status.IsHealthy() {
				continue
			}
			if candidate == "" || r.NodeID < candidate {
				candidate = r.NodeID
			}
		}
		if candidate != "" {
			_ = m.tracker.PromoteReplica(documentID, candidate)
		}
		m.enqueueRepair(documentID, types.PriorityHigh)
	}

	return len(affected)
}

// enqueueRepair queues replication tasks to bring an under-replicated
// document back up to its target replication factor.
func (m *Manager) enqueueRepair(documentID string, priority types.TaskPriority) {
	rs := m.tracker.Get(documentID)
	if rs == nil || !rs.IsUnderReplicated() {
		return
	}

	source := ""
	for _, r := range rs.Replicas {
		if r.Status.IsHealthy() {
			source = r.NodeID
			break
		}
	}
	if source == "" {
		m.logger.Error().Str("document_id", documentID).Msg("no healthy replica to source repair from")
		return
	}

	held := make(map[string]bool)
	for _, id := range rs.NodeIDs() {
		held[id] = true
	}

	needed := rs.ReplicationFactor - rs.HealthyCount()
	if needed <= 0 {
		return
	}

	for _, n := range m.nodeLister.HealthyNodes() {
		if needed == 0 {
			break
		}
		if held[n.ID] {
			continue
		}
		m.enqueue(documentID, source, n.ID, priority)
		needed--
	}
}

// OnNodeJoined handles a node joining when the effective replication
// factor increases: it bumps every tracked document's target RF and
// enqueues LOW-priority upgrade tasks for documents that are newly
// under-replicated as a result.
func (m *Manager) OnNodeJoined(newEffectiveRF int) {
	if newEffectiveRF <= m.cfg.ReplicationFactor {
		return
	}
	m.cfg.ReplicationFactor = newEffectiveRF

	for _, documentID := range m.tracker.BumpReplicationFactor(newEffectiveRF) {
		m.enqueueRepair(documentID, types.PriorityLow)
	}
}

// Stats reports manager-wide counters alongside the tracker's own stats.
type Stats struct {
	QueueDepth         int
	TotalReplications  int64
	FailedReplications int64
	Tracker            Statistics
}

func (m *Manager) Stats() Stats {
	return Stats{
		QueueDepth:         m.QueueDepth(),
		TotalReplications:  m.totalReplications.Load(),
		FailedReplications: m.failedReplications.Load(),
		Tracker:            m.tracker.Stats(),
	}
}
