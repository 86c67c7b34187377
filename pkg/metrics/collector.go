package metrics

import (
	"time"

	"github.com/distrisearch/distrisearch/pkg/manager"
	"github.com/distrisearch/distrisearch/pkg/replication"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// Collector periodically samples node, replication, and raft state and
// publishes it as prometheus gauges.
type Collector struct {
	manager *manager.Manager
	tracker *replication.Tracker
	stopCh  chan struct{}
}

// NewCollector creates a metrics collector over a Manager (raft metadata
// log) and a replication Tracker (in-memory replica-set state).
func NewCollector(mgr *manager.Manager, tracker *replication.Tracker) *Collector {
	return &Collector{
		manager: mgr,
		tracker: tracker,
		stopCh:  make(chan struct{}),
	}
}

// Start begins periodic collection on a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectReplicationMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectNodeMetrics() {
	if c.manager == nil {
		return
	}
	nodes, err := c.manager.ListNodes()
	if err != nil {
		return
	}

	counts := make(map[types.NodeStatus]int)
	for _, node := range nodes {
		counts[node.Status]++
	}
	for status, count := range counts {
		NodesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectReplicationMetrics() {
	if c.tracker == nil {
		return
	}
	stats := c.tracker.Stats()
	DocumentsTotal.Set(float64(stats.TotalDocuments))
	UnderReplicatedDocuments.Set(float64(stats.UnderReplicatedCount))
}

func (c *Collector) collectRaftMetrics() {
	if c.manager == nil {
		return
	}

	if c.manager.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		RaftPeers.Set(float64(peers))
	}
}
