package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// NodeHealth is the failure detector's view of one cluster node (C11).
type NodeHealth struct {
	NodeID              string
	Status              types.NodeStatus
	LastHeartbeat       time.Time
	ConsecutiveFailures int
	LastFailure         time.Time
	RecoveryAttempts    int
	LatencyMS           float64
	Metadata            map[string]string
}

// TimeSinceHeartbeat returns the elapsed time since the last heartbeat, and
// false if none was ever recorded.
func (h *NodeHealth) TimeSinceHeartbeat() (time.Duration, bool) {
	if h.LastHeartbeat.IsZero() {
		return 0, false
	}
	return time.Since(h.LastHeartbeat), true
}

// IsHealthy reports whether the node is currently in the HEALTHY state.
func (h *NodeHealth) IsHealthy() bool {
	return h.Status == types.NodeStatusHealthy
}

// FailureEvent records one node transitioning into the FAILED state.
type FailureEvent struct {
	NodeID      string
	DetectedAt  time.Time
	LastHealthy time.Time
	FailureType string // "timeout", "error", "explicit"
	Details     string
}

// Downtime is the gap between the node's last healthy heartbeat and the
// moment failure was detected.
func (e FailureEvent) Downtime() time.Duration {
	if e.LastHealthy.IsZero() {
		return 0
	}
	return e.DetectedAt.Sub(e.LastHealthy)
}

// FailureCallback is invoked (in its own goroutine) whenever a node
// transitions into FAILED.
type FailureCallback func(FailureEvent)

// RecoveryCallback is invoked whenever a previously-failed node sends a
// fresh heartbeat and begins RECOVERING.
type RecoveryCallback func(nodeID string)

// Config tunes heartbeat cadence and failure thresholds (C11).
type Config struct {
	HeartbeatInterval time.Duration
	FailureTimeout    time.Duration
	SuspectThreshold  int
	FailureThreshold  int
}

// DefaultConfig mirrors the reference defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		FailureTimeout:    15 * time.Second,
		SuspectThreshold:  2,
		FailureThreshold:  3,
	}
}

// Detector monitors cluster nodes via heartbeat and drives each one through
// UNKNOWN -> HEALTHY -> SUSPECT -> FAILED -> RECOVERING -> HEALTHY (C11).
// A node crosses into SUSPECT after SuspectThreshold missed heartbeats and
// FAILED after FailureThreshold; a heartbeat from a FAILED node moves it to
// RECOVERING instead of straight back to HEALTHY so callers can require a
// settling period before trusting it for placement again.
type Detector struct {
	cfg Config

	onFailure  FailureCallback
	onRecovery RecoveryCallback

	mu          sync.RWMutex
	nodes       map[string]*NodeHealth
	failedNodes map[string]bool
	history     []FailureEvent

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	logger zerolog.Logger
}

// NewDetector constructs a Detector. Either callback may be nil.
func NewDetector(cfg Config, onFailure FailureCallback, onRecovery RecoveryCallback) *Detector {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.FailureTimeout <= 0 {
		cfg.FailureTimeout = DefaultConfig().FailureTimeout
	}
	if cfg.SuspectThreshold <= 0 {
		cfg.SuspectThreshold = DefaultConfig().SuspectThreshold
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	return &Detector{
		cfg:         cfg,
		onFailure:   onFailure,
		onRecovery:  onRecovery,
		nodes:       make(map[string]*NodeHealth),
		failedNodes: make(map[string]bool),
		stopCh:      make(chan struct{}),
		logger:      log.WithComponent("health"),
	}
}

// RegisterNode starts tracking a node in UNKNOWN status.
func (d *Detector) RegisterNode(nodeID string, metadata map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[nodeID] = &NodeHealth{
		NodeID:   nodeID,
		Status:   types.NodeStatusUnknown,
		Metadata: metadata,
	}
	d.logger.Info().Str("node_id", nodeID).Msg("registered node for health monitoring")
}

// UnregisterNode stops tracking a node.
func (d *Detector) UnregisterNode(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, nodeID)
	delete(d.failedNodes, nodeID)
}

// RecordHeartbeat records a heartbeat from nodeID, clearing its failure
// streak and marking it HEALTHY. A node recovering from FAILED instead
// enters RECOVERING and fires onRecovery.
func (d *Detector) RecordHeartbeat(nodeID string, latencyMS float64, metadata map[string]string) {
	d.mu.Lock()

	health, ok := d.nodes[nodeID]
	if !ok {
		health = &NodeHealth{NodeID: nodeID}
		d.nodes[nodeID] = health
	}

	wasFailed := health.Status == types.NodeStatusFailed

	health.LastHeartbeat = time.Now()
	health.ConsecutiveFailures = 0
	health.LatencyMS = latencyMS
	health.Status = types.NodeStatusHealthy
	if metadata != nil {
		if health.Metadata == nil {
			health.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			health.Metadata[k] = v
		}
	}

	if wasFailed {
		delete(d.failedNodes, nodeID)
		health.Status = types.NodeStatusRecovering
		health.RecoveryAttempts++
	}

	d.mu.Unlock()

	if wasFailed {
		d.logger.Info().Str("node_id", nodeID).Msg("node recovered")
		if d.onRecovery != nil {
			go d.onRecovery(nodeID)
		}
	}
}

// RecordFailure records a failed health probe for nodeID, advancing its
// consecutive-failure streak toward SUSPECT then FAILED.
func (d *Detector) RecordFailure(nodeID, details string) {
	d.mu.Lock()
	health, ok := d.nodes[nodeID]
	if !ok {
		d.mu.Unlock()
		return
	}

	health.ConsecutiveFailures++
	health.LastFailure = time.Now()

	var event *FailureEvent
	switch {
	case health.Status == types.NodeStatusFailed:
		// Already FAILED: only a heartbeat moves it on, to RECOVERING.
	case health.ConsecutiveFailures >= d.cfg.FailureThreshold:
		event = d.markFailedLocked(health, "threshold", details)
	case health.ConsecutiveFailures >= d.cfg.SuspectThreshold:
		health.Status = types.NodeStatusSuspect
	}
	d.mu.Unlock()

	if event != nil {
		d.fireFailure(*event)
	}
}

// markFailedLocked transitions health to FAILED and records the event.
// Caller must hold d.mu.
func (d *Detector) markFailedLocked(health *NodeHealth, failureType, details string) *FailureEvent {
	health.Status = types.NodeStatusFailed
	d.failedNodes[health.NodeID] = true

	event := FailureEvent{
		NodeID:      health.NodeID,
		DetectedAt:  time.Now(),
		LastHealthy: health.LastHeartbeat,
		FailureType: failureType,
		Details:     details,
	}
	d.history = append(d.history, event)
	if len(d.history) > 500 {
		d.history = d.history[len(d.history)-500:]
	}
	d.logger.Error().Str("node_id", health.NodeID).Str("failure_type", failureType).Msg("node marked FAILED")
	return &event
}

func (d *Detector) fireFailure(event FailureEvent) {
	if d.onFailure != nil {
		go d.onFailure(event)
	}
}

// Start launches the background timeout-monitoring loop.
func (d *Detector) Start(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	d.logger.Info().Msg("failure detector monitoring started")
	d.wg.Add(1)
	go d.monitorLoop(ctx)
}

// Stop signals the monitoring loop to exit and waits for it.
func (d *Detector) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info().Msg("failure detector monitoring stopped")
}

func (d *Detector) monitorLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkAllNodes()
		}
	}
}

func (d *Detector) checkAllNodes() {
	d.mu.Lock()
	var events []FailureEvent
	now := time.Now()
	for _, health := range d.nodes {
		if health.Status == types.NodeStatusFailed {
			continue
		}

		if health.LastHeartbeat.IsZero() {
			health.ConsecutiveFailures++
			if health.ConsecutiveFailures >= d.cfg.FailureThreshold {
				if ev := d.markFailedLocked(health, "no_heartbeat", "never received heartbeat"); ev != nil {
					events = append(events, *ev)
				}
			}
			continue
		}

		since := now.Sub(health.LastHeartbeat)
		if since <= d.cfg.FailureTimeout {
			continue
		}

		health.ConsecutiveFailures++
		switch {
		case health.ConsecutiveFailures >= d.cfg.FailureThreshold:
			if ev := d.markFailedLocked(health, "timeout", "no heartbeat within failure timeout"); ev != nil {
				events = append(events, *ev)
			}
		case health.ConsecutiveFailures >= d.cfg.SuspectThreshold:
			health.Status = types.NodeStatusSuspect
		}
	}
	d.mu.Unlock()

	for _, ev := range events {
		d.fireFailure(ev)
	}
}

// GetNodeHealth returns a copy of nodeID's health record, or false if
// unknown.
func (d *Detector) GetNodeHealth(nodeID string) (NodeHealth, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.nodes[nodeID]
	if !ok {
		return NodeHealth{}, false
	}
	return *h, true
}

// HealthyNodes returns every node currently in HEALTHY status.
func (d *Detector) HealthyNodes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for id, h := range d.nodes {
		if h.IsHealthy() {
			out = append(out, id)
		}
	}
	return out
}

// FailedNodes returns every currently FAILED node.
func (d *Detector) FailedNodes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.failedNodes))
	for id := range d.failedNodes {
		out = append(out, id)
	}
	return out
}

// SuspectNodes returns every currently SUSPECT node.
func (d *Detector) SuspectNodes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for id, h := range d.nodes {
		if h.Status == types.NodeStatusSuspect {
			out = append(out, id)
		}
	}
	return out
}

// IsNodeHealthy reports whether nodeID is known and HEALTHY.
func (d *Detector) IsNodeHealthy(nodeID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.nodes[nodeID]
	return ok && h.IsHealthy()
}

// FailureHistory returns up to limit most recent failure events, oldest
// first within that window.
func (d *Detector) FailureHistory(limit int) []FailureEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if limit <= 0 || limit > len(d.history) {
		limit = len(d.history)
	}
	return append([]FailureEvent(nil), d.history[len(d.history)-limit:]...)
}

// Statistics summarizes detector-wide node counts.
type Statistics struct {
	TotalNodes        int
	HealthyNodes      int
	FailedNodes       int
	SuspectNodes      int
	StatusDistribution map[types.NodeStatus]int
	TotalFailures     int
}

// Stats computes current detector statistics.
func (d *Detector) Stats() Statistics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := Statistics{
		TotalNodes:         len(d.nodes),
		FailedNodes:        len(d.failedNodes),
		TotalFailures:      len(d.history),
		StatusDistribution: make(map[types.NodeStatus]int),
	}
	for _, h := range d.nodes {
		stats.StatusDistribution[h.Status]++
		if h.IsHealthy() {
			stats.HealthyNodes++
		}
		if h.Status == types.NodeStatusSuspect {
			stats.SuspectNodes++
		}
	}
	return stats
}
