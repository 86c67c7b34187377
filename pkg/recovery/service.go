package recovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/distrisearch/distrisearch/pkg/health"
	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/replication"
)

// Phase names one step of a recovery operation.
type Phase string

const (
	PhaseDetection     Phase = "detection"
	PhaseAssessment    Phase = "assessment"
	PhasePromotion     Phase = "promotion"
	PhaseReReplication Phase = "re_replication"
	PhaseVerification  Phase = "verification"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
)

// Task represents one in-flight or completed recovery operation for a
// single failed node.
type Task struct {
	ID                string
	FailedNode        string
	Phase             Phase
	StartedAt         time.Time
	CompletedAt       time.Time
	AffectedDocuments []string
	DocumentsRecovered int
	DocumentsFailed    int
	Error              string
}

// IsComplete reports whether the task reached a terminal phase.
func (t *Task) IsComplete() bool {
	return t.Phase == PhaseCompleted || t.Phase == PhaseFailed
}

// Duration returns elapsed time since the task started, using CompletedAt
// if the task has finished.
func (t *Task) Duration() time.Duration {
	if !t.CompletedAt.IsZero() {
		return t.CompletedAt.Sub(t.StartedAt)
	}
	return time.Since(t.StartedAt)
}

// Config tunes the recovery service's own timing; node-failure detection
// thresholds live in the embedded health.Config.
type Config struct {
	Health                   health.Config
	AssessmentDelay          time.Duration
	VerificationTimeout      time.Duration
	VerificationPollInterval time.Duration
}

// DefaultConfig mirrors the reference defaults.
func DefaultConfig() Config {
	return Config{
		Health:                   health.DefaultConfig(),
		AssessmentDelay:          2 * time.Second,
		VerificationTimeout:      60 * time.Second,
		VerificationPollInterval: 2 * time.Second,
	}
}

// Service coordinates failure detection with replica promotion and
// re-replication (C12/C13).
type Service struct {
	cfg Config

	detector *health.Detector
	manager  *replication.Manager
	tracker  *replication.Tracker

	mu      sync.Mutex
	active  map[string]*Task
	history []*Task

	onFailure  []func(nodeID string)
	onRecovery []func(nodeID string)

	taskCounter atomic.Int64

	logger zerolog.Logger
}

// NewService wires a failure detector to the given replication manager and
// tracker. manager and tracker must share the same underlying document
// state (tracker is normally the one passed to replication.NewManager).
func NewService(cfg Config, tracker *replication.Tracker, manager *replication.Manager) *Service {
	if cfg.AssessmentDelay <= 0 {
		cfg.AssessmentDelay = DefaultConfig().AssessmentDelay
	}
	if cfg.VerificationTimeout <= 0 {
		cfg.VerificationTimeout = DefaultConfig().VerificationTimeout
	}
	if cfg.VerificationPollInterval <= 0 {
		cfg.VerificationPollInterval = DefaultConfig().VerificationPollInterval
	}

	s := &Service{
		cfg:     cfg,
		manager: manager,
		tracker: tracker,
		active:  make(map[string]*Task),
		logger:  log.WithComponent("recovery"),
	}
	s.detector = health.NewDetector(cfg.Health, s.handleFailure, s.handleRecovery)
	return s
}

// OnFailure registers a callback notified (after this Service's own
// promotion/re-replication handling runs) whenever a node is newly
// detected as failed. Used by pkg/coordinator to keep its node registry
// and degradation manager in sync with failure detection.
func (s *Service) OnFailure(cb func(nodeID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = append(s.onFailure, cb)
}

// OnRecovery registers a callback notified whenever a previously-failed
// node sends a fresh heartbeat.
func (s *Service) OnRecovery(cb func(nodeID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRecovery = append(s.onRecovery, cb)
}

// RegisterNode, UnregisterNode, and RecordHeartbeat delegate to the
// underlying failure detector.
func (s *Service) RegisterNode(nodeID string, metadata map[string]string) { s.detector.RegisterNode(nodeID, metadata) }
func (s *Service) UnregisterNode(nodeID string)                           { s.detector.UnregisterNode(nodeID) }
func (s *Service) RecordHeartbeat(nodeID string, latencyMS float64, metadata map[string]string) {
	s.detector.RecordHeartbeat(nodeID, latencyMS, metadata)
}

// Start begins heartbeat-timeout monitoring.
func (s *Service) Start(ctx context.Context) { s.detector.Start(ctx) }

// Stop halts monitoring; in-flight recovery tasks are allowed to finish.
func (s *Service) Stop() { s.detector.Stop() }

// handleFailure is the detector's onFailure callback: it builds a Task and
// runs the recovery phase sequence. Invoked in its own goroutine by the
// detector, so it is free to block on the assessment delay and
// verification poll.
func (s *Service) handleFailure(event health.FailureEvent) {
	id := fmt.Sprintf("recovery_%d", s.taskCounter.Add(1))
	task := &Task{
		ID:         id,
		FailedNode: event.NodeID,
		Phase:      PhaseDetection,
		StartedAt:  time.Now(),
	}

	s.mu.Lock()
	s.active[id] = task
	s.mu.Unlock()

	s.logger.Error().Str("node_id", event.NodeID).Str("recovery_id", id).Msg("handling node failure")
	s.executeRecovery(task)

	task.CompletedAt = time.Now()
	s.mu.Lock()
	delete(s.active, id)
	s.history = append(s.history, task)
	if len(s.history) > 500 {
		s.history = s.history[len(s.history)-500:]
	}
	callbacks := append([]func(string){}, s.onFailure...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(event.NodeID)
	}
}

func (s *Service) handleRecovery(nodeID string) {
	s.logger.Info().Str("node_id", nodeID).Msg("node reported recovered, awaiting settle period")

	s.mu.Lock()
	callbacks := append([]func(string){}, s.onRecovery...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(nodeID)
	}
}

func (s *Service) executeRecovery(task *Task) {
	task.Phase = PhaseAssessment
	time.Sleep(s.cfg.AssessmentDelay)

	affected := s.assessImpact(task.FailedNode)
	task.AffectedDocuments = affected
	s.logger.Info().Str("recovery_id", task.ID).Int("affected_documents", len(affected)).Msg("recovery assessment complete")

	if len(affected) == 0 {
		task.Phase = PhaseCompleted
		return
	}

	// OnNodeFailure promotes a replacement primary and enqueues repairs in
	// one call, so promotion and re-replication collapse into one phase
	// transition here.
	task.Phase = PhasePromotion
	task.Phase = PhaseReReplication
	s.manager.OnNodeFailure(task.FailedNode)

	task.Phase = PhaseVerification
	s.verifyRecovery(task)

	task.Phase = PhaseCompleted
	s.logger.Info().Str("recovery_id", task.ID).
		Int("documents_recovered", task.DocumentsRecovered).
		Int("documents_failed", task.DocumentsFailed).
		Msg("recovery completed")
}

// assessImpact returns the documents the failed node was holding,
// read directly from the replication tracker.
func (s *Service) assessImpact(nodeID string) []string {
	return s.tracker.DocumentIDsOnNode(nodeID)
}

// verifyRecovery waits for the replication manager's queue to drain (up to
// VerificationTimeout), then counts how many of the affected documents are
// still under-replicated.
func (s *Service) verifyRecovery(task *Task) {
	deadline := time.Now().Add(s.cfg.VerificationTimeout)
	for time.Now().Before(deadline) {
		if s.manager.QueueDepth() == 0 {
			break
		}
		time.Sleep(s.cfg.VerificationPollInterval)
	}

	remaining := 0
	for _, id := range task.AffectedDocuments {
		rs := s.tracker.Get(id)
		if rs != nil && rs.IsUnderReplicated() {
			remaining++
		}
	}
	task.DocumentsFailed = remaining
	task.DocumentsRecovered = len(task.AffectedDocuments) - remaining
}

// TriggerManualRecovery runs the recovery workflow for nodeID synchronously,
// bypassing the detector's own failure thresholds, and returns the
// completed task.
func (s *Service) TriggerManualRecovery(nodeID string) *Task {
	event := health.FailureEvent{
		NodeID:      nodeID,
		DetectedAt:  time.Now(),
		FailureType: "manual",
	}
	s.handleFailure(event)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].FailedNode == nodeID {
			return s.history[i]
		}
	}
	return nil
}

// GetNodeHealth, HealthyNodes, FailedNodes, and SuspectNodes expose the
// underlying detector's view of the cluster.
func (s *Service) GetNodeHealth(nodeID string) (health.NodeHealth, bool) { return s.detector.GetNodeHealth(nodeID) }
func (s *Service) HealthyNodes() []string                                { return s.detector.HealthyNodes() }
func (s *Service) FailedNodes() []string                                 { return s.detector.FailedNodes() }
func (s *Service) SuspectNodes() []string                                { return s.detector.SuspectNodes() }

// ActiveRecoveries returns every in-flight recovery task.
func (s *Service) ActiveRecoveries() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.active))
	for _, t := range s.active {
		out = append(out, t)
	}
	return out
}

// RecoveryHistory returns up to limit most-recently-completed tasks.
func (s *Service) RecoveryHistory(limit int) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	return append([]*Task(nil), s.history[len(s.history)-limit:]...)
}

// Stats summarizes recovery-service-wide counters alongside the detector's
// own statistics.
type Stats struct {
	ActiveRecoveries          int
	TotalRecoveries           int
	TotalDocumentsRecovered   int
	TotalDocumentsFailed      int
	Detector                  health.Statistics
}

// Stats computes current aggregate statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	stats := Stats{
		ActiveRecoveries: len(s.active),
		TotalRecoveries:  len(s.history),
	}
	for _, t := range s.history {
		stats.TotalDocumentsRecovered += t.DocumentsRecovered
		stats.TotalDocumentsFailed += t.DocumentsFailed
	}
	s.mu.Unlock()

	stats.Detector = s.detector.Stats()
	return stats
}
