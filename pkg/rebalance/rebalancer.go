package rebalance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// RebalanceStatus tracks the orchestrator's current phase.
type RebalanceStatus string

const (
	StatusIdle       RebalanceStatus = "idle"
	StatusAnalyzing  RebalanceStatus = "analyzing"
	StatusPlanning   RebalanceStatus = "planning"
	StatusExecuting  RebalanceStatus = "executing"
	StatusCompleted  RebalanceStatus = "completed"
	StatusFailed     RebalanceStatus = "failed"
	StatusPaused     RebalanceStatus = "paused"
)

// Config configures the rebalancer's timing and migration parameters
// (C10). Thresholds are forwarded to the embedded LoadCalculator.
type Config struct {
	ImbalanceThreshold      float64
	CriticalThreshold       float64
	MinDocumentsToMove      int
	CheckInterval           time.Duration
	CooldownAfterRebalance  time.Duration
	BatchSize               int64
	BatchDelay              time.Duration
	MaxConcurrentMigrations int
	MaxDocumentsPerRebalance int64
	MaxDuration             time.Duration
}

// DefaultConfig mirrors the reference defaults.
func DefaultConfig() Config {
	return Config{
		ImbalanceThreshold:       0.2,
		CriticalThreshold:        0.9,
		MinDocumentsToMove:       10,
		CheckInterval:            60 * time.Second,
		CooldownAfterRebalance:   5 * time.Minute,
		BatchSize:                50,
		BatchDelay:               time.Second,
		MaxConcurrentMigrations:  2,
		MaxDocumentsPerRebalance: 1000,
		MaxDuration:              time.Hour,
	}
}

// DocumentSelectorFunc picks up to count document IDs on nodeID to migrate
// away, e.g. preferring semantic outliers already fully replicated.
type DocumentSelectorFunc func(ctx context.Context, nodeID string, count int) ([]string, error)

// Operation is one rebalance run: analyze, plan, execute.
type Operation struct {
	ID               string
	Status           RebalanceStatus
	StartedAt        time.Time
	CompletedAt      time.Time
	Decisions        []Decision
	MigrationTaskIDs []string
	DocumentsMoved   int
	DocumentsFailed  int
	ErrorMessage     string
}

// Duration reports elapsed wall time for the operation.
func (op *Operation) Duration() time.Duration {
	if !op.CompletedAt.IsZero() {
		return op.CompletedAt.Sub(op.StartedAt)
	}
	return time.Since(op.StartedAt)
}

// Rebalancer monitors cluster load on a ticker and, outside of its cooldown
// window, plans and executes document migrations to restore balance
// (C10). It wraps a LoadCalculator (C8) and a MigrationHandler (C9).
type Rebalancer struct {
	cfg Config

	calculator *LoadCalculator
	handler    *MigrationHandler
	selector   DocumentSelectorFunc

	mu            sync.RWMutex
	status        RebalanceStatus
	current       *Operation
	history       []*Operation
	lastRebalance time.Time
	opCounter     int64

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	logger zerolog.Logger
}

// NewRebalancer constructs a Rebalancer with its own LoadCalculator and
// MigrationHandler, wired from cfg.
func NewRebalancer(cfg Config, selector DocumentSelectorFunc, transfer TransferBatchFunc) *Rebalancer {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if cfg.CooldownAfterRebalance <= 0 {
		cfg.CooldownAfterRebalance = DefaultConfig().CooldownAfterRebalance
	}
	if cfg.MinDocumentsToMove <= 0 {
		cfg.MinDocumentsToMove = DefaultConfig().MinDocumentsToMove
	}

	calcOpts := Options{
		ImbalanceThreshold: cfg.ImbalanceThreshold,
		CriticalThreshold:  cfg.CriticalThreshold,
		MinTransferSize:    cfg.MinDocumentsToMove,
		TargetLoadFactor:   DefaultOptions().TargetLoadFactor,
	}
	if calcOpts.ImbalanceThreshold <= 0 {
		calcOpts.ImbalanceThreshold = DefaultOptions().ImbalanceThreshold
	}
	if calcOpts.CriticalThreshold <= 0 {
		calcOpts.CriticalThreshold = DefaultOptions().CriticalThreshold
	}

	migCfg := MigrationConfig{
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay,
	}

	return &Rebalancer{
		cfg:        cfg,
		calculator: NewLoadCalculator(calcOpts),
		handler:    NewMigrationHandler(migCfg, transfer),
		selector:   selector,
		status:     StatusIdle,
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("rebalance"),
	}
}

// UpdateNode forwards a cluster node's load snapshot to the calculator.
func (r *Rebalancer) UpdateNode(node *types.ClusterNode) {
	r.calculator.UpdateFromClusterNode(node)
}

// RemoveNode stops tracking a node that has left the cluster.
func (r *Rebalancer) RemoveNode(nodeID string) {
	r.calculator.RemoveNode(nodeID)
}

// NeedsRebalance satisfies partition.RebalanceChecker, delegating directly
// to the load calculator (ignoring cooldown, which only gates the
// autonomous monitor loop).
func (r *Rebalancer) NeedsRebalance(threshold float64) bool {
	return r.calculator.NeedsRebalance(threshold)
}

// IsInCooldown reports whether a rebalance completed too recently to start
// another.
func (r *Rebalancer) IsInCooldown() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastRebalance.IsZero() {
		return false
	}
	return time.Now().Before(r.lastRebalance.Add(r.cfg.CooldownAfterRebalance))
}

// Status returns the orchestrator's current phase.
func (r *Rebalancer) Status() RebalanceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Start launches the background monitor loop. Safe to call once.
func (r *Rebalancer) Start(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	r.logger.Info().Msg("rebalancer monitoring started")
	r.wg.Add(1)
	go r.monitorLoop(ctx)
}

// Stop signals the monitor loop to exit and waits for it.
func (r *Rebalancer) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info().Msg("rebalancer monitoring stopped")
}

func (r *Rebalancer) monitorLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkAndRebalance(ctx)
		}
	}
}

func (r *Rebalancer) checkAndRebalance(ctx context.Context) {
	if r.Status() != StatusIdle {
		return
	}
	if r.IsInCooldown() {
		return
	}

	need, reason := r.calculator.NeedsRebalanceReason(r.cfg.ImbalanceThreshold)
	if !need {
		return
	}
	r.logger.Info().Str("reason", reason).Msg("rebalance triggered")
	if _, err := r.ExecuteRebalance(ctx); err != nil {
		r.logger.Error().Err(err).Msg("rebalance execution failed")
	}
}

// ExecuteRebalance runs one analyze -> plan -> execute cycle synchronously
// and records the resulting Operation in history.
func (r *Rebalancer) ExecuteRebalance(ctx context.Context) (*Operation, error) {
	r.mu.Lock()
	r.opCounter++
	op := &Operation{
		ID:        fmt.Sprintf("rebal_%d", r.opCounter),
		Status:    StatusAnalyzing,
		StartedAt: time.Now(),
	}
	r.current = op
	r.status = StatusAnalyzing
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.status = StatusIdle
		r.current = nil
		r.history = append(r.history, op)
		r.mu.Unlock()
	}()

	r.logger.Info().Str("operation_id", op.ID).Msg("analyzing cluster load")
	r.calculator.Summary()

	r.setStatus(StatusPlanning)
	op.Status = StatusPlanning
	decisions := r.calculator.GeneratePlan()
	op.Decisions = decisions

	if len(decisions) == 0 {
		op.Status = StatusCompleted
		op.CompletedAt = time.Now()
		r.logger.Info().Str("operation_id", op.ID).Msg("no rebalance needed after analysis")
		return op, nil
	}

	r.logger.Info().Str("operation_id", op.ID).Int("migrations", len(decisions)).Msg("rebalance plan generated")

	r.setStatus(StatusExecuting)
	op.Status = StatusExecuting

	var moved int64
	for _, decision := range decisions {
		if r.cfg.MaxDocumentsPerRebalance > 0 && moved >= r.cfg.MaxDocumentsPerRebalance {
			break
		}
		result, err := r.executeDecision(ctx, decision)
		if err != nil {
			r.logger.Warn().Err(err).Str("operation_id", op.ID).Msg("decision execution failed")
			continue
		}
		if result == nil {
			continue
		}
		op.MigrationTaskIDs = append(op.MigrationTaskIDs, result.TaskID)
		op.DocumentsMoved += result.DocumentsMigrated
		op.DocumentsFailed += result.DocumentsFailed
		moved += int64(result.DocumentsMigrated)
	}

	op.Status = StatusCompleted
	op.CompletedAt = time.Now()
	r.mu.Lock()
	r.lastRebalance = time.Now()
	r.mu.Unlock()

	r.logger.Info().
		Str("operation_id", op.ID).
		Int("moved", op.DocumentsMoved).
		Int("failed", op.DocumentsFailed).
		Msg("rebalance completed")

	return op, nil
}

func (r *Rebalancer) setStatus(s RebalanceStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Rebalancer) executeDecision(ctx context.Context, decision Decision) (*MigrationResult, error) {
	if decision.SourceNode == "" || decision.TargetNode == "" {
		return nil, nil
	}
	if r.selector == nil {
		r.logger.Warn().Msg("no document selector configured, cannot select documents")
		return nil, nil
	}

	docIDs, err := r.selector(ctx, decision.SourceNode, int(decision.DocumentsToMove))
	if err != nil {
		return nil, fmt.Errorf("selecting documents to migrate: %w", err)
	}
	if len(docIDs) == 0 {
		r.logger.Warn().Str("source_node", decision.SourceNode).Msg("no documents selected for migration")
		return nil, nil
	}

	task := r.handler.CreateTask(decision.SourceNode, decision.TargetNode, docIDs)
	return r.handler.ExecuteTask(ctx, task.ID)
}

// Pause transitions an EXECUTING rebalance to PAUSED.
func (r *Rebalancer) Pause() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusExecuting {
		r.status = StatusPaused
		return true
	}
	return false
}

// Resume transitions a PAUSED rebalance back to EXECUTING.
func (r *Rebalancer) Resume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusPaused {
		r.status = StatusExecuting
		return true
	}
	return false
}

// CurrentOperation returns the in-flight operation, or nil if idle.
func (r *Rebalancer) CurrentOperation() *Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// ClusterSummary returns the current cluster-wide load summary.
func (r *Rebalancer) ClusterSummary() ClusterLoadSummary {
	return r.calculator.Summary()
}

// OperationHistory returns up to limit most-recent completed operations.
func (r *Rebalancer) OperationHistory(limit int) []*Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	return append([]*Operation(nil), r.history[len(r.history)-limit:]...)
}

// Stats summarizes rebalancer-wide counters.
type Stats struct {
	Status              RebalanceStatus
	IsInCooldown        bool
	TotalOperations      int
	TotalDocumentsMoved  int
	TotalDocumentsFailed int
	LastRebalance        time.Time
	Migration            HandlerStats
}

// Stats computes current rebalancer-wide statistics.
func (r *Rebalancer) Stats() Stats {
	r.mu.RLock()

	var moved, failed int
	for _, op := range r.history {
		moved += op.DocumentsMoved
		failed += op.DocumentsFailed
	}

	inCooldown := !r.lastRebalance.IsZero() && time.Now().Before(r.lastRebalance.Add(r.cfg.CooldownAfterRebalance))

	stats := Stats{
		Status:               r.status,
		IsInCooldown:         inCooldown,
		TotalOperations:      len(r.history),
		TotalDocumentsMoved:  moved,
		TotalDocumentsFailed: failed,
		LastRebalance:        r.lastRebalance,
	}
	r.mu.RUnlock()

	stats.Migration = r.handler.Stats()
	return stats
}
