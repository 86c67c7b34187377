package rebalance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/distrisearch/distrisearch/pkg/log"
)

// migrationBatchSize and migrationBatchDelay are the default batch transfer
// parameters per spec: 50 docs/batch with a 1s pause between batches.
const (
	migrationBatchSize  int64 = 50
	migrationBatchDelay       = time.Second
)

// MigrationStatus is the lifecycle state of a migration task.
type MigrationStatus string

const (
	MigrationPending    MigrationStatus = "pending"
	MigrationInProgress MigrationStatus = "in_progress"
	MigrationCompleted  MigrationStatus = "completed"
	MigrationFailed     MigrationStatus = "failed"
	MigrationCancelled  MigrationStatus = "cancelled"
	MigrationPaused     MigrationStatus = "paused"
)

// MigrationTask moves a batch of documents from one node to another.
type MigrationTask struct {
	ID                string
	SourceNode        string
	TargetNode        string
	DocumentIDs       []string
	Status            MigrationStatus
	CreatedAt         time.Time
	StartedAt         time.Time
	CompletedAt       time.Time
	Progress          float64
	DocumentsMigrated int
	DocumentsFailed   int
	ErrorMessage      string
	RetryCount        int
	MaxRetries        int
}

// TotalDocuments is the number of documents this task covers.
func (t *MigrationTask) TotalDocuments() int { return len(t.DocumentIDs) }

// IsComplete reports whether the task has reached a terminal state.
func (t *MigrationTask) IsComplete() bool {
	switch t.Status {
	case MigrationCompleted, MigrationFailed, MigrationCancelled:
		return true
	default:
		return false
	}
}

// Duration returns elapsed time since start, or since start until completion
// if already complete. Zero if not yet started.
func (t *MigrationTask) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if !t.CompletedAt.IsZero() {
		return t.CompletedAt.Sub(t.StartedAt)
	}
	return time.Since(t.StartedAt)
}

// MigrationResult is the outcome of executing one MigrationTask.
type MigrationResult struct {
	TaskID            string
	Success           bool
	DocumentsMigrated int
	DocumentsFailed   int
	Duration          time.Duration
	ErrorMessage      string
	FailedDocuments   []string
}

// TransferBatchFunc moves one batch of documents between two nodes,
// returning which IDs succeeded and which failed.
type TransferBatchFunc func(ctx context.Context, source, target string, documentIDs []string) (migrated, failed []string, err error)

// MigrationConfig configures batch size and rate limiting (C9).
type MigrationConfig struct {
	BatchSize       int64
	BatchDelay      time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	TransferTimeout time.Duration
}

// DefaultMigrationConfig mirrors the reference defaults.
func DefaultMigrationConfig() MigrationConfig {
	return MigrationConfig{
		BatchSize:       migrationBatchSize,
		BatchDelay:      migrationBatchDelay,
		MaxRetries:      3,
		RetryDelay:      5 * time.Second,
		TransferTimeout: 30 * time.Second,
	}
}

// MigrationHandler executes document migrations in rate-limited batches
// (C9), with per-batch retry and task progress tracking.
type MigrationHandler struct {
	cfg      MigrationConfig
	transfer TransferBatchFunc

	mu        sync.Mutex
	tasks     map[string]*MigrationTask
	cancelled map[string]bool

	totalMigrated int
	totalFailed   int

	logger zerolog.Logger
}

// NewMigrationHandler constructs a handler. transfer may be nil, in which
// case every batch is treated as a no-op success (useful for dry runs).
func NewMigrationHandler(cfg MigrationConfig, transfer TransferBatchFunc) *MigrationHandler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultMigrationConfig().BatchSize
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultMigrationConfig().BatchDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMigrationConfig().MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultMigrationConfig().RetryDelay
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultMigrationConfig().TransferTimeout
	}
	return &MigrationHandler{
		cfg:       cfg,
		transfer:  transfer,
		tasks:     make(map[string]*MigrationTask),
		cancelled: make(map[string]bool),
		logger:    log.WithComponent("rebalance"),
	}
}

// SetTransferFunc replaces the batch transfer function.
func (h *MigrationHandler) SetTransferFunc(fn TransferBatchFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transfer = fn
}

// CreateTask registers a new migration task, PENDING until ExecuteTask runs
// it.
func (h *MigrationHandler) CreateTask(source, target string, documentIDs []string) *MigrationTask {
	task := &MigrationTask{
		ID:          fmt.Sprintf("mig_%s", uuid.New().String()[:12]),
		SourceNode:  source,
		TargetNode:  target,
		DocumentIDs: documentIDs,
		Status:      MigrationPending,
		CreatedAt:   time.Now(),
		MaxRetries:  h.cfg.MaxRetries,
	}

	h.mu.Lock()
	h.tasks[task.ID] = task
	h.mu.Unlock()

	h.logger.Info().
		Str("task_id", task.ID).
		Int("documents", len(documentIDs)).
		Str("source_node", source).
		Str("target_node", target).
		Msg("created migration task")
	return task
}

// ExecuteTask runs a migration task to completion: it splits the document
// list into batches of cfg.BatchSize, transfers each with a retry, and
// sleeps cfg.BatchDelay between batches (rate limiting). Blocks until done
// or cancelled; call from a goroutine for concurrent migrations.
func (h *MigrationHandler) ExecuteTask(ctx context.Context, taskID string) (*MigrationResult, error) {
	h.mu.Lock()
	task, ok := h.tasks[taskID]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("rebalance: unknown migration task %q", taskID)
	}
	if task.IsComplete() {
		return nil, fmt.Errorf("rebalance: task %q already complete", taskID)
	}

	task.Status = MigrationInProgress
	task.StartedAt = time.Now()
	h.logger.Info().Str("task_id", taskID).Msg("starting migration task")

	var failedDocs []string
	batches := chunk(task.DocumentIDs, h.cfg.BatchSize)
	total := len(batches)

	for i, batch := range batches {
		if h.isCancelled(taskID) {
			task.Status = MigrationCancelled
			task.CompletedAt = time.Now()
			break
		}

		migrated, failed, err := h.transferBatch(ctx, task.SourceNode, task.TargetNode, batch)
		if err != nil {
			if task.RetryCount < task.MaxRetries {
				task.RetryCount++
				h.logger.Warn().Err(err).Str("task_id", taskID).Int("batch", i).Msg("batch failed, retrying")
				time.Sleep(h.cfg.RetryDelay)

				migrated, failed, err = h.transferBatch(ctx, task.SourceNode, task.TargetNode, batch)
			}
			if err != nil {
				task.DocumentsFailed += len(batch)
				failedDocs = append(failedDocs, batch...)
				migrated, failed = nil, nil
			}
		}

		task.DocumentsMigrated += len(migrated)
		task.DocumentsFailed += len(failed)
		failedDocs = append(failedDocs, failed...)

		task.Progress = float64(i+1) / float64(total)

		if i < total-1 {
			time.Sleep(h.cfg.BatchDelay)
		}
	}

	if task.Status != MigrationCancelled {
		switch {
		case task.DocumentsFailed == 0:
			task.Status = MigrationCompleted
		case task.DocumentsMigrated > 0:
			task.Status = MigrationCompleted // partial success
		default:
			task.Status = MigrationFailed
		}
	}
	task.CompletedAt = time.Now()
	task.Progress = 1.0

	h.mu.Lock()
	h.totalMigrated += task.DocumentsMigrated
	h.totalFailed += task.DocumentsFailed
	h.mu.Unlock()

	h.logger.Info().
		Str("task_id", taskID).
		Int("migrated", task.DocumentsMigrated).
		Int("failed", task.DocumentsFailed).
		Str("status", string(task.Status)).
		Msg("migration task finished")

	return &MigrationResult{
		TaskID:            taskID,
		Success:           task.DocumentsFailed == 0,
		DocumentsMigrated: task.DocumentsMigrated,
		DocumentsFailed:   task.DocumentsFailed,
		Duration:          task.Duration(),
		FailedDocuments:   failedDocs,
	}, nil
}

func (h *MigrationHandler) transferBatch(ctx context.Context, source, target string, batch []string) (migrated, failed []string, err error) {
	if h.transfer == nil {
		return batch, nil, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, h.cfg.TransferTimeout)
	defer cancel()
	return h.transfer(callCtx, source, target, batch)
}

func (h *MigrationHandler) isCancelled(taskID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled[taskID]
}

// CancelTask marks a pending or in-progress task for cancellation; it takes
// effect at the next batch boundary.
func (h *MigrationHandler) CancelTask(taskID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	task, ok := h.tasks[taskID]
	if !ok || task.IsComplete() {
		return false
	}
	h.cancelled[taskID] = true
	h.logger.Info().Str("task_id", taskID).Msg("cancelled migration task")
	return true
}

// PauseTask flips an in-progress task to PAUSED. The batch loop itself does
// not yet observe pause mid-execution; this records operator intent for a
// task about to start its next batch.
func (h *MigrationHandler) PauseTask(taskID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	task, ok := h.tasks[taskID]
	if !ok || task.Status != MigrationInProgress {
		return false
	}
	task.Status = MigrationPaused
	return true
}

// ResumeTask flips a PAUSED task back to IN_PROGRESS.
func (h *MigrationHandler) ResumeTask(taskID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	task, ok := h.tasks[taskID]
	if !ok || task.Status != MigrationPaused {
		return false
	}
	task.Status = MigrationInProgress
	return true
}

// GetTask returns a task by ID.
func (h *MigrationHandler) GetTask(taskID string) (*MigrationTask, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tasks[taskID]
	return t, ok
}

// ActiveTasks returns every non-terminal task.
func (h *MigrationHandler) ActiveTasks() []*MigrationTask {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*MigrationTask
	for _, t := range h.tasks {
		if !t.IsComplete() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// TaskHistory returns up to limit completed tasks, most recent first.
func (h *MigrationHandler) TaskHistory(limit int) []*MigrationTask {
	h.mu.Lock()
	defer h.mu.Unlock()

	var completed []*MigrationTask
	for _, t := range h.tasks {
		if t.IsComplete() {
			completed = append(completed, t)
		}
	}
	sort.Slice(completed, func(i, j int) bool { return completed[i].CompletedAt.After(completed[j].CompletedAt) })
	if limit > 0 && len(completed) > limit {
		completed = completed[:limit]
	}
	return completed
}

// HandlerStats summarizes migration-handler-wide counters.
type HandlerStats struct {
	TotalTasks             int
	ActiveTasks            int
	CompletedTasks         int
	FailedTasks            int
	TotalDocumentsMigrated int
	TotalDocumentsFailed   int
	CurrentProgress        float64
}

// Stats computes current handler statistics.
func (h *MigrationHandler) Stats() HandlerStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := HandlerStats{
		TotalTasks:             len(h.tasks),
		TotalDocumentsMigrated: h.totalMigrated,
		TotalDocumentsFailed:   h.totalFailed,
	}

	var activeProgress float64
	for _, t := range h.tasks {
		switch t.Status {
		case MigrationCompleted:
			stats.CompletedTasks++
		case MigrationFailed:
			stats.FailedTasks++
		}
		if !t.IsComplete() {
			stats.ActiveTasks++
			activeProgress += t.Progress
		}
	}
	if stats.ActiveTasks > 0 {
		stats.CurrentProgress = activeProgress / float64(stats.ActiveTasks)
	}
	return stats
}

// CleanupOldTasks deletes completed tasks older than maxAge, returning the
// count removed.
func (h *MigrationHandler) CleanupOldTasks(maxAge time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, t := range h.tasks {
		if t.IsComplete() && !t.CompletedAt.IsZero() && now.Sub(t.CompletedAt) > maxAge {
			delete(h.tasks, id)
			removed++
		}
	}
	return removed
}

func chunk(ids []string, size int64) [][]string {
	if size <= 0 {
		size = migrationBatchSize
	}
	var batches [][]string
	for i := int64(0); i < int64(len(ids)); i += size {
		end := i + size
		if end > int64(len(ids)) {
			end = int64(len(ids))
		}
		batches = append(batches, ids[i:end])
	}
	return batches
}
