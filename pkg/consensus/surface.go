package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/distrisearch/distrisearch/pkg/log"
	"github.com/distrisearch/distrisearch/pkg/replication"
	"github.com/distrisearch/distrisearch/pkg/types"
)

// PartitionChecker reports whether the node currently believes itself
// partitioned from (some of) the rest of the cluster. *cluster.AdaptiveConfig
// and *cluster.DegradationManager both satisfy this.
type PartitionChecker interface {
	IsPartitioned() bool
}

// ReplicateFn pushes doc to targetNode, matching spec §6's replicate
// primitive: replicate(doc_id, source, target) -> bool.
type ReplicateFn func(ctx context.Context, doc *types.Document, targetNode string) bool

// Config tunes the reconciler.
type Config struct {
	ReconcileInterval time.Duration
	ReplicateTimeout  time.Duration
}

// DefaultConfig mirrors the reference's "check every few seconds" cadence
// used throughout the original's background loops.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 5 * time.Second,
		ReplicateTimeout:  10 * time.Second,
	}
}

type pendingWrite struct {
	doc      *types.Document
	enqueued time.Time
	reason   types.SyncStatus
}

// Surface is the AP read/write boundary (C17): Read never fails, Write
// never blocks on quorum.
type Surface struct {
	cfg Config

	tracker     *replication.Tracker
	partitioned PartitionChecker
	replicate   ReplicateFn

	mu      sync.RWMutex
	local   map[string]*types.Document
	pending map[string]pendingWrite

	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// NewSurface constructs a Surface. replicate may be nil (writes are then
// always queued for the reconciler, never synchronously pushed).
func NewSurface(cfg Config, tracker *replication.Tracker, partitioned PartitionChecker, replicate ReplicateFn) *Surface {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultConfig().ReconcileInterval
	}
	if cfg.ReplicateTimeout <= 0 {
		cfg.ReplicateTimeout = DefaultConfig().ReplicateTimeout
	}
	return &Surface{
		cfg:         cfg,
		tracker:     tracker,
		partitioned: partitioned,
		replicate:   replicate,
		local:       make(map[string]*types.Document),
		pending:     make(map[string]pendingWrite),
		logger:      log.WithComponent("consensus"),
	}
}

// Read returns the locally held document, if any, tagged with how much it
// should be trusted. It never fails: an unknown document ID returns
// (nil, FreshnessUnknown) rather than an error.
func (s *Surface) Read(docID string) (*types.Document, types.Freshness) {
	s.mu.RLock()
	doc, ok := s.local[docID]
	_, isPending := s.pending[docID]
	s.mu.RUnlock()

	if !ok {
		return nil, types.FreshnessUnknown
	}

	isPartitioned := s.partitioned != nil && s.partitioned.IsPartitioned()

	switch {
	case isPending:
		return doc, types.FreshnessPotentiallyStale
	case isPartitioned:
		return doc, types.FreshnessStale
	default:
		return doc, types.FreshnessFresh
	}
}

// Write stores doc locally immediately, then attempts synchronous
// replication to every healthy non-primary replica known to the tracker. It
// never blocks on quorum and never returns an error: anything short of
// full replication is tagged and handed to the reconciler.
func (s *Surface) Write(ctx context.Context, doc *types.Document) types.SyncStatus {
	s.mu.Lock()
	s.local[doc.ID] = doc
	s.mu.Unlock()

	status := s.tryReplicate(ctx, doc)

	s.mu.Lock()
	if status == types.SyncCommitted {
		delete(s.pending, doc.ID)
	} else {
		s.pending[doc.ID] = pendingWrite{doc: doc, enqueued: time.Now(), reason: status}
	}
	s.mu.Unlock()

	return status
}

func (s *Surface) tryReplicate(ctx context.Context, doc *types.Document) types.SyncStatus {
	if s.partitioned != nil && s.partitioned.IsPartitioned() {
		return types.SyncWillSyncLater
	}

	if s.replicate == nil {
		return types.SyncPending
	}
	rs := s.tracker.Get(doc.ID)
	if rs == nil {
		return types.SyncCommitted
	}

	targets := make([]string, 0, len(rs.Replicas))
	for _, r := range rs.Replicas {
		if !r.IsPrimary && r.Status.IsHealthy() {
			targets = append(targets, r.NodeID)
		}
	}
	if len(targets) == 0 {
		return types.SyncCommitted
	}

	replicateCtx, cancel := context.WithTimeout(ctx, s.cfg.ReplicateTimeout)
	defer cancel()

	allOK := true
	for _, target := range targets {
		if !s.replicate(replicateCtx, doc, target) {
			allOK = false
		}
	}
	if allOK {
		return types.SyncCommitted
	}
	return types.SyncPending
}

// Start begins the background reconciler loop, which retries every pending
// write once the cluster is no longer partitioned.
func (s *Surface) Start(ctx context.Context) {
	reconcileCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.reconcileLoop(reconcileCtx)
}

// Stop halts the reconciler loop.
func (s *Surface) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Surface) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce retries every currently pending write once, logging and
// keeping whatever still doesn't fully replicate for the next tick.
func (s *Surface) reconcileOnce(ctx context.Context) {
	if s.partitioned != nil && s.partitioned.IsPartitioned() {
		return
	}

	s.mu.RLock()
	docs := make([]*types.Document, 0, len(s.pending))
	for _, pw := range s.pending {
		docs = append(docs, pw.doc)
	}
	s.mu.RUnlock()

	if len(docs) == 0 {
		return
	}

	var reconciled int
	for _, doc := range docs {
		status := s.tryReplicate(ctx, doc)
		s.mu.Lock()
		if status == types.SyncCommitted {
			delete(s.pending, doc.ID)
			reconciled++
		} else {
			s.pending[doc.ID] = pendingWrite{doc: doc, enqueued: time.Now(), reason: status}
		}
		s.mu.Unlock()
	}

	if reconciled > 0 {
		s.logger.Info().Int("reconciled", reconciled).Int("still_pending", len(docs)-reconciled).Msg("reconciled pending writes")
	}
}

// PendingCount returns the number of writes awaiting reconciliation.
func (s *Surface) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Stats is a diagnostics snapshot.
type Stats struct {
	LocalDocuments int
	PendingWrites  int
}

// Stats returns current surface-wide counters.
func (s *Surface) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{LocalDocuments: len(s.local), PendingWrites: len(s.pending)}
}
