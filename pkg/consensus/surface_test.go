package consensus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrisearch/distrisearch/pkg/replication"
	"github.com/distrisearch/distrisearch/pkg/types"
)

type fakePartitionChecker struct {
	mu          sync.Mutex
	partitioned bool
}

func (f *fakePartitionChecker) IsPartitioned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.partitioned
}

func (f *fakePartitionChecker) set(p bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partitioned = p
}

func alwaysReplicate(ok bool) ReplicateFn {
	return func(ctx context.Context, doc *types.Document, target string) bool { return ok }
}

func doc(id string) *types.Document {
	return &types.Document{ID: id, Size: 10}
}

func TestSurface_ReadUnknownDocumentReturnsUnknownFreshness(t *testing.T) {
	s := NewSurface(DefaultConfig(), replication.NewTracker(2), &fakePartitionChecker{}, nil)
	d, freshness := s.Read("missing")
	assert.Nil(t, d)
	assert.Equal(t, types.FreshnessUnknown, freshness)
}

func TestSurface_WriteWithNoReplicasCommitsImmediately(t *testing.T) {
	tracker := replication.NewTracker(2)
	s := NewSurface(DefaultConfig(), tracker, &fakePartitionChecker{}, alwaysReplicate(true))

	status := s.Write(context.Background(), doc("d1"))
	assert.Equal(t, types.SyncCommitted, status)
	assert.Equal(t, 0, s.PendingCount())

	d, freshness := s.Read("d1")
	require.NotNil(t, d)
	assert.Equal(t, types.FreshnessFresh, freshness)
}

func TestSurface_WriteDuringPartitionNeverBlocksAndTagsWillSyncLater(t *testing.T) {
	tracker := replication.NewTracker(2)
	checker := &fakePartitionChecker{partitioned: true}
	s := NewSurface(DefaultConfig(), tracker, checker, alwaysReplicate(true))

	status := s.Write(context.Background(), doc("d1"))
	assert.Equal(t, types.SyncWillSyncLater, status)
	assert.Equal(t, 1, s.PendingCount())

	d, freshness := s.Read("d1")
	require.NotNil(t, d, "read must still succeed locally during a partition")
	assert.Equal(t, types.FreshnessStale, freshness)
}

func TestSurface_WriteWithUnreachableReplicaStaysPending(t *testing.T) {
	tracker := replication.NewTracker(2)
	tracker.RegisterDocument("d1", "n1", []string{"n2"}, 2, 10, "")
	require.NoError(t, tracker.UpdateReplicaStatus("d1", "n2", types.ReplicaStatusActive, 0))

	s := NewSurface(DefaultConfig(), tracker, &fakePartitionChecker{}, alwaysReplicate(false))

	status := s.Write(context.Background(), doc("d1"))
	assert.Equal(t, types.SyncPending, status)
	assert.Equal(t, 1, s.PendingCount())

	d, freshness := s.Read("d1")
	require.NotNil(t, d)
	assert.Equal(t, types.FreshnessPotentiallyStale, freshness)
}

func TestSurface_ReconcilerDrainsPendingWritesOncePartitionHeals(t *testing.T) {
	tracker := replication.NewTracker(2)
	tracker.RegisterDocument("d1", "n1", []string{"n2"}, 2, 10, "")
	require.NoError(t, tracker.UpdateReplicaStatus("d1", "n2", types.ReplicaStatusActive, 0))

	checker := &fakePartitionChecker{partitioned: true}
	var replicateOK bool
	replicateFn := func(ctx context.Context, d *types.Document, target string) bool { return replicateOK }

	cfg := DefaultConfig()
	cfg.ReconcileInterval = 10 * time.Millisecond
	s := NewSurface(cfg, tracker, checker, replicateFn)

	status := s.Write(context.Background(), doc("d1"))
	assert.Equal(t, types.SyncWillSyncLater, status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	checker.set(false)
	replicateOK = true

	require.Eventually(t, func() bool {
		return s.PendingCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSurface_Stats(t *testing.T) {
	tracker := replication.NewTracker(2)
	s := NewSurface(DefaultConfig(), tracker, &fakePartitionChecker{}, alwaysReplicate(true))
	s.Write(context.Background(), doc("d1"))
	s.Write(context.Background(), doc("d2"))

	stats := s.Stats()
	assert.Equal(t, 2, stats.LocalDocuments)
	assert.Equal(t, 0, stats.PendingWrites)
}
