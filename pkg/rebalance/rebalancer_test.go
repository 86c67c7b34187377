package rebalance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRebalancerConfig() Config {
	cfg := DefaultConfig()
	cfg.CheckInterval = 20 * time.Millisecond
	cfg.CooldownAfterRebalance = 50 * time.Millisecond
	cfg.BatchSize = 2
	cfg.BatchDelay = time.Millisecond
	cfg.MinDocumentsToMove = 5
	return cfg
}

func alwaysSelect(docsPerNode map[string][]string) DocumentSelectorFunc {
	return func(ctx context.Context, nodeID string, count int) ([]string, error) {
		docs := docsPerNode[nodeID]
		if count < len(docs) {
			docs = docs[:count]
		}
		return docs, nil
	}
}

func TestExecuteRebalance_NoOpWhenBalanced(t *testing.T) {
	r := NewRebalancer(fastRebalancerConfig(), nil, nil)
	r.UpdateNode(node("n1", 50, 100))
	r.UpdateNode(node("n2", 50, 100))

	op, err := r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, op.Status)
	assert.Empty(t, op.Decisions)
	assert.Equal(t, 0, op.DocumentsMoved)
}

func TestExecuteRebalance_MigratesFromOverloadedNode(t *testing.T) {
	r := NewRebalancer(fastRebalancerConfig(), alwaysSelect(map[string][]string{
		"n1": {"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "d9", "d10"},
	}), nil)
	r.UpdateNode(node("n1", 90, 100))
	r.UpdateNode(node("n2", 10, 100))

	op, err := r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, op.Status)
	require.NotEmpty(t, op.Decisions)
	assert.Greater(t, op.DocumentsMoved, 0)
	assert.NotEmpty(t, op.MigrationTaskIDs)
}

func TestExecuteRebalance_NoSelectorSkipsDecision(t *testing.T) {
	r := NewRebalancer(fastRebalancerConfig(), nil, nil)
	r.UpdateNode(node("n1", 90, 100))
	r.UpdateNode(node("n2", 10, 100))

	op, err := r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, op.Decisions)
	assert.Equal(t, 0, op.DocumentsMoved)
	assert.Empty(t, op.MigrationTaskIDs)
}

func TestIsInCooldown_TrueAfterRebalanceUntilWindowElapses(t *testing.T) {
	r := NewRebalancer(fastRebalancerConfig(), nil, nil)
	r.UpdateNode(node("n1", 90, 100))
	r.UpdateNode(node("n2", 10, 100))
	assert.False(t, r.IsInCooldown())

	_, err := r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	assert.True(t, r.IsInCooldown())

	require.Eventually(t, func() bool {
		return !r.IsInCooldown()
	}, time.Second, 5*time.Millisecond)
}

func TestNeedsRebalance_DelegatesToCalculator(t *testing.T) {
	r := NewRebalancer(fastRebalancerConfig(), nil, nil)
	r.UpdateNode(node("n1", 90, 100))
	r.UpdateNode(node("n2", 10, 100))
	assert.True(t, r.NeedsRebalance(0.1))
}

func TestStartStop_MonitorLoopTriggersRebalance(t *testing.T) {
	r := NewRebalancer(fastRebalancerConfig(), alwaysSelect(map[string][]string{
		"n1": {"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "d9", "d10"},
	}), nil)
	r.UpdateNode(node("n1", 90, 100))
	r.UpdateNode(node("n2", 10, 100))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	require.Eventually(t, func() bool {
		return len(r.OperationHistory(10)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
}

func TestPauseResume_OnlyValidFromMatchingStatus(t *testing.T) {
	r := NewRebalancer(fastRebalancerConfig(), nil, nil)
	assert.False(t, r.Pause())
	assert.False(t, r.Resume())
}

func TestOperationHistory_BoundedByLimit(t *testing.T) {
	r := NewRebalancer(fastRebalancerConfig(), nil, nil)
	r.UpdateNode(node("n1", 50, 100))
	r.UpdateNode(node("n2", 50, 100))

	for i := 0; i < 3; i++ {
		_, err := r.ExecuteRebalance(context.Background())
		require.NoError(t, err)
	}

	assert.Len(t, r.OperationHistory(2), 2)
	assert.Len(t, r.OperationHistory(0), 3)
}
