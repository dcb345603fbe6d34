package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neelabh-labs/agentcore"
)

func fastGate() *Gate {
	cfg := agentcore.DefaultConfig()
	cfg.ApprovalTimeout = 50 * time.Millisecond
	return New(cfg, nil)
}

func TestGate_ApproveUnblocksWait(t *testing.T) {
	g := fastGate()
	g.timeout = time.Second

	done := make(chan error, 1)
	go func() { done <- g.Wait(context.Background(), "run-1", "trace-1", "pick openai") }()

	require.Eventually(t, func() bool { return g.Pending("run-1") }, time.Second, time.Millisecond)

	assert.True(t, g.Approve("run-1", true, "looks good"))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Approve")
	}
}

func TestGate_RejectReturnsApprovalRejected(t *testing.T) {
	g := fastGate()
	g.timeout = time.Second

	done := make(chan error, 1)
	go func() { done <- g.Wait(context.Background(), "run-1", "trace-1", "pick openai") }()

	require.Eventually(t, func() bool { return g.Pending("run-1") }, time.Second, time.Millisecond)
	g.Approve("run-1", false, "too risky")

	err := <-done
	assert.ErrorIs(t, err, agentcore.ErrApprovalRejected)
}

func TestGate_TimeoutReturnsApprovalTimeout(t *testing.T) {
	g := fastGate()
	err := g.Wait(context.Background(), "run-1", "trace-1", "pick openai")
	assert.ErrorIs(t, err, agentcore.ErrApprovalTimeout)
	assert.False(t, g.Pending("run-1"), "waiter must be cleaned up after timeout")
}

func TestGate_DoubleWaitFailsFast(t *testing.T) {
	g := fastGate()
	g.timeout = time.Second

	go g.Wait(context.Background(), "run-1", "trace-1", "pick openai")
	require.Eventually(t, func() bool { return g.Pending("run-1") }, time.Second, time.Millisecond)

	err := g.Wait(context.Background(), "run-1", "trace-2", "pick anthropic")
	assert.ErrorIs(t, err, agentcore.ErrApprovalAlreadyPending)
}

type statusOnlyStorage struct {
	mu     sync.Mutex
	status map[string]agentcore.RunStatus
}

func newStatusOnlyStorage() *statusOnlyStorage {
	return &statusOnlyStorage{status: map[string]agentcore.RunStatus{}}
}
func (s *statusOnlyStorage) GetRun(ctx context.Context, runID string) (*agentcore.Run, error) {
	return nil, nil
}
func (s *statusOnlyStorage) UpdateRun(ctx context.Context, runID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := fields["status"].(agentcore.RunStatus); ok {
		s.status[runID] = v
	}
	return nil
}
func (s *statusOnlyStorage) CreateMessage(ctx context.Context, msg agentcore.Message) error { return nil }
func (s *statusOnlyStorage) CreateDecisionTrace(ctx context.Context, trace agentcore.DecisionTrace) (string, error) {
	return "", nil
}
func (s *statusOnlyStorage) CreateUsageRecord(ctx context.Context, rec agentcore.UsageRecord) error {
	return nil
}
func (s *statusOnlyStorage) CreateAuditLog(ctx context.Context, log agentcore.AuditLog) error { return nil }
func (s *statusOnlyStorage) GetOrg(ctx context.Context, orgID string) (*agentcore.Org, error) {
	return nil, nil
}

func TestGate_WaitPersistsAwaitingApprovalStatus(t *testing.T) {
	store := newStatusOnlyStorage()
	cfg := agentcore.DefaultConfig()
	cfg.ApprovalTimeout = time.Second
	g := New(cfg, store)

	done := make(chan error, 1)
	go func() { done <- g.Wait(context.Background(), "run-1", "trace-1", "pick openai") }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.status["run-1"] == agentcore.RunStatusAwaitingApproval
	}, time.Second, time.Millisecond)

	g.Approve("run-1", true, "")
	<-done
}

func TestGate_ApproveWithNoWaiterReturnsFalse(t *testing.T) {
	g := fastGate()
	assert.False(t, g.Approve("nonexistent", true, ""))
}

func TestGate_ContextCancelUnblocksWait(t *testing.T) {
	g := fastGate()
	g.timeout = time.Second
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g.Wait(ctx, "run-1", "trace-1", "pick openai") }()

	require.Eventually(t, func() bool { return g.Pending("run-1") }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after context cancel")
	}
}
