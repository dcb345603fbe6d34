// Package approval implements the Approval Gate: a blocking
// human-in-the-loop checkpoint that suspends a worker goroutine until an
// external caller approves or rejects a pending decision, or the
// configured deadline elapses.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/neelabh-labs/agentcore"
)

type resolution struct {
	approved bool
	reason   string
}

type waiter struct {
	ch chan resolution
}

// Gate holds at most one outstanding waiter per run. A run may only
// have one pending approval at a time; registering a second while one
// is outstanding is a caller bug and fails fast rather than silently
// replacing the first waiter.
type Gate struct {
	mu      sync.Mutex
	waiters map[string]*waiter
	timeout time.Duration
	logger  agentcore.Logger
	storage agentcore.StoragePort
}

// New builds a Gate using cfg's approval timeout (default 5 minutes).
// storage may be nil, in which case the gate still blocks and resolves
// waiters but never persists the awaiting_approval status.
func New(cfg *agentcore.Config, storage agentcore.StoragePort) *Gate {
	timeout := 5 * time.Minute
	var logger agentcore.Logger = &agentcore.NoOpLogger{}
	if cfg != nil {
		if cfg.ApprovalTimeout > 0 {
			timeout = cfg.ApprovalTimeout
		}
		if cfg.Logger() != nil {
			logger = cfg.Logger()
		}
	}
	return &Gate{
		waiters: make(map[string]*waiter),
		timeout: timeout,
		logger:  logger,
		storage: storage,
	}
}

// Wait sets runID's persisted status to awaiting_approval, then blocks
// the calling goroutine until the pending decision is approved,
// rejected, the gate's timeout elapses, or ctx is cancelled. It returns
// agentcore.ErrApprovalRejected, agentcore.ErrApprovalTimeout,
// ctx.Err(), or nil on approval. traceID and decision are accepted for
// parity with the call site's trace context; the gate itself keys only
// on runID.
func (g *Gate) Wait(ctx context.Context, runID, traceID, decision string) error {
	if g.storage != nil {
		if err := g.storage.UpdateRun(ctx, runID, map[string]interface{}{"status": agentcore.RunStatusAwaitingApproval}); err != nil {
			g.logger.ErrorWithContext(ctx, "failed to persist awaiting_approval status", map[string]interface{}{
				"run_id": runID, "error": err.Error(),
			})
		}
	}

	w := &waiter{ch: make(chan resolution, 1)}

	g.mu.Lock()
	if _, exists := g.waiters[runID]; exists {
		g.mu.Unlock()
		return agentcore.NewOrchestratorError("approval.Wait", "approval", runID, agentcore.ErrApprovalAlreadyPending)
	}
	g.waiters[runID] = w
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.waiters[runID] == w {
			delete(g.waiters, runID)
		}
		g.mu.Unlock()
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		if !res.approved {
			return agentcore.NewOrchestratorError("approval.Wait", "approval", runID, agentcore.ErrApprovalRejected)
		}
		return nil
	case <-timer.C:
		return agentcore.NewOrchestratorError("approval.Wait", "approval", runID, agentcore.ErrApprovalTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Approve resolves runID's pending wait. It returns false if no waiter
// is currently registered for runID (already resolved, timed out, or
// never asked).
func (g *Gate) Approve(runID string, approved bool, reason string) bool {
	g.mu.Lock()
	w, ok := g.waiters[runID]
	if ok {
		delete(g.waiters, runID)
	}
	g.mu.Unlock()

	if !ok {
		g.logger.Warn("approval response for run with no pending waiter", map[string]interface{}{"run_id": runID})
		return false
	}
	w.ch <- resolution{approved: approved, reason: reason}
	return true
}

// Pending reports whether runID currently has an outstanding approval
// wait, for health/status reporting.
func (g *Gate) Pending(runID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.waiters[runID]
	return ok
}

// PendingCount returns the number of runs currently awaiting approval.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
