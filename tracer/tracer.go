// Package tracer implements the Decision Tracer: an append-only,
// per-run sequence of DecisionTrace records documenting every
// provider-selection, retry, fallback, and response-generation decision
// the orchestrator makes, gated for human approval below a confidence
// threshold.
package tracer

import (
	"context"
	"sync"

	"github.com/neelabh-labs/agentcore"
)

// Options configures a single Trace call.
type Options struct {
	Confidence      float64
	Alternatives    []string
	ContextUsed     map[string]interface{}
	DurationMs      int64
	RequireApproval *bool // nil means "derive from confidence threshold"
}

// Tracer assigns monotonically increasing step numbers per run and
// persists each trace through a StoragePort. A storage failure is
// logged and swallowed: tracing must never block or fail task
// execution.
type Tracer struct {
	mu        sync.Mutex
	counters  map[string]int
	storage   agentcore.StoragePort
	threshold float64
	logger    agentcore.Logger
}

// New builds a Tracer. storage may be nil, in which case traces are
// computed (for the RequiresApproval decision) but never persisted.
func New(storage agentcore.StoragePort, cfg *agentcore.Config) *Tracer {
	threshold := 0.7
	var logger agentcore.Logger = &agentcore.NoOpLogger{}
	if cfg != nil {
		if cfg.ApprovalConfidenceThreshold > 0 {
			threshold = cfg.ApprovalConfidenceThreshold
		}
		if cfg.Logger() != nil {
			logger = cfg.Logger()
		}
	}
	return &Tracer{
		counters:  make(map[string]int),
		storage:   storage,
		threshold: threshold,
		logger:    logger,
	}
}

func (t *Tracer) nextStep(runID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[runID]++
	return t.counters[runID]
}

// Reset clears the step counter for a run, e.g. when a run is requeued
// for a fresh iteration.
func (t *Tracer) Reset(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counters, runID)
}

// Trace records a single decision step and reports whether it requires
// human approval before the worker may act on it. Confidence strictly
// below the configured threshold requires approval unless the caller
// overrides via opts.RequireApproval.
func (t *Tracer) Trace(ctx context.Context, runID string, stepType agentcore.StepType, decision, reasoning string, opts Options) (traceID string, requiresApproval bool) {
	step := t.nextStep(runID)

	requiresApproval = opts.Confidence < t.threshold
	if opts.RequireApproval != nil {
		requiresApproval = *opts.RequireApproval
	}

	approvalStatus := agentcore.ApprovalNotRequired
	if requiresApproval {
		approvalStatus = agentcore.ApprovalPending
	}

	trace := agentcore.DecisionTrace{
		RunID:          runID,
		StepNumber:     step,
		StepType:       stepType,
		Decision:       decision,
		Reasoning:      reasoning,
		Confidence:     opts.Confidence,
		Alternatives:   opts.Alternatives,
		ContextUsed:    opts.ContextUsed,
		DurationMs:     opts.DurationMs,
		ApprovalStatus: approvalStatus,
	}

	if t.storage != nil {
		id, err := t.storage.CreateDecisionTrace(ctx, trace)
		if err != nil {
			t.logger.ErrorWithContext(ctx, "failed to persist decision trace", map[string]interface{}{
				"run_id": runID, "step": step, "error": err.Error(),
			})
			return "", false
		}
		traceID = id
	}
	return traceID, requiresApproval
}
