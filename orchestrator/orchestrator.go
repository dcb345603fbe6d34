// Package orchestrator wires the Routing Policy, Retry/Fallback Caller,
// Decision Tracer, Approval Gate, Task Queue, and Event Hub into the
// single entry point an embedding application uses: enqueue a task,
// approve or reject a pending decision, subscribe to activity, and read
// health metrics.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/neelabh-labs/agentcore"
	"github.com/neelabh-labs/agentcore/approval"
	"github.com/neelabh-labs/agentcore/events"
	"github.com/neelabh-labs/agentcore/queue"
	"github.com/neelabh-labs/agentcore/retrycall"
	"github.com/neelabh-labs/agentcore/routing"
	"github.com/neelabh-labs/agentcore/tracer"
)

// HealthMetrics mirrors the orchestration framework's metrics shape,
// adapted to this module's provider-health-centric domain.
type HealthMetrics struct {
	TotalRuns       int64                      `json:"total_runs"`
	CompletedRuns   int64                      `json:"completed_runs"`
	FailedRuns      int64                      `json:"failed_runs"`
	QueueDepth      int                        `json:"queue_depth"`
	ActiveWorkers   int                        `json:"active_workers"`
	PendingApproval int                        `json:"pending_approval"`
	Providers       []agentcore.ProviderState  `json:"providers"`
	UptimeSeconds   int64                      `json:"uptime_seconds"`
}

// Orchestrator is the module's facade.
type Orchestrator struct {
	cfg     *agentcore.Config
	storage agentcore.StoragePort
	vault   agentcore.VaultPort
	webhook agentcore.WebhookPort
	budget  agentcore.BudgetPort

	routing  *routing.Policy
	retry    *retrycall.Caller
	trace    *tracer.Tracer
	approval *approval.Gate
	hub      *events.Hub
	q        *queue.PriorityQueue
	pool     *queue.Pool

	startedAt time.Time

	totalRuns     atomic.Int64
	completedRuns atomic.Int64
	failedRuns    atomic.Int64
}

// New builds an Orchestrator. provider is the concrete ProviderPort used
// by the Retry/Fallback Caller; the other ports may be nil, in which
// case the corresponding side effects (persistence, credential lookup,
// webhook dispatch, budget tracking) are skipped.
func New(cfg *agentcore.Config, provider agentcore.ProviderPort, storage agentcore.StoragePort, vault agentcore.VaultPort, webhook agentcore.WebhookPort, budget agentcore.BudgetPort) *Orchestrator {
	if cfg == nil {
		cfg = agentcore.DefaultConfig()
	}
	pol := routing.New(cfg)
	hub := events.New(cfg.EventBufferSize)

	o := &Orchestrator{
		cfg:       cfg,
		storage:   storage,
		vault:     vault,
		webhook:   webhook,
		budget:    budget,
		routing:   pol,
		trace:     tracer.New(storage, cfg),
		approval:  approval.New(cfg, storage),
		hub:       hub,
		q:         queue.NewPriorityQueue(),
		startedAt: time.Now(),
	}
	o.retry = retrycall.New(provider, pol.OnResult, cfg)

	poolCfg := queue.DefaultPoolConfig()
	poolCfg.WorkerCount = cfg.Concurrency
	poolCfg.Logger = cfg.Logger()
	poolCfg.Hub = hub
	o.pool = queue.NewPool(o.q, o.runTask, poolCfg)
	return o
}

// RegisterProvider adds a provider to the Routing Policy.
func (o *Orchestrator) RegisterProvider(state agentcore.ProviderState) {
	o.routing.Register(state)
}

// Start launches the worker pool.
func (o *Orchestrator) Start(ctx context.Context) {
	o.pool.Start(ctx)
}

// Stop gracefully shuts the worker pool down.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.hub.Close()
	return o.pool.Stop(ctx)
}

// Enqueue accepts a new task for execution, assigning a RunID if the
// caller did not supply one. It creates the Run record a worker's
// intake step expects to find.
func (o *Orchestrator) Enqueue(task agentcore.Task) string {
	if task.RunID == "" {
		task.RunID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	o.totalRuns.Add(1)
	if o.storage != nil {
		_ = o.storage.UpdateRun(context.Background(), task.RunID, map[string]interface{}{
			"status":   agentcore.RunStatusQueued,
			"provider": task.ProviderHint,
			"model":    task.Model,
		})
	}
	o.hub.Publish(events.Event{Name: events.TaskQueued, RunID: task.RunID, Payload: task})
	o.q.Push(task)
	return task.RunID
}

// Approve resolves a pending approval for runID.
func (o *Orchestrator) Approve(runID string, approved bool, reason string) bool {
	ok := o.approval.Approve(runID, approved, reason)
	if ok {
		name := events.ApprovalGranted
		if !approved {
			name = events.ApprovalRejected
		}
		o.hub.Publish(events.Event{Name: name, RunID: runID, Payload: reason})
	}
	return ok
}

// Subscribe registers handler for every event of the given name,
// returning an unsubscribe function.
func (o *Orchestrator) Subscribe(name events.Name, handler events.Handler) func() {
	return o.hub.Subscribe(name, handler)
}

// Requeue pushes runID back onto the queue as a fresh iteration, for the
// self-heal path: a failed run may be retried from scratch with its
// decision trace sequence reset.
func (o *Orchestrator) Requeue(task agentcore.Task, newIteration int) string {
	task.Iteration = newIteration
	o.trace.Reset(task.RunID)
	o.hub.Publish(events.Event{Name: events.TaskHealing, RunID: task.RunID, Payload: map[string]interface{}{"iteration": newIteration}})
	o.q.Push(task)
	return task.RunID
}

// Cancel marks runID cancelled. If it has a pending approval wait, that
// wait is rejected so the worker unblocks immediately, and the Run is
// marked failed in storage. Cancel does not remove a queued task from the
// queue and does not interrupt a worker already running the task: such a
// task still runs to its end and may overwrite the Run's status.
func (o *Orchestrator) Cancel(runID string) {
	o.approval.Approve(runID, false, "cancelled")
	if o.storage != nil {
		_ = o.storage.UpdateRun(context.Background(), runID, map[string]interface{}{
			"status": agentcore.RunStatusFailed,
			"error":  agentcore.ErrCancelled.Error(),
		})
	}
}

// GetHealthMetrics reports current orchestrator and provider health.
func (o *Orchestrator) GetHealthMetrics() HealthMetrics {
	return HealthMetrics{
		TotalRuns:       o.totalRuns.Load(),
		CompletedRuns:   o.completedRuns.Load(),
		FailedRuns:      o.failedRuns.Load(),
		QueueDepth:      o.q.Len(),
		ActiveWorkers:   o.pool.ActiveCount(),
		PendingApproval: o.approval.PendingCount(),
		Providers:       o.routing.Snapshot(),
		UptimeSeconds:   int64(time.Since(o.startedAt).Seconds()),
	}
}

// runTask drives a single task through the worker lifecycle: intake,
// primary selection, context analysis, provider call with
// retry/fallback, and persistence.
func (o *Orchestrator) runTask(ctx context.Context, task agentcore.Task) {
	ctx = agentcore.ContextWithRunID(ctx, task.RunID)
	logger := o.cfg.Logger()
	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, task, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if o.storage != nil {
		run, err := o.storage.GetRun(ctx, task.RunID)
		if err != nil {
			o.fail(ctx, task, fmt.Errorf("intake: %w", err))
			return
		}
		if run == nil {
			o.fail(ctx, task, fmt.Errorf("intake: %w", agentcore.ErrRunNotFound))
			return
		}
	}

	req := agentcore.Request{
		Prompt:            task.Goal,
		Model:             task.Model,
		RequiresVision:    task.RequiresVision,
		RequiresTools:     task.RequiresTools,
		RequiresJSONMode:  task.RequiresJSONMode,
		RequiresStreaming: task.RequiresStreaming,
		MaxOutputTokens:   task.MaxOutputTokens,
	}

	primary, err := o.routing.Pick(req, task.ProviderHint)
	if err != nil {
		o.fail(ctx, task, err)
		return
	}

	var alternatives []string
	for _, s := range o.routing.Snapshot() {
		if s.Enabled && s.ID != primary {
			alternatives = append(alternatives, string(s.ID))
		}
	}
	_, needsApproval := o.trace.Trace(ctx, task.RunID, agentcore.StepProviderSelection,
		fmt.Sprintf("select %s", primary), "highest-priority eligible provider",
		tracer.Options{Confidence: 0.95, Alternatives: alternatives})
	if err := o.awaitApprovalIfNeeded(ctx, task, fmt.Sprintf("select %s", primary), needsApproval); err != nil {
		o.fail(ctx, task, err)
		return
	}

	if o.storage != nil {
		_ = o.storage.CreateMessage(ctx, agentcore.Message{
			ProjectID: task.ProjectID, RunID: task.RunID, Role: agentcore.RoleUser, Content: task.Goal,
		})
		_ = o.storage.UpdateRun(ctx, task.RunID, map[string]interface{}{"status": agentcore.RunStatusRunning, "provider": primary})
	}

	_, needsApproval = o.trace.Trace(ctx, task.RunID, agentcore.StepContextAnalysis,
		"analyze task context", "goal and capability requirements considered", tracer.Options{Confidence: 0.9})
	if err := o.awaitApprovalIfNeeded(ctx, task, "context analysis", needsApproval); err != nil {
		o.fail(ctx, task, err)
		return
	}

	chain, err := o.routing.FallbackChain(primary, req)
	if err != nil {
		o.fail(ctx, task, err)
		return
	}

	var credential *string
	if o.vault != nil && o.storage != nil {
		if org, err := o.storage.GetOrg(ctx, task.OrgID); err == nil && org != nil && org.OwnerUserID != "" {
			credential, _ = o.vault.Get(ctx, org.OwnerUserID, string(primary))
		}
	}

	resp, err := o.retry.Call(ctx, chain, task.Goal, task.Model, credential, func(ev retrycall.AttemptEvent) {
		o.hub.Publish(events.Event{Name: events.Log, RunID: task.RunID, Payload: map[string]interface{}{
			"level": "warning", "message": fmt.Sprintf("attempt %d against %s failed: %v", ev.AttemptNum, ev.Provider, ev.Err),
		}})

		stepType := agentcore.StepRetry
		confidence := 0.8
		var fallbackAlternatives []string
		if ev.WillAdvance {
			stepType = agentcore.StepFallback
			confidence = 0.85
			for _, p := range chain {
				if p != ev.Provider {
					fallbackAlternatives = append(fallbackAlternatives, string(p))
				}
			}
		}
		o.trace.Trace(ctx, task.RunID, stepType,
			fmt.Sprintf("attempt %d against %s failed", ev.AttemptNum, ev.Provider),
			ev.Err.Error(), tracer.Options{Confidence: confidence, Alternatives: fallbackAlternatives})
	})
	if err != nil {
		o.fail(ctx, task, err)
		return
	}

	if o.storage != nil {
		_ = o.storage.CreateMessage(ctx, agentcore.Message{
			ProjectID: task.ProjectID, RunID: task.RunID, Role: agentcore.RoleAssistant, Content: resp.Content,
		})
		_ = o.storage.UpdateRun(ctx, task.RunID, map[string]interface{}{
			"status":        agentcore.RunStatusCompleted,
			"used_provider": resp.UsedProvider,
			"attempts":      resp.Attempts,
			"output":        resp.Content,
		})
	}

	o.completedRuns.Add(1)
	o.hub.Publish(events.Event{Name: events.TaskCompleted, RunID: task.RunID, Payload: resp})
	if o.webhook != nil {
		go func() {
			_ = o.webhook.Dispatch(context.Background(), task.OrgID, "run.completed", resp)
		}()
	}

	o.trace.Trace(ctx, task.RunID, agentcore.StepResponseGeneration,
		fmt.Sprintf("completed via %s", resp.UsedProvider), "", tracer.Options{Confidence: 0.95})

	if o.storage != nil {
		_ = o.storage.CreateUsageRecord(ctx, agentcore.UsageRecord{
			RunID: task.RunID, OrgID: task.OrgID, Provider: resp.UsedProvider,
			InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, CostEstimate: resp.Usage.CostEstimate,
		})
		_ = o.storage.CreateAuditLog(ctx, agentcore.AuditLog{
			OrgID: task.OrgID, Action: "run_completed", Target: task.RunID,
			Detail: map[string]interface{}{"provider": string(primary), "used_provider": string(resp.UsedProvider)},
		})
	}
	if o.budget != nil {
		_ = o.budget.TrackCost(ctx, task.OrgID, resp.Usage.CostEstimate)
	}

	logger.InfoWithContext(ctx, "run completed", map[string]interface{}{"provider": string(resp.UsedProvider), "attempts": resp.Attempts})
}

// awaitApprovalIfNeeded emits the mandated warning log and blocks at the
// Approval Gate when a trace step required human approval; it is a
// no-op otherwise.
func (o *Orchestrator) awaitApprovalIfNeeded(ctx context.Context, task agentcore.Task, decision string, needsApproval bool) error {
	if !needsApproval {
		return nil
	}
	o.hub.Publish(events.Event{Name: events.Log, RunID: task.RunID, Payload: map[string]interface{}{
		"level": "warning", "message": fmt.Sprintf("awaiting approval: %s", decision),
	}})
	return o.approval.Wait(ctx, task.RunID, "", decision)
}

func (o *Orchestrator) fail(ctx context.Context, task agentcore.Task, err error) {
	o.failedRuns.Add(1)
	o.trace.Trace(ctx, task.RunID, agentcore.StepErrorHandling, "run failed", err.Error(), tracer.Options{Confidence: 1.0})
	if o.storage != nil {
		_ = o.storage.UpdateRun(ctx, task.RunID, map[string]interface{}{
			"status": agentcore.RunStatusFailed,
			"error":  err.Error(),
		})
	}
	o.hub.Publish(events.Event{Name: events.TaskError, RunID: task.RunID, Payload: err.Error()})
	o.cfg.Logger().ErrorWithContext(ctx, "run failed", map[string]interface{}{"error": err.Error()})
}
