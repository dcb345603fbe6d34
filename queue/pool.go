package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/neelabh-labs/agentcore"
	"github.com/neelabh-labs/agentcore/events"
)

// Handler executes a single task to completion (or failure). It is the
// orchestrator's run loop: provider selection, tracing, approval gating,
// retry/fallback, persistence. Handler itself is responsible for never
// returning without updating the run's terminal state.
type Handler func(ctx context.Context, task agentcore.Task)

// PoolConfig configures a worker Pool.
type PoolConfig struct {
	WorkerCount     int
	DequeueTimeout  time.Duration
	ShutdownTimeout time.Duration
	Logger          agentcore.Logger
	Hub             *events.Hub
}

// DefaultPoolConfig returns the spec's default fixed pool size.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		WorkerCount:     2,
		DequeueTimeout:  5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool is a fixed-size worker pool draining a PriorityQueue. Each
// worker's handler invocation is recovered from panics so one task's
// crash never takes down the pool; the panic is logged, a task_error
// event is published for the task, and the worker resumes dequeuing.
// The pool does not update the Run record itself.
type Pool struct {
	queue   *PriorityQueue
	handler Handler
	config  PoolConfig
	logger  agentcore.Logger
	hub     *events.Hub

	wg          conc.WaitGroup
	cancel      context.CancelFunc
	running     atomic.Bool
	activeCount atomic.Int32
	startOnce   sync.Once
}

// NewPool builds a Pool. handler must be set before Start.
func NewPool(q *PriorityQueue, handler Handler, cfg PoolConfig) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &agentcore.NoOpLogger{}
	}
	return &Pool{
		queue:   q,
		handler: handler,
		config:  cfg,
		logger:  logger,
		hub:     cfg.Hub,
	}
}

// Start launches the fixed worker goroutines. It returns immediately;
// call Stop (or cancel the parent context) to shut down.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		workerCtx, cancel := context.WithCancel(ctx)
		p.cancel = cancel
		p.running.Store(true)

		for i := 0; i < p.config.WorkerCount; i++ {
			workerID := fmt.Sprintf("worker-%d", i+1)
			p.wg.Go(func() { p.runWorker(workerCtx, workerID) })
		}
	})
}

// Stop cancels the workers and waits up to ShutdownTimeout for
// in-flight tasks to finish.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.running.Swap(false) {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		return agentcore.NewOrchestratorError("queue.Stop", "queue", "", fmt.Errorf("shutdown timeout: workers may still be running"))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCount returns the number of workers currently processing a task.
func (p *Pool) ActiveCount() int { return int(p.activeCount.Load()) }

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	p.logger.Info("worker started", map[string]interface{}{"worker_id": workerID})
	defer p.logger.Info("worker stopped", map[string]interface{}{"worker_id": workerID})

	for {
		if ctx.Err() != nil {
			return
		}
		task, ok := p.queue.Pop(ctx)
		if !ok {
			return
		}
		p.activeCount.Add(1)
		p.processTask(ctx, workerID, task)
		p.activeCount.Add(-1)
	}
}

func (p *Pool) processTask(ctx context.Context, workerID string, task agentcore.Task) {
	start := time.Now()
	if p.hub != nil {
		p.hub.Publish(events.Event{Name: events.TaskStarted, RunID: task.RunID, Payload: map[string]interface{}{"worker_id": workerID}})
	}

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			p.logger.ErrorWithContext(ctx, "handler panicked", map[string]interface{}{
				"run_id": task.RunID, "worker_id": workerID, "panic": fmt.Sprint(r), "stack": stack,
			})
			if p.hub != nil {
				p.hub.Publish(events.Event{Name: events.TaskError, RunID: task.RunID, Payload: map[string]interface{}{
					"error": fmt.Sprintf("handler panic: %v", r),
				}})
			}
		}
	}()

	p.handler(ctx, task)

	duration := time.Since(start)
	p.logger.InfoWithContext(ctx, "task processed", map[string]interface{}{
		"run_id": task.RunID, "worker_id": workerID, "duration_ms": duration.Milliseconds(),
	})
}
