// Package queue implements the Task Queue and fixed-size Worker Pool:
// an in-memory, priority-ordered FIFO that feeds a small number of
// worker goroutines, each driving a task through provider selection,
// decision tracing, approval gating, retry/fallback, and result
// persistence.
package queue

import (
	"context"
	"sync"

	"github.com/neelabh-labs/agentcore"
)

// PriorityQueue is a mutex-guarded, priority-ordered FIFO. Higher
// Priority values run sooner; among equal priorities, insertion order
// is preserved (a stable scan-and-insert, not a heap, so ties never
// reorder).
type PriorityQueue struct {
	mu    sync.Mutex
	items []agentcore.Task
	cond  *sync.Cond
	closed bool
}

// NewPriorityQueue builds an empty queue.
func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push inserts task before the first queued item with a strictly lower
// priority (i.e. after every item with priority >= task.Priority),
// preserving FIFO order among equal priorities.
func (q *PriorityQueue) Push(task agentcore.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	idx := len(q.items)
	for i, existing := range q.items {
		if existing.Priority < task.Priority {
			idx = i
			break
		}
	}
	q.items = append(q.items, agentcore.Task{})
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = task
	q.cond.Signal()
}

// Pop blocks until a task is available, ctx is cancelled, or the queue
// is closed. It returns (task, true) on success.
func (q *PriorityQueue) Pop(ctx context.Context) (agentcore.Task, bool) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if ctx.Err() != nil || (q.closed && len(q.items) == 0) {
		return agentcore.Task{}, false
	}
	task := q.items[0]
	q.items = q.items[1:]
	return task, true
}

// Len reports the number of queued (not yet dequeued) tasks.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every blocked Pop so workers can exit during shutdown.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
