package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neelabh-labs/agentcore"
)

func TestPool_ProcessesQueuedTasks(t *testing.T) {
	q := NewPriorityQueue()
	var processed sync.Map
	handler := func(ctx context.Context, task agentcore.Task) {
		processed.Store(task.RunID, true)
	}
	cfg := DefaultPoolConfig()
	cfg.WorkerCount = 2
	p := NewPool(q, handler, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	q.Push(agentcore.Task{RunID: "run-1"})
	q.Push(agentcore.Task{RunID: "run-2"})

	require.Eventually(t, func() bool {
		_, ok1 := processed.Load("run-1")
		_, ok2 := processed.Load("run-2")
		return ok1 && ok2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop(context.Background()))
}

func TestPool_RecoversFromHandlerPanic(t *testing.T) {
	q := NewPriorityQueue()
	var ranAfterPanic atomic.Bool
	handler := func(ctx context.Context, task agentcore.Task) {
		if task.RunID == "boom" {
			panic("handler exploded")
		}
		ranAfterPanic.Store(true)
	}
	cfg := DefaultPoolConfig()
	cfg.WorkerCount = 1
	p := NewPool(q, handler, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	q.Push(agentcore.Task{RunID: "boom"})
	q.Push(agentcore.Task{RunID: "after"})

	require.Eventually(t, func() bool { return ranAfterPanic.Load() }, time.Second, 5*time.Millisecond,
		"pool must keep running other tasks after a handler panic")

	require.NoError(t, p.Stop(context.Background()))
}

func TestPool_StopIsIdempotent(t *testing.T) {
	q := NewPriorityQueue()
	p := NewPool(q, func(context.Context, agentcore.Task) {}, DefaultPoolConfig())
	p.Start(context.Background())

	require.NoError(t, p.Stop(context.Background()))
	assert.NoError(t, p.Stop(context.Background()))
}

func TestPool_RespectsConfiguredWorkerCount(t *testing.T) {
	q := NewPriorityQueue()
	release := make(chan struct{})
	var concurrent atomic.Int32
	var maxSeen atomic.Int32
	handler := func(ctx context.Context, task agentcore.Task) {
		c := concurrent.Add(1)
		for {
			m := maxSeen.Load()
			if c <= m || maxSeen.CompareAndSwap(m, c) {
				break
			}
		}
		<-release
		concurrent.Add(-1)
	}
	cfg := DefaultPoolConfig()
	cfg.WorkerCount = 2
	p := NewPool(q, handler, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	for i := 0; i < 5; i++ {
		q.Push(agentcore.Task{RunID: "run"})
	}

	require.Eventually(t, func() bool { return maxSeen.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, p.Stop(context.Background()))
}
