package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neelabh-labs/agentcore"
)

// setupBridgeTestRedis mirrors the teacher's miniredis setup for Redis-backed
// unit tests: an in-memory server, no real network dependency.
func setupBridgeTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newBridgeTestBridge(client *redis.Client, channel string) *RedisBridge {
	return &RedisBridge{
		client:    client,
		channel:   channel,
		logger:    &agentcore.NoOpLogger{},
		telemetry: agentcore.NoOpTelemetry{},
	}
}

func TestMirror_RepublishesHubEventsToRedis(t *testing.T) {
	_, client := setupBridgeTestRedis(t)
	bridge := newBridgeTestBridge(client, "agentcore:events")

	hub := New(8)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := client.Subscribe(ctx, "agentcore:events")
	defer sub.Close()
	require.NoError(t, sub.Ping(ctx))

	unsubscribe := bridge.Mirror(hub, TaskCompleted)
	defer unsubscribe()

	hub.Publish(Event{Name: TaskCompleted, RunID: "run-1", Payload: map[string]interface{}{"ok": true}})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"run_id":"run-1"`)
	assert.Contains(t, msg.Payload, `"name":"task_completed"`)
}

func TestMirror_IgnoresNonMatchingEventName(t *testing.T) {
	_, client := setupBridgeTestRedis(t)
	bridge := newBridgeTestBridge(client, "agentcore:events")

	hub := New(8)
	defer hub.Close()

	bgCtx := context.Background()
	sub := client.Subscribe(bgCtx, "agentcore:events")
	defer sub.Close()
	require.NoError(t, sub.Ping(bgCtx))

	unsubscribe := bridge.Mirror(hub, TaskCompleted)
	defer unsubscribe()

	hub.Publish(Event{Name: TaskError, RunID: "run-2"})

	ctx, cancel := context.WithTimeout(bgCtx, 100*time.Millisecond)
	defer cancel()
	_, err := sub.ReceiveMessage(ctx)
	assert.Error(t, err, "no message should have been published for a non-matching event name")
}

func TestNewRedisBridge_FailsFastOnUnreachableRedis(t *testing.T) {
	_, err := NewRedisBridge(context.Background(), "redis://127.0.0.1:1", "agentcore:events")
	assert.Error(t, err)
}

func TestClose_ReleasesClient(t *testing.T) {
	_, client := setupBridgeTestRedis(t)
	bridge := newBridgeTestBridge(client, "agentcore:events")
	assert.NoError(t, bridge.Close())
}
