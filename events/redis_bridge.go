package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/neelabh-labs/agentcore"
)

// wireEvent is the JSON shape published to Redis; Payload is carried as
// raw JSON so subscribers in other processes do not need this module's
// Go types.
type wireEvent struct {
	Name      Name            `json:"name"`
	RunID     string          `json:"run_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// RedisBridge mirrors events published on a Hub to a Redis Pub/Sub
// channel, one event name per Mirror call, so out-of-process consumers (a dashboard, a CLI watcher) can
// observe orchestrator activity without linking against this module.
type RedisBridge struct {
	client    *redis.Client
	channel   string
	logger    agentcore.Logger
	telemetry agentcore.Telemetry
}

// RedisBridgeOption configures a RedisBridge.
type RedisBridgeOption func(*RedisBridge)

// WithBridgeLogger sets the bridge's logger.
func WithBridgeLogger(l agentcore.Logger) RedisBridgeOption {
	return func(b *RedisBridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBridgeTelemetry sets the bridge's telemetry port.
func WithBridgeTelemetry(t agentcore.Telemetry) RedisBridgeOption {
	return func(b *RedisBridge) {
		if t != nil {
			b.telemetry = t
		}
	}
}

// NewRedisBridge connects to redisURL and prepares to publish events on
// channel. It pings once at construction time to fail fast on a bad URL,
// matching the teacher's command-store connection check.
func NewRedisBridge(ctx context.Context, redisURL, channel string, opts ...RedisBridgeOption) (*RedisBridge, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("events: parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("events: connect to redis at %s: %w", redisURL, err)
	}

	b := &RedisBridge{
		client:    client,
		channel:   channel,
		logger:    &agentcore.NoOpLogger{},
		telemetry: agentcore.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Mirror subscribes to name on hub and republishes every occurrence to
// Redis. It returns the hub's unsubscribe function.
func (b *RedisBridge) Mirror(hub *Hub, name Name) func() {
	return hub.Subscribe(name, func(ev Event) {
		b.publish(context.Background(), ev)
	})
}

func (b *RedisBridge) publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		b.logger.ErrorWithContext(ctx, "failed to marshal event payload", map[string]interface{}{
			"event": string(ev.Name), "error": err.Error(),
		})
		return
	}
	wire := wireEvent{Name: ev.Name, RunID: ev.RunID, Payload: payload, Timestamp: time.Now()}
	data, err := json.Marshal(wire)
	if err != nil {
		b.logger.ErrorWithContext(ctx, "failed to marshal wire event", map[string]interface{}{
			"event": string(ev.Name), "error": err.Error(),
		})
		return
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.ErrorWithContext(ctx, "failed to publish event to redis", map[string]interface{}{
			"event": string(ev.Name), "channel": b.channel, "error": err.Error(),
		})
	}
}

// Close releases the underlying Redis client.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}
