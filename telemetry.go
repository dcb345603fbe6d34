package agentcore

import "context"

// Telemetry is the optional tracing/metrics port. The Retry/Fallback
// Caller takes it from Config and opens one span per Call; with
// NoOpTelemetry nothing is recorded and the call path is otherwise
// identical.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span is a single traced operation.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry discards everything.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, NoOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

// NoOpSpan discards everything.
type NoOpSpan struct{}

func (NoOpSpan) End()                            {}
func (NoOpSpan) SetAttribute(string, interface{}) {}
func (NoOpSpan) RecordError(error)               {}

var (
	_ Telemetry = NoOpTelemetry{}
	_ Span      = NoOpSpan{}
)
