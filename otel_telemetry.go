package agentcore

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OTelTelemetry adapts an OpenTelemetry tracer/meter pair to the
// Telemetry port, so an embedding application can plug its own
// configured OTel SDK in without this module depending on any
// particular exporter (stdout, OTLP, ...). That choice belongs to the
// application wiring the core together, not the core itself.
type OTelTelemetry struct {
	tracer  trace.Tracer
	counter metric.Float64Counter
}

// NewOTelTelemetry builds a Telemetry backed by the given OTel tracer
// and meter. meter may be nil if only tracing is desired.
func NewOTelTelemetry(tracerName string, tracer trace.Tracer, meter metric.Meter) *OTelTelemetry {
	t := &OTelTelemetry{tracer: tracer}
	if meter != nil {
		if c, err := meter.Float64Counter(tracerName + ".events"); err == nil {
			t.counter = c
		}
	}
	return t
}

func (t *OTelTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	if t.tracer == nil {
		return ctx, NoOpSpan{}
	}
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (t *OTelTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	if t.counter == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(labels)+1)
	attrs = append(attrs, attribute.String("metric", name))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	t.counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, ""))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

var _ Telemetry = (*OTelTelemetry)(nil)
var _ Span = (*otelSpan)(nil)
