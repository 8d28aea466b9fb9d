// Package clue implements engine/telemetry's Logger, Metrics, and Tracer
// interfaces on top of goa.design/clue/log and OpenTelemetry, the ambient
// observability stack this module carries regardless of the spec's
// Non-goals (those scope out an observability *product*, not structured
// logging/tracing itself).
package clue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"

	"github.com/dinqhq/profile-engine/engine/telemetry"
)

const instrumentationName = "github.com/dinqhq/profile-engine/engine"

type (
	// Logger wraps goa.design/clue/log for engine logging.
	Logger struct{}

	// Metrics wraps OTEL metrics for engine instrumentation.
	Metrics struct {
		meter metric.Meter
	}

	// Tracer wraps OTEL tracing for engine spans.
	Tracer struct {
		tracer trace.Tracer
	}

	span struct {
		span trace.Span
	}
)

// NewLogger constructs a telemetry.Logger that delegates to
// goa.design/clue/log. Formatting/debug settings come from the context (set
// via log.Context and log.WithFormat/log.WithDebug).
func NewLogger() telemetry.Logger { return Logger{} }

// NewMetrics constructs a telemetry.Metrics recorder backed by the global
// OTEL MeterProvider; configure it via clue.ConfigureOpenTelemetry before
// use.
func NewMetrics() telemetry.Metrics {
	return &Metrics{meter: otel.Meter(instrumentationName)}
}

// NewTracer constructs a telemetry.Tracer backed by the global OTEL
// TracerProvider.
func NewTracer() telemetry.Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

func (Logger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (Logger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (Logger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fielders := []log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}
	log.Warn(ctx, append(fielders, kvToClue(keyvals)...)...)
}

func (Logger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *Metrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	// OTEL has no synchronous gauge instrument; a histogram is the closest
	// fit for ad hoc point-in-time values recorded outside a callback.
	histogram, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	newCtx, s := t.tracer.Start(ctx, name, opts...)
	return newCtx, &span{span: s}
}

func (s *span) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *span) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *span) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }

func (s *span) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }

// kvToClue converts (k1, v1, k2, ...) pairs into Clue fielders, skipping any
// pair whose key is not a string.
func kvToClue(keyvals []any) []log.Fielder {
	var out []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		out = append(out, log.KV{K: k, V: v})
	}
	return out
}

// tagsToAttrs converts (k1, v1, k2, ...) tag strings into OTEL metric
// attributes.
func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(tags[i], v))
	}
	return attrs
}

// kvToAttrs converts (k1, v1, k2, ...) pairs into OTEL span-event
// attributes, type-switching on the value.
func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		keyStr, _ := keyvals[i].(string)
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(keyStr, val))
		case int:
			attrs = append(attrs, attribute.Int(keyStr, val))
		case int64:
			attrs = append(attrs, attribute.Int64(keyStr, val))
		case float64:
			attrs = append(attrs, attribute.Float64(keyStr, val))
		case bool:
			attrs = append(attrs, attribute.Bool(keyStr, val))
		default:
			attrs = append(attrs, attribute.String(keyStr, ""))
		}
	}
	return attrs
}
