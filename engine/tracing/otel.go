package tracing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink bridges the SpanSink seam onto an OpenTelemetry tracer.
// Span ids handed back to the engine are internal; parent links are
// resolved through the sink's own table so nesting survives the
// translation.
type OTelSink struct {
	tracer trace.Tracer
	mu     sync.Mutex
	active map[string]otelEntry
}

type otelEntry struct {
	ctx  context.Context
	span trace.Span
}

// NewOTelSink wraps an OpenTelemetry tracer as a SpanSink
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{
		tracer: tracer,
		active: make(map[string]otelEntry),
	}
}

// Start implements SpanSink
func (s *OTelSink) Start(desc SpanDescriptor) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := context.Background()
	if entry, ok := s.active[desc.Parent]; ok {
		parent = entry.ctx
	}

	ctx, span := s.tracer.Start(parent, desc.Name,
		trace.WithAttributes(toKeyValues(desc.Attributes)...))

	id := uuid.New().String()
	s.active[id] = otelEntry{ctx: ctx, span: span}
	return id
}

// AddAttributes implements SpanSink
func (s *OTelSink) AddAttributes(spanID string, attrs map[string]interface{}) {
	s.mu.Lock()
	entry, ok := s.active[spanID]
	s.mu.Unlock()
	if !ok {
		return
	}
	entry.span.SetAttributes(toKeyValues(attrs)...)
}

// End implements SpanSink
func (s *OTelSink) End(spanID string, status SpanStatus) {
	s.mu.Lock()
	entry, ok := s.active[spanID]
	if ok {
		delete(s.active, spanID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if status == SpanError {
		entry.span.SetStatus(codes.Error, "node execution failed")
	} else {
		entry.span.SetStatus(codes.Ok, "")
	}
	entry.span.End()
}

func toKeyValues(attrs map[string]interface{}) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			kvs = append(kvs, attribute.String(k, v))
		case bool:
			kvs = append(kvs, attribute.Bool(k, v))
		case int:
			kvs = append(kvs, attribute.Int(k, v))
		case int64:
			kvs = append(kvs, attribute.Int64(k, v))
		case float64:
			kvs = append(kvs, attribute.Float64(k, v))
		default:
			kvs = append(kvs, attribute.String(k, fmt.Sprintf("%v", v)))
		}
	}
	return kvs
}
