// Package tracing provides the engine's observability seams: span
// sinks, digest sanitization, and the retrieval trace recorder.
package tracing

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// SpanStatus is the terminal state of a span
type SpanStatus string

const (
	SpanOK    SpanStatus = "ok"
	SpanError SpanStatus = "error"
)

// SpanDescriptor describes a span at start time. Parent, when set,
// refers to a span id previously returned by the same sink.
type SpanDescriptor struct {
	Name       string
	Kind       string
	Parent     string
	Attributes map[string]interface{}
}

// SpanSink receives span lifecycle calls. Implementations must be safe
// for concurrent use across executions. The engine always closes every
// span it opens, panics included.
type SpanSink interface {
	Start(desc SpanDescriptor) string
	AddAttributes(spanID string, attrs map[string]interface{})
	End(spanID string, status SpanStatus)
}

// NoopSink discards all spans
type NoopSink struct{}

func (NoopSink) Start(SpanDescriptor) string                  { return uuid.New().String() }
func (NoopSink) AddAttributes(string, map[string]interface{}) {}
func (NoopSink) End(string, SpanStatus)                       {}

// MemorySpan is a span captured by MemorySink
type MemorySpan struct {
	ID         string
	Name       string
	Kind       string
	Parent     string
	Attributes map[string]interface{}
	Status     SpanStatus
	Ended      bool
}

// MemorySink captures spans in memory for tests and debugging
type MemorySink struct {
	mu    sync.Mutex
	spans map[string]*MemorySpan
	order []string
}

// NewMemorySink creates an empty in-memory span sink
func NewMemorySink() *MemorySink {
	return &MemorySink{
		spans: make(map[string]*MemorySpan),
	}
}

// Start implements SpanSink
func (s *MemorySink) Start(desc SpanDescriptor) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	attrs := make(map[string]interface{}, len(desc.Attributes))
	for k, v := range desc.Attributes {
		attrs[k] = v
	}
	s.spans[id] = &MemorySpan{
		ID:         id,
		Name:       desc.Name,
		Kind:       desc.Kind,
		Parent:     desc.Parent,
		Attributes: attrs,
	}
	s.order = append(s.order, id)
	return id
}

// AddAttributes implements SpanSink
func (s *MemorySink) AddAttributes(spanID string, attrs map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	span, ok := s.spans[spanID]
	if !ok || span.Ended {
		return
	}
	for k, v := range attrs {
		span.Attributes[k] = v
	}
}

// End implements SpanSink
func (s *MemorySink) End(spanID string, status SpanStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	span, ok := s.spans[spanID]
	if !ok || span.Ended {
		return
	}
	span.Status = status
	span.Ended = true
}

// Spans returns the captured spans in start order
func (s *MemorySink) Spans() []*MemorySpan {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*MemorySpan, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.spans[id])
	}
	return out
}

// SpanNames returns captured span names, sorted, for assertions
func (s *MemorySink) SpanNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.order))
	for _, id := range s.order {
		names = append(names, s.spans[id].Name)
	}
	sort.Strings(names)
	return names
}

// OpenCount returns the number of spans started but not yet ended
func (s *MemorySink) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := 0
	for _, span := range s.spans {
		if !span.Ended {
			open++
		}
	}
	return open
}
