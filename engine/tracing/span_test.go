package tracing

import (
	"testing"

	"github.com/nodeai/nodeai/engine/model"
)

// TestMemorySink tests the capture lifecycle
func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()

	root := sink.Start(SpanDescriptor{
		Name: "execution",
		Kind: "execution",
		Attributes: map[string]interface{}{
			"workflow.id": "wf-1",
		},
	})
	child := sink.Start(SpanDescriptor{Name: "embed", Kind: "embedding", Parent: root})

	if sink.OpenCount() != 2 {
		t.Errorf("Expected 2 open spans, got %d", sink.OpenCount())
	}

	sink.AddAttributes(child, map[string]interface{}{"node.status": "completed"})
	sink.End(child, SpanOK)
	sink.End(root, SpanError)

	if sink.OpenCount() != 0 {
		t.Errorf("Expected all spans closed, got %d open", sink.OpenCount())
	}

	spans := sink.Spans()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "execution" || spans[1].Name != "embed" {
		t.Errorf("Expected start order preserved, got %s/%s", spans[0].Name, spans[1].Name)
	}
	if spans[1].Parent != root {
		t.Errorf("Expected child parented to root")
	}
	if spans[1].Attributes["node.status"] != "completed" {
		t.Errorf("Expected added attribute, got %v", spans[1].Attributes)
	}
	if spans[0].Status != SpanError || spans[1].Status != SpanOK {
		t.Errorf("Unexpected statuses: %s/%s", spans[0].Status, spans[1].Status)
	}
}

// TestMemorySink_AfterEnd tests that a closed span stays sealed
func TestMemorySink_AfterEnd(t *testing.T) {
	sink := NewMemorySink()
	id := sink.Start(SpanDescriptor{Name: "n"})
	sink.End(id, SpanOK)

	sink.AddAttributes(id, map[string]interface{}{"late": true})
	sink.End(id, SpanError)

	span := sink.Spans()[0]
	if _, ok := span.Attributes["late"]; ok {
		t.Errorf("Expected attributes after End to be ignored")
	}
	if span.Status != SpanOK {
		t.Errorf("Expected status to stay ok, got %s", span.Status)
	}
}

// TestMemorySink_UnknownSpan tests tolerance of unknown span ids
func TestMemorySink_UnknownSpan(t *testing.T) {
	sink := NewMemorySink()
	sink.AddAttributes("missing", map[string]interface{}{"k": "v"})
	sink.End("missing", SpanOK)

	if len(sink.Spans()) != 0 {
		t.Errorf("Expected no spans recorded")
	}
}

// TestMemorySink_SpanNames tests the sorted name listing
func TestMemorySink_SpanNames(t *testing.T) {
	sink := NewMemorySink()
	sink.Start(SpanDescriptor{Name: "zeta"})
	sink.Start(SpanDescriptor{Name: "alpha"})

	names := sink.SpanNames()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Expected sorted names, got %v", names)
	}
}

// TestNoopSink tests that discarded spans still get ids
func TestNoopSink(t *testing.T) {
	var sink SpanSink = NoopSink{}
	id := sink.Start(SpanDescriptor{Name: "n"})
	if id == "" {
		t.Errorf("Expected a span id from the noop sink")
	}
	sink.AddAttributes(id, nil)
	sink.End(id, SpanOK)
}

// TestRecorder tests trace step accumulation and snapshot isolation
func TestRecorder(t *testing.T) {
	r := NewRecorder("exec-1")

	r.Append(model.TraceStep{NodeID: "a", StepType: model.StepEmbed})
	r.Append(model.TraceStep{NodeID: "b", StepType: model.StepRetrieve})

	if r.Len() != 2 {
		t.Errorf("Expected 2 steps, got %d", r.Len())
	}

	snap := r.Snapshot()
	if snap.ExecutionID != "exec-1" {
		t.Errorf("Expected execution id on snapshot, got %s", snap.ExecutionID)
	}
	if len(snap.Steps) != 2 || snap.Steps[0].NodeID != "a" || snap.Steps[1].NodeID != "b" {
		t.Errorf("Expected steps in append order, got %v", snap.Steps)
	}

	// Snapshot is a copy; later appends must not leak into it
	r.Append(model.TraceStep{NodeID: "c"})
	if len(snap.Steps) != 2 {
		t.Errorf("Expected snapshot isolation, got %d steps", len(snap.Steps))
	}
}
