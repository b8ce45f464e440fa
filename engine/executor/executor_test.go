package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nodeai/nodeai/engine/formatter"
	"github.com/nodeai/nodeai/engine/model"
	"github.com/nodeai/nodeai/engine/registry"
	"github.com/nodeai/nodeai/engine/tracing"
	"github.com/nodeai/nodeai/engine/workflow"
)

func newTestExecutor(t *testing.T, reg *registry.Registry) (*Executor, *tracing.MemorySink) {
	t.Helper()
	spans := tracing.NewMemorySink()
	return New(reg, formatter.New(), spans, tracing.DefaultLimits()), spans
}

func register(t *testing.T, reg *registry.Registry, nodeType string, meta registry.Metadata, fn registry.HandlerFunc) {
	t.Helper()
	if err := reg.Register(nodeType, fn, meta); err != nil {
		t.Fatalf("Register(%q) failed: %v", nodeType, err)
	}
}

// TestExecute_Completed tests the happy path: output stored, cost
// metadata extracted, span closed ok.
func TestExecute_Completed(t *testing.T) {
	reg := registry.New()
	register(t, reg, "work", registry.Metadata{SpanType: "worker"}, func(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
		return map[string]interface{}{
			"text": "done",
			"_meta": map[string]interface{}{
				"cost":     "0.25",
				"tokens":   map[string]interface{}{"input": float64(10), "output": float64(5)},
				"provider": "local",
				"model":    "test-model",
			},
		}, nil
	})
	exec, spans := newTestExecutor(t, reg)

	result := exec.Execute(context.Background(), Request{
		ExecutionID: "exec-1",
		Node:        workflow.Node{ID: "n1", Type: "work"},
		Inputs:      map[string]interface{}{"query": "q"},
	})

	if result.Status != model.NodeCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if result.Output["text"] != "done" {
		t.Errorf("output.text = %v, want %q", result.Output["text"], "done")
	}
	if !result.Cost.Equal(mustDecimal(t, "0.25")) {
		t.Errorf("cost = %s, want 0.25", result.Cost)
	}
	if result.Tokens != (model.TokenUsage{Input: 10, Output: 5, Total: 15}) {
		t.Errorf("tokens = %+v, want {10 5 15}", result.Tokens)
	}
	if result.SpanID == "" {
		t.Error("result has no span id")
	}
	if result.CompletedAt.Before(result.StartedAt.Time) {
		t.Error("completed_at precedes started_at")
	}
	if open := spans.OpenCount(); open != 0 {
		t.Errorf("%d spans left open", open)
	}
}

// TestExecute_ErrorClassification tests the mapping from handler
// errors onto the closed kind set.
func TestExecute_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind model.ErrorKind
	}{
		{
			name:     "plain_error_is_provider",
			err:      errors.New("upstream said no"),
			wantKind: model.KindProviderError,
		},
		{
			name:     "node_error_passes_through",
			err:      model.NewNodeError(model.KindBadOutput, "not a mapping", nil),
			wantKind: model.KindBadOutput,
		},
		{
			name:     "wrapped_deadline_is_timeout",
			err:      context.DeadlineExceeded,
			wantKind: model.KindTimeout,
		},
		{
			name:     "wrapped_cancel_is_canceled",
			err:      context.Canceled,
			wantKind: model.KindCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.New()
			register(t, reg, "broken", registry.Metadata{}, func(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
				return nil, tt.err
			})
			exec, spans := newTestExecutor(t, reg)

			result := exec.Execute(context.Background(), Request{
				Node: workflow.Node{ID: "n1", Type: "broken"},
			})
			if result.Status != model.NodeFailed {
				t.Fatalf("status = %s, want failed", result.Status)
			}
			if result.Error.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", result.Error.Kind, tt.wantKind)
			}
			if result.Error.CauseID == "" {
				t.Error("failed result has no cause id")
			}
			if open := spans.OpenCount(); open != 0 {
				t.Errorf("%d spans left open", open)
			}
		})
	}
}

// TestExecute_PanicBecomesInternalError tests panic containment
func TestExecute_PanicBecomesInternalError(t *testing.T) {
	reg := registry.New()
	register(t, reg, "bomb", registry.Metadata{}, func(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
		panic("boom")
	})
	exec, spans := newTestExecutor(t, reg)

	result := exec.Execute(context.Background(), Request{
		Node: workflow.Node{ID: "n1", Type: "bomb"},
	})
	if result.Status != model.NodeFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.Error.Kind != model.KindInternalError {
		t.Errorf("kind = %s, want InternalError", result.Error.Kind)
	}
	if open := spans.OpenCount(); open != 0 {
		t.Errorf("%d spans left open after panic", open)
	}
}

// TestExecute_TimeoutConfig tests the wall clock guard from timeout_ms
func TestExecute_TimeoutConfig(t *testing.T) {
	reg := registry.New()
	register(t, reg, "slow", registry.Metadata{}, func(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]interface{}{}, nil
		}
	})
	exec, _ := newTestExecutor(t, reg)

	result := exec.Execute(context.Background(), Request{
		Node: workflow.Node{
			ID:     "n1",
			Type:   "slow",
			Config: map[string]interface{}{"timeout_ms": float64(20)},
		},
	})
	if result.Status != model.NodeFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.Error.Kind != model.KindTimeout {
		t.Errorf("kind = %s, want Timeout", result.Error.Kind)
	}
}

// TestExecute_ConfigDefaultsMerged tests that registry defaults reach
// the handler with node config winning on conflicts.
func TestExecute_ConfigDefaultsMerged(t *testing.T) {
	var seen map[string]interface{}
	reg := registry.New()
	register(t, reg, "work", registry.Metadata{
		ConfigDefaults: map[string]interface{}{"model": "default-model", "top_k": float64(4)},
	}, func(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
		seen = nc.Config
		return map[string]interface{}{}, nil
	})
	exec, _ := newTestExecutor(t, reg)

	result := exec.Execute(context.Background(), Request{
		Node: workflow.Node{
			ID:     "n1",
			Type:   "work",
			Config: map[string]interface{}{"model": "override"},
		},
	})
	if result.Status != model.NodeCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if seen["model"] != "override" {
		t.Errorf("config.model = %v, want node override", seen["model"])
	}
	if seen["top_k"] != float64(4) {
		t.Errorf("config.top_k = %v, want default 4", seen["top_k"])
	}
}

// TestExecute_OnStartedFiresBeforeProgress tests the event hook order
// contract the orchestrator depends on.
func TestExecute_OnStartedFiresBeforeProgress(t *testing.T) {
	var order []string
	reg := registry.New()
	register(t, reg, "chatty", registry.Metadata{}, func(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
		nc.ReportProgress(0.5, "halfway")
		return map[string]interface{}{}, nil
	})
	exec, _ := newTestExecutor(t, reg)

	result := exec.Execute(context.Background(), Request{
		Node: workflow.Node{ID: "n1", Type: "chatty"},
		Progress: func(fraction float64, message string) {
			order = append(order, "progress")
		},
		OnStarted: func(spanID string, startedAt model.Time) {
			order = append(order, "started")
			if spanID == "" {
				t.Error("OnStarted fired without a span id")
			}
		},
	})
	if result.Status != model.NodeCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if len(order) != 2 || order[0] != "started" || order[1] != "progress" {
		t.Errorf("hook order = %v, want [started progress]", order)
	}
}

// TestExecute_UnknownTypeFails tests the executor's guard for types
// that slipped past validation.
func TestExecute_UnknownTypeFails(t *testing.T) {
	exec, _ := newTestExecutor(t, registry.New())

	result := exec.Execute(context.Background(), Request{
		Node: workflow.Node{ID: "n1", Type: "ghost"},
	})
	if result.Status != model.NodeFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.Error.Kind != model.KindInternalError {
		t.Errorf("kind = %s, want InternalError", result.Error.Kind)
	}
}

// TestExecute_FormatterShapesOutput tests that the stored output went
// through the type's formatter.
func TestExecute_FormatterShapesOutput(t *testing.T) {
	reg := registry.New()
	register(t, reg, "gen", registry.Metadata{}, func(ctx context.Context, nc *registry.NodeContext) (map[string]interface{}, error) {
		return map[string]interface{}{"response": "hi"}, nil
	})

	formatters := formatter.New()
	formatters.Register("gen", func(output map[string]interface{}) map[string]interface{} {
		shaped := map[string]interface{}{"text": output["response"]}
		for k, v := range output {
			shaped[k] = v
		}
		return shaped
	})
	exec := New(reg, formatters, tracing.NewMemorySink(), tracing.DefaultLimits())

	result := exec.Execute(context.Background(), Request{
		Node: workflow.Node{ID: "n1", Type: "gen"},
	})
	if result.Status != model.NodeCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if result.Output["text"] != "hi" {
		t.Errorf("output.text = %v, want formatter write", result.Output["text"])
	}
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}
