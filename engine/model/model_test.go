package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestTimeMarshalJSON tests the fixed millisecond wire format
func TestTimeMarshalJSON(t *testing.T) {
	ts := Time{time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)}

	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"2025-03-14T09:26:53.589Z"` {
		t.Errorf("Expected millisecond precision, got %s", data)
	}
}

// TestTimeMarshalJSON_Zero tests that zero timestamps serialize as null
func TestTimeMarshalJSON_Zero(t *testing.T) {
	data, err := json.Marshal(Time{})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("Expected null for zero time, got %s", data)
	}
}

// TestTimeUnmarshalJSON tests round-tripping and the null case
func TestTimeUnmarshalJSON(t *testing.T) {
	var ts Time
	if err := json.Unmarshal([]byte(`"2025-03-14T09:26:53.589Z"`), &ts); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if ts.Year() != 2025 || ts.Nanosecond() != 589_000_000 {
		t.Errorf("Unexpected parsed time: %v", ts)
	}

	var null Time
	if err := json.Unmarshal([]byte("null"), &null); err != nil {
		t.Fatalf("Unmarshal of null failed: %v", err)
	}
	if !null.IsZero() {
		t.Errorf("Expected zero time from null, got %v", null)
	}

	var bad Time
	if err := json.Unmarshal([]byte(`"not-a-time"`), &bad); err == nil {
		t.Errorf("Expected error for malformed timestamp")
	}
}

// TestNow tests that Now is truncated to millisecond precision
func TestNow(t *testing.T) {
	ts := Now()
	if ts.Nanosecond()%int(time.Millisecond) != 0 {
		t.Errorf("Expected millisecond truncation, got %d ns", ts.Nanosecond())
	}
}

// TestNodeStatusTerminal tests the terminal state classification
func TestNodeStatusTerminal(t *testing.T) {
	tests := []struct {
		status   NodeStatus
		terminal bool
	}{
		{NodePending, false},
		{NodeRunning, false},
		{NodeCompleted, true},
		{NodeFailed, true},
		{NodeSkipped, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("Status %s: expected Terminal()=%v, got %v", tt.status, tt.terminal, got)
		}
	}
}

// TestTokenUsageAdd tests token accumulation
func TestTokenUsageAdd(t *testing.T) {
	a := TokenUsage{Input: 10, Output: 5, Total: 15}
	b := TokenUsage{Input: 3, Output: 2, Total: 5}

	sum := a.Add(b)
	if sum.Input != 13 || sum.Output != 7 || sum.Total != 20 {
		t.Errorf("Unexpected sum: %+v", sum)
	}

	// Add must not mutate its receiver
	if a.Input != 10 || a.Total != 15 {
		t.Errorf("Receiver mutated: %+v", a)
	}
}

// TestNodeError tests the error interface and cause unwrapping
func TestNodeError(t *testing.T) {
	cause := errors.New("connection refused")
	nerr := NewNodeError(KindProviderError, "provider unreachable", cause)

	if nerr.Error() != "ProviderError: provider unreachable" {
		t.Errorf("Unexpected message: %s", nerr.Error())
	}
	if nerr.CauseID == "" {
		t.Errorf("Expected a cause id")
	}
	if !errors.Is(nerr, cause) {
		t.Errorf("Expected errors.Is to reach the cause")
	}

	var target *NodeError
	if !errors.As(error(nerr), &target) {
		t.Errorf("Expected errors.As to match NodeError")
	}
	if target.Kind != KindProviderError {
		t.Errorf("Expected kind ProviderError, got %s", target.Kind)
	}
}

// TestNodeResultDuration tests wall clock duration computation
func TestNodeResultDuration(t *testing.T) {
	started := Time{time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	completed := Time{started.Add(250 * time.Millisecond)}

	r := &NodeResult{StartedAt: started, CompletedAt: completed}
	if r.Duration() != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", r.Duration())
	}

	// Unset endpoints yield zero
	if (&NodeResult{StartedAt: started}).Duration() != 0 {
		t.Errorf("Expected zero duration without CompletedAt")
	}
	if (&NodeResult{}).Duration() != 0 {
		t.Errorf("Expected zero duration for empty result")
	}
}

// TestNewExecution tests fresh execution construction
func TestNewExecution(t *testing.T) {
	exec := NewExecution("wf-1")

	if exec.ExecutionID == "" {
		t.Errorf("Expected a generated execution id")
	}
	if exec.WorkflowID != "wf-1" {
		t.Errorf("Expected workflow id wf-1, got %s", exec.WorkflowID)
	}
	if exec.Status != ExecutionRunning {
		t.Errorf("Expected running status, got %s", exec.Status)
	}
	if exec.StartedAt.IsZero() {
		t.Errorf("Expected StartedAt to be set")
	}
	if !exec.TotalCost.Equal(decimal.Zero) {
		t.Errorf("Expected zero total cost, got %s", exec.TotalCost)
	}
	if exec.Result("missing") != nil {
		t.Errorf("Expected nil result for unknown node")
	}
}

// TestExecutionJSON tests that a sealed execution serializes with
// stable field shapes: decimal cost as a JSON string, zero
// CompletedAt as null.
func TestExecutionJSON(t *testing.T) {
	exec := NewExecution("wf-1")
	exec.Results["a"] = &NodeResult{
		NodeID: "a",
		Status: NodeCompleted,
		Cost:   decimal.RequireFromString("0.015"),
		Tokens: TokenUsage{Input: 10, Output: 20, Total: 30},
	}
	exec.TotalCost = decimal.RequireFromString("0.015")

	data, err := json.Marshal(exec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["total_cost"] != "0.015" {
		t.Errorf("Expected total_cost as string \"0.015\", got %v", decoded["total_cost"])
	}
	if decoded["completed_at"] != nil {
		t.Errorf("Expected null completed_at for running execution, got %v", decoded["completed_at"])
	}
	results := decoded["results"].(map[string]interface{})
	if _, ok := results["a"]; !ok {
		t.Errorf("Expected results keyed by node id")
	}
}
