// Package model defines the execution data model shared by the engine
// packages: node results, executions, token usage, and the closed error
// kind enumeration.
package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RFC3339Milli is the wire format for all engine timestamps.
const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// Time wraps time.Time so timestamps serialize with fixed millisecond
// precision.
type Time struct {
	time.Time
}

// Now returns the current UTC time truncated to millisecond precision.
func Now() Time {
	return Time{time.Now().UTC().Truncate(time.Millisecond)}
}

// MarshalJSON formats the timestamp as RFC3339 with milliseconds.
// Zero timestamps serialize as null.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.Format(RFC3339Milli))), nil
}

// UnmarshalJSON parses an RFC3339 timestamp
func (t *Time) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		t.Time = time.Time{}
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("failed to unquote timestamp: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339, unquoted)
	if err != nil {
		return fmt.Errorf("failed to parse timestamp: %w", err)
	}
	t.Time = parsed
	return nil
}

// NodeStatus is the lifecycle state of a single node execution
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the status is a terminal state
func (s NodeStatus) Terminal() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeSkipped
}

// Skip reasons recorded on skipped NodeResults
const (
	SkipMissingInput    = "missing_input"
	SkipCanceled        = "canceled"
	SkipBranchNotTaken  = "branch_not_taken"
	SkipExecutionFailed = "execution_failed"
)

// ExecutionStatus is the lifecycle state of a workflow execution
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCanceled  ExecutionStatus = "canceled"
)

// ErrorKind is the closed enumeration of engine error kinds. Control
// flow keys off kinds, never off message text.
type ErrorKind string

const (
	// Validation kinds, fatal before any node runs
	KindUnknownNodeType ErrorKind = "UnknownNodeType"
	KindDanglingEdge    ErrorKind = "DanglingEdge"
	KindDuplicateNodeID ErrorKind = "DuplicateNodeId"
	KindInvalidEdge     ErrorKind = "InvalidEdge"
	KindCyclicWorkflow  ErrorKind = "CyclicWorkflow"

	// Collector kind, skips the target node only
	KindMissingRequiredInput ErrorKind = "MissingRequiredInput"

	// Node execution kinds
	KindProviderError ErrorKind = "ProviderError"
	KindTimeout       ErrorKind = "Timeout"
	KindCanceled      ErrorKind = "Canceled"
	KindBadOutput     ErrorKind = "BadOutput"
	KindInternalError ErrorKind = "InternalError"

	// External cancellation signal
	KindCancellationRequested ErrorKind = "CancellationRequested"
)

// TokenUsage tracks token consumption for a node or an execution
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// Add combines two TokenUsage values
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		Input:  u.Input + other.Input,
		Output: u.Output + other.Output,
		Total:  u.Total + other.Total,
	}
}

// NodeError describes why a node failed
type NodeError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	CauseID string    `json:"cause_id"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// NewNodeError builds a NodeError with a fresh cause id
func NewNodeError(kind ErrorKind, message string, cause error) *NodeError {
	return &NodeError{
		Kind:    kind,
		Message: message,
		CauseID: uuid.New().String(),
		Cause:   cause,
	}
}

// NodeResult is the record of one node's execution. Once the status is
// terminal the result is immutable.
type NodeResult struct {
	NodeID      string                 `json:"node_id"`
	Status      NodeStatus             `json:"status"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       *NodeError             `json:"error,omitempty"`
	SkipReason  string                 `json:"skip_reason,omitempty"`
	Cost        decimal.Decimal        `json:"cost"`
	Tokens      TokenUsage             `json:"tokens"`
	StartedAt   Time                   `json:"started_at"`
	CompletedAt Time                   `json:"completed_at"`
	SpanID      string                 `json:"span_id,omitempty"`
}

// Duration returns the wall clock duration of the node execution
func (r *NodeResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt.Time)
}

// StepType classifies a trace step within a retrieval pipeline
type StepType string

const (
	StepInput    StepType = "input"
	StepEmbed    StepType = "embed"
	StepRetrieve StepType = "retrieve"
	StepRerank   StepType = "rerank"
	StepGenerate StepType = "generate"
	StepToolCall StepType = "tool_call"
	StepOutput   StepType = "output"
	StepOther    StepType = "other"
)

// TraceStep is one entry in a QueryTrace, recorded after its node
// reaches a terminal status.
type TraceStep struct {
	SpanID        string   `json:"span_id"`
	ParentSpanID  string   `json:"parent_span_id,omitempty"`
	NodeID        string   `json:"node_id"`
	StepType      StepType `json:"step_type"`
	StartedAt     Time     `json:"started_at"`
	DurationMS    int64    `json:"duration_ms"`
	InputsDigest  string   `json:"inputs_digest"`
	OutputsDigest string   `json:"outputs_digest"`
}

// QueryTrace is the ordered retrieval trace for one execution. Steps
// appear in the order their nodes terminated.
type QueryTrace struct {
	ExecutionID string      `json:"execution_id"`
	Steps       []TraceStep `json:"steps"`
}

// ExecutionError is one entry in an execution's error list
type ExecutionError struct {
	NodeID  string    `json:"node_id,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	CauseID string    `json:"cause_id,omitempty"`
	Cycle   []string  `json:"cycle,omitempty"`
}

// Execution is a single run of a workflow. Created on submission,
// sealed on termination.
type Execution struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      ExecutionStatus        `json:"status"`
	StartedAt   Time                   `json:"started_at"`
	CompletedAt Time                   `json:"completed_at"`
	Results     map[string]*NodeResult `json:"results"`
	TotalCost   decimal.Decimal        `json:"total_cost"`
	TotalTokens TokenUsage             `json:"total_tokens"`
	QueryTrace  *QueryTrace            `json:"query_trace,omitempty"`
	Errors      []ExecutionError       `json:"errors,omitempty"`
	SpanID      string                 `json:"span_id,omitempty"`
}

// NewExecution creates a running execution with a fresh id
func NewExecution(workflowID string) *Execution {
	return &Execution{
		ExecutionID: uuid.New().String(),
		WorkflowID:  workflowID,
		Status:      ExecutionRunning,
		StartedAt:   Now(),
		Results:     make(map[string]*NodeResult),
		TotalCost:   decimal.Zero,
	}
}

// Result returns the result for a node id, or nil
func (e *Execution) Result(nodeID string) *NodeResult {
	return e.Results[nodeID]
}

// CostRecord is the durable per-node cost ledger entry
type CostRecord struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	NodeID      string          `json:"node_id"`
	NodeType    string          `json:"node_type"`
	Cost        decimal.Decimal `json:"cost"`
	Tokens      TokenUsage      `json:"tokens"`
	Provider    string          `json:"provider,omitempty"`
	Model       string          `json:"model,omitempty"`
	Timestamp   Time            `json:"timestamp"`
}
