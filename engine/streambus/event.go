// Package streambus delivers execution lifecycle events to in-process
// subscribers. Delivery preserves emission order per execution; slow
// subscribers get bounded buffering where stale progress events are
// dropped before any lifecycle event.
package streambus

import (
	"github.com/shopspring/decimal"

	"github.com/nodeai/nodeai/engine/model"
)

// EventType identifies a lifecycle event
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventNodeStarted        EventType = "node_started"
	EventNodeProgress       EventType = "node_progress"
	EventNodeCompleted      EventType = "node_completed"
	EventNodeFailed         EventType = "node_failed"
	EventNodeSkipped        EventType = "node_skipped"
	EventExecutionCompleted EventType = "execution_completed"
)

// Event is one lifecycle notification. Payload keys are fixed per
// event type by the constructors below.
type Event struct {
	Type        EventType              `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	NodeID      string                 `json:"node_id,omitempty"`
	Timestamp   model.Time             `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Droppable reports whether the event may be discarded under buffer
// pressure. Only progress events are expendable; lifecycle transitions
// never are.
func (e Event) Droppable() bool {
	return e.Type == EventNodeProgress
}

// NewExecutionStarted builds the first event of an execution
func NewExecutionStarted(executionID, workflowID string, startedAt model.Time, nodeCount int) Event {
	return Event{
		Type:        EventExecutionStarted,
		ExecutionID: executionID,
		Timestamp:   model.Now(),
		Payload: map[string]interface{}{
			"workflow_id": workflowID,
			"started_at":  startedAt,
			"node_count":  nodeCount,
		},
	}
}

// NewNodeStarted builds a node dispatch event
func NewNodeStarted(executionID, nodeID, nodeType string, startedAt model.Time, spanID string) Event {
	return Event{
		Type:        EventNodeStarted,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Timestamp:   model.Now(),
		Payload: map[string]interface{}{
			"node_type":  nodeType,
			"started_at": startedAt,
			"span_id":    spanID,
		},
	}
}

// NewNodeProgress builds a progress event. Fraction may be negative to
// signal an indeterminate stage; partial carries streamed output.
func NewNodeProgress(executionID, nodeID string, fraction float64, message string, partial interface{}) Event {
	payload := map[string]interface{}{}
	if fraction >= 0 {
		payload["fraction"] = fraction
	}
	if message != "" {
		payload["message"] = message
	}
	if partial != nil {
		payload["partial"] = partial
	}
	return Event{
		Type:        EventNodeProgress,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Timestamp:   model.Now(),
		Payload:     payload,
	}
}

// NewNodeCompleted builds a node success event
func NewNodeCompleted(executionID, nodeID string, durationMS int64, cost decimal.Decimal, tokensTotal int64, outputDigest string) Event {
	return Event{
		Type:        EventNodeCompleted,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Timestamp:   model.Now(),
		Payload: map[string]interface{}{
			"duration_ms":   durationMS,
			"cost":          cost.String(),
			"tokens_total":  tokensTotal,
			"output_digest": outputDigest,
		},
	}
}

// NewNodeFailed builds a node failure event
func NewNodeFailed(executionID, nodeID string, kind model.ErrorKind, message string) Event {
	return Event{
		Type:        EventNodeFailed,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Timestamp:   model.Now(),
		Payload: map[string]interface{}{
			"error_kind": string(kind),
			"message":    message,
		},
	}
}

// NewNodeSkipped builds a node skip event
func NewNodeSkipped(executionID, nodeID, reason string) Event {
	return Event{
		Type:        EventNodeSkipped,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Timestamp:   model.Now(),
		Payload: map[string]interface{}{
			"reason": reason,
		},
	}
}

// NewExecutionCompleted builds the final event of an execution
func NewExecutionCompleted(executionID string, status model.ExecutionStatus, totalCost decimal.Decimal, durationMS int64) Event {
	return Event{
		Type:        EventExecutionCompleted,
		ExecutionID: executionID,
		Timestamp:   model.Now(),
		Payload: map[string]interface{}{
			"status":      string(status),
			"total_cost":  totalCost.String(),
			"duration_ms": durationMS,
		},
	}
}
