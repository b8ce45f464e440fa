package tracing

import (
	"sync"

	"github.com/nodeai/nodeai/engine/model"
)

// Recorder accumulates retrieval trace steps for one execution. Steps
// are appended as their nodes terminate, so with concurrent dispatch
// the order reflects actual termination, not DAG order.
type Recorder struct {
	mu    sync.Mutex
	trace model.QueryTrace
}

// NewRecorder creates a recorder for an execution
func NewRecorder(executionID string) *Recorder {
	return &Recorder{
		trace: model.QueryTrace{ExecutionID: executionID},
	}
}

// Append adds a terminal trace step
func (r *Recorder) Append(step model.TraceStep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace.Steps = append(r.trace.Steps, step)
}

// Len returns the number of recorded steps
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trace.Steps)
}

// Snapshot returns a copy of the trace recorded so far
func (r *Recorder) Snapshot() *model.QueryTrace {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps := make([]model.TraceStep, len(r.trace.Steps))
	copy(steps, r.trace.Steps)
	return &model.QueryTrace{
		ExecutionID: r.trace.ExecutionID,
		Steps:       steps,
	}
}
