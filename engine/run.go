package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/nodeai/nodeai/common/logger"
	"github.com/nodeai/nodeai/engine/collector"
	"github.com/nodeai/nodeai/engine/cost"
	"github.com/nodeai/nodeai/engine/executor"
	"github.com/nodeai/nodeai/engine/model"
	"github.com/nodeai/nodeai/engine/planner"
	"github.com/nodeai/nodeai/engine/registry"
	"github.com/nodeai/nodeai/engine/streambus"
	"github.com/nodeai/nodeai/engine/tracing"
	"github.com/nodeai/nodeai/engine/workflow"
)

// RunOptions configures one execution
type RunOptions struct {
	// ExecutionID pins the execution id so callers can subscribe to
	// the event stream before the run starts. Empty generates one.
	ExecutionID string

	// Secrets resolves provider credentials for node handlers
	Secrets registry.SecretsLookup

	// Parallelism overrides the engine's bound for this run when > 0
	Parallelism int
}

// Run executes a workflow to completion and returns the sealed
// Execution. Failures never surface as a Go error; validation
// failures, node failures, and cancellation are all encoded in the
// returned record. Run blocks until every dispatched node terminates.
func (e *Engine) Run(ctx context.Context, wf *workflow.Workflow, opts RunOptions) *model.Execution {
	exec := model.NewExecution(wf.ID)
	if opts.ExecutionID != "" {
		exec.ExecutionID = opts.ExecutionID
	}
	log := e.log.WithExecutionID(exec.ExecutionID)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rootSpan := e.spans.Start(tracing.SpanDescriptor{
		Name: "execution",
		Kind: "execution",
		Attributes: map[string]interface{}{
			"execution.id": exec.ExecutionID,
			"workflow.id":  wf.ID,
			"node.count":   len(wf.Nodes),
		},
	})
	exec.SpanID = rootSpan
	defer e.bus.CloseExecution(exec.ExecutionID)

	e.bus.Publish(streambus.NewExecutionStarted(exec.ExecutionID, wf.ID, exec.StartedAt, len(wf.Nodes)))
	log.Info("execution started", "workflow_id", wf.ID, "nodes", len(wf.Nodes))

	if verrs := planner.Validate(wf, e.registry); verrs != nil {
		for _, v := range verrs {
			exec.Errors = append(exec.Errors, model.ExecutionError{
				NodeID:  v.NodeID,
				Kind:    v.Kind,
				Message: v.Message,
				Cycle:   v.Cycle,
			})
		}
		log.Warn("workflow validation failed", "workflow_id", wf.ID, "errors", len(verrs))
		return e.finalize(exec, model.ExecutionFailed, rootSpan, nil, nil, log)
	}

	order, err := planner.Plan(wf)
	if err != nil {
		// Validate already rejects cyclic graphs; keep the guard for
		// direct Plan failures all the same
		var verr planner.ValidationError
		if errors.As(err, &verr) {
			exec.Errors = append(exec.Errors, model.ExecutionError{
				Kind:    verr.Kind,
				Message: verr.Message,
				Cycle:   verr.Cycle,
			})
		} else {
			exec.Errors = append(exec.Errors, model.ExecutionError{
				Kind:    model.KindInternalError,
				Message: err.Error(),
			})
		}
		return e.finalize(exec, model.ExecutionFailed, rootSpan, nil, nil, log)
	}

	run := newRunState(e, exec, wf, order, opts, rootSpan, log)
	status := run.loop(ctx)
	return e.finalize(exec, status, rootSpan, run.tracker, run.recorder, log)
}

// finalize seals the execution: totals, trace snapshot, root span, and
// the terminal event.
func (e *Engine) finalize(exec *model.Execution, status model.ExecutionStatus, rootSpan string, tracker *cost.Tracker, recorder *tracing.Recorder, log *logger.Logger) *model.Execution {
	if tracker != nil {
		exec.TotalCost, exec.TotalTokens = tracker.Totals()
	}
	if recorder != nil {
		exec.QueryTrace = recorder.Snapshot()
	}
	exec.Status = status
	exec.CompletedAt = model.Now()
	durationMS := exec.CompletedAt.Sub(exec.StartedAt.Time).Milliseconds()

	e.spans.AddAttributes(rootSpan, map[string]interface{}{
		"execution.status": string(status),
		"total_cost":       exec.TotalCost.String(),
		"duration_ms":      durationMS,
	})
	spanStatus := tracing.SpanOK
	if status == model.ExecutionFailed {
		spanStatus = tracing.SpanError
	}
	e.spans.End(rootSpan, spanStatus)

	e.bus.Publish(streambus.NewExecutionCompleted(exec.ExecutionID, status, exec.TotalCost, durationMS))
	log.Info("execution finished",
		"status", string(status),
		"total_cost", exec.TotalCost.String(),
		"duration_ms", durationMS)
	return exec
}

type nodeDone struct {
	id     string
	result *model.NodeResult
}

// runState is the scheduler for one execution. The dispatcher loop is
// the single writer of the results map; node goroutines hand terminal
// results back over doneCh.
type runState struct {
	engine   *Engine
	exec     *model.Execution
	wf       *workflow.Workflow
	opts     RunOptions
	rootSpan string
	log      *logger.Logger

	planIndex   map[string]int
	pendingDeps map[string]int
	dependents  map[string][]string
	remaining   map[string]bool
	ready       []string
	inflight    int
	doneCh      chan nodeDone
	parallelism int

	tracker      *cost.Tracker
	recorder     *tracing.Recorder
	inputDigests map[string]string

	fatal    bool
	canceled bool
}

func newRunState(e *Engine, exec *model.Execution, wf *workflow.Workflow, order []string, opts RunOptions, rootSpan string, log *logger.Logger) *runState {
	r := &runState{
		engine:       e,
		exec:         exec,
		wf:           wf,
		opts:         opts,
		rootSpan:     rootSpan,
		log:          log,
		planIndex:    make(map[string]int, len(order)),
		pendingDeps:  make(map[string]int, len(order)),
		dependents:   make(map[string][]string),
		remaining:    make(map[string]bool, len(order)),
		doneCh:       make(chan nodeDone),
		parallelism:  e.parallelism,
		inputDigests: make(map[string]string, len(order)),
		tracker:      cost.NewTracker(exec.ExecutionID, wf.ID, e.costSink, log),
	}
	if opts.Parallelism > 0 {
		r.parallelism = opts.Parallelism
	}

	for _, n := range wf.Nodes {
		if meta, ok := e.registry.Metadata(n.Type); ok && meta.RetrievalPattern {
			r.recorder = tracing.NewRecorder(exec.ExecutionID)
			break
		}
	}

	for i, id := range order {
		r.planIndex[id] = i
		r.remaining[id] = true
		r.pendingDeps[id] = 0
	}
	for _, n := range wf.Nodes {
		exec.Results[n.ID] = &model.NodeResult{
			NodeID: n.ID,
			Status: model.NodePending,
			Cost:   decimal.Zero,
		}
	}

	// Dependency counts are over distinct sources; parallel edges
	// from one source count once
	type pair struct{ source, target string }
	seen := make(map[pair]bool, len(wf.Edges))
	for _, edge := range wf.Edges {
		p := pair{edge.Source, edge.Target}
		if seen[p] {
			continue
		}
		seen[p] = true
		r.pendingDeps[edge.Target]++
		r.dependents[edge.Source] = append(r.dependents[edge.Source], edge.Target)
	}

	for _, id := range order {
		if r.pendingDeps[id] == 0 {
			r.ready = append(r.ready, id)
		}
	}
	return r
}

func (r *runState) stopping() bool {
	return r.fatal || r.canceled
}

// loop drives the execution: fill dispatch slots, wait for a terminal
// result, unblock dependents, repeat. On cancellation or a fatal
// failure it stops dispatching, drains in-flight nodes, and marks the
// rest skipped.
func (r *runState) loop(ctx context.Context) model.ExecutionStatus {
	if ctx.Err() != nil {
		r.canceled = true
	}

	for {
		if r.inflight == 0 && (r.stopping() || len(r.ready) == 0) {
			break
		}

		for !r.stopping() && r.inflight < r.parallelism && len(r.ready) > 0 {
			if ctx.Err() != nil {
				r.canceled = true
				break
			}
			id := r.popReady()
			delete(r.remaining, id)
			r.dispatch(ctx, id)
		}
		if r.inflight == 0 {
			continue
		}

		if r.canceled {
			done := <-r.doneCh
			r.inflight--
			r.handleTerminal(ctx, done.id, done.result)
			continue
		}
		select {
		case done := <-r.doneCh:
			r.inflight--
			r.handleTerminal(ctx, done.id, done.result)
		case <-ctx.Done():
			r.canceled = true
			r.log.Info("cancellation requested, draining in-flight nodes",
				"inflight", r.inflight)
		}
	}

	r.skipRemaining(ctx)

	switch {
	case r.canceled:
		return model.ExecutionCanceled
	case r.fatal:
		return model.ExecutionFailed
	default:
		return model.ExecutionCompleted
	}
}

// popReady removes and returns the ready node earliest in the plan
func (r *runState) popReady() string {
	best := 0
	for i := 1; i < len(r.ready); i++ {
		if r.planIndex[r.ready[i]] < r.planIndex[r.ready[best]] {
			best = i
		}
	}
	id := r.ready[best]
	r.ready = append(r.ready[:best], r.ready[best+1:]...)
	return id
}

// dispatch collects inputs for a node and hands it to a worker
// goroutine. Collection happens on the dispatcher so the results map
// needs no lock. Nodes whose inputs are unavailable terminate skipped
// without consuming a slot.
func (r *runState) dispatch(ctx context.Context, id string) {
	node, _ := r.wf.Node(id)

	inputs, err := r.engine.collector.Collect(node, r.exec.Results, r.wf)
	if err != nil {
		reason := model.SkipMissingInput
		var skip *collector.SkipError
		if errors.As(err, &skip) {
			reason = skip.Reason
		}
		r.handleTerminal(ctx, id, skippedResult(id, reason))
		return
	}
	r.inputDigests[id] = tracing.Digest(inputs, r.engine.limits)

	r.exec.Results[id].Status = model.NodeRunning
	r.inflight++

	execID := r.exec.ExecutionID
	nodeCopy := *node
	bus := r.engine.bus

	go func() {
		result := r.engine.executor.Execute(ctx, executor.Request{
			ExecutionID: execID,
			WorkflowID:  r.wf.ID,
			Node:        nodeCopy,
			Inputs:      inputs,
			ParentSpan:  r.rootSpan,
			Secrets:     r.opts.Secrets,
			Progress: func(fraction float64, message string) {
				bus.Publish(streambus.NewNodeProgress(execID, nodeCopy.ID, fraction, message, nil))
			},
			Partial: func(chunk interface{}) {
				bus.Publish(streambus.NewNodeProgress(execID, nodeCopy.ID, -1, "", chunk))
			},
			OnStarted: func(spanID string, startedAt model.Time) {
				bus.Publish(streambus.NewNodeStarted(execID, nodeCopy.ID, nodeCopy.Type, startedAt, spanID))
			},
		})
		r.doneCh <- nodeDone{id: id, result: result}
	}()
}

// handleTerminal seals one node's result: stores it, publishes the
// terminal event, folds cost, appends the trace step, and unblocks
// dependents.
func (r *runState) handleTerminal(ctx context.Context, id string, result *model.NodeResult) {
	r.exec.Results[id] = result
	node, _ := r.wf.Node(id)
	meta, _ := r.engine.registry.Metadata(node.Type)
	execID := r.exec.ExecutionID
	log := r.log.WithNodeID(id)

	switch result.Status {
	case model.NodeCompleted:
		r.engine.bus.Publish(streambus.NewNodeCompleted(execID, id,
			result.Duration().Milliseconds(),
			result.Cost,
			result.Tokens.Total,
			tracing.Digest(result.Output, r.engine.limits)))
		log.Debug("node completed",
			"node_type", node.Type,
			"duration_ms", result.Duration().Milliseconds(),
			"cost", result.Cost.String())

	case model.NodeFailed:
		r.engine.bus.Publish(streambus.NewNodeFailed(execID, id, result.Error.Kind, result.Error.Message))
		r.exec.Errors = append(r.exec.Errors, model.ExecutionError{
			NodeID:  id,
			Kind:    result.Error.Kind,
			Message: result.Error.Message,
			CauseID: result.Error.CauseID,
		})
		log.Warn("node failed",
			"node_type", node.Type,
			"kind", string(result.Error.Kind),
			"message", result.Error.Message)
		if meta.FatalOnError {
			r.fatal = true
			log.Warn("fatal node failure, stopping execution", "node_type", node.Type)
		}

	case model.NodeSkipped:
		r.engine.bus.Publish(streambus.NewNodeSkipped(execID, id, result.SkipReason))
		log.Debug("node skipped", "reason", result.SkipReason)
	}

	r.tracker.Observe(ctx, id, node.Type, result)

	if r.recorder != nil && meta.RetrievalPattern && result.Status != model.NodeSkipped {
		r.recorder.Append(model.TraceStep{
			SpanID:        result.SpanID,
			ParentSpanID:  r.rootSpan,
			NodeID:        id,
			StepType:      stepTypeOf(meta.StepType),
			StartedAt:     result.StartedAt,
			DurationMS:    result.Duration().Milliseconds(),
			InputsDigest:  r.inputDigests[id],
			OutputsDigest: tracing.Digest(result.Output, r.engine.limits),
		})
	}

	for _, dep := range r.dependents[id] {
		r.pendingDeps[dep]--
		if r.pendingDeps[dep] == 0 && r.remaining[dep] {
			r.ready = append(r.ready, dep)
		}
	}
}

// skipRemaining marks every undispatched node skipped after the loop
// stops early.
func (r *runState) skipRemaining(ctx context.Context) {
	if len(r.remaining) == 0 {
		return
	}

	reason := model.SkipMissingInput
	switch {
	case r.canceled:
		reason = model.SkipCanceled
	case r.fatal:
		reason = model.SkipExecutionFailed
	}

	ids := make([]string, 0, len(r.remaining))
	for id := range r.remaining {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.planIndex[ids[i]] < r.planIndex[ids[j]]
	})

	for _, id := range ids {
		delete(r.remaining, id)
		r.handleTerminal(ctx, id, skippedResult(id, reason))
	}
}

func skippedResult(nodeID, reason string) *model.NodeResult {
	now := model.Now()
	return &model.NodeResult{
		NodeID:      nodeID,
		Status:      model.NodeSkipped,
		SkipReason:  reason,
		Cost:        decimal.Zero,
		StartedAt:   now,
		CompletedAt: now,
	}
}

func stepTypeOf(s string) model.StepType {
	if s == "" {
		return model.StepOther
	}
	return model.StepType(s)
}
