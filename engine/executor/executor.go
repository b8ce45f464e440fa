// Package executor runs a single node: it resolves the handler, opens
// a span, enforces the optional wall clock timeout, extracts cost
// metadata, and returns a terminal NodeResult. The executor never
// panics and never leaves a span open.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nodeai/nodeai/engine/cost"
	"github.com/nodeai/nodeai/engine/formatter"
	"github.com/nodeai/nodeai/engine/model"
	"github.com/nodeai/nodeai/engine/registry"
	"github.com/nodeai/nodeai/engine/tracing"
	"github.com/nodeai/nodeai/engine/workflow"
)

// TimeoutConfigKey is the per-node config key holding a wall clock
// timeout in milliseconds. The engine imposes no default.
const TimeoutConfigKey = "timeout_ms"

// Request carries one node invocation
type Request struct {
	ExecutionID string
	WorkflowID  string
	Node        workflow.Node
	Inputs      map[string]interface{}
	ParentSpan  string
	Progress    registry.ProgressFunc
	Partial     registry.PartialFunc
	Secrets     registry.SecretsLookup

	// OnStarted fires once the span is open, before the handler runs.
	// The orchestrator hooks it to publish node_started ahead of any
	// progress events.
	OnStarted func(spanID string, startedAt model.Time)
}

// Executor invokes node handlers. Stateless across executions; one
// instance serves the whole process.
type Executor struct {
	registry   *registry.Registry
	formatters *formatter.Registry
	spans      tracing.SpanSink
	limits     tracing.DigestLimits
}

// New creates an executor. A nil span sink discards spans.
func New(reg *registry.Registry, formatters *formatter.Registry, spans tracing.SpanSink, limits tracing.DigestLimits) *Executor {
	if spans == nil {
		spans = tracing.NoopSink{}
	}
	if formatters == nil {
		formatters = formatter.New()
	}
	return &Executor{
		registry:   reg,
		formatters: formatters,
		spans:      spans,
		limits:     limits,
	}
}

// Execute runs one node to a terminal NodeResult. Failures are
// encoded in the result, never returned; the span is closed on every
// path, handler panics included.
func (e *Executor) Execute(ctx context.Context, req Request) *model.NodeResult {
	result := &model.NodeResult{
		NodeID:    req.Node.ID,
		Status:    model.NodeRunning,
		Cost:      decimal.Zero,
		StartedAt: model.Now(),
	}

	handler, meta, ok := e.registry.Lookup(req.Node.Type)
	if !ok {
		return e.fail(result, "", model.NewNodeError(model.KindInternalError,
			fmt.Sprintf("no handler for node type %q", req.Node.Type), nil))
	}

	config, err := e.registry.ResolveConfig(req.Node.Type, req.Node.Config)
	if err != nil {
		return e.fail(result, "", model.NewNodeError(model.KindInternalError,
			fmt.Sprintf("failed to resolve config: %v", err), err))
	}

	spanID := e.spans.Start(tracing.SpanDescriptor{
		Name:   req.Node.Type,
		Kind:   meta.SpanType,
		Parent: req.ParentSpan,
		Attributes: map[string]interface{}{
			"node.id":       req.Node.ID,
			"node.type":     req.Node.Type,
			"config_digest": tracing.Digest(config, e.limits),
			"inputs_digest": tracing.Digest(req.Inputs, e.limits),
		},
	})
	result.SpanID = spanID

	if req.OnStarted != nil {
		req.OnStarted(spanID, result.StartedAt)
	}

	if timeout := timeoutFromConfig(config); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	nc := &registry.NodeContext{
		ExecutionID: req.ExecutionID,
		WorkflowID:  req.WorkflowID,
		NodeID:      req.Node.ID,
		NodeType:    req.Node.Type,
		Config:      config,
		Inputs:      req.Inputs,
		Progress:    req.Progress,
		Partial:     req.Partial,
		Secrets:     req.Secrets,
	}

	output, err := e.invoke(ctx, handler, nc)
	if err != nil {
		return e.fail(result, spanID, classify(err, ctx))
	}
	if output == nil {
		output = map[string]interface{}{}
	}

	usage := cost.ExtractMeta(output)
	result.Status = model.NodeCompleted
	result.Output = e.formatters.Format(req.Node.Type, output)
	result.Cost = usage.Cost
	result.Tokens = usage.Tokens
	result.CompletedAt = model.Now()

	e.spans.AddAttributes(spanID, map[string]interface{}{
		"node.status":  string(result.Status),
		"cost":         result.Cost.String(),
		"tokens.total": result.Tokens.Total,
		"duration_ms":  result.Duration().Milliseconds(),
	})
	e.spans.End(spanID, tracing.SpanOK)
	return result
}

// invoke calls the handler with panic containment
func (e *Executor) invoke(ctx context.Context, handler registry.Handler, nc *registry.NodeContext) (output map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = model.NewNodeError(model.KindInternalError,
				fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return handler.Execute(ctx, nc)
}

// fail seals the result as failed and closes the span when one was
// opened.
func (e *Executor) fail(result *model.NodeResult, spanID string, nodeErr *model.NodeError) *model.NodeResult {
	result.Status = model.NodeFailed
	result.Error = nodeErr
	result.CompletedAt = model.Now()

	if spanID != "" {
		e.spans.AddAttributes(spanID, map[string]interface{}{
			"node.status": string(result.Status),
			"error.kind":  string(nodeErr.Kind),
			"duration_ms": result.Duration().Milliseconds(),
		})
		e.spans.End(spanID, tracing.SpanError)
	}
	return result
}

// classify maps a handler error onto the closed error kind set.
// Handlers may return a NodeError directly to pick their own kind.
func classify(err error, ctx context.Context) *model.NodeError {
	var nodeErr *model.NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.NewNodeError(model.KindTimeout, err.Error(), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return model.NewNodeError(model.KindCanceled, err.Error(), err)
	}
	return model.NewNodeError(model.KindProviderError, err.Error(), err)
}

// timeoutFromConfig reads timeout_ms, tolerating the numeric types
// JSON decoding produces.
func timeoutFromConfig(config map[string]interface{}) time.Duration {
	raw, ok := config[TimeoutConfigKey]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		if v <= 0 {
			return 0
		}
		return time.Duration(v) * time.Millisecond
	case int:
		if v <= 0 {
			return 0
		}
		return time.Duration(v) * time.Millisecond
	case int64:
		if v <= 0 {
			return 0
		}
		return time.Duration(v) * time.Millisecond
	default:
		return 0
	}
}
