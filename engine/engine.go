// Package engine orchestrates workflow executions: it validates the
// graph, plans a deterministic order, dispatches nodes with bounded
// parallelism, collects inputs from terminal results, and streams
// lifecycle events while tracking cost and traces.
package engine

import (
	"fmt"
	"time"

	"github.com/nodeai/nodeai/common/logger"
	"github.com/nodeai/nodeai/engine/collector"
	"github.com/nodeai/nodeai/engine/condition"
	"github.com/nodeai/nodeai/engine/cost"
	"github.com/nodeai/nodeai/engine/executor"
	"github.com/nodeai/nodeai/engine/formatter"
	"github.com/nodeai/nodeai/engine/registry"
	"github.com/nodeai/nodeai/engine/streambus"
	"github.com/nodeai/nodeai/engine/tracing"
)

// Options wires an engine at construction time. Registry is the only
// required field; everything else has a working default.
type Options struct {
	Registry   *registry.Registry
	Formatters *formatter.Registry

	// Table overrides the default input routing policy
	Table *collector.MappingTable

	SpanSink tracing.SpanSink
	CostSink cost.Sink
	Bus      *streambus.Bus
	Logger   *logger.Logger

	// Parallelism bounds concurrent nodes per execution, minimum 1
	Parallelism int

	// IntelligentRouting exposes upstream outputs under
	// {source_id}.{field} keys in addition to the heuristic writes
	IntelligentRouting bool

	// ExecutionTimeout caps a whole run; zero means no cap
	ExecutionTimeout time.Duration

	DigestLimits tracing.DigestLimits
}

// Engine runs workflows. One engine serves the whole process; every
// Run call gets its own isolated execution state.
type Engine struct {
	registry   *registry.Registry
	formatters *formatter.Registry
	collector  *collector.Collector
	executor   *executor.Executor
	spans      tracing.SpanSink
	costSink   cost.Sink
	bus        *streambus.Bus
	log        *logger.Logger

	parallelism int
	timeout     time.Duration
	limits      tracing.DigestLimits
}

// New creates an engine from options
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine requires a node registry")
	}

	if opts.Formatters == nil {
		opts.Formatters = formatter.New()
	}
	if opts.SpanSink == nil {
		opts.SpanSink = tracing.NoopSink{}
	}
	if opts.CostSink == nil {
		opts.CostSink = cost.NoopSink{}
	}
	if opts.Bus == nil {
		opts.Bus = streambus.New(streambus.MinBuffer)
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("info", "json")
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.DigestLimits.MaxString == 0 {
		opts.DigestLimits = tracing.DefaultLimits()
	}

	conditions, err := condition.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	coll := collector.New(opts.Table, conditions, collector.Options{
		IntelligentRouting: opts.IntelligentRouting,
		Logger:             opts.Logger.WithComponent("collector"),
	})
	exec := executor.New(opts.Registry, opts.Formatters, opts.SpanSink, opts.DigestLimits)

	return &Engine{
		registry:    opts.Registry,
		formatters:  opts.Formatters,
		collector:   coll,
		executor:    exec,
		spans:       opts.SpanSink,
		costSink:    opts.CostSink,
		bus:         opts.Bus,
		log:         opts.Logger.WithComponent("engine"),
		parallelism: opts.Parallelism,
		timeout:     opts.ExecutionTimeout,
		limits:      opts.DigestLimits,
	}, nil
}

// Registry returns the node registry the engine validates against
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Bus returns the stream bus carrying lifecycle events
func (e *Engine) Bus() *streambus.Bus {
	return e.bus
}
