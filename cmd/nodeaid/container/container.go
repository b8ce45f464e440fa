package container

import (
	"fmt"

	"github.com/nodeai/nodeai/cmd/nodeaid/nodes"
	"github.com/nodeai/nodeai/cmd/nodeaid/service"
	"github.com/nodeai/nodeai/common/bootstrap"
	"github.com/nodeai/nodeai/common/repository"
	"github.com/nodeai/nodeai/common/telemetry"
	"github.com/nodeai/nodeai/engine"
	"github.com/nodeai/nodeai/engine/cost"
	"github.com/nodeai/nodeai/engine/formatter"
	"github.com/nodeai/nodeai/engine/registry"
	"github.com/nodeai/nodeai/engine/streambus"
	"github.com/nodeai/nodeai/engine/tracing"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Engine
	Registry   *registry.Registry
	Formatters *formatter.Registry
	Engine     *engine.Engine
	Bus        *streambus.Bus
	Mirror     *streambus.Mirror

	// Repositories (nil without Postgres)
	CostRepo      *repository.CostRepository
	ExecutionRepo *repository.ExecutionRepository

	// Services
	Drafts     *service.DraftService
	Executions *service.ExecutionService

	Metrics *telemetry.Metrics
}

// NewContainer initializes all services once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config

	// Node catalog
	reg := registry.New()
	if err := nodes.Register(reg); err != nil {
		return nil, fmt.Errorf("failed to register builtin nodes: %w", err)
	}
	formatters := formatter.New()
	nodes.RegisterFormatters(formatters)

	// Span sink: OTel when tracing is enabled, noop otherwise
	var spanSink tracing.SpanSink = tracing.NoopSink{}
	if components.Tracer != nil {
		spanSink = tracing.NewOTelSink(components.Tracer)
	}

	// Cost sink: Postgres ledger when the database is up
	var costSink cost.Sink
	var costRepo *repository.CostRepository
	var executionRepo *repository.ExecutionRepository
	if components.DB != nil {
		costRepo = repository.NewCostRepository(components.DB)
		executionRepo = repository.NewExecutionRepository(components.DB)
		costSink = costRepo
	}

	bus := streambus.New(cfg.Engine.SubscriberBuffer)

	eng, err := engine.New(engine.Options{
		Registry:           reg,
		Formatters:         formatters,
		SpanSink:           spanSink,
		CostSink:           costSink,
		Bus:                bus,
		Logger:             components.Logger,
		Parallelism:        cfg.Engine.Parallelism,
		IntelligentRouting: cfg.Engine.IntelligentRouting,
		ExecutionTimeout:   cfg.Engine.ExecutionTimeout,
		DigestLimits: tracing.DigestLimits{
			MaxString: cfg.Engine.MaxStringDigest,
			MaxBytes:  cfg.Engine.MaxBytesDigest,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	// Redis event mirror
	var mirror *streambus.Mirror
	if components.Redis != nil {
		mirror = streambus.NewMirror(bus, components.Redis, 1024, components.Logger)
	}

	var metrics *telemetry.Metrics
	if components.Telemetry != nil {
		metrics = components.Telemetry.Metrics
	}

	drafts, err := service.NewDraftService(components.Cache, reg, cfg.Drafts.TTL, components.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create draft service: %w", err)
	}

	executions := service.NewExecutionService(service.ExecutionServiceOpts{
		Engine:  eng,
		Mirror:  mirror,
		Archive: executionRepo,
		Ledger:  costRepo,
		Metrics: metrics,
		Logger:  components.Logger,
	})

	return &Container{
		Components:    components,
		Registry:      reg,
		Formatters:    formatters,
		Engine:        eng,
		Bus:           bus,
		Mirror:        mirror,
		CostRepo:      costRepo,
		ExecutionRepo: executionRepo,
		Drafts:        drafts,
		Executions:    executions,
		Metrics:       metrics,
	}, nil
}
