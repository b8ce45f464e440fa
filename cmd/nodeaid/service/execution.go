package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodeai/nodeai/common/logger"
	"github.com/nodeai/nodeai/common/repository"
	"github.com/nodeai/nodeai/common/telemetry"
	"github.com/nodeai/nodeai/engine"
	"github.com/nodeai/nodeai/engine/model"
	"github.com/nodeai/nodeai/engine/registry"
	"github.com/nodeai/nodeai/engine/streambus"
	"github.com/nodeai/nodeai/engine/workflow"
)

// ErrExecutionNotFound is returned when an execution id is unknown
var ErrExecutionNotFound = fmt.Errorf("execution not found")

// maxRecent bounds the in-memory record of sealed executions
const maxRecent = 256

// ExecutionServiceOpts wires an execution service. Mirror, Archive,
// Ledger, and Metrics are optional; nil disables the integration.
type ExecutionServiceOpts struct {
	Engine  *engine.Engine
	Mirror  *streambus.Mirror
	Archive *repository.ExecutionRepository
	Ledger  *repository.CostRepository
	Metrics *telemetry.Metrics
	Logger  *logger.Logger
}

// ExecutionService starts workflow executions, tracks the ones in
// flight, and serves sealed records back out.
type ExecutionService struct {
	engine  *engine.Engine
	mirror  *streambus.Mirror
	archive *repository.ExecutionRepository
	ledger  *repository.CostRepository
	metrics *telemetry.Metrics
	log     *logger.Logger

	mu     sync.RWMutex
	active map[string]*activeExecution
	recent map[string]*model.Execution
	order  []string
}

type activeExecution struct {
	cancel     context.CancelFunc
	workflowID string
	startedAt  model.Time
}

// NewExecutionService creates an execution service
func NewExecutionService(opts ExecutionServiceOpts) *ExecutionService {
	return &ExecutionService{
		engine:  opts.Engine,
		mirror:  opts.Mirror,
		archive: opts.Archive,
		ledger:  opts.Ledger,
		metrics: opts.Metrics,
		log:     opts.Logger.WithComponent("executions"),
		active:  make(map[string]*activeExecution),
		recent:  make(map[string]*model.Execution),
	}
}

// Start launches a workflow execution in the background and returns
// its id. The execution outlives the request that started it.
func (s *ExecutionService) Start(wf *workflow.Workflow) string {
	executionID := uuid.New().String()
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.active[executionID] = &activeExecution{
		cancel:     cancel,
		workflowID: wf.ID,
		startedAt:  model.Now(),
	}
	s.mu.Unlock()

	// Subscribe the mirror before the run starts so the Redis stream
	// sees execution_started
	if s.mirror != nil {
		sub := s.engine.Bus().Subscribe(executionID)
		go s.mirror.Forward(runCtx, sub)
	}

	if s.metrics != nil {
		s.metrics.ExecutionStarted()
	}

	go func() {
		defer cancel()
		exec := s.engine.Run(runCtx, wf, engine.RunOptions{
			ExecutionID: executionID,
			Secrets:     envSecrets,
		})
		s.seal(wf, exec)
	}()

	return executionID
}

// seal records a finished execution: metrics, archive, in-memory cache
func (s *ExecutionService) seal(wf *workflow.Workflow, exec *model.Execution) {
	duration := exec.CompletedAt.Sub(exec.StartedAt.Time)

	if s.metrics != nil {
		costValue, _ := exec.TotalCost.Float64()
		s.metrics.ExecutionFinished(string(exec.Status), duration, costValue)
		for _, result := range exec.Results {
			node, ok := wf.Node(result.NodeID)
			if !ok {
				continue
			}
			s.metrics.NodeFinished(node.Type, string(result.Status), result.Duration())
		}
	}

	if s.archive != nil {
		archiveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.archive.Archive(archiveCtx, exec); err != nil {
			s.log.Warn("failed to archive execution",
				"execution_id", exec.ExecutionID, "error", err)
		}
		cancel()
	}

	s.mu.Lock()
	delete(s.active, exec.ExecutionID)
	s.recent[exec.ExecutionID] = exec
	s.order = append(s.order, exec.ExecutionID)
	for len(s.order) > maxRecent {
		delete(s.recent, s.order[0])
		s.order = s.order[1:]
	}
	s.mu.Unlock()
}

// Get returns an execution record. In-flight executions yield a thin
// running snapshot; sealed ones the full record, falling back to the
// archive when the in-memory window has rolled past it.
func (s *ExecutionService) Get(ctx context.Context, executionID string) (*model.Execution, error) {
	s.mu.RLock()
	if running, ok := s.active[executionID]; ok {
		s.mu.RUnlock()
		return &model.Execution{
			ExecutionID: executionID,
			WorkflowID:  running.workflowID,
			Status:      model.ExecutionRunning,
			StartedAt:   running.startedAt,
		}, nil
	}
	if exec, ok := s.recent[executionID]; ok {
		s.mu.RUnlock()
		return exec, nil
	}
	s.mu.RUnlock()

	if s.archive != nil {
		exec, err := s.archive.GetByID(ctx, executionID)
		if err == nil {
			return exec, nil
		}
	}
	return nil, ErrExecutionNotFound
}

// Cancel requests cancellation of a running execution. Returns false
// when the execution is not in flight.
func (s *ExecutionService) Cancel(executionID string) bool {
	s.mu.RLock()
	running, ok := s.active[executionID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	s.log.Info("cancellation requested", "execution_id", executionID)
	running.cancel()
	return true
}

// CancelAll cancels every in-flight execution; used on shutdown. The
// engine drains in-flight nodes before sealing, so callers should
// allow a grace period afterwards.
func (s *ExecutionService) CancelAll() int {
	s.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(s.active))
	for _, running := range s.active {
		cancels = append(cancels, running.cancel)
	}
	s.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// ActiveCount returns the number of executions in flight
func (s *ExecutionService) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Subscribe attaches to an execution's live event stream
func (s *ExecutionService) Subscribe(executionID string) *streambus.Subscription {
	return s.engine.Bus().Subscribe(executionID)
}

// Costs returns the ledger entries for an execution. Requires the
// Postgres ledger; without it the answer is empty.
func (s *ExecutionService) Costs(ctx context.Context, executionID string) ([]*model.CostRecord, error) {
	if s.ledger == nil {
		return nil, nil
	}
	return s.ledger.ListByExecution(ctx, executionID)
}

// envSecrets resolves node secrets from NODEAI_SECRET_* environment
// variables, e.g. api_key -> NODEAI_SECRET_API_KEY.
func envSecrets(key string) (string, bool) {
	name := "NODEAI_SECRET_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	value := os.Getenv(name)
	return value, value != ""
}

var _ registry.SecretsLookup = envSecrets
