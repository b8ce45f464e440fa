// Package cost extracts provider cost metadata from node outputs and
// maintains per-execution totals. Records flow to a durable ledger
// through the Sink seam; a misbehaving sink is logged and never fails
// the execution.
package cost

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/nodeai/nodeai/engine/model"
)

// MetaKey is the well-known output key carrying provider metadata
const MetaKey = "_meta"

// Meta is the cost metadata a handler may attach under MetaKey
type Meta struct {
	Cost     decimal.Decimal
	Tokens   model.TokenUsage
	Provider string
	Model    string
}

// ExtractMeta pulls cost, tokens, provider, and model out of an
// output's _meta sub-mapping. Outputs without usable metadata yield a
// zero Meta. Negative values are clamped to zero.
func ExtractMeta(output map[string]interface{}) Meta {
	meta := Meta{Cost: decimal.Zero}
	if output == nil {
		return meta
	}
	raw, ok := output[MetaKey].(map[string]interface{})
	if !ok {
		return meta
	}

	if c, ok := raw["cost"]; ok {
		meta.Cost = toDecimal(c)
		if meta.Cost.IsNegative() {
			meta.Cost = decimal.Zero
		}
	}
	if t, ok := raw["tokens"].(map[string]interface{}); ok {
		meta.Tokens.Input = toInt64(t["input"])
		meta.Tokens.Output = toInt64(t["output"])
		meta.Tokens.Total = toInt64(t["total"])
		if meta.Tokens.Total == 0 {
			meta.Tokens.Total = meta.Tokens.Input + meta.Tokens.Output
		}
	}
	if p, ok := raw["provider"].(string); ok {
		meta.Provider = p
	}
	if m, ok := raw["model"].(string); ok {
		meta.Model = m
	}
	return meta
}

func toDecimal(v interface{}) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero
		}
		return d
	case decimal.Decimal:
		return n
	default:
		return decimal.Zero
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0
		}
		return int64(n)
	case int:
		if n < 0 {
			return 0
		}
		return int64(n)
	case int64:
		if n < 0 {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Sink receives durable cost records. Append-only; the engine never
// reads them back. Implementations must tolerate concurrent writes
// from different executions.
type Sink interface {
	Record(ctx context.Context, record model.CostRecord) error
}

// NoopSink discards cost records
type NoopSink struct{}

// Record implements Sink
func (NoopSink) Record(context.Context, model.CostRecord) error { return nil }

// MemorySink captures cost records in memory for tests
type MemorySink struct {
	mu      sync.Mutex
	records []model.CostRecord
}

// NewMemorySink creates an empty in-memory cost sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record implements Sink
func (s *MemorySink) Record(_ context.Context, record model.CostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of the captured records
func (s *MemorySink) Records() []model.CostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CostRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Logger is the logging surface the tracker needs
type Logger interface {
	Warn(msg string, args ...any)
}

// Tracker accumulates cost totals for one execution and forwards
// ledger records for completed nodes with non-zero cost.
type Tracker struct {
	executionID string
	workflowID  string
	sink        Sink
	log         Logger

	mu     sync.Mutex
	total  decimal.Decimal
	tokens model.TokenUsage
}

// NewTracker creates a tracker for one execution. A nil sink records
// nothing durable but totals still accumulate.
func NewTracker(executionID, workflowID string, sink Sink, log Logger) *Tracker {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Tracker{
		executionID: executionID,
		workflowID:  workflowID,
		sink:        sink,
		log:         log,
		total:       decimal.Zero,
	}
}

// Observe folds a terminal node result into the execution totals.
// Only completed results count toward totals; ledger records are
// written only for completed results with non-zero cost.
func (t *Tracker) Observe(ctx context.Context, nodeID, nodeType string, result *model.NodeResult) {
	if result == nil || result.Status != model.NodeCompleted {
		return
	}

	t.mu.Lock()
	t.total = t.total.Add(result.Cost)
	t.tokens = t.tokens.Add(result.Tokens)
	t.mu.Unlock()

	if result.Cost.IsZero() && result.Tokens.Total == 0 {
		return
	}

	meta := ExtractMeta(result.Output)
	record := model.CostRecord{
		ExecutionID: t.executionID,
		WorkflowID:  t.workflowID,
		NodeID:      nodeID,
		NodeType:    nodeType,
		Cost:        result.Cost,
		Tokens:      result.Tokens,
		Provider:    meta.Provider,
		Model:       meta.Model,
		Timestamp:   model.Now(),
	}
	if err := t.sink.Record(ctx, record); err != nil && t.log != nil {
		t.log.Warn("failed to record cost",
			"execution_id", t.executionID,
			"node_id", nodeID,
			"error", err)
	}
}

// Totals returns the accumulated cost and token usage
func (t *Tracker) Totals() (decimal.Decimal, model.TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.tokens
}
