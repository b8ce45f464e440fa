package repository

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nodeai/nodeai/common/db"
	"github.com/nodeai/nodeai/engine/model"
)

// CostRepository handles database operations for the cost ledger. It
// implements cost.Sink so it can be handed to the engine directly.
type CostRepository struct {
	db *db.DB
}

// NewCostRepository creates a new cost repository
func NewCostRepository(database *db.DB) *CostRepository {
	return &CostRepository{db: database}
}

// Record inserts one cost ledger entry
func (r *CostRepository) Record(ctx context.Context, record model.CostRecord) error {
	query := `
		INSERT INTO cost_record (execution_id, workflow_id, node_id, node_type, cost, input_tokens, output_tokens, total_tokens, provider, model, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		record.ExecutionID,
		record.WorkflowID,
		record.NodeID,
		record.NodeType,
		record.Cost,
		record.Tokens.Input,
		record.Tokens.Output,
		record.Tokens.Total,
		record.Provider,
		record.Model,
		record.Timestamp.Time,
	)

	if err != nil {
		return fmt.Errorf("failed to record cost: %w", err)
	}

	return nil
}

// ListByExecution retrieves all cost entries for one execution,
// oldest first
func (r *CostRepository) ListByExecution(ctx context.Context, executionID string) ([]*model.CostRecord, error) {
	query := `
		SELECT execution_id, workflow_id, node_id, node_type, cost, input_tokens, output_tokens, total_tokens, provider, model, recorded_at
		FROM cost_record
		WHERE execution_id = $1
		ORDER BY recorded_at ASC
	`

	rows, err := r.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost records: %w", err)
	}
	defer rows.Close()

	var records []*model.CostRecord
	for rows.Next() {
		record := &model.CostRecord{}
		err := rows.Scan(
			&record.ExecutionID,
			&record.WorkflowID,
			&record.NodeID,
			&record.NodeType,
			&record.Cost,
			&record.Tokens.Input,
			&record.Tokens.Output,
			&record.Tokens.Total,
			&record.Provider,
			&record.Model,
			&record.Timestamp.Time,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cost records: %w", err)
	}

	return records, nil
}

// TotalByWorkflow sums all recorded cost for a workflow across
// executions
func (r *CostRepository) TotalByWorkflow(ctx context.Context, workflowID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM cost_record
		WHERE workflow_id = $1
	`

	var total decimal.Decimal
	err := r.db.QueryRow(ctx, query, workflowID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to total workflow cost: %w", err)
	}

	return total, nil
}
