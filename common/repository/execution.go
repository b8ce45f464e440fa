package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nodeai/nodeai/common/db"
	"github.com/nodeai/nodeai/engine/model"
)

// ExecutionRepository archives sealed executions. The full execution
// document (results, errors, query trace) is stored as JSONB alongside
// indexed columns for listing.
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Archive stores a terminal execution
func (r *ExecutionRepository) Archive(ctx context.Context, exec *model.Execution) error {
	document, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	query := `
		INSERT INTO execution (execution_id, workflow_id, status, total_cost, started_at, completed_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id) DO UPDATE
		SET status = EXCLUDED.status, total_cost = EXCLUDED.total_cost,
		    completed_at = EXCLUDED.completed_at, document = EXCLUDED.document
	`

	_, err = r.db.Exec(
		ctx,
		query,
		exec.ExecutionID,
		exec.WorkflowID,
		exec.Status,
		exec.TotalCost,
		exec.StartedAt.Time,
		exec.CompletedAt.Time,
		document,
	)

	if err != nil {
		return fmt.Errorf("failed to archive execution: %w", err)
	}

	return nil
}

// GetByID retrieves an archived execution by its ID
func (r *ExecutionRepository) GetByID(ctx context.Context, executionID string) (*model.Execution, error) {
	query := `
		SELECT document
		FROM execution
		WHERE execution_id = $1
	`

	var document []byte
	err := r.db.QueryRow(ctx, query, executionID).Scan(&document)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	exec := &model.Execution{}
	if err := json.Unmarshal(document, exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return exec, nil
}

// ListByWorkflow retrieves recent executions for a workflow,
// newest first
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.Execution, error) {
	query := `
		SELECT document
		FROM execution
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		exec := &model.Execution{}
		if err := json.Unmarshal(document, exec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}
