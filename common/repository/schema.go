package repository

import (
	"context"
	"fmt"

	"github.com/nodeai/nodeai/common/db"
)

// Migrate creates the tables the repositories depend on. Safe to run
// on every startup.
func Migrate(ctx context.Context, database *db.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS execution (
			execution_id TEXT PRIMARY KEY,
			workflow_id  TEXT NOT NULL,
			status       TEXT NOT NULL,
			total_cost   NUMERIC(20,8) NOT NULL DEFAULT 0,
			started_at   TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			document     JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS execution_workflow_idx
			ON execution (workflow_id, started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS cost_record (
			id            BIGSERIAL PRIMARY KEY,
			execution_id  TEXT NOT NULL,
			workflow_id   TEXT NOT NULL,
			node_id       TEXT NOT NULL,
			node_type     TEXT NOT NULL,
			cost          NUMERIC(20,8) NOT NULL DEFAULT 0,
			input_tokens  BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens  BIGINT NOT NULL DEFAULT 0,
			provider      TEXT,
			model         TEXT,
			recorded_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS cost_record_execution_idx
			ON cost_record (execution_id, recorded_at)`,
	}

	for _, stmt := range statements {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
