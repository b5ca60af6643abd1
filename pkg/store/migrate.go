package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migration is one forward/backward schema step. Up and Down must both be
// idempotent: guarded by table/column/index existence checks, never a bare
// CREATE/ALTER that fails on a second run.
type Migration struct {
	ID   string
	Up   func(ctx context.Context, tx *sqlx.Tx) error
	Down func(ctx context.Context, tx *sqlx.Tx) error
}

// tableExists reports whether table is present in the public schema.
func tableExists(ctx context.Context, tx *sqlx.Tx, table string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table)
	return exists, err
}

// columnExists reports whether table.column is present.
func columnExists(ctx context.Context, tx *sqlx.Tx, table, column string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
		)`, table, column)
	return exists, err
}

// indexExists reports whether an index with the given name is present.
func indexExists(ctx context.Context, tx *sqlx.Tx, index string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = 'public' AND indexname = $1
		)`, index)
	return exists, err
}

// createTableIfMissing runs ddl only if table does not already exist.
func createTableIfMissing(ctx context.Context, tx *sqlx.Tx, table, ddl string) error {
	exists, err := tableExists(ctx, tx, table)
	if err != nil {
		return fmt.Errorf("store: check table %s: %w", table, err)
	}
	if exists {
		return nil
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: create table %s: %w", table, err)
	}
	return nil
}

// addColumnIfMissing runs ddl only if table.column does not already exist.
func addColumnIfMissing(ctx context.Context, tx *sqlx.Tx, table, column, ddl string) error {
	exists, err := columnExists(ctx, tx, table, column)
	if err != nil {
		return fmt.Errorf("store: check column %s.%s: %w", table, column, err)
	}
	if exists {
		return nil
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: add column %s.%s: %w", table, column, err)
	}
	return nil
}

// createIndexIfMissing runs ddl only if the named index does not exist.
func createIndexIfMissing(ctx context.Context, tx *sqlx.Tx, index, ddl string) error {
	exists, err := indexExists(ctx, tx, index)
	if err != nil {
		return fmt.Errorf("store: check index %s: %w", index, err)
	}
	if exists {
		return nil
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: create index %s: %w", index, err)
	}
	return nil
}

// Migrations is the ordered list of schema steps. Schema evolution never
// renames a column in place: a rename is a later migration that adds the
// new column, backfills it, and drops the old one.
var Migrations = []Migration{
	{
		ID: "0001_core_schema",
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			steps := []struct{ table, ddl string }{
				{"projects", `CREATE TABLE projects (
					id BIGSERIAL PRIMARY KEY,
					slug TEXT NOT NULL UNIQUE,
					human_key TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now()
				)`},
				{"agents", `CREATE TABLE agents (
					id BIGSERIAL PRIMARY KEY,
					project_id BIGINT NOT NULL REFERENCES projects(id),
					name TEXT NOT NULL,
					program TEXT NOT NULL DEFAULT '',
					model TEXT NOT NULL DEFAULT '',
					skills JSONB NOT NULL DEFAULT '[]',
					contact_policy TEXT NOT NULL DEFAULT 'auto',
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					UNIQUE (project_id, name)
				)`},
				{"missions", `CREATE TABLE missions (
					id UUID PRIMARY KEY,
					project_id BIGINT NOT NULL REFERENCES projects(id),
					title TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					run_mode TEXT NOT NULL DEFAULT 'sequential',
					context JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
				)`},
				{"task_groups", `CREATE TABLE task_groups (
					id UUID PRIMARY KEY,
					mission_id UUID NOT NULL REFERENCES missions(id),
					title TEXT NOT NULL,
					kind TEXT NOT NULL DEFAULT 'sequential',
					order_index INT NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'pending',
					created_at TIMESTAMPTZ NOT NULL DEFAULT now()
				)`},
				{"tasks", `CREATE TABLE tasks (
					id UUID PRIMARY KEY,
					group_id UUID NOT NULL REFERENCES task_groups(id),
					mission_id UUID REFERENCES missions(id),
					agent_id BIGINT REFERENCES agents(id),
					title TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					order_index INT NOT NULL DEFAULT 0,
					input JSONB NOT NULL DEFAULT '{}',
					output JSONB NOT NULL DEFAULT '{}',
					error TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
				)`},
				{"artifacts", `CREATE TABLE artifacts (
					id UUID PRIMARY KEY,
					mission_id UUID NOT NULL REFERENCES missions(id),
					task_id UUID REFERENCES tasks(id),
					type TEXT NOT NULL,
					scope TEXT NOT NULL DEFAULT 'mission',
					path TEXT NOT NULL,
					version TEXT NOT NULL DEFAULT 'v1',
					sha256 CHAR(64) NOT NULL,
					content_meta JSONB NOT NULL DEFAULT '{}',
					tags JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMPTZ NOT NULL DEFAULT now()
				)`},
				{"knowledge", `CREATE TABLE knowledge (
					id UUID PRIMARY KEY,
					source_artifact_id UUID NOT NULL REFERENCES artifacts(id),
					version TEXT NOT NULL DEFAULT 'v1',
					scope TEXT NOT NULL DEFAULT 'mission',
					summary TEXT,
					tags JSONB NOT NULL DEFAULT '[]',
					reusable BOOLEAN NOT NULL DEFAULT true,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now()
				)`},
				{"workflow_runs", `CREATE TABLE workflow_runs (
					run_id UUID PRIMARY KEY,
					mission_id UUID NOT NULL REFERENCES missions(id),
					mode TEXT NOT NULL DEFAULT 'sequential',
					status TEXT NOT NULL DEFAULT 'running',
					started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					ended_at TIMESTAMPTZ,
					trace_uri TEXT NOT NULL DEFAULT ''
				)`},
				{"signals", `CREATE TABLE signals (
					id BIGSERIAL PRIMARY KEY,
					project_id BIGINT NOT NULL REFERENCES projects(id),
					mission_id UUID REFERENCES missions(id),
					type TEXT NOT NULL,
					severity TEXT NOT NULL DEFAULT 'info',
					status TEXT NOT NULL DEFAULT 'pending',
					message TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT now()
				)`},
			}
			for _, s := range steps {
				if err := createTableIfMissing(ctx, tx, s.table, s.ddl); err != nil {
					return err
				}
			}
			return createIndexIfMissing(ctx, tx, "idx_tasks_group_order",
				`CREATE INDEX idx_tasks_group_order ON tasks (group_id, order_index)`)
		},
		Down: func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS
				signals, workflow_runs, knowledge, artifacts, tasks, task_groups, missions, agents, projects CASCADE`)
			return err
		},
	},
	{
		ID: "0002_task_group_order_index",
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			return createIndexIfMissing(ctx, tx, "idx_task_groups_mission_order",
				`CREATE INDEX idx_task_groups_mission_order ON task_groups (mission_id, order_index)`)
		},
		Down: func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS idx_task_groups_mission_order`)
			return err
		},
	},
	{
		// DD-001: signals gained an acknowledged_note column after launch.
		// Added with an existence-checked ALTER, so re-running it is a
		// no-op; no existing column is renamed.
		ID: "0003_signals_acknowledged_note",
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			return addColumnIfMissing(ctx, tx, "signals", "acknowledged_note",
				`ALTER TABLE signals ADD COLUMN acknowledged_note TEXT`)
		},
		Down: func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `ALTER TABLE signals DROP COLUMN IF EXISTS acknowledged_note`)
			return err
		},
	},
}

// Migrate applies every migration in order inside its own transaction.
// Running it twice is a no-op: every step is guarded by an existence check.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range Migrations {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin migration %s: %w", m.ID, err)
		}
		if err := m.Up(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: migration %s: %w", m.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %s: %w", m.ID, err)
		}
	}
	return nil
}

// Downgrade reverses every migration in opposite order.
func Downgrade(ctx context.Context, db *sqlx.DB) error {
	for i := len(Migrations) - 1; i >= 0; i-- {
		m := Migrations[i]
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin downgrade %s: %w", m.ID, err)
		}
		if err := m.Down(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: downgrade %s: %w", m.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit downgrade %s: %w", m.ID, err)
		}
	}
	return nil
}
