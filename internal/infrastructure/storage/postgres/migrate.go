package postgres

import (
	"context"
	"fmt"

	"cantus/internal/domain/schema"
)

// Migrate creates the engine's tables if they do not exist. Record tables
// are derived from the compiled-in schema, one per collection.
func Migrate(ctx context.Context, pool *Pool, sch *schema.Schema) error {
	for _, collection := range sch.Collections() {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS rec_%s (
				id         UUID PRIMARY KEY,
				fields     JSONB NOT NULL DEFAULT '{}'::jsonb,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, collection)
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create rec_%s: %w", collection, err)
		}
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS sys_snapshots (
			id                 UUID PRIMARY KEY,
			operation_id       UUID NOT NULL,
			target_type        TEXT NOT NULL,
			target_id          UUID NOT NULL,
			records            JSONB,
			records_compressed BYTEA,
			compression_algo   TEXT NOT NULL DEFAULT 'none',
			record_count       INT NOT NULL DEFAULT 0,
			taken_at           TIMESTAMPTZ NOT NULL,
			consumed_at        TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_operation ON sys_snapshots (operation_id)`,

		`CREATE TABLE IF NOT EXISTS sys_audit_log (
			id          UUID PRIMARY KEY,
			created_at  TIMESTAMPTZ NOT NULL,
			operation   TEXT NOT NULL,
			actor_id    TEXT NOT NULL DEFAULT '',
			actor_role  TEXT NOT NULL DEFAULT '',
			success     BOOLEAN NOT NULL,
			duration_ms BIGINT,
			error       TEXT,
			metadata    JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON sys_audit_log (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON sys_audit_log (actor_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS sys_alert_outbox (
			id             UUID PRIMARY KEY,
			violation_type TEXT NOT NULL,
			severity       TEXT NOT NULL,
			actor_id       TEXT NOT NULL DEFAULT '',
			origin         TEXT NOT NULL DEFAULT '',
			operation      TEXT NOT NULL DEFAULT '',
			payload        JSONB,
			status         TEXT NOT NULL DEFAULT 'pending',
			retry_count    INT NOT NULL DEFAULT 0,
			last_error     TEXT,
			next_retry_at  TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL,
			delivered_at   TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_outbox_pending ON sys_alert_outbox (status, created_at)`,
	}
	for _, ddl := range statements {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
