package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schema is the full DDL for the governd tables. Timestamps are stored
// as unix microseconds so ordering does not depend on DSN time parsing.
const schema = `
CREATE TABLE IF NOT EXISTS preferences (
    tenant_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    locale VARCHAR(16) NOT NULL,
    verbosity VARCHAR(16) NOT NULL,
    show_quick_actions TINYINT(1) NOT NULL,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (tenant_id, user_id)
);

CREATE TABLE IF NOT EXISTS episodes (
    id VARCHAR(36) NOT NULL PRIMARY KEY,
    tenant_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    session_id VARCHAR(64) NOT NULL DEFAULT '',
    kind VARCHAR(32) NOT NULL,
    content TEXT NOT NULL,
    metadata TEXT,
    created_at BIGINT NOT NULL,
    KEY idx_episodes_tenant_created (tenant_id, created_at),
    KEY idx_episodes_user_created (tenant_id, user_id, created_at)
);

CREATE TABLE IF NOT EXISTS audit_entries (
    id VARCHAR(36) NOT NULL PRIMARY KEY,
    ts BIGINT NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    tenant_id VARCHAR(64) NOT NULL,
    session_id VARCHAR(64) NOT NULL DEFAULT '',
    action VARCHAR(64) NOT NULL,
    entity_type VARCHAR(32) NOT NULL DEFAULT '',
    entity_ids TEXT,
    granted TINYINT(1) NOT NULL,
    denial_reason VARCHAR(255) NOT NULL DEFAULT '',
    source VARCHAR(64) NOT NULL DEFAULT '',
    KEY idx_audit_tenant_ts (tenant_id, ts)
);
`

// EnsureSchema applies the packaged DDL. Every statement is idempotent,
// so re-running on startup is safe.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range splitStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func splitStatements(ddl string) []string {
	raw := strings.Split(ddl, ";")
	out := make([]string, 0, len(raw))
	for _, stmt := range raw {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
