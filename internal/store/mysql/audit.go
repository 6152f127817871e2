package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stewardlabs/governd/internal/audit"
)

// defaultAuditLimit bounds unfiltered audit queries.
const defaultAuditLimit = 100

// AuditStore implements audit.Store on MySQL. Writes are append-only;
// no update or delete path exists.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates the store over an open pool.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

const insertAuditSQL = `INSERT INTO audit_entries
    (id, ts, user_id, tenant_id, session_id, action, entity_type, entity_ids, granted, denial_reason, source)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Append writes one entry. The caller (audit.Log) has already assigned
// id and timestamp.
func (s *AuditStore) Append(ctx context.Context, entry audit.Entry) error {
	entityIDs := ""
	if len(entry.EntityIDs) > 0 {
		raw, err := json.Marshal(entry.EntityIDs)
		if err != nil {
			return fmt.Errorf("encode audit entity ids: %w", err)
		}
		entityIDs = string(raw)
	}

	_, err := s.db.ExecContext(ctx, insertAuditSQL,
		entry.ID, entry.Timestamp.UnixMicro(), entry.UserID, entry.TenantID, entry.SessionID,
		entry.Action, entry.EntityType, entityIDs, entry.Granted, entry.DenialReason, entry.Source)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

const selectAuditSQL = `SELECT id, ts, user_id, tenant_id, session_id, action, entity_type, entity_ids, granted, denial_reason, source
    FROM audit_entries`

// Query returns matching entries newest first.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var conds []string
	var args []any
	if filter.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}

	query := selectAuditSQL
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var entry audit.Entry
		var ts int64
		var entityIDs string
		if err := rows.Scan(&entry.ID, &ts, &entry.UserID, &entry.TenantID, &entry.SessionID,
			&entry.Action, &entry.EntityType, &entityIDs, &entry.Granted, &entry.DenialReason, &entry.Source); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if entityIDs != "" {
			if err := json.Unmarshal([]byte(entityIDs), &entry.EntityIDs); err != nil {
				return nil, fmt.Errorf("decode audit entity ids: %w", err)
			}
		}
		entry.Timestamp = time.UnixMicro(ts).UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// Ping checks the pool.
func (s *AuditStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
