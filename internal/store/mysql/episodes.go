package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stewardlabs/governd/internal/memory"
)

// defaultEpisodeLimit bounds unfiltered episodic queries.
const defaultEpisodeLimit = 100

// EpisodeStore implements memory.EpisodeStore on MySQL.
type EpisodeStore struct {
	db *sql.DB
}

// NewEpisodeStore creates the store over an open pool.
func NewEpisodeStore(db *sql.DB) *EpisodeStore {
	return &EpisodeStore{db: db}
}

const insertEpisodeSQL = `INSERT INTO episodes
    (id, tenant_id, user_id, session_id, kind, content, metadata, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Append stores the episode, assigning an id when the caller left it
// empty, and returns the stored record.
func (s *EpisodeStore) Append(ctx context.Context, ep memory.Episode) (memory.Episode, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	metadata := ""
	if len(ep.Metadata) > 0 {
		raw, err := json.Marshal(ep.Metadata)
		if err != nil {
			return memory.Episode{}, fmt.Errorf("encode episode metadata: %w", err)
		}
		metadata = string(raw)
	}

	_, err := s.db.ExecContext(ctx, insertEpisodeSQL,
		ep.ID, ep.TenantID, ep.UserID, ep.SessionID, ep.Kind, ep.Content, metadata, ep.CreatedAt.UnixMicro())
	if err != nil {
		return memory.Episode{}, fmt.Errorf("write episode: %w", err)
	}
	return ep, nil
}

const selectEpisodesSQL = `SELECT id, tenant_id, user_id, session_id, kind, content, metadata, created_at
    FROM episodes`

// Query returns matching episodes newest first.
func (s *EpisodeStore) Query(ctx context.Context, filter memory.EpisodeFilter) ([]memory.Episode, error) {
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
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, filter.Kind)
	}

	query := selectEpisodesSQL
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEpisodeLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read episodes: %w", err)
	}
	defer rows.Close()

	var out []memory.Episode
	for rows.Next() {
		var ep memory.Episode
		var metadata string
		var createdAt int64
		if err := rows.Scan(&ep.ID, &ep.TenantID, &ep.UserID, &ep.SessionID, &ep.Kind, &ep.Content, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &ep.Metadata); err != nil {
				return nil, fmt.Errorf("decode episode metadata: %w", err)
			}
		}
		ep.CreatedAt = time.UnixMicro(createdAt).UTC()
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return out, nil
}

// Ping checks the pool, serving as the tier's recovery probe.
func (s *EpisodeStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
