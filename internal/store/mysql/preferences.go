package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stewardlabs/governd/internal/memory"
)

// PreferenceStore implements memory.PreferenceStore on MySQL.
type PreferenceStore struct {
	db *sql.DB
}

// NewPreferenceStore creates the store over an open pool.
func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

const selectPreferencesSQL = `SELECT locale, verbosity, show_quick_actions
    FROM preferences WHERE tenant_id = ? AND user_id = ?`

// Get returns the stored preferences, or (nil, nil) when the user has
// none.
func (s *PreferenceStore) Get(ctx context.Context, userID, tenantID string) (*memory.Preferences, error) {
	row := s.db.QueryRowContext(ctx, selectPreferencesSQL, tenantID, userID)

	var prefs memory.Preferences
	var show int
	if err := row.Scan(&prefs.Locale, &prefs.Verbosity, &show); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	prefs.ShowQuickActions = show != 0
	return &prefs, nil
}

const upsertPreferencesSQL = `INSERT INTO preferences
    (tenant_id, user_id, locale, verbosity, show_quick_actions, updated_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE locale = VALUES(locale), verbosity = VALUES(verbosity),
    show_quick_actions = VALUES(show_quick_actions), updated_at = VALUES(updated_at)`

// Update stores the full preference set for the user.
func (s *PreferenceStore) Update(ctx context.Context, userID, tenantID string, prefs memory.Preferences) error {
	show := 0
	if prefs.ShowQuickActions {
		show = 1
	}
	_, err := s.db.ExecContext(ctx, upsertPreferencesSQL,
		tenantID, userID, prefs.Locale, prefs.Verbosity, show, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

// Ping checks the pool, serving as the tier's recovery probe.
func (s *PreferenceStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
