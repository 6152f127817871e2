// Package audit records who touched which governed entities.
//
// Entries are append-only: nothing in governd mutates or deletes a
// written entry. The gateway writes one entry per tool invocation,
// granted or denied.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/logging"
)

const instrumentationName = "github.com/stewardlabs/governd/internal/audit"

// Entry is one immutable access-audit record.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
	TenantID     string    `json:"tenant_id"`
	SessionID    string    `json:"session_id"`
	Action       string    `json:"action"`
	EntityType   string    `json:"entity_type,omitempty"`
	EntityIDs    []string  `json:"entity_ids,omitempty"`
	Granted      bool      `json:"granted"`
	DenialReason string    `json:"denial_reason,omitempty"`
	Source       string    `json:"source"`
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	TenantID string
	UserID   string
	Limit    int
}

// Store persists entries. Implementations must treat writes as
// append-only and return entries newest first.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// Log assigns identity to entries and writes them through a Store.
type Log struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
	newID  func() string

	meter        metric.Meter
	writeCounter metric.Int64Counter
}

// NewLog creates an audit log backed by store.
func NewLog(store Store, logger *logging.Logger) *Log {
	if logger == nil {
		logger = logging.Nop()
	}

	l := &Log{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		meter:  otel.Meter(instrumentationName),
	}
	l.initMetrics()
	return l
}

func (l *Log) initMetrics() {
	var err error
	l.writeCounter, err = l.meter.Int64Counter(
		"governd.audit.entries_total",
		metric.WithDescription("Access-audit entries written"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		l.logger.Warn(context.Background(), "failed to create audit counter", zap.Error(err))
	}
}

// Record fills in the entry's id and timestamp and appends it.
// The returned entry is the persisted form.
func (l *Log) Record(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = l.newID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}

	if err := l.store.Append(ctx, entry); err != nil {
		return Entry{}, err
	}

	if l.writeCounter != nil {
		l.writeCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", entry.Action),
			attribute.Bool("granted", entry.Granted),
		))
	}

	l.logger.Info(ctx, "access audit entry recorded",
		zap.String("audit_id", entry.ID),
		zap.String("action", entry.Action),
		zap.String("entity_type", entry.EntityType),
		zap.Strings("entity_ids", entry.EntityIDs),
		zap.Bool("granted", entry.Granted),
		zap.String("source", entry.Source),
	)
	return entry, nil
}

// Query returns entries matching the filter, newest first.
func (l *Log) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	return l.store.Query(ctx, filter)
}
