// Package redis adapts the session memory tier to a Redis backend.
// Session contexts are stored whole as JSON under a prefixed key with a
// rolling TTL, matching the tier's last-write-wins contract.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stewardlabs/governd/internal/memory"
)

// Config holds the Redis connection and keying settings.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password authenticates the connection. Optional.
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces session keys. Default: "governd:session:".
	KeyPrefix string

	// TTL is the rolling expiry applied on every write. Default: 24h.
	TTL time.Duration

	// DialTimeout bounds connection establishment. Default: 5s.
	DialTimeout time.Duration
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "governd:session:"
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// SessionStore implements memory.SessionStore on Redis.
type SessionStore struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*SessionStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	cfg.ApplyDefaults()

	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &SessionStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (s *SessionStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Get loads a session context. Unknown ids return (nil, nil).
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*memory.SessionContext, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var session memory.SessionContext
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Set stores the whole session context and resets its TTL.
func (s *SessionStore) Set(ctx context.Context, session *memory.SessionContext) error {
	if session == nil || session.SessionID == "" {
		return errors.New("session id is required")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.SessionID, err)
	}
	if err := s.client.Set(ctx, s.key(session.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Clear removes a session. Unknown ids are a no-op.
func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis clear session: %w", err)
	}
	return nil
}

// Ping checks the connection, serving as the tier's recovery probe.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (s *SessionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
