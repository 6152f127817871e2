// Package memory is the resilient facade over the three conversation
// memory tiers: session context, user preferences, and episodic history.
// Each tier sits behind retry with a hot-path policy and degrades
// independently. Session reads fall back to an in-process cache,
// preference reads fall back to fixed defaults, and the episodic tier
// fails open. A backend outage never blocks the conversation.
package memory

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/degrade"
	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/logging"
	"github.com/stewardlabs/governd/internal/retry"
)

// Service names the facade registers with the degradation monitor.
const (
	ServiceSession    = "memory.session"
	ServicePreference = "memory.preference"
	ServiceEpisodic   = "memory.episodic"
)

// Config holds facade settings.
type Config struct {
	// Retry is the per-tier-call retry policy. Memory calls sit on the
	// hot path of every turn, so the default is tighter than a general
	// network policy.
	Retry retry.Config

	// CacheTTL bounds how long a fallback session cache entry stays
	// servable. Default: 30 minutes.
	CacheTTL time.Duration

	// CacheMaxEntries caps the fallback session cache. Default: 1024.
	CacheMaxEntries int

	// Notify observes availability transitions for all three tiers.
	// Optional.
	Notify func(status degrade.ServiceStatus)
}

// DefaultConfig returns the facade defaults.
func DefaultConfig() Config {
	return Config{
		Retry: retry.Config{
			MaxAttempts: 2,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
			Multiplier:  2,
			Jitter:      true,
			Classify:    classifyBackendError,
		},
		CacheTTL:        30 * time.Minute,
		CacheMaxEntries: 1024,
	}
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = def.Retry
	}
	if c.Retry.Classify == nil {
		c.Retry.Classify = classifyBackendError
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = def.CacheMaxEntries
	}
}

// classifyBackendError treats backend failures as transient unless the
// error carries its own verdict. Cancellation is never retried.
func classifyBackendError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if e, ok := fault.From(err); ok {
		return e.Retryable()
	}
	return true
}

// Backends are the three tier stores. Nil fields default to the
// in-process implementations.
type Backends struct {
	Sessions    SessionStore
	Preferences PreferenceStore
	Episodes    EpisodeStore
}

// Facade fronts the memory tiers with retry, fallback, and degradation
// tracking.
type Facade struct {
	sessions    SessionStore
	preferences PreferenceStore
	episodes    EpisodeStore

	cache   *sessionCache
	retrier *retry.Engine
	monitor *degrade.Monitor
	logger  *logging.Logger
	now     func() time.Time
	newID   func() string
}

// New creates the facade and registers the three tiers with the monitor,
// session first in probe order.
func New(cfg Config, backends Backends, monitor *degrade.Monitor, logger *logging.Logger) *Facade {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	if monitor == nil {
		monitor = degrade.NewMonitor(logger)
	}
	if backends.Sessions == nil {
		backends.Sessions = NewMemorySessionStore()
	}
	if backends.Preferences == nil {
		backends.Preferences = NewMemoryPreferenceStore()
	}
	if backends.Episodes == nil {
		backends.Episodes = NewMemoryEpisodeStore()
	}

	f := &Facade{
		sessions:    backends.Sessions,
		preferences: backends.Preferences,
		episodes:    backends.Episodes,
		cache:       newSessionCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		retrier:     retry.New(cfg.Retry, logger),
		monitor:     monitor,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}

	monitor.Register(ServiceSession, degrade.Strategy{
		Probe:    backends.Sessions.Ping,
		Notify:   cfg.Notify,
		Priority: 1,
	})
	monitor.Register(ServicePreference, degrade.Strategy{
		Probe:    backends.Preferences.Ping,
		Notify:   cfg.Notify,
		Priority: 2,
	})
	monitor.Register(ServiceEpisodic, degrade.Strategy{
		Probe:    backends.Episodes.Ping,
		Notify:   cfg.Notify,
		Priority: 3,
	})
	return f
}

// Monitor exposes the degradation monitor the facade reports into.
func (f *Facade) Monitor() *degrade.Monitor {
	return f.monitor
}

// GetSession loads a session context. Unknown ids return (nil, nil).
// While the session tier is down the last cached copy is served; a
// session never seen by this process resolves to (nil, nil) so the
// caller starts a fresh context.
func (f *Facade) GetSession(ctx context.Context, sessionID string) (*SessionContext, error) {
	if sessionID == "" {
		return nil, fault.New(fault.CodeValidation, "session id is required")
	}
	return degrade.ExecuteWithFallback(ctx, f.monitor, ServiceSession,
		func(ctx context.Context) (*SessionContext, error) {
			session, err := retry.DoValue(ctx, f.retrier, "memory.session.get", func(ctx context.Context) (*SessionContext, error) {
				return f.sessions.Get(ctx, sessionID)
			})
			if err != nil {
				return nil, fault.Wrap(fault.CodeMemoryService, err, "session read failed")
			}
			if session != nil {
				f.cache.set(session)
			}
			return session, nil
		},
		func(ctx context.Context) (*SessionContext, error) {
			if cached, ok := f.cache.get(sessionID); ok {
				f.logger.Debug(ctx, "serving session from fallback cache",
					zap.String("session_id", sessionID))
				return cached, nil
			}
			return nil, nil
		})
}

// UpdateSession persists the whole session context, last write wins. The
// fallback cache is warmed on success so a later outage can still serve
// this session; while the tier is down the write lands in the cache only
// and the caller proceeds.
func (f *Facade) UpdateSession(ctx context.Context, session *SessionContext) error {
	if session == nil || session.SessionID == "" {
		return fault.New(fault.CodeValidation, "session id is required")
	}
	_, err := degrade.ExecuteWithFallback(ctx, f.monitor, ServiceSession,
		func(ctx context.Context) (struct{}, error) {
			err := f.retrier.Do(ctx, "memory.session.set", func(ctx context.Context) error {
				return f.sessions.Set(ctx, session)
			})
			if err != nil {
				return struct{}{}, fault.Wrap(fault.CodeMemoryService, err, "session write failed")
			}
			f.cache.set(session)
			return struct{}{}, nil
		},
		func(ctx context.Context) (struct{}, error) {
			f.cache.set(session)
			f.logger.Warn(ctx, "session write held in fallback cache only",
				zap.String("session_id", session.SessionID))
			return struct{}{}, nil
		})
	return err
}

// ClearSession removes a session from the primary tier and the fallback
// cache. A primary failure degrades the tier; the cached copy is dropped
// either way and the next write overwrites any stale remnant.
func (f *Facade) ClearSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fault.New(fault.CodeValidation, "session id is required")
	}
	f.cache.delete(sessionID)
	_, err := degrade.ExecuteWithFallback(ctx, f.monitor, ServiceSession,
		func(ctx context.Context) (struct{}, error) {
			err := f.retrier.Do(ctx, "memory.session.clear", func(ctx context.Context) error {
				return f.sessions.Clear(ctx, sessionID)
			})
			if err != nil {
				return struct{}{}, fault.Wrap(fault.CodeMemoryService, err, "session clear failed")
			}
			return struct{}{}, nil
		},
		func(ctx context.Context) (struct{}, error) {
			f.logger.Warn(ctx, "session clear deferred, backend unavailable",
				zap.String("session_id", sessionID))
			return struct{}{}, nil
		})
	return err
}

// GetPreferences loads the user's preferences. Absent preferences and an
// unreachable tier both resolve to the fixed defaults, so this never
// fails.
func (f *Facade) GetPreferences(ctx context.Context, userID, tenantID string) (Preferences, error) {
	return degrade.ExecuteWithFallback(ctx, f.monitor, ServicePreference,
		func(ctx context.Context) (Preferences, error) {
			prefs, err := retry.DoValue(ctx, f.retrier, "memory.preference.get", func(ctx context.Context) (*Preferences, error) {
				return f.preferences.Get(ctx, userID, tenantID)
			})
			if err != nil {
				return Preferences{}, fault.Wrap(fault.CodeMemoryService, err, "preference read failed")
			}
			if prefs == nil {
				return DefaultPreferences(), nil
			}
			return *prefs, nil
		},
		func(ctx context.Context) (Preferences, error) {
			return DefaultPreferences(), nil
		})
}

// UpdatePreferences merges a partial update into the stored preferences
// and returns the merged result. While the tier is down the merge is
// applied over the defaults for this response only; nothing is stored.
func (f *Facade) UpdatePreferences(ctx context.Context, userID, tenantID string, patch PreferencePatch) (Preferences, error) {
	return degrade.ExecuteWithFallback(ctx, f.monitor, ServicePreference,
		func(ctx context.Context) (Preferences, error) {
			current, err := retry.DoValue(ctx, f.retrier, "memory.preference.get", func(ctx context.Context) (*Preferences, error) {
				return f.preferences.Get(ctx, userID, tenantID)
			})
			if err != nil {
				return Preferences{}, fault.Wrap(fault.CodeMemoryService, err, "preference read failed")
			}
			base := DefaultPreferences()
			if current != nil {
				base = *current
			}
			merged := base.Apply(patch)
			err = f.retrier.Do(ctx, "memory.preference.update", func(ctx context.Context) error {
				return f.preferences.Update(ctx, userID, tenantID, merged)
			})
			if err != nil {
				return Preferences{}, fault.Wrap(fault.CodeMemoryService, err, "preference write failed")
			}
			return merged, nil
		},
		func(ctx context.Context) (Preferences, error) {
			f.logger.Warn(ctx, "preference update not stored, backend unavailable",
				zap.String("user_id", userID))
			return DefaultPreferences().Apply(patch), nil
		})
}

// RecordEpisode stores one episodic record, assigning id and timestamp
// when unset. While the tier is down a placeholder marked
// metadata.placeholder=true is returned and nothing is durably stored;
// the conversation proceeds either way.
func (f *Facade) RecordEpisode(ctx context.Context, ep Episode) (Episode, error) {
	if ep.ID == "" {
		ep.ID = f.newID()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = f.now().UTC()
	}
	return degrade.ExecuteWithFallback(ctx, f.monitor, ServiceEpisodic,
		func(ctx context.Context) (Episode, error) {
			stored, err := retry.DoValue(ctx, f.retrier, "memory.episode.append", func(ctx context.Context) (Episode, error) {
				return f.episodes.Append(ctx, ep)
			})
			if err != nil {
				return Episode{}, fault.Wrap(fault.CodeMemoryService, err, "episode write failed")
			}
			return stored, nil
		},
		func(ctx context.Context) (Episode, error) {
			placeholder := ep
			placeholder.Metadata = maps.Clone(ep.Metadata)
			if placeholder.Metadata == nil {
				placeholder.Metadata = make(map[string]string, 1)
			}
			placeholder.Metadata["placeholder"] = "true"
			f.logger.Warn(ctx, "episode not stored, backend unavailable",
				zap.String("episode_id", ep.ID),
				zap.String("kind", ep.Kind))
			return placeholder, nil
		})
}

// QueryEpisodes returns matching history newest first. While the tier is
// down it returns an empty list; absent history never blocks a turn.
func (f *Facade) QueryEpisodes(ctx context.Context, filter EpisodeFilter) ([]Episode, error) {
	return degrade.ExecuteWithFallback(ctx, f.monitor, ServiceEpisodic,
		func(ctx context.Context) ([]Episode, error) {
			eps, err := retry.DoValue(ctx, f.retrier, "memory.episode.query", func(ctx context.Context) ([]Episode, error) {
				return f.episodes.Query(ctx, filter)
			})
			if err != nil {
				return nil, fault.Wrap(fault.CodeMemoryService, err, "episode read failed")
			}
			return eps, nil
		},
		func(ctx context.Context) ([]Episode, error) {
			return []Episode{}, nil
		})
}

// Probe makes one lightweight call per memory tier and flips recovered
// tiers back to available. Other services tracked by the shared monitor
// are probed too but not reported here.
func (f *Facade) Probe(ctx context.Context) map[string]error {
	results := f.monitor.Probe(ctx)
	out := make(map[string]error, 3)
	for _, name := range []string{ServiceSession, ServicePreference, ServiceEpisodic} {
		if err, ok := results[name]; ok {
			out[name] = err
		}
	}
	return out
}
