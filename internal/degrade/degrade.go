// Package degrade tracks backend health and coordinates fallbacks.
//
// One Monitor owns a ServiceStatus per tracked backend. Operations run
// through ExecuteWithFallback, which serves from a fallback path while a
// backend is down and notifies observers only on availability transitions,
// never on repeated failures.
package degrade

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/logging"
)

const instrumentationName = "github.com/stewardlabs/governd/internal/degrade"

// Level is a coarse health grade, per service and in aggregate.
type Level string

const (
	LevelFull    Level = "full"
	LevelPartial Level = "partial"
	LevelMinimal Level = "minimal"
	LevelOffline Level = "offline"
)

// ServiceStatus describes the health of one tracked backend.
// Overwritten as a whole on each update.
type ServiceStatus struct {
	Name           string    `json:"name"`
	Available      bool      `json:"available"`
	Level          Level     `json:"level"`
	LastCheck      time.Time `json:"last_check"`
	LastError      string    `json:"last_error,omitempty"`
	FallbackActive bool      `json:"fallback_active"`
}

// Strategy describes how one backend is probed and observed.
type Strategy struct {
	// Probe performs one lightweight call against the backend.
	Probe func(ctx context.Context) error

	// Notify observes availability transitions. Invoked once per edge,
	// healthy to degraded and degraded to healthy.
	Notify func(status ServiceStatus)

	// Priority orders backends in health summaries and probe sweeps,
	// lowest first.
	Priority int
}

// Monitor tracks per-service health and routes operations through
// fallbacks while a backend is down.
type Monitor struct {
	logger *logging.Logger
	now    func() time.Time

	meter             metric.Meter
	transitionCounter metric.Int64Counter
	fallbackCounter   metric.Int64Counter

	mu         sync.RWMutex
	services   map[string]*ServiceStatus
	strategies map[string]Strategy
}

// NewMonitor creates a monitor with no tracked services.
func NewMonitor(logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}

	m := &Monitor{
		logger:     logger,
		now:        time.Now,
		meter:      otel.Meter(instrumentationName),
		services:   make(map[string]*ServiceStatus),
		strategies: make(map[string]Strategy),
	}
	m.initMetrics()
	return m
}

func (m *Monitor) initMetrics() {
	var err error

	m.transitionCounter, err = m.meter.Int64Counter(
		"governd.degrade.transitions_total",
		metric.WithDescription("Availability transitions per tracked service"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create transition counter", zap.Error(err))
	}

	m.fallbackCounter, err = m.meter.Int64Counter(
		"governd.degrade.fallbacks_total",
		metric.WithDescription("Operations served by a fallback path"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create fallback counter", zap.Error(err))
	}
}

// Register installs the strategy for a backend and seeds its status as
// available, so health summaries list it before first use.
func (m *Monitor) Register(name string, strategy Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.strategies[name] = strategy
	if _, ok := m.services[name]; !ok {
		m.services[name] = &ServiceStatus{
			Name:      name,
			Available: true,
			Level:     LevelFull,
			LastCheck: m.now(),
		}
	}
}

// UpdateStatus overwrites a service's availability and timestamp. The
// registered notifier fires only when the available flag flips.
func (m *Monitor) UpdateStatus(ctx context.Context, name string, available bool, cause error) ServiceStatus {
	m.mu.Lock()
	prev, existed := m.services[name]
	prevAvailable := !existed || prev.Available

	status := &ServiceStatus{
		Name:      name,
		Available: available,
		Level:     serviceLevel(available, cause),
		LastCheck: m.now(),
	}
	if cause != nil {
		status.LastError = cause.Error()
	}
	if existed && !available {
		status.FallbackActive = prev.FallbackActive
	}
	m.services[name] = status

	transition := prevAvailable != available
	var notify func(ServiceStatus)
	if transition {
		notify = m.strategies[name].Notify
	}
	snapshot := *status
	m.mu.Unlock()

	if !transition {
		return snapshot
	}

	if m.transitionCounter != nil {
		m.transitionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", name),
			attribute.Bool("available", available),
		))
	}
	if available {
		m.logger.Info(ctx, "service recovered", zap.String("service", name))
	} else {
		m.logger.Warn(ctx, "service degraded",
			zap.String("service", name),
			zap.String("error", snapshot.LastError),
		)
	}
	if notify != nil {
		notify(snapshot)
	}
	return snapshot
}

// IsAvailable reports a service's availability. Unregistered services
// default to available.
func (m *Monitor) IsAvailable(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.services[name]; ok {
		return s.Available
	}
	return true
}

// Status returns the tracked status for one service.
func (m *Monitor) Status(name string) (ServiceStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.services[name]; ok {
		return *s, true
	}
	return ServiceStatus{}, false
}

// Health summarizes aggregate health: offline when every tracked service
// is down, minimal when some are, partial when any are impaired but
// responding, full otherwise. No tracked services means full.
func (m *Monitor) Health() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.services) == 0 {
		return LevelFull
	}

	offline := 0
	degraded := 0
	for _, s := range m.services {
		if !s.Available {
			offline++
			continue
		}
		if s.Level != LevelFull || s.FallbackActive {
			degraded++
		}
	}

	switch {
	case offline == len(m.services):
		return LevelOffline
	case offline > 0:
		return LevelMinimal
	case degraded > 0:
		return LevelPartial
	default:
		return LevelFull
	}
}

// Statuses returns tracked services ordered by strategy priority, then name.
func (m *Monitor) Statuses() []ServiceStatus {
	m.mu.RLock()
	out := make([]ServiceStatus, 0, len(m.services))
	priorities := make(map[string]int, len(m.services))
	for name, s := range m.services {
		out = append(out, *s)
		priorities[name] = m.strategies[name].Priority
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if priorities[out[i].Name] != priorities[out[j].Name] {
			return priorities[out[i].Name] < priorities[out[j].Name]
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Probe makes one lightweight call per registered backend and flips
// recovered services back to available. Returns the outcome per service.
func (m *Monitor) Probe(ctx context.Context) map[string]error {
	m.mu.RLock()
	names := make([]string, 0, len(m.strategies))
	probes := make(map[string]func(context.Context) error, len(m.strategies))
	priorities := make(map[string]int, len(m.strategies))
	for name, s := range m.strategies {
		if s.Probe == nil {
			continue
		}
		names = append(names, name)
		probes[name] = s.Probe
		priorities[name] = s.Priority
	}
	m.mu.RUnlock()

	sort.Slice(names, func(i, j int) bool {
		if priorities[names[i]] != priorities[names[j]] {
			return priorities[names[i]] < priorities[names[j]]
		}
		return names[i] < names[j]
	})

	results := make(map[string]error, len(names))
	for _, name := range names {
		err := probes[name](ctx)
		results[name] = err
		m.UpdateStatus(ctx, name, err == nil, err)
	}
	return results
}

// markFallback flags that a service is being served by its fallback path.
func (m *Monitor) markFallback(ctx context.Context, name string) {
	m.mu.Lock()
	if s, ok := m.services[name]; ok {
		s.FallbackActive = true
	} else {
		m.services[name] = &ServiceStatus{
			Name:           name,
			Available:      false,
			Level:          LevelOffline,
			LastCheck:      m.now(),
			FallbackActive: true,
		}
	}
	m.mu.Unlock()

	if m.fallbackCounter != nil {
		m.fallbackCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", name),
		))
	}
}

// ExecuteWithFallback runs op against a tracked backend, serving from
// fallback while the backend is down. A primary failure marks the service
// unavailable, notifies on that one transition, and falls back; while the
// service stays down the primary path is not re-attempted.
func ExecuteWithFallback[T any](ctx context.Context, m *Monitor, name string, op, fallback func(context.Context) (T, error)) (T, error) {
	if !m.IsAvailable(name) {
		m.markFallback(ctx, name)
		return fallback(ctx)
	}

	result, err := op(ctx)
	if err == nil {
		m.UpdateStatus(ctx, name, true, nil)
		return result, nil
	}

	m.UpdateStatus(ctx, name, false, err)
	m.markFallback(ctx, name)
	return fallback(ctx)
}

func serviceLevel(available bool, cause error) Level {
	switch {
	case !available:
		return LevelOffline
	case cause != nil:
		return LevelPartial
	default:
		return LevelFull
	}
}
