// Package retry runs operations with exponential backoff.
//
// The delay before attempt i+1 is min(base*multiplier^(i-1), maxDelay).
// With jitter enabled the delay is stretched by a random factor in
// [1.0, 1.25). An operation is attempted at most MaxAttempts times and
// only while its failures classify as retryable.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/logging"
)

// jitterFraction is the maximum relative stretch added to a delay.
const jitterFraction = 0.25

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the total number of invocations, first try included.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	// Default: 10 seconds
	MaxDelay time.Duration

	// Multiplier is the exponential backoff factor.
	// Default: 2
	Multiplier float64

	// Jitter stretches each delay by a random factor in [1.0, 1.25).
	Jitter bool

	// Classify reports whether an error is worth another attempt.
	// Default: fault.IsRetryable
	Classify func(error) bool
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = defaults.BaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = defaults.Multiplier
	}
	if c.Classify == nil {
		c.Classify = fault.IsRetryable
	}
}

// Engine applies one retry policy to many operations.
type Engine struct {
	config Config
	logger *logging.Logger
	wait   func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// New creates an engine with the given policy.
func New(cfg Config, logger *logging.Logger) *Engine {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.Nop()
	}

	return &Engine{
		config: cfg,
		logger: logger,
		wait:   waitBackoff,
		jitter: addJitter,
	}
}

// Config returns the engine's effective policy after defaulting.
func (e *Engine) Config() Config {
	return e.config
}

// Do runs op under the engine's policy. The name labels the operation in
// logs. Returns nil on the first success; the last error once attempts
// are exhausted or a failure classifies as non-retryable.
func (e *Engine) Do(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error
	delay := e.config.BaseDelay
	startTime := time.Now()

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Info(ctx, "operation recovered after retries",
					zap.String("operation", name),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return nil
		}

		lastErr = err

		if !e.config.Classify(err) {
			e.logger.Debug(ctx, "error is not retryable",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}

		if attempt == e.config.MaxAttempts {
			break
		}

		wait := delay
		if e.config.Jitter {
			wait = e.jitter(delay)
		}

		e.logger.Info(ctx, "retrying after transient error",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.config.MaxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		if err := e.wait(ctx, wait); err != nil {
			return fmt.Errorf("operation canceled: %w", err)
		}

		delay = time.Duration(float64(delay) * e.config.Multiplier)
		if delay > e.config.MaxDelay {
			delay = e.config.MaxDelay
		}
	}

	e.logger.Warn(ctx, "operation failed after all retries exhausted",
		zap.String("operation", name),
		zap.Int("total_attempts", e.config.MaxAttempts),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
	)

	return fmt.Errorf("operation %s failed after %d attempts: %w", name, e.config.MaxAttempts, lastErr)
}

// DoValue runs op under the engine's policy and returns its value.
func DoValue[T any](ctx context.Context, e *Engine, name string, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// waitBackoff blocks for d or until ctx is done.
func waitBackoff(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// addJitter stretches d by a random factor in [1.0, 1.25).
func addJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Float64()*jitterFraction*float64(d))
}
