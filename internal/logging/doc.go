// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - dual output (stdout + OpenTelemetry log bridge)
//   - automatic context field injection (trace_id, tenant, user, session, request)
//   - secret redaction at the encoder
//   - sampling below the error level (errors never sampled)
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithTenantID(ctx, "acme")
//	ctx = logging.WithSessionID(ctx, "sess_123")
//	logger.Info(ctx, "turn processed", zap.Duration("duration", d))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-08-25T10:15:30Z",
//	  "level": "info",
//	  "msg": "turn processed",
//	  "tenant.id": "acme",
//	  "session.id": "sess_123",
//	  "duration": "45ms"
//	}
//
// Configuration precedence is defaults, then file, then GOVERND_LOGGING_*
// environment variables.
//
// Use TestLogger in tests:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
package logging
