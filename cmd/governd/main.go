// Governd is the conversational governance daemon.
//
// It serves the chat orchestration API over HTTP/SSE, the human approval
// workflow, and health/metrics endpoints. Session, preference, and
// episodic memory run against Redis and MySQL when configured and fall
// back to in-process stores when not.
//
// Configuration is loaded from ~/.config/governd/config.yaml and
// GOVERND_-prefixed environment variables. See internal/config for the
// full key list.
//
// Usage:
//
//	# Start with defaults (in-memory stores, scripted responder)
//	governd
//
//	# Point at infrastructure
//	GOVERND_REDIS_ENABLED=true GOVERND_MYSQL_ENABLED=true governd
//
//	# Use an explicit config file
//	governd -config /etc/governd/config.yaml
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/audit"
	"github.com/stewardlabs/governd/internal/config"
	"github.com/stewardlabs/governd/internal/degrade"
	"github.com/stewardlabs/governd/internal/gate"
	"github.com/stewardlabs/governd/internal/gateway"
	"github.com/stewardlabs/governd/internal/httpapi"
	"github.com/stewardlabs/governd/internal/logging"
	"github.com/stewardlabs/governd/internal/memory"
	"github.com/stewardlabs/governd/internal/notify"
	"github.com/stewardlabs/governd/internal/orchestrator"
	"github.com/stewardlabs/governd/internal/reasoner"
	"github.com/stewardlabs/governd/internal/retry"
	"github.com/stewardlabs/governd/internal/store/mysql"
	"github.com/stewardlabs/governd/internal/store/redis"
	"github.com/stewardlabs/governd/internal/telemetry"
	"github.com/stewardlabs/governd/internal/tools"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/governd/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  governd            Start the governd daemon\n")
			fmt.Fprintf(os.Stderr, "  governd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("governd by Steward Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Connects infrastructure (Redis, MySQL, NATS), falling back to
//     in-process stores where a backend is not configured
//  4. Wires memory facade, audit log, approval gate, tool gateway,
//     responder, and orchestrator
//  5. Starts the HTTP server and shuts it down gracefully
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting governd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("telemetry_enabled", cfg.Telemetry.Enabled))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("redis_sessions", deps.redisSessions != nil),
		zap.Bool("mysql_connected", deps.db != nil))

	svcs, err := initServices(ctx, cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	srv, err := httpapi.New(cfg.Server, httpapi.Deps{
		Orchestrator: svcs.orchestrator,
		Gate:         svcs.gate,
		Memory:       deps.facade,
		Version:      version,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	return srv.Start(ctx)
}

// dependencies holds infrastructure handles that need closing on exit.
type dependencies struct {
	natsConn      *nats.Conn
	db            *sql.DB
	redisSessions *redis.SessionStore
	monitor       *degrade.Monitor
	facade        *memory.Facade
	auditLog      *audit.Log
}

func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.redisSessions != nil {
		_ = d.redisSessions.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// services holds the wired business services.
type services struct {
	gate         *gate.Manager
	orchestrator *orchestrator.Service
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.ServiceName != "" {
		tcfg.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.Endpoint != "" {
		tcfg.Endpoint = cfg.Telemetry.Endpoint
	}
	if cfg.Telemetry.Protocol != "" {
		tcfg.Protocol = cfg.Telemetry.Protocol
	}
	tcfg.ServiceVersion = version
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.TLSSkipVerify = cfg.Telemetry.TLSSkipVerify
	return telemetry.New(ctx, tcfg)
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	if cfg.Logging.Level != "" {
		level, err := logging.LevelFromString(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		lcfg.Level = level
	}
	if cfg.Logging.Format != "" {
		lcfg.Format = cfg.Logging.Format
	}
	lcfg.Output.OTEL = tel.IsEnabled()
	return logging.NewLogger(lcfg, tel.LoggerProvider())
}

// initDependencies connects the configured backends. Redis and MySQL are
// optional; absent backends leave their memory tier on in-process stores
// and the degradation monitor reports the difference.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{}

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		deps.natsConn = nc
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	backends := memory.Backends{}

	if cfg.Redis.Enabled {
		sessions, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL.Duration(),
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
		}
		deps.redisSessions = sessions
		backends.Sessions = sessions
		logger.Info(ctx, "session store ready", zap.String("backend", "redis"), zap.String("addr", cfg.Redis.Addr))
	}

	auditStore := audit.Store(audit.NewMemoryStore())

	if cfg.MySQL.Enabled {
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN.Value(),
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime.Duration(),
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
		}
		deps.db = db
		if err := mysql.EnsureSchema(ctx, db); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to ensure MySQL schema: %w", err)
		}
		backends.Preferences = mysql.NewPreferenceStore(db)
		backends.Episodes = mysql.NewEpisodeStore(db)
		auditStore = mysql.NewAuditStore(db)
		logger.Info(ctx, "preference, episodic, and audit stores ready", zap.String("backend", "mysql"))
	}

	deps.monitor = degrade.NewMonitor(logger)
	deps.facade = memory.New(memory.Config{
		Retry: retry.Config{
			MaxAttempts: cfg.Memory.MaxAttempts,
			BaseDelay:   cfg.Memory.BaseDelay.Duration(),
			MaxDelay:    cfg.Memory.MaxDelay.Duration(),
			Multiplier:  cfg.Memory.Multiplier,
			Jitter:      cfg.Memory.Jitter,
		},
		CacheTTL:        cfg.Memory.CacheTTL.Duration(),
		CacheMaxEntries: cfg.Memory.CacheMaxEntries,
	}, backends, deps.monitor, logger)
	deps.auditLog = audit.NewLog(auditStore, logger)

	return deps, nil
}

// initServices wires the approval gate, tool gateway, responder, and
// orchestrator. Missing collaborators degrade rather than abort: without
// a tool endpoint every invocation fails as a reported tool error, and
// without a reasoner API key a scripted responder answers.
func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, logger *logging.Logger) (*services, error) {
	registry := tools.Default()

	var notifier gate.Notifier = gate.NopNotifier{}
	if deps.natsConn != nil {
		notifier = notify.NewApprovalPublisher(deps.natsConn, logger)
	}

	manager := gate.NewManager(gate.Config{
		TTL:      cfg.Gate.TTL.Duration(),
		FourEyes: cfg.Gate.EnforceFourEyes,
	}, gate.NewMemoryStore(), deps.facade, notifier, logger)

	var invoker tools.Invoker
	if cfg.Tools.Endpoint != "" {
		remote, err := tools.NewRemoteInvoker(tools.RemoteConfig{
			Endpoint: cfg.Tools.Endpoint,
			Timeout:  cfg.Tools.Timeout.Duration(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create tool invoker: %w", err)
		}
		invoker = remote
	} else {
		logger.Warn(ctx, "no tool endpoint configured; tool invocations will fail until one is set")
		invoker = tools.UnconfiguredInvoker()
	}

	gw, err := gateway.New(registry, invoker, manager, deps.auditLog, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool gateway: %w", err)
	}
	manager.SetExecutor(gw)

	var responder reasoner.Responder
	if cfg.Reasoner.APIKey.IsSet() {
		anthropic, err := reasoner.NewAnthropic(reasoner.AnthropicConfig{
			APIKey:            cfg.Reasoner.APIKey.Value(),
			Model:             cfg.Reasoner.Model,
			MaxTokens:         cfg.Reasoner.MaxTokens,
			RequestsPerSecond: cfg.Reasoner.RequestsPerSecond,
			Burst:             cfg.Reasoner.Burst,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create responder: %w", err)
		}
		responder = anthropic
	} else {
		logger.Warn(ctx, "no reasoner API key configured; using scripted responder")
		responder = reasoner.NewScripted()
	}

	orch, err := orchestrator.New(orchestrator.Config{
		HistoryLimit:     cfg.Memory.HistoryLimit,
		SummaryThreshold: cfg.Memory.SummaryThreshold,
	}, deps.facade, gw, responder, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &services{gate: manager, orchestrator: orch}, nil
}
