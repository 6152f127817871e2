// Package httpapi is governd's HTTP surface.
//
// POST /v1/chat streams a turn's events as SSE. The approvals API backs
// human deciders and govctl. Health and metrics endpoints serve
// operations. Identity arrives in headers set by the platform's edge;
// this layer translates them into an execution context and never does
// its own authentication.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/config"
	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/gate"
	"github.com/stewardlabs/governd/internal/logging"
	"github.com/stewardlabs/governd/internal/memory"
	"github.com/stewardlabs/governd/internal/orchestrator"
)

const instrumentationName = "github.com/stewardlabs/governd/internal/httpapi"

// Deps carries the services the HTTP surface fronts.
type Deps struct {
	Orchestrator *orchestrator.Service
	Gate         *gate.Manager
	Memory       *memory.Facade
	Version      string
}

// Server is the governd HTTP server.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	echo   *echo.Echo
	logger *logging.Logger
}

// New creates the server and registers all routes.
func New(cfg config.ServerConfig, deps Deps, logger *logging.Logger) (*Server, error) {
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("gate manager is required")
	}
	if deps.Memory == nil {
		return nil, fmt.Errorf("memory facade is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(requestContextMiddleware())
	e.Use(newHTTPMetrics(logger).middleware())

	s := &Server{cfg: cfg, deps: deps, echo: e, logger: logger}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleLiveness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.GET("/health", s.handleHealth)
	v1.POST("/memory/probe", s.handleMemoryProbe)

	authed := v1.Group("", identityMiddleware())
	authed.POST("/chat", s.handleChat)
	authed.GET("/approvals", s.handleListApprovals)
	authed.GET("/approvals/:id", s.handleGetApproval)
	authed.POST("/approvals/:id/decision", s.handleDecision)
	authed.POST("/approvals/expire", s.handleExpire)
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully within the configured timeout. Returns
// http.ErrServerClosed on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()
	s.logger.Info(ctx, "http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// errorEnvelope is the uniform error body.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusForCode maps fault codes onto HTTP statuses.
func statusForCode(code fault.Code) int {
	switch code {
	case fault.CodeValidation:
		return http.StatusBadRequest
	case fault.CodeAuthorization:
		return http.StatusForbidden
	case fault.CodeNotFound:
		return http.StatusNotFound
	case fault.CodeConflict:
		return http.StatusConflict
	case fault.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a classified error. Internal details are replaced
// by the category's user message; everything else passes through, those
// messages are written for the caller.
func (s *Server) writeError(c echo.Context, err error) error {
	code := fault.CodeOf(err)
	status := statusForCode(code)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = fault.UserMessage(err)
		s.logger.Error(c.Request().Context(), "request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.JSON(status, errorEnvelope{Error: errorBody{
		Code:    string(code),
		Message: message,
	}})
}
