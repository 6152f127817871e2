package httpapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/orchestrator"
)

// chatRequest is the POST /v1/chat body.
type chatRequest struct {
	SessionID string                   `json:"session_id"`
	Message   string                   `json:"message"`
	Page      orchestrator.PageContext `json:"page"`
}

// handleChat runs one turn and streams its events as SSE. Each event
// goes out as "event: {type}" with the JSON event as data; comment
// lines keep proxies from timing out idle stretches. The stream ends
// when the turn completes or the client disconnects.
func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, fault.New(fault.CodeValidation, "request body must be JSON"))
	}

	ident := identityFrom(c)
	ctx := c.Request().Context()

	events, err := s.deps.Orchestrator.Chat(ctx, orchestrator.Request{
		SessionID: req.SessionID,
		Message:   req.Message,
		Page:      req.Page,
		Identity:  ident.Execution,
	})
	if err != nil {
		return s.writeError(c, err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().Flush()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval.Duration())
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeSSE(c, ev); err != nil {
				s.logger.Debug(ctx, "chat stream write failed", zap.Error(err))
				return nil
			}
		case <-heartbeat.C:
			fmt.Fprint(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

func writeSSE(c echo.Context, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
