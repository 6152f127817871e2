package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/logging"
	"github.com/stewardlabs/governd/internal/memory"
	"github.com/stewardlabs/governd/internal/tools"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 2048

	// Client-side rate limit on Messages API calls.
	defaultRequestsPerSecond = 2
	defaultBurst             = 4
)

// AnthropicConfig holds the Claude Messages API settings.
type AnthropicConfig struct {
	APIKey            string
	Model             string
	MaxTokens         int
	RequestsPerSecond float64
	Burst             int
}

// Anthropic is the production Responder backed by the Claude Messages
// API.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	limiter   *rate.Limiter
	logger    *logging.Logger
}

// NewAnthropic creates the adapter. The API key is required; everything
// else has working defaults.
func NewAnthropic(cfg AnthropicConfig, logger *logging.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Anthropic{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:    logger,
	}, nil
}

// Respond implements Responder.
func (a *Anthropic) Respond(ctx context.Context, req Request) (Reply, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return Reply{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  buildMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	start := time.Now()
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Reply{}, fault.Wrap(fault.CodeInternal, err, "reasoning request failed")
	}

	reply := Reply{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textBlock := block.AsText()
			if textBlock.Text == "" {
				continue
			}
			if reply.Text != "" {
				reply.Text += "\n"
			}
			reply.Text += textBlock.Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			reply.ToolCalls = append(reply.ToolCalls, tools.ToolCall{
				ID:         toolBlock.ID,
				Name:       toolBlock.Name,
				Parameters: decodeToolInput(toolBlock.Input),
				Status:     tools.StatusPending,
			})
		}
	}

	a.logger.Debug(ctx, "reasoning reply received",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("tool_calls", len(reply.ToolCalls)),
		zap.String("stop_reason", string(resp.StopReason)),
	)
	return reply, nil
}

// buildMessages converts turns into the Messages API's alternating
// user/assistant shape. Tool results ride on user turns as tool_result
// blocks, matching the API contract for feeding back a prior round.
func buildMessages(turns []Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, turn := range turns {
		if turn.Role == memory.RoleAssistant {
			var blocks []anthropic.ContentBlockParamUnion
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, call := range turn.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Parameters, call.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		for _, result := range turn.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(result.CallID, resultContent(result), !result.Success))
		}
		if turn.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
		}
		if len(blocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return messages
}

// buildTools publishes the governed tool surface to the model.
func buildTools(defs []*tools.Definition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if def.Parameters != nil {
			if properties, ok := def.Parameters["properties"]; ok {
				schema.Properties = properties
			}
			if required, ok := def.Parameters["required"].([]string); ok {
				schema.Required = required
			}
		}

		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if def.Description != "" && tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		out = append(out, tool)
	}
	return out
}

// resultContent renders a tool result for the model: output JSON on
// success, the error text on failure.
func resultContent(result tools.ToolResult) string {
	if !result.Success {
		if result.Error != "" {
			return result.Error
		}
		return "tool call failed"
	}
	if result.Output == nil {
		return "ok"
	}
	raw, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Sprintf("%v", result.Output)
	}
	return string(raw)
}

// decodeToolInput normalizes the SDK's opaque input into a parameter map.
func decodeToolInput(input any) map[string]any {
	if input == nil {
		return nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	return params
}
