// Package orchestrator runs conversational turns end to end.
//
// Chat produces an ordered event stream over a bounded channel: context
// summary, assistant text, tool rounds through the gateway, quick
// actions, and a final completion marker. Every failure surfaces as
// exactly one error event; the stream never ends silently. Session
// state, preferences, and episodes go through the memory facade, so a
// degraded tier slows nothing down.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stewardlabs/governd/internal/fault"
	"github.com/stewardlabs/governd/internal/logging"
	"github.com/stewardlabs/governd/internal/memory"
	"github.com/stewardlabs/governd/internal/reasoner"
	"github.com/stewardlabs/governd/internal/tools"
)

const instrumentationName = "github.com/stewardlabs/governd/internal/orchestrator"

// Config bounds one turn.
type Config struct {
	// EventBuffer is the event channel capacity.
	EventBuffer int

	// MaxToolRounds caps responder round-trips that request tools.
	MaxToolRounds int

	// HistoryLimit is the message count above which the session folds,
	// and the most recent slice replayed to the responder.
	HistoryLimit int

	// SummaryThreshold is how many recent messages folding keeps.
	SummaryThreshold int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		EventBuffer:      32,
		MaxToolRounds:    4,
		HistoryLimit:     40,
		SummaryThreshold: 20,
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = def.MaxToolRounds
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.SummaryThreshold <= 0 {
		c.SummaryThreshold = def.SummaryThreshold
	}
}

// ToolGateway is the slice of the tool gateway a turn drives.
type ToolGateway interface {
	Execute(ctx context.Context, call tools.ToolCall, ec tools.ExecutionContext) (tools.ToolResult, error)
}

// Service orchestrates turns.
type Service struct {
	cfg       Config
	memory    *memory.Facade
	gateway   ToolGateway
	responder reasoner.Responder
	registry  *tools.Registry
	logger    *logging.Logger

	now   func() time.Time
	newID func() string

	meter        metric.Meter
	tracer       trace.Tracer
	turnCounter  metric.Int64Counter
	eventCounter metric.Int64Counter
}

// New creates the orchestrator. The facade, gateway, and responder are
// required; a nil registry falls back to the platform tool surface.
func New(cfg Config, facade *memory.Facade, gw ToolGateway, responder reasoner.Responder, registry *tools.Registry, logger *logging.Logger) (*Service, error) {
	if facade == nil {
		return nil, fmt.Errorf("memory facade is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("tool gateway is required")
	}
	if responder == nil {
		return nil, fmt.Errorf("responder is required")
	}
	if registry == nil {
		registry = tools.Default()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	cfg.ApplyDefaults()

	s := &Service{
		cfg:       cfg,
		memory:    facade,
		gateway:   gw,
		responder: responder,
		registry:  registry,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		meter:     otel.Meter(instrumentationName),
		tracer:    otel.Tracer(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error
	s.turnCounter, err = s.meter.Int64Counter(
		"governd.orchestrator.turns_total",
		metric.WithDescription("Chat turns by outcome"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create orchestrator counter", zap.Error(err))
	}
	s.eventCounter, err = s.meter.Int64Counter(
		"governd.orchestrator.events_total",
		metric.WithDescription("Stream events by type"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create orchestrator counter", zap.Error(err))
	}
}

// Chat runs one turn and returns its event stream. Validation failures
// are returned synchronously; everything after that arrives as events,
// the last one carrying Complete=true. The channel closes when the turn
// ends or the context is cancelled; cancellation abandons the turn
// without rolling back side effects already applied.
func (s *Service) Chat(ctx context.Context, req Request) (<-chan Event, error) {
	if req.Identity.UserID == "" || req.Identity.TenantID == "" {
		return nil, fault.New(fault.CodeValidation, "user and tenant identity are required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fault.New(fault.CodeValidation, "message must not be empty")
	}
	if req.SessionID == "" {
		req.SessionID = s.newID()
	}

	events := make(chan Event, s.cfg.EventBuffer)
	go s.runTurn(ctx, req, events)
	return events, nil
}

func (s *Service) runTurn(ctx context.Context, req Request, events chan<- Event) {
	defer close(events)

	ctx, span := s.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	ctx = logging.WithSessionID(ctx, req.SessionID)
	messageID := s.newID()
	started := s.now()

	fail := func(err error) {
		correlationID := s.newID()
		s.logger.Error(ctx, "turn failed",
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		s.countTurn(ctx, "error")
		s.emit(ctx, events, Event{
			Type:      EventError,
			MessageID: messageID,
			Timestamp: s.now().UTC(),
			Complete:  true,
			Error: &ErrorEvent{
				Category:      string(fault.CodeOf(err)),
				Message:       fault.UserMessage(err),
				CorrelationID: correlationID,
			},
		})
	}
	defer func() {
		if r := recover(); r != nil {
			fail(fault.New(fault.CodeInternal, fmt.Sprintf("turn panic: %v", r)))
		}
	}()

	session, err := s.memory.GetSession(ctx, req.SessionID)
	if err != nil {
		fail(err)
		return
	}
	if session == nil {
		session = memory.NewSessionContext(req.SessionID, req.Identity.UserID, req.Identity.TenantID)
	}
	if session.TenantID != "" && session.TenantID != req.Identity.TenantID {
		fail(fault.New(fault.CodeAuthorization, "session belongs to another tenant"))
		return
	}

	if session.Summary != "" {
		if !s.emit(ctx, events, Event{
			Type:      EventContextSummary,
			MessageID: messageID,
			Timestamp: s.now().UTC(),
			Summary:   session.Summary,
		}) {
			return
		}
	}

	if req.Page.EntityType != "" && req.Page.EntityID != "" {
		session.TrackEntity(memory.EntityReference{
			EntityType:    req.Page.EntityType,
			ID:            req.Page.EntityID,
			LastMentioned: s.now().UTC(),
		})
	}
	resolved := resolveReferences(req.Message, session)

	prefs, err := s.memory.GetPreferences(ctx, req.Identity.UserID, req.Identity.TenantID)
	if err != nil {
		prefs = memory.DefaultPreferences()
	}

	outcome, ok := s.produceResponse(ctx, req, session, prefs, resolved, messageID, events, fail)
	if !ok {
		return
	}

	now := s.now().UTC()
	session.Append(
		memory.Message{Role: memory.RoleUser, Content: req.Message, Timestamp: now},
		memory.Message{Role: memory.RoleAssistant, Content: outcome.replyText(), Timestamp: now, ToolCalls: outcome.toolCalls},
	)
	if len(session.Messages) > s.cfg.HistoryLimit {
		session.Fold(s.cfg.SummaryThreshold)
	}
	session.Touch(now)
	if err := s.memory.UpdateSession(ctx, session); err != nil {
		s.logger.Warn(ctx, "session not persisted", zap.Error(err))
	}

	if _, err := s.memory.RecordEpisode(ctx, memory.Episode{
		UserID:    req.Identity.UserID,
		TenantID:  req.Identity.TenantID,
		SessionID: req.SessionID,
		Kind:      memory.EpisodeExchange,
		Content:   exchangeDigest(req.Message, outcome.replyText()),
		Metadata: map[string]string{
			"message_id": messageID,
			"tool_calls": fmt.Sprintf("%d", len(outcome.toolCalls)),
		},
	}); err != nil {
		s.logger.Warn(ctx, "exchange episode not recorded", zap.Error(err))
	}

	if prefs.ShowQuickActions {
		for _, qa := range suggestQuickActions(req.Message, outcome.replyText(), session) {
			if !s.emit(ctx, events, Event{
				Type:        EventQuickAction,
				MessageID:   messageID,
				Timestamp:   s.now().UTC(),
				QuickAction: &qa,
			}) {
				return
			}
		}
	}

	if !s.emit(ctx, events, Event{
		Type:      EventText,
		MessageID: messageID,
		Timestamp: s.now().UTC(),
		Complete:  true,
	}) {
		return
	}

	s.countTurn(ctx, "complete")
	s.logger.Info(ctx, "turn complete",
		zap.String("message_id", messageID),
		zap.Int("tool_calls", len(outcome.toolCalls)),
		zap.Int("rounds", outcome.rounds),
		zap.Bool("pending_approval", outcome.pendingApproval),
		zap.Duration("duration", s.now().Sub(started)),
	)
}

// turnOutcome collects what response production yielded.
type turnOutcome struct {
	texts           []string
	toolCalls       []tools.ToolCall
	rounds          int
	pendingApproval bool
}

func (o *turnOutcome) replyText() string {
	return strings.Join(o.texts, "\n\n")
}

// approvalNotice is streamed when a critical tool was parked behind the
// human gate mid-turn.
const approvalNotice = "This action needs human approval before it can run. " +
	"I've sent it for review; it will execute once an approver signs off."

// toolBudgetNotice is streamed when the responder still wants tools
// after the last permitted round.
const toolBudgetNotice = "I've hit the limit of tool lookups for one turn. " +
	"Ask me to continue if you need more."

// produceResponse runs the responder loop: prose is streamed as text
// events, requested tools execute through the gateway with one
// tool_call event each, and results feed the next round. The loop ends
// when the responder answers without tools, a call parks for approval,
// or the round budget runs out. Returns ok=false when the turn is over
// (failed or abandoned) and the caller must stop.
func (s *Service) produceResponse(ctx context.Context, req Request, session *memory.SessionContext, prefs memory.Preferences, resolved, messageID string, events chan<- Event, fail func(error)) (turnOutcome, bool) {
	var outcome turnOutcome

	system := s.systemPrompt(session, prefs)
	defs := s.registry.List()
	turns := historyTurns(session, s.cfg.HistoryLimit)
	turns = append(turns, reasoner.Turn{Role: memory.RoleUser, Content: resolved})

	for round := 0; ; round++ {
		reply, err := s.responder.Respond(ctx, reasoner.Request{
			System:   system,
			Messages: turns,
			Tools:    defs,
		})
		if err != nil {
			fail(err)
			return outcome, false
		}

		if reply.Text != "" {
			outcome.texts = append(outcome.texts, reply.Text)
			if !s.emit(ctx, events, Event{
				Type:      EventText,
				MessageID: messageID,
				Timestamp: s.now().UTC(),
				Content:   reply.Text,
			}) {
				return outcome, false
			}
		}
		if len(reply.ToolCalls) == 0 {
			break
		}
		if round == s.cfg.MaxToolRounds {
			outcome.texts = append(outcome.texts, toolBudgetNotice)
			if !s.emit(ctx, events, Event{
				Type:      EventText,
				MessageID: messageID,
				Timestamp: s.now().UTC(),
				Content:   toolBudgetNotice,
			}) {
				return outcome, false
			}
			break
		}
		outcome.rounds++

		results := make([]tools.ToolResult, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			result, execErr := s.gateway.Execute(ctx, call, req.Identity)
			if execErr != nil {
				// The failure is mirrored in the result; the responder
				// sees it next round and can explain or retry.
				s.logger.Debug(ctx, "tool call failed",
					zap.String("tool", call.Name),
					zap.Error(execErr),
				)
			}
			call.ID = result.CallID
			call.Status = result.Status
			outcome.toolCalls = append(outcome.toolCalls, call)
			results = append(results, result)
			s.trackToolEntities(session, call)

			if !s.emit(ctx, events, Event{
				Type:       EventToolCall,
				MessageID:  messageID,
				Timestamp:  s.now().UTC(),
				ToolCall:   &call,
				ToolResult: &result,
			}) {
				return outcome, false
			}
			if result.Status == tools.StatusPending && result.ActionID != "" {
				outcome.pendingApproval = true
			}
		}

		if outcome.pendingApproval {
			outcome.texts = append(outcome.texts, approvalNotice)
			if !s.emit(ctx, events, Event{
				Type:      EventText,
				MessageID: messageID,
				Timestamp: s.now().UTC(),
				Content:   approvalNotice,
			}) {
				return outcome, false
			}
			break
		}

		turns = append(turns,
			reasoner.Turn{Role: memory.RoleAssistant, Content: reply.Text, ToolCalls: reply.ToolCalls},
			reasoner.Turn{Role: memory.RoleUser, ToolResults: results},
		)
	}

	if len(outcome.texts) == 0 {
		stock := "I wasn't able to put together a response. Please try rephrasing."
		outcome.texts = append(outcome.texts, stock)
		if !s.emit(ctx, events, Event{
			Type:      EventText,
			MessageID: messageID,
			Timestamp: s.now().UTC(),
			Content:   stock,
		}) {
			return outcome, false
		}
	}
	return outcome, true
}

// baseSystemPrompt frames the assistant's role and its approval rules.
const baseSystemPrompt = "You are the governance assistant for a regulated data platform. " +
	"Answer questions about reports, datasets, lineage, data quality issues, " +
	"critical data elements, and reporting cycles. Use the provided tools to " +
	"look up facts instead of guessing. Critical actions (sign-offs, catalog " +
	"approvals, ownership or mapping changes) are routed to a human approver; " +
	"never claim one is done until its result confirms it."

func (s *Service) systemPrompt(session *memory.SessionContext, prefs memory.Preferences) string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)
	switch prefs.Verbosity {
	case memory.VerbosityConcise:
		b.WriteString(" Keep answers brief.")
	case memory.VerbosityDetailed:
		b.WriteString(" Explain your reasoning and name the entity ids you used.")
	}
	if prefs.Locale != "" && prefs.Locale != "en" {
		fmt.Fprintf(&b, " Respond in the %q locale.", prefs.Locale)
	}
	if session.Summary != "" {
		b.WriteString("\n\nEarlier in this conversation: ")
		b.WriteString(session.Summary)
	}
	return b.String()
}

// historyTurns converts the bounded tail of the session history for the
// responder. Past tool exchanges are not replayed; the responder sees
// only the prose, and the entity map carries what the tools found.
func historyTurns(session *memory.SessionContext, limit int) []reasoner.Turn {
	msgs := session.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	turns := make([]reasoner.Turn, 0, len(msgs)+4)
	for _, msg := range msgs {
		if msg.Content == "" {
			continue
		}
		turns = append(turns, reasoner.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

// trackToolEntities updates the session entity map from a tool call's
// id-bearing parameters.
func (s *Service) trackToolEntities(session *memory.SessionContext, call tools.ToolCall) {
	def, ok := s.registry.Get(call.Name)
	if !ok {
		return
	}
	for _, ref := range tools.ExtractEntities(def, call.Parameters) {
		session.TrackEntity(memory.EntityReference{
			EntityType:    ref.EntityType,
			ID:            ref.ID,
			LastMentioned: s.now().UTC(),
		})
	}
}

// maxDigestRunes bounds the episodic digest of one exchange.
const maxDigestRunes = 280

// exchangeDigest summarizes one exchange for episodic memory.
func exchangeDigest(userMessage, reply string) string {
	digest := "User: " + clampRunes(userMessage, maxDigestRunes/2)
	if reply != "" {
		digest += " Assistant: " + clampRunes(reply, maxDigestRunes/2)
	}
	return digest
}

func clampRunes(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// emit delivers one event, giving up when the consumer is gone.
func (s *Service) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		if s.eventCounter != nil {
			s.eventCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("type", string(ev.Type)),
			))
		}
		return true
	case <-ctx.Done():
		s.logger.Debug(ctx, "turn abandoned by consumer",
			zap.String("event_type", string(ev.Type)))
		return false
	}
}

func (s *Service) countTurn(ctx context.Context, outcome string) {
	if s.turnCounter == nil {
		return
	}
	s.turnCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
