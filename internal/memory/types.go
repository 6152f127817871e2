package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/stewardlabs/governd/internal/tools"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SourceRef cites a governed entity a message draws on.
type SourceRef struct {
	EntityType string `json:"entity_type"`
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
}

// Message is one turn entry. Messages are immutable once appended and
// ordered by append sequence within a session.
type Message struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	ToolCalls []tools.ToolCall `json:"tool_calls,omitempty"`
	Sources   []SourceRef      `json:"sources,omitempty"`
}

func (m Message) clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]tools.ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc
			if tc.Parameters != nil {
				out.ToolCalls[i].Parameters = maps.Clone(tc.Parameters)
			}
		}
	}
	if m.Sources != nil {
		out.Sources = slices.Clone(m.Sources)
	}
	return out
}

// EntityReference records the most recent mention of one entity, used to
// resolve anaphora ("it", "that report") in later turns.
type EntityReference struct {
	EntityType    string    `json:"entity_type"`
	ID            string    `json:"id"`
	DisplayName   string    `json:"display_name,omitempty"`
	LastMentioned time.Time `json:"last_mentioned"`
}

// SessionContext is the per-session conversation state. Exactly one exists
// per session id; it belongs to one tenant and is mutated only through the
// orchestrator's explicit update calls. The session tier stores it whole,
// last write wins.
type SessionContext struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`

	// Messages is the ordered turn history.
	Messages []Message `json:"messages"`

	// Entities maps entity type to its most recently mentioned reference.
	Entities map[string]EntityReference `json:"entities,omitempty"`

	// Summary is the rolling digest of folded-away older messages.
	Summary string `json:"summary,omitempty"`

	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
}

// NewSessionContext creates an empty active session.
func NewSessionContext(sessionID, userID, tenantID string) *SessionContext {
	return &SessionContext{
		SessionID: sessionID,
		UserID:    userID,
		TenantID:  tenantID,
		Messages:  make([]Message, 0, 8),
		Entities:  make(map[string]EntityReference),
		Active:    true,
	}
}

// Append adds messages to the ordered history.
func (s *SessionContext) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
}

// Touch records session activity.
func (s *SessionContext) Touch(now time.Time) {
	s.LastActivity = now
}

// TrackEntity records an entity mention. Per entity type the reference
// with the latest LastMentioned wins.
func (s *SessionContext) TrackEntity(ref EntityReference) {
	if ref.EntityType == "" || ref.ID == "" {
		return
	}
	if s.Entities == nil {
		s.Entities = make(map[string]EntityReference)
	}
	if cur, ok := s.Entities[ref.EntityType]; ok && cur.LastMentioned.After(ref.LastMentioned) {
		return
	}
	s.Entities[ref.EntityType] = ref
}

// MostRecentEntity resolves a reference. With a concrete entity type it
// returns that type's latest mention; with "" it returns the latest
// mention across all types, breaking timestamp ties by type name so
// resolution is deterministic.
func (s *SessionContext) MostRecentEntity(entityType string) (EntityReference, bool) {
	if len(s.Entities) == 0 {
		return EntityReference{}, false
	}
	if entityType != "" {
		ref, ok := s.Entities[entityType]
		return ref, ok
	}
	var best EntityReference
	found := false
	for _, key := range slices.Sorted(maps.Keys(s.Entities)) {
		ref := s.Entities[key]
		if !found || ref.LastMentioned.After(best.LastMentioned) {
			best = ref
			found = true
		}
	}
	return best, found
}

// maxSummaryRunes bounds the rolling summary; folding truncates at a
// sentence boundary within this window when possible.
const maxSummaryRunes = 1200

// Fold collapses all but the last keep messages into the rolling summary.
// Each folded message contributes its first sentence, prefixed with the
// speaking role. The operation is deterministic and does no external calls.
func (s *SessionContext) Fold(keep int) {
	if keep < 0 {
		keep = 0
	}
	if len(s.Messages) <= keep {
		return
	}
	cut := len(s.Messages) - keep
	parts := make([]string, 0, cut+1)
	if s.Summary != "" {
		parts = append(parts, s.Summary)
	}
	for _, msg := range s.Messages[:cut] {
		if sentence := firstSentence(msg.Content); sentence != "" {
			parts = append(parts, string(msg.Role)+": "+sentence)
		}
	}
	s.Summary = clampSummary(strings.Join(parts, " "))
	s.Messages = slices.Clone(s.Messages[cut:])
}

// Clone returns a deep copy safe to mutate independently.
func (s *SessionContext) Clone() *SessionContext {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, msg := range s.Messages {
		out.Messages[i] = msg.clone()
	}
	if s.Entities != nil {
		out.Entities = maps.Clone(s.Entities)
	}
	return &out
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		switch r {
		case '.', '!', '?':
			return text[:i+utf8.RuneLen(r)]
		}
	}
	return text
}

func clampSummary(summary string) string {
	if utf8.RuneCountInString(summary) <= maxSummaryRunes {
		return summary
	}
	runes := []rune(summary)
	window := runes[:maxSummaryRunes]
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '.', '!', '?':
			return string(window[:i+1])
		}
	}
	return string(window)
}

// Verbosity levels for assistant responses.
const (
	VerbosityConcise  = "concise"
	VerbosityStandard = "standard"
	VerbosityDetailed = "detailed"
)

// Preferences holds per-user presentation settings.
type Preferences struct {
	Locale           string `json:"locale"`
	Verbosity        string `json:"verbosity"`
	ShowQuickActions bool   `json:"show_quick_actions"`
}

// DefaultPreferences is the fixed fallback used when the preference tier
// is unreachable or holds nothing for the user. It disables nothing vital;
// personalization simply reverts to stock behavior.
func DefaultPreferences() Preferences {
	return Preferences{
		Locale:           "en",
		Verbosity:        VerbosityStandard,
		ShowQuickActions: true,
	}
}

// PreferencePatch is a partial preference update; nil fields keep their
// current value.
type PreferencePatch struct {
	Locale           *string `json:"locale,omitempty"`
	Verbosity        *string `json:"verbosity,omitempty"`
	ShowQuickActions *bool   `json:"show_quick_actions,omitempty"`
}

// Apply merges a patch into a preference set and returns the result.
func (p Preferences) Apply(patch PreferencePatch) Preferences {
	if patch.Locale != nil {
		p.Locale = *patch.Locale
	}
	if patch.Verbosity != nil {
		p.Verbosity = *patch.Verbosity
	}
	if patch.ShowQuickActions != nil {
		p.ShowQuickActions = *patch.ShowQuickActions
	}
	return p
}

// Episode kinds recorded in episodic memory.
const (
	EpisodeExchange     = "exchange"
	EpisodeGateDecision = "gate_decision"
)

// Episode is one durable record of something that happened in a session.
type Episode struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	TenantID  string            `json:"tenant_id"`
	SessionID string            `json:"session_id,omitempty"`
	Kind      string            `json:"kind"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// EpisodeFilter narrows an episodic query.
type EpisodeFilter struct {
	UserID   string `json:"user_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SessionStore is the session tier backend. Get returns (nil, nil) for an
// unknown session id; Set stores the whole context, last write wins.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*SessionContext, error)
	Set(ctx context.Context, session *SessionContext) error
	Clear(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

// PreferenceStore is the preference tier backend. Get returns (nil, nil)
// when the user has no stored preferences.
type PreferenceStore interface {
	Get(ctx context.Context, userID, tenantID string) (*Preferences, error)
	Update(ctx context.Context, userID, tenantID string, prefs Preferences) error
	Ping(ctx context.Context) error
}

// EpisodeStore is the episodic tier backend. Query returns newest first.
type EpisodeStore interface {
	Append(ctx context.Context, ep Episode) (Episode, error)
	Query(ctx context.Context, filter EpisodeFilter) ([]Episode, error)
	Ping(ctx context.Context) error
}
