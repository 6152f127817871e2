package orchestrator

import (
	"regexp"
	"strings"

	"github.com/stewardlabs/governd/internal/memory"
)

// typedReference matches anaphora naming an entity type: "that report",
// "this dataset", "the cycle". The captured word selects which tracked
// entity to substitute.
var typedReference = regexp.MustCompile(`(?i)\b(?:that|this|the)\s+(report|dataset|issue|cde|cycle|mapping|term|control)\b`)

// bareReference matches anaphora with no type at all: "it", "that one",
// "this one". These resolve to the most recent mention of any type.
var bareReference = regexp.MustCompile(`(?i)\b(?:it|that one|this one)\b`)

// resolveReferences rewrites pronouns in a user message against the
// session's entity map so the model and the tools see concrete ids.
// References that match nothing tracked are left untouched; the text
// then reads exactly as the user wrote it.
func resolveReferences(message string, session *memory.SessionContext) string {
	if session == nil || len(session.Entities) == 0 {
		return message
	}

	out := typedReference.ReplaceAllStringFunc(message, func(match string) string {
		sub := typedReference.FindStringSubmatch(match)
		ref, ok := session.MostRecentEntity(strings.ToLower(sub[1]))
		if !ok {
			return match
		}
		return renderEntity(ref)
	})

	return bareReference.ReplaceAllStringFunc(out, func(match string) string {
		ref, ok := session.MostRecentEntity("")
		if !ok {
			return match
		}
		return renderEntity(ref)
	})
}

// renderEntity formats a tracked entity so both the model and a human
// reader can tell what the pronoun resolved to.
func renderEntity(ref memory.EntityReference) string {
	name := ref.DisplayName
	if name == "" {
		name = ref.ID
	}
	return name + " (" + ref.EntityType + " " + ref.ID + ")"
}
