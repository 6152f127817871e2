package orchestrator

import (
	"regexp"

	"github.com/stewardlabs/governd/internal/memory"
)

// maxQuickActions bounds the suggestions per turn.
const maxQuickActions = 4

// failureTalk flags a turn that surfaced a data-quality problem.
var failureTalk = regexp.MustCompile(`(?i)\b(fail(?:ed|ure)?|error|wrong|broken|stale|mismatch)\b`)

// signoffTalk flags a turn touching a reporting-cycle sign-off.
var signoffTalk = regexp.MustCompile(`(?i)\b(sign[- ]?off|attest|certif\w*|cycle)\b`)

// cdeTalk flags a turn about critical data elements.
var cdeTalk = regexp.MustCompile(`(?i)\bcdes?\b|\bcritical data element`)

// suggestQuickActions derives follow-up prompts from the finished turn.
// The rules are fixed and run locally; no model call is involved. Order
// is stable so the same turn always yields the same suggestions.
func suggestQuickActions(userMessage, reply string, session *memory.SessionContext) []QuickAction {
	text := userMessage + "\n" + reply
	var out []QuickAction
	add := func(qa QuickAction) {
		if len(out) >= maxQuickActions {
			return
		}
		for _, have := range out {
			if have.Prompt == qa.Prompt {
				return
			}
		}
		out = append(out, qa)
	}

	if ref, ok := session.MostRecentEntity("report"); ok {
		add(QuickAction{
			Label:  "Show lineage",
			Prompt: "Show the lineage for report " + ref.ID,
		})
	}
	if failureTalk.MatchString(text) {
		prompt := "Create a data quality issue for this"
		if ref, ok := session.MostRecentEntity(""); ok {
			prompt = "Create a data quality issue for " + ref.EntityType + " " + ref.ID
		}
		add(QuickAction{Label: "Raise an issue", Prompt: prompt})
	}
	if signoffTalk.MatchString(text) {
		prompt := "What is the status of the current reporting cycle?"
		if ref, ok := session.MostRecentEntity("cycle"); ok {
			prompt = "What is the status of cycle " + ref.ID + "?"
		}
		add(QuickAction{Label: "Cycle status", Prompt: prompt})
	}
	if ref, ok := session.MostRecentEntity("dataset"); ok {
		add(QuickAction{
			Label:  "Open issues",
			Prompt: "List open issues for dataset " + ref.ID,
		})
	}
	if cdeTalk.MatchString(text) {
		prompt := "List the critical data elements here"
		if ref, ok := session.MostRecentEntity("report"); ok {
			prompt = "List the critical data elements for report " + ref.ID
		}
		add(QuickAction{Label: "List CDEs", Prompt: prompt})
	}
	return out
}
