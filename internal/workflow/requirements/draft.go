package requirements

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentos/internal/audit"
	"agentos/internal/graph"
	"agentos/internal/logging"
)

const draftSystemPromptIssue = `You are a requirements engineer. Produce a complete,
well-structured tracker issue in markdown from the brief. Start directly
with a # heading. Include motivation, scope, acceptance criteria, and
explicit non-goals.`

const draftSystemPromptLLD = `You are a senior engineer writing a Low-Level Design.
Produce a complete LLD in markdown, starting directly with a # heading.
Required numbered sections include: 1. Context, 2. Proposed Changes with
a Files Changed table (| File | Change Type | Description |), 3.
Requirements as a numbered list, and 10. Verification & Testing with a
test plan that maps every requirement to at least one scenario. Use
repository-relative paths only.`

// buildDraftPrompt composes the drafter input from state slices. Later
// blocks carry feedback from failed validation or review rounds.
func (w *Workflow) buildDraftPrompt(s graph.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Seed\n\n%s\n", s.GetString("seed_content"))

	if ctx := s.GetString("context"); ctx != "" {
		fmt.Fprintf(&b, "\n%s\n", ctx)
	}
	if cb := s.GetString("codebase_context"); cb != "" {
		fmt.Fprintf(&b, "\n%s\n", cb)
	}
	if prev := s.GetString(keyDraft); prev != "" {
		fmt.Fprintf(&b, "\n# Previous Draft\n\n%s\n", prev)
	}
	if fb := s.GetString("validation_feedback"); fb != "" {
		fmt.Fprintf(&b, "\n# Validation Feedback (must address)\n\n%s\n", fb)
	}
	if fb := s.GetString("review_feedback"); fb != "" {
		fmt.Fprintf(&b, "\n# Review Feedback (must address)\n\n%s\n", fb)
	}
	return b.String()
}

// StripPreamble drops any model chatter before the first markdown
// heading. A response without headings is returned unchanged.
func StripPreamble(response string) string {
	lines := strings.Split(response, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			return strings.Join(lines[i:], "\n")
		}
	}
	return response
}

// generateDraft invokes the drafter, persists the draft to the audit
// trail, and advances the iteration counters.
func (w *Workflow) generateDraft(ctx context.Context, s graph.State) (graph.State, error) {
	iteration := s.GetInt(keyIterationCount) + 1
	logging.Workflow("generating draft (iteration %d)", iteration)

	system := draftSystemPromptIssue
	if w.Kind == KindLLD {
		system = draftSystemPromptLLD
	}

	timeout := time.Duration(w.Config.Providers.CallTimeoutSeconds) * time.Second
	result := w.Drafter.Invoke(ctx, system, w.buildDraftPrompt(s), timeout)
	if !result.Success {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"drafter failed: %s", result.ErrorMessage)}, nil
	}

	draft := StripPreamble(result.Response)
	if strings.TrimSpace(draft) == "" {
		return graph.State{keyErrorMessage: "drafter returned an empty draft"}, nil
	}

	auditDir := s.GetString(keyAuditDir)
	if auditDir != "" {
		if _, err := audit.SaveFile(auditDir, audit.NextFileNumber(auditDir), "draft.md", draft); err != nil {
			logging.Audit("failed to save draft artifact: %v", err)
		}
	}

	return graph.State{
		keyDraft:              draft,
		keyIterationCount:     iteration,
		"draft_count":         s.GetInt("draft_count") + 1,
		"validation_feedback": "",
		"review_feedback":     "",
		keyErrorMessage:       "",
	}, nil
}
