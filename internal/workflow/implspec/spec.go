package implspec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentos/internal/audit"
	"agentos/internal/graph"
	"agentos/internal/logging"
	"agentos/internal/workflow/requirements"
)

const specSystemPrompt = `You are a senior engineer preparing an implementation
spec from an approved Low-Level Design. Produce a concrete, file-by-file
plan in markdown, starting directly with a # heading. For each file in
the LLD's change table, state the exact edits against the current state
shown, preserving the codebase's existing conventions. Do not invent
files the LLD does not name.`

// SpecActiveDir is the canonical location for finalized implementation
// specs, mirroring the LLD layout.
const SpecActiveDir = "docs/specs/active"

// buildSpecPrompt composes the drafter input: LLD, current-state
// snapshots, pattern references, and any gate feedback.
func (w *Workflow) buildSpecPrompt(s graph.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Approved LLD\n\n%s\n", s.GetString("lld_content"))
	if cs := s.GetString("current_state"); cs != "" {
		fmt.Fprintf(&b, "\n%s\n", cs)
	}
	if refs := s.GetStrings("pattern_refs"); len(refs) > 0 {
		b.WriteString("\n## Pattern References\n\nFollow the conventions in these neighbors:\n\n")
		for _, ref := range refs {
			fmt.Fprintf(&b, "- `%s`\n", ref)
		}
	}
	if prev := s.GetString(keySpecDraft); prev != "" {
		fmt.Fprintf(&b, "\n# Previous Spec Draft\n\n%s\n", prev)
	}
	if fb := s.GetString("review_feedback"); fb != "" {
		fmt.Fprintf(&b, "\n# Reviewer Feedback (must address)\n\n%s\n", fb)
	}
	return b.String()
}

// generateSpec invokes the drafter and persists the spec draft.
func (w *Workflow) generateSpec(ctx context.Context, s graph.State) (graph.State, error) {
	iteration := s.GetInt("review_iteration") + 1
	logging.Workflow("generating implementation spec (iteration %d)", iteration)

	timeout := time.Duration(w.Config.Providers.CallTimeoutSeconds) * time.Second
	result := w.Drafter.Invoke(ctx, specSystemPrompt, w.buildSpecPrompt(s), timeout)
	if !result.Success {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"spec drafter failed: %s", result.ErrorMessage)}, nil
	}

	draft := requirements.StripPreamble(result.Response)
	if strings.TrimSpace(draft) == "" {
		return graph.State{keyErrorMessage: "spec drafter returned an empty draft"}, nil
	}

	if auditDir := s.GetString(keyAuditDir); auditDir != "" {
		if _, err := audit.SaveFile(auditDir, audit.NextFileNumber(auditDir), "spec-draft.md", draft); err != nil {
			logging.Audit("failed to save spec draft artifact: %v", err)
		}
	}

	return graph.State{
		keySpecDraft:       draft,
		"review_iteration": iteration,
		"review_feedback":  "",
		keyErrorMessage:    "",
	}, nil
}

// finalize writes the spec to its canonical location and archives the
// audit directory.
func (w *Workflow) finalize(_ context.Context, s graph.State) (graph.State, error) {
	issueNumber := s.GetInt("issue_number")
	draft := s.GetString(keySpecDraft)
	if strings.TrimSpace(draft) == "" {
		return graph.State{keyErrorMessage: "finalize reached with no spec draft"}, nil
	}

	dir := filepath.Join(w.Trail.Root(), SpecActiveDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}
	finalPath := filepath.Join(dir, fmt.Sprintf("SPEC-%03d.md", issueNumber))
	if err := os.WriteFile(finalPath, []byte(draft), 0o644); err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}

	auditDir := s.GetString(keyAuditDir)
	if auditDir != "" {
		if done, err := w.Trail.MoveLegacyToDone(auditDir); err != nil {
			logging.Audit("failed to archive audit dir: %v", err)
		} else {
			auditDir = done
		}
		if err := w.Trail.StageForCommit(auditDir, issueNumber); err != nil {
			logging.Audit("audit artifacts not staged: %v", err)
		}
	}
	w.Trail.LogWorkflowExecution("", "spec", "finalized", map[string]any{
		"issue_number": issueNumber,
		"final_path":   finalPath,
		"iterations":   s.GetInt("review_iteration"),
	})

	fmt.Printf("    Done: %s (iterations=%d)\n", finalPath, s.GetInt("review_iteration"))
	return graph.State{"final_path": finalPath, keyErrorMessage: ""}, nil
}
