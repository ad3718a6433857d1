package requirements

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"agentos/internal/audit"
	"agentos/internal/graph"
	"agentos/internal/logging"
)

// Review verdicts and open-question statuses.
const (
	StatusApproved = "APPROVED"
	StatusBlocked  = "BLOCKED"

	QuestionsNone          = "NONE"
	QuestionsUnanswered    = "UNANSWERED"
	QuestionsHumanRequired = "HUMAN_REQUIRED"
)

const reviewSystemPrompt = `You are a strict governance reviewer. Review the
submitted document for completeness, internal consistency, testability,
and scope discipline. End your review with exactly one checked verdict:

- [x] **APPROVED**
- [x] **BLOCKED**

When BLOCKED, list the blocking issues under a "## Required Changes"
heading. When the document contains open questions you can answer,
answer them inline; mark any question only a human can decide with
HUMAN_REQUIRED, and mark unresolved ones UNANSWERED.`

var (
	checkedBox      = regexp.MustCompile(`(?im)^\s*[-*]?\s*\[[xX]\]\s*\**\s*(APPROVED|BLOCKED)\b`)
	explicitVerdict = regexp.MustCompile(`(?im)^\s*\**\s*(?:Final\s+)?Verdict:?\**\s*:?\s*\**(APPROVED|BLOCKED)\b`)
)

// ParseVerdict extracts the review verdict from explicit checkbox
// markers, falling back to a Verdict: line. Anything ambiguous is
// BLOCKED.
func ParseVerdict(response string) string {
	if m := checkedBox.FindStringSubmatch(response); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := explicitVerdict.FindStringSubmatch(response); m != nil {
		return strings.ToUpper(m[1])
	}
	return StatusBlocked
}

// ExtractRequiredChanges returns the blocking issues listed under a
// "Required Changes" heading, one per bullet or numbered item.
func ExtractRequiredChanges(response string) []string {
	var issues []string
	inSection := false
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			inSection = strings.Contains(strings.ToLower(trimmed), "required changes")
			continue
		}
		if !inSection {
			continue
		}
		if m := regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+(.+)$`).FindStringSubmatch(trimmed); m != nil {
			issues = append(issues, strings.TrimSpace(m[1]))
		}
	}
	return issues
}

// ParseOpenQuestionsStatus reports whether the reviewer flagged open
// questions. HUMAN_REQUIRED dominates UNANSWERED.
func ParseOpenQuestionsStatus(response string) string {
	upper := strings.ToUpper(response)
	if strings.Contains(upper, "HUMAN_REQUIRED") || strings.Contains(upper, "HUMAN REQUIRED") {
		return QuestionsHumanRequired
	}
	if strings.Contains(upper, "UNANSWERED") {
		return QuestionsUnanswered
	}
	return QuestionsNone
}

// review submits the draft to the reviewer provider, parses the verdict,
// and records the exchange in both audit facets.
func (w *Workflow) review(ctx context.Context, s graph.State) (graph.State, error) {
	issueNumber := s.GetInt("issue_number")
	verdictCount := s.GetInt("verdict_count") + 1
	logging.Workflow("review round %d for issue #%d", verdictCount, issueNumber)

	prompt := fmt.Sprintf("# Document Under Review\n\n%s", s.GetString(keyDraft))
	if fb := s.GetString("gate_feedback"); fb != "" {
		prompt += fmt.Sprintf("\n\n# Additional Context From Human Gate\n\n%s", fb)
	}

	timeout := time.Duration(w.Config.Providers.CallTimeoutSeconds) * time.Second
	result := w.Reviewer.Invoke(ctx, reviewSystemPrompt, prompt, timeout)
	if !result.Success {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"reviewer failed: %s", result.ErrorMessage)}, nil
	}

	verdict := ParseVerdict(result.Response)
	blocking := ExtractRequiredChanges(result.Response)
	questions := ParseOpenQuestionsStatus(result.Response)
	logging.Workflow("review verdict: %s (%d blocking issues, questions=%s)",
		verdict, len(blocking), questions)

	auditDir := s.GetString(keyAuditDir)
	if auditDir != "" {
		if _, err := audit.SaveFile(auditDir, audit.NextFileNumber(auditDir), "verdict.md", result.Response); err != nil {
			logging.Audit("failed to save verdict artifact: %v", err)
		}
	}

	entry := audit.NewEntry(nodeReview, w.Reviewer.Model(), issueNumber, verdict)
	entry.SequenceID = verdictCount
	entry.ModelVerified = result.ModelUsed
	entry.Critique = strings.Join(blocking, "; ")
	entry.Tier1Issues = blocking
	entry.RawResponse = result.RawResponse
	entry.DurationMs = result.DurationMs
	entry.CredentialUsed = result.CredentialUsed
	entry.RotationOccurred = result.RotationOccurred
	entry.Attempts = result.Attempts
	if err := w.Log.Append(entry); err != nil {
		logging.Audit("failed to append governance entry: %v", err)
	}

	update := graph.State{
		keyLLDStatus:            verdict,
		"verdict_count":         verdictCount,
		"open_questions_status": questions,
		"gate_feedback":         "",
		keyErrorMessage:         "",
	}
	if verdict == StatusBlocked {
		update["review_feedback"] = buildReviewFeedback(blocking, result.Response)
	}
	return update, nil
}

// buildReviewFeedback prefers the structured blocking list; a verdict
// with no extractable list feeds the whole critique back.
func buildReviewFeedback(blocking []string, response string) string {
	if len(blocking) == 0 {
		return response
	}
	var b strings.Builder
	b.WriteString("The reviewer blocked the draft. Required changes:\n")
	for _, issue := range blocking {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	return b.String()
}
