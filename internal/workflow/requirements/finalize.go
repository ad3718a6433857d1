package requirements

import (
	"context"
	"fmt"
	"strings"

	"agentos/internal/audit"
	"agentos/internal/graph"
	"agentos/internal/logging"
)

// finalize writes the approved artifact to its canonical location, emits
// the metadata record, and archives the audit directory.
func (w *Workflow) finalize(ctx context.Context, s graph.State) (graph.State, error) {
	issueNumber := s.GetInt("issue_number")
	auditDir := s.GetString(keyAuditDir)
	slug := s.GetString("slug")
	draft := s.GetString(keyDraft)

	if strings.TrimSpace(draft) == "" {
		return graph.State{keyErrorMessage: "finalize reached with no draft"}, nil
	}

	var finalPath string
	switch w.Kind {
	case KindLLD:
		path, err := w.Trail.SaveFinalLLD(issueNumber, draft)
		if err != nil {
			return graph.State{keyErrorMessage: err.Error()}, nil
		}
		finalPath = path

		meta := audit.ApprovedMetadata{
			IssueNumber:     issueNumber,
			IssueTitle:      s.GetString("issue_title"),
			FinalLLDPath:    path,
			TotalIterations: s.GetInt(keyIterationCount),
			DraftCount:      s.GetInt("draft_count"),
			VerdictCount:    s.GetInt("verdict_count"),
		}
		if _, err := audit.SaveApprovedMetadata(auditDir, audit.NextFileNumber(auditDir), meta); err != nil {
			logging.Audit("failed to save approved metadata: %v", err)
		}
		if done, err := w.Trail.MoveLegacyToDone(auditDir); err != nil {
			logging.Audit("failed to archive audit dir: %v", err)
		} else {
			auditDir = done
		}

	case KindIssue:
		title := s.GetString("issue_title")
		url, err := w.Tracker.CreateIssue(ctx, title, draft)
		if err != nil {
			return graph.State{keyErrorMessage: err.Error()}, nil
		}
		finalPath = url
		filedNumber := parseIssueNumberFromURL(url)
		if filedNumber == 0 {
			filedNumber = issueNumber
		}

		meta := audit.FiledMetadata{
			IssueNumber:     filedNumber,
			IssueURL:        url,
			Title:           title,
			BriefFile:       s.GetString("brief_path"),
			TotalIterations: s.GetInt(keyIterationCount),
			DraftCount:      s.GetInt("draft_count"),
			VerdictCount:    s.GetInt("verdict_count"),
		}
		if _, err := audit.SaveFiledMetadata(auditDir, audit.NextFileNumber(auditDir), meta); err != nil {
			logging.Audit("failed to save filed metadata: %v", err)
		}
		if brief := s.GetString("brief_path"); brief != "" {
			if _, err := w.Trail.MoveIdeaToDone(brief, filedNumber); err != nil {
				logging.Audit("brief not archived: %v", err)
			}
		}
		if done, err := w.Trail.MoveToDone(auditDir, filedNumber, slug); err != nil {
			logging.Audit("failed to archive audit dir: %v", err)
		} else {
			auditDir = done
		}
		issueNumber = filedNumber
	}

	if err := w.Trail.StageForCommit(auditDir, issueNumber); err != nil {
		logging.Audit("audit artifacts not staged: %v", err)
	}
	w.Trail.LogWorkflowExecution(slug, w.Kind, "finalized", map[string]any{
		"issue_number": issueNumber,
		"final_path":   finalPath,
		"iterations":   s.GetInt(keyIterationCount),
		"status":       s.GetString(keyLLDStatus),
	})

	fmt.Printf("    Done: %s (iterations=%d drafts=%d verdicts=%d)\n",
		finalPath, s.GetInt(keyIterationCount), s.GetInt("draft_count"), s.GetInt("verdict_count"))

	return graph.State{
		"final_path":    finalPath,
		"issue_number":  issueNumber,
		keyErrorMessage: "",
	}, nil
}

// parseIssueNumberFromURL pulls the trailing number from a tracker URL.
func parseIssueNumberFromURL(url string) int {
	i := strings.LastIndex(url, "/")
	if i < 0 {
		return 0
	}
	n := 0
	for _, r := range url[i+1:] {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
