package tdd

import (
	"context"
	"fmt"
	"os"

	"agentos/internal/audit"
	"agentos/internal/graph"
	"agentos/internal/logging"
	"agentos/internal/workflow/implspec"
)

// loadInput resolves the approved LLD, extracts its test plan, and
// opens the audit trail for this run.
func (w *Workflow) loadInput(_ context.Context, s graph.State) (graph.State, error) {
	issueNumber := s.GetInt("issue_number")
	if issueNumber == 0 {
		return graph.State{keyErrorMessage: "no issue number provided"}, nil
	}
	logging.Workflow("loading test plan for issue #%d", issueNumber)

	lldPath := s.GetString("lld_path")
	if lldPath == "" {
		lldPath = implspec.FindLLDPath(w.Trail.Root(), issueNumber)
	}
	if lldPath == "" {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"LLD not found for issue #%d", issueNumber)}, nil
	}

	data, err := os.ReadFile(lldPath)
	if err != nil {
		return graph.State{keyErrorMessage: fmt.Sprintf("failed to read LLD: %v", err)}, nil
	}
	content := string(data)
	if !implspec.IsApproved(content) {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"LLD for issue #%d is not approved; testing runs only against approved LLDs",
			issueNumber)}, nil
	}

	testPlan := ExtractTestPlanSection(content)
	if testPlan == "" {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"LLD for issue #%d has no test plan section", issueNumber)}, nil
	}
	scenarios := ParseTestScenarios(testPlan)
	if len(scenarios) == 0 {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"test plan for issue #%d lists no scenarios", issueNumber)}, nil
	}

	auditDir, err := w.Trail.CreateLegacyAuditDir(issueNumber, "testing")
	if err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}
	if _, err := audit.SaveFile(auditDir, audit.NextFileNumber(auditDir), "issue.md", content); err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}

	logging.Workflow("test plan: %d scenarios, coverage target %d%%",
		len(scenarios), ExtractCoverageTarget(content))

	return graph.State{
		"lld_path":        lldPath,
		"lld_content":     content,
		"test_plan":       testPlan,
		"test_scenarios":  scenarios,
		"requirements":    ExtractRequirements(content),
		"coverage_target": ExtractCoverageTarget(content),
		keyAuditDir:       auditDir,
		keyErrorMessage:   "",
	}, nil
}
