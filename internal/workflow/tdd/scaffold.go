package tdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"agentos/internal/audit"
	"agentos/internal/graph"
	"agentos/internal/logging"
)

// testTypeOrder fixes the section order in generated test files.
var testTypeOrder = []string{"unit", "integration", "browser", "security"}

var testTypeTitles = map[string]string{
	"unit":        "Unit Tests",
	"integration": "Integration Tests",
	"browser":     "Browser Tests",
	"security":    "Security Tests",
}

// GenerateTestFileContent renders a failing pytest skeleton for the
// scenarios: every test body asserts False so the red phase is honest.
func GenerateTestFileContent(scenarios []TestScenario, moduleName string, issueNumber int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\"\"\"Tests for %s (issue #%d).\n\nGenerated scaffold; bodies fail until the implementation lands.\n\"\"\"\n\n", moduleName, issueNumber)
	b.WriteString("import pytest\n\n")

	if anyMockNeeded(scenarios) {
		b.WriteString("@pytest.fixture\ndef mock_external_service():\n")
		b.WriteString("    \"\"\"Stand-in for the external service these tests isolate.\"\"\"\n")
		b.WriteString("    class _Mock:\n        pass\n    return _Mock()\n\n")
	}

	byType := make(map[string][]TestScenario)
	for _, sc := range scenarios {
		byType[sc.TestType] = append(byType[sc.TestType], sc)
	}

	for _, testType := range typeKeys(byType) {
		fmt.Fprintf(&b, "\n# %s\n\n", testTypeTitles[testType])
		for _, sc := range byType[testType] {
			args := ""
			if sc.MockNeeded {
				args = "mock_external_service"
			}
			fmt.Fprintf(&b, "def %s(%s):\n", sc.Name, args)
			if sc.Description != "" {
				fmt.Fprintf(&b, "    \"\"\"%s\"\"\"\n", sc.Description)
			}
			if sc.RequirementRef != "" {
				fmt.Fprintf(&b, "    # Covers %s\n", sc.RequirementRef)
			}
			b.WriteString("    assert False, \"TDD: Implementation pending\"\n\n")
		}
	}
	return b.String()
}

func anyMockNeeded(scenarios []TestScenario) bool {
	for _, sc := range scenarios {
		if sc.MockNeeded {
			return true
		}
	}
	return false
}

// typeKeys returns the populated test types in canonical order, with
// unknown types appended alphabetically.
func typeKeys(byType map[string][]TestScenario) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, t := range testTypeOrder {
		if len(byType[t]) > 0 {
			keys = append(keys, t)
			seen[t] = true
		}
	}
	var extra []string
	for t := range byType {
		if !seen[t] {
			extra = append(extra, t)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

// scaffoldTests writes the failing test file under tests/ and records
// it in state.
func (w *Workflow) scaffoldTests(_ context.Context, s graph.State) (graph.State, error) {
	issueNumber := s.GetInt("issue_number")
	scenarios := decodeScenarios(s["test_scenarios"])
	if len(scenarios) == 0 {
		return graph.State{keyErrorMessage: "no test scenarios to scaffold"}, nil
	}

	moduleName := fmt.Sprintf("issue_%d", issueNumber)
	content := GenerateTestFileContent(scenarios, moduleName, issueNumber)

	testsDir := filepath.Join(w.Trail.Root(), "tests")
	if err := os.MkdirAll(testsDir, 0o755); err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}
	testPath := filepath.Join(testsDir, fmt.Sprintf("test_%s.py", moduleName))
	if err := os.WriteFile(testPath, []byte(content), 0o644); err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}
	logging.Workflow("scaffolded %d scenarios into %s", len(scenarios), testPath)

	if auditDir := s.GetString(keyAuditDir); auditDir != "" {
		if _, err := audit.SaveFile(auditDir, audit.NextFileNumber(auditDir), "test-scaffold.py", content); err != nil {
			logging.Audit("failed to save scaffold artifact: %v", err)
		}
	}

	return graph.State{
		keyTestFiles:    []string{testPath},
		keyErrorMessage: "",
	}, nil
}
