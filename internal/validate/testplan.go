package validate

import (
	"fmt"
	"strings"
	"time"
)

// MaxValidationAttempts bounds mechanical validation retries; beyond this
// the workflow escalates to a terminal error instead of looping.
const MaxValidationAttempts = 3

// Closed pattern sets. A test plan matching these cannot be executed
// mechanically, so it fails before any model review.
var vagueAssertionPatterns = []string{
	"works correctly",
	"behaves as expected",
	"functions properly",
	"should work",
	"is correct",
}

var humanDelegationPatterns = []string{
	"manually verify",
	"human review",
	"ask the user",
	"visually inspect",
}

// ValidateTestPlan runs the full mechanical test-plan check: requirement
// coverage, per-scenario requirement references, vague assertions, and
// human delegation.
func ValidateTestPlan(markdown string) *Result {
	start := time.Now()

	r := CheckCoverage(markdown)

	scenarios := extractScenarios(markdown)
	r.TestsCount = len(scenarios)

	if len(scenarios) == 0 {
		r.Violations = append(r.Violations, Violation{
			Severity:  SeverityError,
			CheckType: "test_scenarios",
			Message:   "no test scenarios found in Section 10",
		})
	}

	for i, sc := range scenarios {
		if !reqIDPattern.MatchString(sc) && !reqProsePattern.MatchString(sc) {
			r.Violations = append(r.Violations, Violation{
				Severity:  SeverityError,
				CheckType: "unmapped_test",
				Message:   fmt.Sprintf("scenario %d references no requirement: %s", i+1, truncate(sc, 60)),
			})
		}
	}

	r.Violations = append(r.Violations, checkVagueAssertions(scenarios)...)
	r.Violations = append(r.Violations, checkHumanDelegation(scenarios)...)

	r.Passed = r.ErrorCount() == 0
	r.ExecutionMs = float64(time.Since(start).Microseconds()) / 1000
	return r
}

// extractScenarios returns one string per test scenario in Section 10:
// table body rows and numbered list items.
func extractScenarios(markdown string) []string {
	section := ExtractSection(markdown, testPlanSection)
	var scenarios []string

	sawHeader := false
	for _, line := range strings.Split(section, "\n") {
		if m := tableRow.FindStringSubmatch(line); m != nil {
			cells := splitCells(m[1])
			if isSeparatorRow(cells) {
				continue
			}
			if !sawHeader {
				sawHeader = true
				continue
			}
			scenarios = append(scenarios, strings.TrimSpace(line))
			continue
		}
		sawHeader = false
		if numberedItem.MatchString(line) {
			scenarios = append(scenarios, strings.TrimSpace(line))
		}
	}
	return scenarios
}

func checkVagueAssertions(scenarios []string) []Violation {
	var violations []Violation
	for i, sc := range scenarios {
		lower := strings.ToLower(sc)
		for _, pattern := range vagueAssertionPatterns {
			if strings.Contains(lower, pattern) {
				violations = append(violations, Violation{
					Severity:  SeverityError,
					CheckType: "vague_assertion",
					Message:   fmt.Sprintf("scenario %d uses vague assertion %q", i+1, pattern),
				})
			}
		}
	}
	return violations
}

func checkHumanDelegation(scenarios []string) []Violation {
	var violations []Violation
	for i, sc := range scenarios {
		lower := strings.ToLower(sc)
		for _, pattern := range humanDelegationPatterns {
			if strings.Contains(lower, pattern) {
				violations = append(violations, Violation{
					Severity:  SeverityError,
					CheckType: "human_delegation",
					Message:   fmt.Sprintf("scenario %d delegates verification to a human (%q)", i+1, pattern),
				})
			}
		}
	}
	return violations
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
