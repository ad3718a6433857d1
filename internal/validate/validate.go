// Package validate holds the mechanical document validators that run
// before any model review: requirement coverage, LLD structure, and
// test-plan quality. All checks are deterministic string and regex work
// so a failing draft gets specific, reproducible feedback.
package validate

import (
	"fmt"
	"strings"
)

// Severity of a violation.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Violation is one mechanical check failure.
type Violation struct {
	Severity  string `json:"severity"`
	CheckType string `json:"check_type"`
	Message   string `json:"message"`
}

// Result is the outcome of a validator run.
type Result struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations"`

	CoveragePct       float64  `json:"coverage_percentage"`
	RequirementsCount int      `json:"requirements_count"`
	MappedCount       int      `json:"mapped_count"`
	TestsCount        int      `json:"tests_count"`
	Missing           []string `json:"missing,omitempty"`

	ExecutionMs float64 `json:"execution_time_ms"`
}

// ErrorCount returns the number of error-severity violations.
func (r *Result) ErrorCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			n++
		}
	}
	return n
}

// WarningCount returns the number of warning-severity violations.
func (r *Result) WarningCount() int {
	return len(r.Violations) - r.ErrorCount()
}

// BuildFeedback renders a failed result as markdown feedback for the
// drafter. Errors must be fixed; warnings are advisory.
func BuildFeedback(r *Result) string {
	lines := []string{
		"## Mechanical Test Plan Validation Failed",
		"",
		fmt.Sprintf("**Coverage:** %.2f%% (%d/%d requirements mapped)",
			r.CoveragePct, r.MappedCount, r.RequirementsCount),
		"",
	}

	var errors, warnings []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			errors = append(errors, v)
		} else {
			warnings = append(warnings, v)
		}
	}

	if len(errors) > 0 {
		lines = append(lines, "### Errors (must fix)", "")
		for _, v := range errors {
			lines = append(lines, fmt.Sprintf("- **%s**: %s", v.CheckType, v.Message))
		}
		lines = append(lines, "")
	}
	if len(warnings) > 0 {
		lines = append(lines, "### Warnings (consider fixing)", "")
		for _, v := range warnings {
			lines = append(lines, fmt.Sprintf("- **%s**: %s", v.CheckType, v.Message))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "Please revise the LLD to address the errors above.")
	return strings.Join(lines, "\n")
}
