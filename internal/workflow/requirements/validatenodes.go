package requirements

import (
	"context"
	"fmt"

	"agentos/internal/graph"
	"agentos/internal/logging"
	"agentos/internal/validate"
)

// validateMechanical runs the structural validator on the draft. Errors
// block and feed the drafter; warnings pass through.
func (w *Workflow) validateMechanical(_ context.Context, s graph.State) (graph.State, error) {
	result := validate.ValidateStructure(s.GetString(keyDraft))
	logging.Validator("structural validation: %d errors, %d warnings (%.0fms)",
		result.ErrorCount(), result.WarningCount(), result.ExecutionMs)

	if result.ErrorCount() > 0 {
		for _, v := range result.Violations {
			logging.Validator("  [%s] %s: %s", v.Severity, v.CheckType, v.Message)
		}
		return graph.State{
			keyLLDStatus:          StatusBlocked,
			"validation_feedback": validate.BuildFeedback(result),
		}, nil
	}
	return graph.State{keyLLDStatus: "PENDING", "validation_feedback": ""}, nil
}

// validateTestPlan runs coverage plus test-plan heuristics. Attempts are
// bounded; breaching the bound escalates to a terminal error instead of
// another drafter round.
func (w *Workflow) validateTestPlan(_ context.Context, s graph.State) (graph.State, error) {
	attempts := s.GetInt("test_plan_attempts") + 1
	maxAttempts := w.Config.Validation.MaxValidationAttempts
	if maxAttempts <= 0 {
		maxAttempts = validate.MaxValidationAttempts
	}
	if attempts > maxAttempts {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"test plan validation failed after %d attempts; escalating", maxAttempts)}, nil
	}

	draft := s.GetString(keyDraft)
	coverage := validate.CheckCoverage(draft)
	plan := validate.ValidateTestPlan(draft)

	passed := coverage.Passed && plan.Passed
	logging.Validator("test plan validation attempt %d/%d: coverage=%.2f%% passed=%t",
		attempts, maxAttempts, coverage.CoveragePct, passed)

	update := graph.State{
		"test_plan_attempts": attempts,
		"test_plan_passed":   passed,
		"coverage_pct":       coverage.CoveragePct,
		keyErrorMessage:      "",
	}
	if !passed {
		feedback := validate.BuildFeedback(coverage)
		if !plan.Passed {
			feedback += "\n" + validate.BuildFeedback(plan)
		}
		update[keyLLDStatus] = StatusBlocked
		update["validation_feedback"] = feedback
	}
	return update, nil
}
