package tdd

import (
	"context"
	"fmt"
	"os"

	"agentos/internal/audit"
	"agentos/internal/graph"
	"agentos/internal/logging"
)

// verifyRed runs the scaffolded tests and demands failures: a suite
// that passes before any implementation exists is not testing anything.
func (w *Workflow) verifyRed(ctx context.Context, s graph.State) (graph.State, error) {
	testFiles := s.GetStrings(keyTestFiles)
	if len(testFiles) == 0 {
		return graph.State{keyErrorMessage: "GUARD: no test files to verify"}, nil
	}
	for _, tf := range testFiles {
		if _, err := os.Stat(tf); err != nil {
			return graph.State{keyErrorMessage: fmt.Sprintf("GUARD: test file missing: %s", tf)}, nil
		}
	}

	result := w.Runner.Run(ctx, RunSpec{TestFiles: testFiles})
	w.saveRunArtifact(s, "red-phase.txt", result)

	switch {
	case result.ExitCode == -1:
		return graph.State{keyErrorMessage: result.Stderr}, nil
	case result.ExitCode == exitNoTestsCollected:
		return graph.State{keyErrorMessage: "No tests collected in red phase"}, nil
	case result.Errors > 0:
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"red phase hit %d collection/import errors", result.Errors)}, nil
	case result.ExitCode == exitAllPassed:
		return graph.State{keyErrorMessage: "tests passed unexpectedly before implementation"}, nil
	}

	logging.Workflow("red phase confirmed: %d failing tests", result.Failed)
	return graph.State{keyNextNode: nodeImplementCode, keyErrorMessage: ""}, nil
}

// verifyGreen runs the suite after implementation. Failures and low
// coverage loop back to the implementer until the iteration cap; exit
// code 5 is treated as forward progress rather than a failure.
func (w *Workflow) verifyGreen(ctx context.Context, s graph.State) (graph.State, error) {
	result := w.Runner.Run(ctx, RunSpec{
		TestFiles:      s.GetStrings(keyTestFiles),
		CoverageModule: s.GetString("coverage_module"),
		CoverageTarget: s.GetInt("coverage_target"),
	})
	w.saveRunArtifact(s, "green-phase.txt", result)

	forward := nodeE2EValidation
	if s.GetBool("skip_e2e") {
		forward = nodeFinalize
	}

	switch result.ExitCode {
	case -1, exitInternalError:
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"green phase did not run: %s", result.Stderr)}, nil
	case exitNoTestsCollected:
		logging.Workflow("green phase collected no tests, proceeding")
		return graph.State{keyNextNode: forward, keyErrorMessage: ""}, nil
	case exitAllPassed:
		target := s.GetInt("coverage_target")
		if target > 0 && result.Coverage > 0 && result.Coverage < target {
			return w.iterateOrStop(s, result, fmt.Sprintf(
				"coverage %d%% below target %d%%", result.Coverage, target))
		}
		logging.Workflow("green phase: %d passed, coverage %d%%", result.Passed, result.Coverage)
		return graph.State{keyNextNode: forward, keyErrorMessage: ""}, nil
	default:
		return w.iterateOrStop(s, result, fmt.Sprintf("%d tests still failing", result.Failed))
	}
}

// iterateOrStop loops back to implementation with the run output, or
// stops once the iteration cap is reached.
func (w *Workflow) iterateOrStop(s graph.State, result RunResult, reason string) (graph.State, error) {
	iteration := s.GetInt(keyIterationCount) + 1
	if iteration >= w.maxIterations(s) {
		return graph.State{
			keyIterationCount: iteration,
			keyErrorMessage: fmt.Sprintf(
				"%s after %d iterations", reason, iteration),
		}, nil
	}
	logging.Workflow("green phase: %s, re-implementing (iteration %d)", reason, iteration)
	return graph.State{
		keyNextNode:       nodeImplementCode,
		keyIterationCount: iteration,
		keyLastRunOutput:  result.Stdout + result.Stderr,
		keyErrorMessage:   "",
	}, nil
}

// e2eValidation runs the full suite, not just the scaffolded files.
// Exit code 5 (nothing collected) proceeds to finalize; a repo whose
// e2e layer has no tests must not loop the implementer forever.
func (w *Workflow) e2eValidation(ctx context.Context, s graph.State) (graph.State, error) {
	if s.GetBool("skip_e2e") {
		return graph.State{keyNextNode: nodeFinalize, keyErrorMessage: ""}, nil
	}

	result := w.Runner.Run(ctx, RunSpec{})
	w.saveRunArtifact(s, "e2e-validation.txt", result)

	switch result.ExitCode {
	case exitAllPassed, exitNoTestsCollected:
		return graph.State{keyNextNode: nodeFinalize, keyErrorMessage: ""}, nil
	case exitTestsFailed:
		return w.iterateOrStop(s, result, fmt.Sprintf(
			"e2e validation: %d tests failing", result.Failed))
	default:
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"e2e validation internal error (exit %d): %s", result.ExitCode, result.Stderr)}, nil
	}
}

// finalize archives the audit trail and reports the run.
func (w *Workflow) finalize(_ context.Context, s graph.State) (graph.State, error) {
	issueNumber := s.GetInt("issue_number")

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

	w.Trail.LogWorkflowExecution("", "testing", "finalized", map[string]any{
		"issue_number":         issueNumber,
		"iterations":           s.GetInt(keyIterationCount),
		"test_files":           len(s.GetStrings(keyTestFiles)),
		"implementation_files": len(s.GetStrings(keyImplFiles)),
	})

	fmt.Printf("    Done: issue #%d green (iterations=%d, files=%d)\n",
		issueNumber, s.GetInt(keyIterationCount), len(s.GetStrings(keyImplFiles)))
	return graph.State{keyErrorMessage: ""}, nil
}

// saveRunArtifact persists one pytest run to the audit trail.
func (w *Workflow) saveRunArtifact(s graph.State, suffix string, result RunResult) {
	auditDir := s.GetString(keyAuditDir)
	if auditDir == "" {
		return
	}
	content := fmt.Sprintf("exit code: %d\n\n--- stdout ---\n%s\n--- stderr ---\n%s\n",
		result.ExitCode, result.Stdout, result.Stderr)
	if _, err := audit.SaveFile(auditDir, audit.NextFileNumber(auditDir), suffix, content); err != nil {
		logging.Audit("failed to save %s: %v", suffix, err)
	}
}
