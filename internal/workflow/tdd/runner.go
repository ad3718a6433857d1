package tdd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"agentos/internal/logging"
)

// Pytest exit codes the routers care about.
const (
	exitAllPassed        = 0
	exitTestsFailed      = 1
	exitInternalError    = 3
	exitNoTestsCollected = 5
)

// RunSpec describes one pytest invocation.
type RunSpec struct {
	// TestFiles limits collection; empty means the whole suite.
	TestFiles []string

	// CoverageModule enables --cov when non-empty.
	CoverageModule string
	CoverageTarget int
}

// RunResult is the parsed outcome of a pytest run. ExitCode -1 marks a
// harness failure (timeout, pytest missing) rather than a test outcome.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string

	Passed   int
	Failed   int
	Errors   int
	Coverage int
}

// TestRunner runs the test suite. The workflow never shells out
// directly; tests inject deterministic outcomes.
type TestRunner interface {
	Run(ctx context.Context, spec RunSpec) RunResult
}

// PytestRunner invokes python -m pytest in the repository root.
type PytestRunner struct {
	repoRoot string
	timeout  time.Duration
}

// NewPytestRunner builds a runner with the given per-run timeout in
// seconds (default 300).
func NewPytestRunner(repoRoot string, timeoutSeconds int) *PytestRunner {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 300
	}
	return &PytestRunner{repoRoot: repoRoot, timeout: time.Duration(timeoutSeconds) * time.Second}
}

func (r *PytestRunner) Run(ctx context.Context, spec RunSpec) RunResult {
	args := []string{"-m", "pytest"}
	args = append(args, spec.TestFiles...)
	args = append(args, "-v", "--tb=short")
	if spec.CoverageModule != "" {
		args = append(args, "--cov="+spec.CoverageModule)
		if spec.CoverageTarget > 0 {
			args = append(args, fmt.Sprintf("--cov-fail-under=%d", spec.CoverageTarget))
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "python", args...)
	cmd.Dir = r.repoRoot
	stdout, err := cmd.Output()

	result := RunResult{Stdout: string(stdout)}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		result.Stderr = string(exitErr.Stderr)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.ExitCode = -1
			result.Stderr = fmt.Sprintf("pytest timed out after %s", r.timeout)
		}
	default:
		result.ExitCode = -1
		result.Stderr = fmt.Sprintf("pytest not found or failed to start: %v", err)
	}

	parsePytestOutput(&result)
	logging.Workflow("pytest exit=%d passed=%d failed=%d errors=%d coverage=%d%%",
		result.ExitCode, result.Passed, result.Failed, result.Errors, result.Coverage)
	return result
}

var (
	passedRe   = regexp.MustCompile(`(\d+) passed`)
	failedRe   = regexp.MustCompile(`(\d+) failed`)
	errorsRe   = regexp.MustCompile(`(\d+) error`)
	coverageRe = regexp.MustCompile(`TOTAL\s+\d+\s+\d+\s+(\d+)%`)
)

// parsePytestOutput fills the counters from the summary line and the
// coverage TOTAL row.
func parsePytestOutput(r *RunResult) {
	out := r.Stdout + "\n" + r.Stderr
	r.Passed = firstInt(passedRe, out)
	r.Failed = firstInt(failedRe, out)
	r.Errors = firstInt(errorsRe, out)
	r.Coverage = firstInt(coverageRe, out)
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
