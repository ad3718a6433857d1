package tdd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentos/internal/audit"
	"agentos/internal/config"
	"agentos/internal/graph"
	"agentos/internal/provider"
	"agentos/internal/validate/completeness"
)

const approvedLLD = `# LLD: Record Validation

* **Status:** Approved

## 1. Context

The loader accepts malformed records today.

## 3. Requirements

1. REQ-1: Malformed records are rejected with a diagnostic
2. REQ-2: Valid records pass through unchanged

## 10. Test Plan

Target coverage: 90%

### test_rejects_malformed
Malformed records are rejected with a diagnostic.
Requirement: REQ-1

### test_accepts_valid
Valid records pass through unchanged.
Requirement: REQ-2
Mock: upstream record source
`

const completeImplementation = "Here is the implementation.\n\n" +
	"```python\n# File: src/records.py\n" +
	"def validate(record):\n" +
	"    if not record:\n" +
	"        raise ValueError(\"empty record\")\n" +
	"    return record\n" +
	"```\n"

const stubImplementation = "```python\n# File: src/records.py\n" +
	"def validate(record):\n" +
	"    \"\"\"Validate a record.\"\"\"\n" +
	"```\n"

// fakeRunner returns scripted results in order, repeating the last.
type fakeRunner struct {
	results []RunResult
	calls   int
	specs   []RunSpec
}

func (r *fakeRunner) Run(_ context.Context, spec RunSpec) RunResult {
	r.specs = append(r.specs, spec)
	i := r.calls
	r.calls++
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	return r.results[i]
}

func writeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	lldPath := filepath.Join(root, "docs/lld/active/LLD-042.md")
	if err := os.MkdirAll(filepath.Dir(lldPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lldPath, []byte(approvedLLD), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func newTestWorkflow(t *testing.T, root string, implementer provider.Provider, runner TestRunner) *Workflow {
	t.Helper()
	return &Workflow{
		Implementer: implementer,
		Trail:       audit.NewTrail(root),
		Runner:      runner,
		Config:      config.Default(),
	}
}

func invoke(t *testing.T, w *Workflow, initial graph.State) graph.State {
	t.Helper()
	run, err := w.BuildGraph().Compile(nil)
	if err != nil {
		t.Fatal(err)
	}
	final, err := run.Invoke(context.Background(), "testing-42", initial)
	if err != nil {
		t.Fatal(err)
	}
	return final
}

func TestWorkflowGreenPathFinalizes(t *testing.T) {
	root := writeRepo(t)
	// Scripted runs: red, green, e2e.
	runner := &fakeRunner{results: []RunResult{
		{ExitCode: exitTestsFailed, Failed: 2},
		{ExitCode: exitAllPassed, Passed: 2, Coverage: 96},
		{ExitCode: exitAllPassed, Passed: 12},
	}}
	w := newTestWorkflow(t, root, provider.NewMockProvider("impl", []string{completeImplementation}, 0), runner)

	final := invoke(t, w, graph.State{"issue_number": 42})

	if msg := final.GetString("error_message"); msg != "" {
		t.Fatalf("error_message = %q", msg)
	}
	if runner.calls != 3 {
		t.Fatalf("runner invoked %d times, want 3", runner.calls)
	}
	if _, err := os.Stat(filepath.Join(root, "src/records.py")); err != nil {
		t.Fatalf("implementation not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "tests/test_issue_42.py")); err != nil {
		t.Fatalf("scaffold not written: %v", err)
	}
	doneDir := filepath.Join(root, "docs/audit/done/42-testing")
	if _, err := os.Stat(doneDir); err != nil {
		t.Fatalf("audit dir not archived: %v", err)
	}
}

func TestCompletenessBlockLoopStopsAtCap(t *testing.T) {
	root := writeRepo(t)
	runner := &fakeRunner{results: []RunResult{
		{ExitCode: exitTestsFailed, Failed: 2}, // red phase only
	}}
	w := newTestWorkflow(t, root, provider.NewMockProvider("impl", []string{stubImplementation}, 0), runner)

	final := invoke(t, w, graph.State{"issue_number": 42})

	if got := final.GetString("completeness_verdict"); got != completeness.VerdictBlock {
		t.Fatalf("completeness_verdict = %q", got)
	}
	if got := final.GetInt("completeness_iterations"); got != 3 {
		t.Fatalf("completeness_iterations = %d, want 3", got)
	}
	// Verification never runs after the red phase: every implementation
	// attempt was blocked by the gate.
	if runner.calls != 1 {
		t.Fatalf("runner invoked %d times, want 1 (red phase only)", runner.calls)
	}
	if fb := final.GetString("completeness_feedback"); !strings.Contains(fb, "records.py") {
		t.Fatalf("completeness_feedback = %q", fb)
	}
}

func TestE2EExitCodeFiveProceedsToFinalize(t *testing.T) {
	root := writeRepo(t)
	runner := &fakeRunner{results: []RunResult{
		{ExitCode: exitTestsFailed, Failed: 2},
		{ExitCode: exitAllPassed, Passed: 2, Coverage: 96},
		{ExitCode: exitNoTestsCollected, Stdout: "collected 0 items"},
	}}
	w := newTestWorkflow(t, root, provider.NewMockProvider("impl", []string{completeImplementation}, 0), runner)

	final := invoke(t, w, graph.State{"issue_number": 42})

	if msg := final.GetString("error_message"); msg != "" {
		t.Fatalf("error_message = %q", msg)
	}
	doneDir := filepath.Join(root, "docs/audit/done/42-testing")
	if _, err := os.Stat(doneDir); err != nil {
		t.Fatalf("audit dir not archived after exit 5: %v", err)
	}
}

func TestVerifyRedRejectsPassingSuite(t *testing.T) {
	root := writeRepo(t)
	runner := &fakeRunner{results: []RunResult{
		{ExitCode: exitAllPassed, Passed: 2},
	}}
	w := newTestWorkflow(t, root, provider.NewMockProvider("impl", []string{completeImplementation}, 0), runner)

	final := invoke(t, w, graph.State{"issue_number": 42})

	if msg := final.GetString("error_message"); !strings.Contains(msg, "unexpectedly") {
		t.Fatalf("error_message = %q", msg)
	}
	// The implementer must never run when the red phase is dishonest.
	if mock := w.Implementer.(*provider.MockProvider); mock.CallCount() != 0 {
		t.Fatalf("implementer invoked %d times", mock.CallCount())
	}
}

func TestVerifyGreenLowCoverageIterates(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{results: []RunResult{
		{ExitCode: exitAllPassed, Passed: 3, Coverage: 70, Stdout: "3 passed"},
	}}
	w := newTestWorkflow(t, root, provider.NewMockProvider("impl", nil, 0), runner)

	update, err := w.verifyGreen(context.Background(), graph.State{
		"coverage_target": 90,
		"iteration_count": 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if update.GetString("next_node") != nodeImplementCode {
		t.Fatalf("next_node = %q", update.GetString("next_node"))
	}
	if update.GetInt("iteration_count") != 1 {
		t.Fatalf("iteration_count = %d", update.GetInt("iteration_count"))
	}
	if !strings.Contains(update.GetString("last_run_output"), "3 passed") {
		t.Fatal("last run output not carried for the next prompt")
	}
}

func TestVerifyGreenStopsAtMaxIterations(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{results: []RunResult{
		{ExitCode: exitTestsFailed, Failed: 1},
	}}
	w := newTestWorkflow(t, root, provider.NewMockProvider("impl", nil, 0), runner)

	update, err := w.verifyGreen(context.Background(), graph.State{
		"iteration_count": 9,
		"max_iterations":  10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg := update.GetString("error_message"); !strings.Contains(msg, "10 iterations") {
		t.Fatalf("error_message = %q", msg)
	}
}

func TestExtractTestPlanSection(t *testing.T) {
	plan := ExtractTestPlanSection(approvedLLD)
	if !strings.Contains(plan, "test_rejects_malformed") {
		t.Fatalf("plan missing scenario:\n%s", plan)
	}
	if strings.Contains(plan, "## 3.") {
		t.Fatal("plan leaked other sections")
	}
	if ExtractTestPlanSection("# LLD\n\n## 1. Context\n") != "" {
		t.Fatal("missing section must yield empty plan")
	}
}

func TestExtractCoverageTarget(t *testing.T) {
	if got := ExtractCoverageTarget(approvedLLD); got != 90 {
		t.Fatalf("coverage target = %d, want 90", got)
	}
	if got := ExtractCoverageTarget("no mention"); got != DefaultCoverageTarget {
		t.Fatalf("default coverage target = %d", got)
	}
}

func TestParseTestScenarios(t *testing.T) {
	scenarios := ParseTestScenarios(ExtractTestPlanSection(approvedLLD))
	if len(scenarios) != 2 {
		t.Fatalf("got %d scenarios, want 2", len(scenarios))
	}
	if scenarios[0].Name != "test_rejects_malformed" || scenarios[0].RequirementRef != "REQ-1" {
		t.Fatalf("scenarios[0] = %+v", scenarios[0])
	}
	if !scenarios[1].MockNeeded {
		t.Fatal("Mock: marker not detected")
	}
}

func TestExtractRequirements(t *testing.T) {
	reqs := ExtractRequirements(approvedLLD)
	if len(reqs) != 2 {
		t.Fatalf("got %d requirements: %v", len(reqs), reqs)
	}
	if !strings.Contains(reqs[0], "REQ-1") {
		t.Fatalf("reqs[0] = %q", reqs[0])
	}
}

func TestGenerateTestFileContent(t *testing.T) {
	scenarios := ParseTestScenarios(ExtractTestPlanSection(approvedLLD))
	content := GenerateTestFileContent(scenarios, "records", 42)

	if !strings.Contains(content, "def test_rejects_malformed():") {
		t.Fatalf("missing plain scenario:\n%s", content)
	}
	if !strings.Contains(content, "def test_accepts_valid(mock_external_service):") {
		t.Fatalf("mock scenario missing fixture arg:\n%s", content)
	}
	if !strings.Contains(content, "@pytest.fixture") {
		t.Fatal("mock fixture not emitted")
	}
	if !strings.Contains(content, "TDD: Implementation pending") {
		t.Fatal("scaffold bodies must fail")
	}
}

func TestParseFileBlocks(t *testing.T) {
	blocks := ParseFileBlocks(completeImplementation)
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks", len(blocks))
	}
	if blocks[0].Path != "src/records.py" {
		t.Fatalf("path = %q", blocks[0].Path)
	}
	if !strings.Contains(blocks[0].Content, "def validate") {
		t.Fatalf("content = %q", blocks[0].Content)
	}
	if strings.Contains(blocks[0].Content, "# File:") {
		t.Fatal("marker line leaked into content")
	}

	if got := ParseFileBlocks("no code here"); got != nil {
		t.Fatalf("got %v from plain text", got)
	}
}

func TestWriteImplementationFilesProtectsTests(t *testing.T) {
	root := t.TempDir()
	scaffold := filepath.Join(root, "tests/test_issue_42.py")
	if err := os.MkdirAll(filepath.Dir(scaffold), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(scaffold, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	blocks := []FileBlock{
		{Path: "src/ok.py", Content: "x = 1\n"},
		{Path: "tests/test_issue_42.py", Content: "hijacked"},
		{Path: "test_other.py", Content: "hijacked"},
		{Path: "../escape.py", Content: "hijacked"},
	}
	written, err := WriteImplementationFiles(blocks, root, []string{scaffold})
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 1 || filepath.Base(written[0]) != "ok.py" {
		t.Fatalf("written = %v", written)
	}
	data, err := os.ReadFile(scaffold)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Fatal("scaffolded test was overwritten")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.py")); err == nil {
		t.Fatal("path escape written outside repo")
	}
}

func TestParsePytestOutput(t *testing.T) {
	r := RunResult{Stdout: "2 failed, 3 passed in 0.2s\nTOTAL 100 10 90%"}
	parsePytestOutput(&r)
	if r.Passed != 3 || r.Failed != 2 || r.Coverage != 90 {
		t.Fatalf("parsed = %+v", r)
	}

	r = RunResult{Stdout: "1 error during collection"}
	parsePytestOutput(&r)
	if r.Errors != 1 {
		t.Fatalf("errors = %d", r.Errors)
	}
}

func TestLoadInputGuards(t *testing.T) {
	root := writeRepo(t)
	w := newTestWorkflow(t, root, provider.NewMockProvider("impl", nil, 0), &fakeRunner{results: []RunResult{{}}})

	update, err := w.loadInput(context.Background(), graph.State{"issue_number": 999})
	if err != nil {
		t.Fatal(err)
	}
	if msg := update.GetString("error_message"); !strings.Contains(msg, "not found") {
		t.Fatalf("error_message = %q", msg)
	}

	unapproved := strings.ReplaceAll(approvedLLD, "Approved", "Pending")
	if err := os.WriteFile(filepath.Join(root, "docs/lld/active/LLD-007.md"), []byte(unapproved), 0o644); err != nil {
		t.Fatal(err)
	}
	update, err = w.loadInput(context.Background(), graph.State{"issue_number": 7})
	if err != nil {
		t.Fatal(err)
	}
	if msg := update.GetString("error_message"); !strings.Contains(msg, "not approved") {
		t.Fatalf("error_message = %q", msg)
	}

	noPlan := strings.Replace(approvedLLD, "## 10. Test Plan", "## 10. Appendix", 1)
	if err := os.WriteFile(filepath.Join(root, "docs/lld/active/LLD-008.md"), []byte(noPlan), 0o644); err != nil {
		t.Fatal(err)
	}
	update, err = w.loadInput(context.Background(), graph.State{"issue_number": 8})
	if err != nil {
		t.Fatal(err)
	}
	if msg := update.GetString("error_message"); !strings.Contains(msg, "no test plan") {
		t.Fatalf("error_message = %q", msg)
	}
}

func TestScaffoldOnlyStopsAfterScaffold(t *testing.T) {
	root := writeRepo(t)
	runner := &fakeRunner{results: []RunResult{{}}}
	w := newTestWorkflow(t, root, provider.NewMockProvider("impl", nil, 0), runner)

	final := invoke(t, w, graph.State{"issue_number": 42, "scaffold_only": true})

	if msg := final.GetString("error_message"); msg != "" {
		t.Fatalf("error_message = %q", msg)
	}
	if runner.calls != 0 {
		t.Fatalf("runner invoked %d times in scaffold-only mode", runner.calls)
	}
	if _, err := os.Stat(filepath.Join(root, "tests/test_issue_42.py")); err != nil {
		t.Fatalf("scaffold not written: %v", err)
	}
}
