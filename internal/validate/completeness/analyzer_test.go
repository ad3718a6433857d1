package completeness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func analyze(t *testing.T, content string) *Result {
	t.Helper()
	path := writeSource(t, "sample.py", content)
	result, err := NewAnalyzer(0).AnalyzeFiles([]string{path})
	if err != nil {
		t.Fatalf("AnalyzeFiles failed: %v", err)
	}
	return result
}

func findIssues(r *Result, detector string) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Detector == detector {
			out = append(out, i)
		}
	}
	return out
}

func TestDeadCLIFlag(t *testing.T) {
	src := `import argparse

def main():
    parser = argparse.ArgumentParser()
    parser.add_argument("--dry-run", action="store_true")
    parser.add_argument("--verbose", action="store_true")
    args = parser.parse_args()
    if args.verbose:
        print("verbose")
`
	r := analyze(t, src)
	issues := findIssues(r, "dead_cli_flag")
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want one dead flag", issues)
	}
	if issues[0].Severity != SeverityError {
		t.Fatalf("severity = %s, want ERROR", issues[0].Severity)
	}
	if !strings.Contains(issues[0].Message, "--dry-run") {
		t.Fatalf("message = %q", issues[0].Message)
	}
	if r.Verdict != VerdictBlock {
		t.Fatalf("verdict = %s, want BLOCK", r.Verdict)
	}
}

func TestDeadCLIFlagRespectsDest(t *testing.T) {
	src := `import argparse

def main():
    parser = argparse.ArgumentParser()
    parser.add_argument("--count", dest="limit")
    args = parser.parse_args()
    return args.limit
`
	r := analyze(t, src)
	if issues := findIssues(r, "dead_cli_flag"); len(issues) != 0 {
		t.Fatalf("dest= mapping must count as referenced: %+v", issues)
	}
}

func TestEmptyBranch(t *testing.T) {
	src := `def handle(x):
    if x > 0:
        pass
    else:
        process(x)
`
	r := analyze(t, src)
	issues := findIssues(r, "empty_branch")
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want one empty branch", issues)
	}
	if issues[0].Severity != SeverityWarning {
		t.Fatalf("severity = %s, want WARNING", issues[0].Severity)
	}
	if r.Verdict != VerdictWarn {
		t.Fatalf("verdict = %s, want WARN", r.Verdict)
	}
}

func TestEmptyElseBranch(t *testing.T) {
	src := `def handle(x):
    if x > 0:
        process(x)
    else:
        return None
`
	r := analyze(t, src)
	if issues := findIssues(r, "empty_branch"); len(issues) != 1 {
		t.Fatalf("issues = %+v, want one empty else branch", issues)
	}
}

func TestDocstringOnlyFunction(t *testing.T) {
	src := `def process(data):
    """Process the data and return results."""
    pass

def real_work(data):
    """Actually does something."""
    return transform(data)
`
	r := analyze(t, src)
	issues := findIssues(r, "docstring_only_function")
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want exactly the stub", issues)
	}
	if !strings.Contains(issues[0].Message, "process") {
		t.Fatalf("message = %q", issues[0].Message)
	}
	if issues[0].Severity != SeverityError {
		t.Fatalf("severity = %s, want ERROR", issues[0].Severity)
	}
}

func TestDocstringOnlyExemptsDunderAndTests(t *testing.T) {
	src := `def __repr__(self):
    """Placeholder repr."""
    pass

def test_placeholder():
    """Placeholder test."""
    pass
`
	r := analyze(t, src)
	if issues := findIssues(r, "docstring_only_function"); len(issues) != 0 {
		t.Fatalf("dunder and test functions are exempt: %+v", issues)
	}
}

func TestTrivialAssertion(t *testing.T) {
	src := `def test_import():
    result = do_thing()
    assert result is not None

def test_real():
    assert do_thing() == 42
`
	r := analyze(t, src)
	issues := findIssues(r, "trivial_assertion")
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want one trivial test", issues)
	}
	if !strings.Contains(issues[0].Message, "test_import") {
		t.Fatalf("message = %q", issues[0].Message)
	}
}

func TestTrivialAssertTrue(t *testing.T) {
	src := `def test_nothing():
    assert True
`
	r := analyze(t, src)
	if issues := findIssues(r, "trivial_assertion"); len(issues) != 1 {
		t.Fatalf("issues = %+v", issues)
	}
}

func TestUnusedImport(t *testing.T) {
	src := `import os
import json

def main():
    return json.dumps({})
`
	r := analyze(t, src)
	issues := findIssues(r, "unused_import")
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want unused os", issues)
	}
	if !strings.Contains(issues[0].Message, "os") {
		t.Fatalf("message = %q", issues[0].Message)
	}
}

func TestFutureImportExempt(t *testing.T) {
	src := `from __future__ import annotations

def main():
    return 1
`
	r := analyze(t, src)
	if issues := findIssues(r, "unused_import"); len(issues) != 0 {
		t.Fatalf("__future__ imports are exempt: %+v", issues)
	}
}

func TestAliasedImportUsage(t *testing.T) {
	src := `import numpy as np

def main():
    return np.zeros(3)
`
	r := analyze(t, src)
	if issues := findIssues(r, "unused_import"); len(issues) != 0 {
		t.Fatalf("aliased import is used: %+v", issues)
	}
}

func TestCleanFilePasses(t *testing.T) {
	src := `import json

def load(path):
    """Load a JSON document."""
    with open(path) as f:
        return json.load(f)

def test_load(tmp_path):
    p = tmp_path / "x.json"
    p.write_text("{}")
    assert load(str(p)) == {}
`
	r := analyze(t, src)
	if r.Verdict != VerdictPass {
		t.Fatalf("verdict = %s, issues = %+v", r.Verdict, r.Issues)
	}
}

func TestOversizeFileSummarized(t *testing.T) {
	src := `import json

class Loader:
    """Loads documents."""

    def load(self, path):
        """Load one document."""
        with open(path) as f:
            return json.load(f)
`
	path := writeSource(t, "big.py", src)
	a := NewAnalyzer(10) // force the oversize path
	r, err := a.AnalyzeFiles([]string{path})
	if err != nil {
		t.Fatalf("AnalyzeFiles failed: %v", err)
	}
	summary, ok := r.Summaries[path]
	if !ok {
		t.Fatal("oversize file must be summarized, not analyzed")
	}
	for _, want := range []string{"import json", "class Loader:", "def load(self, path):", "Loads documents."} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
	if len(r.Issues) != 0 {
		t.Fatalf("summarized files produce no issues: %+v", r.Issues)
	}
}

func TestVerdictAggregation(t *testing.T) {
	// One ERROR anywhere means BLOCK even with warnings present.
	src := `import os

def stub():
    """Stubbed."""
    pass
`
	r := analyze(t, src)
	if r.Verdict != VerdictBlock {
		t.Fatalf("verdict = %s, want BLOCK (error beats warning)", r.Verdict)
	}
}

func TestMissingFileErrors(t *testing.T) {
	_, err := NewAnalyzer(0).AnalyzeFiles([]string{"/nonexistent/file.py"})
	if err == nil {
		t.Fatal("expected read error")
	}
}
