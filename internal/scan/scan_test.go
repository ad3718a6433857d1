package scan

import (
	"strings"
	"testing"
)

func TestScanPatternsEmpty(t *testing.T) {
	a := ScanPatterns(nil)
	if a.NamingConvention != "unknown" || a.StatePattern != "unknown" {
		t.Fatalf("empty input should be unknown everywhere: %+v", a)
	}
}

func TestScanPatternsLangGraphState(t *testing.T) {
	files := map[string]string{
		"workflows/state.py": "from typing import TypedDict\nimport langgraph\n\nclass WorkflowState(TypedDict):\n    issue_number: int\n",
		"workflows/nodes.py": "def load_input(state: WorkflowState) -> dict:\n    return {}\n",
	}
	a := ScanPatterns(files)

	if a.StatePattern != "TypedDict-based LangGraph state" {
		t.Fatalf("state_pattern = %q", a.StatePattern)
	}
	if a.NodePattern != "functions returning dict updates" {
		t.Fatalf("node_pattern = %q", a.NodePattern)
	}
	if !strings.Contains(a.NamingConvention, "snake_case modules") {
		t.Fatalf("naming = %q", a.NamingConvention)
	}
	if !strings.Contains(a.NamingConvention, "PascalCase classes") {
		t.Fatalf("naming = %q", a.NamingConvention)
	}
}

func TestScanPatternsTestTooling(t *testing.T) {
	files := map[string]string{
		"tests/conftest.py":    "import pytest\n\n@pytest.fixture\ndef repo():\n    return None\n",
		"tests/test_rotor.py":  "def test_rotation():\n    assert True\n",
	}
	a := ScanPatterns(files)
	if !strings.Contains(a.TestPattern, "pytest") {
		t.Fatalf("test_pattern = %q", a.TestPattern)
	}
	if !strings.Contains(a.TestPattern, "conftest") {
		t.Fatalf("test_pattern = %q", a.TestPattern)
	}
}

func TestScanImportStyle(t *testing.T) {
	files := map[string]string{
		"a.py": "from mypkg.core import thing\nfrom mypkg.util import other\n",
	}
	if got := ScanPatterns(files).ImportStyle; got != "absolute imports from package root" {
		t.Fatalf("import_style = %q", got)
	}

	files = map[string]string{
		"b.py": "from . import sibling\nfrom .helpers import x\n",
	}
	if got := ScanPatterns(files).ImportStyle; got != "relative imports" {
		t.Fatalf("import_style = %q", got)
	}
}

func TestDetectFrameworksFromDeps(t *testing.T) {
	got := DetectFrameworks([]string{"langgraph", "pytest", "no-such-thing"}, nil)
	want := []string{"LangGraph", "pytest"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("frameworks = %v, want %v", got, want)
	}
}

func TestDetectFrameworksFromImports(t *testing.T) {
	files := map[string]string{
		"app.py": "import fastapi\nfrom pydantic import BaseModel\n",
	}
	got := DetectFrameworks(nil, files)
	if len(got) != 2 || got[0] != "FastAPI" || got[1] != "Pydantic" {
		t.Fatalf("frameworks = %v", got)
	}
}

func TestDetectFrameworksNoFalsePositiveOnSubstring(t *testing.T) {
	// "redistribution" must not match redis.
	files := map[string]string{"a.py": "# redistribution allowed\nx = 1\n"}
	if got := DetectFrameworks(nil, files); len(got) != 0 {
		t.Fatalf("frameworks = %v, want none", got)
	}
}

func TestExtractConventions(t *testing.T) {
	md := `# Project Guide

## Coding Conventions

- All nodes return partial state dicts
- Never call providers directly from routers

## Architecture

- This bullet is outside the conventions section

### Naming Rules

1. Modules are snake_case
`
	got := ExtractConventions(md)
	want := []string{
		"All nodes return partial state dicts",
		"Never call providers directly from routers",
		"Modules are snake_case",
	}
	if len(got) != len(want) {
		t.Fatalf("conventions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("conventions[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractConventionsRulesBlock(t *testing.T) {
	md := "# Guide\n\n```rules\n- keep functions small\n- no global state\n```\n"
	got := ExtractConventions(md)
	if len(got) != 2 || got[0] != "keep functions small" {
		t.Fatalf("conventions = %v", got)
	}
}

func TestExtractConventionsDedupes(t *testing.T) {
	md := "## Rules\n\n- one rule\n- one rule\n"
	if got := ExtractConventions(md); len(got) != 1 {
		t.Fatalf("conventions = %v, want single entry", got)
	}
}

func TestExtractConventionsEmpty(t *testing.T) {
	if got := ExtractConventions("   \n"); got != nil {
		t.Fatalf("conventions = %v, want nil", got)
	}
}
