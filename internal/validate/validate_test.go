package validate

import (
	"strings"
	"testing"
)

const lldPassing = `# 999 - Feature: Passing

## 3. Requirements

1. The system must validate input data
2. The system must return errors on failure

## 10. Verification & Testing

### 10.1 Test Scenarios

| ID | Scenario | Type | Input | Expected Output | Pass Criteria |
|----|----------|------|-------|-----------------|---------------|
| 010 | Validate input check (Requirement 1) | Auto | Data | Result | Pass |
| 020 | Error on failure check (Requirement 2) | Auto | Bad data | Error | Pass |
`

const lldMissingOne = `# 999 - Feature

## 3. Requirements

1. REQ-1: validate input
2. REQ-2: report errors
3. REQ-3: persist results

## 10. Verification & Testing

| ID | Scenario | Pass Criteria |
|----|----------|---------------|
| 010 | Covers REQ-1 | exit code 0 |
| 020 | Covers REQ-2 | error printed |
`

func TestExtractRequirementsNumberedItems(t *testing.T) {
	reqs := ExtractRequirements(lldPassing)
	want := []string{"REQ-1", "REQ-2"}
	if len(reqs) != len(want) {
		t.Fatalf("got %v, want %v", reqs, want)
	}
	for i := range want {
		if reqs[i] != want[i] {
			t.Fatalf("got %v, want %v", reqs, want)
		}
	}
}

func TestExtractRequirementsExplicitIDs(t *testing.T) {
	reqs := ExtractRequirements(lldMissingOne)
	if len(reqs) != 3 || reqs[2] != "REQ-3" {
		t.Fatalf("got %v", reqs)
	}
}

func TestExtractRequirementsCaseNormalized(t *testing.T) {
	md := "## 3. Requirements\n\n- req-1: lower case id\n\n## 10. Tests\n\n1. covers REQ-1\n"
	reqs := ExtractRequirements(md)
	if len(reqs) != 1 || reqs[0] != "REQ-1" {
		t.Fatalf("got %v", reqs)
	}
}

func TestExtractRequirementsNoSection(t *testing.T) {
	if reqs := ExtractRequirements("# Doc\n\nNo sections here.\n"); len(reqs) != 0 {
		t.Fatalf("got %v, want empty", reqs)
	}
}

func TestCheckCoveragePassing(t *testing.T) {
	r := CheckCoverage(lldPassing)
	if !r.Passed {
		t.Fatalf("expected pass, violations: %v", r.Violations)
	}
	if r.CoveragePct != 100 {
		t.Fatalf("coverage = %v, want 100", r.CoveragePct)
	}
}

func TestCheckCoverageMissingRequirement(t *testing.T) {
	r := CheckCoverage(lldMissingOne)
	if r.Passed {
		t.Fatal("expected failure with REQ-3 uncovered")
	}
	if len(r.Missing) != 1 || r.Missing[0] != "REQ-3" {
		t.Fatalf("missing = %v, want [REQ-3]", r.Missing)
	}
	if r.CoveragePct != 66.67 {
		t.Fatalf("coverage = %v, want 66.67", r.CoveragePct)
	}
	feedback := BuildFeedback(r)
	if !strings.Contains(feedback, "REQ-3") {
		t.Fatalf("feedback must name the missing requirement:\n%s", feedback)
	}
}

func TestCheckCoverageEmptyRequirements(t *testing.T) {
	md := "## 3. Requirements\n\nNo requirements listed.\n\n## 10. Tests\n\nNothing.\n"
	r := CheckCoverage(md)
	if r.Passed {
		t.Fatal("empty requirement set must not pass")
	}
}

func TestValidateTestPlanPassing(t *testing.T) {
	r := ValidateTestPlan(lldPassing)
	if !r.Passed {
		t.Fatalf("expected pass, violations: %+v", r.Violations)
	}
	if r.TestsCount != 2 {
		t.Fatalf("tests_count = %d, want 2", r.TestsCount)
	}
}

func TestValidateTestPlanVagueAssertion(t *testing.T) {
	md := `## 3. Requirements

1. REQ-1: parse the file

## 10. Verification & Testing

1. REQ-1: run the parser and check it works correctly
`
	r := ValidateTestPlan(md)
	if r.Passed {
		t.Fatal("vague assertion must fail validation")
	}
	found := false
	for _, v := range r.Violations {
		if v.CheckType == "vague_assertion" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no vague_assertion violation in %+v", r.Violations)
	}
}

func TestValidateTestPlanHumanDelegation(t *testing.T) {
	md := `## 3. Requirements

1. REQ-1: render the chart

## 10. Verification & Testing

1. REQ-1: manually verify the chart looks right
`
	r := ValidateTestPlan(md)
	if r.Passed {
		t.Fatal("human delegation must fail validation")
	}
	found := false
	for _, v := range r.Violations {
		if v.CheckType == "human_delegation" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no human_delegation violation in %+v", r.Violations)
	}
}

func TestValidateTestPlanUnmappedScenario(t *testing.T) {
	md := `## 3. Requirements

1. REQ-1: store the record

## 10. Verification & Testing

| ID | Scenario | Pass Criteria |
|----|----------|---------------|
| 010 | Covers REQ-1 | row exists |
| 020 | Some unrelated smoke test | passes |
`
	r := ValidateTestPlan(md)
	if r.Passed {
		t.Fatal("scenario without a requirement reference must fail")
	}
	found := false
	for _, v := range r.Violations {
		if v.CheckType == "unmapped_test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no unmapped_test violation in %+v", r.Violations)
	}
}

func TestValidateStructurePassing(t *testing.T) {
	md := `# 42 - Feature

## 1. Context

This feature adds input validation to the ingest pipeline.

## 3. Requirements

1. REQ-1: validate all input files before processing

## 10. Verification & Testing

| ID | Scenario | Pass Criteria |
|----|----------|---------------|
| 010 | Covers REQ-1 | validation errors reported |

## 11. File Changes

| Path | Change Type | Description |
|------|-------------|-------------|
| internal/ingest/validate.go | create | new validation pass |
`
	r := ValidateStructure(md)
	if !r.Passed {
		t.Fatalf("expected pass, violations: %+v", r.Violations)
	}
}

func TestValidateStructureMissingSection(t *testing.T) {
	r := ValidateStructure("# Doc\n\n## 1. Context\n\nSome context paragraph here for length.\n")
	if r.Passed {
		t.Fatal("missing sections must fail")
	}
	if r.ErrorCount() < 2 {
		t.Fatalf("expected errors for sections 3 and 10, got %+v", r.Violations)
	}
}

func TestValidateStructureAbsolutePath(t *testing.T) {
	md := `## 1. Context

Enough context for the section to be non-trivial here.

## 3. Requirements

1. REQ-1: do the thing

## 10. Verification & Testing

| ID | Scenario | Pass Criteria |
|----|----------|---------------|
| 010 | Covers REQ-1 | done |

Edit the file at ` + "`/home/user/project/main.go`" + ` to start.
`
	r := ValidateStructure(md)
	if r.Passed {
		t.Fatal("absolute path must fail path policy")
	}
	found := false
	for _, v := range r.Violations {
		if v.CheckType == "path_policy" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no path_policy violation in %+v", r.Violations)
	}
}

func TestValidateStructureBadChangeType(t *testing.T) {
	md := `## 1. Context

Enough context for the section to be non-trivial here.

## 3. Requirements

1. REQ-1: do the thing

## 10. Verification & Testing

| ID | Scenario | Pass Criteria |
|----|----------|---------------|
| 010 | Covers REQ-1 | done |

## 11. File Changes

| Path | Change Type | Description |
|------|-------------|-------------|
| internal/x.go | refactor-ish | unclear |
`
	r := ValidateStructure(md)
	found := false
	for _, v := range r.Violations {
		if v.CheckType == "file_change_table" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no file_change_table violation in %+v", r.Violations)
	}
}

func TestBuildFeedbackSeveritySections(t *testing.T) {
	r := &Result{
		CoveragePct:       50,
		MappedCount:       1,
		RequirementsCount: 2,
		Violations: []Violation{
			{Severity: SeverityError, CheckType: "requirement_coverage", Message: "REQ-2 uncovered"},
			{Severity: SeverityWarning, CheckType: "trivial_section", Message: "Section 1 thin"},
		},
	}
	feedback := BuildFeedback(r)
	if !strings.Contains(feedback, "### Errors (must fix)") {
		t.Fatal("missing errors section")
	}
	if !strings.Contains(feedback, "### Warnings (consider fixing)") {
		t.Fatal("missing warnings section")
	}
}
