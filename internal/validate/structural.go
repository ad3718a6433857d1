package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// requiredLLDSections are the numbered sections an LLD must carry with
// non-trivial bodies.
var requiredLLDSections = []struct {
	Number int
	Title  string
}{
	{1, "Context"},
	{3, "Requirements"},
	{10, "Verification & Testing"},
}

// A section body shorter than this (after trimming) counts as trivial.
const minSectionChars = 20

var (
	tableRow = regexp.MustCompile(`^\s*\|(.+)\|\s*$`)

	// File-change tables use | path | change-type | description |.
	changeTypes = map[string]bool{
		"create": true, "modify": true, "delete": true,
		"new": true, "update": true, "remove": true,
	}

	absolutePath = regexp.MustCompile("`(/[A-Za-z0-9_./-]+)`|\\|\\s*(/[A-Za-z0-9_./-]+)\\s*\\|")
)

// ValidateStructure checks an LLD for required sections, well-formed
// file-change tables, and path policy. Missing sections are errors;
// trivial sections and malformed table rows are warnings.
func ValidateStructure(markdown string) *Result {
	start := time.Now()
	r := &Result{Passed: true}

	for _, sec := range requiredLLDSections {
		body := strings.TrimSpace(ExtractSection(markdown, sec.Number))
		if body == "" {
			r.Violations = append(r.Violations, Violation{
				Severity:  SeverityError,
				CheckType: "missing_section",
				Message:   fmt.Sprintf("Section %d (%s) is missing", sec.Number, sec.Title),
			})
			continue
		}
		if len(body) < minSectionChars {
			r.Violations = append(r.Violations, Violation{
				Severity:  SeverityWarning,
				CheckType: "trivial_section",
				Message:   fmt.Sprintf("Section %d (%s) has only %d characters", sec.Number, sec.Title, len(body)),
			})
		}
	}

	r.Violations = append(r.Violations, checkFileChangeTables(markdown)...)
	r.Violations = append(r.Violations, checkPathPolicy(markdown)...)

	r.Passed = r.ErrorCount() == 0
	r.ExecutionMs = float64(time.Since(start).Microseconds()) / 1000
	return r
}

// checkFileChangeTables validates rows in tables whose header names a
// path/file column followed by a change-type column. Rows whose second cell
// is not a recognized change type are flagged.
func checkFileChangeTables(markdown string) []Violation {
	var violations []Violation
	lines := strings.Split(markdown, "\n")

	inChangeTable := false
	for i, line := range lines {
		m := tableRow.FindStringSubmatch(line)
		if m == nil {
			inChangeTable = false
			continue
		}
		cells := splitCells(m[1])

		if isChangeTableHeader(cells) {
			inChangeTable = true
			continue
		}
		if !inChangeTable || isSeparatorRow(cells) {
			continue
		}
		if len(cells) < 3 {
			violations = append(violations, Violation{
				Severity:  SeverityWarning,
				CheckType: "file_change_table",
				Message:   fmt.Sprintf("line %d: file-change row needs path, change-type, description", i+1),
			})
			continue
		}
		if !changeTypes[strings.ToLower(strings.TrimSpace(cells[1]))] {
			violations = append(violations, Violation{
				Severity:  SeverityWarning,
				CheckType: "file_change_table",
				Message:   fmt.Sprintf("line %d: unrecognized change type %q", i+1, strings.TrimSpace(cells[1])),
			})
		}
	}
	return violations
}

// checkPathPolicy flags absolute paths; an LLD must describe files
// relative to the repository root.
func checkPathPolicy(markdown string) []Violation {
	var violations []Violation
	seen := make(map[string]bool)
	for _, m := range absolutePath.FindAllStringSubmatch(markdown, -1) {
		path := m[1]
		if path == "" {
			path = m[2]
		}
		if seen[path] {
			continue
		}
		seen[path] = true
		violations = append(violations, Violation{
			Severity:  SeverityError,
			CheckType: "path_policy",
			Message:   fmt.Sprintf("absolute path %q; use repository-relative paths", path),
		})
	}
	return violations
}

func splitCells(row string) []string {
	parts := strings.Split(row, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

func isChangeTableHeader(cells []string) bool {
	if len(cells) < 3 {
		return false
	}
	first := strings.ToLower(cells[0])
	second := strings.ToLower(cells[1])
	return (strings.Contains(first, "path") || strings.Contains(first, "file")) &&
		strings.Contains(second, "change")
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if c == "" {
			continue
		}
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}
