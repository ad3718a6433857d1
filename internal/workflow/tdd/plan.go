package tdd

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// TestScenario is one planned test extracted from the LLD's Section 10.
type TestScenario struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	RequirementRef string   `json:"requirement_ref"`
	TestType       string   `json:"test_type"`
	MockNeeded     bool     `json:"mock_needed"`
	Assertions     []string `json:"assertions"`
}

// DefaultCoverageTarget applies when the LLD does not state one.
const DefaultCoverageTarget = 95

var sectionHeading = regexp.MustCompile(`(?m)^##\s+(\d+)\.`)

// ExtractTestPlanSection returns the body of Section 10, up to the next
// top-level section.
func ExtractTestPlanSection(lld string) string {
	locs := sectionHeading.FindAllStringSubmatchIndex(lld, -1)
	for i, loc := range locs {
		num := lld[loc[2]:loc[3]]
		if num != "10" {
			continue
		}
		end := len(lld)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		return strings.TrimSpace(lld[loc[1]:end])
	}
	return ""
}

var (
	numberedReq   = regexp.MustCompile(`(?m)^\s*\d+\.\s+(.+)$`)
	reqHeading    = regexp.MustCompile(`(?mi)^#{2,4}\s+(REQ-[\d.]+.*)$`)
	titledSection = regexp.MustCompile(`(?m)^##\s+\d+\.\s*(.*)$`)
)

// ExtractRequirements collects numbered requirements and REQ-x headings
// from the LLD's requirements section. When no section is titled
// "Requirements" the whole document is scanned.
func ExtractRequirements(lld string) []string {
	section := ""
	locs := titledSection.FindAllStringSubmatchIndex(lld, -1)
	for i, loc := range locs {
		title := lld[loc[2]:loc[3]]
		if !strings.Contains(strings.ToLower(title), "requirement") {
			continue
		}
		end := len(lld)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		section = lld[loc[1]:end]
		break
	}
	if section == "" {
		section = lld
	}

	var reqs []string
	for _, m := range numberedReq.FindAllStringSubmatch(section, -1) {
		reqs = append(reqs, strings.TrimSpace(m[1]))
	}
	for _, m := range reqHeading.FindAllStringSubmatch(section, -1) {
		reqs = append(reqs, strings.TrimSpace(m[1]))
	}
	return reqs
}

var coverageTargetRe = regexp.MustCompile(`(?i)(?:target\s+)?coverage[^\d%]*(\d+)\s*%`)

// ExtractCoverageTarget reads an explicit coverage percentage from the
// LLD, defaulting to DefaultCoverageTarget.
func ExtractCoverageTarget(lld string) int {
	if m := coverageTargetRe.FindStringSubmatch(lld); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n <= 100 {
			return n
		}
	}
	return DefaultCoverageTarget
}

var (
	scenarioHeading = regexp.MustCompile(`(?m)^###\s+(test_\w+)\s*$`)
	requirementRef  = regexp.MustCompile(`(?i)Requirement:\s*(REQ-[\d.]+)`)
	mockMarker      = regexp.MustCompile(`(?i)^Mock:`)
)

// ParseTestScenarios extracts scenarios from `### test_name` headings in
// the test plan. The body up to the next heading supplies description,
// requirement reference, and mock marker.
func ParseTestScenarios(testPlan string) []TestScenario {
	locs := scenarioHeading.FindAllStringSubmatchIndex(testPlan, -1)
	scenarios := make([]TestScenario, 0, len(locs))
	for i, loc := range locs {
		name := testPlan[loc[2]:loc[3]]
		end := len(testPlan)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(testPlan[loc[1]:end])

		sc := TestScenario{
			Name:        name,
			Description: firstLine(body),
			TestType:    detectTestType(name, body),
		}
		if m := requirementRef.FindStringSubmatch(body); m != nil {
			sc.RequirementRef = strings.ToUpper(m[1])
		}
		for _, line := range strings.Split(body, "\n") {
			if mockMarker.MatchString(strings.TrimSpace(line)) {
				sc.MockNeeded = true
			}
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios
}

// detectTestType classifies a scenario by keywords, defaulting to unit.
func detectTestType(name, body string) string {
	text := strings.ToLower(name + " " + body)
	switch {
	case strings.Contains(text, "browser") || strings.Contains(text, "playwright"):
		return "browser"
	case strings.Contains(text, "security") || strings.Contains(text, "injection"):
		return "security"
	case strings.Contains(text, "integration") || strings.Contains(text, "end-to-end"):
		return "integration"
	}
	return "unit"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// decodeScenarios reads test_scenarios back out of state, tolerating
// the []any shape a checkpoint round-trip produces.
func decodeScenarios(v any) []TestScenario {
	if scenarios, ok := v.([]TestScenario); ok {
		return scenarios
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var scenarios []TestScenario
	if err := json.Unmarshal(data, &scenarios); err != nil {
		return nil
	}
	return scenarios
}
