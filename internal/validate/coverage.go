package validate

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Sections of the LLD document by convention: Section 3 carries the
// requirements, Section 10 the test scenarios.
const (
	requirementsSection = 3
	testPlanSection     = 10
)

var (
	reqIDPattern = regexp.MustCompile(`(?i)\bREQ-(\d+(?:\.\d+)?)\b`)

	// Prose references like "Requirement 2" in test scenarios also count
	// as coverage.
	reqProsePattern = regexp.MustCompile(`(?i)\brequirements?\s+(\d+(?:\.\d+)?)\b`)

	// Numbered list items in the requirements section count as implicit
	// requirements when they carry no explicit REQ id.
	numberedItem = regexp.MustCompile(`^\s*(\d+)\.\s+\S`)

	sectionHeading = regexp.MustCompile(`^##\s+(\d+)[.:)\s]`)
)

// ExtractSection returns the body of the markdown section whose heading
// number matches, up to the next same-or-higher-level heading. Empty when
// the section is absent.
func ExtractSection(markdown string, number int) string {
	lines := strings.Split(markdown, "\n")
	var body []string
	inSection := false
	for _, line := range lines {
		if m := sectionHeading.FindStringSubmatch(line); m != nil {
			if inSection {
				break
			}
			if m[1] == fmt.Sprintf("%d", number) {
				inSection = true
				continue
			}
			continue
		}
		if inSection {
			if strings.HasPrefix(line, "# ") {
				break
			}
			body = append(body, line)
		}
	}
	return strings.Join(body, "\n")
}

// ExtractRequirements collects requirement ids from Section 3: explicit
// REQ-N / REQ-N.M references plus bare numbered list items (item 2 becomes
// REQ-2). Ids are upper-cased and deduplicated, sorted for determinism.
func ExtractRequirements(markdown string) []string {
	section := ExtractSection(markdown, requirementsSection)
	ids := make(map[string]bool)

	for _, m := range reqIDPattern.FindAllStringSubmatch(section, -1) {
		ids["REQ-"+m[1]] = true
	}
	for _, line := range strings.Split(section, "\n") {
		if reqIDPattern.MatchString(line) {
			continue
		}
		if m := numberedItem.FindStringSubmatch(line); m != nil {
			ids["REQ-"+m[1]] = true
		}
	}

	return sortedIDs(ids)
}

// ExtractCoveredIDs collects the requirement ids referenced anywhere in the
// Section 10 test scenarios, case-normalized.
func ExtractCoveredIDs(markdown string) []string {
	section := ExtractSection(markdown, testPlanSection)
	ids := make(map[string]bool)
	for _, m := range reqIDPattern.FindAllStringSubmatch(section, -1) {
		ids["REQ-"+m[1]] = true
	}
	for _, m := range reqProsePattern.FindAllStringSubmatch(section, -1) {
		ids["REQ-"+m[1]] = true
	}
	return sortedIDs(ids)
}

func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		// Numeric-aware ordering so REQ-10 sorts after REQ-2.
		return reqSortKey(ids[i]) < reqSortKey(ids[j])
	})
	return ids
}

func reqSortKey(id string) string {
	return fmt.Sprintf("%08s", strings.TrimPrefix(id, "REQ-"))
}

// CheckCoverage validates that every requirement id appears in the covered
// set. Passed iff the covered set is a superset of a non-empty requirement
// set.
func CheckCoverage(markdown string) *Result {
	required := ExtractRequirements(markdown)
	covered := ExtractCoveredIDs(markdown)

	coveredSet := make(map[string]bool, len(covered))
	for _, id := range covered {
		coveredSet[id] = true
	}

	var missing []string
	mapped := 0
	for _, id := range required {
		if coveredSet[id] {
			mapped++
		} else {
			missing = append(missing, id)
		}
	}

	r := &Result{
		RequirementsCount: len(required),
		MappedCount:       mapped,
		Missing:           missing,
	}
	if len(required) > 0 {
		r.CoveragePct = round2(float64(mapped) / float64(len(required)) * 100)
	}
	r.Passed = len(required) > 0 && len(missing) == 0

	if len(required) == 0 {
		r.Violations = append(r.Violations, Violation{
			Severity:  SeverityError,
			CheckType: "requirement_coverage",
			Message:   "no requirements found in Section 3",
		})
	}
	for _, id := range missing {
		r.Violations = append(r.Violations, Violation{
			Severity:  SeverityError,
			CheckType: "requirement_coverage",
			Message:   fmt.Sprintf("%s has no test scenario in Section 10", id),
		})
	}
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
