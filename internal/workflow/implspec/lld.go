package implspec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"agentos/internal/audit"
	"agentos/internal/graph"
	"agentos/internal/logging"
)

// Change types after normalization.
const (
	ChangeAdd    = "Add"
	ChangeModify = "Modify"
	ChangeDelete = "Delete"
)

// FileChange is one row of the LLD's file-change table.
type FileChange struct {
	Path        string `json:"path"`
	ChangeType  string `json:"change_type"`
	Description string `json:"description"`
}

// minLLDChars guards against loading a stub file as an LLD.
const minLLDChars = 100

// FindLLDPath locates the LLD for an issue, searching active/ then done/
// with padded and unpadded name patterns. The most recently modified
// match wins.
func FindLLDPath(repoRoot string, issueNumber int) string {
	dirs := []string{
		filepath.Join(repoRoot, "docs/lld/active"),
		filepath.Join(repoRoot, "docs/lld/done"),
	}
	patterns := []string{
		fmt.Sprintf("LLD-%03d.md", issueNumber),
		fmt.Sprintf("LLD-%03d-*.md", issueNumber),
		fmt.Sprintf("LLD-%d.md", issueNumber),
		fmt.Sprintf("LLD-%d-*.md", issueNumber),
	}

	for _, dir := range dirs {
		for _, pattern := range patterns {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil || len(matches) == 0 {
				continue
			}
			if len(matches) > 1 {
				sort.Slice(matches, func(i, j int) bool {
					fi, errI := os.Stat(matches[i])
					fj, errJ := os.Stat(matches[j])
					if errI != nil || errJ != nil {
						return matches[i] < matches[j]
					}
					return fi.ModTime().After(fj.ModTime())
				})
			}
			return matches[0]
		}
	}
	return ""
}

var approvalMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\*\s*\*\*Status:\*\*\s*Approved`),
	regexp.MustCompile(`(?i)\*\*Final\s+Status:\*\*\s*APPROVED`),
	regexp.MustCompile(`(?i)Verdict\s*\|.*APPROVED`),
}

// IsApproved reports whether the LLD carries an approval marker.
func IsApproved(lldContent string) bool {
	for _, p := range approvalMarkers {
		if p.MatchString(lldContent) {
			return true
		}
	}
	return strings.Contains(strings.ToUpper(lldContent), "APPROVED")
}

var changeTableHeader = regexp.MustCompile(
	`(?i)###?\s*2\.1[^\n]*Files Changed[^\n]*\n\n*\|[^\n]+\n\|[-|\s]+\n((?:\|[^\n]+\n)+)`)

var changeTableRow = regexp.MustCompile("\\|\\s*`?([^`|]+)`?\\s*\\|\\s*([^|]+)\\s*\\|\\s*([^|]*)\\|")

// ParseFileChanges extracts the Section 2.1 file-change table.
// Directory rows and header-echo rows are skipped.
func ParseFileChanges(lldContent string) []FileChange {
	m := changeTableHeader.FindStringSubmatch(lldContent)
	if m == nil {
		return nil
	}

	var files []FileChange
	for _, row := range changeTableRow.FindAllStringSubmatch(m[1], -1) {
		path := strings.TrimSpace(row[1])
		rawType := strings.TrimSpace(row[2])
		desc := strings.TrimSpace(row[3])

		switch strings.ToLower(path) {
		case "file", "path", "filename":
			continue
		}
		if strings.Contains(strings.ToLower(rawType), "(directory)") {
			continue
		}

		files = append(files, FileChange{
			Path:        path,
			ChangeType:  normalizeChangeType(rawType),
			Description: desc,
		})
	}
	return files
}

var parenNote = regexp.MustCompile(`\s*\(.*?\)`)

func normalizeChangeType(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(parenNote.ReplaceAllString(raw, "")))
	switch cleaned {
	case "add", "new", "create":
		return ChangeAdd
	case "modify", "update", "change", "edit":
		return ChangeModify
	case "delete", "remove":
		return ChangeDelete
	}
	return ChangeAdd
}

// decodeFileChanges reads files_to_modify back out of state, tolerating
// the []any shape a checkpoint round-trip produces.
func decodeFileChanges(v any) []FileChange {
	if files, ok := v.([]FileChange); ok {
		return files
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var files []FileChange
	if err := json.Unmarshal(data, &files); err != nil {
		return nil
	}
	return files
}

// loadLLD resolves, reads, and guards the approved LLD, then opens the
// audit trail for this run.
func (w *Workflow) loadLLD(_ context.Context, s graph.State) (graph.State, error) {
	issueNumber := s.GetInt("issue_number")
	if issueNumber == 0 {
		return graph.State{keyErrorMessage: "no issue number provided"}, nil
	}
	logging.Workflow("loading LLD for issue #%d", issueNumber)

	lldPath := s.GetString("lld_path")
	if lldPath == "" {
		lldPath = FindLLDPath(w.Trail.Root(), issueNumber)
	}
	if lldPath == "" {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"LLD not found for issue #%d; expected docs/lld/active/LLD-%03d.md",
			issueNumber, issueNumber)}, nil
	}

	data, err := os.ReadFile(lldPath)
	if err != nil {
		return graph.State{keyErrorMessage: fmt.Sprintf("failed to read LLD: %v", err)}, nil
	}
	content := string(data)

	if len(content) < minLLDChars {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"LLD content too short (%d chars)", len(content))}, nil
	}
	if !IsApproved(content) {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"LLD for issue #%d is not approved; only approved LLDs seed implementation specs",
			issueNumber)}, nil
	}

	files := ParseFileChanges(content)
	logging.Workflow("LLD lists %d file changes", len(files))

	auditDir, err := w.Trail.CreateLegacyAuditDir(issueNumber, "spec")
	if err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}
	if _, err := audit.SaveFile(auditDir, audit.NextFileNumber(auditDir), "issue.md", content); err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}

	return graph.State{
		"lld_path":        lldPath,
		"lld_content":     content,
		"files_to_modify": files,
		keyAuditDir:       auditDir,
		keyErrorMessage:   "",
	}, nil
}
