package implspec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"agentos/internal/graph"
	"agentos/internal/logging"
	"agentos/internal/validate/completeness"
)

// Directories never scanned for pattern references.
var skipDirs = map[string]bool{
	"__pycache__":   true,
	".git":          true,
	".tox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
	"node_modules":  true,
	".venv":         true,
	"venv":          true,
	"done":          true,
}

// analyzeCodebase snapshots the current state of every file the LLD
// touches and discovers neighboring files as pattern references. Missing
// files degrade to warnings; the drafter still runs.
func (w *Workflow) analyzeCodebase(_ context.Context, s graph.State) (graph.State, error) {
	files := decodeFileChanges(s["files_to_modify"])
	if len(files) == 0 {
		logging.Workflow("no files listed in LLD change table, skipping analysis")
		return graph.State{"current_state": "", "pattern_refs": []string{}, keyErrorMessage: ""}, nil
	}

	root := w.Trail.Root()
	maxBytes := w.Config.Validation.MaxAnalyzedFileBytes
	maxExcerpt := w.Config.Validation.MaxExcerptChars
	analyzer := completeness.NewAnalyzer(maxBytes)

	var snapshots []string
	var warnings []string
	for _, fc := range files {
		full := filepath.Join(root, fc.Path)

		switch fc.ChangeType {
		case ChangeModify, ChangeDelete:
			info, err := os.Stat(full)
			if err != nil || info.IsDir() {
				warnings = append(warnings, fmt.Sprintf("file not found for %s: %s", fc.ChangeType, fc.Path))
				continue
			}
			data, err := os.ReadFile(full)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("failed to read %s: %v", fc.Path, err))
				continue
			}

			excerpt := string(data)
			if len(data) > maxBytes && strings.HasSuffix(fc.Path, ".py") {
				summary, err := analyzer.Summarize(data)
				if err == nil {
					excerpt = summary
				}
			}
			excerpt = truncateAtLine(excerpt, maxExcerpt)
			snapshots = append(snapshots, fmt.Sprintf(
				"### %s (%s)\n\n```\n%s\n```", fc.Path, fc.ChangeType, excerpt))
			logging.Workflow("loaded %s (%d chars excerpt)", fc.Path, len(excerpt))

		case ChangeAdd:
			if _, err := os.Stat(filepath.Dir(full)); err != nil {
				warnings = append(warnings, fmt.Sprintf(
					"parent directory missing for Add: %s", filepath.Dir(fc.Path)))
			}
		}
	}

	refs := findPatternRefs(root, files, w.Config.Validation.MaxPatternRefs)
	logging.Workflow("analysis: %d snapshots, %d pattern refs, %d warnings",
		len(snapshots), len(refs), len(warnings))

	var b strings.Builder
	b.WriteString("## Current State\n\n")
	b.WriteString(strings.Join(snapshots, "\n\n"))
	if len(warnings) > 0 {
		b.WriteString("\n\n## Analysis Warnings\n\n")
		for _, warn := range warnings {
			fmt.Fprintf(&b, "- %s\n", warn)
		}
	}

	return graph.State{
		"current_state": b.String(),
		"pattern_refs":  refs,
		keyErrorMessage: "",
	}, nil
}

// truncateAtLine cuts s to at most max characters, backing up to the
// last full line so excerpts never end mid-statement.
func truncateAtLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = cut[:i]
	}
	return cut + "\n... (truncated)"
}

// findPatternRefs lists sibling source files of the LLD's targets, the
// neighbors most likely to show the component's local conventions.
func findPatternRefs(root string, files []FileChange, limit int) []string {
	if limit <= 0 {
		limit = 10
	}

	targets := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, fc := range files {
		targets[filepath.ToSlash(fc.Path)] = true
		dirs[filepath.Dir(fc.Path)] = true
	}

	var refs []string
	for dir := range dirs {
		entries, err := os.ReadDir(filepath.Join(root, dir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || skipDirs[e.Name()] || !strings.HasSuffix(e.Name(), ".py") {
				continue
			}
			rel := filepath.ToSlash(filepath.Join(dir, e.Name()))
			if targets[rel] {
				continue
			}
			refs = append(refs, rel)
		}
	}

	sort.Strings(refs)
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs
}
