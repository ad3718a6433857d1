package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"agentos/internal/logging"
)

// contextExtensions are the file types read when a context path is a
// directory.
var contextExtensions = map[string]bool{
	".md": true, ".py": true, ".go": true, ".json": true, ".yaml": true, ".txt": true,
}

// ValidateContextPath resolves a user-supplied context path and rejects
// anything outside the repository root or nonexistent.
func (t *Trail) ValidateContextPath(contextPath string) (string, error) {
	path := contextPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(t.root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(t.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf(
			"context path outside project root: %s (all paths must be within %s)",
			contextPath, t.root)
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("context path does not exist: %s", contextPath)
	}
	return path, nil
}

// AssembleContext concatenates context files into one reference block,
// each file fenced under a "## Reference:" header. Directories contribute
// their readable text files. Invalid paths are skipped with a warning.
func (t *Trail) AssembleContext(contextFiles []string) string {
	if len(contextFiles) == 0 {
		return ""
	}

	var parts []string
	appendFile := func(path string) {
		content, err := os.ReadFile(path)
		if err != nil {
			logging.Audit("skipping context %s: %v", path, err)
			return
		}
		parts = append(parts, fmt.Sprintf("## Reference: %s\n\n```\n%s\n```",
			filepath.Base(path), string(content)))
	}

	for _, ctxPath := range contextFiles {
		path, err := t.ValidateContextPath(ctxPath)
		if err != nil {
			logging.Audit("skipping context: %v", err)
			fmt.Printf("[WARN] Skipping context: %v\n", err)
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			appendFile(path)
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && contextExtensions[filepath.Ext(e.Name())] {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			appendFile(filepath.Join(path, name))
		}
	}

	return strings.Join(parts, "\n\n")
}
