package requirements

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"agentos/internal/audit"
	"agentos/internal/graph"
	"agentos/internal/logging"
	"agentos/internal/scan"
)

// briefFrontMatter is the optional YAML block at the top of a brief file,
// delimited by --- lines.
type briefFrontMatter struct {
	Title  string   `yaml:"title"`
	Labels []string `yaml:"labels"`
}

// parseBrief splits a brief into front matter and body. A brief without
// front matter is all body; the title falls back to the first heading.
func parseBrief(content string) (briefFrontMatter, string, error) {
	var fm briefFrontMatter
	body := content

	if strings.HasPrefix(content, "---\n") {
		rest := content[4:]
		end := strings.Index(rest, "\n---")
		if end < 0 {
			return fm, "", fmt.Errorf("unterminated front matter block")
		}
		if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
			return fm, "", fmt.Errorf("parse front matter: %w", err)
		}
		body = strings.TrimLeft(rest[end+4:], "\n")
	}

	if fm.Title == "" {
		for _, line := range strings.Split(body, "\n") {
			if strings.HasPrefix(line, "#") {
				fm.Title = strings.TrimSpace(strings.TrimLeft(line, "# "))
				break
			}
		}
	}
	return fm, body, nil
}

// loadInput seeds the workflow: a brief file for the issue kind, a
// tracker issue for the lld kind. It also opens the audit trail for this
// run and assembles any requested context files.
func (w *Workflow) loadInput(ctx context.Context, s graph.State) (graph.State, error) {
	issueNumber := s.GetInt("issue_number")
	logging.Workflow("%s workflow: loading input (issue #%d)", w.Kind, issueNumber)

	update := graph.State{keyErrorMessage: ""}

	var title, seed string
	switch w.Kind {
	case KindIssue:
		briefPath := s.GetString("brief_path")
		if briefPath == "" {
			return graph.State{keyErrorMessage: "no brief file provided"}, nil
		}
		if audit.IsIdeaEncrypted(briefPath) {
			return graph.State{keyErrorMessage: fmt.Sprintf(
				"brief %s is git-crypt encrypted; unlock the repository first", briefPath)}, nil
		}
		data, err := os.ReadFile(briefPath)
		if err != nil {
			return graph.State{keyErrorMessage: fmt.Sprintf("brief not found: %v", err)}, nil
		}
		fm, body, err := parseBrief(string(data))
		if err != nil {
			return graph.State{keyErrorMessage: fmt.Sprintf("malformed brief %s: %v", briefPath, err)}, nil
		}
		title, seed = fm.Title, body
		update["brief_path"] = briefPath

	case KindLLD:
		if issueNumber == 0 {
			return graph.State{keyErrorMessage: "no issue number provided"}, nil
		}
		issue, err := w.Tracker.FetchIssue(ctx, issueNumber)
		if err != nil {
			return graph.State{keyErrorMessage: err.Error()}, nil
		}
		// Only approved requirements issues seed an LLD.
		if !strings.Contains(strings.ToUpper(issue.Body), "APPROVED") {
			return graph.State{keyErrorMessage: fmt.Sprintf(
				"issue #%d is not approved; only approved requirements can seed an LLD", issueNumber)}, nil
		}
		title, seed = issue.Title, issue.Body
		update["issue_url"] = issue.URL

	default:
		return graph.State{keyErrorMessage: fmt.Sprintf("unknown workflow kind %q", w.Kind)}, nil
	}

	if err := w.Trail.EnsureDirectories(); err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}
	slug, err := w.Trail.GenerateSlug()
	if err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}
	var auditDir string
	if w.Kind == KindLLD {
		auditDir, err = w.Trail.CreateLegacyAuditDir(issueNumber, "lld")
	} else {
		auditDir, err = w.Trail.CreateAuditDir(slug)
	}
	if err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}

	seedSuffix := "issue.md"
	if w.Kind == KindIssue {
		seedSuffix = "brief.md"
	}
	if _, err := audit.SaveFile(auditDir, audit.NextFileNumber(auditDir), seedSuffix,
		fmt.Sprintf("# %s\n\n%s", title, seed)); err != nil {
		return graph.State{keyErrorMessage: err.Error()}, nil
	}

	// Optional extra context files, validated against path escapes.
	var contextBlock string
	if files := s.GetStrings("context_files"); len(files) > 0 {
		resolved := make([]string, 0, len(files))
		for _, f := range files {
			abs, err := w.Trail.ValidateContextPath(f)
			if err != nil {
				return graph.State{keyErrorMessage: err.Error()}, nil
			}
			resolved = append(resolved, abs)
		}
		contextBlock = w.Trail.AssembleContext(resolved)
	}

	update.Merge(graph.State{
		"issue_title":  title,
		"seed_content": seed,
		"context":      contextBlock,
		"slug":         slug,
		keyAuditDir:    auditDir,
	})
	return update, nil
}

// Directories never scanned for codebase context.
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

const maxScannedFiles = 50

// analyzeCodebase builds drafting context from the target repository:
// detected patterns, frameworks, and contributor-guide conventions.
// LLD kind only; failures degrade to an empty context, never an error.
func (w *Workflow) analyzeCodebase(_ context.Context, s graph.State) (graph.State, error) {
	logging.Workflow("analyzing codebase at %s", w.Trail.Root())

	files := collectSourceFiles(w.Trail.Root(), maxScannedFiles)
	analysis := scan.ScanPatterns(files)
	frameworks := scan.DetectFrameworks(readDependencyNames(w.Trail.Root()), files)

	var conventions []string
	if data, err := os.ReadFile(filepath.Join(w.Trail.Root(), "CLAUDE.md")); err == nil {
		conventions = scan.ExtractConventions(string(data))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Codebase Analysis\n\n")
	fmt.Fprintf(&b, "- Naming: %s\n", analysis.NamingConvention)
	fmt.Fprintf(&b, "- State pattern: %s\n", analysis.StatePattern)
	fmt.Fprintf(&b, "- Node pattern: %s\n", analysis.NodePattern)
	fmt.Fprintf(&b, "- Test pattern: %s\n", analysis.TestPattern)
	fmt.Fprintf(&b, "- Import style: %s\n", analysis.ImportStyle)
	if len(frameworks) > 0 {
		fmt.Fprintf(&b, "- Frameworks: %s\n", strings.Join(frameworks, ", "))
	}
	if len(conventions) > 0 {
		b.WriteString("\n### Conventions\n\n")
		for _, c := range conventions {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	logging.Scan("scanned %d files, %d frameworks, %d conventions",
		len(files), len(frameworks), len(conventions))
	return graph.State{"codebase_context": b.String()}, nil
}

// collectSourceFiles reads up to limit Python files under root. The
// walk gathers candidates, then reads run concurrently; unreadable
// files are simply dropped from the sample.
func collectSourceFiles(root string, limit int) map[string]string {
	var paths []string
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(paths) >= limit || !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})

	var mu sync.Mutex
	files := make(map[string]string, len(paths))
	var g errgroup.Group
	g.SetLimit(8)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			mu.Lock()
			files[filepath.ToSlash(rel)] = string(data)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return files
}

// readDependencyNames extracts bare dependency names from requirements.txt
// when present. pyproject parsing is intentionally out; import-based
// detection covers those projects.
func readDependencyNames(root string) []string {
	data, err := os.ReadFile(filepath.Join(root, "requirements.txt"))
	if err != nil {
		return nil
	}
	var deps []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexAny(line, "=<>[~! "); i > 0 {
			line = line[:i]
		}
		deps = append(deps, line)
	}
	return deps
}
