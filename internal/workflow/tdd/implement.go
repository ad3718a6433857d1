package tdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"agentos/internal/audit"
	"agentos/internal/graph"
	"agentos/internal/logging"
)

const implementSystemPrompt = `You are implementing code to make a failing test
suite pass. Respond with one fenced code block per file, each starting
with a "# File: <relative path>" line. Implement real behavior: no
stubs, no pass-only bodies, no placeholder returns. Never modify test
files; they define the contract.`

// buildImplementationPrompt composes the implementer input: LLD, the
// scaffolded tests, and the previous run's failures when iterating.
func (w *Workflow) buildImplementationPrompt(s graph.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Approved LLD\n\n%s\n", s.GetString("lld_content"))

	b.WriteString("\n# Failing Tests (make these pass)\n")
	for _, path := range s.GetStrings(keyTestFiles) {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n```python\n%s\n```\n", filepath.Base(path), string(data))
	}

	if out := s.GetString(keyLastRunOutput); out != "" {
		fmt.Fprintf(&b, "\n# Previous Test Run (fix these failures)\n\n```\n%s\n```\n", out)
	}
	if issues := s.GetString("completeness_feedback"); issues != "" {
		fmt.Fprintf(&b, "\n# Completeness Findings (must resolve)\n\n%s\n", issues)
	}
	return b.String()
}

// FileBlock is one file extracted from the implementer's response.
type FileBlock struct {
	Path    string
	Content string
}

var fileBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\n#\\s*File:\\s*([^\\n]+)\\n(.*?)```")

// ParseFileBlocks extracts "# File: path" fenced blocks from a
// response. The marker line is not part of the file content.
func ParseFileBlocks(response string) []FileBlock {
	var blocks []FileBlock
	for _, m := range fileBlockRe.FindAllStringSubmatch(response, -1) {
		path := strings.TrimSpace(m[1])
		if path == "" {
			continue
		}
		blocks = append(blocks, FileBlock{Path: path, Content: m[2]})
	}
	return blocks
}

// WriteImplementationFiles writes the blocks under repoRoot, refusing
// test files and anything under tests/. Returns the written paths.
func WriteImplementationFiles(blocks []FileBlock, repoRoot string, testFiles []string) ([]string, error) {
	protected := make(map[string]bool, len(testFiles))
	for _, tf := range testFiles {
		protected[filepath.Clean(tf)] = true
	}

	var written []string
	for _, block := range blocks {
		rel := filepath.ToSlash(filepath.Clean(block.Path))
		if strings.HasPrefix(rel, "..") || filepath.IsAbs(block.Path) {
			logging.Workflow("refusing to write outside repo: %s", block.Path)
			continue
		}
		if strings.HasPrefix(rel, "tests/") || strings.HasPrefix(filepath.Base(rel), "test_") {
			logging.Workflow("refusing to write test file: %s", block.Path)
			continue
		}
		full := filepath.Join(repoRoot, rel)
		if protected[filepath.Clean(full)] {
			logging.Workflow("refusing to overwrite scaffolded test: %s", block.Path)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return written, err
		}
		if err := os.WriteFile(full, []byte(block.Content), 0o644); err != nil {
			return written, err
		}
		written = append(written, full)
	}
	return written, nil
}

// implementCode invokes the implementer and writes the returned files.
func (w *Workflow) implementCode(ctx context.Context, s graph.State) (graph.State, error) {
	iteration := s.GetInt(keyIterationCount)
	logging.Workflow("implementing (iteration %d)", iteration)

	timeout := time.Duration(w.Config.Providers.CallTimeoutSeconds) * time.Second
	result := w.Implementer.Invoke(ctx, implementSystemPrompt, w.buildImplementationPrompt(s), timeout)
	if !result.Success {
		return graph.State{keyErrorMessage: fmt.Sprintf(
			"implementation failed: %s", result.ErrorMessage)}, nil
	}

	blocks := ParseFileBlocks(result.Response)
	if len(blocks) == 0 {
		return graph.State{keyErrorMessage: "implementer returned no file blocks"}, nil
	}

	written, err := WriteImplementationFiles(blocks, w.Trail.Root(), s.GetStrings(keyTestFiles))
	if err != nil {
		return graph.State{keyErrorMessage: fmt.Sprintf("failed to write implementation: %v", err)}, nil
	}
	if len(written) == 0 {
		return graph.State{keyErrorMessage: "implementer produced only protected or out-of-tree paths"}, nil
	}
	logging.Workflow("wrote %d implementation files", len(written))

	if auditDir := s.GetString(keyAuditDir); auditDir != "" {
		if _, err := audit.SaveFile(auditDir, audit.NextFileNumber(auditDir), "implementation.md", result.Response); err != nil {
			logging.Audit("failed to save implementation artifact: %v", err)
		}
	}

	return graph.State{
		keyImplFiles:            written,
		"completeness_feedback": "",
		keyErrorMessage:         "",
	}, nil
}
