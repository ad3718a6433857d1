// Package completeness detects semantically incomplete Python
// implementations before test verification: stub functions, dead CLI
// flags, empty branches, trivial test assertions, and unused imports.
// Analysis is AST-based via tree-sitter, so it is fast and deterministic.
package completeness

import (
	"context"
	"fmt"
	"os"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"agentos/internal/logging"
)

// Verdicts, aggregated across all analyzed files.
const (
	VerdictBlock = "BLOCK" // at least one ERROR
	VerdictWarn  = "WARN"  // only WARNINGs
	VerdictPass  = "PASS"  // clean
)

// Issue severities.
const (
	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"
)

// Issue is one completeness finding.
type Issue struct {
	Severity string `json:"severity"`
	Detector string `json:"detector"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

// Result aggregates findings over a set of files.
type Result struct {
	Verdict       string  `json:"verdict"`
	Issues        []Issue `json:"issues"`
	ASTAnalysisMs int64   `json:"ast_analysis_ms"`

	// Summaries holds per-file structural summaries for files that were
	// too large to analyze in full.
	Summaries map[string]string `json:"summaries,omitempty"`
}

// Analyzer parses Python sources and runs the completeness detectors.
type Analyzer struct {
	parser *sitter.Parser

	// MaxFileBytes: files above this size are summarized instead of
	// analyzed in full.
	MaxFileBytes int
}

// NewAnalyzer builds an analyzer with the given oversize cutoff.
func NewAnalyzer(maxFileBytes int) *Analyzer {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &Analyzer{parser: parser, MaxFileBytes: maxFileBytes}
}

// AnalyzeFiles runs all detectors over each file and aggregates a verdict:
// BLOCK if any ERROR, WARN if only warnings, PASS when clean. Unreadable
// or unparseable files are skipped with a log line; the caller decides the
// fail-open policy for whole-run failures.
func (a *Analyzer) AnalyzeFiles(paths []string) (*Result, error) {
	start := time.Now()
	result := &Result{Verdict: VerdictPass}

	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		if a.MaxFileBytes > 0 && len(content) > a.MaxFileBytes {
			logging.Validator("completeness: %s exceeds %d bytes, summarizing", path, a.MaxFileBytes)
			summary, err := a.Summarize(content)
			if err != nil {
				return nil, fmt.Errorf("summarize %s: %w", path, err)
			}
			if result.Summaries == nil {
				result.Summaries = make(map[string]string)
			}
			result.Summaries[path] = summary
			continue
		}

		issues, err := a.analyzeFile(path, content)
		if err != nil {
			return nil, err
		}
		result.Issues = append(result.Issues, issues...)
	}

	for _, issue := range result.Issues {
		if issue.Severity == SeverityError {
			result.Verdict = VerdictBlock
			break
		}
		result.Verdict = VerdictWarn
	}

	result.ASTAnalysisMs = time.Since(start).Milliseconds()
	return result, nil
}

func (a *Analyzer) analyzeFile(path string, content []byte) ([]Issue, error) {
	tree, err := a.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	src := fileSource{path: path, content: content}

	var issues []Issue
	issues = append(issues, detectDeadCLIFlags(root, src)...)
	issues = append(issues, detectEmptyBranches(root, src)...)
	issues = append(issues, detectDocstringOnlyFunctions(root, src)...)
	issues = append(issues, detectTrivialAssertions(root, src)...)
	issues = append(issues, detectUnusedImports(root, src)...)
	return issues, nil
}

// fileSource bundles a file path with its bytes for node text extraction.
type fileSource struct {
	path    string
	content []byte
}

func (s fileSource) text(n *sitter.Node) string {
	return string(s.content[n.StartByte():n.EndByte()])
}

func (s fileSource) line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// walk visits every named node in depth-first order. The visitor returns
// false to prune the subtree.
func walk(node *sitter.Node, visit func(*sitter.Node) bool) {
	if !visit(node) {
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walk(node.NamedChild(i), visit)
	}
}
