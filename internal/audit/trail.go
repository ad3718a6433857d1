package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"agentos/internal/logging"
)

// Directory layout, relative to the repository root. Two audit roots
// coexist: docs/lineage for the issue and requirements workflows,
// docs/audit for the LLD and testing workflows.
const (
	LineageActiveDir = "docs/lineage/active"
	LineageDoneDir   = "docs/lineage/done"
	LegacyActiveDir  = "docs/audit/active"
	LegacyDoneDir    = "docs/audit/done"
	LLDActiveDir     = "docs/lld/active"
	IdeasActiveDir   = "ideas/active"
	IdeasDoneDir     = "ideas/done"

	workflowAuditFile = "docs/lineage/workflow-audit.jsonl"
	governanceLogFile = "docs/lineage/governance.jsonl"
)

// GovernanceLogPath returns the canonical governance JSONL path for a
// repository.
func GovernanceLogPath(repoRoot string) string {
	return filepath.Join(repoRoot, governanceLogFile)
}

// RepoRoot detects the repository root via git rev-parse.
func RepoRoot() (string, error) {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", fmt.Errorf("not in a git repository: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Trail manages the numbered audit artifacts for one repository.
type Trail struct {
	root string
}

// NewTrail returns a trail rooted at repoRoot.
func NewTrail(repoRoot string) *Trail {
	return &Trail{root: repoRoot}
}

// Root returns the repository root this trail writes under.
func (t *Trail) Root() string { return t.root }

// ===========================================================================
// Repo id and slug
// ===========================================================================

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// RepoShortID derives a stable 7-character repository id: the repo_id
// field of .agentos/config.json if present, else the git origin name,
// else the directory name. Alphanumeric, first char uppercased.
func (t *Trail) RepoShortID() (string, error) {
	configFile := filepath.Join(t.root, ".agentos", "config.json")
	if data, err := os.ReadFile(configFile); err == nil {
		var cfg struct {
			RepoID string `json:"repo_id"`
		}
		if json.Unmarshal(data, &cfg) == nil && cfg.RepoID != "" {
			return sanitizeRepoID(cfg.RepoID)
		}
	}

	out, err := exec.Command("git", "-C", t.root, "remote", "get-url", "origin").Output()
	if err == nil {
		url := strings.TrimSpace(string(out))
		url = strings.TrimSuffix(url, ".git")
		if idx := strings.LastIndexAny(url, "/:"); idx >= 0 && idx < len(url)-1 {
			if id, err := sanitizeRepoID(url[idx+1:]); err == nil {
				return id, nil
			}
		}
	}

	return sanitizeRepoID(filepath.Base(t.root))
}

func sanitizeRepoID(raw string) (string, error) {
	clean := nonAlnum.ReplaceAllString(raw, "")
	if clean == "" {
		return "", fmt.Errorf("repo id %q is empty after sanitization", raw)
	}
	if len(clean) > 7 {
		clean = clean[:7]
	}
	return strings.ToUpper(clean[:1]) + clean[1:], nil
}

// GenerateSlug returns <RepoID>-<NNNN> with a four-digit sequence scoped
// to this repository, scanning both lineage active/ and done/.
func (t *Trail) GenerateSlug() (string, error) {
	repoID, err := t.RepoShortID()
	if err != nil {
		return "", err
	}
	num, err := t.nextSequenceNumber(repoID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", repoID, num), nil
}

func (t *Trail) nextSequenceNumber(repoID string) (int, error) {
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(repoID) + `-(\d{4})$`)
	maxNum := 0

	for _, dir := range []string{
		filepath.Join(t.root, LineageActiveDir),
		filepath.Join(t.root, LineageDoneDir),
	} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			// Done dirs are renamed to <issue>-<slug>; match the slug tail.
			name := e.Name()
			if idx := strings.Index(name, repoID + "-"); idx > 0 {
				name = name[idx:]
			}
			if m := pattern.FindStringSubmatch(name); m != nil {
				var n int
				fmt.Sscanf(m[1], "%d", &n)
				if n > maxNum {
					maxNum = n
				}
			}
		}
	}
	return maxNum + 1, nil
}

// SlugExists reports whether lineage active/<slug> already exists.
func (t *Trail) SlugExists(slug string) bool {
	_, err := os.Stat(filepath.Join(t.root, LineageActiveDir, slug))
	return err == nil
}

// ===========================================================================
// Audit directories
// ===========================================================================

// CreateAuditDir creates lineage active/<slug>. Fails if it already exists.
func (t *Trail) CreateAuditDir(slug string) (string, error) {
	dir := filepath.Join(t.root, LineageActiveDir, slug)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("audit directory already exists: %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audit dir: %w", err)
	}
	return dir, nil
}

// CreateLegacyAuditDir creates docs/audit/active/<issue>-<kind> for the
// LLD and testing workflows. Idempotent.
func (t *Trail) CreateLegacyAuditDir(issueNumber int, kind string) (string, error) {
	dir := filepath.Join(t.root, LegacyActiveDir, fmt.Sprintf("%d-%s", issueNumber, kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audit dir: %w", err)
	}
	return dir, nil
}

// EnsureDirectories creates both audit roots and the ideas staging dirs
// with .gitkeep markers.
func (t *Trail) EnsureDirectories() error {
	for _, sub := range []string{
		LineageActiveDir, LineageDoneDir,
		LegacyActiveDir, LegacyDoneDir,
		IdeasActiveDir, IdeasDoneDir,
	} {
		dir := filepath.Join(t.root, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		gitkeep := filepath.Join(dir, ".gitkeep")
		if _, err := os.Stat(gitkeep); os.IsNotExist(err) {
			if err := os.WriteFile(gitkeep, nil, 0o644); err != nil {
				return fmt.Errorf("create %s: %w", gitkeep, err)
			}
		}
	}
	return nil
}

// ===========================================================================
// Numbered artifact files
// ===========================================================================

var (
	legacyFileNumber = regexp.MustCompile(`^(\d{3})-`)
	sluggedFileNumber = regexp.MustCompile(`-(\d{3})-`)
)

// NextFileNumber returns 1 + the max NNN prefix in the audit directory,
// recognizing both NNN-<suffix> and <slug>-NNN-<suffix> naming.
func NextFileNumber(auditDir string) int {
	entries, err := os.ReadDir(auditDir)
	if err != nil {
		return 1
	}
	maxNum := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := legacyFileNumber.FindStringSubmatch(e.Name())
		if m == nil {
			m = sluggedFileNumber.FindStringSubmatch(e.Name())
		}
		if m != nil {
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			if n > maxNum {
				maxNum = n
			}
		}
	}
	return maxNum + 1
}

// SaveFile writes a numbered artifact. In a slugged lineage directory the
// name is <slug>-NNN-<suffix>, otherwise NNN-<suffix>. An existing
// destination is never overwritten; the new file gets a timestamp suffix.
func SaveFile(auditDir string, number int, suffix, content string) (string, error) {
	dirName := filepath.Base(auditDir)
	var filename string
	if slugDirName.MatchString(dirName) {
		filename = fmt.Sprintf("%s-%03d-%s", dirName, number, suffix)
	} else {
		filename = fmt.Sprintf("%03d-%s", number, suffix)
	}

	path := filepath.Join(auditDir, filename)
	if _, err := os.Stat(path); err == nil {
		stamp := time.Now().UTC().Format("20060102T150405")
		ext := filepath.Ext(filename)
		path = filepath.Join(auditDir, strings.TrimSuffix(filename, ext)+"-"+stamp+ext)
		logging.Audit("audit file collision, writing %s", filepath.Base(path))
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write audit file: %w", err)
	}
	return path, nil
}

var slugDirName = regexp.MustCompile(`^[A-Za-z0-9]+-\d{4}$`)

// ApprovedMetadata records an approved LLD.
type ApprovedMetadata struct {
	IssueNumber     int    `json:"issue_number"`
	IssueTitle      string `json:"issue_title"`
	ApprovedAt      string `json:"approved_at"`
	FinalLLDPath    string `json:"final_lld_path"`
	TotalIterations int    `json:"total_iterations"`
	DraftCount      int    `json:"draft_count"`
	VerdictCount    int    `json:"verdict_count"`
}

// SaveApprovedMetadata writes NNN-approved.json.
func SaveApprovedMetadata(auditDir string, number int, meta ApprovedMetadata) (string, error) {
	meta.ApprovedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal approved metadata: %w", err)
	}
	return SaveFile(auditDir, number, "approved.json", string(data))
}

// FiledMetadata records a filed tracker issue.
type FiledMetadata struct {
	IssueNumber     int    `json:"issue_number"`
	IssueURL        string `json:"issue_url"`
	Title           string `json:"title"`
	FiledAt         string `json:"filed_at"`
	BriefFile       string `json:"brief_file"`
	TotalIterations int    `json:"total_iterations"`
	DraftCount      int    `json:"draft_count"`
	VerdictCount    int    `json:"verdict_count"`
}

// SaveFiledMetadata writes <slug>-NNN-filed.json.
func SaveFiledMetadata(auditDir string, number int, meta FiledMetadata) (string, error) {
	meta.FiledAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal filed metadata: %w", err)
	}
	return SaveFile(auditDir, number, "filed.json", string(data))
}

// SaveFinalLLD writes the approved LLD to docs/lld/active/LLD-<NNN>.md.
func (t *Trail) SaveFinalLLD(issueNumber int, content string) (string, error) {
	dir := filepath.Join(t.root, LLDActiveDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create lld dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("LLD-%03d.md", issueNumber))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write final lld: %w", err)
	}
	return path, nil
}

// ===========================================================================
// Archival
// ===========================================================================

// MoveToDone moves a lineage audit directory from active/ to
// done/<issue>-<slug>/.
func (t *Trail) MoveToDone(auditDir string, issueNumber int, slug string) (string, error) {
	doneDir := filepath.Join(t.root, LineageDoneDir, fmt.Sprintf("%d-%s", issueNumber, slug))
	if err := os.MkdirAll(filepath.Dir(doneDir), 0o755); err != nil {
		return "", fmt.Errorf("create done dir: %w", err)
	}
	if err := os.Rename(auditDir, doneDir); err != nil {
		return "", fmt.Errorf("move audit dir to done: %w", err)
	}
	return doneDir, nil
}

// MoveLegacyToDone moves a docs/audit directory from active/ to done/.
func (t *Trail) MoveLegacyToDone(auditDir string) (string, error) {
	doneDir := filepath.Join(t.root, LegacyDoneDir, filepath.Base(auditDir))
	if err := os.MkdirAll(filepath.Dir(doneDir), 0o755); err != nil {
		return "", fmt.Errorf("create done dir: %w", err)
	}
	if err := os.Rename(auditDir, doneDir); err != nil {
		return "", fmt.Errorf("move audit dir to done: %w", err)
	}
	return doneDir, nil
}

// StageForCommit stages the audit directory and commits it in a single
// commit.
func (t *Trail) StageForCommit(auditDir string, issueNumber int) error {
	if err := exec.Command("git", "-C", t.root, "add", auditDir).Run(); err != nil {
		return fmt.Errorf("stage audit dir: %w", err)
	}
	msg := fmt.Sprintf("docs(audit): add audit trail for issue #%d", issueNumber)
	if err := exec.Command("git", "-C", t.root, "commit", "-m", msg).Run(); err != nil {
		return fmt.Errorf("commit audit dir: %w", err)
	}
	return nil
}

// ===========================================================================
// Cross-workflow execution log
// ===========================================================================

// WorkflowEvent is one line in docs/lineage/workflow-audit.jsonl.
type WorkflowEvent struct {
	Timestamp    string         `json:"timestamp"`
	WorkflowType string         `json:"workflow_type"`
	Slug         string         `json:"slug"`
	TargetRepo   string         `json:"target_repo"`
	Event        string         `json:"event"`
	Details      map[string]any `json:"details,omitempty"`
}

// LogWorkflowExecution appends to the cross-workflow execution log. A
// failed write is logged but never fails the workflow.
func (t *Trail) LogWorkflowExecution(slug, workflowType, event string, details map[string]any) {
	path := filepath.Join(t.root, workflowAuditFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logging.Audit("workflow audit log unavailable: %v", err)
		return
	}

	entry := WorkflowEvent{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		WorkflowType: workflowType,
		Slug:         slug,
		TargetRepo:   t.root,
		Event:        event,
		Details:      details,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		logging.Audit("workflow audit marshal failed: %v", err)
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logging.Audit("workflow audit log unavailable: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		logging.Audit("workflow audit write failed: %v", err)
	}
}

// ===========================================================================
// Ideas staging
// ===========================================================================

var gitCryptHeader = []byte("\x00GITCRYPT")

// IsIdeaEncrypted reports whether a file carries the git-crypt header.
func IsIdeaEncrypted(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	header := make([]byte, len(gitCryptHeader))
	n, _ := f.Read(header)
	return n == len(gitCryptHeader) && string(header) == string(gitCryptHeader)
}

// ListIdeas returns the readable markdown briefs in ideas/active/, sorted
// alphabetically. Encrypted files and .gitkeep are skipped.
func (t *Trail) ListIdeas() ([]string, error) {
	dir := filepath.Join(t.root, IdeasActiveDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list ideas: %w", err)
	}

	var ideas []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if IsIdeaEncrypted(path) {
			continue
		}
		ideas = append(ideas, path)
	}
	sort.Strings(ideas)
	return ideas, nil
}

// CountEncryptedIdeas counts git-crypt encrypted briefs in ideas/active/.
func (t *Trail) CountEncryptedIdeas() int {
	dir := filepath.Join(t.root, IdeasActiveDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		if IsIdeaEncrypted(filepath.Join(dir, e.Name())) {
			count++
		}
	}
	return count
}

// MoveIdeaToDone moves a brief from ideas/active/ to
// ideas/done/<issue>-<name>.
func (t *Trail) MoveIdeaToDone(ideaPath string, issueNumber int) (string, error) {
	if !filepath.IsAbs(ideaPath) {
		ideaPath = filepath.Join(t.root, ideaPath)
	}
	if _, err := os.Stat(ideaPath); err != nil {
		return "", fmt.Errorf("idea file not found: %s", ideaPath)
	}

	doneDir := filepath.Join(t.root, IdeasDoneDir)
	if err := os.MkdirAll(doneDir, 0o755); err != nil {
		return "", fmt.Errorf("create ideas done dir: %w", err)
	}
	donePath := filepath.Join(doneDir, fmt.Sprintf("%d-%s", issueNumber, filepath.Base(ideaPath)))
	if err := os.Rename(ideaPath, donePath); err != nil {
		return "", fmt.Errorf("move idea to done: %w", err)
	}
	return donePath, nil
}
