package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()
	root := t.TempDir()
	cfg := filepath.Join(root, ".agentos")
	if err := os.MkdirAll(cfg, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg, "config.json"), []byte(`{"repo_id": "Testrep"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewTrail(root)
}

func TestSanitizeRepoID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"my-repo-name", "Myrepon"},
		{"clio", "Clio"},
		{"x", "X"},
		{"agent_os_2024", "Agentos"},
	}
	for _, c := range cases {
		got, err := sanitizeRepoID(c.in)
		if err != nil {
			t.Fatalf("sanitizeRepoID(%q) failed: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("sanitizeRepoID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if _, err := sanitizeRepoID("---"); err == nil {
		t.Fatal("all-symbol id must error")
	}
}

func TestRepoShortIDFromConfig(t *testing.T) {
	tr := newTestTrail(t)
	id, err := tr.RepoShortID()
	if err != nil {
		t.Fatal(err)
	}
	if id != "Testrep" {
		t.Fatalf("id = %q, want Testrep", id)
	}
}

func TestGenerateSlugSequence(t *testing.T) {
	tr := newTestTrail(t)

	slug, err := tr.GenerateSlug()
	if err != nil {
		t.Fatal(err)
	}
	if slug != "Testrep-0001" {
		t.Fatalf("first slug = %q", slug)
	}

	// Existing active and done directories push the sequence forward.
	for _, dir := range []string{
		filepath.Join(tr.Root(), LineageActiveDir, "Testrep-0003"),
		filepath.Join(tr.Root(), LineageDoneDir, "17-Testrep-0007"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	slug, err = tr.GenerateSlug()
	if err != nil {
		t.Fatal(err)
	}
	if slug != "Testrep-0008" {
		t.Fatalf("slug = %q, want Testrep-0008 (max of active and done + 1)", slug)
	}
}

func TestCreateAuditDirRejectsDuplicate(t *testing.T) {
	tr := newTestTrail(t)
	dir, err := tr.CreateAuditDir("Testrep-0001")
	if err != nil {
		t.Fatal(err)
	}
	if !tr.SlugExists("Testrep-0001") {
		t.Fatal("SlugExists must see the created dir")
	}
	if _, err := tr.CreateAuditDir("Testrep-0001"); err == nil {
		t.Fatal("duplicate create must fail")
	}
	_ = dir
}

func TestNextFileNumberBothSchemes(t *testing.T) {
	dir := t.TempDir()
	if NextFileNumber(dir) != 1 {
		t.Fatal("empty dir starts at 1")
	}

	for _, name := range []string{"001-issue.md", "002-draft.md", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if n := NextFileNumber(dir); n != 3 {
		t.Fatalf("legacy scheme: got %d, want 3", n)
	}

	slugged := filepath.Join(t.TempDir(), "Testrep-0001")
	if err := os.MkdirAll(slugged, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Testrep-0001-001-brief.md", "Testrep-0001-005-draft.md"} {
		if err := os.WriteFile(filepath.Join(slugged, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if n := NextFileNumber(slugged); n != 6 {
		t.Fatalf("slugged scheme: got %d, want 6", n)
	}
}

func TestSaveFileNaming(t *testing.T) {
	legacy := filepath.Join(t.TempDir(), "42-lld")
	if err := os.MkdirAll(legacy, 0o755); err != nil {
		t.Fatal(err)
	}
	path, err := SaveFile(legacy, 1, "issue.md", "content")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "001-issue.md" {
		t.Fatalf("legacy name = %s", filepath.Base(path))
	}

	slugged := filepath.Join(t.TempDir(), "Testrep-0002")
	if err := os.MkdirAll(slugged, 0o755); err != nil {
		t.Fatal(err)
	}
	path, err = SaveFile(slugged, 3, "draft.md", "content")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "Testrep-0002-003-draft.md" {
		t.Fatalf("slugged name = %s", filepath.Base(path))
	}
}

func TestSaveFileNeverOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "42-lld")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	first, err := SaveFile(dir, 1, "draft.md", "original")
	if err != nil {
		t.Fatal(err)
	}
	second, err := SaveFile(dir, 1, "draft.md", "collision")
	if err != nil {
		t.Fatal(err)
	}

	if first == second {
		t.Fatal("collision must produce a new filename")
	}
	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Fatal("original file was overwritten")
	}
	if !strings.HasSuffix(second, ".md") {
		t.Fatalf("renamed file keeps extension: %s", second)
	}
}

func TestMoveToDone(t *testing.T) {
	tr := newTestTrail(t)
	dir, err := tr.CreateAuditDir("Testrep-0001")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := SaveFile(dir, 1, "brief.md", "the brief"); err != nil {
		t.Fatal(err)
	}

	done, err := tr.MoveToDone(dir, 99, "Testrep-0001")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(done) != "99-Testrep-0001" {
		t.Fatalf("done dir = %s", filepath.Base(done))
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("active dir must be gone after move")
	}
	if _, err := os.Stat(filepath.Join(done, "Testrep-0001-001-brief.md")); err != nil {
		t.Fatal("artifacts must survive the move")
	}
}

func TestSaveApprovedMetadata(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "42-lld")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path, err := SaveApprovedMetadata(dir, 7, ApprovedMetadata{
		IssueNumber:     42,
		IssueTitle:      "Add ingest validation",
		FinalLLDPath:    "docs/lld/active/LLD-042.md",
		TotalIterations: 3,
		DraftCount:      3,
		VerdictCount:    3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "007-approved.json" {
		t.Fatalf("name = %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var meta ApprovedMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.IssueNumber != 42 || meta.ApprovedAt == "" {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestSaveFinalLLD(t *testing.T) {
	tr := newTestTrail(t)
	path, err := tr.SaveFinalLLD(7, "# LLD body")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "LLD-007.md" {
		t.Fatalf("name = %s", filepath.Base(path))
	}
}

func TestValidateContextPathEscape(t *testing.T) {
	tr := newTestTrail(t)
	if _, err := tr.ValidateContextPath("../outside.md"); err == nil {
		t.Fatal("path escaping the root must be rejected")
	}
	if _, err := tr.ValidateContextPath("missing.md"); err == nil {
		t.Fatal("nonexistent path must be rejected")
	}

	real := filepath.Join(tr.Root(), "notes.md")
	if err := os.WriteFile(real, []byte("notes"), 0o644); err != nil {
		t.Fatal(err)
	}
	resolved, err := tr.ValidateContextPath("notes.md")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != real {
		t.Fatalf("resolved = %s, want %s", resolved, real)
	}
}

func TestAssembleContext(t *testing.T) {
	tr := newTestTrail(t)
	if err := os.WriteFile(filepath.Join(tr.Root(), "a.md"), []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(tr.Root(), "ref")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.py"), []byte("beta"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "skip.bin"), []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}

	out := tr.AssembleContext([]string{"a.md", "ref", "../escape.md"})
	if !strings.Contains(out, "## Reference: a.md") || !strings.Contains(out, "alpha") {
		t.Fatalf("missing file context:\n%s", out)
	}
	if !strings.Contains(out, "## Reference: b.py") {
		t.Fatalf("missing directory context:\n%s", out)
	}
	if strings.Contains(out, "skip.bin") || strings.Contains(out, "escape") {
		t.Fatalf("unexpected content:\n%s", out)
	}
}

func TestIdeasStaging(t *testing.T) {
	tr := newTestTrail(t)
	if err := tr.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	active := filepath.Join(tr.Root(), IdeasActiveDir)
	if err := os.WriteFile(filepath.Join(active, "b-idea.md"), []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(active, "a-idea.md"), []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	encrypted := append([]byte("\x00GITCRYPT"), []byte("garbage")...)
	if err := os.WriteFile(filepath.Join(active, "secret.md"), encrypted, 0o644); err != nil {
		t.Fatal(err)
	}

	ideas, err := tr.ListIdeas()
	if err != nil {
		t.Fatal(err)
	}
	if len(ideas) != 2 {
		t.Fatalf("ideas = %v, want 2 readable briefs", ideas)
	}
	if filepath.Base(ideas[0]) != "a-idea.md" {
		t.Fatalf("ideas must be sorted: %v", ideas)
	}
	if tr.CountEncryptedIdeas() != 1 {
		t.Fatal("encrypted idea not counted")
	}

	done, err := tr.MoveIdeaToDone(ideas[0], 12)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(done) != "12-a-idea.md" {
		t.Fatalf("done name = %s", filepath.Base(done))
	}
}

func TestLogWorkflowExecution(t *testing.T) {
	tr := newTestTrail(t)
	tr.LogWorkflowExecution("Testrep-0001", "issue", "start", map[string]any{"brief": "a.md"})
	tr.LogWorkflowExecution("Testrep-0001", "issue", "complete", nil)

	data, err := os.ReadFile(filepath.Join(tr.Root(), "docs/lineage/workflow-audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var evt WorkflowEvent
	if err := json.Unmarshal([]byte(lines[0]), &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Event != "start" || evt.Slug != "Testrep-0001" {
		t.Fatalf("event = %+v", evt)
	}
}
