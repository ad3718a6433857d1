package requirements

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentos/internal/audit"
	"agentos/internal/config"
	"agentos/internal/graph"
	"agentos/internal/provider"
)

const passingLLD = `# LLD: Input Validation

## 1. Context

This change adds input validation to the loader pipeline so malformed
records are rejected before processing.

## 2. Proposed Changes

| File | Change Type | Description |
|------|-------------|-------------|
| ` + "`pkg/loader.py`" + ` | Modify | Add validation before parse |

## 3. Requirements

1. The system must validate input data
2. The system must return errors on failure

## 10. Verification & Testing

| ID | Scenario | Pass Criteria |
|----|----------|---------------|
| 010 | Validate input check (Requirement 1) | exit code 0 |
| 020 | Error on failure check (Requirement 2) | error line printed |
`

const approvedReview = `## Review

The design is complete and testable.

- [x] **APPROVED**
`

const blockedReview = `## Review

- [x] **BLOCKED**

## Required Changes

- Section 3 must state the error format
`

type fakeTracker struct {
	issue       *Issue
	fetchCalls  int
	createCalls int
	createdURL  string
	fetchErr    error
}

func (f *fakeTracker) FetchIssue(_ context.Context, number int) (*Issue, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	issue := *f.issue
	issue.Number = number
	return &issue, nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, _, _ string) (string, error) {
	f.createCalls++
	if f.createdURL == "" {
		return "https://example.com/repo/issues/77", nil
	}
	return f.createdURL, nil
}

func newTestWorkflow(t *testing.T, kind string, drafter, reviewer provider.Provider) (*Workflow, *fakeTracker, string) {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Workflows.GatesDraft = false
	cfg.Workflows.GatesVerdict = false

	tracker := &fakeTracker{issue: &Issue{
		Title: "Add input validation",
		Body:  "Requirements were reviewed.\n\n- [x] **APPROVED**",
		URL:   "https://example.com/repo/issues/42",
	}}

	w := &Workflow{
		Kind:     kind,
		Drafter:  drafter,
		Reviewer: reviewer,
		Trail:    audit.NewTrail(root),
		Log:      audit.NewGovernanceLog(audit.GovernanceLogPath(root)),
		Tracker:  tracker,
		Gate: func(_, _ string) (GateDecision, string) {
			t.Fatal("gate invoked while disabled")
			return GateExit, ""
		},
		Config: cfg,
	}
	return w, tracker, root
}

func invoke(t *testing.T, w *Workflow, threadID string, initial graph.State) graph.State {
	t.Helper()
	run, err := w.BuildGraph().Compile(nil)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	final, err := run.Invoke(context.Background(), threadID, initial)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	return final
}

func TestLLDWorkflowApprovedFirstRound(t *testing.T) {
	drafter := provider.NewMockProvider("draft", []string{passingLLD}, 0)
	reviewer := provider.NewMockProvider("review", []string{approvedReview}, 0)
	w, tracker, root := newTestWorkflow(t, KindLLD, drafter, reviewer)

	final := invoke(t, w, "lld-42", graph.State{"issue_number": 42})

	if msg := final.GetString("error_message"); msg != "" {
		t.Fatalf("error_message = %q", msg)
	}
	wantPath := filepath.Join(root, "docs/lld/active/LLD-042.md")
	if final.GetString("final_path") != wantPath {
		t.Fatalf("final_path = %q, want %q", final.GetString("final_path"), wantPath)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("final LLD not written: %v", err)
	}
	if tracker.fetchCalls != 1 {
		t.Fatalf("fetch calls = %d, want 1", tracker.fetchCalls)
	}
	if final.GetInt("iteration_count") != 1 || final.GetInt("verdict_count") != 1 {
		t.Fatalf("counters: iterations=%d verdicts=%d",
			final.GetInt("iteration_count"), final.GetInt("verdict_count"))
	}

	// One governance entry with the approval.
	entries, err := w.Log.All()
	if err != nil || len(entries) != 1 {
		t.Fatalf("governance entries = %v err = %v", entries, err)
	}
	if entries[0].Verdict != StatusApproved || entries[0].IssueID != 42 {
		t.Fatalf("entry = %+v", entries[0])
	}

	// The audit dir was archived to done.
	doneDir := filepath.Join(root, audit.LegacyDoneDir, "42-lld")
	if _, err := os.Stat(doneDir); err != nil {
		t.Fatalf("audit dir not archived: %v", err)
	}
}

func TestLLDWorkflowBlockedThenApproved(t *testing.T) {
	drafter := provider.NewMockProvider("draft", []string{passingLLD}, 0)
	reviewer := provider.NewMockProvider("review", []string{blockedReview, approvedReview}, 0)
	w, _, _ := newTestWorkflow(t, KindLLD, drafter, reviewer)

	final := invoke(t, w, "lld-42", graph.State{"issue_number": 42})

	if msg := final.GetString("error_message"); msg != "" {
		t.Fatalf("error_message = %q", msg)
	}
	if final.GetInt("verdict_count") != 2 {
		t.Fatalf("verdict_count = %d, want 2", final.GetInt("verdict_count"))
	}
	if final.GetInt("iteration_count") != 2 {
		t.Fatalf("iteration_count = %d, want 2 (one revision round)", final.GetInt("iteration_count"))
	}

	entries, _ := w.Log.All()
	if len(entries) != 2 || entries[0].Verdict != StatusBlocked || entries[1].Verdict != StatusApproved {
		t.Fatalf("governance entries = %+v", entries)
	}
	if len(entries[0].Tier1Issues) != 1 || !strings.Contains(entries[0].Tier1Issues[0], "error format") {
		t.Fatalf("blocking issues = %v", entries[0].Tier1Issues)
	}
}

func TestLLDWorkflowRejectsUnapprovedSeed(t *testing.T) {
	drafter := provider.NewMockProvider("draft", []string{passingLLD}, 0)
	reviewer := provider.NewMockProvider("review", []string{approvedReview}, 0)
	w, tracker, _ := newTestWorkflow(t, KindLLD, drafter, reviewer)
	tracker.issue.Body = "still under discussion"

	final := invoke(t, w, "lld-42", graph.State{"issue_number": 42})

	if msg := final.GetString("error_message"); !strings.Contains(msg, "not approved") {
		t.Fatalf("error_message = %q", msg)
	}
	if drafter.CallCount() != 0 {
		t.Fatal("drafter must not run on an unapproved seed")
	}
}

func TestLLDWorkflowTrackerTimeoutSurfaces(t *testing.T) {
	drafter := provider.NewMockProvider("draft", []string{passingLLD}, 0)
	reviewer := provider.NewMockProvider("review", []string{approvedReview}, 0)
	w, tracker, _ := newTestWorkflow(t, KindLLD, drafter, reviewer)
	tracker.fetchErr = errors.New("gh issue timed out after 30s")

	final := invoke(t, w, "lld-42", graph.State{"issue_number": 42})
	if msg := final.GetString("error_message"); !strings.Contains(msg, "timed out") {
		t.Fatalf("error_message = %q", msg)
	}
}

func TestIssueWorkflowFilesIssueFromBrief(t *testing.T) {
	drafter := provider.NewMockProvider("draft", []string{"# Add retry budget\n\nBody."}, 0)
	reviewer := provider.NewMockProvider("review", []string{approvedReview}, 0)
	w, tracker, root := newTestWorkflow(t, KindIssue, drafter, reviewer)

	briefDir := filepath.Join(root, audit.IdeasActiveDir)
	if err := os.MkdirAll(briefDir, 0o755); err != nil {
		t.Fatal(err)
	}
	briefPath := filepath.Join(briefDir, "retry-budget.md")
	brief := "---\ntitle: Add retry budget\n---\n\n# Add retry budget\n\nWe need a retry budget.\n"
	if err := os.WriteFile(briefPath, []byte(brief), 0o644); err != nil {
		t.Fatal(err)
	}

	final := invoke(t, w, "issue-brief", graph.State{"brief_path": briefPath})

	if msg := final.GetString("error_message"); msg != "" {
		t.Fatalf("error_message = %q", msg)
	}
	if tracker.createCalls != 1 {
		t.Fatalf("create calls = %d, want 1", tracker.createCalls)
	}
	if !strings.HasPrefix(final.GetString("final_path"), "https://") {
		t.Fatalf("final_path = %q, want issue URL", final.GetString("final_path"))
	}
	// Issue number comes from the filed URL.
	if final.GetInt("issue_number") != 77 {
		t.Fatalf("issue_number = %d, want 77", final.GetInt("issue_number"))
	}
	// The brief moved to ideas/done.
	if _, err := os.Stat(briefPath); !os.IsNotExist(err) {
		t.Fatal("brief should have been archived out of ideas/active")
	}
}

func TestIssueWorkflowMissingBrief(t *testing.T) {
	drafter := provider.NewMockProvider("draft", nil, 0)
	reviewer := provider.NewMockProvider("review", nil, 0)
	w, _, root := newTestWorkflow(t, KindIssue, drafter, reviewer)

	final := invoke(t, w, "issue-brief", graph.State{
		"brief_path": filepath.Join(root, "ideas/active/absent.md"),
	})
	if msg := final.GetString("error_message"); !strings.Contains(msg, "brief not found") {
		t.Fatalf("error_message = %q", msg)
	}
}

// cancellingProvider cancels the run after producing its draft, simulating
// an interrupt that lands between draft generation and validation.
type cancellingProvider struct {
	inner  provider.Provider
	cancel context.CancelFunc
}

func (p *cancellingProvider) Name() string  { return p.inner.Name() }
func (p *cancellingProvider) Model() string { return p.inner.Model() }
func (p *cancellingProvider) Invoke(ctx context.Context, system, content string, timeout time.Duration) *provider.CallResult {
	result := p.inner.Invoke(ctx, system, content, timeout)
	p.cancel()
	return result
}

func TestResumeDoesNotRefetchSeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	drafter := &cancellingProvider{
		inner:  provider.NewMockProvider("draft", []string{passingLLD}, 0),
		cancel: cancel,
	}
	reviewer := provider.NewMockProvider("review", []string{approvedReview}, 0)
	w, tracker, _ := newTestWorkflow(t, KindLLD, drafter, reviewer)

	cp := graph.NewMemoryCheckpointer()
	run, err := w.BuildGraph().Compile(cp)
	if err != nil {
		t.Fatal(err)
	}

	_, err = run.Invoke(ctx, "lld-42", graph.State{"issue_number": 42})
	if !errors.Is(err, graph.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if tracker.fetchCalls != 1 {
		t.Fatalf("fetch calls before resume = %d", tracker.fetchCalls)
	}

	// Resume with a drafter that would produce a different draft; it must
	// not run again before the verdict loop asks for a revision.
	w.Drafter = provider.NewMockProvider("draft", []string{"# wrong"}, 0)
	run, err = w.BuildGraph().Compile(cp)
	if err != nil {
		t.Fatal(err)
	}
	final, err := run.Invoke(context.Background(), "lld-42", graph.State{})
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	if tracker.fetchCalls != 1 {
		t.Fatalf("fetch calls = %d, want 1 (no duplicate seed fetch)", tracker.fetchCalls)
	}
	if final.GetString("error_message") != "" {
		t.Fatalf("error_message = %q", final.GetString("error_message"))
	}
	if final.GetInt("iteration_count") != 1 {
		t.Fatalf("iteration_count = %d, want 1 (continued, not restarted)", final.GetInt("iteration_count"))
	}
}

func TestRouteAfterReviewOpenQuestions(t *testing.T) {
	w, _, _ := newTestWorkflow(t, KindLLD,
		provider.NewMockProvider("draft", nil, 0),
		provider.NewMockProvider("review", nil, 0))

	s := graph.State{"open_questions_status": QuestionsHumanRequired}
	if got := w.routeAfterReview(s); got != nodeHumanGateVerdict {
		t.Fatalf("HUMAN_REQUIRED routed to %q", got)
	}

	s = graph.State{"open_questions_status": QuestionsUnanswered, "iteration_count": 1}
	if got := w.routeAfterReview(s); got != nodeGenerateDraft {
		t.Fatalf("UNANSWERED routed to %q", got)
	}

	s = graph.State{"open_questions_status": QuestionsUnanswered,
		"iteration_count": w.Config.Workflows.LLDMaxIterations}
	if got := w.routeAfterReview(s); got != nodeHumanGateVerdict {
		t.Fatalf("UNANSWERED at cap routed to %q", got)
	}
}

func TestRouteFromGateDefaultsToEnd(t *testing.T) {
	if got := routeFromGate(graph.State{"next_node": "bogus"}); got != graph.END {
		t.Fatalf("routed to %q", got)
	}
	if got := routeFromGate(graph.State{"next_node": nodeFinalize}); got != nodeFinalize {
		t.Fatalf("routed to %q", got)
	}
}

func TestHumanGateRevise(t *testing.T) {
	w, _, _ := newTestWorkflow(t, KindLLD,
		provider.NewMockProvider("draft", nil, 0),
		provider.NewMockProvider("review", nil, 0))
	w.Config.Workflows.GatesDraft = true
	w.Gate = func(stage, preview string) (GateDecision, string) {
		if stage != "draft" || preview == "" {
			t.Fatalf("gate called with stage=%q preview=%q", stage, preview)
		}
		return GateRevise, "tighten section 3"
	}

	update, err := w.humanGateDraft(context.Background(), graph.State{"draft": passingLLD})
	if err != nil {
		t.Fatal(err)
	}
	if update.GetString("next_node") != nodeGenerateDraft {
		t.Fatalf("next_node = %q", update.GetString("next_node"))
	}
	if update.GetString("review_feedback") != "tighten section 3" {
		t.Fatalf("review_feedback = %q", update.GetString("review_feedback"))
	}
}

func TestValidateTestPlanEscalatesPastCap(t *testing.T) {
	w, _, _ := newTestWorkflow(t, KindLLD,
		provider.NewMockProvider("draft", nil, 0),
		provider.NewMockProvider("review", nil, 0))

	s := graph.State{
		"draft":              "# Doc\n\n## 3. Requirements\n\n1. REQ-1: must work somehow\n",
		"test_plan_attempts": w.Config.Validation.MaxValidationAttempts,
	}
	update, err := w.validateTestPlan(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if msg := update.GetString("error_message"); !strings.Contains(msg, "escalating") {
		t.Fatalf("error_message = %q, want escalation", msg)
	}
}

func TestParseBriefFrontMatter(t *testing.T) {
	fm, body, err := parseBrief("---\ntitle: My Feature\nlabels: [idea]\n---\n\n# My Feature\n\nBody text.\n")
	if err != nil {
		t.Fatal(err)
	}
	if fm.Title != "My Feature" || len(fm.Labels) != 1 {
		t.Fatalf("front matter = %+v", fm)
	}
	if !strings.HasPrefix(body, "# My Feature") {
		t.Fatalf("body = %q", body)
	}
}

func TestParseBriefNoFrontMatterFallsBackToHeading(t *testing.T) {
	fm, _, err := parseBrief("# Heading Title\n\nBody.\n")
	if err != nil || fm.Title != "Heading Title" {
		t.Fatalf("fm=%+v err=%v", fm, err)
	}
}

func TestParseBriefUnterminatedFrontMatter(t *testing.T) {
	if _, _, err := parseBrief("---\ntitle: broken\n"); err == nil {
		t.Fatal("expected error for unterminated front matter")
	}
}

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"- [x] **APPROVED**", StatusApproved},
		{"- [X] **BLOCKED**", StatusBlocked},
		{"* [x] APPROVED", StatusApproved},
		{"**Verdict:** APPROVED", StatusApproved},
		{"Verdict: BLOCKED", StatusBlocked},
		{"- [ ] APPROVED\n- [ ] BLOCKED", StatusBlocked}, // nothing checked
		{"looks good to me", StatusBlocked},              // ambiguity blocks
	}
	for _, c := range cases {
		if got := ParseVerdict(c.in); got != c.want {
			t.Fatalf("ParseVerdict(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExtractRequiredChanges(t *testing.T) {
	got := ExtractRequiredChanges(blockedReview)
	if len(got) != 1 || !strings.Contains(got[0], "error format") {
		t.Fatalf("required changes = %v", got)
	}

	if got := ExtractRequiredChanges(approvedReview); len(got) != 0 {
		t.Fatalf("approved review yielded changes: %v", got)
	}
}

func TestParseOpenQuestionsStatus(t *testing.T) {
	if got := ParseOpenQuestionsStatus("Q3 is HUMAN_REQUIRED; Q4 UNANSWERED"); got != QuestionsHumanRequired {
		t.Fatalf("status = %q, want HUMAN_REQUIRED to dominate", got)
	}
	if got := ParseOpenQuestionsStatus("Q4 remains UNANSWERED"); got != QuestionsUnanswered {
		t.Fatalf("status = %q", got)
	}
	if got := ParseOpenQuestionsStatus("all questions answered"); got != QuestionsNone {
		t.Fatalf("status = %q", got)
	}
}

func TestStripPreamble(t *testing.T) {
	in := "Sure! Here is the document you asked for:\n\n# Title\n\nBody.\n"
	if got := StripPreamble(in); !strings.HasPrefix(got, "# Title") {
		t.Fatalf("got %q", got)
	}
	if got := StripPreamble("no headings at all"); got != "no headings at all" {
		t.Fatalf("got %q", got)
	}
}

func TestParseIssueNumberFromURL(t *testing.T) {
	if got := parseIssueNumberFromURL("https://example.com/r/issues/123"); got != 123 {
		t.Fatalf("got %d", got)
	}
	if got := parseIssueNumberFromURL("not-a-url"); got != 0 {
		t.Fatalf("got %d", got)
	}
}
