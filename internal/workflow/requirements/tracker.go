package requirements

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"agentos/internal/logging"
)

// Issue is a tracker issue as seen by the workflow.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
}

// Tracker is the issue-tracker surface the workflow needs. The default
// implementation shells out to the gh CLI; tests substitute a fake.
type Tracker interface {
	FetchIssue(ctx context.Context, number int) (*Issue, error)
	CreateIssue(ctx context.Context, title, body string) (string, error)
}

// GHTracker talks to GitHub through the gh CLI with a per-call timeout.
type GHTracker struct {
	timeout time.Duration
}

// NewGHTracker returns a tracker bounded by timeoutSeconds per subprocess.
func NewGHTracker(timeoutSeconds int) *GHTracker {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &GHTracker{timeout: time.Duration(timeoutSeconds) * time.Second}
}

func (t *GHTracker) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("gh %s timed out after %s", args[0], t.timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("gh %s failed: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// FetchIssue retrieves an issue as JSON via gh issue view.
func (t *GHTracker) FetchIssue(ctx context.Context, number int) (*Issue, error) {
	out, err := t.run(ctx, "issue", "view", fmt.Sprint(number),
		"--json", "number,title,body,url")
	if err != nil {
		return nil, err
	}

	var issue Issue
	if err := json.Unmarshal([]byte(out), &issue); err != nil {
		return nil, fmt.Errorf("parse gh issue view output: %w", err)
	}
	logging.Workflow("fetched issue #%d: %s", issue.Number, issue.Title)
	return &issue, nil
}

// CreateIssue files a new issue and returns its URL (the last line of
// gh issue create output).
func (t *GHTracker) CreateIssue(ctx context.Context, title, body string) (string, error) {
	out, err := t.run(ctx, "issue", "create", "--title", title, "--body", body)
	if err != nil {
		return "", err
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	url := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("gh issue create returned no URL: %q", out)
	}
	return url, nil
}
