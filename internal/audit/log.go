// Package audit provides the append-only governance log and the
// per-workflow audit trail: numbered artifact files under
// docs/lineage/active (and the legacy docs/audit/active root), slug
// generation, active-to-done archival, and the cross-workflow execution
// log. Audit artifacts are never overwritten.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one governance decision in the JSONL log.
type Entry struct {
	ID         string `json:"id"`
	SequenceID int    `json:"sequence_id"`
	Timestamp  string `json:"timestamp"`
	Node       string `json:"node"`

	Model         string `json:"model"`
	ModelVerified string `json:"model_verified"`

	IssueID     int      `json:"issue_id"`
	Verdict     string   `json:"verdict"`
	Critique    string   `json:"critique"`
	Tier1Issues []string `json:"tier_1_issues"`
	RawResponse string   `json:"raw_response"`

	DurationMs       int64  `json:"duration_ms"`
	CredentialUsed   string `json:"credential_used"`
	RotationOccurred bool   `json:"rotation_occurred"`
	Attempts         int    `json:"attempts"`
}

// NewEntry stamps id and timestamp on a governance entry.
func NewEntry(node, model string, issueID int, verdict string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Node:      node,
		Model:     model,
		IssueID:   issueID,
		Verdict:   verdict,
	}
}

// GovernanceLog is an append-only JSONL file, one complete JSON object per
// line. Malformed lines are skipped on read, never erased.
type GovernanceLog struct {
	mu   sync.Mutex
	path string
}

// NewGovernanceLog returns a log writing to path. Parent directories are
// created on first append.
func NewGovernanceLog(path string) *GovernanceLog {
	return &GovernanceLog{path: path}
}

// Append writes one entry as a JSON line.
func (l *GovernanceLog) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return f.Sync()
}

// All returns every parseable entry in chronological order. A missing file
// yields an empty slice.
func (l *GovernanceLog) All() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// Malformed lines are skipped, not erased.
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return entries, nil
}

// Tail returns the last n entries, oldest first.
func (l *GovernanceLog) Tail(n int) ([]Entry, error) {
	entries, err := l.All()
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Count returns the number of non-empty lines (including malformed ones,
// which still represent write attempts).
func (l *GovernanceLog) Count() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			count++
		}
	}
	return count, scanner.Err()
}
