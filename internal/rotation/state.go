package rotation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State tracks per-credential quota exhaustion across process lifetimes.
// Exhausted maps credential name to its ISO 8601 reset time.
type State struct {
	Exhausted       map[string]string `json:"exhausted"`
	LastSuccess     string            `json:"last_success,omitempty"`
	LastSuccessTime string            `json:"last_success_time,omitempty"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{Exhausted: make(map[string]string)}
}

// LoadState reads persisted state. A missing or corrupt file yields a
// fresh empty state rather than an error; rotation must not be blocked by
// a bad state file.
func LoadState(path string) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewState()
	}
	s := NewState()
	if err := json.Unmarshal(data, s); err != nil {
		return NewState()
	}
	if s.Exhausted == nil {
		s.Exhausted = make(map[string]string)
	}
	return s
}

// Save persists the state, creating parent directories as needed.
func (s *State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// IsExhausted reports whether a credential is still inside its exhaustion
// window at now. A reset time at or before now clears the entry (the caller
// persists). Unparseable reset times count as not exhausted.
func (s *State) IsExhausted(name string, now time.Time) bool {
	resetStr, ok := s.Exhausted[name]
	if !ok {
		return false
	}
	resetTime, err := time.Parse(time.RFC3339, resetStr)
	if err != nil {
		return false
	}
	if !now.Before(resetTime) {
		delete(s.Exhausted, name)
		return false
	}
	return true
}

// MarkExhausted records a credential as exhausted until now + resetHours.
func (s *State) MarkExhausted(name string, now time.Time, resetHours float64) {
	reset := now.UTC().Truncate(time.Second).Add(time.Duration(resetHours * float64(time.Hour)))
	s.Exhausted[name] = reset.Format(time.RFC3339)
}

// RecordSuccess stamps the last successful credential.
func (s *State) RecordSuccess(name string, now time.Time) {
	s.LastSuccess = name
	s.LastSuccessTime = now.UTC().Format(time.RFC3339)
}
