// Package provider defines the uniform LLM invocation contract used by every
// workflow node: one interface, one result shape, a closed error taxonomy,
// and adapters for subprocess CLI, direct HTTP, and test mocks. Backends
// register themselves by name; provider:model specs are resolved to concrete
// adapters at configuration time.
package provider

import (
	"fmt"
	"strings"
)

// CallResult is the outcome of a single provider invocation with full
// observability. Nodes only ever see this; transport errors never escape
// the provider layer as Go errors.
type CallResult struct {
	Success      bool      `json:"success"`
	Response     string    `json:"response"`      // Model text, empty on failure
	RawResponse  string    `json:"raw_response"`  // Full provider payload for audit
	ErrorMessage string    `json:"error_message"` // Diagnostic, empty on success
	ErrorKind    ErrorKind `json:"error_kind"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	DurationMs int64 `json:"duration_ms"` // Total elapsed including retries
	Attempts   int   `json:"attempts"`    // Invocation count including retries

	CredentialUsed   string `json:"credential_used,omitempty"`
	RotationOccurred bool   `json:"rotation_occurred,omitempty"`

	InputTokens         int     `json:"input_tokens,omitempty"`
	OutputTokens        int     `json:"output_tokens,omitempty"`
	CacheReadTokens     int     `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int     `json:"cache_creation_tokens,omitempty"`
	CostUSD             float64 `json:"cost_usd,omitempty"`

	// RateLimited is true iff a quota-exhaustion signal was observed
	// during this call, even if a later credential succeeded.
	RateLimited bool `json:"rate_limited,omitempty"`
}

// LogCall prints the structured per-call line. One line per provider
// invocation, success or failure.
func LogCall(r *CallResult) {
	durationS := float64(r.DurationMs) / 1000.0
	parts := []string{
		fmt.Sprintf("[LLM] provider=%s", r.Provider),
		fmt.Sprintf("model=%s", r.ModelUsed),
	}
	if r.InputTokens > 0 || r.OutputTokens > 0 {
		parts = append(parts,
			fmt.Sprintf("input=%d", r.InputTokens),
			fmt.Sprintf("output=%d", r.OutputTokens))
	}
	if r.CacheReadTokens > 0 {
		parts = append(parts, fmt.Sprintf("cache_read=%d", r.CacheReadTokens))
	}
	if r.CacheCreationTokens > 0 {
		parts = append(parts, fmt.Sprintf("cache_create=%d", r.CacheCreationTokens))
	}
	if r.CostUSD > 0 {
		parts = append(parts, fmt.Sprintf("cost=$%.4f", r.CostUSD))
	}
	parts = append(parts, fmt.Sprintf("duration=%.1fs", durationS))
	if !r.Success {
		msg := r.ErrorMessage
		if msg == "" {
			msg = "unknown"
		}
		parts = append(parts, fmt.Sprintf("ERROR=%s", msg))
	}
	if r.RateLimited {
		parts = append(parts, "RATE_LIMITED=true")
	}
	fmt.Println("    " + strings.Join(parts, " "))
}
