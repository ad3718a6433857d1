package config

import (
	"os"
	"path/filepath"
)

// RotationConfig tunes the credential rotator.
type RotationConfig struct {
	// CredentialsFile is the ordered credential list. Default:
	// ~/.agentos/gemini-credentials.json.
	CredentialsFile string `json:"credentials_file,omitempty"`

	// StateFile persists the exhausted-credential map across runs.
	// Default: ~/.agentos/rotation_state.json.
	StateFile string `json:"state_file,omitempty"`

	// MaxRetriesPerCredential bounds attempts against one credential,
	// inclusive of the first try.
	MaxRetriesPerCredential int `json:"max_retries_per_credential,omitempty"`

	// BackoffBaseSeconds and BackoffMaxSeconds shape the capacity-error
	// backoff: min(base * 2^attempt, max).
	BackoffBaseSeconds float64 `json:"backoff_base_seconds,omitempty"`
	BackoffMaxSeconds  float64 `json:"backoff_max_seconds,omitempty"`

	// DefaultResetHours is the quota-reset window assumed when the
	// provider error carries no explicit reset time.
	DefaultResetHours float64 `json:"default_reset_hours,omitempty"`
}

// DefaultRotationConfig returns the rotator defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		CredentialsFile:         filepath.Join(Home(), "gemini-credentials.json"),
		StateFile:               filepath.Join(Home(), "rotation_state.json"),
		MaxRetriesPerCredential: 3,
		BackoffBaseSeconds:      2,
		BackoffMaxSeconds:       60,
		DefaultResetHours:       24,
	}
}

// CheckpointDBPath returns the checkpoint store path for a workflow kind.
// Overridable via AGENTOS_WORKFLOW_DB.
func CheckpointDBPath(workflow string) string {
	if p := os.Getenv("AGENTOS_WORKFLOW_DB"); p != "" {
		return p
	}
	return filepath.Join(Home(), workflow+".db")
}
