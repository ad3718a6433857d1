package config

// WorkflowsConfig carries per-workflow iteration caps and gate switches.
// Caps are deliberately not unified: the LLD loop converges fast, the
// requirements loop may churn on open questions, and the completeness
// loop is a hard anti-stub stop.
type WorkflowsConfig struct {
	LLDMaxIterations          int `json:"lld_max_iterations,omitempty"`
	RequirementsMaxIterations int `json:"requirements_max_iterations,omitempty"`
	CompletenessMaxIterations int `json:"completeness_max_iterations,omitempty"`
	TestingMaxIterations      int `json:"testing_max_iterations,omitempty"`

	// PytestTimeoutSeconds bounds each pytest subprocess run.
	PytestTimeoutSeconds int `json:"pytest_timeout_seconds,omitempty"`

	// GatesDraft and GatesVerdict enable the interactive human gates.
	// Disabled gates auto-forward.
	GatesDraft   bool `json:"gates_draft"`
	GatesVerdict bool `json:"gates_verdict"`

	// TrackerTimeoutSeconds bounds issue-tracker subprocess calls.
	TrackerTimeoutSeconds int `json:"tracker_timeout_seconds,omitempty"`
}

// DefaultWorkflowsConfig returns the workflow defaults.
func DefaultWorkflowsConfig() WorkflowsConfig {
	return WorkflowsConfig{
		LLDMaxIterations:          5,
		RequirementsMaxIterations: 20,
		CompletenessMaxIterations: 3,
		TestingMaxIterations:      10,
		PytestTimeoutSeconds:      300,
		GatesDraft:                true,
		GatesVerdict:              true,
		TrackerTimeoutSeconds:     30,
	}
}

// ValidationConfig tunes the mechanical validators.
type ValidationConfig struct {
	// MaxValidationAttempts bounds test-plan validation retries before
	// the engine escalates to a terminal error.
	MaxValidationAttempts int `json:"max_validation_attempts,omitempty"`

	// MaxAnalyzedFileBytes: source files above this size are summarized
	// (imports + signatures + docstrings) instead of fully analyzed.
	MaxAnalyzedFileBytes int `json:"max_analyzed_file_bytes,omitempty"`

	// MaxExcerptChars bounds per-file excerpts in codebase analysis.
	MaxExcerptChars int `json:"max_excerpt_chars,omitempty"`

	// MaxPatternRefs bounds discovered pattern-reference files.
	MaxPatternRefs int `json:"max_pattern_refs,omitempty"`
}

// DefaultValidationConfig returns the validator defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxValidationAttempts: 3,
		MaxAnalyzedFileBytes:  1_000_000,
		MaxExcerptChars:       15_000,
		MaxPatternRefs:        10,
	}
}
