package config

// ProvidersConfig configures the LLM provider layer.
type ProvidersConfig struct {
	// Drafter and Reviewer are provider:model specs, e.g.
	// "cli-provider:opus" and "rotating-http:3-pro-preview".
	Drafter  string `json:"drafter,omitempty"`
	Reviewer string `json:"reviewer,omitempty"`

	// GovernanceModel is the required reviewer model id. The rotator
	// constructor rejects anything on ForbiddenModels and anything
	// failing the Pro-tier predicate.
	GovernanceModel string `json:"governance_model,omitempty"`

	// ForbiddenModels are rejected at construction time. Flash-tier
	// models produce unreliable verdicts on governance reviews.
	ForbiddenModels []string `json:"forbidden_models,omitempty"`

	// PrimaryTimeoutSeconds is the fallback composer's cap on the
	// primary provider.
	PrimaryTimeoutSeconds int `json:"primary_timeout_seconds,omitempty"`

	// CallTimeoutSeconds is the default caller timeout for one
	// provider invocation.
	CallTimeoutSeconds int `json:"call_timeout_seconds,omitempty"`

	// MaxOutputTokens is the hard upper bound passed to the HTTP-direct
	// messages API.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`
}

// DefaultProvidersConfig returns the provider-layer defaults.
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Drafter:         "cli-provider:opus",
		Reviewer:        "rotating-http:3-pro-preview",
		GovernanceModel: "gemini-3-pro-preview",
		ForbiddenModels: []string{
			"gemini-2.5-flash",
			"gemini-3-flash-preview",
			"gemini-1.5-flash",
		},
		PrimaryTimeoutSeconds: 300,
		CallTimeoutSeconds:    300,
		MaxOutputTokens:       8192,
	}
}
