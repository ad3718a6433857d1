package provider

import (
	"context"
	"time"

	"agentos/internal/logging"
)

// FallbackProvider composes two providers. The primary runs under
// min(caller timeout, primaryTimeout); on any failure the fallback runs
// under the full caller timeout. Exactly one of primary-success or
// fallback-attempted holds per call.
type FallbackProvider struct {
	primary        Provider
	fallback       Provider
	primaryTimeout time.Duration
}

// NewFallbackProvider builds the composer.
func NewFallbackProvider(primary, fallback Provider, primaryTimeout time.Duration) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback, primaryTimeout: primaryTimeout}
}

// Name and Model delegate to the primary so call sites and audit records
// show the provider that was asked for, not the one that answered.
func (p *FallbackProvider) Name() string  { return p.primary.Name() }
func (p *FallbackProvider) Model() string { return p.primary.Model() }

func (p *FallbackProvider) Invoke(ctx context.Context, systemPrompt, content string, timeout time.Duration) *CallResult {
	primaryTimeout := timeout
	if p.primaryTimeout > 0 && p.primaryTimeout < primaryTimeout {
		primaryTimeout = p.primaryTimeout
	}

	result := p.primary.Invoke(ctx, systemPrompt, content, primaryTimeout)
	if result.Success {
		return result
	}

	logging.Provider("primary %s:%s failed (%s); falling back to %s:%s",
		p.primary.Name(), p.primary.Model(), result.ErrorMessage,
		p.fallback.Name(), p.fallback.Model())

	return p.fallback.Invoke(ctx, systemPrompt, content, timeout)
}
