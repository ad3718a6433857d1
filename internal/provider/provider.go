package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Provider is the uniform invocation contract over all LLM backends.
// Invoke never returns a Go error for transport failures; those are folded
// into the CallResult so nodes observe a single terminal outcome.
type Provider interface {
	// Name returns the backend name ("cli-provider", "http-direct",
	// "rotating-http", "mock").
	Name() string

	// Model returns the friendly model identifier this provider was
	// configured with.
	Model() string

	// Invoke sends system prompt and content to the backend, bounded by
	// timeout. The returned result is never nil.
	Invoke(ctx context.Context, systemPrompt, content string, timeout time.Duration) *CallResult
}

// Factory builds a provider for a friendly model name.
type Factory func(model string) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs a backend factory under a provider name. Backends
// register at init time; later registrations for the same name replace
// earlier ones (used by tests).
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Resolve parses a provider:model spec and constructs the adapter.
// Unrecognized providers and models are rejected here, at configuration
// time, so the running engine only ever holds a valid interface reference.
func Resolve(spec string) (Provider, error) {
	name, model, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(registered(), ", "))
	}
	return factory(model)
}

// ParseSpec splits a provider:model string.
func ParseSpec(spec string) (name, model string, err error) {
	idx := strings.Index(spec, ":")
	if idx < 0 {
		return "", "", fmt.Errorf(
			"invalid provider spec %q: expected provider:model (e.g. %q)",
			spec, "cli-provider:opus")
	}
	return strings.ToLower(spec[:idx]), spec[idx+1:], nil
}

func registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("cli-provider", func(model string) (Provider, error) {
		return NewCLIProvider(model)
	})
	Register("http-direct", func(model string) (Provider, error) {
		return NewHTTPProvider(model)
	})
	Register("mock", func(model string) (Provider, error) {
		return NewMockProvider(model, nil, 0), nil
	})
}
