package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Canned defaults keyed by model name, so workflow tests can run end to end
// with "mock:draft" and "mock:review" and hit realistic document shapes.
var mockDefaults = map[string][]string{
	"draft": {
		"# Mock Issue Title\n\n## Summary\n\nThis is a mock draft for testing.\n\n" +
			"## Requirements\n\n- Mock requirement 1\n- Mock requirement 2\n\n" +
			"## Acceptance Criteria\n\n- [ ] Mock criteria met",
	},
	"review": {
		"## Final Verdict\n\n[X] **APPROVED** - Ready for implementation\n" +
			"[ ] **REVISE** - Requires changes\n[ ] **DISCUSS** - Needs clarification\n\n" +
			"### Strengths\n- Well-structured\n- Clear requirements\n\n" +
			"### Recommendations\n- None required for approval",
	},
}

// MockProvider returns canned responses without any network or subprocess.
// Responses cycle when exhausted; failOnCall injects a deterministic failure
// on the Nth invocation (1-indexed).
type MockProvider struct {
	mu         sync.Mutex
	model      string
	responses  []string
	failOnCall int
	callCount  int
}

// NewMockProvider builds a mock. With nil responses, per-model defaults
// apply ("draft", "review") falling back to a single generic response.
func NewMockProvider(model string, responses []string, failOnCall int) *MockProvider {
	if responses == nil {
		if def, ok := mockDefaults[model]; ok {
			responses = def
		} else {
			responses = []string{"Mock response"}
		}
	}
	return &MockProvider{model: model, responses: responses, failOnCall: failOnCall}
}

func (p *MockProvider) Name() string  { return "mock" }
func (p *MockProvider) Model() string { return p.model }

// CallCount reports how many times Invoke has run.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

func (p *MockProvider) Invoke(_ context.Context, _, _ string, _ time.Duration) *CallResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callCount++

	if p.failOnCall > 0 && p.callCount == p.failOnCall {
		return &CallResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("mock failure on call %d", p.callCount),
			ErrorKind:    ErrUnknown,
			Provider:     p.Name(),
			ModelUsed:    p.model,
			Attempts:     1,
		}
	}

	response := p.responses[(p.callCount-1)%len(p.responses)]
	return &CallResult{
		Success:     true,
		Response:    response,
		RawResponse: response,
		Provider:    p.Name(),
		ModelUsed:   p.model,
		DurationMs:  100,
		Attempts:    1,
	}
}
