package rotation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"agentos/internal/config"
	"agentos/internal/provider"
)

var geminiModelMap = map[string]string{
	"2.5-pro":         "gemini-2.5-pro",
	"pro":             "gemini-2.5-pro",
	"2.5-flash":       "gemini-2.5-flash",
	"flash":           "gemini-2.5-flash",
	"3-pro-preview":   "gemini-3-pro-preview",
	"3-pro":           "gemini-3-pro",
	"3-flash-preview": "gemini-3-flash-preview",
}

// RotatingProvider presents the rotator through the common provider
// interface. credential_used, rotation_occurred, and rate_limited pass
// through to the caller.
type RotatingProvider struct {
	model   string // friendly name
	rotator *Rotator
}

// NewRotatingProvider resolves the friendly model name and builds the
// rotator underneath. Flash-tier models fail here, at construction.
func NewRotatingProvider(model string) (*RotatingProvider, error) {
	lower := strings.ToLower(model)
	modelID, ok := geminiModelMap[lower]
	if !ok {
		names := make([]string, 0, len(geminiModelMap))
		for n := range geminiModelMap {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown rotating model %q (valid: %s)", model, strings.Join(names, ", "))
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	rotator, err := NewRotator(modelID, cfg.Rotation, cfg.Providers, generateContent)
	if err != nil {
		return nil, err
	}
	return &RotatingProvider{model: lower, rotator: rotator}, nil
}

func (p *RotatingProvider) Name() string  { return "rotating-http" }
func (p *RotatingProvider) Model() string { return p.model }

func (p *RotatingProvider) Invoke(ctx context.Context, systemPrompt, content string, timeout time.Duration) *provider.CallResult {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := p.rotator.Invoke(callCtx, systemPrompt, content)
	result.ModelUsed = p.model
	provider.LogCall(result)
	return result
}

// ===========================================================================
// Default transport
// ===========================================================================

const generateEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

type generateRequest struct {
	SystemInstruction *generateContentBlock `json:"systemInstruction,omitempty"`
	Contents          []generateContentBlock `json:"contents"`
}

type generateContentBlock struct {
	Role  string `json:"role,omitempty"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContentBlock `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

func textBlock(role, text string) generateContentBlock {
	b := generateContentBlock{Role: role}
	b.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}
	return b
}

// generateContent is the production transport: one generateContent POST
// with one credential. Error payloads carry the status code and message so
// the classifier sees 429/503/401 strings.
func generateContent(ctx context.Context, cred Credential, model, systemPrompt, content string) (string, string, error) {
	sys := textBlock("", systemPrompt)
	body, err := json.Marshal(generateRequest{
		SystemInstruction: &sys,
		Contents:          []generateContentBlock{textBlock("user", content)},
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(generateEndpoint, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", cred.Key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	rawBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read response: %w", err)
	}
	raw := string(rawBytes)

	var parsed generateResponse
	if err := json.Unmarshal(rawBytes, &parsed); err != nil {
		return "", raw, fmt.Errorf("parse response (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || parsed.Error != nil {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if parsed.Error != nil {
			msg = fmt.Sprintf("HTTP %d %s: %s", resp.StatusCode, parsed.Error.Status, parsed.Error.Message)
		}
		return "", raw, fmt.Errorf("%s", msg)
	}

	var text strings.Builder
	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			text.WriteString(part.Text)
		}
	}
	return text.String(), raw, nil
}

func init() {
	provider.Register("rotating-http", func(model string) (provider.Provider, error) {
		return NewRotatingProvider(model)
	})
}
