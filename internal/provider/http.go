package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentos/internal/logging"
)

const (
	messagesEndpoint = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"

	// maxOutputTokensCap is the hard upper bound regardless of config.
	maxOutputTokensCap = 8192
)

// modelPricing holds per-million-token USD rates. Cache reads bill at 10%
// of the input rate, cache creation at 125%.
type modelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

var httpModelMap = map[string]string{
	"opus-4.5": "claude-opus-4-5-20251101",
	"opus":     "claude-opus-4-5-20251101",
	"sonnet":   "claude-sonnet-4-20250514",
	"haiku":    "claude-haiku-4-20250514",
}

var pricingTable = map[string]modelPricing{
	"claude-opus-4-5-20251101":  {InputPerMTok: 15.0, OutputPerMTok: 75.0},
	"claude-sonnet-4-20250514":  {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"claude-haiku-4-20250514":   {InputPerMTok: 1.0, OutputPerMTok: 5.0},
}

// computeCost prices a call. Unknown models cost zero rather than guessing.
func computeCost(modelID string, input, output, cacheRead, cacheCreate int) float64 {
	p, ok := pricingTable[modelID]
	if !ok {
		return 0
	}
	const mtok = 1_000_000.0
	cost := float64(input)/mtok*p.InputPerMTok +
		float64(output)/mtok*p.OutputPerMTok +
		float64(cacheRead)/mtok*p.InputPerMTok*0.10 +
		float64(cacheCreate)/mtok*p.InputPerMTok*1.25
	return cost
}

// HTTPProvider calls the messages API directly with a key read from the
// repository's .env file. The key is deliberately NOT read from the process
// environment, which may carry a neighboring project's key.
type HTTPProvider struct {
	model      string
	modelID    string
	envPath    string // override for tests; empty means <cwd>/.env
	maxTokens  int
	httpClient *http.Client
}

// NewHTTPProvider validates the model name and returns the adapter.
func NewHTTPProvider(model string) (*HTTPProvider, error) {
	lower := strings.ToLower(model)
	id, ok := httpModelMap[lower]
	if !ok {
		return nil, fmt.Errorf("unknown HTTP model %q (valid: %s)", model, validCLIModels())
	}
	return &HTTPProvider{
		model:      lower,
		modelID:    id,
		maxTokens:  maxOutputTokensCap,
		httpClient: &http.Client{},
	}, nil
}

func (p *HTTPProvider) Name() string  { return "http-direct" }
func (p *HTTPProvider) Model() string { return p.model }

// LoadEnvKey reads KEY=value lines from an .env file. Comments and blank
// lines are skipped; surrounding single or double quotes are stripped.
func LoadEnvKey(path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		if name != key {
			continue
		}
		val := strings.TrimSpace(line[idx+1:])
		val = strings.Trim(val, `"'`)
		return val, nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s not found in %s", key, path)
}

func (p *HTTPProvider) apiKey() (string, error) {
	path := p.envPath
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = filepath.Join(cwd, ".env")
	}
	return LoadEnvKey(path, "ANTHROPIC_API_KEY")
}

type messagesRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	System    string            `json:"system,omitempty"`
	Messages  []messagesContent `json:"messages"`
}

type messagesContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke POSTs to the messages API with the caller timeout on the request
// context.
func (p *HTTPProvider) Invoke(ctx context.Context, systemPrompt, content string, timeout time.Duration) *CallResult {
	start := time.Now()

	fail := func(errMsg, raw string) *CallResult {
		r := &CallResult{
			Success:      false,
			RawResponse:  raw,
			ErrorMessage: errMsg,
			ErrorKind:    Classify(errMsg),
			Provider:     p.Name(),
			ModelUsed:    p.model,
			DurationMs:   time.Since(start).Milliseconds(),
			Attempts:     1,
		}
		LogCall(r)
		return r
	}

	key, err := p.apiKey()
	if err != nil {
		return fail(fmt.Sprintf("api key: %v", err), "")
	}

	maxTokens := p.maxTokens
	if maxTokens > maxOutputTokensCap {
		maxTokens = maxOutputTokensCap
	}
	body, err := json.Marshal(messagesRequest{
		Model:     p.modelID,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  []messagesContent{{Role: "user", Content: content}},
	})
	if err != nil {
		return fail(fmt.Sprintf("marshal request: %v", err), "")
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, messagesEndpoint, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Sprintf("build request: %v", err), "")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", apiVersion)

	logging.ProviderDebug("http invoke model=%s max_tokens=%d timeout=%s", p.modelID, maxTokens, timeout)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return fail(fmt.Sprintf("messages API timed out after %s", timeout), "")
		}
		return fail(fmt.Sprintf("messages API: %v", err), "")
	}
	defer resp.Body.Close()

	rawBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Sprintf("read response: %v", err), "")
	}
	raw := string(rawBytes)

	var parsed messagesResponse
	if jsonErr := json.Unmarshal(rawBytes, &parsed); jsonErr != nil {
		return fail(fmt.Sprintf("parse response (HTTP %d): %v", resp.StatusCode, jsonErr), raw)
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if parsed.Error != nil {
			msg = fmt.Sprintf("HTTP %d %s: %s", resp.StatusCode, parsed.Error.Type, parsed.Error.Message)
		}
		return fail(msg, raw)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	u := parsed.Usage
	result := &CallResult{
		Success:             true,
		Response:            text.String(),
		RawResponse:         raw,
		Provider:            p.Name(),
		ModelUsed:           p.model,
		DurationMs:          time.Since(start).Milliseconds(),
		Attempts:            1,
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheReadTokens:     u.CacheReadInputTokens,
		CacheCreationTokens: u.CacheCreationInputTokens,
		CostUSD:             computeCost(p.modelID, u.InputTokens, u.OutputTokens, u.CacheReadInputTokens, u.CacheCreationInputTokens),
	}
	LogCall(result)
	return result
}
