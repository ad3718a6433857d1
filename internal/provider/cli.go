package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"agentos/internal/logging"
)

// cliModelMap maps friendly model names to the full model identifiers the
// claude CLI expects.
var cliModelMap = map[string]string{
	"opus-4.5": "claude-opus-4-5-20251101",
	"opus":     "claude-opus-4-5-20251101",
	"sonnet":   "claude-sonnet-4-20250514",
	"haiku":    "claude-haiku-4-20250514",
}

// CLIProvider invokes the claude CLI in headless mode. Content goes in on
// stdin; the result comes back as a single JSON object on stdout. Uses the
// operator's logged-in session, so no API key is needed.
type CLIProvider struct {
	model   string // friendly name
	modelID string // full identifier passed to --model
	cliPath string // cached after first discovery
}

// NewCLIProvider validates the friendly model name and returns the adapter.
func NewCLIProvider(model string) (*CLIProvider, error) {
	lower := strings.ToLower(model)
	id, ok := cliModelMap[lower]
	if !ok {
		return nil, fmt.Errorf("unknown CLI model %q (valid: %s)", model, validCLIModels())
	}
	return &CLIProvider{model: lower, modelID: id}, nil
}

func validCLIModels() string {
	names := make([]string, 0, len(cliModelMap))
	for n := range cliModelMap {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (p *CLIProvider) Name() string  { return "cli-provider" }
func (p *CLIProvider) Model() string { return p.model }

// findCLI locates the claude executable: PATH first, then the fixed install
// locations npm commonly uses.
func (p *CLIProvider) findCLI() (string, error) {
	if p.cliPath != "" {
		return p.cliPath, nil
	}

	if path, err := exec.LookPath("claude"); err == nil {
		p.cliPath = path
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	fallbacks := []string{
		filepath.Join(home, "AppData", "Roaming", "npm", "claude.cmd"),
		filepath.Join(home, "AppData", "Roaming", "npm", "claude"),
		filepath.Join(home, ".npm-global", "bin", "claude"),
		"/usr/local/bin/claude",
		filepath.Join(home, ".local", "bin", "claude"),
	}
	for _, loc := range fallbacks {
		if _, statErr := os.Stat(loc); statErr == nil {
			p.cliPath = loc
			return loc, nil
		}
	}

	return "", fmt.Errorf("claude command not found; install with: npm install -g @anthropic-ai/claude-code")
}

// cliResponse is the JSON shape claude -p emits with --output-format json.
type cliResponse struct {
	Result string `json:"result"`
	Usage  struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Invoke runs claude -p with the content on stdin. The timeout kills the
// subprocess via the derived context.
func (p *CLIProvider) Invoke(ctx context.Context, systemPrompt, content string, timeout time.Duration) *CallResult {
	start := time.Now()

	fail := func(errMsg, raw string, attempts int) *CallResult {
		r := &CallResult{
			Success:      false,
			RawResponse:  raw,
			ErrorMessage: errMsg,
			ErrorKind:    Classify(errMsg),
			Provider:     p.Name(),
			ModelUsed:    p.model,
			DurationMs:   time.Since(start).Milliseconds(),
			Attempts:     attempts,
		}
		LogCall(r)
		return r
	}

	cliPath, err := p.findCLI()
	if err != nil {
		return fail(err.Error(), "", 0)
	}

	args := []string{
		"-p",
		"--output-format", "json",
		"--setting-sources", "user",
		"--tools", "",
		"--strict-mcp-config",
		"--model", p.modelID,
	}
	if systemPrompt != "" {
		args = append(args, "--system-prompt", systemPrompt)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cliPath, args...)
	cmd.Stdin = strings.NewReader(content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.ProviderDebug("cli invoke model=%s timeout=%s", p.modelID, timeout)

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return fail(fmt.Sprintf("claude -p timed out after %s", timeout), "", 1)
	}
	if runErr != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		if errMsg == "" {
			errMsg = runErr.Error()
		}
		return fail(fmt.Sprintf("claude -p failed: %s", errMsg), stdout.String(), 1)
	}

	raw := stdout.String()
	result := &CallResult{
		Success:     true,
		RawResponse: raw,
		Provider:    p.Name(),
		ModelUsed:   p.model,
		DurationMs:  time.Since(start).Milliseconds(),
		Attempts:    1,
	}

	var parsed cliResponse
	if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr == nil {
		result.Response = parsed.Result
		result.InputTokens = parsed.Usage.InputTokens
		result.OutputTokens = parsed.Usage.OutputTokens
		result.CacheReadTokens = parsed.Usage.CacheReadInputTokens
		result.CacheCreationTokens = parsed.Usage.CacheCreationInputTokens
		result.CostUSD = parsed.TotalCostUSD
	} else {
		// Not JSON: some CLI versions emit bare text on trivial prompts.
		result.Response = strings.TrimSpace(raw)
	}

	LogCall(result)
	return result
}
