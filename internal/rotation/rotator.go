package rotation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"agentos/internal/config"
	"agentos/internal/logging"
	"agentos/internal/provider"
)

// Transport performs one raw API call with one credential. Implementations
// return the response text or an error whose message feeds the classifier.
type Transport func(ctx context.Context, cred Credential, model, systemPrompt, content string) (text, raw string, err error)

// Sleeper pauses for the backoff delay, honoring ctx cancellation. Tests
// inject a recorder.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Rotator drives the credential rotation loop over a Transport.
type Rotator struct {
	model     string
	cfg       config.RotationConfig
	transport Transport
	sleep     Sleeper

	credsPath string
	statePath string

	creds []Credential // lazily loaded, cached for the process lifetime
}

// NewRotator validates the model and builds a rotator. The governance
// reviewer requires a Pro-tier model; forbidden (Flash-tier) models are
// rejected here so a misconfiguration fails at startup, not mid-review.
func NewRotator(model string, cfg config.RotationConfig, prov config.ProvidersConfig, transport Transport) (*Rotator, error) {
	for _, forbidden := range prov.ForbiddenModels {
		if model == forbidden {
			return nil, fmt.Errorf(
				"model %q is explicitly forbidden for governance (required: %s)",
				model, prov.GovernanceModel)
		}
	}
	if !strings.HasPrefix(model, "gemini-") || !strings.Contains(strings.ToLower(model), "pro") {
		return nil, fmt.Errorf(
			"model %q is not a Pro-tier model (governance requires: %s)",
			model, prov.GovernanceModel)
	}

	home := config.Home()
	return &Rotator{
		model:     model,
		cfg:       cfg,
		transport: transport,
		sleep:     defaultSleep,
		credsPath: filepath.Join(home, cfg.CredentialsFile),
		statePath: filepath.Join(home, cfg.StateFile),
	}, nil
}

func (r *Rotator) backoffDelay(attempt int) time.Duration {
	delay := float64(r.cfg.BackoffBaseSeconds) * float64(int(1)<<attempt)
	if limit := float64(r.cfg.BackoffMaxSeconds); delay > limit {
		delay = limit
	}
	return time.Duration(delay * float64(time.Second))
}

func (r *Rotator) loadCredentials() ([]Credential, error) {
	if r.creds != nil {
		return r.creds, nil
	}
	creds, err := LoadCredentials(r.credsPath)
	if err != nil {
		return nil, err
	}
	r.creds = creds
	return creds, nil
}

// Invoke runs the rotation loop: expire stale exhaustion entries, filter to
// enabled non-exhausted credentials, then try each in order. Capacity errors
// back off and retry the same credential; quota errors mark it exhausted and
// rotate; auth and unknown errors skip it. State persists on every mutation.
func (r *Rotator) Invoke(ctx context.Context, systemPrompt, content string) *provider.CallResult {
	start := time.Now()
	totalAttempts := 0
	sawQuota := false

	fail := func(kind provider.ErrorKind, msg string, rotated bool) *provider.CallResult {
		return &provider.CallResult{
			Success:          false,
			ErrorMessage:     msg,
			ErrorKind:        kind,
			Provider:         "rotating-http",
			ModelUsed:        r.model,
			DurationMs:       time.Since(start).Milliseconds(),
			Attempts:         totalAttempts,
			RotationOccurred: rotated,
			RateLimited:      kind == provider.ErrQuotaExhausted || sawQuota,
		}
	}

	creds, err := r.loadCredentials()
	if err != nil {
		return fail(provider.ErrUnknown, err.Error(), false)
	}

	state := LoadState(r.statePath)
	now := time.Now()

	var available []Credential
	var exhaustedNames []string
	for _, c := range creds {
		if !c.Enabled {
			continue
		}
		if state.IsExhausted(c.Name, now) {
			exhaustedNames = append(exhaustedNames, c.Name)
			continue
		}
		available = append(available, c)
	}
	// IsExhausted may have expired entries; persist the cleanup.
	if err := state.Save(r.statePath); err != nil {
		logging.Rotation("state save failed: %v", err)
	}

	if len(available) == 0 {
		return fail(provider.ErrQuotaExhausted,
			fmt.Sprintf("All credentials exhausted: %s. Wait for quota reset.",
				strings.Join(exhaustedNames, ", ")),
			false)
	}

	initial := available[0].Name
	var errors []string

	for _, cred := range available {
		rotated := cred.Name != initial

		for attempt := 1; attempt <= r.cfg.MaxRetriesPerCredential; attempt++ {
			totalAttempts++

			text, raw, callErr := r.transport(ctx, cred, r.model, systemPrompt, content)
			if callErr == nil && text != "" {
				state.RecordSuccess(cred.Name, time.Now())
				if err := state.Save(r.statePath); err != nil {
					logging.Rotation("state save failed: %v", err)
				}
				return &provider.CallResult{
					Success:          true,
					Response:         text,
					RawResponse:      raw,
					Provider:         "rotating-http",
					ModelUsed:        r.model,
					DurationMs:       time.Since(start).Milliseconds(),
					Attempts:         totalAttempts,
					CredentialUsed:   cred.Name,
					RotationOccurred: rotated,
					RateLimited:      sawQuota,
				}
			}

			errStr := "empty response"
			if callErr != nil {
				errStr = callErr.Error()
			}
			kind := provider.Classify(errStr)

			switch kind {
			case provider.ErrCapacityExhausted:
				delay := r.backoffDelay(attempt)
				logging.Rotation("capacity error on %s, backing off %s (attempt %d/%d)",
					cred.Name, delay, attempt, r.cfg.MaxRetriesPerCredential)
				if err := r.sleep(ctx, delay); err != nil {
					return fail(provider.ErrUnknown, fmt.Sprintf("interrupted during backoff: %v", err), rotated)
				}
				continue

			case provider.ErrQuotaExhausted:
				sawQuota = true
				resetHours := float64(r.cfg.DefaultResetHours)
				if h, ok := provider.ParseResetHours(errStr); ok {
					resetHours = h
				}
				state.MarkExhausted(cred.Name, time.Now(), resetHours)
				if err := state.Save(r.statePath); err != nil {
					logging.Rotation("state save failed: %v", err)
				}
				logging.Rotation("quota exhausted on %s, reset in %.1fh, rotating", cred.Name, resetHours)
				errors = append(errors, fmt.Sprintf("%s: Quota exhausted", cred.Name))

			case provider.ErrAuth:
				logging.Rotation("auth failure on %s, skipping", cred.Name)
				errors = append(errors, fmt.Sprintf("%s: Authentication failed", cred.Name))

			default:
				if len(errStr) > 100 {
					errStr = errStr[:100]
				}
				errors = append(errors, fmt.Sprintf("%s: %s", cred.Name, errStr))
			}
			break // rotate to next credential
		}
	}

	return fail(provider.ErrUnknown,
		"All credentials failed:\n  - "+strings.Join(errors, "\n  - "),
		len(available) > 1)
}
