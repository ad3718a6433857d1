package provider

import (
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind classifies provider errors into the closed taxonomy that drives
// rotation decisions.
type ErrorKind string

const (
	// ErrQuotaExhausted: per-credential quota reset; rotate to the next
	// credential.
	ErrQuotaExhausted ErrorKind = "quota"

	// ErrCapacityExhausted: transient capacity; back off and retry the
	// same credential.
	ErrCapacityExhausted ErrorKind = "capacity"

	// ErrAuth: invalid key; skip the credential for this run.
	ErrAuth ErrorKind = "auth"

	// ErrParse: malformed provider payload; fail closed.
	ErrParse ErrorKind = "parse"

	// ErrModelMismatch: verified model differs from requested; fail closed.
	ErrModelMismatch ErrorKind = "model"

	// ErrUnknown: anything else; fail closed.
	ErrUnknown ErrorKind = "unknown"

	// ErrNone marks a successful call.
	ErrNone ErrorKind = ""
)

var quotaPatterns = []string{
	"TerminalQuotaError",
	"exhausted your capacity",
	"QUOTA_EXHAUSTED",
	"429",
	"Resource has been exhausted",
}

var capacityPatterns = []string{
	"MODEL_CAPACITY_EXHAUSTED",
	"RESOURCE_EXHAUSTED",
	"503",
	"529",
	"The model is overloaded",
}

var authPatterns = []string{
	"API_KEY_INVALID",
	"API key not valid",
	"PERMISSION_DENIED",
	"UNAUTHENTICATED",
	"401",
	"403",
}

// Classify maps a provider error payload to an ErrorKind. The match is
// ordered: quota patterns first, then capacity, then auth; anything else is
// ErrUnknown. Matching is case-insensitive and deterministic.
func Classify(errOutput string) ErrorKind {
	lower := strings.ToLower(errOutput)

	for _, p := range quotaPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return ErrQuotaExhausted
		}
	}
	for _, p := range capacityPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return ErrCapacityExhausted
		}
	}
	for _, p := range authPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return ErrAuth
		}
	}
	return ErrUnknown
}

// Pattern: "Your quota will reset after 15h11m58s"
var resetPattern = regexp.MustCompile(`reset after (\d+)h(\d+)m`)

// ParseResetHours extracts a quota-reset duration in hours from an error
// payload. Returns (hours, true) when present.
func ParseResetHours(errOutput string) (float64, bool) {
	m := resetPattern.FindStringSubmatch(errOutput)
	if m == nil {
		return 0, false
	}
	hours, err1 := strconv.Atoi(m[1])
	minutes, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return float64(hours) + float64(minutes)/60, true
}
