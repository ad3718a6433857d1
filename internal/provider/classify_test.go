package provider

import "testing"

func TestClassifyQuota(t *testing.T) {
	cases := []string{
		"TerminalQuotaError: you have exhausted your capacity",
		"HTTP 429 Too Many Requests",
		"error: QUOTA_EXHAUSTED",
		"Resource has been exhausted (e.g. check quota).",
	}
	for _, c := range cases {
		if got := Classify(c); got != ErrQuotaExhausted {
			t.Errorf("Classify(%q) = %q, want quota", c, got)
		}
	}
}

func TestClassifyCapacity(t *testing.T) {
	cases := []string{
		"MODEL_CAPACITY_EXHAUSTED",
		"503 Service Unavailable",
		"The model is overloaded. Please try again later.",
		"status 529",
	}
	for _, c := range cases {
		if got := Classify(c); got != ErrCapacityExhausted {
			t.Errorf("Classify(%q) = %q, want capacity", c, got)
		}
	}
}

func TestClassifyAuth(t *testing.T) {
	cases := []string{
		"API_KEY_INVALID",
		"API key not valid. Please pass a valid API key.",
		"PERMISSION_DENIED",
		"HTTP 401 Unauthorized",
	}
	for _, c := range cases {
		if got := Classify(c); got != ErrAuth {
			t.Errorf("Classify(%q) = %q, want auth", c, got)
		}
	}
}

func TestClassifyOrdering(t *testing.T) {
	// Quota patterns win even when capacity text is also present.
	mixed := "429 RESOURCE_EXHAUSTED"
	if got := Classify(mixed); got != ErrQuotaExhausted {
		t.Fatalf("Classify(%q) = %q, want quota (quota patterns match first)", mixed, got)
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	if got := Classify("quota_exhausted"); got != ErrQuotaExhausted {
		t.Fatalf("lowercase payload not matched: got %q", got)
	}
}

func TestClassifyUnknown(t *testing.T) {
	if got := Classify("something else entirely"); got != ErrUnknown {
		t.Fatalf("Classify(unmatched) = %q, want unknown", got)
	}
}

func TestParseResetHours(t *testing.T) {
	hours, ok := ParseResetHours("Your quota will reset after 15h11m58s.")
	if !ok {
		t.Fatal("expected reset duration to parse")
	}
	want := 15.0 + 11.0/60.0
	if diff := hours - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("ParseResetHours = %v, want %v", hours, want)
	}
}

func TestParseResetHoursAbsent(t *testing.T) {
	if _, ok := ParseResetHours("no reset info here"); ok {
		t.Fatal("expected no match")
	}
}
