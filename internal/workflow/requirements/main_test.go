package requirements

import (
	"testing"

	"go.uber.org/goleak"
)

// Codebase analysis reads source files concurrently; no reader may
// outlive the workflow run that started it.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
