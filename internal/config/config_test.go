package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "cli-provider:opus", cfg.Providers.Drafter)
	assert.Equal(t, "rotating-http:3-pro-preview", cfg.Providers.Reviewer)
	assert.Equal(t, 300, cfg.Providers.CallTimeoutSeconds)

	assert.Equal(t, 5, cfg.Workflows.LLDMaxIterations)
	assert.Equal(t, 20, cfg.Workflows.RequirementsMaxIterations)
	assert.Equal(t, 3, cfg.Workflows.CompletenessMaxIterations)
	assert.Equal(t, 10, cfg.Workflows.TestingMaxIterations)
	assert.True(t, cfg.Workflows.GatesDraft)
	assert.True(t, cfg.Workflows.GatesVerdict)

	assert.Equal(t, 3, cfg.Rotation.MaxRetriesPerCredential)
	assert.Equal(t, float64(2), cfg.Rotation.BackoffBaseSeconds)
	assert.Equal(t, float64(60), cfg.Rotation.BackoffMaxSeconds)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("AGENTOS_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Workflows, cfg.Workflows)
}

func TestLoadAppliesOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTOS_HOME", home)

	override := `{
  "workflows": {"lld_max_iterations": 7, "gates_draft": false},
  "providers": {"drafter": "mock:draft"}
}`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.json"), []byte(override), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Workflows.LLDMaxIterations)
	assert.False(t, cfg.Workflows.GatesDraft)
	assert.Equal(t, "mock:draft", cfg.Providers.Drafter)
	// Absent fields keep their defaults.
	assert.Equal(t, 20, cfg.Workflows.RequirementsMaxIterations)
	assert.Equal(t, "rotating-http:3-pro-preview", cfg.Providers.Reviewer)
}

func TestLoadRejectsMalformedConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTOS_HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.json"), []byte("{not json"), 0o644))

	_, err := Load()
	require.Error(t, err)
}

func TestHomeHonorsEnvOverride(t *testing.T) {
	t.Setenv("AGENTOS_HOME", "/tmp/agentos-test-home")
	assert.Equal(t, "/tmp/agentos-test-home", Home())
}

func TestCheckpointDBPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTOS_HOME", home)
	t.Setenv("AGENTOS_WORKFLOW_DB", "")

	assert.Equal(t, filepath.Join(home, "lld.db"), CheckpointDBPath("lld"))

	t.Setenv("AGENTOS_WORKFLOW_DB", "/tmp/custom.db")
	assert.Equal(t, "/tmp/custom.db", CheckpointDBPath("lld"))
}
