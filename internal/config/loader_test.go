package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "optimo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.MaxClarifications)
	assert.Equal(t, 3, cfg.Integrator.Retries)
	assert.Equal(t, 60*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 1<<20, cfg.Sandbox.MaxOutputBytes)
	assert.Equal(t, "generated_code.py", cfg.Artifact.Path)
	assert.Equal(t, []string{"tee=True"}, cfg.Lint.ProhibitedTokens)
	assert.ElementsMatch(t, DefaultNonFatalCodes, cfg.Lint.NonFatalCodes)
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
engine:
  provider: mock
pipeline:
  max_clarifications: 5
sandbox:
  timeout: 10s
  python: /usr/bin/python3
lint:
  non_fatal_codes: [E501]
`)
	t.Setenv("OPTIMO_SANDBOX_TIMEOUT", "20s")
	t.Setenv("OPTIMO_ARTIFACT_PATH", "out/model.py")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pipeline.MaxClarifications)
	assert.Equal(t, 20*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "/usr/bin/python3", cfg.Sandbox.Python)
	assert.Equal(t, "out/model.py", cfg.Artifact.Path)
	assert.Equal(t, []string{"E501"}, cfg.Lint.NonFatalCodes)
	assert.Empty(t, Validate(cfg))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_ProviderKeyFromNativeVariable(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPTIMO_ENGINE_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "k-123")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Engine.Provider)
	assert.Equal(t, "k-123", cfg.Engine.APIKey)
	assert.Equal(t, "gemini-flash-lite-latest", cfg.Engine.Model)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "sandbox.max_output_bytes", envKey("OPTIMO_SANDBOX_MAX_OUTPUT_BYTES"))
	assert.Equal(t, "engine.api_key", envKey("OPTIMO_ENGINE_API_KEY"))
	assert.Equal(t, "debug", envKey("OPTIMO_DEBUG"))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Empty(t, Validate(cfg))

	cfg.Engine.Provider = "gemini"
	cfg.Sandbox.MaxOutputBytes = 10
	cfg.Log.Format = "xml"
	errs := Validate(cfg)

	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"engine.api_key", "sandbox.max_output_bytes", "log.format"}, fields)
}
