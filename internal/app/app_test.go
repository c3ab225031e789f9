package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/lint"
	"github.com/example/optimo/internal/models"
	"github.com/example/optimo/internal/sandbox"
)

type cleanOracle struct{}

func (cleanOracle) Lint(_ context.Context, source string) (*lint.Report, error) {
	return &lint.Report{Fixed: source}, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Artifact.Path = filepath.Join(dir, "generated_code.py")
	cfg.Store.Dir = filepath.Join(dir, "runs")
	cfg.Sandbox.Python = filepath.Join(dir, "no-such-python")
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.Provider = "openai"
	cfg.Engine.APIKey = ""

	_, err := New(context.Background(), cfg, nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.api_key")
}

func TestNew_WiresMockPipeline(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil, Options{Oracle: cleanOracle{}})
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Equal(t, "mock", a.Engine.Name())

	// The interpreter does not exist, so the run stops at validation with an
	// infrastructure failure after the artifact has been written.
	out := a.Coordinator.Start(context.Background(), "Maximize 4x + 3y subject to x + y <= 100.")
	assert.Equal(t, models.StateFailed, out.State)
	assert.Contains(t, out.Diagnostic, sandbox.ErrInfrastructure.Error())
	assert.FileExists(t, cfg.Artifact.Path)

	stored, err := a.Ledger.Get(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, stored.State)
}
