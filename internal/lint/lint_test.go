package lint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/models"
)

// mockCmd records calls and returns a configured result. When fix is set it rewrites
// the linted file the way an auto-fixer would.
type mockCmd struct {
	calls    [][]string
	stdout   string
	stderr   string
	exitCode int
	err      error
	fix      string
}

func (m *mockCmd) Run(ctx context.Context, dir string, argv []string) (string, string, int, error) {
	m.calls = append(m.calls, argv)
	if m.fix != "" {
		_ = os.WriteFile(filepath.Join(dir, argv[len(argv)-1]), []byte(m.fix), 0o600)
	}
	return m.stdout, m.stderr, m.exitCode, m.err
}

func ruffConfig() config.LintConfig {
	return config.Default().Lint
}

func TestRuffOracle_ReadsFixedSource(t *testing.T) {
	mock := &mockCmd{fix: "import pyomo.environ as pyo\n"}
	o := NewRuff(ruffConfig(), mock)

	rep, err := o.Lint(context.Background(), "import pyomo.environ as pyo;\n")
	require.NoError(t, err)
	assert.Equal(t, "import pyomo.environ as pyo\n", rep.Fixed)
	assert.Equal(t, 0, rep.ExitCode)
	assert.Empty(t, rep.Findings)

	require.Len(t, mock.calls, 1)
	assert.Equal(t, []string{"ruff", "check", "--fix", "--output-format=json", "generated.py"}, mock.calls[0])
}

func TestRuffOracle_InfrastructureFailures(t *testing.T) {
	tests := []struct {
		name string
		cmd  *mockCmd
	}{
		{"binary missing", &mockCmd{exitCode: -1, err: errors.New(`exec: "ruff": executable file not found`)}},
		{"abnormal exit", &mockCmd{exitCode: 2, stderr: "error: Failed to parse"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRuff(ruffConfig(), tc.cmd).Lint(context.Background(), "x = 1\n")
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, _, code, err := ExecRunner{}.Run(context.Background(), t.TempDir(), []string{"definitely-not-a-linter-binary"})
	assert.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestParseFindings_JSON(t *testing.T) {
	out := `[
	  {"code":"F401","message":"unused import","location":{"row":1,"column":8}},
	  {"code":null,"message":"SyntaxError: invalid syntax","location":{"row":3,"column":1}}
	]`
	findings := ParseFindings(out)
	require.Len(t, findings, 2)
	assert.Equal(t, models.Finding{Code: "F401", Message: "unused import", Line: 1, Column: 8}, findings[0])
	assert.Equal(t, "E999", findings[1].Code)
}

func TestParseFindings_TextFallback(t *testing.T) {
	out := "model.py:1:1: E741 Ambiguous variable name\nmodel.py:2:1: E741 again\nmodel.py:4:5: PLR2004 Magic value\nFound 3 errors."
	assert.Equal(t, []string{"E741", "PLR2004"}, Codes(ParseFindings(out)))
	assert.Empty(t, ParseFindings("   "))
}

type fakeOracle struct {
	report *Report
	err    error
}

func (f fakeOracle) Lint(context.Context, string) (*Report, error) { return f.report, f.err }

func findings(codes ...string) []models.Finding {
	out := make([]models.Finding, 0, len(codes))
	for _, c := range codes {
		out = append(out, models.Finding{Code: c})
	}
	return out
}

func TestGate_AllowListProperty(t *testing.T) {
	cfg := ruffConfig()
	tests := []struct {
		name     string
		exitCode int
		codes    []string
		accept   bool
	}{
		{"clean", 0, nil, true},
		{"only non-fatal", 1, []string{"E741", "T201", "PLR2004"}, true},
		{"every non-fatal code", 1, config.DefaultNonFatalCodes, true},
		{"one fatal among non-fatal", 1, []string{"E741", "F821"}, false},
		{"fatal only", 1, []string{"E999"}, false},
		{"non-zero exit without findings", 1, nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGate(fakeOracle{report: &Report{Fixed: "x = 1\n", ExitCode: tc.exitCode, Findings: findings(tc.codes...), Output: "out"}}, cfg)
			v, err := g.Evaluate(context.Background(), "x=1")
			require.NoError(t, err)
			assert.Equal(t, tc.accept, v.Accepted)
			if tc.accept {
				assert.Equal(t, "x = 1\n", v.Code)
			} else {
				assert.Equal(t, ReasonLint, v.Reason)
				assert.Contains(t, v.Diagnostic, "out")
			}
		})
	}
}

func TestGate_BlockingFindingsOnly(t *testing.T) {
	g := NewGate(fakeOracle{report: &Report{ExitCode: 1, Findings: findings("E741", "F821")}}, ruffConfig())
	v, err := g.Evaluate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"F821"}, Codes(v.Findings))
}

func TestGate_ProhibitedToken(t *testing.T) {
	code := "results = solver.solve(model, tee=True)\n"
	g := NewGate(fakeOracle{report: &Report{Fixed: code}}, ruffConfig())

	v, err := g.Evaluate(context.Background(), code)
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonPolicy, v.Reason)
	assert.Contains(t, v.Diagnostic, "tee=True")
}

func TestGate_FailsClosedOnOracleError(t *testing.T) {
	g := NewGate(fakeOracle{err: ErrUnavailable}, ruffConfig())
	v, err := g.Evaluate(context.Background(), "x = 1")
	assert.Nil(t, v)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRuffOracle_Timeout(t *testing.T) {
	cfg := ruffConfig()
	cfg.Timeout = 10 * time.Millisecond
	slow := runnerFunc(func(ctx context.Context, dir string, argv []string) (string, string, int, error) {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	})
	_, err := NewRuff(cfg, slow).Lint(context.Background(), "x = 1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

type runnerFunc func(ctx context.Context, dir string, argv []string) (string, string, int, error)

func (f runnerFunc) Run(ctx context.Context, dir string, argv []string) (string, string, int, error) {
	return f(ctx, dir, argv)
}
