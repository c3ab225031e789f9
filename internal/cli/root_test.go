package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/optimo/internal/app"
	"github.com/example/optimo/internal/lint"
	"github.com/example/optimo/internal/models"
	"github.com/example/optimo/internal/providers/llm"
	"github.com/example/optimo/internal/store"
)

func executeCommand(stdin string, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// testEnv writes a config rooted in a temp dir and resets command state between tests.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "optimo.yaml")
	content := fmt.Sprintf(`
engine:
  provider: mock
store:
  dir: %s
artifact:
  path: %s
sandbox:
  python: %s
log:
  level: error
`, filepath.Join(dir, "runs"), filepath.Join(dir, "generated_code.py"), filepath.Join(dir, "no-such-python"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	for _, name := range []string{"file", "no-input"} {
		require.NoError(t, runCmd.Flags().Set(name, runCmd.Flags().Lookup(name).DefValue))
	}
	require.NoError(t, lintCmd.Flags().Set("write", "false"))
	resetHelp(rootCmd)
	t.Cleanup(func() {
		appOptions = app.Options{}
		gateOracle = nil
	})
	return &testEnv{dir: dir, config: path}
}

// resetHelp clears --help left set by earlier executions of the shared command tree.
func resetHelp(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
	}
	for _, c := range cmd.Commands() {
		resetHelp(c)
	}
}

type fakeOracle struct {
	report *lint.Report
}

func (f fakeOracle) Lint(_ context.Context, source string) (*lint.Report, error) {
	if f.report == nil {
		return &lint.Report{Fixed: source}, nil
	}
	return f.report, nil
}

const inquiry = `{"kind":"inquiry","inquiry":{"explanation":"The budget is missing.","clarification_questions":["What is the weekly budget?"]}}`

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "optimo version test-version")
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("", "--help")
	require.NoError(t, err)
	for _, sub := range []string{"run", "serve", "lint", "exec", "runs", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRunsSubcommands(t *testing.T) {
	for _, sub := range []string{"list", "show"} {
		out, err := executeCommand("", "runs", sub, "--help")
		assert.NoError(t, err, sub)
		assert.NotEmpty(t, out, sub)
	}
}

func TestRun_NoProblem(t *testing.T) {
	env := newTestEnv(t)
	_, err := executeCommand("", "run", "--config", env.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no problem given")
}

func TestRun_NoInputStopsAtQuestions(t *testing.T) {
	env := newTestEnv(t)
	appOptions = app.Options{Engine: llm.NewMock(llm.Step{Text: inquiry}), Oracle: fakeOracle{}}

	out, err := executeCommand("", "run", "--config", env.config, "--no-input", "Plan production for next week.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clarification needed: What is the weekly budget?")
	assert.Contains(t, out, "The budget is missing.")
	assert.Contains(t, out, " - What is the weekly budget?")
}

func TestRun_InteractiveClarification(t *testing.T) {
	env := newTestEnv(t)
	engine := llm.NewMock(llm.Step{Text: inquiry})
	appOptions = app.Options{Engine: engine, Oracle: fakeOracle{}}

	// The interpreter is missing, so the run fails at validation after the answer
	// has been folded into the problem.
	out, err := executeCommand("\n$500\n", "run", "--config", env.config, "Plan production for next week.")
	require.Error(t, err)
	assert.Contains(t, out, "> ")
	assert.Contains(t, out, string(models.StateFailed))

	reqs := engine.Requests()
	require.GreaterOrEqual(t, len(reqs), 2)
	assert.Contains(t, reqs[1].Prompt, "$500")
	assert.FileExists(t, filepath.Join(env.dir, "generated_code.py"))
}

func TestRun_FromFile(t *testing.T) {
	env := newTestEnv(t)
	engine := llm.NewMock(llm.Step{Text: inquiry})
	appOptions = app.Options{Engine: engine, Oracle: fakeOracle{}}

	doc := filepath.Join(env.dir, "yields.csv")
	require.NoError(t, os.WriteFile(doc, []byte("crop,yield\nwheat,3\n"), 0o600))

	_, err := executeCommand("", "run", "--config", env.config, "--no-input", "--file", doc, "Plan the season.")
	require.Error(t, err)
	prompt := engine.Requests()[0].Prompt
	assert.Contains(t, prompt, "Plan the season.")
	assert.Contains(t, prompt, "wheat,3")
}

func TestRun_UnsupportedFile(t *testing.T) {
	env := newTestEnv(t)
	doc := filepath.Join(env.dir, "problem.docx")
	require.NoError(t, os.WriteFile(doc, []byte("PK\x03\x04"), 0o600))

	_, err := executeCommand("", "run", "--config", env.config, "--file", doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract")
}

func TestLint_Accepted(t *testing.T) {
	env := newTestEnv(t)
	file := filepath.Join(env.dir, "model.py")
	require.NoError(t, os.WriteFile(file, []byte("import os\nx = 1\n"), 0o600))
	gateOracle = fakeOracle{report: &lint.Report{Fixed: "x = 1\n"}}

	out, err := executeCommand("", "lint", "--config", env.config, "--write", file)
	require.NoError(t, err)
	assert.Contains(t, out, "accepted")

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(b))
}

func TestLint_Rejected(t *testing.T) {
	env := newTestEnv(t)
	file := filepath.Join(env.dir, "model.py")
	require.NoError(t, os.WriteFile(file, []byte("print(y)\n"), 0o600))
	gateOracle = fakeOracle{report: &lint.Report{
		Fixed:    "print(y)\n",
		ExitCode: 1,
		Findings: []models.Finding{{Code: "F821", Message: "Undefined name `y`", Line: 1, Column: 7}},
		Output:   "model.py:1:7: F821 Undefined name `y`",
	}}

	out, err := executeCommand("", "lint", "--config", env.config, file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected: lint")
	assert.Contains(t, out, "F821")
}

func TestLint_PolicyRejection(t *testing.T) {
	env := newTestEnv(t)
	file := filepath.Join(env.dir, "model.py")
	require.NoError(t, os.WriteFile(file, []byte("solver.solve(model, tee=True)\n"), 0o600))
	gateOracle = fakeOracle{}

	_, err := executeCommand("", "lint", "--config", env.config, file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected: policy")
}

func TestExec_MissingInterpreter(t *testing.T) {
	env := newTestEnv(t)
	file := filepath.Join(env.dir, "model.py")
	require.NoError(t, os.WriteFile(file, []byte("print('hi')\n"), 0o600))

	_, err := executeCommand("", "exec", "--config", env.config, file)
	assert.Error(t, err)
}

func TestRunsListAndShow(t *testing.T) {
	env := newTestEnv(t)
	ledger, err := store.NewFileStore(filepath.Join(env.dir, "runs"))
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.Save(context.Background(), &models.Run{
		ID:        "run-1",
		State:     models.StateValidated,
		Problem:   models.ProblemStatement{Text: "Maximize profit\nwith more detail"},
		Summary:   "Success: true",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	out, err := executeCommand("", "runs", "list", "--config", env.config)
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "VALIDATED")
	assert.Contains(t, out, "Maximize profit")
	assert.NotContains(t, out, "more detail")

	out, err = executeCommand("", "runs", "show", "--config", env.config, "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"summary": "Success: true"`)

	_, err = executeCommand("", "runs", "show", "--config", env.config, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "first", truncate("first\nsecond", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
