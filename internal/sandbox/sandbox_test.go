package sandbox

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/logging"
)

func newTestExecutor(t *testing.T, mutate func(*config.SandboxConfig)) *Executor {
	t.Helper()
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	cfg := config.Default().Sandbox
	cfg.Python = python
	cfg.Timeout = 20 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, logging.NewTestLogger().Logger, nil)
}

func TestExecute_SolveFunctionAndStdout(t *testing.T) {
	e := newTestExecutor(t, nil)
	src := `
import os

def helper(x):
    raise RuntimeError("must not be called")

def solve_model():
    print("solved in", os.path.basename(os.getcwd())[:8])
`
	rep, err := e.Execute(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, rep.Success, rep.Error)
	assert.Empty(t, rep.Error)
	assert.Contains(t, rep.Stdout, "solved in sandbox_")
	assert.Equal(t, 0, rep.ExitCode)
	assert.False(t, rep.HasObjectiveValue())
}

func TestExecute_ImportedSolveCallableIgnored(t *testing.T) {
	e := newTestExecutor(t, nil)
	src := `
from json import dumps as solve_everything

def solve(n):
    raise RuntimeError("needs an argument, must not be called")

print("ran")
`
	rep, err := e.Execute(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, rep.Success, rep.Error)
	assert.Equal(t, "ran\n", rep.Stdout)
}

func TestExecute_ExceptionIsData(t *testing.T) {
	e := newTestExecutor(t, nil)
	rep, err := e.Execute(context.Background(), "print('before')\nraise ValueError('infeasible data')\n")
	require.NoError(t, err)
	assert.False(t, rep.Success)
	assert.Equal(t, "infeasible data", rep.Error)
	assert.Equal(t, "before\n", rep.Stdout)
	assert.Contains(t, rep.Stderr, "ValueError")
}

func TestExecute_SyntaxErrorIsData(t *testing.T) {
	e := newTestExecutor(t, nil)
	rep, err := e.Execute(context.Background(), "def broken(:\n")
	require.NoError(t, err)
	assert.False(t, rep.Success)
	assert.NotEmpty(t, rep.Error)
}

func TestExecute_Timeout(t *testing.T) {
	e := newTestExecutor(t, func(c *config.SandboxConfig) { c.Timeout = 300 * time.Millisecond })
	start := time.Now()
	rep, err := e.Execute(context.Background(), "import time\nprint('start', flush=True)\ntime.sleep(30)\n")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, rep.TimedOut)
	assert.False(t, rep.Success)
	assert.Contains(t, rep.Error, "timed out")
}

func TestExecute_OutputIsCapped(t *testing.T) {
	e := newTestExecutor(t, func(c *config.SandboxConfig) { c.MaxOutputBytes = 1024 })
	rep, err := e.Execute(context.Background(), "print('x' * 100000)\n")
	require.NoError(t, err)
	assert.True(t, rep.Success, rep.Error)
	assert.True(t, rep.Truncated)
	assert.Len(t, rep.Stdout, 1024)
}

func TestExecute_EnvironmentIsAllowlisted(t *testing.T) {
	t.Setenv("OPTIMO_TEST_SECRET", "hunter2")
	t.Setenv("OPTIMO_TEST_VISIBLE", "yes")
	e := newTestExecutor(t, func(c *config.SandboxConfig) { c.EnvPassthrough = []string{"OPTIMO_TEST_VISIBLE"} })

	rep, err := e.Execute(context.Background(), "import os\nprint(os.environ.get('OPTIMO_TEST_SECRET'), os.environ.get('OPTIMO_TEST_VISIBLE'))\n")
	require.NoError(t, err)
	assert.Equal(t, "None yes\n", rep.Stdout)
}

func TestExecute_TempDirRemoved(t *testing.T) {
	e := newTestExecutor(t, nil)
	tests := []struct {
		name    string
		src     string
		success bool
	}{
		{"success", "import os\nprint(os.getcwd())\n", true},
		{"raise", "import os\nprint(os.getcwd())\nraise RuntimeError('boom')\n", false},
		{"undefined name", "import os\nprint(os.getcwd())\nprint(undefined_name)\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := e.Execute(context.Background(), tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.success, rep.Success, rep.Error)

			dir := strings.TrimSpace(strings.SplitN(rep.Stdout, "\n", 2)[0])
			require.NotEmpty(t, dir)
			_, statErr := os.Stat(dir)
			assert.True(t, os.IsNotExist(statErr), "sandbox dir %s should be gone", dir)
		})
	}
}

func TestExecute_DetachedChildDoesNotHoldRun(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	e := newTestExecutor(t, func(c *config.SandboxConfig) { c.Timeout = time.Second })
	src := `
import subprocess
subprocess.Popen(["sleep", "15"], start_new_session=True)
print("spawned")
`
	start := time.Now()
	rep, err := e.Execute(context.Background(), src)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.False(t, rep.TimedOut)
	assert.True(t, rep.Success, rep.Error)
	assert.Equal(t, "spawned\n", rep.Stdout)
}

func TestExecute_TimeoutWithDetachedChild(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	e := newTestExecutor(t, func(c *config.SandboxConfig) { c.Timeout = 500 * time.Millisecond })
	src := `
import subprocess, time
subprocess.Popen(["sleep", "15"], start_new_session=True)
time.sleep(30)
`
	start := time.Now()
	rep, err := e.Execute(context.Background(), src)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, rep.TimedOut)
	assert.False(t, rep.Success)
}

// fakePyomo installs a minimal pyomo.core into sys.modules and defines model with one
// active objective whose evaluation is given by call.
func fakePyomo(call string) string {
	return `
import sys, types

core = types.ModuleType("pyomo.core")


class Objective:
    pass


core.Objective = Objective
pkg = types.ModuleType("pyomo")
pkg.core = core
sys.modules["pyomo"] = pkg
sys.modules["pyomo.core"] = core


class _Objective:
    name = "profit"

    def __call__(self):
` + call + `


class _Model:
    def component_objects(self, kind, active=True):
        assert kind is Objective and active
        return iter([_Objective()])


model = _Model()
print("built")
`
}

func TestExecute_ObjectiveExtracted(t *testing.T) {
	e := newTestExecutor(t, nil)
	rep, err := e.Execute(context.Background(), fakePyomo("        return 1250.5"))
	require.NoError(t, err)
	assert.True(t, rep.Success, rep.Error)
	assert.Equal(t, "profit", rep.ObjectiveName)
	require.NotNil(t, rep.ObjectiveValue)
	assert.InDelta(t, 1250.5, *rep.ObjectiveValue, 1e-9)
	assert.False(t, rep.ObjectiveUnknown)
	assert.True(t, rep.HasObjectiveValue())
}

func TestExecute_ObjectiveUnknownWhenEvaluationRaises(t *testing.T) {
	e := newTestExecutor(t, nil)
	rep, err := e.Execute(context.Background(), fakePyomo(`        raise ValueError("No value for uninitialized NumericValue object x")`))
	require.NoError(t, err)
	assert.True(t, rep.Success, rep.Error)
	assert.Equal(t, "profit", rep.ObjectiveName)
	assert.Nil(t, rep.ObjectiveValue)
	assert.True(t, rep.ObjectiveUnknown)
	assert.True(t, rep.HasObjectiveValue())
	assert.Equal(t, "built\n", rep.Stdout)
}

func TestExecute_NonFiniteObjectiveIsUnknown(t *testing.T) {
	e := newTestExecutor(t, nil)
	rep, err := e.Execute(context.Background(), fakePyomo(`        return float("nan")`))
	require.NoError(t, err)
	assert.Nil(t, rep.ObjectiveValue)
	assert.True(t, rep.ObjectiveUnknown)
}

func TestExecute_CancellationKillsAndCleansUp(t *testing.T) {
	e := newTestExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	_, err := e.Execute(ctx, "import time\ntime.sleep(30)\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrInfrastructure)
}

func TestExecute_MissingInterpreter(t *testing.T) {
	cfg := config.Default().Sandbox
	cfg.Python = "/nonexistent/python3"
	e := New(cfg, nil, nil)

	_, err := e.Execute(context.Background(), "print(1)")
	assert.ErrorIs(t, err, ErrInfrastructure)
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(4)
	n, err := b.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, b.Truncated())

	n, _ = b.Write([]byte("cdef"))
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", b.String())
	assert.True(t, b.Truncated())
}
