// Package sandbox executes untrusted generated programs in a throwaway directory and
// a separate process group, and reports what happened as data.
package sandbox

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/logging"
	"github.com/example/optimo/internal/models"
	"github.com/example/optimo/internal/schema"
	"github.com/example/optimo/internal/telemetry"
)

//go:embed harness.py
var harness []byte

// ErrInfrastructure is returned when the sandbox itself cannot be set up or the
// interpreter cannot be started. Everything the program does is reported in the
// ExecutionReport instead.
var ErrInfrastructure = errors.New("sandbox infrastructure failure")

const (
	modelFile   = "model.py"
	harnessFile = "harness.py"
	resultFile  = "result.json"
	fsizeMB     = 64

	// Bounds how long Wait keeps reading output after the interpreter exits. A
	// detached descendant can hold the pipes open indefinitely.
	defaultWaitDelay = 2 * time.Second
)

// Executor runs programs with the configured interpreter and limits. It holds no
// per-call state; concurrent Execute calls are independent.
type Executor struct {
	python      string
	timeout     time.Duration
	maxOutput   int
	cpuSeconds  int
	memoryMB    int
	passthrough []string
	waitDelay   time.Duration
	log         *logging.Logger
	metrics     *telemetry.Metrics
}

func New(cfg config.SandboxConfig, log *logging.Logger, metrics *telemetry.Metrics) *Executor {
	if log == nil {
		log = logging.Nop()
	}
	return &Executor{
		python:      cfg.Python,
		timeout:     cfg.Timeout,
		maxOutput:   cfg.MaxOutputBytes,
		cpuSeconds:  cfg.CPUSeconds,
		memoryMB:    cfg.MemoryMB,
		passthrough: cfg.EnvPassthrough,
		waitDelay:   defaultWaitDelay,
		log:         log,
		metrics:     metrics,
	}
}

// Execute runs source to completion, timeout or cancellation. The temporary
// directory is removed on every path.
func (e *Executor) Execute(ctx context.Context, source string) (*models.ExecutionReport, error) {
	dir, err := os.MkdirTemp("", "sandbox_")
	if err != nil {
		e.metrics.SandboxExecuted("infrastructure")
		return nil, fmt.Errorf("%w: create temp dir: %v", ErrInfrastructure, err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			e.log.Warn(ctx, "sandbox cleanup failed", zap.String("dir", dir), zap.Error(err))
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, modelFile), []byte(source), 0o600); err != nil {
		e.metrics.SandboxExecuted("infrastructure")
		return nil, fmt.Errorf("%w: write program: %v", ErrInfrastructure, err)
	}
	if err := os.WriteFile(filepath.Join(dir, harnessFile), harness, 0o600); err != nil {
		e.metrics.SandboxExecuted("infrastructure")
		return nil, fmt.Errorf("%w: write harness: %v", ErrInfrastructure, err)
	}

	report, err := e.run(ctx, dir)
	switch {
	case err != nil:
		e.metrics.SandboxExecuted("infrastructure")
	case report.TimedOut:
		e.metrics.SandboxExecuted("timeout")
	case report.Success:
		e.metrics.SandboxExecuted("success")
	default:
		e.metrics.SandboxExecuted("error")
	}
	return report, err
}

func (e *Executor) run(ctx context.Context, dir string) (*models.ExecutionReport, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.Command(e.python, "-I", harnessFile, modelFile, resultFile,
		strconv.Itoa(e.cpuSeconds), strconv.Itoa(e.memoryMB), strconv.Itoa(fsizeMB))
	cmd.Dir = dir
	cmd.Env = e.environment(dir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := newCappedBuffer(e.maxOutput)
	stderr := newCappedBuffer(e.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = e.waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start interpreter %q: %v", ErrInfrastructure, e.python, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	timedOut := false
	select {
	case <-runCtx.Done():
		// kill the whole group so grandchildren (solver binaries) die too
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		waitErr = <-done
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sandbox execution cancelled: %w", ctx.Err())
		}
		// An interpreter that had already exited is not a timeout, even if a
		// detached descendant kept Wait busy past the deadline.
		timedOut = killed(waitErr)
	case waitErr = <-done:
	}

	report := &models.ExecutionReport{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode(waitErr, timedOut),
		TimedOut:  timedOut,
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  time.Since(start),
	}
	if timedOut {
		report.Error = fmt.Sprintf("execution timed out after %s", e.timeout)
		return report, nil
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// The interpreter exited cleanly but left a descendant holding its output.
		e.log.Warn(ctx, "sandbox output pipes held open after exit", zap.Duration("wait_delay", e.waitDelay))
		waitErr = nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("%w: wait for interpreter: %v", ErrInfrastructure, waitErr)
		}
	}

	e.applyResult(report, dir)
	report.Success = report.Error == ""
	return report, nil
}

// applyResult folds the harness result file into report. A missing or malformed
// file means the process died before the harness could record anything.
func (e *Executor) applyResult(report *models.ExecutionReport, dir string) {
	data, err := os.ReadFile(filepath.Join(dir, resultFile))
	if err != nil {
		report.Error = crashMessage(report)
		return
	}
	res, err := schema.ParseHarnessResult(data)
	if err != nil {
		report.Error = "invalid harness result: " + err.Error()
		return
	}
	if res.Error != nil && *res.Error != "" {
		report.Error = *res.Error
	} else if !res.Success {
		report.Error = crashMessage(report)
	}
	if res.ObjectiveName != nil {
		report.ObjectiveName = *res.ObjectiveName
	}
	report.ObjectiveValue = res.ObjectiveValue
	report.ObjectiveUnknown = res.ObjectiveUnknown && res.ObjectiveValue == nil
}

func crashMessage(report *models.ExecutionReport) string {
	if line := lastLine(report.Stderr); line != "" {
		return fmt.Sprintf("process exited with code %d: %s", report.ExitCode, line)
	}
	return fmt.Sprintf("process exited with code %d without a result", report.ExitCode)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func killed(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL
}

func exitCode(err error, timedOut bool) int {
	if timedOut {
		return -1
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 0
}

// environment builds the child's environment from an allowlist. Host variables are
// visible only when named in passthrough.
func (e *Executor) environment(dir string) []string {
	env := []string{
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
	}
	if path := os.Getenv("PATH"); path != "" {
		env = append(env, "PATH="+path)
	}
	for _, name := range e.passthrough {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}
