// Package lint runs generated source through a static-analysis oracle and decides
// whether the quality gate accepts it.
package lint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/models"
)

// ErrUnavailable means the oracle itself could not run (missing binary, timeout,
// abnormal exit). The gate fails closed on it.
var ErrUnavailable = errors.New("static analysis unavailable")

// Report is what one lint invocation produced.
type Report struct {
	Fixed    string           // source after auto-fix
	Findings []models.Finding // issues remaining after auto-fix
	ExitCode int
	Output   string // raw diagnostic text
}

// Oracle lints and auto-fixes one source text.
type Oracle interface {
	Lint(ctx context.Context, source string) (*Report, error)
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by executing argv directly, without a shell.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, argv []string) (string, string, int, error) {
	if len(argv) == 0 {
		return "", "", -1, errors.New("exec: empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// RuffOracle runs a ruff-compatible command (`ruff check --fix --output-format=json`
// by default) against a temporary file and reads the auto-fixed text back.
type RuffOracle struct {
	cmd     CommandRunner
	command []string
	timeout time.Duration
}

func NewRuff(cfg config.LintConfig, runner CommandRunner) *RuffOracle {
	if runner == nil {
		runner = ExecRunner{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RuffOracle{cmd: runner, command: cfg.Command, timeout: timeout}
}

func (o *RuffOracle) Lint(ctx context.Context, source string) (*Report, error) {
	dir, err := os.MkdirTemp("", "lint_")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %v", ErrUnavailable, err)
	}
	defer os.RemoveAll(dir)

	const name = "generated.py"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(source), 0o600); err != nil {
		return nil, fmt.Errorf("%w: write source: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	argv := append(append([]string(nil), o.command...), name)
	stdout, stderr, exitCode, err := o.cmd.Run(ctx, dir, argv)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrUnavailable, o.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// ruff exits 1 when violations remain and 2 on abnormal termination.
	if exitCode > 1 {
		return nil, fmt.Errorf("%w: exit code %d: %s", ErrUnavailable, exitCode, strings.TrimSpace(stderr))
	}

	fixed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read fixed source: %v", ErrUnavailable, err)
	}
	output := strings.TrimSpace(stdout)
	if s := strings.TrimSpace(stderr); s != "" {
		output = strings.TrimSpace(output + "\n" + s)
	}
	return &Report{
		Fixed:    string(fixed),
		Findings: ParseFindings(stdout),
		ExitCode: exitCode,
		Output:   output,
	}, nil
}
