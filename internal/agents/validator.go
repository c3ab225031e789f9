package agents

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/optimo/internal/models"
)

// Runner executes a program and reports the outcome. *sandbox.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, source string) (*models.ExecutionReport, error)
}

// Validator runs accepted code. Program failures are data in the report; only a
// runner error fails the stage.
type Validator struct {
	stage
	runner Runner
}

func NewValidator(runner Runner, deps Deps) *Validator {
	return &Validator{
		stage:  stage{name: StageValidator, deps: deps.withDefaults()},
		runner: runner,
	}
}

func (v *Validator) Validate(ctx context.Context, art *models.Artifact) (report *models.ExecutionReport, err error) {
	ctx, span, started := v.begin(ctx)
	defer func() {
		var fields []zap.Field
		if report != nil {
			fields = append(fields, zap.Bool("success", report.Success), zap.Bool("timed_out", report.TimedOut))
		}
		v.end(ctx, span, started, err, fields...)
	}()

	if art == nil {
		return nil, errors.New("validator: no artifact")
	}
	report, err = v.runner.Execute(ctx, art.Code)
	if err != nil {
		return nil, fmt.Errorf("validator: %w", err)
	}
	report.Success = report.Error == ""
	return report, nil
}
