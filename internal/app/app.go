// Package app builds the pipeline and its collaborators from one Config. The CLI and
// the HTTP server both start here.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/optimo/internal/agents"
	"github.com/example/optimo/internal/artifact"
	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/lint"
	"github.com/example/optimo/internal/logging"
	"github.com/example/optimo/internal/orchestrator"
	"github.com/example/optimo/internal/providers"
	"github.com/example/optimo/internal/providers/llm"
	"github.com/example/optimo/internal/sandbox"
	"github.com/example/optimo/internal/store"
	"github.com/example/optimo/internal/telemetry"
)

// App owns every long-lived component of a process.
type App struct {
	Config      *config.Config
	Log         *logging.Logger
	Telemetry   *telemetry.Telemetry
	Metrics     *telemetry.Metrics
	Engine      llm.Engine
	Gate        *lint.Gate
	Sandbox     *sandbox.Executor
	Artifacts   *artifact.Store
	Ledger      store.Store
	Coordinator *orchestrator.Coordinator
}

// Options override components, mainly for tests. Nil fields are built from Config.
type Options struct {
	Engine llm.Engine
	Oracle lint.Oracle
	Ledger store.Store
}

// New validates cfg and wires the pipeline.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger, opts Options) (*App, error) {
	if errs := config.Validate(cfg); len(errs) > 0 {
		joined := make([]error, 0, len(errs))
		for _, e := range errs {
			joined = append(joined, e)
		}
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(joined...))
	}
	if log == nil {
		log = logging.Nop()
	}

	a := &App{Config: cfg, Log: log, Metrics: telemetry.NewMetrics()}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	a.Telemetry = tel

	a.Engine = opts.Engine
	if a.Engine == nil {
		if a.Engine, err = providers.New(ctx, cfg.Engine); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	oracle := opts.Oracle
	if oracle == nil {
		oracle = lint.NewRuff(cfg.Lint, lint.ExecRunner{})
	}
	a.Gate = lint.NewGate(oracle, cfg.Lint)
	a.Sandbox = sandbox.New(cfg.Sandbox, log.Named("sandbox"), a.Metrics)
	a.Artifacts = artifact.NewStore(cfg.Artifact)

	a.Ledger = opts.Ledger
	if a.Ledger == nil {
		if a.Ledger, err = store.Open(ctx, cfg.Store); err != nil {
			return nil, fmt.Errorf("run ledger: %w", err)
		}
	}

	deps := agents.Deps{Log: log.Named("agents"), Tracer: tel.Tracer(), Metrics: a.Metrics}
	expert, err := agents.NewExpert(a.Engine, cfg.Expert, deps)
	if err != nil {
		return nil, err
	}
	integrator, err := agents.NewIntegrator(a.Engine, a.Gate, cfg.Integrator, deps)
	if err != nil {
		return nil, err
	}
	validator := agents.NewValidator(a.Sandbox, deps)

	a.Coordinator = orchestrator.New(
		orchestrator.Stages{Expert: expert, Integrator: integrator, Validator: validator},
		a.Artifacts,
		orchestrator.Options{
			MaxClarifications: cfg.Pipeline.MaxClarifications,
			Ledger:            a.Ledger,
			Log:               log.Named("pipeline"),
			Tracer:            tel.Tracer(),
			Metrics:           a.Metrics,
		},
	)
	log.Debug(ctx, "pipeline wired",
		zap.String("engine", a.Engine.Name()),
		zap.String("artifact", cfg.Artifact.Path),
		zap.Int("max_clarifications", cfg.Pipeline.MaxClarifications))
	return a, nil
}

// Close releases the ledger and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Ledger != nil {
		errs = append(errs, a.Ledger.Close())
	}
	if a.Telemetry != nil {
		errs = append(errs, a.Telemetry.Shutdown(ctx))
	}
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
