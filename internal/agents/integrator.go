package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/lint"
	"github.com/example/optimo/internal/models"
	"github.com/example/optimo/internal/providers/llm"
	"github.com/example/optimo/internal/schema"
)

// QualityGate decides whether generated source may leave the Integrator.
type QualityGate interface {
	Evaluate(ctx context.Context, source string) (*lint.Verdict, error)
}

// Integrator generates model source and retries until the gate accepts it.
type Integrator struct {
	stage
	gate QualityGate
}

func NewIntegrator(engine llm.Engine, gate QualityGate, cfg config.StageConfig, deps Deps) (*Integrator, error) {
	instructions, err := loadInstructions(cfg.InstructionsFile, integratorInstructions)
	if err != nil {
		return nil, fmt.Errorf("integrator: %w", err)
	}
	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}
	return &Integrator{
		stage: stage{
			name:         StageIntegrator,
			engine:       engine,
			instructions: instructions,
			retries:      retries,
			deps:         deps.withDefaults(),
		},
		gate: gate,
	}, nil
}

// Generate returns gate-accepted source for r. Schema failures and gate rejections
// share one attempt budget; an oracle failure ends the stage immediately.
func (in *Integrator) Generate(ctx context.Context, r *models.Reformulation) (art *models.Artifact, err error) {
	ctx, span, started := in.begin(ctx)
	defer func() {
		var fields []zap.Field
		if art != nil {
			fields = append(fields, zap.Int("attempts", art.Attempts), zap.Int("findings", len(art.Findings)))
		}
		in.end(ctx, span, started, err, fields...)
	}()

	if r == nil {
		return nil, errors.New("integrator: no reformulation")
	}

	var lastErr error
	for attempt := 1; attempt <= in.retries; attempt++ {
		code, cerr := in.draft(ctx, r, lastErr)
		if cerr != nil {
			if !errors.Is(cerr, llm.ErrMalformed) {
				return nil, fmt.Errorf("integrator: %w", cerr)
			}
			lastErr = cerr
			in.deps.Log.Warn(ctx, "integrator answer rejected", zap.Int("attempt", attempt), zap.Error(cerr))
			continue
		}

		verdict, verr := in.gate.Evaluate(ctx, code)
		if verr != nil {
			return nil, fmt.Errorf("integrator: quality gate: %w", verr)
		}
		if !verdict.Accepted {
			in.deps.Metrics.GateRejected(verdict.Reason)
			lastErr = &RejectionError{Reason: verdict.Reason, Diagnostic: verdict.Diagnostic}
			in.deps.Log.Warn(ctx, "quality gate rejected code",
				zap.Int("attempt", attempt),
				zap.String("reason", verdict.Reason),
				zap.Strings("codes", findingCodes(verdict.Findings)))
			continue
		}
		if len(verdict.Findings) > 0 {
			in.deps.Log.Warn(ctx, "code accepted with non-fatal findings",
				zap.Strings("codes", findingCodes(verdict.Findings)))
		}
		return &models.Artifact{Code: verdict.Code, Attempts: attempt, Findings: verdict.Findings}, nil
	}
	return nil, fmt.Errorf("integrator: %w after %d attempts: %w", ErrQualityGateExhausted, in.retries, lastErr)
}

// draft asks the engine for one candidate. A plain-text fallback answer that is not
// an envelope is taken as the source itself.
func (in *Integrator) draft(ctx context.Context, r *models.Reformulation, previous error) (string, error) {
	resp, err := in.generate(ctx, llm.Request{
		Instructions: in.instructions,
		Prompt:       codePrompt(r, previous),
		Schemas:      schema.IntegratorOutputs,
	})
	if err != nil {
		return "", err
	}
	if resp.Variant == "" {
		code := schema.StripCodeFences(resp.Text)
		if code == "" {
			return "", fmt.Errorf("%w: empty code", llm.ErrMalformed)
		}
		return code, nil
	}
	code, err := schema.ParseGeneratedCode(resp.Variant, resp.Data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrMalformed, err)
	}
	return code, nil
}

func codePrompt(r *models.Reformulation, previous error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem class: %s\n\nFormulation:\n%s\n", r.ProblemClass, r.ReformulatedProblem)
	if len(r.Assumptions) > 0 {
		b.WriteString("\nAssumptions:\n")
		for _, a := range r.Assumptions {
			b.WriteString("- ")
			b.WriteString(a)
			b.WriteString("\n")
		}
	}
	var rej *RejectionError
	switch {
	case errors.As(previous, &rej):
		b.WriteString("\nYour previous code was rejected.\n")
		b.WriteString(rej.Diagnostic)
		b.WriteString("\n")
	case previous != nil:
		fmt.Fprintf(&b, "\nYour previous answer was invalid: %v\n", previous)
	}
	return b.String()
}

func findingCodes(fs []models.Finding) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Code)
	}
	return out
}
