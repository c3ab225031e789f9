// Package agents implements the three pipeline stages: the Expert reformulates the
// problem, the Integrator generates code behind the quality gate and the Validator
// runs it in the sandbox.
package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/example/optimo/internal/logging"
	"github.com/example/optimo/internal/providers/llm"
	"github.com/example/optimo/internal/telemetry"
)

// Stage names, as used in spans, logs and metrics.
const (
	StageExpert     = "expert"
	StageIntegrator = "integrator"
	StageValidator  = "validator"
)

var (
	// ErrQualityGateExhausted is returned when every Integrator attempt was rejected.
	ErrQualityGateExhausted = errors.New("quality gate exhausted")
	// ErrEngineUnavailable is returned when the engine stayed throttled through the
	// plain-text fallback.
	ErrEngineUnavailable = errors.New("reasoning engine quota exceeded; try again later")
	// ErrSchemaExhausted is returned when the Expert never produced a valid answer.
	ErrSchemaExhausted = errors.New("engine answers never matched the declared outputs")
)

// RejectionError is one gate rejection; its diagnostic is fed to the next attempt.
type RejectionError struct {
	Reason     string
	Diagnostic string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected by %s check: %s", e.Reason, e.Diagnostic)
}

// Deps are the observability hooks shared by every stage. Zero values are valid.
type Deps struct {
	Log     *logging.Logger
	Tracer  trace.Tracer
	Metrics *telemetry.Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer(telemetry.InstrumentationName)
	}
	return d
}

type stage struct {
	name         string
	engine       llm.Engine
	instructions string
	retries      int
	deps         Deps
}

// begin opens the stage span and logs the start event.
func (s *stage) begin(ctx context.Context) (context.Context, trace.Span, time.Time) {
	ctx = logging.WithStage(ctx, s.name)
	ctx, span := s.deps.Tracer.Start(ctx, "stage."+s.name)
	s.deps.Log.Info(ctx, "stage started")
	return ctx, span, time.Now()
}

// end closes what begin opened, logging either the result or the failure.
func (s *stage) end(ctx context.Context, span trace.Span, started time.Time, err error, fields ...zap.Field) {
	elapsed := time.Since(started)
	s.deps.Metrics.ObserveStage(s.name, elapsed)
	fields = append(fields, zap.Duration("elapsed", elapsed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.deps.Log.Error(ctx, "stage failed", append(fields, zap.Error(err))...)
	} else {
		s.deps.Log.Info(ctx, "stage result", fields...)
	}
	span.End()
}

// generate calls the engine. A transient failure is retried once as a plain-text
// request carrying the format hint; the fallback answer is decoded leniently and
// returned with an empty Variant when it does not decode.
func (s *stage) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := s.engine.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !errors.Is(err, llm.ErrTransient) {
		return nil, err
	}

	s.deps.Log.Warn(ctx, "engine throttled, retrying in plain-text mode",
		zap.String("engine", s.engine.Name()), zap.Error(err))
	trace.SpanFromContext(ctx).AddEvent("engine.fallback", trace.WithAttributes(attribute.String("cause", err.Error())))

	fallback := req
	fallback.PlainText = true
	if hint := llm.FormatHint(req.Schemas); hint != "" {
		fallback.Instructions = strings.TrimSpace(req.Instructions + "\n\n" + hint)
	}
	resp, err = s.engine.Generate(ctx, fallback)
	if err != nil {
		if errors.Is(err, llm.ErrTransient) {
			return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return nil, fmt.Errorf("plain-text fallback: %w", err)
	}
	if resp.Variant == "" && len(req.Schemas) > 0 {
		if variant, data, derr := req.Schemas.DecodeText(resp.Text); derr == nil {
			resp.Variant, resp.Data = variant, data
		}
	}
	return resp, nil
}

// loadInstructions reads an instruction override from path, or returns fallback.
func loadInstructions(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read instructions: %w", err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return fallback, nil
	}
	return text, nil
}
