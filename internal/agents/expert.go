package agents

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/models"
	"github.com/example/optimo/internal/providers/llm"
	"github.com/example/optimo/internal/schema"
)

// Expert turns a problem statement into a reformulation or a clarification request.
type Expert struct {
	stage
}

func NewExpert(engine llm.Engine, cfg config.StageConfig, deps Deps) (*Expert, error) {
	instructions, err := loadInstructions(cfg.InstructionsFile, expertInstructions)
	if err != nil {
		return nil, fmt.Errorf("expert: %w", err)
	}
	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}
	return &Expert{stage{
		name:         StageExpert,
		engine:       engine,
		instructions: instructions,
		retries:      retries,
		deps:         deps.withDefaults(),
	}}, nil
}

// Reformulate asks the engine about problem. Answers that do not validate count
// against the retry budget and the validation error is shown to the next attempt.
func (e *Expert) Reformulate(ctx context.Context, problem *models.ProblemStatement) (out *models.ExpertOutput, err error) {
	ctx, span, started := e.begin(ctx)
	defer func() {
		var fields []zap.Field
		if out != nil {
			fields = append(fields, zap.String("kind", string(out.Kind)))
		}
		e.end(ctx, span, started, err, fields...)
	}()

	base := problem.Prompt()
	prompt := base
	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		resp, gerr := e.generate(ctx, llm.Request{
			Instructions: e.instructions,
			Prompt:       prompt,
			Schemas:      schema.ExpertOutputs,
		})
		if gerr != nil {
			if !errors.Is(gerr, llm.ErrMalformed) {
				return nil, fmt.Errorf("expert: %w", gerr)
			}
			lastErr = gerr
		} else if resp.Variant == "" {
			return nil, errors.New("expert: plain-text answer did not match the declared outputs")
		} else {
			parsed, perr := schema.ParseExpert(resp.Variant, resp.Data)
			if perr == nil {
				return parsed, nil
			}
			lastErr = perr
		}
		e.deps.Log.Warn(ctx, "expert answer rejected", zap.Int("attempt", attempt), zap.Error(lastErr))
		prompt = retryPrompt(base, lastErr)
	}
	return nil, fmt.Errorf("expert: %w after %d attempts: %w", ErrSchemaExhausted, e.retries, lastErr)
}

func retryPrompt(base string, cause error) string {
	return fmt.Sprintf("%s\n\nYour previous answer was invalid: %v\nAnswer again with exactly one of the declared outputs.", base, cause)
}
