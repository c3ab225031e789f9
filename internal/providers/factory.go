// Package providers builds the configured reasoning engine.
package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/providers/gemini"
	"github.com/example/optimo/internal/providers/llm"
)

// New returns the engine named by cfg.Provider. All engines share one limiter so the
// configured request rate holds across stages.
func New(ctx context.Context, cfg config.EngineConfig) (llm.Engine, error) {
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	switch cfg.Provider {
	case "gemini":
		return gemini.New(ctx, cfg, limiter)
	case "openai":
		return llm.NewOpenAI(cfg, limiter), nil
	case "anthropic":
		return llm.NewAnthropic(cfg, limiter), nil
	case "mock", "":
		return llm.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
