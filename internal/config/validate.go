package config

import (
	"fmt"
	"strings"
)

// ValidationError names one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var knownProviders = map[string]bool{"gemini": true, "openai": true, "anthropic": true, "mock": true}

// Validate reports every problem with cfg; an empty slice means it is usable.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if !knownProviders[cfg.Engine.Provider] {
		add("engine.provider", fmt.Sprintf("unknown provider %q", cfg.Engine.Provider))
	}
	if cfg.Engine.Provider != "mock" && cfg.Engine.APIKey == "" {
		add("engine.api_key", "required for provider "+cfg.Engine.Provider)
	}
	if cfg.Engine.Temperature < 0 || cfg.Engine.Temperature > 2 {
		add("engine.temperature", "must be between 0 and 2")
	}
	if cfg.Expert.Retries < 1 {
		add("expert.retries", "must be at least 1")
	}
	if cfg.Integrator.Retries < 1 {
		add("integrator.retries", "must be at least 1")
	}
	if cfg.Pipeline.MaxClarifications < 1 {
		add("pipeline.max_clarifications", "must be at least 1")
	}
	if len(cfg.Lint.Command) == 0 || strings.TrimSpace(cfg.Lint.Command[0]) == "" {
		add("lint.command", "must name an executable")
	}
	for i, tok := range cfg.Lint.ProhibitedTokens {
		if tok == "" {
			add(fmt.Sprintf("lint.prohibited_tokens[%d]", i), "must not be empty")
		}
	}
	if cfg.Sandbox.Python == "" {
		add("sandbox.python", "must name an interpreter")
	}
	if cfg.Sandbox.Timeout <= 0 {
		add("sandbox.timeout", "must be positive")
	}
	if cfg.Sandbox.MaxOutputBytes < 1024 {
		add("sandbox.max_output_bytes", "must be at least 1024")
	}
	if cfg.Artifact.Path == "" {
		add("artifact.path", "must not be empty")
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		add("log.format", "must be json or console")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		add("telemetry.endpoint", "required when telemetry is enabled")
	}
	return errs
}
