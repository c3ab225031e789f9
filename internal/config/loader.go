// Package config loads the pipeline configuration from YAML, the environment and .env.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before mapping them to keys.
const EnvPrefix = "OPTIMO_"

const maxConfigFileSize = 1 << 20

// DefaultNonFatalCodes are lint codes that never block an artifact.
var DefaultNonFatalCodes = []string{
	"E741", "E722", "N802", "N803", "F841", "E402", "E305", "PLR1722", "T201",
	"E0602", "PLR2004", "F811", "E302", "N806", "ANN001", "ANN201", "S101",
}

// Load builds a Config. Precedence, highest first: OPTIMO_* environment variables
// (including those from .env), the YAML file, defaults. An empty path tries
// ./optimo.yaml and silently skips it when absent.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = "optimo.yaml"
	}
	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyProviderKeys(&cfg)
	ApplyDefaults(&cfg)
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config %s is larger than %d bytes", path, maxConfigFileSize)
	}
	return content, nil
}

// envKey maps OPTIMO_SANDBOX_MAX_OUTPUT_BYTES to sandbox.max_output_bytes: the first
// segment is the section, the rest is the field name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// applyProviderKeys picks up the provider-native key variables when no key is set.
func applyProviderKeys(cfg *Config) {
	if cfg.Engine.APIKey != "" {
		return
	}
	candidates := map[string][]string{
		"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"openai":    {"OPENAI_API_KEY"},
		"anthropic": {"ANTHROPIC_API_KEY"},
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Engine.Provider))
	order := []string{"gemini", "openai", "anthropic"}
	if provider != "" {
		order = []string{provider}
	}
	for _, p := range order {
		for _, name := range candidates[p] {
			if v := strings.TrimSpace(os.Getenv(name)); v != "" {
				cfg.Engine.APIKey = v
				if cfg.Engine.Provider == "" {
					cfg.Engine.Provider = p
				}
				return
			}
		}
	}
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	e := &cfg.Engine
	if e.Provider == "" {
		e.Provider = "mock"
	}
	e.Provider = strings.ToLower(strings.TrimSpace(e.Provider))
	if e.Model == "" {
		switch e.Provider {
		case "gemini":
			e.Model = "gemini-flash-lite-latest"
		case "openai":
			e.Model = "gpt-4o-mini"
		case "anthropic":
			e.Model = "claude-3-5-sonnet-latest"
		default:
			e.Model = "mock"
		}
	}
	if e.Timeout <= 0 {
		e.Timeout = 45 * time.Second
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = 3
	}
	if e.RateLimit <= 0 {
		e.RateLimit = 2
	}
	if e.Burst <= 0 {
		e.Burst = 1
	}
	if e.MaxTokens <= 0 {
		e.MaxTokens = 4096
	}

	if cfg.Expert.Retries <= 0 {
		cfg.Expert.Retries = 3
	}
	if cfg.Integrator.Retries <= 0 {
		cfg.Integrator.Retries = 3
	}
	if cfg.Pipeline.MaxClarifications <= 0 {
		cfg.Pipeline.MaxClarifications = 3
	}

	l := &cfg.Lint
	if len(l.Command) == 0 {
		l.Command = []string{"ruff", "check", "--fix", "--output-format=json"}
	}
	if l.NonFatalCodes == nil {
		l.NonFatalCodes = append([]string(nil), DefaultNonFatalCodes...)
	}
	if l.ProhibitedTokens == nil {
		l.ProhibitedTokens = []string{"tee=True"}
	}
	if l.Timeout <= 0 {
		l.Timeout = 30 * time.Second
	}

	s := &cfg.Sandbox
	if s.Python == "" {
		s.Python = "python3"
	}
	if s.Timeout <= 0 {
		s.Timeout = 60 * time.Second
	}
	if s.MaxOutputBytes <= 0 {
		s.MaxOutputBytes = 1 << 20
	}
	if s.CPUSeconds <= 0 {
		s.CPUSeconds = 60
	}
	if s.MemoryMB <= 0 {
		s.MemoryMB = 1024
	}

	if cfg.Artifact.Path == "" {
		cfg.Artifact.Path = "generated_code.py"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = defaultStoreDir()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "optimo"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
		if v := os.Getenv("PORT"); v != "" {
			cfg.Server.Addr = ":" + v
		}
	}
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".optimo", "runs")
	}
	return filepath.Join(home, ".optimo", "runs")
}

// Default returns a Config with only defaults applied.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}
