package config

import "time"

// Config is the whole service configuration. It is built once and passed to
// constructors; nothing reads it through package state.
type Config struct {
	Engine     EngineConfig    `koanf:"engine"`
	Expert     StageConfig     `koanf:"expert"`
	Integrator StageConfig     `koanf:"integrator"`
	Pipeline   PipelineConfig  `koanf:"pipeline"`
	Lint       LintConfig      `koanf:"lint"`
	Sandbox    SandboxConfig   `koanf:"sandbox"`
	Artifact   ArtifactConfig  `koanf:"artifact"`
	Store      StoreConfig     `koanf:"store"`
	Log        LogConfig       `koanf:"log"`
	Telemetry  TelemetryConfig `koanf:"telemetry"`
	Server     ServerConfig    `koanf:"server"`
}

// EngineConfig selects and tunes the reasoning engine.
type EngineConfig struct {
	Provider    string        `koanf:"provider"` // gemini | openai | anthropic | mock
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxRetries  int           `koanf:"max_retries"`
	RateLimit   float64       `koanf:"rate_limit"` // requests per second
	Burst       int           `koanf:"burst"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
}

type StageConfig struct {
	Retries          int    `koanf:"retries"`
	InstructionsFile string `koanf:"instructions_file"`
}

type PipelineConfig struct {
	MaxClarifications int `koanf:"max_clarifications"`
}

type LintConfig struct {
	Command          []string      `koanf:"command"`
	NonFatalCodes    []string      `koanf:"non_fatal_codes"`
	ProhibitedTokens []string      `koanf:"prohibited_tokens"`
	Timeout          time.Duration `koanf:"timeout"`
}

type SandboxConfig struct {
	Python         string        `koanf:"python"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxOutputBytes int           `koanf:"max_output_bytes"`
	CPUSeconds     int           `koanf:"cpu_seconds"`
	MemoryMB       int           `koanf:"memory_mb"`
	EnvPassthrough []string      `koanf:"env_passthrough"`
}

type ArtifactConfig struct {
	Path   string `koanf:"path"`
	PerRun bool   `koanf:"per_run"`
}

type StoreConfig struct {
	Dir         string `koanf:"dir"`
	DatabaseURL string `koanf:"database_url"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json | console
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}
