// Package config loads and validates the generator configuration.
//
// Configuration is value-based: Load returns a Config by value and every
// component receives the parts it needs explicitly. There is no package-level
// singleton; resolved runtime state lives in a Session created at startup.
//
// Model pricing and provider mappings are hardcoded in KnownModels and
// ProviderPatterns rather than user-configurable. Schema changes must
// increment SchemaVersion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"testforge/pkg/llm"
)

const (
	// ConfigFilename is the per-project config file, stored under ConfigDir.
	ConfigFilename = "config.yaml"
	ConfigDir      = ".testforge"
	// DatabaseFilename is the sqlite store, also under ConfigDir.
	DatabaseFilename = "testforge.db"
	SchemaVersion    = "1.0"

	// Sandbox runtime defaults. Networking stays off: generated code runs
	// untrusted and needs nothing beyond the mounted project.
	DefaultSandboxImage  = "python:3.11-slim"
	DefaultDockerNetwork = "none"
	DefaultDockerCPUs    = "2"
	DefaultDockerMemory  = "2g"
	DefaultDockerPIDs    = int64(256)
	DefaultTmpfsSize     = "256m"
	DefaultMountPath     = "/workspace"
	DefaultRunTimeout    = 2 * time.Minute

	// Generation defaults.
	DefaultSampleCount   = 1
	DefaultMaxIterations = 3
	DefaultTemperature   = 0.1
	DefaultLanguage      = "python"

	// Model name constants.
	ModelGPT4o        = "gpt-4o"
	ModelClaudeSonnet = "claude-sonnet-4-5"
	ModelGeminiFlash  = "gemini-2.5-flash"
	DefaultModel      = ModelGPT4o
	DefaultMaxTokens  = 4096
	DefaultOllamaHost = "http://localhost:11434"

	// API key environment variable names.
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// ModelInfo contains static information about a known completion model.
type ModelInfo struct {
	Provider         llm.Provider
	InputCPM         float64 // cost per million input tokens, USD
	OutputCPM        float64 // cost per million output tokens, USD
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels maps common model names to provider and pricing. Unknown
// models fall back to ProviderPatterns.
//
//nolint:gochecknoglobals // static model registry
var KnownModels = map[string]ModelInfo{
	"gpt-4o": {
		Provider:         llm.ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"gpt-4o-mini": {
		Provider:         llm.ProviderOpenAI,
		InputCPM:         0.15,
		OutputCPM:        0.6,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o4-mini": {
		Provider:         llm.ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"claude-sonnet-4-5": {
		Provider:         llm.ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-3-7-sonnet-20250219": {
		Provider:         llm.ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"gemini-2.0-flash": {
		Provider:         llm.ProviderGemini,
		InputCPM:         0.10,
		OutputCPM:        0.40,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  8192,
	},
	"gemini-2.5-flash": {
		Provider:         llm.ProviderGemini,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
}

// ProviderPattern infers a provider from a model name prefix, so new models
// work without code changes.
type ProviderPattern struct {
	Prefix   string
	Provider llm.Provider
}

//nolint:gochecknoglobals // static inference rules
var ProviderPatterns = []ProviderPattern{
	{"gpt", llm.ProviderOpenAI},
	{"o1", llm.ProviderOpenAI},
	{"o3", llm.ProviderOpenAI},
	{"o4", llm.ProviderOpenAI},
	{"claude", llm.ProviderAnthropic},
	{"gemini", llm.ProviderGemini},
	{"llama", llm.ProviderOllama},
	{"qwen", llm.ProviderOllama},
	{"mistral", llm.ProviderOllama},
	{"phi", llm.ProviderOllama},
	{"deepseek", llm.ProviderOllama},
	{"codellama", llm.ProviderOllama},
	{"ollama:", llm.ProviderOllama},
}

// ModelProvider resolves the provider for a model name, checking KnownModels
// first and falling back to prefix patterns. An unresolvable model is fatal.
func ModelProvider(modelName string) (llm.Provider, error) {
	if info, ok := KnownModels[modelName]; ok {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model %q: no provider mapping or pattern match", modelName)
}

// ModelCost returns the USD cost of a token count pair for a model, zero when
// the model has no pricing entry.
func ModelCost(modelName string, promptTokens, completionTokens int64) float64 {
	info, ok := KnownModels[modelName]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*info.InputCPM + float64(completionTokens)/1e6*info.OutputCPM
}

// ProjectConfig identifies the code under test.
type ProjectConfig struct {
	Dir      string `yaml:"dir"`      // project root, mounted into the sandbox
	Language string `yaml:"language"` // adapter name (default: python)
}

// GenerationConfig controls sampling and the repair loop.
type GenerationConfig struct {
	Model         string  `yaml:"model"`
	SampleCount   int     `yaml:"sample_count"`   // initial candidates per target
	MaxIterations int     `yaml:"max_iterations"` // repair attempts after the initial draft
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
}

// SandboxConfig controls the container runtime.
type SandboxConfig struct {
	Image     string        `yaml:"image"`
	Runtime   string        `yaml:"runtime"` // docker or podman binary
	Network   string        `yaml:"network"`
	CPUs      string        `yaml:"cpus"`
	Memory    string        `yaml:"memory"`
	PIDs      int64         `yaml:"pids"`
	TmpfsSize string        `yaml:"tmpfs_size"`
	MountPath string        `yaml:"mount_path"` // where the project appears inside the container
	Timeout   time.Duration `yaml:"timeout"`    // per test run
}

// RetryConfig controls completion-call retries.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"` // total calls including the first, so 1 disables retries
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// Config is the complete user-facing configuration.
type Config struct {
	SchemaVersion string           `yaml:"schema_version"`
	Project       ProjectConfig    `yaml:"project"`
	Generation    GenerationConfig `yaml:"generation"`
	Sandbox       SandboxConfig    `yaml:"sandbox"`
	Retry         RetryConfig      `yaml:"retry"`
}

// Default returns a fully-populated config for a project directory.
func Default(projectDir string) Config {
	return Config{
		SchemaVersion: SchemaVersion,
		Project: ProjectConfig{
			Dir:      projectDir,
			Language: DefaultLanguage,
		},
		Generation: GenerationConfig{
			Model:         DefaultModel,
			SampleCount:   DefaultSampleCount,
			MaxIterations: DefaultMaxIterations,
			Temperature:   DefaultTemperature,
			MaxTokens:     DefaultMaxTokens,
		},
		Sandbox: SandboxConfig{
			Image:     DefaultSandboxImage,
			Runtime:   "docker",
			Network:   DefaultDockerNetwork,
			CPUs:      DefaultDockerCPUs,
			Memory:    DefaultDockerMemory,
			PIDs:      DefaultDockerPIDs,
			TmpfsSize: DefaultTmpfsSize,
			MountPath: DefaultMountPath,
			Timeout:   DefaultRunTimeout,
		},
		Retry: RetryConfig{
			MaxAttempts:   4,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
		},
	}
}

// Path returns the config file location for a project directory.
func Path(projectDir string) string {
	return filepath.Join(projectDir, ConfigDir, ConfigFilename)
}

// DatabasePath returns the sqlite store location for a project directory.
func DatabasePath(projectDir string) string {
	return filepath.Join(projectDir, ConfigDir, DatabaseFilename)
}

// Load reads the project config from <projectDir>/.testforge/config.yaml.
// A missing file yields defaults written back to disk; an unparseable file is
// an error so user edits are never silently overwritten.
func Load(projectDir string) (Config, error) {
	path := Path(projectDir)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default(projectDir)
		if err := Save(cfg, projectDir); err != nil {
			return Config{}, fmt.Errorf("failed to save initial config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Unmarshal over a fully-defaulted config: keys absent from the file keep
	// their defaults, while explicit values stick even when they equal a zero
	// value (temperature: 0, retry blocks overriding a single key).
	cfg := Default(projectDir)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config file %s exists but cannot be parsed: %w", path, err)
	}
	if cfg.Project.Dir == "" {
		cfg.Project.Dir = projectDir
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Save writes the config to <projectDir>/.testforge/config.yaml.
func Save(cfg Config, projectDir string) error {
	path := Path(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects configurations the rest of the system cannot run with.
func Validate(cfg Config) error {
	if cfg.Project.Dir == "" {
		return fmt.Errorf("project.dir is required")
	}
	if cfg.Generation.SampleCount < 1 {
		return fmt.Errorf("generation.sample_count must be at least 1")
	}
	if cfg.Generation.MaxIterations < 0 {
		return fmt.Errorf("generation.max_iterations must not be negative")
	}
	if _, err := ModelProvider(cfg.Generation.Model); err != nil {
		return fmt.Errorf("generation.model: %w", err)
	}
	if cfg.Sandbox.Runtime != "docker" && cfg.Sandbox.Runtime != "podman" {
		return fmt.Errorf("sandbox.runtime must be docker or podman, got %q", cfg.Sandbox.Runtime)
	}
	return nil
}
