package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testforge/pkg/llm"
)

func TestLoad_MissingFileCreatesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, cfg.SchemaVersion)
	assert.Equal(t, dir, cfg.Project.Dir)
	assert.Equal(t, DefaultModel, cfg.Generation.Model)
	assert.Equal(t, DefaultSampleCount, cfg.Generation.SampleCount)
	assert.Equal(t, "none", cfg.Sandbox.Network)

	// Defaults get written back so the user has a file to edit.
	_, err = os.Stat(Path(dir))
	assert.NoError(t, err)
}

func TestLoad_PartialFileGetsDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := "generation:\n  model: claude-sonnet-4-5\n  sample_count: 3\n"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ConfigDir), 0o755))
	require.NoError(t, os.WriteFile(Path(dir), []byte(partial), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", cfg.Generation.Model)
	assert.Equal(t, 3, cfg.Generation.SampleCount)
	assert.Equal(t, DefaultMaxIterations, cfg.Generation.MaxIterations)
	assert.Equal(t, DefaultSandboxImage, cfg.Sandbox.Image)
	assert.Equal(t, DefaultRunTimeout, cfg.Sandbox.Timeout)
	assert.Equal(t, DefaultMountPath, cfg.Sandbox.MountPath)
}

func TestLoad_ExplicitZeroTemperatureSticks(t *testing.T) {
	dir := t.TempDir()
	file := "generation:\n  temperature: 0\n"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ConfigDir), 0o755))
	require.NoError(t, os.WriteFile(Path(dir), []byte(file), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Zero(t, cfg.Generation.Temperature)
}

func TestLoad_PartialRetryBlockKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	file := "retry:\n  max_attempts: 2\n"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ConfigDir), 0o755))
	require.NoError(t, os.WriteFile(Path(dir), []byte(file), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.InDelta(t, 2.0, cfg.Retry.BackoffFactor, 1e-9)
}

func TestLoad_UnparseableFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ConfigDir), 0o755))
	require.NoError(t, os.WriteFile(Path(dir), []byte("generation: [broken"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be parsed")
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	cfg.Generation.Model = "gemini-2.5-flash"
	cfg.Sandbox.Timeout = 45 * time.Second

	require.NoError(t, Save(cfg, dir))
	loaded, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-flash", loaded.Generation.Model)
	assert.Equal(t, 45*time.Second, loaded.Sandbox.Timeout)
}

func TestModelProvider(t *testing.T) {
	tests := []struct {
		model    string
		provider llm.Provider
		ok       bool
	}{
		{"gpt-4o", llm.ProviderOpenAI, true},
		{"claude-sonnet-4-5", llm.ProviderAnthropic, true},
		{"gemini-2.5-flash", llm.ProviderGemini, true},
		{"gpt-99-turbo", llm.ProviderOpenAI, true},       // pattern match
		{"llama3.2:latest", llm.ProviderOllama, true},    // pattern match
		{"ollama:custom-model", llm.ProviderOllama, true},
		{"totally-unknown", "", false},
	}
	for _, tt := range tests {
		provider, err := ModelProvider(tt.model)
		if tt.ok {
			require.NoError(t, err, tt.model)
			assert.Equal(t, tt.provider, provider, tt.model)
		} else {
			assert.Error(t, err, tt.model)
		}
	}
}

func TestModelCost(t *testing.T) {
	// gpt-4o: $2.50/M input, $10/M output
	cost := ModelCost("gpt-4o", 1_000_000, 100_000)
	assert.InDelta(t, 3.5, cost, 1e-9)

	assert.Zero(t, ModelCost("totally-unknown", 1_000_000, 1_000_000))
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		maxAttempts int
		wantRetries int
	}{
		{4, 3},
		{1, 0}, // a single attempt means no retries
		{0, 0},
	}
	for _, tt := range tests {
		policy := retryPolicy(RetryConfig{
			MaxAttempts:   tt.maxAttempts,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
		})
		assert.Equal(t, tt.wantRetries, policy.MaxRetries, "max_attempts=%d", tt.maxAttempts)
		assert.Equal(t, time.Second, policy.InitialDelay)
		assert.Equal(t, 30*time.Second, policy.MaxDelay)
		assert.True(t, policy.Jitter)
	}
}

func TestValidate(t *testing.T) {
	base := Default(t.TempDir())

	cfg := base
	cfg.Generation.SampleCount = 0
	assert.Error(t, Validate(cfg))

	cfg = base
	cfg.Generation.Model = "totally-unknown"
	assert.Error(t, Validate(cfg))

	cfg = base
	cfg.Sandbox.Runtime = "containerd"
	assert.Error(t, Validate(cfg))

	assert.NoError(t, Validate(base))
}
