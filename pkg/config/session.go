package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"testforge/pkg/extract"
	"testforge/pkg/llm"
	"testforge/pkg/logx"
)

// Session is the resolved runtime state for one generation run: validated
// config, an authenticated completion client, and the language adapter. It is
// built once at startup and passed explicitly to every component that needs
// it.
type Session struct {
	Config  Config
	Client  llm.Client
	Adapter extract.Adapter

	logger *logx.Logger
}

// apiKeyEnv maps each hosted provider to its credential variable.
func apiKeyEnv(provider llm.Provider) string {
	switch provider {
	case llm.ProviderOpenAI:
		return EnvOpenAIAPIKey
	case llm.ProviderAnthropic:
		return EnvAnthropicAPIKey
	case llm.ProviderGemini:
		return EnvGoogleAPIKey
	default:
		return ""
	}
}

// ResolveAPIKey finds the credential for a provider: environment first, then
// an interactive terminal prompt when stdin is a tty. Ollama needs no key and
// always resolves to empty.
func ResolveAPIKey(provider llm.Provider) (string, error) {
	if provider == llm.ProviderOllama {
		return "", nil
	}
	envVar := apiKeyEnv(provider)
	if envVar == "" {
		return "", fmt.Errorf("no credential source for provider %q", provider)
	}
	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", llm.NewError(llm.ErrorTypeAuth,
			fmt.Sprintf("%s is not set and stdin is not a terminal", envVar))
	}
	fmt.Fprintf(os.Stderr, "Enter %s: ", envVar)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", llm.NewError(llm.ErrorTypeAuth, "empty API key")
	}
	return key, nil
}

// retryPolicy translates the config file's retry block into the client
// wrapper's terms: max_attempts counts the initial call, MaxRetries counts
// only the retries after it.
func retryPolicy(cfg RetryConfig) llm.RetryConfig {
	retries := cfg.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return llm.RetryConfig{
		MaxRetries:    retries,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
		Jitter:        true,
	}
}

// NewSession resolves credentials and constructs the completion client and
// language adapter for a validated config. The returned client already wraps
// the configured retry policy.
func NewSession(cfg Config) (*Session, error) {
	provider, err := ModelProvider(cfg.Generation.Model)
	if err != nil {
		return nil, err
	}

	key, err := ResolveAPIKey(provider)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(provider, llm.ClientConfig{
		APIKey: key,
		Model:  strings.TrimPrefix(cfg.Generation.Model, "ollama:"),
		Host:   os.Getenv(EnvOllamaHost),
	})
	if err != nil {
		return nil, err
	}

	adapter, err := extract.NewAdapter(cfg.Project.Language)
	if err != nil {
		return nil, err
	}

	logger := logx.NewLogger("session")
	logger.Info("session ready: model=%s provider=%s language=%s",
		cfg.Generation.Model, provider, cfg.Project.Language)

	return &Session{
		Config:  cfg,
		Client:  llm.WithRetryConfig(client, retryPolicy(cfg.Retry)),
		Adapter: adapter,
		logger:  logger,
	}, nil
}
