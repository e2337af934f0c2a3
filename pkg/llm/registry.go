package llm

import (
	"fmt"
)

// Provider identifies a completion-service backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
)

// ClientConfig holds provider credentials and model selection.
type ClientConfig struct {
	APIKey string
	Model  string
	Host   string // Ollama server URL, ignored by hosted providers
}

// Factory constructs a Client for one provider.
type Factory func(cfg ClientConfig) (Client, error)

// Providers are registered in a factory map rather than a class hierarchy so
// selection is an explicit lookup.
//
//nolint:gochecknoglobals // Provider registry, populated at package init
var factories = map[Provider]Factory{
	ProviderOpenAI: func(cfg ClientConfig) (Client, error) {
		if cfg.APIKey == "" {
			return nil, NewError(ErrorTypeAuth, "openai API key is not set")
		}
		return NewOpenAIClient(cfg.APIKey, cfg.Model), nil
	},
	ProviderAnthropic: func(cfg ClientConfig) (Client, error) {
		if cfg.APIKey == "" {
			return nil, NewError(ErrorTypeAuth, "anthropic API key is not set")
		}
		return NewAnthropicClient(cfg.APIKey, cfg.Model), nil
	},
	ProviderGemini: func(cfg ClientConfig) (Client, error) {
		if cfg.APIKey == "" {
			return nil, NewError(ErrorTypeAuth, "gemini API key is not set")
		}
		return NewGeminiClient(cfg.APIKey, cfg.Model), nil
	},
	ProviderOllama: func(cfg ClientConfig) (Client, error) {
		return NewOllamaClient(cfg.Host, cfg.Model), nil
	},
}

// NewClient constructs a client for the named provider.
func NewClient(provider Provider, cfg ClientConfig) (Client, error) {
	factory, ok := factories[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
	return factory(cfg)
}

// SupportedProviders lists registered provider identifiers.
func SupportedProviders() []Provider {
	providers := make([]Provider, 0, len(factories))
	for p := range factories {
		providers = append(providers, p)
	}
	return providers
}
