package ai

import "context"

// FactoryConfig names the configured providers; the registry routes by
// provider name at startup.
type FactoryConfig struct {
	// Provider is the default provider name.
	Provider string

	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
}

func BuildRegistry(cfg FactoryConfig) *Registry {
	reg := NewRegistry()

	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		if model == "" {
			model = cfg.OllamaModel
		}
		return NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})

	reg.Register("openrouter", func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		if model == "" {
			model = cfg.OpenRouterModel
		}
		return NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	reg.SetDefault(cfg.Provider)

	return reg
}

// DefaultProvider builds the registry and resolves the configured
// default in one step, for binaries that run a single provider.
func DefaultProvider(ctx context.Context, cfg FactoryConfig) (Provider, error) {
	return BuildRegistry(cfg).Get(ctx, "", "")
}
