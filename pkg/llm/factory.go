package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/config"
)

// NewFromConfig builds the configured model collaborator behind a circuit
// breaker. It returns nil, nil when no provider is configured.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	clientCfg := &Config{
		Endpoint:  cfg.Endpoint,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}

	var (
		inner LLMClient
		err   error
	)
	switch cfg.Provider {
	case "openai":
		inner, err = NewClient(clientCfg, logger)
	case "anthropic":
		if clientCfg.Endpoint == config.DefaultOpenAIEndpoint {
			clientCfg.Endpoint = ""
		}
		inner, err = NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	return NewGuardedClient(inner, NewCircuitBreaker(DefaultCircuitBreakerConfig()), logger), nil
}
