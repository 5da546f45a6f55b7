package llm

import (
	"context"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// NewGenerator builds the configured generator. It returns (nil, nil) for
// provider "none"; callers treat a nil Generator as always failing.
func NewGenerator(ctx context.Context, cfg config.GenerationConfig, timeout time.Duration) (Generator, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel(provider)
	}

	switch {
	case provider == ProviderNone:
		return nil, nil
	case provider == ProviderOllama && !cfg.Chat:
		return NewOllamaGenerator(cfg.BaseURL, modelName, timeout), nil
	}

	chat, err := NewChatModel(ctx, provider, modelName, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return NewChatGenerator(chat, modelName, timeout), nil
}

func defaultModel(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderAnthropic:
		return DefaultAnthropicModel
	default:
		return DefaultOllamaModel
	}
}
