package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses Ollama's /api/embed endpoint
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses the OpenAI embeddings API through eino
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings
	ProviderStatic ProviderType = "static"
)

// ParseProvider validates a provider name from configuration.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOllama, ProviderOpenAI, ProviderStatic:
		return p, nil
	case "":
		return ProviderOllama, nil
	default:
		return "", fmt.Errorf("unsupported embedding provider: %s (supported: ollama, openai, static)", s)
	}
}

// NewEmbedder builds the configured embedder, wrapped in a CachedEmbedder
// unless cfg.CacheSize is negative. Construction never contacts the
// provider, so an unreachable backend surfaces on the first Embed call.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig, timeout time.Duration) (Embedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var embedder Embedder
	switch provider {
	case ProviderOllama:
		oc := DefaultOllamaConfig()
		if cfg.OllamaHost != "" {
			oc.Host = cfg.OllamaHost
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		oc.Dimensions = cfg.Dimensions
		if timeout > 0 {
			oc.Timeout = timeout
		}
		embedder = NewOllamaEmbedder(oc)

	case ProviderOpenAI:
		embedder, err = NewOpenAIEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions, timeout)
		if err != nil {
			return nil, err
		}

	case ProviderStatic:
		embedder = NewStaticEmbedderWithDimensions(cfg.Dimensions)
	}

	if cfg.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}
