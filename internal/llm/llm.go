// Package llm provides the text generators used for query decomposition
// and hypothetical document generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider identifies the generation backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderNone      Provider = "none"
)

// Defaults for the generation providers.
const (
	DefaultOllamaURL       = "http://localhost:11434"
	DefaultOllamaModel     = "qwen3:0.6b"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultAnthropicModel  = "claude-3-5-haiku-latest"
	DefaultTimeout         = 30 * time.Second
	defaultAnthropicTokens = 1024
)

// ErrEmptyResponse is returned when a provider answers with only whitespace.
var ErrEmptyResponse = errors.New("empty response from model")

// Generator produces text for a prompt at a given sampling temperature.
// Implementations are safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
	ModelName() string
	Close() error
}

// ParseProvider validates a provider name from configuration.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderNone:
		return p, nil
	case "":
		return ProviderOllama, nil
	default:
		return "", fmt.Errorf("unsupported LLM provider: %s (supported: ollama, openai, anthropic, none)", s)
	}
}
