package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatGenerator adapts an eino chat model to Generator. Each prompt is sent
// as a single user message.
type ChatGenerator struct {
	chat    model.BaseChatModel
	model   string
	timeout time.Duration
}

var _ Generator = (*ChatGenerator)(nil)

// NewChatGenerator wraps an existing chat model.
func NewChatGenerator(chat model.BaseChatModel, modelName string, timeout time.Duration) *ChatGenerator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ChatGenerator{chat: chat, model: modelName, timeout: timeout}
}

// NewChatModel creates an eino chat model for a remote provider.
func NewChatModel(ctx context.Context, provider Provider, modelName, apiKey, baseURL string) (model.BaseChatModel, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required")
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:   modelName,
			APIKey:  apiKey,
			BaseURL: baseURL,
		})

	case ProviderOllama:
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   modelName,
		})

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     modelName,
			MaxTokens: defaultAnthropicTokens,
		})

	default:
		return nil, fmt.Errorf("no chat model for provider %q", provider)
	}
}

// Generate sends prompt as a user message with the requested temperature.
func (g *ChatGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.chat.Generate(ctx,
		[]*schema.Message{schema.UserMessage(prompt)},
		model.WithTemperature(float32(temperature)),
	)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}

	text := strings.TrimSpace(stripThinking(resp.Content))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ModelName returns the model being used.
func (g *ChatGenerator) ModelName() string {
	return g.model
}

// Close is a no-op; eino chat models hold no resources.
func (g *ChatGenerator) Close() error {
	return nil
}
