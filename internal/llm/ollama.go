package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaGenerator calls Ollama's /api/generate endpoint without streaming.
type OllamaGenerator struct {
	client  *http.Client
	host    string
	model   string
	timeout time.Duration
}

var _ Generator = (*OllamaGenerator)(nil)

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

// generateResponse is the Ollama /api/generate response body.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaGenerator creates a generator for the given host and model.
// Empty values fall back to the defaults.
func NewOllamaGenerator(host, model string, timeout time.Duration) *OllamaGenerator {
	if host == "" {
		host = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OllamaGenerator{
		client:  &http.Client{},
		host:    strings.TrimRight(host, "/"),
		model:   model,
		timeout: timeout,
	}
}

// Generate sends one prompt and returns the trimmed response text.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:   g.model,
		Prompt:  prompt,
		Options: generateOptions{Temperature: temperature},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	text := strings.TrimSpace(stripThinking(genResp.Response))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// stripThinking removes a leading <think>...</think> block that reasoning
// models emit before the answer.
func stripThinking(s string) string {
	const open, closeTag = "<think>", "</think>"
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, open) {
		return s
	}
	end := strings.Index(trimmed, closeTag)
	if end < 0 {
		return ""
	}
	return trimmed[end+len(closeTag):]
}

// ModelName returns the model being used.
func (g *OllamaGenerator) ModelName() string {
	return g.model
}

// Close releases idle connections.
func (g *OllamaGenerator) Close() error {
	g.client.CloseIdleConnections()
	return nil
}
