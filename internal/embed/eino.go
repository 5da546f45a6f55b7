package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// DefaultOpenAIEmbeddingModel is used when the openai provider has no model.
const DefaultOpenAIEmbeddingModel = "text-embedding-3-small"

// EinoEmbedder adapts any eino embedding component to Embedder.
type EinoEmbedder struct {
	inner   embedding.Embedder
	model   string
	timeout time.Duration

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*EinoEmbedder)(nil)

// NewEinoEmbedder wraps an eino embedder. dims may be 0 to learn the
// dimension from the first response.
func NewEinoEmbedder(inner embedding.Embedder, model string, dims int, timeout time.Duration) *EinoEmbedder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EinoEmbedder{
		inner:   inner,
		model:   model,
		timeout: timeout,
		dims:    dims,
	}
}

// NewOpenAIEmbedder creates an EinoEmbedder backed by the OpenAI embeddings API.
func NewOpenAIEmbedder(ctx context.Context, apiKey, model string, dims int, timeout time.Duration) (*EinoEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = DefaultOpenAIEmbeddingModel
	}
	inner, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
		Model:  model,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}
	return NewEinoEmbedder(inner, model, dims, timeout), nil
}

// Embed generates embedding for a single text
func (e *EinoEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends every non-blank text in one call.
func (e *EinoEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrEmbedderClosed
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var idx []int
	var send []string
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			idx = append(idx, i)
			send = append(send, t)
		}
	}

	results := make([][]float32, len(texts))
	if len(send) > 0 {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		vecs, err := e.inner.EmbedStrings(callCtx, send)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(send) {
			return nil, fmt.Errorf("%s returned %d embeddings for %d texts", e.model, len(vecs), len(send))
		}
		for j, v := range vecs {
			results[idx[j]] = normalizeVector(toFloat32(v))
		}
		if len(vecs[0]) > 0 {
			e.mu.Lock()
			if e.dims == 0 {
				e.dims = len(vecs[0])
			}
			e.mu.Unlock()
		}
	}

	dims := e.Dimensions()
	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}
	return results, nil
}

// Dimensions returns the embedding dimension
func (e *EinoEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dims == 0 {
		return DefaultDimensions
	}
	return e.dims
}

// ModelName returns the model identifier
func (e *EinoEmbedder) ModelName() string { return e.model }

// Available reports true until Close. Remote APIs are not probed.
func (e *EinoEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources
func (e *EinoEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
