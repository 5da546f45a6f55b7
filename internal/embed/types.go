// Package embed turns query text into vectors for the dense retrieval channel.
package embed

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	// DefaultDimensions is used when a provider cannot report its dimension
	// before the first call.
	DefaultDimensions = 768

	// StaticDimensions is the dimension of the hash-based embedder.
	StaticDimensions = 256

	// DefaultTimeout bounds a single provider request.
	DefaultTimeout = 10 * time.Second

	// DefaultBatchSize is the number of texts sent per provider request.
	DefaultBatchSize = 32
)

// ErrEmbedderClosed is returned by every operation on a closed embedder.
var ErrEmbedderClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector returns a unit-length copy of v. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// toFloat32 converts provider output to the float32 vectors the indexes use.
func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
